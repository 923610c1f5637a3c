package uplink

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
)

// ProjectOptions carries per-project settings. EncryptionKey, when set,
// must be exactly KeySize bytes and becomes the default key for buckets
// opened without an explicit access.
type ProjectOptions struct {
	EncryptionKey []byte
}

// Project is an authenticated session against a single satellite.
type Project struct {
	client     *minio.Client
	defaultKey []byte
}

// CreateBucket creates the named bucket on the satellite and returns it
// opened, scoped the same way OpenBucket scopes access. Creating a bucket
// that already exists fails.
func (p *Project) CreateBucket(ctx context.Context, name string, access *EncryptionAccess) (*Bucket, error) {
	if name == "" {
		return nil, ErrWriteFailed.New("empty bucket name")
	}
	if access == nil || len(access.key) == 0 {
		if len(p.defaultKey) == 0 {
			return nil, ErrAccessDenied.New("no encryption access for bucket %q", name)
		}
		access = NewEncryptionAccess(p.defaultKey)
	}

	if err := p.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil, ErrWriteFailed.New("bucket %q already exists", name)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return nil, ErrAccessDenied.Wrap(err)
		case "InvalidBucketName":
			return nil, ErrWriteFailed.Wrap(err)
		}
		return nil, ErrConnectionFailed.Wrap(err)
	}

	bucket := &Bucket{
		Name:        name,
		Created:     time.Now().UTC(),
		PathCipher:  CipherSuiteAESGCM,
		SegmentSize: 64 << 20,
		access:      access,
		client:      p.client,
	}
	bucket.setSchemeDefaults()
	return bucket, nil
}

// OpenBucket opens the named bucket, scoping object operations to access.
// A nil access falls back to the project's default encryption key.
func (p *Project) OpenBucket(ctx context.Context, name string, access *EncryptionAccess) (*Bucket, error) {
	if name == "" {
		return nil, ErrNotFound.New("empty bucket name")
	}
	if access == nil || len(access.key) == 0 {
		if len(p.defaultKey) == 0 {
			return nil, ErrAccessDenied.New("no encryption access for bucket %q", name)
		}
		access = NewEncryptionAccess(p.defaultKey)
	}

	exists, err := p.client.BucketExists(ctx, name)
	if err != nil {
		if isCredentialRejection(err) {
			return nil, ErrAccessDenied.Wrap(err)
		}
		return nil, ErrConnectionFailed.Wrap(err)
	}
	if !exists {
		return nil, ErrNotFound.New("bucket %q does not exist", name)
	}

	created := time.Now().UTC()
	if buckets, err := p.client.ListBuckets(ctx); err == nil {
		for _, b := range buckets {
			if b.Name == name {
				created = b.CreationDate
				break
			}
		}
	}

	bucket := &Bucket{
		Name:        name,
		Created:     created,
		PathCipher:  CipherSuiteAESGCM,
		SegmentSize: 64 << 20,
		access:      access,
		client:      p.client,
	}
	bucket.setSchemeDefaults()
	return bucket, nil
}
