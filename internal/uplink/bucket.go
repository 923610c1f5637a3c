package uplink

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
)

// Cipher suites understood by the client.
const (
	CipherSuiteUnspecified uint8 = iota
	CipherSuiteNull
	CipherSuiteAESGCM
	CipherSuiteSecretBox
)

// RedundancyReedSolomon is the erasure coding algorithm applied to bucket
// segments.
const RedundancyReedSolomon uint8 = 1

// EncryptionParameters are a bucket's default data encryption parameters.
type EncryptionParameters struct {
	CipherSuite uint8
	BlockSize   int32
}

// RedundancyScheme describes a bucket's erasure coding parameters.
type RedundancyScheme struct {
	Algorithm      uint8
	ShareSize      int32
	RequiredShares int16
	RepairShares   int16
	OptimalShares  int16
	TotalShares    int16
}

// Bucket is an open bucket within a project. Metadata fields are fixed at
// open time; object operations go through the retained client.
type Bucket struct {
	Name                 string
	Created              time.Time
	PathCipher           uint8
	SegmentSize          int64
	EncryptionParameters EncryptionParameters
	RedundancyScheme     RedundancyScheme

	access *EncryptionAccess
	client *minio.Client
}

func (b *Bucket) setSchemeDefaults() {
	if b.EncryptionParameters.CipherSuite == CipherSuiteUnspecified {
		b.EncryptionParameters.CipherSuite = CipherSuiteAESGCM
	}
	if b.EncryptionParameters.BlockSize == 0 {
		b.EncryptionParameters.BlockSize = 1 << 10
	}
	if b.RedundancyScheme.Algorithm == 0 {
		b.RedundancyScheme = RedundancyScheme{
			Algorithm:      RedundancyReedSolomon,
			ShareSize:      1 << 10,
			RequiredShares: 29,
			RepairShares:   35,
			OptimalShares:  80,
			TotalShares:    95,
		}
	}
}

// Access returns the encryption access the bucket was opened with.
func (b *Bucket) Access() *EncryptionAccess { return b.access }

// AccessKey returns a copy of the key material the bucket was opened with,
// byte for byte as it was given to NewEncryptionAccess.
func (b *Bucket) AccessKey() []byte { return b.access.Key() }

// UploadOptions carries per-upload settings.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
	Expires     time.Time
}

// UploadObject writes the buffer's contents to path within the bucket in a
// single synchronous attempt. There is no internal retry.
func (b *Bucket) UploadObject(ctx context.Context, path string, data *Buffer, opts *UploadOptions) error {
	if path == "" {
		return ErrWriteFailed.New("empty object path")
	}
	if data == nil {
		return ErrWriteFailed.New("no data buffer")
	}

	putOpts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if opts != nil {
		if opts.ContentType != "" {
			putOpts.ContentType = opts.ContentType
		}
		putOpts.UserMetadata = opts.Metadata
		if !opts.Expires.IsZero() {
			putOpts.Expires = opts.Expires
		}
	}

	if _, err := b.client.PutObject(ctx, b.Name, path, data.Reader(), data.Len(), putOpts); err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "QuotaExceeded", "EntityTooLarge":
			return ErrQuotaExceeded.Wrap(err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ErrAccessDenied.Wrap(err)
		}
		return ErrWriteFailed.Wrap(err)
	}
	return nil
}
