package bridge

import (
	"context"

	"causeway/internal/uplink"
)

// ProjectOptions carries per-project settings supplied when opening a
// project. EncryptionKey is the 32-byte default key for buckets opened
// without an explicit encryption access.
type ProjectOptions struct {
	EncryptionKey []byte
}

// OpenProject dials the satellite and authenticates with the given API key,
// returning a handle to the opened project. Transport failures surface as
// the connection-failed class, credential rejections as auth-rejected.
func OpenProject(client UplinkRef, satelliteAddr string, key APIKeyRef, opts ProjectOptions, errOut *string) ProjectRef {
	defer catchPanics(errOut)
	ctx := context.Background()

	goUplink, session, err := deref[*uplink.Uplink](registry, Handle(client), "uplink")
	if err != nil {
		writeError(errOut, err)
		return 0
	}

	apiKey, keySession, err := deref[uplink.APIKey](registry, Handle(key), "api-key")
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	if keySession != GlobalSession && keySession != session {
		writeError(errOut, ErrCrossSession.New("api key belongs to another session"))
		return 0
	}

	project, err := goUplink.OpenProject(ctx, satelliteAddr, apiKey, &uplink.ProjectOptions{
		EncryptionKey: opts.EncryptionKey,
	})
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	return ProjectRef(registry.Register(session, project))
}

// CreateBucket creates the named bucket on the project's satellite and
// returns a handle to it, opened with the project's default encryption key.
// Creating a bucket that already exists fails.
func CreateBucket(project ProjectRef, name string, errOut *string) BucketRef {
	defer catchPanics(errOut)
	ctx := context.Background()

	goProject, session, err := deref[*uplink.Project](registry, Handle(project), "project")
	if err != nil {
		writeError(errOut, err)
		return 0
	}

	bucket, err := goProject.CreateBucket(ctx, name, nil)
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	return BucketRef(registry.Register(session, bucket))
}

// OpenBucket opens the named bucket within a project, scoping all object
// operations to the supplied encryption access.
func OpenBucket(project ProjectRef, name string, access *uplink.EncryptionAccess, errOut *string) BucketRef {
	defer catchPanics(errOut)
	ctx := context.Background()

	goProject, session, err := deref[*uplink.Project](registry, Handle(project), "project")
	if err != nil {
		writeError(errOut, err)
		return 0
	}

	bucket, err := goProject.OpenBucket(ctx, name, access)
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	return BucketRef(registry.Register(session, bucket))
}

// BucketValue wraps an open bucket handle into a tagged value so that its
// metadata can be recovered with UnpackBucket.
func BucketValue(bucket BucketRef, errOut *string) Value {
	defer catchPanics(errOut)

	_, _, err := deref[*uplink.Bucket](registry, Handle(bucket), "bucket")
	if err != nil {
		writeError(errOut, err)
		return Value{}
	}
	return Value{Tag: TagBucket, Ref: Handle(bucket)}
}

// UnpackBucket converts a tagged bucket into its concrete native
// projection. The projection's Access field is a fresh handle; the caller
// releases it independently of the bucket.
func UnpackBucket(val Value, errOut *string) BucketInfo {
	defer catchPanics(errOut)

	info, err := snapshot(registry, val)
	if err != nil {
		writeError(errOut, err)
		return BucketInfo{}
	}
	concrete, ok := info.(BucketInfo)
	if !ok {
		writeError(errOut, ErrTypeMismatch.New("value is tagged %s, want %s", val.Tag, TagBucket))
		return BucketInfo{}
	}
	return concrete
}
