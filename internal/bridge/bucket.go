package bridge

import (
	"context"
	"time"

	"causeway/internal/uplink"
)

// EncryptionAccess is re-exported so native bindings deal with a single
// package for the whole flat surface.
type EncryptionAccess = uplink.EncryptionAccess

// NewEncryptionAccess constructs an encryption access scope from raw key
// bytes. Construction is purely local and cannot fail; the key is copied
// in, never retained by reference.
func NewEncryptionAccess(key []byte) *EncryptionAccess {
	return uplink.NewEncryptionAccess(key)
}

// NewBuffer wraps caller-provided bytes for consumption by the managed
// side. The buffer copies the bytes, so the caller's slice may be reused
// as soon as the call returns.
func NewBuffer(data []byte) BufferRef {
	return BufferRef(registry.Register(GlobalSession, uplink.NewBuffer(data)))
}

// UploadOptions carries per-upload settings.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
	Expires     time.Time
}

// UploadObject writes the buffer's contents to path within the bucket.
// Quota rejections surface as the quota-exceeded class, any other storage
// failure as write-failed.
func UploadObject(bucket BucketRef, path string, data BufferRef, opts *UploadOptions, errOut *string) {
	defer catchPanics(errOut)
	ctx := context.Background()

	goBucket, session, err := deref[*uplink.Bucket](registry, Handle(bucket), "bucket")
	if err != nil {
		writeError(errOut, err)
		return
	}

	buffer, bufSession, err := deref[*uplink.Buffer](registry, Handle(data), "buffer")
	if err != nil {
		writeError(errOut, err)
		return
	}
	if bufSession != GlobalSession && bufSession != session {
		writeError(errOut, ErrCrossSession.New("buffer belongs to another session"))
		return
	}

	var goOpts *uplink.UploadOptions
	if opts != nil {
		goOpts = &uplink.UploadOptions{
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
			Expires:     opts.Expires,
		}
	}

	if err := goBucket.UploadObject(ctx, path, buffer, goOpts); err != nil {
		writeError(errOut, err)
	}
}
