package bridge

import (
	"causeway/internal/uplink"
)

// Tag identifies the concrete managed type behind a Value. The set is
// closed: the conversion layer matches on it exhaustively and refuses
// anything it does not recognize.
type Tag uint32

const (
	TagInvalid Tag = iota
	TagIDVersion
	TagAPIKey
	TagUplink
	TagProject
	TagBucket
	TagEncryptionAccess
	TagBuffer
)

func (t Tag) String() string {
	switch t {
	case TagIDVersion:
		return "identity-version"
	case TagAPIKey:
		return "api-key"
	case TagUplink:
		return "uplink"
	case TagProject:
		return "project"
	case TagBucket:
		return "bucket"
	case TagEncryptionAccess:
		return "encryption-access"
	case TagBuffer:
		return "buffer"
	default:
		return "invalid"
	}
}

// Value is the type-erased envelope returned by operations that yield a
// managed object: a type tag paired with a handle into the registry. The
// tag always matches the registered object; unpacking verifies rather than
// trusts it.
type Value struct {
	Tag Tag
	Ref Handle
}

// pack registers value under session and stamps the tag.
func pack(r *Registry, session Session, tag Tag, value any) Value {
	return Value{Tag: tag, Ref: r.Register(session, value)}
}

// resolveAs recovers the concrete object behind val, failing with the
// type-mismatch class when the declared tag disagrees with want or with the
// registered object, and with the invalid-handle class when the handle is
// stale.
func resolveAs[T any](r *Registry, val Value, want Tag) (T, Session, error) {
	var zero T
	if val.Tag != want {
		return zero, 0, ErrTypeMismatch.New("value is tagged %s, want %s", val.Tag, want)
	}
	obj, session, err := r.Resolve(val.Ref)
	if err != nil {
		return zero, 0, err
	}
	concrete, ok := obj.(T)
	if !ok {
		return zero, 0, ErrTypeMismatch.New("handle %d does not reference a %s", val.Ref, want)
	}
	return concrete, session, nil
}

// deref recovers a concrete object behind a bare typed handle.
func deref[T any](r *Registry, h Handle, what string) (T, Session, error) {
	var zero T
	obj, session, err := r.Resolve(h)
	if err != nil {
		return zero, 0, err
	}
	concrete, ok := obj.(T)
	if !ok {
		return zero, 0, ErrTypeMismatch.New("handle %d does not reference a %s", h, what)
	}
	return concrete, session, nil
}

// IDVersionInfo is the native-readable projection of an identity version.
type IDVersionInfo struct {
	Number uint8
}

// APIKeyInfo is the native-readable projection of a parsed API key.
type APIKeyInfo struct {
	Key string
}

// EncryptionParametersInfo projects a bucket's default data encryption
// parameters.
type EncryptionParametersInfo struct {
	CipherSuite uint8
	BlockSize   int32
}

// RedundancySchemeInfo projects a bucket's erasure coding parameters.
type RedundancySchemeInfo struct {
	Algorithm      uint8
	ShareSize      int32
	RequiredShares int16
	RepairShares   int16
	OptimalShares  int16
	TotalShares    int16
}

// BucketInfo projects a bucket's public metadata. Numbers and strings are
// copied by value at unpack time; Access is a fresh handle to the bucket's
// encryption access, registered under the bucket's session.
type BucketInfo struct {
	Name                 string
	Created              int64
	PathCipher           uint8
	SegmentSize          int64
	EncryptionParameters EncryptionParametersInfo
	RedundancyScheme     RedundancySchemeInfo
	Access               Value
}

// snapshot produces the concrete native projection for val. The switch is
// exhaustive over the tags that have a projection; purely opaque types
// (uplink, project, buffer, encryption access) are only ever consumed by
// handle and have none.
func snapshot(r *Registry, val Value) (any, error) {
	switch val.Tag {
	case TagIDVersion:
		version, _, err := resolveAs[uplink.IDVersion](r, val, TagIDVersion)
		if err != nil {
			return nil, err
		}
		return IDVersionInfo{Number: version.Number}, nil

	case TagAPIKey:
		key, _, err := resolveAs[uplink.APIKey](r, val, TagAPIKey)
		if err != nil {
			return nil, err
		}
		return APIKeyInfo{Key: key.Serialize()}, nil

	case TagBucket:
		bucket, session, err := resolveAs[*uplink.Bucket](r, val, TagBucket)
		if err != nil {
			return nil, err
		}
		return BucketInfo{
			Name:        bucket.Name,
			Created:     bucket.Created.Unix(),
			PathCipher:  bucket.PathCipher,
			SegmentSize: bucket.SegmentSize,
			EncryptionParameters: EncryptionParametersInfo{
				CipherSuite: bucket.EncryptionParameters.CipherSuite,
				BlockSize:   bucket.EncryptionParameters.BlockSize,
			},
			RedundancyScheme: RedundancySchemeInfo{
				Algorithm:      bucket.RedundancyScheme.Algorithm,
				ShareSize:      bucket.RedundancyScheme.ShareSize,
				RequiredShares: bucket.RedundancyScheme.RequiredShares,
				RepairShares:   bucket.RedundancyScheme.RepairShares,
				OptimalShares:  bucket.RedundancyScheme.OptimalShares,
				TotalShares:    bucket.RedundancyScheme.TotalShares,
			},
			Access: pack(r, session, TagEncryptionAccess, bucket.Access()),
		}, nil

	default:
		return nil, ErrTypeMismatch.New("%s values have no native projection", val.Tag)
	}
}
