// Package bridge exposes the storage client as a flat, handle-based calling
// surface suitable for a native caller with no visibility into the Go
// object graph.
//
// Every operation takes a trailing *string error slot. On failure the
// operation writes a non-empty diagnostic into the slot and returns a
// zero/sentinel result; on success it leaves the slot untouched. Callers
// pre-clear the slot before each call and must check it before trusting the
// return value. The bridge allocates each diagnostic string; within a
// single process there is nothing for the caller to free.
//
// Objects handed to the caller are represented as handles into a single
// process-wide registry that keeps them alive until explicitly released.
// Tagged values (Value) additionally carry the object's type so that the
// conversion layer can verify, not trust, the caller's expectation.
package bridge

import (
	"causeway/internal/uplink"
)

// registry is the process-wide handle table. It is created exactly once at
// process start and torn down only at process exit.
var registry = NewRegistry()

// Typed handles for objects that are only ever consumed by reference.
type (
	APIKeyRef  Handle
	UplinkRef  Handle
	ProjectRef Handle
	BucketRef  Handle
	BufferRef  Handle
)

// GetIDVersion fetches the identity version with the given number from the
// version catalog and returns it as a tagged value.
func GetIDVersion(number uint8, errOut *string) Value {
	defer catchPanics(errOut)

	version, err := uplink.GetIDVersion(number)
	if err != nil {
		writeError(errOut, err)
		return Value{}
	}
	return pack(registry, GlobalSession, TagIDVersion, version)
}

// UnpackIDVersion converts a tagged identity version into its concrete
// native projection.
func UnpackIDVersion(val Value, errOut *string) IDVersionInfo {
	defer catchPanics(errOut)

	info, err := snapshot(registry, val)
	if err != nil {
		writeError(errOut, err)
		return IDVersionInfo{}
	}
	concrete, ok := info.(IDVersionInfo)
	if !ok {
		writeError(errOut, ErrTypeMismatch.New("value is tagged %s, want %s", val.Tag, TagIDVersion))
		return IDVersionInfo{}
	}
	return concrete
}

// ParseAPIKey parses a serialized API key. The returned handle is owned by
// the global session: a key may be used to open projects on any uplink.
func ParseAPIKey(raw string, errOut *string) APIKeyRef {
	defer catchPanics(errOut)

	key, err := uplink.ParseAPIKey(raw)
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	return APIKeyRef(registry.Register(GlobalSession, key))
}

// SerializeAPIKey returns the serialized form of a previously parsed key,
// unchanged from the string given to ParseAPIKey.
func SerializeAPIKey(ref APIKeyRef, errOut *string) string {
	defer catchPanics(errOut)

	key, _, err := deref[uplink.APIKey](registry, Handle(ref), "api-key")
	if err != nil {
		writeError(errOut, err)
		return ""
	}
	return key.Serialize()
}

// TrustPolicy mirrors the TLS trust portion of the client configuration.
type TrustPolicy struct {
	SkipPeerCAWhitelist bool
	PeerCAWhitelistPath string
}

// UplinkConfig is the native-visible configuration consumed by NewUplink.
// IdentityVersion is a tagged identity-version value obtained from
// GetIDVersion.
type UplinkConfig struct {
	TLS             TrustPolicy
	IdentityVersion Value
	PeerIDVersion   string
	MinIDVersion    uint8
	MaxIDVersion    uint8
	MaxInlineSize   int64
	MaxMemory       int64
}

// NewUplink validates cfg and constructs a new client session. All objects
// derived from the returned uplink are owned by a fresh session; combining
// them with handles from an unrelated uplink fails with the cross-session
// class.
func NewUplink(cfg UplinkConfig, errOut *string) UplinkRef {
	defer catchPanics(errOut)

	version, _, err := resolveAs[uplink.IDVersion](registry, cfg.IdentityVersion, TagIDVersion)
	if err != nil {
		writeError(errOut, err)
		return 0
	}

	goCfg := uplink.Config{
		IdentityVersion: version,
		PeerIDVersion:   cfg.PeerIDVersion,
		MinIDVersion:    cfg.MinIDVersion,
		MaxIDVersion:    cfg.MaxIDVersion,
		MaxInlineSize:   cfg.MaxInlineSize,
		MaxMemory:       cfg.MaxMemory,
	}
	goCfg.TLS.SkipPeerCAWhitelist = cfg.TLS.SkipPeerCAWhitelist
	goCfg.TLS.PeerCAWhitelistPath = cfg.TLS.PeerCAWhitelistPath

	client, err := uplink.NewUplink(&goCfg)
	if err != nil {
		writeError(errOut, err)
		return 0
	}
	return UplinkRef(registry.Register(registry.NewSession(), client))
}

// ReleaseHandle drops the registry entry for h. Releasing a handle that
// has already been released is a no-op; releasing one that was never issued
// writes the invalid-handle class into the error slot.
func ReleaseHandle(h Handle, errOut *string) {
	defer catchPanics(errOut)

	if err := registry.Release(h); err != nil {
		writeError(errOut, err)
	}
}
