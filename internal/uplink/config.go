package uplink

import (
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the client configuration a session is constructed from.
// The TLS block is the trust policy for satellite connections: either peer
// verification is skipped outright, or certificates are checked against the
// system pool plus an optional PEM whitelist on disk.
type Config struct {
	TLS struct {
		SkipPeerCAWhitelist bool
		PeerCAWhitelistPath string
	}

	// IdentityVersion selects the peer identity scheme to require.
	IdentityVersion IDVersion

	// PeerIDVersion constrains acceptable peer identity versions, either
	// "latest" or a decimal version number. Empty means unconstrained.
	PeerIDVersion string

	// MinIDVersion and MaxIDVersion bound the identity versions this
	// session will accept.
	MinIDVersion uint8
	MaxIDVersion uint8 `validate:"gtefield=MinIDVersion"`

	MaxInlineSize int64 `validate:"min=0"`
	MaxMemory     int64 `validate:"min=0"`
}

func (c *Config) setDefaults() {
	if c.MaxIDVersion == 0 && c.MinIDVersion == 0 {
		c.MaxIDVersion = latestIDVersion
	}
	if c.MaxInlineSize == 0 {
		c.MaxInlineSize = 4 << 10
	}
	if c.MaxMemory == 0 {
		c.MaxMemory = 4 << 20
	}
}

// check validates the configuration. All failures carry the
// config-invalid class.
func (c *Config) check() error {
	if err := validate.Struct(c); err != nil {
		return ErrConfigInvalid.Wrap(err)
	}
	if _, ok := idVersions[c.IdentityVersion.Number]; !ok {
		return ErrConfigInvalid.New("unknown identity version %d", c.IdentityVersion.Number)
	}
	if c.IdentityVersion.Number < c.MinIDVersion || c.IdentityVersion.Number > c.MaxIDVersion {
		return ErrConfigInvalid.New("identity version %d outside bounds [%d, %d]",
			c.IdentityVersion.Number, c.MinIDVersion, c.MaxIDVersion)
	}
	if c.PeerIDVersion != "" && c.PeerIDVersion != "latest" {
		number, err := strconv.ParseUint(c.PeerIDVersion, 10, 8)
		if err != nil {
			return ErrConfigInvalid.New("unparsable peer identity version %q", c.PeerIDVersion)
		}
		if _, ok := idVersions[uint8(number)]; !ok {
			return ErrConfigInvalid.New("unknown peer identity version %q", c.PeerIDVersion)
		}
	}
	return nil
}
