package uplink

import (
	"encoding/base64"
	"strings"
)

// apiKeyMagic prefixes the decoded payload of every minted key so that
// arbitrary base64-decodable strings cannot masquerade as credentials.
const apiKeyMagic = "ck1:"

// APIKey holds the parsed credentials a project is opened with. The zero
// APIKey is invalid.
type APIKey struct {
	raw    string
	access string
	secret string
}

// ParseAPIKey parses a serialized API key of the form produced by
// MintAPIKey. Anything else fails with the malformed-key class.
func ParseAPIKey(raw string) (APIKey, error) {
	if raw == "" {
		return APIKey{}, ErrMalformedKey.New("empty key")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return APIKey{}, ErrMalformedKey.New("undecodable key")
	}
	payload, ok := strings.CutPrefix(string(decoded), apiKeyMagic)
	if !ok {
		return APIKey{}, ErrMalformedKey.New("unrecognized key format")
	}
	access, secret, ok := strings.Cut(payload, ":")
	if !ok || access == "" || secret == "" {
		return APIKey{}, ErrMalformedKey.New("missing credentials")
	}
	return APIKey{raw: raw, access: access, secret: secret}, nil
}

// MintAPIKey serializes a credential pair into a new API key. The access
// name must not contain the credential separator.
func MintAPIKey(access, secret string) (APIKey, error) {
	if access == "" || secret == "" || strings.Contains(access, ":") {
		return APIKey{}, ErrMalformedKey.New("invalid credentials")
	}
	raw := base64.RawURLEncoding.EncodeToString([]byte(apiKeyMagic + access + ":" + secret))
	return APIKey{raw: raw, access: access, secret: secret}, nil
}

// Serialize returns the key exactly as it was given to ParseAPIKey.
func (k APIKey) Serialize() string { return k.raw }

// IsZero reports whether the key holds no credentials.
func (k APIKey) IsZero() bool { return k.raw == "" }
