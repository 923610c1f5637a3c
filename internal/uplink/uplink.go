// Package uplink implements the storage client the bridge exposes to
// native callers. A session is constructed from a validated Config, opens
// projects against a satellite speaking the S3 wire protocol, and scopes
// bucket access to opaque encryption keys.
package uplink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uplink represents the configuration state of a client session. It is
// safe to open multiple projects from one Uplink.
type Uplink struct {
	cfg       Config
	whitelist *x509.CertPool
}

// NewUplink validates cfg, loads the peer CA whitelist when verification
// is enabled, and returns a new session. A nil cfg gets defaults.
func NewUplink(cfg *Config) (*Uplink, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	if err := c.check(); err != nil {
		return nil, err
	}

	var pool *x509.CertPool
	if !c.TLS.SkipPeerCAWhitelist && c.TLS.PeerCAWhitelistPath != "" {
		pem, err := os.ReadFile(c.TLS.PeerCAWhitelistPath)
		if err != nil {
			return nil, ErrConfigInvalid.New("peer CA whitelist: %v", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrConfigInvalid.New("peer CA whitelist %q holds no certificates", c.TLS.PeerCAWhitelistPath)
		}
	}

	return &Uplink{cfg: c, whitelist: pool}, nil
}

// OpenProject dials the satellite at satelliteAddr and authenticates with
// key. The connection is probed synchronously so that transport and
// credential failures surface here rather than on first use.
func (u *Uplink) OpenProject(ctx context.Context, satelliteAddr string, key APIKey, opts *ProjectOptions) (*Project, error) {
	if key.IsZero() {
		return nil, ErrAuthRejected.New("no credentials")
	}

	var defaultKey []byte
	if opts != nil && len(opts.EncryptionKey) > 0 {
		if len(opts.EncryptionKey) != KeySize {
			return nil, ErrConfigInvalid.New("encryption key must be %d bytes, got %d", KeySize, len(opts.EncryptionKey))
		}
		defaultKey = make([]byte, KeySize)
		copy(defaultKey, opts.EncryptionKey)
	}

	endpoint, secure, err := parseSatelliteAddr(satelliteAddr)
	if err != nil {
		return nil, err
	}

	var transport http.RoundTripper
	if secure {
		transport = &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:            u.whitelist,
			InsecureSkipVerify: u.cfg.TLS.SkipPeerCAWhitelist,
			MinVersion:         tls.VersionTLS12,
		}}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(key.access, key.secret, ""),
		Secure:    secure,
		Transport: transport,
	})
	if err != nil {
		return nil, ErrConnectionFailed.Wrap(err)
	}

	if _, err := client.ListBuckets(ctx); err != nil {
		if isCredentialRejection(err) {
			return nil, ErrAuthRejected.Wrap(err)
		}
		return nil, ErrConnectionFailed.Wrap(err)
	}

	return &Project{client: client, defaultKey: defaultKey}, nil
}

// parseSatelliteAddr accepts either a bare host:port (plain HTTP) or a
// full http/https URL.
func parseSatelliteAddr(addr string) (endpoint string, secure bool, _ error) {
	if addr == "" {
		return "", false, ErrConnectionFailed.New("empty satellite address")
	}
	if !strings.Contains(addr, "://") {
		return addr, false, nil
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return "", false, ErrConnectionFailed.Wrap(err)
	}
	switch parsed.Scheme {
	case "http":
	case "https":
		secure = true
	default:
		return "", false, ErrConnectionFailed.New("unsupported satellite scheme %q", parsed.Scheme)
	}
	return parsed.Host, secure, nil
}

// isCredentialRejection reports whether err is the satellite refusing the
// presented credentials rather than a transport fault.
func isCredentialRejection(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return false
}
