package auth_test

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"causeway/internal/auth"
)

const (
	AccessKeyID     = "causewayadmin"
	SecretAccessKey = "causewaysecret"
)

func signRequestSigV4(t *testing.T, r *http.Request) {
	t.Helper()

	const (
		region  = "us-east-1"
		service = "s3"
	)

	// Minimal SigV4 implementation for tests, matching the engine's logic.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	if r.Host == "" {
		if r.URL.Host != "" {
			r.Host = r.URL.Host
		}
	}
	if r.Header.Get("Host") == "" && r.Host != "" {
		r.Header.Set("Host", r.Host)
	}

	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}
	r.Header.Set("X-Amz-Date", amzDate)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonicalReq := auth.BuildCanonicalRequest(r, signedHeaders, r.Header.Get("X-Amz-Content-Sha256"))
	crHash := sha256.Sum256([]byte(canonicalReq))
	crHashHex := hex.EncodeToString(crHash[:])

	credentialScope := strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		crHashHex,
	}, "\n")

	kSecret := []byte("AWS4" + SecretAccessKey)
	kDate := auth.HmacSHA256(kSecret, dateStamp)
	kRegion := auth.HmacSHA256(kDate, region)
	kService := auth.HmacSHA256(kRegion, service)
	kSigning := auth.HmacSHA256(kService, "aws4_request")
	sig := auth.HmacSHA256(kSigning, stringToSign)
	sigHex := hex.EncodeToString(sig)

	cred := strings.Join([]string{AccessKeyID, dateStamp, region, service, "aws4_request"}, "/")
	authHeader := strings.Join([]string{
		"AWS4-HMAC-SHA256 Credential=" + cred,
		"SignedHeaders=host;x-amz-content-sha256;x-amz-date",
		"Signature=" + sigHex,
	}, ", ")

	r.Header.Set("Authorization", authHeader)
}

func TestSigV4_Succeeds(t *testing.T) {
	t.Parallel()

	e := auth.NewSigV4Engine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	signRequestSigV4(t, req)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "expected SigV4 authentication to succeed")
	require.NotNil(t, user, "expected non-nil user from successful SigV4 authentication")
	require.Equal(t, AccessKeyID, user.AccessKeyID)
}

func TestSigV4_InvalidSignature(t *testing.T) {
	t.Parallel()

	e := auth.NewSigV4Engine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	signRequestSigV4(t, req)

	// Corrupt the signature.
	req.Header.Set("Authorization", req.Header.Get("Authorization")+"0")

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.Error(t, err, "expected SigV4 authentication to fail with invalid signature")
	require.Nil(t, user, "expected nil user from failed SigV4 authentication")
}

func TestSigV4_WrongAccessKey(t *testing.T) {
	t.Parallel()

	e := auth.NewSigV4Engine("someone-else", SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	signRequestSigV4(t, req)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.ErrorIs(t, err, auth.ErrBadCredentials)
	require.Nil(t, user)
}

func TestSigV4_IgnoresUnrelatedAuthScheme(t *testing.T) {
	t.Parallel()

	e := auth.NewSigV4Engine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	req.Header.Set("Authorization", "Bearer some-token")

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "non-SigV4 requests should pass through without an error")
	require.Nil(t, user, "non-SigV4 requests should not authenticate")
}

func TestBasic_Succeeds(t *testing.T) {
	t.Parallel()

	e := auth.NewBasicEngine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	req.SetBasicAuth(AccessKeyID, SecretAccessKey)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, AccessKeyID, user.AccessKeyID)
}

func TestBasic_WrongPassword(t *testing.T) {
	t.Parallel()

	e := auth.NewBasicEngine(AccessKeyID, SecretAccessKey)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	req.SetBasicAuth(AccessKeyID, "not-the-secret")

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.ErrorIs(t, err, auth.ErrBadCredentials)
	require.Nil(t, user)
}

func TestCompound_TriesEnginesInOrder(t *testing.T) {
	t.Parallel()

	e := auth.NewCompoundEngine(
		auth.NewSigV4Engine(AccessKeyID, SecretAccessKey),
		auth.NewBasicEngine(AccessKeyID, SecretAccessKey),
	)

	// A Basic request is not handled by the SigV4 engine and should fall
	// through to the Basic engine.
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	req.SetBasicAuth(AccessKeyID, SecretAccessKey)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestCompound_NoEngineMatches(t *testing.T) {
	t.Parallel()

	e := auth.NewCompoundEngine(
		auth.NewSigV4Engine(AccessKeyID, SecretAccessKey),
		auth.NewBasicEngine(AccessKeyID, SecretAccessKey),
	)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.Nil(t, user, "unauthenticated request should not produce a user")
	require.NoError(t, err, "absence of credentials is not an engine error")
}
