package bridge

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"causeway/internal/satellite"
	"causeway/internal/uplink"
)

const (
	testAccessKeyID     = "bridge-tester"
	testSecretAccessKey = "bridge-tester-secret"
	testBucketName      = "bridge-bucket"
)

// startSatellite runs an in-process satellite with a pre-created bucket and
// returns its address. maxObjectBytes of zero leaves uploads uncapped.
func startSatellite(t *testing.T, maxObjectBytes int64) string {
	t.Helper()

	srv, err := satellite.NewServer(t.Context(), satellite.Config{
		DataDir:         t.TempDir(),
		AccessKeyID:     testAccessKeyID,
		SecretAccessKey: testSecretAccessKey,
		MaxObjectBytes:  maxObjectBytes,
	})
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() { _ = srv.Close() })
	t.Cleanup(httpSrv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, httpSrv.URL+"/"+testBucketName, nil)
	require.NoError(t, err, "creating bucket request")
	req.SetBasicAuth(testAccessKeyID, testSecretAccessKey)

	resp, err := httpSrv.Client().Do(req)
	require.NoError(t, err, "creating bucket")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "create bucket status")

	return httpSrv.URL
}

func mintKey(t *testing.T) string {
	t.Helper()

	key, err := uplink.MintAPIKey(testAccessKeyID, testSecretAccessKey)
	require.NoError(t, err, "MintAPIKey error")
	return key.Serialize()
}

func TestGetIDVersionAndUnpack(t *testing.T) {
	t.Parallel()

	var errSlot string
	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot, "error slot after GetIDVersion")
	require.Equal(t, TagIDVersion, version.Tag)
	require.NotEqualValues(t, 0, version.Ref)

	info := UnpackIDVersion(version, &errSlot)
	require.Empty(t, errSlot, "error slot after UnpackIDVersion")
	require.EqualValues(t, 0, info.Number)

	ReleaseHandle(version.Ref, &errSlot)
	require.Empty(t, errSlot, "error slot after ReleaseHandle")
}

func TestGetIDVersionUnknown(t *testing.T) {
	t.Parallel()

	var errSlot string
	version := GetIDVersion(99, &errSlot)
	require.NotEmpty(t, errSlot, "unknown version must fill the error slot")
	require.Equal(t, Value{}, version, "failed lookup must return the zero value")
}

func TestParseAPIKeyRejectsGarbage(t *testing.T) {
	t.Parallel()

	var errSlot string
	ref := ParseAPIKey("not-a-real-key", &errSlot)
	require.NotEmpty(t, errSlot, "garbage key must fill the error slot")
	require.EqualValues(t, 0, ref, "failed parse must return the zero handle")
	require.Contains(t, errSlot, "malformed api key")
}

func TestParseAndSerializeAPIKey(t *testing.T) {
	t.Parallel()

	serialized := mintKey(t)

	var errSlot string
	ref := ParseAPIKey(serialized, &errSlot)
	require.Empty(t, errSlot, "error slot after ParseAPIKey")
	require.NotEqualValues(t, 0, ref)

	got := SerializeAPIKey(ref, &errSlot)
	require.Empty(t, errSlot, "error slot after SerializeAPIKey")
	require.Equal(t, serialized, got, "serialization must return the original string")

	ReleaseHandle(Handle(ref), &errSlot)
	require.Empty(t, errSlot)
}

func TestNewUplinkBadWhitelist(t *testing.T) {
	t.Parallel()

	var errSlot string
	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot)

	ref := NewUplink(UplinkConfig{
		TLS: TrustPolicy{
			SkipPeerCAWhitelist: false,
			PeerCAWhitelistPath: filepath.Join(t.TempDir(), "missing.pem"),
		},
		IdentityVersion: version,
	}, &errSlot)
	require.NotEmpty(t, errSlot, "missing whitelist must fill the error slot")
	require.EqualValues(t, 0, ref, "failed construction must return the zero handle")
	require.Contains(t, errSlot, "invalid configuration")
}

func TestNewUplinkStaleIdentityVersion(t *testing.T) {
	t.Parallel()

	var errSlot string
	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot)

	ReleaseHandle(version.Ref, &errSlot)
	require.Empty(t, errSlot)

	ref := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	require.NotEmpty(t, errSlot, "a released identity version must fill the error slot")
	require.EqualValues(t, 0, ref)
	require.Contains(t, errSlot, "invalid handle")
}

func TestFullChainUpload(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 0)
	serialized := mintKey(t)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot, "GetIDVersion")

	key := ParseAPIKey(serialized, &errSlot)
	require.Empty(t, errSlot, "ParseAPIKey")

	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	require.Empty(t, errSlot, "NewUplink")

	encryptionKey := make([]byte, uplink.KeySize)
	_, err := rand.Read(encryptionKey)
	require.NoError(t, err)

	project := OpenProject(client, addr, key, ProjectOptions{
		EncryptionKey: encryptionKey,
	}, &errSlot)
	require.Empty(t, errSlot, "OpenProject")

	access := NewEncryptionAccess(encryptionKey)
	bucket := OpenBucket(project, testBucketName, access, &errSlot)
	require.Empty(t, errSlot, "OpenBucket")

	buffer := NewBuffer([]byte("hello through the bridge"))
	UploadObject(bucket, "greetings/hello.txt", buffer, &UploadOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"origin": "test"},
	}, &errSlot)
	require.Empty(t, errSlot, "UploadObject")

	// The bucket projection reports the defaults and round-trips the
	// encryption access key.
	bucketValue := BucketValue(bucket, &errSlot)
	require.Empty(t, errSlot, "BucketValue")

	info := UnpackBucket(bucketValue, &errSlot)
	require.Empty(t, errSlot, "UnpackBucket")
	require.Equal(t, testBucketName, info.Name)
	require.EqualValues(t, 2, info.PathCipher, "path cipher defaults to AES-GCM")
	require.EqualValues(t, 64<<20, info.SegmentSize)
	require.EqualValues(t, 1<<10, info.EncryptionParameters.BlockSize)
	require.EqualValues(t, 29, info.RedundancyScheme.RequiredShares)
	require.EqualValues(t, 95, info.RedundancyScheme.TotalShares)

	require.Equal(t, TagEncryptionAccess, info.Access.Tag)
	gotAccess, _, err := resolveAs[*uplink.EncryptionAccess](registry, info.Access, TagEncryptionAccess)
	require.NoError(t, err)
	require.Equal(t, encryptionKey, gotAccess.Key(), "encryption key must round-trip unchanged")

	for _, h := range []Handle{
		Handle(buffer),
		info.Access.Ref,
		Handle(bucket),
		Handle(project),
		Handle(client),
		Handle(key),
		version.Ref,
	} {
		ReleaseHandle(h, &errSlot)
		require.Empty(t, errSlot, "ReleaseHandle %d", h)
	}
}

func TestOpenProjectRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 0)

	wrongKey, err := uplink.MintAPIKey("intruder", "wrong-secret")
	require.NoError(t, err)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot)

	key := ParseAPIKey(wrongKey.Serialize(), &errSlot)
	require.Empty(t, errSlot, "a well-formed key parses regardless of whether it will authenticate")

	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	require.Empty(t, errSlot)

	project := OpenProject(client, addr, key, ProjectOptions{}, &errSlot)
	require.NotEmpty(t, errSlot, "rejected credentials must fill the error slot")
	require.EqualValues(t, 0, project)
	require.Contains(t, errSlot, "authorization rejected")
}

func TestOpenProjectUnreachableSatellite(t *testing.T) {
	t.Parallel()

	serialized := mintKey(t)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	require.Empty(t, errSlot)

	key := ParseAPIKey(serialized, &errSlot)
	require.Empty(t, errSlot)

	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	require.Empty(t, errSlot)

	// A reserved port nothing listens on.
	project := OpenProject(client, "127.0.0.1:1", key, ProjectOptions{}, &errSlot)
	require.NotEmpty(t, errSlot, "an unreachable satellite must fill the error slot")
	require.EqualValues(t, 0, project)
	require.Contains(t, errSlot, "connection failed")
}

func TestOpenBucketNotFound(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 0)
	serialized := mintKey(t)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	key := ParseAPIKey(serialized, &errSlot)
	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)

	encryptionKey := bytes.Repeat([]byte{7}, uplink.KeySize)
	project := OpenProject(client, addr, key, ProjectOptions{EncryptionKey: encryptionKey}, &errSlot)
	require.Empty(t, errSlot)

	bucket := OpenBucket(project, "no-such-bucket", nil, &errSlot)
	require.NotEmpty(t, errSlot, "a missing bucket must fill the error slot")
	require.EqualValues(t, 0, bucket)
	require.Contains(t, errSlot, "not found")
}

func TestCreateBucket(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 0)
	serialized := mintKey(t)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	key := ParseAPIKey(serialized, &errSlot)
	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)

	encryptionKey := bytes.Repeat([]byte{3}, uplink.KeySize)
	project := OpenProject(client, addr, key, ProjectOptions{EncryptionKey: encryptionKey}, &errSlot)
	require.Empty(t, errSlot)

	bucket := CreateBucket(project, "fresh-bucket", &errSlot)
	require.Empty(t, errSlot, "CreateBucket")
	require.NotEqualValues(t, 0, bucket)

	// The created bucket is immediately usable for uploads.
	buffer := NewBuffer([]byte("first object"))
	UploadObject(bucket, "first.txt", buffer, nil, &errSlot)
	require.Empty(t, errSlot, "UploadObject into created bucket")

	// And visible to OpenBucket.
	opened := OpenBucket(project, "fresh-bucket", nil, &errSlot)
	require.Empty(t, errSlot, "OpenBucket after CreateBucket")
	require.NotEqualValues(t, 0, opened)

	// Creating it a second time fails.
	dup := CreateBucket(project, "fresh-bucket", &errSlot)
	require.NotEmpty(t, errSlot, "duplicate creation must fill the error slot")
	require.EqualValues(t, 0, dup)
	require.Contains(t, errSlot, "already exists")
}

func TestUploadQuotaExceeded(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 16)
	serialized := mintKey(t)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	key := ParseAPIKey(serialized, &errSlot)
	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)

	encryptionKey := bytes.Repeat([]byte{5}, uplink.KeySize)
	project := OpenProject(client, addr, key, ProjectOptions{EncryptionKey: encryptionKey}, &errSlot)
	require.Empty(t, errSlot)

	bucket := OpenBucket(project, testBucketName, nil, &errSlot)
	require.Empty(t, errSlot)

	// Under the cap succeeds.
	small := NewBuffer([]byte("tiny"))
	UploadObject(bucket, "small.bin", small, nil, &errSlot)
	require.Empty(t, errSlot, "upload under the quota")

	// Over the cap surfaces the quota-exceeded class through the slot.
	big := NewBuffer(bytes.Repeat([]byte("x"), 64))
	UploadObject(bucket, "big.bin", big, nil, &errSlot)
	require.NotEmpty(t, errSlot, "upload over the quota must fill the error slot")
	require.Contains(t, errSlot, "quota exceeded")
}

func TestReleasedHandleOperationsFail(t *testing.T) {
	t.Parallel()

	serialized := mintKey(t)

	var errSlot string
	key := ParseAPIKey(serialized, &errSlot)
	require.Empty(t, errSlot)

	ReleaseHandle(Handle(key), &errSlot)
	require.Empty(t, errSlot, "first release")

	// Releasing again is an idempotent no-op.
	ReleaseHandle(Handle(key), &errSlot)
	require.Empty(t, errSlot, "second release")

	// Using the released handle fails with the invalid-handle class.
	got := SerializeAPIKey(key, &errSlot)
	require.NotEmpty(t, errSlot, "using a released handle must fill the error slot")
	require.Empty(t, got)
	require.Contains(t, errSlot, "invalid handle")
}

func TestReleaseNeverIssuedHandle(t *testing.T) {
	t.Parallel()

	var errSlot string
	ReleaseHandle(Handle(^uintptr(0)), &errSlot)
	require.NotEmpty(t, errSlot, "releasing a never-issued handle must fill the error slot")
	require.Contains(t, errSlot, "invalid handle")
}

func TestCrossSessionKeyRejected(t *testing.T) {
	t.Parallel()

	addr := startSatellite(t, 0)

	var errSlot string

	version := GetIDVersion(0, &errSlot)
	client := NewUplink(UplinkConfig{
		TLS:             TrustPolicy{SkipPeerCAWhitelist: true},
		IdentityVersion: version,
	}, &errSlot)
	require.Empty(t, errSlot)

	// A key owned by an unrelated session, as if it had been derived from
	// some other uplink.
	parsed, err := uplink.ParseAPIKey(mintKey(t))
	require.NoError(t, err)
	foreign := APIKeyRef(registry.Register(registry.NewSession(), parsed))

	project := OpenProject(client, addr, foreign, ProjectOptions{}, &errSlot)
	require.NotEmpty(t, errSlot, "a foreign-session key must fill the error slot")
	require.EqualValues(t, 0, project)
	require.Contains(t, errSlot, "cross-session")
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()

	var errSlot string
	func() {
		defer catchPanics(&errSlot)
		panic("boom")
	}()

	require.NotEmpty(t, errSlot, "a panic must be converted into an error-slot write")
	require.True(t, strings.HasPrefix(errSlot, "internal fault:"), "slot: %s", errSlot)
	require.Contains(t, errSlot, "boom")
}

func TestErrorSlotLeftUntouchedOnSuccess(t *testing.T) {
	t.Parallel()

	errSlot := "stale diagnostic from an earlier call"
	version := GetIDVersion(0, &errSlot)
	require.Equal(t, "stale diagnostic from an earlier call", errSlot,
		"a successful operation must not touch the slot")
	require.Equal(t, TagIDVersion, version.Tag)

	errSlot = ""
	ReleaseHandle(version.Ref, &errSlot)
	require.Empty(t, errSlot)
}

// The zero Value carries TagInvalid; every unpack path refuses it.
func TestUnpackZeroValue(t *testing.T) {
	t.Parallel()

	var errSlot string
	info := UnpackIDVersion(Value{}, &errSlot)
	require.NotEmpty(t, errSlot)
	require.Equal(t, IDVersionInfo{}, info)

	errSlot = ""
	bucketInfo := UnpackBucket(Value{}, &errSlot)
	require.NotEmpty(t, errSlot)
	require.Equal(t, BucketInfo{}, bucketInfo)
}

func ExampleGetIDVersion() {
	var errSlot string
	version := GetIDVersion(0, &errSlot)
	if errSlot != "" {
		fmt.Println("error:", errSlot)
		return
	}
	info := UnpackIDVersion(version, &errSlot)
	fmt.Println(info.Number)
	ReleaseHandle(version.Ref, &errSlot)
	// Output: 0
}
