// Package storage provides payload storage engines for the satellite.
// Payloads are content addressed: the satellite stores each object under
// its SHA-256 hash and keeps the key-to-hash mapping in its metadata
// database.
package storage

// Engine stores and retrieves raw object payloads by bucket and SHA-256
// hexadecimal hash.
type Engine interface {
	// PutObject stores data under the given bucket and hash.
	PutObject(bucket string, hashHex string, data []byte) error

	// PutObjectFromFile stores the payload already on disk at tempPath,
	// avoiding loading it into memory.
	PutObjectFromFile(bucket string, hashHex string, tempPath string, size int64) error

	// GetObject retrieves a previously stored payload.
	GetObject(bucket string, hashHex string) ([]byte, error)

	// DeleteObject removes the payload for the given hash in the bucket.
	DeleteObject(bucket string, hashHex string) error

	// DeleteBucket removes all payloads for the given bucket.
	DeleteBucket(bucket string) error
}
