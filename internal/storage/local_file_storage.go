package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalFileStorage is an Engine that stores payloads on the local
// filesystem under a content-addressed layout rooted at dataDir. Each
// bucket gets its own subdirectory; within it, objects are addressed by
// their full SHA-256 hexadecimal hash, with the first two characters used
// as a subdirectory prefix.
type LocalFileStorage struct {
	dataDir string
}

// NewLocalFileStorage creates a LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

// ObjectPath computes the filesystem path for the object identified by
// hashHex within the given bucket.
func ObjectPath(directory string, bucket string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(directory, bucket, hashHex[:2], hashHex), nil
}

// locateExistingObject finds copies of the payload identified by hashHex
// in other buckets, so a hard link can be created instead of a new copy.
func locateExistingObject(directory string, targetObject string, hashHex string, size int64) []string {
	subdir := hashHex[:2]
	pattern := filepath.Join(directory, "*", subdir, hashHex)
	matches, _ := filepath.Glob(pattern)

	results := make([]string, 0)
	for _, existing := range matches {
		if existing == targetObject {
			continue
		}

		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() != size {
			continue
		}

		results = append(results, existing)
	}

	return results
}

func (s *LocalFileStorage) PutObject(bucket string, hashHex string, data []byte) error {
	objPath, err := ObjectPath(s.dataDir, bucket, hashHex)
	if err != nil {
		return err
	}

	matches := locateExistingObject(s.dataDir, objPath, hashHex, int64(len(data)))
	for _, existing := range matches {
		if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
			return err
		}
		if err := CopyOrLinkFile(existing, objPath); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(objPath, data, 0o644)
}

// PutObjectFromFile stores a payload whose contents already exist on disk
// at tempPath, using the same layout and dedup strategy as PutObject but
// without loading the payload into memory.
func (s *LocalFileStorage) PutObjectFromFile(bucket string, hashHex string, tempPath string, size int64) error {
	objPath, err := ObjectPath(s.dataDir, bucket, hashHex)
	if err != nil {
		return err
	}

	matches := locateExistingObject(s.dataDir, objPath, hashHex, size)
	for _, existing := range matches {
		if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
			return err
		}
		if err := CopyOrLinkFile(existing, objPath); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}
	return MoveFile(tempPath, objPath)
}

func (s *LocalFileStorage) GetObject(bucket string, hashHex string) ([]byte, error) {
	objPath, err := ObjectPath(s.dataDir, bucket, hashHex)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(objPath)
}

func (s *LocalFileStorage) DeleteObject(bucket string, hashHex string) error {
	// Intentionally a no-op; garbage collection of unreferenced payloads
	// can be implemented separately based on hash reference counts.
	_ = bucket
	_ = hashHex
	return nil
}

// DeleteBucket removes all on-disk payloads for the given bucket.
func (s *LocalFileStorage) DeleteBucket(bucket string) error {
	return os.RemoveAll(filepath.Join(s.dataDir, bucket))
}
