// Package satellite implements the in-process satellite the uplink client
// talks to: a small S3-subset HTTP service backed by SQLite for metadata
// and a content-addressed payload engine. It stands in for the real
// storage network in tests and local runs.
package satellite

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"causeway/internal/auth"
	"causeway/internal/storage"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Config holds the satellite configuration.
type Config struct {
	// DataDir is the root directory for payloads and the metadata db.
	DataDir string
	// Region is the advertised bucket location.
	Region string
	// Engine stores object payloads; defaults to local file storage
	// rooted at DataDir.
	Engine storage.Engine
	// AccessKeyID and SecretAccessKey are the credentials uploads must
	// present.
	AccessKeyID     string
	SecretAccessKey string
	// MaxObjectBytes caps the size of a single object; zero means
	// unlimited. Oversized uploads are rejected with QuotaExceeded.
	MaxObjectBytes int64
}

// Server provides the S3-subset HTTP API the uplink client consumes.
type Server struct {
	cfg    Config
	db     *sql.DB
	engine auth.Engine
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL,
			PRIMARY KEY (bucket, key),
			FOREIGN KEY(bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_hash ON objects(hash);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// NewServer initializes the metadata database and returns a new Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("credentials must not be empty")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// The foreign_keys flag must ride the DSN so every pooled connection
	// enforces the objects -> buckets cascade.
	db, err := sql.Open("sqlite3", path.Join(cfg.DataDir, "metadata.sqlite")+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Engine == nil {
		cfg.Engine = storage.NewLocalFileStorage(cfg.DataDir)
	}

	engine := auth.NewCompoundEngine(
		auth.NewSigV4Engine(cfg.AccessKeyID, cfg.SecretAccessKey),
		auth.NewBasicEngine(cfg.AccessKeyID, cfg.SecretAccessKey),
	)

	return &Server{cfg: cfg, db: db, engine: engine}, nil
}

// Close releases the metadata database.
func (s *Server) Close() error {
	return s.db.Close()
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:      code,
		Message:   message,
		Resource:  resource,
		RequestID: w.Header().Get("X-Amz-Request-Id"),
	})
}

func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// isValidBucketName implements the standard S3 bucket naming rules.
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if !bucketNamePattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}
	// Bucket name must not be formatted as an IPv4 address.
	return net.ParseIP(name) == nil
}

// isValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most 1024 bytes, and no control characters.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}
	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

func (s *Server) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM buckets WHERE name = ?`, bucket).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if !isValidBucketName(bucket) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return
	}

	res, err := s.db.ExecContext(r.Context(),
		`INSERT OR IGNORE INTO buckets(name, created_at) VALUES(?, ?)`,
		bucket, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("Create bucket", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		writeS3Error(w, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", r.URL.Path, http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketHead(w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request, bucket string) {
	if r.URL.Query().Has("location") {
		if err := writeXMLResponse(w, LocationConstraint{XMLNS: s3XMLNamespace, Location: s.cfg.Region}); err != nil {
			slog.Error("Encode bucket location", "bucket", bucket, "err", err)
		}
		return
	}
	writeS3Error(w, "NotImplemented", "Bucket listing is not implemented.", r.URL.Path, http.StatusNotImplemented)
}

func (s *Server) handleBucketDelete(w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	// Object rows go with the bucket via the FK cascade.
	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM buckets WHERE name = ?`, bucket); err != nil {
		slog.Error("Delete bucket metadata", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}
	if err := s.cfg.Engine.DeleteBucket(bucket); err != nil {
		slog.Error("Delete bucket payloads", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	resp := ListAllMyBucketsResult{XMLNS: s3XMLNamespace}
	resp.Owner.ID = "causeway-satellite"
	resp.Owner.DisplayName = "causeway-satellite"

	for rows.Next() {
		var (
			name      string
			createdAt time.Time
		)
		if err := rows.Scan(&name, &createdAt); err != nil {
			slog.Error("Scan bucket", "err", err)
			continue
		}
		resp.Buckets = append(resp.Buckets, struct {
			Name         string `xml:"Name"`
			CreationDate string `xml:"CreationDate"`
		}{
			Name:         name,
			CreationDate: createdAt.UTC().Format(time.RFC3339),
		})
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets xml", "err", err)
	}
}

// decodeStreamingPayload decodes an AWS SigV4 streaming (aws-chunked)
// payload into f while computing the SHA-256 hash of the decoded bytes.
// It returns the decoded length and hash.
func decodeStreamingPayload(f io.Writer, body io.Reader, decodedLen int64) (int64, string, error) {
	br := bufio.NewReader(body)

	h := sha256.New()
	var written int64

	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, "", errors.New("unexpected EOF while reading chunk header")
			}
			return 0, "", fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip chunk extensions (e.g. ";chunk-signature=...").
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return 0, "", fmt.Errorf("parse chunk size %q: %w", line, err)
		}

		if size == 0 {
			// Final chunk; consume the trailer terminator and stop.
			_, _ = br.ReadString('\n')
			break
		}

		remaining := size
		buf := make([]byte, 32*1024)
		for remaining > 0 {
			toRead := min(remaining, int64(len(buf)))
			n, err := io.ReadFull(br, buf[:toRead])
			if err != nil {
				return 0, "", fmt.Errorf("read chunk body: %w", err)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return 0, "", fmt.Errorf("write chunk: %w", err)
			}
			if _, err := h.Write(buf[:n]); err != nil {
				return 0, "", fmt.Errorf("hash chunk: %w", err)
			}
			written += int64(n)
			remaining -= int64(n)
		}

		// Consume the trailing CRLF after the chunk body.
		if b, err := br.ReadByte(); err != nil || b != '\r' {
			return 0, "", errors.New("malformed chunk terminator")
		}
		if b, err := br.ReadByte(); err != nil || b != '\n' {
			return 0, "", errors.New("malformed chunk terminator")
		}
	}

	if decodedLen >= 0 && written != decodedLen {
		slog.Debug("Decoded streaming payload length mismatch", "expected", decodedLen, "actual", written)
	}

	return written, hex.EncodeToString(h.Sum(nil)), nil
}

// overQuota reports whether size exceeds the configured per-object cap.
func (s *Server) overQuota(size int64) bool {
	return s.cfg.MaxObjectBytes > 0 && size > s.cfg.MaxObjectBytes
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !isValidBucketName(bucket) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return
	}
	if !isValidObjectKey(key) {
		writeS3Error(w, "InvalidObjectName", "The specified key is not valid.", r.URL.Path, http.StatusBadRequest)
		return
	}

	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	var (
		length  int64
		hashHex string
	)

	defer r.Body.Close()

	contentSHA := r.Header.Get("X-Amz-Content-Sha256")
	if strings.EqualFold(contentSHA, "STREAMING-AWS4-HMAC-SHA256-PAYLOAD") {
		decodedLenStr := r.Header.Get("X-Amz-Decoded-Content-Length")
		decodedLen, parseErr := strconv.ParseInt(decodedLenStr, 10, 64)
		if decodedLenStr == "" || parseErr != nil || decodedLen < 0 {
			writeS3Error(w, "InvalidRequest", "Missing or invalid X-Amz-Decoded-Content-Length for streaming payload", r.URL.Path, http.StatusBadRequest)
			return
		}

		if s.overQuota(decodedLen) {
			writeS3Error(w, "QuotaExceeded", "The proposed upload exceeds the maximum allowed object size.", r.URL.Path, http.StatusBadRequest)
			return
		}

		tmpDir := filepath.Join(s.cfg.DataDir, "tmp")
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			slog.Error("Create temp dir for streaming upload", "path", tmpDir, "err", err)
			writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
			return
		}

		tempFile, err := os.CreateTemp(tmpDir, "upload-*")
		if err != nil {
			slog.Error("Create temp file for streaming upload", "dir", tmpDir, "err", err)
			writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
			return
		}
		defer func() {
			_ = tempFile.Close()
			// Best-effort cleanup; the engine may have moved the file away.
			if err := os.Remove(tempFile.Name()); err != nil && !os.IsNotExist(err) {
				slog.Debug("Remove temp upload file", "path", tempFile.Name(), "err", err)
			}
		}()

		size, hash, err := decodeStreamingPayload(tempFile, r.Body, decodedLen)
		if err != nil {
			slog.Error("Decode streaming payload", "err", err)
			writeS3Error(w, "InvalidRequest", "Failed to decode streaming payload", r.URL.Path, http.StatusBadRequest)
			return
		}

		if s.overQuota(size) {
			writeS3Error(w, "QuotaExceeded", "The proposed upload exceeds the maximum allowed object size.", r.URL.Path, http.StatusBadRequest)
			return
		}

		if err := s.cfg.Engine.PutObjectFromFile(bucket, hash, tempFile.Name(), size); err != nil {
			slog.Error("Store object payload from file", "bucket", bucket, "key", key, "err", err)
			writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
			return
		}

		length = size
		hashHex = hash
	} else {
		if s.overQuota(r.ContentLength) {
			writeS3Error(w, "QuotaExceeded", "The proposed upload exceeds the maximum allowed object size.", r.URL.Path, http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			slog.Error("Read request body", "err", err)
			writeS3Error(w, "InvalidRequest", "Failed to read request body", r.URL.Path, http.StatusBadRequest)
			return
		}

		length = int64(len(data))
		if s.overQuota(length) {
			writeS3Error(w, "QuotaExceeded", "The proposed upload exceeds the maximum allowed object size.", r.URL.Path, http.StatusBadRequest)
			return
		}

		sum := sha256.Sum256(data)
		hashHex = hex.EncodeToString(sum[:])
		if err := s.cfg.Engine.PutObject(bucket, hashHex, data); err != nil {
			slog.Error("Store object payload", "bucket", bucket, "key", key, "err", err)
			writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
			return
		}
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var expiresAt any
	if raw := r.Header.Get("Expires"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil {
			expiresAt = t.UTC()
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(r.Context(),
		`INSERT INTO objects(bucket, key, hash, size, content_type, expires_at, created_at, modified_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	expires_at=excluded.expires_at,
		 	modified_at=excluded.modified_at`,
		bucket, key, hashHex, length, contentType, expiresAt, now, now,
	)
	if err != nil {
		slog.Error("Upsert object metadata", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", createETag(hashHex))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) lookupObject(ctx context.Context, bucket, key string) (hashHex string, size int64, contentType sql.NullString, modifiedAt time.Time, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT hash, size, content_type, modified_at FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&hashHex, &size, &contentType, &modifiedAt)
	return hashHex, size, contentType, modifiedAt, err
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	hashHex, size, contentType, modifiedAt, err := s.lookupObject(r.Context(), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Lookup object metadata", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	data, err := s.cfg.Engine.GetObject(bucket, hashHex)
	if err != nil {
		slog.Error("Load object payload", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	writeObjectHeaders(w, hashHex, size, contentType, modifiedAt)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Stream object", "bucket", bucket, "key", key, "err", err)
	}
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	hashHex, size, contentType, modifiedAt, err := s.lookupObject(r.Context(), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Lookup object metadata (HEAD)", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	writeObjectHeaders(w, hashHex, size, contentType, modifiedAt)
	w.WriteHeader(http.StatusOK)
}

func writeObjectHeaders(w http.ResponseWriter, hashHex string, size int64, contentType sql.NullString, modifiedAt time.Time) {
	if contentType.Valid {
		w.Header().Set("Content-Type", contentType.String)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Last-Modified", modifiedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", createETag(hashHex))
	w.Header().Set("Accept-Ranges", "bytes")
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	_, err := s.db.ExecContext(r.Context(), `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key)
	if err != nil {
		slog.Error("Delete object metadata", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
