package satellite

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ResponseWriterWrapper captures the status code written by a handler so
// the logging middleware can record it.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	StatusCode int
}

func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.StatusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// LogRequest logs every request with its method, path and resulting
// status code.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &ResponseWriterWrapper{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		slog.Info("Request",
			slog.Group("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.StatusCode,
				"remote", r.RemoteAddr,
				"request_id", w.Header().Get("X-Amz-Request-Id"),
			),
		)
	})
}

// AssignRequestID stamps each response with a unique X-Amz-Request-Id.
func AssignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Amz-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// RequireAuthentication rejects requests that do not authenticate against
// the satellite's credentials.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.engine.AuthenticateRequest(r.Context(), r)
		if err != nil || user == nil {
			slog.Debug("Authentication rejected", "path", r.URL.Path, "err", err)
			writeS3Error(w, "AccessDenied", "Access Denied.", r.URL.Path, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SlashFix collapses duplicate slashes in the request path.
func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for strings.Contains(r.URL.Path, "//") {
			r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the satellite's HTTP handler with the full middleware
// chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleListBuckets)

	mux.HandleFunc("PUT /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleCreateBucket(w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("HEAD /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketHead(w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketGet(w, r, r.PathValue("bucket"))
	})

	mux.HandleFunc("DELETE /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketDelete(w, r, r.PathValue("bucket"))
	})

	// Path-style S3 clients address buckets with a trailing slash
	// ("PUT /name/", "GET /name/?location"), which the wildcard patterns
	// match with an empty key. Those requests are bucket operations, not
	// operations on an empty object key.
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		bucket, key := r.PathValue("bucket"), r.PathValue("key")
		if key == "" {
			s.handleCreateBucket(w, r, bucket)
			return
		}
		s.handleObjectPut(w, r, bucket, key)
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		bucket, key := r.PathValue("bucket"), r.PathValue("key")
		if key == "" {
			s.handleBucketGet(w, r, bucket)
			return
		}
		s.handleObjectGet(w, r, bucket, key)
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		bucket, key := r.PathValue("bucket"), r.PathValue("key")
		if key == "" {
			s.handleBucketHead(w, r, bucket)
			return
		}
		s.handleObjectHead(w, r, bucket, key)
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		bucket, key := r.PathValue("bucket"), r.PathValue("key")
		if key == "" {
			s.handleBucketDelete(w, r, bucket)
			return
		}
		s.handleObjectDelete(w, r, bucket, key)
	})

	var handler http.Handler = mux
	handler = s.RequireAuthentication(handler)
	handler = SlashFix(handler)
	handler = LogRequest(handler)
	handler = AssignRequestID(handler)
	return handler
}
