// Package auth implements request authentication for the satellite's S3
// surface. Engines verify the credentials presented on a request against
// the satellite's registered credential pair.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrBadCredentials is returned when credentials were presented for this
// engine's scheme but failed verification.
var ErrBadCredentials = errors.New("credentials rejected")

// User identifies an authenticated caller.
type User struct {
	AccessKeyID string
}

// Engine inspects an HTTP request for valid authentication credentials.
// It returns a non-nil User when the credentials are valid, and (nil, nil)
// when the request is not signed for this engine's scheme. An error means
// credentials were presented but failed verification.
type Engine interface {
	AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error)
}

// CompoundEngine tries each wrapped engine in order and accepts the first
// successful authentication.
type CompoundEngine struct {
	engines []Engine
}

// NewCompoundEngine creates a CompoundEngine from the given engines.
func NewCompoundEngine(engines ...Engine) *CompoundEngine {
	return &CompoundEngine{engines: engines}
}

// AuthenticateRequest tries each engine in order.
func (e *CompoundEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	var lastErr error
	for _, engine := range e.engines {
		user, err := engine.AuthenticateRequest(ctx, r)
		if user != nil && err == nil {
			return user, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, lastErr
}
