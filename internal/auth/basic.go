package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

const basicAuthPrefix = "Basic "

// BasicEngine authenticates HTTP Basic credentials.
type BasicEngine struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewBasicEngine creates a BasicEngine for the given credential pair.
func NewBasicEngine(accessKeyID, secretAccessKey string) *BasicEngine {
	return &BasicEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials.
func (e *BasicEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, basicAuthPrefix) {
		return nil, nil
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(basicAuthPrefix):]))
	if err != nil {
		return nil, nil
	}

	access, secret, ok := strings.Cut(string(payload), ":")
	if !ok {
		return nil, nil
	}

	accessOK := subtle.ConstantTimeCompare([]byte(access), []byte(e.AccessKeyID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(e.SecretAccessKey)) == 1
	if !accessOK || !secretOK {
		return nil, ErrBadCredentials
	}

	return &User{AccessKeyID: access}, nil
}
