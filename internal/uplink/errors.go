package uplink

import "github.com/zeebo/errs"

// Failure classes for the client surface. The bridge forwards these
// verbatim through its error slot, so the class prefix is the only signal
// a native caller has to tell failure modes apart.
var (
	ErrInvalidVersion   = errs.Class("invalid identity version")
	ErrMalformedKey     = errs.Class("malformed api key")
	ErrConfigInvalid    = errs.Class("invalid configuration")
	ErrConnectionFailed = errs.Class("connection failed")
	ErrAuthRejected     = errs.Class("authorization rejected")
	ErrNotFound         = errs.Class("not found")
	ErrAccessDenied     = errs.Class("access denied")
	ErrWriteFailed      = errs.Class("write failed")
	ErrQuotaExceeded    = errs.Class("quota exceeded")
)
