package uplink

// KeySize is the required length of an encryption key in bytes.
const KeySize = 32

// EncryptionAccess is an opaque scope carrying the key material used to
// encrypt and decrypt bucket contents. The key is copied on the way in and
// on the way out; the caller's slice is never retained.
type EncryptionAccess struct {
	key []byte
}

// NewEncryptionAccess constructs an access scope from raw key bytes.
// Construction is purely local and cannot fail.
func NewEncryptionAccess(key []byte) *EncryptionAccess {
	buf := make([]byte, len(key))
	copy(buf, key)
	return &EncryptionAccess{key: buf}
}

// Key returns a copy of the key material.
func (a *EncryptionAccess) Key() []byte {
	buf := make([]byte, len(a.key))
	copy(buf, a.key)
	return buf
}
