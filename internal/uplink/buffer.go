package uplink

import "bytes"

// Buffer is a read-only view over caller-provided bytes, handed to object
// operations in place of a stream. The bytes are copied at construction so
// the caller's slice may be reused immediately.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data in a Buffer.
func NewBuffer(data []byte) *Buffer {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Buffer{data: buf}
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int64 { return int64(len(b.data)) }

// Reader returns a fresh reader over the buffer's contents.
func (b *Buffer) Reader() *bytes.Reader { return bytes.NewReader(b.data) }
