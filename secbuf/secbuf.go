// Package secbuf assembles the small, bounded buffer lists handed to a
// security provider on each handshake call.
//
// A List owns its buffers for the duration of one provider call. Tokens are
// read back with CopyOut so callers never hold memory the provider wrote into.
package secbuf

import (
	"errors"
	"fmt"
)

// MaxBuffers is the capacity used by the context manager for every list.
const MaxBuffers = 4

var (
	// ErrCapacityExceeded is returned when appending past a list's capacity.
	ErrCapacityExceeded = errors.New("secbuf: buffer list capacity exceeded")

	// ErrDuplicateKind is returned when a second buffer of the same kind is appended.
	ErrDuplicateKind = errors.New("secbuf: duplicate buffer kind")

	// ErrIndexOutOfRange is returned for an index past the end of the list.
	ErrIndexOutOfRange = errors.New("secbuf: index out of range")
)

// Kind identifies the role of a buffer. The values match the SSPI
// SECBUFFER_* constants so native bindings can pass them through.
type Kind uint32

const (
	// Token carries an authentication token (SECBUFFER_TOKEN).
	Token Kind = 2
	// ChannelBindings carries a packed SEC_CHANNEL_BINDINGS structure (SECBUFFER_CHANNEL_BINDINGS).
	ChannelBindings Kind = 14
)

func (k Kind) String() string {
	switch k {
	case Token:
		return "Token"
	case ChannelBindings:
		return "ChannelBindings"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Buffer is a single typed byte region.
// Length is the number of meaningful bytes in Data; a provider lowers it after
// writing an output token into a larger slot.
type Buffer struct {
	Kind   Kind
	Length uint32
	Data   []byte
}

// List is an ordered, fixed-capacity sequence of buffers.
type List struct {
	capacity int
	buffers  []Buffer
}

// New creates an empty list that holds at most capacity buffers.
func New(capacity int) *List {
	if capacity < 0 {
		capacity = 0
	}
	return &List{
		capacity: capacity,
		buffers:  make([]Buffer, 0, capacity),
	}
}

// Append adds a buffer of the given kind. The list keeps a reference to data;
// Length starts at len(data).
func (l *List) Append(kind Kind, data []byte) error {
	if len(l.buffers) >= l.capacity {
		return fmt.Errorf("%w: capacity %d", ErrCapacityExceeded, l.capacity)
	}
	for _, b := range l.buffers {
		if b.Kind == kind {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
		}
	}
	l.buffers = append(l.buffers, Buffer{
		Kind:   kind,
		Length: uint32(len(data)),
		Data:   data,
	})
	return nil
}

// Len returns the number of buffers in the list.
func (l *List) Len() int {
	return len(l.buffers)
}

// Cap returns the capacity given to New.
func (l *List) Cap() int {
	return l.capacity
}

// At returns the buffer at index for in-place access by a provider binding.
func (l *List) At(index int) (*Buffer, error) {
	if index < 0 || index >= len(l.buffers) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(l.buffers))
	}
	return &l.buffers[index], nil
}

// Find returns the first buffer of the given kind.
func (l *List) Find(kind Kind) (*Buffer, bool) {
	for i := range l.buffers {
		if l.buffers[i].Kind == kind {
			return &l.buffers[i], true
		}
	}
	return nil, false
}

// PrimaryTokenLength returns the length the provider reported for the buffer at index.
func (l *List) PrimaryTokenLength(index int) (uint32, error) {
	b, err := l.At(index)
	if err != nil {
		return 0, err
	}
	return b.Length, nil
}

// SetLength records how many bytes of the buffer at index hold data.
func (l *List) SetLength(index int, n uint32) error {
	b, err := l.At(index)
	if err != nil {
		return err
	}
	if int(n) > len(b.Data) {
		return fmt.Errorf("secbuf: length %d exceeds buffer size %d", n, len(b.Data))
	}
	b.Length = n
	return nil
}

// CopyOut returns a fresh copy of the first Length bytes of the buffer at index.
func (l *List) CopyOut(index int) ([]byte, error) {
	b, err := l.At(index)
	if err != nil {
		return nil, err
	}
	n := b.Length
	if int(n) > len(b.Data) {
		n = uint32(len(b.Data))
	}
	out := make([]byte, n)
	copy(out, b.Data[:n])
	return out, nil
}
