package provider

import (
	"fmt"
	"sync"
)

// handleTable maps Handles to binding-specific state. Ids come from a
// monotonically increasing counter and are never reissued.
type handleTable[T any] struct {
	mu      sync.Mutex
	last    Handle
	entries map[Handle]*T
}

func (t *handleTable[T]) add(v *T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[Handle]*T)
	}
	t.last++
	t.entries[t.last] = v
	return t.last
}

func (t *handleTable[T]) get(op string, h Handle) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[h]
	if !ok {
		return nil, &ProviderError{Op: op, Code: CodeInvalidHandle, Err: fmt.Errorf("unknown handle %d", h)}
	}
	return v, nil
}

func (t *handleTable[T]) remove(op string, h Handle) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[h]
	if !ok {
		return nil, &ProviderError{Op: op, Code: CodeInvalidHandle, Err: fmt.Errorf("unknown handle %d", h)}
	}
	delete(t.entries, h)
	return v, nil
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
