// Package fetch retrieves the raw bytes of schema documents.
//
// A Fetcher must honour context cancellation and must bound its own I/O
// (the HTTP fetcher has a client timeout, the others read local data or
// inherit the context deadline). Errors for documents that do not exist
// wrap ErrNotFound.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/christopherhwood/plank/location"
)

var (
	// ErrNotFound reports a document that does not exist at its location.
	ErrNotFound = errors.New("document not found")
	// ErrUnsupportedScheme reports a location no registered fetcher handles.
	ErrUnsupportedScheme = errors.New("unsupported location scheme")
	// ErrTooLarge reports a document exceeding the configured size limit.
	ErrTooLarge = errors.New("document too large")
)

// Fetcher retrieves the bytes of one document.
type Fetcher interface {
	Fetch(ctx context.Context, loc location.Location) ([]byte, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, loc location.Location) ([]byte, error)

func (f Func) Fetch(ctx context.Context, loc location.Location) ([]byte, error) { return f(ctx, loc) }

// Mux dispatches by location scheme.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Fetcher
}

// NewMux returns an empty mux.
func NewMux() *Mux { return &Mux{handlers: map[string]Fetcher{}} }

// Default returns a mux serving file, http and https locations.
func Default() *Mux {
	m := NewMux()
	m.Handle("file", &File{})
	h := NewHTTP(DefaultHTTPConfig())
	m.Handle("http", h)
	m.Handle("https", h)
	return m
}

// Handle registers f for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[scheme] = f
}

func (m *Mux) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	m.mu.RLock()
	f, ok := m.handlers[loc.Scheme()]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (%s)", ErrUnsupportedScheme, loc.Scheme(), loc)
	}
	return f.Fetch(ctx, loc)
}

// readLimited reads r fully, failing with ErrTooLarge when more than max
// bytes are available (max <= 0 disables the limit).
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
