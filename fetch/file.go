package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/christopherhwood/plank/location"
)

// File reads file:// locations from the local filesystem.
type File struct {
	// MaxBytes limits document size (0 = unlimited).
	MaxBytes int64
}

func (f *File) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	if !loc.IsFile() {
		return nil, fmt.Errorf("%w %q: file fetcher", ErrUnsupportedScheme, loc.Scheme())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := loc.Path()
	slogcontext.FromCtx(ctx).DebugContext(ctx, "reading schema file", "path", p)

	fh, err := os.Open(p)
	if err != nil {
		return nil, notFound(loc, err)
	}
	defer fh.Close()
	data, err := readLimited(fh, f.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// FS serves file:// locations below Root from an fs.FS, for example an
// embed.FS of bundled schemas or fstest.MapFS in tests. The location
// file:///<Root>/a/b.json maps to the FS path "a/b.json".
type FS struct {
	FS   fs.FS
	Root string
}

func (f *FS) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	if !loc.IsFile() {
		return nil, fmt.Errorf("%w %q: fs fetcher", ErrUnsupportedScheme, loc.Scheme())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := loc.URL()
	if u == nil {
		return nil, fmt.Errorf("%w: %s", location.ErrInvalidReference, loc)
	}
	root := "/" + strings.Trim(path.Clean("/"+f.Root), "/")
	rel := strings.TrimPrefix(u.Path, root)
	if root != "/" && (rel == u.Path || !strings.HasPrefix(rel, "/")) {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrNotFound, loc, root)
	}
	rel = strings.TrimPrefix(rel, "/")
	data, err := fs.ReadFile(f.FS, rel)
	if err != nil {
		return nil, notFound(loc, err)
	}
	return data, nil
}

// Memory serves documents from a map. It is safe for concurrent use and its
// content may be replaced between resolutions.
type Memory struct {
	mu   sync.RWMutex
	docs map[location.Location][]byte
}

// NewMemory returns a Memory fetcher with the given documents. Keys are
// canonicalized.
func NewMemory(docs map[string]string) (*Memory, error) {
	m := &Memory{docs: make(map[location.Location][]byte, len(docs))}
	for k, v := range docs {
		if err := m.Set(k, []byte(v)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Set stores (or replaces) the document at ref.
func (m *Memory) Set(ref string, data []byte) error {
	loc, err := location.Parse(ref)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[location.Location][]byte{}
	}
	m.docs[loc] = data
	return nil
}

func (m *Memory) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[loc]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return append([]byte(nil), data...), nil
}

func notFound(loc location.Location, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, loc, err)
	}
	return fmt.Errorf("reading %s: %w", loc, err)
}
