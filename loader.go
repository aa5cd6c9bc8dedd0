package plank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/christopherhwood/plank/location"
)

// State of a location in the loader's cache.
type State int

const (
	StateUnresolved State = iota
	// StateInProgress: inserted, conversion not finished.
	StateInProgress
	// StateConverted: converted, waiting for the rest of its resolution to
	// commit. Only visible to the resolution that owns it.
	StateConverted
	StateResolved
	// StateFailed: the last attempt failed and was rolled back. The next
	// Resolve retries.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateInProgress:
		return "in_progress"
	case StateConverted:
		return "converted"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats are cumulative loader counters.
type Stats struct {
	Hits        int64 // requests answered from the cache or a placeholder
	Fetches     int64 // fetcher calls
	Conversions int64 // successful conversions, including rolled back ones
	Rollbacks   int64 // resolutions that were rolled back (failure, cancellation or yield)
}

type entry[S any] struct {
	value *S
	state State
	owner *session // nil once resolved
}

// session is one top-level Resolve. Its fields other than id and done are
// guarded by Loader.mu.
type session struct {
	id        string
	done      chan struct{}
	locs      []location.Location // entries created, in creation order
	waitingOn *session
	yieldTo   *session
	err       error
	finished  bool // committed or rolled back
}

func newSession() *session {
	return &session{id: uuid.NewString(), done: make(chan struct{})}
}

// errYield unwinds a session that gave way to another one.
var errYield = errors.New("resolution yielded to a concurrent resolution")

var errSessionFinished = errors.New("resolve called after its resolution finished")

// activeKey carries the session of a running conversion in its context.
type activeKey struct{ loader any }

// Loader resolves and caches schemas of type S. It is safe for concurrent
// use.
type Loader[S any] struct {
	convert ConvertFunc[S]
	opts    options

	mu       sync.Mutex
	entries  map[location.Location]*entry[S]
	failures map[location.Location]error

	hits, fetches, conversions, rollbacks atomic.Int64
}

// New returns a loader using convert to build schemas.
func New[S any](convert ConvertFunc[S], opts ...Option) *Loader[S] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[S]{
		convert:  convert,
		opts:     o,
		entries:  map[location.Location]*entry[S]{},
		failures: map[location.Location]error{},
	}
}

func (l *Loader[S]) logger(ctx context.Context) *slog.Logger {
	if l.opts.logger != nil {
		return l.opts.logger
	}
	return slogcontext.FromCtx(ctx)
}

// logOperation logs the start and the outcome of an operation with timing.
func (l *Loader[S]) logOperation(ctx context.Context, operation string, fields ...slog.Attr) func(error) {
	start := time.Now()
	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("operation", operation))
	for _, field := range fields {
		attrs = append(attrs, field)
	}
	logger := l.logger(ctx).With(attrs...)
	logger.Log(ctx, slog.LevelDebug, "starting operation")
	return func(err error) {
		switch {
		case errors.Is(err, errYield):
			logger.Log(ctx, slog.LevelDebug, "operation yielded", slog.Duration("duration", time.Since(start)))
		case err != nil:
			logger.Log(ctx, slog.LevelWarn, "operation failed", slog.Duration("duration", time.Since(start)), slog.String("error", err.Error()))
		default:
			logger.Log(ctx, slog.LevelDebug, "operation completed", slog.Duration("duration", time.Since(start)))
		}
	}
}

// Resolve returns the schema for loc, loading it and everything it
// references on first use.
func (l *Loader[S]) Resolve(ctx context.Context, loc location.Location) (*S, error) {
	canon, err := location.Canonicalize(loc)
	if err != nil {
		return nil, newError(CodeInvalidReference, loc, err)
	}

	l.mu.Lock()
	if e, ok := l.entries[canon]; ok && e.state == StateResolved {
		l.mu.Unlock()
		l.hits.Add(1)
		return e.value, nil
	}
	l.mu.Unlock()

	// called from inside a conversion of this loader: join its session
	if s, ok := ctx.Value(activeKey{l}).(*session); ok {
		l.mu.Lock()
		active := !s.finished
		l.mu.Unlock()
		if active {
			return l.resolveIn(ctx, s, canon)
		}
	}

	for {
		s := newSession()
		v, err := l.run(ctx, s, canon)
		if !errors.Is(err, errYield) {
			return v, err
		}
		// let the session we gave way to finish, then start over
		select {
		case <-s.yieldTo.done:
		case <-ctx.Done():
			return nil, newError(CodeCanceled, canon, ctx.Err())
		}
	}
}

// ResolveReference resolves ref relative to the document at base. The
// fragment of ref is ignored; documents are cached whole.
func (l *Loader[S]) ResolveReference(ctx context.Context, base location.Location, ref string) (*S, error) {
	r, err := location.Resolve(base, ref)
	if err != nil {
		return nil, newError(CodeInvalidReference, base, err)
	}
	return l.Resolve(ctx, r.Location)
}

// ResolveAll resolves locs concurrently. Results are in input order. The
// first failure cancels the remaining resolutions and is returned.
func (l *Loader[S]) ResolveAll(ctx context.Context, locs ...location.Location) ([]*S, error) {
	out := make([]*S, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	if l.opts.concurrency > 0 {
		g.SetLimit(l.opts.concurrency)
	}
	for i, loc := range locs {
		g.Go(func() error {
			v, err := l.Resolve(gctx, loc)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup returns the cached schema for loc without any I/O. Only fully
// resolved schemas are returned.
func (l *Loader[S]) Lookup(loc location.Location) (*S, bool) {
	canon, err := location.Canonicalize(loc)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[canon]
	if !ok || e.state != StateResolved {
		return nil, false
	}
	return e.value, true
}

// State reports the cache state of loc.
func (l *Loader[S]) State(loc location.Location) State {
	canon, err := location.Canonicalize(loc)
	if err != nil {
		return StateUnresolved
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[canon]; ok {
		return e.state
	}
	if _, ok := l.failures[canon]; ok {
		return StateFailed
	}
	return StateUnresolved
}

// LastError returns the error of the last failed resolution of loc, if loc
// is in StateFailed.
func (l *Loader[S]) LastError(loc location.Location) error {
	canon, err := location.Canonicalize(loc)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[canon]
}

// Len returns the number of resolved schemas.
func (l *Loader[S]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.state == StateResolved {
			n++
		}
	}
	return n
}

// Locations returns the resolved locations in sorted order.
func (l *Loader[S]) Locations() []location.Location {
	l.mu.Lock()
	out := make([]location.Location, 0, len(l.entries))
	for loc, e := range l.entries {
		if e.state == StateResolved {
			out = append(out, loc)
		}
	}
	l.mu.Unlock()
	slices.Sort(out)
	return out
}

// Stats returns a snapshot of the loader counters.
func (l *Loader[S]) Stats() Stats {
	return Stats{
		Hits:        l.hits.Load(),
		Fetches:     l.fetches.Load(),
		Conversions: l.conversions.Load(),
		Rollbacks:   l.rollbacks.Load(),
	}
}

// run executes one session rooted at loc and commits or rolls it back.
func (l *Loader[S]) run(ctx context.Context, s *session, loc location.Location) (v *S, err error) {
	done := l.logOperation(ctx, "resolve", slog.String("location", loc.String()), slog.String("session", s.id))
	defer func() { done(err) }()

	v, err = l.resolveIn(ctx, s, loc)

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(s.done)
	s.finished = true

	switch {
	case s.yieldTo != nil:
		err = errYield
	case err == nil && s.err != nil:
		// a nested failure the converter did not report
		err = s.err
	}
	if err != nil {
		l.rollbackLocked(s, err)
		return nil, err
	}
	for _, c := range s.locs {
		e := l.entries[c]
		e.state = StateResolved
		e.owner = nil
		delete(l.failures, c)
	}
	return v, nil
}

func (l *Loader[S]) rollbackLocked(s *session, err error) {
	l.rollbacks.Add(1)
	record := !errors.Is(err, errYield) && CodeOf(err) != CodeCanceled
	for _, c := range s.locs {
		if e, ok := l.entries[c]; ok && e.owner == s {
			delete(l.entries, c)
		}
		if record {
			l.failures[c] = err
		}
	}
	s.locs = nil
}

// bind returns the ResolveFunc handed to converters running in s.
func (l *Loader[S]) bind(s *session) ResolveFunc[S] {
	return func(ctx context.Context, loc location.Location) (*S, error) {
		canon, err := location.Canonicalize(loc)
		if err != nil {
			err = newError(CodeInvalidReference, loc, err)
			l.fail(s, err)
			return nil, err
		}
		return l.resolveIn(ctx, s, canon)
	}
}

// fail records the first failure of s.
func (l *Loader[S]) fail(s *session, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// resolveIn resolves a canonical location on behalf of s.
func (l *Loader[S]) resolveIn(ctx context.Context, s *session, loc location.Location) (*S, error) {
	for {
		l.mu.Lock()
		if s.finished {
			l.mu.Unlock()
			return nil, newError(CodeCanceled, loc, errSessionFinished)
		}
		if s.yieldTo != nil {
			l.mu.Unlock()
			return nil, errYield
		}
		if s.err != nil {
			err := s.err
			l.mu.Unlock()
			return nil, err
		}

		e, ok := l.entries[loc]
		switch {
		case !ok:
			e = &entry[S]{value: new(S), state: StateInProgress, owner: s}
			l.entries[loc] = e
			s.locs = append(s.locs, loc)
			l.mu.Unlock()
			v, err := l.build(ctx, s, loc, e)
			if err != nil && !errors.Is(err, errYield) {
				l.fail(s, err)
			}
			return v, err

		case e.state == StateResolved:
			l.mu.Unlock()
			l.hits.Add(1)
			return e.value, nil

		case e.owner == s:
			if e.state == StateInProgress && l.opts.cycles == RejectCycles {
				err := newError(CodeCyclicResolution, loc, fmt.Errorf("%s references itself while being converted", loc))
				if s.err == nil {
					s.err = err
				}
				l.mu.Unlock()
				return nil, err
			}
			l.mu.Unlock()
			l.hits.Add(1)
			return e.value, nil

		case e.owner == nil || e.owner.finished:
			// left behind by a finished resolution
			delete(l.entries, loc)
			l.mu.Unlock()

		default:
			other := e.owner
			if waitsOn(other, s) {
				// other is blocked on us: give way instead of deadlocking
				s.yieldTo = other
				l.mu.Unlock()
				l.logger(ctx).DebugContext(ctx, "yielding to concurrent resolution",
					"session", s.id, "other", other.id, "location", loc.String())
				return nil, errYield
			}
			s.waitingOn = other
			l.mu.Unlock()

			select {
			case <-other.done:
			case <-ctx.Done():
			}

			l.mu.Lock()
			s.waitingOn = nil
			l.mu.Unlock()
			if ctx.Err() != nil {
				err := newError(CodeCanceled, loc, ctx.Err())
				l.fail(s, err)
				return nil, err
			}
		}
	}
}

// waitsOn reports whether from transitively waits for target. Callers hold
// Loader.mu.
func waitsOn(from, target *session) bool {
	for cur := from; cur != nil; cur = cur.waitingOn {
		if cur == target {
			return true
		}
	}
	return false
}

// build fetches, decodes, checks and converts the document at loc into the
// placeholder of e.
func (l *Loader[S]) build(ctx context.Context, s *session, loc location.Location, e *entry[S]) (*S, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(CodeCanceled, loc, err)
	}

	l.fetches.Add(1)
	data, err := l.opts.fetcher.Fetch(ctx, loc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(CodeCanceled, loc, err)
		}
		return nil, newError(CodeSourceUnavailable, loc, err)
	}

	doc, err := l.opts.decoders.For(loc.Ext()).Decode(data)
	if err != nil {
		return nil, newError(CodeMalformedDocument, loc, decodeIssues(err))
	}

	if l.opts.check != nil {
		if err := l.opts.check.Check(ctx, loc, doc); err != nil {
			return nil, classify(CodeSchemaInvalid, loc, err)
		}
	}

	cctx := context.WithValue(ctx, activeKey{l}, s)
	if err := l.convert(cctx, doc, loc, e.value, l.bind(s)); err != nil {
		if errors.Is(err, errYield) {
			return nil, errYield
		}
		return nil, classify(CodeSchemaInvalid, loc, err)
	}
	l.conversions.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if s.yieldTo != nil {
		return nil, errYield
	}
	if s.err != nil {
		return nil, s.err
	}
	e.state = StateConverted
	return e.value, nil
}

// classify keeps errors that already carry a code and wraps the rest.
func classify(code Code, loc location.Location, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeCanceled, loc, err)
	}
	return newError(code, loc, err)
}
