package plank_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/fetch"
	"github.com/christopherhwood/plank/location"
)

// node is a minimal schema model: a name plus named references to other
// documents.
type node struct {
	Loc  location.Location
	Name string
	Refs map[string]*node
}

func convertNode(ctx context.Context, doc plank.RawDocument, loc location.Location, into *node, resolve plank.ResolveFunc[node]) error {
	m, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("want object, got %T", doc)
	}
	into.Loc = loc
	into.Name, _ = m["name"].(string)
	into.Refs = map[string]*node{}
	refs, _ := m["refs"].(map[string]any)
	for k, v := range refs {
		ref, _ := v.(string)
		r, err := location.Resolve(loc, ref)
		if err != nil {
			return &plank.Error{Code: plank.CodeInvalidReference, Location: loc, Err: err}
		}
		n, err := resolve(ctx, r.Location)
		if err != nil {
			return err
		}
		into.Refs[k] = n
	}
	return nil
}

type countingFetcher struct {
	inner  fetch.Fetcher
	mu     sync.Mutex
	counts map[location.Location]int
}

func (c *countingFetcher) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = map[location.Location]int{}
	}
	c.counts[loc]++
	c.mu.Unlock()
	return c.inner.Fetch(ctx, loc)
}

func (c *countingFetcher) count(loc location.Location) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[loc]
}

const base = "https://example.com/schemas/"

func loc(name string) location.Location { return location.MustParse(base + name) }

func newLoader(t *testing.T, docs map[string]string, opts ...plank.Option) (*plank.Loader[node], *fetch.Memory, *countingFetcher) {
	t.Helper()
	full := make(map[string]string, len(docs))
	for k, v := range docs {
		full[base+k] = v
	}
	mem, err := fetch.NewMemory(full)
	require.NoError(t, err)
	cf := &countingFetcher{inner: mem}
	opts = append([]plank.Option{plank.WithFetcher(cf)}, opts...)
	return plank.New(convertNode, opts...), mem, cf
}

func TestResolveIdempotent(t *testing.T) {
	l, _, cf := newLoader(t, map[string]string{"a.json": `{"name":"a"}`})
	ctx := context.Background()

	first, err := l.Resolve(ctx, loc("a.json"))
	require.NoError(t, err)
	second, err := l.Resolve(ctx, location.MustParse("https://EXAMPLE.com:443/schemas/x/../a.json"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "a", first.Name)
	assert.Equal(t, 1, cf.count(loc("a.json")))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, plank.StateResolved, l.State(loc("a.json")))

	got, ok := l.Lookup(loc("a.json"))
	assert.True(t, ok)
	assert.Same(t, first, got)
}

func TestSharedReference(t *testing.T) {
	l, _, cf := newLoader(t, map[string]string{
		"a.json": `{"name":"a","refs":{"b":"b.json","c":"c.json"}}`,
		"b.json": `{"name":"b","refs":{"d":"d.json"}}`,
		"c.json": `{"name":"c","refs":{"d":"./d.json"}}`,
		"d.json": `{"name":"d"}`,
	})
	a, err := l.Resolve(context.Background(), loc("a.json"))
	require.NoError(t, err)

	assert.Same(t, a.Refs["b"].Refs["d"], a.Refs["c"].Refs["d"])
	assert.Equal(t, 1, cf.count(loc("d.json")))
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, []location.Location{loc("a.json"), loc("b.json"), loc("c.json"), loc("d.json")}, l.Locations())
}

func TestSelfCycle(t *testing.T) {
	l, _, cf := newLoader(t, map[string]string{
		"tree.json": `{"name":"tree","refs":{"child":"#/definitions/node","self":"tree.json"}}`,
	})
	tree, err := l.Resolve(context.Background(), loc("tree.json"))
	require.NoError(t, err)

	assert.Same(t, tree, tree.Refs["self"])
	assert.Same(t, tree, tree.Refs["child"])
	assert.Equal(t, 1, cf.count(loc("tree.json")))
}

func TestMutualCycle(t *testing.T) {
	l, _, _ := newLoader(t, map[string]string{
		"a.json": `{"name":"a","refs":{"b":"b.json"}}`,
		"b.json": `{"name":"b","refs":{"a":"a.json"}}`,
	})
	ctx := context.Background()
	a, err := l.Resolve(ctx, loc("a.json"))
	require.NoError(t, err)
	b, err := l.Resolve(ctx, loc("b.json"))
	require.NoError(t, err)

	assert.Same(t, b, a.Refs["b"])
	assert.Same(t, a, b.Refs["a"])
	assert.Equal(t, "b", a.Refs["b"].Name)
	assert.Equal(t, int64(2), l.Stats().Hits, "placeholder of a handed to b, then b from the cache")
}

func TestFailureRollsBackAndRetries(t *testing.T) {
	l, mem, cf := newLoader(t, map[string]string{
		"a.json": `{"name":"a","refs":{"b":"b.json","c":"c.json"}}`,
		"b.json": `{"name":"b",`,
		"c.json": `{"name":"c"}`,
	})
	ctx := context.Background()

	_, err := l.Resolve(ctx, loc("a.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, plank.ErrMalformedDocument)
	assert.Equal(t, plank.CodeMalformedDocument, plank.CodeOf(err))

	var pe *plank.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, loc("b.json"), pe.Location)
	iss, ok := plank.AsIssues(err)
	require.True(t, ok)
	assert.Equal(t, "parse_error", iss[0].Code)

	// nothing half built is observable
	assert.Equal(t, 0, l.Len())
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		_, ok := l.Lookup(loc(name))
		assert.False(t, ok, name)
	}
	assert.Equal(t, plank.StateFailed, l.State(loc("a.json")))
	assert.ErrorIs(t, l.LastError(loc("a.json")), plank.ErrMalformedDocument)

	require.NoError(t, mem.Set(base+"b.json", []byte(`{"name":"b"}`)))
	a, err := l.Resolve(ctx, loc("a.json"))
	require.NoError(t, err)
	assert.Equal(t, "b", a.Refs["b"].Name)
	assert.Equal(t, 2, cf.count(loc("a.json")), "retried after failure")
	assert.Equal(t, plank.StateResolved, l.State(loc("a.json")))
	assert.NoError(t, l.LastError(loc("a.json")))
	assert.Equal(t, int64(1), l.Stats().Rollbacks)
}

func TestCanonicalizationAcrossBases(t *testing.T) {
	l, _, cf := newLoader(t, map[string]string{
		"common/x.json": `{"name":"x"}`,
	})
	ctx := context.Background()

	fromNested, err := l.ResolveReference(ctx, loc("v1/user.json"), "../common/x.json#/definitions/id")
	require.NoError(t, err)
	fromRoot, err := l.ResolveReference(ctx, loc("user.json"), "./common/x.json")
	require.NoError(t, err)

	assert.Same(t, fromNested, fromRoot)
	assert.Equal(t, 1, cf.count(loc("common/x.json")))

	_, err = l.ResolveReference(ctx, loc("user.json"), "")
	assert.ErrorIs(t, err, plank.ErrInvalidReference)
}

func TestUserAddressScenario(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{
		"file:///schemas/user.json":    `{"name":"user","refs":{"address":"./address.json"}}`,
		"file:///schemas/address.json": `{"name":"address"}`,
	})
	require.NoError(t, err)
	cf := &countingFetcher{inner: mem}
	l := plank.New(convertNode, plank.WithFetcher(cf))
	ctx := context.Background()

	user, err := l.Resolve(ctx, location.MustParse("/schemas/user.json"))
	require.NoError(t, err)
	address := location.MustParse("file:///schemas/address.json")
	assert.Equal(t, 1, cf.count(address))
	assert.Equal(t, plank.StateResolved, l.State(address))

	direct, err := l.Resolve(ctx, address)
	require.NoError(t, err)
	assert.Same(t, user.Refs["address"], direct)
	assert.Equal(t, 1, cf.count(address))
}

func TestErrorCodes(t *testing.T) {
	l, _, _ := newLoader(t, map[string]string{
		"array.json":   `[1,2]`,
		"badref.json":  `{"refs":{"x":"https://exa mple.com/%zz"}}`,
		"missing.json": `{"refs":{"x":"nowhere.json"}}`,
	})
	ctx := context.Background()

	_, err := l.Resolve(ctx, loc("nowhere.json"))
	assert.ErrorIs(t, err, plank.ErrSourceUnavailable)
	assert.ErrorIs(t, err, fetch.ErrNotFound)

	_, err = l.Resolve(ctx, loc("missing.json"))
	assert.Equal(t, plank.CodeSourceUnavailable, plank.CodeOf(err))
	var pe *plank.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, loc("nowhere.json"), pe.Location, "innermost location is kept")

	_, err = l.Resolve(ctx, loc("array.json"))
	assert.ErrorIs(t, err, plank.ErrSchemaInvalid)

	_, err = l.Resolve(ctx, loc("badref.json"))
	assert.ErrorIs(t, err, plank.ErrInvalidReference)

	_, err = l.Resolve(ctx, location.Location(""))
	assert.ErrorIs(t, err, plank.ErrInvalidReference)
	assert.Equal(t, 0, l.Len())
}

func TestDocumentCheck(t *testing.T) {
	check := plank.DocumentCheckFunc(func(ctx context.Context, loc location.Location, doc plank.RawDocument) error {
		if _, ok := doc.(map[string]any)["forbidden"]; ok {
			return plank.Issues{{Path: "/forbidden", Code: "forbidden", Message: "not allowed"}}
		}
		return nil
	})
	l, _, _ := newLoader(t, map[string]string{
		"a.json": `{"refs":{"b":"b.json"}}`,
		"b.json": `{"forbidden":true}`,
	}, plank.WithDocumentCheck(check))

	_, err := l.Resolve(context.Background(), loc("a.json"))
	assert.ErrorIs(t, err, plank.ErrSchemaInvalid)
	iss, ok := plank.AsIssues(err)
	require.True(t, ok)
	assert.Equal(t, "/forbidden", iss[0].Path)
	assert.Equal(t, 0, l.Len())
}

func TestSwallowedNestedFailureStillFails(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{
		base + "a.json": `{"refs":{"b":"b.json"}}`,
	})
	require.NoError(t, err)
	lenient := func(ctx context.Context, doc plank.RawDocument, loc location.Location, into *node, resolve plank.ResolveFunc[node]) error {
		err := convertNode(ctx, doc, loc, into, resolve)
		_ = err // ignore broken references
		return nil
	}
	l := plank.New(lenient, plank.WithFetcher(mem))

	_, err = l.Resolve(context.Background(), loc("a.json"))
	assert.ErrorIs(t, err, plank.ErrSourceUnavailable)
	assert.Equal(t, 0, l.Len())
}

func TestResolveFuncAfterConversionFinished(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{
		base + "a.json": `{"name":"a"}`,
		base + "x.json": `{"name":"x"}`,
	})
	require.NoError(t, err)
	var (
		kept    plank.ResolveFunc[node]
		keptCtx context.Context
	)
	keep := func(ctx context.Context, doc plank.RawDocument, loc location.Location, into *node, resolve plank.ResolveFunc[node]) error {
		if kept == nil {
			kept, keptCtx = resolve, ctx
		}
		return convertNode(ctx, doc, loc, into, resolve)
	}
	l := plank.New(keep, plank.WithFetcher(mem))

	_, err = l.Resolve(context.Background(), loc("a.json"))
	require.NoError(t, err)

	_, err = kept(context.Background(), loc("x.json"))
	assert.ErrorIs(t, err, plank.ErrCanceled)
	assert.Equal(t, plank.StateUnresolved, l.State(loc("x.json")))

	// a context saved from a finished conversion starts a fresh resolution
	done := make(chan error, 1)
	go func() {
		_, err := l.Resolve(keptCtx, loc("x.json"))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return")
	}
	assert.Equal(t, plank.StateResolved, l.State(loc("x.json")))
}

func TestConverterCallingResolveJoinsResolution(t *testing.T) {
	docs := map[string]string{
		base + "a.json": `{"name":"a","refs":{"self":"a.json","b":"b.json"}}`,
		base + "b.json": `{"name":"b","refs":{"a":"a.json"}}`,
	}
	mem, err := fetch.NewMemory(docs)
	require.NoError(t, err)

	resolveWith := func(opts ...plank.Option) (*plank.Loader[node], *node, error) {
		var l *plank.Loader[node]
		direct := func(ctx context.Context, doc plank.RawDocument, loc location.Location, into *node, _ plank.ResolveFunc[node]) error {
			return convertNode(ctx, doc, loc, into, l.Resolve)
		}
		l = plank.New(direct, append([]plank.Option{plank.WithFetcher(mem)}, opts...)...)

		type result struct {
			n   *node
			err error
		}
		done := make(chan result, 1)
		go func() {
			n, err := l.Resolve(context.Background(), loc("a.json"))
			done <- result{n, err}
		}()
		select {
		case r := <-done:
			return l, r.n, r.err
		case <-time.After(5 * time.Second):
			t.Fatal("Resolve did not return")
			return nil, nil, nil
		}
	}

	l, a, err := resolveWith()
	require.NoError(t, err)
	assert.Same(t, a, a.Refs["self"])
	assert.Same(t, a, a.Refs["b"].Refs["a"])
	assert.Equal(t, 2, l.Len())

	l, _, err = resolveWith(plank.WithCyclePolicy(plank.RejectCycles))
	assert.ErrorIs(t, err, plank.ErrCyclicResolution)
	assert.Equal(t, 0, l.Len())
}

func TestRejectCycles(t *testing.T) {
	l, _, _ := newLoader(t, map[string]string{
		"a.json": `{"refs":{"b":"b.json"}}`,
		"b.json": `{"refs":{"a":"a.json"}}`,
		"c.json": `{"refs":{"d1":"d.json","d2":"d.json"}}`,
		"d.json": `{}`,
	}, plank.WithCyclePolicy(plank.RejectCycles))
	ctx := context.Background()

	_, err := l.Resolve(ctx, loc("a.json"))
	assert.ErrorIs(t, err, plank.ErrCyclicResolution)
	assert.Equal(t, 0, l.Len())

	// shared, acyclic references are fine
	c, err := l.Resolve(ctx, loc("c.json"))
	require.NoError(t, err)
	assert.Same(t, c.Refs["d1"], c.Refs["d2"])
}

func TestConcurrentCallersConvertOnce(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{base + "a.json": `{"name":"a"}`})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var fetches atomic.Int32
	gated := fetch.Func(func(ctx context.Context, l location.Location) ([]byte, error) {
		fetches.Add(1)
		once.Do(func() { close(started) })
		<-release
		return mem.Fetch(ctx, l)
	})
	var conversions atomic.Int32
	convert := func(ctx context.Context, doc plank.RawDocument, l location.Location, into *node, resolve plank.ResolveFunc[node]) error {
		conversions.Add(1)
		return convertNode(ctx, doc, l, into, resolve)
	}
	l := plank.New(convert, plank.WithFetcher(gated))

	const callers = 16
	results := make([]*node, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Resolve(context.Background(), loc("a.json"))
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, int32(1), conversions.Load())
}

func TestCrossSessionCycleDoesNotDeadlock(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{
		base + "a.json": `{"name":"a","refs":{"b":"b.json"}}`,
		base + "b.json": `{"name":"b","refs":{"a":"a.json"}}`,
	})
	require.NoError(t, err)

	// hold the first fetch of a and b until both have started, so each
	// resolution owns one side of the cycle before asking for the other
	var both sync.WaitGroup
	both.Add(2)
	var onceA, onceB sync.Once
	barrier := func() {
		both.Done()
		both.Wait()
	}
	f := fetch.Func(func(ctx context.Context, l location.Location) ([]byte, error) {
		switch l {
		case loc("a.json"):
			onceA.Do(barrier)
		case loc("b.json"):
			onceB.Do(barrier)
		}
		return mem.Fetch(ctx, l)
	})
	l := plank.New(convertNode, plank.WithFetcher(f))

	type result struct {
		n   *node
		err error
	}
	ra, rb := make(chan result, 1), make(chan result, 1)
	go func() {
		n, err := l.Resolve(context.Background(), loc("a.json"))
		ra <- result{n, err}
	}()
	go func() {
		n, err := l.Resolve(context.Background(), loc("b.json"))
		rb <- result{n, err}
	}()

	var a, b result
	for i := 0; i < 2; i++ {
		select {
		case a = <-ra:
		case b = <-rb:
		case <-time.After(5 * time.Second):
			t.Fatal("resolutions deadlocked")
		}
	}
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, b.n, a.n.Refs["b"])
	assert.Same(t, a.n, b.n.Refs["a"])
	assert.GreaterOrEqual(t, l.Stats().Rollbacks, int64(1), "one side gave way")
	assert.Equal(t, 2, l.Len())
}

func TestCancellationLeavesNoEntry(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{
		base + "a.json": `{"refs":{"b":"b.json"}}`,
		base + "b.json": `{}`,
	})
	require.NoError(t, err)
	blocked := make(chan struct{})
	f := fetch.Func(func(ctx context.Context, l location.Location) ([]byte, error) {
		if l == loc("b.json") {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return mem.Fetch(ctx, l)
	})
	l := plank.New(convertNode, plank.WithFetcher(f))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-blocked
		cancel()
	}()
	_, err = l.Resolve(ctx, loc("a.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, plank.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, plank.StateUnresolved, l.State(loc("a.json")))
	assert.Equal(t, plank.StateUnresolved, l.State(loc("b.json")))
	assert.Equal(t, 0, l.Len())
}

func TestCancellationWhileWaiting(t *testing.T) {
	mem, err := fetch.NewMemory(map[string]string{base + "a.json": `{"name":"a"}`})
	require.NoError(t, err)
	started := make(chan struct{})
	release := make(chan struct{})
	f := fetch.Func(func(ctx context.Context, l location.Location) ([]byte, error) {
		close(started)
		<-release
		return mem.Fetch(ctx, l)
	})
	l := plank.New(convertNode, plank.WithFetcher(f))

	owner := make(chan error, 1)
	go func() {
		_, err := l.Resolve(context.Background(), loc("a.json"))
		owner <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Resolve(ctx, loc("a.json"))
	assert.ErrorIs(t, err, plank.ErrCanceled)

	close(release)
	require.NoError(t, <-owner)
	_, ok := l.Lookup(loc("a.json"))
	assert.True(t, ok)
}

func TestResolveAll(t *testing.T) {
	l, _, cf := newLoader(t, map[string]string{
		"a.json": `{"name":"a","refs":{"s":"shared.json"}}`,
		"b.json": `{"name":"b","refs":{"s":"shared.json"}}`,
		"c.json": `{"name":"c","refs":{"s":"shared.json"}}`,
		"shared.json": `{"name":"shared"}`,
	}, plank.WithConcurrency(2))

	got, err := l.ResolveAll(context.Background(), loc("a.json"), loc("b.json"), loc("c.json"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "c", got[2].Name)
	assert.Same(t, got[0].Refs["s"], got[2].Refs["s"])
	assert.Equal(t, 1, cf.count(loc("shared.json")))

	_, err = l.ResolveAll(context.Background(), loc("a.json"), loc("nope.json"))
	assert.ErrorIs(t, err, plank.ErrSourceUnavailable)
}

func TestYAMLDocuments(t *testing.T) {
	l, _, _ := newLoader(t, map[string]string{
		"a.yaml": "name: a\nrefs:\n  b: b.json\n",
		"b.json": `{"name":"b"}`,
	})
	a, err := l.Resolve(context.Background(), loc("a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "b", a.Refs["b"].Name)
}
