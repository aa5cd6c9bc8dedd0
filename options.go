package plank

import (
	"context"
	"log/slog"

	"github.com/christopherhwood/plank/decode"
	"github.com/christopherhwood/plank/fetch"
	"github.com/christopherhwood/plank/location"
)

// RawDocument is a decoded document: map[string]any, []any, json.Number,
// string, bool or nil.
type RawDocument = any

// ResolveFunc resolves the document at loc within the current resolution.
type ResolveFunc[S any] func(ctx context.Context, loc location.Location) (*S, error)

// ConvertFunc builds the schema for doc into the pre-allocated into.
//
// into is the value every reference to loc shares. resolve must be used for
// documents the converter depends on; while loc is being converted, resolve
// may hand back pointers to schemas that are still under construction
// (including into itself), which must be stored but not read. resolve must
// not be called from other goroutines, nor after the converter returns.
// Calling Loader.Resolve with ctx joins the same resolution, as resolve does.
type ConvertFunc[S any] func(ctx context.Context, doc RawDocument, loc location.Location, into *S, resolve ResolveFunc[S]) error

// DocumentCheck validates a decoded document before conversion.
type DocumentCheck interface {
	Check(ctx context.Context, loc location.Location, doc RawDocument) error
}

// DocumentCheckFunc adapts a function to DocumentCheck.
type DocumentCheckFunc func(ctx context.Context, loc location.Location, doc RawDocument) error

func (f DocumentCheckFunc) Check(ctx context.Context, loc location.Location, doc RawDocument) error {
	return f(ctx, loc, doc)
}

// DecoderFor picks the decoder for a location.
type DecoderFor interface {
	For(ext string) decode.Decoder
}

// CyclePolicy controls re-entrant requests for a document that is still
// being converted.
type CyclePolicy int

const (
	// AllowCycles hands out the placeholder of the document under
	// construction.
	AllowCycles CyclePolicy = iota
	// RejectCycles fails the resolution with CodeCyclicResolution.
	RejectCycles
)

type options struct {
	fetcher     fetch.Fetcher
	decoders    DecoderFor
	check       DocumentCheck
	logger      *slog.Logger
	cycles      CyclePolicy
	concurrency int
}

// Option configures a Loader.
type Option func(*options)

// WithFetcher sets the document source. Defaults to fetch.Default().
func WithFetcher(f fetch.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithDecoder sets a single decoder for every document.
func WithDecoder(d decode.Decoder) Option {
	return func(o *options) { o.decoders = decode.NewRegistry(d) }
}

// WithDecoders selects decoders by file extension. Defaults to
// decode.Default with no limits.
func WithDecoders(r DecoderFor) Option { return func(o *options) { o.decoders = r } }

// WithDocumentCheck runs c on every decoded document before conversion.
func WithDocumentCheck(c DocumentCheck) Option { return func(o *options) { o.check = c } }

// WithLogger sets the logger. Without it the logger stored in the context
// (slog-context) is used.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithCyclePolicy sets how re-entrant requests are answered.
func WithCyclePolicy(p CyclePolicy) Option { return func(o *options) { o.cycles = p } }

// WithConcurrency bounds the number of top-level resolutions ResolveAll runs
// at once (<= 0 means unbounded).
func WithConcurrency(n int) Option { return func(o *options) { o.concurrency = n } }

func defaultOptions() options {
	return options{
		fetcher:     fetch.Default(),
		decoders:    decode.Default(decode.Options{}),
		concurrency: 8,
	}
}
