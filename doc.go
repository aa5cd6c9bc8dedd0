// Package plank resolves schema documents identified by a location into an
// in-memory typed representation, exactly once per location, even when the
// documents reference each other in cycles.
//
// The engine is generic over the schema type. A ConvertFunc turns a decoded
// document into the schema value and calls back into the loader for every
// external reference it meets:
//
//	l := plank.New(convert, plank.WithFetcher(fetch.Default()))
//	s, err := l.Resolve(ctx, location.MustParse("./schemas/user.json"))
//
// Resolution of one top-level location is atomic: either every document it
// pulled in is cached, or none is and the next call retries. Concurrent
// callers asking for a location that another call is building wait for it.
//
// The jsonschema package provides a ready made JSON Schema model and
// converter.
package plank
