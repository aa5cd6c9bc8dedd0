package decode

import "strings"

// Registry selects a decoder by file extension.
type Registry struct {
	byExt    map[string]Decoder
	fallback Decoder
}

// NewRegistry returns a registry that uses fallback for unknown extensions.
func NewRegistry(fallback Decoder) *Registry {
	return &Registry{byExt: map[string]Decoder{}, fallback: fallback}
}

// Default returns a registry decoding .yaml and .yml as YAML and everything
// else as JSON.
func Default(opt Options) *Registry {
	r := NewRegistry(JSON(opt))
	y := YAML(opt)
	r.Register(".yaml", y)
	r.Register(".yml", y)
	return r
}

// Register maps an extension (with or without the leading dot) to d.
func (r *Registry) Register(ext string, d Decoder) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.byExt[strings.ToLower(ext)] = d
}

// For returns the decoder for an extension as reported by
// location.Location.Ext.
func (r *Registry) For(ext string) Decoder {
	if d, ok := r.byExt[strings.ToLower(ext)]; ok {
		return d
	}
	return r.fallback
}
