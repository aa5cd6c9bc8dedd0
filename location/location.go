// Package location canonicalizes schema document locations and resolves
// references found inside documents against the location of the document
// that contains them.
//
// A Location is always an absolute URL without a fragment. Filesystem paths
// become file URLs, so a path and a file URL naming the same document compare
// equal:
//
//	a, _ := location.Parse("/schemas/./user.json")
//	b, _ := location.Parse("file:///schemas/user.json")
//	a == b // true
package location

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidReference is returned (wrapped) whenever a reference string
// cannot be turned into a Location.
var ErrInvalidReference = errors.New("invalid reference")

// Location identifies one schema document. The zero value is not a valid
// location.
type Location string

// String returns the canonical URL form.
func (l Location) String() string { return string(l) }

// URL parses the location. It returns nil for locations that were not built
// by this package and do not parse.
func (l Location) URL() *url.URL {
	u, err := url.Parse(string(l))
	if err != nil {
		return nil
	}
	return u
}

// Scheme returns the lower-case URL scheme ("file", "https", ...).
func (l Location) Scheme() string {
	s := string(l)
	if i := strings.IndexByte(s, ':'); i > 0 {
		return strings.ToLower(s[:i])
	}
	return ""
}

// IsFile reports whether the location names a local file.
func (l Location) IsFile() bool { return l.Scheme() == "file" }

// Path returns the filesystem path for file locations and the URL path for
// every other scheme.
func (l Location) Path() string {
	u := l.URL()
	if u == nil {
		return ""
	}
	if u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return u.Path
}

// Ext returns the lower-case extension of the last path segment, including
// the dot.
func (l Location) Ext() string {
	u := l.URL()
	if u == nil {
		return ""
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return strings.ToLower(path.Ext(p))
}

// Parse canonicalizes an absolute reference: either a URL with a scheme or a
// filesystem path. Relative paths are made absolute against the working
// directory.
func Parse(ref string) (Location, error) {
	if err := checkRef(ref); err != nil {
		return "", err
	}
	if !hasScheme(ref) {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return "", invalidf(ref, "%v", err)
		}
		return fromPath(abs), nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", invalidf(ref, "%v", err)
	}
	return canonical(ref, u)
}

// MustParse is like Parse but panics on error. It is meant for tests and
// package level variables.
func MustParse(ref string) Location {
	l, err := Parse(ref)
	if err != nil {
		panic(err)
	}
	return l
}

// FromPath builds a file location from a filesystem path.
func FromPath(p string) (Location, error) {
	if err := checkRef(p); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", invalidf(p, "%v", err)
	}
	return fromPath(abs), nil
}

// Canonicalize re-applies normalization to l. It is idempotent, so it is
// safe to call on locations that are already canonical.
func Canonicalize(l Location) (Location, error) {
	s := string(l)
	if err := checkRef(s); err != nil {
		return "", err
	}
	if !hasScheme(s) {
		return Parse(s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", invalidf(s, "%v", err)
	}
	return canonical(s, u)
}

func fromPath(abs string) Location {
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		// volume names such as C:/x
		p = "/" + p
	}
	u := &url.URL{Scheme: "file", Path: path.Clean(p)}
	return Location(u.String())
}

func canonical(ref string, u *url.URL) (Location, error) {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Fragment, c.RawFragment = "", ""
	if c.Scheme == "" {
		return "", invalidf(ref, "missing scheme")
	}
	if c.Opaque != "" {
		if c.Scheme == "file" {
			return "", invalidf(ref, "file URL must have an absolute path")
		}
		return Location(c.String()), nil
	}

	c.Host = strings.ToLower(c.Host)
	switch c.Scheme {
	case "file":
		if c.Host != "" && c.Host != "localhost" {
			return "", invalidf(ref, "file URL with non-local host %q", c.Host)
		}
		c.Host = ""
		if !strings.HasPrefix(c.Path, "/") {
			return "", invalidf(ref, "file URL must have an absolute path")
		}
	case "http":
		c.Host = stripPort(c, "80")
	case "https":
		c.Host = stripPort(c, "443")
	}
	if c.Path == "" && c.Host != "" {
		c.Path = "/"
	}
	c.Path = cleanPath(c.Path)
	c.RawPath = ""
	return Location(c.String()), nil
}

func stripPort(u url.URL, def string) string {
	if u.Port() != def {
		return u.Host
	}
	h := u.Hostname()
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}

func cleanPath(p string) string {
	if p == "" {
		return p
	}
	trailing := strings.HasSuffix(p, "/")
	c := path.Clean(p)
	if trailing && c != "/" {
		c += "/"
	}
	return c
}

// hasScheme reports whether s starts with an RFC 3986 scheme. Single letter
// schemes are treated as Windows drive letters.
func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return false
			}
		case c == ':':
			return i > 1
		default:
			return false
		}
	}
	return false
}

func checkRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}
	for _, r := range ref {
		if r < 0x20 || r == 0x7f {
			return invalidf(ref, "control character in reference")
		}
	}
	return nil
}

func invalidf(ref, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidReference, ref, fmt.Sprintf(format, args...))
}
