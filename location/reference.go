package location

import (
	"net/url"
	"strings"
)

// Reference is the target of a reference string: the document it names and
// the fragment inside that document. Fragment is percent-decoded; it is a
// JSON Pointer when it is empty or starts with "/", and an anchor name
// otherwise.
type Reference struct {
	Location Location
	Fragment string
}

// IsPointer reports whether the fragment is a JSON Pointer.
func (r Reference) IsPointer() bool {
	return r.Fragment == "" || strings.HasPrefix(r.Fragment, "/")
}

// Anchor returns the plain-name fragment, or "" when the fragment is a
// pointer.
func (r Reference) Anchor() string {
	if r.IsPointer() {
		return ""
	}
	return r.Fragment
}

func (r Reference) String() string {
	if r.Fragment == "" {
		return string(r.Location)
	}
	u := r.Location.URL()
	if u == nil {
		return string(r.Location) + "#" + r.Fragment
	}
	u.Fragment = r.Fragment
	return u.String()
}

// Resolve resolves ref, found in the document at base, to the document it
// points to (RFC 3986 section 5). A fragment-only reference resolves to base
// itself. The returned location is canonical.
func Resolve(base Location, ref string) (Reference, error) {
	if err := checkRef(ref); err != nil {
		return Reference{}, err
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return Reference{}, invalidf(ref, "%v", err)
	}
	if err := checkFragment(ref, ru.Fragment); err != nil {
		return Reference{}, err
	}

	if base == "" {
		if ru.IsAbs() {
			loc, err := canonical(ref, ru)
			if err != nil {
				return Reference{}, err
			}
			return Reference{Location: loc, Fragment: ru.Fragment}, nil
		}
		return Reference{}, invalidf(ref, "relative reference without a base location")
	}

	bu, err := url.Parse(string(base))
	if err != nil || !bu.IsAbs() {
		return Reference{}, invalidf(string(base), "base location is not an absolute URL")
	}
	if bu.Opaque != "" && !ru.IsAbs() && (ru.Path != "" || ru.Opaque != "") {
		return Reference{}, invalidf(ref, "cannot resolve a relative path against %s", base)
	}

	target := bu.ResolveReference(ru)
	loc, err := canonical(ref, target)
	if err != nil {
		return Reference{}, err
	}
	return Reference{Location: loc, Fragment: ru.Fragment}, nil
}

func checkFragment(ref, frag string) error {
	if !strings.HasPrefix(frag, "/") {
		return nil
	}
	if _, err := SplitPointer(frag); err != nil {
		return invalidf(ref, "%v", err)
	}
	return nil
}
