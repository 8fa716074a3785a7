// Package urls maps stored filenames to externally visible URLs. The same
// physical storage can be served from multiple public mirror domains; callers
// pick one through a selector code or override the base URL outright.
package urls

import "strings"

// Resolver computes display and canonical URLs for stored files.
type Resolver struct {
	baseURL string            // canonical prefix, ends with "/"
	aliases map[string]string // selector → mirror base URL, no trailing slash
}

// NewResolver creates a resolver. baseURL gets a trailing slash if missing;
// alias values are normalized to no trailing slash.
func NewResolver(baseURL string, aliases map[string]string) *Resolver {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	normalized := make(map[string]string, len(aliases))
	for k, v := range aliases {
		normalized[k] = strings.TrimRight(v, "/")
	}
	return &Resolver{baseURL: baseURL, aliases: normalized}
}

// Resolve returns the display URL and the canonical URL for a filename.
// The canonical URL is always the default base plus the filename. The display
// URL is chosen by priority: a caller-supplied custom base overrides
// everything, then a recognized selector alias (mirror base + "/i/"), then
// the canonical URL.
func (r *Resolver) Resolve(filename, selector, customBase string) (display, canonical string) {
	canonical = r.baseURL + filename

	switch {
	case customBase != "":
		display = strings.TrimRight(customBase, "/") + "/" + filename
	case r.aliases[selector] != "":
		display = r.aliases[selector] + "/i/" + filename
	default:
		display = canonical
	}
	return display, canonical
}

// Canonical returns only the canonical URL for a filename.
func (r *Resolver) Canonical(filename string) string {
	return r.baseURL + filename
}
