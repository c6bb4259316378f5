package routetable

import (
	"strings"
	"time"
)

// PrefixTable routes /<prefix>/<rest> to <base>/<rest> for a fixed set of
// prefixes. It never changes after construction.
type PrefixTable struct {
	bases     map[string]string
	createdAt time.Time
}

func NewPrefixTable(routes map[string]string) *PrefixTable {
	bases := make(map[string]string, len(routes))
	for prefix, base := range routes {
		bases[NormalizePath(prefix)] = base
	}
	return &PrefixTable{bases: bases, createdAt: time.Now()}
}

// Lookup accepts any method. A bare prefix with nothing after it does not
// match.
func (p *PrefixTable) Lookup(method, path string) (Entry, bool) {
	norm := NormalizePath(path)
	prefix, rest, found := strings.Cut(norm, "/")
	if !found || rest == "" {
		return Entry{}, false
	}
	base, ok := p.bases[prefix]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Key:           NewKey(method, norm),
		TargetBaseURL: base,
		TargetPath:    rest,
		Backend:       prefix,
		RefreshedAt:   p.createdAt,
	}, true
}

func (p *PrefixTable) Len() int {
	return len(p.bases)
}
