package routetable

import (
	"strings"
	"time"
)

// Key identifies a route. Build it with NewKey so the method is upper-case
// and the path carries no leading or trailing slashes.
type Key struct {
	Method string
	Path   string
}

func NewKey(method, path string) Key {
	return Key{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   NormalizePath(path),
	}
}

func (k Key) String() string {
	return k.Method + " /" + k.Path
}

// NormalizePath strips leading and trailing slashes.
func NormalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// Entry is a resolved route.
type Entry struct {
	Key           Key
	TargetBaseURL string
	// TargetPath is appended to TargetBaseURL. Equal to Key.Path for
	// discovered routes, the remainder after the prefix for static ones.
	TargetPath  string
	Backend     string
	RefreshedAt time.Time
}

// TargetURL is the backend URL without query string.
func (e Entry) TargetURL() string {
	return strings.TrimRight(e.TargetBaseURL, "/") + "/" + e.TargetPath
}
