package frontdoor

import (
	"net/http"
	"regexp"
	"strings"
)

// DefaultBypassPaths are the public content prefixes which never get session state.
var DefaultBypassPaths = []string{"/public/", "/content/", "/client/"}

// BypassFilter classifies request paths as public content.
type BypassFilter struct {
	re *regexp.Regexp
}

// NewBypassFilter compiles the prefixes into one case insensitive matcher.
// With no prefixes nothing is bypassed.
func NewBypassFilter(prefixes ...string) *BypassFilter {
	if len(prefixes) == 0 {
		return &BypassFilter{}
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return &BypassFilter{re: regexp.MustCompile("(?i)^(?:" + strings.Join(quoted, "|") + ")")}
}

// ShouldBypass is true if path starts with any of the filter prefixes.
func (f *BypassFilter) ShouldBypass(path string) bool {
	if f == nil || f.re == nil {
		return false
	}
	return f.re.MatchString(path)
}

// Wrap returns middleware running mw only for requests not bypassed by f.
func (f *BypassFilter) Wrap(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		stateful := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if f.ShouldBypass(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			stateful.ServeHTTP(w, r)
		})
	}
}
