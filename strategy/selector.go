package strategy

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/jmgilman/go/errors"

	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
)

var DefaultAPIPatterns = []string{
	"/api/",
	"/dashboard",
	"/staking-plans",
	"/projects",
	"/profile",
}

const DefaultStaticPath = "/static/"

var staticDestinations = map[string]bool{
	"image":  true,
	"font":   true,
	"style":  true,
	"script": true,
}

// Selector classifies requests into strategy kinds.
type Selector struct {
	keyer       cachekey.CacheKeyer
	apiPatterns []*regexp.Regexp
	staticPath  string
}

// NewSelector compiles the API patterns, which are unanchored regular expressions
// matched against the request path.
func NewSelector(keyer cachekey.CacheKeyer, apiPatterns []string, staticPath string) (*Selector, error) {
	s := &Selector{keyer: keyer, staticPath: staticPath}
	for _, pattern := range apiPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid api pattern %q", pattern)
		}
		s.apiPatterns = append(s.apiPatterns, re)
	}
	return s, nil
}

// Select returns the strategy kind for the request. The first matching rule wins:
// HTML documents, then API paths, then static resources, then the default.
func (s *Selector) Select(r *http.Request) Kind {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return NetworkFirstWithFallback
	}
	for _, re := range s.apiPatterns {
		if re.MatchString(r.URL.Path) {
			return NetworkFirstWithCache
		}
	}
	if s.isStatic(r) {
		return CacheFirstWithRefresh
	}
	return NetworkFirstWithCache
}

func (s *Selector) isStatic(r *http.Request) bool {
	return (s.staticPath != "" && strings.Contains(r.URL.Path, s.staticPath)) ||
		s.keyer.IsCrossOrigin(r) ||
		staticDestinations[r.Header.Get("Sec-Fetch-Dest")]
}
