// Package rfc9111 implements the parts of RFC 9111 (HTTP Caching) that decide
// whether a shared cache may store a response.
package rfc9111

import (
	"net/http"
	"strings"
)

// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. [...] Cache directives are identified by a token,
// §  to be compared case-insensitively, and have an optional argument that can use
// §  both token and quoted-string syntax.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]

type CacheControl struct {
	directives map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[directive]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	// last defined directive wins
	for _, header := range headers {
		// "#" means comma-separated list
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			parts := strings.SplitN(directive, "=", 2)
			// §  [...] to be compared case-insensitively [...]
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			var arg string
			if len(parts) > 1 {
				// §  [...] argument that can use both token and quoted-string syntax. [...]
				arg = strings.Trim(strings.TrimSpace(parts[1]), "\"")
			}
			m[name] = arg
		}
	}
	return CacheControl{m}
}

// MustNotStore reports whether a shared cache must not store the response to req.
// Only the conditions that forbid storing are checked: the caller decides
// which responses it wants to keep.
func MustNotStore(req *http.Request, res *http.Response) bool {
	resCacheControl := ParseCacheControl(res.Header.Values("Cache-Control"))
	reqCacheControl := ParseCacheControl(req.Header.Values("Cache-Control"))

	// §  5.2.1.5. no-store
	// §  The no-store request directive indicates that a cache MUST NOT store any
	// §  part of either this request or any response to it.
	if reqCacheControl.HasDirective("no-store") {
		return true
	}
	// §  *  the no-store cache directive is not present in the response (see
	// §     Section 5.2.2.5);
	if resCacheControl.HasDirective("no-store") {
		return true
	}
	// §  *  if the cache is shared: the private response directive is either
	// §     not present or allows a shared cache to store a modified response;
	//
	// storing a modified response is a "MAY" - we don't do that
	if resCacheControl.HasDirective("private") {
		return true
	}
	// §  *  if the cache is shared: the Authorization header field is not
	// §     present in the request (see Section 11.6.2 of [HTTP]) or a
	// §     response directive is present that explicitly allows shared
	// §     caching (see Section 3.5)
	if req.Header.Get("Authorization") != "" && !mayUseResponseForAuthenticatedRequest(resCacheControl) {
		return true
	}
	return false
}

// §  3.5. Storing Responses to Authenticated Requests
// §
// §  [...] this specification defines the following Cache-Control response
// §  directives (Section 5.2.2) that have such an effect: must-revalidate
// §  (Section 5.2.2.2), public (Section 5.2.2.9), and s-maxage (Section 5.2.2.10).
func mayUseResponseForAuthenticatedRequest(cc CacheControl) bool {
	return cc.HasDirective("must-revalidate") ||
		cc.HasDirective("public") ||
		cc.HasDirective("s-maxage")
}
