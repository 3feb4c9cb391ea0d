package cachekey

import (
	"net/http"
	"net/url"
	"strings"
)

const methodSeparator = " "

// CacheKeyer derives cache keys for requests made to (or through) a single origin.
// A key is the request method and the absolute request URL, e.g. "GET https://example.com/page".
// Relative request targets are resolved against the origin, so that a request
// arriving at the proxy and the same request made by the worker itself share a key.
type CacheKeyer struct {
	// Origin against which relative request URLs are resolved.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// URL returns the absolute URL of the request, without fragment.
func (c CacheKeyer) URL(r *http.Request) *url.URL {
	u := *r.URL
	if !u.IsAbs() && c.Origin != nil {
		u = *c.Origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// Key returns the cache key of the request.
func (c CacheKeyer) Key(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + c.URL(r).String()
}

// KeyFor returns the cache key of a GET request to the given target.
// The target may be a path relative to the origin or an absolute URL.
func (c CacheKeyer) KeyFor(target string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	return c.Key(req), nil
}

// IsCrossOrigin checks if the request targets a host other than the origin.
// Only absolute-form request URLs can be cross-origin.
func (c CacheKeyer) IsCrossOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() || c.Origin == nil {
		return false
	}
	return !strings.EqualFold(r.URL.Scheme, c.Origin.Scheme) || !strings.EqualFold(r.URL.Host, c.Origin.Host)
}
