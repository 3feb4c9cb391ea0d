// Package cacheupdate reads the Cache-Update response header, with which an
// origin names the stored resources that a state-changing request made stale.
//
//	Cache-Update: /api/balance; delay=5
package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const HeaderName = "Cache-Update"

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Absolute URL of the resource to refresh.
	URL string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayPattern = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates specified by the response to an unsafe request.
// The request URL is used in order to resolve relative update paths.
// Responses to safe requests never trigger updates.
func GetCacheUpdates(req *http.Request, base *url.URL, res *http.Response) []CacheUpdate {
	if !unsafeRequest(req) {
		return nil
	}
	var updates []CacheUpdate
	for _, header := range res.Header.Values(HeaderName) {
		for _, update := range strings.Split(header, ",") {
			target := strings.TrimSpace(strings.Split(update, ";")[0])
			if target == "" {
				continue
			}
			ref, err := url.Parse(target)
			if err != nil {
				continue
			}
			u := base.ResolveReference(ref)
			u.Fragment = ""
			updates = append(updates, CacheUpdate{URL: u.String(), Delay: getDelay(update)})
		}
	}
	return updates
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayPattern.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}

// unsafeRequest checks if the request method is not safe (RFC 9110 §9.2.1).
func unsafeRequest(req *http.Request) bool {
	switch req.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
