// Package strategy decides how a request is answered: from the network,
// from the cache, or from both.
package strategy

import (
	"context"
	"net/http"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/fetch"
	"github.com/always-cache/sw-cache/rfc9111"
)

// ErrCacheMiss is returned when a response had to come from the cache but none was stored.
var ErrCacheMiss = errors.New(errors.CodeNotFound, "no cached response")

type Kind int

const (
	NetworkFirstWithFallback Kind = iota
	NetworkFirstWithCache
	CacheFirstWithRefresh
)

func (k Kind) String() string {
	switch k {
	case NetworkFirstWithFallback:
		return "network-first-with-fallback"
	case NetworkFirstWithCache:
		return "network-first-with-cache"
	case CacheFirstWithRefresh:
		return "cache-first-with-refresh"
	}
	return "unknown"
}

type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Response is the outcome of a strategy.
type Response struct {
	*http.Response
	Source Source
	Kind   Kind
	// Stored is set if a network response was written to the cache.
	Stored bool
}

// Strategy answers a request.
// Errors are either network errors (see fetch.IsNetworkError) or ErrCacheMiss, or both.
type Strategy interface {
	Handle(ctx context.Context, r *http.Request) (*Response, error)
}

// Env holds the dependencies shared by all strategies.
type Env struct {
	Responses cache.Responses
	Fetcher   fetch.Fetcher
	Names     cache.Names
	Logger    zerolog.Logger
	// Shared caches skip responses that RFC 9111 keeps out of shared caches.
	Shared bool
}

func isOk(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// storable checks if a network response may be written to the cache.
func (e Env) storable(r *http.Request, res *http.Response) bool {
	if !isOk(res) || r.Method != http.MethodGet {
		return false
	}
	return !e.Shared || !rfc9111.MustNotStore(r, res)
}

// IsNavigate checks if the request is a top-level page navigation.
func IsNavigate(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate"
}
