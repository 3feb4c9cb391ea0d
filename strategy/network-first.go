package strategy

import (
	"context"
	"fmt"
	"net/http"
)

// NetworkFirst answers from the network and stores ok responses.
// When the network fails, a stored response is used instead.
type NetworkFirst struct {
	env       Env
	kind      Kind
	partition string
	// offline page for navigations, empty for none
	offlinePage string
}

// NewNetworkFirstWithFallback stores into the static partition and
// falls back to the offline page for navigations.
func NewNetworkFirstWithFallback(env Env, offlinePage string) *NetworkFirst {
	return &NetworkFirst{
		env:         env,
		kind:        NetworkFirstWithFallback,
		partition:   env.Names.Static,
		offlinePage: offlinePage,
	}
}

// NewNetworkFirstWithCache stores into the dynamic partition.
func NewNetworkFirstWithCache(env Env) *NetworkFirst {
	return &NetworkFirst{
		env:       env,
		kind:      NetworkFirstWithCache,
		partition: env.Names.Dynamic,
	}
}

func (s *NetworkFirst) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	log := s.env.Logger.With().Str("url", r.URL.String()).Str("strategy", s.kind.String()).Logger()

	res, netErr := s.env.Fetcher.Fetch(ctx, r)
	if netErr == nil {
		out := &Response{Response: res, Source: SourceNetwork, Kind: s.kind}
		if s.env.storable(r, res) {
			if err := s.env.Responses.Put(ctx, s.partition, r, res); err != nil {
				log.Warn().Err(err).Msg("Could not store response")
			} else {
				out.Stored = true
			}
		}
		return out, nil
	}

	log.Debug().Err(netErr).Msg("Network failed, trying cache")
	cached, found, err := s.env.Responses.Match(ctx, r)
	if err != nil {
		log.Error().Err(err).Msg("Cache lookup failed")
	}
	if found {
		return &Response{Response: cached, Source: SourceCache, Kind: s.kind}, nil
	}

	if s.offlinePage != "" && IsNavigate(r) {
		offline, found, err := s.env.Responses.MatchURL(ctx, s.offlinePage)
		if err != nil {
			log.Error().Err(err).Msg("Offline page lookup failed")
		}
		if found {
			return &Response{Response: offline, Source: SourceOffline, Kind: s.kind}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, netErr)
	}

	return nil, netErr
}
