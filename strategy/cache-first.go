package strategy

import (
	"context"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheFirst answers from the cache when possible and refreshes the
// stored response in the background (stale-while-revalidate).
// On a miss the network response is stored and returned.
type CacheFirst struct {
	env       Env
	partition string
	group     singleflight.Group
	refreshes sync.WaitGroup

	// guards refreshes.Add against Close
	mutex  sync.Mutex
	closed bool
}

func NewCacheFirstWithRefresh(env Env) *CacheFirst {
	return &CacheFirst{
		env:       env,
		partition: env.Names.Static,
	}
}

func (s *CacheFirst) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	log := s.env.Logger.With().Str("url", r.URL.String()).Str("strategy", CacheFirstWithRefresh.String()).Logger()

	cached, found, err := s.env.Responses.Match(ctx, r)
	if err != nil {
		log.Error().Err(err).Msg("Cache lookup failed")
	}
	if found {
		s.refresh(ctx, r)
		return &Response{Response: cached, Source: SourceCache, Kind: CacheFirstWithRefresh}, nil
	}

	res, err := s.env.Fetcher.Fetch(ctx, r)
	if err != nil {
		log.Error().Err(err).Msg("Both cache and network failed")
		return nil, err
	}
	out := &Response{Response: res, Source: SourceNetwork, Kind: CacheFirstWithRefresh}
	if s.env.storable(r, res) {
		if err := s.env.Responses.Put(ctx, s.partition, r, res); err != nil {
			log.Warn().Err(err).Msg("Could not store response")
		} else {
			out.Stored = true
		}
	}
	return out, nil
}

// refresh updates the stored response in the background.
// Refreshes of the same key are collapsed into one fetch.
// Failures are only traced, never reported to the caller.
func (s *CacheFirst) refresh(ctx context.Context, r *http.Request) {
	ctx = context.WithoutCancel(ctx)
	req := r.Clone(ctx)
	req.Body = nil
	key := s.env.Responses.Keyer.Key(r)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		_, err, _ := s.group.Do(key, func() (interface{}, error) {
			res, err := s.env.Fetcher.Fetch(ctx, req)
			if err != nil {
				return nil, err
			}
			defer res.Body.Close()
			if !s.env.storable(req, res) {
				io.Copy(io.Discard, res.Body)
				return nil, nil
			}
			return nil, s.env.Responses.Put(ctx, s.partition, req, res)
		})
		if err != nil {
			s.env.Logger.Trace().Err(err).Str("key", key).Msg("Background refresh failed")
		}
	}()
}

// Wait blocks until all background refreshes have finished.
func (s *CacheFirst) Wait() {
	s.refreshes.Wait()
}

// Close stops starting new refreshes and waits for the running ones.
// Cache hits after Close are still served.
func (s *CacheFirst) Close() {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()
	s.refreshes.Wait()
}
