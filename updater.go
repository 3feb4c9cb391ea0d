package swcache

import (
	"context"
	"net/http"
	"time"

	cacheupdate "github.com/always-cache/sw-cache/pkg/cache-update"
	"github.com/always-cache/sw-cache/rfc9111"
)

// applyCacheUpdates refreshes the stored responses named in the Cache-Update
// header of a response to an unsafe request.
// Updates without delay finish before the response is sent.
func (w *Worker) applyCacheUpdates(r *http.Request, res *http.Response) {
	for _, update := range cacheupdate.GetCacheUpdates(r, w.keyer.URL(r), res) {
		w.log.Trace().Str("update", update.URL).Dur("delay", update.Delay).Msg("Updating cache based on header")
		if update.Delay == 0 {
			w.updateEntry(w.background, update.URL)
			continue
		}
		w.updates.Add(1)
		go func(update cacheupdate.CacheUpdate) {
			defer w.updates.Done()
			timer := time.NewTimer(update.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
				w.updateEntry(w.background, update.URL)
			case <-w.background.Done():
			}
		}(update)
	}
}

// updateEntry fetches the url and stores the response in every current
// partition that holds it, or in the dynamic partition if none does.
func (w *Worker) updateEntry(ctx context.Context, target string) {
	log := w.log.With().Str("url", target).Logger()
	key, err := w.keyer.KeyFor(target)
	if err != nil {
		log.Error().Err(err).Msg("Invalid update target")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.Error().Err(err).Msg("Could not create request for update")
		return
	}

	var partitions []string
	for _, name := range w.names.Current() {
		if has, err := w.responses.Storage.Has(ctx, name); err != nil || !has {
			continue
		}
		p, err := w.responses.Storage.Open(ctx, name)
		if err != nil {
			continue
		}
		if _, found, err := p.Get(ctx, key); err == nil && found {
			partitions = append(partitions, name)
		}
	}
	if len(partitions) == 0 {
		partitions = []string{w.names.Dynamic}
	}

	res, err := w.fetch(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Could not fetch update")
		return
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Debug().Int("status", res.StatusCode).Msg("Update not stored")
		return
	}
	if w.settings.Cache.Shared && rfc9111.MustNotStore(req, res) {
		log.Debug().Msg("Update not storable in shared cache")
		return
	}
	for _, name := range partitions {
		if err := w.responses.Put(ctx, name, req, res); err != nil {
			log.Error().Err(err).Str("partition", name).Msg("Could not save update")
		}
	}
}
