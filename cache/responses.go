package cache

import (
	"context"
	"net/http"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	serializer "github.com/always-cache/sw-cache/pkg/response-serializer"
)

// Responses stores and looks up HTTP responses by request.
type Responses struct {
	Storage Storage
	Keyer   cachekey.CacheKeyer
	Logger  zerolog.Logger
}

// Match looks up the request across all partitions.
func (c Responses) Match(ctx context.Context, r *http.Request) (*http.Response, bool, error) {
	key := c.Keyer.Key(r)
	entry, ok, err := c.Storage.Match(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	res, err := serializer.BytesToResponse(entry.Bytes, r)
	if err != nil {
		return nil, false, errors.Wrapf(err, errors.CodeDatabase, "could not read stored response for %s", key)
	}
	c.Logger.Trace().Str("key", key).Time("stored", entry.StoredAt).Msg("Cache hit")
	return res, true, nil
}

// MatchURL looks up a GET request to the target across all partitions.
func (c Responses) MatchURL(ctx context.Context, target string) (*http.Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errors.Wrapf(err, errors.CodeInvalidInput, "invalid url %s", target)
	}
	return c.Match(ctx, req)
}

// Put stores a snapshot of the response in the named partition.
// The response body stays readable. Only GET requests can be stored.
func (c Responses) Put(ctx context.Context, partition string, r *http.Request, res *http.Response) error {
	if r.Method != "" && r.Method != http.MethodGet {
		return errors.Newf(errors.CodeInvalidInput, "cannot store response to %s request", r.Method)
	}
	entry, err := c.Snapshot(r, res)
	if err != nil {
		return err
	}
	p, err := c.Storage.Open(ctx, partition)
	if err != nil {
		return err
	}
	if err := p.Put(ctx, entry); err != nil {
		return err
	}
	c.Logger.Trace().Str("key", entry.Key).Str("partition", partition).Msg("Cache write")
	return nil
}

// Snapshot serializes the response into an entry keyed by the request.
func (c Responses) Snapshot(r *http.Request, res *http.Response) (Entry, error) {
	key := c.Keyer.Key(r)
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return Entry{}, errors.Wrapf(err, errors.CodeNetwork, "could not read response for %s", key)
	}
	return Entry{Key: key, StoredAt: time.Now(), Bytes: bts}, nil
}
