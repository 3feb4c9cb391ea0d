package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/clients"
	"github.com/always-cache/sw-cache/fetch"
	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
)

type origin struct {
	mu      sync.Mutex
	status  map[string]int
	headers []http.Header
}

func (o *origin) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.headers = append(o.headers, r.Header.Clone())
	status := http.StatusOK
	if s, ok := o.status[r.URL.Path]; ok {
		if s == 0 {
			return nil, fetch.NetworkError(io.EOF, r.URL.String())
		}
		status = s
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("content of " + r.URL.Path)),
	}, nil
}

func testManager(t *testing.T, o *origin, storage cache.Storage, precache []string, registry *clients.Registry) *Manager {
	u, err := url.Parse("https://app.example")
	require.NoError(t, err)
	opts := Options{
		Responses: cache.Responses{Storage: storage, Keyer: cachekey.NewCacheKeyer(u)},
		Fetcher:   o,
		Names:     cache.NewNames("", ""),
		Precache:  precache,
		Logger:    zerolog.Nop(),
	}
	if registry != nil {
		opts.Clients = registry
	}
	return NewManager(opts)
}

func TestInstallPrecachesAndActivates(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemStorage()
	o := &origin{}
	registry := clients.NewRegistry(nil, 0)
	_, err := registry.Register("/dashboard")
	require.NoError(t, err)
	m := testManager(t, o, storage, []string{"/", "/static/offline.html", "https://cdn.example/lib.css"}, registry)
	assert.Equal(t, Parsed, m.State())

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, Activated, m.State())

	static, _ := storage.Open(ctx, "ttrust-static-v1.1.0")
	keys, _ := static.Keys(ctx)
	assert.Equal(t, []string{
		"GET https://app.example/",
		"GET https://app.example/static/offline.html",
		"GET https://cdn.example/lib.css",
	}, keys)

	for _, h := range o.headers {
		assert.Equal(t, "no-cache", h.Get("Cache-Control"))
		assert.Equal(t, "no-cache", h.Get("Pragma"))
	}
	for _, c := range registry.List() {
		assert.Equal(t, "ttrust-static-v1.1.0", c.Controller)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	for name, status := range map[string]int{"network failure": 0, "not ok": http.StatusNotFound} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			storage := cache.NewMemStorage()
			o := &origin{status: map[string]int{"/support": status}}
			m := testManager(t, o, storage, []string{"/", "/support", "/profile"}, nil)

			err := m.Run(ctx)
			require.Error(t, err)
			assert.True(t, fetch.IsNetworkError(err))
			assert.Equal(t, Redundant, m.State())

			static, _ := storage.Open(ctx, "ttrust-static-v1.1.0")
			keys, _ := static.Keys(ctx)
			assert.Empty(t, keys)

			// retry after the origin recovered
			o.mu.Lock()
			o.status = nil
			o.mu.Unlock()
			require.NoError(t, m.Run(ctx))
			assert.Equal(t, Activated, m.State())
		})
	}
}

func TestActivateDeletesStalePartitions(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemStorage()
	for _, name := range []string{"ttrust-v1.0.0", "ttrust-static-v1.0.0", "ttrust-dynamic-v1.1.0", "other-app"} {
		p, _ := storage.Open(ctx, name)
		p.Put(ctx, cache.Entry{Key: "GET https://app.example/", StoredAt: time.Now(), Bytes: []byte("x")})
	}
	m := testManager(t, &origin{}, storage, []string{"/"}, nil)
	m.opts.HoldWaiting = true

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, Installed, m.State())

	deleted, err := m.Activate(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ttrust-v1.0.0", "ttrust-static-v1.0.0", "other-app"}, deleted)

	names, _ := storage.Names(ctx)
	assert.ElementsMatch(t, []string{"ttrust-static-v1.1.0", "ttrust-dynamic-v1.1.0"}, names)

	deleted, err = m.Activate(ctx)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestHoldWaitingUntilSkipWaiting(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, &origin{}, cache.NewMemStorage(), []string{"/"}, nil)
	m.opts.HoldWaiting = true

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, Installed, m.State())

	require.NoError(t, m.SkipWaiting(ctx))
	assert.Equal(t, Activated, m.State())
}

func TestActivateBeforeInstallFails(t *testing.T) {
	m := testManager(t, &origin{}, cache.NewMemStorage(), nil, nil)
	_, err := m.Activate(context.Background())
	require.Error(t, err)
	assert.Equal(t, Parsed, m.State())
	// skip waiting before install only records the wish
	require.NoError(t, m.SkipWaiting(context.Background()))
	assert.Equal(t, Parsed, m.State())
}

func TestEventWaitUntil(t *testing.T) {
	event := newEvent(context.Background())
	var mu sync.Mutex
	done := 0
	for i := 0; i < 3; i++ {
		event.WaitUntil(func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, event.Wait())
	assert.Equal(t, 3, done)
}

func TestStateText(t *testing.T) {
	text, err := Activated.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "activated", string(text))
	assert.Equal(t, "redundant", Redundant.String())
}
