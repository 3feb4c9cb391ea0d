// Package swcache is a caching layer between web pages and their origin.
//
// It runs as a proxy in front of the origin or as a middleware around the
// application handler. Every request is answered with one of three strategies
// (network first with offline fallback, network first with cache, or cache
// first with background refresh) against versioned cache partitions that are
// precached at install and cleaned up at activation.
package swcache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/text/language"

	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/clients"
	"github.com/always-cache/sw-cache/fetch"
	"github.com/always-cache/sw-cache/lifecycle"
	"github.com/always-cache/sw-cache/notification"
	cachekey "github.com/always-cache/sw-cache/pkg/cache-key"
	"github.com/always-cache/sw-cache/rfc9211"
	"github.com/always-cache/sw-cache/strategy"
)

// cacheName identifies this cache in the Cache-Status header.
const cacheName = "sw-cache"

type Config struct {
	// Storage for cache partitions. An in-memory storage is used if nil.
	Storage cache.Storage
	// URL of the origin server. Overrides the origin in the settings.
	OriginURL *url.URL
	// Network to fetch from. A HTTP client against the origin is used if nil.
	Fetcher fetch.Fetcher
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Settings of the worker version. The default settings are used if nil.
	Settings *Settings
	// Additional notifier, notifications are always kept in the tray and logged.
	Notifier notification.Notifier
	// Optional callback for windows opened by the worker.
	Opener clients.Opener
	// Handlers for background sync tags, in addition to the built-in one.
	SyncHandlers map[string]SyncHandler
}

type Worker struct {
	settings      Settings
	names         cache.Names
	keyer         cachekey.CacheKeyer
	responses     cache.Responses
	network       fetch.Fetcher
	remote        fetch.Fetcher
	next          http.Handler
	dispatcher    *strategy.Dispatcher
	cacheFirst    *strategy.CacheFirst
	lifecycle     *lifecycle.Manager
	clients       *clients.Registry
	tray          *notification.Tray
	notifications *notification.Handler
	syncHandlers  map[string]SyncHandler
	router        chi.Router
	log           zerolog.Logger

	// background outlives requests and is cancelled by Close
	background     context.Context
	stopBackground context.CancelFunc
	updates        sync.WaitGroup
}

// New builds a worker version from the config.
// The worker passes every request through until Start has activated it.
func New(config Config) (*Worker, error) {
	settings := DefaultSettings()
	if config.Settings != nil {
		settings = *config.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	origin := config.OriginURL
	if origin == nil && settings.Origin != "" {
		origin, _ = url.Parse(settings.Origin)
	}
	if origin == nil {
		origin = &url.URL{Scheme: "http", Host: "localhost"}
	}

	names := settings.Names()
	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", origin.String()).
		Str("version", names.Static).
		Logger()

	storage := config.Storage
	if storage == nil {
		storage = cache.NewMemStorage()
	}

	w := &Worker{
		settings: settings,
		names:    names,
		keyer:    cachekey.NewCacheKeyer(origin),
		remote:   config.Fetcher,
		log:      logger,
	}
	w.responses = cache.Responses{Storage: storage, Keyer: w.keyer, Logger: logger}
	if w.remote == nil {
		w.remote = fetch.NewClientFetcher(origin, fetch.ClientOptions{
			OriginHost: settings.OriginHost,
			Logger:     logger,
		})
	}
	w.network = w.remote

	selector, err := strategy.NewSelector(w.keyer, settings.Cache.APIPatterns, settings.Cache.StaticPath)
	if err != nil {
		return nil, err
	}
	w.background, w.stopBackground = context.WithCancel(context.Background())
	w.dispatcher, w.cacheFirst = strategy.New(strategy.Env{
		Responses: w.responses,
		Fetcher:   fetch.FetcherFunc(w.fetch),
		Names:     names,
		Logger:    logger,
		Shared:    settings.Cache.Shared,
	}, selector, settings.Cache.OfflinePage)

	w.clients = clients.NewRegistry(w.opener(config.Opener), settings.ClientLimit)
	w.lifecycle = lifecycle.NewManager(lifecycle.Options{
		Responses:   w.responses,
		Fetcher:     fetch.FetcherFunc(w.fetch),
		Names:       names,
		Precache:    settings.Cache.Precache,
		Clients:     w.clients,
		HoldWaiting: settings.HoldWaiting,
		Logger:      logger,
	})

	w.tray = notification.NewTray(settings.Notifications.TrayLimit)
	notifiers := notification.Multi{w.tray, notification.LogNotifier{Logger: logger}}
	if config.Notifier != nil {
		notifiers = append(notifiers, config.Notifier)
	}
	locale, err := language.Parse(settings.Notifications.Locale)
	if err != nil {
		locale = notification.DefaultLocale
	}
	w.notifications = notification.NewHandler(notification.Options{
		Notifier:     notifiers,
		Opener:       w.clients,
		Controller:   names.Static,
		DefaultRoute: settings.Notifications.DefaultRoute,
		Locale:       locale,
		Logger:       logger,
	})

	w.syncHandlers = map[string]SyncHandler{BackgroundSyncTag: w.backgroundSync}
	for tag, handler := range config.SyncHandlers {
		w.syncHandlers[tag] = handler
	}

	if settings.ControlPrefix != "" {
		w.router = w.routes()
	}
	return w, nil
}

// Start installs and activates the worker version.
// If installation fails the worker keeps passing requests through,
// and Start may be called again.
func (w *Worker) Start(ctx context.Context) error {
	return w.lifecycle.Run(ctx)
}

// Close cancels delayed cache updates and waits for background refreshes to finish.
func (w *Worker) Close() error {
	w.stopBackground()
	w.updates.Wait()
	w.cacheFirst.Close()
	return nil
}

// State returns the lifecycle state of the worker version.
func (w *Worker) State() lifecycle.State {
	return w.lifecycle.State()
}

// Version returns the name of the static partition, which identifies the version.
func (w *Worker) Version() string {
	return w.names.Static
}

// Middleware returns a handler that intercepts requests to the next handler.
// The next handler takes the place of the network for same-origin requests,
// cross-origin requests (such as precached CDN resources) still go to the network.
// It must be called before the worker is started.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	w.next = next
	w.network = fetch.RoutedFetcher{
		Local:    fetch.HandlerFetcher{Handler: next},
		Remote:   w.remote,
		IsRemote: w.keyer.IsCrossOrigin,
	}
	return w
}

// fetch gets a response from the network with the header rules applied.
func (w *Worker) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	res, err := w.network.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	if rule := w.settings.Cache.Rules.Apply(r, res); rule != nil {
		w.log.Trace().Str("url", r.URL.String()).Interface("rule", rule).Msg("Applied header rule")
	}
	return res, nil
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer w.recover(rw, r)
	if w.router != nil && strings.HasPrefix(r.URL.Path, w.settings.ControlPrefix+"/") {
		w.router.ServeHTTP(rw, r)
		return
	}
	w.handle(rw, r)
}

// recover recovers from panics and sends the response to the escape hatch if needed.
func (w *Worker) recover(rw http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		w.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		w.passthrough(rw, r, rfc9211.New(cacheName).Forward(rfc9211.FwdBypass).Detail("panic"))
	}
}

// handle is the main entry point for intercepted requests.
func (w *Worker) handle(rw http.ResponseWriter, r *http.Request) {
	w.log.Trace().Interface("headers", r.Header).Msgf("Incoming request: %s %s", r.Method, r.URL.Path)

	// ignore non-http requests
	if r.URL.IsAbs() && r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		w.passthrough(rw, r, rfc9211.New(cacheName).Forward(rfc9211.FwdBypass).Detail("scheme"))
		return
	}
	if state := w.lifecycle.State(); state != lifecycle.Activated {
		w.passthrough(rw, r, rfc9211.New(cacheName).Forward(rfc9211.FwdBypass).Detail(state.String()))
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	res, err := w.dispatcher.Handle(ctx, r)
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error contacting origin")
		cs := rfc9211.New(cacheName).Forward(rfc9211.FwdMiss)
		if strategy.IsNavigate(r) {
			cs.Detail("offline")
		}
		cs.Apply(rw.Header())
		http.Error(rw, "Error contacting origin", http.StatusBadGateway)
		w.logRequest(r, cs, "")
		return
	}
	if res.Source == strategy.SourceNetwork && r.Method != http.MethodGet {
		w.applyCacheUpdates(r, res.Response)
	}
	cs := cacheStatus(res)
	w.send(rw, res.Response, cs)
	w.logRequest(r, cs, res.Kind.String())
}

func cacheStatus(res *strategy.Response) *rfc9211.CacheStatus {
	cs := rfc9211.New(cacheName)
	switch res.Source {
	case strategy.SourceCache:
		cs.Hit()
	case strategy.SourceOffline:
		cs.Hit().Detail("offline")
	default:
		if res.Kind == strategy.CacheFirstWithRefresh {
			cs.Forward(rfc9211.FwdUriMiss)
		} else {
			cs.Forward(rfc9211.FwdRequest)
		}
		if res.Stored {
			cs.Stored()
		}
	}
	return cs
}

// passthrough sends the request to the network as if the worker were not there.
func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request, cs *rfc9211.CacheStatus) {
	if w.next != nil {
		cs.Apply(rw.Header())
		w.next.ServeHTTP(rw, r)
		w.logRequest(r, cs, "")
		return
	}
	res, err := w.network.Fetch(r.Context(), r)
	if err != nil {
		w.log.Error().Err(err).Msg("Error connecting to origin")
		cs.Apply(rw.Header())
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	w.send(rw, res, cs)
	w.logRequest(r, cs, "")
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (w *Worker) send(rw http.ResponseWriter, res *http.Response, cs *rfc9211.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	for _, h := range hopHeaders {
		rw.Header().Del(h)
	}
	cs.Apply(rw.Header())
	rw.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) logRequest(r *http.Request, cs *rfc9211.CacheStatus, strategyName string) {
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("strategy", strategyName).
		Str("cacheStatus", cs.String()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func (w *Worker) opener(next clients.Opener) clients.Opener {
	return func(ctx context.Context, c clients.Client) error {
		w.log.Info().Str("url", c.URL).Str("client", c.ID).Msg("Opening window")
		if next == nil {
			return nil
		}
		return next(ctx, c)
	}
}
