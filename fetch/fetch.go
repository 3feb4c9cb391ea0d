package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	tee "github.com/always-cache/sw-cache/pkg/response-writer-tee"
)

// Fetcher obtains a response for a request from the network.
// Failures to obtain any response are reported as network errors;
// a response with a non-ok status is not an error.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
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

type ClientOptions struct {
	// Hostname sent to the origin, both as Host header and TLS server name.
	OriginHost  string
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// ClientFetcher fetches from the network with a http.Client.
// Relative request targets are sent to the origin.
type ClientFetcher struct {
	Client     *http.Client
	Origin     *url.URL
	OriginHost string
	Logger     zerolog.Logger
}

// NewClientFetcher constructs a fetcher with a http.Client tuned for proxying.
// Redirects are not followed, they are passed back to the client as is.
func NewClientFetcher(origin *url.URL, opts ClientOptions) *ClientFetcher {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(512),
	}
	// use provided hostname for origin if configured
	if opts.OriginHost != "" {
		tlsConfig.ServerName = opts.OriginHost
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 60 * time.Second}).DialContext,
		TLSHandshakeTimeout:   opts.DialTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 150 * time.Millisecond,
		TLSClientConfig:       tlsConfig,
	}
	return &ClientFetcher{
		Client: &http.Client{
			Transport: transport,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Origin:     origin,
		OriginHost: opts.OriginHost,
		Logger:     opts.Logger,
	}
}

// Fetch the resource specified in the incoming request.
func (f *ClientFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	target := f.target(r)
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 || body == http.NoBody {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, NetworkError(err, target.String())
	}
	req.ContentLength = r.ContentLength
	if f.OriginHost != "" && f.Origin != nil && target.Host == f.Origin.Host {
		req.Host = f.OriginHost
	}
	copyHeader(req.Header, r.Header)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	f.Logger.Trace().Str("url", target.String()).Msgf("Fetching %s", r.Method)

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, NetworkError(err, target.String())
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}

func (f *ClientFetcher) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() || f.Origin == nil {
		u := *r.URL
		return &u
	}
	return f.Origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

// HandlerFetcher treats an in-process http.Handler as the network.
// A panicking handler is reported as a network error.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (res *http.Response, err error) {
	saver := tee.NewResponseSaver(nil)
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = NetworkError(fmt.Errorf("handler panic: %v", p), r.URL.String())
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, NetworkError(err, r.URL.String())
	}
	f.Handler.ServeHTTP(saver, r.WithContext(ctx))
	return saver.Result(r), nil
}

// RoutedFetcher sends requests for which IsRemote reports true to Remote
// and all other requests to Local.
type RoutedFetcher struct {
	Local    Fetcher
	Remote   Fetcher
	IsRemote func(r *http.Request) bool
}

func (f RoutedFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	if f.IsRemote != nil && f.IsRemote(r) {
		return f.Remote.Fetch(ctx, r)
	}
	return f.Local.Fetch(ctx, r)
}

// copyHeader copies all headers except the ones set by an upstream proxy.
// Some servers do not like the presence of these headers in the downstream request.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
