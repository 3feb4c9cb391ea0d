package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

func TestClientFetcherResolvesAgainstOrigin(t *testing.T) {
	var gotPath, gotForwarded, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotForwarded = r.Header.Get("X-Forwarded-For")
		gotCustom = r.Header.Get("X-Custom")
		w.Write([]byte("origin"))
	}))
	defer server.Close()
	origin, _ := url.Parse(server.URL)
	fetcher := NewClientFetcher(origin, ClientOptions{})

	req := httptest.NewRequest("GET", "/page?x=1", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("X-Custom", "yes")
	res, err := fetcher.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "origin" || gotPath != "/page?x=1" {
		t.Fatalf("Got %s for %s", body, gotPath)
	}
	if gotForwarded != "" || gotCustom != "yes" {
		t.Fatalf("Forwarded headers wrong: %q %q", gotForwarded, gotCustom)
	}
	if res.Header.Get("Date") == "" {
		t.Fatalf("Date header not set")
	}
}

func TestClientFetcherDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()
	origin, _ := url.Parse(server.URL)
	res, err := NewClientFetcher(origin, ClientOptions{}).Fetch(context.Background(), httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	if res.StatusCode != http.StatusFound {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}

func TestClientFetcherNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	origin, _ := url.Parse(server.URL)
	server.Close()
	_, err := NewClientFetcher(origin, ClientOptions{}).Fetch(context.Background(), httptest.NewRequest("GET", "/", nil))
	if err == nil {
		t.Fatalf("Expected error from closed server")
	}
	if !IsNetworkError(err) {
		t.Fatalf("Error %s is not a network error", err)
	}
	if errors.GetCode(err) != errors.CodeNetwork {
		t.Fatalf("Code is %s", errors.GetCode(err))
	}
}

func TestHandlerFetcher(t *testing.T) {
	fetcher := HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, r.URL.Path)
	})}
	res, err := fetcher.Fetch(context.Background(), httptest.NewRequest("GET", "/tea", nil))
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusTeapot || string(body) != "/tea" {
		t.Fatalf("Got %d %s", res.StatusCode, body)
	}
}

func TestHandlerFetcherPanic(t *testing.T) {
	fetcher := HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})}
	_, err := fetcher.Fetch(context.Background(), httptest.NewRequest("GET", "/", nil))
	if !IsNetworkError(err) {
		t.Fatalf("Expected network error, got %v", err)
	}
}

func TestIsNetworkErrorJoined(t *testing.T) {
	miss := errors.New(errors.CodeNotFound, "miss")
	joined := fmt.Errorf("%w: %w", miss, NetworkError(io.EOF, "/"))
	if !IsNetworkError(joined) {
		t.Fatalf("Network error not found in %s", joined)
	}
	if !errors.Is(joined, miss) {
		t.Fatalf("Miss not found in %s", joined)
	}
	if IsNetworkError(miss) {
		t.Fatalf("Miss reported as network error")
	}
}

func TestRoutedFetcher(t *testing.T) {
	answer := func(name string) Fetcher {
		return FetcherFunc(func(ctx context.Context, r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{"X-From": {name}}, Body: http.NoBody}, nil
		})
	}
	fetcher := RoutedFetcher{
		Local:    answer("local"),
		Remote:   answer("remote"),
		IsRemote: func(r *http.Request) bool { return r.URL.Host == "cdn.example.com" },
	}
	for target, want := range map[string]string{
		"/app.js":                        "local",
		"http://localhost/app.js":        "local",
		"https://cdn.example.com/lib.js": "remote",
	} {
		res, err := fetcher.Fetch(context.Background(), httptest.NewRequest("GET", target, nil))
		if err != nil {
			t.Fatalf("Fetch %s: %s", target, err)
		}
		if got := res.Header.Get("X-From"); got != want {
			t.Errorf("%s fetched from %s, want %s", target, got, want)
		}
	}
}

func TestClientFetcherLogsToGivenLogger(t *testing.T) {
	level := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	defer zerolog.SetGlobalLevel(level)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	origin, _ := url.Parse(server.URL)
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.TraceLevel)

	res, err := NewClientFetcher(origin, ClientOptions{Logger: logger}).Fetch(context.Background(), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	res.Body.Close()
	if !strings.Contains(buf.String(), "Fetching GET") || !strings.Contains(buf.String(), server.URL+"/x") {
		t.Fatalf("Log output is %s", buf.String())
	}
}
