package cacheupdate

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestGetCacheUpdates(t *testing.T) {
	base, _ := url.Parse("https://app.example/api/orders")
	req, _ := http.NewRequest("POST", "/api/orders", nil)
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Cache-Update", "/api/balance; delay=5, list")
	res.Header.Add("Cache-Update", "https://cdn.example/x.js#top")

	updates := GetCacheUpdates(req, base, res)
	if len(updates) != 3 {
		t.Fatalf("Updates are %+v", updates)
	}
	if updates[0].URL != "https://app.example/api/balance" || updates[0].Delay != 5*time.Second {
		t.Fatalf("First update is %+v", updates[0])
	}
	if updates[1].URL != "https://app.example/api/list" || updates[1].Delay != 0 {
		t.Fatalf("Second update is %+v", updates[1])
	}
	if updates[2].URL != "https://cdn.example/x.js" {
		t.Fatalf("Third update is %+v", updates[2])
	}
}

func TestSafeRequestsDoNotUpdate(t *testing.T) {
	base, _ := url.Parse("https://app.example/")
	req, _ := http.NewRequest("GET", "/", nil)
	res := &http.Response{Header: http.Header{"Cache-Update": {"/api/balance"}}}
	if updates := GetCacheUpdates(req, base, res); len(updates) != 0 {
		t.Fatalf("Updates are %+v", updates)
	}
}
