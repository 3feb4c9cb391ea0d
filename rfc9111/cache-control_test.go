package rfc9111

import (
	"net/http"
	"testing"
)

func TestMaxAge(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60"})
	val, ok := cc.Get("max-age")
	if !ok {
		t.Fatal("Could not get directive")
	}
	if val != "60" {
		t.Fatalf("Value is %s", val)
	}
}

func TestReal(t *testing.T) {
	cc := ParseCacheControl([]string{"public,max-age=0, S-MaxAge=\"600\""})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
}

func TestMustNotStore(t *testing.T) {
	tests := []struct {
		name         string
		reqHeader    http.Header
		resHeader    http.Header
		mustNotStore bool
	}{
		{"plain", http.Header{}, http.Header{}, false},
		{"response no-store", http.Header{}, http.Header{"Cache-Control": {"no-store"}}, true},
		{"request no-store", http.Header{"Cache-Control": {"no-store"}}, http.Header{}, true},
		{"private", http.Header{}, http.Header{"Cache-Control": {"private, max-age=60"}}, true},
		{"authorization", http.Header{"Authorization": {"Bearer x"}}, http.Header{}, true},
		{"authorization public", http.Header{"Authorization": {"Bearer x"}}, http.Header{"Cache-Control": {"public"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/", nil)
			req.Header = tt.reqHeader
			res := &http.Response{StatusCode: 200, Header: tt.resHeader}
			if got := MustNotStore(req, res); got != tt.mustNotStore {
				t.Fatalf("MustNotStore is %v", got)
			}
		})
	}
}
