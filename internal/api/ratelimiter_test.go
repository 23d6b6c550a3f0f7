package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

type staticLimiter struct {
	allow bool
}

func (s *staticLimiter) Allow(string) bool {
	return s.allow
}

func TestRateLimitMiddlewareBlocksWhenLimiterDenies(t *testing.T) {
	middleware := rateLimitMiddleware(&staticLimiter{allow: false}, clientResolver{}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler should not execute when rate limited")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewarePassesWhenLimiterAllows(t *testing.T) {
	var called bool
	middleware := rateLimitMiddleware(&staticLimiter{allow: true}, clientResolver{}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to execute when limiter allows")
	}
}

func TestNewTokenBucketLimiterUsesDefaults(t *testing.T) {
	limiter := newTokenBucketLimiter(0, 0)
	if limiter == nil {
		t.Fatalf("expected limiter instance")
	}
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected first request to be allowed")
	}
}

func TestTokenBucketLimiterIsPerClient(t *testing.T) {
	limiter := newTokenBucketLimiter(1, 1)

	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected first request from 10.0.0.1 to be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected second request from 10.0.0.1 to be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected another client to have its own bucket")
	}
}

func TestClientResolverKey(t *testing.T) {
	trusted := clientResolver{trusted: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
	}}

	tests := []struct {
		name      string
		clients   clientResolver
		remote    string
		forwarded string
		want      string
	}{
		{name: "RemoteAddr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "NoPort", remote: "192.0.2.9", want: "192.0.2.9"},
		{name: "ForwardedIgnoredWithoutProxies", remote: "198.51.100.4:1234", forwarded: "203.0.113.7", want: "198.51.100.4"},
		{name: "ForwardedIgnoredFromUntrustedPeer", clients: trusted, remote: "198.51.100.4:1234", forwarded: "203.0.113.7", want: "198.51.100.4"},
		{name: "ForwardedFromTrustedPeer", clients: trusted, remote: "192.0.2.1:1234", forwarded: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{name: "SpoofedLeftmostHop", clients: trusted, remote: "10.1.1.1:80", forwarded: "1.2.3.4, 198.51.100.9", want: "198.51.100.9"},
		{name: "TrustedPeerWithoutHeader", clients: trusted, remote: "10.1.1.1:80", want: "10.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := tt.clients.key(req); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	router := newTestRouter(t, WithLogging(false), WithRateLimit(1, 1))

	for i, fwd := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected the second request from one peer to be limited, got %d", rec.Code)
		}
	}
}
