package rpc

import (
	"net/http/httptest"
	"testing"
)

func TestClientIDIgnoresForwardingHeadersByDefault(t *testing.T) {
	req := httptest.NewRequest("POST", "/rpc", nil)
	req.RemoteAddr = "198.51.100.7:5123"
	req.Header.Set("X-Real-IP", "203.0.113.9")
	req.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")

	if got := clientID(req, false); got != "198.51.100.7" {
		t.Fatalf("expected remote address, got %q", got)
	}
	if got := clientID(req, true); got != "203.0.113.9" {
		t.Fatalf("expected X-Real-IP behind trusted proxy, got %q", got)
	}
	req.Header.Del("X-Real-IP")
	if got := clientID(req, true); got != "203.0.113.10" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	if got := clientID(req, true); got != "198.51.100.7" {
		t.Fatalf("expected fallback to remote address, got %q", got)
	}
}

func TestClientLimiterBucketsPerClient(t *testing.T) {
	limiter := newClientLimiter(0.001, 1, false)
	if !limiter.allow("a") {
		t.Fatalf("first request for a must pass")
	}
	if limiter.allow("a") {
		t.Fatalf("second request for a must be limited")
	}
	if !limiter.allow("b") {
		t.Fatalf("b has its own bucket")
	}
}
