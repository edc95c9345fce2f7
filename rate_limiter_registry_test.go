package relayhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	return req
}

func TestRegistryGlobalBucket(t *testing.T) {
	reg := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, PerHost: false})

	reqA := testRequest(t, "https://a.example.com/x")
	reqB := testRequest(t, "https://b.example.com/y")

	ok, key := reg.Allow(reqA)
	if !ok || key != GlobalBucketKey {
		t.Fatalf("Allow() = (%v, %q), want (true, %q)", ok, key, GlobalBucketKey)
	}
	if ok, _ := reg.Allow(reqB); !ok {
		t.Fatal("second call within burst should be admitted")
	}
	// Different hosts share the global bucket.
	if ok, _ := reg.Allow(reqA); ok {
		t.Error("third call should be denied, the bucket is shared")
	}
}

func TestRegistryPerHostBuckets(t *testing.T) {
	reg := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, PerHost: true})

	reqA := testRequest(t, "https://a.example.com/x")
	reqB := testRequest(t, "https://b.example.com/y")

	ok, key := reg.Allow(reqA)
	if !ok || key != "host:a.example.com" {
		t.Fatalf("Allow() = (%v, %q), want (true, host:a.example.com)", ok, key)
	}
	if ok, _ := reg.Allow(reqA); ok {
		t.Error("host A's bucket should be empty")
	}
	// Host B has its own bucket.
	if ok, _ := reg.Allow(reqB); !ok {
		t.Error("host B should be unaffected by host A's exhaustion")
	}
}

func TestRegistryMethodsShareBucket(t *testing.T) {
	reg := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, PerHost: true})

	get := testRequest(t, "https://a.example.com/x")
	post := httptest.NewRequest(http.MethodPost, "https://a.example.com/x", nil)

	if ok, _ := reg.Allow(get); !ok {
		t.Fatal("GET should be admitted")
	}
	if ok, _ := reg.Allow(post); !ok {
		t.Fatal("POST draws from the same bucket and should be admitted")
	}
	if ok, _ := reg.Allow(get); ok {
		t.Error("third call should be denied regardless of method")
	}
}

func TestRegistryTokens(t *testing.T) {
	reg := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 3, PerHost: true})

	if got := reg.Tokens("host:a.example.com"); got != 3 {
		t.Errorf("unused bucket should read full, got %d", got)
	}

	req := testRequest(t, "https://a.example.com/x")
	reg.Allow(req)

	if got := reg.Tokens("host:a.example.com"); got != 2 {
		t.Errorf("Expected 2 tokens after one admission, got %d", got)
	}
}

func TestRegistryBucketKey(t *testing.T) {
	perHost := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, PerHost: true})
	global := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	req := testRequest(t, "https://api.zkillboard.com/kills/")
	if got := perHost.BucketKey(req); got != "host:api.zkillboard.com" {
		t.Errorf("BucketKey() = %q", got)
	}
	if got := global.BucketKey(req); got != GlobalBucketKey {
		t.Errorf("BucketKey() = %q", got)
	}
}

func TestRegistryRefillIsPerBucket(t *testing.T) {
	reg := NewRateLimiterRegistry(RateLimitConfig{RequestsPerSecond: 50, Burst: 1, PerHost: true})

	req := testRequest(t, "https://a.example.com/x")
	if ok, _ := reg.Allow(req); !ok {
		t.Fatal("first call should be admitted")
	}
	if ok, _ := reg.Allow(req); ok {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(30 * time.Millisecond)

	if ok, _ := reg.Allow(req); !ok {
		t.Error("bucket should have refilled at 50 rps")
	}
}
