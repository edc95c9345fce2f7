package relayhttp

import (
	"net/http"
	"sync"
)

// GlobalBucketKey is the bucket key used when rate limiting is not per-host.
const GlobalBucketKey = "global"

// RateLimiterRegistry maps bucket keys to token buckets created lazily from
// one RateLimitConfig. With PerHost set, each destination host gets its own
// bucket; otherwise every request shares the global bucket. All HTTP methods
// draw from the same bucket for a given key.
type RateLimiterRegistry struct {
	mu      sync.RWMutex
	cfg     RateLimitConfig
	buckets map[string]*RateLimiter
}

// NewRateLimiterRegistry creates a registry applying cfg to every bucket.
func NewRateLimiterRegistry(cfg RateLimitConfig) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		cfg:     cfg,
		buckets: make(map[string]*RateLimiter),
	}
}

// BucketKey computes the bucket identity for a request.
func (r *RateLimiterRegistry) BucketKey(req *http.Request) string {
	if !r.cfg.PerHost {
		return GlobalBucketKey
	}
	return "host:" + hostFromRequest(req)
}

// Allow attempts to consume one token from the request's bucket, returning
// the admission decision and the bucket key it applied to.
func (r *RateLimiterRegistry) Allow(req *http.Request) (bool, string) {
	key := r.BucketKey(req)
	return r.bucket(key).Allow(), key
}

// Tokens returns the available tokens for a bucket key. A bucket that has
// never admitted a request reads as full.
func (r *RateLimiterRegistry) Tokens(key string) int64 {
	r.mu.RLock()
	bucket := r.buckets[key]
	r.mu.RUnlock()
	if bucket == nil {
		return int64(r.cfg.Burst)
	}
	return bucket.Tokens()
}

func (r *RateLimiterRegistry) bucket(key string) *RateLimiter {
	r.mu.RLock()
	bucket := r.buckets[key]
	r.mu.RUnlock()
	if bucket != nil {
		return bucket
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket = r.buckets[key]; bucket != nil {
		return bucket
	}
	bucket = newRateLimiterFromConfig(r.cfg)
	r.buckets[key] = bucket
	return bucket
}
