package relayhttp

import (
	"sync"
	"time"
)

// BreakerStore tracks circuit health per destination key (typically host).
// Records are created lazily on the first recorded outcome; a never-seen key
// reads as a default closed circuit. The registry map is guarded by an
// RWMutex and each record by its own mutex, so the admit/record sequence for
// one destination is linearizable while destinations never contend with each
// other. None of the operations return errors and none block beyond the short
// per-record critical section.
//
// A BreakerStore may be shared between clients so concurrent callers converge
// on one view of each destination's health.
type BreakerStore struct {
	mu        sync.RWMutex
	records   map[string]*breakerRecord
	defaults  CircuitBreakerConfig
	overrides map[string]CircuitBreakerConfig

	now func() time.Time
}

// breakerRecord is the mutable health record for one destination key. All
// fields change together under mu; readers never observe a torn update.
type breakerRecord struct {
	mu          sync.Mutex
	cfg         CircuitBreakerConfig
	state       CircuitState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
}

// NewBreakerStore creates a store applying cfg to every destination. Zero
// fields take the package defaults (threshold 5, recovery 60s, one probe,
// one success to close).
func NewBreakerStore(cfg CircuitBreakerConfig) *BreakerStore {
	return &BreakerStore{
		records:   make(map[string]*breakerRecord),
		defaults:  withBreakerDefaults(cfg),
		overrides: make(map[string]CircuitBreakerConfig),
		now:       time.Now,
	}
}

func withBreakerDefaults(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	return cfg
}

// Configure sets a per-destination policy override, e.g. a looser threshold
// for a best-effort upstream. It applies to records created after the call
// and resets any existing record for the key.
func (s *BreakerStore) Configure(key string, cfg CircuitBreakerConfig) {
	s.mu.Lock()
	s.overrides[key] = withBreakerDefaults(cfg)
	delete(s.records, key)
	s.mu.Unlock()
}

// State returns a snapshot of the destination's circuit health. Unknown keys
// read as a default closed record; State never fails and never allocates a
// record.
func (s *BreakerStore) State(key string) CircuitInfo {
	s.mu.RLock()
	r := s.records[key]
	s.mu.RUnlock()
	if r == nil {
		return CircuitInfo{State: StateClosed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return CircuitInfo{
		State:       r.state,
		Failures:    r.failures,
		LastFailure: r.lastFailure,
		LastSuccess: r.lastSuccess,
		NextAttempt: r.nextAttempt,
	}
}

// CanExecute reports whether a request to the destination should be admitted.
// For an open circuit whose recovery timeout has elapsed, the transition to
// half-open happens atomically with the admission decision, so exactly one
// caller becomes the probe; further callers are admitted only while the
// half-open probe cap has room. A probe slot is held until its outcome is
// recorded; if no outcome arrives within another recovery timeout the probes
// are presumed lost (caller went away before the transport finished) and the
// slot re-arms, so an unrecorded outcome can delay recovery but never wedge
// the circuit.
func (s *BreakerStore) CanExecute(key string) bool {
	s.mu.RLock()
	r := s.records[key]
	s.mu.RUnlock()
	if r == nil {
		// No recorded outcome yet: closed by default.
		return true
	}

	now := s.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateClosed:
		return true
	case StateOpen:
		if !now.Before(r.nextAttempt) {
			r.state = StateHalfOpen
			r.successes = 0
			r.probes = 1 // this admission is the probe
			r.nextAttempt = now.Add(r.cfg.RecoveryTimeout)
			return true
		}
		return false
	case StateHalfOpen:
		if r.probes < r.cfg.HalfOpenProbes {
			r.probes++
			return true
		}
		if !now.Before(r.nextAttempt) {
			// The in-flight probes never reported back; reclaim the slots.
			r.probes = 1
			r.nextAttempt = now.Add(r.cfg.RecoveryTimeout)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful outcome for the destination. A half-open
// circuit closes once SuccessThreshold probe successes arrive; a success that
// does not yet close releases its probe slot, so thresholds above the probe
// cap accumulate across sequential probes. In any other state the failure
// count resets.
func (s *BreakerStore) RecordSuccess(key string) {
	r := s.record(key)
	now := s.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSuccess = now
	if r.state == StateHalfOpen {
		r.successes++
		if r.successes >= r.cfg.SuccessThreshold {
			r.state = StateClosed
			r.failures = 0
			r.successes = 0
			r.probes = 0
			return
		}
		if r.probes > 0 {
			r.probes--
		}
		return
	}
	r.failures = 0
}

// RecordFailure records a failed outcome for the destination. Reaching the
// failure threshold opens the circuit; a failure while half-open reopens it
// immediately with a fresh recovery window.
func (s *BreakerStore) RecordFailure(key string) {
	r := s.record(key)
	now := s.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	r.lastFailure = now
	switch r.state {
	case StateHalfOpen:
		r.state = StateOpen
		r.nextAttempt = now.Add(r.cfg.RecoveryTimeout)
		r.successes = 0
		r.probes = 0
	case StateClosed:
		if r.failures >= r.cfg.FailureThreshold {
			r.state = StateOpen
			r.nextAttempt = now.Add(r.cfg.RecoveryTimeout)
		}
	case StateOpen:
		// Already open; only the counters and lastFailure move.
	}
}

// Reset returns the destination to a fresh closed record. Administrative; not
// required for steady-state correctness.
func (s *BreakerStore) Reset(key string) {
	s.mu.RLock()
	r := s.records[key]
	s.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	r.state = StateClosed
	r.failures = 0
	r.successes = 0
	r.probes = 0
	r.lastFailure = time.Time{}
	r.lastSuccess = time.Time{}
	r.nextAttempt = time.Time{}
	r.mu.Unlock()
}

// ClearAll drops every record. Administrative; used by tests and ops tooling.
func (s *BreakerStore) ClearAll() {
	s.mu.Lock()
	s.records = make(map[string]*breakerRecord)
	s.mu.Unlock()
}

// Stats snapshots every destination's circuit health. O(n) in tracked
// destinations; intended for observability, not the request path.
func (s *BreakerStore) Stats() map[string]CircuitInfo {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	stats := make(map[string]CircuitInfo, len(keys))
	for _, key := range keys {
		stats[key] = s.State(key)
	}
	return stats
}

// record returns the destination's record, creating it on first use.
func (s *BreakerStore) record(key string) *breakerRecord {
	s.mu.RLock()
	r := s.records[key]
	s.mu.RUnlock()
	if r != nil {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.records[key]; r != nil {
		return r
	}
	cfg := s.defaults
	if override, ok := s.overrides[key]; ok {
		cfg = override
	}
	r = &breakerRecord{cfg: cfg, state: StateClosed}
	s.records[key] = r
	return r
}
