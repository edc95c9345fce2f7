package relayhttp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// fixedClock pins a BreakerStore's clock so recovery windows can be crossed
// without sleeping.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(cfg CircuitBreakerConfig) (*BreakerStore, *fixedClock) {
	store := NewBreakerStore(cfg)
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	store.now = clock.Now
	return store, clock
}

func TestBreakerStoreDefaults(t *testing.T) {
	store := NewBreakerStore(CircuitBreakerConfig{})

	assert.Equal(t, 5, store.defaults.FailureThreshold)
	assert.Equal(t, 60*time.Second, store.defaults.RecoveryTimeout)
	assert.Equal(t, 1, store.defaults.SuccessThreshold)
	assert.Equal(t, 1, store.defaults.HalfOpenProbes)
}

func TestBreakerStoreUnknownKeyReadsClosed(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{})

	// Reads are idempotent until a mutating operation occurs.
	for i := 0; i < 3; i++ {
		info := store.State("never-seen.example.com")
		assert.Equal(t, StateClosed, info.State)
		assert.Zero(t, info.Failures)
		assert.True(t, info.LastFailure.IsZero())
	}
	assert.True(t, store.CanExecute("never-seen.example.com"))
	assert.Empty(t, store.Stats())
}

func TestBreakerStoreOpensAtThreshold(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		store.RecordFailure("a.example.com")
		require.True(t, store.CanExecute("a.example.com"), "should stay closed below threshold")
	}

	store.RecordFailure("a.example.com")

	assert.Equal(t, StateOpen, store.State("a.example.com").State)
	assert.False(t, store.CanExecute("a.example.com"))

	// Another destination is unaffected.
	assert.True(t, store.CanExecute("b.example.com"))
	assert.Equal(t, StateClosed, store.State("b.example.com").State)
}

func TestBreakerStoreSuccessResetsFailureCount(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{FailureThreshold: 3})

	store.RecordFailure("a.example.com")
	store.RecordFailure("a.example.com")
	store.RecordSuccess("a.example.com")

	info := store.State("a.example.com")
	assert.Equal(t, StateClosed, info.State)
	assert.Zero(t, info.Failures)
	assert.False(t, info.LastSuccess.IsZero())

	// The streak restarts: two more failures must not open.
	store.RecordFailure("a.example.com")
	store.RecordFailure("a.example.com")
	assert.True(t, store.CanExecute("a.example.com"))
}

func TestBreakerStoreRecoveryAdmitsSingleProbe(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})

	store.RecordFailure("a.example.com")
	require.False(t, store.CanExecute("a.example.com"))

	clock.Advance(29 * time.Second)
	require.False(t, store.CanExecute("a.example.com"), "still inside recovery window")

	clock.Advance(time.Second)
	require.True(t, store.CanExecute("a.example.com"), "first check after the window is the probe")
	assert.Equal(t, StateHalfOpen, store.State("a.example.com").State)

	// The probe cap is 1 by default: nobody else gets in until an outcome.
	assert.False(t, store.CanExecute("a.example.com"))

	store.RecordSuccess("a.example.com")
	info := store.State("a.example.com")
	assert.Equal(t, StateClosed, info.State)
	assert.Zero(t, info.Failures)
	assert.True(t, store.CanExecute("a.example.com"))
}

func TestBreakerStoreHalfOpenFailureReopens(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
	})

	store.RecordFailure("a.example.com")
	clock.Advance(10 * time.Second)
	require.True(t, store.CanExecute("a.example.com"))

	store.RecordFailure("a.example.com")

	assert.Equal(t, StateOpen, store.State("a.example.com").State)
	assert.False(t, store.CanExecute("a.example.com"))

	// A fresh full recovery window applies.
	clock.Advance(9 * time.Second)
	assert.False(t, store.CanExecute("a.example.com"))
	clock.Advance(time.Second)
	assert.True(t, store.CanExecute("a.example.com"))
}

func TestBreakerStoreSuccessThreshold(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		SuccessThreshold: 2,
		HalfOpenProbes:   2,
	})

	store.RecordFailure("a.example.com")
	clock.Advance(time.Second)
	require.True(t, store.CanExecute("a.example.com"))

	store.RecordSuccess("a.example.com")
	assert.Equal(t, StateHalfOpen, store.State("a.example.com").State, "one success is not enough at threshold 2")

	require.True(t, store.CanExecute("a.example.com"))
	store.RecordSuccess("a.example.com")
	assert.Equal(t, StateClosed, store.State("a.example.com").State)
}

func TestBreakerStoreLostProbeRearms(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
	})

	store.RecordFailure("a.example.com")
	clock.Advance(10 * time.Second)
	require.True(t, store.CanExecute("a.example.com"))

	// The probe's outcome is never recorded: the caller went away before the
	// transport finished. The slot stays claimed for one more recovery window.
	require.False(t, store.CanExecute("a.example.com"))
	clock.Advance(9 * time.Second)
	assert.False(t, store.CanExecute("a.example.com"))

	clock.Advance(time.Second)
	require.True(t, store.CanExecute("a.example.com"), "a lost probe must not wedge the circuit")
	assert.Equal(t, StateHalfOpen, store.State("a.example.com").State)

	store.RecordSuccess("a.example.com")
	assert.Equal(t, StateClosed, store.State("a.example.com").State)
}

func TestBreakerStoreSuccessThresholdAboveProbeCap(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		SuccessThreshold: 2,
		// HalfOpenProbes defaults to 1.
	})

	store.RecordFailure("a.example.com")
	clock.Advance(time.Second)
	require.True(t, store.CanExecute("a.example.com"))

	store.RecordSuccess("a.example.com")
	assert.Equal(t, StateHalfOpen, store.State("a.example.com").State, "one success is not enough at threshold 2")

	require.True(t, store.CanExecute("a.example.com"), "a completed probe releases its slot")
	store.RecordSuccess("a.example.com")
	assert.Equal(t, StateClosed, store.State("a.example.com").State)
}

func TestBreakerStoreConcurrentProbeElection(t *testing.T) {
	store, clock := newTestStore(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	store.RecordFailure("a.example.com")
	clock.Advance(2 * time.Second)

	const callers = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.CanExecute("a.example.com") {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load(), "exactly one caller may be the probe")
}

func TestBreakerStoreResetAndClearAll(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{FailureThreshold: 1})

	store.RecordFailure("a.example.com")
	store.RecordFailure("b.example.com")
	require.False(t, store.CanExecute("a.example.com"))

	store.Reset("a.example.com")
	assert.True(t, store.CanExecute("a.example.com"))
	assert.Equal(t, StateClosed, store.State("a.example.com").State)
	assert.False(t, store.CanExecute("b.example.com"), "reset is per-key")

	store.ClearAll()
	assert.True(t, store.CanExecute("b.example.com"))
	assert.Empty(t, store.Stats())
}

func TestBreakerStoreStatsSnapshot(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{FailureThreshold: 2})

	store.RecordFailure("a.example.com")
	store.RecordFailure("a.example.com")
	store.RecordSuccess("b.example.com")

	stats := store.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateOpen, stats["a.example.com"].State)
	assert.Equal(t, 2, stats["a.example.com"].Failures)
	assert.Equal(t, StateClosed, stats["b.example.com"].State)
}

func TestBreakerStorePerKeyOverride(t *testing.T) {
	store, _ := newTestStore(CircuitBreakerConfig{FailureThreshold: 5})
	store.Configure("strict.example.com", CircuitBreakerConfig{FailureThreshold: 1})

	store.RecordFailure("strict.example.com")
	store.RecordFailure("loose.example.com")

	assert.False(t, store.CanExecute("strict.example.com"))
	assert.True(t, store.CanExecute("loose.example.com"))
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
