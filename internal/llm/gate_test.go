package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowText records the peak number of concurrent Complete calls.
type slowText struct {
	inFlight int32
	peak     int32
}

func (s *slowText) Complete(ctx context.Context, prompt string) (string, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return "ok", nil
}

func (s *slowText) GetModel() string { return "slow" }

// TestGate_CapsConcurrency verifies no more than maxConcurrent completions
// run at once.
func TestGate_CapsConcurrency(t *testing.T) {
	inner := &slowText{}
	gated := NewGatedText(inner, NewGate(2, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gated.Complete(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&inner.peak), int32(2))
}

// TestGate_AcquireHonorsContext verifies a cancelled context unblocks a
// waiting caller.
func TestGate_AcquireHonorsContext(t *testing.T) {
	gate := NewGate(1, 0)

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestCircuitBreaker_OpensAfterConsecutiveFailures verifies the trip
// threshold and the fast-fail behavior once open.
func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()
	boom := errors.New("provider down")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", cb.State())

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the provider")
}

// TestCircuitBreaker_SuccessResetsCount verifies intermittent failures
// below the threshold never trip the circuit.
func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()
	boom := errors.New("flaky")

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(ctx, func() (interface{}, error) { return nil, boom })
		_, err := cb.Execute(ctx, func() (interface{}, error) { return "ok", nil })
		require.NoError(t, err)
	}
	assert.Equal(t, "closed", cb.State())
}

// TestCircuitBreaker_ContextCancelled verifies a dead context short-circuits
// before the provider is called.
func TestCircuitBreaker_ContextCancelled(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
