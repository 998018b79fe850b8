package refreshable

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

type fakeValue struct {
	n       int
	expires *time.Time
}

func fakeExpiry(v *fakeValue) *time.Time { return v.expires }

func expiringIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

const (
	testBlockingWindow = time.Minute
	testAsyncWindow    = 5 * time.Minute
)

func newTestTask(t *testing.T, opts TaskOptions[fakeValue]) *Task[fakeValue] {
	t.Helper()
	if opts.ShouldBlockingRefresh == nil {
		opts.ShouldBlockingRefresh = BlockingExpiryPredicate(testBlockingWindow, fakeExpiry)
	}
	if opts.ShouldAsyncRefresh == nil {
		opts.ShouldAsyncRefresh = AsyncExpiryPredicate(testAsyncWindow, fakeExpiry)
	}
	task, err := NewTask(opts)
	require.NoError(t, err)
	t.Cleanup(task.Close)
	return task
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestNewTaskValidation(t *testing.T) {
	_, err := NewTask(TaskOptions[fakeValue]{})
	assert.Error(t, err)
}

func TestFirstGetValueBlocksForFetch(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			count.Add(1)
			return &fakeValue{n: 1, expires: expiringIn(time.Hour)}, nil
		},
	})

	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n)
	assert.Equal(t, int32(1), count.Load())
}

func TestFreshValueNoFetch(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			count.Add(1)
			return &fakeValue{n: 1, expires: expiringIn(10 * time.Minute)}, nil
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n)
	assert.Equal(t, int32(2), count.Load(), "fresh value should be served without a fetch")
}

func TestNearExpiryForcesBlockingRefresh(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			n := int(count.Add(1))
			if n == 1 {
				return &fakeValue{n: n, expires: expiringIn(30 * time.Second)}, nil
			}
			return &fakeValue{n: n, expires: expiringIn(time.Hour)}, nil
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 2, v.n, "value within the blocking window must be replaced before being returned")
	assert.True(t, time.Until(*v.expires) > testBlockingWindow)
}

func TestAsyncRefreshReturnsStaleValueImmediately(t *testing.T) {
	var count atomic.Int32
	release := make(chan struct{})
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			n := int(count.Add(1))
			if n == 1 {
				// value inside the async window but outside the blocking one
				return &fakeValue{n: n, expires: expiringIn(3 * time.Minute)}, nil
			}
			<-release
			return &fakeValue{n: n, expires: expiringIn(time.Hour)}, nil
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n, "caller should get the current value while the refresh runs in the background")

	close(release)
	waitFor(t, func() bool { return task.Current().n == 2 })
}

func TestAsyncRefreshSingleFlight(t *testing.T) {
	var dispatched atomic.Int32
	seeded := make(chan struct{})
	release := make(chan struct{})
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			n := int(dispatched.Add(1))
			select {
			case <-seeded:
				<-release
			default:
				close(seeded)
			}
			return &fakeValue{n: n, expires: expiringIn(3 * time.Minute)}, nil
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := task.GetValue()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return dispatched.Load() == 2 })

	// with the refresh still in flight, further triggers must be no-ops
	for i := 0; i < 8; i++ {
		_, err := task.GetValue()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), dispatched.Load(), "only one background refresh may be in flight")
	close(release)
}

func TestConcurrentBlockingRefreshFetchesOnce(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			count.Add(1)
			time.Sleep(50 * time.Millisecond)
			return &fakeValue{n: 1, expires: expiringIn(time.Hour)}, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := task.GetValue()
			assert.NoError(t, err)
			assert.NotNil(t, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), count.Load(), "waiters must reuse the refresh done while they held off on the lock")
}

func TestLockTimeoutFallsBackToUnlockedFetch(t *testing.T) {
	var count atomic.Int32
	release := make(chan struct{})
	task := newTestTask(t, TaskOptions[fakeValue]{
		BlockingMaxWait: 50 * time.Millisecond,
		Fetch: func() (*fakeValue, error) {
			n := int(count.Add(1))
			if n == 1 {
				<-release
			}
			return &fakeValue{n: n, expires: expiringIn(time.Hour)}, nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := task.GetValue()
		assert.NoError(t, err)
	}()

	// second caller cannot acquire the lock held by the gated fetch and,
	// after the bounded wait, fetches without it
	waitFor(t, func() bool { return count.Load() == 1 })
	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 2, v.n)

	close(release)
	wg.Wait()

	// last writer wins, either full value is acceptable
	final := task.Current()
	require.NotNil(t, final)
	assert.Contains(t, []int{1, 2}, final.n)
	assert.Equal(t, int32(2), count.Load())
}

func TestFetchFailurePropagatesAndCacheStaysEmpty(t *testing.T) {
	cause := errors.New("exchange unavailable")
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) { return nil, cause },
	})

	_, err := task.GetValue()
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, task.Current())
}

func TestAsyncFailureKeepsCurrentValue(t *testing.T) {
	var count atomic.Int32
	asyncErrs := make(chan error, 2)
	task := newTestTask(t, TaskOptions[fakeValue]{
		OnAsyncError: func(err error) { asyncErrs <- err },
		Fetch: func() (*fakeValue, error) {
			if count.Add(1) == 1 {
				return &fakeValue{n: 1, expires: expiringIn(3 * time.Minute)}, nil
			}
			return nil, errors.New("boom")
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n)

	select {
	case err := <-asyncErrs:
		assert.EqualError(t, errors.Cause(err), "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("async failure was not reported")
	}

	// the in-flight flag must be clear again so a later trigger reschedules
	_, err = task.GetValue()
	require.NoError(t, err)
	waitFor(t, func() bool { return count.Load() == 3 })
	assert.Equal(t, 1, task.Current().n, "stale value must survive failed refreshes")
}

func TestNilValueWithoutErrorIsInvalidState(t *testing.T) {
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) { return nil, nil },
	})

	_, err := task.ForceGetValue()
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, ErrNoValue))

	_, err = task.GetValue()
	assert.True(t, xerrors.Is(err, ErrNoValue))
}

func TestForceGetValueIgnoresPolicy(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			return &fakeValue{n: int(count.Add(1)), expires: expiringIn(10 * time.Minute)}, nil
		},
	})

	v, err := task.ForceGetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n)

	v, err = task.ForceGetValue()
	require.NoError(t, err)
	assert.Equal(t, 2, v.n, "force refresh must fetch even though the value is fresh")
}

func TestCloseIsIdempotentAndStopsWorker(t *testing.T) {
	var count atomic.Int32
	task := newTestTask(t, TaskOptions[fakeValue]{
		Fetch: func() (*fakeValue, error) {
			return &fakeValue{n: int(count.Add(1)), expires: expiringIn(3 * time.Minute)}, nil
		},
	})

	_, err := task.ForceGetValue()
	require.NoError(t, err)

	task.Close()
	task.Close()

	// async-eligible value, but the worker is gone; the trigger must not run
	v, err := task.GetValue()
	require.NoError(t, err)
	assert.Equal(t, 1, v.n)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load(), "no background task may run after Close")

	// synchronous paths still work after Close
	v, err = task.ForceGetValue()
	require.NoError(t, err)
	assert.Equal(t, 2, v.n)
}
