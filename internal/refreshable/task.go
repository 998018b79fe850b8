// Package refreshable provides a single-value cache whose content is
// refreshed on demand, either synchronously when a caller can no longer be
// handed the current value, or asynchronously in the background while the
// current value is still usable.
package refreshable

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultBlockingMaxWait caps how long a caller waits for the refresh lock
// before fetching without it. This rate-limits duplicate fetches: in the
// common case one caller performs the refresh and everyone else reuses its
// result once the lock is released.
const DefaultBlockingMaxWait = 5 * time.Second

// ErrNoValue is returned when a refresh completed without error but left no
// value in the cache. That means the fetch callback broke its contract.
var ErrNoValue = errors.New("refreshed value should never be nil")

// FetchFunc produces a new value for the cache.
type FetchFunc[T any] func() (*T, error)

// Predicate inspects the current cached value and reports whether a refresh
// is due. It receives nil before the first successful refresh.
type Predicate[T any] func(*T) bool

// TaskOptions configures a Task.
type TaskOptions[T any] struct {
	// Fetch is called to produce a new value. Required.
	Fetch FetchFunc[T]

	// ShouldBlockingRefresh reports whether the caller must not be handed
	// the current value without refreshing first. Required.
	ShouldBlockingRefresh Predicate[T]

	// ShouldAsyncRefresh reports whether a background refresh should be
	// kicked off while the current value is still served. Required.
	ShouldAsyncRefresh Predicate[T]

	// BlockingMaxWait overrides DefaultBlockingMaxWait when > 0.
	BlockingMaxWait time.Duration

	// OnAsyncError is invoked with failures from background refreshes,
	// which are otherwise invisible to callers. Optional.
	OnAsyncError func(error)
}

func (o TaskOptions[T]) validate() error {
	if o.Fetch == nil {
		return errors.New("refreshable: Fetch is required")
	}
	if o.ShouldBlockingRefresh == nil {
		return errors.New("refreshable: ShouldBlockingRefresh is required")
	}
	if o.ShouldAsyncRefresh == nil {
		return errors.New("refreshable: ShouldAsyncRefresh is required")
	}
	return nil
}

// Task caches the latest value produced by a fetch callback and keeps it
// fresh according to the two injected predicates. All methods are safe for
// concurrent use.
type Task[T any] struct {
	fetch       FetchFunc[T]
	shouldBlock Predicate[T]
	shouldAsync Predicate[T]
	maxWait     time.Duration
	onAsyncErr  func(error)

	// value is replaced wholesale on refresh, never mutated in place, so
	// readers need no lock.
	value atomic.Pointer[T]

	// refreshLock has capacity 1 and acts as a mutex with a timed acquire.
	// It is held only across the decide-and-fetch section of a blocking
	// refresh.
	refreshLock chan struct{}

	// asyncInFlight ensures at most one background refresh is scheduled at
	// any time.
	asyncInFlight atomic.Bool

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewTask starts the background worker and returns the configured Task.
func NewTask[T any](opts TaskOptions[T]) (*Task[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	maxWait := opts.BlockingMaxWait
	if maxWait <= 0 {
		maxWait = DefaultBlockingMaxWait
	}
	t := &Task[T]{
		fetch:       opts.Fetch,
		shouldBlock: opts.ShouldBlockingRefresh,
		shouldAsync: opts.ShouldAsyncRefresh,
		maxWait:     maxWait,
		onAsyncErr:  opts.OnAsyncError,
		refreshLock: make(chan struct{}, 1),
		jobs:        make(chan func(), 1),
		done:        make(chan struct{}),
	}
	go t.worker()
	return t, nil
}

// GetValue returns a valid value, refreshing if necessary. It may return the
// current value as-is, kick off an async refresh and return the current
// value, or perform a blocking refresh when the current value can no longer
// be handed out.
func (t *Task[T]) GetValue() (*T, error) {
	if t.shouldBlock(t.value.Load()) {
		if err := t.blockingRefresh(); err != nil {
			return nil, err
		}
	} else if t.shouldAsync(t.value.Load()) {
		t.asyncRefresh()
	}
	return t.refreshedValue()
}

// ForceGetValue refreshes the value unconditionally, ignoring both
// predicates and the refresh lock, then returns it.
func (t *Task[T]) ForceGetValue() (*T, error) {
	if _, err := t.refreshValue(); err != nil {
		return nil, err
	}
	return t.refreshedValue()
}

// Current returns the cached value without triggering any refresh. It is nil
// before the first successful refresh.
func (t *Task[T]) Current() *T {
	return t.value.Load()
}

// Close stops the background worker. It is idempotent and does not cancel a
// synchronous fetch already in progress.
func (t *Task[T]) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *Task[T]) worker() {
	for {
		select {
		case <-t.done:
			return
		case job := <-t.jobs:
			job()
		}
	}
}

func (t *Task[T]) refreshedValue() (*T, error) {
	if v := t.value.Load(); v != nil {
		return v, nil
	}
	return nil, ErrNoValue
}

// blockingRefresh is used when the caller cannot return without a refreshed
// value. Callers are held until a new value is produced or the fetch fails.
func (t *Task[T]) blockingRefresh() error {
	timer := time.NewTimer(t.maxWait)
	defer timer.Stop()

	select {
	case t.refreshLock <- struct{}{}:
		defer func() { <-t.refreshLock }()
		// Another caller may have refreshed while we waited for the lock.
		if !t.shouldBlock(t.value.Load()) {
			return nil
		}
		_, err := t.refreshValue()
		return err
	case <-timer.C:
	}

	// The lock is held by a slow fetch. Fetch without it: a possible
	// duplicate outbound call in exchange for bounded caller latency.
	log.Debug("timed out waiting for refresh lock, refreshing without it")
	_, err := t.refreshValue()
	return err
}

// asyncRefresh schedules a background refresh unless one is already in
// flight. The caller is never blocked.
func (t *Task[T]) asyncRefresh() {
	if !t.asyncInFlight.CompareAndSwap(false, true) {
		return
	}
	job := func() {
		defer t.asyncInFlight.Store(false)
		if _, err := t.refreshValue(); err != nil {
			log.Warnf("async refresh failed, keeping current value: %s", err)
			if t.onAsyncErr != nil {
				t.onAsyncErr(err)
			}
		}
	}
	select {
	case <-t.done:
		t.asyncInFlight.Store(false)
		return
	default:
	}
	select {
	case t.jobs <- job:
	case <-t.done:
		t.asyncInFlight.Store(false)
	}
}

// refreshValue invokes the fetch callback and replaces the cached value.
// Last writer wins; both racing writers hold freshly produced values.
func (t *Task[T]) refreshValue() (*T, error) {
	v, err := t.fetch()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNoValue
	}
	t.value.Store(v)
	return v, nil
}
