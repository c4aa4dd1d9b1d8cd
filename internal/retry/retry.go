// Package retry implements the optional Update-with-Retry Wrapper from
// spec.md §4.6: it sits in front of a sync.Facade, coalesces overlapping
// update() calls per group, waits out offline periods, and retries
// retriable failures with exponential backoff.
//
// The retry loop is grounded on the teacher's BatchWriter
// (pkg/ingest/batch_writer.go): a context.CancelFunc-cancelable loop, run
// on the calling goroutine and woken by a timer, with a mutex-guarded
// closed flag and a sentinel error for "already closed".
package retry

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/japaniel/jpdictsync/internal/errs"
	syncpkg "github.com/japaniel/jpdictsync/internal/sync"
)

// ErrClosed is returned by Update once the Controller has been closed.
var ErrClosed = errors.New("retry: controller closed")

const (
	baseDelayMin         = 3 * time.Second
	baseDelayMax         = 6 * time.Second
	maxDelay             = 12 * time.Hour
	maxConstraintRetries = 2
)

// OnlineChecker reports whether the network is currently reachable.
// Implementations typically poll or wrap a platform connectivity signal.
type OnlineChecker interface {
	Online() bool
}

// Controller wraps a Facade with offline-awaiting and backoff retry, one
// per process (spec.md §4.6).
type Controller struct {
	Facade  *syncpkg.Facade
	Checker OnlineChecker
	Logger  *log.Logger

	mu       sync.Mutex
	closed   bool
	inFlight map[string]*attemptState // keyed by a stable group label
}

type attemptState struct {
	running       bool
	offlineWait   bool
	retryCount    int
	firstRetryEnd time.Time
	cancel        context.CancelFunc
	done          chan struct{}
	err           error
}

func groupKey(opts syncpkg.UpdateOptions) string {
	if len(opts.Series) == 0 {
		return "kanji-group"
	}
	// Any series in the request maps onto the Facade's own grouping; the
	// controller only needs a stable label to coalesce by, so it uses the
	// sorted series names directly.
	names := make([]string, 0, len(opts.Series))
	for s := range opts.Series {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// NewController constructs a Controller over f.
func NewController(f *syncpkg.Facade) *Controller {
	return &Controller{
		Facade:   f,
		inFlight: make(map[string]*attemptState),
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Update runs opts through the wrapped Facade with offline-awaiting and
// backoff retry, blocking until the update finally succeeds, fails with a
// non-retriable error, or ctx is canceled. forceUpdate overrides
// coalescing unless the group is currently running, offline-waiting, or
// inside its first retry window (spec.md §4.6).
func (c *Controller) Update(ctx context.Context, opts syncpkg.UpdateOptions, forceUpdate bool) error {
	key := groupKey(opts)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st, exists := c.inFlight[key]
	if exists && !forceUpdate {
		done := st.done
		c.mu.Unlock()
		select {
		case <-done:
			return st.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if exists && forceUpdate {
		blocked := st.running || st.offlineWait || time.Now().Before(st.firstRetryEnd)
		if blocked {
			done := st.done
			c.mu.Unlock()
			select {
			case <-done:
				return st.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		old := st
		c.mu.Unlock()
		old.cancel()
		<-old.done
		c.mu.Lock()
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	st = &attemptState{running: true, cancel: cancel, done: make(chan struct{})}
	c.inFlight[key] = st
	c.mu.Unlock()

	st.err = c.runWithRetry(attemptCtx, opts, key, st)
	close(st.done)

	c.mu.Lock()
	if c.inFlight[key] == st {
		delete(c.inFlight, key)
	}
	c.mu.Unlock()
	return st.err
}

func (c *Controller) runWithRetry(ctx context.Context, opts syncpkg.UpdateOptions, key string, st *attemptState) error {
	for {
		if c.Checker != nil && !c.Checker.Online() {
			c.mu.Lock()
			st.running = false
			st.offlineWait = true
			c.mu.Unlock()
			if err := c.waitOnline(ctx, key); err != nil {
				return err
			}
			c.mu.Lock()
			st.offlineWait = false
			st.running = true
			c.mu.Unlock()
		}

		errCh := c.Facade.Update(ctx, opts)
		var firstErr error
		for err := range errCh {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if firstErr == nil {
			return nil
		}
		if errors.Is(firstErr, errs.Abort) {
			return firstErr
		}
		if errors.Is(firstErr, errs.Offline) {
			c.mu.Lock()
			st.running = false
			st.offlineWait = true
			c.mu.Unlock()
			if err := c.waitOnline(ctx, key); err != nil {
				return err
			}
			c.mu.Lock()
			st.offlineWait = false
			st.running = true
			c.mu.Unlock()
			continue
		}

		var se *errs.Error
		retriable := errors.As(firstErr, &se) && se.Retriable()
		if se != nil && se.Kind == errs.KindConstraintViolation {
			if st.retryCount >= maxConstraintRetries {
				c.logf("retry: %s exhausted constraint-violation retries", key)
				return firstErr
			}
			st.retryCount++
			c.logf("retry: %s retrying immediately after constraint violation, retry %d/%d", key, st.retryCount, maxConstraintRetries)
			if err := c.sleep(ctx, 0); err != nil {
				return err
			}
			continue
		}
		if !retriable {
			return firstErr
		}

		delay := backoffDelay(st.retryCount)
		st.retryCount++
		until := time.Now().Add(delay)
		c.mu.Lock()
		st.firstRetryEnd = until
		c.mu.Unlock()
		c.logf("retry: %s retriable error, retry %d after %s: %v", key, st.retryCount, delay, firstErr)

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitOnline blocks until the Checker reports the network reachable
// again, polling on a short interval; installs no OS-level listener since
// none is available portably, but the polling period is short enough to
// satisfy spec.md §4.6's "resume automatically when online" requirement.
func (c *Controller) waitOnline(ctx context.Context, key string) error {
	if c.Checker == nil {
		return nil
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		if c.Checker.Online() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoffDelay implements spec.md §8's delay(n) formula: for attempt
// n >= 1 (retryCount here is n-1), a value randomized within
// [min(3s*2^(n-1), 12h), min(6s*2^(n-1), 12h)), the upper bound excluded;
// once both bounds reach the 12h cap it returns exactly 12h.
func backoffDelay(retryCount int) time.Duration {
	lo := scaleCapped(baseDelayMin, retryCount)
	hi := scaleCapped(baseDelayMax, retryCount)
	if hi <= lo {
		return lo
	}
	spread := hi - lo
	return lo + time.Duration(rand.Int63n(int64(spread)))
}

func scaleCapped(base time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// CancelUpdate aborts the in-flight (or offline-waiting) attempt for opts,
// canceling its in-flight Applier via the wrapped Facade (spec.md §4.6).
func (c *Controller) CancelUpdate(opts syncpkg.UpdateOptions) {
	key := groupKey(opts)
	c.mu.Lock()
	st, ok := c.inFlight[key]
	c.mu.Unlock()
	if ok {
		st.cancel()
	}
	c.Facade.CancelUpdate(opts)
}

// Close cancels every in-flight attempt and marks the controller unusable.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for _, st := range c.inFlight {
		st.cancel()
	}
	c.mu.Unlock()
}
