package downloader

import (
	"context"
	"io"
	"time"

	"github.com/japaniel/jpdictsync/internal/errs"
)

var errStalled = errs.New(errs.KindDataFileNotAccessible, "no progress within stall timeout", nil)

// stallGuard wraps a response body so that a Read which makes no progress
// for timeout aborts the download instead of hanging indefinitely (spec.md
// §5, the stalled-progress watchdog). Each successful Read resets the
// timer.
type stallGuard struct {
	ctx     context.Context
	r       io.Reader
	timeout time.Duration
}

func newStallGuard(ctx context.Context, r io.Reader, timeout time.Duration) io.Reader {
	return &stallGuard{ctx: ctx, r: r, timeout: timeout}
}

func (g *stallGuard) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := g.r.Read(p)
		done <- result{n, err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, errStalled
	case <-g.ctx.Done():
		return 0, g.ctx.Err()
	}
}
