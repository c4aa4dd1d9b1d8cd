package applier

import (
	"sync"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// seriesGuard enforces spec.md §5's single-in-flight-update-per-series
// rule: a second update attempt for a series that is already updating
// fails immediately with errs.OverlappingUpdate rather than queueing or
// blocking. Grounded on the teacher's ErrPoolClosed sentinel-error style
// (pkg/ingest/workerpool.go) — a plain guarded map rather than a
// semaphore, since there is never more than one slot per series.
type seriesGuard struct {
	mu     sync.Mutex
	active map[model.Series]bool
}

func newSeriesGuard() *seriesGuard {
	return &seriesGuard{active: make(map[model.Series]bool)}
}

func (g *seriesGuard) acquire(series model.Series) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[series] {
		return errs.OverlappingUpdate
	}
	g.active[series] = true
	return nil
}

func (g *seriesGuard) release(series model.Series) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, series)
}
