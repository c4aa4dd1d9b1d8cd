package sync

import "github.com/google/uuid"

// newCorrelationID tags one group update attempt; updateSeries attaches it
// to the start, finish and failure notifications it publishes for each
// series of that attempt. Grounded on
// arkiliandb-Arkilian's use of google/uuid for request correlation.
func newCorrelationID() string {
	return uuid.NewString()
}
