package optimizer

import (
	"context"
	"time"

	"github.com/newtron-network/fibopt/pkg/util"
)

// Purge kinds
const (
	PurgeBGP  = "bgp"
	PurgeFlow = "flow"
)

// Purger removes analytics data past its retention
type Purger struct {
	api Analytics
}

// NewPurger creates a purger
func NewPurger(api Analytics) *Purger {
	return &Purger{api: api}
}

// Purge deletes BGP data, then flow data, older than olderThan. Nothing is
// undone when the second request fails.
func (p *Purger) Purge(ctx context.Context, olderThan time.Time) error {
	util.Debugf("Purging analytics data older than %s", olderThan.Format(time.RFC3339))
	if err := p.api.PurgeBGP(ctx, olderThan); err != nil {
		return &util.PurgeFailedError{Kind: PurgeBGP, Err: err}
	}
	if err := p.api.PurgeFlows(ctx, olderThan); err != nil {
		return &util.PurgeFailedError{Kind: PurgeFlow, Err: err}
	}
	return nil
}
