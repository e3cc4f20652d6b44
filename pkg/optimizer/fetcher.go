// Package optimizer runs the fast-path optimization cycle: it selects the
// analytics window, fetches candidate prefixes, reconciles them into the
// persisted lists, installs them on the device and purges old analytics data.
package optimizer

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/sir"
	"github.com/newtron-network/fibopt/pkg/util"
	"github.com/newtron-network/fibopt/pkg/window"
)

// Analytics is the traffic-analytics service the optimizer reads from and
// purges. *sir.Client implements it.
type Analytics interface {
	AvailableDates(ctx context.Context) ([]time.Time, error)
	TopPrefixes(ctx context.Context, q sir.TopPrefixesQuery) ([]sir.TopPrefix, error)
	PurgeBGP(ctx context.Context, olderThan time.Time) error
	PurgeFlows(ctx context.Context, olderThan time.Time) error
}

var _ Analytics = (*sir.Client)(nil)

// Fetcher asks the analytics service for the top prefixes of each class.
type Fetcher struct {
	api      Analytics
	lemMask  int
	excluded *bart.Table[string]
}

// NewFetcher creates a fetcher. LEM candidates are the prefixes with mask
// length lemMask; LPM candidates are everything else. Candidates equal to or
// inside one of the excluded prefixes are dropped.
func NewFetcher(api Analytics, lemMask int, exclude []string) (*Fetcher, error) {
	if err := util.ValidateMaskLength(lemMask); err != nil {
		return nil, err
	}
	table := new(bart.Table[string])
	for _, s := range exclude {
		pfx, err := util.ParseIPv4Prefix(s)
		if err != nil {
			return nil, fmt.Errorf("exclude prefix: %w", err)
		}
		table.Insert(pfx, s)
	}
	return &Fetcher{api: api, lemMask: lemMask, excluded: table}, nil
}

// Query builds the top-prefix request for a class.
func (f *Fetcher) Query(class prefixlist.Class, w window.Window, limit int) sir.TopPrefixesQuery {
	q := sir.TopPrefixesQuery{
		Start: w.Start,
		End:   w.End,
		Limit: limit,
		Proto: 4,
	}
	if class == prefixlist.LEM {
		q.NetMasks = []int{f.lemMask}
	} else {
		q.ExcludeNetMasks = []int{f.lemMask}
	}
	return q
}

// Fetch returns the candidate set for one class, at most limit prefixes.
// Any transport error or an empty answer is a FetchFailedError.
func (f *Fetcher) Fetch(ctx context.Context, class prefixlist.Class, w window.Window, limit int) (prefixlist.CandidateSet, error) {
	log := util.WithClass(class.String())

	top, err := f.api.TopPrefixes(ctx, f.Query(class, w, limit))
	if err != nil {
		return nil, &util.FetchFailedError{Class: class.String(), Err: err}
	}

	candidates := make(prefixlist.CandidateSet, len(top))
	for _, tp := range top {
		if len(candidates) >= limit {
			break
		}
		pfx, err := util.ParseIPv4Prefix(tp.Key)
		if err != nil {
			log.Warnf("Ignoring invalid prefix %q: %v", tp.Key, err)
			continue
		}
		if by, ok := f.excludedBy(pfx); ok {
			log.Debugf("Skipping %s, excluded by %s", pfx, by)
			continue
		}
		candidates[pfx.String()] = struct{}{}
	}
	if len(candidates) == 0 {
		return nil, &util.FetchFailedError{Class: class.String()}
	}

	log.Debugf("Fetched %d candidates (%d returned)", len(candidates), len(top))
	return candidates, nil
}

func (f *Fetcher) excludedBy(pfx netip.Prefix) (string, bool) {
	return f.excluded.LookupPrefix(pfx)
}
