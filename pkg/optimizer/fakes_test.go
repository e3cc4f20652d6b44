package optimizer

import (
	"context"
	"errors"
	"time"

	"github.com/newtron-network/fibopt/pkg/device"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/sir"
)

type fakeAnalytics struct {
	dates    []time.Time
	datesErr error

	top     map[prefixlist.Class][]sir.TopPrefix
	topErr  map[prefixlist.Class]error
	queries []sir.TopPrefixesQuery

	purgeBGPErr  error
	purgeFlowErr error
	purged       []string
	purgedBefore time.Time
}

func (f *fakeAnalytics) AvailableDates(ctx context.Context) ([]time.Time, error) {
	return f.dates, f.datesErr
}

func (f *fakeAnalytics) TopPrefixes(ctx context.Context, q sir.TopPrefixesQuery) ([]sir.TopPrefix, error) {
	f.queries = append(f.queries, q)
	class := prefixlist.LPM
	if len(q.NetMasks) > 0 {
		class = prefixlist.LEM
	}
	if err := f.topErr[class]; err != nil {
		return nil, err
	}
	if len(f.top[class]) == 0 {
		return nil, sir.ErrEmptyResult
	}
	return f.top[class], nil
}

func (f *fakeAnalytics) PurgeBGP(ctx context.Context, olderThan time.Time) error {
	f.purged = append(f.purged, PurgeBGP)
	f.purgedBefore = olderThan
	return f.purgeBGPErr
}

func (f *fakeAnalytics) PurgeFlows(ctx context.Context, olderThan time.Time) error {
	f.purged = append(f.purged, PurgeFlow)
	return f.purgeFlowErr
}

func topPrefixes(keys ...string) []sir.TopPrefix {
	out := make([]sir.TopPrefix, len(keys))
	for i, k := range keys {
		out[i] = sir.TopPrefix{Key: k, Bytes: float64(1000 - i)}
	}
	return out
}

type fakeChannel struct {
	applied []device.PrefixList
	failOn  string
	closed  bool
}

func (f *fakeChannel) Apply(ctx context.Context, pl device.PrefixList) error {
	if pl.Name == f.failOn {
		return errors.New("device rejected list")
	}
	f.applied = append(f.applied, pl)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func (f *fakeChannel) names() []string {
	var names []string
	for _, pl := range f.applied {
		names = append(names, pl.Name)
	}
	return names
}

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}
