package optimizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/fibopt/pkg/audit"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/settings"
	"github.com/newtron-network/fibopt/pkg/sir"
	"github.com/newtron-network/fibopt/pkg/util"
)

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

type harness struct {
	cfg   *settings.Config
	api   *fakeAnalytics
	ch    *fakeChannel
	sleep *recordingSleep
	orch  *Orchestrator
	audit *audit.FileLogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := settings.DefaultConfig()
	cfg.Age = 3
	cfg.MaxLEMPrefixes = 10
	cfg.MaxLPMPrefixes = 10
	cfg.Path = t.TempDir()
	cfg.PurgeOlderThan = 24
	cfg.SIR.URL = "http://sir.invalid"
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "fib_optimizer.prom")

	api := &fakeAnalytics{
		dates: []time.Time{
			testNow.Add(-5 * time.Hour),
			testNow.Add(-4 * time.Hour),
			testNow.Add(-3 * time.Hour),
			testNow.Add(-2 * time.Hour),
			testNow.Add(-1 * time.Hour),
		},
		top: map[prefixlist.Class][]sir.TopPrefix{
			prefixlist.LEM: topPrefixes("198.51.100.0/24", "192.0.2.0/24"),
			prefixlist.LPM: topPrefixes("10.0.0.0/16", "172.16.0.0/12"),
		},
	}
	h := &harness{cfg: cfg, api: api, ch: &fakeChannel{}, sleep: &recordingSleep{}}

	logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	h.audit = logger
	audit.SetDefaultLogger(logger)
	t.Cleanup(func() {
		audit.SetDefaultLogger(nil)
		logger.Close()
	})

	h.build(t)
	return h
}

// build recreates the orchestrator after cfg or channel changes.
func (h *harness) build(t *testing.T) {
	t.Helper()
	orch, err := New(h.cfg, h.api, h.ch)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch.WithClock(func() time.Time { return testNow }).WithSleep(h.sleep.sleep)
}

func (h *harness) readList(t *testing.T, c prefixlist.Class) string {
	t.Helper()
	data, err := os.ReadFile(h.orch.Store().Path(c))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return string(data)
}

func (h *harness) writeList(t *testing.T, c prefixlist.Class, content string) {
	t.Helper()
	if err := os.WriteFile(h.orch.Store().Path(c), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) events(t *testing.T, filter audit.Filter) []*audit.Event {
	t.Helper()
	events, err := h.audit.Query(filter)
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func TestRun_Bootstrap(t *testing.T) {
	h := newHarness(t)

	run, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.State != StateDone || run.Err != nil || !run.Committed() {
		t.Errorf("State = %s, Err = %v, Committed = %v", run.State, run.Err, run.Committed())
	}

	if got := h.readList(t, prefixlist.LEM); got != "1 permit 192.0.2.0/24\n2 permit 198.51.100.0/24\n" {
		t.Errorf("LEM file = %q", got)
	}
	if got := h.readList(t, prefixlist.LPM); got != "1 permit 10.0.0.0/16\n2 permit 172.16.0.0/12\n" {
		t.Errorf("LPM file = %q", got)
	}

	if !run.Window.Start.Equal(testNow.Add(-3*time.Hour)) || !run.Window.End.Equal(testNow.Add(-time.Hour)) {
		t.Errorf("Window = %s", run.Window)
	}
	if diff := cmp.Diff([]string{"fib_optimizer_lpm_v4", "fib_optimizer_lem_v4"}, h.ch.names()); diff != "" {
		t.Errorf("install order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{30 * time.Second}, h.sleep.waits); diff != "" {
		t.Errorf("settle waits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{PurgeBGP, PurgeFlow}, h.api.purged); diff != "" {
		t.Errorf("purges mismatch (-want +got):\n%s", diff)
	}
	if !h.api.purgedBefore.Equal(testNow.Add(-24 * time.Hour)) {
		t.Errorf("purge threshold = %v", h.api.purgedBefore)
	}

	if n := len(h.events(t, audit.Filter{RunID: run.ID, Operation: audit.OpRun})); n != 2 {
		t.Errorf("run events = %d, want 2", n)
	}
	if n := len(h.events(t, audit.Filter{RunID: run.ID, Operation: audit.OpInstall, SuccessOnly: true})); n != 2 {
		t.Errorf("install events = %d, want 2", n)
	}

	prom, err := os.ReadFile(h.cfg.MetricsTextfile)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	if !strings.Contains(string(prom), "fib_optimizer_run_success 1") {
		t.Errorf("metrics:\n%s", prom)
	}
}

func TestRun_StableAcrossCycles(t *testing.T) {
	h := newHarness(t)
	h.writeList(t, prefixlist.LEM, "1 permit 10.0.0.0/24\n2 permit 10.0.1.0/24\n")
	h.writeList(t, prefixlist.LPM, "5 permit 10.0.0.0/16\n")
	h.cfg.MaxLEMPrefixes = 4
	h.build(t)

	h.api.top[prefixlist.LEM] = topPrefixes("10.0.0.0/24", "10.0.2.0/24")
	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("cycle 1: Run() error = %v", err)
	}
	if got := h.readList(t, prefixlist.LEM); got != "1 permit 10.0.0.0/24\n3 permit 10.0.2.0/24\n" {
		t.Errorf("cycle 1 LEM file = %q", got)
	}
	if got := h.readList(t, prefixlist.LPM); got != "1 permit 172.16.0.0/12\n5 permit 10.0.0.0/16\n" {
		t.Errorf("cycle 1 LPM file = %q", got)
	}

	h.api.top[prefixlist.LEM] = topPrefixes("10.0.0.0/24", "10.0.1.0/24")
	run, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("cycle 2: Run() error = %v", err)
	}
	if got := h.readList(t, prefixlist.LEM); got != "1 permit 10.0.0.0/24\n2 permit 10.0.1.0/24\n" {
		t.Errorf("cycle 2 LEM file = %q", got)
	}
	s := run.Summary(prefixlist.LEM)
	if s.Retained != 1 || s.Added != 1 || s.Removed != 1 {
		t.Errorf("cycle 2 summary = %+v", s)
	}
}

func TestRun_Aborts(t *testing.T) {
	const lemBefore = "1 permit 10.0.1.0/24\n2 permit 10.0.2.0/24\n3 permit 10.0.3.0/24\n4 permit 10.0.4.0/24\n"

	tests := []struct {
		name      string
		setup     func(t *testing.T, h *harness)
		wantErr   error
		abortedIn State
	}{
		{
			name: "no dates",
			setup: func(t *testing.T, h *harness) {
				h.api.dates = nil
				h.api.datesErr = sir.ErrEmptyResult
			},
			wantErr:   util.ErrNoData,
			abortedIn: StateSelectingWindow,
		},
		{
			name: "stale data",
			setup: func(t *testing.T, h *harness) {
				h.api.dates = []time.Time{testNow.Add(-72 * time.Hour), testNow.Add(-49 * time.Hour)}
			},
			wantErr:   util.ErrStaleData,
			abortedIn: StateSelectingWindow,
		},
		{
			name:      "lpm fetch fails",
			setup:     func(t *testing.T, h *harness) { h.api.top[prefixlist.LPM] = nil },
			wantErr:   util.ErrFetchFailed,
			abortedIn: StateFetching,
		},
		{
			name:      "shrink guard",
			setup:     func(t *testing.T, h *harness) { h.api.top[prefixlist.LEM] = topPrefixes("10.0.1.0/24", "10.0.2.0/24") },
			wantErr:   util.ErrShrinkTooLarge,
			abortedIn: StateReconciling,
		},
		{
			name: "capacity exceeded",
			setup: func(t *testing.T, h *harness) {
				h.cfg.MaxLEMPrefixes = 5
				h.api.top[prefixlist.LEM] = topPrefixes("10.0.1.0/24", "10.0.2.0/24", "10.0.3.0/24", "10.0.8.0/24", "10.0.9.0/24")
			},
			wantErr:   util.ErrCapacityExceeded,
			abortedIn: StateReconciling,
		},
		{
			name:      "corrupt lpm file",
			setup:     func(t *testing.T, h *harness) { h.writeList(t, prefixlist.LPM, "1 deny 10.0.0.0/16\n") },
			wantErr:   util.ErrPersistedListCorrupt,
			abortedIn: StateReconciling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.writeList(t, prefixlist.LEM, lemBefore)
			h.api.top[prefixlist.LEM] = topPrefixes("10.0.1.0/24", "10.0.2.0/24", "10.0.3.0/24", "10.0.4.0/24")
			tt.setup(t, h)
			h.build(t)
			lpmBefore := h.readList(t, prefixlist.LPM)

			run, err := h.orch.Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if run.State != StateAborted || run.AbortedIn != tt.abortedIn {
				t.Errorf("State = %s in %s, want Aborted in %s", run.State, run.AbortedIn, tt.abortedIn)
			}
			if run.Committed() {
				t.Error("Committed() = true for a run that stored nothing")
			}
			if run.Err != err {
				t.Errorf("run.Err = %v", run.Err)
			}

			if got := h.readList(t, prefixlist.LEM); got != lemBefore {
				t.Errorf("LEM file changed to %q", got)
			}
			if got := h.readList(t, prefixlist.LPM); got != lpmBefore {
				t.Errorf("LPM file changed to %q", got)
			}
			if len(h.ch.applied) != 0 {
				t.Errorf("installed after abort: %v", h.ch.names())
			}
			if len(h.api.purged) != 0 {
				t.Errorf("purged after abort: %v", h.api.purged)
			}

			aborts := h.events(t, audit.Filter{Operation: audit.OpAbort})
			if len(aborts) != 1 || aborts[0].State != string(tt.abortedIn) {
				t.Errorf("abort events = %+v", aborts)
			}
		})
	}
}

func TestRun_InstallFailure(t *testing.T) {
	h := newHarness(t)
	h.ch.failOn = "fib_optimizer_lem_v4"

	run, err := h.orch.Run(context.Background())
	if !errors.Is(err, util.ErrInstallFailed) {
		t.Fatalf("Run() error = %v, want ErrInstallFailed", err)
	}
	if run.AbortedIn != StateInstalling {
		t.Errorf("AbortedIn = %s", run.AbortedIn)
	}
	// Lists were persisted before installing and stay persisted.
	if h.readList(t, prefixlist.LEM) == "" {
		t.Error("LEM list should be persisted")
	}
	if len(h.api.purged) != 0 {
		t.Errorf("purge should not run after a failed install: %v", h.api.purged)
	}

	installs := h.events(t, audit.Filter{RunID: run.ID, Operation: audit.OpInstall})
	if len(installs) != 2 {
		t.Fatalf("install events = %d, want 2", len(installs))
	}
	// Newest first: LEM failed after LPM succeeded.
	if installs[0].Class != "lem" || installs[0].Success || installs[1].Class != "lpm" || !installs[1].Success {
		t.Errorf("install events = %+v / %+v", installs[0], installs[1])
	}
}

func TestRun_PurgeFailureKeepsInstall(t *testing.T) {
	h := newHarness(t)
	h.api.purgeFlowErr = errors.New("503 Service Unavailable")

	run, err := h.orch.Run(context.Background())

	var purgeErr *util.PurgeFailedError
	if !errors.As(err, &purgeErr) || purgeErr.Kind != PurgeFlow {
		t.Fatalf("Run() error = %v, want PurgeFailedError(flow)", err)
	}
	if run.AbortedIn != StatePurging {
		t.Errorf("AbortedIn = %s", run.AbortedIn)
	}
	if len(h.ch.applied) != 2 {
		t.Errorf("both lists should be installed: %v", h.ch.names())
	}
}

func TestPlan(t *testing.T) {
	h := newHarness(t)

	run, err := h.orch.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !run.DryRun || run.State != StateDone || run.Committed() {
		t.Errorf("DryRun = %v, State = %s, Committed = %v", run.DryRun, run.State, run.Committed())
	}
	want := prefixlist.List{1: "192.0.2.0/24", 2: "198.51.100.0/24"}
	if diff := cmp.Diff(want, run.Results[prefixlist.LEM]); diff != "" {
		t.Errorf("planned LEM mismatch (-want +got):\n%s", diff)
	}

	if h.readList(t, prefixlist.LEM) != "" || h.readList(t, prefixlist.LPM) != "" {
		t.Error("Plan() must not persist")
	}
	if len(h.ch.applied) != 0 || len(h.api.purged) != 0 {
		t.Error("Plan() must not install or purge")
	}
	if _, err := os.Stat(h.cfg.MetricsTextfile); !os.IsNotExist(err) {
		t.Error("Plan() must not write metrics")
	}
}

func TestInstallPersisted(t *testing.T) {
	h := newHarness(t)
	h.writeList(t, prefixlist.LEM, "4 permit 192.0.2.0/24\n")
	h.writeList(t, prefixlist.LPM, "")

	run, err := h.orch.InstallPersisted(context.Background())
	if err != nil {
		t.Fatalf("InstallPersisted() error = %v", err)
	}
	if run.State != StateDone {
		t.Errorf("State = %s", run.State)
	}
	if diff := cmp.Diff([]string{"fib_optimizer_lpm_v4", "fib_optimizer_lem_v4"}, h.ch.names()); diff != "" {
		t.Errorf("install order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(prefixlist.List{4: "192.0.2.0/24"}, h.ch.applied[1].Entries); diff != "" {
		t.Errorf("LEM entries mismatch (-want +got):\n%s", diff)
	}
	if len(h.ch.applied[0].Entries) != 0 {
		t.Errorf("LPM entries = %v, want the stored empty list", h.ch.applied[0].Entries)
	}
	if len(h.api.queries) != 0 || len(h.api.purged) != 0 {
		t.Error("install-only must not query or purge analytics")
	}
}

func TestInstallPersisted_MissingList(t *testing.T) {
	tests := []struct {
		name      string
		stored    map[prefixlist.Class]string
		wantClass string
	}{
		{name: "nothing stored", stored: nil, wantClass: "lem"},
		{name: "LPM missing", stored: map[prefixlist.Class]string{prefixlist.LEM: "1 permit 192.0.2.0/24\n"}, wantClass: "lpm"},
		{name: "LEM missing", stored: map[prefixlist.Class]string{prefixlist.LPM: "1 permit 10.0.0.0/16\n"}, wantClass: "lem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for class, content := range tt.stored {
				h.writeList(t, class, content)
			}

			run, err := h.orch.InstallPersisted(context.Background())

			var notFound *util.ListNotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("InstallPersisted() error = %v, want ListNotFoundError", err)
			}
			if notFound.Class != tt.wantClass {
				t.Errorf("missing class = %s, want %s", notFound.Class, tt.wantClass)
			}
			if !errors.Is(err, util.ErrListNotPersisted) {
				t.Error("error should unwrap to ErrListNotPersisted")
			}
			if len(h.ch.applied) != 0 {
				t.Errorf("pushed %d lists with nothing stored", len(h.ch.applied))
			}
			if run.State != StateAborted || run.AbortedIn != StatePersisting {
				t.Errorf("State = %s, AbortedIn = %s", run.State, run.AbortedIn)
			}
		})
	}
}

func TestInstallPersisted_NoChannel(t *testing.T) {
	h := newHarness(t)
	h.writeList(t, prefixlist.LEM, "1 permit 192.0.2.0/24\n")
	h.writeList(t, prefixlist.LPM, "1 permit 10.0.0.0/16\n")
	orch, err := New(h.cfg, h.api, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := orch.InstallPersisted(context.Background()); !errors.Is(err, util.ErrInstallFailed) {
		t.Errorf("InstallPersisted() error = %v, want ErrInstallFailed", err)
	}
}

func TestPurgeOnly(t *testing.T) {
	h := newHarness(t)

	run, err := h.orch.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if run.State != StateDone {
		t.Errorf("State = %s", run.State)
	}
	if diff := cmp.Diff([]string{PurgeBGP, PurgeFlow}, h.api.purged); diff != "" {
		t.Errorf("purges mismatch (-want +got):\n%s", diff)
	}
	if len(h.ch.applied) != 0 {
		t.Error("purge-only must not install")
	}
}
