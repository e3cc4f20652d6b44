package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/fibopt/pkg/audit"
	"github.com/newtron-network/fibopt/pkg/device"
	"github.com/newtron-network/fibopt/pkg/metrics"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/settings"
	"github.com/newtron-network/fibopt/pkg/sir"
	"github.com/newtron-network/fibopt/pkg/util"
	"github.com/newtron-network/fibopt/pkg/window"
)

// State is a step of a run
type State string

const (
	StateSelectingWindow State = "SelectingWindow"
	StateFetching        State = "Fetching"
	StateReconciling     State = "Reconciling"
	StatePersisting      State = "Persisting"
	StateInstalling      State = "Installing"
	StatePurging         State = "Purging"
	StateDone            State = "Done"
	StateAborted         State = "Aborted"
)

// Run carries everything one cycle produces from state to state.
type Run struct {
	ID      string
	Started time.Time
	DryRun  bool

	State     State
	AbortedIn State
	Err       error

	Window     window.Window
	Candidates map[prefixlist.Class]prefixlist.CandidateSet
	Existing   map[prefixlist.Class]prefixlist.List
	Results    map[prefixlist.Class]prefixlist.List
}

func newRun(now time.Time, dryRun bool) *Run {
	return &Run{
		ID:         uuid.NewString(),
		Started:    now,
		DryRun:     dryRun,
		Candidates: make(map[prefixlist.Class]prefixlist.CandidateSet),
		Existing:   make(map[prefixlist.Class]prefixlist.List),
		Results:    make(map[prefixlist.Class]prefixlist.List),
	}
}

// Summary returns the change counts for a reconciled class
func (r *Run) Summary(class prefixlist.Class) prefixlist.Summary {
	return prefixlist.Summarize(r.Existing[class], r.Results[class])
}

// Committed reports whether Results reached the stored lists, i.e. the run
// got past Persisting.
func (r *Run) Committed() bool {
	if r.DryRun {
		return false
	}
	return r.State == StateDone || r.AbortedIn == StateInstalling || r.AbortedIn == StatePurging
}

// Orchestrator sequences a run. No state has side effects before all of its
// inputs are validated, so an abort leaves persisted files and the device as
// they were before the aborting state.
type Orchestrator struct {
	cfg       *settings.Config
	api       Analytics
	store     *prefixlist.Store
	fetcher   *Fetcher
	installer *Installer
	purger    *Purger

	now func() time.Time
}

// New wires an orchestrator. channel may be nil for runs that never install.
func New(cfg *settings.Config, api Analytics, channel device.Channel) (*Orchestrator, error) {
	fetcher, err := NewFetcher(api, cfg.LEMPrefixes, cfg.ExcludePrefixes)
	if err != nil {
		return nil, err
	}
	store := prefixlist.NewStore(cfg.Path)
	return &Orchestrator{
		cfg:       cfg,
		api:       api,
		store:     store,
		fetcher:   fetcher,
		installer: NewInstaller(channel, store, cfg.SettleInterval),
		purger:    NewPurger(api),
		now:       time.Now,
	}, nil
}

// WithClock replaces the wall clock
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithSleep replaces the settle wait between device pushes
func (o *Orchestrator) WithSleep(sleep SleepFunc) *Orchestrator {
	o.installer.sleep = sleep
	return o
}

// Store returns the list store
func (o *Orchestrator) Store() *prefixlist.Store {
	return o.store
}

// Run performs a full cycle: select window, fetch, reconcile, persist,
// install, purge. The returned Run is never nil; its Err equals the
// returned error.
func (o *Orchestrator) Run(ctx context.Context) (*Run, error) {
	run := newRun(o.now(), false)
	return run, o.finish(run, o.cycle(ctx, run, StateDone))
}

// Plan runs up to and including reconciliation without side effects.
func (o *Orchestrator) Plan(ctx context.Context) (*Run, error) {
	run := newRun(o.now(), true)
	return run, o.finish(run, o.cycle(ctx, run, StatePersisting))
}

// InstallPersisted pushes the lists already on disk to the device. Every
// class must have a stored list; otherwise nothing is pushed.
func (o *Orchestrator) InstallPersisted(ctx context.Context) (*Run, error) {
	run := newRun(o.now(), false)
	err := func() error {
		o.enter(run, StatePersisting)
		for _, class := range prefixlist.Classes {
			l, err := o.store.LoadPersisted(class)
			if err != nil {
				return err
			}
			run.Existing[class] = l
			run.Results[class] = l
		}
		o.enter(run, StateInstalling)
		return o.install(ctx, run)
	}()
	return run, o.finish(run, err)
}

// Purge only runs the retention purge.
func (o *Orchestrator) Purge(ctx context.Context) (*Run, error) {
	run := newRun(o.now(), false)
	o.enter(run, StatePurging)
	return run, o.finish(run, o.purge(ctx, run))
}

// cycle runs states in order until stop is reached or a state fails.
func (o *Orchestrator) cycle(ctx context.Context, run *Run, stop State) error {
	steps := []struct {
		state State
		fn    func(context.Context, *Run) error
	}{
		{StateSelectingWindow, o.selectWindow},
		{StateFetching, o.fetch},
		{StateReconciling, o.reconcile},
		{StatePersisting, o.persist},
		{StateInstalling, o.install},
		{StatePurging, o.purge},
	}
	for _, step := range steps {
		if step.state == stop {
			break
		}
		o.enter(run, step.state)
		if err := step.fn(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) enter(run *Run, state State) {
	run.State = state
	util.WithRun(run.ID).Debugf("Entering %s", state)
}

func (o *Orchestrator) selectWindow(ctx context.Context, run *Run) error {
	dates, err := o.api.AvailableDates(ctx)
	if err != nil {
		if errors.Is(err, sir.ErrEmptyResult) {
			return util.ErrNoData
		}
		return fmt.Errorf("listing available dates: %w", err)
	}
	w, err := window.SelectFresh(dates, o.cfg.Age, o.now(), o.cfg.MaxDataAge)
	if err != nil {
		return err
	}
	run.Window = w
	util.WithRun(run.ID).Infof("Using window %s", w)
	return nil
}

// fetch gets both candidate sets; a failure for either class aborts before
// anything is reconciled.
func (o *Orchestrator) fetch(ctx context.Context, run *Run) error {
	for _, class := range prefixlist.Classes {
		c, err := o.fetcher.Fetch(ctx, class, run.Window, o.cfg.Capacity(class))
		if err != nil {
			return err
		}
		run.Candidates[class] = c
	}
	return nil
}

func (o *Orchestrator) reconcile(ctx context.Context, run *Run) error {
	for _, class := range prefixlist.Classes {
		existing, err := o.store.Load(class)
		if err != nil {
			return err
		}
		run.Existing[class] = existing

		next, err := prefixlist.Reconcile(existing, run.Candidates[class], o.cfg.Capacity(class))
		if err != nil {
			return fmt.Errorf("%s: %w", class, err)
		}
		run.Results[class] = next

		s := run.Summary(class)
		util.WithRun(run.ID).WithField("class", class.String()).Infof(
			"Reconciled %d entries: %d retained, %d added, %d removed", s.Total, s.Retained, s.Added, s.Removed)
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, run *Run) error {
	rendered := make(map[prefixlist.Class][]byte, len(run.Results))
	for class, l := range run.Results {
		rendered[class] = prefixlist.Render(l)
	}
	if err := o.store.Commit(rendered); err != nil {
		return err
	}
	for _, class := range prefixlist.Classes {
		o.log(audit.NewEvent(run.ID, audit.OpRun).
			WithClass(class).
			WithWindow(run.Window.String()).
			WithChanges(run.Existing[class], run.Results[class]).
			WithSuccess())
	}
	return nil
}

func (o *Orchestrator) install(ctx context.Context, run *Run) error {
	if o.installer.channel == nil {
		return &util.InstallFailedError{Class: InstallOrder[0].String(), Err: errors.New("no device channel configured")}
	}
	err := o.installer.Install(ctx, run.Results)

	var failed *util.InstallFailedError
	errors.As(err, &failed)
	for _, class := range InstallOrder {
		ev := audit.NewEvent(run.ID, audit.OpInstall).WithClass(class)
		if failed != nil && failed.Class == class.String() {
			o.log(ev.WithError(failed.Err))
			break
		}
		o.log(ev.WithSuccess())
	}
	return err
}

func (o *Orchestrator) purge(ctx context.Context, run *Run) error {
	err := o.purger.Purge(ctx, o.cfg.PurgeThreshold(o.now()))
	ev := audit.NewEvent(run.ID, audit.OpPurge)
	if err != nil {
		o.log(ev.WithError(err))
		return err
	}
	o.log(ev.WithSuccess())
	return nil
}

// finish moves the run to its terminal state and records the outcome.
func (o *Orchestrator) finish(run *Run, err error) error {
	finished := o.now()
	log := util.WithRun(run.ID)

	if err != nil {
		run.AbortedIn = run.State
		run.State = StateAborted
		run.Err = err
		log.WithField("state", string(run.AbortedIn)).Errorf("Run aborted: %v", err)
		o.log(audit.NewEvent(run.ID, audit.OpAbort).
			WithState(string(run.AbortedIn)).
			WithDryRun(run.DryRun).
			WithError(err).
			WithDuration(finished.Sub(run.Started)))
	} else {
		run.State = StateDone
		log.Infof("Run finished in %s", finished.Sub(run.Started).Round(time.Millisecond))
	}

	if !run.DryRun {
		o.writeMetrics(run, finished)
	}
	return err
}

func (o *Orchestrator) writeMetrics(run *Run, finished time.Time) {
	if o.cfg.MetricsTextfile == "" {
		return
	}
	m := metrics.New()
	if run.Committed() {
		for class, l := range run.Results {
			m.ObserveClass(class, run.Existing[class], l, o.cfg.Capacity(class))
		}
	}
	abortedIn := ""
	if run.State == StateAborted {
		abortedIn = string(run.AbortedIn)
	}
	m.ObserveRun(finished, finished.Sub(run.Started), abortedIn)
	if err := m.WriteTextfile(o.cfg.MetricsTextfile); err != nil {
		util.WithRun(run.ID).Warnf("Metrics not written: %v", err)
	}
}

func (o *Orchestrator) log(ev *audit.Event) {
	if err := audit.Log(ev); err != nil {
		util.Warnf("audit: %v", err)
	}
}
