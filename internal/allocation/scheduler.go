// Package allocation runs timed claim rounds: announce a task, collect
// claims for a window, pick the earliest claimants and hand them the task.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"taskline/internal/domain"
)

var (
	ErrNotConfigured  = errors.New("allocation not configured")
	ErrNotRunning     = errors.New("allocation not running")
	ErrInvalidOptions = errors.New("invalid allocation options")
)

const defaultQuiescence = 100 * time.Millisecond

// StartOptions describe a new allocation run.
type StartOptions struct {
	TotalTasks      int
	TaskType        string
	WinnersPerRound int
}

type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler ticks rounds on a fixed interval until the task list is
// exhausted or it is stopped. Rounds never overlap.
type Scheduler struct {
	Runner     *Runner
	Logger     *log.Logger
	Recorder   Recorder
	Quiescence time.Duration
	// Pending lists outstanding revocations for Status.
	Pending func() []domain.PendingRevocation

	state *State

	mu         sync.Mutex
	settings   domain.Settings
	configured bool
	loop       *loopHandle
	active     *domain.Round
	last       *domain.RoundOutcome

	roundMu sync.Mutex
}

func NewScheduler(runner *Runner, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Scheduler{Runner: runner, Logger: logger, Quiescence: defaultQuiescence, state: NewState()}
	runner.OnState = s.observeRound
	return s
}

func (s *Scheduler) observeRound(r domain.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.State.Terminal() {
		s.active = nil
		return
	}
	cp := r
	s.active = &cp
}

// Configure replaces the allocator settings. A running loop picks up a new
// interval through ReconfigureInterval; the other settings apply from the
// next round.
func (s *Scheduler) Configure(settings domain.Settings) error {
	if settings.Interval <= 0 || settings.Window <= 0 || settings.RevocationDelay <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidOptions)
	}
	s.mu.Lock()
	prev := s.settings.Interval
	s.settings = settings
	s.configured = true
	running := s.loop != nil
	s.mu.Unlock()

	record(context.Background(), s.Recorder, Event{Type: EventConfigured, EntityKind: "allocation", Payload: settings})
	if running && prev != settings.Interval {
		return s.ReconfigureInterval(settings.Interval)
	}
	return nil
}

func (s *Scheduler) Settings() (domain.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, s.configured
}

// Start resets the cursor to 1 and begins ticking. The first round opens
// immediately. Starting while running replaces the current loop once its
// in-flight round is done.
func (s *Scheduler) Start(opts StartOptions) error {
	if opts.TotalTasks <= 0 || opts.WinnersPerRound <= 0 {
		return fmt.Errorf("%w: total tasks and winners per round must be positive", ErrInvalidOptions)
	}
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	prev := s.loop
	if prev != nil {
		prev.cancel()
	}
	s.state.Reset(opts.TotalTasks, opts.TaskType, opts.WinnersPerRound)
	s.state.SetRunning(true)
	s.last = nil
	s.install(prev)
	s.mu.Unlock()

	s.Logger.Printf("allocation started: %d tasks, %d per round, type %s", opts.TotalTasks, opts.WinnersPerRound, opts.TaskType)
	record(context.Background(), s.Recorder, Event{Type: EventStarted, EntityKind: "allocation", Payload: s.state.Snapshot()})
	return nil
}

// Stop prevents the next tick. A round already past opening finishes and
// pending revocations are left alone.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.loop == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.loop.cancel()
	s.loop = nil
	s.state.SetRunning(false)
	s.mu.Unlock()

	s.Logger.Printf("allocation stopped at task %d", s.state.Cursor())
	record(context.Background(), s.Recorder, Event{Type: EventStopped, EntityKind: "allocation", Payload: s.state.Snapshot()})
	return nil
}

// ReconfigureInterval swaps the ticking loop for one using d. The new loop
// does not tick until the old one, including its in-flight round, has
// exited and the quiescence delay has passed.
func (s *Scheduler) ReconfigureInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidOptions)
	}
	s.mu.Lock()
	s.settings.Interval = d
	prev := s.loop
	if prev != nil {
		prev.cancel()
		s.install(prev)
	}
	s.mu.Unlock()

	s.Logger.Printf("allocation interval set to %s", d)
	record(context.Background(), s.Recorder, Event{Type: EventIntervalChanged, EntityKind: "allocation", Payload: d.String()})
	return nil
}

// install must be called with s.mu held.
func (s *Scheduler) install(prev *loopHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &loopHandle{cancel: cancel, done: make(chan struct{})}
	s.loop = h
	var wait <-chan struct{}
	if prev != nil {
		wait = prev.done
	}
	go s.run(ctx, h, wait)
}

func (s *Scheduler) run(ctx context.Context, h *loopHandle, prev <-chan struct{}) {
	defer close(h.done)
	defer h.cancel()
	if prev != nil {
		// The previous loop always exits once cancelled; waiting on it
		// unconditionally keeps every loop in the chain strictly ordered.
		<-prev
		if !sleepFor(ctx, s.quiescence()) {
			return
		}
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if s.tick(ctx, h) {
			return
		}
		s.mu.Lock()
		interval := s.settings.Interval
		s.mu.Unlock()
		if !sleepFor(ctx, interval) {
			return
		}
	}
}

func (s *Scheduler) quiescence() time.Duration {
	if s.Quiescence > 0 {
		return s.Quiescence
	}
	return defaultQuiescence
}

// tick runs at most one round and reports whether the loop should end.
func (s *Scheduler) tick(ctx context.Context, h *loopHandle) (stop bool) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()
	// Stop or a replacement loop may have landed while this one waited
	// for the previous round.
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	current := s.loop == h
	s.mu.Unlock()
	if !current {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Printf("allocation tick failed: %v", r)
			stop = false
		}
	}()

	gen := s.state.Generation()
	st := s.state.Snapshot()
	if st.Complete() {
		s.complete(ctx, h)
		return true
	}

	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()
	cfg := RoundConfig{
		StartingTask:    st.Cursor,
		Slots:           st.WinnersPerRound,
		TaskType:        st.TaskType,
		Window:          settings.Window,
		Interval:        settings.Interval,
		RevocationDelay: settings.RevocationDelay,
		PingTarget:      settings.PingTarget,
	}
	out := s.Runner.Run(context.WithoutCancel(ctx), cfg)
	if out.State == domain.RoundDispatched {
		s.state.Advance(gen)
	}
	s.mu.Lock()
	s.last = &out
	s.active = nil
	s.mu.Unlock()
	return false
}

func (s *Scheduler) complete(ctx context.Context, h *loopHandle) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Runner.Sink.PostPublic(ctx, completeMessage()); err != nil {
		s.Logger.Printf("post completion: %v", err)
	}
	s.Runner.opLog(ctx, "All tasks have been completed!")

	s.mu.Lock()
	if s.loop == h {
		s.loop = nil
		s.state.SetRunning(false)
	}
	s.mu.Unlock()
	record(ctx, s.Recorder, Event{Type: EventCompleted, EntityKind: "allocation", Payload: s.state.Snapshot()})
}

// Running reports whether a loop is installed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil
}

// Status snapshots progress, settings and outstanding revocations.
func (s *Scheduler) Status() domain.Status {
	s.mu.Lock()
	st := domain.Status{
		Configured: s.configured,
		State:      s.state.Snapshot(),
		Settings:   s.settings,
	}
	if s.active != nil {
		cp := *s.active
		st.ActiveRound = &cp
	}
	if s.last != nil {
		cp := *s.last
		st.LastRound = &cp
	}
	s.mu.Unlock()
	if s.Pending != nil {
		st.Pending = s.Pending()
	}
	if st.Pending == nil {
		st.Pending = []domain.PendingRevocation{}
	}
	return st
}

// Wait blocks until the current loop, if any, has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	h := s.loop
	s.mu.Unlock()
	if h != nil {
		<-h.done
	}
}

// Close stops ticking and waits for the in-flight round to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	h := s.loop
	s.loop = nil
	s.state.SetRunning(false)
	s.mu.Unlock()
	if h != nil {
		h.cancel()
		<-h.done
	}
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
