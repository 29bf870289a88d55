package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"taskline/internal/claims"
	"taskline/internal/domain"
	"taskline/internal/sink"
	"taskline/internal/tracing"
)

// RoundConfig fixes everything one round needs from the scheduler.
type RoundConfig struct {
	StartingTask    int
	Slots           int
	TaskType        string
	Window          time.Duration
	Interval        time.Duration
	RevocationDelay time.Duration
	PingTarget      string
}

// Runner drives a single round through
// open -> collecting -> resolving -> dispatched | empty | aborted.
type Runner struct {
	Sink     sink.Sink
	Tracker  *claims.Tracker
	Pipeline *Pipeline
	Logger   *log.Logger
	Recorder Recorder
	Now      func() time.Time
	// Sleep waits out the claim window; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState observes every transition of the running round.
	OnState func(domain.Round)
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) opLog(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger().Print(msg)
	if err := r.Sink.PostLog(ctx, msg); err != nil {
		r.logger().Printf("log channel: %v", err)
	}
}

func (r *Runner) transition(round *domain.Round, state domain.RoundState) {
	round.State = state
	if r.OnState != nil {
		r.OnState(*round)
	}
}

// Run executes one round. It never panics; unexpected failures come back as
// a RoundFailed outcome.
func (r *Runner) Run(ctx context.Context, cfg RoundConfig) (out domain.RoundOutcome) {
	ctx, span := tracing.StartSpan(ctx, "allocation.round")
	span.WithAttributes(map[string]string{
		"task.start": strconv.Itoa(cfg.StartingTask),
		"task.slots": strconv.Itoa(cfg.Slots),
	})
	round := &domain.Round{StartingTask: cfg.StartingTask, Slots: cfg.Slots, Window: cfg.Window}
	out = domain.RoundOutcome{StartingTask: cfg.StartingTask}

	defer func() {
		if rec := recover(); rec != nil {
			out.State = domain.RoundFailed
			out.Error = fmt.Sprint(rec)
			r.logger().Printf("round %s failed: %v", round.ID, rec)
			if round.ID != "" {
				r.Tracker.Discard(round.ID)
			}
		}
		out.RoundID = round.ID
		out.FinishedAt = r.now()
		round.State = out.State
		if r.OnState != nil {
			r.OnState(*round)
		}
		var spanErr error
		if out.Error != "" {
			spanErr = errors.New(out.Error)
		}
		span.WithAttributes(map[string]string{"round.id": round.ID, "round.state": string(out.State)})
		tracing.EndSpan(span, spanErr)
		record(ctx, r.Recorder, Event{Type: EventRoundFinished, EntityKind: "round", EntityID: round.ID, Payload: out})
	}()

	if err := r.open(ctx, round, cfg); err != nil {
		out.State = domain.RoundFailed
		out.Error = err.Error()
		r.opLog(ctx, "Failed to post %s: %v", taskRange(cfg.StartingTask, cfg.Slots), err)
		return out
	}

	r.transition(round, domain.RoundCollecting)
	if err := r.sleep(ctx, cfg.Window); err != nil {
		r.Tracker.Discard(round.ID)
		out.State = domain.RoundAborted
		out.Error = err.Error()
		return out
	}

	r.transition(round, domain.RoundResolving)
	fetched, err := r.Sink.FetchClaimState(ctx, round.ID)
	if err != nil {
		r.Tracker.Discard(round.ID)
		out.State = domain.RoundAborted
		out.Error = err.Error()
		r.opLog(ctx, "Could not read claims for %s (announcement %s): %v", taskRange(cfg.StartingTask, cfg.Slots), round.ID, err)
		return out
	}

	claimants := resolveClaimants(r.Tracker.Snapshot(round.ID), fetched, round.ID, r.now())
	winners := Select(claimants, cfg.Slots)
	if len(winners) == 0 {
		r.Tracker.Discard(round.ID)
		out.State = domain.RoundEmpty
		if err := r.Sink.PostPublic(ctx, noClaimsMessage(cfg)); err != nil {
			r.logger().Printf("post no-claims notice: %v", err)
		}
		r.opLog(ctx, "%s", noClaimsLog(cfg))
		return out
	}

	out.State = domain.RoundDispatched
	out.Winners = assign(winners, cfg.StartingTask)
	r.transition(round, domain.RoundDispatched)
	for _, a := range out.Winners {
		r.Pipeline.Run(ctx, a, cfg.RevocationDelay)
	}
	if err := r.Sink.PostPublic(ctx, assignedMessage(out.Winners)); err != nil {
		r.logger().Printf("post results: %v", err)
	}
	r.Tracker.Discard(round.ID)
	return out
}

func (r *Runner) open(ctx context.Context, round *domain.Round, cfg RoundConfig) error {
	id, err := r.Sink.PostAnnouncement(ctx, announcementMessage(cfg))
	if err != nil {
		return err
	}
	round.ID = id
	round.OpenedAt = r.now()
	r.Tracker.Open(id)
	r.transition(round, domain.RoundOpen)
	record(ctx, r.Recorder, Event{Type: EventRoundOpened, EntityKind: "round", EntityID: id, Payload: *round})

	if cfg.PingTarget != "" {
		if err := r.Sink.PostPing(ctx, cfg.PingTarget); err != nil {
			if errors.Is(err, sink.ErrPingTargetNotFound) {
				r.opLog(ctx, "Ping target '%s' not found - no ping sent", cfg.PingTarget)
			} else {
				r.opLog(ctx, "Failed to send ping: %v", err)
			}
		}
	}
	r.opLog(ctx, "%s", createdLog(cfg))
	return nil
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolveClaimants keeps tracked claims whose participant is still present
// on the announcement, then appends present participants the tracker never
// saw, in the order the platform reported them.
func resolveClaimants(tracked []domain.Claim, present []string, roundID string, now time.Time) []domain.Claim {
	still := make(map[string]bool, len(present))
	for _, p := range present {
		still[p] = true
	}
	out := make([]domain.Claim, 0, len(present))
	seen := make(map[string]bool, len(tracked))
	for _, c := range tracked {
		if still[c.ParticipantID] {
			out = append(out, c)
			seen[c.ParticipantID] = true
		}
	}
	for _, p := range present {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, domain.Claim{RoundID: roundID, ParticipantID: p, ObservedAt: now})
	}
	return out
}
