package allocation

import "context"

// Event types emitted by the allocator.
const (
	EventConfigured      = "allocation.configured"
	EventStarted         = "allocation.started"
	EventStopped         = "allocation.stopped"
	EventCompleted       = "allocation.completed"
	EventIntervalChanged = "allocation.interval_changed"
	EventRoundOpened     = "round.opened"
	EventRoundFinished   = "round.finished"
	EventWinnerProcessed = "winner.processed"
	EventRevocationFired = "revocation.fired"
)

// Event describes something the allocator did. Payload is one of the
// domain types or an EffectResult.
type Event struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    any
}

// Recorder observes allocator events. Implementations must not block for
// long; they run on the round goroutine.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Recorders fans an event out to each member in order.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, ev Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}

type RecorderFunc func(ctx context.Context, ev Event)

func (f RecorderFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }

func record(ctx context.Context, r Recorder, ev Event) {
	if r != nil {
		r.Record(ctx, ev)
	}
}
