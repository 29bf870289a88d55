// Package events journals allocator activity into the local database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"taskline/internal/allocation"
	"taskline/internal/domain"
	"taskline/internal/repo"
)

const SystemActor = "system"

type actorKey struct{}

// WithActor tags ctx so events recorded under it name actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the actor stored by WithActor, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

// Writer appends allocator events to the journal. It implements
// allocation.Recorder; write failures are logged and dropped.
type Writer struct {
	Repo   repo.Repo
	Now    func() time.Time
	Logger *log.Logger
}

func (w Writer) Record(ctx context.Context, ev allocation.Event) {
	if _, err := w.Append(ctx, ev); err != nil {
		logger := w.Logger
		if logger == nil {
			logger = log.New(io.Discard, "", 0)
		}
		logger.Printf("journal %s: %v", ev.Type, err)
	}
}

// Append stores ev and returns the new event id.
func (w Writer) Append(ctx context.Context, ev allocation.Event) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Repo.AppendEvent(ctx, nil, domain.Event{
		TS:         now().UTC().Format(time.RFC3339Nano),
		Type:       ev.Type,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ActorFrom(ctx),
		Payload:    string(data),
	})
}
