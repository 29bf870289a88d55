package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"taskline/internal/domain"
	"taskline/internal/sink"
	"taskline/internal/tracing"
)

// DefaultPrivilege is granted to every winner.
const DefaultPrivilege = "TaskHolder"

// LedgerWriter records a winner against a task number.
type LedgerWriter interface {
	Write(ctx context.Context, taskNumber int, winner string) bool
	URL() string
}

// EffectResult reports what happened to one winner.
type EffectResult struct {
	Assignment     domain.WinnerAssignment   `json:"assignment"`
	Granted        bool                      `json:"granted"`
	GrantError     string                    `json:"grant_error,omitempty"`
	Revocation     *domain.PendingRevocation `json:"revocation,omitempty"`
	NotifiedDirect bool                      `json:"notified_direct"`
	FallbackPosted bool                      `json:"fallback_posted"`
	LedgerWritten  bool                      `json:"ledger_written"`
}

// Pipeline applies a winner's side effects. Each step runs even when an
// earlier one failed.
type Pipeline struct {
	Sink         sink.Sink
	Ledger       LedgerWriter
	Revocations  *RevocationSet
	Privilege    string
	Instructions string
	Logger       *log.Logger
	Recorder     Recorder
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return p.Logger
}

func (p *Pipeline) privilege() string {
	if p.Privilege == "" {
		return DefaultPrivilege
	}
	return p.Privilege
}

// opLog writes to the process log and the operator log channel.
func (p *Pipeline) opLog(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.logger().Print(msg)
	if err := p.Sink.PostLog(ctx, msg); err != nil {
		p.logger().Printf("log channel: %v", err)
	}
}

// Run executes grant, revocation scheduling, notification and ledger write
// for one assignment.
func (p *Pipeline) Run(ctx context.Context, a domain.WinnerAssignment, revocationDelay time.Duration) EffectResult {
	ctx, span := tracing.StartSpan(ctx, "allocation.winner")
	span.WithAttributes(map[string]string{
		"participant.id": a.ParticipantID,
		"task.number":    strconv.Itoa(a.TaskNumber),
	})
	res := EffectResult{Assignment: a}

	p.step(ctx, "grant", func() { p.grant(ctx, &res) })
	if res.Granted && p.Revocations != nil {
		p.step(ctx, "schedule revocation", func() {
			rev, err := p.Revocations.Schedule(a.ParticipantID, p.privilege(), revocationDelay)
			if err != nil {
				p.logger().Printf("schedule revocation for %s: %v", a.ParticipantID, err)
				return
			}
			res.Revocation = &rev
		})
	}
	p.step(ctx, "notify", func() { p.notify(ctx, &res, revocationDelay) })
	p.step(ctx, "ledger", func() {
		if p.Ledger == nil {
			p.logger().Printf("no ledger configured, task %d not recorded", a.TaskNumber)
			return
		}
		res.LedgerWritten = p.Ledger.Write(ctx, a.TaskNumber, a.ParticipantID)
		if !res.LedgerWritten {
			p.opLog(ctx, "Ledger not updated for Task #%d (%s)", a.TaskNumber, mention(a.ParticipantID))
		}
	})

	var spanErr error
	if res.GrantError != "" {
		spanErr = errors.New(res.GrantError)
	}
	tracing.EndSpan(span, spanErr)
	record(ctx, p.Recorder, Event{Type: EventWinnerProcessed, EntityKind: "winner", EntityID: a.ParticipantID, Payload: res})
	return res
}

// step isolates a panicking step so later steps still run.
func (p *Pipeline) step(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.opLog(ctx, "Unexpected error during %s: %v", name, r)
		}
	}()
	fn()
}

func (p *Pipeline) grant(ctx context.Context, res *EffectResult) {
	pid := res.Assignment.ParticipantID
	priv := p.privilege()
	err := p.Sink.CheckGrantAuthority(ctx, priv)
	if err == nil {
		err = p.Sink.GrantPrivilege(ctx, pid, priv)
	}
	if err != nil {
		res.GrantError = err.Error()
		var public string
		switch {
		case errors.Is(err, sink.ErrForbidden):
			public = "Bot lacks permission to manage privileges!"
		case errors.Is(err, sink.ErrRankTooLow):
			public = fmt.Sprintf("Bot standing must be higher than %s!", priv)
		case errors.Is(err, sink.ErrNotMember):
			public = fmt.Sprintf("Could not find %s in server", mention(pid))
		default:
			public = fmt.Sprintf("Error assigning %s to %s: %v", priv, mention(pid), err)
		}
		p.logger().Printf("grant %s to %s for task %d: %v", priv, pid, res.Assignment.TaskNumber, err)
		if perr := p.Sink.PostPublic(ctx, errorMessage(public)); perr != nil {
			p.logger().Printf("post grant error: %v", perr)
		}
		return
	}
	res.Granted = true
	p.opLog(ctx, "%s privilege given to %s for Task #%d", priv, mention(pid), res.Assignment.TaskNumber)
}

func (p *Pipeline) notify(ctx context.Context, res *EffectResult, revocationDelay time.Duration) {
	pid := res.Assignment.ParticipantID
	n := notice{
		TaskNumber:      res.Assignment.TaskNumber,
		Instructions:    p.Instructions,
		Privilege:       p.privilege(),
		RevocationDelay: revocationDelay,
	}
	if p.Ledger != nil {
		n.LedgerURL = p.Ledger.URL()
	}
	err := p.Sink.SendDirect(ctx, pid, directMessage(n))
	if err == nil {
		res.NotifiedDirect = true
		p.opLog(ctx, "DM sent to %s for Task #%d", mention(pid), n.TaskNumber)
		return
	}
	p.logger().Printf("cannot DM %s: %v", pid, err)
	if err := p.Sink.PostPublic(ctx, fallbackMessage(pid, n)); err != nil {
		p.opLog(ctx, "Could not deliver Task #%d details to %s: %v", n.TaskNumber, mention(pid), err)
		return
	}
	res.FallbackPosted = true
	p.opLog(ctx, "DM inaccessible for %s - sent in channel instead", mention(pid))
}
