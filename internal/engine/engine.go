// Package engine is the command surface shared by the HTTP server and the
// CLI. It validates operator input, checks permissions and drives the
// allocation scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/allocation"
	"taskline/internal/claims"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/events"
	"taskline/internal/ledger"
	"taskline/internal/repo"
	"taskline/internal/sink"
	"taskline/internal/verify"
)

// Audit event types written for operator commands.
const (
	EventCommandConfigure = "command.configure"
	EventCommandStart     = "command.start"
	EventCommandStop      = "command.stop"
	EventClaimRegistered  = "claim.registered"
	EventVerification     = "verification.checked"
)

const (
	maxWindowSeconds   = 60
	maxRevocationHours = 168
	maxWinners         = 20
)

var (
	ErrLedgerRequired = errors.New("ledger URL required: configure one before starting")
	ErrVerifyDisabled = errors.New("verification is not configured")
)

// ValidationError reports a rejected command argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ClaimObserver is implemented by sinks that learn about claims from the
// engine rather than from the platform itself.
type ClaimObserver interface {
	ObserveClaim(announcementID, participantID string)
}

type Engine struct {
	Scheduler *allocation.Scheduler
	Tracker   *claims.Tracker
	Sink      sink.Sink
	Ledger    *ledger.Client
	Verifier  *verify.Service
	Repo      repo.Repo
	Journal   allocation.Recorder
	Auth      auth.Policy
	Defaults  config.AllocationConfig
	Now       func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) audit(ctx context.Context, actorID, typ, entityID string, payload any) {
	if e.Journal == nil {
		return
	}
	kind := "command"
	if typ == EventClaimRegistered {
		kind = "claim"
	} else if typ == EventVerification {
		kind = "participant"
	}
	e.Journal.Record(events.WithActor(ctx, actorID), allocation.Event{Type: typ, EntityKind: kind, EntityID: entityID, Payload: payload})
}

// ConfigureOptions are the operator-facing allocator settings. Zero values
// fall back to the configured defaults.
type ConfigureOptions struct {
	IntervalMinutes int    `json:"interval_minutes"`
	WindowSeconds   int    `json:"window_seconds"`
	RevocationHours int    `json:"revocation_hours"`
	PingTarget      string `json:"ping_target,omitempty"`
	LedgerURL       string `json:"ledger_url,omitempty"`
}

func (e *Engine) resolveSettings(ctx context.Context, opts ConfigureOptions) (domain.Settings, error) {
	interval := time.Duration(opts.IntervalMinutes) * time.Minute
	if opts.IntervalMinutes == 0 {
		interval = e.Defaults.Interval.Std()
	}
	if interval < time.Minute {
		return domain.Settings{}, ValidationError{Field: "interval_minutes", Reason: "must be at least 1"}
	}
	window := time.Duration(opts.WindowSeconds) * time.Second
	if opts.WindowSeconds == 0 {
		window = e.Defaults.Window.Std()
	}
	if window < time.Second || window > maxWindowSeconds*time.Second {
		return domain.Settings{}, ValidationError{Field: "window_seconds", Reason: fmt.Sprintf("must be between 1 and %d", maxWindowSeconds)}
	}
	revocation := time.Duration(opts.RevocationHours) * time.Hour
	if opts.RevocationHours == 0 {
		revocation = e.Defaults.RevocationDelay.Std()
	}
	if revocation < time.Hour || revocation > maxRevocationHours*time.Hour {
		return domain.Settings{}, ValidationError{Field: "revocation_hours", Reason: fmt.Sprintf("must be between 1 and %d", maxRevocationHours)}
	}
	ping := strings.TrimSpace(opts.PingTarget)
	if ping == "" {
		ping = e.Defaults.PingTarget
	}

	url := strings.TrimSpace(opts.LedgerURL)
	if url != "" {
		if _, ok := ledger.ExtractSheetID(url); !ok {
			return domain.Settings{}, ValidationError{Field: "ledger_url", Reason: "must contain /d/<sheet id>"}
		}
		if e.Ledger == nil {
			return domain.Settings{}, ledger.ErrNotConfigured
		}
		if err := e.Ledger.Validate(ctx, url); err != nil {
			return domain.Settings{}, ValidationError{Field: "ledger_url", Reason: err.Error()}
		}
	} else if e.Ledger != nil {
		url = e.Ledger.URL()
	}
	return domain.Settings{
		Interval:        interval,
		Window:          window,
		RevocationDelay: revocation,
		PingTarget:      ping,
		LedgerURL:       url,
	}, nil
}

// Configure validates and applies allocator settings. A new ledger URL is
// checked against the sheet before it replaces the old one.
func (e *Engine) Configure(ctx context.Context, actorID string, opts ConfigureOptions) (domain.Settings, error) {
	if err := e.Auth.Require(actorID, auth.PermManage); err != nil {
		return domain.Settings{}, err
	}
	settings, err := e.resolveSettings(ctx, opts)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := e.Scheduler.Configure(settings); err != nil {
		return domain.Settings{}, err
	}
	if e.Ledger != nil && settings.LedgerURL != "" {
		e.Ledger.SetURL(settings.LedgerURL)
	}
	e.audit(ctx, actorID, EventCommandConfigure, "", settings)
	return settings, nil
}

// StartOptions select the task list for a new run. Zero values fall back
// to the configured defaults.
type StartOptions struct {
	TotalTasks      int    `json:"total_tasks"`
	TaskType        string `json:"task_type,omitempty"`
	WinnersPerRound int    `json:"winners_per_round,omitempty"`
}

// StartAllocation resets the cursor and begins ticking rounds.
func (e *Engine) StartAllocation(ctx context.Context, actorID string, opts StartOptions) (domain.Status, error) {
	if err := e.Auth.Require(actorID, auth.PermManage); err != nil {
		return domain.Status{}, err
	}
	if opts.TotalTasks <= 0 {
		return domain.Status{}, ValidationError{Field: "total_tasks", Reason: "must be greater than 0"}
	}
	winners := opts.WinnersPerRound
	if winners == 0 {
		winners = e.Defaults.WinnersPerRound
	}
	if winners < 1 || winners > maxWinners {
		return domain.Status{}, ValidationError{Field: "winners_per_round", Reason: fmt.Sprintf("must be between 1 and %d", maxWinners)}
	}
	taskType := strings.ToLower(strings.TrimSpace(opts.TaskType))
	if taskType == "" {
		taskType = strings.ToLower(e.Defaults.TaskType)
	}
	if !config.ValidTaskType(taskType) {
		return domain.Status{}, ValidationError{Field: "task_type", Reason: "must be one of post, upvote, comment, poll vote"}
	}
	if _, ok := e.Scheduler.Settings(); !ok {
		return domain.Status{}, allocation.ErrNotConfigured
	}
	if e.Ledger == nil || !e.Ledger.Configured() {
		return domain.Status{}, ErrLedgerRequired
	}
	err := e.Scheduler.Start(allocation.StartOptions{TotalTasks: opts.TotalTasks, TaskType: taskType, WinnersPerRound: winners})
	if err != nil {
		return domain.Status{}, err
	}
	e.audit(ctx, actorID, EventCommandStart, "", StartOptions{TotalTasks: opts.TotalTasks, TaskType: taskType, WinnersPerRound: winners})
	return e.status(), nil
}

// Stop halts the recurring loop. Pending revocations still fire.
func (e *Engine) Stop(ctx context.Context, actorID string) (domain.Status, error) {
	if err := e.Auth.Require(actorID, auth.PermManage); err != nil {
		return domain.Status{}, err
	}
	if err := e.Scheduler.Stop(); err != nil {
		return domain.Status{}, err
	}
	st := e.status()
	e.audit(ctx, actorID, EventCommandStop, "", st.State)
	return st, nil
}

func (e *Engine) Status(ctx context.Context, actorID string) (domain.Status, error) {
	if err := e.Auth.Require(actorID, auth.PermRead); err != nil {
		return domain.Status{}, err
	}
	return e.status(), nil
}

// Snapshot is Status without a permission check, for in-process callers
// such as the metrics endpoint.
func (e *Engine) Snapshot() domain.Status {
	return e.status()
}

func (e *Engine) status() domain.Status {
	st := e.Scheduler.Status()
	st.LedgerReady = e.Ledger != nil && e.Ledger.Configured()
	return st
}

// ClaimInput is an inbound claim signal.
type ClaimInput struct {
	RoundID       string     `json:"round_id"`
	ParticipantID string     `json:"participant_id"`
	ObservedAt    *time.Time `json:"observed_at,omitempty"`
	Bot           bool       `json:"bot,omitempty"`
}

type ClaimResult struct {
	Claim   domain.Claim `json:"claim"`
	Ignored bool         `json:"ignored"`
	Reason  string       `json:"reason,omitempty"`
}

// RegisterClaim records the first time a participant claimed a round.
// Repeats return the original timestamp; bot claims are ignored.
func (e *Engine) RegisterClaim(ctx context.Context, actorID string, in ClaimInput) (ClaimResult, error) {
	if err := e.Auth.Require(actorID, auth.PermClaim); err != nil {
		return ClaimResult{}, err
	}
	roundID := strings.TrimSpace(in.RoundID)
	participant := strings.TrimSpace(in.ParticipantID)
	if roundID == "" {
		return ClaimResult{}, ValidationError{Field: "round_id", Reason: "required"}
	}
	if participant == "" {
		return ClaimResult{}, ValidationError{Field: "participant_id", Reason: "required"}
	}
	if in.Bot {
		return ClaimResult{Ignored: true, Reason: "bot claims are ignored"}, nil
	}
	observed := e.now()
	if in.ObservedAt != nil && !in.ObservedAt.IsZero() {
		observed = *in.ObservedAt
	}
	at, ok := e.Tracker.RegisterAt(roundID, participant, observed)
	if !ok {
		return ClaimResult{Ignored: true, Reason: "round is closed or unknown"}, nil
	}
	if obs, ok := e.Sink.(ClaimObserver); ok {
		obs.ObserveClaim(roundID, participant)
	}
	claim := domain.Claim{RoundID: roundID, ParticipantID: participant, ObservedAt: at}
	e.audit(ctx, actorID, EventClaimRegistered, roundID, claim)
	return ClaimResult{Claim: claim}, nil
}

// Verify checks a participant's reputation and grants the verified
// privilege. Non-admins may only verify themselves.
func (e *Engine) Verify(ctx context.Context, actorID, participantID, username string) (domain.Verification, error) {
	if err := e.Auth.Require(actorID, auth.PermVerify); err != nil {
		return domain.Verification{}, err
	}
	if e.Verifier == nil {
		return domain.Verification{}, ErrVerifyDisabled
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		participantID = actorID
	}
	if participantID != actorID && !e.Auth.IsAdmin(actorID) {
		return domain.Verification{}, auth.ForbiddenError{ActorID: actorID, Permission: auth.PermManage}
	}
	res, err := e.Verifier.Verify(ctx, participantID, username)
	if err != nil {
		return domain.Verification{}, err
	}
	e.audit(ctx, actorID, EventVerification, participantID, res)
	return res, nil
}

// Events pages through the journal, newest first.
func (e *Engine) Events(ctx context.Context, actorID string, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if err := e.Auth.Require(actorID, auth.PermRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}
