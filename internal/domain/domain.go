package domain

import "time"

// RoundState tracks where an allocation round is in its lifecycle.
type RoundState string

const (
	RoundOpen       RoundState = "open"
	RoundCollecting RoundState = "collecting"
	RoundResolving  RoundState = "resolving"
	RoundDispatched RoundState = "dispatched"
	RoundEmpty      RoundState = "empty"
	RoundAborted    RoundState = "aborted"
	RoundFailed     RoundState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RoundState) Terminal() bool {
	switch s {
	case RoundDispatched, RoundEmpty, RoundAborted, RoundFailed:
		return true
	}
	return false
}

type Round struct {
	ID           string        `json:"id"`
	StartingTask int           `json:"starting_task"`
	Slots        int           `json:"slots"`
	OpenedAt     time.Time     `json:"opened_at" format:"date-time"`
	Window       time.Duration `json:"window_ns"`
	State        RoundState    `json:"state" enum:"open,collecting,resolving,dispatched,empty,aborted,failed"`
}

// LastTask is the highest task number the round can hand out.
func (r Round) LastTask() int {
	if r.Slots < 1 {
		return r.StartingTask
	}
	return r.StartingTask + r.Slots - 1
}

type Claim struct {
	RoundID       string    `json:"round_id"`
	ParticipantID string    `json:"participant_id"`
	ObservedAt    time.Time `json:"observed_at" format:"date-time"`
}

type WinnerAssignment struct {
	TaskNumber    int    `json:"task_number"`
	ParticipantID string `json:"participant_id"`
}

type PendingRevocation struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participant_id"`
	PrivilegeID   string    `json:"privilege_id"`
	RevokeAt      time.Time `json:"revoke_at" format:"date-time"`
}

// RoundOutcome summarises a finished round for status reporting.
type RoundOutcome struct {
	RoundID      string             `json:"round_id"`
	State        RoundState         `json:"state"`
	StartingTask int                `json:"starting_task"`
	Winners      []WinnerAssignment `json:"winners,omitempty"`
	Error        string             `json:"error,omitempty"`
	FinishedAt   time.Time          `json:"finished_at" format:"date-time"`
}

// Settings are the operator-tunable parameters of the allocator.
type Settings struct {
	Interval        time.Duration `json:"interval_ns"`
	Window          time.Duration `json:"window_ns"`
	RevocationDelay time.Duration `json:"revocation_delay_ns"`
	PingTarget      string        `json:"ping_target,omitempty"`
	LedgerURL       string        `json:"ledger_url,omitempty"`
}

// AllocationState is the scheduler-owned progress record.
type AllocationState struct {
	Cursor          int    `json:"cursor"`
	TotalTasks      int    `json:"total_tasks"`
	WinnersPerRound int    `json:"winners_per_round"`
	TaskType        string `json:"task_type"`
	Running         bool   `json:"running"`
}

// Complete reports whether every task has been handed out.
func (s AllocationState) Complete() bool {
	return s.TotalTasks > 0 && s.Cursor > s.TotalTasks
}

type Status struct {
	Configured  bool                `json:"configured"`
	State       AllocationState     `json:"state"`
	Settings    Settings            `json:"settings"`
	ActiveRound *Round              `json:"active_round,omitempty"`
	LastRound   *RoundOutcome       `json:"last_round,omitempty"`
	Pending     []PendingRevocation `json:"pending_revocations"`
	LedgerReady bool                `json:"ledger_ready"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Verification struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	LinkKarma     int    `json:"link_karma"`
	CommentKarma  int    `json:"comment_karma"`
	Verified      bool   `json:"verified"`
	AlreadyHeld   bool   `json:"already_held,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// TotalKarma is the sum used against the verification threshold.
func (v Verification) TotalKarma() int {
	return v.LinkKarma + v.CommentKarma
}
