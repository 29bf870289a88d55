package server

import (
	"encoding/json"
	"time"

	"taskline/internal/domain"
)

// Request payloads

type ConfigureRequest struct {
	IntervalMinutes int    `json:"interval_minutes,omitempty" minimum:"0" doc:"Minutes between rounds; 0 keeps the configured default"`
	WindowSeconds   int    `json:"window_seconds,omitempty" minimum:"0" maximum:"60" doc:"Claim window in seconds"`
	RevocationHours int    `json:"revocation_hours,omitempty" minimum:"0" maximum:"168" doc:"Hours before a granted privilege is revoked"`
	PingTarget      string `json:"ping_target,omitempty" doc:"Privilege or group mentioned in announcements"`
	LedgerURL       string `json:"ledger_url,omitempty" doc:"Spreadsheet URL containing /d/<sheet id>"`
}

type StartRequest struct {
	TotalTasks      int    `json:"total_tasks" minimum:"1"`
	TaskType        string `json:"task_type,omitempty" doc:"post, upvote, comment or poll vote"`
	WinnersPerRound int    `json:"winners_per_round,omitempty" minimum:"0" maximum:"20"`
}

type ClaimRequest struct {
	ParticipantID string     `json:"participant_id"`
	ObservedAt    *time.Time `json:"observed_at,omitempty" format:"date-time"`
	Bot           bool       `json:"bot,omitempty"`
}

type VerifyRequest struct {
	ParticipantID string `json:"participant_id,omitempty" doc:"Defaults to the calling actor"`
	Username      string `json:"username"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type SettingsResponse struct {
	IntervalMinutes float64 `json:"interval_minutes"`
	WindowSeconds   float64 `json:"window_seconds"`
	RevocationHours float64 `json:"revocation_hours"`
	PingTarget      string  `json:"ping_target,omitempty"`
	LedgerURL       string  `json:"ledger_url,omitempty"`
}

type RoundResponse struct {
	ID            string    `json:"id"`
	StartingTask  int       `json:"starting_task"`
	Slots         int       `json:"slots"`
	OpenedAt      time.Time `json:"opened_at" format:"date-time"`
	WindowSeconds float64   `json:"window_seconds"`
	State         string    `json:"state"`
}

type StatusResponse struct {
	Configured         bool                       `json:"configured"`
	Running            bool                       `json:"running"`
	Cursor             int                        `json:"cursor"`
	TotalTasks         int                        `json:"total_tasks"`
	WinnersPerRound    int                        `json:"winners_per_round"`
	TaskType           string                     `json:"task_type,omitempty"`
	Complete           bool                       `json:"complete"`
	LedgerReady        bool                       `json:"ledger_ready"`
	Settings           *SettingsResponse          `json:"settings,omitempty"`
	ActiveRound        *RoundResponse             `json:"active_round,omitempty"`
	LastRound          *domain.RoundOutcome       `json:"last_round,omitempty"`
	PendingRevocations []domain.PendingRevocation `json:"pending_revocations"`
}

type VerificationResponse struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	LinkKarma     int    `json:"link_karma"`
	CommentKarma  int    `json:"comment_karma"`
	TotalKarma    int    `json:"total_karma"`
	Verified      bool   `json:"verified"`
	AlreadyHeld   bool   `json:"already_held,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type CreateAPIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Shown once; only its hash is stored"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Admin       bool     `json:"admin"`
	Permissions []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func settingsResponse(s domain.Settings) SettingsResponse {
	return SettingsResponse{
		IntervalMinutes: s.Interval.Minutes(),
		WindowSeconds:   s.Window.Seconds(),
		RevocationHours: s.RevocationDelay.Hours(),
		PingTarget:      s.PingTarget,
		LedgerURL:       s.LedgerURL,
	}
}

func statusResponse(st domain.Status) StatusResponse {
	res := StatusResponse{
		Configured:         st.Configured,
		Running:            st.State.Running,
		Cursor:             st.State.Cursor,
		TotalTasks:         st.State.TotalTasks,
		WinnersPerRound:    st.State.WinnersPerRound,
		TaskType:           st.State.TaskType,
		Complete:           st.State.Complete(),
		LedgerReady:        st.LedgerReady,
		LastRound:          st.LastRound,
		PendingRevocations: nonNilSlice(st.Pending),
	}
	if st.Configured {
		s := settingsResponse(st.Settings)
		res.Settings = &s
	}
	if r := st.ActiveRound; r != nil {
		res.ActiveRound = &RoundResponse{
			ID:            r.ID,
			StartingTask:  r.StartingTask,
			Slots:         r.Slots,
			OpenedAt:      r.OpenedAt,
			WindowSeconds: r.Window.Seconds(),
			State:         string(r.State),
		}
	}
	return res
}

func verificationResponse(v domain.Verification) VerificationResponse {
	return VerificationResponse{
		ParticipantID: v.ParticipantID,
		Username:      v.Username,
		LinkKarma:     v.LinkKarma,
		CommentKarma:  v.CommentKarma,
		TotalKarma:    v.TotalKarma(),
		Verified:      v.Verified,
		AlreadyHeld:   v.AlreadyHeld,
		Reason:        v.Reason,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodePayload(e.Payload),
	}
}

// decodePayload returns the stored JSON as a value, or the raw string when
// it does not parse.
func decodePayload(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
