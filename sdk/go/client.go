// Package tasklinesdk is a small client for the Taskline HTTP API. Chat
// bridges use it to report claims; the tl CLI uses it when pointed at a
// running server.
package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	// BasePath is the API prefix; empty means /v0.
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers
	// only honour it with allow_actor_header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Settings struct {
	IntervalMinutes float64 `json:"interval_minutes"`
	WindowSeconds   float64 `json:"window_seconds"`
	RevocationHours float64 `json:"revocation_hours"`
	PingTarget      string  `json:"ping_target,omitempty"`
	LedgerURL       string  `json:"ledger_url,omitempty"`
}

type ConfigureRequest struct {
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
	WindowSeconds   int    `json:"window_seconds,omitempty"`
	RevocationHours int    `json:"revocation_hours,omitempty"`
	PingTarget      string `json:"ping_target,omitempty"`
	LedgerURL       string `json:"ledger_url,omitempty"`
}

type StartRequest struct {
	TotalTasks      int    `json:"total_tasks"`
	TaskType        string `json:"task_type,omitempty"`
	WinnersPerRound int    `json:"winners_per_round,omitempty"`
}

type Round struct {
	ID            string    `json:"id"`
	StartingTask  int       `json:"starting_task"`
	Slots         int       `json:"slots"`
	OpenedAt      time.Time `json:"opened_at"`
	WindowSeconds float64   `json:"window_seconds"`
	State         string    `json:"state"`
}

type Winner struct {
	TaskNumber    int    `json:"task_number"`
	ParticipantID string `json:"participant_id"`
}

type RoundOutcome struct {
	RoundID      string    `json:"round_id"`
	State        string    `json:"state"`
	StartingTask int       `json:"starting_task"`
	Winners      []Winner  `json:"winners,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

type PendingRevocation struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participant_id"`
	PrivilegeID   string    `json:"privilege_id"`
	RevokeAt      time.Time `json:"revoke_at"`
}

type Status struct {
	Configured         bool                `json:"configured"`
	Running            bool                `json:"running"`
	Cursor             int                 `json:"cursor"`
	TotalTasks         int                 `json:"total_tasks"`
	WinnersPerRound    int                 `json:"winners_per_round"`
	TaskType           string              `json:"task_type,omitempty"`
	Complete           bool                `json:"complete"`
	LedgerReady        bool                `json:"ledger_ready"`
	Settings           *Settings           `json:"settings,omitempty"`
	ActiveRound        *Round              `json:"active_round,omitempty"`
	LastRound          *RoundOutcome       `json:"last_round,omitempty"`
	PendingRevocations []PendingRevocation `json:"pending_revocations"`
}

type Claim struct {
	RoundID       string    `json:"round_id"`
	ParticipantID string    `json:"participant_id"`
	ObservedAt    time.Time `json:"observed_at"`
}

type ClaimResult struct {
	Claim   Claim  `json:"claim"`
	Ignored bool   `json:"ignored"`
	Reason  string `json:"reason,omitempty"`
}

type Verification struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	LinkKarma     int    `json:"link_karma"`
	CommentKarma  int    `json:"comment_karma"`
	TotalKarma    int    `json:"total_karma"`
	Verified      bool   `json:"verified"`
	AlreadyHeld   bool   `json:"already_held,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Configure(ctx context.Context, req ConfigureRequest) (Settings, error) {
	var resp Settings
	err := c.do(ctx, http.MethodPost, "allocation/configure", req, &resp)
	return resp, err
}

func (c *Client) Start(ctx context.Context, req StartRequest) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodPost, "allocation/start", req, &resp)
	return resp, err
}

func (c *Client) Stop(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodPost, "allocation/stop", nil, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "allocation/status", nil, &resp)
	return resp, err
}

// RegisterClaim reports that participantID claimed the round announcement.
// A nil observedAt lets the server stamp the claim.
func (c *Client) RegisterClaim(ctx context.Context, roundID, participantID string, observedAt *time.Time, bot bool) (ClaimResult, error) {
	body := map[string]any{"participant_id": participantID}
	if observedAt != nil {
		body["observed_at"] = observedAt.UTC().Format(time.RFC3339Nano)
	}
	if bot {
		body["bot"] = true
	}
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("rounds/%s/claims", url.PathEscape(roundID)), body, &resp)
	return resp, err
}

func (c *Client) Verify(ctx context.Context, participantID, username string) (Verification, error) {
	body := map[string]any{"username": username}
	if participantID != "" {
		body["participant_id"] = participantID
	}
	var resp Verification
	err := c.do(ctx, http.MethodPost, "verifications", body, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor, eventType string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + c.prefix() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) prefix() string {
	p := strings.Trim(c.BasePath, "/")
	if p == "" {
		return "/v0"
	}
	return "/" + p
}
