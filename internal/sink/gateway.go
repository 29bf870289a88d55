package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGatewayTimeout = 10 * time.Second

// StatusError wraps unexpected gateway responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

// Gateway talks to a chat-platform bridge over JSON/HTTP.
type Gateway struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewGateway(baseURL, token string) *Gateway {
	return &Gateway{BaseURL: baseURL, Token: token, Timeout: defaultGatewayTimeout}
}

func (g *Gateway) PostAnnouncement(ctx context.Context, msg Message) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, "announcements", msg, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("gateway returned empty announcement id")
	}
	return resp.ID, nil
}

func (g *Gateway) PostPing(ctx context.Context, target string) error {
	err := g.do(ctx, http.MethodPost, "channels/announce/pings", map[string]string{"target": target}, nil)
	if statusIs(err, http.StatusNotFound) {
		return ErrPingTargetNotFound
	}
	return err
}

func (g *Gateway) FetchClaimState(ctx context.Context, announcementID string) ([]string, error) {
	var resp struct {
		Participants []string `json:"participants"`
	}
	err := g.do(ctx, http.MethodGet, "announcements/"+url.PathEscape(announcementID)+"/claims", nil, &resp)
	if statusIs(err, http.StatusNotFound) {
		return nil, ErrAnnouncementNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (g *Gateway) CheckGrantAuthority(ctx context.Context, privilege string) error {
	var resp struct {
		CanManage bool `json:"can_manage"`
		Outranks  bool `json:"outranks"`
	}
	if err := g.do(ctx, http.MethodGet, "privileges/"+url.PathEscape(privilege)+"/authority", nil, &resp); err != nil {
		return err
	}
	if !resp.CanManage {
		return ErrForbidden
	}
	if !resp.Outranks {
		return ErrRankTooLow
	}
	return nil
}

func (g *Gateway) GrantPrivilege(ctx context.Context, participantID, privilege string) error {
	return g.memberErr(g.do(ctx, http.MethodPut, privilegePath(participantID, privilege), nil, nil))
}

func (g *Gateway) HasPrivilege(ctx context.Context, participantID, privilege string) (bool, error) {
	err := g.do(ctx, http.MethodGet, privilegePath(participantID, privilege), nil, nil)
	if statusIs(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) RevokePrivilege(ctx context.Context, participantID, privilege string) error {
	return g.memberErr(g.do(ctx, http.MethodDelete, privilegePath(participantID, privilege), nil, nil))
}

func (g *Gateway) SendDirect(ctx context.Context, participantID string, msg Message) error {
	err := g.do(ctx, http.MethodPost, "members/"+url.PathEscape(participantID)+"/direct", msg, nil)
	if statusIs(err, http.StatusForbidden) || statusIs(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

func (g *Gateway) PostPublic(ctx context.Context, msg Message) error {
	return g.do(ctx, http.MethodPost, "channels/announce/messages", msg, nil)
}

func (g *Gateway) PostLog(ctx context.Context, text string) error {
	return g.do(ctx, http.MethodPost, "channels/log/messages", Message{Title: "Task Bot Log", Description: text, Tone: ToneInfo}, nil)
}

func (g *Gateway) memberErr(err error) error {
	switch {
	case statusIs(err, http.StatusNotFound):
		return ErrNotMember
	case statusIs(err, http.StatusForbidden):
		return ErrForbidden
	case statusIs(err, http.StatusConflict):
		return ErrRankTooLow
	}
	return err
}

func privilegePath(participantID, privilege string) string {
	return "members/" + url.PathEscape(participantID) + "/privileges/" + url.PathEscape(privilege)
}

func statusIs(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func (g *Gateway) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := g.HTTPClient
	if client == nil {
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = defaultGatewayTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	target := strings.TrimRight(g.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
