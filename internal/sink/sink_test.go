package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T) (*Gateway, *[]Message) {
	t.Helper()
	var posted []Message
	r := chi.NewRouter()
	r.Post("/announcements", func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		posted = append(posted, msg)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
	})
	r.Get("/announcements/{id}/claims", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "msg-1" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"participants": []string{"u1", "u2"}})
	})
	r.Get("/privileges/{p}/authority", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "p") {
		case "Admin":
			_ = json.NewEncoder(w).Encode(map[string]bool{"can_manage": true, "outranks": false})
		case "Locked":
			_ = json.NewEncoder(w).Encode(map[string]bool{"can_manage": false, "outranks": true})
		default:
			_ = json.NewEncoder(w).Encode(map[string]bool{"can_manage": true, "outranks": true})
		}
	})
	r.Put("/members/{m}/privileges/{p}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "m") == "ghost" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/members/{m}/privileges/{p}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "m") == "holder" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	r.Post("/members/{m}/direct", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "m") == "closed" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/channels/announce/pings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["target"] != "VERIFIED" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, "secret"), &posted
}

func TestGateway_AnnouncementAndClaims(t *testing.T) {
	g, posted := newGatewayServer(t)
	ctx := context.Background()

	id, err := g.PostAnnouncement(ctx, Message{Title: "Task Available!"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Len(t, *posted, 1)
	assert.Equal(t, "Task Available!", (*posted)[0].Title)

	participants, err := g.FetchClaimState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, participants)

	_, err = g.FetchClaimState(ctx, "deleted")
	assert.ErrorIs(t, err, ErrAnnouncementNotFound)
}

func TestGateway_ErrorMapping(t *testing.T) {
	g, _ := newGatewayServer(t)
	ctx := context.Background()

	assert.NoError(t, g.CheckGrantAuthority(ctx, "TaskHolder"))
	assert.ErrorIs(t, g.CheckGrantAuthority(ctx, "Admin"), ErrRankTooLow)
	assert.ErrorIs(t, g.CheckGrantAuthority(ctx, "Locked"), ErrForbidden)

	assert.NoError(t, g.GrantPrivilege(ctx, "u1", "TaskHolder"))
	assert.ErrorIs(t, g.GrantPrivilege(ctx, "ghost", "TaskHolder"), ErrNotMember)

	held, err := g.HasPrivilege(ctx, "holder", "TaskHolder")
	require.NoError(t, err)
	assert.True(t, held)
	held, err = g.HasPrivilege(ctx, "u1", "TaskHolder")
	require.NoError(t, err)
	assert.False(t, held)

	assert.NoError(t, g.SendDirect(ctx, "u1", Message{Title: "hi"}))
	assert.ErrorIs(t, g.SendDirect(ctx, "closed", Message{Title: "hi"}), ErrUnreachable)

	assert.NoError(t, g.PostPing(ctx, "VERIFIED"))
	assert.ErrorIs(t, g.PostPing(ctx, "nobody"), ErrPingTargetNotFound)
}

func TestConsole_ClaimStateAndPrivileges(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	c.Unreachable["shy"] = true
	ctx := context.Background()

	id, err := c.PostAnnouncement(ctx, Message{Title: "Task Available!", Tone: ToneInfo})
	require.NoError(t, err)
	c.ObserveClaim(id, "a")
	c.ObserveClaim(id, "b")
	c.ObserveClaim(id, "a")
	c.ObserveClaim("unknown", "z")

	got, err := c.FetchClaimState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = c.FetchClaimState(ctx, "unknown")
	assert.ErrorIs(t, err, ErrAnnouncementNotFound)

	require.NoError(t, c.GrantPrivilege(ctx, "a", "TaskHolder"))
	held, _ := c.HasPrivilege(ctx, "a", "TaskHolder")
	assert.True(t, held)
	require.NoError(t, c.RevokePrivilege(ctx, "a", "TaskHolder"))
	held, _ = c.HasPrivilege(ctx, "a", "TaskHolder")
	assert.False(t, held)

	assert.ErrorIs(t, c.SendDirect(ctx, "shy", Message{}), ErrUnreachable)
	assert.Contains(t, out.String(), "Task Available!")
}
