// Package sink defines the chat-platform surface the allocator talks to:
// announcements, claim state, privilege grants and notifications.
package sink

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrUnreachable          = errors.New("participant unreachable")
	ErrForbidden            = errors.New("insufficient standing to grant privilege")
	ErrRankTooLow           = errors.New("privilege ranks at or above grantor")
	ErrNotMember            = errors.New("participant is not a member")
	ErrPingTargetNotFound   = errors.New("ping target not found")
)

// Tone hints at how a message should be rendered.
type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneError   Tone = "error"
)

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is a platform-neutral rich message.
type Message struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      string  `json:"footer,omitempty"`
	Mention     string  `json:"mention,omitempty"`
	Tone        Tone    `json:"tone,omitempty"`
}

// Sink is the notification and privilege surface of the chat platform.
type Sink interface {
	// PostAnnouncement publishes a claimable announcement and returns its id.
	PostAnnouncement(ctx context.Context, msg Message) (string, error)
	// PostPing mentions target in the announcement channel.
	PostPing(ctx context.Context, target string) error
	// FetchClaimState lists participants currently claiming the announcement.
	FetchClaimState(ctx context.Context, announcementID string) ([]string, error)
	// CheckGrantAuthority reports ErrForbidden or ErrRankTooLow when privilege
	// cannot be granted.
	CheckGrantAuthority(ctx context.Context, privilege string) error
	GrantPrivilege(ctx context.Context, participantID, privilege string) error
	HasPrivilege(ctx context.Context, participantID, privilege string) (bool, error)
	RevokePrivilege(ctx context.Context, participantID, privilege string) error
	// SendDirect notifies a participant privately; ErrUnreachable when closed.
	SendDirect(ctx context.Context, participantID string, msg Message) error
	// PostPublic posts into the announcement channel.
	PostPublic(ctx context.Context, msg Message) error
	// PostLog posts an operator-facing log line.
	PostLog(ctx context.Context, text string) error
}

// Plain renders msg as undecorated text, one part per block.
func Plain(msg Message) string {
	var b strings.Builder
	if msg.Mention != "" {
		b.WriteString("@" + msg.Mention + "\n")
	}
	if msg.Title != "" {
		b.WriteString("# " + msg.Title + "\n")
	}
	if msg.Description != "" {
		b.WriteString(msg.Description + "\n")
	}
	for _, f := range msg.Fields {
		b.WriteString("## " + f.Name + "\n" + f.Value + "\n")
	}
	if msg.Footer != "" {
		b.WriteString("-- " + msg.Footer + "\n")
	}
	return b.String()
}
