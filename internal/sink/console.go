package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

var toneColors = map[Tone]lipgloss.Color{
	ToneInfo:    lipgloss.Color("39"),
	ToneSuccess: lipgloss.Color("42"),
	ToneWarning: lipgloss.Color("214"),
	ToneError:   lipgloss.Color("196"),
}

// Console is a terminal-backed Sink for local runs. Claims reach it through
// ObserveClaim, every participant is treated as a member, and direct messages
// to participants listed in Unreachable fail.
type Console struct {
	Out         io.Writer
	Unreachable map[string]bool
	Now         func() time.Time

	mu            sync.Mutex
	announcements map[string][]string
	privileges    map[string]map[string]bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		Out:           out,
		Unreachable:   map[string]bool{},
		Now:           time.Now,
		announcements: make(map[string][]string),
		privileges:    make(map[string]map[string]bool),
	}
}

func (c *Console) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Console) PostAnnouncement(_ context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.announcements[id] = nil
	c.mu.Unlock()
	c.print("announce", Render(msg)+"\n"+lipgloss.NewStyle().Faint(true).Render("announcement "+id))
	return id, nil
}

func (c *Console) PostPing(_ context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return ErrPingTargetNotFound
	}
	c.print("announce", "@"+target)
	return nil
}

// ObserveClaim records a participant reacting to an announcement.
func (c *Console) ObserveClaim(announcementID, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.announcements[announcementID]
	if !ok {
		return
	}
	for _, p := range list {
		if p == participantID {
			return
		}
	}
	c.announcements[announcementID] = append(list, participantID)
}

func (c *Console) FetchClaimState(_ context.Context, announcementID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.announcements[announcementID]
	if !ok {
		return nil, ErrAnnouncementNotFound
	}
	return append([]string(nil), list...), nil
}

func (c *Console) CheckGrantAuthority(context.Context, string) error { return nil }

func (c *Console) GrantPrivilege(_ context.Context, participantID, privilege string) error {
	c.mu.Lock()
	held, ok := c.privileges[participantID]
	if !ok {
		held = make(map[string]bool)
		c.privileges[participantID] = held
	}
	held[privilege] = true
	c.mu.Unlock()
	c.print("privilege", fmt.Sprintf("granted %s to %s", privilege, participantID))
	return nil
}

func (c *Console) HasPrivilege(_ context.Context, participantID, privilege string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.privileges[participantID][privilege], nil
}

func (c *Console) RevokePrivilege(_ context.Context, participantID, privilege string) error {
	c.mu.Lock()
	delete(c.privileges[participantID], privilege)
	c.mu.Unlock()
	c.print("privilege", fmt.Sprintf("revoked %s from %s", privilege, participantID))
	return nil
}

func (c *Console) SendDirect(_ context.Context, participantID string, msg Message) error {
	if c.Unreachable[participantID] {
		return ErrUnreachable
	}
	c.print("dm:"+participantID, Render(msg))
	return nil
}

func (c *Console) PostPublic(_ context.Context, msg Message) error {
	c.print("announce", Render(msg))
	return nil
}

func (c *Console) PostLog(_ context.Context, text string) error {
	c.print("log", text)
	return nil
}

func (c *Console) print(channel, body string) {
	if c.Out == nil {
		return
	}
	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("[%s] #%s", c.now().Format(time.TimeOnly), channel))
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.Out, header)
	fmt.Fprintln(c.Out, body)
}

// Render draws msg as a bordered terminal card.
func Render(msg Message) string {
	color, ok := toneColors[msg.Tone]
	if !ok {
		color = toneColors[ToneInfo]
	}
	var lines []string
	if msg.Mention != "" {
		lines = append(lines, "@"+msg.Mention)
	}
	if msg.Title != "" {
		lines = append(lines, lipgloss.NewStyle().Bold(true).Foreground(color).Render(msg.Title))
	}
	if msg.Description != "" {
		lines = append(lines, msg.Description)
	}
	for _, f := range msg.Fields {
		lines = append(lines, lipgloss.NewStyle().Underline(true).Render(f.Name)+"\n"+f.Value)
	}
	if msg.Footer != "" {
		lines = append(lines, lipgloss.NewStyle().Italic(true).Faint(true).Render(msg.Footer))
	}
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1)
	return card.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
