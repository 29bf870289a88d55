// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"taskline/internal/sink"
)

// Direct is a recorded private notification.
type Direct struct {
	ParticipantID string
	Message       sink.Message
}

// Sink is a scriptable in-memory sink.Sink. Exported error fields are read
// on every call, so tests may set them before the code under test runs.
type Sink struct {
	// OnAnnounce runs after an announcement is stored, outside the lock.
	OnAnnounce func(id string, msg sink.Message)

	FetchErr     error
	PingErr      error
	AuthorityErr error
	GrantErr     map[string]error
	RevokeErr    error
	HasErr       error
	PublicErr    error
	Unreachable  map[string]bool

	mu            sync.Mutex
	next          int
	claimants     map[string][]string
	held          map[string]map[string]bool
	announcements []sink.Message
	pings         []string
	directs       []Direct
	public        []sink.Message
	logs          []string
	grants        []string
	revokes       []string
}

func NewSink() *Sink {
	return &Sink{
		GrantErr:    map[string]error{},
		Unreachable: map[string]bool{},
		claimants:   map[string][]string{},
		held:        map[string]map[string]bool{},
	}
}

// SetClaimants fixes what FetchClaimState returns for an announcement.
func (s *Sink) SetClaimants(announcementID string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimants[announcementID] = append([]string(nil), participants...)
}

// ObserveClaim appends participantID to the announcement's claimants once.
func (s *Sink) ObserveClaim(announcementID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.claimants[announcementID] {
		if p == participantID {
			return
		}
	}
	s.claimants[announcementID] = append(s.claimants[announcementID], participantID)
}

func (s *Sink) PostAnnouncement(_ context.Context, msg sink.Message) (string, error) {
	s.mu.Lock()
	s.next++
	id := fmt.Sprintf("ann-%d", s.next)
	s.announcements = append(s.announcements, msg)
	if _, ok := s.claimants[id]; !ok {
		s.claimants[id] = nil
	}
	hook := s.OnAnnounce
	s.mu.Unlock()
	if hook != nil {
		hook(id, msg)
	}
	return id, nil
}

func (s *Sink) PostPing(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PingErr != nil {
		return s.PingErr
	}
	s.pings = append(s.pings, target)
	return nil
}

func (s *Sink) FetchClaimState(_ context.Context, announcementID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	list, ok := s.claimants[announcementID]
	if !ok {
		return nil, sink.ErrAnnouncementNotFound
	}
	return append([]string(nil), list...), nil
}

func (s *Sink) CheckGrantAuthority(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AuthorityErr
}

func (s *Sink) GrantPrivilege(_ context.Context, participantID, privilege string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.GrantErr[participantID]; err != nil {
		return err
	}
	if s.held[participantID] == nil {
		s.held[participantID] = map[string]bool{}
	}
	s.held[participantID][privilege] = true
	s.grants = append(s.grants, participantID+":"+privilege)
	return nil
}

func (s *Sink) HasPrivilege(_ context.Context, participantID, privilege string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasErr != nil {
		return false, s.HasErr
	}
	return s.held[participantID][privilege], nil
}

func (s *Sink) RevokePrivilege(_ context.Context, participantID, privilege string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RevokeErr != nil {
		return s.RevokeErr
	}
	delete(s.held[participantID], privilege)
	s.revokes = append(s.revokes, participantID+":"+privilege)
	return nil
}

// Drop removes a privilege without recording a revocation, as if an
// operator had taken it away by hand.
func (s *Sink) Drop(participantID, privilege string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held[participantID], privilege)
}

func (s *Sink) SendDirect(_ context.Context, participantID string, msg sink.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unreachable[participantID] {
		return sink.ErrUnreachable
	}
	s.directs = append(s.directs, Direct{ParticipantID: participantID, Message: msg})
	return nil
}

func (s *Sink) PostPublic(_ context.Context, msg sink.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PublicErr != nil {
		return s.PublicErr
	}
	s.public = append(s.public, msg)
	return nil
}

func (s *Sink) PostLog(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, text)
	return nil
}

func (s *Sink) Announcements() []sink.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Message(nil), s.announcements...)
}

func (s *Sink) Pings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pings...)
}

func (s *Sink) Directs() []Direct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Direct(nil), s.directs...)
}

func (s *Sink) Public() []sink.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Message(nil), s.public...)
}

func (s *Sink) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

// Grants lists successful grants as "participant:privilege".
func (s *Sink) Grants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.grants...)
}

// Revokes lists successful revocations as "participant:privilege".
func (s *Sink) Revokes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revokes...)
}

func (s *Sink) Holds(participantID, privilege string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[participantID][privilege]
}
