package allocation

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"taskline/internal/domain"
	"taskline/internal/sink"
)

// RevocationSet keeps every pending privilege revocation alive until it
// fires, fails, or the set is closed. Entries are removed as soon as their
// goroutine finishes.
type RevocationSet struct {
	Sink     sink.Sink
	Logger   *log.Logger
	Recorder Recorder
	Now      func() time.Time

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingEntry
	closed  bool
	wg      sync.WaitGroup
}

type pendingEntry struct {
	rev    domain.PendingRevocation
	delay  time.Duration
	cancel context.CancelFunc
}

func NewRevocationSet(s sink.Sink, logger *log.Logger) *RevocationSet {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RevocationSet{Sink: s, Logger: logger, Now: time.Now, pending: make(map[int64]*pendingEntry)}
}

func (rs *RevocationSet) now() time.Time {
	if rs.Now != nil {
		return rs.Now()
	}
	return time.Now()
}

// Schedule revokes privilege from participantID once delay has passed. The
// returned record stays in Pending until the revocation has run.
func (rs *RevocationSet) Schedule(participantID, privilege string, delay time.Duration) (domain.PendingRevocation, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return domain.PendingRevocation{}, fmt.Errorf("revocation set closed")
	}
	if rs.pending == nil {
		rs.pending = make(map[int64]*pendingEntry)
	}
	rs.nextID++
	rev := domain.PendingRevocation{
		ID:            rs.nextID,
		ParticipantID: participantID,
		PrivilegeID:   privilege,
		RevokeAt:      rs.now().Add(delay),
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &pendingEntry{rev: rev, delay: delay, cancel: cancel}
	rs.pending[rev.ID] = entry
	rs.wg.Add(1)
	go rs.run(ctx, entry)
	return rev, nil
}

func (rs *RevocationSet) run(ctx context.Context, e *pendingEntry) {
	defer rs.wg.Done()
	defer rs.remove(e.rev.ID)
	defer e.cancel()

	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	rs.fire(ctx, e)
}

func (rs *RevocationSet) fire(ctx context.Context, e *pendingEntry) {
	var revoked bool
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("revocation panicked: %v", r)
			rs.Logger.Printf("revocation %d for %s: %v", e.rev.ID, e.rev.ParticipantID, err)
		}
		record(ctx, rs.Recorder, Event{
			Type:       EventRevocationFired,
			EntityKind: "revocation",
			EntityID:   e.rev.ParticipantID,
			Payload:    RevocationResult{Revocation: e.rev, Revoked: revoked, Error: errString(err)},
		})
	}()

	held, err := rs.Sink.HasPrivilege(ctx, e.rev.ParticipantID, e.rev.PrivilegeID)
	if err != nil {
		rs.Logger.Printf("revocation check for %s failed: %v", e.rev.ParticipantID, err)
		return
	}
	if !held {
		rs.Logger.Printf("%s no longer holds %s, nothing to revoke", e.rev.ParticipantID, e.rev.PrivilegeID)
		return
	}
	if err = rs.Sink.RevokePrivilege(ctx, e.rev.ParticipantID, e.rev.PrivilegeID); err != nil {
		rs.Logger.Printf("failed to revoke %s from %s: %v", e.rev.PrivilegeID, e.rev.ParticipantID, err)
		return
	}
	revoked = true
	rs.Logger.Printf("removed %s from %s after %s", e.rev.PrivilegeID, e.rev.ParticipantID, FormatHours(e.delay))
	if perr := rs.Sink.PostLog(ctx, fmt.Sprintf("%s privilege removed from %s after %s", e.rev.PrivilegeID, mention(e.rev.ParticipantID), FormatHours(e.delay))); perr != nil {
		rs.Logger.Printf("log channel: %v", perr)
	}
}

// RevocationResult is the payload of EventRevocationFired.
type RevocationResult struct {
	Revocation domain.PendingRevocation `json:"revocation"`
	Revoked    bool                     `json:"revoked"`
	Error      string                   `json:"error,omitempty"`
}

func (rs *RevocationSet) remove(id int64) {
	rs.mu.Lock()
	delete(rs.pending, id)
	rs.mu.Unlock()
}

// Pending lists outstanding revocations ordered by due time.
func (rs *RevocationSet) Pending() []domain.PendingRevocation {
	rs.mu.Lock()
	out := make([]domain.PendingRevocation, 0, len(rs.pending))
	for _, e := range rs.pending {
		out = append(out, e.rev)
	}
	rs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RevokeAt.Equal(out[j].RevokeAt) {
			return out[i].RevokeAt.Before(out[j].RevokeAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (rs *RevocationSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.pending)
}

// Wait blocks until every scheduled revocation has finished.
func (rs *RevocationSet) Wait() {
	rs.wg.Wait()
}

// Close abandons every pending revocation without running it and waits for
// the goroutines to exit. Used on process teardown.
func (rs *RevocationSet) Close() {
	rs.mu.Lock()
	rs.closed = true
	for _, e := range rs.pending {
		e.cancel()
	}
	rs.mu.Unlock()
	rs.wg.Wait()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
