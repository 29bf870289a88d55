// Package claims records who signalled intent on an open round and when.
package claims

import (
	"sort"
	"sync"
	"time"

	"taskline/internal/domain"
)

const (
	// DefaultMaxOrphans caps buckets created by claims that arrive before
	// their round is opened.
	DefaultMaxOrphans = 64
	// DefaultOrphanTTL is how long an unopened bucket survives.
	DefaultOrphanTTL = 2 * time.Minute

	maxTombstones = 1024
)

type entry struct {
	at  time.Time
	seq uint64
}

type bucket struct {
	entries map[string]entry
	opened  bool
	created time.Time
}

// Tracker holds first-seen claim timestamps per round. It is safe for
// concurrent use by the round state machine and the claim listener.
//
// Claims for discarded rounds are dropped. Claims for rounds that were never
// opened get an orphan bucket; at most MaxOrphans of those exist and each
// expires after OrphanTTL unless the round opens.
type Tracker struct {
	Now        func() time.Time
	MaxOrphans int
	OrphanTTL  time.Duration

	mu         sync.Mutex
	seq        uint64
	rounds     map[string]*bucket
	orphans    int
	discarded  map[string]struct{}
	tombstones []string
}

func NewTracker() *Tracker {
	return &Tracker{
		Now:        time.Now,
		MaxOrphans: DefaultMaxOrphans,
		OrphanTTL:  DefaultOrphanTTL,
		rounds:     make(map[string]*bucket),
		discarded:  make(map[string]struct{}),
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) maxOrphans() int {
	if t.MaxOrphans > 0 {
		return t.MaxOrphans
	}
	return DefaultMaxOrphans
}

func (t *Tracker) orphanTTL() time.Duration {
	if t.OrphanTTL > 0 {
		return t.OrphanTTL
	}
	return DefaultOrphanTTL
}

func (t *Tracker) init() {
	if t.rounds == nil {
		t.rounds = make(map[string]*bucket)
	}
	if t.discarded == nil {
		t.discarded = make(map[string]struct{})
	}
}

// Open registers an empty bucket for a round. Opening an existing round keeps
// whatever claims already arrived.
func (t *Tracker) Open(roundID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	t.expireLocked()
	delete(t.discarded, roundID)
	b, ok := t.rounds[roundID]
	if !ok {
		t.rounds[roundID] = &bucket{entries: make(map[string]entry), opened: true, created: t.now()}
		return
	}
	if !b.opened {
		b.opened = true
		t.orphans--
	}
}

// expireLocked drops orphan buckets older than the TTL.
func (t *Tracker) expireLocked() {
	if t.orphans == 0 {
		return
	}
	cutoff := t.now().Add(-t.orphanTTL())
	for id, b := range t.rounds {
		if !b.opened && b.created.Before(cutoff) {
			delete(t.rounds, id)
			t.orphans--
		}
	}
}

// bucketLocked returns the round's bucket, creating an orphan when there is
// room. It returns nil when the claim must be dropped.
func (t *Tracker) bucketLocked(roundID string) *bucket {
	t.init()
	if b, ok := t.rounds[roundID]; ok {
		return b
	}
	if _, gone := t.discarded[roundID]; gone {
		return nil
	}
	t.expireLocked()
	if t.orphans >= t.maxOrphans() {
		return nil
	}
	b := &bucket{entries: make(map[string]entry), created: t.now()}
	t.rounds[roundID] = b
	t.orphans++
	return b
}

// Register records the current time as the participant's claim and returns
// the timestamp that counts, which is the first one ever recorded. ok is
// false when the claim was dropped.
func (t *Tracker) Register(roundID, participantID string) (time.Time, bool) {
	return t.RegisterAt(roundID, participantID, t.now())
}

// RegisterAt is Register with a caller-observed timestamp.
func (t *Tracker) RegisterAt(roundID, participantID string, observedAt time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketLocked(roundID)
	if b == nil {
		return time.Time{}, false
	}
	if e, ok := b.entries[participantID]; ok {
		return e.at, true
	}
	t.seq++
	b.entries[participantID] = entry{at: observedAt, seq: t.seq}
	return observedAt, true
}

// Has reports whether a bucket exists for the round.
func (t *Tracker) Has(roundID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rounds[roundID]
	return ok
}

// Snapshot returns the round's claims ordered by timestamp. Equal timestamps
// keep registration order.
func (t *Tracker) Snapshot(roundID string) []domain.Claim {
	t.mu.Lock()
	b, ok := t.rounds[roundID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	type ordered struct {
		claim domain.Claim
		seq   uint64
	}
	items := make([]ordered, 0, len(b.entries))
	for pid, e := range b.entries {
		items = append(items, ordered{
			claim: domain.Claim{RoundID: roundID, ParticipantID: pid, ObservedAt: e.at},
			seq:   e.seq,
		})
	}
	t.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].claim.ObservedAt.Equal(items[j].claim.ObservedAt) {
			return items[i].claim.ObservedAt.Before(items[j].claim.ObservedAt)
		}
		return items[i].seq < items[j].seq
	})
	out := make([]domain.Claim, len(items))
	for i, it := range items {
		out[i] = it.claim
	}
	return out
}

// Discard drops every claim recorded for a round. Later claims for it are
// ignored.
func (t *Tracker) Discard(roundID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	if b, ok := t.rounds[roundID]; ok {
		if !b.opened {
			t.orphans--
		}
		delete(t.rounds, roundID)
	}
	if _, ok := t.discarded[roundID]; ok {
		return
	}
	t.discarded[roundID] = struct{}{}
	t.tombstones = append(t.tombstones, roundID)
	if len(t.tombstones) > maxTombstones {
		delete(t.discarded, t.tombstones[0])
		t.tombstones = t.tombstones[1:]
	}
}

// Rounds returns the number of rounds currently holding a bucket.
func (t *Tracker) Rounds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rounds)
}
