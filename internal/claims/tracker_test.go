package claims

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_RegisterIsIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Open("r1")

	first, ok := tr.RegisterAt("r1", "alice", t0)
	require.True(t, ok)
	again, ok := tr.RegisterAt("r1", "alice", t0.Add(time.Second))
	require.True(t, ok)

	assert.Equal(t, first, again)
	snap := tr.Snapshot("r1")
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].ParticipantID)
	assert.Equal(t, t0, snap[0].ObservedAt)
}

func TestTracker_RegisterUsesClock(t *testing.T) {
	tr := NewTracker()
	tr.Now = func() time.Time { return t0 }
	got, ok := tr.Register("r1", "bob")
	assert.True(t, ok)
	assert.Equal(t, t0, got)
}

func TestTracker_SnapshotOrdersByTimestamp(t *testing.T) {
	tr := NewTracker()
	tr.Open("r1")
	tr.RegisterAt("r1", "b", t0.Add(time.Second))
	tr.RegisterAt("r1", "c", t0)
	tr.RegisterAt("r1", "d", t0.Add(2*time.Second))

	snap := tr.Snapshot("r1")
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"c", "b", "d"}, participants(snap))
	for i := 1; i < len(snap); i++ {
		assert.True(t, snap[i-1].ObservedAt.Before(snap[i].ObservedAt))
	}
}

func TestTracker_EqualTimestampsKeepRegistrationOrder(t *testing.T) {
	tr := NewTracker()
	for _, p := range []string{"zed", "amy", "kim", "bo"} {
		tr.RegisterAt("r1", p, t0)
	}
	assert.Equal(t, []string{"zed", "amy", "kim", "bo"}, participants(tr.Snapshot("r1")))
}

func TestTracker_RoundsAreIsolated(t *testing.T) {
	tr := NewTracker()
	tr.RegisterAt("r1", "alice", t0)
	tr.RegisterAt("r2", "alice", t0.Add(time.Minute))

	assert.Equal(t, t0, tr.Snapshot("r1")[0].ObservedAt)
	assert.Equal(t, t0.Add(time.Minute), tr.Snapshot("r2")[0].ObservedAt)
}

func TestTracker_Discard(t *testing.T) {
	tr := NewTracker()
	tr.Open("r1")
	tr.RegisterAt("r1", "alice", t0)
	assert.True(t, tr.Has("r1"))

	tr.Discard("r1")
	assert.False(t, tr.Has("r1"))
	assert.Empty(t, tr.Snapshot("r1"))
	assert.Equal(t, 0, tr.Rounds())
}

func TestTracker_LateClaimAfterDiscardIsDropped(t *testing.T) {
	tr := NewTracker()
	tr.Open("r1")
	tr.RegisterAt("r1", "alice", t0)
	tr.Discard("r1")

	_, ok := tr.RegisterAt("r1", "bob", t0.Add(time.Minute))
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Rounds())
	assert.Empty(t, tr.Snapshot("r1"))
}

func TestTracker_UnknownRoundsAreCapped(t *testing.T) {
	tr := NewTracker()
	tr.Now = func() time.Time { return t0 }
	tr.MaxOrphans = 8

	for i := 0; i < 1000; i++ {
		tr.RegisterAt(fmt.Sprintf("bogus-%d", i), "mallory", t0)
	}
	assert.Equal(t, 8, tr.Rounds())
	_, ok := tr.RegisterAt("bogus-999", "mallory", t0)
	assert.False(t, ok)
}

func TestTracker_OrphansExpireUnlessOpened(t *testing.T) {
	now := t0
	tr := NewTracker()
	tr.Now = func() time.Time { return now }
	tr.MaxOrphans = 2
	tr.OrphanTTL = time.Minute

	tr.RegisterAt("early", "alice", now)
	tr.RegisterAt("stale", "bob", now)
	tr.Open("early")

	now = now.Add(2 * time.Minute)
	_, ok := tr.RegisterAt("fresh", "carol", now)
	require.True(t, ok)
	assert.True(t, tr.Has("early"), "opened round keeps claims that arrived before it opened")
	assert.False(t, tr.Has("stale"))
	assert.Equal(t, []string{"alice"}, participants(tr.Snapshot("early")))
}

func TestTracker_ConcurrentRegistration(t *testing.T) {
	tr := NewTracker()
	tr.Open("r1")
	const participantsN = 50
	const repeats = 20

	var wg sync.WaitGroup
	for i := 0; i < participantsN; i++ {
		for j := 0; j < repeats; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				tr.RegisterAt("r1", fmt.Sprintf("p%d", i), t0.Add(time.Duration(i*repeats+j)*time.Millisecond))
			}(i, j)
		}
	}
	wg.Wait()

	snap := tr.Snapshot("r1")
	require.Len(t, snap, participantsN)
	seen := make(map[string]bool)
	for _, c := range snap {
		assert.False(t, seen[c.ParticipantID], "duplicate participant %s", c.ParticipantID)
		seen[c.ParticipantID] = true
	}
}

func participants(claims []domain.Claim) []string {
	out := make([]string, len(claims))
	for i, c := range claims {
		out[i] = c.ParticipantID
	}
	return out
}
