package allocation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
)

func testSettings(interval time.Duration) domain.Settings {
	return domain.Settings{
		Interval:        interval,
		Window:          time.Second,
		RevocationDelay: time.Hour,
		LedgerURL:       testSheetURL,
	}
}

func TestScheduler_CursorProgression(t *testing.T) {
	h := newHarness(t, 3)
	s := NewScheduler(h.runner, nil)
	require.NoError(t, s.Configure(testSettings(time.Minute)))
	s.state.Reset(3, "comment", 1)

	h.script(
		[]claimAt{{"A", 0}},
		nil,
		[]claimAt{{"B", time.Second}, {"C", 0}},
	)
	ctx := context.Background()

	assert.False(t, s.tick(ctx, nil))
	assert.Equal(t, 2, s.state.Cursor())

	assert.False(t, s.tick(ctx, nil))
	assert.Equal(t, 2, s.state.Cursor())
	require.NotNil(t, s.Status().LastRound)
	assert.Equal(t, domain.RoundEmpty, s.Status().LastRound.State)

	assert.False(t, s.tick(ctx, nil))
	assert.Equal(t, 3, s.state.Cursor())
	last := s.Status().LastRound
	require.NotNil(t, last)
	assert.Equal(t, []domain.WinnerAssignment{{TaskNumber: 2, ParticipantID: "C"}}, last.Winners)

	assert.Equal(t, "A", h.sheet.Cell(2, 4))
	assert.Equal(t, "C", h.sheet.Cell(3, 4))
	assert.Equal(t, "", h.sheet.Cell(4, 4))
}

func TestScheduler_CursorAdvancesOncePerRoundRegardlessOfWinners(t *testing.T) {
	h := newHarness(t, 10)
	s := NewScheduler(h.runner, nil)
	require.NoError(t, s.Configure(testSettings(time.Minute)))
	s.state.Reset(5, "upvote", 3)
	h.script([]claimAt{{"D", 0}, {"E", time.Second}, {"F", 2 * time.Second}})

	s.tick(context.Background(), nil)

	assert.Equal(t, 2, s.state.Cursor())
	assert.Len(t, s.Status().LastRound.Winners, 3)
}

func TestScheduler_ExhaustionAnnouncesAndStops(t *testing.T) {
	h := newHarness(t, 3)
	s := NewScheduler(h.runner, nil)
	require.NoError(t, s.Configure(testSettings(5*time.Millisecond)))
	h.script([]claimAt{{"A", 0}})

	require.NoError(t, s.Start(StartOptions{TotalTasks: 1, TaskType: "post", WinnersPerRound: 1}))

	assert.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)
	s.Close()

	st := s.Status()
	assert.False(t, st.State.Running)
	assert.Equal(t, 2, st.State.Cursor)
	public := h.sink.Public()
	require.NotEmpty(t, public)
	assert.Equal(t, "All Tasks Complete!", public[len(public)-1].Title)
	assert.Contains(t, h.sink.Logs(), "All tasks have been completed!")
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestScheduler_LifecycleErrors(t *testing.T) {
	h := newHarness(t, 3)
	s := NewScheduler(h.runner, nil)

	assert.ErrorIs(t, s.Start(StartOptions{TotalTasks: 1, WinnersPerRound: 1}), ErrNotConfigured)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.ErrorIs(t, s.Configure(domain.Settings{}), ErrInvalidOptions)

	require.NoError(t, s.Configure(testSettings(time.Minute)))
	assert.ErrorIs(t, s.Start(StartOptions{TotalTasks: 0, WinnersPerRound: 1}), ErrInvalidOptions)
}

func TestScheduler_StopPreservesCursorAndRevocations(t *testing.T) {
	h := newHarness(t, 5)
	s := NewScheduler(h.runner, nil)
	s.Pending = h.revs.Pending
	require.NoError(t, s.Configure(testSettings(time.Hour)))
	h.script([]claimAt{{"A", 0}})

	require.NoError(t, s.Start(StartOptions{TotalTasks: 5, TaskType: "comment", WinnersPerRound: 1}))
	assert.Eventually(t, func() bool {
		last := s.Status().LastRound
		return last != nil && last.State == domain.RoundDispatched
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	st := s.Status()
	assert.False(t, st.State.Running)
	assert.Equal(t, 2, st.State.Cursor)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "A", st.Pending[0].ParticipantID)
	assert.Len(t, h.sink.Announcements(), 1)
}

func TestScheduler_StopWhileWaitingForRoundOpensNothing(t *testing.T) {
	h := newHarness(t, 5)
	release := make(chan struct{})
	var windows int32
	h.runner.Sleep = func(ctx context.Context, d time.Duration) error {
		if atomic.AddInt32(&windows, 1) == 1 {
			<-release
		}
		return nil
	}
	s := NewScheduler(h.runner, nil)
	require.NoError(t, s.Configure(testSettings(time.Hour)))

	opts := StartOptions{TotalTasks: 5, TaskType: "post", WinnersPerRound: 1}
	require.NoError(t, s.Start(opts))
	assert.Eventually(t, func() bool { return len(h.sink.Announcements()) == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(opts))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())
	close(release)

	time.Sleep(200 * time.Millisecond)
	assert.False(t, s.Running())
	assert.Len(t, h.sink.Announcements(), 1, "no round may open after Stop")
	s.Close()
}

// roundLog records open/finish events so overlapping rounds show up as two
// consecutive opens.
type roundLog struct {
	mu     sync.Mutex
	events []string
}

func (l *roundLog) Record(_ context.Context, ev Event) {
	if ev.Type != EventRoundOpened && ev.Type != EventRoundFinished {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev.Type)
}

func (l *roundLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestScheduler_ReconfigureNeverOverlapsRounds(t *testing.T) {
	h := newHarness(t, 100)
	var active, maxActive int32
	h.runner.Sleep = func(ctx context.Context, d time.Duration) error {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	rl := &roundLog{}
	h.runner.Recorder = rl

	s := NewScheduler(h.runner, nil)
	s.Quiescence = time.Millisecond
	require.NoError(t, s.Configure(testSettings(2*time.Millisecond)))
	require.NoError(t, s.Start(StartOptions{TotalTasks: 100, TaskType: "comment", WinnersPerRound: 1}))

	assert.Eventually(t, func() bool { return len(h.sink.Announcements()) >= 1 }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ReconfigureInterval(time.Duration(i+1)*time.Millisecond))
		time.Sleep(7 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	s.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	events := rl.snapshot()
	require.NotEmpty(t, events)
	for i, ev := range events {
		if i%2 == 0 {
			assert.Equal(t, EventRoundOpened, ev, "event %d", i)
		} else {
			assert.Equal(t, EventRoundFinished, ev, "event %d", i)
		}
	}
	assert.Equal(t, 1, s.state.Cursor())
}
