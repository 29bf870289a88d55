package allocation

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"taskline/internal/claims"
	"taskline/internal/ledger"
	"taskline/internal/sink"
	"taskline/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const testSheetURL = "https://docs.google.com/spreadsheets/d/sheet-1/edit"

type claimAt struct {
	participant string
	offset      time.Duration
}

type harness struct {
	sink    *testutil.Sink
	tracker *claims.Tracker
	sheet   *testutil.Worksheet
	ledger  *ledger.Client
	revs    *RevocationSet
	runner  *Runner
	logs    *syncWriter

	mu      sync.Mutex
	scripts [][]claimAt
}

func newHarness(t *testing.T, dataRows int) *harness {
	t.Helper()
	h := &harness{
		sink:    testutil.NewSink(),
		tracker: claims.NewTracker(),
		sheet:   testutil.NewWorksheet("Tasks", []string{"Task No.", "Post link", "Comment to post", "Assigned user", "Proof link"}, dataRows),
		logs:    &syncWriter{w: &bytes.Buffer{}},
	}
	logger := log.New(h.logs, "", 0)
	h.ledger = ledger.NewClient(&testutil.Opener{Books: map[string]*testutil.Book{"sheet-1": {Sheets: []*testutil.Worksheet{h.sheet}}}}, logger)
	h.ledger.Policy.Sleep = (&testutil.NoSleep{}).Sleep
	h.ledger.SetURL(testSheetURL)
	h.revs = NewRevocationSet(h.sink, logger)
	t.Cleanup(h.revs.Close)
	h.runner = &Runner{
		Sink:    h.sink,
		Tracker: h.tracker,
		Pipeline: &Pipeline{
			Sink:        h.sink,
			Ledger:      h.ledger,
			Revocations: h.revs,
			Logger:      logger,
		},
		Logger: logger,
		Now:    func() time.Time { return t0 },
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}
	h.sink.OnAnnounce = h.onAnnounce
	return h
}

// script queues the claims each following announcement receives, one slice
// per round.
func (h *harness) script(rounds ...[]claimAt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts = append(h.scripts, rounds...)
}

func (h *harness) onAnnounce(id string, _ sink.Message) {
	h.mu.Lock()
	var round []claimAt
	if len(h.scripts) > 0 {
		round = h.scripts[0]
		h.scripts = h.scripts[1:]
	}
	h.mu.Unlock()
	present := make([]string, 0, len(round))
	for _, c := range round {
		h.tracker.RegisterAt(id, c.participant, t0.Add(c.offset))
		present = append(present, c.participant)
	}
	h.sink.SetClaimants(id, present...)
}

func defaultRound(start, slots int) RoundConfig {
	return RoundConfig{
		StartingTask:    start,
		Slots:           slots,
		TaskType:        "comment",
		Window:          5 * time.Second,
		Interval:        4 * time.Minute,
		RevocationDelay: time.Hour,
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.String()
}
