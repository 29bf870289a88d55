package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskline/internal/ledger"
)

// Worksheet is an in-memory ledger.Sheet. FailWrites makes the next N
// WriteCell calls fail.
type Worksheet struct {
	Title      string
	FailWrites int

	mu     sync.Mutex
	rows   [][]string
	writes int
}

func NewWorksheet(title string, header []string, dataRows int) *Worksheet {
	ws := &Worksheet{Title: title}
	ws.rows = append(ws.rows, append([]string(nil), header...))
	for i := 1; i <= dataRows; i++ {
		row := make([]string, len(header))
		if len(row) > 0 {
			row[0] = fmt.Sprint(i)
		}
		ws.rows = append(ws.rows, row)
	}
	return ws
}

func (w *Worksheet) RowCount(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows), nil
}

func (w *Worksheet) HeaderRow(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rows) == 0 {
		return nil, nil
	}
	return append([]string(nil), w.rows[0]...), nil
}

func (w *Worksheet) WriteCell(_ context.Context, row, col int, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.FailWrites > 0 {
		w.FailWrites--
		return fmt.Errorf("write %d: transient failure", w.writes)
	}
	if row < 1 || row > len(w.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	for len(w.rows[row-1]) < col {
		w.rows[row-1] = append(w.rows[row-1], "")
	}
	w.rows[row-1][col-1] = value
	return nil
}

// Cell returns the value at a 1-based position, or "" when absent.
func (w *Worksheet) Cell(row, col int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if row < 1 || row > len(w.rows) || col < 1 || col > len(w.rows[row-1]) {
		return ""
	}
	return w.rows[row-1][col-1]
}

// WriteCalls counts every WriteCell invocation, failed or not.
func (w *Worksheet) WriteCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

type Book struct {
	Sheets []*Worksheet
}

func (b *Book) Worksheet(_ context.Context, title string) (ledger.Sheet, error) {
	for _, ws := range b.Sheets {
		if ws.Title == title {
			return ws, nil
		}
	}
	return nil, ledger.ErrWorksheetNotFound
}

func (b *Book) FirstWorksheet(context.Context) (ledger.Sheet, error) {
	if len(b.Sheets) == 0 {
		return nil, ledger.ErrWorksheetNotFound
	}
	return b.Sheets[0], nil
}

// Opener serves Books by sheet id. OpenErr fails every Open.
type Opener struct {
	Books   map[string]*Book
	OpenErr error

	mu    sync.Mutex
	opens int
}

func (o *Opener) Open(_ context.Context, sheetID string) (ledger.Book, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	b, ok := o.Books[sheetID]
	if !ok {
		return nil, ledger.ErrSheetNotFound
	}
	return b, nil
}

func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// NoSleep records requested delays without waiting.
type NoSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *NoSleep) Sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.delays = append(n.delays, d)
	n.mu.Unlock()
	return ctx.Err()
}

func (n *NoSleep) Delays() []time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]time.Duration(nil), n.delays...)
}
