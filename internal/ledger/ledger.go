// Package ledger records task winners in an external spreadsheet.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
)

const (
	// DefaultColumn is the "Assigned user" column, 1-based.
	DefaultColumn    = 4
	DefaultWorksheet = "Tasks"
)

var (
	ErrInvalidURL        = errors.New("invalid sheet URL")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrWorksheetNotFound = errors.New("worksheet not found")
	ErrNotConfigured     = errors.New("ledger not configured")
)

// Sheet is a single worksheet. Rows and columns are 1-based and row 1 holds
// the header.
type Sheet interface {
	RowCount(ctx context.Context) (int, error)
	HeaderRow(ctx context.Context) ([]string, error)
	WriteCell(ctx context.Context, row, col int, value string) error
}

// Book is an opened spreadsheet.
type Book interface {
	// Worksheet returns ErrWorksheetNotFound when no worksheet has that title.
	Worksheet(ctx context.Context, title string) (Sheet, error)
	FirstWorksheet(ctx context.Context) (Sheet, error)
}

// Opener resolves a spreadsheet id to a Book.
type Opener interface {
	Open(ctx context.Context, sheetID string) (Book, error)
}

var sheetIDPattern = regexp.MustCompile(`/d/([A-Za-z0-9\-_]+)`)

// ExtractSheetID pulls the spreadsheet id out of a sharing URL.
func ExtractSheetID(url string) (string, bool) {
	m := sheetIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type Client struct {
	Opener    Opener
	Policy    Policy
	Column    int
	Worksheet string
	Logger    *log.Logger

	mu  sync.RWMutex
	url string
}

func NewClient(opener Opener, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		Opener:    opener,
		Policy:    DefaultPolicy(),
		Column:    DefaultColumn,
		Worksheet: DefaultWorksheet,
		Logger:    logger,
	}
}

func (c *Client) SetURL(url string) {
	c.mu.Lock()
	c.url = strings.TrimSpace(url)
	c.mu.Unlock()
}

func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *Client) Configured() bool {
	return c.Opener != nil && c.URL() != ""
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Validate checks that url names a reachable sheet with a readable header
// row. The returned error is suitable for showing to an operator.
func (c *Client) Validate(ctx context.Context, url string) error {
	if c.Opener == nil {
		return ErrNotConfigured
	}
	id, ok := ExtractSheetID(url)
	if !ok {
		return ErrInvalidURL
	}
	book, err := c.Opener.Open(ctx, id)
	if err != nil {
		return fmt.Errorf("sheet access failed: %w", err)
	}
	ws, err := book.FirstWorksheet(ctx)
	if err != nil {
		return fmt.Errorf("sheet access failed: %w", err)
	}
	if _, err := ws.HeaderRow(ctx); err != nil {
		return fmt.Errorf("sheet access failed: %w", err)
	}
	return nil
}

// Write puts winner into the assigned-user cell of the task's row. It
// reports whether the value was written; failures are logged.
func (c *Client) Write(ctx context.Context, taskNumber int, winner string) bool {
	if !c.Configured() {
		c.logf("ledger not configured, skipping task %d", taskNumber)
		return false
	}
	id, ok := ExtractSheetID(c.URL())
	if !ok {
		c.logf("ledger url has no sheet id, skipping task %d", taskNumber)
		return false
	}
	col := c.Column
	if col <= 0 {
		col = DefaultColumn
	}
	row := taskNumber + 1

	policy := c.Policy
	policy.OnFailure = func(attempt int, err error) {
		if IsPermanent(err) {
			return
		}
		c.logf("ledger write attempt %d failed: %v", attempt, err)
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		ws, err := c.worksheet(ctx, id)
		if err != nil {
			return err
		}
		rows, err := ws.RowCount(ctx)
		if err != nil {
			return err
		}
		if rows < row {
			return Permanent(fmt.Errorf("task %d row doesn't exist in sheet", taskNumber))
		}
		return ws.WriteCell(ctx, row, col, winner)
	})
	if err != nil {
		if IsPermanent(err) {
			c.logf("ledger: %v", err)
		} else {
			c.logf("ledger write for task %d failed: %v", taskNumber, err)
		}
		return false
	}
	c.logf("updated sheet: task %d -> %s", taskNumber, winner)
	return true
}

func (c *Client) worksheet(ctx context.Context, id string) (Sheet, error) {
	book, err := c.Opener.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	title := c.Worksheet
	if title == "" {
		title = DefaultWorksheet
	}
	ws, err := book.Worksheet(ctx, title)
	if errors.Is(err, ErrWorksheetNotFound) {
		return book.FirstWorksheet(ctx)
	}
	return ws, err
}
