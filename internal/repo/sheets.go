package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/ledger"
)

// SheetHeader is the column layout of a freshly created ledger.
var SheetHeader = []string{"Task No.", "Post link", "Comment to post", "Assigned user", "Proof link"}

// CreateSheet stores a spreadsheet with a single worksheet holding header
// followed by rows. Task numbers are filled into column 1 when a row leaves
// it empty.
func (r Repo) CreateSheet(ctx context.Context, sheetID, worksheet string, header []string, rows [][]string) error {
	if strings.TrimSpace(sheetID) == "" {
		return errors.New("sheet id required")
	}
	if worksheet == "" {
		worksheet = ledger.DefaultWorksheet
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sheets(id, created_at) VALUES (?,?)`, sheetID, now); err != nil {
		return fmt.Errorf("insert sheet: %w", err)
	}
	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM worksheets WHERE sheet_id=?`, sheetID).Scan(&position); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO worksheets(sheet_id, title, position, row_count) VALUES (?,?,?,?)`,
		sheetID, worksheet, position, len(rows)+1); err != nil {
		return fmt.Errorf("insert worksheet: %w", err)
	}
	all := append([][]string{header}, rows...)
	for i, row := range all {
		rowNum := i + 1
		if i > 0 && (len(row) == 0 || row[0] == "") {
			filled := make([]string, max(len(row), 1))
			copy(filled, row)
			filled[0] = fmt.Sprint(i)
			row = filled
		}
		for c, value := range row {
			if value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO sheet_cells(sheet_id, worksheet, row_num, col_num, value, updated_at) VALUES (?,?,?,?,?,?)`,
				sheetID, worksheet, rowNum, c+1, value, now); err != nil {
				return fmt.Errorf("insert cell: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SheetRows returns the worksheet as a dense grid, header first.
func (r Repo) SheetRows(ctx context.Context, sheetID, worksheet string) ([][]string, error) {
	ws, err := r.worksheet(ctx, sheetID, worksheet)
	if err != nil {
		return nil, err
	}
	rowCount, err := ws.RowCount(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT row_num, col_num, value FROM sheet_cells WHERE sheet_id=? AND worksheet=? ORDER BY row_num, col_num`, sheetID, ws.title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grid := make([][]string, rowCount)
	width := 0
	for rows.Next() {
		var rowNum, colNum int
		var value string
		if err := rows.Scan(&rowNum, &colNum, &value); err != nil {
			return nil, err
		}
		if rowNum < 1 || rowNum > rowCount {
			continue
		}
		line := grid[rowNum-1]
		for len(line) < colNum {
			line = append(line, "")
		}
		line[colNum-1] = value
		grid[rowNum-1] = line
		width = max(width, colNum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range grid {
		for len(grid[i]) < width {
			grid[i] = append(grid[i], "")
		}
	}
	return grid, nil
}

func (r Repo) worksheet(ctx context.Context, sheetID, title string) (*worksheet, error) {
	book, err := r.Open(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	var s ledger.Sheet
	if title != "" {
		s, err = book.Worksheet(ctx, title)
		if errors.Is(err, ledger.ErrWorksheetNotFound) {
			s, err = book.FirstWorksheet(ctx)
		}
	} else {
		s, err = book.FirstWorksheet(ctx)
	}
	if err != nil {
		return nil, err
	}
	return s.(*worksheet), nil
}

// Open implements ledger.Opener over the local sheet tables.
func (r Repo) Open(ctx context.Context, sheetID string) (ledger.Book, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM sheets WHERE id=?`, sheetID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSheetNotFound, sheetID)
	}
	if err != nil {
		return nil, err
	}
	return book{db: r.DB, id: id}, nil
}

type book struct {
	db *sql.DB
	id string
}

func (b book) Worksheet(ctx context.Context, title string) (ledger.Sheet, error) {
	var found string
	err := b.db.QueryRowContext(ctx, `SELECT title FROM worksheets WHERE sheet_id=? AND title=?`, b.id, title).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrWorksheetNotFound, title)
	}
	if err != nil {
		return nil, err
	}
	return &worksheet{db: b.db, sheetID: b.id, title: found}, nil
}

func (b book) FirstWorksheet(ctx context.Context) (ledger.Sheet, error) {
	var title string
	err := b.db.QueryRowContext(ctx, `SELECT title FROM worksheets WHERE sheet_id=? ORDER BY position LIMIT 1`, b.id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sheet %s has no worksheets", ledger.ErrWorksheetNotFound, b.id)
	}
	if err != nil {
		return nil, err
	}
	return &worksheet{db: b.db, sheetID: b.id, title: title}, nil
}

type worksheet struct {
	db      *sql.DB
	sheetID string
	title   string
}

func (w *worksheet) RowCount(ctx context.Context) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT row_count FROM worksheets WHERE sheet_id=? AND title=?`, w.sheetID, w.title).Scan(&n)
	return n, err
}

func (w *worksheet) HeaderRow(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT col_num, value FROM sheet_cells WHERE sheet_id=? AND worksheet=? AND row_num=1 ORDER BY col_num`, w.sheetID, w.title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var header []string
	for rows.Next() {
		var col int
		var value string
		if err := rows.Scan(&col, &value); err != nil {
			return nil, err
		}
		for len(header) < col-1 {
			header = append(header, "")
		}
		header = append(header, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, errors.New("header row is empty")
	}
	return header, nil
}

func (w *worksheet) WriteCell(ctx context.Context, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("cell %d,%d out of range", row, col)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sheet_cells(sheet_id, worksheet, row_num, col_num, value, updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(sheet_id, worksheet, row_num, col_num) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		w.sheetID, w.title, row, col, value, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE worksheets SET row_count=MAX(row_count, ?) WHERE sheet_id=? AND title=?`, row, w.sheetID, w.title); err != nil {
		return err
	}
	return tx.Commit()
}
