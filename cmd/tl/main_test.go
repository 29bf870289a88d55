package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(&buf)
	require.NoError(t, root.Execute(), buf.String())
	return buf.String()
}

func TestInitWritesConfigOnce(t *testing.T) {
	dir := t.TempDir()
	out := runCLI(t, "-w", dir, "init")
	assert.Contains(t, out, "taskline.yml")
	_, err := os.Stat(filepath.Join(dir, ".taskline", "taskline.db"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "taskline.yml"), []byte("allocation:\n  winners_per_round: 2\n"), 0o644))
	out = runCLI(t, "-w", dir, "init")
	assert.NotContains(t, out, "Wrote")
	data, err := os.ReadFile(filepath.Join(dir, "taskline.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "winners_per_round: 2")
}

func TestLedgerInitAndShow(t *testing.T) {
	dir := t.TempDir()
	out := runCLI(t, "-w", dir, "ledger", "init", "--id", "sheet-a", "--rows", "3")
	assert.Contains(t, out, "https://docs.google.com/spreadsheets/d/sheet-a/edit")

	out = runCLI(t, "-w", dir, "--json", "ledger", "show", "--url", "https://docs.google.com/spreadsheets/d/sheet-a/edit")
	var rows [][]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, "Task No.", rows[0][0])
	assert.Equal(t, "3", rows[3][0])
}

func TestAPIKeyCommands(t *testing.T) {
	dir := t.TempDir()
	out := runCLI(t, "-w", dir, "--json", "api-key", "create", "--actor", "alice", "--name", "ci")
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "alice", created["actor_id"])
	assert.NotEmpty(t, created["key"])

	out = runCLI(t, "-w", dir, "api-key", "list")
	assert.Contains(t, out, "alice")

	runCLI(t, "-w", dir, "api-key", "delete", created["id"].(string))
	out = runCLI(t, "-w", dir, "--json", "api-key", "list")
	assert.NotContains(t, out, "alice")
}

func TestLogTailEmptyWorkspace(t *testing.T) {
	out := runCLI(t, "-w", t.TempDir(), "--json", "log", "tail")
	assert.JSONEq(t, "[]", out)
}

func TestStatusViewAndRender(t *testing.T) {
	revokeAt := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	st := domain.Status{
		Configured: true,
		State:      domain.AllocationState{Running: true, Cursor: 3, TotalTasks: 5, WinnersPerRound: 2, TaskType: "post"},
		Settings:   domain.Settings{Interval: time.Minute, Window: 10 * time.Second, RevocationDelay: 2 * time.Hour, LedgerURL: "https://docs.google.com/spreadsheets/d/x/edit"},
		LastRound: &domain.RoundOutcome{
			RoundID:      "r1",
			State:        domain.RoundDispatched,
			StartingTask: 1,
			Winners:      []domain.WinnerAssignment{{TaskNumber: 1, ParticipantID: "p1"}, {TaskNumber: 2, ParticipantID: "p2"}},
			FinishedAt:   revokeAt.Add(-2 * time.Hour),
		},
		Pending: []domain.PendingRevocation{{ID: 1, ParticipantID: "p1", PrivilegeID: "task", RevokeAt: revokeAt}},
	}
	view := statusView(st)
	require.NotNil(t, view.Settings)
	assert.Equal(t, 1.0, view.Settings.IntervalMinutes)
	assert.Equal(t, 2.0, view.Settings.RevocationHours)
	assert.Equal(t, 3, view.Cursor)
	require.Len(t, view.PendingRevocations, 1)
	assert.Equal(t, revokeAt, view.PendingRevocations[0].RevokeAt)

	var buf bytes.Buffer
	renderStatus(&buf, view)
	out := buf.String()
	assert.Contains(t, out, "next task 3 of 5")
	assert.Contains(t, out, "task 2 -> p2")
	assert.Contains(t, out, "Pending revocations")
}
