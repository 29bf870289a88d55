package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"taskline/internal/domain"
	tasklinesdk "taskline/sdk/go"
)

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderStatus(w io.Writer, st tasklinesdk.Status) {
	tw := newTable(w)
	tw.SetTitle("Allocation")
	tw.AppendRow(table.Row{"Running", yesNo(st.Running)})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("next task %d of %d", st.Cursor, st.TotalTasks)})
	if st.Complete {
		tw.AppendRow(table.Row{"Complete", "yes"})
	}
	if st.TaskType != "" {
		tw.AppendRow(table.Row{"Task type", st.TaskType})
	}
	tw.AppendRow(table.Row{"Winners per round", st.WinnersPerRound})
	if s := st.Settings; s != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Interval", fmt.Sprintf("%g min", s.IntervalMinutes)})
		tw.AppendRow(table.Row{"Claim window", fmt.Sprintf("%g s", s.WindowSeconds)})
		tw.AppendRow(table.Row{"Revocation", fmt.Sprintf("%g h", s.RevocationHours)})
		tw.AppendRow(table.Row{"Ping", s.PingTarget})
		tw.AppendRow(table.Row{"Ledger", s.LedgerURL})
	} else {
		tw.AppendRow(table.Row{"Configured", "no"})
	}
	if r := st.ActiveRound; r != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Active round", fmt.Sprintf("%s (%s) tasks %d-%d", r.ID, r.State, r.StartingTask, r.StartingTask+r.Slots-1)})
	}
	if r := st.LastRound; r != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Last round", fmt.Sprintf("%s %s at %s", r.RoundID, r.State, r.FinishedAt.Format(time.RFC3339))})
		for _, win := range r.Winners {
			tw.AppendRow(table.Row{"", fmt.Sprintf("task %d -> %s", win.TaskNumber, win.ParticipantID)})
		}
		if r.Error != "" {
			tw.AppendRow(table.Row{"", "error: " + r.Error})
		}
	}
	tw.Render()

	if len(st.PendingRevocations) > 0 {
		pw := newTable(w)
		pw.SetTitle("Pending revocations")
		pw.AppendHeader(table.Row{"ID", "Participant", "Privilege", "Revoke at"})
		for _, p := range st.PendingRevocations {
			pw.AppendRow(table.Row{p.ID, p.ParticipantID, p.PrivilegeID, p.RevokeAt.Format(time.RFC3339)})
		}
		pw.Render()
	}
}

// statusView converts an in-process status to the API shape.
func statusView(st domain.Status) tasklinesdk.Status {
	out := tasklinesdk.Status{
		Configured:      st.Configured,
		Running:         st.State.Running,
		Cursor:          st.State.Cursor,
		TotalTasks:      st.State.TotalTasks,
		WinnersPerRound: st.State.WinnersPerRound,
		TaskType:        st.State.TaskType,
		Complete:        st.State.Complete(),
		LedgerReady:     st.LedgerReady,
	}
	if st.Configured {
		out.Settings = &tasklinesdk.Settings{
			IntervalMinutes: st.Settings.Interval.Minutes(),
			WindowSeconds:   st.Settings.Window.Seconds(),
			RevocationHours: st.Settings.RevocationDelay.Hours(),
			PingTarget:      st.Settings.PingTarget,
			LedgerURL:       st.Settings.LedgerURL,
		}
	}
	if r := st.ActiveRound; r != nil {
		out.ActiveRound = &tasklinesdk.Round{ID: r.ID, StartingTask: r.StartingTask, Slots: r.Slots, OpenedAt: r.OpenedAt, WindowSeconds: r.Window.Seconds(), State: string(r.State)}
	}
	if r := st.LastRound; r != nil {
		last := &tasklinesdk.RoundOutcome{RoundID: r.RoundID, State: string(r.State), StartingTask: r.StartingTask, Error: r.Error, FinishedAt: r.FinishedAt}
		for _, win := range r.Winners {
			last.Winners = append(last.Winners, tasklinesdk.Winner{TaskNumber: win.TaskNumber, ParticipantID: win.ParticipantID})
		}
		out.LastRound = last
	}
	for _, p := range st.Pending {
		out.PendingRevocations = append(out.PendingRevocations, tasklinesdk.PendingRevocation(p))
	}
	return out
}

func renderEvents(w io.Writer, events []domain.Event) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
	for _, e := range events {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += ":" + e.EntityID
		}
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID, truncate(e.Payload, 60)})
	}
	tw.Render()
}

func renderAPIKeys(w io.Writer, keys []domain.APIKey) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
	}
	tw.Render()
}

// renderSheet prints a ledger grid; the first row is the header.
func renderSheet(w io.Writer, rows [][]string) {
	tw := newTable(w)
	for i, row := range rows {
		r := make(table.Row, len(row))
		for j, v := range row {
			r[j] = v
		}
		if i == 0 {
			tw.AppendHeader(r)
			continue
		}
		tw.AppendRow(r)
	}
	tw.Render()
}

func renderVerification(w io.Writer, v tasklinesdk.Verification) {
	tw := newTable(w)
	tw.AppendRow(table.Row{"Participant", v.ParticipantID})
	tw.AppendRow(table.Row{"Username", v.Username})
	tw.AppendRow(table.Row{"Karma", fmt.Sprintf("%d (link %d, comment %d)", v.TotalKarma, v.LinkKarma, v.CommentKarma)})
	tw.AppendRow(table.Row{"Verified", yesNo(v.Verified)})
	if v.Reason != "" {
		tw.AppendRow(table.Row{"Reason", v.Reason})
	}
	tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
