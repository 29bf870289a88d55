package allocation

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"taskline/internal/domain"
	"taskline/internal/sink"
)

// DefaultInstructions tell a winner what to do with the ledger.
const DefaultInstructions = "Please fill in the Proof link column (Column E) in the sheet with your Reddit post link once you complete the task."

var titleCaser = cases.Title(language.English)

// TaskTypeLabel title-cases a task type for display, e.g. "poll vote" -> "Poll Vote".
func TaskTypeLabel(taskType string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(taskType)))
}

func taskRange(start, slots int) string {
	if slots <= 1 {
		return fmt.Sprintf("task #%d", start)
	}
	return fmt.Sprintf("tasks #%d-#%d", start, start+slots-1)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatMinutes renders an interval the way announcements phrase it.
func FormatMinutes(d time.Duration) string {
	if d%time.Minute != 0 {
		return d.String()
	}
	return plural(int(d/time.Minute), "minute")
}

// FormatHours renders a revocation delay.
func FormatHours(d time.Duration) string {
	if d%time.Hour != 0 {
		return d.String()
	}
	return plural(int(d/time.Hour), "hour")
}

func mention(participantID string) string { return "@" + participantID }

func announcementMessage(cfg RoundConfig) sink.Message {
	people := fmt.Sprint(cfg.Slots)
	if cfg.Slots < 1 {
		people = "1"
	}
	return sink.Message{
		Title:       "Task Available!",
		Description: fmt.Sprintf("Claim within %s to take %s!", plural(int(cfg.Window/time.Second), "second"), taskRange(cfg.StartingTask, cfg.Slots)),
		Fields: []sink.Field{
			{Name: "Task Type", Value: TaskTypeLabel(cfg.TaskType), Inline: true},
			{Name: "People Needed", Value: people, Inline: true},
		},
		Tone: sink.ToneInfo,
	}
}

func createdLog(cfg RoundConfig) string {
	s := taskRange(cfg.StartingTask, cfg.Slots)
	return strings.ToUpper(s[:1]) + s[1:] + " created and posted"
}

func noClaimsMessage(cfg RoundConfig) sink.Message {
	return sink.Message{
		Title:       "No Claims",
		Description: fmt.Sprintf("No one claimed %s. Reposting in %s...", taskRange(cfg.StartingTask, cfg.Slots), FormatMinutes(cfg.Interval)),
		Tone:        sink.ToneWarning,
	}
}

func noClaimsLog(cfg RoundConfig) string {
	return fmt.Sprintf("No one claimed %s. Reposting soon.", taskRange(cfg.StartingTask, cfg.Slots))
}

func assignedMessage(winners []domain.WinnerAssignment) sink.Message {
	if len(winners) == 1 {
		return sink.Message{
			Title:       "Task Assigned!",
			Description: fmt.Sprintf("Task #%d goes to %s!", winners[0].TaskNumber, mention(winners[0].ParticipantID)),
			Tone:        sink.ToneSuccess,
		}
	}
	lines := make([]string, len(winners))
	for i, w := range winners {
		lines[i] = fmt.Sprintf("Task #%d: %s", w.TaskNumber, mention(w.ParticipantID))
	}
	return sink.Message{
		Title:       "Tasks Assigned!",
		Description: strings.Join(lines, "\n"),
		Tone:        sink.ToneSuccess,
	}
}

func completeMessage() sink.Message {
	return sink.Message{
		Title:       "All Tasks Complete!",
		Description: "All tasks have been assigned!",
		Tone:        sink.ToneSuccess,
	}
}

// notice is the content every winner receives, directly or in public.
type notice struct {
	TaskNumber      int
	LedgerURL       string
	Instructions    string
	Privilege       string
	RevocationDelay time.Duration
}

func (n notice) fields() []sink.Field {
	link := n.LedgerURL
	if link == "" {
		link = "No task sheet configured"
	}
	instructions := n.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return []sink.Field{
		{Name: "Task Sheet", Value: link},
		{Name: "Instructions", Value: instructions},
		{Name: "Task Details", Value: fmt.Sprintf("Task Number: %d\nPrivilege: %s (will be removed in %s)", n.TaskNumber, n.Privilege, FormatHours(n.RevocationDelay))},
	}
}

func directMessage(n notice) sink.Message {
	return sink.Message{
		Title:       "Congratulations! Task Assigned",
		Description: fmt.Sprintf("You have been assigned Task #%d!", n.TaskNumber),
		Fields:      n.fields(),
		Footer:      "Good luck with your task!",
		Tone:        sink.ToneSuccess,
	}
}

func fallbackMessage(participantID string, n notice) sink.Message {
	fields := append([]sink.Field{{Name: "Task Assigned", Value: fmt.Sprintf("You have been assigned Task #%d!", n.TaskNumber)}}, n.fields()...)
	return sink.Message{
		Title:       "Could Not Reach You Directly",
		Mention:     participantID,
		Description: fmt.Sprintf("%s - we could not reach you directly, so here's your task information:", mention(participantID)),
		Fields:      fields,
		Footer:      "Please enable direct messages for future tasks!",
		Tone:        sink.ToneWarning,
	}
}

func errorMessage(text string) sink.Message {
	return sink.Message{Title: "Allocation Error", Description: text, Tone: sink.ToneError}
}
