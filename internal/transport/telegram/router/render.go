package router

import (
	"fmt"
	"strconv"
	"time"

	"taskbot/internal/task"
	kit "taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

// Callback data layout: "t:<action>:<taskID>" for task actions,
// "ui:<action>" for navigation. See Telegram's 64-byte callback_data limit.
const (
	scopeTask = "t"
	scopeUI   = "ui"
)

// reminderPresets are the quick-pick intervals offered in the reminder menu.
var reminderPresets = []struct {
	Label string
	Every time.Duration
}{
	{"5m", 5 * time.Minute},
	{"30m", 30 * time.Minute},
	{"1h", time.Hour},
	{"3h", 3 * time.Hour},
	{"6h", 6 * time.Hour},
}

func taskData(action string, taskID int64) string {
	return tgui.Data(scopeTask, action, strconv.FormatInt(taskID, 10))
}

func uiData(action string) string {
	return tgui.Data(scopeUI, action, "")
}

func renderMenu() (string, [][]kit.Button) {
	text := tgui.JoinH("\n",
		tgui.B("Task tracker"),
		tgui.Esc("Track progress and get nagged about it."),
	).String()
	kb := tgui.NewInline().
		Row(tgui.Btn("➕ New task", uiData("new")), tgui.Btn("📋 My tasks", uiData("list"))).
		Row(tgui.Btn("📊 Stats", uiData("stats")))
	return text, kb.Rows()
}

func renderHelp() string {
	return tgui.JoinH("\n",
		tgui.B("Commands"),
		tgui.Esc("/new <name> - create a task"),
		tgui.Esc("/list - show your tasks"),
		tgui.Esc("/stats - open and closed counts"),
		tgui.Esc("/help - this message"),
		tgui.Esc("Each task has a 10-step progress bar and an optional repeating reminder."),
	).String()
}

func renderList(tasks []task.Task) (string, [][]kit.Button) {
	if len(tasks) == 0 {
		text := tgui.Esc("No tasks yet. Create one!").String()
		kb := tgui.NewInline().Row(tgui.Btn("➕ New task", uiData("new")))
		return text, kb.Rows()
	}

	parts := []tgui.H{tgui.B("Your tasks")}
	kb := tgui.NewInline()
	for _, t := range tasks {
		parts = append(parts, tgui.Esc(fmt.Sprintf("%d. %s — %d%%", t.ID, t.Name, t.Percent())))
		label := tgui.TruncRunes(t.Name, 24)
		if t.RemindEvery != nil {
			label = "🔔 " + label
		}
		kb.Row(tgui.Btn(label, taskData("open", t.ID)))
	}
	kb.Row(tgui.Btn("➕ New task", uiData("new")), tgui.Btn("🏠 Menu", uiData("menu")))
	return tgui.JoinH("\n", parts...).String(), kb.Rows()
}

func renderTask(t task.Task) (string, [][]kit.Button) {
	parts := []tgui.H{
		tgui.B(t.Name),
		tgui.Raw(tgui.ProgressBar(t.Done, t.Total)),
	}
	if t.RemindEvery != nil {
		parts = append(parts, tgui.Esc("🔔 every "+formatEvery(t.ReminderInterval())))
	}
	text := tgui.JoinH("\n", parts...).String()

	kb := tgui.NewInline().
		Row(
			tgui.Btn("-10%", taskData("dec", t.ID)),
			tgui.Btn("+10%", taskData("inc", t.ID)),
			tgui.Btn("↺", taskData("reset", t.ID)),
		).
		Row(
			tgui.Btn("✏️ Rename", taskData("ren", t.ID)),
			tgui.Btn("🔔 Reminder", taskData("rem", t.ID)),
		).
		Row(
			tgui.Btn("✅ Close", taskData("close", t.ID)),
			tgui.Btn("🗑 Delete", taskData("del", t.ID)),
		).
		Row(tgui.Btn("📋 Tasks", uiData("list")), tgui.Btn("🏠 Menu", uiData("menu")))
	return text, kb.Rows()
}

func renderReminderMenu(t task.Task) (string, [][]kit.Button) {
	parts := []tgui.H{tgui.B(t.Name)}
	if t.RemindEvery != nil {
		parts = append(parts, tgui.Esc("🔔 currently every "+formatEvery(t.ReminderInterval())))
	} else {
		parts = append(parts, tgui.Esc("No reminder set."))
	}
	parts = append(parts, tgui.Esc("Remind me every:"))
	text := tgui.JoinH("\n", parts...).String()

	row := make([]kit.Button, 0, len(reminderPresets))
	for _, p := range reminderPresets {
		row = append(row, tgui.Btn(p.Label, taskData("rem"+p.Label, t.ID)))
	}
	kb := tgui.NewInline().Row(row...).
		Row(
			tgui.Btn("🧪 Test (5s)", taskData("remtest", t.ID)),
			tgui.Btn("🔕 Off", taskData("remoff", t.ID)),
		).
		Row(tgui.Btn("⬅️ Back", taskData("open", t.ID)))
	return text, kb.Rows()
}

func renderStats(open int, closed int64) string {
	return tgui.JoinH("\n",
		tgui.B("Stats"),
		tgui.Esc(fmt.Sprintf("Open tasks: %d", open)),
		tgui.Esc(fmt.Sprintf("Closed tasks: %d", closed)),
	).String()
}

// renderDebugRem is the /debugrem dump: persisted intervals plus whether each
// one currently has a live timer.
func renderDebugRem(tasks []task.Task, armed map[int64]bool) string {
	if len(tasks) == 0 {
		return tgui.Esc("No reminders set.").String()
	}
	parts := []tgui.H{tgui.B("Reminders")}
	for _, t := range tasks {
		state := "armed"
		if !armed[t.ID] {
			state = "NOT armed"
		}
		parts = append(parts, tgui.Esc(fmt.Sprintf("%d. %s — every %s, %s",
			t.ID, t.Name, formatEvery(t.ReminderInterval()), state)))
	}
	return tgui.JoinH("\n", parts...).String()
}

func renderReminderPrompt(t task.Task) (string, [][]kit.Button) {
	text := tgui.JoinH("\n",
		tgui.Esc("🔔 Reminder: ")+tgui.B(t.Name),
		tgui.Raw(tgui.ProgressBar(t.Done, t.Total)),
	).String()
	kb := tgui.NewInline().
		Row(tgui.Btn("+10%", taskData("inc", t.ID)), tgui.Btn("✅ Close", taskData("close", t.ID))).
		Row(
			tgui.Btn("Open", taskData("open", t.ID)),
			tgui.Btn("🔔 Change", taskData("rem", t.ID)),
			tgui.Btn("🔕 Off", taskData("remoff", t.ID)),
		)
	return text, kb.Rows()
}

func formatEvery(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
