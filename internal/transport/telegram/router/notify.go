package router

import (
	"context"

	"taskbot/internal/task"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

// TaskReminder renders the reminder prompt and hands it to the delivery
// queue. Called from inside a timer firing, so it must not block.
func (r *Router) TaskReminder(ctx context.Context, userID int64, t task.Task) error {
	body, kb := renderReminderPrompt(t)
	return r.enqueue(userID, body, kb)
}

// TestReminder is the one-shot debug variant.
func (r *Router) TestReminder(ctx context.Context, userID int64, t task.Task) error {
	body := tgui.JoinH("\n",
		tgui.Esc("🧪 Test reminder: ")+tgui.B(t.Name),
		tgui.Esc("Repeating reminders will look like this."),
	).String()
	return r.enqueue(userID, body, nil)
}

func (r *Router) enqueue(userID int64, text string, kb [][]kit.Button) error {
	err := r.notif.Enqueue(kit.Notification{
		Target: kit.ChatTarget{ChatID: userID},
		Text:   text,
		Options: &kit.SendOptions{
			ParseMode:      "HTML",
			DisablePreview: true,
			Buttons:        kb,
		},
	})
	if err != nil {
		r.log.Warn("reminder not enqueued", logx.Int64("user", userID), logx.Err(err))
	}
	return err
}
