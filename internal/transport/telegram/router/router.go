// Package router turns incoming updates into engine calls and rendered
// replies. It owns the per-chat "awaiting text" state used by the task
// creation and rename flows.
package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/internal/notifier"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/task"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

const handleTimeout = 15 * time.Second

// pendingInput marks a chat whose next plain-text message is consumed by a
// flow instead of the command parser.
type pendingInput struct {
	Mode   string // "new" | "rename"
	TaskID int64
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	eng     *task.Engine
	notif   *notifier.Service

	// armed reports whether a live timer exists for (user, task); nil means
	// no probe is wired and /debugrem trusts the persisted interval.
	armed func(userID, taskID int64) bool

	mu      sync.Mutex
	pending map[int64]pendingInput

	jobs chan func()
}

// SetReminderProbe wires the live-timer check used by /debugrem.
func (r *Router) SetReminderProbe(fn func(userID, taskID int64) bool) { r.armed = fn }

func New(log logx.Logger, adapter kit.Adapter, eng *task.Engine, notif *notifier.Service) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		eng:     eng,
		notif:   notif,
		pending: map[int64]pendingInput{},
		jobs:    make(chan func(), 256),
	}
}

// Commands returns the /menu autocomplete entries, in display order.
func Commands() (map[string]string, []string) {
	return map[string]string{
		"new":   "create a task",
		"list":  "show your tasks",
		"stats": "open and closed counts",
		"help":  "how this bot works",
	}, []string{"new", "list", "stats", "help"}
}

// DispatchLoop consumes updates until ctx is done. Handlers run on a small
// worker pool so one slow Telegram call doesn't stall the stream.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	const workers = 4

	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))))
	r.log.Info("dispatcher started", logx.Int("workers", workers))

	for i := 0; i < workers; i++ {
		name := "router.worker." + strconv.Itoa(i)
		sup.Go0(name, func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			sup.Cancel()
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := sup.Wait(wctx)
			cancel()
			return err
		case up, ok := <-updates:
			if !ok {
				sup.Cancel()
				return nil
			}
			u := up
			job := func() {
				hctx, cancel := context.WithTimeout(ctx, handleTimeout)
				defer cancel()
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in update handler", logx.Any("panic", rec))
					}
				}()
				r.handle(hctx, u)
			}
			select {
			case r.jobs <- job:
			default:
				r.log.Warn("update dropped (handler queue full)")
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

// ---- messages ----

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: m.ChatID}

	if strings.HasPrefix(text, "/") {
		r.clearPending(m.ChatID)
		cmd, args := splitCommand(text)
		r.handleCommand(ctx, chat, m.FromID, cmd, args)
		return
	}

	if p, ok := r.takePending(m.ChatID); ok {
		r.handlePendingText(ctx, chat, m.FromID, p, text)
		return
	}

	// Bare text with no flow in progress creates a task, same as /new <text>.
	r.createTask(ctx, chat, m.FromID, text)
}

func splitCommand(text string) (string, string) {
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	// strip the @botname suffix used in groups
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}

func (r *Router) handleCommand(ctx context.Context, chat kit.ChatTarget, userID int64, cmd, args string) {
	switch cmd {
	case "start", "menu":
		text, kb := renderMenu()
		r.send(ctx, chat, text, kb)
	case "help":
		r.send(ctx, chat, renderHelp(), nil)
	case "new":
		if args == "" {
			r.setPending(chat.ChatID, pendingInput{Mode: "new"})
			r.send(ctx, chat, tgui.Esc("What should the task be called?").String(), nil)
			return
		}
		r.createTask(ctx, chat, userID, args)
	case "list":
		r.sendList(ctx, chat, userID)
	case "stats":
		open, closed, err := r.eng.UserStats(ctx, userID)
		if err != nil {
			r.sendErr(ctx, chat, err)
			return
		}
		r.send(ctx, chat, renderStats(open, closed), nil)
	case "debugrem":
		tasks, err := r.eng.ActiveReminders(ctx, userID)
		if err != nil {
			r.sendErr(ctx, chat, err)
			return
		}
		armed := make(map[int64]bool, len(tasks))
		for _, t := range tasks {
			armed[t.ID] = r.armed == nil || r.armed(userID, t.ID)
		}
		r.send(ctx, chat, renderDebugRem(tasks, armed), nil)
	default:
		r.send(ctx, chat, tgui.Esc("Unknown command. Try /help.").String(), nil)
	}
}

func (r *Router) handlePendingText(ctx context.Context, chat kit.ChatTarget, userID int64, p pendingInput, text string) {
	switch p.Mode {
	case "new":
		r.createTask(ctx, chat, userID, text)
	case "rename":
		t, err := r.eng.Rename(ctx, userID, p.TaskID, text)
		if err != nil {
			r.sendErr(ctx, chat, err)
			return
		}
		body, kb := renderTask(t)
		r.send(ctx, chat, body, kb)
	}
}

func (r *Router) createTask(ctx context.Context, chat kit.ChatTarget, userID int64, name string) {
	t, err := r.eng.CreateTask(ctx, userID, name, 0)
	if err != nil {
		r.sendErr(ctx, chat, err)
		return
	}
	body, kb := renderTask(t)
	r.send(ctx, chat, body, kb)
}

func (r *Router) sendList(ctx context.Context, chat kit.ChatTarget, userID int64) {
	tasks, err := r.eng.List(ctx, userID)
	if err != nil {
		r.sendErr(ctx, chat, err)
		return
	}
	body, kb := renderList(tasks)
	r.send(ctx, chat, body, kb)
}

// ---- callbacks ----

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	scope, action, payload := tgui.SplitData(cb.Data)
	chat := kit.ChatTarget{ChatID: cb.ChatID}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch scope {
	case scopeUI:
		r.handleUICallback(ctx, cb, chat, ref, action)
	case scopeTask:
		taskID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			r.answer(ctx, cb.ID, "")
			return
		}
		r.handleTaskCallback(ctx, cb, chat, ref, action, taskID)
	default:
		r.answer(ctx, cb.ID, "")
	}
}

func (r *Router) handleUICallback(ctx context.Context, cb *kit.Callback, chat kit.ChatTarget, ref kit.MessageRef, action string) {
	switch action {
	case "menu":
		text, kb := renderMenu()
		r.edit(ctx, ref, text, kb)
	case "new":
		r.setPending(chat.ChatID, pendingInput{Mode: "new"})
		r.send(ctx, chat, tgui.Esc("What should the task be called?").String(), nil)
	case "list":
		tasks, err := r.eng.List(ctx, cb.FromID)
		if err != nil {
			r.answer(ctx, cb.ID, "Something went wrong")
			return
		}
		body, kb := renderList(tasks)
		r.edit(ctx, ref, body, kb)
	case "stats":
		open, closed, err := r.eng.UserStats(ctx, cb.FromID)
		if err != nil {
			r.answer(ctx, cb.ID, "Something went wrong")
			return
		}
		r.edit(ctx, ref, renderStats(open, closed), tgui.NewInline().Row(tgui.Btn("🏠 Menu", uiData("menu"))).Rows())
	}
	r.answer(ctx, cb.ID, "")
}

func (r *Router) handleTaskCallback(ctx context.Context, cb *kit.Callback, chat kit.ChatTarget, ref kit.MessageRef, action string, taskID int64) {
	userID := cb.FromID
	toast := ""

	// Preset actions ("rem5m", "rem1h", ...) arm the reminder directly.
	for _, p := range reminderPresets {
		if action == "rem"+p.Label {
			t, err := r.eng.SetReminder(ctx, userID, taskID, p.Every)
			if err != nil {
				r.reportGone(ctx, cb, ref, userID, err)
				return
			}
			body, kb := renderTask(t)
			r.edit(ctx, ref, body, kb)
			r.answer(ctx, cb.ID, "🔔 every "+p.Label)
			return
		}
	}

	switch action {
	case "open":
		t, err := r.eng.Get(ctx, userID, taskID)
		if err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		body, kb := renderTask(t)
		r.edit(ctx, ref, body, kb)
	case "inc", "dec":
		delta := 1
		if action == "dec" {
			delta = -1
		}
		t, err := r.eng.AdjustProgress(ctx, userID, taskID, delta)
		if err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		body, kb := renderTask(t)
		r.edit(ctx, ref, body, kb)
	case "reset":
		t, err := r.eng.SetProgress(ctx, userID, taskID, 0)
		if err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		body, kb := renderTask(t)
		r.edit(ctx, ref, body, kb)
	case "ren":
		r.setPending(chat.ChatID, pendingInput{Mode: "rename", TaskID: taskID})
		r.send(ctx, chat, tgui.Esc("Send the new name.").String(), nil)
	case "rem":
		t, err := r.eng.Get(ctx, userID, taskID)
		if err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		body, kb := renderReminderMenu(t)
		r.edit(ctx, ref, body, kb)
	case "remoff":
		t, err := r.eng.SetReminder(ctx, userID, taskID, 0)
		if err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		body, kb := renderTask(t)
		r.edit(ctx, ref, body, kb)
		toast = "🔕 Reminder off"
	case "remtest":
		if err := r.eng.TestReminder(ctx, userID, taskID, 5*time.Second); err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		toast = "🧪 Test reminder in 5s"
	case "close":
		if err := r.eng.Close(ctx, userID, taskID); err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		r.editToList(ctx, ref, userID)
		toast = "✅ Closed. Nice!"
	case "del":
		if err := r.eng.Delete(ctx, userID, taskID); err != nil {
			r.reportGone(ctx, cb, ref, userID, err)
			return
		}
		r.editToList(ctx, ref, userID)
		toast = "🗑 Deleted"
	default:
		// stale button from an older layout
	}
	r.answer(ctx, cb.ID, toast)
}

// reportGone handles a callback whose task no longer exists (closed or
// deleted from another device): toast + swap the card for the live list.
func (r *Router) reportGone(ctx context.Context, cb *kit.Callback, ref kit.MessageRef, userID int64, err error) {
	if errors.Is(err, task.ErrNotFound) {
		r.answer(ctx, cb.ID, "That task is gone")
		r.editToList(ctx, ref, userID)
		return
	}
	r.log.Warn("callback handling failed", logx.Int64("user", userID), logx.Err(err))
	r.answer(ctx, cb.ID, "Something went wrong")
}

func (r *Router) editToList(ctx context.Context, ref kit.MessageRef, userID int64) {
	tasks, err := r.eng.List(ctx, userID)
	if err != nil {
		return
	}
	body, kb := renderList(tasks)
	r.edit(ctx, ref, body, kb)
}

// ---- pending input ----

func (r *Router) setPending(chatID int64, p pendingInput) {
	r.mu.Lock()
	r.pending[chatID] = p
	r.mu.Unlock()
}

func (r *Router) takePending(chatID int64) (pendingInput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[chatID]
	if ok {
		delete(r.pending, chatID)
	}
	return p, ok
}

func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	delete(r.pending, chatID)
	r.mu.Unlock()
}

// ---- send helpers ----

func (r *Router) send(ctx context.Context, chat kit.ChatTarget, text string, kb [][]kit.Button) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: kb}
	if _, err := r.adapter.SendText(ctx, chat, text, opt); err != nil {
		r.log.Warn("send failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
	}
}

// edit tolerates Telegram's "message is not modified" complaint, which fires
// whenever a button press re-renders identical content.
func (r *Router) edit(ctx context.Context, ref kit.MessageRef, text string, kb [][]kit.Button) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: kb}
	if err := r.adapter.EditText(ctx, ref, text, opt); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return
		}
		r.log.Warn("edit failed", logx.Int64("chat", ref.ChatID), logx.Err(err))
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string) {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
}

func (r *Router) sendErr(ctx context.Context, chat kit.ChatTarget, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		r.send(ctx, chat, tgui.Esc("That task doesn't exist anymore.").String(), nil)
	case errors.Is(err, task.ErrInvalidInput):
		r.send(ctx, chat, tgui.Esc("That doesn't look right. Try /help.").String(), nil)
	default:
		r.log.Warn("command failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
		r.send(ctx, chat, tgui.Esc("Something went wrong, try again.").String(), nil)
	}
}
