package tgui

import (
	kit "taskbot/internal/transport"
)

// Inline is a small builder for inline keyboards over platform-neutral
// buttons. The transport adapter converts the rows to the wire format.
type Inline struct {
	rows [][]kit.Button
}

func NewInline() *Inline {
	return &Inline{}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	i.rows = append(i.rows, btn)
	return i
}

// Rows returns the accumulated button rows.
func (i *Inline) Rows() [][]kit.Button {
	if i == nil {
		return nil
	}
	return i.rows
}

// Btn creates a callback button with raw callback_data (we do NOT encode it).
// Use the Data helper to build "scope:action:payload" safely.
func Btn(text, data string) kit.Button {
	return kit.Button{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) kit.Button {
	return kit.Button{Text: text, URL: url}
}

// Grid2 splits buttons into rows of two.
func Grid2(buttons []kit.Button) [][]kit.Button {
	rows := make([][]kit.Button, 0, (len(buttons)+1)/2)
	for len(buttons) > 0 {
		n := 2
		if len(buttons) < n {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return rows
}
