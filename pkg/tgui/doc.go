// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders over platform-neutral buttons
//   - Callback data helpers (scope:action:payload)
//   - HTML escaping for ParseMode="HTML"
//   - A segmented progress bar renderer
package tgui
