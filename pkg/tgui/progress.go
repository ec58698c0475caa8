package tgui

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// barPalette colors the i-th filled segment: red through green.
var barPalette = [10]string{
	"🟥", "🟥", "🟧", "🟧", "🟨", "🟨", "🟩", "🟩", "🟩", "🟩",
}

const barEmpty = "◻️"

// ProgressBar renders a 10-segment bar with a percent label,
// e.g. "🟥🟥🟧◻️◻️◻️◻️◻️◻️◻️ 30%".
func ProgressBar(done, total int) string {
	pct := Percent(done, total)
	filled := pct / 10
	var b strings.Builder
	for i := 0; i < filled; i++ {
		b.WriteString(barPalette[i])
	}
	for i := filled; i < 10; i++ {
		b.WriteString(barEmpty)
	}
	fmt.Fprintf(&b, " %d%%", pct)
	return b.String()
}

// Percent returns done/total as an integer percentage clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	if done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
