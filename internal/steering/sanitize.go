package steering

import (
	"fmt"
	"regexp"
	"strings"
)

// Pasted blocks beyond this size are summarized instead of carried whole.
const pastedBlockLimit = 1024

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")

	stopIntentRe = regexp.MustCompile(`(?i)(\b(stop|cancel|abort|halt|terminate)\b` +
		`|\b(that's|thats) enough\b` +
		`|\bnever ?mind\b` +
		`|\bend (the|this) (task|run)\b)`)
)

// sanitize normalizes steering content: embedded large pasted blocks are
// summarized, control characters stripped, and the total length capped.
// It never rejects input; refusing user steering mid-run is worse than
// truncating it.
func sanitize(content string, maxLen int) string {
	content = fencedBlockRe.ReplaceAllStringFunc(content, func(block string) string {
		if len(block) <= pastedBlockLimit {
			return block
		}
		return fmt.Sprintf("[pasted block elided, %d bytes]", len(block))
	})

	content = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, content)

	content = strings.TrimSpace(content)

	if maxLen > 0 && len(content) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8Start(content[cut]) {
			cut--
		}
		content = content[:cut] + "\n[truncated]"
	}

	return content
}

// utf8Start reports whether b can begin a UTF-8 encoded rune.
func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// HasStopIntent scans drained steering text for phrases that mean the user
// wants the run to wind down. A match tells the run to suppress further
// tool calls and conclude at its next decision point.
func HasStopIntent(text string) bool {
	return stopIntentRe.MatchString(text)
}
