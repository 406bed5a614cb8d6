package pipeline

import (
	"strings"
	"unicode/utf8"
)

// AnswerChunk is one size-bounded segment of a long answer, ordered for
// sequential delivery.
type AnswerChunk struct {
	Index   int
	IsFirst bool
	IsOnly  bool
	Text    string
}

// Split divides text into ordered parts no longer than limit, preferring to
// cut at the last line break at or before the limit. A single line longer
// than the limit is cut at the limit itself (hard cut, no word-boundary
// search), never mid-rune: a part may exceed the limit by at most one rune
// when the limit is smaller than the rune at the cut point. The matched
// line break is dropped, and leading whitespace of the
// remainder is trimmed before the next iteration. The result is never empty:
// empty input yields one empty part.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	rest := text
	for len(rest) > limit {
		cut := strings.LastIndexByte(rest[:limit+1], '\n')
		if cut >= 0 {
			chunk := rest[:cut]
			rest = rest[cut+1:]
			if chunk != "" {
				parts = append(parts, chunk)
			}
		} else {
			// Hard cut; back up so a multi-byte rune is never split.
			cut = limit
			for cut > 0 && !utf8.RuneStart(rest[cut]) {
				cut--
			}
			if cut == 0 {
				// The limit is smaller than the first rune. Emit the whole
				// rune so the loop always makes progress.
				_, cut = utf8.DecodeRuneInString(rest)
			}
			parts = append(parts, rest[:cut])
			rest = rest[cut:]
		}
		rest = strings.TrimLeft(rest, " \t\r\n")
	}
	if rest != "" || len(parts) == 0 {
		parts = append(parts, rest)
	}
	return parts
}

// Chunks runs Split and annotates each part with its position.
func Chunks(text string, limit int) []AnswerChunk {
	parts := Split(text, limit)
	chunks := make([]AnswerChunk, len(parts))
	for i, p := range parts {
		chunks[i] = AnswerChunk{
			Index:   i,
			IsFirst: i == 0,
			IsOnly:  len(parts) == 1,
			Text:    p,
		}
	}
	return chunks
}
