// Package deliver turns agent output streams into chat-sized messages.
// It provides markdown-aware splitting and truncation plus a debounced
// incremental streamer for platforms that support live message edits.
package deliver

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis is appended to truncated output.
const Ellipsis = "…"

// boundaryFraction is the minimum usable portion of the size budget: a
// paragraph, line, or word boundary is only taken if it lands in the
// later half of the window, otherwise the search falls through to the
// next boundary preference.
const boundaryFraction = 0.5

const (
	fenceMarker = "```"
	fenceClose  = "\n```"
)

// fenceState tracks whether a scan position sits inside a fenced code
// block and, if so, the language tag of the opening fence.
type fenceState struct {
	open bool
	lang string
}

// advance scans s and updates the state with every fence marker found
// at the start of a line.
func (f *fenceState) advance(s string) {
	atLineStart := true
	for i := 0; i < len(s); {
		if atLineStart && strings.HasPrefix(s[i:], fenceMarker) {
			end := strings.IndexByte(s[i:], '\n')
			var line string
			if end < 0 {
				line = s[i:]
				i = len(s)
			} else {
				line = s[i : i+end]
				i += end + 1
			}
			if f.open {
				f.open = false
				f.lang = ""
			} else {
				f.open = true
				f.lang = strings.TrimSpace(strings.TrimPrefix(line, fenceMarker))
			}
			atLineStart = true
			continue
		}
		atLineStart = s[i] == '\n'
		i++
	}
}

// reopen returns the prefix that restores this fence at the start of
// the next chunk.
func (f fenceState) reopen() string {
	return fenceMarker + f.lang + "\n"
}

// SplitMessage splits text into chunks no longer than maxLen without
// breaking inside a fenced code block, inline code span, markdown
// link/image, or escape sequence. A fence left open at a chunk end is
// closed there and reopened (with its language tag) at the start of
// the next chunk. Each iteration consumes at least one byte, so the
// split always terminates.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	var fence fenceState

	for {
		prefix := ""
		if fence.open {
			prefix = fence.reopen()
			// A reopen prefix that cannot be followed by any new
			// content would loop forever; abandon it and consume
			// the remaining bytes as plain text.
			if len(prefix) >= len(remaining) || len(prefix)+len(fenceClose) >= maxLen {
				prefix = ""
				fence = fenceState{}
			}
		}

		if len(prefix)+len(remaining) <= maxLen {
			chunks = append(chunks, prefix+remaining)
			return chunks
		}

		bodyLimit := maxLen - len(prefix)
		if bodyLimit < 1 {
			bodyLimit = 1
		}

		cut, skip := chooseBoundary(remaining, bodyLimit)
		body := remaining[:cut]
		chunkFence := fence
		chunkFence.advance(body)

		if chunkFence.open {
			// The cut landed inside a code block; re-cut with room
			// reserved for the closing fence.
			bodyLimit -= len(fenceClose)
			if bodyLimit < 1 {
				bodyLimit = 1
			}
			cut, skip = chooseBoundary(remaining, bodyLimit)
			body = remaining[:cut]
			chunkFence = fence
			chunkFence.advance(body)
		}

		chunk := prefix + body
		if chunkFence.open {
			chunk += fenceClose
		}
		chunks = append(chunks, chunk)

		fence = chunkFence
		remaining = remaining[cut+skip:]
	}
}

// chooseBoundary picks a cut position within s[:limit], preferring a
// paragraph break, then a line break, then a word break, then a hard
// cut at a rune boundary. skip is the number of separator bytes to
// drop after the cut. The returned cut is always >= 1.
func chooseBoundary(s string, limit int) (cut, skip int) {
	window := s[:limit]
	minCut := int(float64(limit) * boundaryFraction)
	if minCut < 1 {
		minCut = 1
	}

	if idx := strings.LastIndex(window, "\n\n"); idx >= minCut {
		return adjustForConstructs(s, idx, 2)
	}
	if idx := strings.LastIndexByte(window, '\n'); idx >= minCut {
		return adjustForConstructs(s, idx, 1)
	}
	if idx := strings.LastIndexByte(window, ' '); idx >= minCut {
		return adjustForConstructs(s, idx, 1)
	}

	// Hard cut: back up to a rune boundary.
	cut = limit
	for cut > 1 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return adjustForConstructs(s, cut, 0)
}

// adjustForConstructs pushes a proposed cut back to the start of any
// inline construct (code span, link, image, escape) it would land
// inside. If the adjustment would consume nothing, the original cut is
// kept so the caller still makes progress.
func adjustForConstructs(s string, cut, skip int) (int, int) {
	if start := enclosingConstruct(s, cut); start > 0 && start < cut {
		return start, 0
	}
	if cut < 1 {
		cut = 1
	}
	return cut, skip
}

// enclosingConstruct scans s from the beginning and returns the start
// offset of the inline construct strictly containing pos, or -1 if pos
// does not fall inside one. Content inside fenced code blocks is
// skipped; fences themselves are handled by the caller's fence state.
func enclosingConstruct(s string, pos int) int {
	inFence := false
	atLineStart := true
	i := 0
	for i < len(s) && i < pos {
		if atLineStart && strings.HasPrefix(s[i:], fenceMarker) {
			inFence = !inFence
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return -1
			}
			i += end + 1
			atLineStart = true
			continue
		}
		atLineStart = s[i] == '\n'
		if inFence {
			i++
			continue
		}

		switch s[i] {
		case '\\':
			// Escape: the backslash and the next byte are a unit.
			if pos == i+1 && i+1 < len(s) {
				return i
			}
			i += 2
			continue
		case '`':
			end := strings.IndexByte(s[i+1:], '`')
			if end < 0 {
				i++
				continue
			}
			spanEnd := i + 1 + end + 1 // one past closing backtick
			if pos > i && pos < spanEnd {
				return i
			}
			i = spanEnd
			continue
		case '[', '!':
			start := i
			j := i
			if s[j] == '!' {
				if j+1 >= len(s) || s[j+1] != '[' {
					i++
					continue
				}
				j++
			}
			closeBracket := strings.IndexByte(s[j+1:], ']')
			if closeBracket < 0 {
				i++
				continue
			}
			parenStart := j + 1 + closeBracket + 1
			if parenStart >= len(s) || s[parenStart] != '(' {
				i++
				continue
			}
			closeParen := strings.IndexByte(s[parenStart:], ')')
			if closeParen < 0 {
				i++
				continue
			}
			linkEnd := parenStart + closeParen + 1
			if pos > start && pos < linkEnd {
				return start
			}
			i = linkEnd
			continue
		}
		i++
	}
	return -1
}

// Truncate shortens text to at most maxLen, cutting at the best
// available boundary, closing any open code fence, and appending the
// ellipsis marker. Text already within the limit is returned unchanged.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}

	limit := maxLen - len(Ellipsis)
	if limit < 1 {
		// No room for a marker; a hard cut is all that fits.
		return text[:maxLen]
	}

	cut, _ := chooseBoundary(text, limit)
	body := text[:cut]

	var fence fenceState
	fence.advance(body)
	if fence.open {
		// Re-cut with room for the closing fence.
		limit -= len(fenceClose)
		if limit >= 1 {
			cut, _ = chooseBoundary(text, limit)
			body = text[:cut]
		}
		fence = fenceState{}
		fence.advance(body)
		if fence.open {
			body += fenceClose
		}
	}

	return body + Ellipsis
}
