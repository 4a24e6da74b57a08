// Package format splits a logical chat message into transport-safe chunks
// for text targets that impose a per-line byte limit and support mIRC-style
// inline styling control codes. It is pure: no I/O, fully unit-testable.
//
// Ported from the behavior of the original bot's irc_formatting module:
// every chunk must respect both a byte-length and a visible-length (styling
// codes stripped) limit, active styling must be carried across chunk
// boundaries, and a chunk may never begin or end with an orphaned color
// code.
package format

import "strings"

const (
	Bold      = '\x02'
	Italic    = '\x1D'
	Underline = '\x1F'
	Reverse   = '\x16'
	Monospace = '\x11'
	Reset     = '\x0F'
	Color     = '\x03'
)

// activeStyle tracks which toggleable styles are currently on, plus any
// active foreground/background color digits (as their literal code text,
// e.g. "03" or "03,08").
type activeStyle struct {
	bold, italic, underline, reverse, monospace bool
	color                                       string // "" = no active color
}

func (s activeStyle) any() bool {
	return s.bold || s.italic || s.underline || s.reverse || s.monospace || s.color != ""
}

// prefix returns the control-code sequence that reproduces the current
// active style at the start of a new chunk.
func (s activeStyle) prefix() string {
	var b strings.Builder
	if s.bold {
		b.WriteByte(Bold)
	}
	if s.italic {
		b.WriteByte(Italic)
	}
	if s.underline {
		b.WriteByte(Underline)
	}
	if s.reverse {
		b.WriteByte(Reverse)
	}
	if s.monospace {
		b.WriteByte(Monospace)
	}
	if s.color != "" {
		b.WriteByte(Color)
		b.WriteString(s.color)
	}
	return b.String()
}

// suffix returns the control-code sequence that closes out the current
// active style at the end of a chunk (a plain reset covers everything).
func (s activeStyle) suffix() string {
	if s.any() {
		return string(Reset)
	}
	return ""
}

// apply advances style state by scanning one run of text for control codes,
// returning the resulting style and the visible (codes-stripped) text.
func apply(style activeStyle, text string) (activeStyle, string) {
	var visible strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		switch c {
		case Bold:
			style.bold = !style.bold
			i++
		case Italic:
			style.italic = !style.italic
			i++
		case Underline:
			style.underline = !style.underline
			i++
		case Reverse:
			style.reverse = !style.reverse
			i++
		case Monospace:
			style.monospace = !style.monospace
			i++
		case Reset:
			style = activeStyle{}
			i++
		case Color:
			i++
			digits := 0
			start := i
			for i < len(text) && digits < 2 && isDigit(text[i]) {
				i++
				digits++
			}
			code := text[start:i]
			if i < len(text) && text[i] == ',' {
				i++
				digits2 := 0
				start2 := i
				for i < len(text) && digits2 < 2 && isDigit(text[i]) {
					i++
					digits2++
				}
				code += "," + text[start2:i]
			}
			if code == "" {
				style.color = ""
			} else {
				style.color = code
			}
		default:
			visible.WriteByte(c)
			i++
		}
	}
	return style, visible.String()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// VisibleLen returns the length of s with styling codes stripped.
func VisibleLen(s string) int {
	_, visible := apply(activeStyle{}, s)
	return len(visible)
}

// hasTrailingPartialColor reports whether s ends in one of the four
// incomplete color-code patterns: bare 0x03, 0x03N, 0x03NN,, or 0x03NN,N.
func hasTrailingPartialColor(s string) bool {
	idx := strings.LastIndexByte(s, Color)
	if idx == -1 {
		return false
	}
	tail := s[idx+1:]
	// Anything after the last Color byte that isn't itself consumed by a
	// later control code must be entirely digits/comma to be "partial".
	for i := 0; i < len(tail); i++ {
		if !isDigit(tail[i]) && tail[i] != ',' {
			return false
		}
	}
	if len(tail) > 5 { // NN,NN is the max complete form; longer means it was followed by non-digit text already consumed elsewhere
		return false
	}
	// A complete NN,NN sequence is not partial.
	if comma := strings.IndexByte(tail, ','); comma != -1 {
		after := tail[comma+1:]
		if len(after) == 2 {
			return false
		}
		return true // bare 0x03, 0x03N, 0x03NN, all partial; NN,N partial too
	}
	return len(tail) <= 1 // "" and "N" are partial; "NN" is a complete color code
}

// Split breaks msg into chunks, each satisfying byteLimit and visibleLimit.
func Split(msg string, byteLimit, visibleLimit int) []string {
	var out []string
	for _, line := range strings.Split(msg, "\n") {
		out = append(out, splitLine(line, byteLimit, visibleLimit)...)
	}
	return out
}

func splitLine(line string, byteLimit, visibleLimit int) []string {
	if len(line) <= byteLimit && VisibleLen(line) <= visibleLimit {
		if line == "" {
			return nil
		}
		return []string{line}
	}

	var chunks []string
	var buf strings.Builder
	bufVisible := 0
	style := activeStyle{}
	bufStyle := activeStyle{} // style active at start of buf

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		s := buf.String()
		if hasTrailingPartialColor(s) {
			// Should not happen given word-boundary splitting, but guard:
			// fall back to a plain reset suffix instead of an orphaned code.
			s = strings.TrimRight(s, "0123456789,")
		}
		s += bufStyle.suffix()
		chunks = append(chunks, s)
		buf.Reset()
		bufVisible = 0
		bufStyle = style
	}

	words := strings.Split(line, " ")
	for _, word := range words {
		wordStyleStart := style
		nextStyle, visibleWord := apply(style, word)

		candidateLen := buf.Len()
		if candidateLen > 0 {
			candidateLen++ // separating space
		}
		candidateLen += len(word)
		candidateVisible := bufVisible
		if bufVisible > 0 {
			candidateVisible++
		}
		candidateVisible += len(visibleWord)

		if len(visibleWord) > visibleLimit || len(word) > byteLimit {
			flush()
			chunks = append(chunks, splitLongWord(wordStyleStart, word, byteLimit, visibleLimit)...)
			style = nextStyle
			bufStyle = style
			continue
		}

		if buf.Len() > 0 && (candidateLen+len(bufStyle.suffix()) > byteLimit || candidateVisible > visibleLimit) {
			flush()
		}

		if buf.Len() == 0 {
			buf.WriteString(bufStyle.prefix())
			bufVisible = 0
		} else {
			buf.WriteByte(' ')
			bufVisible++
		}
		buf.WriteString(word)
		bufVisible += len(visibleWord)
		style = nextStyle
	}
	flush()
	return chunks
}

// splitLongWord breaks a single over-limit word into fixed-size sub-chunks,
// each wrapped with the active style's open/close codes.
func splitLongWord(style activeStyle, word string, byteLimit, visibleLimit int) []string {
	limit := byteLimit
	if visibleLimit < limit {
		limit = visibleLimit
	}
	prefix := style.prefix()
	suffix := style.suffix()
	budget := limit - len(prefix) - len(suffix)
	if budget < 1 {
		budget = 1
	}
	var out []string
	for len(word) > 0 {
		n := budget
		if n > len(word) {
			n = len(word)
		}
		out = append(out, prefix+word[:n]+suffix)
		word = word[n:]
	}
	return out
}
