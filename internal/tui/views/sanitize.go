package views

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sanitizeForTerminal drops codepoints that tcell renders with the wrong
// width or that would move the cursor: skin tone modifiers, joiners,
// variation selectors and every control character except newline. Tabs
// become spaces.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			continue
		case r == '\t':
			b.WriteString("    ")
		case r == '\n':
			b.WriteRune(r)
		case unicode.IsControl(r), isProblematicRune(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// singleLine sanitizes s and folds it onto one line for table cells.
func singleLine(s string) string {
	return strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
