package common

import (
	"strings"
)

// A title line is a newline, then text framed by the fill character to the given width.  With
// empty text it is a plain rule.  The result always ends in a newline.
//
//   TitleLine("Script", 20, '-') == "\n--- Script ---------\n"

func TitleLine(text string, width int, fill byte) string {
	var b strings.Builder
	b.WriteByte('\n')
	if text == "" {
		b.WriteString(strings.Repeat(string(fill), width))
	} else {
		lead := strings.Repeat(string(fill), 3) + " " + text + " "
		b.WriteString(lead)
		if n := width - len(lead); n > 0 {
			b.WriteString(strings.Repeat(string(fill), n))
		}
	}
	b.WriteByte('\n')
	return b.String()
}
