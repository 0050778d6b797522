package errors

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Style controls how Format lays out an error.
type Style struct {
	// Color highlights the heading and hint with ANSI escapes.
	Color bool

	// Width wraps the detail text. Zero leaves it unwrapped.
	Width int
}

// StyleFor returns the Style for writing to f. Color is used only when f is
// a terminal and NO_COLOR is unset.
func StyleFor(f *os.File) Style {
	s := Style{Width: 72}
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return s
	}
	if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		s.Color = true
	}
	return s
}

func (s Style) paint(sgr, text string) string {
	if !s.Color {
		return text
	}
	return "\x1b[" + sgr + "m" + text + "\x1b[0m"
}

// Format renders e for a terminal: a heading with the code, the detail
// indented below it, then the cause and hint when present.
func (e *Error) Format(s Style) string {
	var b strings.Builder

	heading := "error"
	if e.Code != "" {
		heading += " " + e.Code
	}
	fmt.Fprintf(&b, "%s %s\n", s.paint("1;31", heading+":"), e.Message)

	for _, line := range fill(e.Detail, s.Width) {
		b.WriteString("    " + line + "\n")
	}
	if e.Wrapped != nil && e.Wrapped.Error() != e.Detail {
		fmt.Fprintf(&b, "    caused by: %v\n", e.Wrapped)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "%s %s\n", s.paint("33", "hint:"), e.Suggestion)
	}
	return b.String()
}

// Fprint writes err to w in the given style. Errors without a code are
// reported as E001.
func Fprint(w io.Writer, err error, s Style) {
	if err == nil {
		return
	}
	io.WriteString(w, FromError(err, "E001").Format(s))
}

// fill breaks text into lines of at most width bytes at spaces. A single
// word longer than width gets a line of its own.
func fill(text string, width int) []string {
	if text == "" {
		return nil
	}
	if width <= 0 {
		return []string{text}
	}
	var (
		lines []string
		cur   []string
		n     int
	)
	for _, word := range strings.Fields(text) {
		if n > 0 && n+1+len(word) > width {
			lines = append(lines, strings.Join(cur, " "))
			cur, n = nil, 0
		}
		if n > 0 {
			n++
		}
		cur = append(cur, word)
		n += len(word)
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	return lines
}
