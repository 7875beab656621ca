package project

import (
	"regexp"
	"strings"
)

var projectMarker = regexp.MustCompile(`(?i)projeto:`)

// ExtractName pulls a project name out of free user text containing a
// "projeto:" marker: everything after the marker up to the end of the line,
// trimmed. Returns "" when the text carries no usable name.
func ExtractName(text string) string {
	loc := projectMarker.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
