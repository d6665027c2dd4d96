// Package util holds small shared helpers with no domain knowledge.
package util

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Match any HTML tag
	tagRe = regexp.MustCompile(`<[^>]*>`)

	// <br> variants
	brRe = regexp.MustCompile(`(?i)<br\s*/?\s*>`)

	// Closing block tags that produce paragraph breaks
	blockCloseRe = regexp.MustCompile(`(?i)</(?:p|div|h[1-6]|blockquote|pre|table|tr)\s*>`)

	// Opening block tags
	blockOpenRe = regexp.MustCompile(`(?i)<(?:p|div|h[1-6]|blockquote|pre|table|tr)(?:\s[^>]*)?\s*>`)

	// List item open/close
	liOpenRe  = regexp.MustCompile(`(?i)<li(?:\s[^>]*)?\s*>`)
	liCloseRe = regexp.MustCompile(`(?i)</li\s*>`)

	// List wrappers (strip silently — <li> handles the structure)
	listWrapRe = regexp.MustCompile(`(?i)</?(?:ul|ol)(?:\s[^>]*)?\s*>`)

	// Style and script bodies carry no text worth storing
	styleScriptRe = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(?:style|script)\s*>`)

	// Collapse runs of blank lines into at most two newlines (one blank line)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)

	// Collapse runs of spaces (not newlines) into one
	spacesRe = regexp.MustCompile(`[^\S\n]+`)
)

// HTMLToText reduces an HTML event body to plain text for storage. This is
// tag removal with block-level newline handling, not an HTML parser: block
// elements and <br> become line breaks, list items become bullets, every
// remaining tag is stripped, and entities are decoded.
func HTMLToText(s string) string {
	if s == "" {
		return s
	}

	// Normalize line endings
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = styleScriptRe.ReplaceAllString(s, "")

	// Block-level elements → newlines
	s = brRe.ReplaceAllString(s, "\n")
	s = blockCloseRe.ReplaceAllString(s, "\n\n")
	s = blockOpenRe.ReplaceAllString(s, "\n")

	// Lists
	s = listWrapRe.ReplaceAllString(s, "")
	s = liOpenRe.ReplaceAllString(s, "\n- ")
	s = liCloseRe.ReplaceAllString(s, "")

	// Strip all remaining HTML tags
	s = tagRe.ReplaceAllString(s, "")

	// Decode HTML entities
	s = html.UnescapeString(s)

	// Clean up whitespace
	s = spacesRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = blankLinesRe.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Truncate bounds a string to max bytes, cutting on a rune boundary. Used to
// keep persisted failure messages from growing without bound.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off until the first cut-off byte starts a rune, so no sequence
	// straddles the boundary.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
