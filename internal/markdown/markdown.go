// Package markdown converts between extracted plain text and markdown.
// Both directions are pure functions of their input.
package markdown

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxHeadingRunes    = 100
	maxSubheadingRunes = 80
)

// FromText turns plain text into markdown line by line:
// short all-caps lines become "##" headings in title case, short lines ending
// in a colon become "###" headings, everything else is kept as trimmed text.
func FromText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		length := utf8.RuneCountInString(line)
		switch {
		case line == "":
			out = append(out, "")
		case length < maxHeadingRunes && isUpper(line):
			out = append(out, "## "+titleCase(line))
		case strings.HasSuffix(line, ":") && length < maxSubheadingRunes:
			out = append(out, "### "+line)
		default:
			// list items ("•", "-", "*") and paragraphs pass through unchanged
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var (
	headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	boldPattern    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern  = regexp.MustCompile(`\*(.*?)\*`)
	codePattern    = regexp.MustCompile("`(.*?)`")
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
)

// ToText strips heading markers, emphasis, inline code and link targets.
func ToText(md string) string {
	text := headingPattern.ReplaceAllString(md, "")
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = codePattern.ReplaceAllString(text, "$1")
	text = linkPattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// isUpper reports whether s has at least one cased letter and no lowercase ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

// titleCase upper-cases the first letter of every run of letters and lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	previousLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if previousLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			previousLetter = true
			continue
		}
		b.WriteRune(r)
		previousLetter = false
	}
	return b.String()
}
