package ai

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	headingPattern = regexp.MustCompile(`\*\*(.*?):\*\*`)
	leadPattern    = regexp.MustCompile(`(?i)^(the image shows|this shows|the scene depicts)\s*:?\s*`)

	boilerplatePrefixes = []string{
		"here is a detailed description of the surveillance image:",
		"here's a description of the surveillance image:",
		"description of the surveillance image:",
		"analyzing this cctv footage image:",
		"the cctv image shows:",
		"this surveillance image depicts:",
		"description:",
		"analysis:",
	}
)

// CleanDescription strips markdown headings and boilerplate lead-ins from
// model output and capitalises the first letter
func CleanDescription(raw string) string {
	desc := strings.TrimSpace(headingPattern.ReplaceAllString(raw, ""))

	for _, prefix := range boilerplatePrefixes {
		if len(desc) >= len(prefix) && strings.EqualFold(desc[:len(prefix)], prefix) {
			desc = strings.TrimSpace(strings.TrimLeft(desc[len(prefix):], " .:"))
		}
	}

	desc = strings.TrimSpace(strings.TrimLeft(desc, " .:"))
	desc = leadPattern.ReplaceAllString(desc, "")

	if r, size := utf8.DecodeRuneInString(desc); size > 0 && unicode.IsLower(r) {
		desc = string(unicode.ToUpper(r)) + desc[size:]
	}
	return desc
}
