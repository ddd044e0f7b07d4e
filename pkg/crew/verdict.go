package crew

import (
	"regexp"
	"strings"
)

// verdictRe finds the verdict keyword after a "Verdict:" label, with or
// without heading markers and emphasis.
var verdictRe = regexp.MustCompile(`(?im)^#*\s*\**\s*verdict\s*\**\s*:?\s*\**\s*(SHIP|NEEDS_WORK|MAJOR_RETHINK)\b`)

// ParseVerdict extracts a structured verdict from a reviewer's markdown
// output. The summary is the first paragraph of prose after the verdict
// line, ending at a blank line or the next heading; Issues and Suggestions are the bullets under headings of those
// names. Malformed input defaults to NEEDS_WORK with no issues, so work
// continues under a safe assumption rather than stalling.
func ParseVerdict(output string) Verdict {
	v := Verdict{Verdict: VerdictNeedsWork}

	m := verdictRe.FindStringSubmatchIndex(output)
	if m == nil {
		return v
	}
	v.Verdict = VerdictKind(output[m[2]:m[3]])

	rest := output[m[1]:]
	v.Summary = summaryParagraph(rest)
	v.Issues = bulletsUnder(output, "issues")
	v.Suggestions = bulletsUnder(output, "suggestions")
	return v
}

// summaryParagraph returns the first paragraph of text joined into one line;
// a blank line after it or a heading ends it.
func summaryParagraph(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		if trimmed == "" && len(lines) > 0 {
			break
		}
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, " ")
}

// bulletsUnder collects "-"/"*" bullets below a heading named section
// (case-insensitive), stopping at the next heading.
func bulletsUnder(text, section string) []string {
	lines := strings.Split(text, "\n")
	var items []string
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			name := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			inSection = strings.HasPrefix(name, section)
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			item := strings.TrimSpace(trimmed[2:])
			if item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
