package pipeline

import (
	"regexp"
	"strings"
)

const (
	SectionExplanation     = "explanation"
	SectionRationale       = "rationale"
	SectionWarnings        = "warnings"
	SectionRecommendations = "recommendations"
	SectionAnalysis        = "analysis"
	SectionSafety          = "safety"
)

// label aliases, including the singular forms models like to use
var sectionLabels = map[string]string{
	"explanation":     SectionExplanation,
	"rationale":       SectionRationale,
	"warnings":        SectionWarnings,
	"warning":         SectionWarnings,
	"recommendations": SectionRecommendations,
	"recommendation":  SectionRecommendations,
	"analysis":        SectionAnalysis,
	"safety":          SectionSafety,
}

var listSections = map[string]bool{
	SectionWarnings:        true,
	SectionRecommendations: true,
	SectionSafety:          true,
}

var (
	jsonFenceRe    = regexp.MustCompile("(?is)```json[ \t]*\\r?\\n(.*?)```")
	markdownHeadRe = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*$`)
	boldHeadRe     = regexp.MustCompile(`^\*\*([^*]+)\*\*\s*:?\s*(.*)$`)
	colonHeadRe    = regexp.MustCompile(`^([A-Za-z][A-Za-z ]{0,40}):\s*(.*)$`)
	bulletRe       = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.*)$`)
)

// Section is one labelled part of a model reply.
type Section struct {
	Text  string
	Items []string
}

// ExtractJSONBlock returns the body of the first fenced block tagged json.
func ExtractJSONBlock(text string) (string, bool) {
	m := jsonFenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	body := strings.TrimSpace(m[1])
	return body, body != ""
}

// StripFences removes every fenced block and trims the remainder.
func StripFences(text string) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// ParseSections splits a reply into the known labelled sections. Lines inside
// fenced blocks are never treated as headings or content.
func ParseSections(text string) map[string]Section {
	lines := map[string][]string{}
	var current string
	inFence := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		label, rest, isHeading, ok := heading(line)
		if isHeading && !ok {
			current = ""
			continue
		}
		if ok {
			current = label
			if _, seen := lines[label]; !seen {
				lines[label] = nil
			}
			if rest != "" {
				lines[label] = append(lines[label], rest)
			}
			continue
		}
		if current != "" {
			lines[current] = append(lines[current], line)
		}
	}

	sections := make(map[string]Section, len(lines))
	for label, ls := range lines {
		s := Section{Text: strings.TrimSpace(strings.Join(ls, "\n"))}
		if listSections[label] {
			s.Items = bulletItems(ls)
		}
		sections[label] = s
	}
	return sections
}

// heading reports whether line is a heading and, if so, whether it names a
// known section. Unknown markdown headings close the current section.
func heading(line string) (label, rest string, isHeading, ok bool) {
	if m := markdownHeadRe.FindStringSubmatch(line); m != nil {
		label, ok = lookupLabel(m[1])
		return label, "", true, ok
	}
	if m := boldHeadRe.FindStringSubmatch(line); m != nil {
		label, ok = lookupLabel(m[1])
		return label, strings.TrimSpace(m[2]), false, ok
	}
	if m := colonHeadRe.FindStringSubmatch(line); m != nil {
		label, ok = lookupLabel(m[1])
		return label, strings.TrimSpace(m[2]), false, ok
	}
	return "", "", false, false
}

// lookupLabel matches on the first word, so "Safety considerations" is the
// safety section.
func lookupLabel(s string) (string, bool) {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), ":*"))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", false
	}
	label, ok := sectionLabels[strings.Trim(fields[0], ":")]
	return label, ok
}

func bulletItems(lines []string) []string {
	var items []string
	continuing := false
	for _, line := range lines {
		if line == "" {
			continuing = false
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
			continuing = true
			continue
		}
		if continuing && len(items) > 0 {
			items[len(items)-1] += " " + line
			continue
		}
		items = append(items, line)
	}
	return items
}
