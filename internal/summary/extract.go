package summary

import (
	"strings"
	"unicode/utf8"
)

type section int

const (
	sectionNone section = iota
	sectionSummary
	sectionKeyPoints
	sectionActionItems
	sectionConclusion
)

// extractFromText recovers report sections from free-form backend output.
// Header lines switch the current section; bullet lines feed list sections
// and longer lines feed prose sections.
func extractFromText(text string) Report {
	var report Report
	current := sectionNone

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if next, ok := headerSection(line); ok {
			current = next
			continue
		}

		switch current {
		case sectionKeyPoints, sectionActionItems:
			if !isListItem(line) {
				continue
			}
			item := strings.TrimSpace(strings.Trim(line, `-•* ",`))
			if utf8.RuneCountInString(item) <= 5 {
				continue
			}
			if current == sectionKeyPoints {
				report.KeyPoints = append(report.KeyPoints, item)
			} else {
				report.ActionItems = append(report.ActionItems, item)
			}
		case sectionSummary:
			report.FullSummary = appendProse(report.FullSummary, line)
		case sectionConclusion:
			report.Conclusion = appendProse(report.Conclusion, line)
		}
	}

	if report.FullSummary == "" {
		if paragraphs := paragraphs(text, 0); len(paragraphs) > 0 {
			report.FullSummary = paragraphs[0]
		} else {
			report.FullSummary = truncate(text, 300)
		}
	}
	if len(report.KeyPoints) == 0 {
		report.KeyPoints = []string{"Meeting topics discussed", "Key decisions made", "Action items identified"}
	}
	if len(report.ActionItems) == 0 {
		report.ActionItems = []string{"Follow up on discussed items", "Implement proposed solutions"}
	}
	if report.Conclusion == "" {
		if paragraphs := paragraphs(text, 20); len(paragraphs) > 0 {
			report.Conclusion = paragraphs[len(paragraphs)-1]
		} else {
			report.Conclusion = "Meeting concluded with plans for next steps."
		}
	}
	return report
}

func headerSection(line string) (section, bool) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "summary"):
		return sectionSummary, true
	case strings.Contains(lower, "key_points"), strings.Contains(lower, "key points"):
		return sectionKeyPoints, true
	case strings.Contains(lower, "action_items"), strings.Contains(lower, "action items"):
		return sectionActionItems, true
	case strings.Contains(lower, "conclusion"):
		return sectionConclusion, true
	}
	return sectionNone, false
}

func isListItem(line string) bool {
	return strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") ||
		strings.HasPrefix(line, "*") || strings.Contains(line, `"`)
}

func appendProse(existing, line string) string {
	if utf8.RuneCountInString(line) <= 10 {
		return existing
	}
	if existing == "" {
		return line
	}
	return existing + " " + line
}

// paragraphs splits on blank lines, keeping those longer than minLen
func paragraphs(text string, minLen int) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || len(p) <= minLen {
			continue
		}
		out = append(out, p)
	}
	return out
}
