package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/quickreview/pkg/models"
)

var (
	summaryLabelRe  = regexp.MustCompile(`(?i)^\s*\**summary\**\s*:\s*\**\s*(.*)$`)
	summaryHeaderRe = regexp.MustCompile(`(?i)^\s*#{1,6}\s*\**summary\**\s*:?\s*$`)
	verdictRe       = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?\**verdict\**\s*:\s*\**\s*(.+?)\s*\**\s*$`)
	headerRe        = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	// path:line: body | path:line - body, optional bullet, backticks, L prefix and line range
	findingRe = regexp.MustCompile("^\\s*(?:[-*+]\\s+|\\d+[.)]\\s+)?`?([^\\s:`]+)`?:L?(\\d+)(?:-L?\\d+)?`?\\s*(?::|-|–)\\s*(.+)$")
)

// parseText applies the plain-text grammar. It succeeds only when a summary is found.
func parseText(text string) (candidate, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var cand candidate
	var summary []string
	inSummary, summaryDone, inFence := false, false, false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			if len(summary) > 0 {
				inSummary = false
			}
			continue
		}
		if inFence {
			continue
		}

		if m := verdictRe.FindStringSubmatch(line); m != nil {
			if cand.verdict == "" {
				cand.verdict = m[1]
			}
			inSummary = false
			continue
		}
		if c, ok := parseFinding(line); ok {
			cand.comments = append(cand.comments, c)
			inSummary = false
			continue
		}
		if !summaryDone {
			if m := summaryLabelRe.FindStringSubmatch(line); m != nil {
				inSummary = true
				summaryDone = true
				if s := strings.TrimSpace(m[1]); s != "" {
					summary = append(summary, s)
				}
				continue
			}
			if summaryHeaderRe.MatchString(line) {
				inSummary = true
				summaryDone = true
				continue
			}
		}
		if !inSummary {
			continue
		}
		switch {
		case trimmed == "" && len(summary) == 0:
			// blank lines between the label and the text
		case trimmed == "" || headerRe.MatchString(line):
			inSummary = false
		default:
			summary = append(summary, trimmed)
		}
	}

	cand.summary = strings.TrimSpace(strings.Join(summary, "\n"))
	return cand, cand.summary != ""
}

func parseFinding(line string) (models.LineComment, bool) {
	m := findingRe.FindStringSubmatch(line)
	if m == nil {
		return models.LineComment{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return models.LineComment{}, false
	}
	return models.LineComment{File: m[1], Line: n, Body: strings.TrimSpace(m[3])}, true
}
