package publish

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/quickreview/pkg/models"
)

// MarkerPrefix starts the hidden marker embedded in every summary
const MarkerPrefix = "<!-- quickreview:"

var (
	htmlSanitizer = bluemonday.UGCPolicy()
	tagRe         = regexp.MustCompile(`<[a-zA-Z/!]`)
)

var verdictLabels = map[models.Verdict]string{
	models.VerdictApprove:        "✅ Approve",
	models.VerdictRequestChanges: "❌ Request changes",
	models.VerdictCommentOnly:    "💬 Comment",
}

// Sanitize removes raw HTML from assistant text. Lines inside code fences and
// lines without tags are left alone so markdown keeps rendering.
func Sanitize(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence || !tagRe.MatchString(line) {
			continue
		}
		lines[i] = htmlSanitizer.Sanitize(line)
	}
	return strings.Join(lines, "\n")
}

// RenderSummary builds the summary comment body. The trailing marker carries
// the content hash so a posted review can be traced back to its record.
func RenderSummary(result *models.ReviewResult, dropped int) string {
	var sb strings.Builder
	sb.WriteString("## AI Code Review\n\n")
	label, ok := verdictLabels[result.Verdict]
	if !ok {
		label = string(result.Verdict)
	}
	fmt.Fprintf(&sb, "**Verdict:** %s\n\n", label)
	sb.WriteString(Sanitize(strings.TrimSpace(result.Summary)))
	sb.WriteString("\n")

	if n := len(result.Comments); n > 0 {
		fmt.Fprintf(&sb, "\n_%d line comment(s) posted on the diff._\n", n)
	}
	if dropped > 0 {
		fmt.Fprintf(&sb, "\n_%d comment(s) were omitted because they did not point at changed lines._\n", dropped)
	}
	if result.Revision != "" {
		fmt.Fprintf(&sb, "\n<sub>Reviewed revision `%s`</sub>\n", shortSHA(result.Revision))
	}
	fmt.Fprintf(&sb, "\n%s%s -->\n", MarkerPrefix, result.ContentHash())
	return sb.String()
}

// RenderComment builds a line comment body
func RenderComment(c models.LineComment) string {
	return Sanitize(strings.TrimSpace(c.Body))
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
