// Package extract turns an assistant reply into a validated ReviewResult.
//
// Sources are tried in a fixed order: the first submit_review tool call that
// carries a summary, a JSON object in the reply text, then the plain-text
// grammar. Comments are normalized, deduplicated and checked against the
// target's hunks. Anything that fails the anchor check is dropped and reported,
// never forwarded.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/quickreview/internal/assistant"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// Source names where the review was found in the reply
type Source string

const (
	SourceToolCall Source = "tool_call"
	SourceJSON     Source = "json"
	SourceText     Source = "text"
)

const excerptLen = 240

// Extraction is the outcome of a successful extract stage
type Extraction struct {
	Result   *models.ReviewResult
	Dropped  []models.DroppedComment
	Warnings []string
	Source   Source
	Repair   *RepairStats
}

// rawReview is the shape shared by the submit_review arguments and JSON replies
type rawReview struct {
	Summary      string       `json:"summary"`
	Verdict      string       `json:"verdict"`
	LineComments []rawComment `json:"line_comments"`
	Comments     []rawComment `json:"comments"`
}

type rawComment struct {
	Path    string  `json:"path"`
	File    string  `json:"file"`
	Line    flexInt `json:"line"`
	Body    string  `json:"body"`
	Comment string  `json:"comment"`
}

// flexInt accepts 42, "42" and "L42"
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("line must be a number: %s", data)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "L"))
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// candidate is a parsed but not yet validated review
type candidate struct {
	summary  string
	verdict  string
	comments []models.LineComment
}

func (r rawReview) candidate() candidate {
	c := candidate{summary: strings.TrimSpace(r.Summary), verdict: r.Verdict}
	for _, rc := range append(r.LineComments, r.Comments...) {
		path := rc.Path
		if path == "" {
			path = rc.File
		}
		body := rc.Body
		if body == "" {
			body = rc.Comment
		}
		c.comments = append(c.comments, models.LineComment{File: path, Line: int(rc.Line), Body: body})
	}
	return c
}

// Extract parses reply against target. It never calls out and is deterministic:
// the same reply and target always yield the same extraction.
func Extract(reply *models.AssistantReply, target *models.ReviewTarget) (*Extraction, error) {
	if reply == nil {
		return nil, unparseable("empty reply", "")
	}
	ex := &Extraction{}

	cand, ok := fromToolCalls(reply.ToolCalls, ex)
	if ok {
		ex.Source = SourceToolCall
	} else if cand, ok = fromJSON(reply.Text, ex); ok {
		ex.Source = SourceJSON
	} else if cand, ok = parseText(reply.Text); ok {
		ex.Source = SourceText
	} else {
		return nil, unparseable("no summary found in reply", excerpt(reply.Text))
	}

	verdict, known := ParseVerdict(cand.verdict)
	if !known && strings.TrimSpace(cand.verdict) != "" {
		ex.Warnings = append(ex.Warnings, fmt.Sprintf("unknown verdict %q treated as comment-only", cand.verdict))
	}

	kept := ex.validate(cand.comments, target)
	if len(cand.comments) > 0 && len(kept) == 0 && verdict != models.VerdictCommentOnly {
		ex.Warnings = append(ex.Warnings, fmt.Sprintf("all %d comments dropped, verdict %s downgraded to %s", len(cand.comments), verdict, models.VerdictCommentOnly))
		verdict = models.VerdictCommentOnly
	}
	SortComments(kept)

	ex.Result = &models.ReviewResult{
		Summary:  cand.summary,
		Comments: kept,
		Verdict:  verdict,
		Revision: target.DiffRefs.HeadSHA,
		Format:   assistant.ReplyFormatVersion,
	}
	return ex, nil
}

func fromToolCalls(calls []models.ToolCall, ex *Extraction) (candidate, bool) {
	for _, call := range calls {
		if call.Name != "submit_review" {
			continue
		}
		// the first usable submit wins, later ones are ignored
		raw, stats, err := decode(call.Arguments)
		if err != nil {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("submit_review arguments unreadable: %v", err))
			continue
		}
		cand := raw.candidate()
		if cand.summary == "" {
			ex.Warnings = append(ex.Warnings, "submit_review called without a summary")
			continue
		}
		if stats.WasRepaired {
			ex.Repair = &stats
		}
		return cand, true
	}
	return candidate{}, false
}

func fromJSON(text string, ex *Extraction) (candidate, bool) {
	for _, obj := range findJSONObjects(text) {
		raw, stats, err := decode(obj)
		if err != nil {
			continue
		}
		cand := raw.candidate()
		if cand.summary == "" {
			continue
		}
		if stats.WasRepaired {
			ex.Repair = &stats
		}
		return cand, true
	}
	return candidate{}, false
}

func decode(s string) (rawReview, RepairStats, error) {
	var raw rawReview
	repaired, stats, err := RepairJSON(strings.TrimSpace(s))
	if err != nil {
		return raw, stats, err
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return raw, stats, err
	}
	return raw, stats, nil
}

// validate normalizes, filters, deduplicates and anchors comments
func (ex *Extraction) validate(comments []models.LineComment, target *models.ReviewTarget) []models.LineComment {
	seen := make(map[string]bool)
	var kept []models.LineComment
	for _, c := range comments {
		c.File = NormalizePath(c.File)
		c.Body = strings.TrimSpace(c.Body)

		reason := ""
		switch {
		case c.File == "":
			reason = "missing file path"
		case c.Body == "":
			reason = "empty body"
		case c.Line < 1:
			reason = fmt.Sprintf("invalid line %d", c.Line)
		default:
			reason = anchorProblem(c, target)
		}
		if reason != "" {
			ex.drop(c, reason)
			continue
		}

		key := c.Key()
		if seen[key] {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("duplicate comment %s:%d ignored", c.File, c.Line))
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	return kept
}

func (ex *Extraction) drop(c models.LineComment, reason string) {
	ex.Dropped = append(ex.Dropped, models.DroppedComment{Comment: c, Reason: reason})
	ex.Warnings = append(ex.Warnings, fmt.Sprintf("dropped comment %s:%d: %s", c.File, c.Line, reason))
}

func anchorProblem(c models.LineComment, target *models.ReviewTarget) string {
	file, ok := target.FileByPath(c.File)
	if !ok {
		return "file not part of the diff"
	}
	for _, h := range file.Hunks {
		if h.ContainsNewLine(c.Line) {
			return ""
		}
	}
	return fmt.Sprintf("line %d outside the diff hunks", c.Line)
}

// NormalizePath strips quoting and diff prefixes from a model-supplied path
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "`\"'")
	for _, prefix := range []string{"a/", "b/", "./"} {
		if strings.HasPrefix(p, prefix) {
			p = p[len(prefix):]
			break
		}
	}
	return strings.TrimPrefix(p, "/")
}

// SortComments orders comments by file, line, then body
func SortComments(comments []models.LineComment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Body < b.Body
	})
}

// ParseVerdict maps the verdict vocabulary to a Verdict. Unknown or empty input
// yields comment-only with known=false.
func ParseVerdict(s string) (v models.Verdict, known bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.Trim(norm, "*`.!\"' ")
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	switch norm {
	case "approve", "approved", "lgtm", "accept", "accepted":
		return models.VerdictApprove, true
	case "request-changes", "changes-requested", "request-change", "needs-changes", "needs-work", "reject", "rejected":
		return models.VerdictRequestChanges, true
	case "comment", "comment-only", "comments", "commented", "neutral":
		return models.VerdictCommentOnly, true
	}
	return models.VerdictCommentOnly, false
}

func unparseable(reason, detail string) error {
	return &reviewerr.Error{
		Stage:  reviewerr.StageExtract,
		Kind:   reviewerr.KindUnparseable,
		Reason: reason,
		Detail: detail,
	}
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= excerptLen {
		return text
	}
	end := excerptLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end] + "..."
}
