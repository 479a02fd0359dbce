package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the hosting backend of a pull/merge request
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// TargetRef is a parsed PR/MR URL
type TargetRef struct {
	Platform   Platform
	Host       string
	Repository string // owner/repo on GitHub, full group path on GitLab
	Number     int
	URL        string
}

// PRID returns the platform-scoped identifier of the PR/MR, e.g. "acme/api#42"
func (r TargetRef) PRID() string {
	return fmt.Sprintf("%s#%d", r.Repository, r.Number)
}

// String renders the ref for logs
func (r TargetRef) String() string {
	return fmt.Sprintf("%s:%s", r.Platform, r.PRID())
}

// DiffRefs holds the commit SHAs needed to anchor line comments
type DiffRefs struct {
	BaseSHA  string
	HeadSHA  string
	StartSHA string
}

// ReviewTarget is the platform-agnostic view of a fetched PR/MR.
// It is never modified after the source adapter returns it.
type ReviewTarget struct {
	Ref         TargetRef
	Title       string
	Description string
	Author      string
	WebURL      string
	BaseBranch  string
	HeadBranch  string
	CloneURL    string
	DiffRefs    DiffRefs
	Files       []CodeDiff
}

// CodeDiff represents one changed file of a merge/pull request
type CodeDiff struct {
	FilePath    string
	OldFilePath string // only differs from FilePath on renames
	Patch       string
	Hunks       []DiffHunk
	FileType    string
	IsDeleted   bool
	IsNew       bool
	IsRenamed   bool
	IsBinary    bool
}

// DiffHunk represents a single chunk of changes in a diff
type DiffHunk struct {
	FilePath     string
	OldStartLine int
	OldLineCount int
	NewStartLine int
	NewLineCount int
	Content      string
}

// ContainsNewLine reports whether line (new-file numbering) is inside the hunk
func (h DiffHunk) ContainsNewLine(line int) bool {
	if h.NewLineCount <= 0 {
		return false
	}
	return line >= h.NewStartLine && line < h.NewStartLine+h.NewLineCount
}

// FileByPath returns the changed file with the given new path
func (t *ReviewTarget) FileByPath(path string) (*CodeDiff, bool) {
	for i := range t.Files {
		if t.Files[i].FilePath == path {
			return &t.Files[i], true
		}
	}
	return nil, false
}

// UnifiedDiff renders the target's changes as a single git-style diff
func (t *ReviewTarget) UnifiedDiff() string {
	var sb strings.Builder
	for _, f := range t.Files {
		oldPath := f.OldFilePath
		if oldPath == "" {
			oldPath = f.FilePath
		}
		fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", oldPath, f.FilePath)
		if f.IsBinary {
			sb.WriteString("Binary files differ\n")
			continue
		}
		sb.WriteString(f.Patch)
		if !strings.HasSuffix(f.Patch, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ToolCall is one structured tool invocation captured from an assistant session
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// AssistantReply is the verbatim output of one assistant session
type AssistantReply struct {
	Text      string
	ToolCalls []ToolCall
	Driver    string
	Model     string
	SessionID string
	Duration  time.Duration
}

// Verdict is the overall outcome of a review
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request-changes"
	VerdictCommentOnly    Verdict = "comment-only"
)

// LineComment is a review remark anchored to a line of the new file
type LineComment struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// Key identifies a comment within one result
func (c LineComment) Key() string {
	sum := sha256.Sum256([]byte(c.Body))
	return fmt.Sprintf("%s:%d:%s", c.File, c.Line, hex.EncodeToString(sum[:6]))
}

// ReviewResult contains the structured review extracted from an assistant reply
type ReviewResult struct {
	Summary  string        `json:"summary"`
	Comments []LineComment `json:"comments"`
	Verdict  Verdict       `json:"verdict"`
	Revision string        `json:"revision"`
	Format   string        `json:"format"`
}

// ContentHash is the idempotency component derived from the result.
// Comments are expected in their canonical order.
func (r *ReviewResult) ContentHash() string {
	canonical := struct {
		Summary  string        `json:"summary"`
		Comments []LineComment `json:"comments"`
		Verdict  Verdict       `json:"verdict"`
		Revision string        `json:"revision"`
	}{
		Summary:  strings.TrimSpace(r.Summary),
		Comments: r.Comments,
		Verdict:  r.Verdict,
		Revision: r.Revision,
	}
	if canonical.Comments == nil {
		canonical.Comments = []LineComment{}
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DroppedComment records a comment the extractor refused to forward
type DroppedComment struct {
	Comment LineComment
	Reason  string
}

// PublishStatus marks whether a record covers the whole result
type PublishStatus string

const (
	PublishComplete PublishStatus = "complete"
	PublishPartial  PublishStatus = "partial"
)

// PublishRecord is one entry of the append-only publish log
type PublishRecord struct {
	ID             int64
	Platform       Platform
	PRID           string
	ContentHash    string
	Revision       string
	Status         PublishStatus
	SummaryID      string
	PostedComments []string // LineComment keys
	RunID          string
	CreatedAt      time.Time
}
