package extract

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

func target() *models.ReviewTarget {
	return &models.ReviewTarget{
		Ref:      models.TargetRef{Platform: models.PlatformGitHub, Repository: "acme/api", Number: 7},
		DiffRefs: models.DiffRefs{HeadSHA: "abc123"},
		Files: []models.CodeDiff{
			{FilePath: "file.rs", Hunks: []models.DiffHunk{{FilePath: "file.rs", OldStartLine: 40, OldLineCount: 5, NewStartLine: 40, NewLineCount: 6}}},
			{FilePath: "src/lib.go", Hunks: []models.DiffHunk{
				{FilePath: "src/lib.go", NewStartLine: 1, NewLineCount: 3},
				{FilePath: "src/lib.go", NewStartLine: 20, NewLineCount: 10},
			}},
			{FilePath: "gone.txt", IsDeleted: true, Hunks: []models.DiffHunk{{FilePath: "gone.txt", OldStartLine: 1, OldLineCount: 3, NewStartLine: 0, NewLineCount: 0}}},
		},
	}
}

func text(s string) *models.AssistantReply { return &models.AssistantReply{Text: s} }

func TestExtractTextSummaryAndFinding(t *testing.T) {
	ex, err := Extract(text("Summary: LGTM\nfile.rs:42: consider renaming x"), target())
	require.NoError(t, err)

	want := &models.ReviewResult{
		Summary:  "LGTM",
		Comments: []models.LineComment{{File: "file.rs", Line: 42, Body: "consider renaming x"}},
		Verdict:  models.VerdictCommentOnly,
		Revision: "abc123",
		Format:   "quickreview/v1",
	}
	if diff := cmp.Diff(want, ex.Result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, SourceText, ex.Source)
	assert.Empty(t, ex.Dropped)
}

func TestExtractDropsUnanchoredComment(t *testing.T) {
	ex, err := Extract(text("Summary: LGTM\nVerdict: request-changes\nfile.rs:999: out of range"), target())
	require.NoError(t, err)

	assert.Empty(t, ex.Result.Comments)
	require.Len(t, ex.Dropped, 1)
	assert.Equal(t, 999, ex.Dropped[0].Comment.Line)
	assert.Contains(t, ex.Dropped[0].Reason, "outside")
	assert.NotEmpty(t, ex.Warnings)
	assert.Equal(t, models.VerdictCommentOnly, ex.Result.Verdict, "verdict downgraded when every comment is dropped")
}

func TestExtractDropsCommentsOnUnknownOrDeletedFiles(t *testing.T) {
	reply := "Summary: ok\nother.go:3: not in diff\ngone.txt:1: deleted\nsrc/lib.go:25: fine"
	ex, err := Extract(text(reply), target())
	require.NoError(t, err)

	require.Len(t, ex.Result.Comments, 1)
	assert.Equal(t, "src/lib.go", ex.Result.Comments[0].File)
	assert.Len(t, ex.Dropped, 2)
}

func TestExtractIsDeterministicAndSorted(t *testing.T) {
	reply := `Summary: several notes
src/lib.go:22: b note
file.rs:44: second
src/lib.go:22: a note
file.rs:41: first
src/lib.go:2: top`
	first, err := Extract(text(reply), target())
	require.NoError(t, err)
	second, err := Extract(text(reply), target())
	require.NoError(t, err)

	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.Result.ContentHash(), second.Result.ContentHash())

	assert.Equal(t, []models.LineComment{
		{File: "file.rs", Line: 41, Body: "first"},
		{File: "file.rs", Line: 44, Body: "second"},
		{File: "src/lib.go", Line: 2, Body: "top"},
		{File: "src/lib.go", Line: 22, Body: "a note"},
		{File: "src/lib.go", Line: 22, Body: "b note"},
	}, first.Result.Comments)
}

func TestExtractUnparseable(t *testing.T) {
	_, err := Extract(text("I looked at it and it seems fine overall."), target())
	require.Error(t, err)
	assert.True(t, errors.Is(err, reviewerr.ErrUnparseable))
	e, ok := reviewerr.As(err)
	require.True(t, ok)
	assert.Equal(t, reviewerr.StageExtract, e.Stage)
	assert.Contains(t, e.Detail, "seems fine")
	assert.False(t, reviewerr.IsRetryable(err))
}

func TestExtractToolCallWins(t *testing.T) {
	reply := &models.AssistantReply{
		Text: "Summary: text summary\nfile.rs:41: from text",
		ToolCalls: []models.ToolCall{
			{Name: "get_pr_context", Arguments: `{"part":"diff"}`},
			{Name: "submit_review", Arguments: `{"summary":"tool summary","verdict":"approve","line_comments":[{"path":"b/file.rs","line":43,"body":"from tool"},{"path":"file.rs","line":0,"body":"bad line"},{"path":"","line":41,"body":"no path"}]}`},
			{Name: "submit_review", Arguments: `{"summary":"second submit"}`},
		},
	}
	ex, err := Extract(reply, target())
	require.NoError(t, err)

	assert.Equal(t, SourceToolCall, ex.Source)
	assert.Equal(t, "tool summary", ex.Result.Summary)
	assert.Equal(t, models.VerdictApprove, ex.Result.Verdict)
	assert.Equal(t, []models.LineComment{{File: "file.rs", Line: 43, Body: "from tool"}}, ex.Result.Comments)
	assert.Len(t, ex.Dropped, 2)
}

func TestExtractMalformedToolCallFallsBackToText(t *testing.T) {
	reply := &models.AssistantReply{
		Text:      "Summary: fallback",
		ToolCalls: []models.ToolCall{{Name: "submit_review", Arguments: `{"verdict":"approve"}`}},
	}
	ex, err := Extract(reply, target())
	require.NoError(t, err)
	assert.Equal(t, SourceText, ex.Source)
	assert.Equal(t, "fallback", ex.Result.Summary)
	assert.Contains(t, ex.Warnings, "submit_review called without a summary")
}

func TestExtractSkipsSubmitWithoutSummary(t *testing.T) {
	reply := &models.AssistantReply{
		ToolCalls: []models.ToolCall{
			{Name: "submit_review", Arguments: `{"line_comments":[]}`},
			{Name: "submit_review", Arguments: `{"summary":`},
			{Name: "submit_review", Arguments: `{"summary":"Looks fine","verdict":"approve","line_comments":[{"path":"file.rs","line":42,"body":"consider renaming x"}]}`},
			{Name: "submit_review", Arguments: `{"summary":"too late"}`},
		},
	}
	ex, err := Extract(reply, target())
	require.NoError(t, err)

	assert.Equal(t, SourceToolCall, ex.Source)
	assert.Equal(t, "Looks fine", ex.Result.Summary)
	assert.Equal(t, []models.LineComment{{File: "file.rs", Line: 42, Body: "consider renaming x"}}, ex.Result.Comments)
	assert.Contains(t, ex.Warnings, "submit_review called without a summary")
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("a", excerptLen-1) + "日本語"
	got := excerpt(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", excerptLen-1)+"...", got)
	assert.Equal(t, "short", excerpt("  short  "))
}

func TestExtractFencedJSONWithRepair(t *testing.T) {
	reply := "Here is my review:\n```json\n{\"summary\": \"Needs work\", \"verdict\": \"request_changes\", \"comments\": [{\"file\": \"src/lib.go\", \"line\": \"21\", \"comment\": \"nil check\"},]}\n```\n"
	ex, err := Extract(text(reply), target())
	require.NoError(t, err)

	assert.Equal(t, SourceJSON, ex.Source)
	require.NotNil(t, ex.Repair)
	assert.True(t, ex.Repair.WasRepaired)
	assert.Equal(t, models.VerdictRequestChanges, ex.Result.Verdict)
	assert.Equal(t, []models.LineComment{{File: "src/lib.go", Line: 21, Body: "nil check"}}, ex.Result.Comments)
}

func TestExtractDeduplicates(t *testing.T) {
	ex, err := Extract(text("Summary: dup\nfile.rs:42: same\n./file.rs:42: same\n- `file.rs:42` - same"), target())
	require.NoError(t, err)
	assert.Len(t, ex.Result.Comments, 1)
	assert.Empty(t, ex.Dropped)
	assert.Contains(t, ex.Warnings, "duplicate comment file.rs:42 ignored")
}

func TestExtractNoCommentsKeepsVerdict(t *testing.T) {
	ex, err := Extract(text("Summary: all good\nVerdict: LGTM"), target())
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, ex.Result.Verdict)
	assert.NotNil(t, ex.Result)
	assert.Empty(t, ex.Warnings)
}

func TestExtractUnknownVerdict(t *testing.T) {
	ex, err := Extract(text("Summary: hmm\nVerdict: maybe"), target())
	require.NoError(t, err)
	assert.Equal(t, models.VerdictCommentOnly, ex.Result.Verdict)
	require.Len(t, ex.Warnings, 1)
	assert.Contains(t, ex.Warnings[0], "unknown verdict")
}

func TestParseVerdict(t *testing.T) {
	cases := map[string]models.Verdict{
		"approve":           models.VerdictApprove,
		"Approved.":         models.VerdictApprove,
		"request changes":   models.VerdictRequestChanges,
		"REQUEST_CHANGES":   models.VerdictRequestChanges,
		"changes requested": models.VerdictRequestChanges,
		"comment":           models.VerdictCommentOnly,
		"":                  models.VerdictCommentOnly,
	}
	for in, want := range cases {
		got, _ := ParseVerdict(in)
		assert.Equal(t, want, got, "input %q", in)
	}
}
