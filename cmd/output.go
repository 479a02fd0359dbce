package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quickreview/internal/publish"
	"github.com/quickreview/internal/review"
	"github.com/quickreview/pkg/models"
)

var (
	successMark = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnMark    = color.New(color.FgYellow, color.Bold).SprintFunc()
	errorMark   = color.New(color.FgRed, color.Bold).SprintFunc()
	infoMark    = color.New(color.FgCyan).SprintFunc()
)

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", successMark("✓"), fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", infoMark("ℹ"), fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", warnMark("⚠"), fmt.Sprintf(format, args...))
}

func printError(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", errorMark("✗"), fmt.Sprintf(format, args...))
}

// printOutcome writes the status line of a single run followed by its warnings
func printOutcome(w io.Writer, out *review.RunOutcome) {
	switch out.Kind {
	case review.OutcomePublished:
		printSuccess(w, "%s %s", out, color.YellowString("%s", out.URL))
	case review.OutcomeAlreadyPublished, review.OutcomeSkipped, review.OutcomeDryRun:
		printInfo(w, "%s %s", out, color.YellowString("%s", out.URL))
	default:
		printError(w, "%s %s", out, color.YellowString("%s", out.URL))
	}
	for _, warning := range out.Warnings {
		printWarning(w, "%s", warning)
	}
	if len(out.Dropped) > 0 {
		printWarning(w, "%d comment(s) dropped:", len(out.Dropped))
		for _, d := range out.Dropped {
			fmt.Fprintf(w, "    %s:%d %s\n", d.Comment.File, d.Comment.Line, color.HiBlackString("(%s)", d.Reason))
		}
	}
}

// previewMarkdown renders what a publish would post
func previewMarkdown(out *review.RunOutcome) string {
	var sb strings.Builder
	sb.WriteString(publish.RenderSummary(out.Result, len(out.Dropped)))
	if len(out.Result.Comments) > 0 {
		sb.WriteString("\n---\n\n## Line comments\n\n")
		for _, c := range out.Result.Comments {
			fmt.Fprintf(&sb, "**`%s:%d`**\n\n%s\n\n", c.File, c.Line, publish.RenderComment(c))
		}
	}
	return sb.String()
}

// renderPreview pretty-prints the dry-run preview. Plain markdown is returned
// when the terminal renderer is unavailable.
func renderPreview(out *review.RunOutcome) string {
	md := previewMarkdown(out)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Colors = text.Colors{text.FgHiCyan, text.Bold}
	t.Style().Color.Header = text.Colors{text.FgHiBlue, text.Bold}
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

// writeOutcomeTable renders batch results
func writeOutcomeTable(w io.Writer, outcomes []*review.RunOutcome) {
	t := newTable(w, "Batch results")
	t.AppendHeader(table.Row{"#", "URL", "Outcome", "Comments", "Dropped", "Duration"})
	for i, out := range outcomes {
		comments := "-"
		if out.Result != nil {
			comments = fmt.Sprintf("%d", len(out.Result.Comments))
		}
		t.AppendRow(table.Row{i + 1, out.URL, outcomeCell(out), comments, len(out.Dropped), out.Duration.Round(time.Millisecond)})
	}
	t.Render()
}

func outcomeCell(out *review.RunOutcome) string {
	switch out.Kind {
	case review.OutcomePublished:
		return text.FgGreen.Sprint(out.String())
	case review.OutcomeFailed:
		return text.FgRed.Sprint(out.String())
	default:
		return text.FgYellow.Sprint(out.String())
	}
}

// writeRecordTable renders the publish log
func writeRecordTable(w io.Writer, records []models.PublishRecord) {
	t := newTable(w, "Publish log")
	t.AppendHeader(table.Row{"ID", "Platform", "PR", "Status", "Revision", "Summary", "Comments", "Hash", "Created"})
	for _, r := range records {
		status := text.FgGreen.Sprint(r.Status)
		if r.Status != models.PublishComplete {
			status = text.FgYellow.Sprint(r.Status)
		}
		t.AppendRow(table.Row{
			r.ID, r.Platform, r.PRID, status, short(r.Revision, 10), r.SummaryID,
			len(r.PostedComments), short(r.ContentHash, 12), r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	t.Render()
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
