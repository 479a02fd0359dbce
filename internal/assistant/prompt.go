package assistant

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/quickreview/internal/diff"
	"github.com/quickreview/pkg/models"
)

// ReplyFormatVersion names the reply grammar the prompt asks for and the extractor accepts
const ReplyFormatVersion = "quickreview/v1"

// SystemPrompt defines the reviewer role and the reply contract
const SystemPrompt = `You are an expert code reviewer. Your input is a pull request's title, description, diff and file list.

RULES:
1. Review only the changed lines. Focus on bugs, security issues, unclear code and missing tests.
2. When your review is complete, call submit_review exactly once with:
   - summary: overall review summary (required)
   - verdict: "approve", "request-changes" or "comment"
   - line_comments: optional array of { path, line, body } (line >= 1, numbered in the new version of the file)
3. If tools are unavailable, answer in plain text using this format (` + ReplyFormatVersion + `):
   Summary: <one paragraph>
   Verdict: <approve|request-changes|comment>
   <path>:<line>: <comment>
4. Only comment on lines inside the diff hunks. Be concise and use active voice.`

// DefaultUserTemplate renders the PR content. Override it with assistant.prompt_template.
const DefaultUserTemplate = `Title: {{ .Title }}

Description: {{ if .Description }}{{ .Description }}{{ else }}(none){{ end }}

Diff:
{{ .Diff }}
Files ({{ len .Files }}):
{{- range .Files }}
- {{ .Path }} [{{ .Status }}{{ if .Language }}, {{ .Language }}{{ end }}]
{{- end }}
`

// PromptFile is one entry of the file list handed to the template
type PromptFile struct {
	Path     string
	Status   string
	Language string
}

// PromptData is the template input
type PromptData struct {
	Platform    models.Platform
	Repository  string
	Number      int
	Title       string
	Description string
	Diff        string
	Files       []PromptFile
}

// PromptBuilder renders the user message for a target
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder parses the default template, or the file at overridePath when set
func NewPromptBuilder(overridePath string) (*PromptBuilder, error) {
	text := DefaultUserTemplate
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("review").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// Data collects the template input for a target
func (b *PromptBuilder) Data(target *models.ReviewTarget) PromptData {
	data := PromptData{
		Platform:    target.Ref.Platform,
		Repository:  target.Ref.Repository,
		Number:      target.Ref.Number,
		Title:       target.Title,
		Description: target.Description,
		Diff:        target.UnifiedDiff(),
	}
	for _, f := range target.Files {
		lang := f.FileType
		if lang == "" {
			lang = diff.DetectLanguage(f.FilePath, nil)
		}
		data.Files = append(data.Files, PromptFile{Path: f.FilePath, Status: fileStatus(f), Language: lang})
	}
	return data
}

// Build renders the user message
func (b *PromptBuilder) Build(target *models.ReviewTarget) (string, error) {
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, b.Data(target)); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return sb.String(), nil
}

// ContextPart answers get_pr_context requests from the assistant
func (b *PromptBuilder) ContextPart(target *models.ReviewTarget, part string) (string, error) {
	data := b.Data(target)
	switch strings.ToLower(strings.TrimSpace(part)) {
	case "title":
		return data.Title, nil
	case "description":
		return data.Description, nil
	case "diff":
		return data.Diff, nil
	case "files":
		var sb strings.Builder
		for _, f := range data.Files {
			fmt.Fprintf(&sb, "%s (%s)\n", f.Path, f.Status)
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unknown part %q, expected title, description, diff or files", part)
	}
}

func fileStatus(f models.CodeDiff) string {
	switch {
	case f.IsNew:
		return "added"
	case f.IsDeleted:
		return "deleted"
	case f.IsRenamed:
		return "renamed"
	case f.IsBinary:
		return "binary"
	default:
		return "modified"
	}
}
