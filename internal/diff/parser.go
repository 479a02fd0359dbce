package diff

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/quickreview/pkg/models"
)

// Example: @@ -1,3 +1,4 @@ func main() {
// A count omitted from the header means one line.
var hunkHeader = regexp.MustCompile(`(?m)^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@.*$`)

var gitHeader = regexp.MustCompile(`^diff --git a/(.*) b/(.*)$`)

// Parser parses git diff output into structured data
type Parser struct{}

// NewParser creates a new diff parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a multi-file git diff into a slice of CodeDiff
func (p *Parser) Parse(diffText string) ([]models.CodeDiff, error) {
	if diffText == "" {
		return nil, nil
	}

	fileDiffs := p.splitDiffByFile(diffText)
	result := make([]models.CodeDiff, 0, len(fileDiffs))
	for _, fileDiff := range fileDiffs {
		codeDiff, err := p.parseFileDiff(fileDiff)
		if err != nil {
			return nil, err
		}
		result = append(result, codeDiff)
	}
	return result, nil
}

// ParsePatch builds a CodeDiff from a single-file patch as returned by the hosting APIs,
// which carry hunks without the "diff --git" header.
func (p *Parser) ParsePatch(filePath, patch string) (models.CodeDiff, error) {
	hunks, err := p.extractHunks(filePath, patch)
	if err != nil {
		return models.CodeDiff{}, err
	}
	return models.CodeDiff{
		FilePath: filePath,
		Patch:    patch,
		Hunks:    hunks,
		FileType: DetectLanguage(filePath, nil),
	}, nil
}

func (p *Parser) splitDiffByFile(diffText string) []string {
	var files []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(diffText, "\n") {
		if strings.HasPrefix(line, "diff --git ") && current.Len() > 0 {
			files = append(files, current.String())
			current.Reset()
		}
		if current.Len() == 0 && !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		files = append(files, current.String())
	}
	return files
}

func (p *Parser) parseFileDiff(diffText string) (models.CodeDiff, error) {
	header, body, _ := strings.Cut(diffText, "\n")
	m := gitHeader.FindStringSubmatch(header)
	if m == nil {
		return models.CodeDiff{}, fmt.Errorf("could not extract file path from diff header %q", header)
	}
	oldPath, newPath := m[1], m[2]

	cd, err := p.ParsePatch(newPath, patchBody(body))
	if err != nil {
		return models.CodeDiff{}, err
	}
	cd.OldFilePath = oldPath
	cd.IsRenamed = oldPath != newPath
	cd.IsNew = strings.Contains(body, "\nnew file mode") || strings.HasPrefix(body, "new file mode")
	cd.IsDeleted = strings.Contains(body, "\ndeleted file mode") || strings.HasPrefix(body, "deleted file mode")
	cd.IsBinary = strings.Contains(body, "Binary files ") || strings.Contains(body, "GIT binary patch")
	return cd, nil
}

// patchBody strips the extended header lines preceding the first hunk
func patchBody(body string) string {
	loc := hunkHeader.FindStringIndex(body)
	if loc == nil {
		return ""
	}
	return body[loc[0]:]
}

func (p *Parser) extractHunks(filePath, patch string) ([]models.DiffHunk, error) {
	matches := hunkHeader.FindAllStringSubmatchIndex(patch, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	hunks := make([]models.DiffHunk, 0, len(matches))
	for i, match := range matches {
		oldStart, err := strconv.Atoi(patch[match[2]:match[3]])
		if err != nil {
			return nil, fmt.Errorf("invalid hunk header in %s: %w", filePath, err)
		}
		oldCount := groupInt(patch, match[4], match[5], 1)
		newStart, err := strconv.Atoi(patch[match[6]:match[7]])
		if err != nil {
			return nil, fmt.Errorf("invalid hunk header in %s: %w", filePath, err)
		}
		newCount := groupInt(patch, match[8], match[9], 1)

		end := len(patch)
		if i < len(matches)-1 {
			end = matches[i+1][0]
		}
		content := strings.TrimPrefix(patch[match[1]:end], "\n")

		hunks = append(hunks, models.DiffHunk{
			FilePath:     filePath,
			OldStartLine: oldStart,
			OldLineCount: oldCount,
			NewStartLine: newStart,
			NewLineCount: newCount,
			Content:      content,
		})
	}
	return hunks, nil
}

func groupInt(s string, start, end, def int) int {
	if start < 0 {
		return def
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return def
	}
	return n
}

// DetectLanguage names the language of a file for prompts and logs
func DetectLanguage(filePath string, content []byte) string {
	if lang := enry.GetLanguage(filepath.Base(filePath), content); lang != "" {
		return lang
	}
	if lang, _ := enry.GetLanguageByExtension(filePath); lang != "" {
		return lang
	}
	return strings.TrimPrefix(filepath.Ext(filePath), ".")
}
