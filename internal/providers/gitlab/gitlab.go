package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/quickreview/internal/diff"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

const diffsPerPage = 100

var _ providers.Provider = (*GitLabProvider)(nil)

// GitLabConfig contains configuration for the GitLab provider
type GitLabConfig struct {
	URL               string  `koanf:"url"`
	Token             string  `koanf:"token"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// GitLabProvider implements providers.Provider for GitLab merge requests
type GitLabProvider struct {
	client *gitlab.Client
	parser *diff.Parser
	config GitLabConfig
}

// New creates a GitLab provider. Retries are left to the orchestrator, so the
// client's built-in retry is disabled; a client-side limiter spaces requests.
func New(config GitLabConfig, opts ...gitlab.ClientOptionFunc) (*GitLabProvider, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}
	if config.URL == "" {
		config.URL = "https://gitlab.com"
	}

	options := []gitlab.ClientOptionFunc{
		gitlab.WithBaseURL(config.URL),
		gitlab.WithoutRetries(),
	}
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		options = append(options, gitlab.WithCustomLimiter(rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)))
	}
	options = append(options, opts...)

	client, err := gitlab.NewClient(config.Token, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &GitLabProvider{client: client, parser: diff.NewParser(), config: config}, nil
}

// NewWithHTTPClient creates a provider that sends requests through httpClient
func NewWithHTTPClient(httpClient *http.Client, baseURL, token string) (*GitLabProvider, error) {
	return New(GitLabConfig{URL: baseURL, Token: token}, gitlab.WithHTTPClient(httpClient))
}

// Platform implements providers.Provider
func (p *GitLabProvider) Platform() models.Platform {
	return models.PlatformGitLab
}

// Fetch loads the merge request and all of its diffs.
// An overflowing changes_count ("1000+") or a missing diff body means GitLab
// truncated the changes, which is reported as incomplete data.
func (p *GitLabProvider) Fetch(ctx context.Context, ref models.TargetRef) (*models.ReviewTarget, error) {
	mr, resp, err := p.client.MergeRequests.GetMergeRequest(ref.Repository, ref.Number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classify(reviewerr.StageFetch, resp, err)
	}

	if strings.HasSuffix(mr.ChangesCount, "+") {
		return nil, &reviewerr.Error{
			Stage:  reviewerr.StageFetch,
			Kind:   reviewerr.KindIncomplete,
			Reason: fmt.Sprintf("merge request has %s changes, beyond what the API returns", mr.ChangesCount),
		}
	}

	var diffs []*gitlab.MergeRequestDiff
	opt := &gitlab.ListMergeRequestDiffsOptions{ListOptions: gitlab.ListOptions{PerPage: diffsPerPage, Page: 1}}
	for {
		page, resp, err := p.client.MergeRequests.ListMergeRequestDiffs(ref.Repository, ref.Number, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify(reviewerr.StageFetch, resp, err)
		}
		diffs = append(diffs, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	if want, err := strconv.Atoi(mr.ChangesCount); err == nil && want != len(diffs) {
		return nil, &reviewerr.Error{
			Stage:  reviewerr.StageFetch,
			Kind:   reviewerr.KindIncomplete,
			Reason: fmt.Sprintf("listed %d of %d changed files", len(diffs), want),
		}
	}

	target := &models.ReviewTarget{
		Ref:         ref,
		Title:       mr.Title,
		Description: mr.Description,
		WebURL:      mr.WebURL,
		BaseBranch:  mr.TargetBranch,
		HeadBranch:  mr.SourceBranch,
		CloneURL:    cloneURL(mr.WebURL),
		DiffRefs: models.DiffRefs{
			BaseSHA:  mr.DiffRefs.BaseSha,
			HeadSHA:  mr.DiffRefs.HeadSha,
			StartSHA: mr.DiffRefs.StartSha,
		},
	}
	if mr.Author != nil {
		target.Author = mr.Author.Username
	}
	if target.DiffRefs.HeadSHA == "" {
		target.DiffRefs.HeadSHA = mr.SHA
	}

	for _, d := range diffs {
		cd, err := p.convertDiff(d)
		if err != nil {
			return nil, err
		}
		target.Files = append(target.Files, cd)
	}

	log.Debug().
		Str("mr", ref.String()).
		Int("files", len(target.Files)).
		Str("head", target.DiffRefs.HeadSHA).
		Msg("Fetched GitLab merge request")
	return target, nil
}

func (p *GitLabProvider) convertDiff(d *gitlab.MergeRequestDiff) (models.CodeDiff, error) {
	modeOnly := d.AMode != d.BMode
	if d.Diff == "" && !d.NewFile && !d.DeletedFile && !d.RenamedFile && !modeOnly {
		return models.CodeDiff{}, &reviewerr.Error{
			Stage:  reviewerr.StageFetch,
			Kind:   reviewerr.KindIncomplete,
			Reason: fmt.Sprintf("diff for %s was collapsed by the API", d.NewPath),
		}
	}

	cd, err := p.parser.ParsePatch(d.NewPath, d.Diff)
	if err != nil {
		return models.CodeDiff{}, &reviewerr.Error{Stage: reviewerr.StageFetch, Kind: reviewerr.KindIncomplete, Reason: "unparseable diff", Err: err}
	}
	cd.OldFilePath = d.OldPath
	cd.IsNew = d.NewFile
	cd.IsDeleted = d.DeletedFile
	cd.IsRenamed = d.RenamedFile
	cd.IsBinary = strings.HasPrefix(d.Diff, "Binary files ")
	return cd, nil
}

// PostSummary posts the review summary as a merge request note
func (p *GitLabProvider) PostSummary(ctx context.Context, target *models.ReviewTarget, body string) (string, error) {
	note, resp, err := p.client.Notes.CreateMergeRequestNote(target.Ref.Repository, target.Ref.Number,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", classify(reviewerr.StagePublish, resp, err)
	}
	return strconv.Itoa(note.ID), nil
}

// PostLineComment opens a diff discussion positioned on the new side of the file
func (p *GitLabProvider) PostLineComment(ctx context.Context, target *models.ReviewTarget, lc models.LineComment) (string, error) {
	oldPath := lc.File
	if f, ok := target.FileByPath(lc.File); ok && f.OldFilePath != "" {
		oldPath = f.OldFilePath
	}

	opt := &gitlab.CreateMergeRequestDiscussionOptions{
		Body: gitlab.Ptr(lc.Body),
		Position: &gitlab.PositionOptions{
			BaseSHA:      gitlab.Ptr(target.DiffRefs.BaseSHA),
			StartSHA:     gitlab.Ptr(target.DiffRefs.StartSHA),
			HeadSHA:      gitlab.Ptr(target.DiffRefs.HeadSHA),
			PositionType: gitlab.Ptr("text"),
			NewPath:      gitlab.Ptr(lc.File),
			OldPath:      gitlab.Ptr(oldPath),
			NewLine:      gitlab.Ptr(lc.Line),
		},
	}
	discussion, resp, err := p.client.Discussions.CreateMergeRequestDiscussion(target.Ref.Repository, target.Ref.Number, opt, gitlab.WithContext(ctx))
	if err != nil {
		return "", classify(reviewerr.StagePublish, resp, err)
	}
	return discussion.ID, nil
}

// classify maps client-go failures onto the review error taxonomy
func classify(stage reviewerr.Stage, resp *gitlab.Response, err error) error {
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return reviewerr.FromStatus(stage, errResp.Response.StatusCode, err)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return reviewerr.FromStatus(stage, resp.StatusCode, err)
	}
	return reviewerr.FromTransport(stage, err)
}

// cloneURL derives the repository URL from a merge request web URL
func cloneURL(webURL string) string {
	if i := strings.Index(webURL, "/-/merge_requests/"); i > 0 {
		return webURL[:i] + ".git"
	}
	return ""
}
