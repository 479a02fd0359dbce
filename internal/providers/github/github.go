package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/diff"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

const filesPerPage = 100

var _ providers.Provider = (*GitHubProvider)(nil)

// GitHubConfig contains the settings needed to reach the GitHub REST API
type GitHubConfig struct {
	Token   string `koanf:"token"`
	BaseURL string `koanf:"base_url"`
	Cache   bool   `koanf:"cache"`
}

// GitHubProvider implements providers.Provider on top of go-github
type GitHubProvider struct {
	client *gh.Client
	parser *diff.Parser
}

// New creates a GitHub provider with the following transport stack:
//  1. httpcache (ETag-based conditional requests, optional)
//  2. go-github-ratelimit (sleeps through secondary rate limits)
//  3. go-github with token auth
func New(config GitHubConfig) (*GitHubProvider, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github token is required (set GITHUB_TOKEN)")
	}

	var transport http.RoundTripper = http.DefaultTransport
	if config.Cache {
		transport = httpcache.NewMemoryCacheTransport()
	}
	client := gh.NewClient(github_ratelimit.NewClient(transport)).WithAuthToken(config.Token)

	if config.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base_url: %w", err)
		}
	}
	return &GitHubProvider{client: client, parser: diff.NewParser()}, nil
}

// NewWithHTTPClient creates a provider against baseURL with a caller-supplied client.
// Tests use it to point at an httptest server.
func NewWithHTTPClient(httpClient *http.Client, baseURL, token string) (*GitHubProvider, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return &GitHubProvider{client: client, parser: diff.NewParser()}, nil
}

// Platform implements providers.Provider
func (p *GitHubProvider) Platform() models.Platform {
	return models.PlatformGitHub
}

// Fetch loads the pull request and every changed file, following pagination to the end
func (p *GitHubProvider) Fetch(ctx context.Context, ref models.TargetRef) (*models.ReviewTarget, error) {
	owner, repo, err := splitRepo(ref.Repository)
	if err != nil {
		return nil, reviewerr.InvalidTarget("%v", err)
	}

	pr, resp, err := p.client.PullRequests.Get(ctx, owner, repo, ref.Number)
	if err != nil {
		return nil, classify(reviewerr.StageFetch, resp, err)
	}
	logRateLimit(resp)

	var files []*gh.CommitFile
	opts := &gh.ListOptions{PerPage: filesPerPage}
	for {
		page, resp, err := p.client.PullRequests.ListFiles(ctx, owner, repo, ref.Number, opts)
		if err != nil {
			return nil, classify(reviewerr.StageFetch, resp, err)
		}
		files = append(files, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if want := pr.GetChangedFiles(); want != len(files) {
		return nil, &reviewerr.Error{
			Stage:  reviewerr.StageFetch,
			Kind:   reviewerr.KindIncomplete,
			Reason: fmt.Sprintf("listed %d of %d changed files", len(files), want),
		}
	}

	target := &models.ReviewTarget{
		Ref:         ref,
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		Author:      pr.GetUser().GetLogin(),
		WebURL:      pr.GetHTMLURL(),
		BaseBranch:  pr.GetBase().GetRef(),
		HeadBranch:  pr.GetHead().GetRef(),
		CloneURL:    pr.GetHead().GetRepo().GetCloneURL(),
		DiffRefs: models.DiffRefs{
			BaseSHA:  pr.GetBase().GetSHA(),
			HeadSHA:  pr.GetHead().GetSHA(),
			StartSHA: pr.GetBase().GetSHA(),
		},
	}

	var full map[string]models.CodeDiff
	for _, f := range files {
		if f.GetPatch() == "" && f.GetChanges() > 0 {
			if full == nil {
				if full, err = p.fullDiff(ctx, owner, repo, ref.Number); err != nil {
					if reviewerr.IsRetryable(err) {
						return nil, err
					}
					return nil, &reviewerr.Error{
						Stage:  reviewerr.StageFetch,
						Kind:   reviewerr.KindIncomplete,
						Reason: fmt.Sprintf("patch for %s was truncated by the API and the full diff is unavailable", f.GetFilename()),
						Err:    err,
					}
				}
			}
			if cd, ok := full[f.GetFilename()]; ok {
				f.Patch = gh.Ptr(cd.Patch)
			}
		}
		cd, err := p.convertFile(f)
		if err != nil {
			return nil, err
		}
		target.Files = append(target.Files, cd)
	}

	log.Debug().
		Str("pr", ref.String()).
		Int("files", len(target.Files)).
		Str("head", target.DiffRefs.HeadSHA).
		Msg("Fetched GitHub pull request")
	return target, nil
}

// fullDiff downloads the whole pull request as a unified diff, keyed by new path.
// It still carries hunks the files API leaves out for large files.
func (p *GitHubProvider) fullDiff(ctx context.Context, owner, repo string, number int) (map[string]models.CodeDiff, error) {
	raw, resp, err := p.client.PullRequests.GetRaw(ctx, owner, repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return nil, classify(reviewerr.StageFetch, resp, err)
	}
	files, err := p.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse pull request diff: %w", err)
	}
	out := make(map[string]models.CodeDiff, len(files))
	for _, f := range files {
		out[f.FilePath] = f
	}
	log.Debug().Int("files", len(out)).Msg("Loaded full pull request diff for truncated patches")
	return out, nil
}

// convertFile maps a CommitFile to a CodeDiff.
// A patch still missing after the full diff fallback is reported as incomplete data.
// Binary files also lack a patch but report zero changed lines.
func (p *GitHubProvider) convertFile(f *gh.CommitFile) (models.CodeDiff, error) {
	patch := f.GetPatch()
	if patch == "" && f.GetChanges() > 0 {
		return models.CodeDiff{}, &reviewerr.Error{
			Stage:  reviewerr.StageFetch,
			Kind:   reviewerr.KindIncomplete,
			Reason: fmt.Sprintf("patch for %s was truncated by the API", f.GetFilename()),
		}
	}

	cd, err := p.parser.ParsePatch(f.GetFilename(), patch)
	if err != nil {
		return models.CodeDiff{}, &reviewerr.Error{Stage: reviewerr.StageFetch, Kind: reviewerr.KindIncomplete, Reason: "unparseable patch", Err: err}
	}
	cd.OldFilePath = f.GetPreviousFilename()
	if cd.OldFilePath == "" {
		cd.OldFilePath = cd.FilePath
	}
	switch f.GetStatus() {
	case "added":
		cd.IsNew = true
	case "removed":
		cd.IsDeleted = true
	case "renamed":
		cd.IsRenamed = true
	}
	cd.IsBinary = patch == "" && f.GetChanges() == 0 && !cd.IsRenamed
	return cd, nil
}

// PostSummary posts the review summary as an issue comment on the pull request
func (p *GitHubProvider) PostSummary(ctx context.Context, target *models.ReviewTarget, body string) (string, error) {
	owner, repo, err := splitRepo(target.Ref.Repository)
	if err != nil {
		return "", reviewerr.New(reviewerr.StagePublish, reviewerr.KindRejected, err.Error(), nil)
	}
	comment, resp, err := p.client.Issues.CreateComment(ctx, owner, repo, target.Ref.Number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return "", classify(reviewerr.StagePublish, resp, err)
	}
	return strconv.FormatInt(comment.GetID(), 10), nil
}

// PostLineComment posts a review comment on the right side of the head revision
func (p *GitHubProvider) PostLineComment(ctx context.Context, target *models.ReviewTarget, lc models.LineComment) (string, error) {
	owner, repo, err := splitRepo(target.Ref.Repository)
	if err != nil {
		return "", reviewerr.New(reviewerr.StagePublish, reviewerr.KindRejected, err.Error(), nil)
	}
	comment, resp, err := p.client.PullRequests.CreateComment(ctx, owner, repo, target.Ref.Number, &gh.PullRequestComment{
		Body:     gh.Ptr(lc.Body),
		CommitID: gh.Ptr(target.DiffRefs.HeadSHA),
		Path:     gh.Ptr(lc.File),
		Line:     gh.Ptr(lc.Line),
		Side:     gh.Ptr("RIGHT"),
	})
	if err != nil {
		return "", classify(reviewerr.StagePublish, resp, err)
	}
	return strconv.FormatInt(comment.GetID(), 10), nil
}

// classify maps go-github failures onto the review error taxonomy
func classify(stage reviewerr.Stage, resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &reviewerr.Error{Stage: stage, Kind: reviewerr.KindTransient, Reason: "rate limited", Status: http.StatusForbidden, Err: err}
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return reviewerr.FromStatus(stage, errResp.Response.StatusCode, err)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return reviewerr.FromStatus(stage, resp.StatusCode, err)
	}
	return reviewerr.FromTransport(stage, err)
}

func logRateLimit(resp *gh.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < resp.Rate.Limit/10 {
		log.Warn().
			Int("remaining", resp.Rate.Remaining).
			Int("limit", resp.Rate.Limit).
			Time("reset", resp.Rate.Reset.Time).
			Msg("GitHub rate limit running low")
	}
}

func splitRepo(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid GitHub repository %q, expected owner/repo", fullName)
	}
	return owner, repo, nil
}
