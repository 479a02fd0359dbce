package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

type fakeProvider struct {
	summaries   []string
	comments    []models.LineComment
	summaryErr  error
	commentErrs map[string]error // keyed by File:Line, consumed on use
}

func (f *fakeProvider) Platform() models.Platform { return models.PlatformGitHub }

func (f *fakeProvider) Fetch(ctx context.Context, ref models.TargetRef) (*models.ReviewTarget, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) PostSummary(ctx context.Context, target *models.ReviewTarget, body string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	f.summaries = append(f.summaries, body)
	return fmt.Sprintf("summary-%d", len(f.summaries)), nil
}

func (f *fakeProvider) PostLineComment(ctx context.Context, target *models.ReviewTarget, c models.LineComment) (string, error) {
	key := fmt.Sprintf("%s:%d", c.File, c.Line)
	if err, ok := f.commentErrs[key]; ok {
		delete(f.commentErrs, key)
		return "", err
	}
	f.comments = append(f.comments, c)
	return "c-" + key, nil
}

func transient() error {
	return reviewerr.New(reviewerr.StagePublish, reviewerr.KindTransient, "server returned Bad Gateway", nil)
}

func rejected() error {
	return reviewerr.New(reviewerr.StagePublish, reviewerr.KindRejected, "request rejected with Unprocessable Entity", nil)
}

func request() Request {
	return Request{
		Target: &models.ReviewTarget{Ref: models.TargetRef{Platform: models.PlatformGitHub, Repository: "acme/api", Number: 1}},
		Result: &models.ReviewResult{
			Summary: "Two notes",
			Verdict: models.VerdictCommentOnly,
			Comments: []models.LineComment{
				{File: "a.go", Line: 3, Body: "first"},
				{File: "b.go", Line: 9, Body: "second"},
			},
			Revision: "deadbeef",
		},
		Dropped: []models.DroppedComment{{Comment: models.LineComment{File: "a.go", Line: 999, Body: "x"}, Reason: "outside"}},
	}
}

func TestPublishSummaryThenComments(t *testing.T) {
	fp := &fakeProvider{}
	pub := NewPublisher(providers.NewSet(fp), nil)
	progress := NewProgress()

	out, err := pub.Publish(context.Background(), request(), progress)
	require.NoError(t, err)
	assert.Equal(t, "summary-1", out.SummaryID)
	assert.Equal(t, 2, out.Posted)
	require.Len(t, fp.summaries, 1)
	assert.Contains(t, fp.summaries[0], "Two notes")
	assert.Contains(t, fp.summaries[0], "1 comment(s) were omitted")
	assert.Len(t, fp.comments, 2)
	assert.Len(t, progress.Keys(), 2)
}

func TestPublishPartialResumesWithoutSecondSummary(t *testing.T) {
	fp := &fakeProvider{commentErrs: map[string]error{"b.go:9": transient()}}
	pub := NewPublisher(providers.NewSet(fp), nil)
	progress := NewProgress()

	_, err := pub.Publish(context.Background(), request(), progress)
	require.Error(t, err)
	pe, ok := AsPartial(err)
	require.True(t, ok)
	assert.Equal(t, 1, pe.Posted)
	require.Len(t, pe.Failed, 1)
	assert.Equal(t, "b.go", pe.Failed[0].Comment.File)
	assert.True(t, reviewerr.IsRetryable(err), "transient comment failures are resumable")

	out, err := pub.Publish(context.Background(), request(), progress)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Posted)
	assert.Equal(t, 1, out.Resumed)
	assert.Len(t, fp.summaries, 1, "summary is never posted twice")
	assert.Len(t, fp.comments, 2)
}

func TestPublishPartialRejected(t *testing.T) {
	fp := &fakeProvider{commentErrs: map[string]error{"a.go:3": rejected()}}
	pub := NewPublisher(providers.NewSet(fp), nil)

	_, err := pub.Publish(context.Background(), request(), NewProgress())
	require.Error(t, err)
	assert.Equal(t, reviewerr.KindPartial, reviewerr.KindOf(err))
	assert.False(t, reviewerr.IsRetryable(err))
	pe, ok := AsPartial(err)
	require.True(t, ok)
	assert.Equal(t, 1, pe.Posted)
	assert.Equal(t, "summary-1", pe.SummaryID)
}

func TestPublishSummaryFailure(t *testing.T) {
	fp := &fakeProvider{summaryErr: transient()}
	pub := NewPublisher(providers.NewSet(fp), nil)
	progress := NewProgress()

	_, err := pub.Publish(context.Background(), request(), progress)
	require.Error(t, err)
	assert.Equal(t, reviewerr.KindTransient, reviewerr.KindOf(err))
	_, partial := AsPartial(err)
	assert.False(t, partial)
	assert.False(t, progress.Started())
	assert.Empty(t, fp.comments, "no line comment before the summary")
}

func TestPublishResumeFromRecord(t *testing.T) {
	req := request()
	rec := &models.PublishRecord{SummaryID: "summary-9", PostedComments: []string{req.Result.Comments[0].Key()}}
	fp := &fakeProvider{}
	pub := NewPublisher(providers.NewSet(fp), nil)

	out, err := pub.Publish(context.Background(), req, ResumeFrom(rec))
	require.NoError(t, err)
	assert.Equal(t, "summary-9", out.SummaryID)
	assert.Empty(t, fp.summaries)
	require.Len(t, fp.comments, 1)
	assert.Equal(t, "b.go", fp.comments[0].File)
}

func TestPublishUnknownPlatform(t *testing.T) {
	pub := NewPublisher(providers.NewSet(), nil)
	_, err := pub.Publish(context.Background(), request(), NewProgress())
	assert.True(t, errors.Is(err, reviewerr.ErrRejected))
}

func TestPublishSanitizesBodies(t *testing.T) {
	req := request()
	req.Result.Comments = []models.LineComment{{File: "a.go", Line: 3, Body: `use <script>alert(1)</script> carefully`}}
	fp := &fakeProvider{}
	_, err := NewPublisher(providers.NewSet(fp), nil).Publish(context.Background(), req, NewProgress())
	require.NoError(t, err)
	require.Len(t, fp.comments, 1)
	assert.False(t, strings.Contains(fp.comments[0].Body, "<script>"))
}
