// Package publish posts a ReviewResult to the hosting platform.
//
// The summary is posted first, then line comments. Progress is tracked per
// comment key so a retried or resumed publish posts only what is missing and
// never a second summary. The publisher does not consult the publish log.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/quickreview/internal/logging"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// Request is one result to publish
type Request struct {
	Target  *models.ReviewTarget
	Result  *models.ReviewResult
	Dropped []models.DroppedComment
}

// Progress is what has already been posted for a result
type Progress struct {
	SummaryID string
	Posted    map[string]string // comment key -> platform id
}

// NewProgress starts empty progress
func NewProgress() *Progress {
	return &Progress{Posted: make(map[string]string)}
}

// ResumeFrom seeds progress from a partial publish record
func ResumeFrom(rec *models.PublishRecord) *Progress {
	p := NewProgress()
	if rec == nil {
		return p
	}
	p.SummaryID = rec.SummaryID
	for _, key := range rec.PostedComments {
		p.Posted[key] = ""
	}
	return p
}

// Has reports whether the comment was already posted
func (p *Progress) Has(c models.LineComment) bool {
	_, ok := p.Posted[c.Key()]
	return ok
}

// Keys returns the posted comment keys in sorted order
func (p *Progress) Keys() []string {
	keys := make([]string, 0, len(p.Posted))
	for k := range p.Posted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Started reports whether anything visible was posted
func (p *Progress) Started() bool {
	return p.SummaryID != "" || len(p.Posted) > 0
}

// Outcome describes a complete publish
type Outcome struct {
	SummaryID string
	Posted    int // comments posted by this call
	Resumed   int // comments skipped because progress already covered them
}

// FailedComment is a line comment the platform did not accept
type FailedComment struct {
	Comment models.LineComment
	Err     error
}

// PartialError reports that the summary is up but some line comments are not
type PartialError struct {
	SummaryID string
	Posted    int
	Failed    []FailedComment
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("posted %d line comments, %d failed", e.Posted, len(e.Failed))
}

// Retryable reports whether every failure was transient
func (e *PartialError) Retryable() bool {
	for _, f := range e.Failed {
		if !reviewerr.IsRetryable(f.Err) {
			return false
		}
	}
	return len(e.Failed) > 0
}

// AsPartial extracts the partial failure from err's chain
func AsPartial(err error) (*PartialError, bool) {
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Publisher posts results through the platform's provider
type Publisher struct {
	providers providers.Set
	logger    *logging.RunLogger
}

// NewPublisher creates a publisher over the configured providers
func NewPublisher(set providers.Set, logger *logging.RunLogger) *Publisher {
	return &Publisher{providers: set, logger: logger}
}

// Publish posts req.Result, updating progress as it goes. progress must not be nil.
//
// When line comments fail after the summary succeeded the error wraps a
// *PartialError. Its kind is transient when every failure was transient, so a
// retry loop can resume, and partial otherwise.
func (p *Publisher) Publish(ctx context.Context, req Request, progress *Progress) (*Outcome, error) {
	provider, err := p.providers.For(req.Target.Ref.Platform)
	if err != nil {
		return nil, reviewerr.New(reviewerr.StagePublish, reviewerr.KindRejected, "no provider", err)
	}
	if progress.Posted == nil {
		progress.Posted = make(map[string]string)
	}

	if progress.SummaryID == "" {
		body := RenderSummary(req.Result, len(req.Dropped))
		id, err := provider.PostSummary(ctx, req.Target, body)
		if err != nil {
			return nil, classify(err)
		}
		progress.SummaryID = id
		p.logger.Log("Posted summary %s", id)
	} else {
		p.logger.Log("Summary %s already posted, resuming line comments", progress.SummaryID)
	}

	out := &Outcome{SummaryID: progress.SummaryID}
	var failed []FailedComment
	for _, c := range req.Result.Comments {
		if progress.Has(c) {
			out.Resumed++
			continue
		}
		if err := ctx.Err(); err != nil {
			failed = append(failed, FailedComment{Comment: c, Err: reviewerr.FromTransport(reviewerr.StagePublish, err)})
			continue
		}
		posted := c
		posted.Body = RenderComment(c)
		id, err := provider.PostLineComment(ctx, req.Target, posted)
		if err != nil {
			p.logger.Warn("Failed to post comment on %s:%d: %v", c.File, c.Line, err)
			failed = append(failed, FailedComment{Comment: c, Err: classify(err)})
			continue
		}
		progress.Posted[c.Key()] = id
		out.Posted++
	}

	if len(failed) == 0 {
		return out, nil
	}

	pe := &PartialError{SummaryID: progress.SummaryID, Posted: len(progress.Posted), Failed: failed}
	kind := reviewerr.KindPartial
	if pe.Retryable() {
		kind = reviewerr.KindTransient
	}
	return out, &reviewerr.Error{
		Stage:  reviewerr.StagePublish,
		Kind:   kind,
		Reason: fmt.Sprintf("%d of %d line comments failed", len(failed), len(req.Result.Comments)),
		Err:    pe,
	}
}

// classify keeps provider classifications and treats anything else as transient
func classify(err error) error {
	if e, ok := reviewerr.As(err); ok {
		if e.Stage == reviewerr.StagePublish {
			return e
		}
		c := *e
		c.Stage = reviewerr.StagePublish
		return &c
	}
	return reviewerr.FromTransport(reviewerr.StagePublish, err)
}
