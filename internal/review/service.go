// Package review orchestrates one review run: fetch, optional checkout, analyze,
// extract and publish, in that order, with per-stage retry and idempotent publication.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/extract"
	"github.com/quickreview/internal/logging"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/publish"
	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/internal/retry"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/internal/workspace"
	"github.com/quickreview/pkg/models"
)

// Analyzer runs the assistant session; *assistant.Driver implements it
type Analyzer interface {
	Analyze(ctx context.Context, projectPath string, target *models.ReviewTarget) (*models.AssistantReply, error)
}

// Checkouts provides working copies; *workspace.Manager implements it
type Checkouts interface {
	Open(path string, target *models.ReviewTarget) (*workspace.Checkout, error)
	Clone(ctx context.Context, target *models.ReviewTarget) (*workspace.Checkout, error)
}

// Config holds the orchestrator settings
type Config struct {
	Hosts                 providers.Hosts
	FetchRetry            retry.RetryConfig
	PublishRetry          retry.RetryConfig
	AnalyzeRetry          retry.RetryConfig // MaxAttempts is capped at 2
	ProjectPath           string
	Checkout              bool
	DryRun                bool
	SkipReviewedRevisions bool
	LogDir                string
}

// DefaultConfig returns the stage policies used when nothing is configured
func DefaultConfig() Config {
	return Config{
		FetchRetry:   retry.DefaultRetryConfig(),
		PublishRetry: retry.DefaultRetryConfig(),
		AnalyzeRetry: retry.AnalyzeRetryConfig(),
	}
}

// Service represents the review orchestration service
type Service struct {
	providers providers.Set
	analyzer  Analyzer
	checkouts Checkouts
	store     publishlog.Store
	config    Config
}

// NewService creates a new review service. checkouts may be nil when runs never
// need a working copy.
func NewService(set providers.Set, analyzer Analyzer, checkouts Checkouts, store publishlog.Store, config Config) *Service {
	return &Service{
		providers: set,
		analyzer:  analyzer,
		checkouts: checkouts,
		store:     store,
		config:    config,
	}
}

// run carries the state of one invocation
type run struct {
	*Service
	logger *logging.RunLogger
	out    *RunOutcome
}

// Run reviews the PR/MR at url. It never panics on stage failures; every failure
// is reported as a Failed outcome naming the stage.
func (s *Service) Run(ctx context.Context, url string) *RunOutcome {
	start := time.Now()
	runID := uuid.NewString()

	logger, err := logging.StartRunLogging(s.config.LogDir, runID, url)
	if err != nil {
		log.Warn().Err(err).Msg("Run log file unavailable, logging to console only")
		logger = logging.NewRunLogger(runID, log.Logger.With().Str("run_id", runID).Str("url", url).Logger())
	}
	defer logger.Close()

	r := &run{
		Service: s,
		logger:  logger,
		out: &RunOutcome{
			RunID:    runID,
			URL:      url,
			Attempts: make(map[reviewerr.Stage]int),
		},
	}
	r.execute(ctx, url)

	r.out.Warnings = logger.Warnings()
	r.out.Duration = time.Since(start)
	logger.Log("Run finished: %s in %v", r.out, r.out.Duration.Round(time.Millisecond))
	return r.out
}

func (r *run) execute(ctx context.Context, url string) {
	r.logger.LogSection("INPUT")
	ref, err := providers.ParseURL(url, r.config.Hosts)
	if err != nil {
		r.fail(reviewerr.StageInput, err, retry.RetryResult{})
		return
	}
	r.out.Ref = ref
	provider, err := r.providers.For(ref.Platform)
	if err != nil {
		r.fail(reviewerr.StageInput, reviewerr.New(reviewerr.StageInput, reviewerr.KindRejected, "no credentials for platform", err), retry.RetryResult{})
		return
	}
	r.logger.Log("Target %s", ref)

	target, ok := r.fetch(ctx, provider, ref)
	if !ok {
		return
	}

	if r.config.SkipReviewedRevisions && !r.config.DryRun {
		rec, err := r.store.LatestComplete(ctx, publishlog.KeyOf(ref), target.DiffRefs.HeadSHA)
		if err != nil {
			r.logger.Warn("Could not check previously reviewed revisions: %v", err)
		} else if rec != nil {
			r.logger.Log("Revision %s already reviewed by run %s, skipping", target.DiffRefs.HeadSHA, rec.RunID)
			r.out.Kind = OutcomeSkipped
			r.out.SummaryID = rec.SummaryID
			return
		}
	}

	projectPath, release, ok := r.checkout(ctx, target)
	if !ok {
		return
	}
	defer release()

	reply, ok := r.analyze(ctx, projectPath, target)
	if !ok {
		return
	}

	result, ok := r.extract(reply, target)
	if !ok {
		return
	}

	if r.config.DryRun {
		r.logger.Log("Dry run: skipping publish of %d comments", len(result.Comments))
		r.out.Kind = OutcomeDryRun
		return
	}

	r.publish(ctx, target, result)
}

func (r *run) fetch(ctx context.Context, provider providers.Provider, ref models.TargetRef) (*models.ReviewTarget, bool) {
	r.logger.LogSection("FETCH")
	var target *models.ReviewTarget
	res := retry.Do(ctx, r.config.FetchRetry, func(ctx context.Context) error {
		t, err := provider.Fetch(ctx, ref)
		if err != nil {
			return err
		}
		target = t
		return nil
	}, r.logger)
	r.out.Attempts[reviewerr.StageFetch] = res.Attempts
	if !res.Success {
		r.fail(reviewerr.StageFetch, res.LastError, res)
		return nil, false
	}
	r.logger.Log("Fetched %q: %d files, head %s", target.Title, len(target.Files), target.DiffRefs.HeadSHA)
	return target, true
}

func (r *run) checkout(ctx context.Context, target *models.ReviewTarget) (string, func(), bool) {
	noop := func() {}
	if r.checkouts == nil || (r.config.ProjectPath == "" && !r.config.Checkout) {
		return r.config.ProjectPath, noop, true
	}
	r.logger.LogSection("CHECKOUT")
	r.out.Attempts[reviewerr.StageCheckout] = 1

	var (
		co  *workspace.Checkout
		err error
	)
	if r.config.ProjectPath != "" {
		co, err = r.checkouts.Open(r.config.ProjectPath, target)
	} else {
		co, err = r.checkouts.Clone(ctx, target)
	}
	if err != nil {
		r.fail(reviewerr.StageCheckout, err, retry.RetryResult{Attempts: 1})
		return "", noop, false
	}
	r.logger.Log("Working copy at %s", co.Path)
	return co.Path, func() {
		if err := co.Release(); err != nil {
			r.logger.Warn("Failed to remove working copy %s: %v", co.Path, err)
		}
	}, true
}

func (r *run) analyze(ctx context.Context, projectPath string, target *models.ReviewTarget) (*models.AssistantReply, bool) {
	r.logger.LogSection("ANALYZE")
	policy := r.config.AnalyzeRetry
	// sessions are costly: one retry at most
	if policy.MaxAttempts > 2 {
		policy.MaxAttempts = 2
	}

	var reply *models.AssistantReply
	res := retry.Do(ctx, policy, func(ctx context.Context) error {
		rep, err := r.analyzer.Analyze(ctx, projectPath, target)
		if err != nil {
			return err
		}
		reply = rep
		return nil
	}, r.logger)
	r.out.Attempts[reviewerr.StageAnalyze] = res.Attempts
	if !res.Success {
		r.fail(reviewerr.StageAnalyze, res.LastError, res)
		return nil, false
	}
	r.logger.Log("Assistant %s replied in %v with %d tool calls", reply.Driver, reply.Duration.Round(time.Millisecond), len(reply.ToolCalls))
	r.logger.LogBlock("ASSISTANT REPLY", reply.Text)
	for _, tc := range reply.ToolCalls {
		r.logger.LogBlock("TOOL CALL "+tc.Name, tc.Arguments)
	}
	return reply, true
}

func (r *run) extract(reply *models.AssistantReply, target *models.ReviewTarget) (*models.ReviewResult, bool) {
	r.logger.LogSection("EXTRACT")
	r.out.Attempts[reviewerr.StageExtract] = 1
	ex, err := extract.Extract(reply, target)
	if err != nil {
		r.fail(reviewerr.StageExtract, err, retry.RetryResult{Attempts: 1})
		return nil, false
	}
	for _, w := range ex.Warnings {
		r.logger.Warn("%s", w)
	}
	r.out.Result = ex.Result
	r.out.Dropped = ex.Dropped
	r.out.ContentHash = ex.Result.ContentHash()
	r.logger.Log("Extracted review from %s: verdict %s, %d comments, %d dropped, hash %s",
		ex.Source, ex.Result.Verdict, len(ex.Result.Comments), len(ex.Dropped), r.out.ContentHash)
	return ex.Result, true
}

func (r *run) publish(ctx context.Context, target *models.ReviewTarget, result *models.ReviewResult) {
	r.logger.LogSection("PUBLISH")
	key := publishlog.KeyOf(target.Ref)
	hash := r.out.ContentHash

	unlock, err := r.store.Lock(ctx, key)
	if err != nil {
		r.fail(reviewerr.StagePublish, reviewerr.New(reviewerr.StagePublish, reviewerr.KindUnavailable, "publish log lock", err), retry.RetryResult{})
		return
	}
	defer unlock()

	prev, err := r.store.Latest(ctx, key, hash)
	if err != nil {
		r.fail(reviewerr.StagePublish, reviewerr.New(reviewerr.StagePublish, reviewerr.KindUnavailable, "publish log lookup", err), retry.RetryResult{})
		return
	}
	if prev != nil && prev.Status == models.PublishComplete {
		r.logger.Log("Result %s already published by run %s at %s", hash, prev.RunID, prev.CreatedAt.Format(time.RFC3339))
		r.out.Kind = OutcomeAlreadyPublished
		r.out.SummaryID = prev.SummaryID
		return
	}

	progress := publish.ResumeFrom(prev)
	if prev != nil {
		r.logger.Log("Resuming partial publish: summary %s, %d comments already posted", prev.SummaryID, len(prev.PostedComments))
	}

	publisher := publish.NewPublisher(r.providers, r.logger)
	req := publish.Request{Target: target, Result: result, Dropped: r.out.Dropped}
	res := retry.Do(ctx, r.config.PublishRetry, func(ctx context.Context) error {
		_, err := publisher.Publish(ctx, req, progress)
		return err
	}, r.logger)
	r.out.Attempts[reviewerr.StagePublish] = res.Attempts

	record := &models.PublishRecord{
		Platform:       target.Ref.Platform,
		PRID:           target.Ref.PRID(),
		ContentHash:    hash,
		Revision:       result.Revision,
		SummaryID:      progress.SummaryID,
		PostedComments: progress.Keys(),
		RunID:          r.out.RunID,
	}

	if res.Success {
		record.Status = models.PublishComplete
		if err := r.store.Append(ctx, record); err != nil {
			r.logger.Warn("Review published but the publish log was not updated: %v", err)
		}
		r.out.Kind = OutcomePublished
		r.out.SummaryID = progress.SummaryID
		return
	}

	if progress.Started() {
		record.Status = models.PublishPartial
		if err := r.store.Append(ctx, record); err != nil {
			r.logger.Warn("Failed to record partial publish: %v", err)
		}
	}

	err = res.LastError
	if pe, ok := publish.AsPartial(err); ok {
		err = &reviewerr.Error{
			Stage:  reviewerr.StagePublish,
			Kind:   reviewerr.KindPartial,
			Reason: fmt.Sprintf("%d comments posted, %d failed", pe.Posted, len(pe.Failed)),
			Err:    pe,
		}
		for _, f := range pe.Failed {
			r.logger.Warn("Comment %s:%d not posted: %v", f.Comment.File, f.Comment.Line, f.Err)
		}
	}
	r.fail(reviewerr.StagePublish, err, res)
}

func (r *run) fail(stage reviewerr.Stage, err error, res retry.RetryResult) {
	r.out.Kind = OutcomeFailed
	r.out.Stage = stage
	r.out.Err = err
	r.out.Reason = failureReason(err, res)
	r.logger.LogError(fmt.Sprintf("%s stage failed", stage), err)
	if e, ok := reviewerr.As(err); ok && e.Detail != "" {
		r.logger.LogBlock("DIAGNOSTIC", e.Detail)
	}
}

func failureReason(err error, res retry.RetryResult) string {
	if err == nil {
		return "unknown error"
	}
	e, ok := reviewerr.As(err)
	if !ok {
		return err.Error()
	}
	reason := string(e.Kind)
	if res.Exhausted {
		reason = fmt.Sprintf("%s exhausted after %d attempts", e.Kind, res.Attempts)
	}
	if e.Reason != "" {
		reason += ": " + e.Reason
	}
	return reason
}
