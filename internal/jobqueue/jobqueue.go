/*
Package jobqueue runs reviews as River jobs on Postgres.

A job carries one PR/MR URL. Runs that fail with a retryable error, or that
stopped after publishing only part of a review, return an error so River
reschedules them; the next attempt resumes from the publish log. Every other
failure cancels the job. Tunables live in queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/review"
	"github.com/quickreview/internal/reviewerr"
)

// Reviewer runs one review; *review.Service implements it
type Reviewer interface {
	Run(ctx context.Context, url string) *review.RunOutcome
}

// ReviewJobArgs represents the arguments for a review job
type ReviewJobArgs struct {
	URL string `json:"url"`
}

// Kind returns the job kind for River
func (ReviewJobArgs) Kind() string {
	return "quickreview_run"
}

// InsertOpts collapses duplicate pending jobs for the same URL
func (ReviewJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// ReviewWorker handles review jobs
type ReviewWorker struct {
	river.WorkerDefaults[ReviewJobArgs]
	reviewer Reviewer
	config   *QueueConfig
}

// Work runs the review and maps its outcome onto River's retry semantics
func (w *ReviewWorker) Work(ctx context.Context, job *river.Job[ReviewJobArgs]) error {
	logger := log.With().Int64("job_id", job.ID).Int("attempt", job.Attempt).Str("url", job.Args.URL).Logger()
	logger.Info().Msg("Processing review job")

	out := w.reviewer.Run(ctx, job.Args.URL)
	retry, err := outcomeError(out)
	if err == nil {
		logger.Info().Str("outcome", out.String()).Msg("Review job completed")
		return nil
	}
	if retry {
		logger.Warn().Err(err).Msg("Review job failed, River will retry")
		return err
	}
	logger.Error().Err(err).Msg("Review job failed permanently, cancelling")
	return river.JobCancel(err)
}

// Timeout bounds one run
func (w *ReviewWorker) Timeout(*river.Job[ReviewJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// NextRetry applies the configured backoff
func (w *ReviewWorker) NextRetry(job *river.Job[ReviewJobArgs]) time.Time {
	return time.Now().Add(w.config.RetryPolicy.NextRetryDelay(job.Attempt))
}

// outcomeError returns nil for successful outcomes. Otherwise it reports whether
// another attempt could succeed: retryable failures and partial publishes can.
func outcomeError(out *review.RunOutcome) (bool, error) {
	if out == nil {
		return false, fmt.Errorf("review returned no outcome")
	}
	if out.Succeeded() {
		return false, nil
	}
	err := fmt.Errorf("%s", out)
	if out.Err != nil {
		err = fmt.Errorf("%s: %w", out, out.Err)
	}
	retry := reviewerr.IsRetryable(out.Err) || reviewerr.KindOf(out.Err) == reviewerr.KindPartial
	return retry, err
}

// JobQueue manages the River job queue
type JobQueue struct {
	client  *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	ownPool bool
	config  *QueueConfig
}

// NewJobQueue creates a new job queue instance. A nil reviewer creates an
// insert-only client that can enqueue but not work jobs.
func NewJobQueue(ctx context.Context, databaseURL string, config *QueueConfig, reviewer Reviewer) (*JobQueue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	jq, err := NewJobQueueFromPool(pool, config, reviewer)
	if err != nil {
		pool.Close()
		return nil, err
	}
	jq.ownPool = true
	return jq, nil
}

// NewJobQueueFromPool builds the queue on a pool owned by the caller, such as
// the publish log's. Close leaves that pool open.
func NewJobQueueFromPool(pool *pgxpool.Pool, config *QueueConfig, reviewer Reviewer) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	riverConfig := &river.Config{MaxAttempts: config.MaxAttempts}
	if reviewer != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, &ReviewWorker{reviewer: reviewer, config: config})
		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Migrate applies River's schema migrations
func (jq *JobQueue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(jq.pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers, letting running reviews finish
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Close releases the connection pool if the queue created it
func (jq *JobQueue) Close() {
	if jq.ownPool {
		jq.pool.Close()
	}
}

// EnqueueReview queues a review job and returns its id. duplicate is true when an
// unfinished job for the same URL already existed.
func (jq *JobQueue) EnqueueReview(ctx context.Context, url string) (id int64, duplicate bool, err error) {
	res, err := jq.client.Insert(ctx, ReviewJobArgs{URL: url}, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to queue review job: %w", err)
	}
	return res.Job.ID, res.UniqueSkippedAsDuplicate, nil
}
