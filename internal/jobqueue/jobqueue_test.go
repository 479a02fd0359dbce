package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/review"
	"github.com/quickreview/internal/reviewerr"
)

func TestOutcomeError(t *testing.T) {
	failed := func(stage reviewerr.Stage, kind reviewerr.Kind) *review.RunOutcome {
		return &review.RunOutcome{Kind: review.OutcomeFailed, Stage: stage, Reason: string(kind), Err: reviewerr.New(stage, kind, "boom", nil)}
	}

	tests := []struct {
		name    string
		out     *review.RunOutcome
		wantErr bool
		retry   bool
	}{
		{name: "published", out: &review.RunOutcome{Kind: review.OutcomePublished, SummaryID: "1"}},
		{name: "already published", out: &review.RunOutcome{Kind: review.OutcomeAlreadyPublished}},
		{name: "skipped", out: &review.RunOutcome{Kind: review.OutcomeSkipped}},
		{name: "transient fetch", out: failed(reviewerr.StageFetch, reviewerr.KindTransient), wantErr: true, retry: true},
		{name: "analyze timeout", out: failed(reviewerr.StageAnalyze, reviewerr.KindTimeout), wantErr: true, retry: true},
		{name: "partial publish", out: failed(reviewerr.StagePublish, reviewerr.KindPartial), wantErr: true, retry: true},
		{name: "unparseable reply", out: failed(reviewerr.StageExtract, reviewerr.KindUnparseable), wantErr: true},
		{name: "rejected fetch", out: failed(reviewerr.StageFetch, reviewerr.KindRejected), wantErr: true},
		{name: "invalid target", out: &review.RunOutcome{Kind: review.OutcomeFailed, Stage: reviewerr.StageInput, Err: reviewerr.InvalidTarget("unsupported host")}, wantErr: true},
		{name: "no outcome", out: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, err := outcomeError(tt.out)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.retry, retry)
		})
	}
}

func TestOutcomeErrorWrapsCause(t *testing.T) {
	out := &review.RunOutcome{Kind: review.OutcomeFailed, Stage: reviewerr.StageAnalyze, Reason: "timeout",
		Err: reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindTimeout, "session timed out", nil)}
	_, err := outcomeError(out)
	assert.True(t, errors.Is(err, reviewerr.ErrTimeout))
	assert.Contains(t, err.Error(), "Failed(analyze, timeout)")
}

func TestNextRetryDelay(t *testing.T) {
	p := DefaultQueueConfig().RetryPolicy
	assert.Equal(t, time.Minute, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Minute, p.NextRetryDelay(2))
	assert.Equal(t, 8*time.Minute, p.NextRetryDelay(4))
	assert.Equal(t, time.Hour, p.NextRetryDelay(20))
	assert.Equal(t, time.Minute, p.NextRetryDelay(0))
}

func TestRiverQueueConfig(t *testing.T) {
	c := &QueueConfig{MaxWorkers: 0}
	q := c.RiverQueueConfig()
	require.Len(t, q, 1)
	for _, qc := range q {
		assert.Equal(t, 1, qc.MaxWorkers)
	}
	assert.Equal(t, "quickreview_run", ReviewJobArgs{}.Kind())
}

func TestNewJobQueueFromPoolBorrowsPool(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://quickreview@127.0.0.1:1/quickreview")
	require.NoError(t, err)
	defer pool.Close()

	jq, err := NewJobQueueFromPool(pool, nil, nil)
	require.NoError(t, err)
	assert.Same(t, pool, jq.pool)
	assert.False(t, jq.ownPool, "a borrowed pool stays open after Close")
	assert.Equal(t, DefaultQueueConfig().MaxAttempts, jq.config.MaxAttempts)
	jq.Close()
}
