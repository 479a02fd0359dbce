package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/internal/review"
	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

func dryRunOutcome() *review.RunOutcome {
	return &review.RunOutcome{
		Kind: review.OutcomeDryRun,
		URL:  "https://github.com/acme/api/pull/42",
		Result: &models.ReviewResult{
			Summary:  "Rename is incomplete",
			Verdict:  models.VerdictRequestChanges,
			Revision: "abc1234def",
			Comments: []models.LineComment{{File: "file.rs", Line: 42, Body: "x is still referenced"}},
		},
		Dropped: []models.DroppedComment{{Comment: models.LineComment{File: "file.rs", Line: 999, Body: "far away"}, Reason: "line 999 is not part of the diff"}},
	}
}

func TestPreviewMarkdown(t *testing.T) {
	md := previewMarkdown(dryRunOutcome())
	assert.Contains(t, md, "## AI Code Review")
	assert.Contains(t, md, "Rename is incomplete")
	assert.Contains(t, md, "**`file.rs:42`**")
	assert.Contains(t, md, "x is still referenced")
	assert.Contains(t, md, "1 comment(s) were omitted")
}

func TestRenderPreviewNeverEmpty(t *testing.T) {
	assert.Contains(t, renderPreview(dryRunOutcome()), "Rename is incomplete")
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	out := &review.RunOutcome{
		Kind:     review.OutcomeFailed,
		URL:      "https://gitlab.com/g/p/-/merge_requests/7",
		Stage:    reviewerr.StageFetch,
		Reason:   "rejected: request rejected with Not Found",
		Warnings: []string{"something odd"},
	}
	printOutcome(&buf, out)
	assert.Contains(t, buf.String(), "Failed(fetch, rejected: request rejected with Not Found)")
	assert.Contains(t, buf.String(), "merge_requests/7")
	assert.Contains(t, buf.String(), "something odd")

	buf.Reset()
	printOutcome(&buf, dryRunOutcome())
	assert.Contains(t, buf.String(), "DryRun")
	assert.Contains(t, buf.String(), "file.rs:999")
}

func TestWriteTables(t *testing.T) {
	var buf bytes.Buffer
	writeOutcomeTable(&buf, []*review.RunOutcome{
		{Kind: review.OutcomePublished, URL: "https://github.com/acme/api/pull/1", SummaryID: "9", Duration: 1500 * time.Millisecond},
		dryRunOutcome(),
	})
	assert.Contains(t, buf.String(), "https://github.com/acme/api/pull/1")
	assert.Contains(t, buf.String(), "Published(9)")

	buf.Reset()
	writeRecordTable(&buf, []models.PublishRecord{{
		ID: 3, Platform: models.PlatformGitHub, PRID: "acme/api#42", Status: models.PublishPartial,
		Revision: "abc1234def5678", SummaryID: "note-1", PostedComments: []string{"k"},
		ContentHash: "0123456789abcdef", CreatedAt: time.Now(),
	}})
	assert.Contains(t, buf.String(), "acme/api#42")
	assert.Contains(t, buf.String(), "abc1234def")
	assert.Contains(t, buf.String(), "0123456789ab")
	assert.NotContains(t, buf.String(), "0123456789abcdef")
}

func TestQueueSettings(t *testing.T) {
	cfg := &config.Config{}
	_, err := queueDatabaseURL(cfg)
	assert.Error(t, err)

	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = "postgres://localhost/reviews"
	url, err := queueDatabaseURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/reviews", url)

	cfg.Queue.DatabaseURL = "postgres://localhost/queue"
	url, err = queueDatabaseURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/queue", url)

	cfg.Queue.Workers = 3
	cfg.Assistant.Timeout = 30 * time.Minute
	qc := queueConfig(cfg, 0)
	assert.Equal(t, 3, qc.MaxWorkers)
	assert.Equal(t, 35*time.Minute, qc.JobTimeout)
	assert.Equal(t, 7, queueConfig(cfg, 7).MaxWorkers)
}

func TestSharedPool(t *testing.T) {
	const dsn = "postgres://quickreview@127.0.0.1:1/quickreview"
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()
	store := publishlog.NewPostgresStore(pool)

	assert.Same(t, pool, sharedPool(store, dsn, dsn))
	assert.Nil(t, sharedPool(store, dsn, "postgres://quickreview@127.0.0.1:1/jobs"))
	assert.Nil(t, sharedPool(publishlog.NewMemoryStore(), "", dsn))
}
