package batch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickreview/internal/review"
	"github.com/quickreview/internal/reviewerr"
)

type fakeReviewer struct {
	mu      sync.Mutex
	seen    []string
	active  int32
	maxSeen int32
	delay   time.Duration
}

func (f *fakeReviewer) Run(ctx context.Context, url string) *review.RunOutcome {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.seen = append(f.seen, url)
	f.mu.Unlock()

	if strings.Contains(url, "broken") {
		return &review.RunOutcome{Kind: review.OutcomeFailed, URL: url, Stage: reviewerr.StageFetch, Reason: "rejected"}
	}
	return &review.RunOutcome{Kind: review.OutcomePublished, URL: url, SummaryID: "n-" + url}
}

func TestRunnerKeepsInputOrderAndCounts(t *testing.T) {
	reviewer := &fakeReviewer{delay: 5 * time.Millisecond}
	urls := []string{
		"https://github.com/acme/api/pull/1",
		"https://github.com/acme/api/pull/broken",
		"https://github.com/acme/api/pull/3",
		"https://github.com/acme/api/pull/1",
	}

	summary := NewRunner(reviewer, Config{MaxWorkers: 2}).Run(context.Background(), urls)
	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, urls[0], summary.Outcomes[0].URL)
	assert.Equal(t, urls[1], summary.Outcomes[1].URL)
	assert.Equal(t, urls[2], summary.Outcomes[2].URL)
	assert.Equal(t, 2, summary.Counts[review.OutcomePublished])
	assert.Equal(t, 1, summary.Failed())
	assert.Len(t, reviewer.seen, 3, "duplicates are reviewed once")
	assert.LessOrEqual(t, atomic.LoadInt32(&reviewer.maxSeen), int32(2))
}

func TestRunnerCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := NewRunner(&fakeReviewer{}, Config{MaxWorkers: 1}).Run(ctx, []string{"a", "b", "c"})
	require.Len(t, summary.Outcomes, 3)
	for _, out := range summary.Outcomes {
		assert.Contains(t, []review.OutcomeKind{review.OutcomeFailed, review.OutcomePublished}, out.Kind)
	}
}

type fnTask struct {
	id string
	fn func() (interface{}, error)
}

func (t fnTask) ID() string { return t.id }
func (t fnTask) Execute(ctx context.Context) (interface{}, error) { return t.fn() }

func TestTaskQueueProcessAll(t *testing.T) {
	q := NewTaskQueue(3)
	for i := 0; i < 10; i++ {
		i := i
		q.AddTask(fnTask{id: string(rune('a' + i)), fn: func() (interface{}, error) { return i * i, nil }})
	}
	results := q.ProcessAll(context.Background())
	require.Len(t, results, 10)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, i*i, res.Result)
		assert.NoError(t, res.Error)
	}
	assert.Len(t, q.GetResults(), 10)
}

func TestTaskQueueEmpty(t *testing.T) {
	assert.Empty(t, NewTaskQueue(0).ProcessAll(context.Background()))
}

func TestReadURLs(t *testing.T) {
	input := "# nightly\nhttps://github.com/acme/api/pull/1\n\n  https://gitlab.com/g/p/-/merge_requests/2  \n"
	urls, err := ReadURLs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/acme/api/pull/1", "https://gitlab.com/g/p/-/merge_requests/2"}, urls)
}
