// Package batch reviews many PR/MR URLs in parallel on a bounded worker pool.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/review"
)

// Reviewer runs one review; *review.Service implements it
type Reviewer interface {
	Run(ctx context.Context, url string) *review.RunOutcome
}

// Summary aggregates the outcomes of a batch in input order
type Summary struct {
	Outcomes []*review.RunOutcome
	Counts   map[review.OutcomeKind]int
	Duration time.Duration
}

// Failed returns the number of failed runs
func (s *Summary) Failed() int {
	return s.Counts[review.OutcomeFailed]
}

// reviewTask adapts one URL to the task queue
type reviewTask struct {
	url      string
	reviewer Reviewer
}

func (t *reviewTask) ID() string { return t.url }

func (t *reviewTask) Execute(ctx context.Context) (interface{}, error) {
	out := t.reviewer.Run(ctx, t.url)
	log.Info().Str("url", t.url).Str("outcome", out.String()).Msg("Batch item finished")
	return out, nil
}

// Runner fans URLs out to a Reviewer
type Runner struct {
	reviewer Reviewer
	config   Config
}

// NewRunner creates a batch runner
func NewRunner(reviewer Reviewer, config Config) *Runner {
	return &Runner{reviewer: reviewer, config: config}
}

// Run reviews every URL. Duplicate URLs are reviewed once; the publish log
// serializes runs that resolve to the same PR/MR anyway.
func (r *Runner) Run(ctx context.Context, urls []string) *Summary {
	start := time.Now()
	queue := ConfigureTaskQueue(r.config)
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			log.Warn().Str("url", u).Msg("Duplicate URL in batch, reviewing once")
			continue
		}
		seen[u] = true
		queue.AddTask(&reviewTask{url: u, reviewer: r.reviewer})
	}

	log.Info().Int("urls", len(seen)).Int("workers", r.config.MaxWorkers).Msg("Starting batch review")
	results := queue.ProcessAll(ctx)

	summary := &Summary{Counts: make(map[review.OutcomeKind]int)}
	for _, res := range results {
		out, _ := res.Result.(*review.RunOutcome)
		if out == nil {
			out = &review.RunOutcome{
				Kind:   review.OutcomeFailed,
				URL:    res.TaskID,
				Reason: fmt.Sprintf("not started: %v", res.Error),
				Err:    res.Error,
			}
		}
		summary.Outcomes = append(summary.Outcomes, out)
		summary.Counts[out.Kind]++
	}
	summary.Duration = time.Since(start)
	return summary
}

// ReadURLs reads one URL per line; blank lines and lines starting with # are ignored
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}
