package review

import (
	"fmt"
	"time"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// OutcomeKind is the terminal state of a run
type OutcomeKind string

const (
	OutcomePublished        OutcomeKind = "published"
	OutcomeAlreadyPublished OutcomeKind = "already-published"
	OutcomeFailed           OutcomeKind = "failed"
	OutcomeDryRun           OutcomeKind = "dry-run"
	OutcomeSkipped          OutcomeKind = "skipped" // revision already reviewed
)

// RunOutcome reports what one run did
type RunOutcome struct {
	Kind      OutcomeKind
	RunID     string
	URL       string
	Ref       models.TargetRef
	SummaryID string

	// Failed outcomes only
	Stage  reviewerr.Stage
	Reason string
	Err    error

	Result      *models.ReviewResult
	ContentHash string
	Dropped     []models.DroppedComment
	Warnings    []string
	Attempts    map[reviewerr.Stage]int
	Duration    time.Duration
}

// Succeeded reports whether the run ended without failure
func (o *RunOutcome) Succeeded() bool {
	return o.Kind != OutcomeFailed
}

func (o *RunOutcome) String() string {
	switch o.Kind {
	case OutcomePublished:
		return fmt.Sprintf("Published(%s)", o.SummaryID)
	case OutcomeAlreadyPublished:
		return "AlreadyPublished"
	case OutcomeFailed:
		return fmt.Sprintf("Failed(%s, %s)", o.Stage, o.Reason)
	case OutcomeDryRun:
		return "DryRun"
	case OutcomeSkipped:
		return "Skipped(revision already reviewed)"
	default:
		return string(o.Kind)
	}
}
