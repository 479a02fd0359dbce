package providers

import (
	"context"
	"fmt"

	"github.com/quickreview/pkg/models"
)

// Provider represents a code hosting provider (GitHub, GitLab).
// Implementations return *reviewerr.Error values classified for the calling stage.
type Provider interface {
	// Fetch loads the complete PR/MR. Truncated listings fail with an incomplete error.
	Fetch(ctx context.Context, ref models.TargetRef) (*models.ReviewTarget, error)
	// PostSummary posts the top-level review comment and returns its platform id.
	PostSummary(ctx context.Context, target *models.ReviewTarget, body string) (string, error)
	// PostLineComment posts a comment anchored to comment.File:comment.Line on the head revision.
	PostLineComment(ctx context.Context, target *models.ReviewTarget, comment models.LineComment) (string, error)
	Platform() models.Platform
}

// Set selects the provider for a target's platform
type Set map[models.Platform]Provider

// NewSet indexes providers by platform
func NewSet(ps ...Provider) Set {
	s := make(Set, len(ps))
	for _, p := range ps {
		if p != nil {
			s[p.Platform()] = p
		}
	}
	return s
}

// For returns the provider registered for platform
func (s Set) For(platform models.Platform) (Provider, error) {
	p, ok := s[platform]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %s", platform)
	}
	return p, nil
}
