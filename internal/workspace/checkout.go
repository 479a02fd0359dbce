// Package workspace prepares the local working copy an assistant session runs in.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// Checkout is a working copy of the reviewed revision
type Checkout struct {
	Path    string
	HeadSHA string
	owned   bool
}

// Release removes the working copy if it was cloned for this run
func (c *Checkout) Release() error {
	if c == nil || !c.owned || c.Path == "" {
		return nil
	}
	return os.RemoveAll(c.Path)
}

// Options configures how checkouts are made
type Options struct {
	Depth  int
	TempIn string // parent directory for clones, os.TempDir when empty
	// Tokens authenticate HTTPS clones per platform
	Tokens map[models.Platform]string
}

// Manager provides working copies for runs
type Manager struct {
	opts Options
}

// NewManager creates a checkout manager
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Open validates an existing project directory supplied by the operator.
// The directory must be a git repository; a HEAD that differs from the target is only logged.
func (m *Manager) Open(path string, target *models.ReviewTarget) (*Checkout, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, reviewerr.New(reviewerr.StageCheckout, reviewerr.KindRejected, fmt.Sprintf("%s is not a git repository", path), err)
	}
	co := &Checkout{Path: path}
	if head, err := repo.Head(); err == nil {
		co.HeadSHA = head.Hash().String()
		if target.DiffRefs.HeadSHA != "" && co.HeadSHA != target.DiffRefs.HeadSHA {
			log.Warn().
				Str("path", path).
				Str("local_head", co.HeadSHA).
				Str("pr_head", target.DiffRefs.HeadSHA).
				Msg("Project directory is not at the reviewed revision")
		}
	}
	return co, nil
}

// Clone makes a single-branch clone of the target's head branch into a temporary directory.
// The caller owns the result and must call Release.
func (m *Manager) Clone(ctx context.Context, target *models.ReviewTarget) (*Checkout, error) {
	if target.CloneURL == "" {
		return nil, reviewerr.New(reviewerr.StageCheckout, reviewerr.KindRejected, "target has no clone URL", nil)
	}

	dir, err := os.MkdirTemp(m.opts.TempIn, "quickreview-checkout-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:          target.CloneURL,
		SingleBranch: true,
		Depth:        m.opts.Depth,
		Tags:         git.NoTags,
	}
	if target.HeadBranch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(target.HeadBranch)
	}
	if token := m.opts.Tokens[target.Ref.Platform]; token != "" {
		cloneOpts.Auth = &githttp.BasicAuth{Username: authUser(target.Ref.Platform), Password: token}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, classify(err)
	}

	co := &Checkout{Path: dir, owned: true}
	if head, err := repo.Head(); err == nil {
		co.HeadSHA = head.Hash().String()
	}
	log.Debug().Str("dir", dir).Str("head", co.HeadSHA).Str("url", target.CloneURL).Msg("Cloned review target")
	return co, nil
}

func authUser(p models.Platform) string {
	if p == models.PlatformGitLab {
		return "oauth2"
	}
	return "x-access-token"
}

func classify(err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, git.NoMatchingRefSpecError{}):
		return reviewerr.New(reviewerr.StageCheckout, reviewerr.KindRejected, "clone rejected", err)
	case errors.Is(err, context.Canceled):
		return reviewerr.New(reviewerr.StageCheckout, reviewerr.KindRejected, "cancelled", err)
	default:
		return reviewerr.New(reviewerr.StageCheckout, reviewerr.KindTransient, "clone failed", err)
	}
}
