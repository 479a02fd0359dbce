// Package assistant drives one AI review session per run.
//
// A Driver opens a Session (scoped working directory plus prompt), hands it to a
// Backend under a wall-clock budget and returns the reply verbatim. The session is
// released on every exit path, including timeout and cancellation.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/reviewerr"
	"github.com/quickreview/pkg/models"
)

// Backend runs a prepared session against an assistant runtime
type Backend interface {
	Name() string
	Run(ctx context.Context, session *Session) (*models.AssistantReply, error)
}

// Session is the per-run handle given to a backend
type Session struct {
	ID          string
	WorkDir     string // scratch directory owned by the session
	ProjectPath string // working copy the assistant may read, may be empty
	System      string
	Prompt      string
	Target      *models.ReviewTarget
	Context     func(part string) (string, error)
}

// Close removes the session's scratch directory
func (s *Session) Close() error {
	if s == nil || s.WorkDir == "" {
		return nil
	}
	err := os.RemoveAll(s.WorkDir)
	s.WorkDir = ""
	return err
}

// Driver implements the analyze stage
type Driver struct {
	backend Backend
	prompts *PromptBuilder
	timeout time.Duration
	tempDir string
}

// NewDriver creates a driver with the given wall-clock budget per session
func NewDriver(backend Backend, prompts *PromptBuilder, timeout time.Duration) *Driver {
	return &Driver{backend: backend, prompts: prompts, timeout: timeout}
}

// WithTempDir sets the parent directory of session scratch directories
func (d *Driver) WithTempDir(dir string) *Driver {
	d.tempDir = dir
	return d
}

// Analyze opens a session for target, runs it and captures the reply.
// Exceeding the budget yields a timeout error; backend failures yield unavailable.
func (d *Driver) Analyze(ctx context.Context, projectPath string, target *models.ReviewTarget) (*models.AssistantReply, error) {
	session, err := d.open(projectPath, target)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("session", session.ID).Msg("Failed to remove session directory")
		}
	}()

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := d.backend.Run(runCtx, session)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &reviewerr.Error{
				Stage:  reviewerr.StageAnalyze,
				Kind:   reviewerr.KindTimeout,
				Reason: fmt.Sprintf("session exceeded %v budget", d.timeout),
				Err:    err,
			}
		}
		if ctx.Err() != nil {
			return nil, reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindRejected, "cancelled", ctx.Err())
		}
		if e, ok := reviewerr.As(err); ok {
			return nil, e
		}
		return nil, reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindUnavailable, d.backend.Name()+" failed", err)
	}

	reply.Driver = d.backend.Name()
	reply.SessionID = session.ID
	reply.Duration = elapsed
	return reply, nil
}

func (d *Driver) open(projectPath string, target *models.ReviewTarget) (*Session, error) {
	prompt, err := d.prompts.Build(target)
	if err != nil {
		return nil, reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindRejected, "prompt rendering failed", err)
	}

	id := uuid.NewString()
	dir, err := os.MkdirTemp(d.tempDir, "quickreview-session-*")
	if err != nil {
		return nil, reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindUnavailable, "cannot create session directory", err)
	}
	session := &Session{
		ID:          id,
		WorkDir:     dir,
		ProjectPath: projectPath,
		System:      SystemPrompt,
		Prompt:      prompt,
		Target:      target,
		Context: func(part string) (string, error) {
			return d.prompts.ContextPart(target, part)
		},
	}

	// The scratch directory gives file-based agents the same material as the prompt.
	files := map[string]string{
		"prompt.md":    prompt,
		"system.md":    SystemPrompt,
		"changes.diff": target.UnifiedDiff(),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			session.Close()
			return nil, reviewerr.New(reviewerr.StageAnalyze, reviewerr.KindUnavailable, "cannot write session files", err)
		}
	}
	return session, nil
}
