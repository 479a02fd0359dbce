// Package command runs a local agent CLI (claude, codex, aider ...) as the assistant backend.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/assistant"
	"github.com/quickreview/pkg/models"
)

// SessionDirEnv is exported to the child process
const SessionDirEnv = "QUICKREVIEW_SESSION_DIR"

// Backend executes argv with the prompt on stdin and treats stdout as the reply
type Backend struct {
	argv []string
}

// New creates a command backend. argv[0] is resolved through PATH.
func New(argv []string) (*Backend, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("assistant.command must name an executable")
	}
	return &Backend{argv: argv}, nil
}

// Name implements assistant.Backend
func (b *Backend) Name() string {
	return "command/" + b.argv[0]
}

// Run implements assistant.Backend
func (b *Backend) Run(ctx context.Context, session *assistant.Session) (*models.AssistantReply, error) {
	cmd := exec.CommandContext(ctx, b.argv[0], b.argv[1:]...)
	cmd.Dir = session.ProjectPath
	if cmd.Dir == "" {
		cmd.Dir = session.WorkDir
	}
	cmd.Env = append(os.Environ(), SessionDirEnv+"="+session.WorkDir)
	cmd.Stdin = strings.NewReader(session.System + "\n\n" + session.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Strs("argv", b.argv).Str("dir", cmd.Dir).Msg("Starting assistant command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", b.argv[0], err, tail(stderr.String(), 512))
	}

	return &models.AssistantReply{Text: stdout.String()}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
