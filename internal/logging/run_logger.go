package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogger manages logging for a single review run.
// Every message goes to the process logger tagged with the run id and, when a
// log directory is configured, to a per-run file. All methods accept a nil receiver.
type RunLogger struct {
	runID     string
	logger    zerolog.Logger
	file      *os.File
	fileLog   zerolog.Logger
	mutex     sync.Mutex
	startTime time.Time
	warnings  []string
}

// StartRunLogging initializes logging for a new run.
// An empty dir disables the per-run file.
func StartRunLogging(dir, runID, url string) (*RunLogger, error) {
	r := NewRunLogger(runID, log.Logger.With().Str("run_id", runID).Str("url", url).Logger())
	if dir == "" {
		return r, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	timestamp := time.Now().Format("20060102_150405")
	logPath := filepath.Join(dir, fmt.Sprintf("run_%s_%s.log", runID, timestamp))
	f, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	r.file = f
	r.fileLog = zerolog.New(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	r.writeHeader(url)
	return r, nil
}

// NewRunLogger wraps an existing zerolog logger without a log file
func NewRunLogger(runID string, logger zerolog.Logger) *RunLogger {
	return &RunLogger{
		runID:     runID,
		logger:    logger,
		fileLog:   zerolog.Nop(),
		startTime: time.Now(),
	}
}

// RunID returns the run identifier
func (r *RunLogger) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Zerolog exposes the tagged logger for structured fields
func (r *RunLogger) Zerolog() *zerolog.Logger {
	if r == nil {
		l := zerolog.Nop()
		return &l
	}
	return &r.logger
}

// Log writes an informational message
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Info().Msg(msg)
	r.fileLog.Info().Dur("elapsed", time.Since(r.startTime).Round(time.Millisecond)).Msg(msg)
}

// Warn writes a warning and keeps it for the run outcome
func (r *RunLogger) Warn(format string, args ...interface{}) {
	if r == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.warnings = append(r.warnings, msg)
	r.logger.Warn().Msg(msg)
	r.fileLog.Warn().Dur("elapsed", time.Since(r.startTime).Round(time.Millisecond)).Msg(msg)
}

// LogError logs an error with context
func (r *RunLogger) LogError(context string, err error) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Error().Err(err).Msg(context)
	r.fileLog.Error().Err(err).Msg(context)
}

// LogSection writes a section header to the log
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Debug().Str("section", title).Msg("stage")
	if r.file != nil {
		separator := strings.Repeat("=", 80)
		fmt.Fprintf(r.file, "%s\n= %s\n%s\n", separator, title, separator)
	}
}

// LogBlock writes a large payload (prompt, reply, diff) verbatim to the run file only
func (r *RunLogger) LogBlock(label, content string) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Debug().Int("length", len(content)).Msg(label)
	if r.file != nil {
		fmt.Fprintf(r.file, "--- %s START (%d characters) ---\n%s\n--- %s END ---\n", label, len(content), content, label)
	}
}

// Warnings returns the warnings recorded so far
func (r *RunLogger) Warnings() []string {
	if r == nil {
		return nil
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Close finalizes the run log
func (r *RunLogger) Close() {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.file == nil {
		return
	}
	duration := time.Since(r.startTime)
	separator := strings.Repeat("=", 80)
	fmt.Fprintf(r.file, "%s\nRun %s finished after %v\n%s\n", separator, r.runID, duration.Round(time.Millisecond), separator)
	r.file.Close()
	r.file = nil
	r.fileLog = zerolog.Nop()
}

func (r *RunLogger) writeHeader(url string) {
	separator := strings.Repeat("=", 80)
	fmt.Fprintf(r.file, "%s\nQUICKREVIEW RUN LOG\nRun ID: %s\nTarget: %s\nStarted: %s\n%s\n\n",
		separator, r.runID, url, r.startTime.Format(time.RFC3339), separator)
}
