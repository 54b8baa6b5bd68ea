// Package trace provides run logging: a file-backed debug logger for
// component internals and a colorized run trace that shows each agent loop
// iteration, its reasoning-step summaries and its action calls.
package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
)

// DebugLogger provides debug logging for orchestration internals.
// It wraps file-based logging with thread-safe access.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{file: f}
	logger.Log("=== Hive debug log started at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// NopLogger returns a no-op logger for testing or when logging is disabled.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes a timestamped message to the debug log.
// If the logger is nil or has no file, this is a no-op.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// Close closes the log file. Safe to call on nil logger or logger without file.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// RunTrace writes a human-readable trace of agent loop activity. Quiet runs
// use a nil or non-verbose trace; every method is safe on nil.
type RunTrace struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	dim     *color.Color
	cyan    *color.Color
	green   *color.Color
	yellow  *color.Color
	red     *color.Color
	magenta *color.Color
}

// NewRunTrace creates a trace writing to out. Non-verbose traces print
// nothing.
func NewRunTrace(out io.Writer, verbose bool) *RunTrace {
	if out == nil {
		out = os.Stdout
	}
	return &RunTrace{
		out:     out,
		verbose: verbose,
		dim:     color.New(color.Faint),
		cyan:    color.New(color.FgCyan),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		magenta: color.New(color.FgMagenta),
	}
}

func (t *RunTrace) enabled() bool {
	return t != nil && t.verbose
}

func (t *RunTrace) stamp() string {
	return time.Now().Format("15:04:05.000")
}

// Header prints a run-level banner.
func (t *RunTrace) Header(text string) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cyan.Fprintf(t.out, "\n== %s ==\n", text)
}

// LoopIteration marks the start of one agent loop iteration.
func (t *RunTrace) LoopIteration(agentID string, n int) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cyan.Fprintf(t.out, "\n[%s] %s iteration #%d\n", t.stamp(), agentID, n)
}

// StepSummary prints the reasoning step outcome: how the step stopped and
// how many actions it requested.
func (t *RunTrace) StepSummary(agentID, stop string, actions int) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.magenta.Fprintf(t.out, "  step: stop=%s actions=%d\n", stop, actions)
}

// ActionCall prints a requested action and its arguments.
func (t *RunTrace) ActionCall(agentID, name string, args map[string]any) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.green.Fprintf(t.out, "  -> %s", name)
	t.dim.Fprintf(t.out, " %v\n", args)
}

// ActionResult prints the outcome of an executed action, truncated for
// display.
func (t *RunTrace) ActionResult(agentID, name, content string, isError bool) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.green
	mark := "ok"
	if isError {
		c = t.red
		mark = "error"
	}
	c.Fprintf(t.out, "  <- %s %s", name, mark)
	t.dim.Fprintf(t.out, " %s\n", truncate(content, 120))
}

// Mail prints an inbound message observed at a step boundary.
func (t *RunTrace) Mail(agentID, from string, kind string) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.yellow.Fprintf(t.out, "  mail: %s <- %s (%s)\n", agentID, from, kind)
}

// LoopEnd marks the end of an agent loop with its stop reason.
func (t *RunTrace) LoopEnd(agentID, reason string) {
	if !t.enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cyan.Fprintf(t.out, "[%s] %s loop end: %s\n", t.stamp(), agentID, reason)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
