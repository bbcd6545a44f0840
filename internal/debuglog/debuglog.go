// Package debuglog is the opt-in debug sink. When enabled it tees every log
// record to a timestamped file in the working directory alongside the
// stderr handler, and mirrors account lifecycle events into the log.
package debuglog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/events"
)

// Filename returns the debug log name for a session started at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("antigravity-debug-%s.log", now.Format("20060102-150405"))
}

// Sink owns the debug log file.
type Sink struct {
	file *os.File
}

// Open creates the session's debug file under dir.
func Open(dir string) (*Sink, error) {
	path := filepath.Join(dir, Filename(time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	return &Sink{file: f}, nil
}

func (s *Sink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Handler tees records to stderr (text) and the debug file (JSON). The file
// handler always records debug level; the stderr side keeps the configured
// level.
func (s *Sink) Handler(stderrLevel slog.Level) slog.Handler {
	stderr := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: stderrLevel})
	if s == nil || s.file == nil {
		return stderr
	}
	file := slog.NewJSONHandler(s.file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &tee{handlers: []slog.Handler{stderr, file}}
}

// Attach mirrors bus events into the log until ctx is done.
func (s *Sink) Attach(ctx context.Context, bus *events.Bus) {
	id, ch, backlog := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(id)
		for _, ev := range backlog {
			logEvent(ev)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				logEvent(ev)
			}
		}
	}()
}

func logEvent(ev events.Event) {
	slog.Debug("account event",
		"event", string(ev.Type),
		"email", ev.Email,
		"endpoint", ev.Endpoint,
		"detail", ev.Message,
	)
}

type tee struct {
	handlers []slog.Handler
}

func (t *tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *tee) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &tee{handlers: out}
}

func (t *tee) WithGroup(name string) slog.Handler {
	if name == "" {
		return t
	}
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithGroup(name)
	}
	return &tee{handlers: out}
}
