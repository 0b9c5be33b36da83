// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers at once. NewSessionLogger uses it to write simultaneously to
// the base logger's handler and the session's dedicated file handler.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() individually before dispatching, so a
	// DEBUG record isn't sent to a primary handler configured for INFO+.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the session file must not block the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewSessionLogger creates a logger that writes both to the base (global)
// logger and to a file dedicated to one transfer session. The file is
// created at:
//
//	{sessionLogDir}/{role}/{sid}.log
//
// role is "sender" or "receiver" — which side of the transfer fcp-server
// is playing for this session — and sid is the session id the handshake
// assigned. Returns the enriched logger, an io.Closer to close the session
// file, and the file's path (absolute only when sessionLogDir is). The
// Closer MUST be called (defer)
// when the session ends.
//
// If sessionLogDir is empty, returns the base logger unmodified (no-op) —
// this is the default, since per-session log files are opt-in.
func NewSessionLogger(baseLogger *slog.Logger, sessionLogDir, role, sid string) (*slog.Logger, io.Closer, string, error) {
	if sessionLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(sessionLogDir, role)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating session log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, sid+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening session log file %s: %w", logPath, err)
	}

	// The session file always runs JSON at DEBUG level for full capture,
	// regardless of what level the base logger is configured at.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveSessionLog deletes a completed session's log file. No-op if
// sessionLogDir is empty or the file doesn't exist.
func RemoveSessionLog(sessionLogDir, role, sid string) {
	if sessionLogDir == "" {
		return
	}
	logPath := filepath.Join(sessionLogDir, role, sid+".log")
	os.Remove(logPath)
}
