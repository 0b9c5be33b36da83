// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the base slog.Logger both fcp-server and the one-shot
// fcp/fcp-client CLIs start from, before any per-session enrichment via
// NewSessionLogger.
//
// format selects the handler: "text" for human-facing terminals, anything
// else (including the empty string) for JSON, which is what a PUSH/PULL
// running under cron or systemd should be emitting. level is one of
// "debug", "info" (default), "warn" or "error".
//
// If filePath is non-empty, records go to stdout and the file at once
// (io.MultiWriter) — useful for fcp-server, which runs detached and still
// wants its own tail-able log alongside whatever the supervisor captures
// from stdout. Returns an io.Closer for that file that callers must defer;
// when filePath is empty the Closer is a no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Can't open the log file: fall back to stdout only rather than
			// failing startup over a logging path.
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

// parseLevel defaults to slog.LevelInfo for an empty or unrecognized value.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
