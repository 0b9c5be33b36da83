// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements fcp-server's acceptor loop: the far side of
// the SSH tunnel the client's primary and auxiliary sockets land on,
// dispatching each session to a Sender or Receiver depending on whether
// the client asked to PULL or PUSH.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/fsio"
	"github.com/nishisan-dev/fcp/internal/logging"
	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/protocol"
	"github.com/nishisan-dev/fcp/internal/session"
	"github.com/nishisan-dev/fcp/internal/transport"
)

// Run listens on cfg.Listen.Address and accepts connections until ctx is
// cancelled, the way the teacher's server.Run blocks on its listener and
// unwinds on context cancellation.
func Run(ctx context.Context, cfg *config.DaemonConfig, logger *slog.Logger) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen.Address, err)
	}
	logger.Info("fcp-server listening", "address", cfg.Listen.Address)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	reg := session.NewRegistry()
	var wg sync.WaitGroup

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				return fmt.Errorf("accepting connection: %w", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handleConn(ctx, conn, reg, cfg.Logging.SessionLogDir, logger); err != nil {
				logger.Error("connection handling failed", "error", err)
			}
		}()
	}
}

// handleConn reads the new socket's first frame to decide whether it is a
// primary handshake (PULL/PUSH) starting a new session or an auxiliary
// ATTACH joining one already in progress.
func handleConn(ctx context.Context, conn net.Conn, reg *session.Registry, sessionLogDir string, logger *slog.Logger) error {
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("reading first frame: %w", err)
	}

	switch pkt.Flag {
	case protocol.FlagPull, protocol.FlagPush:
		return startSession(ctx, conn, pkt, reg, sessionLogDir, logger)
	case protocol.FlagAttach:
		sid, err := protocol.DecodeSID(pkt.Body)
		if err != nil {
			conn.Close()
			return fmt.Errorf("decoding ATTACH: %w", err)
		}
		if err := reg.AttachConn(conn, sid); err != nil {
			conn.Close()
			return fmt.Errorf("attaching to session %d: %w", sid, err)
		}
		return nil
	default:
		conn.Close()
		return fmt.Errorf("unexpected first frame %s", pkt.Flag)
	}
}

// startSession owns a new primary socket through the whole lifetime of a
// transfer: it assigns a session id, replies with SID, collects auxiliary
// sockets as they ATTACH, and drives a Sender or Receiver to completion.
func startSession(ctx context.Context, primary net.Conn, pkt protocol.Packet, reg *session.Registry, sessionLogDir string, logger *slog.Logger) error {
	var action session.Action
	if pkt.Flag == protocol.FlagPull {
		action = session.ActionPull
	} else {
		action = session.ActionPush
	}
	remotePath := protocol.DecodePath(pkt.Body)

	sid, auxCh := reg.Open()
	defer reg.Close(sid)

	// The server plays Sender on a PULL (it sends), Receiver on a PUSH
	// (it receives) — that's the role its own per-session log file is
	// named after, not the client's action.
	role := "receiver"
	if action == session.ActionPull {
		role = "sender"
	}
	sidStr := fmt.Sprintf("%d", sid)
	sessionLogger, logCloser, _, err := logging.NewSessionLogger(logger, sessionLogDir, role, sidStr)
	if err != nil {
		primary.Close()
		return fmt.Errorf("opening session log: %w", err)
	}
	defer logCloser.Close()
	sessionLogger = sessionLogger.With("sid", sid, "action", action, "path", remotePath)

	if err := session.ReplySID(primary, sid); err != nil {
		primary.Close()
		return fmt.Errorf("replying SID: %w", err)
	}

	p := pool.New(pool.MaxSize, sessionLogger)
	p.Add(primary)
	defer p.Stop()

	attachDone := make(chan struct{})
	go func() {
		defer close(attachDone)
		for {
			select {
			case conn, ok := <-auxCh:
				if !ok {
					return
				}
				p.Add(conn)
			case <-ctx.Done():
				return
			}
		}
	}()

	// The client's action names what IT is doing: PULL means the client
	// receives, so the server plays Sender; PUSH means the client sends,
	// so the server plays Receiver.
	var t transport.Transporter
	switch action {
	case session.ActionPull:
		source := fsio.NewScanner([]string{remotePath})
		t = transport.NewSender(p, source, sessionLogger, transport.SenderConfig{})
	case session.ActionPush:
		sink, err := fsio.NewDestination(remotePath)
		if err != nil {
			return fmt.Errorf("preparing destination %s: %w", remotePath, err)
		}
		t = transport.NewReceiver(p, sink, sessionLogger)
	}

	sessionLogger.Info("session started")

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("starting transfer: %w", err)
	}
	err = t.Join(ctx)

	if r, ok := t.(*transport.Receiver); ok {
		if failed := r.Failed(); len(failed) > 0 {
			sessionLogger.Warn("some files failed checksum verification", "count", len(failed), "files", failed)
		}
	}

	if err != nil {
		sessionLogger.Error("session failed", "error", err)
		return fmt.Errorf("session %d: %w", sid, err)
	}
	sessionLogger.Info("session completed")
	logCloser.Close()
	logging.RemoveSessionLog(sessionLogDir, role, sidStr)
	return nil
}
