// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/fsio"
	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/session"
	"github.com/nishisan-dev/fcp/internal/transport"
	"github.com/nishisan-dev/fcp/internal/tunnel"
)

// TransferSpec is everything one push or pull needs: which way data
// flows, the SSH hop to reach the peer, the remote path the server side
// resolves relative to, and the local sources/destination.
type TransferSpec struct {
	Action      session.Action
	Tunnel      tunnel.Config // RemoteAddr must already be set to the fcp-server listener
	RemotePath  string
	LocalPaths  []string // sources for a push, unused for a pull
	LocalDest   string   // destination root for a pull, unused for a push
	Connections int
	Defaults    config.TransferDefaults
}

// RunTransfer opens the primary socket, completes the PULL/PUSH handshake,
// attaches Connections-1 auxiliary sockets, and drives a Sender or
// Receiver to completion. Shared by the one-shot fcp CLI (cmd/fcp) and
// the scheduler-driven daemon (cmd/fcp-client), so both paths run the
// exact same transfer logic.
func RunTransfer(ctx context.Context, spec TransferSpec, logger *slog.Logger) error {
	dial := func() (net.Conn, error) { return tunnel.Dial(ctx, spec.Tunnel) }

	primary, err := dial()
	if err != nil {
		return fmt.Errorf("dialing primary socket: %w", err)
	}

	sid, err := session.ClientHandshake(primary, spec.Action, spec.RemotePath)
	if err != nil {
		primary.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	n := spec.Connections
	if n <= 0 {
		n = 1
	}
	if n > session.MaxAuxiliarySockets {
		n = session.MaxAuxiliarySockets
	}

	p := pool.New(n, logger)
	p.Add(primary)

	for i := 1; i < n; i++ {
		conn, err := session.AttachAuxiliary(dial, sid)
		if err != nil {
			p.Stop()
			return fmt.Errorf("attaching auxiliary socket %d: %w", i, err)
		}
		p.Add(conn)
	}

	var t transport.Transporter
	switch spec.Action {
	case session.ActionPush:
		source := fsio.NewScanner(spec.LocalPaths)
		t = transport.NewSender(p, source, logger, transport.SenderConfig{
			ChunkSize:      int(spec.Defaults.ChunkSizeRaw),
			BandwidthLimit: spec.Defaults.BandwidthLimitRaw,
		})
	case session.ActionPull:
		sink, err := fsio.NewDestination(spec.LocalDest)
		if err != nil {
			p.Stop()
			return fmt.Errorf("preparing destination %s: %w", spec.LocalDest, err)
		}
		t = transport.NewReceiver(p, sink, logger)
	default:
		p.Stop()
		return fmt.Errorf("unknown action %v", spec.Action)
	}

	if err := t.Start(ctx); err != nil {
		p.Stop()
		return fmt.Errorf("starting transfer: %w", err)
	}
	err = t.Join(ctx)
	p.Stop()
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	if r, ok := t.(*transport.Receiver); ok {
		if failed := r.Failed(); len(failed) > 0 {
			logger.Warn("some files failed checksum verification", "count", len(failed), "files", failed)
		}
	}
	return nil
}
