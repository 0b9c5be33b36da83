// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/fsio"
	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/server"
	"github.com/nishisan-dev/fcp/internal/session"
	"github.com/nishisan-dev/fcp/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}

// TestServer_PushSessionEndToEnd drives a real client Sender against a
// real fcp-server over a loopback TCP socket (standing in for the SSH
// tunnel, which this test doesn't need: the wire protocol runs
// identically once any net.Conn exists).
func TestServer_PushSessionEndToEnd(t *testing.T) {
	addr := freeAddr(t)
	cfg := &config.DaemonConfig{Listen: config.ListenInfo{Address: addr}}

	ctx, cancel := context.WithCancel(context.Background())

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, cfg, discardLogger()) }()
	waitForListener(t, addr)

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcRoot, "hello.txt"), []byte("hello from the client"), 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}

	primary, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}

	sid, err := session.ClientHandshake(primary, session.ActionPush, dstRoot)
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	dial := func() (net.Conn, error) { return net.Dial("tcp", addr) }
	aux, err := session.AttachAuxiliary(dial, sid)
	if err != nil {
		t.Fatalf("AttachAuxiliary: %v", err)
	}

	p := pool.New(2, discardLogger())
	p.Add(primary)
	p.Add(aux)

	source := fsio.NewScanner([]string{srcRoot})
	sender := transport.NewSender(p, source, discardLogger(), transport.SenderConfig{ChunkSize: 4096})

	transferCtx, transferCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer transferCancel()

	if err := sender.Start(transferCtx); err != nil {
		t.Fatalf("sender.Start: %v", err)
	}
	if err := sender.Join(transferCtx); err != nil {
		t.Fatalf("sender.Join: %v", err)
	}
	p.Stop()

	cancel()
	if err := <-serverErr; err != nil {
		t.Fatalf("server.Run: %v", err)
	}

	base := filepath.Base(srcRoot)
	got, err := os.ReadFile(filepath.Join(dstRoot, base, "hello.txt"))
	if err != nil {
		t.Fatalf("reading transferred file: %v", err)
	}
	if string(got) != "hello from the client" {
		t.Fatalf("got %q, want %q", got, "hello from the client")
	}
}
