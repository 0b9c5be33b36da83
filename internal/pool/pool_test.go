// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

// pipePool wires two in-memory net.Conn pairs into two ConnectionPools so
// the reader/writer goroutines, Buffer reassembly and queueing run exactly
// as they would over real sockets.
func pipePool(t *testing.T, n int) (*ConnectionPool, *ConnectionPool) {
	t.Helper()
	a := New(n, discardLogger())
	b := New(n, discardLogger())

	for i := 0; i < n; i++ {
		c1, c2 := net.Pipe()
		if !a.Add(c1) {
			t.Fatalf("Add to pool a failed")
		}
		if !b.Add(c2) {
			t.Fatalf("Add to pool b failed")
		}
	}

	t.Cleanup(func() {
		a.Stop()
		b.Stop()
	})
	return a, b
}

func TestConnectionPool_SendRecvSingleSocket(t *testing.T) {
	a, b := pipePool(t, 1)

	pkt := protocol.NewFileInfoPacket(1, 0644, 5, 1700000000, [16]byte{9}, "x.bin")
	if err := a.Send(pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Flag != pkt.Flag || !bytes.Equal(got.Body, pkt.Body) {
		t.Fatalf("got %+v, want %+v", got, pkt)
	}
}

func TestConnectionPool_FansAcrossMultipleSockets(t *testing.T) {
	const n = 8
	a, b := pipePool(t, n)

	const count = 40
	for i := 0; i < count; i++ {
		if err := a.Send(protocol.NewFileChunkPacket(1, uint32(i), []byte{byte(i)})); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	seen := make(map[uint32]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < count; i++ {
		got, err := b.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		fc, err := protocol.DecodeFileChunk(got.Body)
		if err != nil {
			t.Fatalf("DecodeFileChunk: %v", err)
		}
		seen[fc.Seq] = true
	}
	if len(seen) != count {
		t.Fatalf("expected %d distinct seqs delivered exactly once, got %d", count, len(seen))
	}
}

func TestConnectionPool_SocketDropContinuesOnSurvivors(t *testing.T) {
	const n = 4
	a, b := pipePool(t, n)

	// Drop one socket on the sender side; remaining should still carry traffic.
	var dropped net.Conn
	a.mu.Lock()
	for c := range a.socks {
		dropped = c
		break
	}
	a.mu.Unlock()
	a.Remove(dropped)

	if a.Len() != n-1 {
		t.Fatalf("Len() = %d, want %d", a.Len(), n-1)
	}

	for i := 0; i < 10; i++ {
		if err := a.Send(protocol.NewFileChunkPacket(2, uint32(i), []byte{byte(i)})); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		if _, err := b.Recv(ctx); err != nil {
			t.Fatalf("Recv %d after drop: %v", i, err)
		}
	}
}

func TestConnectionPool_EmptyClosesWhenLastSocketRemoved(t *testing.T) {
	p := New(2, discardLogger())
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	p.Add(c1)
	p.Add(c2)

	select {
	case <-p.Empty():
		t.Fatal("Empty should not be closed while sockets remain")
	default:
	}

	p.Remove(c1)
	select {
	case <-p.Empty():
		t.Fatal("Empty should not close with one socket left")
	default:
	}

	p.Remove(c2)
	select {
	case <-p.Empty():
	case <-time.After(time.Second):
		t.Fatal("Empty did not close after last socket removed")
	}
}

func TestConnectionPool_AddRejectsBeyondSize(t *testing.T) {
	p := New(1, discardLogger())
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	if !p.Add(c1) {
		t.Fatal("expected first Add to succeed")
	}
	if p.Add(c2) {
		t.Fatal("expected second Add to fail, pool is at capacity")
	}
	p.Stop()
}
