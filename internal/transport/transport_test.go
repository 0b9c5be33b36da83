// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/fcp/internal/fsio"
	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pairPools wires n net.Pipe sockets into two live ConnectionPools, one
// per side, so a Sender and Receiver can exchange real framed packets in
// memory.
func pairPools(t *testing.T, n int) (*pool.ConnectionPool, *pool.ConnectionPool) {
	t.Helper()
	senderPool := pool.New(n, discardLogger())
	receiverPool := pool.New(n, discardLogger())
	for i := 0; i < n; i++ {
		a, b := net.Pipe()
		senderPool.Add(a)
		receiverPool.Add(b)
	}
	t.Cleanup(func() {
		senderPool.Stop()
		receiverPool.Stop()
	})
	return senderPool, receiverPool
}

func writeTree(t *testing.T, root string) {
	t.Helper()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	must(os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))
	must(os.WriteFile(filepath.Join(root, "sub", "b.bin"), bytes.Repeat([]byte{0x5a}, 200_000), 0o640))
	must(os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))
}

func TestSenderReceiver_EndToEndDirectoryTransfer(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	writeTree(t, filepath.Join(srcRoot, "project"))

	source := fsio.NewScanner([]string{filepath.Join(srcRoot, "project")})
	sink, err := fsio.NewDestination(dstRoot)
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}

	senderPool, receiverPool := pairPools(t, 4)

	sender := transport.NewSender(senderPool, source, discardLogger(), transport.SenderConfig{ChunkSize: 8 * 1024})
	receiver := transport.NewReceiver(receiverPool, sink, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := receiver.Start(ctx); err != nil {
		t.Fatalf("receiver.Start: %v", err)
	}
	if err := sender.Start(ctx); err != nil {
		t.Fatalf("sender.Start: %v", err)
	}

	if err := sender.Join(ctx); err != nil {
		t.Fatalf("sender.Join: %v", err)
	}
	if err := receiver.Join(ctx); err != nil {
		t.Fatalf("receiver.Join: %v", err)
	}

	wantDir := filepath.Join(srcRoot, "project")
	gotDir := filepath.Join(dstRoot, "project")

	for _, rel := range []string{"a.txt", "sub/b.bin", "empty.txt"} {
		want, err := os.ReadFile(filepath.Join(wantDir, rel))
		if err != nil {
			t.Fatalf("reading source %s: %v", rel, err)
		}
		got, err := os.ReadFile(filepath.Join(gotDir, rel))
		if err != nil {
			t.Fatalf("reading destination %s: %v", rel, err)
		}
		if !bytes.Equal(want, got) {
			t.Errorf("%s: content mismatch (want %d bytes, got %d bytes)", rel, len(want), len(got))
		}
	}

	if info, err := os.Stat(filepath.Join(gotDir, "sub")); err != nil || !info.IsDir() {
		t.Errorf("sub directory not materialized: %v", err)
	}
}

// memSource and memSink back an isolated unit test of the Sender/Receiver
// flow control and chunk reassembly without touching a real filesystem.
type memEntry struct {
	transport.SourceEntry
	data []byte
}

type memSource struct {
	entries []memEntry
}

func (m *memSource) Scan() ([]transport.SourceEntry, error) {
	out := make([]transport.SourceEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.SourceEntry
	}
	return out, nil
}

type memSink struct {
	files map[string][]byte
	dirs  map[string]bool
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (m *memSink) CreateDir(relPath string, perm uint16) error {
	m.dirs[relPath] = true
	return nil
}

type memWriter struct {
	sink *memSink
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.sink.files[w.path] = w.buf.Bytes()
	return nil
}

func (m *memSink) CreateFile(relPath string, perm uint16, expectedSize uint64) (io.WriteCloser, error) {
	return &memWriter{sink: m, path: relPath}, nil
}

func (m *memSink) SetMtime(relPath string, mtime float64) error { return nil }

func (m *memSink) Abort(w io.WriteCloser, relPath string) error {
	delete(m.files, relPath)
	return nil
}

func TestSenderReceiver_ChunkedLargeFileAcrossManySockets(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 50_000) // 800KB
	sum := md5Sum(payload)

	source := &memSource{entries: []memEntry{
		{
			SourceEntry: transport.SourceEntry{
				RelPath: "big.dat",
				Size:    uint64(len(payload)),
				Perm:    0o644,
				MD5:     sum,
				Open:    func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(payload)), nil },
			},
		},
	}}
	sink := newMemSink()

	senderPool, receiverPool := pairPools(t, 8)
	sender := transport.NewSender(senderPool, source, discardLogger(), transport.SenderConfig{ChunkSize: 4096})
	receiver := transport.NewReceiver(receiverPool, sink, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receiver.Start(ctx)
	sender.Start(ctx)

	if err := sender.Join(ctx); err != nil {
		t.Fatalf("sender.Join: %v", err)
	}
	if err := receiver.Join(ctx); err != nil {
		t.Fatalf("receiver.Join: %v", err)
	}

	got := sink.files["big.dat"]
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes, want %d bytes", len(got), len(payload))
	}
}

func md5Sum(b []byte) [16]byte {
	h := md5.New()
	h.Write(b)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
