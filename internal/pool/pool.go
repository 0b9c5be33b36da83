// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

// MaxSize is the hard cap on sockets a single pool may hold, matching the
// wire protocol's implicit assumption that a session never needs more
// parallelism than this.
const MaxSize = 128

// queueFactor sets each queue's capacity to size*queueFactor, per spec.
const queueFactor = 5

// ErrPoolFull is returned by Add when the pool already holds size sockets.
var ErrPoolFull = errors.New("pool: at capacity")

// ConnectionPool multiplexes a send queue and a receive queue across N
// sockets. Application code never touches a socket directly: it enqueues
// Packets via Send and dequeues via Recv; the pool's per-socket reader and
// writer goroutines handle framing, reassembly and RESEND generation.
type ConnectionPool struct {
	size int

	sendQ *PacketQueue
	recvQ *PacketQueue

	mu     sync.Mutex
	socks  map[net.Conn]struct{}
	closed bool
	empty  chan struct{}
	once   sync.Once

	wg        sync.WaitGroup
	writersWG sync.WaitGroup
	logger    *slog.Logger
}

// New creates a ConnectionPool bounded to size sockets (capped at MaxSize).
func New(size int, logger *slog.Logger) *ConnectionPool {
	if size > MaxSize {
		size = MaxSize
	}
	if size < 1 {
		size = 1
	}
	return &ConnectionPool{
		size:   size,
		sendQ:  NewPacketQueue(size * queueFactor),
		recvQ:  NewPacketQueue(size * queueFactor),
		socks:  make(map[net.Conn]struct{}),
		empty:  make(chan struct{}),
		logger: logger,
	}
}

// Size returns the pool's socket capacity.
func (p *ConnectionPool) Size() int {
	return p.size
}

// Len returns the number of sockets currently registered.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.socks)
}

// Empty returns a channel that is closed the moment the pool's socket
// count drops to zero after having held at least one. The Sender and
// Receiver in package transport do not read it; a caller that wants to
// abort on total socket loss must select on it itself.
func (p *ConnectionPool) Empty() <-chan struct{} {
	return p.empty
}

// Add registers conn for both read and write readiness and starts its
// reader/writer goroutines. Returns false if the pool is already at
// capacity or closed.
func (p *ConnectionPool) Add(conn net.Conn) bool {
	p.mu.Lock()
	if p.closed || len(p.socks) >= p.size {
		p.mu.Unlock()
		return false
	}
	p.socks[conn] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(2)
	p.writersWG.Add(1)
	go func() {
		defer p.writersWG.Done()
		p.writeLoop(conn)
	}()
	go p.readLoop(conn)
	return true
}

// Remove deregisters and closes conn. Safe to call more than once for the
// same conn (e.g. from both the reader and writer loops when the socket
// fails in both directions at once).
func (p *ConnectionPool) Remove(conn net.Conn) {
	p.mu.Lock()
	if _, ok := p.socks[conn]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.socks, conn)
	n := len(p.socks)
	p.mu.Unlock()

	conn.Close()

	if n == 0 {
		p.once.Do(func() { close(p.empty) })
	}
}

// Send enqueues pkt for transmission on any available socket, blocking
// while the send queue is full.
func (p *ConnectionPool) Send(pkt protocol.Packet) error {
	return p.sendQ.Push(pkt)
}

// Recv dequeues the next validated packet received from any socket,
// blocking until one is available, ctx is cancelled, or the pool is
// stopped.
func (p *ConnectionPool) Recv(ctx context.Context) (protocol.Packet, error) {
	type result struct {
		pkt protocol.Packet
		err error
	}
	done := make(chan result, 1)
	go func() {
		pkt, err := p.recvQ.PopFront()
		done <- result{pkt, err}
	}()

	select {
	case r := <-done:
		return r.pkt, r.err
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	}
}

// Stop flips is_working to false, drains both worker loops, and closes
// every remaining socket. Closing sendQ only unblocks writeLoop's next
// PopFront; it does not discard whatever was already queued, so Stop
// waits for every writeLoop to actually drain and write that backlog
// before it closes the sockets out from under them. Otherwise a DONE or
// trailing FILE_CHUNK still sitting in sendQ at Stop time could be
// dropped instead of hitting the wire.
func (p *ConnectionPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	socks := make([]net.Conn, 0, len(p.socks))
	for c := range p.socks {
		socks = append(socks, c)
	}
	p.mu.Unlock()

	p.sendQ.Close()
	p.writersWG.Wait()
	p.recvQ.Close()

	for _, c := range socks {
		c.Close()
	}
	p.wg.Wait()

	p.mu.Lock()
	if len(p.socks) == 0 {
		p.once.Do(func() { close(p.empty) })
	}
	p.mu.Unlock()
}

// writeLoop drains sendQ and writes frames to conn, one contiguous write
// per frame so frames never interleave on a single socket. This is the
// real I/O loop the pool's worker goroutine runs — not a queue-facing
// wrapper method, resolving the naming collision the reference
// implementation's Thread(target=self.send) shows.
func (p *ConnectionPool) writeLoop(conn net.Conn) {
	defer p.wg.Done()

	for {
		pkt, err := p.sendQ.PopFront()
		if err != nil {
			return
		}

		buf, err := pkt.Pack()
		if err != nil {
			p.logger.Error("dropping unpackable packet", "flag", pkt.Flag, "error", err)
			continue
		}

		if _, err := conn.Write(buf); err != nil {
			p.logger.Warn("write failed, removing socket and requeuing packet",
				"flag", pkt.Flag, "error", err)
			p.Remove(conn)
			if rqErr := p.sendQ.PushFront(pkt); rqErr != nil {
				p.logger.Error("send queue closed while requeuing after failed write", "error", rqErr)
			}
			return
		}
	}
}

// readLoop reads bytes from conn into a per-socket Buffer, reassembling
// frames across however many reads it takes, and dispatches complete
// frames to parseHead/parseBody.
func (p *ConnectionPool) readLoop(conn net.Conn) {
	defer p.wg.Done()

	buf := NewBuffer()
	chunk := make([]byte, 64*1024)

	for {
		n, err := conn.Read(chunk[:buf.Remain])
		if n > 0 {
			buf.Append(chunk[:n])
			if buf.Ready() {
				switch buf.Phase {
				case PhaseHead:
					if perr := p.parseHead(buf); perr != nil {
						p.logger.Error("invalid head, dropping connection", "error", perr)
						p.Remove(conn)
						return
					}
				case PhaseBody:
					p.parseBody(buf)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("read failed, removing socket", "error", err)
			}
			p.Remove(conn)
			return
		}
	}
}

// parseHead decodes the 7-byte head accumulated in buf and transitions it
// to the BODY phase.
func (p *ConnectionPool) parseHead(buf *Buffer) error {
	flag, chksum, length, err := protocol.UnpackHead(buf.Data)
	if err != nil {
		return err
	}
	buf.Flag = flag
	buf.Chksum = chksum
	buf.Phase = PhaseBody
	buf.Remain = int(length)
	buf.Data = buf.Data[:0]
	return nil
}

// parseBody validates the accumulated body against its checksum. A valid
// frame is enqueued to recvQ; an invalid one produces a RESEND request on
// sendQ naming the suspect frame. Either way the Buffer resets to HEAD.
func (p *ConnectionPool) parseBody(buf *Buffer) {
	defer buf.Reset()

	body := make([]byte, len(buf.Data))
	copy(body, buf.Data)
	pkt := protocol.Packet{Flag: buf.Flag, Body: body}

	if pkt.IsValid(buf.Chksum) {
		if err := p.recvQ.Push(pkt); err != nil {
			p.logger.Debug("recv queue closed, dropping packet", "flag", pkt.Flag)
		}
		return
	}

	p.logger.Error("checksum mismatch, requesting resend", "flag", buf.Flag)
	resend := protocol.NewResendPacket(buf.Flag, buf.Chksum, uint16(len(buf.Data)))
	if err := p.sendQ.Push(resend); err != nil {
		p.logger.Debug("send queue closed, dropping resend request")
	}
}
