// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/protocol"
)

// DefaultChunkSize is the default FILE_CHUNK payload size. Unlike the
// teacher's 1MB streaming chunks, a FILE_CHUNK body shares the wire
// protocol's single uint16 length field with every other packet kind, so
// it must leave room for the fixed file_id+seq prefix under
// protocol.MaxBodyLength.
const DefaultChunkSize = 32 * 1024

// DefaultSentCacheSize is the default SentCache capacity when a Sender is
// built without an explicit one, sized generously against the queue depth
// a ConnectionPool already keeps in flight.
const DefaultSentCacheSize = 4096

// SenderConfig tunes a Sender's behaviour.
type SenderConfig struct {
	// ChunkSize bounds each FILE_CHUNK payload. Zero means DefaultChunkSize.
	ChunkSize int
	// BandwidthLimit caps bytes/sec read off disk for chunking. Zero or
	// negative means unlimited.
	BandwidthLimit int64
	// SentCacheSize bounds how many transmitted frames Sender retains for
	// RESEND. Zero means DefaultSentCacheSize.
	SentCacheSize int
}

// Sender is the Transporter that enumerates a FileSource and streams its
// content across a pool.ConnectionPool, honouring FILE_READY flow control
// and RESEND retransmission requests from the peer.
type Sender struct {
	pool   *pool.ConnectionPool
	source FileSource
	cache  *SentCache
	cfg    SenderConfig
	logger *slog.Logger

	done chan struct{}
	err  error
}

// NewSender builds a Sender over p, reading entries from source.
func NewSender(p *pool.ConnectionPool, source FileSource, logger *slog.Logger, cfg SenderConfig) *Sender {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SentCacheSize <= 0 {
		cfg.SentCacheSize = DefaultSentCacheSize
	}
	return &Sender{
		pool:   p,
		source: source,
		cache:  NewSentCache(cfg.SentCacheSize),
		cfg:    cfg,
		logger: logger,
	}
}

// Start implements Transporter: it scans source synchronously (so a
// scan failure surfaces immediately) and launches the background
// goroutines that drive the transfer.
func (s *Sender) Start(ctx context.Context) error {
	entries, err := s.source.Scan()
	if err != nil {
		return fmt.Errorf("scanning source: %w", err)
	}
	s.done = make(chan struct{})
	go s.run(ctx, entries)
	return nil
}

// Join implements Transporter.
func (s *Sender) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) run(ctx context.Context, entries []SourceEntry) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Zero-size files never get a FILE_READY: the receiver commits them as
	// soon as FILE_INFO arrives, since there is nothing to stream and
	// therefore nothing to race against. Only non-empty files wait.
	ready := make(map[uint16]chan struct{})
	for i, e := range entries {
		if !e.IsDir && e.Size > 0 {
			ready[uint16(i)] = make(chan struct{})
		}
	}

	ackDone := make(chan struct{})
	peerDone := make(chan struct{})
	go s.ackLoop(ctx, cancel, ready, peerDone, ackDone)

	if err := s.announce(entries); err != nil {
		s.err = err
		cancel()
		<-ackDone
		return
	}

	for i, e := range entries {
		if e.IsDir || e.Size == 0 {
			continue
		}
		id := uint16(i)
		select {
		case <-ready[id]:
		case <-ctx.Done():
			s.err = ctx.Err()
			cancel()
			<-ackDone
			return
		}
		if err := s.streamFile(ctx, id, e); err != nil {
			s.err = fmt.Errorf("streaming %s: %w", e.RelPath, err)
			cancel()
			<-ackDone
			return
		}
	}

	// Every file has been streamed locally, but the receiver may still be
	// committing the last one. Wait for its own DONE before sending ours,
	// matching the server's and client's Transporter symmetrically on both
	// PUSH and PULL, per the wire protocol's close handshake.
	select {
	case <-peerDone:
	case <-ctx.Done():
		s.err = ctx.Err()
		cancel()
		<-ackDone
		return
	}

	// By now the receiver has already confirmed every file landed, so a
	// failure to deliver this closing courtesy frame is not itself a
	// transfer failure — the receiver's pool may already be tearing down.
	if err := s.pool.Send(protocol.NewDonePacket()); err != nil {
		s.logger.Warn("sending final DONE after peer DONE", "error", err)
	}
	cancel()
	<-ackDone
}

// announce sends FILE_COUNT followed by one DIR_INFO or FILE_INFO per
// entry, in the pre-order the FileSource produced them, recording each in
// the SentCache so a RESEND naming it can be answered.
func (s *Sender) announce(entries []SourceEntry) error {
	var fileTotal int
	for _, e := range entries {
		if !e.IsDir {
			fileTotal++
		}
	}
	if fileTotal > math.MaxUint16 {
		return fmt.Errorf("scan found %d files, exceeding FILE_COUNT's uint16 limit of %d", fileTotal, math.MaxUint16)
	}
	numFiles := uint16(fileTotal)
	countPkt := protocol.NewFileCountPacket(numFiles)
	s.cache.Record(countPkt)
	if err := s.pool.Send(countPkt); err != nil {
		return fmt.Errorf("sending FILE_COUNT: %w", err)
	}

	for i, e := range entries {
		id := uint16(i)
		var pkt protocol.Packet
		if e.IsDir {
			pkt = protocol.NewDirInfoPacket(id, e.Perm, e.RelPath)
		} else {
			pkt = protocol.NewFileInfoPacket(id, e.Perm, e.Size, e.Mtime, e.MD5, e.RelPath)
		}
		s.cache.Record(pkt)
		if err := s.pool.Send(pkt); err != nil {
			return fmt.Errorf("sending metadata for %s: %w", e.RelPath, err)
		}
	}
	return nil
}

// ackLoop drains the pool's receive queue for the lifetime of the
// transfer, resolving FILE_READY signals, servicing RESEND requests, and
// watching for the receiver's closing DONE. It is the Sender's half of
// the full-duplex exchange: chunks go out on the main goroutine while
// acks, resends and the peer's DONE come back here concurrently.
func (s *Sender) ackLoop(ctx context.Context, cancel context.CancelFunc, ready map[uint16]chan struct{}, peerDone chan struct{}, done chan struct{}) {
	defer close(done)
	peerDoneClosed := false
	for {
		pkt, err := s.pool.Recv(ctx)
		if err != nil {
			return
		}
		switch pkt.Flag {
		case protocol.FlagFileReady:
			id, err := protocol.DecodeFileReady(pkt.Body)
			if err != nil {
				s.logger.Warn("malformed FILE_READY", "error", err)
				continue
			}
			if ch, ok := ready[id]; ok {
				select {
				case <-ch:
				default:
					close(ch)
				}
			}
		case protocol.FlagResend:
			r, err := protocol.DecodeResend(pkt.Body)
			if err != nil {
				s.logger.Warn("malformed RESEND", "error", err)
				continue
			}
			orig, lookupErr := s.cache.Lookup(r.OriginalFlag, r.OriginalChksum, r.OriginalLength)
			if lookupErr != nil {
				s.logger.Error("RESEND names a frame no longer cached", "flag", r.OriginalFlag, "error", lookupErr)
				s.err = lookupErr
				cancel()
				return
			}
			if sendErr := s.pool.Send(orig); sendErr != nil {
				s.err = fmt.Errorf("resending %s: %w", orig.Flag, sendErr)
				cancel()
				return
			}
		case protocol.FlagDone:
			if !peerDoneClosed {
				peerDoneClosed = true
				close(peerDone)
			}
		default:
			s.logger.Debug("ignoring unexpected packet on sender side", "flag", pkt.Flag)
		}
	}
}

// streamFile reads e's content in cfg.ChunkSize pieces, recording each
// FILE_CHUNK in the SentCache before handing it to the pool so a RESEND
// racing in on the ackLoop can always find it.
func (s *Sender) streamFile(ctx context.Context, id uint16, e SourceEntry) error {
	rc, err := e.Open()
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if s.cfg.BandwidthLimit > 0 {
		r = NewThrottledReader(ctx, rc, s.cfg.BandwidthLimit)
	}

	buf := make([]byte, s.cfg.ChunkSize)
	var seq uint32
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			pkt := protocol.NewFileChunkPacket(id, seq, chunk)
			s.cache.Record(pkt)
			if sendErr := s.pool.Send(pkt); sendErr != nil {
				return fmt.Errorf("sending chunk %d: %w", seq, sendErr)
			}
			seq++
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading: %w", readErr)
		}
	}
}
