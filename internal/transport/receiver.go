// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"log/slog"

	"github.com/nishisan-dev/fcp/internal/pool"
	"github.com/nishisan-dev/fcp/internal/protocol"
)

// Receiver is the Transporter that dispatches incoming DIR_INFO/FILE_INFO
// metadata and FILE_CHUNK payloads to a FileSink, verifying each file's
// MD5 before committing it and acking readiness to receive with
// FILE_READY.
type Receiver struct {
	pool   *pool.ConnectionPool
	sink   FileSink
	logger *slog.Logger

	done   chan struct{}
	err    error
	failed []string
}

// Failed returns the relative paths of files that completed transfer but
// failed MD5 verification, valid after Join returns. A non-empty result
// does not itself make err non-nil: per-file failures are warnings, not
// fatal session errors.
func (r *Receiver) Failed() []string {
	return r.failed
}

// NewReceiver builds a Receiver over p, materializing the transfer
// through sink.
func NewReceiver(p *pool.ConnectionPool, sink FileSink, logger *slog.Logger) *Receiver {
	return &Receiver{pool: p, sink: sink, logger: logger}
}

// Start implements Transporter.
func (r *Receiver) Start(ctx context.Context) error {
	r.done = make(chan struct{})
	go r.run(ctx)
	return nil
}

// Join implements Transporter.
func (r *Receiver) Join(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fileState tracks one in-flight file between its FILE_INFO and the
// moment enough bytes have arrived to verify and commit it. Chunks arrive
// in no guaranteed order across sockets, so out-of-order ones are held in
// pending until the gap at nextSeq fills.
type fileState struct {
	info    protocol.FileInfo
	w       io.WriteCloser
	h       hash.Hash
	written uint64
	nextSeq uint32
	pending map[uint32][]byte
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)

	files := make(map[uint16]*fileState)
	numFiles, numFilesKnown := 0, false
	completed := 0

	for {
		pkt, err := r.pool.Recv(ctx)
		if err != nil {
			r.err = fmt.Errorf("receiving: %w", err)
			return
		}

		switch pkt.Flag {
		case protocol.FlagFileCount:
			n, err := protocol.DecodeFileCount(pkt.Body)
			if err != nil {
				r.err = fmt.Errorf("decoding FILE_COUNT: %w", err)
				return
			}
			numFiles, numFilesKnown = int(n), true
			if r.allDone(numFiles, numFilesKnown, completed) {
				if err := r.pool.Send(protocol.NewDonePacket()); err != nil {
					r.err = fmt.Errorf("sending DONE: %w", err)
				}
				return
			}

		case protocol.FlagDirInfo:
			d, err := protocol.DecodeDirInfo(pkt.Body)
			if err != nil {
				r.err = fmt.Errorf("decoding DIR_INFO: %w", err)
				return
			}
			if err := r.sink.CreateDir(d.Path, d.Perm); err != nil {
				r.err = fmt.Errorf("creating directory %s: %w", d.Path, err)
				return
			}

		case protocol.FlagFileInfo:
			fi, err := protocol.DecodeFileInfo(pkt.Body)
			if err != nil {
				r.err = fmt.Errorf("decoding FILE_INFO: %w", err)
				return
			}
			w, err := r.sink.CreateFile(fi.Path, fi.Perm, fi.Size)
			if err != nil {
				r.err = fmt.Errorf("creating file %s: %w", fi.Path, err)
				return
			}
			st := &fileState{info: fi, w: w, h: md5.New(), pending: make(map[uint32][]byte)}
			files[fi.FileID] = st

			if fi.Size == 0 {
				if err := r.finishFile(files, fi.FileID); err != nil {
					r.err = fmt.Errorf("finishing %s: %w", fi.Path, err)
					return
				}
				completed++
				if r.allDone(numFiles, numFilesKnown, completed) {
					if err := r.pool.Send(protocol.NewDonePacket()); err != nil {
						r.err = fmt.Errorf("sending DONE: %w", err)
					}
					return
				}
				continue
			}
			if err := r.pool.Send(protocol.NewFileReadyPacket(fi.FileID)); err != nil {
				r.err = fmt.Errorf("sending FILE_READY for %s: %w", fi.Path, err)
				return
			}

		case protocol.FlagFileChunk:
			fc, err := protocol.DecodeFileChunk(pkt.Body)
			if err != nil {
				r.err = fmt.Errorf("decoding FILE_CHUNK: %w", err)
				return
			}
			st, ok := files[fc.FileID]
			if !ok {
				r.logger.Warn("chunk for unknown or already-completed file", "file_id", fc.FileID)
				continue
			}
			if fc.Seq < st.nextSeq {
				r.logger.Debug("duplicate chunk, already written", "file_id", fc.FileID, "seq", fc.Seq)
				continue
			}
			if fc.Seq > st.nextSeq {
				chunkCopy := make([]byte, len(fc.Chunk))
				copy(chunkCopy, fc.Chunk)
				st.pending[fc.Seq] = chunkCopy
				continue
			}

			if err := r.writeChunk(st, fc.Chunk); err != nil {
				r.err = fmt.Errorf("writing chunk for %s: %w", st.info.Path, err)
				return
			}
			for {
				next, ok := st.pending[st.nextSeq]
				if !ok {
					break
				}
				delete(st.pending, st.nextSeq)
				if err := r.writeChunk(st, next); err != nil {
					r.err = fmt.Errorf("writing buffered chunk for %s: %w", st.info.Path, err)
					return
				}
			}

			if st.written >= st.info.Size {
				if err := r.finishFile(files, fc.FileID); err != nil {
					r.err = err
					return
				}
				completed++
				if r.allDone(numFiles, numFilesKnown, completed) {
					if err := r.pool.Send(protocol.NewDonePacket()); err != nil {
						r.err = fmt.Errorf("sending DONE: %w", err)
					}
					return
				}
			}

		case protocol.FlagDone:
			if numFilesKnown && completed < numFiles {
				r.logger.Warn("peer DONE received before every file completed",
					"completed", completed, "expected", numFiles)
			}
			return

		default:
			r.logger.Debug("ignoring unexpected packet on receiver side", "flag", pkt.Flag)
		}
	}
}

// allDone reports whether every file FILE_COUNT announced has now been
// committed (or zero were announced to begin with), meaning the Receiver
// may emit its own DONE and terminate without waiting on anything further
// from the Sender.
func (r *Receiver) allDone(numFiles int, numFilesKnown bool, completed int) bool {
	return numFilesKnown && completed >= numFiles
}

// writeChunk writes one in-order chunk to st's file and running hash,
// advancing nextSeq.
func (r *Receiver) writeChunk(st *fileState, chunk []byte) error {
	if _, err := st.w.Write(chunk); err != nil {
		return err
	}
	st.h.Write(chunk)
	st.written += uint64(len(chunk))
	st.nextSeq++
	return nil
}

// finishFile verifies the accumulated hash against the file's announced
// MD5. A mismatch is a per-file failure, not a fatal session error: it is
// recorded in r.failed and the partial write is aborted, but finishFile
// returns nil so the transfer continues with the remaining files. Only a
// sink I/O failure (closing, setting mtime, or aborting) returns an error,
// which is fatal.
func (r *Receiver) finishFile(files map[uint16]*fileState, id uint16) error {
	st := files[id]
	delete(files, id)

	var sum [16]byte
	copy(sum[:], st.h.Sum(nil))

	if sum != st.info.MD5 {
		r.logger.Error("file failed MD5 verification", "path", st.info.Path)
		r.failed = append(r.failed, st.info.Path)
		if err := r.sink.Abort(st.w, st.info.Path); err != nil {
			return fmt.Errorf("aborting %s after checksum mismatch: %w", st.info.Path, err)
		}
		return nil
	}

	if err := st.w.Close(); err != nil {
		return fmt.Errorf("committing %s: %w", st.info.Path, err)
	}
	if err := r.sink.SetMtime(st.info.Path, st.info.Mtime); err != nil {
		return fmt.Errorf("setting mtime on %s: %w", st.info.Path, err)
	}
	return nil
}
