// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pool implements the connection-pool multiplexer: a set of TCP
// sockets shared by a send queue and a receive queue, with per-socket
// frame reassembly and RESEND-driven error recovery.
package pool

import (
	"github.com/nishisan-dev/fcp/internal/protocol"
)

// Phase is which part of a frame a Buffer is currently accumulating.
type Phase int

const (
	// PhaseHead is accumulating the 7-byte head.
	PhaseHead Phase = iota
	// PhaseBody is accumulating the body once the head has been parsed.
	PhaseBody
)

// Buffer is the per-socket receive state described by the protocol: it
// accumulates bytes across however many read events it takes to complete
// the current phase, then hands off to the pool's parseHead/parseBody.
// Buffer itself holds no I/O; it can be driven byte-by-byte for testing.
type Buffer struct {
	Phase  Phase
	Remain int
	Flag   protocol.Flag
	Chksum uint32
	Data   []byte
}

// NewBuffer returns a Buffer in its initial HEAD state, awaiting the
// 7-byte head.
func NewBuffer() *Buffer {
	return &Buffer{Phase: PhaseHead, Remain: protocol.LenHead}
}

// Reset returns the Buffer to its initial HEAD state, as happens after
// every successfully or unsuccessfully parsed body.
func (b *Buffer) Reset() {
	b.Phase = PhaseHead
	b.Remain = protocol.LenHead
	b.Flag = 0
	b.Chksum = 0
	b.Data = b.Data[:0]
}

// Append consumes up to Remain bytes from data, appends them to the
// accumulator, and decrements Remain. It returns the number of bytes
// consumed, which may be less than len(data) when the current phase
// completes partway through the slice — the caller feeds the remainder
// back in on the next call (after the phase transition runs).
func (b *Buffer) Append(data []byte) int {
	n := len(data)
	if n > b.Remain {
		n = b.Remain
	}
	b.Data = append(b.Data, data[:n]...)
	b.Remain -= n
	return n
}

// Ready reports whether the current phase has accumulated all the bytes
// it needs.
func (b *Buffer) Ready() bool {
	return b.Remain == 0
}
