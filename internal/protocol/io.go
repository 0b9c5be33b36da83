// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"fmt"
	"io"
)

// WritePacket serialises and writes p to w as a single frame. Used by the
// synchronous handshake path, where one packet is exchanged at a time on a
// single socket (as opposed to the pool's queued async writer).
func WritePacket(w io.Writer, p Packet) error {
	buf, err := p.Pack()
	if err != nil {
		return fmt.Errorf("packing %s packet: %w", p.Flag, err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %s packet: %w", p.Flag, err)
	}
	return nil
}

// ReadPacket reads one complete frame from r: the 7-byte head via a single
// blocking read-full, then exactly length bytes of body. It does not
// validate the checksum or retry on mismatch — callers on the handshake
// path do that via RecvMsg, callers on the pool's async path do it inline
// in the reader loop.
func ReadPacket(r io.Reader) (Packet, error) {
	var head [LenHead]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Packet{}, fmt.Errorf("reading head: %w", err)
	}
	flag, chksum, length, err := UnpackHead(head[:])
	if err != nil {
		return Packet{}, fmt.Errorf("parsing head: %w", err)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, fmt.Errorf("reading body: %w", err)
	}

	p := Packet{Flag: flag, Body: body}
	if p.Checksum() != chksum {
		return p, fmt.Errorf("%w: flag=%s", ErrChecksumMismatch, flag)
	}
	return p, nil
}

// ErrChecksumMismatch is returned by ReadPacket when the received body's
// CRC32 does not match the head's recorded checksum.
var ErrChecksumMismatch = errors.New("protocol: checksum mismatch")

// RecvMsg reads one packet from r, and on a checksum mismatch sends a
// RESEND naming the bad frame back on w and retries, mirroring the
// original implementation's recursive recv_msg/RESEND loop. maxRetries
// bounds the recursion so a permanently corrupting link cannot loop
// forever.
func RecvMsg(r io.Reader, w io.Writer, maxRetries int) (Packet, error) {
	for attempt := 0; ; attempt++ {
		var head [LenHead]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return Packet{}, fmt.Errorf("reading head: %w", err)
		}
		flag, chksum, length, err := UnpackHead(head[:])
		if err != nil {
			return Packet{}, fmt.Errorf("parsing head: %w", err)
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return Packet{}, fmt.Errorf("reading body: %w", err)
		}

		p := Packet{Flag: flag, Body: body}
		if p.Checksum() == chksum {
			return p, nil
		}

		if attempt >= maxRetries {
			return Packet{}, fmt.Errorf("%w: exceeded %d retries", ErrChecksumMismatch, maxRetries)
		}
		resend := NewResendPacket(flag, chksum, length)
		if err := WritePacket(w, resend); err != nil {
			return Packet{}, fmt.Errorf("requesting resend: %w", err)
		}
	}
}
