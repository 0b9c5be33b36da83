// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package session implements the handshake that precedes every transfer:
// a primary socket exchanges PULL/PUSH for SID, after which up to N-1
// auxiliary sockets each send ATTACH(sid) to join the same logical
// transfer before the Sender/Receiver state machines take over.
package session

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

// Action distinguishes which side of the transfer the client is driving.
type Action int

const (
	// ActionPull means the client is receiving: the remote path is read
	// from the server and streamed to the client's destination.
	ActionPull Action = iota
	// ActionPush means the client is sending: the client's local path is
	// streamed to the server's destination.
	ActionPush
)

func (a Action) String() string {
	if a == ActionPull {
		return "PULL"
	}
	return "PUSH"
}

// ErrUnexpectedFlag is returned when a handshake peer sends a packet kind
// that doesn't belong at that step.
var ErrUnexpectedFlag = errors.New("session: unexpected packet during handshake")

// ClientHandshake runs the client side of the handshake on the primary
// socket: send PULL or PUSH naming remotePath, then read back the SID the
// server assigned this session.
func ClientHandshake(conn net.Conn, action Action, remotePath string) (uint16, error) {
	var req protocol.Packet
	switch action {
	case ActionPull:
		req = protocol.NewPullPacket(remotePath)
	case ActionPush:
		req = protocol.NewPushPacket(remotePath)
	default:
		return 0, fmt.Errorf("session: unknown action %d", action)
	}

	if err := protocol.WritePacket(conn, req); err != nil {
		return 0, fmt.Errorf("sending %s: %w", action, err)
	}

	reply, err := protocol.ReadPacket(conn)
	if err != nil {
		return 0, fmt.Errorf("reading SID reply: %w", err)
	}
	if reply.Flag != protocol.FlagSID {
		return 0, fmt.Errorf("%w: got %s, want SID", ErrUnexpectedFlag, reply.Flag)
	}
	sid, err := protocol.DecodeSID(reply.Body)
	if err != nil {
		return 0, fmt.Errorf("decoding SID: %w", err)
	}
	return sid, nil
}

// AttachAuxiliary binds an auxiliary socket, dialed fresh via dial, to the
// session identified by sid. The reference client requires this ATTACH to
// be the very first thing written on the new socket, strictly after the
// primary handshake assigned the sid — callers must not dial auxiliary
// sockets concurrently with the primary handshake.
func AttachAuxiliary(dial func() (net.Conn, error), sid uint16) (net.Conn, error) {
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dialing auxiliary socket: %w", err)
	}

	attach := protocol.NewAttachPacket(sid)
	if err := protocol.WritePacket(conn, attach); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending ATTACH: %w", err)
	}

	ack, err := protocol.ReadPacket(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading ATTACH ack: %w", err)
	}
	if ack.Flag != protocol.FlagAttach {
		conn.Close()
		return nil, fmt.Errorf("%w: got %s, want ATTACH ack", ErrUnexpectedFlag, ack.Flag)
	}
	ackSID, err := protocol.DecodeSID(ack.Body)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding ATTACH ack: %w", err)
	}
	if ackSID != sid {
		conn.Close()
		return nil, fmt.Errorf("ATTACH ack sid mismatch: got %d, want %d", ackSID, sid)
	}
	return conn, nil
}

// Request is a decoded PULL or PUSH handshake request as seen by the
// server.
type Request struct {
	Action Action
	Path   string
}

// ReadRequest reads the first packet on a freshly accepted primary socket
// and decodes it as a PULL or PUSH request.
func ReadRequest(conn net.Conn) (Request, error) {
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		return Request{}, fmt.Errorf("reading handshake request: %w", err)
	}
	switch pkt.Flag {
	case protocol.FlagPull:
		return Request{Action: ActionPull, Path: protocol.DecodePath(pkt.Body)}, nil
	case protocol.FlagPush:
		return Request{Action: ActionPush, Path: protocol.DecodePath(pkt.Body)}, nil
	default:
		return Request{}, fmt.Errorf("%w: got %s, want PULL or PUSH", ErrUnexpectedFlag, pkt.Flag)
	}
}

// ReplySID writes the session id the server assigned back to the primary
// socket.
func ReplySID(conn net.Conn, sid uint16) error {
	if err := protocol.WritePacket(conn, protocol.NewSIDPacket(sid)); err != nil {
		return fmt.Errorf("sending SID: %w", err)
	}
	return nil
}

// ErrSessionNotFound is returned when an ATTACH names a session id the
// Registry has no record of, grounded on the teacher's
// ParallelStatusNotFound ACK path.
var ErrSessionNotFound = errors.New("session: unknown session id")

// Registry tracks sessions awaiting auxiliary-socket attachment, the way
// the teacher's Handler tracks ParallelSession by id in a sync.Map keyed
// by session id — here a plain mutex-guarded map, since session counts
// are small and short-lived relative to a backup server's.
type Registry struct {
	mu       sync.Mutex
	nextSID  uint16
	sessions map[uint16]chan net.Conn
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint16]chan net.Conn)}
}

// Open allocates a new session id and returns a channel auxiliary sockets
// will be delivered on as they attach.
func (r *Registry) Open() (uint16, <-chan net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid := r.nextSID
	r.nextSID++
	ch := make(chan net.Conn, MaxAuxiliarySockets)
	r.sessions[sid] = ch
	return sid, ch
}

// Close removes sid from the registry. Any auxiliary sockets already
// queued on its channel are left for the owner to drain or close.
func (r *Registry) Close(sid uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
}

// Attach reads the ATTACH packet already known to be conn's first frame
// and routes conn to the session it names. Mirrors the teacher's
// handleParallelJoin: look the session up, reject unknown ids, otherwise
// hand the socket to the waiting owner.
func (r *Registry) Attach(conn net.Conn) error {
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("reading ATTACH: %w", err)
	}
	if pkt.Flag != protocol.FlagAttach {
		return fmt.Errorf("%w: got %s, want ATTACH", ErrUnexpectedFlag, pkt.Flag)
	}
	sid, err := protocol.DecodeSID(pkt.Body)
	if err != nil {
		return fmt.Errorf("decoding ATTACH: %w", err)
	}
	return r.AttachConn(conn, sid)
}

// AttachConn routes conn, whose first frame has already been read and
// decoded as ATTACH(sid) by the caller, to the session sid names. Exposed
// separately from Attach so an acceptor loop that must branch on the
// first packet's flag (PULL/PUSH vs ATTACH) can read it exactly once.
func (r *Registry) AttachConn(conn net.Conn, sid uint16) error {
	r.mu.Lock()
	ch, ok := r.sessions[sid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: sid=%d", ErrSessionNotFound, sid)
	}

	if err := protocol.WritePacket(conn, protocol.NewAttachPacket(sid)); err != nil {
		return fmt.Errorf("acking ATTACH: %w", err)
	}

	ch <- conn
	return nil
}

// MaxAuxiliarySockets bounds how many auxiliary sockets a single session's
// attach channel buffers, matching pool.MaxSize so a session can never be
// handed more sockets than a ConnectionPool can register.
const MaxAuxiliarySockets = 128
