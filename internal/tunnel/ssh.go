// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tunnel is the one opaque collaborator the wire protocol and
// Transporter state machines never see directly: a callable that yields a
// connected byte-stream socket to the peer, tunnelled through an
// externally authenticated SSH connection. Encryption and authentication
// are delegated entirely to the ssh binary; this package never handles
// key material itself.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"time"
)

// Config names the SSH hop and the remote listener to forward through it.
type Config struct {
	// Host is the SSH destination, optionally "user@host".
	Host string
	// Port is the SSH port; zero means the ssh binary's default (22).
	Port int
	// IdentityFile is an optional -i private key path.
	IdentityFile string
	// ConfigFile is an optional -F ssh_config path.
	ConfigFile string
	// RemoteAddr is host:port of the fcp-server listener on the far side,
	// reached via -W once the SSH hop is established.
	RemoteAddr string
}

// Dial starts `ssh -W RemoteAddr Host` and returns its stdin/stdout pair
// wrapped as a net.Conn. Called once for the primary socket and N-1 times
// for auxiliary sockets, exactly as the session package's handshake
// expects a dial func() (net.Conn, error) to behave.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	args := make([]string, 0, 10)
	if cfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(cfg.Port))
	}
	if cfg.IdentityFile != "" {
		args = append(args, "-i", cfg.IdentityFile)
	}
	if cfg.ConfigFile != "" {
		args = append(args, "-F", cfg.ConfigFile)
	}
	args = append(args, "-W", cfg.RemoteAddr, cfg.Host)

	cmd := exec.CommandContext(ctx, "ssh", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening ssh stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening ssh stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ssh: %w", err)
	}

	return &processConn{cmd: cmd, w: stdin, r: stdout}, nil
}

// processConn adapts an ssh -W subprocess's stdin/stdout into a net.Conn,
// the shape session.AttachAuxiliary and the primary handshake dial
// through. Deadlines are accepted but not enforced: a pipe to a local
// subprocess has no meaningful network timeout semantics.
type processConn struct {
	cmd *exec.Cmd
	w   io.WriteCloser
	r   io.ReadCloser
}

func (c *processConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *processConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *processConn) Close() error {
	werr := c.w.Close()
	rerr := c.r.Close()
	_ = c.cmd.Wait()
	if werr != nil {
		return werr
	}
	return rerr
}

func (c *processConn) LocalAddr() net.Addr                { return tunnelAddr{} }
func (c *processConn) RemoteAddr() net.Addr               { return tunnelAddr{} }
func (c *processConn) SetDeadline(t time.Time) error      { return nil }
func (c *processConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *processConn) SetWriteDeadline(t time.Time) error { return nil }

// tunnelAddr is a placeholder net.Addr: the underlying transport is a
// subprocess pipe, not a socket, so there is no real local/remote address
// to report.
type tunnelAddr struct{}

func (tunnelAddr) Network() string { return "ssh-tunnel" }
func (tunnelAddr) String() string  { return "ssh-tunnel" }
