// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// fcp is the one-shot client: a single invocation pushes local paths to a
// remote host or pulls remote paths to a local destination, tunnelling
// the session over SSH the way the reference client does.
//
//	PULL : fcp [OPTIONS...] [USER@]HOST:SRC... DST
//	PUSH : fcp [OPTIONS...] SRC... [USER@]HOST:DST
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nishisan-dev/fcp/internal/agent"
	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/logging"
	"github.com/nishisan-dev/fcp/internal/session"
	"github.com/nishisan-dev/fcp/internal/tunnel"
)

func usage() {
	fmt.Fprint(os.Stderr, `usage:
  PULL : fcp [OPTIONS...] [USER@]HOST:SRC... DST
  PUSH : fcp [OPTIONS...] SRC... [USER@]HOST:DST

options:
  -p port          SSH port (default 22)
  -i private_key   SSH private key file
  -F ssh_config    SSH client config file (default ~/.ssh/config)
  -n num           number of parallel connections (default 16)
  -a addr          fcp-server listen address reached through the tunnel (default 127.0.0.1:9031)
  -v               verbose logging
`)
}

// remoteRef is a parsed [USER@]HOST:PATH operand.
type remoteRef struct {
	user, host, path string
}

func parseRemoteRef(arg string) (remoteRef, error) {
	idx := strings.Index(arg, ":")
	if idx < 0 {
		return remoteRef{}, fmt.Errorf("%q is not a [USER@]HOST:PATH reference", arg)
	}
	netloc, path := arg[:idx], arg[idx+1:]
	user, host := "", netloc
	if at := strings.Index(netloc, "@"); at >= 0 {
		user, host = netloc[:at], netloc[at+1:]
	}
	if host == "" || path == "" {
		return remoteRef{}, fmt.Errorf("%q is not a [USER@]HOST:PATH reference", arg)
	}
	return remoteRef{user: user, host: host, path: path}, nil
}

// parseRemoteSources parses a PULL's source operands, which must all name
// the same user and host, and returns that user/host plus the sorted
// distinct remote paths.
func parseRemoteSources(srcs []string) (user, host string, paths []string, err error) {
	users := map[string]struct{}{}
	hosts := map[string]struct{}{}
	pathSet := map[string]struct{}{}
	for _, s := range srcs {
		ref, perr := parseRemoteRef(s)
		if perr != nil {
			return "", "", nil, perr
		}
		users[ref.user] = struct{}{}
		hosts[ref.host] = struct{}{}
		pathSet[ref.path] = struct{}{}
	}
	if len(users) != 1 || len(hosts) != 1 {
		return "", "", nil, fmt.Errorf("all source arguments must come from the same host with the same user")
	}
	for u := range users {
		user = u
	}
	for h := range hosts {
		host = h
	}
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return user, host, paths, nil
}

// cliArgs is the resolved shape of one invocation, after deciding whether
// the operands describe a PULL or a PUSH.
type cliArgs struct {
	action     session.Action
	user, host string
	remotePath string   // PULL: the single remote source path fed to fsio; PUSH: the remote destination
	localPaths []string // PUSH: sources; PULL: unused
	localDest  string   // PULL: destination; PUSH: unused
}

// parseOperands mirrors the reference client's parse_cli_args: a PULL is
// recognized by the first source operand containing ":", a PUSH by the
// destination operand containing ":". Exactly one of the two may hold.
func parseOperands(srcs []string, dst string) (cliArgs, error) {
	if strings.Contains(srcs[0], ":") {
		user, host, paths, err := parseRemoteSources(srcs)
		if err != nil {
			return cliArgs{}, err
		}
		if len(paths) != 1 {
			return cliArgs{}, fmt.Errorf("a pull accepts exactly one remote source path, got %d", len(paths))
		}
		return cliArgs{action: session.ActionPull, user: user, host: host, remotePath: paths[0], localDest: dst}, nil
	}
	if strings.Contains(dst, ":") {
		ref, err := parseRemoteRef(dst)
		if err != nil {
			return cliArgs{}, err
		}
		return cliArgs{action: session.ActionPush, user: ref.user, host: ref.host, remotePath: ref.path, localPaths: srcs}, nil
	}
	return cliArgs{}, fmt.Errorf("neither the sources nor the destination name a [USER@]HOST:PATH — one side must be remote")
}

func main() {
	port := flag.Int("p", 22, "SSH port")
	identityFile := flag.String("i", "", "SSH private key file")
	sshConfig := flag.String("F", "", "SSH client config file (default ~/.ssh/config)")
	numConn := flag.Int("n", 16, "number of parallel connections")
	serverAddr := flag.String("a", "127.0.0.1:9031", "fcp-server listen address reached through the tunnel")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	operands := flag.Args()
	if len(operands) < 2 {
		usage()
		os.Exit(1)
	}
	srcs, dst := operands[:len(operands)-1], operands[len(operands)-1]

	parsed, err := parseOperands(srcs, dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fcp: %v\n", err)
		usage()
		os.Exit(1)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, logCloser := logging.NewLogger(level, "text", "")
	defer logCloser.Close()

	host := parsed.host
	if parsed.user != "" {
		host = parsed.user + "@" + parsed.host
	}

	spec := agent.TransferSpec{
		Action: parsed.action,
		Tunnel: tunnel.Config{
			Host:         host,
			Port:         *port,
			IdentityFile: *identityFile,
			ConfigFile:   *sshConfig,
			RemoteAddr:   *serverAddr,
		},
		RemotePath:  parsed.remotePath,
		LocalPaths:  parsed.localPaths,
		LocalDest:   parsed.localDest,
		Connections: *numConn,
		Defaults: config.TransferDefaults{
			ChunkSizeRaw: 32 * 1024,
		},
	}

	logger.Info("connecting", "action", parsed.action, "host", parsed.host, "remote_path", parsed.remotePath)

	if err := agent.RunTransfer(context.Background(), spec, logger); err != nil {
		logger.Error("transfer failed", "error", err)
		os.Exit(1)
	}
}
