// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/fcp/internal/protocol"
	"github.com/nishisan-dev/fcp/internal/session"
)

// ClientConfig is fcp's daemon-mode configuration: a cron schedule driving
// a list of scheduled push/pull jobs, each falling back to Defaults for
// anything it doesn't set itself. A one-shot `fcp` invocation never reads
// this file; it exists only for the fcp-client daemon.
type ClientConfig struct {
	Daemon   DaemonSchedule   `yaml:"daemon"`
	Defaults TransferDefaults `yaml:"defaults"`
	Jobs     []Job            `yaml:"jobs"`
	Logging  LoggingInfo      `yaml:"logging"`
}

// DaemonSchedule carries the cron expression the daemon runs its jobs on.
type DaemonSchedule struct {
	Schedule string `yaml:"schedule"`
}

// TransferDefaults mirrors the one-shot CLI's -p/-i/-F/-n flags, giving
// scheduled jobs the same knobs without repeating them per job.
type TransferDefaults struct {
	Port          int    `yaml:"port"`
	IdentityFile  string `yaml:"identity_file"`
	SSHConfigFile string `yaml:"ssh_config_file"`
	// Connections is the number of parallel sockets a transfer opens: one
	// primary plus Connections-1 auxiliary ATTACH sockets.
	Connections int `yaml:"connections"`

	ChunkSize    string `yaml:"chunk_size"` // e.g. "32kb", "64kb"
	ChunkSizeRaw int64  `yaml:"-"`

	BandwidthLimit    string `yaml:"bandwidth_limit"` // e.g. "10mb", empty=unlimited
	BandwidthLimitRaw int64  `yaml:"-"`

	// ServerAddr is host:port of the fcp-server listener on the far side
	// of the SSH hop, reached through ssh -W once the tunnel is up.
	ServerAddr string `yaml:"server_addr"`
}

// Job is one scheduled transfer: either a push (local Sources to a remote
// Destination) or a pull (a remote Source to a local Destination).
type Job struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"` // "push" or "pull"
	// Remote is the [user@]host the job connects to over SSH.
	Remote      string   `yaml:"remote"`
	Sources     []string `yaml:"sources"`
	Destination string   `yaml:"destination"`
	// Schedule overrides Daemon.Schedule with a cron expression for this
	// job alone. Empty means the job fires on the daemon's shared schedule.
	Schedule string `yaml:"schedule"`
}

// EffectiveSchedule returns j.Schedule if set, otherwise the daemon's
// shared schedule.
func (j Job) EffectiveSchedule(daemonSchedule string) string {
	if j.Schedule != "" {
		return j.Schedule
	}
	return daemonSchedule
}

// LoggingInfo configures the daemon's slog handler.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	// SessionLogDir, if set, makes fcp-server additionally write each
	// transfer session's logs to {SessionLogDir}/{sender|receiver}/{sid}.log.
	SessionLogDir string `yaml:"session_log_dir"`
}

// LoadClientConfig reads and validates the daemon's YAML configuration.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Daemon.Schedule == "" {
		return fmt.Errorf("daemon.schedule is required")
	}
	if len(c.Jobs) == 0 {
		return fmt.Errorf("jobs must have at least one entry")
	}

	if c.Defaults.Connections <= 0 {
		c.Defaults.Connections = 16
	}
	if c.Defaults.Connections > session.MaxAuxiliarySockets {
		return fmt.Errorf("defaults.connections must be at most %d, got %d",
			session.MaxAuxiliarySockets, c.Defaults.Connections)
	}

	if c.Defaults.ChunkSize == "" {
		c.Defaults.ChunkSize = "32kb"
	}
	chunkSize, err := ParseByteSize(c.Defaults.ChunkSize)
	if err != nil {
		return fmt.Errorf("defaults.chunk_size: %w", err)
	}
	if chunkSize <= 0 || chunkSize > int64(protocol.MaxChunkPayload) {
		return fmt.Errorf("defaults.chunk_size must be between 1 and %d bytes, got %d",
			protocol.MaxChunkPayload, chunkSize)
	}
	c.Defaults.ChunkSizeRaw = chunkSize

	if c.Defaults.ServerAddr == "" {
		c.Defaults.ServerAddr = "127.0.0.1:9031"
	}

	if c.Defaults.BandwidthLimit != "" {
		limit, err := ParseByteSize(c.Defaults.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("defaults.bandwidth_limit: %w", err)
		}
		c.Defaults.BandwidthLimitRaw = limit
	}

	for i, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		switch j.Action {
		case "push", "pull":
		default:
			return fmt.Errorf("jobs[%d].action must be \"push\" or \"pull\", got %q", i, j.Action)
		}
		if j.Remote == "" {
			return fmt.Errorf("jobs[%d].remote is required", i)
		}
		if len(j.Sources) == 0 {
			return fmt.Errorf("jobs[%d].sources must have at least one entry", i)
		}
		if j.Destination == "" {
			return fmt.Errorf("jobs[%d].destination is required", i)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
