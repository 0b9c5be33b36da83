// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is fcp-server's configuration. Unlike the teacher's server,
// fcp-server has no named storages, WebUI, mTLS, or gap-detection concepts
// to configure: the wire protocol carries its own checksums and RESEND
// recovery, and encryption/authentication are delegated entirely to the
// SSH tunnel in front of the listener.
type DaemonConfig struct {
	Listen  ListenInfo  `yaml:"listen"`
	Logging LoggingInfo `yaml:"logging"`
}

// ListenInfo is the address fcp-server accepts primary and auxiliary
// sockets on, reached through an SSH tunnel's -W forwarding.
type ListenInfo struct {
	Address string `yaml:"address"`
}

// LoadDaemonConfig reads and validates fcp-server's YAML configuration.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config: %w", err)
	}

	var cfg DaemonConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing daemon config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating daemon config: %w", err)
	}

	return &cfg, nil
}

func (c *DaemonConfig) validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
