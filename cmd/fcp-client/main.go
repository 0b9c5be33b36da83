// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// fcp-client is the scheduled daemon: it loads a list of push/pull jobs
// and runs each on its own cron schedule, reloading on SIGHUP. For a
// single interactive transfer, use fcp instead.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/fcp/internal/agent"
	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/fcp/client.yaml", "path to fcp-client config file")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := agent.RunDaemon(*configPath, cfg, logger); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}
