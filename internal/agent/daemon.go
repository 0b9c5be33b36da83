// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/fcp/internal/config"
	"github.com/nishisan-dev/fcp/internal/session"
	"github.com/nishisan-dev/fcp/internal/tunnel"
)

// jobToSpec translates a configured job plus the daemon's shared defaults
// into the TransferSpec RunTransfer actually drives.
func jobToSpec(job config.Job, defaults config.TransferDefaults) (TransferSpec, error) {
	var action session.Action
	switch job.Action {
	case "push":
		action = session.ActionPush
	case "pull":
		action = session.ActionPull
	default:
		return TransferSpec{}, fmt.Errorf("job %q: unknown action %q", job.Name, job.Action)
	}

	spec := TransferSpec{
		Action: action,
		Tunnel: tunnel.Config{
			Host:         job.Remote,
			Port:         defaults.Port,
			IdentityFile: defaults.IdentityFile,
			ConfigFile:   defaults.SSHConfigFile,
			RemoteAddr:   defaults.ServerAddr,
		},
		Connections: defaults.Connections,
		Defaults:    defaults,
	}

	switch action {
	case session.ActionPush:
		spec.LocalPaths = job.Sources
		spec.RemotePath = job.Destination
	case session.ActionPull:
		if len(job.Sources) != 1 {
			return TransferSpec{}, fmt.Errorf("job %q: pull expects exactly one source, got %d", job.Name, len(job.Sources))
		}
		spec.RemotePath = job.Sources[0]
		spec.LocalDest = job.Destination
	}

	return spec, nil
}

// RunDaemon runs the scheduler until SIGTERM/SIGINT; SIGHUP reloads the
// configuration file without downtime.
func RunDaemon(configPath string, cfg *config.ClientConfig, logger *slog.Logger) error {
	logger.Info("starting daemon", "jobs", len(cfg.Jobs))

	runFn := func(ctx context.Context, job config.Job) error {
		spec, err := jobToSpec(job, cfg.Defaults)
		if err != nil {
			return err
		}
		return RunTransfer(ctx, spec, logger)
	}

	sched, err := NewScheduler(cfg, logger, runFn)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	sched.Start()

	monitor := NewSystemMonitor(logger)
	monitor.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading config", "path", configPath)

			newCfg, loadErr := config.LoadClientConfig(configPath)
			if loadErr != nil {
				logger.Error("reload failed, keeping current config", "error", loadErr)
				continue
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			sched.Stop(stopCtx)
			stopCancel()

			cfg = newCfg
			sched, err = NewScheduler(cfg, logger, runFn)
			if err != nil {
				logger.Error("failed to create scheduler after reload", "error", err)
				monitor.Stop()
				return fmt.Errorf("reload scheduler: %w", err)
			}
			sched.Start()

			logger.Info("config reloaded successfully", "jobs", len(cfg.Jobs))
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		sched.Stop(ctx)
		cancel()
		monitor.Stop()
		return nil
	}
}
