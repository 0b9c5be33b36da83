// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/fcp/internal/config"
)

// JobResult records the outcome of one scheduled transfer run.
type JobResult struct {
	Status          string // "completed", "failed", "skipped"
	DurationSeconds float64
	Timestamp       time.Time
	Err             error
}

// trackedJob pairs a configured job with the guard that keeps a slow run
// from overlapping its own next scheduled firing.
type trackedJob struct {
	Job        config.Job
	mu         sync.Mutex
	running    bool
	LastResult *JobResult
}

// RunFunc performs one job's transfer: dialing the tunnel, running the
// handshake, and driving a Sender or Receiver to completion.
type RunFunc func(ctx context.Context, job config.Job) error

// Scheduler runs cron.Cron, registering one cron entry per configured job
// on either that job's own schedule or the daemon's shared default.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []*trackedJob
	run    RunFunc
}

// NewScheduler builds a Scheduler with one cron entry per cfg.Jobs, each
// guarded so a still-running job skips its next tick rather than overlap.
func NewScheduler(cfg *config.ClientConfig, logger *slog.Logger, run RunFunc) (*Scheduler, error) {
	s := &Scheduler{
		logger: logger,
		run:    run,
		cron:   cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug)))),
	}

	for _, job := range cfg.Jobs {
		tj := &trackedJob{Job: job}
		s.jobs = append(s.jobs, tj)

		schedule := job.EffectiveSchedule(cfg.Daemon.Schedule)
		jobRef := tj
		if _, err := s.cron.AddFunc(schedule, func() {
			s.executeJob(jobRef)
		}); err != nil {
			return nil, fmt.Errorf("adding cron job for %q: %w", job.Name, err)
		}

		logger.Info("registered transfer job",
			"job", job.Name, "action", job.Action, "remote", job.Remote, "schedule", schedule)
	}

	return s, nil
}

// Start begins firing cron entries.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop stops accepting new firings and waits for in-flight jobs, up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("scheduler stopping")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) executeJob(tj *trackedJob) {
	jobLogger := s.logger.With("job", tj.Job.Name, "action", tj.Job.Action, "remote", tj.Job.Remote)

	tj.mu.Lock()
	if tj.running {
		tj.mu.Unlock()
		jobLogger.Warn("job already running, skipping this firing")
		tj.LastResult = &JobResult{Status: "skipped", Timestamp: time.Now()}
		return
	}
	tj.running = true
	tj.mu.Unlock()

	defer func() {
		tj.mu.Lock()
		tj.running = false
		tj.mu.Unlock()
	}()

	jobLogger.Info("scheduled transfer triggered")
	start := time.Now()
	err := s.run(context.Background(), tj.Job)
	duration := time.Since(start)

	if err != nil {
		jobLogger.Error("transfer failed", "error", err, "duration", duration)
		tj.LastResult = &JobResult{Status: "failed", DurationSeconds: duration.Seconds(), Timestamp: time.Now(), Err: err}
		return
	}
	jobLogger.Info("transfer completed", "duration", duration)
	tj.LastResult = &JobResult{Status: "completed", DurationSeconds: duration.Seconds(), Timestamp: time.Now()}
}
