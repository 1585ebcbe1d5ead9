// Package scheduler drives the poll-detect-download-extract-retain pipeline.
// A single loop enumerates active branches each cycle and dispatches one job
// per branch onto a bounded set of workers. Jobs for the same branch are
// mutually exclusive: a branch still in flight is skipped, never queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/repository"
	"github.com/opsforge/buildsync/pkg/retention"
)

// Scheduler owns the synchronization loop and its concurrency control.
type Scheduler struct {
	cfg       *Config
	registry  *registry.Store
	ledger    *ledger.Store
	retention *retention.Manager
	audit     *audit.Store
	repo      repository.Client
	layout    Layout
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[uint]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg *Config, reg *registry.Store, led *ledger.Store, ret *retention.Manager,
	aud *audit.Store, repo repository.Client, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		cfg:       cfg,
		registry:  reg,
		ledger:    led,
		retention: ret,
		audit:     aud,
		repo:      repo,
		layout:    Layout{Base: cfg.BaseDir},
		logger:    logger,
		inflight:  make(map[uint]struct{}),
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Run executes cycles until the context is cancelled, sleeping PollInterval
// between them. Cancellation stops new cycles immediately and waits for
// in-flight jobs to reach their next safe boundary.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("synchronization scheduler disabled")
		return
	}

	s.logger.Info("synchronization scheduler starting",
		"concurrency", s.cfg.Concurrency,
		"pollInterval", s.cfg.PollInterval.String(),
		"retentionLimit", s.cfg.RetentionLimit)

	for {
		if err := s.RunCycle(ctx); err != nil {
			s.logger.Error("cycle deferred", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down, waiting for in-flight jobs")
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// RunCycle enumerates active component/branch pairs and dispatches one job
// per pair under the global concurrency bound, then waits for the batch to
// settle. An unreadable snapshot defers the entire cycle.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	targets, err := s.registry.ListActive()
	if err != nil {
		s.recordAudit(nil, audit.SeverityError, audit.CategoryError,
			"branch snapshot unavailable, cycle deferred: "+err.Error())
		return err
	}

	s.logger.Debug("cycle starting", "targets", len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if !s.tryAcquire(target.Branch.ID) {
			s.recordAudit(&target.Branch.ID, audit.SeverityInfo, audit.CategoryDetect,
				"synchronization already in progress, skipped")
			continue
		}

		s.sem <- struct{}{}
		wg.Add(1)
		s.wg.Add(1)
		go func(tgt registry.SyncTarget) {
			defer wg.Done()
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.release(tgt.Branch.ID)
			s.runJob(ctx, tgt)
		}(target)
	}
	wg.Wait()
	return nil
}

// SyncBranch runs one synchronization attempt for the target, honoring the
// per-branch exclusion. Returns false when a job for the branch is already in
// flight; the caller performs no filesystem mutation in that case.
func (s *Scheduler) SyncBranch(ctx context.Context, target registry.SyncTarget) bool {
	if !s.tryAcquire(target.Branch.ID) {
		s.recordAudit(&target.Branch.ID, audit.SeverityInfo, audit.CategoryDetect,
			"synchronization already in progress, skipped")
		return false
	}
	defer s.release(target.Branch.ID)
	s.runJob(ctx, target)
	return true
}

func (s *Scheduler) tryAcquire(branchID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[branchID]; busy {
		return false
	}
	s.inflight[branchID] = struct{}{}
	return true
}

func (s *Scheduler) release(branchID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, branchID)
}

// recordAudit appends an audit event; a sink failure must never abort a job.
func (s *Scheduler) recordAudit(branchID *uint, severity audit.Severity, category audit.Category, detail string) {
	if err := s.audit.Record(branchID, severity, category, detail); err != nil {
		s.logger.Error("failed to append audit event", "error", err, "detail", detail)
	}
}
