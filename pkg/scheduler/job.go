package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/extract"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/pattern"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/repository"
)

// jobState tracks where a branch job is in its lifecycle, for logging.
type jobState string

const (
	stateChecking    jobState = "checking"
	stateUpToDate    jobState = "up-to-date"
	stateDownloading jobState = "downloading"
	stateExtracting  jobState = "extracting"
	stateCommitting  jobState = "committing"
	stateRetaining   jobState = "retaining"
	stateFailed      jobState = "failed"
)

// runJob executes one synchronization attempt for a branch. The caller holds
// the branch's exclusion lock. Failures are isolated: every exit path returns
// the branch to idle without affecting other jobs or the scheduler loop.
func (s *Scheduler) runJob(ctx context.Context, target registry.SyncTarget) {
	component := target.Component
	branch := target.Branch
	branchID := branch.ID
	log := s.logger.With(
		"component", component.Key,
		"branch", branch.Name,
		"branchID", branchID)

	started := time.Now()
	state := stateChecking
	log.Debug("job started", "state", state)

	template := branch.PathPattern
	if template == "" {
		template = s.cfg.DefaultTemplate
	}
	prefix, err := pattern.Resolve(template, pattern.Values{
		ProjectKey: component.ProjectKey,
		Component:  component.Key,
		Branch:     branch.Name,
	})
	if err != nil {
		// Misconfiguration: fatal for this branch's cycle only.
		state = stateFailed
		log.Error("path template unresolvable", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityError, audit.CategoryError, err.Error())
		s.touchChecked(branchID, ledger.StatusFailed, err.Error(), log)
		return
	}

	candidates, err := s.repo.ListCandidates(ctx, prefix)
	if errors.Is(err, repository.ErrRepositoryEmpty) {
		s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryDetect,
			"no artifacts published under "+prefix)
		s.touchChecked(branchID, ledger.StatusUpToDate, "", log)
		return
	}
	if err != nil {
		// Transient: retried next cycle, no ledger mutation.
		state = stateFailed
		log.Warn("candidate listing failed", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityWarning, audit.CategoryDetect, err.Error())
		s.touchChecked(branchID, ledger.StatusFailed, err.Error(), log)
		return
	}

	newest, ok := repository.SelectNewest(candidates)
	if !ok {
		s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryDetect,
			"no artifacts published under "+prefix)
		s.touchChecked(branchID, ledger.StatusUpToDate, "", log)
		return
	}

	entry, err := s.ledger.Read(branchID)
	if err != nil {
		state = stateFailed
		log.Error("ledger read failed", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityError, audit.CategoryError, err.Error())
		return
	}
	stored := entry.Ref()

	if !newest.Ref.NewerThan(stored) {
		state = stateUpToDate
		log.Debug("branch up to date", "state", state, "build", stored.String())
		s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryDetect,
			"up to date at build "+stored.String())
		s.touchChecked(branchID, ledger.StatusUpToDate, "", log)
		return
	}

	s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryDetect,
		fmt.Sprintf("new build %s detected (stored %s)", newest.Ref.String(), stored.String()))

	// Safe boundary: a shutdown between detection and download abandons the
	// job cleanly; the next cycle picks the build up again.
	if ctx.Err() != nil {
		log.Info("job abandoned before download, shutting down")
		return
	}

	state = stateDownloading
	log.Info("downloading", "state", state, "artifact", newest.Name, "build", newest.Ref.String())
	archivePath := s.layout.ArchivePath(component, branch, newest.Name)
	written, err := s.repo.Download(ctx, prefix, newest, archivePath)
	if err != nil {
		state = stateFailed
		log.Warn("download failed", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityWarning, audit.CategoryDownload, err.Error())
		s.touchChecked(branchID, ledger.StatusFailed, err.Error(), log)
		return
	}
	s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryDownload,
		fmt.Sprintf("downloaded %s (%d bytes)", newest.Name, written))

	state = stateExtracting
	log.Info("extracting", "state", state, "archive", archivePath)
	liveDir := s.layout.LiveDir(component, branch)
	var retirePath string
	if !stored.IsZero() {
		retirePath = s.layout.RetiredDir(component, branch, stored)
	}
	if err := extract.Extract(archivePath, liveDir, extract.Options{RetirePath: retirePath}); err != nil {
		// Archive stays in staging for inspection; ledger not advanced.
		state = stateFailed
		log.Error("extraction failed", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityError, audit.CategoryExtract,
			err.Error()+" (archive retained for inspection)")
		s.touchChecked(branchID, ledger.StatusFailed, err.Error(), log)
		return
	}
	s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryExtract,
		fmt.Sprintf("extracted build %s to %s", newest.Ref.String(), liveDir))

	state = stateCommitting
	committed, err := s.ledger.Commit(branchID, newest.Ref)
	if err != nil {
		state = stateFailed
		log.Error("ledger commit failed", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityError, audit.CategoryError, err.Error())
		return
	}
	if !committed {
		// The guard rejected an out-of-order commit; log the no-op.
		s.recordAudit(&branchID, audit.SeverityWarning, audit.CategoryDetect,
			"commit of build "+newest.Ref.String()+" ignored, ledger already newer")
		return
	}

	state = stateRetaining
	pruned, err := s.retention.Retain(branchID, newest.Ref, archivePath,
		s.layout.RetiredDir(component, branch, newest.Ref), s.cfg.RetentionLimit)
	if err != nil {
		// Cleanup trouble never fails the committed sync.
		log.Warn("retention pruning incomplete", "state", state, "error", err)
		s.recordAudit(&branchID, audit.SeverityWarning, audit.CategoryCleanup, err.Error())
	}
	for _, victim := range pruned {
		s.recordAudit(&branchID, audit.SeverityInfo, audit.CategoryCleanup,
			"pruned build "+victim.Ref.String())
	}

	log.Info("branch synchronized",
		"build", newest.Ref.String(),
		"version", branch.Version.String(),
		"duration", time.Since(started).String())
}

// touchChecked updates the ledger check bookkeeping; failures are logged but
// never escalate, the ledger's build reference is untouched either way.
func (s *Scheduler) touchChecked(branchID uint, status, errMsg string, log *slog.Logger) {
	if err := s.ledger.TouchChecked(branchID, time.Now(), status, errMsg); err != nil {
		log.Error("failed to record check time", "error", err)
	}
}
