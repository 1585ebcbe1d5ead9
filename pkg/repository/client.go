// Package repository queries the remote artifact repository for candidate
// builds and downloads them to local staging. Failures are classified so the
// scheduler can tell transient network conditions (retried next cycle) from
// misconfiguration.
package repository

import (
	"context"
	"errors"

	"github.com/opsforge/buildsync/pkg/buildref"
)

// Error taxonomy. Callers test with errors.Is.
var (
	// ErrRepositoryEmpty means no artifacts exist under the prefix yet.
	// It is expected for young branches and is not a failure.
	ErrRepositoryEmpty = errors.New("repository: no artifacts under prefix")

	// ErrUnreachable covers network and auth failures talking to the
	// repository. Transient; the branch retries next cycle.
	ErrUnreachable = errors.New("repository: unreachable")

	// ErrDownloadTimeout means the artifact stream stalled past the
	// configured timeout.
	ErrDownloadTimeout = errors.New("repository: download timed out")

	// ErrDownloadIncomplete means the received bytes did not match the
	// repository-reported size or checksum.
	ErrDownloadIncomplete = errors.New("repository: download incomplete")
)

// Candidate is one listed build artifact: its parsed Build Reference plus the
// listing metadata needed to download and verify it.
type Candidate struct {
	Ref    buildref.Ref
	Name   string
	Size   int64
	SHA256 string
}

// Client is the repository access contract the scheduler depends on.
type Client interface {
	// ListCandidates queries the repository once under the resolved prefix
	// and returns the finite set of candidate builds. Returns
	// ErrRepositoryEmpty when no artifacts exist yet.
	ListCandidates(ctx context.Context, prefix string) ([]Candidate, error)

	// Download streams the artifact to destPath, writing a temporary file
	// and renaming it into place only on full, verified success. Returns
	// bytes written.
	Download(ctx context.Context, prefix string, c Candidate, destPath string) (int64, error)
}

// SelectNewest returns the single newest candidate per the Build Reference
// ordering, or false for an empty list.
func SelectNewest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Ref.NewerThan(best.Ref) {
			best = c
		}
	}
	return best, true
}
