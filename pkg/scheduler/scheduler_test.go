package scheduler

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/buildref"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/repository"
	"github.com/opsforge/buildsync/pkg/retention"
)

// fakeRepo is an in-memory repository.Client. Download writes a small but
// valid tar.gz so extraction exercises the real pipeline.
type fakeRepo struct {
	mu        sync.Mutex
	listing   []repository.Candidate
	listErr   error
	dlErr     error
	dlBlock   chan struct{} // when non-nil, Download parks until closed
	corrupt   bool          // write garbage instead of a valid archive
	downloads int
}

func (f *fakeRepo) ListCandidates(ctx context.Context, prefix string) ([]repository.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.listing) == 0 {
		return nil, repository.ErrRepositoryEmpty
	}
	out := make([]repository.Candidate, len(f.listing))
	copy(out, f.listing)
	return out, nil
}

func (f *fakeRepo) Download(ctx context.Context, prefix string, c repository.Candidate, destPath string) (int64, error) {
	f.mu.Lock()
	f.downloads++
	block := f.dlBlock
	dlErr := f.dlErr
	corrupt := f.corrupt
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if dlErr != nil {
		return 0, dlErr
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	if corrupt {
		return 7, os.WriteFile(destPath, []byte("garbage"), 0o644)
	}
	return writeArchive(destPath, map[string]string{"bin/run.sh": "#!/bin/sh\necho " + c.Name})
}

func (f *fakeRepo) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

func writeArchive(path string, files map[string]string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, err
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return 0, err
		}
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type testEnv struct {
	db     *gorm.DB
	reg    *registry.Store
	led    *ledger.Store
	aud    *audit.Store
	repo   *fakeRepo
	sched  *Scheduler
	target registry.SyncTarget
	cfg    *Config
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	reg := registry.NewStore(db)
	require.NoError(t, reg.AutoMigrate())
	led := ledger.NewStore(db)
	require.NoError(t, led.AutoMigrate())
	aud := audit.NewStore(db)
	require.NoError(t, aud.AutoMigrate())
	ret := retention.NewManager(db, nil)
	require.NoError(t, ret.AutoMigrate())

	component := registry.Component{Key: "orderservice", ProjectKey: "acme", SyncEnabled: true}
	require.NoError(t, db.Create(&component).Error)
	branch := registry.Branch{ComponentID: component.ID, Name: "main", Status: registry.BranchStatusActive}
	require.NoError(t, db.Create(&branch).Error)

	cfg := DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Concurrency = 4
	cfg.RetentionLimit = 3
	cfg.PollInterval = 10 * time.Millisecond

	repo := &fakeRepo{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := New(cfg, reg, led, ret, aud, repo, logger)

	return &testEnv{
		db:     db,
		reg:    reg,
		led:    led,
		aud:    aud,
		repo:   repo,
		sched:  sched,
		target: registry.SyncTarget{Component: component, Branch: branch},
		cfg:    cfg,
	}
}

func candidate(day, number int) repository.Candidate {
	ref := buildref.New(time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC), number)
	return repository.Candidate{
		Ref:  ref,
		Name: fmt.Sprintf("orderservice_202501%02d_%d.tar.gz", day, number),
	}
}

func TestSyncBranchCommitsNewBuild(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID

	_, err := env.led.Commit(branchID, buildref.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4))
	require.NoError(t, err)

	env.repo.listing = []repository.Candidate{candidate(1, 4), candidate(2, 1)}

	ok := env.sched.SyncBranch(context.Background(), env.target)
	require.True(t, ok)

	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, buildref.New(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 1), entry.Ref())
	assert.Equal(t, ledger.StatusSynced, entry.LastStatus)
	assert.Empty(t, entry.LastError)

	// The live tree contains the extracted archive contents.
	liveDir := env.sched.layout.LiveDir(env.target.Component, env.target.Branch)
	_, err = os.Stat(filepath.Join(liveDir, "bin", "run.sh"))
	assert.NoError(t, err)

	// Detection, download, and extraction each left an audit trail.
	events, _, _, err := env.aud.List(audit.ListFilter{BranchID: &branchID}, 50, "")
	require.NoError(t, err)
	categories := map[audit.Category]bool{}
	for _, ev := range events {
		categories[ev.Category] = true
	}
	assert.True(t, categories[audit.CategoryDetect])
	assert.True(t, categories[audit.CategoryDownload])
	assert.True(t, categories[audit.CategoryExtract])
}

func TestSyncBranchUpToDate(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID
	stored := buildref.New(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 1)

	_, err := env.led.Commit(branchID, stored)
	require.NoError(t, err)
	env.repo.listing = []repository.Candidate{candidate(2, 1)}

	ok := env.sched.SyncBranch(context.Background(), env.target)
	require.True(t, ok)

	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	assert.Equal(t, stored, entry.Ref())
	assert.Equal(t, ledger.StatusUpToDate, entry.LastStatus)
	assert.Zero(t, env.repo.downloadCount())
}

func TestSyncBranchEmptyRepository(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID

	ok := env.sched.SyncBranch(context.Background(), env.target)
	require.True(t, ok)

	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Ref().IsZero())
	assert.Equal(t, ledger.StatusUpToDate, entry.LastStatus)
}

func TestSyncBranchDownloadFailureLeavesLedger(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID
	stored := buildref.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)

	_, err := env.led.Commit(branchID, stored)
	require.NoError(t, err)
	env.repo.listing = []repository.Candidate{candidate(2, 1)}
	env.repo.dlErr = repository.ErrDownloadTimeout

	ok := env.sched.SyncBranch(context.Background(), env.target)
	require.True(t, ok)

	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	assert.Equal(t, stored, entry.Ref())
	assert.Equal(t, ledger.StatusFailed, entry.LastStatus)
	assert.Contains(t, entry.LastError, "timed out")
}

func TestSyncBranchCorruptArchiveLeavesLiveTree(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID

	// First sync materializes a good build.
	env.repo.listing = []repository.Candidate{candidate(1, 1)}
	require.True(t, env.sched.SyncBranch(context.Background(), env.target))
	liveDir := env.sched.layout.LiveDir(env.target.Component, env.target.Branch)
	_, err := os.Stat(filepath.Join(liveDir, "bin", "run.sh"))
	require.NoError(t, err)

	// The next build arrives corrupt: ledger and live tree must not move.
	env.repo.listing = []repository.Candidate{candidate(2, 1)}
	env.repo.corrupt = true
	require.True(t, env.sched.SyncBranch(context.Background(), env.target))

	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	assert.Equal(t, buildref.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1), entry.Ref())
	assert.Equal(t, ledger.StatusFailed, entry.LastStatus)
	_, err = os.Stat(filepath.Join(liveDir, "bin", "run.sh"))
	assert.NoError(t, err)

	// The bad archive stays staged for inspection.
	archive := env.sched.layout.ArchivePath(env.target.Component, env.target.Branch, candidate(2, 1).Name)
	_, err = os.Stat(archive)
	assert.NoError(t, err)
}

func TestSyncBranchMutualExclusion(t *testing.T) {
	env := setupEnv(t)
	branchID := env.target.Branch.ID

	block := make(chan struct{})
	env.repo.listing = []repository.Candidate{candidate(2, 1)}
	env.repo.dlBlock = block

	done := make(chan bool, 1)
	go func() {
		done <- env.sched.SyncBranch(context.Background(), env.target)
	}()

	// Wait until the first job is parked inside Download.
	require.Eventually(t, func() bool {
		return env.repo.downloadCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A second attempt for the same branch is refused outright.
	assert.False(t, env.sched.SyncBranch(context.Background(), env.target))

	close(block)
	assert.True(t, <-done)

	// Exactly one download and one committed build.
	assert.Equal(t, 1, env.repo.downloadCount())
	entry, err := env.led.Read(branchID)
	require.NoError(t, err)
	assert.Equal(t, buildref.New(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 1), entry.Ref())
}

func TestRunCycleSyncsAllActiveBranches(t *testing.T) {
	env := setupEnv(t)

	second := registry.Branch{ComponentID: env.target.Component.ID, Name: "release-2.0", Status: registry.BranchStatusActive}
	require.NoError(t, env.db.Create(&second).Error)
	dormant := registry.Branch{ComponentID: env.target.Component.ID, Name: "old", Status: registry.BranchStatusInactive}
	require.NoError(t, env.db.Create(&dormant).Error)

	env.repo.listing = []repository.Candidate{candidate(3, 2)}
	require.NoError(t, env.sched.RunCycle(context.Background()))

	want := buildref.New(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), 2)
	for _, id := range []uint{env.target.Branch.ID, second.ID} {
		entry, err := env.led.Read(id)
		require.NoError(t, err)
		require.NotNil(t, entry, "branch %d", id)
		assert.Equal(t, want, entry.Ref())
	}

	// The inactive branch was never considered.
	entry, err := env.led.Read(dormant.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRetiredTreeKeptForRetention(t *testing.T) {
	env := setupEnv(t)

	env.repo.listing = []repository.Candidate{candidate(1, 1)}
	require.True(t, env.sched.SyncBranch(context.Background(), env.target))
	env.repo.listing = []repository.Candidate{candidate(2, 1)}
	require.True(t, env.sched.SyncBranch(context.Background(), env.target))

	// The displaced first build sits in its retired directory.
	retired := env.sched.layout.RetiredDir(env.target.Component, env.target.Branch,
		buildref.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1))
	_, err := os.Stat(filepath.Join(retired, "bin", "run.sh"))
	assert.NoError(t, err)
}

func TestPathTemplateErrorFailsBranchOnly(t *testing.T) {
	env := setupEnv(t)
	env.target.Branch.PathPattern = "{project}/{nonsense}"

	ok := env.sched.SyncBranch(context.Background(), env.target)
	require.True(t, ok)

	entry, err := env.led.Read(env.target.Branch.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusFailed, entry.LastStatus)
	assert.Zero(t, env.repo.downloadCount())
}
