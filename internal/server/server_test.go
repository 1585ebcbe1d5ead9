package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/repository"
	"github.com/opsforge/buildsync/pkg/retention"
	"github.com/opsforge/buildsync/pkg/scheduler"
)

// emptyRepo reports an empty remote repository, so an on-demand sync exercises
// the full path without needing archives on disk.
type emptyRepo struct{}

func (emptyRepo) ListCandidates(ctx context.Context, prefix string) ([]repository.Candidate, error) {
	return nil, repository.ErrRepositoryEmpty
}

func (emptyRepo) Download(ctx context.Context, prefix string, c repository.Candidate, destPath string) (int64, error) {
	return 0, repository.ErrUnreachable
}

func setupServer(t *testing.T) (*httptest.Server, *gorm.DB, registry.SyncTarget) {
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

	cfg := scheduler.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(cfg, reg, led, ret, aud, emptyRepo{}, logger)

	srv := New(db, reg, led, aud, sched, logger)
	ts := httptest.NewServer(srv.MountRoutes())
	t.Cleanup(ts.Close)
	return ts, db, registry.SyncTarget{Component: component, Branch: branch}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := setupServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	var ready map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/readyz", &ready))
	assert.Equal(t, "ready", ready["status"])
}

func TestListBranches(t *testing.T) {
	ts, _, target := setupServer(t)

	var body struct {
		Items []branchResponse `json:"items"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/branches", &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, target.Branch.ID, body.Items[0].ID)
	assert.Equal(t, "orderservice", body.Items[0].ComponentKey)
	assert.Equal(t, "acme", body.Items[0].ProjectKey)
	assert.Equal(t, "main", body.Items[0].Name)
	assert.Equal(t, "active", body.Items[0].Status)
	assert.Equal(t, "0.0.0.0", body.Items[0].Version)
}

func TestLedgerLifecycle(t *testing.T) {
	ts, _, target := setupServer(t)
	base := ts.URL + "/api/v1/ledger"
	branchURL := base + "/" + itoa(target.Branch.ID)

	// Never synchronized: individual lookup is a 404, the list is empty.
	assert.Equal(t, http.StatusNotFound, getJSON(t, branchURL, nil))
	var list struct {
		Items []ledgerResponse `json:"items"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, base, &list))
	assert.Empty(t, list.Items)

	// On-demand sync against an empty repository records an up-to-date check.
	var synced ledgerResponse
	assert.Equal(t, http.StatusOK,
		postJSON(t, ts.URL+"/api/v1/branches/"+itoa(target.Branch.ID)+"/sync", &synced))
	assert.Equal(t, ledger.StatusUpToDate, synced.LastStatus)
	assert.Equal(t, "none", synced.LatestBuild)

	var entry ledgerResponse
	assert.Equal(t, http.StatusOK, getJSON(t, branchURL, &entry))
	assert.Equal(t, target.Branch.ID, entry.BranchID)
	assert.NotNil(t, entry.LastCheckedTime)
}

func TestSyncUnknownBranch(t *testing.T) {
	ts, _, _ := setupServer(t)
	assert.Equal(t, http.StatusNotFound, postJSON(t, ts.URL+"/api/v1/branches/9999/sync", nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/v1/branches/bogus/sync", nil))
}

func TestListAuditEvents(t *testing.T) {
	ts, db, target := setupServer(t)
	aud := audit.NewStore(db)

	require.NoError(t, aud.Record(&target.Branch.ID, audit.SeverityInfo, audit.CategoryDetect, "new build detected"))
	require.NoError(t, aud.Record(&target.Branch.ID, audit.SeverityWarning, audit.CategoryDownload, "download failed"))
	require.NoError(t, aud.Record(nil, audit.SeverityError, audit.CategoryError, "cycle deferred"))

	var all eventListResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/audit/events", &all))
	assert.Equal(t, 3, all.TotalSize)
	assert.Len(t, all.Items, 3)

	var warnings eventListResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/audit/events?severity=warning", &warnings))
	require.Len(t, warnings.Items, 1)
	assert.Equal(t, "download failed", warnings.Items[0].Detail)

	var scoped eventListResponse
	assert.Equal(t, http.StatusOK,
		getJSON(t, ts.URL+"/api/v1/audit/events?branchId="+itoa(target.Branch.ID), &scoped))
	assert.Equal(t, 2, scoped.TotalSize)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/audit/events?branchId=bogus", nil))
}

func itoa(id uint) string {
	return fmt.Sprint(id)
}
