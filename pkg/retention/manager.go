// Package retention bounds how many synchronized builds stay materialized on
// disk per branch. Each successful sync registers the new build; entries
// beyond the configured limit are pruned oldest-first, removing both the
// staged archive and the retired extracted tree.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opsforge/buildsync/pkg/buildref"
)

// Record is one retained build for a branch. ExtractedPath is where the
// build's tree lives once a newer build displaces it from the live directory.
type Record struct {
	ID            uint      `gorm:"primaryKey"`
	BranchID      uint      `gorm:"column:branch_id;uniqueIndex:idx_retention_branch_build,priority:1;not null"`
	BuildDate     time.Time `gorm:"column:build_date;uniqueIndex:idx_retention_branch_build,priority:2;not null"`
	BuildNumber   int       `gorm:"column:build_number;uniqueIndex:idx_retention_branch_build,priority:3;not null"`
	ArchivePath   string    `gorm:"column:archive_path"`
	ExtractedPath string    `gorm:"column:extracted_path"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Record) TableName() string { return "retention_sets" }

// Ref returns the record's build reference.
func (r *Record) Ref() buildref.Ref {
	return buildref.Ref{Date: r.BuildDate, Number: r.BuildNumber}
}

// Manager owns retention set bookkeeping and pruning.
type Manager struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewManager creates a new Manager.
func NewManager(db *gorm.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, logger: logger}
}

// AutoMigrate creates or updates the retention_sets table.
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(&Record{})
}

// Pruned describes one evicted build.
type Pruned struct {
	Ref           buildref.Ref
	ArchivePath   string
	ExtractedPath string
}

// Retain registers a newly synchronized build and prunes entries beyond
// limit, oldest first. File deletion is best-effort: failures are logged as
// warnings and the record is still dropped so the same entry is not retried
// forever. Re-running with an already-pruned set is a no-op.
func (m *Manager) Retain(branchID uint, ref buildref.Ref, archivePath, extractedPath string, limit int) ([]Pruned, error) {
	record := Record{
		BranchID:      branchID,
		BuildDate:     ref.Date,
		BuildNumber:   ref.Number,
		ArchivePath:   archivePath,
		ExtractedPath: extractedPath,
	}
	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch_id"}, {Name: "build_date"}, {Name: "build_number"}},
		DoNothing: true,
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("register retained build: %w", err)
	}

	if limit <= 0 {
		return nil, nil
	}

	records, err := m.List(branchID)
	if err != nil {
		return nil, err
	}
	if len(records) <= limit {
		return nil, nil
	}

	// List returns newest first; everything past the limit is evicted.
	var pruned []Pruned
	for _, victim := range records[limit:] {
		m.deleteFiles(&victim)
		if err := m.db.Delete(&Record{}, "id = ?", victim.ID).Error; err != nil {
			return pruned, fmt.Errorf("drop retention record: %w", err)
		}
		pruned = append(pruned, Pruned{
			Ref:           victim.Ref(),
			ArchivePath:   victim.ArchivePath,
			ExtractedPath: victim.ExtractedPath,
		})
	}
	return pruned, nil
}

// List returns the branch's retention set ordered newest first.
func (m *Manager) List(branchID uint) ([]Record, error) {
	var records []Record
	err := m.db.Where("branch_id = ?", branchID).
		Order("build_date DESC, build_number DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list retention set: %w", err)
	}
	return records, nil
}

// Count returns the size of a branch's retention set.
func (m *Manager) Count(branchID uint) (int, error) {
	var n int64
	if err := m.db.Model(&Record{}).Where("branch_id = ?", branchID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count retention set: %w", err)
	}
	return int(n), nil
}

// deleteFiles removes the victim's staged archive and extracted tree.
// Best-effort: the caller drops the record regardless.
func (m *Manager) deleteFiles(victim *Record) {
	if victim.ArchivePath != "" {
		if err := os.Remove(victim.ArchivePath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to delete staged archive",
				"branchID", victim.BranchID,
				"build", victim.Ref().String(),
				"path", victim.ArchivePath,
				"error", err)
		}
	}
	if victim.ExtractedPath != "" {
		if err := os.RemoveAll(victim.ExtractedPath); err != nil {
			m.logger.Warn("failed to delete extracted tree",
				"branchID", victim.BranchID,
				"build", victim.Ref().String(),
				"path", victim.ExtractedPath,
				"error", err)
		}
	}
}
