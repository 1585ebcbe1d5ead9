// Package ledger is the authoritative record of the latest known build per
// branch. Entries advance monotonically: a commit is ignored unless its build
// reference is strictly newer than the stored one, using the same ordering
// the scheduler uses for candidate selection.
package ledger

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opsforge/buildsync/pkg/buildref"
)

// Entry statuses reported through last_status.
const (
	StatusSynced   = "synced"
	StatusUpToDate = "up-to-date"
	StatusFailed   = "failed"
)

// Entry is the ledger record for one branch. Created on first successful
// synchronization; LatestBuildDate/Number update only after a fully
// successful download+extract+commit.
type Entry struct {
	BranchID          uint       `gorm:"primaryKey;column:branch_id"`
	LatestBuildDate   *time.Time `gorm:"column:latest_build_date"`
	LatestBuildNumber int        `gorm:"column:latest_build_number"`
	LastCheckedTime   *time.Time `gorm:"column:last_checked_time"`
	LastSuccessTime   *time.Time `gorm:"column:last_success_time"`
	LastStatus        string     `gorm:"column:last_status"`
	LastError         string     `gorm:"column:last_error"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "version_ledger" }

// Ref returns the stored build reference, zero when no build has been
// committed yet.
func (e *Entry) Ref() buildref.Ref {
	if e == nil || e.LatestBuildDate == nil {
		return buildref.Ref{}
	}
	return buildref.Ref{Date: *e.LatestBuildDate, Number: e.LatestBuildNumber}
}

// Store provides ledger operations.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the version_ledger table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Entry{})
}

// Read retrieves the entry for a branch. Returns nil, nil when the branch has
// never been synchronized.
func (s *Store) Read(branchID uint) (*Entry, error) {
	var entry Entry
	if err := s.db.First(&entry, "branch_id = ?", branchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	return &entry, nil
}

// List returns all ledger entries ordered by branch ID.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	if err := s.db.Order("branch_id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// Commit records ref as the branch's latest build. The write happens only if
// ref is strictly newer than the stored reference; otherwise Commit is a
// no-op and returns false so the caller can log it. The guard runs inside a
// transaction to protect against out-of-order commits from overlapping
// cycles.
func (s *Store) Commit(branchID uint, ref buildref.Ref) (bool, error) {
	if ref.IsZero() {
		return false, fmt.Errorf("commit ledger entry: zero build reference")
	}

	committed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// No row lock needed: all mutations for a branch happen under the
		// scheduler's per-branch exclusion, and sqlite has no FOR UPDATE.
		var current Entry
		err := tx.First(&current, "branch_id = ?", branchID).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}

		if err == nil && !ref.NewerThan(current.Ref()) {
			return nil // Stale or duplicate commit; keep the stored reference.
		}

		now := time.Now()
		date := ref.Date
		entry := Entry{
			BranchID:          branchID,
			LatestBuildDate:   &date,
			LatestBuildNumber: ref.Number,
			LastCheckedTime:   &now,
			LastSuccessTime:   &now,
			LastStatus:        StatusSynced,
			LastError:         "",
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "branch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"latest_build_date", "latest_build_number",
				"last_checked_time", "last_success_time",
				"last_status", "last_error", "updated_at",
			}),
		}).Create(&entry).Error; err != nil {
			return err
		}
		committed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("commit ledger entry: %w", err)
	}
	return committed, nil
}

// TouchChecked records that a check occurred, independent of Commit. The
// stored build reference is never modified here. status and errMsg describe
// the outcome of the check for the operational surface.
func (s *Store) TouchChecked(branchID uint, at time.Time, status, errMsg string) error {
	entry := Entry{
		BranchID:        branchID,
		LastCheckedTime: &at,
		LastStatus:      status,
		LastError:       errMsg,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_checked_time", "last_status", "last_error", "updated_at",
		}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("touch ledger entry: %w", err)
	}
	return nil
}
