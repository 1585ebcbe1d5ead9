// Package audit is the append-only record of every detection, download,
// extraction, cleanup, and failure event the engine produces. The engine only
// appends; listing and retention belong to the operational surface.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Severity of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Category of an audit event.
type Category string

const (
	CategoryDetect   Category = "detect"
	CategoryDownload Category = "download"
	CategoryExtract  Category = "extract"
	CategoryCleanup  Category = "cleanup"
	CategoryError    Category = "error"
)

// Event is one immutable audit record. BranchID is nil for events not tied to
// a single branch (e.g. a deferred cycle).
type Event struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	BranchID  *uint     `gorm:"column:branch_id;index"`
	Severity  Severity  `gorm:"column:severity;index;not null"`
	Category  Category  `gorm:"column:category;index;not null"`
	Detail    string    `gorm:"column:detail"`
	CreatedAt time.Time `gorm:"column:created_at;index;not null"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }

// Store provides append and list operations for audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Append creates a new immutable audit event. ID and CreatedAt are filled in
// when empty.
func (s *Store) Append(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Record is an Append convenience for the engine's call sites.
func (s *Store) Record(branchID *uint, severity Severity, category Category, detail string) error {
	return s.Append(&Event{BranchID: branchID, Severity: severity, Category: category, Detail: detail})
}

// ListFilter defines filters for listing audit events.
type ListFilter struct {
	BranchID *uint
	Severity string
	Category string
}

// List returns paginated audit events matching the filter, newest first.
// pageToken is an RFC3339Nano timestamp; events created before it are
// returned.
func (s *Store) List(filter ListFilter, pageSize int, pageToken string) ([]Event, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Event{})
		if filter.BranchID != nil {
			q = q.Where("branch_id = ?", *filter.BranchID)
		}
		if filter.Severity != "" {
			q = q.Where("severity = ?", filter.Severity)
		}
		if filter.Category != "" {
			q = q.Where("category = ?", filter.Category)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := buildQuery(s.db).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Event
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes audit events created before the cutoff. Used only
// by the retention worker, never by the engine itself.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
