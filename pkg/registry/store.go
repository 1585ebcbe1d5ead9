package registry

import (
	"fmt"

	"gorm.io/gorm"
)

// Store provides read access to component and branch records. The engine
// treats these tables as externally administered; the only writes here are
// the optional definition import used to seed a fresh database.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the components and branches tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Component{}); err != nil {
		return fmt.Errorf("auto-migrate components: %w", err)
	}
	if err := s.db.AutoMigrate(&Branch{}); err != nil {
		return fmt.Errorf("auto-migrate branches: %w", err)
	}
	return nil
}

// ListActive returns the snapshot of sync targets for one cycle: every branch
// with status active whose component has synchronization enabled.
func (s *Store) ListActive() ([]SyncTarget, error) {
	var components []Component
	if err := s.db.Where("sync_enabled = ?", true).Order("key ASC").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}

	byID := make(map[uint]Component, len(components))
	ids := make([]uint, 0, len(components))
	for _, c := range components {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var branches []Branch
	if err := s.db.Where("component_id IN ? AND status = ?", ids, BranchStatusActive).
		Order("component_id ASC, name ASC").Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	targets := make([]SyncTarget, 0, len(branches))
	for _, b := range branches {
		targets = append(targets, SyncTarget{Component: byID[b.ComponentID], Branch: b})
	}
	return targets, nil
}

// GetBranch retrieves a branch by ID. Returns nil, nil when not found.
func (s *Store) GetBranch(branchID uint) (*Branch, error) {
	var branch Branch
	if err := s.db.First(&branch, "id = ?", branchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return &branch, nil
}

// GetTarget retrieves a branch together with its owning component. Returns
// nil, nil when the branch does not exist.
func (s *Store) GetTarget(branchID uint) (*SyncTarget, error) {
	branch, err := s.GetBranch(branchID)
	if err != nil || branch == nil {
		return nil, err
	}
	var component Component
	if err := s.db.First(&component, "id = ?", branch.ComponentID).Error; err != nil {
		return nil, fmt.Errorf("get component: %w", err)
	}
	return &SyncTarget{Component: component, Branch: *branch}, nil
}

// ListBranches returns all branches joined with their component, for the
// operational API.
func (s *Store) ListBranches() ([]SyncTarget, error) {
	var components []Component
	if err := s.db.Order("key ASC").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	byID := make(map[uint]Component, len(components))
	for _, c := range components {
		byID[c.ID] = c
	}

	var branches []Branch
	if err := s.db.Order("component_id ASC, name ASC").Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	targets := make([]SyncTarget, 0, len(branches))
	for _, b := range branches {
		targets = append(targets, SyncTarget{Component: byID[b.ComponentID], Branch: b})
	}
	return targets, nil
}
