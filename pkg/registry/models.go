// Package registry holds the Component and Branch administration records the
// engine synchronizes from. The records are owned by external administration;
// the engine only reads a snapshot of them at the start of each cycle.
package registry

import (
	"fmt"
	"time"
)

// BranchStatus is the lifecycle state of a branch. Only active branches
// participate in synchronization.
type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "active"
	BranchStatusInactive BranchStatus = "inactive"
	BranchStatusArchived BranchStatus = "archived"
)

// IncrementPolicy controls which field of the version tuple advances when
// administration cuts a new release.
type IncrementPolicy string

const (
	IncrementMajor    IncrementPolicy = "major"
	IncrementMinor    IncrementPolicy = "minor"
	IncrementBuild    IncrementPolicy = "build"
	IncrementRevision IncrementPolicy = "revision"
)

// Component is a deployable unit belonging to a project. Created and mutated
// by administration; synchronization only reads it.
type Component struct {
	ID          uint      `gorm:"primaryKey"`
	Key         string    `gorm:"column:key;uniqueIndex;not null"`
	ProjectKey  string    `gorm:"column:project_key;index;not null"`
	DisplayName string    `gorm:"column:display_name"`
	SyncEnabled bool      `gorm:"column:sync_enabled"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Component) TableName() string { return "components" }

// VersionTuple is the administration-owned four-part version of a branch.
// All fields are non-negative.
type VersionTuple struct {
	Major int `gorm:"column:version_major;default:0" json:"major"`
	Minor int `gorm:"column:version_minor;default:0" json:"minor"`
	Patch int `gorm:"column:version_patch;default:0" json:"patch"`
	Build int `gorm:"column:version_build;default:0" json:"build"`
}

// String renders the tuple as "{major}.{minor}.{patch}.{build}".
func (v VersionTuple) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Build)
}

// Next returns the tuple advanced per the given policy. Fields below the
// advanced one reset to zero. The synchronization engine never calls this;
// the tuple advances only through administration.
func (v VersionTuple) Next(p IncrementPolicy) VersionTuple {
	switch p {
	case IncrementMajor:
		return VersionTuple{Major: v.Major + 1}
	case IncrementMinor:
		return VersionTuple{Major: v.Major, Minor: v.Minor + 1}
	case IncrementRevision:
		return VersionTuple{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	default: // IncrementBuild
		return VersionTuple{Major: v.Major, Minor: v.Minor, Patch: v.Patch, Build: v.Build + 1}
	}
}

// Branch is a named variant of a component's build stream. Branch names are
// unique within their component.
type Branch struct {
	ID            uint            `gorm:"primaryKey"`
	ComponentID   uint            `gorm:"column:component_id;uniqueIndex:idx_branch_component_name,priority:1;not null"`
	Name          string          `gorm:"column:name;uniqueIndex:idx_branch_component_name,priority:2;not null"`
	Status        BranchStatus    `gorm:"column:status;index;default:active;not null"`
	Version       VersionTuple    `gorm:"embedded"`
	AutoIncrement IncrementPolicy `gorm:"column:auto_increment_policy;default:build"`
	PathPattern   string          `gorm:"column:path_pattern"`
	Description   string          `gorm:"column:description"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (Branch) TableName() string { return "branches" }

// SyncTarget pairs a branch with its owning component for one cycle's work.
type SyncTarget struct {
	Component Component
	Branch    Branch
}
