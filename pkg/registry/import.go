package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Definitions is the YAML document accepted by ImportDefinitions. It exists
// to seed a fresh database; ongoing administration happens elsewhere.
type Definitions struct {
	Components []ComponentDefinition `yaml:"components"`
}

// ComponentDefinition declares one component and its branches.
type ComponentDefinition struct {
	Key         string             `yaml:"key"`
	ProjectKey  string             `yaml:"projectKey"`
	DisplayName string             `yaml:"displayName"`
	SyncEnabled *bool              `yaml:"syncEnabled"`
	Branches    []BranchDefinition `yaml:"branches"`
}

// BranchDefinition declares one branch of a component.
type BranchDefinition struct {
	Name          string `yaml:"name"`
	Status        string `yaml:"status"`
	Version       string `yaml:"version"` // "major.minor.patch.build", optional
	AutoIncrement string `yaml:"autoIncrement"`
	PathPattern   string `yaml:"pathPattern"`
	Description   string `yaml:"description"`
}

// ImportDefinitions loads a YAML definition file and creates any component or
// branch that does not already exist. Existing records are left untouched so
// a restart never overwrites administration changes.
func (s *Store) ImportDefinitions(path string) (created int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read definitions: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return 0, fmt.Errorf("parse definitions: %w", err)
	}

	for _, cd := range defs.Components {
		if cd.Key == "" {
			return created, fmt.Errorf("component definition missing key")
		}

		var component Component
		err := s.db.Where("key = ?", cd.Key).First(&component).Error
		switch err {
		case nil:
			// Keep the administered record.
		case gorm.ErrRecordNotFound:
			component = Component{
				Key:         cd.Key,
				ProjectKey:  cd.ProjectKey,
				DisplayName: cd.DisplayName,
				SyncEnabled: cd.SyncEnabled == nil || *cd.SyncEnabled,
			}
			if component.DisplayName == "" {
				component.DisplayName = cd.Key
			}
			if err := s.db.Create(&component).Error; err != nil {
				return created, fmt.Errorf("create component %q: %w", cd.Key, err)
			}
			created++
		default:
			return created, fmt.Errorf("lookup component %q: %w", cd.Key, err)
		}

		for _, bd := range cd.Branches {
			if bd.Name == "" {
				return created, fmt.Errorf("component %q: branch definition missing name", cd.Key)
			}

			var existing Branch
			err := s.db.Where("component_id = ? AND name = ?", component.ID, bd.Name).First(&existing).Error
			if err == nil {
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return created, fmt.Errorf("lookup branch %q/%q: %w", cd.Key, bd.Name, err)
			}

			branch := Branch{
				ComponentID:   component.ID,
				Name:          bd.Name,
				Status:        BranchStatusActive,
				AutoIncrement: IncrementBuild,
				PathPattern:   bd.PathPattern,
				Description:   bd.Description,
			}
			if bd.Status != "" {
				branch.Status = BranchStatus(bd.Status)
			}
			if bd.AutoIncrement != "" {
				branch.AutoIncrement = IncrementPolicy(bd.AutoIncrement)
			}
			if bd.Version != "" {
				v, err := ParseVersion(bd.Version)
				if err != nil {
					return created, fmt.Errorf("branch %q/%q: %w", cd.Key, bd.Name, err)
				}
				branch.Version = v
			}
			if err := s.db.Create(&branch).Error; err != nil {
				return created, fmt.Errorf("create branch %q/%q: %w", cd.Key, bd.Name, err)
			}
			created++
		}
	}

	return created, nil
}

// ParseVersion parses a "major.minor.patch.build" string into a VersionTuple.
func ParseVersion(s string) (VersionTuple, error) {
	var v VersionTuple
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &v.Major, &v.Minor, &v.Patch, &v.Build)
	if err != nil || n != 4 {
		return VersionTuple{}, fmt.Errorf("invalid version %q (want major.minor.patch.build)", s)
	}
	if v.Major < 0 || v.Minor < 0 || v.Patch < 0 || v.Build < 0 {
		return VersionTuple{}, fmt.Errorf("invalid version %q: negative field", s)
	}
	return v, nil
}
