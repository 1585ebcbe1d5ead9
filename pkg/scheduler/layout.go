package scheduler

import (
	"path/filepath"

	"github.com/opsforge/buildsync/pkg/buildref"
	"github.com/opsforge/buildsync/pkg/registry"
)

// Layout maps components and branches onto the local filesystem. Staging and
// extraction trees are partitioned per component/branch so unrelated branches
// never contend on a path.
type Layout struct {
	Base string
}

// StagingDir is where a branch's downloaded archives land.
func (l Layout) StagingDir(c registry.Component, b registry.Branch) string {
	return filepath.Join(l.Base, c.Key, "staging", b.Name)
}

// ArchivePath is the staging location of one named artifact.
func (l Layout) ArchivePath(c registry.Component, b registry.Branch, artifactName string) string {
	return filepath.Join(l.StagingDir(c, b), artifactName)
}

// LiveDir is the deployment tree the downstream packaging process consumes.
// It is only ever replaced by atomic rename.
func (l Layout) LiveDir(c registry.Component, b registry.Branch) string {
	return filepath.Join(l.Base, c.Key, "extracted", b.Name, c.Key)
}

// RetiredDir is where a build's tree moves once a newer build displaces it.
func (l Layout) RetiredDir(c registry.Component, b registry.Branch, ref buildref.Ref) string {
	return filepath.Join(l.Base, c.Key, "extracted", b.Name, c.Key+"@"+ref.String())
}
