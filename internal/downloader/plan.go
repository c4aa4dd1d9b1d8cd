package downloader

import (
	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// FileType names which file variant a filePlan entry names.
type FileType string

const (
	FileFull  FileType = "full"
	FilePatch FileType = "patch"
)

// filePlan is one file to fetch: {series}-rc-{lang}-{major}.{minor}.{patch}-{fileType}.ljson
type filePlan struct {
	Major, Minor, Patch int
	Type                FileType
}

// buildPlan implements spec.md §4.2 steps 3-4: defensive staleness check,
// then decide whether a full snapshot is needed before applying the
// remaining consecutive patches.
func buildPlan(entry ManifestEntry, current *model.Version) ([]filePlan, error) {
	if current != nil {
		if current.Major > entry.Major ||
			(current.Major == entry.Major && current.Minor > entry.Minor) ||
			(current.Major == entry.Major && current.Minor == entry.Minor && current.Patch > entry.Patch) {
			return nil, errs.New(errs.KindDatabaseTooOld, "local version is newer than upstream manifest", nil)
		}
	}

	var plan []filePlan
	needsSnapshot := current == nil || current.Minor != entry.Minor
	startPatch := entry.Snapshot
	if needsSnapshot {
		plan = append(plan, filePlan{Major: entry.Major, Minor: entry.Minor, Patch: entry.Snapshot, Type: FileFull})
		startPatch = entry.Snapshot + 1
	} else {
		startPatch = current.Patch + 1
	}

	for p := startPatch; p <= entry.Patch; p++ {
		plan = append(plan, filePlan{Major: entry.Major, Minor: entry.Minor, Patch: p, Type: FilePatch})
	}
	return plan, nil
}
