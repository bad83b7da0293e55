package metadb

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/syncroot/internal/remote"
)

// PlaceholderIDPrefix marks file ids minted locally for a sync root that
// does not exist remotely yet.
const PlaceholderIDPrefix = "local:"

// Role is the structural role of a tracker in the synchronization tree.
type Role int

// Tracker roles.
const (
	RoleRegular Role = iota
	RoleSyncRoot
	// RoleAppRoot marks a direct child of the sync root reserved for one
	// application. AppID is empty until an application claims it.
	RoleAppRoot
	// RoleDisabledAppRoot is a claimed app root whose application is
	// disabled. The tracker stays active so no other tracker can take over
	// the folder.
	RoleDisabledAppRoot
)

var roleNames = map[Role]string{
	RoleRegular:         "regular",
	RoleSyncRoot:        "sync_root",
	RoleAppRoot:         "app_root",
	RoleDisabledAppRoot: "disabled_app_root",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}

	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole converts the persisted role name back to a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}

	return 0, fmt.Errorf("metadb: unknown tracker role %q", s)
}

// FileMetadata is the last known remote state of one file id.
type FileMetadata struct {
	FileID    string
	Title     string
	IsFolder  bool
	ETag      string
	ParentIDs []string
	// Placeholder is set for a sync root minted locally; it has no remote
	// counterpart until a later sync pass creates one.
	Placeholder bool
}

// Tracker pairs a file id with one position in the synchronization tree.
// ParentTrackerID is zero only for the sync root.
type Tracker struct {
	TrackerID          int64
	FileID             string
	ParentTrackerID    int64
	Role               Role
	AppID              string
	Active             bool
	Dirty              bool
	NeedsFolderListing bool
	Title              string
}

// IsAppRoot reports whether the tracker is reserved for an application,
// claimed or not.
func (t *Tracker) IsAppRoot() bool {
	return t.Role == RoleAppRoot || t.Role == RoleDisabledAppRoot
}

// IsSyncRoot reports whether the tracker anchors the whole tree.
func (t *Tracker) IsSyncRoot() bool {
	return t.Role == RoleSyncRoot
}

// Stats summarizes the database contents.
type Stats struct {
	Files          int `json:"files"`
	Trackers       int `json:"trackers"`
	ActiveTrackers int `json:"active_trackers"`
	Apps           int `json:"apps"`
}

// NewPlaceholderSyncRoot returns a folder resource with a locally minted id,
// used when no remote folder qualifies as the sync root.
func NewPlaceholderSyncRoot(title string) remote.Resource {
	return remote.Resource{
		ID:       PlaceholderIDPrefix + uuid.NewString(),
		Title:    title,
		IsFolder: true,
	}
}

// IsPlaceholderID reports whether fileID was minted by NewPlaceholderSyncRoot.
func IsPlaceholderID(fileID string) bool {
	return strings.HasPrefix(fileID, PlaceholderIDPrefix)
}

// NormalizeTitle returns the NFC form of title. Titles are stored and
// indexed normalized so that differently composed names collide.
func NormalizeTitle(title string) string {
	return norm.NFC.String(title)
}

func fileFromResource(r *remote.Resource) *FileMetadata {
	return &FileMetadata{
		FileID:      r.ID,
		Title:       NormalizeTitle(r.Title),
		IsFolder:    r.IsFolder,
		ETag:        r.ETag,
		ParentIDs:   r.ParentIDs(),
		Placeholder: IsPlaceholderID(r.ID),
	}
}

func (f *FileMetadata) clone() FileMetadata {
	c := *f
	c.ParentIDs = slices.Clone(f.ParentIDs)

	return c
}
