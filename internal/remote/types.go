package remote

// FolderMimeType identifies folder resources in the remote store.
const FolderMimeType = "application/vnd.google-apps.folder"

// ParentRef is one parent link of a resource. IsRoot is set when the parent
// is the drive's implicit top-level container.
type ParentRef struct {
	ID     string
	IsRoot bool
}

// Resource is a remote file or folder, normalized from the API response.
// A resource may have zero, one, or many parents.
type Resource struct {
	ID       string
	Title    string
	IsFolder bool
	ETag     string
	Parents  []ParentRef
	Trashed  bool
}

// ParentIDs returns the ids of all parent links in API order.
func (r *Resource) ParentIDs() []string {
	ids := make([]string, 0, len(r.Parents))
	for _, p := range r.Parents {
		ids = append(ids, p.ID)
	}

	return ids
}

// HasParent reports whether parentID is one of the resource's parents.
func (r *Resource) HasParent(parentID string) bool {
	for _, p := range r.Parents {
		if p.ID == parentID {
			return true
		}
	}

	return false
}

// About describes the account-wide state of the remote store.
type About struct {
	RootFolderID    string
	LargestChangeID int64
}
