package metadb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// RegisterApp claims the app-root folder folderID for appID. The folder
// must have a tracker directly under the sync root and no active tracker
// anywhere; that tracker becomes active and is queued for a listing.
// Registering an app again with the folder it holds is a no-op; a
// different folder is ErrConflict.
func (d *DB) RegisterApp(ctx context.Context, appID, folderID string) error {
	if appID == "" {
		return fmt.Errorf("metadb: empty app id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	if id, ok := d.appRootByAppID[appID]; ok {
		if held := d.trackerByID[id].FileID; held != folderID {
			return fmt.Errorf("%w: app %s is registered to folder %s", ErrConflict, appID, held)
		}

		return nil
	}

	if d.service.syncRootTrackerID == 0 {
		return ErrNotInitialized
	}

	set := d.trackersByFileID[folderID]
	if set == nil || set.Len() == 0 {
		return fmt.Errorf("%w: no tracker for folder %s", ErrNotFound, folderID)
	}

	if set.HasActive() {
		return fmt.Errorf("%w: folder %s is already tracked", ErrConflict, folderID)
	}

	var candidate *Tracker

	for _, id := range set.ids {
		if t := d.trackerByID[id]; t.ParentTrackerID == d.service.syncRootTrackerID {
			candidate = t
			break
		}
	}

	if candidate == nil {
		return fmt.Errorf("%w: folder %s is not an app root", ErrNotFound, folderID)
	}

	updated := *candidate
	updated.AppID = appID
	updated.Role = RoleAppRoot
	updated.Active = true
	updated.Dirty = true
	updated.NeedsFolderListing = true

	b := &batch{}
	d.replaceTracker(b, &updated)

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Info("app registered",
		slog.String("app_id", appID),
		slog.String("file_id", folderID),
		slog.Int64("tracker_id", updated.TrackerID),
	)

	return nil
}

// DisableApp stops synchronization of appID. The app-root tracker stays
// active so the folder cannot be claimed by another tracker meanwhile.
func (d *DB) DisableApp(ctx context.Context, appID string) error {
	return d.setAppRole(ctx, appID, RoleDisabledAppRoot)
}

// EnableApp resumes a disabled app. Every tracker below the app root is
// marked dirty so the next pass re-examines it.
func (d *DB) EnableApp(ctx context.Context, appID string) error {
	return d.setAppRole(ctx, appID, RoleAppRoot)
}

func (d *DB) setAppRole(ctx context.Context, appID string, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	t, err := d.appRootLocked(appID)
	if err != nil {
		return err
	}

	if t.Role == role {
		return nil
	}

	updated := *t
	updated.Role = role

	b := &batch{}
	d.replaceTracker(b, &updated)

	if role == RoleAppRoot {
		d.markDescendantsDirty(b, updated.TrackerID)
	}

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Info("app role changed",
		slog.String("app_id", appID),
		slog.String("role", role.String()),
	)

	return nil
}

// UnregisterApp releases the app root of appID. Its tracker is deactivated
// and every tracker below it is removed. Unknown app ids are a no-op.
func (d *DB) UnregisterApp(ctx context.Context, appID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	id, ok := d.appRootByAppID[appID]
	if !ok {
		return nil
	}

	updated := *d.trackerByID[id]
	updated.AppID = ""
	updated.Role = RoleAppRoot
	updated.Active = false
	updated.Dirty = true
	updated.NeedsFolderListing = false

	b := &batch{}
	d.removeDescendants(b, updated.TrackerID)
	d.replaceTracker(b, &updated)

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Info("app unregistered",
		slog.String("app_id", appID),
		slog.Int64("tracker_id", updated.TrackerID),
	)

	return nil
}

// IsAppEnabled reports whether appID is registered and not disabled.
func (d *DB) IsAppEnabled(appID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, err := d.appRootLocked(appID)

	return err == nil && t.Role == RoleAppRoot && t.Active
}

// FindAppRootTracker returns the app-root tracker claimed by appID, or
// ErrNotFound.
func (d *DB) FindAppRootTracker(appID string) (Tracker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, err := d.appRootLocked(appID)
	if err != nil {
		return Tracker{}, err
	}

	return *t, nil
}

// RegisteredAppIDs returns the ids of all registered apps, sorted.
func (d *DB) RegisteredAppIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.appRootByAppID))
	for id := range d.appRootByAppID {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (d *DB) appRootLocked(appID string) (*Tracker, error) {
	id, ok := d.appRootByAppID[appID]
	if !ok {
		return nil, fmt.Errorf("%w: app %s", ErrNotFound, appID)
	}

	t, ok := d.trackerByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: app root tracker %d", ErrNotFound, id)
	}

	return t, nil
}
