// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package share

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sampledb.io/sampledb/pkg/component"
)

// Registry implements the share registry on top of a DB, an object
// existence probe and the notification sink.
type Registry struct {
	log        *zap.Logger
	db         DB
	components *component.Registry
	objects    Objects
	notifier   Notifier
}

// NewRegistry creates a share registry.
func NewRegistry(log *zap.Logger, db DB, components *component.Registry, objects Objects, notifier Notifier) *Registry {
	return &Registry{
		log:        log,
		db:         db,
		components: components,
		objects:    objects,
		notifier:   notifier,
	}
}

// checkReferences distinguishes "parent missing" from "child missing" before
// any share operation reports a not-found result.
func (registry *Registry) checkReferences(ctx context.Context, objectID, componentID int64) error {
	exists, err := registry.objects.Exists(ctx, objectID)
	if err != nil {
		return Error.Wrap(err)
	}
	if !exists {
		return ErrObjectNotFound.New("object %d", objectID)
	}
	exists, err = registry.components.Exists(ctx, componentID)
	if err != nil {
		return err
	}
	if !exists {
		return component.ErrNotFound.New("component %d", componentID)
	}
	return nil
}

// Add creates a new share for an (object, component) pair.
func (registry *Registry) Add(ctx context.Context, objectID, componentID int64, policy Policy, userID *int64) (_ *Share, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := registry.checkReferences(ctx, objectID, componentID); err != nil {
		return nil, err
	}
	if _, err := registry.db.GetShare(ctx, objectID, componentID); err == nil {
		return nil, ErrAlreadyExists.New("object %d, component %d", objectID, componentID)
	} else if !ErrNotFound.Has(err) {
		return nil, Error.Wrap(err)
	}

	share := &Share{
		ObjectID:    objectID,
		ComponentID: componentID,
		Policy:      policy,
		UserID:      userID,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := registry.db.CreateShare(ctx, share); err != nil {
		return nil, Error.Wrap(err)
	}

	data, _ := json.Marshal(policy)
	err = registry.db.CreateLogEntry(ctx, &LogEntry{
		Type:        LogShareObject,
		ObjectID:    objectID,
		ComponentID: componentID,
		UserID:      userID,
		Data:        data,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return share, nil
}

// Update replaces the policy of an existing share. Updating with an
// identical policy is a no-op: no write and no audit entry.
func (registry *Registry) Update(ctx context.Context, objectID, componentID int64, policy Policy, userID *int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := registry.checkReferences(ctx, objectID, componentID); err != nil {
		return err
	}
	share, err := registry.db.GetShare(ctx, objectID, componentID)
	if err != nil {
		if ErrNotFound.Has(err) {
			return err
		}
		return Error.Wrap(err)
	}
	if share.Policy.Equal(policy) {
		return nil
	}

	share.Policy = policy
	share.UpdatedAt = time.Now().UTC()
	if err := registry.db.UpdateShare(ctx, share); err != nil {
		return Error.Wrap(err)
	}

	data, _ := json.Marshal(policy)
	return Error.Wrap(registry.db.CreateLogEntry(ctx, &LogEntry{
		Type:        LogUpdatePolicy,
		ObjectID:    objectID,
		ComponentID: componentID,
		UserID:      userID,
		Data:        data,
	}))
}

// Get returns the share for an (object, component) pair.
func (registry *Registry) Get(ctx context.Context, objectID, componentID int64) (_ *Share, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := registry.checkReferences(ctx, objectID, componentID); err != nil {
		return nil, err
	}
	share, err := registry.db.GetShare(ctx, objectID, componentID)
	if err != nil {
		if ErrNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return share, nil
}

// ForComponent returns all shares toward a component.
func (registry *Registry) ForComponent(ctx context.Context, componentID int64) (_ []Share, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := registry.components.Exists(ctx, componentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, component.ErrNotFound.New("component %d", componentID)
	}
	return registry.db.SharesForComponent(ctx, componentID)
}

// ForObject returns all shares of an object.
func (registry *Registry) ForObject(ctx context.Context, objectID int64) (_ []Share, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := registry.objects.Exists(ctx, objectID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !exists {
		return nil, ErrObjectNotFound.New("object %d", objectID)
	}
	return registry.db.SharesForObject(ctx, objectID)
}

// All returns every share.
func (registry *Registry) All(ctx context.Context) (_ []Share, err error) {
	defer mon.Task()(&ctx)(&err)
	return registry.db.AllShares(ctx)
}

// ComponentsSharedWith returns the ids of all components an object is shared with.
func (registry *Registry) ComponentsSharedWith(ctx context.Context, objectID int64) (_ []int64, err error) {
	defer mon.Task()(&ctx)(&err)

	shares, err := registry.db.SharesForObject(ctx, objectID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	ids := make([]int64, 0, len(shares))
	for _, share := range shares {
		ids = append(ids, share.ComponentID)
	}
	return ids, nil
}

// SetImportStatus records the import status a remote peer reported for a
// shared object. Repeating an identical status is a no-op. A transition to
// failure notifies the sharing user; a transition to success with notes
// raises a notes notification.
func (registry *Registry) SetImportStatus(ctx context.Context, objectID, componentID int64, status ImportStatus) (err error) {
	defer mon.Task()(&ctx)(&err)

	share, err := registry.Get(ctx, objectID, componentID)
	if err != nil {
		return err
	}

	prev := share.ImportStatus
	if prev != nil && prev.Equal(status) {
		return nil
	}

	share.ImportStatus = &status
	share.UpdatedAt = time.Now().UTC()
	if err := registry.db.UpdateShare(ctx, share); err != nil {
		return Error.Wrap(err)
	}

	data, _ := MarshalImportStatus(status)
	err = registry.db.CreateLogEntry(ctx, &LogEntry{
		Type:        LogRemoteImportStatus,
		ObjectID:    objectID,
		ComponentID: componentID,
		Data:        data,
	})
	if err != nil {
		return Error.Wrap(err)
	}

	if share.UserID != nil {
		if !status.Success && (prev == nil || prev.Success) {
			registry.notifier.ShareImportFailed(ctx, *share.UserID, objectID, componentID)
		} else if status.Success && len(status.Notes) > 0 {
			registry.notifier.ShareImportNotes(ctx, *share.UserID, objectID, componentID, status.Notes)
		}
	}
	return nil
}

// AddImportSpecification records which facets of an imported object are kept
// in sync back toward its origin.
func (registry *Registry) AddImportSpecification(ctx context.Context, spec ImportSpecification) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(registry.db.CreateImportSpecification(ctx, &spec))
}

// UpdateImportSpecification replaces an existing import specification.
func (registry *Registry) UpdateImportSpecification(ctx context.Context, spec ImportSpecification) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(registry.db.UpdateImportSpecification(ctx, &spec))
}

// ImportSpecification returns the import specification for an object, if any.
func (registry *Registry) ImportSpecification(ctx context.Context, objectID, componentID int64) (_ *ImportSpecification, err error) {
	defer mon.Task()(&ctx)(&err)

	spec, err := registry.db.GetImportSpecification(ctx, objectID, componentID)
	if err != nil {
		if ErrSpecificationNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return spec, nil
}

// LogEntries returns the audit log entries for an object.
func (registry *Registry) LogEntries(ctx context.Context, objectID int64) (_ []LogEntry, err error) {
	defer mon.Task()(&ctx)(&err)
	return registry.db.LogEntriesForObject(ctx, objectID)
}
