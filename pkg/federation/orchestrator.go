// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/share"
)

// SyncOptions tunes a single sync pass.
type SyncOptions struct {
	// IgnoreLastSyncTime requests a full export instead of the delta since
	// the last successful pass.
	IgnoreLastSyncTime bool
	// LocalObjectConflicts maps local object ids to the strategy to apply
	// when the peer's copy diverges from ours.
	LocalObjectConflicts map[int64]ConflictStrategy
	// FederatedObjectConflicts maps the peer's object ids to conflict
	// strategies, for objects we have not imported yet.
	FederatedObjectConflicts map[int64]ConflictStrategy
}

// ImportUpdates runs one sync pass against a peer: it pulls the peer's
// component infos, languages, users, shared objects and federated-login
// metadata, applies them locally and reports import statuses back for the
// peer's own objects. The metadata stages tolerate peers that do not serve
// them; a failing objects stage fails the pass before the login metadata is
// touched. The component's last sync timestamp advances only after a fully
// successful pass, using the time the pass started so that nothing published
// mid-pass is skipped next time.
func (service *Service) ImportUpdates(ctx context.Context, comp *component.Component, opts SyncOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !service.Configured() {
		return ErrNotConfigured.New("no federation uuid configured")
	}
	if comp.Address == "" {
		return ErrNotConfigured.New("component %s has no address", comp.UUID)
	}
	auth, err := service.auth.OwnAuth(ctx, comp.ID)
	if err != nil {
		if componentauth.ErrNotFound.Has(err) {
			return ErrNotConfigured.New("no authentication token for component %s", comp.UUID)
		}
		return Error.Wrap(err)
	}

	peer := Peer{Component: comp, Token: auth.Token}
	passStart := time.Now().UTC()
	var lastSync *time.Time
	if !opts.IgnoreLastSyncTime {
		lastSync = comp.LastSyncTimestamp
	}

	stages := []struct {
		name string
		soft bool
		run  func(ctx context.Context) error
	}{
		{"components", true, func(ctx context.Context) error {
			return service.syncComponents(ctx, peer, lastSync)
		}},
		{"languages", true, func(ctx context.Context) error {
			return service.syncLanguages(ctx, peer, lastSync)
		}},
		{"users", true, func(ctx context.Context) error {
			return service.syncUsers(ctx, peer, lastSync)
		}},
		{"objects", false, func(ctx context.Context) error {
			return service.syncObjects(ctx, peer, lastSync, opts)
		}},
		{"metadata", true, func(ctx context.Context) error {
			return service.syncMetadata(ctx, peer)
		}},
	}
	for _, stage := range stages {
		err := stage.run(ctx)
		if err == nil {
			continue
		}
		if stage.soft && softStageError(err) {
			service.log.Debug("skipping sync stage",
				zap.String("stage", stage.name),
				zap.Stringer("component", comp.UUID),
				zap.Error(err))
			continue
		}
		return err
	}

	if err := service.components.UpdateLastSync(ctx, comp.ID, passStart); err != nil {
		return Error.Wrap(err)
	}
	service.log.Info("sync pass finished", zap.Stringer("component", comp.UUID))
	return nil
}

// softStageError reports whether a stage failure may be skipped: the peer
// not serving the endpoint, rejecting us or answering garbage only loses
// that stage's data. A header that fails validation poisons the whole pass,
// and so does any other unexpected response status.
func softStageError(err error) bool {
	if ErrInvalidDataExport.Has(err) {
		return false
	}
	return ErrNotConfigured.Has(err) || ErrServerError.Has(err) ||
		ErrUnauthorized.Has(err) || ErrInvalidJSON.Has(err)
}

func (service *Service) syncComponents(ctx context.Context, peer Peer, lastSync *time.Time) error {
	payload, err := service.client.Components(ctx, peer, lastSync)
	if err != nil {
		return err
	}
	if err := ValidateHeader(payload.Header, peer.Component); err != nil {
		return err
	}

	if peer.Component.Discoverable != payload.Discoverable {
		if err := service.components.SetDiscoverable(ctx, peer.Component.ID, payload.Discoverable); err != nil {
			return Error.Wrap(err)
		}
	}

	for _, entry := range payload.Components {
		id, name, address, discoverable, distance, err := ParseInfo(entry)
		if err != nil {
			service.log.Debug("skipping invalid component info", zap.Error(err))
			continue
		}
		if id == service.localUUID || id == peer.Component.UUID {
			continue
		}
		info := component.Info{
			UUID:         id,
			SourceUUID:   peer.Component.UUID,
			Discoverable: discoverable,
			Distance:     distance + 1,
		}
		if name != nil {
			info.Name = *name
		}
		if address != nil {
			info.Address = *address
		}
		if err := service.components.AddOrUpdateInfo(ctx, info); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (service *Service) syncLanguages(ctx context.Context, peer Peer, lastSync *time.Time) error {
	payload, err := service.client.Languages(ctx, peer, lastSync)
	if err != nil {
		return err
	}
	if err := ValidateHeader(payload.Header, peer.Component); err != nil {
		return err
	}
	_, err = service.ImportLanguages(ctx, peer.Component, payload)
	return err
}

func (service *Service) syncUsers(ctx context.Context, peer Peer, lastSync *time.Time) error {
	payload, err := service.client.Users(ctx, peer, lastSync)
	if err != nil {
		return err
	}
	if err := ValidateHeader(payload.Header, peer.Component); err != nil {
		return err
	}

	importer := service.importers[KindUser]
	for _, entry := range payload.Users {
		parsed, err := ParseUser(entry)
		if err != nil {
			service.log.Debug("skipping invalid user", zap.Error(err))
			continue
		}
		if _, _, err := importer.Import(ctx, *parsed, peer.Component); err != nil {
			return err
		}
	}
	return service.LinkUsers(ctx, peer.Component, payload.FederationCandidates)
}

func (service *Service) syncMetadata(ctx context.Context, peer Peer) error {
	payload, err := service.client.Metadata(ctx, peer)
	if err != nil {
		return err
	}
	if err := ValidateHeader(payload.Header, peer.Component); err != nil {
		return err
	}
	if peer.Component.FedLoginAvailable != payload.Enabled {
		return Error.Wrap(service.components.SetFedLoginAvailable(ctx, peer.Component.ID, payload.Enabled))
	}
	return nil
}

// syncObjects pulls and applies the peer's objects export. The dependency
// kinds are applied in a fixed order so that references resolve; a failure
// there fails the stage. Individual objects failing to import are skipped
// with a failure status, the remaining batch is still applied.
func (service *Service) syncObjects(ctx context.Context, peer Peer, lastSync *time.Time, opts SyncOptions) error {
	payload, err := service.client.Objects(ctx, peer, lastSync)
	if err != nil {
		return err
	}
	if err := ValidateHeader(payload.Header, peer.Component); err != nil {
		return err
	}

	if err := service.importDependencies(ctx, peer.Component, payload); err != nil {
		return err
	}

	statuses := map[int64]share.ImportStatus{}
	for _, entry := range payload.Objects {
		fedID := entry.ID
		ownedByPeer := entry.ComponentUUID == peer.Component.UUID.String()

		parsed, err := ParseObject(entry)
		if err != nil {
			if ownedByPeer {
				statuses[fedID] = failureStatus(err)
			}
			service.log.Warn("skipping invalid object",
				zap.Int64("fed_object_id", fedID),
				zap.Stringer("component", peer.Component.UUID),
				zap.Error(err))
			continue
		}

		localID, changed, err := service.ImportObject(ctx, parsed, peer.Component, service.conflictStrategy(ctx, parsed, opts))
		if err != nil {
			if !ErrObjectImport.Has(err) {
				return err
			}
			if ownedByPeer {
				statuses[fedID] = failureStatus(err)
			}
			service.log.Warn("skipping object",
				zap.Int64("fed_object_id", fedID),
				zap.Stringer("component", peer.Component.UUID),
				zap.Error(err))
			continue
		}
		if ownedByPeer {
			statuses[fedID] = successStatus(localID)
		}

		if service.config.EnableBidirectionalEditing {
			if err := service.recordImportSpecification(ctx, localID, peer.Component.ID, parsed); err != nil {
				return err
			}
		}
		if changed {
			service.NotifyObjectUpdate(ctx, localID, peer.Component.ID)
		}
	}

	// Statuses are a courtesy to the peer; failing to deliver them must not
	// fail the pass.
	for fedID, status := range statuses {
		if err := service.client.PutImportStatus(ctx, peer, fedID, status); err != nil {
			service.log.Debug("reporting import status failed",
				zap.Int64("fed_object_id", fedID),
				zap.Stringer("component", peer.Component.UUID),
				zap.Error(err))
		}
	}
	return nil
}

// importDependencies applies the non-object batches of an objects export in
// import dependency order.
func (service *Service) importDependencies(ctx context.Context, comp *component.Component, payload *ObjectsPayload) error {
	parse := func(kind Kind) ([]ParsedEntity, error) {
		var batch []ParsedEntity
		add := func(parsed *ParsedEntity, err error) error {
			if err != nil {
				return err
			}
			batch = append(batch, *parsed)
			return nil
		}
		switch kind {
		case KindMarkdownImage:
			for _, entry := range payload.MarkdownImages {
				if err := add(ParseMarkdownImage(entry)); err != nil {
					return nil, err
				}
			}
		case KindUser:
			for _, entry := range payload.Users {
				if err := add(ParseUser(entry)); err != nil {
					return nil, err
				}
			}
		case KindInstrument:
			for _, entry := range payload.Instruments {
				if err := add(ParseInstrument(entry)); err != nil {
					return nil, err
				}
			}
		case KindActionType:
			for _, entry := range payload.ActionTypes {
				if err := add(ParseActionType(entry)); err != nil {
					return nil, err
				}
			}
		case KindAction:
			for _, entry := range payload.Actions {
				if err := add(ParseAction(entry)); err != nil {
					return nil, err
				}
			}
		case KindLocationType:
			for _, entry := range payload.LocationTypes {
				if err := add(ParseLocationType(entry)); err != nil {
					return nil, err
				}
			}
		case KindLocation:
			for _, entry := range payload.Locations {
				if err := add(ParseLocation(entry)); err != nil {
					return nil, err
				}
			}
		}
		return batch, nil
	}

	for _, kind := range ImportOrder {
		if kind == KindObject {
			continue
		}
		batch, err := parse(kind)
		if err != nil {
			return err
		}
		if kind == KindLocation {
			if _, err := service.ImportLocations(ctx, batch, comp); err != nil {
				return err
			}
			continue
		}
		importer := service.importers[kind]
		for _, parsed := range batch {
			if _, _, err := importer.Import(ctx, parsed, comp); err != nil {
				return err
			}
		}
	}
	return nil
}

// conflictStrategy resolves the strategy for one incoming object, defaulting
// to applying the remote copy.
func (service *Service) conflictStrategy(ctx context.Context, parsed *ParsedObject, opts SyncOptions) ConflictStrategy {
	if strategy, ok := opts.FederatedObjectConflicts[parsed.FedID]; ok {
		return strategy
	}
	if len(opts.LocalObjectConflicts) > 0 {
		componentID, err := service.resolveComponentID(ctx, parsed.ComponentUUID)
		if err == nil {
			if entity, err := service.entities.Get(ctx, KindObject, parsed.FedID, componentID); err == nil {
				if strategy, ok := opts.LocalObjectConflicts[entity.LocalID]; ok {
					return strategy
				}
			}
		}
	}
	return ConflictApplyRemote
}

// recordImportSpecification persists which facets of an object are kept in
// sync back toward its origin, creating the specification on first import.
// A specification is only auto-created for objects that are themselves
// federated; echoes of our own objects never grow one.
func (service *Service) recordImportSpecification(ctx context.Context, objectID, componentID int64, parsed *ParsedObject) error {
	spec := importSpecificationFromPolicy(objectID, componentID, parsed.Policy)
	_, err := service.shares.ImportSpecification(ctx, objectID, componentID)
	if err == nil {
		return service.shares.UpdateImportSpecification(ctx, spec)
	}
	if !share.ErrSpecificationNotFound.Has(err) {
		return err
	}
	if parsed.ComponentUUID == service.localUUID {
		return nil
	}
	return service.shares.AddImportSpecification(ctx, spec)
}

func successStatus(objectID int64) share.ImportStatus {
	return share.ImportStatus{
		Success:     true,
		Notes:       []string{},
		UTCDatetime: time.Now().UTC().Truncate(time.Second),
		ObjectID:    &objectID,
	}
}

func failureStatus(err error) share.ImportStatus {
	return share.ImportStatus{
		Success:     false,
		Notes:       []string{err.Error()},
		UTCDatetime: time.Now().UTC().Truncate(time.Second),
	}
}
