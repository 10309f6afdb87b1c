// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/share"
)

// Service drives federation: it orchestrates sync passes against peers,
// imports incoming entity batches and builds exports for peers.
type Service struct {
	log    *zap.Logger
	config Config

	localUUID uuid.UUID

	components *component.Registry
	auth       *componentauth.Service
	shares     *share.Registry
	entities   EntityDB
	users      UserDB
	languages  LanguageDB
	images     MarkdownImageDB
	outbox     OutboxDB
	notifier   share.Notifier
	client     Client

	importers     map[Kind]Importer
	preprocessors map[Kind]Preprocessor
}

// NewService creates the federation service. The configured uuid may be
// empty; in that case all sync operations fail with ErrNotConfigured.
func NewService(log *zap.Logger, config Config,
	components *component.Registry, auth *componentauth.Service, shares *share.Registry,
	entities EntityDB, users UserDB, languages LanguageDB, images MarkdownImageDB,
	outbox OutboxDB, notifier share.Notifier, client Client) (*Service, error) {

	var localUUID uuid.UUID
	if config.UUID != "" {
		parsed, err := uuid.Parse(config.UUID)
		if err != nil {
			return nil, Error.New("malformed federation uuid %q", config.UUID)
		}
		localUUID = parsed
	}

	service := &Service{
		log:        log,
		config:     config,
		localUUID:  localUUID,
		components: components,
		auth:       auth,
		shares:     shares,
		entities:   entities,
		users:      users,
		languages:  languages,
		images:     images,
		outbox:     outbox,
		notifier:   notifier,
		client:     client,
	}

	service.importers = map[Kind]Importer{}
	for _, importer := range []Importer{
		&markdownImageImporter{service},
		&userImporter{service},
		&genericImporter{service, KindInstrument},
		&genericImporter{service, KindActionType},
		&genericImporter{service, KindAction},
		&genericImporter{service, KindLocationType},
		&locationImporter{service},
	} {
		service.importers[importer.Kind()] = importer
	}

	service.preprocessors = map[Kind]Preprocessor{}
	for _, preprocessor := range []Preprocessor{
		&userPreprocessor{service},
		&genericPreprocessor{service, KindInstrument},
		&genericPreprocessor{service, KindActionType},
		&genericPreprocessor{service, KindAction},
		&genericPreprocessor{service, KindLocationType},
		&genericPreprocessor{service, KindLocation},
		&objectPreprocessor{service},
	} {
		service.preprocessors[preprocessor.Kind()] = preprocessor
	}

	return service, nil
}

// LocalUUID returns the federation uuid of this instance.
func (service *Service) LocalUUID() uuid.UUID { return service.localUUID }

// Configured reports whether federation is configured for this instance.
func (service *Service) Configured() bool { return service.localUUID != uuid.UUID{} }

// resolveComponentID maps an entity origin uuid to a local component id,
// auto-registering a placeholder component when the uuid is unknown.
// The local instance maps to LocalComponentID.
func (service *Service) resolveComponentID(ctx context.Context, id uuid.UUID) (int64, error) {
	if id == service.localUUID {
		return LocalComponentID, nil
	}
	comp, err := service.components.EnsureExists(ctx, id)
	if err != nil {
		return 0, err
	}
	return comp.ID, nil
}

// resolveRefLocalID maps a parsed entity reference to a local id, creating a
// placeholder row when the referenced entity has not been imported yet.
func (service *Service) resolveRefLocalID(ctx context.Context, ref ParsedRef) (int64, error) {
	componentID, err := service.resolveComponentID(ctx, ref.ComponentUUID)
	if err != nil {
		return 0, err
	}

	if ref.Kind == KindUser {
		if componentID == LocalComponentID {
			user, err := service.users.Get(ctx, ref.FedID)
			if err != nil {
				return 0, ErrInvalidData.New("unknown local user %d", ref.FedID)
			}
			return user.ID, nil
		}
		user, err := service.users.GetByFedID(ctx, componentID, ref.FedID)
		if err == nil {
			return user.ID, nil
		}
		if !ErrEntityNotFound.Has(err) {
			return 0, Error.Wrap(err)
		}
		id, _, err := service.users.Upsert(ctx, &User{ComponentID: componentID, FedID: ref.FedID})
		return id, Error.Wrap(err)
	}

	if componentID == LocalComponentID {
		entity, err := service.entities.GetByLocalID(ctx, ref.Kind, ref.FedID)
		if err != nil {
			return 0, ErrInvalidData.New("unknown local %s %d", ref.Kind, ref.FedID)
		}
		return entity.LocalID, nil
	}

	entity, err := service.entities.Get(ctx, ref.Kind, ref.FedID, componentID)
	if err == nil {
		return entity.LocalID, nil
	}
	if !ErrEntityNotFound.Has(err) {
		return 0, Error.Wrap(err)
	}
	localID, _, err := service.entities.Upsert(ctx, &Entity{
		Kind:        ref.Kind,
		FedID:       ref.FedID,
		ComponentID: componentID,
		Data:        []byte("{}"),
	})
	return localID, Error.Wrap(err)
}
