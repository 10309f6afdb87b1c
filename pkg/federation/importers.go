// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/share"
)

// Importer upserts one kind of incoming entity, keyed by
// (fed id, component id). Imports are idempotent: re-importing identical
// data reports changed=false and has no observable state change.
type Importer interface {
	Kind() Kind
	Import(ctx context.Context, parsed ParsedEntity, comp *component.Component) (localID int64, changed bool, err error)
}

// genericImporter handles the entity kinds without special semantics.
type genericImporter struct {
	service *Service
	kind    Kind
}

func (importer *genericImporter) Kind() Kind { return importer.kind }

func (importer *genericImporter) Import(ctx context.Context, parsed ParsedEntity, comp *component.Component) (int64, bool, error) {
	service := importer.service

	componentID, err := service.resolveComponentID(ctx, parsed.ComponentUUID)
	if err != nil {
		return 0, false, err
	}
	if componentID == LocalComponentID {
		// An entity that originated here is echoed back; never overwrite it.
		entity, err := service.entities.GetByLocalID(ctx, parsed.Kind, parsed.FedID)
		if err != nil {
			return 0, false, ErrInvalidData.New("unknown local %s %d", parsed.Kind, parsed.FedID)
		}
		return entity.LocalID, false, nil
	}

	for _, ref := range parsed.Refs {
		localRefID, err := service.resolveRefLocalID(ctx, ref)
		if err != nil {
			return 0, false, err
		}
		parsed.Data[ref.Field] = localRefID
	}

	data, err := json.Marshal(parsed.Data)
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	localID, changed, err := service.entities.Upsert(ctx, &Entity{
		Kind:        parsed.Kind,
		FedID:       parsed.FedID,
		ComponentID: componentID,
		Data:        data,
	})
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	return localID, changed, nil
}

// userImporter upserts imported user aliases into the user store.
type userImporter struct {
	service *Service
}

func (importer *userImporter) Kind() Kind { return KindUser }

func (importer *userImporter) Import(ctx context.Context, parsed ParsedEntity, comp *component.Component) (int64, bool, error) {
	service := importer.service

	componentID, err := service.resolveComponentID(ctx, parsed.ComponentUUID)
	if err != nil {
		return 0, false, err
	}
	if componentID == LocalComponentID {
		user, err := service.users.Get(ctx, parsed.FedID)
		if err != nil {
			return 0, false, ErrInvalidData.New("unknown local user %d", parsed.FedID)
		}
		return user.ID, false, nil
	}

	stringField := func(key string) string {
		if value, ok := parsed.Data[key].(string); ok {
			return value
		}
		return ""
	}
	id, changed, err := service.users.Upsert(ctx, &User{
		Name:        stringField("name"),
		Email:       stringField("email"),
		Orcid:       stringField("orcid"),
		Affiliation: stringField("affiliation"),
		Role:        stringField("role"),
		ComponentID: componentID,
		FedID:       parsed.FedID,
	})
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	return id, changed, nil
}

// markdownImageImporter stores markdown images keyed by file name.
type markdownImageImporter struct {
	service *Service
}

func (importer *markdownImageImporter) Kind() Kind { return KindMarkdownImage }

func (importer *markdownImageImporter) Import(ctx context.Context, parsed ParsedEntity, comp *component.Component) (int64, bool, error) {
	service := importer.service

	componentID, err := service.resolveComponentID(ctx, parsed.ComponentUUID)
	if err != nil {
		return 0, false, err
	}
	if componentID == LocalComponentID {
		return 0, false, nil
	}

	fileName, _ := parsed.Data["file_name"].(string)
	encoded, _ := parsed.Data["content"].(string)
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, false, ErrInvalidData.New("markdown image %q: content is not base64", fileName)
	}
	changed, err := service.images.Upsert(ctx, &MarkdownImage{
		FileName:    fileName,
		ComponentID: componentID,
		Content:     content,
	})
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	return 0, changed, nil
}

// ConflictStrategy decides how an object import handles a diverging local copy.
type ConflictStrategy string

// Conflict strategies threaded into object imports.
const (
	ConflictApplyRemote ConflictStrategy = "apply_remote"
	ConflictKeepLocal   ConflictStrategy = "keep_local"
)

// ImportObject upserts an incoming object including its version history.
// It returns ErrObjectImport for unrecoverable per-object failures, which
// callers must treat as skip-this-object.
func (service *Service) ImportObject(ctx context.Context, parsed *ParsedObject, comp *component.Component, conflict ConflictStrategy) (_ int64, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	componentID, err := service.resolveComponentID(ctx, parsed.ComponentUUID)
	if err != nil {
		return 0, false, ErrObjectImport.Wrap(err)
	}
	if componentID == LocalComponentID {
		entity, err := service.entities.GetByLocalID(ctx, KindObject, parsed.FedID)
		if err != nil {
			return 0, false, ErrObjectImport.New("unknown local object %d", parsed.FedID)
		}
		return entity.LocalID, false, nil
	}

	if conflict == ConflictKeepLocal {
		entity, err := service.entities.Get(ctx, KindObject, parsed.FedID, componentID)
		if err != nil {
			if ErrEntityNotFound.Has(err) {
				return 0, false, ErrObjectImport.New("conflicting object %d has no local copy", parsed.FedID)
			}
			return 0, false, ErrObjectImport.Wrap(err)
		}
		return entity.LocalID, false, nil
	}

	data := map[string]interface{}{}
	if parsed.Action != nil {
		actionID, err := service.resolveRefLocalID(ctx, *parsed.Action)
		if err != nil {
			return 0, false, ErrObjectImport.Wrap(err)
		}
		data["action_id"] = actionID
	}
	if parsed.SharingUser != nil {
		userID, err := service.resolveRefLocalID(ctx, *parsed.SharingUser)
		if err != nil {
			return 0, false, ErrObjectImport.Wrap(err)
		}
		data["sharing_user_id"] = userID
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return 0, false, ErrObjectImport.Wrap(err)
	}
	localID, changed, err := service.entities.Upsert(ctx, &Entity{
		Kind:        KindObject,
		FedID:       parsed.FedID,
		ComponentID: componentID,
		Data:        encoded,
	})
	if err != nil {
		return 0, false, ErrObjectImport.Wrap(err)
	}

	for _, version := range parsed.Versions {
		var userID *int64
		if version.User != nil {
			id, err := service.resolveRefLocalID(ctx, *version.User)
			if err != nil {
				return 0, false, ErrObjectImport.Wrap(err)
			}
			userID = &id
		}
		versionChanged, err := service.entities.UpsertObjectVersion(ctx, &ObjectVersion{
			ObjectLocalID: localID,
			FedVersionID:  version.FedVersionID,
			Data:          version.Data,
			Schema:        version.Schema,
			UserID:        userID,
			UTCDatetime:   version.UTCDatetime,
		})
		if err != nil {
			return 0, false, ErrObjectImport.Wrap(err)
		}
		changed = changed || versionChanged
	}
	return localID, changed, nil
}

// importSpecificationFromPolicy derives an import specification from the
// access policy an object was shared under.
func importSpecificationFromPolicy(objectID, componentID int64, policy share.Policy) share.ImportSpecification {
	return share.ImportSpecification{
		ObjectID:                  objectID,
		ComponentID:               componentID,
		Data:                      policy.Access.Data,
		Files:                     policy.Access.Files,
		Action:                    policy.Access.Action,
		Users:                     policy.Access.Users,
		Comments:                  policy.Access.Comments,
		ObjectLocationAssignments: policy.Access.ObjectLocationAssignments,
	}
}
