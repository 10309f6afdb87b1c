// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"encoding/json"
	"strings"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/share"
)

// Ref is a reference to a local entity discovered while preprocessing.
type Ref struct {
	Kind    Kind
	LocalID int64
}

// RefList is the worklist of entity references accumulated during export.
// Adding an already seen reference is a no-op, which guarantees termination
// even with reference cycles.
type RefList struct {
	queue []Ref
	seen  map[Ref]bool
}

// NewRefList creates an empty worklist.
func NewRefList() *RefList {
	return &RefList{seen: map[Ref]bool{}}
}

// Add appends a reference unless it was already added.
func (list *RefList) Add(kind Kind, localID int64) {
	ref := Ref{Kind: kind, LocalID: localID}
	if list.seen[ref] {
		return
	}
	list.seen[ref] = true
	list.queue = append(list.queue, ref)
}

// Pop removes and returns the next reference.
func (list *RefList) Pop() (Ref, bool) {
	if len(list.queue) == 0 {
		return Ref{}, false
	}
	ref := list.queue[0]
	list.queue = list.queue[1:]
	return ref, true
}

// ImageSet accumulates markdown image file names referenced during export.
type ImageSet map[string]bool

// extractMarkdownImageNames collects markdown image references of the form
// /markdown_images/<name> from a text.
func extractMarkdownImageNames(text string, images ImageSet) {
	const marker = "/markdown_images/"
	for {
		index := strings.Index(text, marker)
		if index < 0 {
			return
		}
		text = text[index+len(marker):]
		end := strings.IndexAny(text, " \t\r\n\"')]")
		if end < 0 {
			end = len(text)
		}
		if end > 0 {
			images[text[:end]] = true
		}
		text = text[end:]
	}
}

// Preprocessor converts a local entity into its transmissible form,
// appending it to the outgoing payload and collecting references to other
// entities that must also be included. Returning false without error means
// the entity is silently omitted.
type Preprocessor interface {
	Kind() Kind
	Preprocess(ctx context.Context, localID int64, requesting *component.Component, refs *RefList, images ImageSet, out *ObjectsPayload) (bool, error)
}

// fedIdentity computes the wire identity of a stored entity: its own
// federation key when it was imported, or a synthesized one relative to the
// local instance when it originated here.
func (service *Service) fedIdentity(ctx context.Context, fedID, componentID, localID int64) (int64, string, error) {
	if componentID == LocalComponentID {
		return localID, service.localUUID.String(), nil
	}
	comp, err := service.components.Get(ctx, componentID)
	if err != nil {
		return 0, "", err
	}
	return fedID, comp.UUID.String(), nil
}

// entityRefFor builds the wire reference for a locally stored entity and
// queues it for inclusion.
func (service *Service) entityRefFor(ctx context.Context, kind Kind, localID int64, refs *RefList) (*EntityRef, error) {
	var fedID, componentID int64
	if kind == KindUser {
		user, err := service.users.Get(ctx, localID)
		if err != nil {
			return nil, nil
		}
		fedID, componentID = user.FedID, user.ComponentID
	} else {
		entity, err := service.entities.GetByLocalID(ctx, kind, localID)
		if err != nil {
			if ErrEntityNotFound.Has(err) {
				return nil, nil
			}
			return nil, Error.Wrap(err)
		}
		fedID, componentID = entity.FedID, entity.ComponentID
	}

	id, componentUUID, err := service.fedIdentity(ctx, fedID, componentID, localID)
	if err != nil {
		return nil, err
	}
	refs.Add(kind, localID)
	return &EntityRef{ID: id, ComponentUUID: componentUUID}, nil
}

// genericPreprocessor handles the entity kinds without special semantics.
type genericPreprocessor struct {
	service *Service
	kind    Kind
}

func (preprocessor *genericPreprocessor) Kind() Kind { return preprocessor.kind }

func (preprocessor *genericPreprocessor) Preprocess(ctx context.Context, localID int64, requesting *component.Component, refs *RefList, images ImageSet, out *ObjectsPayload) (bool, error) {
	service := preprocessor.service

	entity, err := service.entities.GetByLocalID(ctx, preprocessor.kind, localID)
	if err != nil {
		if ErrEntityNotFound.Has(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(entity.Data, &data); err != nil {
		return false, Error.Wrap(err)
	}

	id, componentUUID, err := service.fedIdentity(ctx, entity.FedID, entity.ComponentID, entity.LocalID)
	if err != nil {
		return false, err
	}

	optional := func(key string) *string {
		if value, ok := data[key].(string); ok {
			return &value
		}
		return nil
	}
	boolField := func(key string) bool {
		value, _ := data[key].(bool)
		return value
	}
	refField := func(key string, kind Kind) (*EntityRef, error) {
		value, ok := data[key].(float64)
		if !ok {
			return nil, nil
		}
		return service.entityRefFor(ctx, kind, int64(value), refs)
	}
	if description := optional("description"); description != nil {
		extractMarkdownImageNames(*description, images)
	}

	switch preprocessor.kind {
	case KindInstrument:
		out.Instruments = append(out.Instruments, InstrumentPayload{
			ID:                    id,
			ComponentUUID:         componentUUID,
			Name:                  optional("name"),
			Description:           optional("description"),
			DescriptionIsMarkdown: boolField("description_is_markdown"),
		})
	case KindActionType:
		out.ActionTypes = append(out.ActionTypes, ActionTypePayload{
			ID:            id,
			ComponentUUID: componentUUID,
			Name:          optional("name"),
			Description:   optional("description"),
			AdminOnly:     boolField("admin_only"),
		})
	case KindAction:
		payload := ActionPayload{
			ID:            id,
			ComponentUUID: componentUUID,
			Name:          optional("name"),
			Description:   optional("description"),
		}
		if payload.ActionType, err = refField("action_type_id", KindActionType); err != nil {
			return false, err
		}
		if payload.Instrument, err = refField("instrument_id", KindInstrument); err != nil {
			return false, err
		}
		if payload.User, err = refField("user_id", KindUser); err != nil {
			return false, err
		}
		if schema, ok := data["schema"]; ok {
			encoded, err := json.Marshal(schema)
			if err != nil {
				return false, Error.Wrap(err)
			}
			payload.Schema = encoded
		}
		out.Actions = append(out.Actions, payload)
	case KindLocationType:
		out.LocationTypes = append(out.LocationTypes, LocationTypePayload{
			ID:            id,
			ComponentUUID: componentUUID,
			Name:          optional("name"),
		})
	case KindLocation:
		payload := LocationPayload{
			ID:            id,
			ComponentUUID: componentUUID,
			Name:          optional("name"),
			Description:   optional("description"),
		}
		if payload.Parent, err = refField("parent_location_id", KindLocation); err != nil {
			return false, err
		}
		if payload.LocationType, err = refField("location_type_id", KindLocationType); err != nil {
			return false, err
		}
		out.Locations = append(out.Locations, payload)
	default:
		return false, nil
	}
	return true, nil
}

// userPreprocessor exports user aliases.
type userPreprocessor struct {
	service *Service
}

func (preprocessor *userPreprocessor) Kind() Kind { return KindUser }

func (preprocessor *userPreprocessor) Preprocess(ctx context.Context, localID int64, requesting *component.Component, refs *RefList, images ImageSet, out *ObjectsPayload) (bool, error) {
	service := preprocessor.service

	user, err := service.users.Get(ctx, localID)
	if err != nil {
		return false, nil
	}
	id, componentUUID, err := service.fedIdentity(ctx, user.FedID, user.ComponentID, user.ID)
	if err != nil {
		return false, err
	}

	optional := func(value string) *string {
		if value == "" {
			return nil
		}
		return &value
	}
	out.Users = append(out.Users, UserPayload{
		ID:            id,
		ComponentUUID: componentUUID,
		Name:          optional(user.Name),
		Email:         optional(user.Email),
		Orcid:         optional(user.Orcid),
		Affiliation:   optional(user.Affiliation),
		Role:          optional(user.Role),
	})
	return true, nil
}

// objectPreprocessor exports objects, honoring the access policy of the
// share toward the requesting component.
type objectPreprocessor struct {
	service *Service
}

func (preprocessor *objectPreprocessor) Kind() Kind { return KindObject }

func (preprocessor *objectPreprocessor) Preprocess(ctx context.Context, localID int64, requesting *component.Component, refs *RefList, images ImageSet, out *ObjectsPayload) (bool, error) {
	service := preprocessor.service

	entity, err := service.entities.GetByLocalID(ctx, KindObject, localID)
	if err != nil {
		if ErrEntityNotFound.Has(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}

	objectShare, err := service.shares.Get(ctx, localID, requesting.ID)
	if err != nil {
		// objects referenced from other entities are only included when
		// they were shared themselves
		if share.ErrNotFound.Has(err) {
			return false, nil
		}
		return false, err
	}
	policy := objectShare.Policy

	id, componentUUID, err := service.fedIdentity(ctx, entity.FedID, entity.ComponentID, entity.LocalID)
	if err != nil {
		return false, err
	}
	payload := ObjectPayload{
		ID:            id,
		ComponentUUID: componentUUID,
		Policy:        policy,
	}

	var data map[string]interface{}
	if err := json.Unmarshal(entity.Data, &data); err != nil {
		return false, Error.Wrap(err)
	}
	if policy.Access.Action {
		if actionID, ok := data["action_id"].(float64); ok {
			payload.Action, err = service.entityRefFor(ctx, KindAction, int64(actionID), refs)
			if err != nil {
				return false, err
			}
		}
	}
	if policy.Access.Users {
		if userID, ok := data["sharing_user_id"].(float64); ok {
			payload.SharingUser, err = service.entityRefFor(ctx, KindUser, int64(userID), refs)
			if err != nil {
				return false, err
			}
		}
	}

	versions, err := service.entities.ObjectVersions(ctx, localID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	for _, version := range versions {
		versionPayload := ObjectVersionPayload{
			VersionID:   version.FedVersionID,
			UTCDatetime: version.UTCDatetime.UTC().Format(share.ImportStatusTimeFormat),
		}
		if policy.Access.Data {
			versionPayload.Data = version.Data
			versionPayload.Schema = version.Schema
			extractMarkdownImageNames(string(version.Data), images)
		}
		if policy.Access.Users && version.UserID != nil {
			versionPayload.User, err = service.entityRefFor(ctx, KindUser, *version.UserID, refs)
			if err != nil {
				return false, err
			}
		}
		payload.Versions = append(payload.Versions, versionPayload)
	}

	out.Objects = append(out.Objects, payload)
	return true, nil
}
