// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"encoding/base64"
	"time"

	"sampledb.io/sampledb/pkg/component"
)

// BuildComponentsPayload builds the components response for a peer: the
// directly known discoverable components plus the transitively learned
// component infos. Wire distances are hops from this instance; the importer
// adds the final hop.
func (service *Service) BuildComponentsPayload(ctx context.Context, requesting *component.Component) (_ *ComponentsPayload, err error) {
	defer mon.Task()(&ctx)(&err)

	payload := &ComponentsPayload{
		Header:       NewHeader(service.localUUID, requesting.UUID),
		Discoverable: service.config.Discoverable,
		Components:   []InfoPayload{},
	}

	components, err := service.components.All(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, comp := range components {
		if comp.UUID == requesting.UUID || !comp.Discoverable {
			continue
		}
		name, address := comp.Name, comp.Address
		entry := InfoPayload{
			UUID:         comp.UUID.String(),
			SourceUUID:   service.localUUID.String(),
			Discoverable: true,
			Distance:     1,
		}
		if name != "" {
			entry.Name = &name
		}
		if address != "" {
			entry.Address = &address
		}
		payload.Components = append(payload.Components, entry)
	}

	infos, err := service.components.Infos(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, info := range infos {
		if info.UUID == requesting.UUID || info.UUID == service.localUUID {
			continue
		}
		if !info.Discoverable {
			continue
		}
		name, address := info.Name, info.Address
		entry := InfoPayload{
			UUID:         info.UUID.String(),
			SourceUUID:   service.localUUID.String(),
			Discoverable: true,
			Distance:     info.Distance,
		}
		if name != "" {
			entry.Name = &name
		}
		if address != "" {
			entry.Address = &address
		}
		payload.Components = append(payload.Components, entry)
	}
	return payload, nil
}

// BuildLanguagesPayload builds the languages response for a peer.
func (service *Service) BuildLanguagesPayload(ctx context.Context, requesting *component.Component) (_ *LanguagesPayload, err error) {
	defer mon.Task()(&ctx)(&err)

	languages, err := service.languages.All(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	payload := &LanguagesPayload{
		Header:    NewHeader(service.localUUID, requesting.UUID),
		Languages: []LanguagePayload{},
	}
	for _, language := range languages {
		payload.Languages = append(payload.Languages, LanguagePayload{
			ID:                      language.ID,
			LangCode:                language.LangCode,
			Names:                   language.Names,
			DatetimeFormatDatetime:  language.DatetimeFormatDatetime,
			DatetimeFormatMoment:    language.DatetimeFormatMoment,
			DateFormatMoment:        language.DateFormatMoment,
			EnabledForInput:         language.EnabledForInput,
			EnabledForUserInterface: language.EnabledForUserInterface,
		})
	}
	return payload, nil
}

// BuildUsersPayload builds the users response for a peer: the local user
// aliases plus linking candidates. A candidate is a local user with a
// confirmed email that is not yet linked toward the requesting component.
func (service *Service) BuildUsersPayload(ctx context.Context, requesting *component.Component) (_ *UsersPayload, err error) {
	defer mon.Task()(&ctx)(&err)

	payload := &UsersPayload{
		Header:               NewHeader(service.localUUID, requesting.UUID),
		Users:                []UserPayload{},
		FederationCandidates: []CandidatePayload{},
	}

	users, err := service.users.All(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	links, err := service.users.LinksForComponent(ctx, requesting.ID)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	optional := func(value string) *string {
		if value == "" {
			return nil
		}
		return &value
	}
	for _, user := range users {
		if user.ComponentID != LocalComponentID {
			continue
		}
		payload.Users = append(payload.Users, UserPayload{
			ID:            user.ID,
			ComponentUUID: service.localUUID.String(),
			Name:          optional(user.Name),
			Orcid:         optional(user.Orcid),
			Affiliation:   optional(user.Affiliation),
			Role:          optional(user.Role),
		})

		if !user.EmailConfirmed || user.Email == "" {
			continue
		}
		if _, linked := links[user.ID]; linked {
			continue
		}
		payload.FederationCandidates = append(payload.FederationCandidates, CandidatePayload{
			UserID:      user.ID,
			EmailHashes: []string{HashEmail(user.Email)},
		})
	}
	return payload, nil
}

// BuildMetadataPayload builds the federated-login metadata response. The
// configured service name is included so peers can label the login option.
func (service *Service) BuildMetadataPayload(ctx context.Context, requesting *component.Component) *MetadataPayload {
	return &MetadataPayload{
		Header:      NewHeader(service.localUUID, requesting.UUID),
		Enabled:     service.config.EnableFederatedLogin,
		ServiceName: service.config.ServiceName,
	}
}

// BuildExport builds the objects response for a peer. It seeds the worklist
// with the objects shared toward the peer and drains it breadth first, so
// that every entity transitively referenced by a shared object is included
// exactly once. When lastSync is given, objects not updated since then are
// omitted along with anything only they reference.
func (service *Service) BuildExport(ctx context.Context, requesting *component.Component, lastSync *time.Time) (_ *ObjectsPayload, err error) {
	defer mon.Task()(&ctx)(&err)

	payload := &ObjectsPayload{
		Header:         NewHeader(service.localUUID, requesting.UUID),
		MarkdownImages: []MarkdownImagePayload{},
		Users:          []UserPayload{},
		Instruments:    []InstrumentPayload{},
		ActionTypes:    []ActionTypePayload{},
		Actions:        []ActionPayload{},
		LocationTypes:  []LocationTypePayload{},
		Locations:      []LocationPayload{},
		Objects:        []ObjectPayload{},
	}
	refs := NewRefList()
	images := ImageSet{}

	shared, err := service.shares.ForComponent(ctx, requesting.ID)
	if err != nil {
		return nil, err
	}
	for _, objectShare := range shared {
		entity, err := service.entities.GetByLocalID(ctx, KindObject, objectShare.ObjectID)
		if err != nil {
			if ErrEntityNotFound.Has(err) {
				continue
			}
			return nil, Error.Wrap(err)
		}
		if lastSync != nil && entity.UpdatedAt.Before(*lastSync) && objectShare.UpdatedAt.Before(*lastSync) {
			continue
		}
		refs.Add(KindObject, objectShare.ObjectID)
	}

	for {
		ref, ok := refs.Pop()
		if !ok {
			break
		}
		preprocessor, ok := service.preprocessors[ref.Kind]
		if !ok {
			continue
		}
		if _, err := preprocessor.Preprocess(ctx, ref.LocalID, requesting, refs, images, payload); err != nil {
			return nil, err
		}
	}

	for name := range images {
		image, err := service.images.Get(ctx, name, LocalComponentID)
		if err != nil {
			if ErrEntityNotFound.Has(err) {
				continue
			}
			return nil, Error.Wrap(err)
		}
		payload.MarkdownImages = append(payload.MarkdownImages, MarkdownImagePayload{
			FileName:      image.FileName,
			ComponentUUID: service.localUUID.String(),
			Content:       base64.StdEncoding.EncodeToString(image.Content),
		})
	}
	return payload, nil
}
