// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sampledb.io/sampledb/pkg/share"
)

// ParsedRef is a validated reference to another federated entity. Field
// names the data field the resolved local id is written into on import.
type ParsedRef struct {
	Field         string
	Kind          Kind
	FedID         int64
	ComponentUUID uuid.UUID
}

// ParsedEntity is the validated, normalized form of an incoming entity.
type ParsedEntity struct {
	Kind          Kind
	FedID         int64
	ComponentUUID uuid.UUID
	Data          map[string]interface{}
	Refs          []ParsedRef
}

// ParsedObjectVersion is a validated object version.
type ParsedObjectVersion struct {
	FedVersionID int64
	Data         json.RawMessage
	Schema       json.RawMessage
	User         *ParsedRef
	UTCDatetime  time.Time
}

// ParsedObject is the validated form of an incoming object.
type ParsedObject struct {
	FedID         int64
	ComponentUUID uuid.UUID
	Versions      []ParsedObjectVersion
	Action        *ParsedRef
	Policy        share.Policy
	SharingUser   *ParsedRef
}

func parseComponentUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, ErrInvalidData.New("malformed component uuid %q", raw)
	}
	return id, nil
}

func parseRef(field string, kind Kind, ref *EntityRef) (*ParsedRef, error) {
	if ref == nil {
		return nil, nil
	}
	if ref.ID <= 0 {
		return nil, ErrInvalidData.New("%s: id must be positive", field)
	}
	id, err := parseComponentUUID(ref.ComponentUUID)
	if err != nil {
		return nil, err
	}
	return &ParsedRef{Field: field, Kind: kind, FedID: ref.ID, ComponentUUID: id}, nil
}

// ParseUser validates a user alias payload.
func ParseUser(payload UserPayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("user: user_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	putOptional(data, "name", payload.Name)
	putOptional(data, "email", payload.Email)
	putOptional(data, "orcid", payload.Orcid)
	putOptional(data, "affiliation", payload.Affiliation)
	putOptional(data, "role", payload.Role)
	return &ParsedEntity{Kind: KindUser, FedID: payload.ID, ComponentUUID: id, Data: data}, nil
}

// ParseMarkdownImage validates a markdown image payload.
func ParseMarkdownImage(payload MarkdownImagePayload) (*ParsedEntity, error) {
	if payload.FileName == "" {
		return nil, ErrInvalidData.New("markdown image: missing file name")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	if _, err := base64.StdEncoding.DecodeString(payload.Content); err != nil {
		return nil, ErrInvalidData.New("markdown image %q: content is not base64", payload.FileName)
	}
	data := map[string]interface{}{
		"file_name": payload.FileName,
		"content":   payload.Content,
	}
	// Markdown images are keyed by file name, not a numeric id; the hash of
	// the name is stable enough to serve as a federation id.
	return &ParsedEntity{Kind: KindMarkdownImage, FedID: hashName(payload.FileName), ComponentUUID: id, Data: data}, nil
}

// hashName derives a stable positive id from a file name.
func hashName(name string) int64 {
	var h int64 = 1125899906842597
	for _, c := range name {
		h = 31*h + int64(c)
	}
	if h < 0 {
		h = -h
	}
	if h == 0 {
		h = 1
	}
	return h
}

// ParseInstrument validates an instrument payload.
func ParseInstrument(payload InstrumentPayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("instrument: instrument_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"description_is_markdown": payload.DescriptionIsMarkdown,
	}
	putOptional(data, "name", payload.Name)
	putOptional(data, "description", payload.Description)
	return &ParsedEntity{Kind: KindInstrument, FedID: payload.ID, ComponentUUID: id, Data: data}, nil
}

// ParseActionType validates an action type payload.
func ParseActionType(payload ActionTypePayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("action type: action_type_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"admin_only": payload.AdminOnly,
	}
	putOptional(data, "name", payload.Name)
	putOptional(data, "description", payload.Description)
	return &ParsedEntity{Kind: KindActionType, FedID: payload.ID, ComponentUUID: id, Data: data}, nil
}

// ParseAction validates an action payload.
func ParseAction(payload ActionPayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("action: action_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	putOptional(data, "name", payload.Name)
	putOptional(data, "description", payload.Description)
	if len(payload.Schema) > 0 {
		if !json.Valid(payload.Schema) {
			return nil, ErrInvalidData.New("action %d: malformed schema", payload.ID)
		}
		data["schema"] = json.RawMessage(payload.Schema)
	}

	parsed := &ParsedEntity{Kind: KindAction, FedID: payload.ID, ComponentUUID: id, Data: data}
	for _, ref := range []struct {
		field string
		kind  Kind
		ref   *EntityRef
	}{
		{"action_type_id", KindActionType, payload.ActionType},
		{"instrument_id", KindInstrument, payload.Instrument},
		{"user_id", KindUser, payload.User},
	} {
		parsedRef, err := parseRef(ref.field, ref.kind, ref.ref)
		if err != nil {
			return nil, err
		}
		if parsedRef != nil {
			parsed.Refs = append(parsed.Refs, *parsedRef)
		}
	}
	return parsed, nil
}

// ParseLocationType validates a location type payload.
func ParseLocationType(payload LocationTypePayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("location type: location_type_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	putOptional(data, "name", payload.Name)
	return &ParsedEntity{Kind: KindLocationType, FedID: payload.ID, ComponentUUID: id, Data: data}, nil
}

// ParseLocation validates a location payload.
func ParseLocation(payload LocationPayload) (*ParsedEntity, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("location: location_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	putOptional(data, "name", payload.Name)
	putOptional(data, "description", payload.Description)

	parsed := &ParsedEntity{Kind: KindLocation, FedID: payload.ID, ComponentUUID: id, Data: data}
	parentRef, err := parseRef("parent_location_id", KindLocation, payload.Parent)
	if err != nil {
		return nil, err
	}
	if parentRef != nil {
		parsed.Refs = append(parsed.Refs, *parentRef)
	}
	typeRef, err := parseRef("location_type_id", KindLocationType, payload.LocationType)
	if err != nil {
		return nil, err
	}
	if typeRef != nil {
		parsed.Refs = append(parsed.Refs, *typeRef)
	}
	return parsed, nil
}

// ParseObject validates an object payload including its version history.
func ParseObject(payload ObjectPayload) (*ParsedObject, error) {
	if payload.ID <= 0 {
		return nil, ErrInvalidData.New("object: object_id must be positive")
	}
	id, err := parseComponentUUID(payload.ComponentUUID)
	if err != nil {
		return nil, err
	}
	if len(payload.Versions) == 0 {
		return nil, ErrInvalidData.New("object %d: missing versions", payload.ID)
	}

	parsed := &ParsedObject{
		FedID:         payload.ID,
		ComponentUUID: id,
		Policy:        payload.Policy,
	}
	parsed.Action, err = parseRef("action_id", KindAction, payload.Action)
	if err != nil {
		return nil, err
	}
	parsed.SharingUser, err = parseRef("sharing_user_id", KindUser, payload.SharingUser)
	if err != nil {
		return nil, err
	}

	for _, version := range payload.Versions {
		if version.VersionID < 0 {
			return nil, ErrInvalidData.New("object %d: negative version id", payload.ID)
		}
		if len(version.Data) > 0 && !json.Valid(version.Data) {
			return nil, ErrInvalidData.New("object %d: malformed version data", payload.ID)
		}
		if len(version.Schema) > 0 && !json.Valid(version.Schema) {
			return nil, ErrInvalidData.New("object %d: malformed version schema", payload.ID)
		}
		utc, err := time.Parse(share.ImportStatusTimeFormat, version.UTCDatetime)
		if err != nil {
			return nil, ErrInvalidData.New("object %d: malformed version timestamp %q", payload.ID, version.UTCDatetime)
		}
		userRef, err := parseRef("user_id", KindUser, version.User)
		if err != nil {
			return nil, err
		}
		parsed.Versions = append(parsed.Versions, ParsedObjectVersion{
			FedVersionID: version.VersionID,
			Data:         version.Data,
			Schema:       version.Schema,
			User:         userRef,
			UTCDatetime:  utc,
		})
	}
	return parsed, nil
}

// ParseInfo validates a component info payload.
func ParseInfo(payload InfoPayload) (uuid.UUID, *string, *string, bool, int64, error) {
	id, err := parseComponentUUID(payload.UUID)
	if err != nil {
		return uuid.UUID{}, nil, nil, false, 0, err
	}
	if payload.Distance < 0 {
		return uuid.UUID{}, nil, nil, false, 0, ErrInvalidData.New("component info: negative distance")
	}
	return id, payload.Name, payload.Address, payload.Discoverable, payload.Distance, nil
}

// ParseLanguage validates a language payload.
func ParseLanguage(payload LanguagePayload) (*Language, error) {
	if payload.LangCode == "" {
		return nil, ErrInvalidData.New("language: missing lang code")
	}
	names := payload.Names
	if names == nil {
		names = map[string]string{}
	}
	return &Language{
		LangCode:                payload.LangCode,
		Names:                   names,
		DatetimeFormatDatetime:  payload.DatetimeFormatDatetime,
		DatetimeFormatMoment:    payload.DatetimeFormatMoment,
		DateFormatMoment:        payload.DateFormatMoment,
		EnabledForInput:         payload.EnabledForInput,
		EnabledForUserInterface: payload.EnabledForUserInterface,
	}, nil
}

func putOptional(data map[string]interface{}, key string, value *string) {
	if value != nil {
		data[key] = *value
	}
}
