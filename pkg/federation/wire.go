// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/share"
)

// ProtocolVersion versions the federation wire protocol.
type ProtocolVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// SupportedProtocolVersion is the newest protocol version this instance understands.
var SupportedProtocolVersion = ProtocolVersion{Major: 0, Minor: 1}

// HeaderTimeFormat is the wire format of the header sync timestamp.
const HeaderTimeFormat = "2006-01-02 15:04:05.000000"

// Header is carried on every federation response.
type Header struct {
	DBUUID          string          `json:"db_uuid"`
	TargetUUID      string          `json:"target_uuid"`
	ProtocolVersion ProtocolVersion `json:"protocol_version"`
	SyncTimestamp   string          `json:"sync_timestamp"`
}

// NewHeader builds the header for a response to the given component.
func NewHeader(localUUID, targetUUID uuid.UUID) Header {
	return Header{
		DBUUID:          localUUID.String(),
		TargetUUID:      targetUUID.String(),
		ProtocolVersion: SupportedProtocolVersion,
		SyncTimestamp:   time.Now().UTC().Format(HeaderTimeFormat),
	}
}

// ValidateHeader checks a response header against the component the request
// went to: the peer must identify with its known uuid and must not speak a
// newer protocol than we support.
func ValidateHeader(header Header, comp *component.Component) error {
	peerUUID, err := uuid.Parse(header.DBUUID)
	if err != nil {
		return ErrInvalidDataExport.New("malformed db uuid %q", header.DBUUID)
	}
	if peerUUID != comp.UUID {
		return ErrInvalidDataExport.New("db uuid %s does not match component uuid %s", peerUUID, comp.UUID)
	}
	if header.ProtocolVersion.Major > SupportedProtocolVersion.Major {
		return ErrInvalidDataExport.New("unsupported protocol version %d.%d",
			header.ProtocolVersion.Major, header.ProtocolVersion.Minor)
	}
	if header.ProtocolVersion.Major == SupportedProtocolVersion.Major &&
		header.ProtocolVersion.Minor > SupportedProtocolVersion.Minor {
		return ErrInvalidDataExport.New("unsupported protocol version %d.%d",
			header.ProtocolVersion.Major, header.ProtocolVersion.Minor)
	}
	return nil
}

// EntityRef is the wire form of a reference to a federated entity, expressed
// relative to the exporter's frame of reference.
type EntityRef struct {
	ID            int64  `json:"id"`
	ComponentUUID string `json:"component_uuid"`
}

// InfoPayload is the wire form of a component info entry.
type InfoPayload struct {
	UUID         string  `json:"uuid"`
	SourceUUID   string  `json:"source_uuid"`
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	Discoverable bool    `json:"discoverable"`
	Distance     int64   `json:"distance"`
}

// ComponentsPayload is the response of the components endpoint.
type ComponentsPayload struct {
	Header       Header        `json:"header"`
	Discoverable bool          `json:"discoverable"`
	Components   []InfoPayload `json:"components"`
}

// LanguagePayload is the wire form of a language definition.
type LanguagePayload struct {
	ID                      int64             `json:"id"`
	LangCode                string            `json:"lang_code"`
	Names                   map[string]string `json:"names"`
	DatetimeFormatDatetime  string            `json:"datetime_format_datetime"`
	DatetimeFormatMoment    string            `json:"datetime_format_moment"`
	DateFormatMoment        string            `json:"date_format_moment"`
	EnabledForInput         bool              `json:"enabled_for_input"`
	EnabledForUserInterface bool              `json:"enabled_for_user_interface"`
}

// LanguagesPayload is the response of the languages endpoint.
type LanguagesPayload struct {
	Header    Header            `json:"header"`
	Languages []LanguagePayload `json:"languages"`
}

// UserPayload is the wire form of a user alias.
type UserPayload struct {
	ID            int64   `json:"user_id"`
	ComponentUUID string  `json:"component_uuid"`
	Name          *string `json:"name"`
	Email         *string `json:"email"`
	Orcid         *string `json:"orcid"`
	Affiliation   *string `json:"affiliation"`
	Role          *string `json:"role"`
}

// CandidatePayload advertises a user for email-hash identity linking.
type CandidatePayload struct {
	UserID      int64    `json:"user_id"`
	EmailHashes []string `json:"email_hashes"`
}

// UsersPayload is the response of the users endpoint.
type UsersPayload struct {
	Header               Header             `json:"header"`
	Users                []UserPayload      `json:"users"`
	FederationCandidates []CandidatePayload `json:"federation_candidates"`
}

// MarkdownImagePayload carries a markdown image by file name.
type MarkdownImagePayload struct {
	FileName      string `json:"file_name"`
	ComponentUUID string `json:"component_uuid"`
	// Content is base64 encoded.
	Content string `json:"content"`
}

// InstrumentPayload is the wire form of an instrument.
type InstrumentPayload struct {
	ID                    int64   `json:"instrument_id"`
	ComponentUUID         string  `json:"component_uuid"`
	Name                  *string `json:"name"`
	Description           *string `json:"description"`
	DescriptionIsMarkdown bool    `json:"description_is_markdown"`
}

// ActionTypePayload is the wire form of an action type.
type ActionTypePayload struct {
	ID            int64   `json:"action_type_id"`
	ComponentUUID string  `json:"component_uuid"`
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	AdminOnly     bool    `json:"admin_only"`
}

// ActionPayload is the wire form of an action.
type ActionPayload struct {
	ID            int64           `json:"action_id"`
	ComponentUUID string          `json:"component_uuid"`
	ActionType    *EntityRef      `json:"action_type"`
	Instrument    *EntityRef      `json:"instrument"`
	User          *EntityRef      `json:"user"`
	Name          *string         `json:"name"`
	Description   *string         `json:"description"`
	Schema        json.RawMessage `json:"schema"`
}

// LocationTypePayload is the wire form of a location type.
type LocationTypePayload struct {
	ID            int64   `json:"location_type_id"`
	ComponentUUID string  `json:"component_uuid"`
	Name          *string `json:"name"`
}

// LocationPayload is the wire form of a location.
type LocationPayload struct {
	ID            int64      `json:"location_id"`
	ComponentUUID string     `json:"component_uuid"`
	Name          *string    `json:"name"`
	Description   *string    `json:"description"`
	Parent        *EntityRef `json:"parent_location"`
	LocationType  *EntityRef `json:"location_type"`
}

// ObjectVersionPayload is a single version of an object on the wire.
type ObjectVersionPayload struct {
	VersionID   int64           `json:"version_id"`
	Data        json.RawMessage `json:"data"`
	Schema      json.RawMessage `json:"schema"`
	User        *EntityRef      `json:"user"`
	UTCDatetime string          `json:"utc_datetime"`
}

// ObjectPayload is the wire form of an object together with the policy it
// was shared under.
type ObjectPayload struct {
	ID            int64                  `json:"object_id"`
	ComponentUUID string                 `json:"component_uuid"`
	Versions      []ObjectVersionPayload `json:"versions"`
	Action        *EntityRef             `json:"action"`
	Policy        share.Policy           `json:"policy"`
	SharingUser   *EntityRef             `json:"sharing_user"`
}

// ObjectsPayload is the response of the objects endpoint.
type ObjectsPayload struct {
	Header         Header                 `json:"header"`
	MarkdownImages []MarkdownImagePayload `json:"markdown_images"`
	Users          []UserPayload          `json:"users"`
	Instruments    []InstrumentPayload    `json:"instruments"`
	ActionTypes    []ActionTypePayload    `json:"action_types"`
	Actions        []ActionPayload        `json:"actions"`
	LocationTypes  []LocationTypePayload  `json:"location_types"`
	Locations      []LocationPayload      `json:"locations"`
	Objects        []ObjectPayload        `json:"objects"`
}

// MetadataPayload is the response of the federated-login metadata endpoint.
type MetadataPayload struct {
	Header      Header `json:"header"`
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"`
	IdPMetadata string `json:"idp_metadata,omitempty"`
	SPMetadata  string `json:"sp_metadata,omitempty"`
}

// FilePayload describes a url-stored object file.
type FilePayload struct {
	Header   Header `json:"header"`
	ObjectID int64  `json:"object_id"`
	FileID   int64  `json:"file_id"`
	Storage  string `json:"storage"`
	URL      string `json:"url,omitempty"`
}
