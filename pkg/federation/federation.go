// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package federation implements the peer-to-peer synchronization protocol
// by which independent SampleDB instances exchange objects, users, actions,
// instruments and locations.
package federation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	mon = monkit.Package()

	// Error is the default federation error class.
	Error = errs.Class("federation error")
	// ErrNotConfigured is returned when the local instance has no federation uuid.
	ErrNotConfigured = errs.Class("component not configured for federation")
	// ErrInvalidDataExport is returned when a response header fails validation.
	ErrInvalidDataExport = errs.Class("invalid data export")
	// ErrInvalidJSON is returned when a response body cannot be decoded.
	ErrInvalidJSON = errs.Class("invalid json")
	// ErrUnauthorized is returned for rejected outgoing requests (401).
	ErrUnauthorized = errs.Class("unauthorized request")
	// ErrServerError is returned for remote server errors (5xx).
	ErrServerError = errs.Class("request server error")
	// ErrRequest is returned for other non-2xx responses.
	ErrRequest = errs.Class("request error")
	// ErrConnection is returned when the peer cannot be reached.
	ErrConnection = errs.Class("connection error")
	// ErrInvalidData is returned when incoming entity data fails validation.
	ErrInvalidData = errs.Class("invalid federation data")
	// ErrObjectImport is returned for unrecoverable per-object import
	// failures; the orchestrator skips the object and continues the batch.
	ErrObjectImport = errs.Class("object import error")
	// ErrLocationCycle is returned when a location batch contains a
	// parent/child cycle.
	ErrLocationCycle = errs.Class("cyclic location dependency")
	// ErrEntityNotFound is returned when a federated entity row does not exist.
	ErrEntityNotFound = errs.Class("federated entity not found")
	// ErrLinkNotFound is returned when no federated identity link exists.
	ErrLinkNotFound = errs.Class("federated identity not found")
	// ErrFileNotFound is returned when an object file does not exist.
	ErrFileNotFound = errs.Class("file not found")
)

// Kind discriminates the federated entity kinds.
type Kind string

// The closed set of federated entity kinds, listed in import dependency order.
const (
	KindMarkdownImage Kind = "markdown_image"
	KindUser          Kind = "user"
	KindInstrument    Kind = "instrument"
	KindActionType    Kind = "action_type"
	KindAction        Kind = "action"
	KindLocationType  Kind = "location_type"
	KindLocation      Kind = "location"
	KindObject        Kind = "object"
)

// ImportOrder is the fixed order entity batches are applied in, chosen so
// that later kinds may reference earlier ones.
var ImportOrder = []Kind{
	KindMarkdownImage,
	KindUser,
	KindInstrument,
	KindActionType,
	KindAction,
	KindLocationType,
	KindLocation,
	KindObject,
}

// LocalComponentID is the component id used for locally originated entities.
const LocalComponentID = 0

// Config configures the federation service. It is loaded once at process
// start and passed in immutable.
type Config struct {
	UUID                       string        `help:"federation uuid of this instance"`
	ServiceName                string        `help:"public name of this instance" default:"SampleDB"`
	Discoverable               bool          `help:"advertise this instance transitively to other peers" default:"true"`
	EnableFederatedLogin       bool          `help:"offer federated login metadata to peers" default:"false"`
	EnableAutomaticUserLinking bool          `help:"automatically link users matched by hashed confirmed email" default:"true"`
	EnableBidirectionalEditing bool          `help:"keep facets of imported objects in sync back toward their origin" default:"false"`
	SyncInterval               time.Duration `help:"interval between sync passes against each peer" default:"1h"`
	OutboxInterval             time.Duration `help:"interval between update-hook outbox drains" default:"1m"`
}

// Entity is a federated entity row, keyed by (kind, fed id, component id).
// Locally originated entities carry ComponentID 0 and FedID equal to their
// local id.
type Entity struct {
	Kind        Kind
	LocalID     int64
	FedID       int64
	ComponentID int64
	Data        json.RawMessage
	UpdatedAt   time.Time
}

// ObjectVersion is a single version of a federated object, matched by
// (object, fed version id).
type ObjectVersion struct {
	ObjectLocalID int64
	FedVersionID  int64
	Data          json.RawMessage
	Schema        json.RawMessage
	UserID        *int64
	UTCDatetime   time.Time
}

// EntityDB stores federated entity rows and object versions.
type EntityDB interface {
	// Get looks up an entity by federation key, ErrEntityNotFound otherwise.
	Get(ctx context.Context, kind Kind, fedID, componentID int64) (*Entity, error)
	// GetByLocalID looks up an entity by its local id, ErrEntityNotFound otherwise.
	GetByLocalID(ctx context.Context, kind Kind, localID int64) (*Entity, error)
	// Upsert inserts or updates an entity by federation key. It reports
	// whether the stored data actually changed.
	Upsert(ctx context.Context, entity *Entity) (localID int64, changed bool, err error)
	// CreateLocal inserts a locally originated entity.
	CreateLocal(ctx context.Context, kind Kind, data json.RawMessage) (*Entity, error)
	// UpsertObjectVersion inserts or updates an object version, reporting change.
	UpsertObjectVersion(ctx context.Context, version *ObjectVersion) (changed bool, err error)
	// ObjectVersions returns the versions of an object ordered by fed version id.
	ObjectVersions(ctx context.Context, objectLocalID int64) ([]ObjectVersion, error)
}

// User is a local or imported user account. Imported users carry the
// federation key of their origin; local users carry ComponentID 0.
type User struct {
	ID             int64
	Name           string
	Email          string
	EmailConfirmed bool
	Orcid          string
	Affiliation    string
	Role           string
	ComponentID    int64
	FedID          int64
}

// UserDB stores user accounts and federated identity links.
type UserDB interface {
	Create(ctx context.Context, user *User) (*User, error)
	Get(ctx context.Context, id int64) (*User, error)
	// GetByFedID looks up an imported user by federation key, ErrEntityNotFound otherwise.
	GetByFedID(ctx context.Context, componentID, fedID int64) (*User, error)
	// Upsert inserts or updates an imported user by federation key,
	// reporting whether anything changed.
	Upsert(ctx context.Context, user *User) (id int64, changed bool, err error)
	All(ctx context.Context) ([]User, error)
	// GetLink returns the local user id linked to (component, fed user id),
	// ErrLinkNotFound otherwise.
	GetLink(ctx context.Context, componentID, fedUserID int64) (int64, error)
	// LinksForComponent returns local user id -> fed user id for a component.
	LinksForComponent(ctx context.Context, componentID int64) (map[int64]int64, error)
	CreateLink(ctx context.Context, userID, componentID, fedUserID int64) error
}

// MarkdownImage is a markdown image exchanged by file name.
type MarkdownImage struct {
	FileName    string
	ComponentID int64
	Content     []byte
}

// MarkdownImageDB stores markdown images keyed by (file name, component id).
type MarkdownImageDB interface {
	// Get looks up a markdown image, ErrEntityNotFound otherwise.
	Get(ctx context.Context, fileName string, componentID int64) (*MarkdownImage, error)
	// Upsert inserts or updates a markdown image, reporting change.
	Upsert(ctx context.Context, image *MarkdownImage) (changed bool, err error)
}

// Language mirrors a peer's language definition.
type Language struct {
	ID                      int64
	LangCode                string
	Names                   map[string]string
	DatetimeFormatDatetime  string
	DatetimeFormatMoment    string
	DateFormatMoment        string
	EnabledForInput         bool
	EnabledForUserInterface bool
}

// LanguageDB stores language definitions.
type LanguageDB interface {
	All(ctx context.Context) ([]Language, error)
	// Upsert inserts or updates a language by lang code, reporting change.
	Upsert(ctx context.Context, language *Language) (changed bool, err error)
}

// OutboxEntry is a pending update-hook intent toward a component.
type OutboxEntry struct {
	ID          int64
	ComponentID int64
	CreatedAt   time.Time
}

// OutboxDB stores pending update-hook intents.
type OutboxDB interface {
	Enqueue(ctx context.Context, componentID int64) error
	Pending(ctx context.Context, limit int) ([]OutboxEntry, error)
	Delete(ctx context.Context, id int64) error
}

// File storage kinds.
const (
	FileStorageDatabase = "database"
	FileStorageURL      = "url"
)

// File is an object file served to peers.
type File struct {
	ObjectID         int64
	FileID           int64
	Storage          string
	OriginalFileName string
	Data             []byte
	URL              string
}

// FileStore is the external file storage abstraction.
type FileStore interface {
	// Get looks up a file of an object, ErrFileNotFound otherwise.
	Get(ctx context.Context, objectID, fileID int64) (*File, error)
}
