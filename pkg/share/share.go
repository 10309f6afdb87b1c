// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package share implements the registry of per-object access grants toward
// peer components, including remote import-status feedback and the audit
// log for sharing activity.
package share

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	mon = monkit.Package()

	// Error is the default share registry error class.
	Error = errs.Class("share registry error")
	// ErrNotFound is returned when a share does not exist.
	ErrNotFound = errs.Class("share not found")
	// ErrAlreadyExists is returned when a share for the same
	// (object, component) pair already exists.
	ErrAlreadyExists = errs.Class("share already exists")
	// ErrObjectNotFound is returned for shares referencing unknown objects.
	ErrObjectNotFound = errs.Class("object not found")
	// ErrSpecificationNotFound is returned when an import specification does not exist.
	ErrSpecificationNotFound = errs.Class("object import specification not found")
)

// AccessPolicy lists which facets of an object a share exposes.
type AccessPolicy struct {
	Data                      bool `json:"data"`
	Files                     bool `json:"files"`
	Action                    bool `json:"action"`
	Users                     bool `json:"users"`
	Comments                  bool `json:"comments"`
	ObjectLocationAssignments bool `json:"object_location_assignments"`
}

// PermissionsPolicy optionally projects local permissions onto remote
// users, groups and projects, keyed by their federation ids.
type PermissionsPolicy struct {
	Users    map[string]string `json:"users,omitempty"`
	Groups   map[string]string `json:"groups,omitempty"`
	Projects map[string]string `json:"projects,omitempty"`
}

// Policy is the access policy attached to a share.
type Policy struct {
	Access      AccessPolicy       `json:"access"`
	Permissions *PermissionsPolicy `json:"permissions,omitempty"`
}

// Equal reports whether two policies are identical.
func (policy Policy) Equal(other Policy) bool {
	a, err1 := json.Marshal(policy)
	b, err2 := json.Marshal(other)
	return err1 == nil && err2 == nil && string(a) == string(b)
}

// ImportStatus is the feedback an importing peer reports back about whether
// an object import succeeded.
type ImportStatus struct {
	Success     bool      `json:"success"`
	Notes       []string  `json:"notes"`
	UTCDatetime time.Time `json:"-"`
	ObjectID    *int64    `json:"object_id"`
}

// Equal reports whether two import statuses carry the same outcome.
func (status ImportStatus) Equal(other ImportStatus) bool {
	if status.Success != other.Success || len(status.Notes) != len(other.Notes) {
		return false
	}
	for i := range status.Notes {
		if status.Notes[i] != other.Notes[i] {
			return false
		}
	}
	if (status.ObjectID == nil) != (other.ObjectID == nil) {
		return false
	}
	if status.ObjectID != nil && *status.ObjectID != *other.ObjectID {
		return false
	}
	return true
}

// Share is a policy grant exposing a specific object to a specific component.
type Share struct {
	ObjectID     int64
	ComponentID  int64
	Policy       Policy
	UserID       *int64
	ImportStatus *ImportStatus
	UpdatedAt    time.Time
}

// ImportSpecification records which facets of an imported federated object
// should be kept in sync back toward its origin.
type ImportSpecification struct {
	ObjectID                  int64
	ComponentID               int64
	Data                      bool
	Files                     bool
	Action                    bool
	Users                     bool
	Comments                  bool
	ObjectLocationAssignments bool
}

// Log entry types for the sharing audit log.
const (
	LogShareObject        = "share_object"
	LogUpdatePolicy       = "update_object_policy"
	LogRemoteImportStatus = "remote_import_status"
)

// LogEntry is a single audit log entry for sharing activity.
type LogEntry struct {
	ID          int64
	Type        string
	ObjectID    int64
	ComponentID int64
	UserID      *int64
	Data        json.RawMessage
	CreatedAt   time.Time
}

// DB is the interface for the share database.
type DB interface {
	CreateShare(ctx context.Context, share *Share) error
	UpdateShare(ctx context.Context, share *Share) error
	GetShare(ctx context.Context, objectID, componentID int64) (*Share, error)
	SharesForComponent(ctx context.Context, componentID int64) ([]Share, error)
	SharesForObject(ctx context.Context, objectID int64) ([]Share, error)
	AllShares(ctx context.Context) ([]Share, error)

	CreateLogEntry(ctx context.Context, entry *LogEntry) error
	LogEntriesForObject(ctx context.Context, objectID int64) ([]LogEntry, error)

	CreateImportSpecification(ctx context.Context, spec *ImportSpecification) error
	UpdateImportSpecification(ctx context.Context, spec *ImportSpecification) error
	GetImportSpecification(ctx context.Context, objectID, componentID int64) (*ImportSpecification, error)
}

// Objects is the external object repository consumed for existence probes.
type Objects interface {
	Exists(ctx context.Context, objectID int64) (bool, error)
}

// Notifier is the external notification sink consumed by the share registry
// and the federation user linker.
type Notifier interface {
	ShareImportFailed(ctx context.Context, userID, objectID, componentID int64)
	ShareImportNotes(ctx context.Context, userID, objectID, componentID int64, notes []string)
	UserLinked(ctx context.Context, userID, componentID, fedUserID int64)
}
