// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package component implements the registry of peer instances known to
// this SampleDB instance, along with secondhand component infos learned
// from other peers.
package component

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	mon = monkit.Package()

	// Error is the default component registry error class.
	Error = errs.Class("component registry error")
	// ErrNotFound is returned when a component does not exist.
	ErrNotFound = errs.Class("component not found")
	// ErrInfoNotFound is returned when a component info does not exist.
	ErrInfoNotFound = errs.Class("component info not found")
	// ErrInvalidUUID is returned when a component uuid does not parse.
	ErrInvalidUUID = errs.Class("invalid component uuid")
	// ErrInvalidName is returned when a component name is empty or too long.
	ErrInvalidName = errs.Class("invalid component name")
	// ErrInvalidAddress is returned when a component address is not a valid url.
	ErrInvalidAddress = errs.Class("invalid component address")
	// ErrInsecureAddress is returned for plain http addresses when only https is allowed.
	ErrInsecureAddress = errs.Class("insecure component address")
	// ErrAlreadyExists is returned when a component uuid or name collides
	// with a known component.
	ErrAlreadyExists = errs.Class("component already exists")
	// ErrLocalConflict is wrapped inside ErrAlreadyExists when the collision
	// is with the local instance's own identity.
	ErrLocalConflict = errs.Class("conflicts with local instance")
)

// MaxNameLength is the longest allowed component name.
const MaxNameLength = 100

// Component is a known peer instance participating in federation.
type Component struct {
	ID                int64
	UUID              uuid.UUID
	Name              string
	Address           string
	Description       string
	LastSyncTimestamp *time.Time
	Discoverable      bool
	FedLoginAvailable bool

	// ImportTokenAvailable and ExportTokenAvailable are filled from the
	// authentication store by callers that have access to it.
	ImportTokenAvailable bool
	ExportTokenAvailable bool
}

// Info is secondhand knowledge of a component learned from a third party,
// keyed by (uuid, source uuid).
type Info struct {
	UUID         uuid.UUID
	SourceUUID   uuid.UUID
	Name         string
	Address      string
	Discoverable bool
	Distance     int64
	UpdatedAt    time.Time
}

var hostRegexp = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)*[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// validateName checks the component name length bounds.
func validateName(name string) error {
	if len(name) < 1 || len(name) > MaxNameLength {
		return ErrInvalidName.New("name length must be between 1 and %d", MaxNameLength)
	}
	return nil
}

// NormalizeAddress validates a component base address and returns it with an
// explicit scheme. A scheme-less address is assumed https. Plain http is
// rejected unless allowHTTP is set.
func NormalizeAddress(address string, allowHTTP bool) (string, error) {
	if address == "" {
		return "", nil
	}
	if !strings.Contains(address, "://") {
		address = "https://" + address
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", ErrInvalidAddress.New("%q", address)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if !allowHTTP {
			return "", ErrInsecureAddress.New("%q", address)
		}
	default:
		return "", ErrInvalidAddress.New("unsupported scheme %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", ErrInvalidAddress.New("%q", address)
	}
	if net.ParseIP(host) == nil && !hostRegexp.MatchString(strings.ToLower(host)) {
		return "", ErrInvalidAddress.New("invalid host %q", host)
	}

	return strings.TrimRight(parsed.String(), "/"), nil
}
