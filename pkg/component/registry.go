// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package component

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DB is the interface for the database holding components and component infos.
type DB interface {
	// Create inserts a new component, returning it with its id set.
	Create(ctx context.Context, comp *Component) (*Component, error)
	// Update updates the mutable fields of a component.
	Update(ctx context.Context, comp *Component) error
	// Get looks up a component by id, ErrNotFound otherwise.
	Get(ctx context.Context, id int64) (*Component, error)
	// GetByUUID looks up a component by uuid, ErrNotFound otherwise.
	GetByUUID(ctx context.Context, id uuid.UUID) (*Component, error)
	// GetByName looks up a component by name, ErrNotFound otherwise.
	GetByName(ctx context.Context, name string) (*Component, error)
	// All returns all known components.
	All(ctx context.Context) ([]Component, error)

	// GetInfo looks up a component info by (uuid, source uuid), ErrInfoNotFound otherwise.
	GetInfo(ctx context.Context, id, sourceUUID uuid.UUID) (*Info, error)
	// UpsertInfo inserts or overwrites a component info.
	UpsertInfo(ctx context.Context, info *Info) error
	// Infos returns all known component infos.
	Infos(ctx context.Context) ([]Info, error)
}

// Config holds the identity of the local instance and address policy.
type Config struct {
	UUID      string `help:"federation uuid of this instance"`
	Name      string `help:"public name of this instance" default:"SampleDB"`
	AllowHTTP bool   `help:"allow plain http component addresses" default:"false"`
}

// Registry tracks known peer instances and secondhand component infos.
type Registry struct {
	log    *zap.Logger
	db     DB
	cache  *Cache
	config Config

	localUUID uuid.UUID
}

// NewRegistry creates a component registry. The cache may be nil, in which
// case existence checks always hit the database.
func NewRegistry(log *zap.Logger, db DB, cache *Cache, config Config) (*Registry, error) {
	var localUUID uuid.UUID
	if config.UUID != "" {
		parsed, err := uuid.Parse(config.UUID)
		if err != nil {
			return nil, ErrInvalidUUID.New("%q", config.UUID)
		}
		localUUID = parsed
	}
	return &Registry{
		log:       log,
		db:        db,
		cache:     cache,
		config:    config,
		localUUID: localUUID,
	}, nil
}

// LocalUUID returns the uuid of the local instance, zero when federation is
// not configured.
func (registry *Registry) LocalUUID() uuid.UUID { return registry.localUUID }

// Add registers a new component.
func (registry *Registry) Add(ctx context.Context, uuidStr, name, address, description string) (_ *Component, err error) {
	defer mon.Task()(&ctx)(&err)

	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return nil, ErrInvalidUUID.New("%q", uuidStr)
	}
	if id == registry.localUUID {
		return nil, ErrAlreadyExists.Wrap(ErrLocalConflict.New("uuid %s", id))
	}

	if name != "" {
		if err := validateName(name); err != nil {
			return nil, err
		}
		if name == registry.config.Name {
			return nil, ErrAlreadyExists.Wrap(ErrLocalConflict.New("name %q", name))
		}
		if _, err := registry.db.GetByName(ctx, name); err == nil {
			return nil, ErrAlreadyExists.New("name %q", name)
		} else if !ErrNotFound.Has(err) {
			return nil, Error.Wrap(err)
		}
	}

	address, err = NormalizeAddress(address, registry.config.AllowHTTP)
	if err != nil {
		return nil, err
	}

	if _, err := registry.db.GetByUUID(ctx, id); err == nil {
		return nil, ErrAlreadyExists.New("uuid %s", id)
	} else if !ErrNotFound.Has(err) {
		return nil, Error.Wrap(err)
	}

	comp, err := registry.db.Create(ctx, &Component{
		UUID:        id,
		Name:        name,
		Address:     address,
		Description: description,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	registry.log.Info("component added",
		zap.String("uuid", id.String()), zap.String("name", name))
	return comp, nil
}

// Update updates a component's metadata.
func (registry *Registry) Update(ctx context.Context, id int64, name, address, description string) (err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}

	if name != "" {
		if err := validateName(name); err != nil {
			return err
		}
		if name == registry.config.Name {
			return ErrAlreadyExists.Wrap(ErrLocalConflict.New("name %q", name))
		}
		if other, err := registry.db.GetByName(ctx, name); err == nil {
			if other.ID != id {
				return ErrAlreadyExists.New("name %q", name)
			}
		} else if !ErrNotFound.Has(err) {
			return Error.Wrap(err)
		}
	}

	address, err = NormalizeAddress(address, registry.config.AllowHTTP)
	if err != nil {
		return err
	}

	comp.Name = name
	comp.Address = address
	comp.Description = description
	return Error.Wrap(registry.db.Update(ctx, comp))
}

// Get looks up a component by id.
func (registry *Registry) Get(ctx context.Context, id int64) (_ *Component, err error) {
	defer mon.Task()(&ctx)(&err)
	comp, err := registry.db.Get(ctx, id)
	if err != nil {
		if ErrNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return comp, nil
}

// GetByUUID looks up a component by its federation uuid.
func (registry *Registry) GetByUUID(ctx context.Context, id uuid.UUID) (_ *Component, err error) {
	defer mon.Task()(&ctx)(&err)
	comp, err := registry.db.GetByUUID(ctx, id)
	if err != nil {
		if ErrNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return comp, nil
}

// All returns all known components.
func (registry *Registry) All(ctx context.Context) (_ []Component, err error) {
	defer mon.Task()(&ctx)(&err)
	return registry.db.All(ctx)
}

// Exists reports whether a component with the given id is registered,
// consulting the cache first.
func (registry *Registry) Exists(ctx context.Context, id int64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if registry.cache != nil {
		if ok, hit := registry.cache.Lookup(id); hit {
			return ok, nil
		}
	}

	_, err = registry.db.Get(ctx, id)
	if err != nil {
		if ErrNotFound.Has(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	if registry.cache != nil {
		registry.cache.Store(id)
	}
	return true, nil
}

// EnsureExists returns the component with the given uuid, auto-creating a
// placeholder row keyed only by uuid when it is unknown. Used while
// resolving foreign references during imports.
func (registry *Registry) EnsureExists(ctx context.Context, id uuid.UUID) (_ *Component, err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := registry.db.GetByUUID(ctx, id)
	if err == nil {
		return comp, nil
	}
	if !ErrNotFound.Has(err) {
		return nil, Error.Wrap(err)
	}
	return registry.Add(ctx, id.String(), "", "", "")
}

// SetDiscoverable updates the discoverable flag.
func (registry *Registry) SetDiscoverable(ctx context.Context, id int64, discoverable bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if comp.Discoverable == discoverable {
		return nil
	}
	comp.Discoverable = discoverable
	return Error.Wrap(registry.db.Update(ctx, comp))
}

// SetFedLoginAvailable updates the federated-login flag.
func (registry *Registry) SetFedLoginAvailable(ctx context.Context, id int64, available bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if comp.FedLoginAvailable == available {
		return nil
	}
	comp.FedLoginAvailable = available
	return Error.Wrap(registry.db.Update(ctx, comp))
}

// UpdateLastSync records the timestamp of the last successful sync pass.
func (registry *Registry) UpdateLastSync(ctx context.Context, id int64, t time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := registry.Get(ctx, id)
	if err != nil {
		return err
	}
	t = t.UTC()
	comp.LastSyncTimestamp = &t
	return Error.Wrap(registry.db.Update(ctx, comp))
}

// AddOrUpdateInfo upserts a component info keyed by (uuid, source uuid).
// An existing entry is overwritten only when the new distance claim is less
// than or equal to the stored distance; equal-distance claims overwrite so
// that newer metadata wins at the same distance.
func (registry *Registry) AddOrUpdateInfo(ctx context.Context, info Info) (err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := registry.db.GetInfo(ctx, info.UUID, info.SourceUUID)
	if err != nil && !ErrInfoNotFound.Has(err) {
		return Error.Wrap(err)
	}
	if existing != nil && info.Distance > existing.Distance {
		return nil
	}
	info.UpdatedAt = time.Now().UTC()
	return Error.Wrap(registry.db.UpsertInfo(ctx, &info))
}

// Infos returns all known component infos.
func (registry *Registry) Infos(ctx context.Context) (_ []Info, err error) {
	defer mon.Task()(&ctx)(&err)
	return registry.db.Infos(ctx)
}
