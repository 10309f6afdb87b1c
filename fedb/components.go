// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/component"
)

type componentsDB struct {
	db *sql.DB
}

const componentColumns = `id, uuid, name, address, description, last_sync_timestamp,
	discoverable, fed_login_available, import_token_available, export_token_available`

func scanComponent(row interface{ Scan(...interface{}) error }) (*component.Component, error) {
	var comp component.Component
	var rawUUID string
	var lastSync sql.NullTime
	err := row.Scan(&comp.ID, &rawUUID, &comp.Name, &comp.Address, &comp.Description, &lastSync,
		&comp.Discoverable, &comp.FedLoginAvailable, &comp.ImportTokenAvailable, &comp.ExportTokenAvailable)
	if err != nil {
		return nil, err
	}
	comp.UUID, err = uuid.Parse(rawUUID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		comp.LastSyncTimestamp = &t
	}
	return &comp, nil
}

func (db *componentsDB) Create(ctx context.Context, comp *component.Component) (_ *component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO components (uuid, name, address, description,
			discoverable, fed_login_available, import_token_available, export_token_available)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		comp.UUID.String(), comp.Name, comp.Address, comp.Description,
		comp.Discoverable, comp.FedLoginAvailable, comp.ImportTokenAvailable, comp.ExportTokenAvailable)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	created := *comp
	created.ID, err = result.LastInsertId()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &created, nil
}

func (db *componentsDB) Update(ctx context.Context, comp *component.Component) (err error) {
	defer mon.Task()(&ctx)(&err)

	var lastSync interface{}
	if comp.LastSyncTimestamp != nil {
		lastSync = comp.LastSyncTimestamp.UTC()
	}
	result, err := db.db.ExecContext(ctx, `
		UPDATE components
		SET name = ?, address = ?, description = ?, last_sync_timestamp = ?,
			discoverable = ?, fed_login_available = ?, import_token_available = ?, export_token_available = ?
		WHERE id = ?`,
		comp.Name, comp.Address, comp.Description, lastSync,
		comp.Discoverable, comp.FedLoginAvailable, comp.ImportTokenAvailable, comp.ExportTokenAvailable,
		comp.ID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return component.ErrNotFound.New("component %d", comp.ID)
	}
	return nil
}

func (db *componentsDB) Get(ctx context.Context, id int64) (_ *component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := scanComponent(db.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, component.ErrNotFound.New("component %d", id)
	}
	return comp, Error.Wrap(err)
}

func (db *componentsDB) GetByUUID(ctx context.Context, id uuid.UUID) (_ *component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := scanComponent(db.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE uuid = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, component.ErrNotFound.New("component %s", id)
	}
	return comp, Error.Wrap(err)
}

func (db *componentsDB) GetByName(ctx context.Context, name string) (_ *component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	comp, err := scanComponent(db.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, component.ErrNotFound.New("component %q", name)
	}
	return comp, Error.Wrap(err)
}

func (db *componentsDB) All(ctx context.Context) (_ []component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components ORDER BY id`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var components []component.Component
	for rows.Next() {
		comp, err := scanComponent(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		components = append(components, *comp)
	}
	return components, Error.Wrap(rows.Err())
}

func (db *componentsDB) GetInfo(ctx context.Context, id, sourceUUID uuid.UUID) (_ *component.Info, err error) {
	defer mon.Task()(&ctx)(&err)

	var info component.Info
	var rawUUID, rawSource string
	err = db.db.QueryRowContext(ctx, `
		SELECT uuid, source_uuid, name, address, discoverable, distance, updated_at
		FROM component_infos WHERE uuid = ? AND source_uuid = ?`,
		id.String(), sourceUUID.String()).
		Scan(&rawUUID, &rawSource, &info.Name, &info.Address, &info.Discoverable, &info.Distance, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, component.ErrInfoNotFound.New("component %s via %s", id, sourceUUID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	info.UUID, info.SourceUUID = id, sourceUUID
	info.UpdatedAt = info.UpdatedAt.UTC()
	return &info, nil
}

func (db *componentsDB) UpsertInfo(ctx context.Context, info *component.Info) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO component_infos (uuid, source_uuid, name, address, discoverable, distance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid, source_uuid) DO UPDATE
		SET name = excluded.name, address = excluded.address,
			discoverable = excluded.discoverable, distance = excluded.distance,
			updated_at = excluded.updated_at`,
		info.UUID.String(), info.SourceUUID.String(), info.Name, info.Address,
		info.Discoverable, info.Distance, info.UpdatedAt.UTC())
	return Error.Wrap(err)
}

func (db *componentsDB) Infos(ctx context.Context) (_ []component.Info, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT uuid, source_uuid, name, address, discoverable, distance, updated_at
		FROM component_infos ORDER BY uuid, source_uuid`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var infos []component.Info
	for rows.Next() {
		var info component.Info
		var rawUUID, rawSource string
		err := rows.Scan(&rawUUID, &rawSource, &info.Name, &info.Address,
			&info.Discoverable, &info.Distance, &info.UpdatedAt)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if info.UUID, err = uuid.Parse(rawUUID); err != nil {
			return nil, Error.Wrap(err)
		}
		if info.SourceUUID, err = uuid.Parse(rawSource); err != nil {
			return nil, Error.Wrap(err)
		}
		info.UpdatedAt = info.UpdatedAt.UTC()
		infos = append(infos, info)
	}
	return infos, Error.Wrap(rows.Err())
}
