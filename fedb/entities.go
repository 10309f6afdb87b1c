// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/federation"
)

type entitiesDB struct {
	db *sql.DB
}

func scanEntity(row interface{ Scan(...interface{}) error }) (*federation.Entity, error) {
	var entity federation.Entity
	var data string
	err := row.Scan(&entity.LocalID, &entity.Kind, &entity.FedID, &entity.ComponentID, &data, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entity.Data = json.RawMessage(data)
	entity.UpdatedAt = entity.UpdatedAt.UTC()
	return &entity, nil
}

func (db *entitiesDB) Get(ctx context.Context, kind federation.Kind, fedID, componentID int64) (_ *federation.Entity, err error) {
	defer mon.Task()(&ctx)(&err)

	entity, err := scanEntity(db.db.QueryRowContext(ctx, `
		SELECT local_id, kind, fed_id, component_id, data, updated_at
		FROM federated_entities WHERE kind = ? AND fed_id = ? AND component_id = ?`,
		string(kind), fedID, componentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrEntityNotFound.New("%s %d from component %d", kind, fedID, componentID)
	}
	return entity, Error.Wrap(err)
}

func (db *entitiesDB) GetByLocalID(ctx context.Context, kind federation.Kind, localID int64) (_ *federation.Entity, err error) {
	defer mon.Task()(&ctx)(&err)

	entity, err := scanEntity(db.db.QueryRowContext(ctx, `
		SELECT local_id, kind, fed_id, component_id, data, updated_at
		FROM federated_entities WHERE kind = ? AND local_id = ?`,
		string(kind), localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrEntityNotFound.New("%s %d", kind, localID)
	}
	return entity, Error.Wrap(err)
}

// Upsert inserts or updates an entity by federation key. Writing identical
// data leaves the row untouched so that updated_at only moves on real change.
func (db *entitiesDB) Upsert(ctx context.Context, entity *federation.Entity) (localID int64, changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := db.Get(ctx, entity.Kind, entity.FedID, entity.ComponentID)
	if err != nil && !federation.ErrEntityNotFound.Has(err) {
		return 0, false, err
	}
	if existing != nil {
		if bytes.Equal(existing.Data, entity.Data) {
			return existing.LocalID, false, nil
		}
		_, err = db.db.ExecContext(ctx, `
			UPDATE federated_entities SET data = ?, updated_at = ? WHERE local_id = ?`,
			string(entity.Data), time.Now().UTC(), existing.LocalID)
		return existing.LocalID, true, Error.Wrap(err)
	}

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO federated_entities (kind, fed_id, component_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(entity.Kind), entity.FedID, entity.ComponentID, string(entity.Data), time.Now().UTC())
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	localID, err = result.LastInsertId()
	return localID, true, Error.Wrap(err)
}

// CreateLocal inserts a locally originated entity. Local rows carry
// component id 0 and a fed id equal to the fresh local id.
func (db *entitiesDB) CreateLocal(ctx context.Context, kind federation.Kind, data json.RawMessage) (_ *federation.Entity, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	result, err := db.db.ExecContext(ctx, `
		INSERT INTO federated_entities (kind, fed_id, component_id, data, updated_at)
		VALUES (?, 0, ?, ?, ?)`,
		string(kind), federation.LocalComponentID, string(data), now)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	localID, err := result.LastInsertId()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	_, err = db.db.ExecContext(ctx,
		`UPDATE federated_entities SET fed_id = ? WHERE local_id = ?`, localID, localID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &federation.Entity{
		Kind:        kind,
		LocalID:     localID,
		FedID:       localID,
		ComponentID: federation.LocalComponentID,
		Data:        data,
		UpdatedAt:   now,
	}, nil
}

func (db *entitiesDB) UpsertObjectVersion(ctx context.Context, version *federation.ObjectVersion) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var data, schema sql.NullString
	err = db.db.QueryRowContext(ctx, `
		SELECT data, schema FROM object_versions
		WHERE object_local_id = ? AND fed_version_id = ?`,
		version.ObjectLocalID, version.FedVersionID).Scan(&data, &schema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.db.ExecContext(ctx, `
			INSERT INTO object_versions (object_local_id, fed_version_id, data, schema, user_id, utc_datetime)
			VALUES (?, ?, ?, ?, ?, ?)`,
			version.ObjectLocalID, version.FedVersionID,
			nullRaw(version.Data), nullRaw(version.Schema), version.UserID, version.UTCDatetime.UTC())
		return true, Error.Wrap(err)
	case err != nil:
		return false, Error.Wrap(err)
	}

	if data.String == string(version.Data) && schema.String == string(version.Schema) {
		return false, nil
	}
	_, err = db.db.ExecContext(ctx, `
		UPDATE object_versions SET data = ?, schema = ?, user_id = ?, utc_datetime = ?
		WHERE object_local_id = ? AND fed_version_id = ?`,
		nullRaw(version.Data), nullRaw(version.Schema), version.UserID, version.UTCDatetime.UTC(),
		version.ObjectLocalID, version.FedVersionID)
	return true, Error.Wrap(err)
}

func (db *entitiesDB) ObjectVersions(ctx context.Context, objectLocalID int64) (_ []federation.ObjectVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT object_local_id, fed_version_id, data, schema, user_id, utc_datetime
		FROM object_versions WHERE object_local_id = ? ORDER BY fed_version_id`, objectLocalID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var versions []federation.ObjectVersion
	for rows.Next() {
		var version federation.ObjectVersion
		var data, schema sql.NullString
		err := rows.Scan(&version.ObjectLocalID, &version.FedVersionID, &data, &schema,
			&version.UserID, &version.UTCDatetime)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if data.Valid {
			version.Data = json.RawMessage(data.String)
		}
		if schema.Valid {
			version.Schema = json.RawMessage(schema.String)
		}
		version.UTCDatetime = version.UTCDatetime.UTC()
		versions = append(versions, version)
	}
	return versions, Error.Wrap(rows.Err())
}

func nullRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// objectsDB answers object existence probes against the entity table.
type objectsDB struct {
	db *sql.DB
}

func (db *objectsDB) Exists(ctx context.Context, objectID int64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var one int
	err = db.db.QueryRowContext(ctx, `
		SELECT 1 FROM federated_entities WHERE kind = ? AND local_id = ?`,
		string(federation.KindObject), objectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}
