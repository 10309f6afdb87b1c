// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/share"
)

type sharesDB struct {
	db *sql.DB
}

func encodeImportStatus(status *share.ImportStatus) (interface{}, error) {
	if status == nil {
		return nil, nil
	}
	encoded, err := share.MarshalImportStatus(*status)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return string(encoded), nil
}

func decodeImportStatus(raw sql.NullString) *share.ImportStatus {
	if !raw.Valid {
		return nil
	}
	status, ok := share.ParseImportStatus([]byte(raw.String))
	if !ok {
		return nil
	}
	return status
}

func (db *sharesDB) CreateShare(ctx context.Context, entry *share.Share) (err error) {
	defer mon.Task()(&ctx)(&err)

	policy, err := json.Marshal(entry.Policy)
	if err != nil {
		return Error.Wrap(err)
	}
	status, err := encodeImportStatus(entry.ImportStatus)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO shares (object_id, component_id, policy, user_id, import_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ObjectID, entry.ComponentID, string(policy), entry.UserID, status, entry.UpdatedAt.UTC())
	return Error.Wrap(err)
}

func (db *sharesDB) UpdateShare(ctx context.Context, entry *share.Share) (err error) {
	defer mon.Task()(&ctx)(&err)

	policy, err := json.Marshal(entry.Policy)
	if err != nil {
		return Error.Wrap(err)
	}
	status, err := encodeImportStatus(entry.ImportStatus)
	if err != nil {
		return err
	}
	result, err := db.db.ExecContext(ctx, `
		UPDATE shares SET policy = ?, user_id = ?, import_status = ?, updated_at = ?
		WHERE object_id = ? AND component_id = ?`,
		string(policy), entry.UserID, status, entry.UpdatedAt.UTC(),
		entry.ObjectID, entry.ComponentID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return share.ErrNotFound.New("object %d, component %d", entry.ObjectID, entry.ComponentID)
	}
	return nil
}

func scanShare(row interface{ Scan(...interface{}) error }) (*share.Share, error) {
	var entry share.Share
	var policy string
	var status sql.NullString
	err := row.Scan(&entry.ObjectID, &entry.ComponentID, &policy, &entry.UserID, &status, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(policy), &entry.Policy); err != nil {
		return nil, Error.Wrap(err)
	}
	entry.ImportStatus = decodeImportStatus(status)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (db *sharesDB) GetShare(ctx context.Context, objectID, componentID int64) (_ *share.Share, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, err := scanShare(db.db.QueryRowContext(ctx, `
		SELECT object_id, component_id, policy, user_id, import_status, updated_at
		FROM shares WHERE object_id = ? AND component_id = ?`, objectID, componentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, share.ErrNotFound.New("object %d, component %d", objectID, componentID)
	}
	return entry, Error.Wrap(err)
}

func (db *sharesDB) SharesForComponent(ctx context.Context, componentID int64) (_ []share.Share, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryShares(ctx, `
		SELECT object_id, component_id, policy, user_id, import_status, updated_at
		FROM shares WHERE component_id = ? ORDER BY object_id`, componentID)
}

func (db *sharesDB) SharesForObject(ctx context.Context, objectID int64) (_ []share.Share, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryShares(ctx, `
		SELECT object_id, component_id, policy, user_id, import_status, updated_at
		FROM shares WHERE object_id = ? ORDER BY component_id`, objectID)
}

func (db *sharesDB) AllShares(ctx context.Context) (_ []share.Share, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryShares(ctx, `
		SELECT object_id, component_id, policy, user_id, import_status, updated_at
		FROM shares ORDER BY object_id, component_id`)
}

func (db *sharesDB) queryShares(ctx context.Context, query string, args ...interface{}) (_ []share.Share, err error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var shares []share.Share
	for rows.Next() {
		entry, err := scanShare(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		shares = append(shares, *entry)
	}
	return shares, Error.Wrap(rows.Err())
}

func (db *sharesDB) CreateLogEntry(ctx context.Context, entry *share.LogEntry) (err error) {
	defer mon.Task()(&ctx)(&err)

	data := entry.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := db.db.ExecContext(ctx, `
		INSERT INTO share_log (type, object_id, component_id, user_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Type, entry.ObjectID, entry.ComponentID, entry.UserID, string(data), createdAt)
	if err != nil {
		return Error.Wrap(err)
	}
	entry.ID, err = result.LastInsertId()
	entry.CreatedAt = createdAt
	return Error.Wrap(err)
}

func (db *sharesDB) LogEntriesForObject(ctx context.Context, objectID int64) (_ []share.LogEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, type, object_id, component_id, user_id, data, created_at
		FROM share_log WHERE object_id = ? ORDER BY id`, objectID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var entries []share.LogEntry
	for rows.Next() {
		var entry share.LogEntry
		var data string
		err := rows.Scan(&entry.ID, &entry.Type, &entry.ObjectID, &entry.ComponentID,
			&entry.UserID, &data, &entry.CreatedAt)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		entry.Data = json.RawMessage(data)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, Error.Wrap(rows.Err())
}

func (db *sharesDB) CreateImportSpecification(ctx context.Context, spec *share.ImportSpecification) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO import_specifications
			(object_id, component_id, data, files, action, users, comments, object_location_assignments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.ObjectID, spec.ComponentID, spec.Data, spec.Files, spec.Action,
		spec.Users, spec.Comments, spec.ObjectLocationAssignments)
	return Error.Wrap(err)
}

func (db *sharesDB) UpdateImportSpecification(ctx context.Context, spec *share.ImportSpecification) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `
		UPDATE import_specifications
		SET data = ?, files = ?, action = ?, users = ?, comments = ?, object_location_assignments = ?
		WHERE object_id = ? AND component_id = ?`,
		spec.Data, spec.Files, spec.Action, spec.Users, spec.Comments, spec.ObjectLocationAssignments,
		spec.ObjectID, spec.ComponentID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return share.ErrSpecificationNotFound.New("object %d, component %d", spec.ObjectID, spec.ComponentID)
	}
	return nil
}

func (db *sharesDB) GetImportSpecification(ctx context.Context, objectID, componentID int64) (_ *share.ImportSpecification, err error) {
	defer mon.Task()(&ctx)(&err)

	var spec share.ImportSpecification
	err = db.db.QueryRowContext(ctx, `
		SELECT object_id, component_id, data, files, action, users, comments, object_location_assignments
		FROM import_specifications WHERE object_id = ? AND component_id = ?`,
		objectID, componentID).
		Scan(&spec.ObjectID, &spec.ComponentID, &spec.Data, &spec.Files, &spec.Action,
			&spec.Users, &spec.Comments, &spec.ObjectLocationAssignments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, share.ErrSpecificationNotFound.New("object %d, component %d", objectID, componentID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &spec, nil
}
