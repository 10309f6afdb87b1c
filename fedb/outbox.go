// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/federation"
)

type outboxDB struct {
	db *sql.DB
}

// Enqueue records an update-hook intent. Multiple intents toward the same
// component collapse into one pending entry.
func (db *outboxDB) Enqueue(ctx context.Context, componentID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	var one int
	err = db.db.QueryRowContext(ctx,
		`SELECT 1 FROM update_outbox WHERE component_id = ?`, componentID).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Error.Wrap(err)
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO update_outbox (component_id, created_at) VALUES (?, ?)`,
		componentID, time.Now().UTC())
	return Error.Wrap(err)
}

func (db *outboxDB) Pending(ctx context.Context, limit int) (_ []federation.OutboxEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, component_id, created_at FROM update_outbox ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var entries []federation.OutboxEntry
	for rows.Next() {
		var entry federation.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.ComponentID, &entry.CreatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, Error.Wrap(rows.Err())
}

func (db *outboxDB) Delete(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `DELETE FROM update_outbox WHERE id = ?`, id)
	return Error.Wrap(err)
}
