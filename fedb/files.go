// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"errors"

	"sampledb.io/sampledb/pkg/federation"
)

type filesDB struct {
	db *sql.DB
}

func (db *filesDB) Get(ctx context.Context, objectID, fileID int64) (_ *federation.File, err error) {
	defer mon.Task()(&ctx)(&err)

	file := &federation.File{ObjectID: objectID, FileID: fileID}
	var data []byte
	err = db.db.QueryRowContext(ctx, `
		SELECT storage, original_file_name, data, url
		FROM object_files WHERE object_id = ? AND file_id = ?`,
		objectID, fileID).Scan(&file.Storage, &file.OriginalFileName, &data, &file.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrFileNotFound.New("object %d, file %d", objectID, fileID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	file.Data = data
	return file, nil
}
