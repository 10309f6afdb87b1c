// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"

	"sampledb.io/sampledb/pkg/federation"
)

type imagesDB struct {
	db *sql.DB
}

func (db *imagesDB) Get(ctx context.Context, fileName string, componentID int64) (_ *federation.MarkdownImage, err error) {
	defer mon.Task()(&ctx)(&err)

	image := &federation.MarkdownImage{FileName: fileName, ComponentID: componentID}
	err = db.db.QueryRowContext(ctx, `
		SELECT content FROM markdown_images WHERE file_name = ? AND component_id = ?`,
		fileName, componentID).Scan(&image.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrEntityNotFound.New("markdown image %q from component %d", fileName, componentID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return image, nil
}

func (db *imagesDB) Upsert(ctx context.Context, image *federation.MarkdownImage) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := db.Get(ctx, image.FileName, image.ComponentID)
	if err != nil && !federation.ErrEntityNotFound.Has(err) {
		return false, err
	}
	if existing != nil {
		if bytes.Equal(existing.Content, image.Content) {
			return false, nil
		}
		_, err = db.db.ExecContext(ctx, `
			UPDATE markdown_images SET content = ? WHERE file_name = ? AND component_id = ?`,
			image.Content, image.FileName, image.ComponentID)
		return true, Error.Wrap(err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO markdown_images (file_name, component_id, content) VALUES (?, ?, ?)`,
		image.FileName, image.ComponentID, image.Content)
	return true, Error.Wrap(err)
}
