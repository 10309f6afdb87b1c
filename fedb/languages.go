// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/federation"
)

type languagesDB struct {
	db *sql.DB
}

func (db *languagesDB) All(ctx context.Context) (_ []federation.Language, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, lang_code, names, datetime_format_datetime, datetime_format_moment,
			date_format_moment, enabled_for_input, enabled_for_user_interface
		FROM languages ORDER BY id`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var languages []federation.Language
	for rows.Next() {
		var language federation.Language
		var names string
		err := rows.Scan(&language.ID, &language.LangCode, &names,
			&language.DatetimeFormatDatetime, &language.DatetimeFormatMoment, &language.DateFormatMoment,
			&language.EnabledForInput, &language.EnabledForUserInterface)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if err := json.Unmarshal([]byte(names), &language.Names); err != nil {
			return nil, Error.Wrap(err)
		}
		languages = append(languages, language)
	}
	return languages, Error.Wrap(rows.Err())
}

// Upsert inserts or updates a language by lang code. Identical data leaves
// the row untouched.
func (db *languagesDB) Upsert(ctx context.Context, language *federation.Language) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	names, err := json.Marshal(language.Names)
	if err != nil {
		return false, Error.Wrap(err)
	}

	var existingID int64
	var existing struct {
		names                string
		datetimeFormat       string
		momentFormat         string
		dateFormat           string
		enabledInput         bool
		enabledUserInterface bool
	}
	err = db.db.QueryRowContext(ctx, `
		SELECT id, names, datetime_format_datetime, datetime_format_moment, date_format_moment,
			enabled_for_input, enabled_for_user_interface
		FROM languages WHERE lang_code = ?`, language.LangCode).
		Scan(&existingID, &existing.names, &existing.datetimeFormat, &existing.momentFormat,
			&existing.dateFormat, &existing.enabledInput, &existing.enabledUserInterface)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.db.ExecContext(ctx, `
			INSERT INTO languages (lang_code, names, datetime_format_datetime, datetime_format_moment,
				date_format_moment, enabled_for_input, enabled_for_user_interface)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			language.LangCode, string(names), language.DatetimeFormatDatetime,
			language.DatetimeFormatMoment, language.DateFormatMoment,
			language.EnabledForInput, language.EnabledForUserInterface)
		return true, Error.Wrap(err)
	case err != nil:
		return false, Error.Wrap(err)
	}

	if existing.names == string(names) &&
		existing.datetimeFormat == language.DatetimeFormatDatetime &&
		existing.momentFormat == language.DatetimeFormatMoment &&
		existing.dateFormat == language.DateFormatMoment &&
		existing.enabledInput == language.EnabledForInput &&
		existing.enabledUserInterface == language.EnabledForUserInterface {
		return false, nil
	}

	_, err = db.db.ExecContext(ctx, `
		UPDATE languages SET names = ?, datetime_format_datetime = ?, datetime_format_moment = ?,
			date_format_moment = ?, enabled_for_input = ?, enabled_for_user_interface = ?
		WHERE id = ?`,
		string(names), language.DatetimeFormatDatetime, language.DatetimeFormatMoment,
		language.DateFormatMoment, language.EnabledForInput, language.EnabledForUserInterface,
		existingID)
	return true, Error.Wrap(err)
}
