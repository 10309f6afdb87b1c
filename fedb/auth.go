// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/componentauth"
)

type authDB struct {
	db *sql.DB
}

func (db *authDB) CreateTokenAuth(ctx context.Context, auth *componentauth.TokenAuth) (_ *componentauth.TokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO token_auths (component_id, login, secret_hash, description)
		VALUES (?, ?, ?, ?)`,
		auth.ComponentID, auth.Login, auth.SecretHash, auth.Description)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	created := *auth
	created.ID, err = result.LastInsertId()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &created, nil
}

func (db *authDB) TokenAuthsByLogin(ctx context.Context, login string) (_ []componentauth.TokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryTokenAuths(ctx, `
		SELECT id, component_id, login, secret_hash, description
		FROM token_auths WHERE login = ? ORDER BY id`, login)
}

func (db *authDB) TokenAuthsByComponent(ctx context.Context, componentID int64) (_ []componentauth.TokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryTokenAuths(ctx, `
		SELECT id, component_id, login, secret_hash, description
		FROM token_auths WHERE component_id = ? ORDER BY id`, componentID)
}

func (db *authDB) queryTokenAuths(ctx context.Context, query string, arg interface{}) (_ []componentauth.TokenAuth, err error) {
	rows, err := db.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var auths []componentauth.TokenAuth
	for rows.Next() {
		var auth componentauth.TokenAuth
		if err := rows.Scan(&auth.ID, &auth.ComponentID, &auth.Login, &auth.SecretHash, &auth.Description); err != nil {
			return nil, Error.Wrap(err)
		}
		auths = append(auths, auth)
	}
	return auths, Error.Wrap(rows.Err())
}

func (db *authDB) DeleteTokenAuth(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `DELETE FROM token_auths WHERE id = ?`, id)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return componentauth.ErrNotFound.New("token auth %d", id)
	}
	return nil
}

func (db *authDB) CreateOwnTokenAuth(ctx context.Context, auth *componentauth.OwnTokenAuth) (_ *componentauth.OwnTokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO own_token_auths (component_id, login, token, description)
		VALUES (?, ?, ?, ?)`,
		auth.ComponentID, auth.Login, auth.Token, auth.Description)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	created := *auth
	created.ID, err = result.LastInsertId()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &created, nil
}

func (db *authDB) OwnTokenAuthsByComponent(ctx context.Context, componentID int64) (_ []componentauth.OwnTokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, component_id, login, token, description
		FROM own_token_auths WHERE component_id = ? ORDER BY id`, componentID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var auths []componentauth.OwnTokenAuth
	for rows.Next() {
		var auth componentauth.OwnTokenAuth
		if err := rows.Scan(&auth.ID, &auth.ComponentID, &auth.Login, &auth.Token, &auth.Description); err != nil {
			return nil, Error.Wrap(err)
		}
		auths = append(auths, auth)
	}
	return auths, Error.Wrap(rows.Err())
}

func (db *authDB) DeleteOwnTokenAuth(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `DELETE FROM own_token_auths WHERE id = ?`, id)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return componentauth.ErrNotFound.New("own token auth %d", id)
	}
	return nil
}
