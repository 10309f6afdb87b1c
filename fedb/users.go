// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"sampledb.io/sampledb/pkg/federation"
)

type usersDB struct {
	db *sql.DB
}

const userColumns = `id, name, email, email_confirmed, orcid, affiliation, role, component_id, fed_id`

func scanUser(row interface{ Scan(...interface{}) error }) (*federation.User, error) {
	var user federation.User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.EmailConfirmed,
		&user.Orcid, &user.Affiliation, &user.Role, &user.ComponentID, &user.FedID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *usersDB) Create(ctx context.Context, user *federation.User) (_ *federation.User, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO users (name, email, email_confirmed, orcid, affiliation, role, component_id, fed_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.EmailConfirmed, user.Orcid, user.Affiliation, user.Role,
		user.ComponentID, user.FedID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	created := *user
	created.ID, err = result.LastInsertId()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &created, nil
}

func (db *usersDB) Get(ctx context.Context, id int64) (_ *federation.User, err error) {
	defer mon.Task()(&ctx)(&err)

	user, err := scanUser(db.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrEntityNotFound.New("user %d", id)
	}
	return user, Error.Wrap(err)
}

func (db *usersDB) GetByFedID(ctx context.Context, componentID, fedID int64) (_ *federation.User, err error) {
	defer mon.Task()(&ctx)(&err)

	user, err := scanUser(db.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE component_id = ? AND fed_id = ?`, componentID, fedID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, federation.ErrEntityNotFound.New("user %d from component %d", fedID, componentID)
	}
	return user, Error.Wrap(err)
}

// Upsert inserts or updates an imported user by federation key. Identical
// data leaves the row untouched.
func (db *usersDB) Upsert(ctx context.Context, user *federation.User) (id int64, changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := db.GetByFedID(ctx, user.ComponentID, user.FedID)
	if err != nil && !federation.ErrEntityNotFound.Has(err) {
		return 0, false, err
	}
	if existing != nil {
		if existing.Name == user.Name && existing.Email == user.Email &&
			existing.Orcid == user.Orcid && existing.Affiliation == user.Affiliation &&
			existing.Role == user.Role {
			return existing.ID, false, nil
		}
		_, err = db.db.ExecContext(ctx, `
			UPDATE users SET name = ?, email = ?, orcid = ?, affiliation = ?, role = ?
			WHERE id = ?`,
			user.Name, user.Email, user.Orcid, user.Affiliation, user.Role, existing.ID)
		return existing.ID, true, Error.Wrap(err)
	}

	created, err := db.Create(ctx, user)
	if err != nil {
		return 0, false, err
	}
	return created.ID, true, nil
}

func (db *usersDB) All(ctx context.Context) (_ []federation.User, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var users []federation.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		users = append(users, *user)
	}
	return users, Error.Wrap(rows.Err())
}

func (db *usersDB) GetLink(ctx context.Context, componentID, fedUserID int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var userID int64
	err = db.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_links WHERE component_id = ? AND fed_user_id = ?`,
		componentID, fedUserID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, federation.ErrLinkNotFound.New("user %d at component %d", fedUserID, componentID)
	}
	return userID, Error.Wrap(err)
}

func (db *usersDB) LinksForComponent(ctx context.Context, componentID int64) (_ map[int64]int64, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT user_id, fed_user_id FROM user_links WHERE component_id = ?`, componentID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	links := map[int64]int64{}
	for rows.Next() {
		var userID, fedUserID int64
		if err := rows.Scan(&userID, &fedUserID); err != nil {
			return nil, Error.Wrap(err)
		}
		links[userID] = fedUserID
	}
	return links, Error.Wrap(rows.Err())
}

func (db *usersDB) CreateLink(ctx context.Context, userID, componentID, fedUserID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO user_links (user_id, component_id, fed_user_id) VALUES (?, ?, ?)`,
		userID, componentID, fedUserID)
	return Error.Wrap(err)
}
