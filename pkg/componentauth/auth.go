// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package componentauth manages the bearer tokens used to authenticate
// federation requests in both directions: tokens peers present to us and
// tokens we present to peers.
package componentauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"sampledb.io/sampledb/pkg/component"
)

var (
	mon = monkit.Package()

	// Error is the default component authentication error class.
	Error = errs.Class("component authentication error")
	// ErrInvalidToken is returned when a token is not 64 lowercase hex characters.
	ErrInvalidToken = errs.Class("invalid token")
	// ErrTokenExists is returned when the same own token is registered twice
	// for a component.
	ErrTokenExists = errs.Class("token already exists")
	// ErrNotFound is returned when an authentication method does not exist.
	ErrNotFound = errs.Class("authentication not found")
)

const (
	// TokenLength is the full length of a federation token.
	TokenLength = 64
	// loginLength is the identification prefix used for lookup.
	loginLength = 8
)

var tokenRegexp = regexp.MustCompile(`^[0-9a-f]{64}$`)

// TokenAuth is a token another component presents to us. Only the salted
// hash of the secret half is stored.
type TokenAuth struct {
	ID          int64
	ComponentID int64
	Login       string
	SecretHash  []byte
	Description string
}

// OwnTokenAuth is a token we present to another component. The full token is
// stored because it must be sent as a header.
type OwnTokenAuth struct {
	ID          int64
	ComponentID int64
	Login       string
	Token       string
	Description string
}

// DB is the interface for the authentication database.
type DB interface {
	CreateTokenAuth(ctx context.Context, auth *TokenAuth) (*TokenAuth, error)
	TokenAuthsByLogin(ctx context.Context, login string) ([]TokenAuth, error)
	TokenAuthsByComponent(ctx context.Context, componentID int64) ([]TokenAuth, error)
	DeleteTokenAuth(ctx context.Context, id int64) error

	CreateOwnTokenAuth(ctx context.Context, auth *OwnTokenAuth) (*OwnTokenAuth, error)
	OwnTokenAuthsByComponent(ctx context.Context, componentID int64) ([]OwnTokenAuth, error)
	DeleteOwnTokenAuth(ctx context.Context, id int64) error
}

// Service implements token registration and verification.
type Service struct {
	log        *zap.Logger
	db         DB
	components *component.Registry
}

// NewService creates a component authentication service.
func NewService(log *zap.Logger, db DB, components *component.Registry) *Service {
	return &Service{log: log, db: db, components: components}
}

// normalizeToken lowercases and validates a raw token, returning the login
// prefix and the secret half.
func normalizeToken(token string) (login, secret string, err error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if !tokenRegexp.MatchString(token) {
		return "", "", ErrInvalidToken.New("token must be %d lowercase hex characters", TokenLength)
	}
	return token[:loginLength], token[loginLength:], nil
}

// GenerateToken creates a new random federation token.
func GenerateToken() (string, error) {
	var raw [TokenLength / 2]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", Error.Wrap(err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// AddTokenAuth registers a token that the given component will present to us.
func (service *Service) AddTokenAuth(ctx context.Context, componentID int64, token, description string) (_ *TokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	login, secret, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}
	if _, err := service.components.Get(ctx, componentID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	auth, err := service.db.CreateTokenAuth(ctx, &TokenAuth{
		ComponentID: componentID,
		Login:       login,
		SecretHash:  hash,
		Description: description,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return auth, nil
}

// AddOwnTokenAuth registers a token that we will present to the given
// component. The same literal token cannot be registered twice.
func (service *Service) AddOwnTokenAuth(ctx context.Context, componentID int64, token, description string) (_ *OwnTokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	login, secret, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}
	if _, err := service.components.Get(ctx, componentID); err != nil {
		return nil, err
	}

	existing, err := service.db.OwnTokenAuthsByComponent(ctx, componentID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, auth := range existing {
		if auth.Token == login+secret {
			return nil, ErrTokenExists.New("component %d", componentID)
		}
	}

	auth, err := service.db.CreateOwnTokenAuth(ctx, &OwnTokenAuth{
		ComponentID: componentID,
		Login:       login,
		Token:       login + secret,
		Description: description,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return auth, nil
}

// LoginViaToken verifies a presented token and returns the component it
// belongs to, or nil when no registered token matches. All rows sharing the
// login prefix are checked, so prefix collisions cannot cause false negatives.
func (service *Service) LoginViaToken(ctx context.Context, token string) (_ *component.Component, err error) {
	defer mon.Task()(&ctx)(&err)

	login, secret, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}

	auths, err := service.db.TokenAuthsByLogin(ctx, login)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, auth := range auths {
		if bcrypt.CompareHashAndPassword(auth.SecretHash, []byte(secret)) == nil {
			return service.components.Get(ctx, auth.ComponentID)
		}
	}
	return nil, nil
}

// OwnAuth returns the token we present to the given component.
func (service *Service) OwnAuth(ctx context.Context, componentID int64) (_ *OwnTokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)

	auths, err := service.db.OwnTokenAuthsByComponent(ctx, componentID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(auths) == 0 {
		return nil, ErrNotFound.New("no own token for component %d", componentID)
	}
	return &auths[0], nil
}

// ListTokenAuths returns the tokens the given component may present to us.
func (service *Service) ListTokenAuths(ctx context.Context, componentID int64) (_ []TokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.TokenAuthsByComponent(ctx, componentID)
}

// ListOwnTokenAuths returns the tokens we may present to the given component.
func (service *Service) ListOwnTokenAuths(ctx context.Context, componentID int64) (_ []OwnTokenAuth, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.OwnTokenAuthsByComponent(ctx, componentID)
}

// RemoveTokenAuth deletes a peer-presented authentication method.
func (service *Service) RemoveTokenAuth(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(service.db.DeleteTokenAuth(ctx, id))
}

// RemoveOwnTokenAuth deletes an own authentication method.
func (service *Service) RemoveOwnTokenAuth(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(service.db.DeleteOwnTokenAuth(ctx, id))
}
