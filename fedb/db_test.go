// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedb_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sampledb.io/sampledb/fedb"
	"sampledb.io/sampledb/internal/testcontext"
	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/share"
)

func openTestDB(t *testing.T, ctx *testcontext.Context) *fedb.DB {
	db, err := fedb.Open(ctx, zaptest.NewLogger(t), fedb.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestComponents(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	components := openTestDB(t, ctx).Components()

	created, err := components.Create(ctx, &component.Component{
		UUID:    uuid.MustParse("22222222-2222-4222-8222-222222222222"),
		Name:    "Peer",
		Address: "peer.example.org",
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	byID, err := components.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, byID)
	byUUID, err := components.GetByUUID(ctx, created.UUID)
	require.NoError(t, err)
	require.Equal(t, created, byUUID)
	byName, err := components.GetByName(ctx, "Peer")
	require.NoError(t, err)
	require.Equal(t, created, byName)

	_, err = components.Get(ctx, created.ID+1)
	require.True(t, component.ErrNotFound.Has(err))

	lastSync := time.Date(2024, 5, 2, 13, 37, 0, 0, time.UTC)
	created.Description = "a partner instance"
	created.Discoverable = true
	created.LastSyncTimestamp = &lastSync
	require.NoError(t, components.Update(ctx, created))

	updated, err := components.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, updated.Discoverable)
	require.NotNil(t, updated.LastSyncTimestamp)
	require.Equal(t, lastSync, *updated.LastSyncTimestamp)

	missing := *created
	missing.ID += 100
	require.True(t, component.ErrNotFound.Has(components.Update(ctx, &missing)))

	second, err := components.Create(ctx, &component.Component{
		UUID: uuid.MustParse("33333333-3333-4333-8333-333333333333"),
		Name: "Other Peer",
	})
	require.NoError(t, err)

	all, err := components.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, created.ID, all[0].ID)
	require.Equal(t, second.ID, all[1].ID)
}

func TestComponentInfos(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	components := openTestDB(t, ctx).Components()

	target := uuid.MustParse("44444444-4444-4444-8444-444444444444")
	source := uuid.MustParse("22222222-2222-4222-8222-222222222222")

	_, err := components.GetInfo(ctx, target, source)
	require.True(t, component.ErrInfoNotFound.Has(err))

	info := component.Info{
		UUID:         target,
		SourceUUID:   source,
		Name:         "Transitive",
		Address:      "transitive.example.org",
		Discoverable: true,
		Distance:     2,
		UpdatedAt:    time.Date(2024, 5, 2, 13, 37, 0, 0, time.UTC),
	}
	require.NoError(t, components.UpsertInfo(ctx, &info))

	stored, err := components.GetInfo(ctx, target, source)
	require.NoError(t, err)
	require.Equal(t, info, *stored)

	// a second upsert for the same key replaces the row
	info.Distance = 3
	info.Name = "Renamed"
	require.NoError(t, components.UpsertInfo(ctx, &info))

	infos, err := components.Infos(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, int64(3), infos[0].Distance)
	require.Equal(t, "Renamed", infos[0].Name)
}

func TestEntities(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)
	entities := db.Entities()

	imported := &federation.Entity{
		Kind:        federation.KindAction,
		FedID:       7,
		ComponentID: 1,
		Data:        json.RawMessage(`{"name":"Measure"}`),
	}
	localID, changed, err := entities.Upsert(ctx, imported)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotZero(t, localID)

	// identical data leaves the row untouched
	_, changed, err = entities.Upsert(ctx, imported)
	require.NoError(t, err)
	require.False(t, changed)

	imported.Data = json.RawMessage(`{"name":"Measure v2"}`)
	sameID, changed, err := entities.Upsert(ctx, imported)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, localID, sameID)

	stored, err := entities.Get(ctx, federation.KindAction, 7, 1)
	require.NoError(t, err)
	require.Equal(t, localID, stored.LocalID)
	require.JSONEq(t, `{"name":"Measure v2"}`, string(stored.Data))

	byLocal, err := entities.GetByLocalID(ctx, federation.KindAction, localID)
	require.NoError(t, err)
	require.Equal(t, stored, byLocal)

	_, err = entities.Get(ctx, federation.KindAction, 8, 1)
	require.True(t, federation.ErrEntityNotFound.Has(err))
	_, err = entities.GetByLocalID(ctx, federation.KindObject, localID)
	require.True(t, federation.ErrEntityNotFound.Has(err))

	// locally created rows use their fresh local id as fed id
	local, err := entities.CreateLocal(ctx, federation.KindObject, json.RawMessage(`{"action_id":1}`))
	require.NoError(t, err)
	require.Equal(t, local.LocalID, local.FedID)
	require.Equal(t, int64(federation.LocalComponentID), local.ComponentID)

	roundTrip, err := entities.Get(ctx, federation.KindObject, local.FedID, federation.LocalComponentID)
	require.NoError(t, err)
	require.Equal(t, local.LocalID, roundTrip.LocalID)

	objects := db.Objects()
	exists, err := objects.Exists(ctx, local.LocalID)
	require.NoError(t, err)
	require.True(t, exists)
	// the action row is not an object
	exists, err = objects.Exists(ctx, localID)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestObjectVersions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	entities := openTestDB(t, ctx).Entities()

	object, err := entities.CreateLocal(ctx, federation.KindObject, nil)
	require.NoError(t, err)

	userID := int64(3)
	version := &federation.ObjectVersion{
		ObjectLocalID: object.LocalID,
		FedVersionID:  1,
		Data:          json.RawMessage(`{"text":"first"}`),
		Schema:        json.RawMessage(`{"type":"object"}`),
		UserID:        &userID,
		UTCDatetime:   time.Date(2024, 5, 2, 13, 37, 0, 0, time.UTC),
	}
	changed, err := entities.UpsertObjectVersion(ctx, version)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = entities.UpsertObjectVersion(ctx, version)
	require.NoError(t, err)
	require.False(t, changed)

	version.Data = json.RawMessage(`{"text":"revised"}`)
	changed, err = entities.UpsertObjectVersion(ctx, version)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = entities.UpsertObjectVersion(ctx, &federation.ObjectVersion{
		ObjectLocalID: object.LocalID,
		FedVersionID:  0,
		UTCDatetime:   time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, changed)

	versions, err := entities.ObjectVersions(ctx, object.LocalID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, int64(0), versions[0].FedVersionID)
	require.Empty(t, versions[0].Data)
	require.Equal(t, int64(1), versions[1].FedVersionID)
	require.JSONEq(t, `{"text":"revised"}`, string(versions[1].Data))
	require.NotNil(t, versions[1].UserID)
	require.Equal(t, userID, *versions[1].UserID)
}

func TestUsers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	users := openTestDB(t, ctx).Users()

	alice, err := users.Create(ctx, &federation.User{
		Name:           "Alice",
		Email:          "alice@example.org",
		EmailConfirmed: true,
		Orcid:          "0000-0002-1825-0097",
	})
	require.NoError(t, err)
	require.NotZero(t, alice.ID)

	stored, err := users.Get(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, alice, stored)
	_, err = users.Get(ctx, alice.ID+1)
	require.True(t, federation.ErrEntityNotFound.Has(err))

	remote := &federation.User{Name: "Remote", ComponentID: 2, FedID: 5}
	remoteID, changed, err := users.Upsert(ctx, remote)
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = users.Upsert(ctx, remote)
	require.NoError(t, err)
	require.False(t, changed)

	remote.Affiliation = "Example Lab"
	sameID, changed, err := users.Upsert(ctx, remote)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, remoteID, sameID)

	byFedID, err := users.GetByFedID(ctx, 2, 5)
	require.NoError(t, err)
	require.Equal(t, "Example Lab", byFedID.Affiliation)

	all, err := users.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = users.GetLink(ctx, 2, 5)
	require.True(t, federation.ErrLinkNotFound.Has(err))
	require.NoError(t, users.CreateLink(ctx, alice.ID, 2, 5))

	linked, err := users.GetLink(ctx, 2, 5)
	require.NoError(t, err)
	require.Equal(t, alice.ID, linked)

	links, err := users.LinksForComponent(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{alice.ID: 5}, links)
}

func TestLanguages(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	languages := openTestDB(t, ctx).Languages()

	english := &federation.Language{
		LangCode:                "en",
		Names:                   map[string]string{"en": "English", "de": "Englisch"},
		DatetimeFormatDatetime:  "%Y-%m-%d %H:%M:%S",
		DatetimeFormatMoment:    "YYYY-MM-DD HH:mm:ss",
		DateFormatMoment:        "YYYY-MM-DD",
		EnabledForInput:         true,
		EnabledForUserInterface: true,
	}
	changed, err := languages.Upsert(ctx, english)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = languages.Upsert(ctx, english)
	require.NoError(t, err)
	require.False(t, changed)

	english.EnabledForInput = false
	changed, err = languages.Upsert(ctx, english)
	require.NoError(t, err)
	require.True(t, changed)

	all, err := languages.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "en", all[0].LangCode)
	require.Equal(t, english.Names, all[0].Names)
	require.False(t, all[0].EnabledForInput)
}

func TestOutbox(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	outbox := openTestDB(t, ctx).Outbox()

	require.NoError(t, outbox.Enqueue(ctx, 1))
	require.NoError(t, outbox.Enqueue(ctx, 2))
	// repeated intents toward the same component collapse
	require.NoError(t, outbox.Enqueue(ctx, 1))

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, int64(1), pending[0].ComponentID)
	require.Equal(t, int64(2), pending[1].ComponentID)

	limited, err := outbox.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, outbox.Delete(ctx, pending[0].ID))
	pending, err = outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, int64(2), pending[0].ComponentID)
}

func TestMarkdownImages(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	images := openTestDB(t, ctx).Images()

	_, err := images.Get(ctx, "plot.png", federation.LocalComponentID)
	require.True(t, federation.ErrEntityNotFound.Has(err))

	image := &federation.MarkdownImage{
		FileName:    "plot.png",
		ComponentID: federation.LocalComponentID,
		Content:     []byte("png bytes"),
	}
	changed, err := images.Upsert(ctx, image)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = images.Upsert(ctx, image)
	require.NoError(t, err)
	require.False(t, changed)

	image.Content = []byte("new png bytes")
	changed, err = images.Upsert(ctx, image)
	require.NoError(t, err)
	require.True(t, changed)

	stored, err := images.Get(ctx, "plot.png", federation.LocalComponentID)
	require.NoError(t, err)
	require.Equal(t, []byte("new png bytes"), stored.Content)
}

func TestShares(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	shares := openTestDB(t, ctx).Shares()

	userID := int64(3)
	entry := &share.Share{
		ObjectID:    10,
		ComponentID: 1,
		Policy:      share.Policy{Access: share.AccessPolicy{Data: true}},
		UserID:      &userID,
		UpdatedAt:   time.Date(2024, 5, 2, 13, 37, 0, 0, time.UTC),
	}
	require.NoError(t, shares.CreateShare(ctx, entry))

	stored, err := shares.GetShare(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, entry.Policy.Equal(stored.Policy))
	require.NotNil(t, stored.UserID)
	require.Equal(t, userID, *stored.UserID)
	require.Nil(t, stored.ImportStatus)
	require.Equal(t, entry.UpdatedAt, stored.UpdatedAt)

	_, err = shares.GetShare(ctx, 10, 2)
	require.True(t, share.ErrNotFound.Has(err))

	objectID := int64(42)
	stored.Policy.Access.Files = true
	stored.ImportStatus = &share.ImportStatus{
		Success:     true,
		Notes:       []string{"imported"},
		UTCDatetime: time.Now().UTC().Truncate(time.Second),
		ObjectID:    &objectID,
	}
	require.NoError(t, shares.UpdateShare(ctx, stored))

	updated, err := shares.GetShare(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, updated.Policy.Access.Files)
	require.NotNil(t, updated.ImportStatus)
	require.True(t, stored.ImportStatus.Equal(*updated.ImportStatus))

	missing := *stored
	missing.ObjectID = 11
	require.True(t, share.ErrNotFound.Has(shares.UpdateShare(ctx, &missing)))

	require.NoError(t, shares.CreateShare(ctx, &share.Share{
		ObjectID:    11,
		ComponentID: 1,
		UpdatedAt:   time.Now().UTC(),
	}))

	forComponent, err := shares.SharesForComponent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, forComponent, 2)
	require.Equal(t, int64(10), forComponent[0].ObjectID)

	forObject, err := shares.SharesForObject(ctx, 10)
	require.NoError(t, err)
	require.Len(t, forObject, 1)

	all, err := shares.AllShares(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestShareLog(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	shares := openTestDB(t, ctx).Shares()

	userID := int64(3)
	entry := &share.LogEntry{
		Type:        share.LogShareObject,
		ObjectID:    10,
		ComponentID: 1,
		UserID:      &userID,
		Data:        json.RawMessage(`{"policy":{}}`),
	}
	require.NoError(t, shares.CreateLogEntry(ctx, entry))
	require.NotZero(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())

	require.NoError(t, shares.CreateLogEntry(ctx, &share.LogEntry{
		Type:        share.LogUpdatePolicy,
		ObjectID:    10,
		ComponentID: 1,
	}))

	entries, err := shares.LogEntriesForObject(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, share.LogShareObject, entries[0].Type)
	require.JSONEq(t, `{"policy":{}}`, string(entries[0].Data))
	require.Equal(t, share.LogUpdatePolicy, entries[1].Type)
	// empty data defaults to an empty document
	require.JSONEq(t, `{}`, string(entries[1].Data))
}

func TestImportSpecifications(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	shares := openTestDB(t, ctx).Shares()

	spec := &share.ImportSpecification{
		ObjectID:    10,
		ComponentID: 1,
		Data:        true,
		Action:      true,
	}
	require.NoError(t, shares.CreateImportSpecification(ctx, spec))

	stored, err := shares.GetImportSpecification(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, spec, stored)

	_, err = shares.GetImportSpecification(ctx, 10, 2)
	require.True(t, share.ErrSpecificationNotFound.Has(err))

	spec.Files = true
	require.NoError(t, shares.UpdateImportSpecification(ctx, spec))
	stored, err = shares.GetImportSpecification(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, stored.Files)

	missing := *spec
	missing.ObjectID = 11
	require.True(t, share.ErrSpecificationNotFound.Has(shares.UpdateImportSpecification(ctx, &missing)))
}

func TestTokenAuths(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	auths := openTestDB(t, ctx).Auth()

	created, err := auths.CreateTokenAuth(ctx, &componentauth.TokenAuth{
		ComponentID: 1,
		Login:       "0123abcd",
		SecretHash:  []byte("$2a$10$fakehashfakehashfakehashfakehashfakehashfakehashfake"),
		Description: "import token",
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	byLogin, err := auths.TokenAuthsByLogin(ctx, "0123abcd")
	require.NoError(t, err)
	require.Len(t, byLogin, 1)
	require.Equal(t, created, &byLogin[0])

	byComponent, err := auths.TokenAuthsByComponent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byComponent, 1)

	require.NoError(t, auths.DeleteTokenAuth(ctx, created.ID))
	require.True(t, componentauth.ErrNotFound.Has(auths.DeleteTokenAuth(ctx, created.ID)))

	byLogin, err = auths.TokenAuthsByLogin(ctx, "0123abcd")
	require.NoError(t, err)
	require.Empty(t, byLogin)
}

func TestOwnTokenAuths(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	auths := openTestDB(t, ctx).Auth()

	created, err := auths.CreateOwnTokenAuth(ctx, &componentauth.OwnTokenAuth{
		ComponentID: 1,
		Login:       "0123abcd",
		Token:       "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		Description: "export token",
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	byComponent, err := auths.OwnTokenAuthsByComponent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byComponent, 1)
	require.Equal(t, created, &byComponent[0])

	require.NoError(t, auths.DeleteOwnTokenAuth(ctx, created.ID))
	require.True(t, componentauth.ErrNotFound.Has(auths.DeleteOwnTokenAuth(ctx, created.ID)))
}
