// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/share"
)

const (
	testLocalUUID = "11111111-1111-4111-8111-111111111111"
	testPeerUUID  = "22222222-2222-4222-8222-222222222222"
	testToken     = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

type entityKey struct {
	kind        federation.Kind
	fedID       int64
	componentID int64
}

type versionKey struct {
	objectLocalID int64
	fedVersionID  int64
}

// fakeEntityDB is an in-memory federation.EntityDB.
type fakeEntityDB struct {
	nextID   int64
	entities map[entityKey]*federation.Entity
	versions map[versionKey]*federation.ObjectVersion
}

func newFakeEntityDB() *fakeEntityDB {
	return &fakeEntityDB{
		entities: map[entityKey]*federation.Entity{},
		versions: map[versionKey]*federation.ObjectVersion{},
	}
}

func (db *fakeEntityDB) Get(ctx context.Context, kind federation.Kind, fedID, componentID int64) (*federation.Entity, error) {
	entity, ok := db.entities[entityKey{kind, fedID, componentID}]
	if !ok {
		return nil, federation.ErrEntityNotFound.New("%s %d from component %d", kind, fedID, componentID)
	}
	copied := *entity
	return &copied, nil
}

func (db *fakeEntityDB) GetByLocalID(ctx context.Context, kind federation.Kind, localID int64) (*federation.Entity, error) {
	for _, entity := range db.entities {
		if entity.Kind == kind && entity.LocalID == localID {
			copied := *entity
			return &copied, nil
		}
	}
	return nil, federation.ErrEntityNotFound.New("%s with local id %d", kind, localID)
}

func (db *fakeEntityDB) Upsert(ctx context.Context, entity *federation.Entity) (int64, bool, error) {
	key := entityKey{entity.Kind, entity.FedID, entity.ComponentID}
	if existing, ok := db.entities[key]; ok {
		if bytes.Equal(existing.Data, entity.Data) {
			return existing.LocalID, false, nil
		}
		existing.Data = entity.Data
		existing.UpdatedAt = time.Now().UTC()
		return existing.LocalID, true, nil
	}
	db.nextID++
	stored := *entity
	stored.LocalID = db.nextID
	stored.UpdatedAt = time.Now().UTC()
	db.entities[key] = &stored
	return stored.LocalID, true, nil
}

func (db *fakeEntityDB) CreateLocal(ctx context.Context, kind federation.Kind, data json.RawMessage) (*federation.Entity, error) {
	db.nextID++
	stored := &federation.Entity{
		Kind:        kind,
		LocalID:     db.nextID,
		FedID:       db.nextID,
		ComponentID: federation.LocalComponentID,
		Data:        data,
		UpdatedAt:   time.Now().UTC(),
	}
	db.entities[entityKey{kind, stored.FedID, stored.ComponentID}] = stored
	copied := *stored
	return &copied, nil
}

func (db *fakeEntityDB) UpsertObjectVersion(ctx context.Context, version *federation.ObjectVersion) (bool, error) {
	key := versionKey{version.ObjectLocalID, version.FedVersionID}
	if existing, ok := db.versions[key]; ok {
		if bytes.Equal(existing.Data, version.Data) && bytes.Equal(existing.Schema, version.Schema) {
			return false, nil
		}
		copied := *version
		db.versions[key] = &copied
		return true, nil
	}
	copied := *version
	db.versions[key] = &copied
	return true, nil
}

func (db *fakeEntityDB) ObjectVersions(ctx context.Context, objectLocalID int64) ([]federation.ObjectVersion, error) {
	var result []federation.ObjectVersion
	for _, version := range db.versions {
		if version.ObjectLocalID == objectLocalID {
			result = append(result, *version)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FedVersionID < result[j].FedVersionID })
	return result, nil
}

// fakeUserDB is an in-memory federation.UserDB.
type fakeUserDB struct {
	nextID int64
	users  map[int64]*federation.User
	links  map[[2]int64]int64
}

func newFakeUserDB() *fakeUserDB {
	return &fakeUserDB{
		users: map[int64]*federation.User{},
		links: map[[2]int64]int64{},
	}
}

func (db *fakeUserDB) Create(ctx context.Context, user *federation.User) (*federation.User, error) {
	db.nextID++
	created := *user
	created.ID = db.nextID
	db.users[created.ID] = &created
	copied := created
	return &copied, nil
}

func (db *fakeUserDB) Get(ctx context.Context, id int64) (*federation.User, error) {
	user, ok := db.users[id]
	if !ok {
		return nil, federation.ErrEntityNotFound.New("user %d", id)
	}
	copied := *user
	return &copied, nil
}

func (db *fakeUserDB) GetByFedID(ctx context.Context, componentID, fedID int64) (*federation.User, error) {
	for _, user := range db.users {
		if user.ComponentID == componentID && user.FedID == fedID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, federation.ErrEntityNotFound.New("user %d from component %d", fedID, componentID)
}

func (db *fakeUserDB) Upsert(ctx context.Context, user *federation.User) (int64, bool, error) {
	for _, existing := range db.users {
		if existing.ComponentID == user.ComponentID && existing.FedID == user.FedID {
			same := existing.Name == user.Name && existing.Email == user.Email &&
				existing.Orcid == user.Orcid && existing.Affiliation == user.Affiliation &&
				existing.Role == user.Role
			if same {
				return existing.ID, false, nil
			}
			existing.Name = user.Name
			existing.Email = user.Email
			existing.Orcid = user.Orcid
			existing.Affiliation = user.Affiliation
			existing.Role = user.Role
			return existing.ID, true, nil
		}
	}
	db.nextID++
	created := *user
	created.ID = db.nextID
	db.users[created.ID] = &created
	return created.ID, true, nil
}

func (db *fakeUserDB) All(ctx context.Context) ([]federation.User, error) {
	var all []federation.User
	for id := int64(1); id <= db.nextID; id++ {
		if user, ok := db.users[id]; ok {
			all = append(all, *user)
		}
	}
	return all, nil
}

func (db *fakeUserDB) GetLink(ctx context.Context, componentID, fedUserID int64) (int64, error) {
	userID, ok := db.links[[2]int64{componentID, fedUserID}]
	if !ok {
		return 0, federation.ErrLinkNotFound.New("user %d from component %d", fedUserID, componentID)
	}
	return userID, nil
}

func (db *fakeUserDB) LinksForComponent(ctx context.Context, componentID int64) (map[int64]int64, error) {
	result := map[int64]int64{}
	for key, userID := range db.links {
		if key[0] == componentID {
			result[userID] = key[1]
		}
	}
	return result, nil
}

func (db *fakeUserDB) CreateLink(ctx context.Context, userID, componentID, fedUserID int64) error {
	db.links[[2]int64{componentID, fedUserID}] = userID
	return nil
}

// fakeLanguageDB is an in-memory federation.LanguageDB.
type fakeLanguageDB struct {
	nextID    int64
	languages []*federation.Language
}

func (db *fakeLanguageDB) All(ctx context.Context) ([]federation.Language, error) {
	var all []federation.Language
	for _, language := range db.languages {
		all = append(all, *language)
	}
	return all, nil
}

func (db *fakeLanguageDB) Upsert(ctx context.Context, language *federation.Language) (bool, error) {
	for _, existing := range db.languages {
		if existing.LangCode == language.LangCode {
			same := existing.DatetimeFormatDatetime == language.DatetimeFormatDatetime &&
				existing.DatetimeFormatMoment == language.DatetimeFormatMoment &&
				existing.DateFormatMoment == language.DateFormatMoment &&
				existing.EnabledForInput == language.EnabledForInput &&
				existing.EnabledForUserInterface == language.EnabledForUserInterface &&
				len(existing.Names) == len(language.Names)
			if same {
				for key, value := range language.Names {
					if existing.Names[key] != value {
						same = false
						break
					}
				}
			}
			if same {
				return false, nil
			}
			id := existing.ID
			*existing = *language
			existing.ID = id
			return true, nil
		}
	}
	db.nextID++
	created := *language
	created.ID = db.nextID
	db.languages = append(db.languages, &created)
	return true, nil
}

// fakeImageDB is an in-memory federation.MarkdownImageDB.
type imageKey struct {
	fileName    string
	componentID int64
}

type fakeImageDB struct {
	images map[imageKey]*federation.MarkdownImage
}

func newFakeImageDB() *fakeImageDB {
	return &fakeImageDB{images: map[imageKey]*federation.MarkdownImage{}}
}

func (db *fakeImageDB) Get(ctx context.Context, fileName string, componentID int64) (*federation.MarkdownImage, error) {
	image, ok := db.images[imageKey{fileName, componentID}]
	if !ok {
		return nil, federation.ErrEntityNotFound.New("markdown image %q from component %d", fileName, componentID)
	}
	copied := *image
	return &copied, nil
}

func (db *fakeImageDB) Upsert(ctx context.Context, image *federation.MarkdownImage) (bool, error) {
	key := imageKey{image.FileName, image.ComponentID}
	if existing, ok := db.images[key]; ok && bytes.Equal(existing.Content, image.Content) {
		return false, nil
	}
	copied := *image
	db.images[key] = &copied
	return true, nil
}

// fakeOutboxDB is an in-memory federation.OutboxDB.
type fakeOutboxDB struct {
	nextID  int64
	entries []federation.OutboxEntry
}

func (db *fakeOutboxDB) Enqueue(ctx context.Context, componentID int64) error {
	for _, entry := range db.entries {
		if entry.ComponentID == componentID {
			return nil
		}
	}
	db.nextID++
	db.entries = append(db.entries, federation.OutboxEntry{
		ID:          db.nextID,
		ComponentID: componentID,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (db *fakeOutboxDB) Pending(ctx context.Context, limit int) ([]federation.OutboxEntry, error) {
	if limit > len(db.entries) {
		limit = len(db.entries)
	}
	return append([]federation.OutboxEntry{}, db.entries[:limit]...), nil
}

func (db *fakeOutboxDB) Delete(ctx context.Context, id int64) error {
	for i, entry := range db.entries {
		if entry.ID == id {
			db.entries = append(db.entries[:i], db.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// fakeClient is a scripted federation.Client.
type fakeClient struct {
	components *federation.ComponentsPayload
	languages  *federation.LanguagesPayload
	users      *federation.UsersPayload
	objects    *federation.ObjectsPayload
	metadata   *federation.MetadataPayload

	componentsErr error
	objectsErr    error

	statuses map[int64]share.ImportStatus
	hooks    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{statuses: map[int64]share.ImportStatus{}}
}

func (client *fakeClient) Components(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.ComponentsPayload, error) {
	if client.componentsErr != nil {
		return nil, client.componentsErr
	}
	if client.components == nil {
		return nil, federation.ErrNotConfigured.New("endpoint not served")
	}
	return client.components, nil
}

func (client *fakeClient) Languages(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.LanguagesPayload, error) {
	if client.languages == nil {
		return nil, federation.ErrNotConfigured.New("endpoint not served")
	}
	return client.languages, nil
}

func (client *fakeClient) Users(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.UsersPayload, error) {
	if client.users == nil {
		return nil, federation.ErrNotConfigured.New("endpoint not served")
	}
	return client.users, nil
}

func (client *fakeClient) Objects(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.ObjectsPayload, error) {
	if client.objectsErr != nil {
		return nil, client.objectsErr
	}
	if client.objects == nil {
		return nil, federation.ErrNotConfigured.New("endpoint not served")
	}
	return client.objects, nil
}

func (client *fakeClient) Metadata(ctx context.Context, peer federation.Peer) (*federation.MetadataPayload, error) {
	if client.metadata == nil {
		return nil, federation.ErrNotConfigured.New("endpoint not served")
	}
	return client.metadata, nil
}

func (client *fakeClient) PutImportStatus(ctx context.Context, peer federation.Peer, fedObjectID int64, status share.ImportStatus) error {
	client.statuses[fedObjectID] = status
	return nil
}

func (client *fakeClient) PostUpdateHook(ctx context.Context, peer federation.Peer) error {
	client.hooks++
	return nil
}

// fakeObjects is a mutable local object repository probe.
type fakeObjects map[int64]bool

func (objects fakeObjects) Exists(ctx context.Context, objectID int64) (bool, error) {
	return objects[objectID], nil
}

// recordingNotifier records every notification.
type recordingNotifier struct {
	failed []int64
	notes  []int64
	linked []int64
}

func (notifier *recordingNotifier) ShareImportFailed(ctx context.Context, userID, objectID, componentID int64) {
	notifier.failed = append(notifier.failed, objectID)
}
func (notifier *recordingNotifier) ShareImportNotes(ctx context.Context, userID, objectID, componentID int64, notes []string) {
	notifier.notes = append(notifier.notes, objectID)
}
func (notifier *recordingNotifier) UserLinked(ctx context.Context, userID, componentID, fedUserID int64) {
	notifier.linked = append(notifier.linked, userID)
}

// fakeComponentDB is an in-memory component.DB.
type fakeComponentDB struct {
	nextID     int64
	components map[int64]component.Component
	infos      map[[2]uuid.UUID]component.Info
}

func newFakeComponentDB() *fakeComponentDB {
	return &fakeComponentDB{
		components: map[int64]component.Component{},
		infos:      map[[2]uuid.UUID]component.Info{},
	}
}

func (db *fakeComponentDB) Create(ctx context.Context, comp *component.Component) (*component.Component, error) {
	db.nextID++
	created := *comp
	created.ID = db.nextID
	db.components[created.ID] = created
	return &created, nil
}

func (db *fakeComponentDB) Update(ctx context.Context, comp *component.Component) error {
	if _, ok := db.components[comp.ID]; !ok {
		return component.ErrNotFound.New("component %d", comp.ID)
	}
	db.components[comp.ID] = *comp
	return nil
}

func (db *fakeComponentDB) Get(ctx context.Context, id int64) (*component.Component, error) {
	comp, ok := db.components[id]
	if !ok {
		return nil, component.ErrNotFound.New("component %d", id)
	}
	return &comp, nil
}

func (db *fakeComponentDB) GetByUUID(ctx context.Context, id uuid.UUID) (*component.Component, error) {
	for _, comp := range db.components {
		if comp.UUID == id {
			comp := comp
			return &comp, nil
		}
	}
	return nil, component.ErrNotFound.New("component %s", id)
}

func (db *fakeComponentDB) GetByName(ctx context.Context, name string) (*component.Component, error) {
	for _, comp := range db.components {
		if comp.Name == name {
			comp := comp
			return &comp, nil
		}
	}
	return nil, component.ErrNotFound.New("component %q", name)
}

func (db *fakeComponentDB) All(ctx context.Context) ([]component.Component, error) {
	var all []component.Component
	for id := int64(1); id <= db.nextID; id++ {
		if comp, ok := db.components[id]; ok {
			all = append(all, comp)
		}
	}
	return all, nil
}

func (db *fakeComponentDB) GetInfo(ctx context.Context, id, sourceUUID uuid.UUID) (*component.Info, error) {
	info, ok := db.infos[[2]uuid.UUID{id, sourceUUID}]
	if !ok {
		return nil, component.ErrInfoNotFound.New("component %s via %s", id, sourceUUID)
	}
	return &info, nil
}

func (db *fakeComponentDB) UpsertInfo(ctx context.Context, info *component.Info) error {
	db.infos[[2]uuid.UUID{info.UUID, info.SourceUUID}] = *info
	return nil
}

func (db *fakeComponentDB) Infos(ctx context.Context) ([]component.Info, error) {
	var all []component.Info
	for _, info := range db.infos {
		all = append(all, info)
	}
	return all, nil
}

// fakeAuthDB is an in-memory componentauth.DB.
type fakeAuthDB struct {
	nextID int64
	auths  []componentauth.TokenAuth
	own    []componentauth.OwnTokenAuth
}

func (db *fakeAuthDB) CreateTokenAuth(ctx context.Context, auth *componentauth.TokenAuth) (*componentauth.TokenAuth, error) {
	db.nextID++
	created := *auth
	created.ID = db.nextID
	db.auths = append(db.auths, created)
	return &created, nil
}

func (db *fakeAuthDB) TokenAuthsByLogin(ctx context.Context, login string) ([]componentauth.TokenAuth, error) {
	var result []componentauth.TokenAuth
	for _, auth := range db.auths {
		if auth.Login == login {
			result = append(result, auth)
		}
	}
	return result, nil
}

func (db *fakeAuthDB) TokenAuthsByComponent(ctx context.Context, componentID int64) ([]componentauth.TokenAuth, error) {
	var result []componentauth.TokenAuth
	for _, auth := range db.auths {
		if auth.ComponentID == componentID {
			result = append(result, auth)
		}
	}
	return result, nil
}

func (db *fakeAuthDB) DeleteTokenAuth(ctx context.Context, id int64) error {
	for i, auth := range db.auths {
		if auth.ID == id {
			db.auths = append(db.auths[:i], db.auths[i+1:]...)
			return nil
		}
	}
	return componentauth.ErrNotFound.New("token auth %d", id)
}

func (db *fakeAuthDB) CreateOwnTokenAuth(ctx context.Context, auth *componentauth.OwnTokenAuth) (*componentauth.OwnTokenAuth, error) {
	db.nextID++
	created := *auth
	created.ID = db.nextID
	db.own = append(db.own, created)
	return &created, nil
}

func (db *fakeAuthDB) OwnTokenAuthsByComponent(ctx context.Context, componentID int64) ([]componentauth.OwnTokenAuth, error) {
	var result []componentauth.OwnTokenAuth
	for _, auth := range db.own {
		if auth.ComponentID == componentID {
			result = append(result, auth)
		}
	}
	return result, nil
}

func (db *fakeAuthDB) DeleteOwnTokenAuth(ctx context.Context, id int64) error {
	for i, auth := range db.own {
		if auth.ID == id {
			db.own = append(db.own[:i], db.own[i+1:]...)
			return nil
		}
	}
	return componentauth.ErrNotFound.New("own token auth %d", id)
}

// fakeShareDB is an in-memory share.DB.
type shareKey struct {
	objectID    int64
	componentID int64
}

type fakeShareDB struct {
	shares map[shareKey]share.Share
	log    []share.LogEntry
	specs  map[shareKey]share.ImportSpecification
}

func newFakeShareDB() *fakeShareDB {
	return &fakeShareDB{
		shares: map[shareKey]share.Share{},
		specs:  map[shareKey]share.ImportSpecification{},
	}
}

func (db *fakeShareDB) CreateShare(ctx context.Context, entry *share.Share) error {
	db.shares[shareKey{entry.ObjectID, entry.ComponentID}] = *entry
	return nil
}

func (db *fakeShareDB) UpdateShare(ctx context.Context, entry *share.Share) error {
	key := shareKey{entry.ObjectID, entry.ComponentID}
	if _, ok := db.shares[key]; !ok {
		return share.ErrNotFound.New("object %d, component %d", entry.ObjectID, entry.ComponentID)
	}
	db.shares[key] = *entry
	return nil
}

func (db *fakeShareDB) GetShare(ctx context.Context, objectID, componentID int64) (*share.Share, error) {
	entry, ok := db.shares[shareKey{objectID, componentID}]
	if !ok {
		return nil, share.ErrNotFound.New("object %d, component %d", objectID, componentID)
	}
	return &entry, nil
}

func (db *fakeShareDB) SharesForComponent(ctx context.Context, componentID int64) ([]share.Share, error) {
	var result []share.Share
	for _, entry := range db.shares {
		if entry.ComponentID == componentID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (db *fakeShareDB) SharesForObject(ctx context.Context, objectID int64) ([]share.Share, error) {
	var result []share.Share
	for _, entry := range db.shares {
		if entry.ObjectID == objectID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (db *fakeShareDB) AllShares(ctx context.Context) ([]share.Share, error) {
	var result []share.Share
	for _, entry := range db.shares {
		result = append(result, entry)
	}
	return result, nil
}

func (db *fakeShareDB) CreateLogEntry(ctx context.Context, entry *share.LogEntry) error {
	entry.ID = int64(len(db.log) + 1)
	entry.CreatedAt = time.Now().UTC()
	db.log = append(db.log, *entry)
	return nil
}

func (db *fakeShareDB) LogEntriesForObject(ctx context.Context, objectID int64) ([]share.LogEntry, error) {
	var result []share.LogEntry
	for _, entry := range db.log {
		if entry.ObjectID == objectID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (db *fakeShareDB) CreateImportSpecification(ctx context.Context, spec *share.ImportSpecification) error {
	db.specs[shareKey{spec.ObjectID, spec.ComponentID}] = *spec
	return nil
}

func (db *fakeShareDB) UpdateImportSpecification(ctx context.Context, spec *share.ImportSpecification) error {
	key := shareKey{spec.ObjectID, spec.ComponentID}
	if _, ok := db.specs[key]; !ok {
		return share.ErrSpecificationNotFound.New("object %d, component %d", spec.ObjectID, spec.ComponentID)
	}
	db.specs[key] = *spec
	return nil
}

func (db *fakeShareDB) GetImportSpecification(ctx context.Context, objectID, componentID int64) (*share.ImportSpecification, error) {
	spec, ok := db.specs[shareKey{objectID, componentID}]
	if !ok {
		return nil, share.ErrSpecificationNotFound.New("object %d, component %d", objectID, componentID)
	}
	return &spec, nil
}

// testEnv wires a federation service over in-memory fakes with one
// registered peer that we hold a token for.
type testEnv struct {
	service    *federation.Service
	components *component.Registry
	shares     *share.Registry
	shareDB    *fakeShareDB
	entities   *fakeEntityDB
	users      *fakeUserDB
	languages  *fakeLanguageDB
	images     *fakeImageDB
	outbox     *fakeOutboxDB
	objects    fakeObjects
	client     *fakeClient
	notifier   *recordingNotifier
	peer       *component.Component
}

func newTestEnv(t *testing.T, ctx context.Context, config federation.Config) *testEnv {
	log := zaptest.NewLogger(t)

	if config.UUID == "" {
		config.UUID = testLocalUUID
	}
	if config.ServiceName == "" {
		config.ServiceName = "Local Instance"
	}

	componentDB := newFakeComponentDB()
	components, err := component.NewRegistry(log, componentDB, nil, component.Config{
		UUID: config.UUID,
		Name: config.ServiceName,
	})
	require.NoError(t, err)

	peer, err := components.Add(ctx, testPeerUUID, "Peer", "peer.example.org", "")
	require.NoError(t, err)

	auth := componentauth.NewService(log, &fakeAuthDB{}, components)
	_, err = auth.AddOwnTokenAuth(ctx, peer.ID, testToken, "test")
	require.NoError(t, err)

	env := &testEnv{
		components: components,
		shareDB:    newFakeShareDB(),
		entities:   newFakeEntityDB(),
		users:      newFakeUserDB(),
		languages:  &fakeLanguageDB{},
		images:     newFakeImageDB(),
		outbox:     &fakeOutboxDB{},
		objects:    fakeObjects{},
		client:     newFakeClient(),
		notifier:   &recordingNotifier{},
		peer:       peer,
	}
	env.shares = share.NewRegistry(log, env.shareDB, components, env.objects, env.notifier)

	env.service, err = federation.NewService(log, config,
		components, auth, env.shares,
		env.entities, env.users, env.languages, env.images,
		env.outbox, env.notifier, env.client)
	require.NoError(t, err)
	return env
}

// peerHeader builds a valid response header from the peer.
func (env *testEnv) peerHeader() federation.Header {
	return federation.Header{
		DBUUID:          testPeerUUID,
		TargetUUID:      testLocalUUID,
		ProtocolVersion: federation.SupportedProtocolVersion,
		SyncTimestamp:   time.Now().UTC().Format(federation.HeaderTimeFormat),
	}
}

// refreshPeer re-reads the peer row.
func (env *testEnv) refreshPeer(t *testing.T, ctx context.Context) *component.Component {
	peer, err := env.components.Get(ctx, env.peer.ID)
	require.NoError(t, err)
	return peer
}

func stringPtr(value string) *string { return &value }
