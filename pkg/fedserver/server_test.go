// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package fedserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sampledb.io/sampledb/fedb"
	"sampledb.io/sampledb/internal/testcontext"
	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/fedserver"
	"sampledb.io/sampledb/pkg/share"
)

const (
	testLocalUUID = "11111111-1111-4111-8111-111111111111"
	testPeerUUID  = "22222222-2222-4222-8222-222222222222"
	testToken     = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

type noopNotifier struct{}

func (noopNotifier) ShareImportFailed(ctx context.Context, userID, objectID, componentID int64) {}
func (noopNotifier) ShareImportNotes(ctx context.Context, userID, objectID, componentID int64, notes []string) {
}
func (noopNotifier) UserLinked(ctx context.Context, userID, componentID, fedUserID int64) {}

// fakeFileStore serves files from memory.
type fakeFileStore map[[2]int64]*federation.File

func (store fakeFileStore) Get(ctx context.Context, objectID, fileID int64) (*federation.File, error) {
	file, ok := store[[2]int64{objectID, fileID}]
	if !ok {
		return nil, federation.ErrFileNotFound.New("object %d, file %d", objectID, fileID)
	}
	return file, nil
}

type testServer struct {
	db       *fedb.DB
	service  *federation.Service
	shares   *share.Registry
	entities federation.EntityDB
	files    fakeFileStore
	peer     *component.Component
	base     string
	triggers int
}

func newTestServer(t *testing.T, ctx *testcontext.Context) *testServer {
	log := zaptest.NewLogger(t)

	db, err := fedb.Open(ctx, log, fedb.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	components, err := component.NewRegistry(log, db.Components(), nil, component.Config{
		UUID: testLocalUUID,
		Name: "Local Instance",
	})
	require.NoError(t, err)

	peer, err := components.Add(ctx, testPeerUUID, "Peer", "peer.example.org", "")
	require.NoError(t, err)

	auth := componentauth.NewService(log, db.Auth(), components)
	_, err = auth.AddTokenAuth(ctx, peer.ID, testToken, "test")
	require.NoError(t, err)

	shares := share.NewRegistry(log, db.Shares(), components, db.Objects(), noopNotifier{})

	service, err := federation.NewService(log, federation.Config{
		UUID:         testLocalUUID,
		ServiceName:  "Local Instance",
		Discoverable: true,
	}, components, auth, shares,
		db.Entities(), db.Users(), db.Languages(), db.Images(), db.Outbox(),
		noopNotifier{}, nil)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{
		db:       db,
		service:  service,
		shares:   shares,
		entities: db.Entities(),
		files:    fakeFileStore{},
		peer:     peer,
		base:     "http://" + listener.Addr().String(),
	}

	server := fedserver.NewServer(log, listener, service, shares, auth, ts.files, func() {
		ts.triggers++
	})
	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(runCtx) }()
	t.Cleanup(func() {
		runCancel()
		require.NoError(t, <-done)
	})
	return ts
}

func (ts *testServer) request(t *testing.T, method, path, token string, body []byte) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.base+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServerAuthentication(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	resp, body := ts.request(t, "GET", "/federation/v1/shares/components/", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var message map[string]string
	require.NoError(t, json.Unmarshal(body, &message))
	require.NotEmpty(t, message["message"])

	wrong := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	resp, _ = ts.request(t, "GET", "/federation/v1/shares/components/", wrong, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = ts.request(t, "GET", "/federation/v1/shares/components/", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload federation.ComponentsPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, testLocalUUID, payload.Header.DBUUID)
	require.Equal(t, testPeerUUID, payload.Header.TargetUUID)
	require.True(t, payload.Discoverable)
}

func TestServerMetadata(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	resp, body := ts.request(t, "GET", "/federation/v1/shares/metadata/", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload federation.MetadataPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.False(t, payload.Enabled)
	require.Equal(t, "Local Instance", payload.ServiceName)
}

func TestServerImportStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	shared, err := ts.entities.CreateLocal(ctx, federation.KindObject, json.RawMessage(`{}`))
	require.NoError(t, err)
	unshared, err := ts.entities.CreateLocal(ctx, federation.KindObject, json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = ts.shares.Add(ctx, shared.LocalID, ts.peer.ID, share.Policy{
		Access: share.AccessPolicy{Data: true},
	}, nil)
	require.NoError(t, err)

	objectID := int64(7)
	body, err := share.MarshalImportStatus(share.ImportStatus{
		Success:     true,
		Notes:       []string{},
		UTCDatetime: time.Now().UTC().Truncate(time.Second),
		ObjectID:    &objectID,
	})
	require.NoError(t, err)

	path := fmt.Sprintf("/federation/v1/shares/objects/%d/import_status", shared.LocalID)
	resp, _ := ts.request(t, "PUT", path, testToken, body)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := ts.shares.Get(ctx, shared.LocalID, ts.peer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ImportStatus)
	require.True(t, stored.ImportStatus.Success)

	// malformed body
	resp, _ = ts.request(t, "PUT", path, testToken, []byte(`{"success": true}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// object exists but is not shared with the peer
	path = fmt.Sprintf("/federation/v1/shares/objects/%d/import_status", unshared.LocalID)
	resp, _ = ts.request(t, "PUT", path, testToken, body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// object does not exist at all
	resp, _ = ts.request(t, "PUT", "/federation/v1/shares/objects/99999/import_status", testToken, body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerGetFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	object, err := ts.entities.CreateLocal(ctx, federation.KindObject, json.RawMessage(`{}`))
	require.NoError(t, err)
	restricted, err := ts.entities.CreateLocal(ctx, federation.KindObject, json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = ts.shares.Add(ctx, object.LocalID, ts.peer.ID, share.Policy{
		Access: share.AccessPolicy{Data: true, Files: true},
	}, nil)
	require.NoError(t, err)
	_, err = ts.shares.Add(ctx, restricted.LocalID, ts.peer.ID, share.Policy{
		Access: share.AccessPolicy{Data: true},
	}, nil)
	require.NoError(t, err)

	ts.files[[2]int64{object.LocalID, 0}] = &federation.File{
		ObjectID:         object.LocalID,
		FileID:           0,
		Storage:          federation.FileStorageDatabase,
		OriginalFileName: "results.csv",
		Data:             []byte("a,b\n1,2\n"),
	}
	ts.files[[2]int64{object.LocalID, 1}] = &federation.File{
		ObjectID: object.LocalID,
		FileID:   1,
		Storage:  federation.FileStorageURL,
		URL:      "https://files.example.org/results.csv",
	}

	// database-stored files are served inline
	path := fmt.Sprintf("/federation/v1/shares/objects/%d/files/0", object.LocalID)
	resp, body := ts.request(t, "GET", path, testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "results.csv")
	require.Equal(t, []byte("a,b\n1,2\n"), body)

	// url-stored files are served as a reference
	path = fmt.Sprintf("/federation/v1/shares/objects/%d/files/1", object.LocalID)
	resp, body = ts.request(t, "GET", path, testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload federation.FilePayload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, federation.FileStorageURL, payload.Storage)
	require.Equal(t, "https://files.example.org/results.csv", payload.URL)

	// missing file
	path = fmt.Sprintf("/federation/v1/shares/objects/%d/files/9", object.LocalID)
	resp, _ = ts.request(t, "GET", path, testToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// share without file access
	path = fmt.Sprintf("/federation/v1/shares/objects/%d/files/0", restricted.LocalID)
	resp, _ = ts.request(t, "GET", path, testToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// object not shared at all
	resp, _ = ts.request(t, "GET", "/federation/v1/shares/objects/99999/files/0", testToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerUpdateHook(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	resp, _ := ts.request(t, "POST", "/federation/v1/hooks/update/", testToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, ts.triggers)
}
