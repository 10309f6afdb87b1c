// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package transport implements the outbound federation client over HTTPS.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/share"
)

var (
	mon = monkit.Package()

	// Error is the default transport error class.
	Error = errs.Class("transport error")
)

// Config configures the outbound federation client.
type Config struct {
	DialTimeout    time.Duration `help:"timeout for establishing a connection to a peer" default:"30s"`
	RequestTimeout time.Duration `help:"timeout for a complete federation request" default:"60s"`
}

// Client talks the federation protocol to peers. It implements
// federation.Client.
type Client struct {
	log    *zap.Logger
	config Config
	client *http.Client
}

// NewClient creates a federation client.
func NewClient(log *zap.Logger, config Config) *Client {
	if config.DialTimeout == 0 {
		config.DialTimeout = 30 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	return &Client{
		log:    log,
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: config.DialTimeout,
			},
		},
	}
}

// do performs one federation request and decodes the JSON response into out.
// Transport failures map onto the federation error classes so that the
// orchestrator's stage policy applies uniformly.
func (client *Client) do(ctx context.Context, peer federation.Peer, method, path string, query url.Values, body, out interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	endpoint := peer.Component.Address + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Error.Wrap(err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+peer.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.client.Do(req)
	if err != nil {
		return federation.ErrConnection.New("requesting %s: %v", peer.Component.UUID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return federation.ErrUnauthorized.New("%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return federation.ErrNotConfigured.New("%s %s: not served by %s", method, path, peer.Component.UUID)
	case resp.StatusCode >= 500:
		return federation.ErrServerError.New("%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 300:
		return federation.ErrRequest.New("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return federation.ErrInvalidJSON.New("%s %s: %v", method, path, err)
	}
	return nil
}

func lastSyncQuery(lastSync *time.Time) url.Values {
	query := url.Values{}
	if lastSync != nil {
		query.Set("last_sync_timestamp", lastSync.UTC().Format(federation.HeaderTimeFormat))
	}
	return query
}

// Components fetches a peer's component discovery export.
func (client *Client) Components(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.ComponentsPayload, error) {
	payload := &federation.ComponentsPayload{}
	if err := client.do(ctx, peer, http.MethodGet, "/federation/v1/shares/components/", lastSyncQuery(lastSync), nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Languages fetches a peer's language export.
func (client *Client) Languages(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.LanguagesPayload, error) {
	payload := &federation.LanguagesPayload{}
	if err := client.do(ctx, peer, http.MethodGet, "/federation/v1/shares/languages/", lastSyncQuery(lastSync), nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Users fetches a peer's user export.
func (client *Client) Users(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.UsersPayload, error) {
	payload := &federation.UsersPayload{}
	if err := client.do(ctx, peer, http.MethodGet, "/federation/v1/shares/users/", lastSyncQuery(lastSync), nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Objects fetches a peer's objects export.
func (client *Client) Objects(ctx context.Context, peer federation.Peer, lastSync *time.Time) (*federation.ObjectsPayload, error) {
	payload := &federation.ObjectsPayload{}
	if err := client.do(ctx, peer, http.MethodGet, "/federation/v1/shares/objects/", lastSyncQuery(lastSync), nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Metadata fetches a peer's federated-login metadata.
func (client *Client) Metadata(ctx context.Context, peer federation.Peer) (*federation.MetadataPayload, error) {
	payload := &federation.MetadataPayload{}
	if err := client.do(ctx, peer, http.MethodGet, "/federation/v1/shares/metadata/", nil, nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// PutImportStatus reports the import outcome for one of the peer's objects.
func (client *Client) PutImportStatus(ctx context.Context, peer federation.Peer, fedObjectID int64, status share.ImportStatus) error {
	body, err := share.MarshalImportStatus(status)
	if err != nil {
		return Error.Wrap(err)
	}
	path := fmt.Sprintf("/federation/v1/shares/objects/%d/import_status", fedObjectID)
	return client.do(ctx, peer, http.MethodPut, path, nil, json.RawMessage(body), nil)
}

// PostUpdateHook pokes a peer to sync against us soon.
func (client *Client) PostUpdateHook(ctx context.Context, peer federation.Peer) error {
	return client.do(ctx, peer, http.MethodPost, "/federation/v1/hooks/update/", nil, nil, nil)
}

// GetFile fetches a file of one of the peer's objects.
func (client *Client) GetFile(ctx context.Context, peer federation.Peer, fedObjectID, fileID int64) (*federation.FilePayload, error) {
	path := fmt.Sprintf("/federation/v1/shares/objects/%d/files/%d", fedObjectID, fileID)
	payload := &federation.FilePayload{}
	if err := client.do(ctx, peer, http.MethodGet, path, nil, nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
