// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package fedserver implements the inbound federation HTTP API.
package fedserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/share"
)

var (
	mon = monkit.Package()

	// Error is the default fedserver error class.
	Error = errs.Class("fedserver error")
)

// Config configures the federation HTTP server.
type Config struct {
	Address string `help:"address to listen on for federation requests" default:":8443"`
}

// Server serves the federation API to authenticated peers.
type Server struct {
	log      *zap.Logger
	listener net.Listener
	server   http.Server
	mux      *mux.Router

	service *federation.Service
	shares  *share.Registry
	auth    *componentauth.Service
	files   federation.FileStore
	trigger func()
}

type peerContextKey struct{}

// NewServer creates the federation server. trigger is invoked when a peer
// posts an update hook and may be nil.
func NewServer(log *zap.Logger, listener net.Listener,
	service *federation.Service, shares *share.Registry, auth *componentauth.Service,
	files federation.FileStore, trigger func()) *Server {

	server := &Server{
		log:      log,
		listener: listener,
		mux:      mux.NewRouter(),
		service:  service,
		shares:   shares,
		auth:     auth,
		files:    files,
		trigger:  trigger,
	}
	server.server.Handler = server.mux

	v1 := server.mux.PathPrefix("/federation/v1").Subrouter()
	v1.Use(server.authenticate)
	v1.HandleFunc("/shares/components/", server.getComponents).Methods("GET")
	v1.HandleFunc("/shares/languages/", server.getLanguages).Methods("GET")
	v1.HandleFunc("/shares/users/", server.getUsers).Methods("GET")
	v1.HandleFunc("/shares/objects/", server.getObjects).Methods("GET")
	v1.HandleFunc("/shares/metadata/", server.getMetadata).Methods("GET")
	v1.HandleFunc("/shares/objects/{object_id}/import_status", server.putImportStatus).Methods("PUT")
	v1.HandleFunc("/shares/objects/{object_id}/files/{file_id}", server.getFile).Methods("GET")
	v1.HandleFunc("/hooks/update/", server.postUpdateHook).Methods("POST")

	return server
}

// Run starts the server and stops it when ctx is canceled.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errs.Group
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		group.Add(server.server.Shutdown(shutdownCtx))
	}()

	err = server.server.Serve(server.listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	cancel()
	<-done

	group.Add(err)
	return group.Err()
}

// Close shuts the server down.
func (server *Server) Close() error {
	return server.server.Close()
}

// authenticate resolves the bearer token to a component and stores it in the
// request context. Requests without a valid token are rejected with 401;
// 403 is reserved for authenticated peers that a share policy turns away.
func (server *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
			sendError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		comp, err := server.auth.LoginViaToken(r.Context(), token[len(prefix):])
		if err != nil {
			server.log.Error("token lookup failed", zap.Error(err))
			sendError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if comp == nil {
			sendError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerContextKey{}, comp)))
	})
}

func requestPeer(r *http.Request) *component.Component {
	comp, _ := r.Context().Value(peerContextKey{}).(*component.Component)
	return comp
}

func lastSyncParam(r *http.Request) *time.Time {
	raw := r.URL.Query().Get("last_sync_timestamp")
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(federation.HeaderTimeFormat, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func (server *Server) getComponents(w http.ResponseWriter, r *http.Request) {
	payload, err := server.service.BuildComponentsPayload(r.Context(), requestPeer(r))
	server.sendPayload(w, payload, err)
}

func (server *Server) getLanguages(w http.ResponseWriter, r *http.Request) {
	payload, err := server.service.BuildLanguagesPayload(r.Context(), requestPeer(r))
	server.sendPayload(w, payload, err)
}

func (server *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	payload, err := server.service.BuildUsersPayload(r.Context(), requestPeer(r))
	server.sendPayload(w, payload, err)
}

func (server *Server) getObjects(w http.ResponseWriter, r *http.Request) {
	payload, err := server.service.BuildExport(r.Context(), requestPeer(r), lastSyncParam(r))
	server.sendPayload(w, payload, err)
}

func (server *Server) getMetadata(w http.ResponseWriter, r *http.Request) {
	server.sendPayload(w, server.service.BuildMetadataPayload(r.Context(), requestPeer(r)), nil)
}

// putImportStatus records a peer's import outcome for one of our objects.
// The object id in the path is our local id, which is how the peer refers
// to our objects.
func (server *Server) putImportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peer := requestPeer(r)

	objectID, err := strconv.ParseInt(mux.Vars(r)["object_id"], 10, 64)
	if err != nil || objectID <= 0 {
		sendError(w, http.StatusBadRequest, "invalid object id")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		sendError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	status, ok := share.ParseImportStatus(body)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid import status")
		return
	}

	err = server.shares.SetImportStatus(ctx, objectID, peer.ID, *status)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case share.ErrObjectNotFound.Has(err):
		sendError(w, http.StatusNotFound, "object does not exist")
	case share.ErrNotFound.Has(err):
		sendError(w, http.StatusForbidden, "object is not shared with this component")
	default:
		server.log.Error("setting import status failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// getFile serves a file of a shared object, provided the share grants file
// access. Database-stored files are served inline, url-stored files as a
// reference.
func (server *Server) getFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peer := requestPeer(r)

	vars := mux.Vars(r)
	objectID, err := strconv.ParseInt(vars["object_id"], 10, 64)
	if err != nil || objectID <= 0 {
		sendError(w, http.StatusBadRequest, "invalid object id")
		return
	}
	fileID, err := strconv.ParseInt(vars["file_id"], 10, 64)
	if err != nil || fileID < 0 {
		sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	objectShare, err := server.shares.Get(ctx, objectID, peer.ID)
	if err != nil {
		if share.ErrNotFound.Has(err) || share.ErrObjectNotFound.Has(err) {
			sendError(w, http.StatusForbidden, "object is not shared with this component")
			return
		}
		server.log.Error("share lookup failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !objectShare.Policy.Access.Files {
		sendError(w, http.StatusForbidden, "files are not shared with this component")
		return
	}

	file, err := server.files.Get(ctx, objectID, fileID)
	if err != nil {
		if federation.ErrFileNotFound.Has(err) {
			sendError(w, http.StatusNotFound, "file does not exist")
			return
		}
		server.log.Error("file lookup failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if file.Storage == federation.FileStorageURL {
		server.sendPayload(w, federation.FilePayload{
			Header:   federation.NewHeader(server.service.LocalUUID(), peer.UUID),
			ObjectID: objectID,
			FileID:   fileID,
			Storage:  file.Storage,
			URL:      file.URL,
		}, nil)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalFileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (server *Server) postUpdateHook(w http.ResponseWriter, r *http.Request) {
	if server.trigger != nil {
		server.trigger()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (server *Server) sendPayload(w http.ResponseWriter, payload interface{}, err error) {
	if err != nil {
		server.log.Error("building response failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		server.log.Error("encoding response failed", zap.Error(err))
	}
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
