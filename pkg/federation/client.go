// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"
	"time"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/share"
)

// Peer bundles a component with the bearer token we present to it.
type Peer struct {
	Component *component.Component
	Token     string
}

// Client is the outbound transport consumed by the orchestrator and the
// outbox worker. Implementations translate transport failures into the
// error classes of this package.
type Client interface {
	Components(ctx context.Context, peer Peer, lastSync *time.Time) (*ComponentsPayload, error)
	Languages(ctx context.Context, peer Peer, lastSync *time.Time) (*LanguagesPayload, error)
	Users(ctx context.Context, peer Peer, lastSync *time.Time) (*UsersPayload, error)
	Objects(ctx context.Context, peer Peer, lastSync *time.Time) (*ObjectsPayload, error)
	Metadata(ctx context.Context, peer Peer) (*MetadataPayload, error)
	PutImportStatus(ctx context.Context, peer Peer, fedObjectID int64, status share.ImportStatus) error
	PostUpdateHook(ctx context.Context, peer Peer) error
}
