// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"

	"github.com/google/uuid"

	"sampledb.io/sampledb/pkg/component"
)

// locationKey identifies a location within a batch by its federation identity.
type locationKey struct {
	fedID         int64
	componentUUID uuid.UUID
}

// batchParent returns the key of the in-batch parent of a location, if any.
func batchParent(parsed ParsedEntity) (locationKey, bool) {
	for _, ref := range parsed.Refs {
		if ref.Field == "parent_location_id" {
			return locationKey{fedID: ref.FedID, componentUUID: ref.ComponentUUID}, true
		}
	}
	return locationKey{}, false
}

// CheckLocationCycles validates an incoming location batch for parent/child
// cycles. It must be called before any location of the batch is imported so
// that a bad batch causes no partial state.
func CheckLocationCycles(batch []ParsedEntity) error {
	pending := make(map[locationKey]ParsedEntity, len(batch))
	for _, parsed := range batch {
		pending[locationKey{fedID: parsed.FedID, componentUUID: parsed.ComponentUUID}] = parsed
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[locationKey]int, len(batch))

	var visit func(key locationKey) error
	visit = func(key locationKey) error {
		switch state[key] {
		case visiting:
			return ErrLocationCycle.New("location %d from %s", key.fedID, key.componentUUID)
		case done:
			return nil
		}
		state[key] = visiting
		if parent, ok := batchParent(pending[key]); ok {
			if _, inBatch := pending[parent]; inBatch {
				if err := visit(parent); err != nil {
					return err
				}
			}
		}
		state[key] = done
		return nil
	}

	for key := range pending {
		if err := visit(key); err != nil {
			return err
		}
	}
	return nil
}

// ImportLocations applies a batch of locations. Because locations form a
// parent/child tree across components, the batch is cycle-checked up front
// and then drained from a pending map so that a child may appear before its
// parent in iteration order.
func (service *Service) ImportLocations(ctx context.Context, batch []ParsedEntity, comp *component.Component) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := CheckLocationCycles(batch); err != nil {
		return false, err
	}

	pending := make(map[locationKey]ParsedEntity, len(batch))
	for _, parsed := range batch {
		pending[locationKey{fedID: parsed.FedID, componentUUID: parsed.ComponentUUID}] = parsed
	}

	importer := &genericImporter{service: service, kind: KindLocation}
	for len(pending) > 0 {
		progressed := false
		for key, parsed := range pending {
			if parent, ok := batchParent(parsed); ok {
				if _, waiting := pending[parent]; waiting && parent != key {
					continue
				}
			}
			_, entryChanged, err := importer.Import(ctx, parsed, comp)
			if err != nil {
				return changed, err
			}
			changed = changed || entryChanged
			delete(pending, key)
			progressed = true
		}
		if !progressed {
			// cannot happen after the cycle check, kept as a hard stop
			return changed, ErrLocationCycle.New("no progress importing %d locations", len(pending))
		}
	}
	return changed, nil
}

// locationImporter defers to the generic importer; batch handling lives in
// ImportLocations.
type locationImporter struct {
	service *Service
}

func (importer *locationImporter) Kind() Kind { return KindLocation }

func (importer *locationImporter) Import(ctx context.Context, parsed ParsedEntity, comp *component.Component) (int64, bool, error) {
	generic := &genericImporter{service: importer.service, kind: KindLocation}
	return generic.Import(ctx, parsed, comp)
}
