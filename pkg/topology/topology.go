// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package topology derives a view of the federation graph from the directly
// known components and the transitively learned component infos.
package topology

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"sampledb.io/sampledb/pkg/component"
)

var (
	mon = monkit.Package()

	// Error is the default topology error class.
	Error = errs.Class("topology error")
)

// Node is one component of the federation graph as seen from this instance.
type Node struct {
	UUID uuid.UUID
	// Name joins the names different sources reported at the minimal
	// distance, separated by " / ".
	Name     string
	Address  string
	Distance int64
	// Reachable reports whether a chain of discoverable components leads
	// from this instance to the node.
	Reachable bool
}

// Service computes federation graph views.
type Service struct {
	log        *zap.Logger
	components *component.Registry
}

// NewService creates a topology service.
func NewService(log *zap.Logger, components *component.Registry) *Service {
	return &Service{log: log, components: components}
}

// Map computes the current federation graph. Directly known discoverable
// components are reachable at distance one; a transitively learned component
// is reachable once any of its reporting sources is. Reachability is computed
// as a fixed point, so chains of any length and arbitrary report order
// converge.
func (service *Service) Map(ctx context.Context) (_ []Node, err error) {
	defer mon.Task()(&ctx)(&err)

	components, err := service.components.All(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	infos, err := service.components.Infos(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	localUUID := service.components.LocalUUID()

	type state struct {
		distance  int64
		names     map[int64][]string
		address   string
		reachable bool
	}
	nodes := map[uuid.UUID]*state{}
	get := func(id uuid.UUID) *state {
		if node, ok := nodes[id]; ok {
			return node
		}
		node := &state{distance: -1, names: map[int64][]string{}}
		nodes[id] = node
		return node
	}
	addName := func(node *state, distance int64, name string) {
		if name == "" {
			return
		}
		for _, existing := range node.names[distance] {
			if existing == name {
				return
			}
		}
		node.names[distance] = append(node.names[distance], name)
	}

	reachable := map[uuid.UUID]bool{localUUID: true}
	for i := range components {
		comp := &components[i]
		node := get(comp.UUID)
		node.distance = 1
		node.address = comp.Address
		addName(node, 1, comp.Name)
		if comp.Discoverable {
			reachable[comp.UUID] = true
		}
	}

	for _, info := range infos {
		if info.UUID == localUUID {
			continue
		}
		node := get(info.UUID)
		if node.distance < 0 || info.Distance < node.distance {
			node.distance = info.Distance
		}
		addName(node, info.Distance, info.Name)
		if node.address == "" {
			node.address = info.Address
		}
	}

	// fixed point over the reported edges
	for {
		changed := false
		for _, info := range infos {
			if reachable[info.UUID] || !reachable[info.SourceUUID] {
				continue
			}
			if !info.Discoverable {
				continue
			}
			reachable[info.UUID] = true
			changed = true
		}
		if !changed {
			break
		}
	}

	result := make([]Node, 0, len(nodes))
	for id, node := range nodes {
		names := node.names[node.distance]
		sort.Strings(names)
		result = append(result, Node{
			UUID:      id,
			Name:      strings.Join(names, " / "),
			Address:   node.address,
			Distance:  node.distance,
			Reachable: reachable[id],
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Distance != result[j].Distance {
			return result[i].Distance < result[j].Distance
		}
		return result[i].UUID.String() < result[j].UUID.String()
	})
	return result, nil
}
