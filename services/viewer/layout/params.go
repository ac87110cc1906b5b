// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout computes force-directed 2D positions for the live graph.
//
// The physics lives in Step, a pure function from one State to the next.
// Engine owns a State for the current graph, carries positions across graph
// updates, handles drag pinning, and runs Step on a clock until the
// simulation cools down.
//
// # Forces
//
//   - many-body: pairwise repulsion, strength keyed by node kind
//   - link: springs along edges, rest length keyed by the endpoint kinds
//   - center: a gentle pull toward the viewport center
//   - collision: keeps node discs (radius keyed by kind) from overlapping
//
// All forces except collision are scaled by alpha, which decays every tick
// toward the alpha target. The simulation idles once alpha drops below
// AlphaMin and no drag is in progress.
package layout

import (
	"math"
	"time"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// KindValues holds one number per node kind.
type KindValues struct {
	Folder   float64 `yaml:"folder" json:"folder"`
	File     float64 `yaml:"file" json:"file"`
	Function float64 `yaml:"function" json:"function"`
	Other    float64 `yaml:"other" json:"other"`
}

// For returns the value for kind k.
func (v KindValues) For(k datatypes.NodeKind) float64 {
	switch k {
	case datatypes.KindFolder:
		return v.Folder
	case datatypes.KindFile:
		return v.File
	case datatypes.KindFunction:
		return v.Function
	default:
		return v.Other
	}
}

// LinkDistances holds spring rest lengths by endpoint kinds.
type LinkDistances struct {
	FolderFolder float64 `yaml:"folder_folder" json:"folder_folder"`
	FolderFile   float64 `yaml:"folder_file" json:"folder_file"`
	FileFile     float64 `yaml:"file_file" json:"file_file"`
	Default      float64 `yaml:"default" json:"default"`
}

// For returns the rest length for a link between kinds a and b.
func (d LinkDistances) For(a, b datatypes.NodeKind) float64 {
	folders := 0
	files := 0
	for _, k := range [2]datatypes.NodeKind{a, b} {
		switch k {
		case datatypes.KindFolder:
			folders++
		case datatypes.KindFile:
			files++
		}
	}
	switch {
	case folders == 2:
		return d.FolderFolder
	case folders == 1 && files == 1:
		return d.FolderFile
	case files == 2:
		return d.FileFile
	default:
		return d.Default
	}
}

// Params configures the simulation.
type Params struct {
	// AlphaMin is the cooling threshold below which the engine idles.
	AlphaMin float64 `yaml:"alpha_min" json:"alpha_min"`

	// AlphaDecay is the per-tick fraction by which alpha approaches the
	// alpha target.
	AlphaDecay float64 `yaml:"alpha_decay" json:"alpha_decay"`

	// VelocityDecay is the per-tick friction in [0,1].
	VelocityDecay float64 `yaml:"velocity_decay" json:"velocity_decay"`

	// Charge is the many-body strength per kind. Negative repels.
	Charge KindValues `yaml:"charge" json:"charge"`

	// DistanceMax bounds the many-body interaction range. Zero is unbounded.
	DistanceMax float64 `yaml:"distance_max" json:"distance_max"`

	// Radius is the collision radius per kind.
	Radius KindValues `yaml:"radius" json:"radius"`

	// CollideStrength scales overlap correction in [0,1].
	CollideStrength float64 `yaml:"collide_strength" json:"collide_strength"`

	// LinkDistance is the spring rest length by endpoint kinds.
	LinkDistance LinkDistances `yaml:"link_distance" json:"link_distance"`

	// LinkStrength scales springs. Zero uses 1/min(degree) per link.
	LinkStrength float64 `yaml:"link_strength" json:"link_strength"`

	// CenterX and CenterY locate the viewport center in layout units.
	CenterX float64 `yaml:"center_x" json:"center_x"`
	CenterY float64 `yaml:"center_y" json:"center_y"`

	// CenterStrength pulls every node toward the center.
	CenterStrength float64 `yaml:"center_strength" json:"center_strength"`

	// DragAlphaTarget is the alpha target held while a node is dragged.
	DragAlphaTarget float64 `yaml:"drag_alpha_target" json:"drag_alpha_target"`

	// ReheatAlpha is the alpha applied when the node set changes.
	ReheatAlpha float64 `yaml:"reheat_alpha" json:"reheat_alpha"`

	// TickInterval is the wall time between engine ticks.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// Seed makes new-node placement reproducible.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultParams returns parameters tuned for repository trees of a few
// hundred nodes.
func DefaultParams() Params {
	return Params{
		AlphaMin:      0.001,
		AlphaDecay:    1 - math.Pow(0.001, 1.0/300),
		VelocityDecay: 0.4,
		Charge: KindValues{
			Folder:   -300,
			File:     -120,
			Function: -60,
			Other:    -80,
		},
		DistanceMax:     0,
		Radius:          KindValues{Folder: 18, File: 10, Function: 6, Other: 8},
		CollideStrength: 0.7,
		LinkDistance: LinkDistances{
			FolderFolder: 120,
			FolderFile:   70,
			FileFile:     40,
			Default:      50,
		},
		LinkStrength:    0,
		CenterX:         0,
		CenterY:         0,
		CenterStrength:  0.05,
		DragAlphaTarget: 0.3,
		ReheatAlpha:     0.5,
		TickInterval:    16 * time.Millisecond,
		Seed:            1,
	}
}
