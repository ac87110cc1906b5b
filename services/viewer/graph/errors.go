// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph converts analysis snapshots into flat, renderer-ready graphs.
//
// Two payload shapes are accepted: the nested folder/file structure produced
// by the repository scanner, and the flat node/edge list produced once code
// has been parsed. Both are reduced to datatypes.Graph with path-derived ids.
//
// # Purity
//
// Build, BuildStructure and BuildFlat are pure: the same input always yields
// a byte-identical output, ordering included. Children are ordered folders
// first, then files, then lexicographically by name.
//
// # Accumulation
//
// Model keeps the union of every snapshot seen during one session so that a
// node, once materialized, keeps its identity while later snapshots enrich
// its metadata. Edges whose endpoints are not (yet) known are held back and
// never rendered.
//
// # Thread Safety
//
// The Build functions are safe for concurrent use. Model is safe for
// concurrent use; all methods take an internal lock.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrKindConflict is reported (logged, never returned to renderers) when a
	// snapshot assigns a different kind to a node id that already exists.
	ErrKindConflict = errors.New("node kind conflict")

	// ErrNilSnapshot is returned by Model.Apply for a nil snapshot.
	ErrNilSnapshot = errors.New("snapshot is nil")
)
