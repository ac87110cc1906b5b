// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"path"
	"sort"
	"strings"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// =============================================================================
// Public Builders
// =============================================================================

// Build converts one snapshot into a graph.
//
// # Description
//
// When the snapshot carries both a nested structure and a flat graph, the
// structure is converted first and the flat graph is merged on top of it:
// flat nodes with an existing id only enrich metadata. Edges with an endpoint
// that is absent from the result are dropped.
//
// # Inputs
//
//   - snap: Snapshot to convert. Nil yields an empty graph.
//
// # Outputs
//
//   - datatypes.Graph: Nodes and edges, never nil slices.
func Build(snap *datatypes.AnalysisSnapshot) datatypes.Graph {
	if snap == nil {
		return emptyGraph()
	}
	var p partial
	if snap.Structure != nil {
		p.addAll(collectStructure(snap.Structure))
	}
	if snap.Graph != nil {
		p.addAll(collectFlat(snap.Graph))
	}
	return p.resolve()
}

// BuildStructure converts a nested folder/file structure into a graph.
//
// # Description
//
// Performs one depth-first traversal. Every folder becomes a node whose id is
// its slash-joined path from the root; every file becomes a node whose id is
// its full path. A "contains" edge links each folder to each direct child.
// Files listed at the root with full paths are attached to their parent
// folder, and missing intermediate folders are synthesized.
//
// # Examples
//
//	g := graph.BuildStructure(&datatypes.RepoStructure{
//	    Folders: map[string]datatypes.FolderNode{
//	        "src": {Files: []datatypes.FileEntry{{Path: "src/a.py"}}},
//	    },
//	})
//	// g.Nodes: src (folder), src/a.py (file)
//	// g.Edges: src -> src/a.py (contains)
func BuildStructure(s *datatypes.RepoStructure) datatypes.Graph {
	if s == nil {
		return emptyGraph()
	}
	var p partial
	p.addAll(collectStructure(s))
	return p.resolve()
}

// BuildFlat normalizes a flat node/edge payload.
//
// # Description
//
// Wire types are mapped to node and edge kinds, duplicate node ids are merged
// (first kind wins, metadata enriched), and edges whose endpoints are absent
// are dropped silently. If the payload contains exactly one "repository"
// node, that node is removed and its id prefix is stripped from every other
// id, so that ids line up with those of BuildStructure.
func BuildFlat(f *datatypes.FlatGraph) datatypes.Graph {
	if f == nil {
		return emptyGraph()
	}
	var p partial
	p.addAll(collectFlat(f))
	return p.resolve()
}

// =============================================================================
// Collection (unresolved)
// =============================================================================

// collected is an unresolved build result: edges may still dangle.
type collected struct {
	nodes []datatypes.GraphNode
	edges []datatypes.GraphEdge
}

// dirNode is the in-memory folder tree used for the traversal.
type dirNode struct {
	id    string
	name  string
	dirs  map[string]*dirNode
	files map[string]datatypes.FileEntry
}

func newDir(id, name string) *dirNode {
	return &dirNode{
		id:    id,
		name:  name,
		dirs:  make(map[string]*dirNode),
		files: make(map[string]datatypes.FileEntry),
	}
}

// ensureDir returns the folder at the slash-separated rel path, creating
// every missing level.
func (d *dirNode) ensureDir(rel string) *dirNode {
	cur := d
	if rel == "" || rel == "." {
		return cur
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		next, ok := cur.dirs[part]
		if !ok {
			next = newDir(joinID(cur.id, part), part)
			cur.dirs[part] = next
		}
		cur = next
	}
	return cur
}

func (d *dirNode) addFile(fullPath string, entry datatypes.FileEntry) {
	dir, _ := path.Split(fullPath)
	parent := d.ensureDir(strings.TrimSuffix(dir, "/"))
	if existing, ok := parent.files[fullPath]; ok {
		if entry.Hash == "" {
			entry.Hash = existing.Hash
		}
		if entry.Size == 0 {
			entry.Size = existing.Size
		}
	}
	entry.Path = fullPath
	parent.files[fullPath] = entry
}

func collectStructure(s *datatypes.RepoStructure) collected {
	root := newDir("", "")
	fillFolders(root, root, s.Folders)
	for _, f := range s.Files {
		if p := normalizePath(f.Path); p != "" {
			root.addFile(p, f)
		}
	}

	var out collected
	walk(root, &out)
	return out
}

func fillFolders(root, dir *dirNode, folders map[string]datatypes.FolderNode) {
	for name, folder := range folders {
		name = strings.Trim(name, "/")
		if name == "" {
			continue
		}
		child := dir.ensureDir(name)
		fillFolders(root, child, folder.Folders)
		for _, f := range folder.Files {
			if p := resolveFilePath(child.id, f.Path); p != "" {
				root.addFile(p, f)
			}
		}
	}
}

// walk emits nodes and edges in depth-first preorder.
func walk(dir *dirNode, out *collected) {
	for _, name := range sortedKeys(dir.dirs) {
		child := dir.dirs[name]
		out.nodes = append(out.nodes, datatypes.GraphNode{
			ID:   child.id,
			Kind: datatypes.KindFolder,
			Name: child.name,
		})
		if dir.id != "" {
			out.edges = append(out.edges, datatypes.GraphEdge{
				Source: dir.id, Target: child.id, Kind: datatypes.EdgeContains,
			})
		}
		walk(child, out)
	}
	for _, id := range sortedFileIDs(dir.files) {
		f := dir.files[id]
		meta := &datatypes.NodeMetadata{Path: f.Path, Hash: f.Hash, Size: f.Size}
		out.nodes = append(out.nodes, datatypes.GraphNode{
			ID:       id,
			Kind:     datatypes.KindFile,
			Name:     path.Base(id),
			Metadata: meta,
		})
		if dir.id != "" {
			out.edges = append(out.edges, datatypes.GraphEdge{
				Source: dir.id, Target: id, Kind: datatypes.EdgeContains,
			})
		}
	}
}

func collectFlat(f *datatypes.FlatGraph) collected {
	prefix := repositoryPrefix(f.Nodes)
	rootID := strings.TrimSuffix(prefix, "/")

	var out collected
	for _, wn := range f.Nodes {
		if wn.ID == "" || (prefix != "" && wn.ID == rootID) {
			continue
		}
		id := strings.TrimPrefix(wn.ID, prefix)
		name := wn.Name
		if name == "" {
			name = path.Base(id)
		}
		out.nodes = append(out.nodes, datatypes.GraphNode{
			ID:       id,
			Kind:     datatypes.ParseNodeKind(wn.Type),
			Name:     name,
			Metadata: wn.Metadata(),
		})
	}
	for _, we := range f.Edges {
		out.edges = append(out.edges, datatypes.GraphEdge{
			Source: strings.TrimPrefix(we.Source, prefix),
			Target: strings.TrimPrefix(we.Target, prefix),
			Kind:   datatypes.ParseEdgeKind(we.Type),
		})
	}
	return out
}

// repositoryPrefix returns "<id>/" when exactly one repository node exists.
func repositoryPrefix(nodes []datatypes.WireNode) string {
	var found string
	count := 0
	for _, n := range nodes {
		if strings.EqualFold(n.Type, "repository") {
			found = n.ID
			count++
		}
	}
	if count != 1 || found == "" {
		return ""
	}
	return found + "/"
}

// =============================================================================
// Resolution
// =============================================================================

// partial accumulates collected nodes and edges for one build.
type partial struct {
	nodes []datatypes.GraphNode
	index map[string]int
	edges []datatypes.GraphEdge
	seen  map[string]struct{}
}

func (p *partial) addAll(c collected) {
	if p.index == nil {
		p.index = make(map[string]int)
		p.seen = make(map[string]struct{})
	}
	for _, n := range c.nodes {
		if i, ok := p.index[n.ID]; ok {
			p.nodes[i].Metadata = p.nodes[i].Metadata.Merge(n.Metadata)
			continue
		}
		p.index[n.ID] = len(p.nodes)
		p.nodes = append(p.nodes, n)
	}
	for _, e := range c.edges {
		if _, dup := p.seen[e.Key()]; dup {
			continue
		}
		p.seen[e.Key()] = struct{}{}
		p.edges = append(p.edges, e)
	}
}

// resolve drops edges with an endpoint absent from the node set.
func (p *partial) resolve() datatypes.Graph {
	g := emptyGraph()
	g.Nodes = append(g.Nodes, p.nodes...)
	for _, e := range p.edges {
		if _, ok := p.index[e.Source]; !ok {
			continue
		}
		if _, ok := p.index[e.Target]; !ok {
			continue
		}
		g.Edges = append(g.Edges, e)
	}
	return g
}

// =============================================================================
// Helpers
// =============================================================================

func emptyGraph() datatypes.Graph {
	return datatypes.Graph{
		Nodes: []datatypes.GraphNode{},
		Edges: []datatypes.GraphEdge{},
	}
}

func joinID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// normalizePath cleans a repository-relative path to slash form without
// leading "./" or "/". Returns "" for paths that name the root.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// resolveFilePath resolves a file path listed inside folderID. Paths already
// prefixed with the folder are full paths; anything else is folder-relative.
func resolveFilePath(folderID, p string) string {
	p = normalizePath(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, folderID+"/") {
		return p
	}
	return joinID(folderID, p)
}

func sortedKeys(m map[string]*dirNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedFileIDs orders file ids by base name, then by id.
func sortedFileIDs(m map[string]datatypes.FileEntry) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := path.Base(ids[i]), path.Base(ids[j])
		if bi != bj {
			return bi < bj
		}
		return ids[i] < ids[j]
	})
	return ids
}
