// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visualization renders laid-out frames into portable formats.
package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
)

// OutputFormat specifies the visualization output format.
type OutputFormat string

const (
	FormatMermaid OutputFormat = "mermaid"
	FormatD3      OutputFormat = "d3"
	FormatSVG     OutputFormat = "svg"
	FormatDOT     OutputFormat = "dot"
	FormatHTML    OutputFormat = "html"
)

// Formats lists every supported format.
var Formats = []OutputFormat{FormatSVG, FormatDOT, FormatMermaid, FormatD3, FormatHTML}

var (
	// ErrNilFrame is returned when no frame is given.
	ErrNilFrame = errors.New("frame is required")

	// ErrUnsupportedFormat is returned for an unknown format.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ParseFormat maps a user-supplied name to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// kindColors are the fill colors per node kind, shared by every format.
var kindColors = map[datatypes.NodeKind]string{
	datatypes.KindFolder:   "#f6b93b",
	datatypes.KindFile:     "#74b9ff",
	datatypes.KindFunction: "#10ac84",
	datatypes.KindOther:    "#b2bec3",
}

const selectedColor = "#ff6b6b"

func colorFor(n layout.FrameNode) string {
	if n.Selected {
		return selectedColor
	}
	if c, ok := kindColors[n.Kind]; ok {
		return c
	}
	return kindColors[datatypes.KindOther]
}

// GraphGenerator generates visual representations of layout frames.
//
// # Description
//
// Creates output in Mermaid, D3.js JSON, SVG, Graphviz DOT and a
// self-contained HTML page. SVG and DOT keep the simulated positions; Mermaid
// leaves placement to the Mermaid renderer. All rendering is local.
//
// # Thread Safety
//
// Safe for concurrent use.
type GraphGenerator struct {
	options GraphOptions
}

// GraphOptions configures graph generation.
type GraphOptions struct {
	// MaxNodes limits the number of nodes in the output.
	// Default: 500
	MaxNodes int

	// GroupByFolder groups Mermaid nodes into subgraphs by parent folder.
	// Default: true
	GroupByFolder bool

	// Direction is the Mermaid/DOT direction (TB, LR, BT, RL).
	// Default: "LR"
	Direction string

	// Width and Height size the SVG viewBox.
	// Default: 1200 x 800
	Width  int
	Height int

	// Title is used by the HTML page.
	Title string
}

// DefaultGraphOptions returns sensible defaults.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes:      500,
		GroupByFolder: true,
		Direction:     "LR",
		Width:         1200,
		Height:        800,
		Title:         "Repository Graph",
	}
}

// NewGraphGenerator creates a new graph generator. Nil options use defaults.
func NewGraphGenerator(opts *GraphOptions) *GraphGenerator {
	if opts == nil {
		defaults := DefaultGraphOptions()
		opts = &defaults
	}
	o := *opts
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultGraphOptions().MaxNodes
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = DefaultGraphOptions().Width, DefaultGraphOptions().Height
	}
	if o.Direction == "" {
		o.Direction = "LR"
	}
	return &GraphGenerator{options: o}
}

// Generate renders a frame.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - frame: The frame to render.
//   - format: The output format.
//
// # Outputs
//
//   - string: The visualization in the requested format.
//   - error: ErrNilFrame, ErrUnsupportedFormat, or a context error.
func (g *GraphGenerator) Generate(ctx context.Context, frame *layout.Frame, format OutputFormat) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if frame == nil {
		return "", ErrNilFrame
	}

	nodes, links, overflow := g.clip(frame)
	switch format {
	case FormatMermaid:
		return g.generateMermaid(nodes, links, overflow), nil
	case FormatD3:
		return g.generateD3JSON(nodes, links)
	case FormatSVG:
		return g.generateSVG(nodes, links, overflow), nil
	case FormatDOT:
		return g.generateDOT(nodes, links, overflow), nil
	case FormatHTML:
		d3JSON, err := g.generateD3JSON(nodes, links)
		if err != nil {
			return "", err
		}
		return GraphHTMLTemplate(g.options.Title, d3JSON), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// clip keeps at most MaxNodes nodes, highest-ranked kinds first, and the links
// between kept nodes. Overflow is the number of nodes dropped.
func (g *GraphGenerator) clip(f *layout.Frame) ([]layout.FrameNode, []layout.FrameLink, int) {
	nodes := append([]layout.FrameNode(nil), f.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := nodes[i].Kind.Rank(), nodes[j].Kind.Rank()
		if ri != rj {
			return ri < rj
		}
		return nodes[i].ID < nodes[j].ID
	})
	overflow := 0
	if len(nodes) > g.options.MaxNodes {
		overflow = len(nodes) - g.options.MaxNodes
		nodes = nodes[:g.options.MaxNodes]
	}

	kept := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		kept[n.ID] = struct{}{}
	}
	links := make([]layout.FrameLink, 0, len(f.Links))
	for _, l := range f.Links {
		_, okS := kept[l.Source]
		_, okT := kept[l.Target]
		if okS && okT {
			links = append(links, l)
		}
	}
	return nodes, links, overflow
}

// generateMermaid creates a Mermaid flowchart diagram.
func (g *GraphGenerator) generateMermaid(nodes []layout.FrameNode, links []layout.FrameLink, overflow int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("flowchart %s\n", g.options.Direction))

	writeNode := func(indent string, n layout.FrameNode) {
		id := sanitizeMermaidID(n.ID)
		label := escapeMermaidLabel(n.Name)
		switch n.Kind {
		case datatypes.KindFolder:
			sb.WriteString(fmt.Sprintf("%s%s[/\"%s\"/]%s\n", indent, id, label, mermaidClass(n)))
		case datatypes.KindFunction:
			sb.WriteString(fmt.Sprintf("%s%s([\"%s\"])%s\n", indent, id, label, mermaidClass(n)))
		default:
			sb.WriteString(fmt.Sprintf("%s%s[\"%s\"]%s\n", indent, id, label, mermaidClass(n)))
		}
	}

	if g.options.GroupByFolder {
		groups, order := groupByFolder(nodes)
		for _, dir := range order {
			members := groups[dir]
			if dir == "" {
				for _, n := range members {
					writeNode("    ", n)
				}
				continue
			}
			sb.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", sanitizeMermaidID("dir_"+dir), escapeMermaidLabel(dir)))
			for _, n := range members {
				writeNode("        ", n)
			}
			sb.WriteString("    end\n")
		}
	} else {
		for _, n := range nodes {
			writeNode("    ", n)
		}
	}
	if overflow > 0 {
		sb.WriteString(fmt.Sprintf("    more[\"...%d more\"]\n", overflow))
	}

	sb.WriteString("\n")
	for _, l := range links {
		arrow := "-->"
		if l.Kind == datatypes.EdgeContains {
			arrow = "---"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(l.Source), arrow, sanitizeMermaidID(l.Target)))
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef folder fill:#f6b93b,stroke:#333\n")
	sb.WriteString("    classDef file fill:#74b9ff,stroke:#333\n")
	sb.WriteString("    classDef function fill:#10ac84,stroke:#333\n")
	sb.WriteString("    classDef other fill:#b2bec3,stroke:#333\n")
	sb.WriteString("    classDef selected fill:#ff6b6b,stroke:#333,stroke-width:2px,color:#fff\n")
	return sb.String()
}

func mermaidClass(n layout.FrameNode) string {
	if n.Selected {
		return ":::selected"
	}
	switch n.Kind {
	case datatypes.KindFolder, datatypes.KindFile, datatypes.KindFunction:
		return ":::" + string(n.Kind)
	default:
		return ":::other"
	}
}

// groupByFolder buckets nodes by the folder that contains them. Folder nodes
// belong to their parent folder; functions belong to their file's folder.
func groupByFolder(nodes []layout.FrameNode) (map[string][]layout.FrameNode, []string) {
	groups := make(map[string][]layout.FrameNode)
	for _, n := range nodes {
		id := n.ID
		if i := strings.Index(id, ":"); i > 0 {
			id = id[:i]
		}
		dir := path.Dir(id)
		if dir == "." {
			dir = ""
		}
		groups[dir] = append(groups[dir], n)
	}
	order := make([]string, 0, len(groups))
	for dir := range groups {
		order = append(order, dir)
	}
	sort.Strings(order)
	return groups, order
}

// D3Node is a node of the D3.js JSON export.
type D3Node struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Group    int     `json:"group"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Radius   float64 `json:"r"`
	Pinned   bool    `json:"pinned,omitempty"`
	Selected bool    `json:"selected,omitempty"`
}

// D3Link is a link of the D3.js JSON export.
type D3Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// D3Graph is the D3.js JSON export.
type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

// generateD3JSON creates D3.js compatible JSON. Positions seed the browser
// simulation so the page opens on the exported layout.
func (g *GraphGenerator) generateD3JSON(nodes []layout.FrameNode, links []layout.FrameLink) (string, error) {
	graph := D3Graph{
		Nodes: make([]D3Node, 0, len(nodes)),
		Links: make([]D3Link, 0, len(links)),
	}
	for _, n := range nodes {
		graph.Nodes = append(graph.Nodes, D3Node{
			ID:       n.ID,
			Name:     n.Name,
			Kind:     string(n.Kind),
			Group:    n.Kind.Rank(),
			X:        round2(n.X),
			Y:        round2(n.Y),
			Radius:   n.Radius,
			Pinned:   n.Pinned,
			Selected: n.Selected,
		})
	}
	for _, l := range links {
		graph.Links = append(graph.Links, D3Link{Source: l.Source, Target: l.Target, Kind: string(l.Kind)})
	}

	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// viewport maps simulation coordinates into the SVG viewBox.
type viewport struct {
	scale, dx, dy float64
}

func (g *GraphGenerator) fit(nodes []layout.FrameNode) viewport {
	if len(nodes) == 0 {
		return viewport{scale: 1}
	}
	minX, minY, maxX, maxY := layout.Frame{Nodes: nodes}.Bounds()
	const margin = 40.0
	w := float64(g.options.Width) - 2*margin
	h := float64(g.options.Height) - 2*margin
	spanX, spanY := maxX-minX, maxY-minY
	scale := 1.0
	if spanX > 0 && spanY > 0 {
		scale = math.Min(w/spanX, h/spanY)
	}
	scale = math.Min(scale, 4)
	return viewport{
		scale: scale,
		dx:    margin + (w-spanX*scale)/2 - minX*scale,
		dy:    margin + (h-spanY*scale)/2 - minY*scale,
	}
}

func (v viewport) point(x, y float64) (float64, float64) {
	return round2(x*v.scale + v.dx), round2(y*v.scale + v.dy)
}

// generateSVG creates an SVG image of the frame at its simulated positions.
func (g *GraphGenerator) generateSVG(nodes []layout.FrameNode, links []layout.FrameLink, overflow int) string {
	var sb strings.Builder
	width, height := g.options.Width, g.options.Height

	sb.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d">`, width, height))
	sb.WriteString("\n")
	sb.WriteString(`<style>
    .link { stroke: #999; stroke-opacity: 0.6; fill: none; }
    .link-contains { stroke-dasharray: 4 2; }
    .node { stroke: #333; stroke-width: 1px; }
    .node-selected { stroke-width: 3px; }
    .label { font-family: Arial, sans-serif; font-size: 11px; fill: #333; }
  </style>
`)

	vp := g.fit(nodes)
	pos := make(map[string][2]float64, len(nodes))
	for _, n := range nodes {
		x, y := vp.point(n.X, n.Y)
		pos[n.ID] = [2]float64{x, y}
	}

	for _, l := range links {
		a, b := pos[l.Source], pos[l.Target]
		class := "link"
		if l.Kind == datatypes.EdgeContains {
			class += " link-contains"
		}
		sb.WriteString(fmt.Sprintf(`  <line class="%s" x1="%g" y1="%g" x2="%g" y2="%g"/>`, class, a[0], a[1], b[0], b[1]))
		sb.WriteString("\n")
	}

	for _, n := range nodes {
		p := pos[n.ID]
		r := round2(math.Max(n.Radius*vp.scale, 2))
		class := "node"
		if n.Selected {
			class += " node-selected"
		}
		sb.WriteString(fmt.Sprintf(`  <circle class="%s" cx="%g" cy="%g" r="%g" fill="%s"><title>%s</title></circle>`,
			class, p[0], p[1], r, colorFor(n), html.EscapeString(n.ID)))
		sb.WriteString("\n")
		if n.Kind != datatypes.KindFunction || n.Selected {
			sb.WriteString(fmt.Sprintf(`  <text class="label" x="%g" y="%g" text-anchor="middle">%s</text>`,
				p[0], round2(p[1]+r+12), html.EscapeString(truncateLabel(n.Name, 24))))
			sb.WriteString("\n")
		}
	}

	if overflow > 0 {
		sb.WriteString(fmt.Sprintf(`  <text class="label" x="%d" y="%d" text-anchor="middle">+%d more</text>`,
			width/2, height-10, overflow))
		sb.WriteString("\n")
	}

	sb.WriteString("</svg>")
	return sb.String()
}

// generateDOT creates a Graphviz DOT graph. Positions are pinned with pos
// attributes in points, so `neato -n` reproduces the simulated layout.
func (g *GraphGenerator) generateDOT(nodes []layout.FrameNode, links []layout.FrameLink, overflow int) string {
	var sb strings.Builder

	sb.WriteString("digraph Repository {\n")
	sb.WriteString(fmt.Sprintf("    rankdir=%s;\n", g.options.Direction))
	sb.WriteString("    node [shape=circle, style=filled, fontsize=10];\n")
	sb.WriteString("\n")

	for _, n := range nodes {
		shape := "ellipse"
		switch n.Kind {
		case datatypes.KindFolder:
			shape = "folder"
		case datatypes.KindFile:
			shape = "note"
		}
		sb.WriteString(fmt.Sprintf("    %s [label=\"%s\", shape=%s, fillcolor=\"%s\", pos=\"%g,%g!\"];\n",
			sanitizeDOTID(n.ID), escapeDOTLabel(n.Name), shape, colorFor(n), round2(n.X), round2(-n.Y)))
	}
	if overflow > 0 {
		sb.WriteString(fmt.Sprintf("    overflow [label=\"+%d more\", shape=plaintext];\n", overflow))
	}

	sb.WriteString("\n")
	for _, l := range links {
		style := ""
		if l.Kind == datatypes.EdgeContains {
			style = " [style=dashed, arrowhead=none]"
		}
		sb.WriteString(fmt.Sprintf("    %s -> %s%s;\n", sanitizeDOTID(l.Source), sanitizeDOTID(l.Target), style))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// Helper functions

func sanitizeMermaidID(s string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		".", "_",
		"-", "_",
		" ", "_",
		"(", "",
		")", "",
		"*", "ptr_",
	)
	result := replacer.Replace(s)
	// Mermaid ids must start with a letter.
	if len(result) > 0 && (result[0] >= '0' && result[0] <= '9') {
		result = "n" + result
	}
	// "end" is a Mermaid keyword.
	if result == "end" {
		result = "n_end"
	}
	return result
}

func sanitizeDOTID(s string) string {
	return fmt.Sprintf("\"%s\"", strings.ReplaceAll(s, "\"", "\\\""))
}

func escapeMermaidLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "#quot;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

func escapeDOTLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "\\\"",
		"\n", "\\n",
	)
	return replacer.Replace(s)
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GraphHTMLTemplate returns a self-contained page that continues the D3
// simulation from the exported positions.
func GraphHTMLTemplate(title, d3JSON string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>%s</title>
  <script src="https://d3js.org/d3.v7.min.js"></script>
  <style>
    body { margin: 0; font-family: Arial, sans-serif; }
    svg { width: 100%%; height: 100vh; }
    .node circle { stroke: #333; stroke-width: 1.5px; }
    .node.selected circle { stroke-width: 3px; }
    .node text { font-size: 11px; pointer-events: none; }
    .link { stroke: #999; stroke-opacity: 0.6; }
    .link.contains { stroke-dasharray: 4 2; }
  </style>
</head>
<body>
  <svg></svg>
  <script>
    const data = %s;
    const colors = { folder: "#f6b93b", file: "#74b9ff", function: "#10ac84", other: "#b2bec3" };

    const svg = d3.select("svg");
    const root = svg.append("g");
    svg.call(d3.zoom().scaleExtent([0.1, 8]).on("zoom", e => root.attr("transform", e.transform)));

    const simulation = d3.forceSimulation(data.nodes)
      .alpha(0.05)
      .force("link", d3.forceLink(data.links).id(d => d.id).distance(60))
      .force("charge", d3.forceManyBody().strength(-120))
      .force("collide", d3.forceCollide().radius(d => d.r + 2));

    const link = root.append("g")
      .selectAll("line")
      .data(data.links)
      .join("line")
      .attr("class", d => "link " + d.kind);

    const node = root.append("g")
      .selectAll("g")
      .data(data.nodes)
      .join("g")
      .attr("class", d => "node" + (d.selected ? " selected" : ""))
      .call(d3.drag()
        .on("start", dragstarted)
        .on("drag", dragged)
        .on("end", dragended));

    node.append("circle")
      .attr("r", d => d.r)
      .attr("fill", d => d.selected ? "#ff6b6b" : (colors[d.kind] || colors.other));

    node.append("text")
      .attr("dx", d => d.r + 3)
      .attr("dy", 4)
      .text(d => d.kind === "function" ? "" : d.name);

    node.append("title").text(d => d.id);

    simulation.on("tick", () => {
      link
        .attr("x1", d => d.source.x)
        .attr("y1", d => d.source.y)
        .attr("x2", d => d.target.x)
        .attr("y2", d => d.target.y);
      node.attr("transform", d => "translate(" + d.x + "," + d.y + ")");
    });

    const bbox = () => {
      const xs = data.nodes.map(d => d.x), ys = data.nodes.map(d => d.y);
      return [Math.min(...xs), Math.min(...ys), Math.max(...xs), Math.max(...ys)];
    };
    if (data.nodes.length) {
      const [x0, y0, x1, y1] = bbox();
      svg.attr("viewBox", [x0 - 50, y0 - 50, x1 - x0 + 100, y1 - y0 + 100]);
    }

    function dragstarted(event) {
      if (!event.active) simulation.alphaTarget(0.3).restart();
      event.subject.fx = event.subject.x;
      event.subject.fy = event.subject.y;
    }

    function dragged(event) {
      event.subject.fx = event.x;
      event.subject.fy = event.y;
    }

    function dragended(event) {
      if (!event.active) simulation.alphaTarget(0);
      event.subject.fx = null;
      event.subject.fy = null;
    }
  </script>
</body>
</html>`, html.EscapeString(title), d3JSON)
}
