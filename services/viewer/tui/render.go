// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/livegraph/services/viewer/connection"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
)

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statsStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10ac84"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f6b93b"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff6b6b"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	inspectorStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(9)
)

// cellClass is what occupies a canvas cell; each class has one style.
type cellClass uint8

const (
	classEmpty cellClass = iota
	classContains
	classReference
	classFolder
	classFile
	classFunction
	classOther
	classSelected
	classLabel
)

var classStyles = map[cellClass]lipgloss.Style{
	classContains:  lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	classReference: lipgloss.NewStyle().Foreground(lipgloss.Color("60")),
	classFolder:    lipgloss.NewStyle().Foreground(lipgloss.Color("#f6b93b")),
	classFile:      lipgloss.NewStyle().Foreground(lipgloss.Color("#74b9ff")),
	classFunction:  lipgloss.NewStyle().Foreground(lipgloss.Color("#10ac84")),
	classOther:     lipgloss.NewStyle().Foreground(lipgloss.Color("#b2bec3")),
	classSelected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff6b6b")),
	classLabel:     labelStyle,
}

var kindGlyphs = map[datatypes.NodeKind]rune{
	datatypes.KindFolder:   '■',
	datatypes.KindFile:     '●',
	datatypes.KindFunction: '◆',
	datatypes.KindOther:    '○',
}

var kindClasses = map[datatypes.NodeKind]cellClass{
	datatypes.KindFolder:   classFolder,
	datatypes.KindFile:     classFile,
	datatypes.KindFunction: classFunction,
	datatypes.KindOther:    classOther,
}

// =============================================================================
// View
// =============================================================================

// View renders the screen.
func (m Model) View() string {
	w, h := m.canvasSize()
	frame := m.frame
	if m.view.Selection != nil {
		frame = frame.WithSelected(m.view.Selection.ID)
	}
	canvas := renderCanvas(frame, m.ctl.Transform(), w, h)
	if m.showInspector() {
		canvas = lipgloss.JoinHorizontal(lipgloss.Top, canvas, m.renderInspector(h))
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(canvas)
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderConnection())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// ===== Header =====

func (m Model) renderHeader() string {
	title := "livegraph"
	if m.view.SessionID != "" {
		title += " · " + m.view.SessionID
	}
	stats := fmt.Sprintf("  level %d (%s)  %d nodes  %d edges",
		int(m.view.Level), m.view.Level, m.view.Nodes, m.view.Edges)
	if m.frame.Settled {
		stats += "  settled"
	}
	return titleStyle.Render(title) + statsStyle.Render(stats)
}

// ===== Status =====

// renderStatus shows analysis progress, or the terminal error.
func (m Model) renderStatus() string {
	if err := m.view.Err(); err != nil {
		return errorStyle.Render("✗ "+err.Error()) + dimStyle.Render("  press r to retry")
	}
	if m.retryErr != nil {
		return errorStyle.Render("✗ retry failed: " + m.retryErr.Error())
	}

	snap := m.view.Status.Snapshot
	switch {
	case m.view.SessionID == "":
		return dimStyle.Render("no analysis open")
	case snap == nil:
		return m.spinner.View() + " waiting for the first status"
	case snap.Status == datatypes.StatusCompleted:
		return okStyle.Render("✓ analysis complete")
	}

	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	pct := clampProgress(snap.Progress)
	b.WriteString(m.progress.ViewAs(pct / 100))
	b.WriteString(fmt.Sprintf(" %3.0f%%", pct))
	if snap.Message != "" {
		b.WriteString(" ")
		b.WriteString(snap.Message)
	}
	if snap.CurrentFile != "" {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(truncate(snap.CurrentFile, max(m.width/3, 12))))
	}
	return b.String()
}

func (m Model) renderConnection() string {
	st := m.view.Connection
	var phase string
	switch st.Phase {
	case connection.PhaseOpen:
		phase = okStyle.Render("● stream " + st.String())
	case connection.PhaseConnecting, connection.PhaseReconnecting:
		phase = warnStyle.Render("◌ stream " + st.String())
	case connection.PhaseFailed:
		phase = errorStyle.Render("✗ stream " + st.String())
	default:
		phase = dimStyle.Render("○ stream " + st.String())
	}

	parts := []string{phase}
	if src := m.view.Status.Source; src != "" {
		parts = append(parts, "via "+string(src))
	}
	if m.action != interaction.ActionNone {
		parts = append(parts, "last: "+string(m.action))
	}
	return strings.Join(parts, dimStyle.Render(" · "))
}

// ===== Inspector =====

func (m Model) renderInspector(height int) string {
	sel := m.view.Selection
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(truncate(sel.Name, inspectorWidth-4)))
	b.WriteString("\n")
	b.WriteString(field("kind", string(sel.Kind)))
	b.WriteString(field("id", truncate(sel.ID, inspectorWidth-14)))

	if md := sel.Metadata; !md.IsZero() {
		if md.Path != "" && md.Path != sel.ID {
			b.WriteString(field("path", truncate(md.Path, inspectorWidth-14)))
		}
		if md.Language != "" {
			b.WriteString(field("language", md.Language))
		}
		if md.StartLine > 0 {
			b.WriteString(field("lines", fmt.Sprintf("%d-%d", md.StartLine, md.EndLine)))
		}
		if md.Size > 0 {
			b.WriteString(field("size", fmt.Sprintf("%d B", md.Size)))
		}
		if md.Hash != "" {
			b.WriteString(field("hash", truncate(md.Hash, 12)))
		}
		if md.Summary != "" {
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(inspectorWidth - 4).Render(md.Summary))
			b.WriteString("\n")
		}
	}
	if d := m.view.Details; d != nil && d.ID == sel.ID && len(d.Edges) > 0 {
		b.WriteString(field("edges", fmt.Sprintf("%d", len(d.Edges))))
	}

	return inspectorStyle.
		Width(inspectorWidth - 2).
		Height(max(height-2, 1)).
		Render(strings.TrimRight(b.String(), "\n"))
}

func field(name, value string) string {
	return fieldStyle.Render(name) + value + "\n"
}

// =============================================================================
// Canvas
// =============================================================================

type cell struct {
	r     rune
	class cellClass
}

// renderCanvas draws f into a w x h character grid. Links are drawn first,
// then node glyphs, then labels where they fit. Function labels are only
// drawn for the selected node.
func renderCanvas(f layout.Frame, t interaction.Transform, w, h int) string {
	grid := make([][]cell, h)
	for i := range grid {
		grid[i] = make([]cell, w)
		for j := range grid[i] {
			grid[i][j] = cell{r: ' '}
		}
	}

	for _, l := range f.Links {
		x1, y1 := t.ToScreen(l.X1, l.Y1)
		x2, y2 := t.ToScreen(l.X2, l.Y2)
		c1, r1 := cellOf(x1, y1)
		c2, r2 := cellOf(x2, y2)
		class, glyph := classReference, '∙'
		if l.Kind == datatypes.EdgeContains {
			class, glyph = classContains, '·'
		}
		line(c1, r1, c2, r2, func(c, r int) {
			if inGrid(grid, c, r) && grid[r][c].class == classEmpty {
				grid[r][c] = cell{r: glyph, class: class}
			}
		})
	}

	type placed struct {
		n      layout.FrameNode
		col    int
		row    int
		glyphs bool
	}
	nodes := make([]placed, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		sx, sy := t.ToScreen(n.X, n.Y)
		c, r := cellOf(sx, sy)
		if !inGrid(grid, c, r) {
			continue
		}
		glyph, ok := kindGlyphs[n.Kind]
		if !ok {
			glyph = kindGlyphs[datatypes.KindOther]
		}
		class := kindClasses[n.Kind]
		if class == classEmpty {
			class = classOther
		}
		if n.Selected {
			class = classSelected
		}
		grid[r][c] = cell{r: glyph, class: class}
		nodes = append(nodes, placed{n: n, col: c, row: r})
	}

	// Selected label first so it wins any overlap.
	for pass := 0; pass < 2; pass++ {
		for _, p := range nodes {
			if p.n.Selected != (pass == 0) {
				continue
			}
			if p.n.Kind == datatypes.KindFunction && !p.n.Selected {
				continue
			}
			label := []rune(" " + p.n.Name)
			if !fits(grid, p.col+1, p.row, len(label)) {
				continue
			}
			class := classLabel
			if p.n.Selected {
				class = classSelected
			}
			for i, r := range label {
				grid[p.row][p.col+1+i] = cell{r: r, class: class}
			}
		}
	}

	lines := make([]string, h)
	for i, row := range grid {
		lines[i] = renderRow(row)
	}
	return strings.Join(lines, "\n")
}

// renderRow styles runs of equal class together.
func renderRow(row []cell) string {
	var b strings.Builder
	var run []rune
	cur := classEmpty
	flush := func() {
		if len(run) == 0 {
			return
		}
		if style, ok := classStyles[cur]; ok {
			b.WriteString(style.Render(string(run)))
		} else {
			b.WriteString(string(run))
		}
		run = run[:0]
	}
	for _, c := range row {
		if c.class != cur {
			flush()
			cur = c.class
		}
		run = append(run, c.r)
	}
	flush()
	return b.String()
}

func inGrid(grid [][]cell, c, r int) bool {
	return r >= 0 && r < len(grid) && c >= 0 && c < len(grid[r])
}

// fits reports whether n cells from (c, r) hold nothing but links.
func fits(grid [][]cell, c, r, n int) bool {
	if !inGrid(grid, c, r) || c+n > len(grid[r]) {
		return false
	}
	for i := 0; i < n; i++ {
		if k := grid[r][c+i].class; k != classEmpty && k != classContains && k != classReference {
			return false
		}
	}
	return true
}

// line walks the cells from (c1, r1) to (c2, r2) with Bresenham's
// algorithm, excluding both endpoints.
func line(c1, r1, c2, r2 int, plot func(c, r int)) {
	dc, dr := abs(c2-c1), -abs(r2-r1)
	sc, sr := sign(c2-c1), sign(r2-r1)
	e := dc + dr
	c, r := c1, r1
	// Guard against absurd spans when zoomed far in.
	for steps := 0; steps < 4096; steps++ {
		if c == c2 && r == r2 {
			return
		}
		if !(c == c1 && r == r1) {
			plot(c, r)
		}
		e2 := 2 * e
		if e2 >= dr {
			e += dr
			c += sc
		}
		if e2 <= dc {
			e += dc
			r += sr
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// clampProgress keeps a reported percentage in [0, 100].
func clampProgress(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}
