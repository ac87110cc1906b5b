// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"math"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// =============================================================================
// Simulation State
// =============================================================================

// Node is a graph node with physical state.
type Node struct {
	ID   string             `json:"id"`
	Kind datatypes.NodeKind `json:"kind"`
	Name string             `json:"name"`
	X    float64            `json:"x"`
	Y    float64            `json:"y"`
	VX   float64            `json:"vx"`
	VY   float64            `json:"vy"`

	// Pinned fixes the node at (FX, FY).
	Pinned bool    `json:"pinned,omitempty"`
	FX     float64 `json:"fx,omitempty"`
	FY     float64 `json:"fy,omitempty"`
}

// Link is a spring between two node indices of a State.
type Link struct {
	Source int                `json:"source"`
	Target int                `json:"target"`
	Kind   datatypes.EdgeKind `json:"kind"`
}

// State is one frame of the simulation.
type State struct {
	Nodes       []Node  `json:"nodes"`
	Links       []Link  `json:"links"`
	Alpha       float64 `json:"alpha"`
	AlphaTarget float64 `json:"alpha_target"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Nodes = append([]Node(nil), s.Nodes...)
	out.Links = append([]Link(nil), s.Links...)
	return out
}

// Settled reports whether the simulation has cooled below AlphaMin with
// nothing holding it warm.
func (s State) Settled(p Params) bool {
	return s.Alpha < p.AlphaMin && s.AlphaTarget < p.AlphaMin
}

// =============================================================================
// Step
// =============================================================================

// Step advances the simulation by dt ticks and returns the new state.
//
// # Description
//
// Alpha first moves toward the alpha target. Forces then update velocities
// (link, many-body, center, collision), friction is applied, and positions
// advance by velocity times dt. Pinned nodes are placed at (FX, FY) with zero
// velocity. The input state is not modified.
//
// # Inputs
//
//   - s: Current state.
//   - p: Parameters.
//   - dt: Time step in ticks. One tick matches the engine's TickInterval.
//     Non-positive values return a copy of s.
//
// # Outputs
//
//   - State: The next state.
//
// # Limitations
//
//   - Many-body and collision are O(n²). Fine for repository trees of a few
//     thousand nodes, not for symbol-level graphs of an entire monorepo.
func Step(s State, p Params, dt float64) State {
	next := s.Clone()
	if dt <= 0 {
		return next
	}

	next.Alpha += (next.AlphaTarget - next.Alpha) * (1 - math.Pow(1-p.AlphaDecay, dt))
	alpha := next.Alpha
	nodes := next.Nodes

	applyLinks(nodes, next.Links, p, alpha)
	applyManyBody(nodes, p, alpha)
	applyCenter(nodes, p, alpha)
	applyCollision(nodes, p)

	friction := math.Pow(1-p.VelocityDecay, dt)
	for i := range nodes {
		n := &nodes[i]
		if n.Pinned {
			n.X, n.Y = n.FX, n.FY
			n.VX, n.VY = 0, 0
			continue
		}
		n.VX *= friction
		n.VY *= friction
		n.X += n.VX * dt
		n.Y += n.VY * dt
	}
	return next
}

// applyLinks pulls linked nodes toward their rest length. The correction is
// split by degree so that hubs move less than leaves.
func applyLinks(nodes []Node, links []Link, p Params, alpha float64) {
	if len(links) == 0 {
		return
	}
	degree := make([]int, len(nodes))
	for _, l := range links {
		degree[l.Source]++
		degree[l.Target]++
	}
	for i, l := range links {
		src, tgt := &nodes[l.Source], &nodes[l.Target]
		dx := tgt.X + tgt.VX - src.X - src.VX
		dy := tgt.Y + tgt.VY - src.Y - src.VY
		if dx == 0 {
			dx = jiggle(l.Source, i)
		}
		if dy == 0 {
			dy = jiggle(l.Target, i)
		}
		dist := math.Sqrt(dx*dx + dy*dy)

		strength := p.LinkStrength
		if strength == 0 {
			strength = 1 / float64(minInt(degree[l.Source], degree[l.Target]))
		}
		rest := p.LinkDistance.For(src.Kind, tgt.Kind)
		k := (dist - rest) / dist * alpha * strength
		dx *= k
		dy *= k

		bias := float64(degree[l.Source]) / float64(degree[l.Source]+degree[l.Target])
		tgt.VX -= dx * bias
		tgt.VY -= dy * bias
		src.VX += dx * (1 - bias)
		src.VY += dy * (1 - bias)
	}
}

// applyManyBody applies pairwise charge. Node j's charge acts on node i.
func applyManyBody(nodes []Node, p Params, alpha float64) {
	const distanceMin2 = 1.0
	maxDist2 := math.Inf(1)
	if p.DistanceMax > 0 {
		maxDist2 = p.DistanceMax * p.DistanceMax
	}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			a, b := &nodes[i], &nodes[j]
			dx := b.X - a.X
			dy := b.Y - a.Y
			if dx == 0 {
				dx = jiggle(i, j)
			}
			if dy == 0 {
				dy = jiggle(j, i)
			}
			l2 := dx*dx + dy*dy
			if l2 >= maxDist2 {
				continue
			}
			if l2 < distanceMin2 {
				l2 = math.Sqrt(distanceMin2 * l2)
			}
			wb := p.Charge.For(b.Kind) * alpha / l2
			wa := p.Charge.For(a.Kind) * alpha / l2
			a.VX += dx * wb
			a.VY += dy * wb
			b.VX -= dx * wa
			b.VY -= dy * wa
		}
	}
}

// applyCenter pulls every node toward (CenterX, CenterY).
func applyCenter(nodes []Node, p Params, alpha float64) {
	if p.CenterStrength == 0 {
		return
	}
	k := p.CenterStrength * alpha
	for i := range nodes {
		nodes[i].VX += (p.CenterX - nodes[i].X) * k
		nodes[i].VY += (p.CenterY - nodes[i].Y) * k
	}
}

// applyCollision separates overlapping discs, using positions projected by
// the current velocities. Larger discs move less.
func applyCollision(nodes []Node, p Params) {
	if p.CollideStrength == 0 {
		return
	}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			a, b := &nodes[i], &nodes[j]
			ra, rb := p.Radius.For(a.Kind), p.Radius.For(b.Kind)
			r := ra + rb
			dx := (a.X + a.VX) - (b.X + b.VX)
			dy := (a.Y + a.VY) - (b.Y + b.VY)
			l2 := dx*dx + dy*dy
			if l2 >= r*r {
				continue
			}
			if dx == 0 {
				dx = jiggle(i, j)
				l2 += dx * dx
			}
			if dy == 0 {
				dy = jiggle(j, i)
				l2 += dy * dy
			}
			l := math.Sqrt(l2)
			k := (r - l) / l * p.CollideStrength
			dx *= k
			dy *= k
			wa := rb * rb / (ra*ra + rb*rb)
			a.VX += dx * wa
			a.VY += dy * wa
			b.VX -= dx * (1 - wa)
			b.VY -= dy * (1 - wa)
		}
	}
}

// jiggle returns a tiny non-zero offset derived from two indices, used to
// separate coincident nodes without randomness.
func jiggle(i, j int) float64 {
	v := float64((i*7919+j*104729)%1000)/1000 - 0.5
	if v == 0 {
		v = 0.25
	}
	return v * 1e-6
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
