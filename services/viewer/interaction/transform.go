// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interaction

import "math"

// Transform maps layout coordinates to screen coordinates:
//
//	screen = layout*Scale + (TX, TY)
type Transform struct {
	Scale float64 `json:"scale"`
	TX    float64 `json:"tx"`
	TY    float64 `json:"ty"`
}

// Identity is the transform with scale 1 and no translation.
func Identity() Transform {
	return Transform{Scale: 1}
}

// Centered returns a unit-scale transform that puts the layout origin at the
// center of a width x height viewport.
func Centered(width, height float64) Transform {
	return Transform{Scale: 1, TX: width / 2, TY: height / 2}
}

// ToScreen converts a layout point to screen space.
func (t Transform) ToScreen(x, y float64) (float64, float64) {
	return x*t.Scale + t.TX, y*t.Scale + t.TY
}

// ToLayout converts a screen point to layout space.
func (t Transform) ToLayout(sx, sy float64) (float64, float64) {
	s := t.Scale
	if s == 0 {
		s = 1
	}
	return (sx - t.TX) / s, (sy - t.TY) / s
}

// ZoomAt scales by factor around the screen point (sx, sy), keeping the
// layout point under it fixed. The resulting scale is clamped to [lo, hi].
func (t Transform) ZoomAt(sx, sy, factor, lo, hi float64) Transform {
	lx, ly := t.ToLayout(sx, sy)
	scale := math.Min(hi, math.Max(lo, t.Scale*factor))
	return Transform{
		Scale: scale,
		TX:    sx - lx*scale,
		TY:    sy - ly*scale,
	}
}

// Pan translates by (dx, dy) screen units.
func (t Transform) Pan(dx, dy float64) Transform {
	t.TX += dx
	t.TY += dy
	return t
}

// Fit returns a transform that shows the layout box [minX,maxX]x[minY,maxY]
// inside a width x height viewport with padding on every side. The scale is
// clamped to [lo, hi].
func Fit(minX, minY, maxX, maxY, width, height, padding, lo, hi float64) Transform {
	bw, bh := maxX-minX, maxY-minY
	aw, ah := width-2*padding, height-2*padding
	scale := 1.0
	if bw > 0 && bh > 0 && aw > 0 && ah > 0 {
		scale = math.Min(aw/bw, ah/bh)
	}
	scale = math.Min(hi, math.Max(lo, scale))
	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	return Transform{
		Scale: scale,
		TX:    width/2 - cx*scale,
		TY:    height/2 - cy*scale,
	}
}
