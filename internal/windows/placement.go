package windows

import (
	"maps"
	"math"
	"slices"

	"github.com/starford/blink/internal/models"
)

// placeLocked picks the geometry for a new window: explicit request values
// first, then the note's last geometry, then defaults cascaded by the
// number of open windows. The position is then nudged off any open window
// it would sit on top of.
func (m *Manager) placeLocked(noteID string, req CreateRequest) models.Geometry {
	s := m.settings
	last, hasLast := m.state.LastGeometry[noteID]

	g := models.Geometry{Width: s.DefaultWidth, Height: s.DefaultHeight}
	if hasLast {
		g.Width, g.Height = last.Width, last.Height
	}
	if req.Width != nil {
		g.Width = *req.Width
	}
	if req.Height != nil {
		g.Height = *req.Height
	}
	g.Width = max(g.Width, s.MinWidth)
	g.Height = max(g.Height, s.MinHeight)

	switch {
	case req.X != nil && req.Y != nil:
		g.X, g.Y = *req.X, *req.Y
	case hasLast:
		g.X, g.Y = last.X, last.Y
	default:
		offset := float64(len(m.state.Windows)) * s.CascadeOffset
		g.X, g.Y = s.DefaultX+offset, s.DefaultY+offset
	}

	g.X, g.Y = avoidOverlap(g.X, g.Y, m.openPositionsLocked(), s.OverlapThreshold, s.CascadeOffset)
	return g
}

func (m *Manager) openPositionsLocked() [][2]float64 {
	labels := slices.Sorted(maps.Keys(m.state.Windows))
	out := make([][2]float64, 0, len(labels))
	for _, label := range labels {
		out = append(out, m.state.Windows[label].Position)
	}
	return out
}

// avoidOverlap moves (x, y) while it lies within threshold of an open
// window on both axes. Each move lands offset past the window it hit, and
// a window that has already pushed the position is not considered again,
// so the loop ends after at most len(open) moves.
func avoidOverlap(x, y float64, open [][2]float64, threshold, offset float64) (float64, float64) {
	used := make([]bool, len(open))
	for moved := true; moved; {
		moved = false
		for i, p := range open {
			if used[i] {
				continue
			}
			if math.Abs(p[0]-x) < threshold && math.Abs(p[1]-y) < threshold {
				x, y = p[0]+offset, p[1]+offset
				used[i] = true
				moved = true
				break
			}
		}
	}
	return x, y
}
