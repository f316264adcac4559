// core/geometry.go
package core

import "github.com/signalsfoundry/epidemic-simulator/model"

// ObstaclesWithin returns the obstacles that share at least one cell with
// area, in scenario order.
func ObstaclesWithin(obstacles []model.Rectangle, area model.Rectangle) []model.Rectangle {
	out := make([]model.Rectangle, 0, len(obstacles))
	for _, o := range obstacles {
		if area.Overlaps(o) {
			out = append(out, o)
		}
	}
	return out
}

// Blocked reports whether p lies inside any of the obstacles.
func Blocked(obstacles []model.Rectangle, p model.XY) bool {
	for _, o := range obstacles {
		if o.Contains(p) {
			return true
		}
	}
	return false
}

// MayPropagateFrom reports whether people owned by the core region from can
// ever be relevant to an observer whose halo is to. That is the case when
// the overlap of both regions has at least one cell not covered by an
// obstacle, since people never stand inside obstacles.
func MayPropagateFrom(scenario *model.Scenario, from, to model.Rectangle) bool {
	overlap := from.Intersect(to).Intersect(scenario.Grid())
	if overlap.Empty() {
		return false
	}
	relevant := ObstaclesWithin(scenario.Obstacles, overlap)
	if len(relevant) == 0 {
		return true
	}
	open := false
	overlap.Cells(func(c model.XY) bool {
		if !Blocked(relevant, c) {
			open = true
			return false
		}
		return true
	})
	return open
}
