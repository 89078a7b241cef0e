package resolver

import "github.com/GriffinCanCode/ScormHost/backend/internal/course"

// Navigator exposes previous/next state for a unit index within a course.
// Moving past either end is a no-op, not an error.
type Navigator struct {
	Index int
	Count int
}

// NewNavigator creates a navigator for the given position.
func NewNavigator(index, count int) Navigator {
	return Navigator{Index: index, Count: count}
}

func (n Navigator) valid() bool {
	return n.Count > 0 && n.Index >= 0 && n.Index < n.Count
}

// HasPrevious reports whether a previous unit exists.
func (n Navigator) HasPrevious() bool {
	return n.valid() && n.Index > 0
}

// HasNext reports whether a next unit exists.
func (n Navigator) HasNext() bool {
	return n.valid() && n.Index < n.Count-1
}

// Previous returns the previous index, or the same index at the start.
func (n Navigator) Previous() int {
	if n.HasPrevious() {
		return n.Index - 1
	}
	return n.Index
}

// Next returns the next index, or the same index at the end.
func (n Navigator) Next() int {
	if n.HasNext() {
		return n.Index + 1
	}
	return n.Index
}

// Position is the 1-based "current / total" pair shown in the top bar.
func (n Navigator) Position() (current, total int) {
	return n.Index + 1, n.Count
}

// Target is the request to issue to open a unit.
type Target struct {
	UnitID string `json:"unit_id"`
	SCOID  string `json:"sco_id"`
}

// TargetAt returns the (unit, first SCO) pair for index, and false when index
// is out of range.
func TargetAt(units []course.LearningUnit, index int) (Target, bool) {
	if index < 0 || index >= len(units) {
		return Target{}, false
	}
	unit := &units[index]
	return Target{UnitID: unit.ID.String(), SCOID: unit.FirstSCOUUID()}, true
}

// PreviousTarget returns the target for the previous unit, if any.
func (n Navigator) PreviousTarget(units []course.LearningUnit) (Target, bool) {
	if !n.HasPrevious() {
		return Target{}, false
	}
	return TargetAt(units, n.Previous())
}

// NextTarget returns the target for the next unit, if any.
func (n Navigator) NextTarget(units []course.LearningUnit) (Target, bool) {
	if !n.HasNext() {
		return Target{}, false
	}
	return TargetAt(units, n.Next())
}
