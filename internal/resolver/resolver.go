// Package resolver picks the learning unit and content object to play and
// derives the playable URL.
//
// The resolver only reads the course preview; it never copies or mutates
// units, so one preview may be shared by concurrent requests.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
)

var (
	// ErrUnitNotFound is returned when the requested unit is absent or unknown
	// under PolicyStrict, or when the course has no units at all.
	ErrUnitNotFound = errors.New("learning unit not found")
	// ErrContentUnavailable is returned when the selected unit has no SCO or
	// the SCO has no playable URL.
	ErrContentUnavailable = errors.New("content not available")
)

// Policy decides what happens when no unit matches the request.
type Policy int

const (
	// PolicyStrict reports ErrUnitNotFound.
	PolicyStrict Policy = iota
	// PolicyFirstUnit selects index 0 and its first SCO.
	PolicyFirstUnit
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "first_unit", "first-unit", "first":
		return PolicyFirstUnit, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown resolver policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicyFirstUnit {
		return "first_unit"
	}
	return "strict"
}

// Selection is the resolved playback target.
type Selection struct {
	Unit  *course.LearningUnit
	SCO   *course.SCO
	Index int
}

// Resolver resolves requests against a unit sequence.
type Resolver struct {
	policy Policy
}

// New creates a resolver with the given policy.
func New(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the configured policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve selects {unit, sco, index}. Within a matched unit the requested SCO
// wins; otherwise the unit's first SCO is used, never another unit's.
func (r *Resolver) Resolve(units []course.LearningUnit, unitID, scoID string) (Selection, error) {
	index := -1
	if unitID != "" {
		for i := range units {
			if units[i].ID.String() == unitID {
				index = i
				break
			}
		}
	}

	if index < 0 {
		if r.policy != PolicyFirstUnit || len(units) == 0 {
			return Selection{}, &Error{Kind: ErrUnitNotFound, UnitID: unitID, SCOID: scoID}
		}
		// Defaulting ignores the requested SCO: it belonged to no known unit.
		index, scoID = 0, ""
	}

	return selectIn(units, index, scoID)
}

// At resolves the unit at index with its first SCO. Used for navigation.
func (r *Resolver) At(units []course.LearningUnit, index int) (Selection, error) {
	if index < 0 || index >= len(units) {
		return Selection{}, &Error{Kind: ErrUnitNotFound, UnitID: fmt.Sprintf("#%d", index)}
	}
	return selectIn(units, index, "")
}

func selectIn(units []course.LearningUnit, index int, scoID string) (Selection, error) {
	unit := &units[index]

	sco, ok := unit.FindSCO(scoID)
	if !ok {
		sco = unit.DefaultSCO()
	}
	if sco == nil || sco.TrackURL() == "" {
		return Selection{}, &Error{Kind: ErrContentUnavailable, UnitID: unit.ID.String(), SCOID: scoID}
	}

	return Selection{Unit: unit, SCO: sco, Index: index}, nil
}

// ContentURL joins the fixed origin with the SCO's preview path. Only
// emptiness is checked.
func ContentURL(origin string, sco *course.SCO) (string, error) {
	path := sco.TrackURL()
	if path == "" {
		return "", &Error{Kind: ErrContentUnavailable}
	}
	return origin + path, nil
}
