package resolver

import "fmt"

// Error is a resolution failure. Kind is ErrUnitNotFound or
// ErrContentUnavailable; both render as "content not available" and are not
// retried.
type Error struct {
	Kind   error
	UnitID string
	SCOID  string
}

func (e *Error) Error() string {
	if e.UnitID == "" {
		return e.Kind.Error()
	}
	if e.SCOID == "" {
		return fmt.Sprintf("%v (unit %s)", e.Kind, e.UnitID)
	}
	return fmt.Sprintf("%v (unit %s, sco %s)", e.Kind, e.UnitID, e.SCOID)
}

func (e *Error) Unwrap() error { return e.Kind }
