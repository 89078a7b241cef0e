package course

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an identifier that the LMS may send as a JSON number or string.
// It is compared by its textual form.
type ID string

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("course id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Preview is the immutable snapshot returned for one course. Nothing in the
// backend mutates a Preview after it is decoded.
type Preview struct {
	Course        Course         `json:"course"`
	Metadata      Metadata       `json:"metadata"`
	LearningUnits []LearningUnit `json:"learning_units"`
}

// Course carries display metadata.
type Course struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Metadata carries request-scoped flags returned by the preview endpoint.
type Metadata struct {
	UserAuthenticated bool `json:"user_authenticated"`
}

// LearningUnit is one addressable item of a course.
type LearningUnit struct {
	ID         ID         `json:"id"`
	Title      string     `json:"title"`
	FirstSCO   *SCO       `json:"first_sco"`
	SCOs       []SCO      `json:"scos"`
	UserStatus UserStatus `json:"user_status"`
}

// SCO is one playable content object. UUID is opaque.
type SCO struct {
	UUID        string       `json:"uuid"`
	Title       string       `json:"title,omitempty"`
	PreviewData *PreviewData `json:"preview_data"`
}

// PreviewData points at the playable resource relative to the LMS origin.
type PreviewData struct {
	PreviewTrackURL string `json:"preview_track_url"`
}

// UserStatus is the learner's server-side record for a unit.
type UserStatus struct {
	Status    string  `json:"status,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	TimeSpent float64 `json:"time_spent,omitempty"`
}

// TrackURL returns the preview path or "" when the SCO has none.
func (s *SCO) TrackURL() string {
	if s == nil || s.PreviewData == nil {
		return ""
	}
	return strings.TrimSpace(s.PreviewData.PreviewTrackURL)
}

// FindSCO returns the SCO with the given uuid inside the unit.
func (u *LearningUnit) FindSCO(uuid string) (*SCO, bool) {
	if uuid == "" {
		return nil, false
	}
	for i := range u.SCOs {
		if u.SCOs[i].UUID == uuid {
			return &u.SCOs[i], true
		}
	}
	return nil, false
}

// DefaultSCO returns the unit's designated entry point, falling back to the
// first listed SCO when the LMS omitted first_sco.
func (u *LearningUnit) DefaultSCO() *SCO {
	if u.FirstSCO != nil && u.FirstSCO.UUID != "" {
		// Same pointer whichever path selected it.
		if sco, ok := u.FindSCO(u.FirstSCO.UUID); ok && sco.TrackURL() != "" {
			return sco
		}
		return u.FirstSCO
	}
	if len(u.SCOs) > 0 {
		return &u.SCOs[0]
	}
	return nil
}

// FirstSCOUUID returns the uuid navigation should request for this unit.
func (u *LearningUnit) FirstSCOUUID() string {
	if sco := u.DefaultSCO(); sco != nil {
		return sco.UUID
	}
	return ""
}

// IndexOf returns the position of the unit with the given id, or -1.
func (p *Preview) IndexOf(unitID string) int {
	if unitID == "" {
		return -1
	}
	for i := range p.LearningUnits {
		if p.LearningUnits[i].ID.String() == unitID {
			return i
		}
	}
	return -1
}
