package course

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Titles come from LMS authors and may embed markup. They are shown as plain
// text in the player chrome and echoed to web views, so every tag is stripped.
var titlePolicy = bluemonday.StrictPolicy()

// DisplayTitle returns a plain-text title, or fallback when nothing remains.
func DisplayTitle(raw, fallback string) string {
	clean := html.UnescapeString(titlePolicy.Sanitize(raw))
	clean = strings.Join(strings.Fields(clean), " ")
	if clean == "" {
		return fallback
	}
	return clean
}

// UnitTitle is the title shown in the player top bar.
func UnitTitle(u *LearningUnit) string {
	if u == nil {
		return "Learning Unit"
	}
	return DisplayTitle(u.Title, "Learning Unit")
}
