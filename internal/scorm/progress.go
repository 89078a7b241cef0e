package scorm

import (
	"strconv"
	"strings"
)

// ParseScore converts a raw score the way JavaScript parseInt does: leading
// whitespace is skipped, an optional sign and the longest run of digits are
// read in base 10, and anything after is ignored. "85.5" is 85, "42abc" is
// 42, "0x50" is 0. Input without a leading integer returns ErrProgressParse.
func ParseScore(raw string) (int, error) {
	s := strings.TrimLeft(raw, " \t\n\r\v\f\u00a0\ufeff")

	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, &ParseError{Kind: ErrProgressParse, Raw: raw}
	}

	n, err := strconv.ParseInt(sign+s[:end], 10, 32)
	if err != nil {
		return 0, &ParseError{Kind: ErrProgressParse, Raw: raw, Err: err}
	}
	return int(n), nil
}

// Progress is the host-side view of one session.
type Progress struct {
	Score        int               `json:"score"`
	HasScore     bool              `json:"has_score"`
	LessonStatus string            `json:"lesson_status,omitempty"`
	SessionTime  string            `json:"session_time,omitempty"`
	Commits      int               `json:"commits"`
	Finished     bool              `json:"finished"`
	Values       map[string]string `json:"values,omitempty"`
}

func (p Progress) clone() Progress {
	if p.Values != nil {
		vals := make(map[string]string, len(p.Values))
		for k, v := range p.Values {
			vals[k] = v
		}
		p.Values = vals
	}
	return p
}
