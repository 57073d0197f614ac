// Package validation collects per-field violations as symbolic message tokens
// (field_rule, e.g. "email_required"). Tokens are localized client-side and
// must never be replaced by prose.
package validation

import (
	"net/mail"
	"strings"
	"time"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records a token for a field unless one is already present; the first
// failing rule wins, matching one-message-per-field output.
func (v Violations) Add(field, rule string) {
	if _, ok := v[field]; !ok {
		v[field] = field + "_" + rule
	}
}

// Basic validators

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func MaxLen(field, value string, max int, v Violations) {
	if len(value) > max {
		v.Add(field, "max")
	}
}

func MinLen(field, value string, min int, v Violations) {
	if value != "" && len(value) < min {
		v.Add(field, "min")
	}
}

func Email(field, value string, v Violations) {
	if value == "" {
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		v.Add(field, "invalid")
	}
}

func IntRange(field string, value, min, max int, v Violations) {
	if value < min {
		v.Add(field, "min")
		return
	}
	if value > max {
		v.Add(field, "max")
	}
}

func MinInt(field string, value, min int64, v Violations) {
	if value < min {
		v.Add(field, "min")
	}
}

func In(field, value string, allowed []string, v Violations) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "in")
}

// Date parses value as a date or datetime; the zero string passes.
func Date(field, value string, v Violations) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	v.Add(field, "date")
	return time.Time{}, false
}
