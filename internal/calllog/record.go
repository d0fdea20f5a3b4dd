// Package calllog turns the flat call history into display rows.
package calllog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the raw call-log type code reported by the handset.
type Type int

const (
	TypeIncoming  Type = 1
	TypeOutgoing  Type = 2
	TypeMissed    Type = 3
	TypeVoicemail Type = 4
	TypeRejected  Type = 5
	TypeBlocked   Type = 6
	TypeUnknown   Type = 7
)

var typeNames = map[Type]string{
	TypeIncoming:  "incoming",
	TypeOutgoing:  "outgoing",
	TypeMissed:    "missed",
	TypeVoicemail: "voicemail",
	TypeRejected:  "rejected",
	TypeBlocked:   "blocked",
	TypeUnknown:   "unknown",
}

// Normalize maps unrecognized codes to TypeUnknown.
func (t Type) Normalize() Type {
	if _, ok := typeNames[t]; ok {
		return t
	}
	return TypeUnknown
}

func (t Type) String() string {
	return typeNames[t.Normalize()]
}

// ParseType accepts either a numeric code or a type name.
func ParseType(v string) Type {
	v = strings.ToLower(strings.TrimSpace(v))
	for t, name := range typeNames {
		if name == v {
			return t
		}
	}
	if code, err := strconv.Atoi(v); err == nil {
		return Type(code).Normalize()
	}
	return TypeUnknown
}

// UnmarshalJSON accepts the numeric code or the type name, so handsets may
// report either form.
func (t *Type) UnmarshalJSON(b []byte) error {
	v := string(b)
	if unquoted, err := strconv.Unquote(v); err == nil {
		v = unquoted
	}
	*t = ParseType(v)
	return nil
}

// Record is one historical call.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Number     string    `json:"number"`
	Type       Type      `json:"type"`
	Duration   int64     `json:"duration"` // seconds
	CachedName string    `json:"cached_name,omitempty"`
}

// DisplayName is the cached contact name, or the raw number when there is none.
func DisplayName(r Record) string {
	if r.CachedName != "" {
		return r.CachedName
	}
	return r.Number
}

// Entry is a run of consecutive records sharing a number and a day label.
// Display attributes come from the newest member.
type Entry struct {
	Timestamp time.Time
	Number    string
	Type      Type
	Duration  int64
	Name      string
	DayLabel  string
	Members   []Record
}

// Count is the number of folded records.
func (e Entry) Count() int {
	return len(e.Members)
}

// CountLabel renders "(N)" for groups of more than one call.
func (e Entry) CountLabel() string {
	if len(e.Members) <= 1 {
		return ""
	}
	return fmt.Sprintf("(%d)", len(e.Members))
}
