package models

import (
	"encoding/json"
	"fmt"
)

// Importance is the priority tag attached to an outbound message.
// The zero value means no importance has been chosen.
type Importance uint8

const (
	ImportanceLow Importance = iota + 1
	ImportanceNormal
	ImportanceHigh
)

// ImportanceOptions lists the selectable importance levels in menu order.
var ImportanceOptions = []Importance{ImportanceLow, ImportanceNormal, ImportanceHigh}

// String returns the wire name used by the mail API
func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceNormal:
		return "normal"
	case ImportanceHigh:
		return "high"
	default:
		return ""
	}
}

// Valid reports whether i is one of the three levels
func (i Importance) Valid() bool {
	return i >= ImportanceLow && i <= ImportanceHigh
}

// ParseImportance converts a wire name into an Importance
func ParseImportance(s string) (Importance, error) {
	switch s {
	case "low":
		return ImportanceLow, nil
	case "normal":
		return ImportanceNormal, nil
	case "high":
		return ImportanceHigh, nil
	}
	return 0, fmt.Errorf("unknown importance %q", s)
}

func (i Importance) MarshalJSON() ([]byte, error) {
	if !i.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(i.String())
}

func (i *Importance) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	v, err := ParseImportance(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
