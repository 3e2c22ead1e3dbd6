package models

import (
	"encoding/json"
	"fmt"
)

// ViewMode is the span shown by the calendar view
type ViewMode uint8

const (
	ViewDay ViewMode = iota + 1
	ViewWeek
	ViewMonth
)

// ViewModeOptions lists the selectable view modes in menu order
var ViewModeOptions = []ViewMode{ViewDay, ViewWeek, ViewMonth}

func (v ViewMode) String() string {
	switch v {
	case ViewDay:
		return "day"
	case ViewWeek:
		return "week"
	case ViewMonth:
		return "month"
	default:
		return ""
	}
}

func ParseViewMode(s string) (ViewMode, error) {
	switch s {
	case "day":
		return ViewDay, nil
	case "week":
		return ViewWeek, nil
	case "month":
		return ViewMonth, nil
	}
	return 0, fmt.Errorf("unknown view mode %q", s)
}

func (v ViewMode) MarshalJSON() ([]byte, error) {
	if v.String() == "" {
		return []byte("null"), nil
	}
	return json.Marshal(v.String())
}

func (v *ViewMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m, err := ParseViewMode(s)
	if err != nil {
		return err
	}
	*v = m
	return nil
}

// Event is a calendar event as returned by the mail API
type Event struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	Organizer *Recipient     `json:"organizer,omitempty"`
	Start     DateTimeZone   `json:"start"`
	End       DateTimeZone   `json:"end"`
	IsAllDay  bool           `json:"isAllDay"`
	Location  *EventLocation `json:"location,omitempty"`
}

type EventLocation struct {
	DisplayName string `json:"displayName"`
}

// DateTimeZone is a wall-clock time paired with its zone name
type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}
