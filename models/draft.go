package models

import "time"

// Draft is the editable state of an open composer
type Draft struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"message_id,omitempty"` // set when editing an existing draft
	Recipients string     `json:"recipients"`
	Subject    string     `json:"subject"`
	Cc         string     `json:"cc"`
	Bcc        string     `json:"bcc"`
	CcVisible  bool       `json:"cc_visible"`
	BccVisible bool       `json:"bcc_visible"`
	Importance Importance `json:"importance"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
