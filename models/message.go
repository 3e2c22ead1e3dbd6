package models

import "time"

// Message is the mail API message resource, used both for outbound
// requests and for messages loaded to seed a composer
type Message struct {
	ID               string      `json:"id,omitempty"`
	Subject          string      `json:"subject"`
	Body             *ItemBody   `json:"body,omitempty"`
	Importance       Importance  `json:"importance,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients"`
	CcRecipients     []Recipient `json:"ccRecipients,omitempty"`
	BccRecipients    []Recipient `json:"bccRecipients,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	ReceivedDateTime *time.Time  `json:"receivedDateTime,omitempty"`
	IsDraft          bool        `json:"isDraft,omitempty"`
}

// ItemBody is a message body; the composer only ever produces "html"
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Recipient wraps an address the way the mail API expects
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress is a single mailbox address
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Contact is a record delivered by the contact picker
type Contact struct {
	DisplayName    string         `json:"displayName,omitempty"`
	EmailAddresses []EmailAddress `json:"emailAddresses,omitempty"`
}

// PrimaryAddress returns the first address of the contact, or "" when the
// contact has none
func (c Contact) PrimaryAddress() string {
	if len(c.EmailAddresses) == 0 {
		return ""
	}
	return c.EmailAddresses[0].Address
}

// Addresses returns the plain addresses of a recipient list in order
func Addresses(recipients []Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}
