package models

// User represents the signed-in mailbox owner
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Address returns the best mailbox address for the user
func (u *User) Address() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// Credentials are the IMAP/SMTP login details kept for a user when the
// imap transport is configured
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
