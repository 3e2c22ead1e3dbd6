package composer

import (
	"fmt"
	"html"
	"strings"

	"graphmail/models"
	"graphmail/utils"
)

// SeedMode says how an existing message pre-populates a composer
type SeedMode string

const (
	SeedEdit     SeedMode = "edit"
	SeedReply    SeedMode = "reply"
	SeedReplyAll SeedMode = "reply_all"
	SeedForward  SeedMode = "forward"
)

// ParseSeedMode validates a mode name; "" means edit
func ParseSeedMode(s string) (SeedMode, error) {
	switch SeedMode(s) {
	case "", SeedEdit:
		return SeedEdit, nil
	case SeedReply, SeedReplyAll, SeedForward:
		return SeedMode(s), nil
	}
	return "", fmt.Errorf("unknown compose mode %q", s)
}

// Seed derives the initial state of a composer from an existing message.
// Editing keeps the message id so a save updates the same draft. Replies
// and forwards start a new message with a quoted body. self is the user's
// own address, left out of reply-all recipients. Any HTML taken from msg
// is sanitized.
func Seed(msg *models.Message, mode SeedMode, self string) *models.Message {
	body := ""
	if msg.Body != nil {
		body = msg.Body.Content
		if !strings.EqualFold(msg.Body.ContentType, "html") {
			body = "<pre>" + html.EscapeString(body) + "</pre>"
		}
	}
	body = utils.SanitizeHTML(body)

	switch mode {
	case SeedReply, SeedReplyAll:
		out := &models.Message{
			Subject: prefixSubject(msg.Subject, "Re:", "re:"),
			Body:    &models.ItemBody{ContentType: "html", Content: quoteBody(msg, body)},
		}
		if msg.From != nil {
			out.ToRecipients = []models.Recipient{*msg.From}
		}
		if mode == SeedReplyAll {
			out.CcRecipients = replyAllCc(msg, self)
		}
		return out

	case SeedForward:
		return &models.Message{
			Subject: prefixSubject(msg.Subject, "Fwd:", "fwd:", "fw:"),
			Body:    &models.ItemBody{ContentType: "html", Content: forwardBody(msg, body)},
		}

	default:
		return &models.Message{
			ID:            msg.ID,
			Subject:       msg.Subject,
			Body:          &models.ItemBody{ContentType: "html", Content: body},
			Importance:    msg.Importance,
			ToRecipients:  msg.ToRecipients,
			CcRecipients:  msg.CcRecipients,
			BccRecipients: msg.BccRecipients,
		}
	}
}

func prefixSubject(subject, prefix string, known ...string) string {
	lower := strings.ToLower(strings.TrimSpace(subject))
	for _, k := range known {
		if strings.HasPrefix(lower, k) {
			return subject
		}
	}
	return prefix + " " + subject
}

// replyAllCc collects the original to and cc recipients, minus self and the
// original sender, without duplicates
func replyAllCc(msg *models.Message, self string) []models.Recipient {
	seen := map[string]bool{strings.ToLower(self): true}
	if msg.From != nil {
		seen[strings.ToLower(msg.From.EmailAddress.Address)] = true
	}

	var cc []models.Recipient
	for _, list := range [][]models.Recipient{msg.ToRecipients, msg.CcRecipients} {
		for _, r := range list {
			key := strings.ToLower(strings.TrimSpace(r.EmailAddress.Address))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			cc = append(cc, r)
		}
	}
	return cc
}

func sender(msg *models.Message) string {
	if msg.From == nil {
		return ""
	}
	if msg.From.EmailAddress.Name != "" {
		return fmt.Sprintf("%s &lt;%s&gt;", html.EscapeString(msg.From.EmailAddress.Name), html.EscapeString(msg.From.EmailAddress.Address))
	}
	return html.EscapeString(msg.From.EmailAddress.Address)
}

func sentDate(msg *models.Message) string {
	if msg.ReceivedDateTime == nil {
		return ""
	}
	return msg.ReceivedDateTime.Format("Mon, Jan 2, 2006 at 15:04")
}

func quoteBody(msg *models.Message, body string) string {
	var sb strings.Builder
	sb.WriteString("<p></p><div>")
	if d := sentDate(msg); d != "" {
		fmt.Fprintf(&sb, "On %s, %s wrote:", d, sender(msg))
	} else {
		fmt.Fprintf(&sb, "%s wrote:", sender(msg))
	}
	sb.WriteString("</div><blockquote>")
	sb.WriteString(body)
	sb.WriteString("</blockquote>")
	return sb.String()
}

func forwardBody(msg *models.Message, body string) string {
	var sb strings.Builder
	sb.WriteString("<p></p><div>---------- Forwarded message ----------<br>")
	fmt.Fprintf(&sb, "From: %s<br>", sender(msg))
	if d := sentDate(msg); d != "" {
		fmt.Fprintf(&sb, "Date: %s<br>", d)
	}
	fmt.Fprintf(&sb, "Subject: %s<br>", html.EscapeString(msg.Subject))
	fmt.Fprintf(&sb, "To: %s", html.EscapeString(strings.Join(models.Addresses(msg.ToRecipients), ", ")))
	sb.WriteString("</div><br>")
	sb.WriteString(body)
	return sb.String()
}
