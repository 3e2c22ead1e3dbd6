package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"graphmail/models"
	"graphmail/utils"

	"github.com/emersion/go-message/mail"
)

// Build renders msg as an RFC 5322 message with a multipart/alternative
// body (plain text derived from the HTML, then the HTML itself). Bcc is
// not written to the headers. Entries with an empty address are left out
// of the address headers. It returns the raw bytes and the Message-ID.
func Build(msg *models.Message, from *mail.Address, date time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetSubject(msg.Subject)
	if from != nil {
		h.SetAddressList("From", []*mail.Address{from})
	}
	if to := addressList(msg.ToRecipients); len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if cc := addressList(msg.CcRecipients); len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if msg.Importance.Valid() {
		h.Set("Importance", msg.Importance.String())
		h.Set("X-Priority", xPriority(msg.Importance))
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", err
	}

	html := ""
	if msg.Body != nil {
		html = msg.Body.Content
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, "", err
	}
	if err := writePart(tw, "text/plain", utils.HTMLToText(html)); err != nil {
		return nil, "", err
	}
	if err := writePart(tw, "text/html", html); err != nil {
		return nil, "", err
	}
	if err := tw.Close(); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), messageID, nil
}

func writePart(tw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := tw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, content); err != nil {
		return err
	}
	return w.Close()
}

func addressList(recipients []models.Recipient) []*mail.Address {
	var out []*mail.Address
	for _, r := range recipients {
		addr := strings.TrimSpace(r.EmailAddress.Address)
		if addr == "" {
			continue
		}
		out = append(out, &mail.Address{Name: r.EmailAddress.Name, Address: addr})
	}
	return out
}

// Envelope returns the SMTP recipients of msg: to, cc and bcc, without
// empty addresses
func Envelope(msg *models.Message) []string {
	var rcpt []string
	for _, list := range [][]models.Recipient{msg.ToRecipients, msg.CcRecipients, msg.BccRecipients} {
		for _, a := range addressList(list) {
			rcpt = append(rcpt, a.Address)
		}
	}
	return rcpt
}

func xPriority(i models.Importance) string {
	switch i {
	case models.ImportanceHigh:
		return "1 (Highest)"
	case models.ImportanceLow:
		return "5 (Lowest)"
	default:
		return "3 (Normal)"
	}
}
