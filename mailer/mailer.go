// Package mailer is the IMAP/SMTP transport: drafts are appended to the
// user's Drafts folder and sent messages go out over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"graphmail/config"
	"graphmail/models"
	"graphmail/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-message/mail"
)

var ErrNoRecipients = errors.New("message has no recipients")

const dialTimeout = 30 * time.Second

// Mailer delivers composer output for one IMAP/SMTP account
type Mailer struct {
	imap  config.IMAPConfig
	smtp  config.SMTPConfig
	creds models.Credentials
	log   *utils.Logger
	now   func() time.Time
}

// New creates a mailer for the account described by creds
func New(imapCfg config.IMAPConfig, smtpCfg config.SMTPConfig, creds models.Credentials) *Mailer {
	return &Mailer{
		imap:  imapCfg,
		smtp:  smtpCfg,
		creds: creds,
		log:   utils.Log.WithFields(map[string]interface{}{"component": "mailer", "account": creds.Email}),
		now:   time.Now,
	}
}

// Verify logs in to IMAP and back out, checking the credentials
func (m *Mailer) Verify(ctx context.Context) error {
	c, err := m.dialIMAP(ctx)
	if err != nil {
		return err
	}
	return c.Logout()
}

// PostMessage appends msg to Drafts, or sends it over SMTP and files a
// copy under Sent. Draft ids are IMAP UIDs in the Drafts folder; saving a
// draft that has one replaces the old copy.
func (m *Mailer) PostMessage(ctx context.Context, msg *models.Message, send bool) error {
	from := &mail.Address{Address: m.creds.Email}
	raw, messageID, err := Build(msg, from, m.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if send {
		rcpt := Envelope(msg)
		if len(rcpt) == 0 {
			return ErrNoRecipients
		}
		if err := m.sendSMTP(ctx, rcpt, raw); err != nil {
			return err
		}
		m.log.Info("Sent message to %d recipients", len(rcpt))
		m.fileSent(ctx, msg.ID, raw)
		return nil
	}

	c, err := m.dialIMAP(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	folder, err := selectFirst(c, m.imap.DraftsFolders)
	if err != nil {
		return err
	}
	if err := c.Append(folder, []string{imap.DraftFlag, imap.SeenFlag}, m.now(), bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("append draft: %w", err)
	}
	if msg.ID != "" {
		if err := deleteUID(c, folder, msg.ID); err != nil {
			m.log.Warn("Could not remove previous draft %s: %v", msg.ID, err)
		}
	}

	uid, err := findByMessageID(c, folder, messageID)
	if err != nil {
		m.log.Warn("Saved draft but could not find its uid: %v", err)
		return nil
	}
	msg.ID = strconv.FormatUint(uint64(uid), 10)
	m.log.Debug("Saved draft %s in %s", msg.ID, folder)
	return nil
}

// fileSent appends the sent copy to Sent and drops the draft it was sent
// from. Failures are logged; the message is already on its way.
func (m *Mailer) fileSent(ctx context.Context, draftID string, raw []byte) {
	c, err := m.dialIMAP(ctx)
	if err != nil {
		m.log.Warn("Could not file sent message: %v", err)
		return
	}
	defer c.Logout()

	if folder, err := selectFirst(c, m.imap.SentFolders); err == nil {
		if err := c.Append(folder, []string{imap.SeenFlag}, m.now(), bytes.NewBuffer(raw)); err != nil {
			m.log.Warn("Could not append to %s: %v", folder, err)
		}
	} else {
		m.log.Warn("Could not file sent message: %v", err)
	}

	if draftID != "" {
		if folder, err := selectFirst(c, m.imap.DraftsFolders); err == nil {
			if err := deleteUID(c, folder, draftID); err != nil {
				m.log.Warn("Could not remove sent draft %s: %v", draftID, err)
			}
		}
	}
}

func (m *Mailer) dialIMAP(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(m.imap.Server, strconv.Itoa(m.imap.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: m.imap.Server})
	if err != nil {
		m.log.Error("IMAP dial %s failed: %v", addr, err)
		return nil, fmt.Errorf("connection error: %w", err)
	}
	if err := c.Login(m.creds.Email, m.creds.Password); err != nil {
		_ = c.Logout()
		m.log.Warn("IMAP login failed: %v", err)
		return nil, fmt.Errorf("login error: %w", err)
	}
	return c, nil
}

func (m *Mailer) sendSMTP(ctx context.Context, rcpt []string, raw []byte) error {
	host := m.smtp.Server
	addr := net.JoinHostPort(host, strconv.Itoa(m.smtp.GetPort()))
	tlsConfig := &tls.Config{ServerName: host}

	dialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if m.smtp.UseSTARTTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting failed: %w", err)
	}
	defer c.Close()

	if err := c.Hello(domainOf(m.creds.Email)); err != nil {
		return fmt.Errorf("hello failed: %w", err)
	}
	if m.smtp.UseSTARTTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", m.creds.Email, m.creds.Password, host)); err != nil {
		return fmt.Errorf("auth failed: %w", err)
	}
	if err := c.Mail(m.creds.Email); err != nil {
		return fmt.Errorf("mail from failed: %w", err)
	}
	for _, to := range rcpt {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt to %s failed: %w", to, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data failed: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close failed: %w", err)
	}
	return c.Quit()
}

// selectFirst selects the first of the candidate folders that exists
func selectFirst(c *client.Client, candidates []string) (string, error) {
	for _, folder := range candidates {
		if _, err := c.Select(folder, false); err == nil {
			return folder, nil
		}
	}
	return "", fmt.Errorf("none of the folders %s exists", strings.Join(candidates, ", "))
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid draft id %q", id)
	}
	return uint32(uid), nil
}

func deleteUID(c *client.Client, folder, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if _, err := c.Select(folder, false); err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return err
	}

	// a plain EXPUNGE would also remove every other \Deleted message in
	// the folder, so without UIDPLUS the old draft stays flagged only
	ok, err := c.Support("UIDPLUS")
	if err != nil {
		return err
	}
	if !ok {
		utils.Log.Debug("Server lacks UIDPLUS; draft %d in %s left flagged \\Deleted", uid, folder)
		return nil
	}
	status, err := c.Execute(uidExpunge(seq), nil)
	if err != nil {
		return err
	}
	return status.Err()
}

// uidExpunge is the RFC 4315 UID EXPUNGE command
func uidExpunge(seq *imap.SeqSet) imap.Commander {
	return &commands.Uid{Cmd: &imap.Command{Name: "EXPUNGE", Arguments: []interface{}{seq}}}
}

func findByMessageID(c *client.Client, folder, messageID string) (uint32, error) {
	if _, err := c.Select(folder, false); err != nil {
		return 0, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header = textproto.MIMEHeader{"Message-Id": {"<" + messageID + ">"}}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, errors.New("no message with that Message-Id")
	}
	return uids[len(uids)-1], nil
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return "localhost"
}
