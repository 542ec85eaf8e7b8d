// Package mailbox reads the notification mails that trigger document
// retrieval and extracts one EmailRecord per patient.
package mailbox

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

// Client is an IMAP mailbox session. One Client serves one run: connect,
// fetch, acknowledge, close.
type Client struct {
	cfg  config.MailConfig
	log  *slog.Logger
	conn *client.Client
	seen *SeenStore

	// LimitReached is set when FetchNotifications stopped at the
	// configured mail cap with candidates left unread.
	LimitReached bool
}

// NewClient builds an unconnected mailbox client. The seen store is
// optional; without it, already-processed detection relies on IMAP flags
// alone.
func NewClient(cfg config.MailConfig, seen *SeenStore, log *slog.Logger) *Client {
	return &Client{cfg: cfg, log: log, seen: seen}
}

// Connect dials the server and selects the inbox. A failing certificate
// chain is retried once without verification, which some hospital relays
// require.
func (c *Client) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	var conn *client.Client
	var err error
	if c.cfg.UseSSL {
		conn, err = client.DialTLS(addr, nil)
		if isCertError(err) {
			c.log.Warn("certificate verification failed, retrying unverified", "host", c.cfg.Host)
			conn, err = client.DialTLS(addr, &tls.Config{InsecureSkipVerify: true})
		}
	} else {
		conn, err = client.Dial(addr)
	}
	if err != nil {
		return models.NewProcError(models.ErrCodeMailbox,
			"failed to connect to "+addr, err)
	}

	if err := conn.Login(c.cfg.User, c.cfg.Pass); err != nil {
		_ = conn.Logout()
		return models.NewProcError(models.ErrCodeMailbox,
			"IMAP login rejected for "+c.cfg.User, err)
	}
	if _, err := conn.Select("INBOX", false); err != nil {
		_ = conn.Logout()
		return models.NewProcError(models.ErrCodeMailbox,
			"failed to select INBOX", err)
	}
	c.conn = conn
	c.log.Info("mailbox connected", "host", c.cfg.Host, "user", c.cfg.User)
	return nil
}

// Close logs out of the server. Safe on an unconnected client.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Logout(); err != nil {
		c.log.Debug("IMAP logout", "error", err)
	}
	c.conn = nil
}

// FetchNotifications returns one EmailRecord per unprocessed notification
// mail, oldest first, up to the configured cap. Mails that match the
// notification filters but cannot be parsed are logged and skipped.
func (c *Client) FetchNotifications() ([]models.EmailRecord, error) {
	uids, err := c.searchUnseen()
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		c.log.Info("no unread mail")
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchUid}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqset, items, messages)
	}()

	var records []models.EmailRecord
	c.LimitReached = false
	for msg := range messages {
		if !c.admit(msg, len(records)) {
			continue // keep draining the channel
		}
		rec, err := ParseNotification(msg, section)
		if err != nil {
			c.log.Warn("skipping unparseable notification",
				"uid", msg.Uid, "subject", envelopeSubject(msg), "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := <-done; err != nil {
		return nil, models.NewProcError(models.ErrCodeMailbox,
			"failed to fetch mail bodies", err)
	}
	if c.LimitReached {
		c.log.Warn("mail cap reached, remaining notifications left for the next run",
			"cap", c.cfg.MaxEmails)
	}
	c.log.Info("notifications collected", "count", len(records), "unread", len(uids))
	return records, nil
}

// admit decides whether a fetched message should be parsed given how
// many records have been collected so far. The mail cap counts only
// qualifying notifications, so LimitReached fires only when a message
// that would have been processed is left behind.
func (c *Client) admit(msg *imap.Message, have int) bool {
	if c.seen != nil && c.seen.Contains(msg.Uid) {
		return false
	}
	if !c.matchesFilters(msg) {
		return false
	}
	if c.cfg.MaxEmails > 0 && have >= c.cfg.MaxEmails {
		c.LimitReached = true
		return false
	}
	return true
}

// Acknowledge marks a fully processed notification: seen flag on the
// server, optional deletion, and the local seen store.
func (c *Client) Acknowledge(uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.conn.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return models.NewProcError(models.ErrCodeMailbox,
			fmt.Sprintf("failed to mark uid %d as seen", uid), err)
	}
	if c.cfg.DeleteAfterProcessing {
		if err := c.conn.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return models.NewProcError(models.ErrCodeMailbox,
				fmt.Sprintf("failed to flag uid %d for deletion", uid), err)
		}
		if err := c.conn.Expunge(nil); err != nil {
			return models.NewProcError(models.ErrCodeMailbox,
				"expunge failed", err)
		}
	}
	if c.seen != nil {
		if err := c.seen.Add(uid); err != nil {
			c.log.Warn("failed to persist processed uid", "uid", uid, "error", err)
		}
	}
	return nil
}

// searchUnseen prefers a server-side UNSEEN search and falls back to
// fetching everything when the server rejects the criteria.
func (c *Client) searchUnseen() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.conn.UidSearch(criteria)
	if err == nil {
		return uids, nil
	}
	c.log.Debug("UNSEEN search rejected, falling back to full scan", "error", err)
	uids, err = c.conn.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, models.NewProcError(models.ErrCodeMailbox,
			"mailbox search failed", err)
	}
	return uids, nil
}

// matchesFilters applies the sender and subject filters to the envelope.
func (c *Client) matchesFilters(msg *imap.Message) bool {
	if msg.Envelope == nil {
		return false
	}
	if c.cfg.SenderFilter != "" && !senderMatches(msg.Envelope, c.cfg.SenderFilter) {
		return false
	}
	if c.cfg.SubjectFilter != "" &&
		!strings.Contains(strings.ToLower(msg.Envelope.Subject), strings.ToLower(c.cfg.SubjectFilter)) {
		return false
	}
	return true
}

func senderMatches(env *imap.Envelope, filter string) bool {
	f := strings.ToLower(filter)
	for _, from := range env.From {
		if strings.Contains(strings.ToLower(from.PersonalName), f) {
			return true
		}
		if strings.Contains(strings.ToLower(from.Address()), f) {
			return true
		}
	}
	return false
}

func envelopeSubject(msg *imap.Message) string {
	if msg.Envelope == nil {
		return ""
	}
	return msg.Envelope.Subject
}

func isCertError(err error) bool {
	if err == nil {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	return errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr)
}
