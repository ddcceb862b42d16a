package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/inbox"
)

// IMAPConfig holds the mailbox connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
}

// IMAPInbox fetches unread mail over IMAPS. Each FetchUnread opens its own
// connection; the poller calls it at most once per cycle.
type IMAPInbox struct {
	cfg IMAPConfig
}

// NewIMAPInbox creates an inbox for cfg.
func NewIMAPInbox(cfg IMAPConfig) *IMAPInbox {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPInbox{cfg: cfg}
}

// FetchUnread returns UNSEEN messages and marks them \Seen. A message that
// fails to parse is logged and left unread.
func (i *IMAPInbox) FetchUnread(ctx context.Context) ([]inbox.Message, error) {
	addr := net.JoinHostPort(i.cfg.Host, strconv.Itoa(i.cfg.Port))
	c, err := client.DialTLS(addr, &tls.Config{ServerName: i.cfg.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	defer c.Logout() //nolint:errcheck

	// go-imap v1 has no context support; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(i.cfg.Username, i.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	status, err := c.Select(i.cfg.Mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", i.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	var (
		messages []inbox.Message
		seen     = new(imap.SeqSet)
	)
	for raw := range fetched {
		body := raw.GetBody(section)
		if body == nil {
			log.Warn().Uint32("uid", raw.Uid).Msg("IMAP server returned no body")
			continue
		}
		msg, err := ParseMessage(body)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", raw.Uid).Msg("Skipping unparseable message")
			continue
		}
		msg.UID = raw.Uid
		if msg.MessageID == "" {
			msg.MessageID = fmt.Sprintf("<%d.%d@%s>", status.UidValidity, raw.Uid, i.cfg.Host)
		}
		messages = append(messages, msg)
		seen.AddNum(raw.Uid)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	if len(seen.Set) > 0 {
		flags := []interface{}{imap.SeenFlag}
		if err := c.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			// The messages are stored idempotently, so a refetch is harmless.
			log.Warn().Err(err).Msg("Failed to mark messages as seen")
		}
	}

	log.Debug().Int("count", len(messages)).Str("mailbox", i.cfg.Mailbox).Msg("Fetched unread mail")
	return messages, nil
}
