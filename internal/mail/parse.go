package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomessagemail "github.com/emersion/go-message/mail"

	"github.com/replydesk/internal/inbox"
)

// NoSubject replaces a missing or blank Subject header.
const NoSubject = "(no subject)"

var errBodyFound = errors.New("body found")

// ParseMessage reads an RFC 5322 message. The body is the first text/plain
// part, or the whole body of a single-part message, with invalid UTF-8 dropped.
func ParseMessage(r io.Reader) (inbox.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return inbox.Message{}, fmt.Errorf("parse message: %w", err)
	}

	header := gomessagemail.Header{Header: entity.Header}
	msg := inbox.Message{
		From:    fromAddress(header),
		Subject: NoSubject,
	}
	if subject, err := header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		msg.Subject = strings.TrimSpace(subject)
	}
	if id, err := header.MessageID(); err == nil && id != "" {
		msg.MessageID = "<" + id + ">"
	}

	body, err := plainBody(entity)
	if err != nil {
		return inbox.Message{}, err
	}
	msg.Body = strings.TrimSpace(strings.ToValidUTF8(body, ""))
	return msg, nil
}

func fromAddress(header gomessagemail.Header) string {
	addrs, err := header.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	// Fall back to the raw header for senders that do not parse as RFC 5322.
	return strings.TrimSpace(header.Get("From"))
}

func plainBody(entity *message.Entity) (string, error) {
	if entity.MultipartReader() == nil {
		return readAll(entity.Body)
	}

	var body string
	err := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			if message.IsUnknownCharset(err) {
				return nil
			}
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		if mediaType != "text/plain" || isAttachment(part.Header) {
			return nil
		}
		text, err := readAll(part.Body)
		if err != nil {
			return err
		}
		body = text
		return errBodyFound
	})
	if err != nil && !errors.Is(err, errBodyFound) {
		return "", fmt.Errorf("walk message parts: %w", err)
	}
	return body, nil
}

func isAttachment(h message.Header) bool {
	disposition, _, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	return err == nil && disposition == "attachment"
}

func readAll(r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return buf.String(), nil
}
