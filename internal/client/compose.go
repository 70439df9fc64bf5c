package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/greeddj/mailbridge-go/internal/apperr"
)

// Sender delivers a composed RFC 5322 message.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// draft is an outgoing plain-text message.
type draft struct {
	From       string
	To         []string
	Cc         []string
	Subject    string
	Body       string
	Date       time.Time
	InReplyTo  string   // Message-ID of the parent, with or without angle brackets.
	References []string // Parent's References, oldest first.
}

// compose renders d with go-message and returns the bytes plus the new Message-ID.
func compose(d draft) ([]byte, string, error) {
	from, err := mail.ParseAddress(d.From)
	if err != nil {
		return nil, "", apperr.InvalidArgument("sender address %q: %v", d.From, err)
	}
	to, err := parseAddresses(d.To)
	if err != nil {
		return nil, "", err
	}
	if len(to) == 0 {
		return nil, "", apperr.InvalidArgument("at least one recipient is required")
	}
	cc, err := parseAddresses(d.Cc)
	if err != nil {
		return nil, "", err
	}

	var h mail.Header
	h.SetDate(d.Date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(d.Subject)

	domain := "mailbridge.local"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 && at < len(from.Address)-1 {
		domain = from.Address[at+1:]
	}
	msgID := uuid.NewString() + "@" + domain
	h.SetMessageID(msgID)

	if parent := strings.Trim(d.InReplyTo, "<> "); parent != "" {
		refs := make([]string, 0, len(d.References)+1)
		for _, r := range d.References {
			if r = strings.Trim(r, "<> "); r != "" && r != parent {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("In-Reply-To", []string{parent})
		h.SetMsgIDList("References", append(refs, parent))
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, d.Body); err != nil {
		return nil, "", fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing message body: %w", err)
	}
	return buf.Bytes(), "<" + msgID + ">", nil
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, apperr.InvalidArgument("recipient %q: %v", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// SMTP sends mail with net/smtp over implicit TLS or STARTTLS.
type SMTP struct {
	Addr     string // host:port
	Username string
	Password string
	TLS      bool // Implicit TLS (port 465); otherwise STARTTLS when offered.
	Timeout  time.Duration
}

var _ Sender = (*SMTP)(nil)

// Send implements Sender.
func (s *SMTP) Send(ctx context.Context, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("smtp address %q: %w", s.Addr, err)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	if s.TLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}).DialContext(ctx, "tcp", s.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.Addr)
	}
	if err != nil {
		return fmt.Errorf("dial to %s: %w", s.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !s.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("SMTP STARTTLS: %w", err)
			}
		}
	}
	if s.Username != "" {
		auth := smtp.PlainAuth("", s.Username, s.Password, host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	return deliver(client, from, to, msg)
}

// deliver sends msg using an already-authenticated client.
func deliver(client *smtp.Client, from string, to []string, msg []byte) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
