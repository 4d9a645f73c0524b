package escalation

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/nugget/switchboard/internal/config"
	"github.com/yuin/goldmark"
)

const smtpDialTimeout = 30 * time.Second

// sendFunc delivers a composed message.
type sendFunc func(ctx context.Context, cfg config.EmailConfig, msg []byte) error

// EmailNotifier mails tickets to the support team.
type EmailNotifier struct {
	cfg    config.EmailConfig
	send   sendFunc
	logger *slog.Logger
}

// NewEmailNotifier creates an EmailNotifier delivering over SMTP.
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{cfg: cfg, send: sendSMTP, logger: logger.With("notifier", "email")}
}

// Notify implements Notifier.
func (e *EmailNotifier) Notify(ctx context.Context, t Ticket) error {
	msg, err := composeNotice(e.cfg.From, e.cfg.To, t)
	if err != nil {
		return err
	}
	if err := e.send(ctx, e.cfg, msg); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	e.logger.Info("escalation mailed", "ticket_id", t.ID, "recipients", len(e.cfg.To))
	return nil
}

// composeNotice builds a multipart/alternative message with the notice
// as plain markdown and rendered HTML.
func composeNotice(from string, to []string, t Ticket) ([]byte, error) {
	var h mail.Header
	h.SetDate(t.CreatedAt)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(fmt.Sprintf("[%s] Support escalation: %s", t.ID, t.Reason.Describe()))

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, a := range to {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	body := FormatNotice(t)
	var htmlBody bytes.Buffer
	if err := goldmark.Convert([]byte(body), &htmlBody); err != nil {
		return nil, fmt.Errorf("render markdown to HTML: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if err := writePart(tw, "text/plain; charset=utf-8", body); err != nil {
		return nil, err
	}
	html := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head>\n<body style=\"font-family: sans-serif; font-size: 14px; line-height: 1.5;\">\n" +
		htmlBody.String() + "</body></html>"
	if err := writePart(tw, "text/html; charset=utf-8", html); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, content string) error {
	var ph mail.InlineHeader
	ph.Set("Content-Type", contentType)
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, content); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

// sendSMTP opens one connection per message. StartTLS selects
// submission with upgrade; otherwise the connection is TLS from the
// start.
func sendSMTP(ctx context.Context, cfg config.EmailConfig, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if cfg.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range cfg.To {
		a, err := mail.ParseAddress(rcpt)
		if err != nil {
			return fmt.Errorf("parse recipient %q: %w", rcpt, err)
		}
		if err := client.Rcpt(a.Address); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", a.Address, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}
