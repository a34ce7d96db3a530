package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wingheights/wingsite/internal/config"
)

// implicitTLSPort is the SMTPS port; other ports use STARTTLS via SendMail.
const implicitTLSPort = 465

// SendFunc delivers a raw RFC 5322 message. It has the signature of
// smtp.SendMail so tests can capture messages.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailOutput sends notifications via SMTP email.
type EmailOutput struct {
	to       string
	from     string
	smtpHost string
	smtpPort int
	username string
	password string
	send     SendFunc
	now      func() time.Time
}

// EmailOption configures an EmailOutput.
type EmailOption func(*EmailOutput)

// WithSendFunc replaces the SMTP delivery function.
func WithSendFunc(fn SendFunc) EmailOption {
	return func(e *EmailOutput) { e.send = fn }
}

// NewEmailOutput creates an email output from the SMTP settings.
func NewEmailOutput(cfg config.EmailConfig, opts ...EmailOption) (*EmailOutput, error) {
	if cfg.To == "" {
		return nil, fmt.Errorf("email recipient (to) is required")
	}
	from := cfg.GetFrom()
	if from == "" {
		return nil, fmt.Errorf("sender email (from) is required")
	}

	e := &EmailOutput{
		to:       cfg.To,
		from:     from,
		smtpHost: cfg.GetHost(),
		smtpPort: cfg.GetPort(),
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
	}
	e.send = e.deliver
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns "email".
func (e *EmailOutput) Name() string {
	return "email"
}

// Send delivers msg to the configured recipient.
func (e *EmailOutput) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := e.compose(msg)
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// smtp.SendMail doesn't take a context; the dialer below has a timeout.
	addr := net.JoinHostPort(e.smtpHost, strconv.Itoa(e.smtpPort))
	if err := e.send(addr, auth, addressOnly(e.from), []string{addressOnly(e.to)}, raw); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Close is a no-op for email output.
func (e *EmailOutput) Close() error {
	return nil
}

// To returns the configured recipient address.
func (e *EmailOutput) To() string {
	return e.to
}

// deliver sends over implicit TLS on port 465 and falls back to
// smtp.SendMail (STARTTLS when offered) on other ports.
func (e *EmailOutput) deliver(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if e.smtpPort != implicitTLSPort {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// compose renders msg as multipart/mixed holding a multipart/alternative
// body (text, HTML, calendar) followed by the attachments.
func (e *EmailOutput) compose(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	header := []string{
		"From: " + e.from,
		"To: " + e.to,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + e.now().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@" + e.smtpHost + ">",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + mixed.Boundary(),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(header, "\r\n"))
	out.WriteString("\r\n\r\n")

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeText(altWriter, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeText(altWriter, "text/html; charset=UTF-8", msg.HTML); err != nil {
			return nil, err
		}
	}
	if len(msg.Calendar) > 0 {
		if err := writeText(altWriter, "text/calendar; charset=UTF-8; method=REQUEST", string(msg.Calendar)); err != nil {
			return nil, err
		}
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + altWriter.Boundary()},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	attachments := msg.Attachments
	if len(msg.Calendar) > 0 {
		attachments = append([]Attachment{{
			Filename:    "appointment.ics",
			ContentType: "application/ics",
			Data:        msg.Calendar,
		}}, attachments...)
	}
	for _, a := range attachments {
		if err := writeAttachment(mixed, a); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func writeText(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(w *multipart.Writer, a Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(contentType, map[string]string{"name": a.Filename})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(a.Data)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded + "\r\n"))
	return err
}

// addressOnly strips a display name: "Wing Heights <a@b>" becomes "a@b".
func addressOnly(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		return parsed.Address
	}
	return strings.TrimSpace(addr)
}
