package output

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"

	"github.com/wingheights/wingsite/internal/config"
)

type capturedMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	raw  []byte
}

func newCapturingEmail(t *testing.T, cfg config.EmailConfig) (*EmailOutput, *capturedMail) {
	t.Helper()
	got := &capturedMail{}
	out, err := NewEmailOutput(cfg, WithSendFunc(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		*got = capturedMail{addr: addr, auth: auth, from: from, to: to, raw: msg}
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out, got
}

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		Username: "bookings@example.com",
		Password: "secret",
		From:     "Wing Heights <bookings@example.com>",
		To:       "support@example.com",
	}
}

func TestNewEmailOutput(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.EmailConfig
		errContains string
	}{
		{
			name:        "empty to",
			cfg:         config.EmailConfig{Username: "a@example.com"},
			errContains: "recipient",
		},
		{
			name:        "no sender",
			cfg:         config.EmailConfig{To: "support@example.com"},
			errContains: "sender",
		},
		{
			name: "sender defaults to username",
			cfg:  config.EmailConfig{Username: "a@example.com", To: "support@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewEmailOutput(tt.cfg)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Name() != "email" {
				t.Errorf("expected name 'email', got %q", out.Name())
			}
			if out.To() != "support@example.com" {
				t.Errorf("unexpected recipient %q", out.To())
			}
		})
	}
}

func TestEmailOutput_SendEnvelope(t *testing.T) {
	out, got := newCapturingEmail(t, testEmailConfig())

	if err := out.Send(context.Background(), Message{Subject: "Hello", Text: "body"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.addr != "smtp.gmail.com:465" {
		t.Errorf("expected default gmail address, got %q", got.addr)
	}
	if got.auth == nil {
		t.Error("expected PLAIN auth with credentials")
	}
	if got.from != "bookings@example.com" {
		t.Errorf("envelope sender should drop the display name, got %q", got.from)
	}
	if len(got.to) != 1 || got.to[0] != "support@example.com" {
		t.Errorf("unexpected recipients %v", got.to)
	}
}

func TestEmailOutput_SendMultipart(t *testing.T) {
	out, got := newCapturingEmail(t, testEmailConfig())

	invite := []byte("BEGIN:VCALENDAR\r\nMETHOD:REQUEST\r\nEND:VCALENDAR\r\n")
	err := out.Send(context.Background(), Message{
		Subject:  "New Insurance Quote Appointment - Ama Mensah",
		Text:     "Name: Ama Mensah",
		HTML:     "<p>Name: Ama Mensah</p>",
		Calendar: invite,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(got.raw))
	if err != nil {
		t.Fatalf("message does not parse: %v", err)
	}
	if s := msg.Header.Get("Subject"); s != "New Insurance Quote Appointment - Ama Mensah" {
		t.Errorf("unexpected subject %q", s)
	}
	if msg.Header.Get("Message-ID") == "" {
		t.Error("expected a Message-ID")
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/mixed" {
		t.Fatalf("expected multipart/mixed, got %q (%v)", mediaType, err)
	}

	mixed := multipart.NewReader(msg.Body, params["boundary"])
	first, err := mixed.NextPart()
	if err != nil {
		t.Fatalf("missing body part: %v", err)
	}
	altType, altParams, _ := mime.ParseMediaType(first.Header.Get("Content-Type"))
	if altType != "multipart/alternative" {
		t.Fatalf("expected multipart/alternative, got %q", altType)
	}

	var types []string
	alt := multipart.NewReader(first, altParams["boundary"])
	for {
		p, err := alt.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("reading alternative: %v", err)
		}
		ct, ctParams, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		if ct == "text/calendar" && ctParams["method"] != "REQUEST" {
			t.Errorf("calendar part needs method=REQUEST, got %v", ctParams)
		}
		body, _ := io.ReadAll(p)
		if ct == "text/html" && !strings.Contains(string(body), "<p>Name: Ama Mensah</p>") {
			t.Errorf("unexpected html body %q", body)
		}
		types = append(types, ct)
	}
	want := []string{"text/plain", "text/html", "text/calendar"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("expected parts %v, got %v", want, types)
	}

	attachment, err := mixed.NextPart()
	if err != nil {
		t.Fatalf("missing invite attachment: %v", err)
	}
	if attachment.FileName() != "appointment.ics" {
		t.Errorf("expected appointment.ics, got %q", attachment.FileName())
	}
}

func TestEmailOutput_SendError(t *testing.T) {
	out, err := NewEmailOutput(testEmailConfig(), WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = out.Send(context.Background(), Message{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}

func TestEmailOutput_SendCancelled(t *testing.T) {
	out, got := newCapturingEmail(t, testEmailConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := out.Send(ctx, Message{Text: "hi"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got.raw != nil {
		t.Error("nothing should be sent")
	}
}

func TestAddressOnly(t *testing.T) {
	tests := map[string]string{
		"Wing Heights <bookings@example.com>": "bookings@example.com",
		"bookings@example.com":                "bookings@example.com",
		" not an address ":                    "not an address",
	}
	for in, want := range tests {
		if got := addressOnly(in); got != want {
			t.Errorf("addressOnly(%q) = %q, want %q", in, got, want)
		}
	}
}
