package mail

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"
)

func TestPlainTextStripsMarkup(t *testing.T) {
	got, err := PlainText(`<html><head><style>p{}</style></head><body><h2>Hola</h2><p>Tu código es <b>012345</b></p><script>x()</script></body></html>`)
	if err != nil {
		t.Fatalf("plain text: %v", err)
	}
	if got != "Hola\nTu código es 012345" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestVerificationMessageCarriesCode(t *testing.T) {
	msg, err := VerificationMessage("ana@example.com", "004217")
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.To != "ana@example.com" || !strings.Contains(msg.HTML, "004217") {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestBuildMessageIsMultipartAlternative(t *testing.T) {
	msg, _ := VerificationMessage("ana@example.com", "123456")
	raw, err := buildMessage("portal@example.com", msg, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if parsed.Header.Get("To") != "ana@example.com" {
		t.Fatalf("unexpected To header %q", parsed.Header.Get("To"))
	}
	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil || subject != "Código de verificación" {
		t.Fatalf("unexpected subject %q err=%v", subject, err)
	}
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("unexpected content type %q err=%v", mediaType, err)
	}
	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var types []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		body, _ := io.ReadAll(part)
		if !strings.Contains(string(body), "123456") {
			t.Fatalf("part %s missing code", part.Header.Get("Content-Type"))
		}
		types = append(types, part.Header.Get("Content-Type"))
	}
	if len(types) != 2 || !strings.HasPrefix(types[0], "text/plain") || !strings.HasPrefix(types[1], "text/html") {
		t.Fatalf("unexpected parts: %v", types)
	}
}

func TestNewSMTPSenderValidates(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{}); err == nil {
		t.Fatalf("expected error without host")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatalf("expected error without sender address")
	}
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Username: "portal@example.com"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if s.cfg.Port != 587 || s.cfg.From != "portal@example.com" || s.cfg.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", s.cfg)
	}
}
