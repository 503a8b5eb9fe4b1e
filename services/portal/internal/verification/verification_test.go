package verification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"applyportal/pkg/mail"
)

type memHolder struct {
	email, hash string
}

func (h *memHolder) SetChallenge(email, hash string) { h.email, h.hash = email, hash }
func (h *memHolder) Challenge() (string, string, bool) {
	return h.email, h.hash, h.email != "" && h.hash != ""
}
func (h *memHolder) ClearChallenge() { h.email, h.hash = "", "" }

type recordingSender struct {
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m mail.Message) error {
	s.sent = append(s.sent, m)
	return s.err
}

type fakeUsers struct {
	verified map[string]bool
}

func (f *fakeUsers) MarkVerified(email string) (bool, error) {
	if _, ok := f.verified[email]; !ok {
		return false, nil
	}
	f.verified[email] = true
	return true, nil
}

func newService(sender mail.Sender, users Marker, code string) *Service {
	s := New(sender, users)
	s.newCode = func() (string, error) { return code, nil }
	return s
}

func TestIssueAndCheckVerifies(t *testing.T) {
	sender := &recordingSender{}
	users := &fakeUsers{verified: map[string]bool{"ana@example.com": false}}
	svc := newService(sender, users, "042917")
	h := &memHolder{}

	if err := svc.Issue(context.Background(), h, "Ana@Example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].HTML, "042917") {
		t.Fatalf("expected mailed code, got %+v", sender.sent)
	}
	if h.hash == "042917" {
		t.Fatalf("code must not be stored in clear text")
	}

	email, err := svc.Check(context.Background(), h, " 042917 ")
	if err != nil || email != "ana@example.com" {
		t.Fatalf("check: email=%q err=%v", email, err)
	}
	if !users.verified["ana@example.com"] {
		t.Fatalf("user should be verified")
	}
	if _, ok := Pending(h); ok {
		t.Fatalf("challenge should be cleared")
	}
}

func TestCheckMismatchKeepsChallenge(t *testing.T) {
	users := &fakeUsers{verified: map[string]bool{"a@example.com": false}}
	svc := newService(&recordingSender{}, users, "111111")
	h := &memHolder{}
	if err := svc.Issue(context.Background(), h, "a@example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Check(context.Background(), h, "222222"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if users.verified["a@example.com"] {
		t.Fatalf("mismatch must not verify")
	}
	if _, err := svc.Check(context.Background(), h, "111111"); err != nil {
		t.Fatalf("retry with correct code should succeed: %v", err)
	}
}

func TestCheckWithoutChallenge(t *testing.T) {
	svc := newService(&recordingSender{}, &fakeUsers{verified: map[string]bool{}}, "000000")
	if _, err := svc.Check(context.Background(), &memHolder{}, "000000"); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("expected no challenge, got %v", err)
	}
}

func TestIssueDeliveryFailureKeepsChallenge(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := newService(sender, &fakeUsers{verified: map[string]bool{"b@example.com": false}}, "123123")
	h := &memHolder{}
	err := svc.Issue(context.Background(), h, "b@example.com")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if email, ok := Pending(h); !ok || email != "b@example.com" {
		t.Fatalf("challenge should be committed before delivery")
	}
}

func TestReissueReplacesCode(t *testing.T) {
	users := &fakeUsers{verified: map[string]bool{"c@example.com": false}}
	svc := newService(&recordingSender{}, users, "111111")
	h := &memHolder{}
	_ = svc.Issue(context.Background(), h, "c@example.com")
	svc.newCode = func() (string, error) { return "999999", nil }
	_ = svc.Issue(context.Background(), h, "c@example.com")
	if _, err := svc.Check(context.Background(), h, "111111"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("old code must stop working, got %v", err)
	}
	if _, err := svc.Check(context.Background(), h, "999999"); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}
}

func TestCheckUnknownEmail(t *testing.T) {
	svc := newService(&recordingSender{}, &fakeUsers{verified: map[string]bool{}}, "555555")
	h := &memHolder{}
	_ = svc.Issue(context.Background(), h, "gone@example.com")
	if _, err := svc.Check(context.Background(), h, "555555"); !errors.Is(err, ErrUnknownEmail) {
		t.Fatalf("expected unknown email, got %v", err)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("unexpected code %q", code)
		}
	}
}
