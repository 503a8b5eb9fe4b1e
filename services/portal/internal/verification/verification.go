package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"applyportal/pkg/mail"
)

const codeLength = 6

var (
	ErrNoChallenge    = errors.New("no verification pending")
	ErrCodeMismatch   = errors.New("verification code mismatch")
	ErrUnknownEmail   = errors.New("no account for pending email")
	ErrDeliveryFailed = errors.New("verification email delivery failed")
)

// Holder keeps the pending challenge between requests. The portal session
// implements it.
type Holder interface {
	SetChallenge(email, codeHash string)
	Challenge() (email, codeHash string, ok bool)
	ClearChallenge()
}

// Marker flips the persisted verified flag.
type Marker interface {
	MarkVerified(email string) (bool, error)
}

// Service issues and checks one-time email codes.
type Service struct {
	sender  mail.Sender
	users   Marker
	newCode func() (string, error)
}

// New builds a verification service.
func New(sender mail.Sender, users Marker) *Service {
	if sender == nil {
		sender = mail.NopSender{}
	}
	return &Service{
		sender:  sender,
		users:   users,
		newCode: func() (string, error) { return GenerateCode(codeLength) },
	}
}

// Issue stores a fresh code for email in h and mails it. The challenge is
// committed before delivery, so a delivery failure still leaves a usable
// challenge for a resend.
func (s *Service) Issue(ctx context.Context, h Holder, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("email is required")
	}
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	h.SetChallenge(email, string(hash))

	msg, err := mail.VerificationMessage(email, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Check compares code with the pending challenge. On a match the account is
// marked verified and the challenge cleared; on a mismatch the challenge is
// kept for another attempt.
func (s *Service) Check(_ context.Context, h Holder, code string) (string, error) {
	email, hash, ok := h.Challenge()
	if !ok {
		return "", ErrNoChallenge
	}
	code = strings.TrimSpace(code)
	if code == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return email, ErrCodeMismatch
	}
	found, err := s.users.MarkVerified(email)
	if err != nil {
		return email, fmt.Errorf("mark verified: %w", err)
	}
	h.ClearChallenge()
	if !found {
		return email, ErrUnknownEmail
	}
	return email, nil
}

// Pending reports the email awaiting verification, if any.
func Pending(h Holder) (string, bool) {
	email, _, ok := h.Challenge()
	return email, ok
}

// GenerateCode returns length uniformly random decimal digits.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = codeLength
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
