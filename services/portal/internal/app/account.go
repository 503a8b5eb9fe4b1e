package app

import (
	"context"
	"errors"
	"fmt"

	"applyportal/pkg/auth"
	"applyportal/pkg/domain"
	"applyportal/pkg/events"
	"applyportal/services/portal/internal/verification"
)

// Login checks credentials. A matching password on an unverified account
// returns the user together with ErrNotVerified.
func (a *App) Login(email, password string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.Verified {
		return user, ErrNotVerified
	}
	return user, nil
}

// StartVerification issues a fresh code for email into h.
func (a *App) StartVerification(ctx context.Context, h verification.Holder, email string) error {
	return a.verifier.Issue(ctx, h, email)
}

// ResendCode re-issues a code for the pending email in h.
func (a *App) ResendCode(ctx context.Context, h verification.Holder) (string, error) {
	email, ok := verification.Pending(h)
	if !ok {
		return "", verification.ErrNoChallenge
	}
	return email, a.verifier.Issue(ctx, h, email)
}

// PendingVerification reports the email awaiting a code, if any.
func (a *App) PendingVerification(h verification.Holder) (string, bool) {
	return verification.Pending(h)
}

// Verify checks code against the pending challenge and marks the account
// verified on success.
func (a *App) Verify(ctx context.Context, h verification.Holder, code string) (string, error) {
	email, err := a.verifier.Check(ctx, h, code)
	if err != nil {
		return email, err
	}
	a.publish(ctx, events.TypeApplicantVerified, map[string]string{"email": email})
	return email, nil
}

// CurrentUser resolves a session user id.
func (a *App) CurrentUser(id string) (domain.User, bool, error) {
	if id == "" {
		return domain.User{}, false, nil
	}
	return a.store.GetUserByID(id)
}

// Profile returns the applicant profile owned by user.
func (a *App) Profile(user domain.User) (domain.Applicant, error) {
	applicant, ok, err := a.store.GetApplicantByUser(user.ID)
	if err != nil {
		return domain.Applicant{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return domain.Applicant{}, ErrNotFound
	}
	return applicant, nil
}

// UpdateProfile validates and saves the owner-editable profile fields.
func (a *App) UpdateProfile(user domain.User, form ProfileForm) (domain.Applicant, error) {
	form.normalize()
	if err := a.validateForm(&form); err != nil {
		return domain.Applicant{}, err
	}
	applicant, err := a.Profile(user)
	if err != nil {
		return domain.Applicant{}, err
	}
	birth, _ := parseBirthDate(form.BirthDate)
	applicant.FirstNames = form.FirstNames
	applicant.LastNames = form.LastNames
	applicant.BirthDate = birth
	applicant.DNI = form.DNI
	if err := a.store.UpdateApplicantProfile(applicant); err != nil {
		return domain.Applicant{}, fmt.Errorf("update profile: %w", err)
	}
	return applicant, nil
}

// IsVerificationError reports whether err comes from the code checker and
// should be shown on the verification page.
func IsVerificationError(err error) bool {
	return errors.Is(err, verification.ErrCodeMismatch) ||
		errors.Is(err, verification.ErrNoChallenge) ||
		errors.Is(err, verification.ErrUnknownEmail)
}
