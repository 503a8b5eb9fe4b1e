package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"applyportal/internal/util"
	"applyportal/pkg/auth"
	"applyportal/pkg/domain"
	"applyportal/pkg/events"
	"applyportal/pkg/storage"
	"applyportal/pkg/store"
	"applyportal/services/portal/internal/verification"
)

// RegistrationResult reports a completed registration. MailErr is set when
// the verification email could not be delivered; the account still exists.
type RegistrationResult struct {
	User      domain.User
	Applicant domain.Applicant
	File      *domain.File
	MailErr   error
}

// Register validates the form, stores the optional attachment, creates the
// user, applicant and file records in one transaction and issues a
// verification code into h.
func (a *App) Register(ctx context.Context, h verification.Holder, form RegistrationForm, upload *storage.Upload) (RegistrationResult, error) {
	form.normalize()
	if err := a.validateForm(&form); err != nil {
		return RegistrationResult{}, err
	}
	exists, err := a.store.HasUserEmail(form.Email)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return RegistrationResult{}, duplicateEmail()
	}
	if upload != nil {
		if err := storage.ValidateFile(upload.Filename, upload.Size); err != nil {
			return RegistrationResult{}, &ValidationError{Field: "archivo", Message: err.Error(), Err: err}
		}
	}

	birth, _ := parseBirthDate(form.BirthDate)
	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        form.Email,
		PasswordHash: hash,
		Role:         domain.RoleApplicant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	applicant := domain.Applicant{
		ID:           util.NewID(),
		UserID:       user.ID,
		FirstNames:   form.FirstNames,
		LastNames:    form.LastNames,
		BirthDate:    birth,
		DNI:          form.DNI,
		State:        domain.StatePending,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	var files []domain.File
	if upload != nil {
		obj, err := a.files.Save(ctx, *upload)
		if err != nil {
			return RegistrationResult{}, fmt.Errorf("store attachment: %w", err)
		}
		files = append(files, fileRecord(user.ID, upload.Filename, obj, now))
	}

	if err := a.store.CreateApplicant(user, applicant, files...); err != nil {
		for _, f := range files {
			a.discardBlob(ctx, f.Location)
		}
		if errors.Is(err, store.ErrDuplicateEmail) {
			return RegistrationResult{}, duplicateEmail()
		}
		return RegistrationResult{}, fmt.Errorf("create applicant: %w", err)
	}

	res := RegistrationResult{User: user, Applicant: applicant}
	if len(files) > 0 {
		res.File = &files[0]
	}
	a.publish(ctx, events.TypeApplicantRegistered, map[string]string{
		"user_id":      user.ID,
		"applicant_id": applicant.ID,
		"email":        user.Email,
	})
	if err := a.verifier.Issue(ctx, h, user.Email); err != nil {
		util.LoggerFromContext(ctx).Warn("verification mail failed", "user_id", user.ID, "err", err)
		res.MailErr = err
	}
	return res, nil
}

func duplicateEmail() *ValidationError {
	return &ValidationError{Field: "correo", Message: "el correo ya está registrado", Err: store.ErrDuplicateEmail}
}

func fileRecord(userID, original string, obj storage.Object, now time.Time) domain.File {
	ext := obj.Format
	if ext == "" {
		ext = storage.Extension(original)
	}
	return domain.File{
		ID:           util.NewID(),
		UserID:       userID,
		OriginalName: strings.TrimSpace(original),
		StoredName:   obj.StoredName,
		Extension:    ext,
		MimeType:     obj.ContentType,
		Location:     obj.Location,
		SizeBytes:    obj.Size,
		ResourceType: obj.ResourceType,
		Metadata:     obj.Metadata,
		UploadedAt:   now,
	}
}

// discardBlob removes bytes whose metadata could not be saved.
func (a *App) discardBlob(ctx context.Context, location string) {
	if err := a.files.Delete(ctx, location); err != nil {
		util.LoggerFromContext(ctx).Warn("orphaned upload", "location", location, "err", err)
	}
}
