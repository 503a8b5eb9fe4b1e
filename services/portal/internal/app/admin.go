package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"applyportal/internal/util"
	"applyportal/pkg/auth"
	"applyportal/pkg/domain"
	"applyportal/pkg/events"
	"applyportal/pkg/store"
)

const recentUploads = 5

// DashboardStats summarises the review console landing page.
type DashboardStats struct {
	Users          int
	Admins         int
	Applicants     int
	ByState        map[domain.ReviewState]int
	Files          int
	RecentUploads  []domain.FileView
	StorageBackend string
}

// Dashboard gathers the console counters concurrently.
func (a *App) Dashboard(ctx context.Context) (DashboardStats, error) {
	stats := DashboardStats{StorageBackend: a.files.Kind()}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.UserCount("")
		stats.Users = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.UserCount(domain.RoleAdmin)
		stats.Admins = n
		return err
	})
	g.Go(func() error {
		counts, err := a.store.ApplicantCountByState()
		stats.ByState = counts
		return err
	})
	g.Go(func() error {
		n, err := a.store.FileCount()
		stats.Files = n
		return err
	})
	g.Go(func() error {
		recent, err := a.store.ListFiles(recentUploads)
		stats.RecentUploads = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard: %w", err)
	}
	for _, n := range stats.ByState {
		stats.Applicants += n
	}
	return stats, nil
}

// ListUsers returns users, optionally filtered by role. An unknown role
// filter lists everyone.
func (a *App) ListUsers(role string) ([]domain.User, error) {
	r, _ := domain.ParseUserRole(role)
	return a.store.ListUsers(r)
}

// ListApplicants returns applicants joined with their email.
func (a *App) ListApplicants() ([]domain.ApplicantView, error) {
	return a.store.ListApplicants()
}

// ListAllFiles returns every file, newest first.
func (a *App) ListAllFiles() ([]domain.FileView, error) {
	return a.store.ListFiles(0)
}

// SetApplicantState moves an applicant to pending, approved or rejected.
// Any other value leaves the state untouched and returns ErrInvalidState.
func (a *App) SetApplicantState(ctx context.Context, applicantID, value string) (domain.ReviewState, error) {
	state, ok := domain.ParseReviewState(value)
	if !ok {
		return "", ErrInvalidState
	}
	if err := a.store.SetApplicantState(applicantID, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("set state: %w", err)
	}
	a.publish(ctx, events.TypeReviewStateChanged, map[string]string{
		"applicant_id": applicantID,
		"state":        string(state),
	})
	return state, nil
}

// DeleteUser removes a user with their profile and files, then removes the
// stored bytes best-effort.
func (a *App) DeleteUser(ctx context.Context, actor domain.User, userID string) (domain.User, error) {
	if actor.ID == userID {
		return domain.User{}, ErrSelfDelete
	}
	target, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	removed, err := a.store.DeleteUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("delete user: %w", err)
	}
	for _, f := range removed {
		a.discardBlob(ctx, f.Location)
	}
	a.publish(ctx, events.TypeUserDeleted, map[string]string{"user_id": userID, "email": target.Email})
	return target, nil
}

// CreateAdmin registers a verified administrator account.
func (a *App) CreateAdmin(form AdminForm) (domain.User, error) {
	form.Email = domain.NormalizeEmail(form.Email)
	if err := a.validateForm(&form); err != nil {
		return domain.User{}, err
	}
	exists, err := a.store.HasUserEmail(form.Email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, duplicateEmail()
	}
	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        form.Email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, duplicateEmail()
		}
		return domain.User{}, err
	}
	return user, nil
}
