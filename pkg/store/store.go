package store

import (
	"errors"

	"applyportal/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a user with the same email exists.
	ErrDuplicateEmail = errors.New("email already registered")
	ErrNotFound       = errors.New("record not found")
)

// Store defines persistence operations for users, applicants and files.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	MarkVerified(email string) (bool, error)
	ListUsers(role domain.UserRole) ([]domain.User, error)
	UserCount(role domain.UserRole) (int, error)
	DeleteUser(id string) ([]domain.File, error)

	// applicants
	CreateApplicant(user domain.User, applicant domain.Applicant, files ...domain.File) error
	GetApplicant(id string) (domain.Applicant, bool, error)
	GetApplicantByUser(userID string) (domain.Applicant, bool, error)
	UpdateApplicantProfile(domain.Applicant) error
	SetApplicantState(id string, state domain.ReviewState) error
	ListApplicants() ([]domain.ApplicantView, error)
	ApplicantCountByState() (map[domain.ReviewState]int, error)

	// files
	SaveFile(domain.File) error
	GetFile(id string) (domain.File, bool, error)
	ListFilesByUser(userID string) ([]domain.File, error)
	ListFiles(limit int) ([]domain.FileView, error)
	FileCount() (int, error)
	DeleteFile(id string) error
}
