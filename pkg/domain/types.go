package domain

import (
	"regexp"
	"strings"
	"time"
)

type UserRole string

const (
	RoleApplicant UserRole = "applicant"
	RoleAdmin     UserRole = "admin"
)

type ReviewState string

const (
	StatePending  ReviewState = "pending"
	StateApproved ReviewState = "approved"
	StateRejected ReviewState = "rejected"
)

// ResourceType is the media category of an uploaded file.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user bypasses ownership checks.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Applicant struct {
	ID           string      `json:"id"`
	UserID       string      `json:"userId"`
	FirstNames   string      `json:"firstNames"`
	LastNames    string      `json:"lastNames"`
	BirthDate    time.Time   `json:"birthDate"`
	DNI          string      `json:"dni,omitempty"`
	State        ReviewState `json:"state"`
	RegisteredAt time.Time   `json:"registeredAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// ApplicantView is an applicant joined with its owning user.
type ApplicantView struct {
	Applicant
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

type File struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	OriginalName string            `json:"originalName"`
	StoredName   string            `json:"storedName"`
	Extension    string            `json:"extension"`
	MimeType     string            `json:"mimeType"`
	Location     string            `json:"-"`
	SizeBytes    int64             `json:"sizeBytes"`
	ResourceType ResourceType      `json:"resourceType"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UploadedAt   time.Time         `json:"uploadedAt"`
}

// IsRemote reports whether the file bytes live in the remote object store.
func (f File) IsRemote() bool {
	return IsRemoteLocation(f.Location)
}

// FileView is a file joined with its owner's email.
type FileView struct {
	File
	OwnerEmail string `json:"ownerEmail"`
}

// IsRemoteLocation reports whether a stored location is a remote URL rather
// than a local filesystem path.
func IsRemoteLocation(location string) bool {
	location = strings.ToLower(strings.TrimSpace(location))
	return strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://")
}

var dniPattern = regexp.MustCompile(`^[0-9]{8}$`)

// ValidDNI reports whether value is a national ID of exactly 8 digits.
func ValidDNI(value string) bool {
	return dniPattern.MatchString(value)
}

// ParseReviewState accepts only the three review states.
func ParseReviewState(value string) (ReviewState, bool) {
	switch ReviewState(value) {
	case StatePending:
		return StatePending, true
	case StateApproved:
		return StateApproved, true
	case StateRejected:
		return StateRejected, true
	default:
		return "", false
	}
}

// ParseUserRole accepts applicant or admin.
func ParseUserRole(value string) (UserRole, bool) {
	switch UserRole(strings.ToLower(strings.TrimSpace(value))) {
	case RoleApplicant:
		return RoleApplicant, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
