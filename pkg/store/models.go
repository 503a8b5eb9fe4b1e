package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;index"`
	Verified     bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time

	Applicant *ApplicantModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Files     []FileModel     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

type ApplicantModel struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"uniqueIndex;not null"`
	FirstNames   string    `gorm:"size:100;not null"`
	LastNames    string    `gorm:"size:100;not null"`
	BirthDate    time.Time `gorm:"type:date;not null"`
	DNI          string    `gorm:"size:20"`
	State        string    `gorm:"size:20;not null;index"`
	RegisteredAt time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time
}

type FileModel struct {
	ID           string         `gorm:"primaryKey"`
	UserID       string         `gorm:"not null;index"`
	OriginalName string         `gorm:"size:255;not null"`
	StoredName   string         `gorm:"size:255;not null"`
	Extension    string         `gorm:"size:10;not null"`
	MimeType     string         `gorm:"size:100;not null"`
	Location     string         `gorm:"size:1024;not null"`
	SizeBytes    int64          `gorm:"not null"`
	ResourceType string         `gorm:"size:10;not null"`
	Metadata     datatypes.JSON
	UploadedAt   time.Time      `gorm:"not null;index"`
}

type applicantRow struct {
	ApplicantModel
	Email    string
	Verified bool
}

type fileRow struct {
	FileModel
	OwnerEmail string
}
