package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"applyportal/pkg/domain"
)

const migrateLockID int64 = 51803517

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs auto-migrations under an
// advisory lock so concurrent instances do not race.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDialector opens any GORM dialector (sqlite in tests) and
// migrates without the Postgres advisory lock.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func gormConfig() *gorm.Config {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{Logger: gormLog, TranslateError: true}
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserModel{}, &ApplicantModel{}, &FileModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUser inserts a new user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		return translateUserErr(err)
	}
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", domain.NormalizeEmail(email)).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", domain.NormalizeEmail(email)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// MarkVerified sets the verified flag for the user owning email. It reports
// whether a user matched.
func (s *GormStore) MarkVerified(email string) (bool, error) {
	res := s.db.Model(&UserModel{}).
		Where("email = ?", domain.NormalizeEmail(email)).
		Updates(map[string]any{
			"verified":   true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListUsers returns users ordered by created_at, optionally filtered by role.
func (s *GormStore) ListUsers(role domain.UserRole) ([]domain.User, error) {
	var models []UserModel
	q := s.db.Order("created_at ASC")
	if role != "" {
		q = q.Where("role = ?", string(role))
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users, optionally filtered by role.
func (s *GormStore) UserCount(role domain.UserRole) (int, error) {
	var count int64
	q := s.db.Model(&UserModel{})
	if role != "" {
		q = q.Where("role = ?", string(role))
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteUser removes a user with its applicant profile and file rows in one
// transaction. The deleted file records are returned so the caller can remove
// the stored bytes.
func (s *GormStore) DeleteUser(id string) ([]domain.File, error) {
	var removed []domain.File
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user UserModel
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var files []FileModel
		if err := tx.Where("user_id = ?", id).Find(&files).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&FileModel{}).Error; err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&ApplicantModel{}).Error; err != nil {
			return fmt.Errorf("delete applicant: %w", err)
		}
		if err := tx.Delete(&UserModel{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		removed = make([]domain.File, 0, len(files))
		for _, f := range files {
			removed = append(removed, fileFromModel(f))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CreateApplicant inserts the user, its applicant profile and any file
// metadata in a single transaction.
func (s *GormStore) CreateApplicant(user domain.User, applicant domain.Applicant, files ...domain.File) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		userModel := userToModel(user)
		if err := tx.Create(&userModel).Error; err != nil {
			return translateUserErr(err)
		}
		applicantModel := applicantToModel(applicant)
		if err := tx.Create(&applicantModel).Error; err != nil {
			return fmt.Errorf("create applicant: %w", err)
		}
		for _, f := range files {
			fileModel, err := fileToModel(f)
			if err != nil {
				return err
			}
			if err := tx.Create(&fileModel).Error; err != nil {
				return fmt.Errorf("create file: %w", err)
			}
		}
		return nil
	})
}

// GetApplicant returns an applicant by ID.
func (s *GormStore) GetApplicant(id string) (domain.Applicant, bool, error) {
	var model ApplicantModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Applicant{}, false, nil
		}
		return domain.Applicant{}, false, err
	}
	return applicantFromModel(model), true, nil
}

// GetApplicantByUser returns the applicant profile owned by userID.
func (s *GormStore) GetApplicantByUser(userID string) (domain.Applicant, bool, error) {
	var model ApplicantModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Applicant{}, false, nil
		}
		return domain.Applicant{}, false, err
	}
	return applicantFromModel(model), true, nil
}

// UpdateApplicantProfile persists the owner-editable fields.
func (s *GormStore) UpdateApplicantProfile(a domain.Applicant) error {
	res := s.db.Model(&ApplicantModel{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"first_names": a.FirstNames,
			"last_names":  a.LastNames,
			"birth_date":  a.BirthDate,
			"dni":         a.DNI,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetApplicantState updates the review state of an applicant.
func (s *GormStore) SetApplicantState(id string, state domain.ReviewState) error {
	res := s.db.Model(&ApplicantModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      string(state),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListApplicants returns applicants joined with their user, newest first.
func (s *GormStore) ListApplicants() ([]domain.ApplicantView, error) {
	var rows []applicantRow
	err := s.db.Table("applicant_models AS a").
		Select("a.*, u.email AS email, u.verified AS verified").
		Joins("JOIN user_models AS u ON u.id = a.user_id").
		Order("a.registered_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.ApplicantView, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.ApplicantView{
			Applicant: applicantFromModel(r.ApplicantModel),
			Email:     r.Email,
			Verified:  r.Verified,
		})
	}
	return res, nil
}

// ApplicantCountByState groups applicants by review state.
func (s *GormStore) ApplicantCountByState() (map[domain.ReviewState]int, error) {
	var rows []struct {
		State string
		Total int64
	}
	err := s.db.Model(&ApplicantModel{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[domain.ReviewState]int{
		domain.StatePending:  0,
		domain.StateApproved: 0,
		domain.StateRejected: 0,
	}
	for _, r := range rows {
		out[domain.ReviewState(r.State)] = int(r.Total)
	}
	return out, nil
}

// SaveFile inserts file metadata.
func (s *GormStore) SaveFile(f domain.File) error {
	model, err := fileToModel(f)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetFile returns file metadata by ID.
func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFilesByUser returns a user's files, newest first.
func (s *GormStore) ListFilesByUser(userID string) ([]domain.File, error) {
	var models []FileModel
	if err := s.db.Where("user_id = ?", userID).Order("uploaded_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// ListFiles returns files joined with their owner's email, newest first.
// A non-positive limit returns every file.
func (s *GormStore) ListFiles(limit int) ([]domain.FileView, error) {
	var rows []fileRow
	q := s.db.Table("file_models AS f").
		Select("f.*, u.email AS owner_email").
		Joins("JOIN user_models AS u ON u.id = f.user_id").
		Order("f.uploaded_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileView, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.FileView{File: fileFromModel(r.FileModel), OwnerEmail: r.OwnerEmail})
	}
	return res, nil
}

// FileCount returns the number of stored files.
func (s *GormStore) FileCount() (int, error) {
	var count int64
	if err := s.db.Model(&FileModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteFile removes file metadata.
func (s *GormStore) DeleteFile(id string) error {
	return s.db.Delete(&FileModel{}, "id = ?", id).Error
}

func translateUserErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return fmt.Errorf("create user: %w", err)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        domain.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Verified:     u.Verified,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Verified:     m.Verified,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func applicantToModel(a domain.Applicant) ApplicantModel {
	return ApplicantModel{
		ID:           a.ID,
		UserID:       a.UserID,
		FirstNames:   a.FirstNames,
		LastNames:    a.LastNames,
		BirthDate:    a.BirthDate,
		DNI:          a.DNI,
		State:        string(a.State),
		RegisteredAt: a.RegisteredAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func applicantFromModel(m ApplicantModel) domain.Applicant {
	return domain.Applicant{
		ID:           m.ID,
		UserID:       m.UserID,
		FirstNames:   m.FirstNames,
		LastNames:    m.LastNames,
		BirthDate:    m.BirthDate,
		DNI:          m.DNI,
		State:        domain.ReviewState(m.State),
		RegisteredAt: m.RegisteredAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fileToModel(f domain.File) (FileModel, error) {
	var meta datatypes.JSON
	if len(f.Metadata) > 0 {
		raw, err := json.Marshal(f.Metadata)
		if err != nil {
			return FileModel{}, fmt.Errorf("marshal file metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	return FileModel{
		ID:           f.ID,
		UserID:       f.UserID,
		OriginalName: f.OriginalName,
		StoredName:   f.StoredName,
		Extension:    f.Extension,
		MimeType:     f.MimeType,
		Location:     f.Location,
		SizeBytes:    f.SizeBytes,
		ResourceType: string(f.ResourceType),
		Metadata:     meta,
		UploadedAt:   f.UploadedAt,
	}, nil
}

func fileFromModel(m FileModel) domain.File {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.File{
		ID:           m.ID,
		UserID:       m.UserID,
		OriginalName: m.OriginalName,
		StoredName:   m.StoredName,
		Extension:    m.Extension,
		MimeType:     m.MimeType,
		Location:     m.Location,
		SizeBytes:    m.SizeBytes,
		ResourceType: domain.ResourceType(m.ResourceType),
		Metadata:     meta,
		UploadedAt:   m.UploadedAt,
	}
}
