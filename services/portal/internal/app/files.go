package app

import (
	"context"
	"fmt"
	"time"

	"applyportal/pkg/domain"
	"applyportal/pkg/storage"
)

// UploadFile validates and stores a file owned by user.
func (a *App) UploadFile(ctx context.Context, user domain.User, upload storage.Upload) (domain.File, error) {
	if upload.Filename == "" || upload.Body == nil {
		return domain.File{}, &ValidationError{Field: "archivo", Message: storage.ErrMissingExtension.Error(), Err: ErrNoFile}
	}
	if err := storage.ValidateFile(upload.Filename, upload.Size); err != nil {
		return domain.File{}, &ValidationError{Field: "archivo", Message: err.Error(), Err: err}
	}
	obj, err := a.files.Save(ctx, upload)
	if err != nil {
		return domain.File{}, fmt.Errorf("store file: %w", err)
	}
	record := fileRecord(user.ID, upload.Filename, obj, time.Now().UTC())
	if err := a.store.SaveFile(record); err != nil {
		a.discardBlob(ctx, record.Location)
		return domain.File{}, fmt.Errorf("save file: %w", err)
	}
	return record, nil
}

// ListMyFiles returns the files owned by user.
func (a *App) ListMyFiles(user domain.User) ([]domain.File, error) {
	return a.store.ListFilesByUser(user.ID)
}

// authorizedFile loads a file the user may act on. Admins bypass ownership.
func (a *App) authorizedFile(user domain.User, id string) (domain.File, error) {
	file, ok, err := a.store.GetFile(id)
	if err != nil {
		return domain.File{}, fmt.Errorf("load file: %w", err)
	}
	if !ok {
		return domain.File{}, ErrNotFound
	}
	if file.UserID != user.ID && !user.IsAdmin() {
		return domain.File{}, ErrForbidden
	}
	return file, nil
}

// DownloadFile resolves how to serve a file to user.
func (a *App) DownloadFile(ctx context.Context, user domain.User, id string) (domain.File, storage.Download, error) {
	file, err := a.authorizedFile(user, id)
	if err != nil {
		return domain.File{}, storage.Download{}, err
	}
	dl, err := a.files.Download(ctx, file.Location)
	if err != nil {
		return domain.File{}, storage.Download{}, fmt.Errorf("resolve download: %w", err)
	}
	return file, dl, nil
}

// DeleteFile removes the stored bytes, then the record. When the bytes cannot
// be removed the record is kept so the deletion can be retried.
func (a *App) DeleteFile(ctx context.Context, user domain.User, id string) (domain.File, error) {
	file, err := a.authorizedFile(user, id)
	if err != nil {
		return domain.File{}, err
	}
	if err := a.files.Delete(ctx, file.Location); err != nil {
		return domain.File{}, fmt.Errorf("delete stored bytes: %w", err)
	}
	if err := a.store.DeleteFile(file.ID); err != nil {
		return domain.File{}, fmt.Errorf("delete file record: %w", err)
	}
	return file, nil
}
