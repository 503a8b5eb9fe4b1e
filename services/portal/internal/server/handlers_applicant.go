package server

import (
	"errors"
	"mime"
	"net/http"
	"os"

	"applyportal/internal/session"
	"applyportal/internal/util"
	"applyportal/pkg/domain"
	"applyportal/pkg/storage"
	"applyportal/services/portal/internal/app"
)

type dashboardPage struct {
	Applicant *domain.Applicant
	Files     []domain.File
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	page := dashboardPage{}
	if applicant, err := s.app.Profile(user); err == nil {
		page.Applicant = &applicant
	} else if !errors.Is(err, app.ErrNotFound) {
		s.serverError(w, r, sess, &user, "load profile failed", err)
		return
	}
	files, err := s.app.ListMyFiles(user)
	if err != nil {
		s.serverError(w, r, sess, &user, "list files failed", err)
		return
	}
	page.Files = files
	s.render(w, r, sess, &user, http.StatusOK, "dashboard", "Mi postulación", page)
}

type profilePage struct {
	Email     string
	Applicant domain.Applicant
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	applicant, err := s.app.Profile(user)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			sess.AddFlash(session.FlashInfo, "Tu cuenta no tiene un perfil de postulante.")
			s.redirect(w, r, sess, landingPath(user))
			return
		}
		s.fail(w, r, sess, "/dashboard", "load profile failed", err)
		return
	}
	s.render(w, r, sess, &user, http.StatusOK, "perfil", "Mi perfil", profilePage{Email: user.Email, Applicant: applicant})
}

func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	form := app.ProfileForm{
		FirstNames: r.PostFormValue("nombres"),
		LastNames:  r.PostFormValue("apellidos"),
		BirthDate:  r.PostFormValue("fecha_nacimiento"),
		DNI:        r.PostFormValue("dni"),
	}
	_, err := s.app.UpdateProfile(user, form)
	switch {
	case err == nil:
		sess.AddFlash(session.FlashSuccess, "Perfil actualizado.")
	case errors.Is(err, app.ErrNotFound):
		sess.AddFlash(session.FlashInfo, "Tu cuenta no tiene un perfil de postulante.")
	default:
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			sess.AddFlash(session.FlashError, verr.Message)
			break
		}
		s.fail(w, r, sess, "/perfil", "update profile failed", err)
		return
	}
	s.redirect(w, r, sess, "/perfil")
}

func (s *Server) handleMyFiles(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	files, err := s.app.ListMyFiles(user)
	if err != nil {
		s.fail(w, r, sess, "/dashboard", "list files failed", err)
		return
	}
	s.render(w, r, sess, &user, http.StatusOK, "mis_archivos", "Mis archivos", files)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(storage.MaxFileSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sess.AddFlash(session.FlashError, storage.ErrFileTooLarge.Error())
		} else {
			sess.AddFlash(session.FlashError, "No se seleccionó ningún archivo.")
		}
		s.redirect(w, r, sess, "/mis_archivos")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	upload, closeUpload, err := formUpload(r, "archivo")
	if err != nil {
		s.fail(w, r, sess, "/mis_archivos", "read upload failed", err)
		return
	}
	defer closeUpload()
	if upload == nil {
		sess.AddFlash(session.FlashError, "No se seleccionó ningún archivo.")
		s.redirect(w, r, sess, "/mis_archivos")
		return
	}

	file, err := s.app.UploadFile(r.Context(), user, *upload)
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			sess.AddFlash(session.FlashError, verr.Message)
			s.redirect(w, r, sess, "/mis_archivos")
			return
		}
		s.fail(w, r, sess, "/mis_archivos", "upload failed", err)
		return
	}
	s.audit(r, "portal.file.upload", "success", "user_id", user.ID, "file_id", file.ID)
	sess.AddFlash(session.FlashSuccess, "Archivo subido correctamente.")
	s.redirect(w, r, sess, "/mis_archivos")
}

// handleDownload serves a file to its owner or an admin. Remote files are
// redirected to a presigned URL; local files are streamed.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	back := filesPath(user)
	file, dl, err := s.app.DownloadFile(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.fileError(w, r, sess, user, back, "download", err)
		return
	}
	s.audit(r, "portal.file.download", "success", "user_id", user.ID, "file_id", file.ID)
	if dl.RedirectURL != "" {
		s.saveSession(w, r, sess)
		http.Redirect(w, r, dl.RedirectURL, http.StatusFound)
		return
	}
	f, err := os.Open(dl.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sess.AddFlash(session.FlashError, "El archivo ya no está disponible.")
			s.redirect(w, r, sess, back)
			return
		}
		s.fail(w, r, sess, back, "open file failed", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, sess, back, "stat file failed", err)
		return
	}
	s.saveSession(w, r, sess)
	if file.MimeType != "" {
		w.Header().Set("Content-Type", file.MimeType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalName}))
	http.ServeContent(w, r, file.OriginalName, info.ModTime(), f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	s.deleteFile(w, r, sess, user, "/mis_archivos")
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User, back string) {
	file, err := s.app.DeleteFile(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.fileError(w, r, sess, user, back, "delete", err)
		return
	}
	s.audit(r, "portal.file.delete", "success", "user_id", user.ID, "file_id", file.ID)
	sess.AddFlash(session.FlashSuccess, "Archivo eliminado.")
	s.redirect(w, r, sess, back)
}

func (s *Server) fileError(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User, back, action string, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		sess.AddFlash(session.FlashError, "Archivo no encontrado.")
		s.redirect(w, r, sess, back)
	case errors.Is(err, app.ErrForbidden):
		s.audit(r, "portal.file."+action, "fail", "user_id", user.ID, "file_id", r.PathValue("id"), "reason", "forbidden")
		s.renderError(w, r, sess, &user, http.StatusForbidden, "Acceso denegado", "No tienes permisos sobre este archivo.")
	case errors.Is(err, storage.ErrRemoteNotConfigured):
		util.LoggerFromContext(r.Context()).Error("remote storage unavailable", "file_id", r.PathValue("id"), "err", err)
		sess.AddFlash(session.FlashError, "El almacenamiento remoto no está disponible.")
		s.redirect(w, r, sess, back)
	default:
		s.fail(w, r, sess, back, "file "+action+" failed", err)
	}
}

func filesPath(user domain.User) string {
	if user.IsAdmin() {
		return "/admin/archivos"
	}
	return "/mis_archivos"
}
