package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"applyportal/internal/session"
	"applyportal/internal/util"
	"applyportal/pkg/domain"
	"applyportal/pkg/storage"
	"applyportal/services/portal/internal/app"
	"applyportal/services/portal/internal/verification"
)

const (
	genericError = "Ocurrió un error. Inténtalo de nuevo más tarde."

	// multipartOverhead leaves room for the text fields next to the file.
	multipartOverhead = 1 << 20
)

// landingPath returns where a signed-in user starts.
func landingPath(user domain.User) string {
	if user.IsAdmin() {
		return "/admin/dashboard"
	}
	return "/dashboard"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if user, ok := s.currentUser(r, sess); ok {
		s.redirect(w, r, sess, landingPath(user))
		return
	}
	s.render(w, r, sess, nil, http.StatusOK, "index", "Postulación", nil)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if !s.allowRate(w, r, sess, s.signupLimiter, "/") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(storage.MaxFileSize + multipartOverhead); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sess.AddFlash(session.FlashError, storage.ErrFileTooLarge.Error())
		} else {
			sess.AddFlash(session.FlashError, "No se pudo leer el formulario.")
		}
		s.redirect(w, r, sess, "/")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	form := app.RegistrationForm{
		FirstNames:      r.FormValue("nombres"),
		LastNames:       r.FormValue("apellidos"),
		BirthDate:       r.FormValue("fecha_nacimiento"),
		Email:           r.FormValue("correo"),
		DNI:             r.FormValue("dni"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	}
	upload, closeUpload, err := formUpload(r, "archivo")
	if err != nil {
		s.fail(w, r, sess, "/", "read upload failed", err)
		return
	}
	defer closeUpload()

	res, err := s.app.Register(r.Context(), sess, form, upload)
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			s.audit(r, "portal.register", "rejected", "field", verr.Field)
			sess.AddFlash(session.FlashError, verr.Message)
			s.redirect(w, r, sess, "/")
			return
		}
		s.audit(r, "portal.register", "error")
		s.fail(w, r, sess, "/", "registration failed", err)
		return
	}
	s.audit(r, "portal.register", "success", "user_id", res.User.ID)
	sess.AddFlash(session.FlashSuccess, "Registro exitoso. Revisa tu correo para verificar tu cuenta.")
	if res.MailErr != nil {
		sess.AddFlash(session.FlashWarning, "No pudimos enviar el código de verificación. Usa \"Reenviar código\".")
	}
	s.redirect(w, r, sess, "/verify")
}

// formUpload returns the optional file under field. A missing or empty file
// yields a nil upload.
func formUpload(r *http.Request, field string) (*storage.Upload, func(), error) {
	noop := func() {}
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}
		return nil, noop, err
	}
	if header.Filename == "" && header.Size == 0 {
		_ = file.Close()
		return nil, noop, nil
	}
	return uploadFromHeader(file, header), func() { _ = file.Close() }, nil
}

func uploadFromHeader(file multipart.File, header *multipart.FileHeader) *storage.Upload {
	return &storage.Upload{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if user, ok := s.currentUser(r, sess); ok {
		s.redirect(w, r, sess, landingPath(user))
		return
	}
	s.render(w, r, sess, nil, http.StatusOK, "login", "Iniciar sesión", nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if !s.allowRate(w, r, sess, s.loginLimiter, "/login") {
		return
	}
	email := strings.TrimSpace(r.PostFormValue("correo"))
	user, err := s.app.Login(email, r.PostFormValue("password"))
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNotVerified):
		s.audit(r, "portal.login", "fail", "user_id", user.ID, "reason", "unverified")
		if err := s.app.StartVerification(r.Context(), sess, user.Email); err != nil {
			util.LoggerFromContext(r.Context()).Warn("reissue verification code failed", "user_id", user.ID, "err", err)
			sess.AddFlash(session.FlashWarning, "No pudimos enviar el código de verificación. Usa \"Reenviar código\".")
		} else {
			sess.AddFlash(session.FlashInfo, "Tu cuenta aún no está verificada. Te enviamos un nuevo código.")
		}
		s.redirect(w, r, sess, "/verify")
		return
	case errors.Is(err, app.ErrInvalidCredentials):
		s.audit(r, "portal.login", "fail", "reason", "invalid_credentials")
		sess.AddFlash(session.FlashError, app.ErrInvalidCredentials.Error())
		s.redirect(w, r, sess, "/login")
		return
	default:
		s.fail(w, r, sess, "/login", "login failed", err)
		return
	}

	s.sessions.Regenerate(r, sess)
	sess.SetUserID(user.ID)
	s.audit(r, "portal.login", "success", "user_id", user.ID)
	sess.AddFlash(session.FlashSuccess, "Bienvenido.")
	s.redirect(w, r, sess, landingPath(user))
}

type verifyPage struct {
	Email string
}

func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	email, ok := s.app.PendingVerification(sess)
	if !ok {
		sess.AddFlash(session.FlashInfo, "No hay una verificación pendiente.")
		s.redirect(w, r, sess, "/login")
		return
	}
	s.render(w, r, sess, nil, http.StatusOK, "verify", "Verificar correo", verifyPage{Email: email})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if !s.allowRate(w, r, sess, s.verifyLimiter, "/verify") {
		return
	}
	email, err := s.app.Verify(r.Context(), sess, strings.TrimSpace(r.PostFormValue("codigo")))
	switch {
	case err == nil:
		s.audit(r, "portal.verify", "success", "email", email)
		sess.AddFlash(session.FlashSuccess, "Correo verificado. Ya puedes iniciar sesión.")
		s.redirect(w, r, sess, "/login")
	case errors.Is(err, verification.ErrNoChallenge):
		sess.AddFlash(session.FlashInfo, "No hay una verificación pendiente.")
		s.redirect(w, r, sess, "/login")
	case errors.Is(err, verification.ErrCodeMismatch):
		s.audit(r, "portal.verify", "fail", "reason", "mismatch")
		sess.AddFlash(session.FlashError, "Código incorrecto.")
		s.redirect(w, r, sess, "/verify")
	case errors.Is(err, verification.ErrUnknownEmail):
		s.audit(r, "portal.verify", "fail", "reason", "unknown_email")
		sess.AddFlash(session.FlashError, "La cuenta ya no existe.")
		s.redirect(w, r, sess, "/")
	default:
		s.fail(w, r, sess, "/verify", "verify failed", err)
	}
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if !s.allowRate(w, r, sess, s.verifyLimiter, "/verify") {
		return
	}
	email, err := s.app.ResendCode(r.Context(), sess)
	switch {
	case err == nil:
		s.audit(r, "portal.verify.resend", "success", "email", email)
		sess.AddFlash(session.FlashInfo, "Enviamos un nuevo código a "+email+".")
		s.redirect(w, r, sess, "/verify")
	case errors.Is(err, verification.ErrNoChallenge):
		sess.AddFlash(session.FlashInfo, "No hay una verificación pendiente.")
		s.redirect(w, r, sess, "/login")
	case errors.Is(err, verification.ErrDeliveryFailed):
		util.LoggerFromContext(r.Context()).Warn("resend verification failed", "email", email, "err", err)
		sess.AddFlash(session.FlashError, "No pudimos enviar el código. Inténtalo más tarde.")
		s.redirect(w, r, sess, "/verify")
	default:
		s.fail(w, r, sess, "/verify", "resend failed", err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if id := sess.UserID(); id != "" {
		s.audit(r, "portal.logout", "success", "user_id", id)
	}
	sess.Clear()
	s.sessions.Regenerate(r, sess)
	sess.AddFlash(session.FlashInfo, "Sesión cerrada.")
	s.redirect(w, r, sess, "/login")
}
