package server

import (
	"errors"
	"net/http"

	"applyportal/internal/session"
	"applyportal/pkg/domain"
	"applyportal/services/portal/internal/app"
)

type adminDashboardPage struct {
	Stats      app.DashboardStats
	Applicants []domain.ApplicantView
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	stats, err := s.app.Dashboard(r.Context())
	if err != nil {
		s.serverError(w, r, sess, &user, "dashboard failed", err)
		return
	}
	applicants, err := s.app.ListApplicants()
	if err != nil {
		s.serverError(w, r, sess, &user, "list applicants failed", err)
		return
	}
	s.render(w, r, sess, &user, http.StatusOK, "admin_dashboard", "Panel de administración", adminDashboardPage{Stats: stats, Applicants: applicants})
}

type adminUsersPage struct {
	Role  string
	Users []domain.User
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	role := r.URL.Query().Get("rol")
	users, err := s.app.ListUsers(role)
	if err != nil {
		s.fail(w, r, sess, "/admin/dashboard", "list users failed", err)
		return
	}
	if _, ok := domain.ParseUserRole(role); !ok {
		role = ""
	}
	s.render(w, r, sess, &user, http.StatusOK, "admin_usuarios", "Usuarios", adminUsersPage{Role: role, Users: users})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	target, err := s.app.DeleteUser(r.Context(), user, r.PathValue("id"))
	switch {
	case err == nil:
		s.audit(r, "portal.admin.user.delete", "success", "user_id", user.ID, "target_id", target.ID)
		sess.AddFlash(session.FlashSuccess, "Usuario "+target.Email+" eliminado.")
	case errors.Is(err, app.ErrSelfDelete):
		s.audit(r, "portal.admin.user.delete", "fail", "user_id", user.ID, "reason", "self")
		sess.AddFlash(session.FlashError, "No puedes eliminar tu propia cuenta.")
	case errors.Is(err, app.ErrNotFound):
		sess.AddFlash(session.FlashError, "Usuario no encontrado.")
	default:
		s.fail(w, r, sess, "/admin/usuarios", "delete user failed", err)
		return
	}
	s.redirect(w, r, sess, "/admin/usuarios")
}

func (s *Server) handleAdminSetState(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	id := r.PathValue("id")
	state, err := s.app.SetApplicantState(r.Context(), id, r.PostFormValue("estado"))
	switch {
	case err == nil:
		s.audit(r, "portal.admin.state", "success", "user_id", user.ID, "applicant_id", id, "state", string(state))
		sess.AddFlash(session.FlashSuccess, "Estado actualizado a "+stateLabels[state]+".")
	case errors.Is(err, app.ErrInvalidState):
		s.audit(r, "portal.admin.state", "rejected", "user_id", user.ID, "applicant_id", id)
		sess.AddFlash(session.FlashError, "Estado no válido.")
	case errors.Is(err, app.ErrNotFound):
		sess.AddFlash(session.FlashError, "Postulante no encontrado.")
	default:
		s.fail(w, r, sess, "/admin/dashboard", "set state failed", err)
		return
	}
	s.redirect(w, r, sess, "/admin/dashboard")
}

func (s *Server) handleAdminFiles(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	files, err := s.app.ListAllFiles()
	if err != nil {
		s.fail(w, r, sess, "/admin/dashboard", "list files failed", err)
		return
	}
	s.render(w, r, sess, &user, http.StatusOK, "admin_archivos", "Archivos", files)
}

func (s *Server) handleAdminDeleteFile(w http.ResponseWriter, r *http.Request, sess *session.Session, user domain.User) {
	s.deleteFile(w, r, sess, user, "/admin/archivos")
}
