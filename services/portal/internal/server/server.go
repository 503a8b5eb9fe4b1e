package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"applyportal/internal/ratelimit"
	"applyportal/internal/session"
	"applyportal/internal/util"
	"applyportal/pkg/domain"
	"applyportal/services/portal/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Sessions                 *session.Manager
	Redis                    *redis.Client
	TrustedProxyCIDRs        []string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	VerifyRateLimitPerMinute int
}

// Server renders the portal pages.
type Server struct {
	app      *app.App
	sessions *session.Manager
	pages    *pageSet
	mux      *http.ServeMux
	proxies  *util.TrustedProxies

	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
	verifyLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// disabled when no Redis client is given or a limit is zero.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("server requires app and session manager")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if cfg.Redis == nil || limit <= 0 {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "portal:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	s := &Server{
		app:      cfg.App,
		sessions: cfg.Sessions,
		pages:    pages,
		mux:      http.NewServeMux(),
		proxies:  proxies,
	}
	if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.verifyLimiter, err = newLimiter("verify", cfg.VerifyRateLimitPerMinute); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("portal", util.WithRecover(s.handlePanic, util.WithSecurityHeaders(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// public
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /postular", s.handleRegister)
	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /verify", s.handleVerifyPage)
	s.mux.HandleFunc("POST /verify", s.handleVerify)
	s.mux.HandleFunc("POST /verify/reenviar", s.handleResend)
	s.mux.HandleFunc("GET /logout", s.handleLogout)

	// applicant
	s.mux.Handle("GET /dashboard", s.authenticated(s.handleDashboard))
	s.mux.Handle("GET /perfil", s.authenticated(s.handleProfile))
	s.mux.Handle("POST /perfil/editar", s.authenticated(s.handleProfileUpdate))
	s.mux.Handle("GET /mis_archivos", s.authenticated(s.handleMyFiles))
	s.mux.Handle("POST /subir_archivo", s.authenticated(s.handleUpload))
	s.mux.Handle("GET /archivo/{id}", s.authenticated(s.handleDownload))
	s.mux.Handle("POST /archivo/{id}/eliminar", s.authenticated(s.handleDeleteFile))

	// admin
	s.mux.Handle("GET /admin/dashboard", s.adminOnly(s.handleAdminDashboard))
	s.mux.Handle("GET /admin/usuarios", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("POST /admin/usuarios/{id}/eliminar", s.adminOnly(s.handleAdminDeleteUser))
	s.mux.Handle("POST /admin/cambiar_estado/{id}", s.adminOnly(s.handleAdminSetState))
	s.mux.Handle("GET /admin/archivos", s.adminOnly(s.handleAdminFiles))
	s.mux.Handle("GET /admin/descargar_archivo/{id}", s.adminOnly(s.handleDownload))
	s.mux.Handle("POST /admin/archivo/{id}/eliminar", s.adminOnly(s.handleAdminDeleteFile))

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, *session.Session, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Load(r)
		user, ok := s.currentUser(r, sess)
		if !ok {
			s.audit(r, "portal.authorize", "fail", "reason", "no_session")
			sess.AddFlash(session.FlashWarning, "Debes iniciar sesión para continuar.")
			s.redirect(w, r, sess, "/login")
			return
		}
		next(w, r, sess, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Load(r)
		user, ok := s.currentUser(r, sess)
		if !ok {
			s.audit(r, "portal.admin.authorize", "fail", "reason", "no_session")
			sess.AddFlash(session.FlashWarning, "Debes iniciar sesión para continuar.")
			s.redirect(w, r, sess, "/login")
			return
		}
		if !user.IsAdmin() {
			s.audit(r, "portal.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			s.renderError(w, r, sess, &user, http.StatusForbidden, "Acceso denegado", "No tienes permisos para ver esta página.")
			return
		}
		next(w, r, sess, user)
	})
}

// currentUser resolves the session user. A session pointing at a deleted
// user is logged out.
func (s *Server) currentUser(r *http.Request, sess *session.Session) (domain.User, bool) {
	id := sess.UserID()
	if id == "" {
		return domain.User{}, false
	}
	user, ok, err := s.app.CurrentUser(id)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("load session user failed", "user_id", id, "err", err)
		return domain.User{}, false
	}
	if !ok {
		sess.SetUserID("")
		return domain.User{}, false
	}
	return user, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

// allowRate applies limiter per client IP. On rejection it flashes and
// redirects to back.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, sess *session.Session, limiter *ratelimit.FixedWindowLimiter, back string) bool {
	if limiter == nil || limiter.Allow(r.Context(), s.clientIP(r)) {
		return true
	}
	s.audit(r, "portal.ratelimit", "fail")
	w.Header().Set("Retry-After", "60")
	sess.AddFlash(session.FlashError, "Demasiados intentos. Espera un minuto e inténtalo de nuevo.")
	s.redirect(w, r, sess, back)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.proxies)
}
