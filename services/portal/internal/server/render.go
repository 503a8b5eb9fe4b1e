package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"applyportal/internal/session"
	"applyportal/internal/util"
	"applyportal/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "layout.html"

var stateLabels = map[domain.ReviewState]string{
	domain.StatePending:  "Pendiente",
	domain.StateApproved: "Aprobado",
	domain.StateRejected: "Rechazado",
}

var pageFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02/01/2006")
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("02/01/2006 15:04")
	},
	"isoDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"stateLabel": func(s domain.ReviewState) string {
		if label, ok := stateLabels[s]; ok {
			return label
		}
		return string(s)
	},
	"size": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.IBytes(uint64(n))
	},
	"states": func() []domain.ReviewState {
		return []domain.ReviewState{domain.StatePending, domain.StateApproved, domain.StateRejected}
	},
}

// pageSet holds one parsed template per page, each combined with the layout.
type pageSet struct {
	pages map[string]*template.Template
}

func loadPages() (*pageSet, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	set := &pageSet{pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		base := strings.TrimPrefix(name, "templates/")
		if base == layoutFile {
			continue
		}
		tmpl, err := template.New(layoutFile).Funcs(pageFuncs).ParseFS(templateFS, "templates/"+layoutFile, name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		set.pages[strings.TrimSuffix(base, ".html")] = tmpl
	}
	return set, nil
}

// pageData is the common envelope every template receives.
type pageData struct {
	Title   string
	User    *domain.User
	Flashes []session.Flash
	Data    any
}

// render pops the pending flashes, persists the session and writes the page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, sess *session.Session, user *domain.User, status int, page, title string, data any) {
	tmpl, ok := s.pages.pages[page]
	if !ok {
		util.LoggerFromContext(r.Context()).Error("unknown template", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	view := pageData{Title: title, User: user, Flashes: sess.PopFlashes(), Data: data}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		util.LoggerFromContext(r.Context()).Error("render failed", "page", page, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.saveSession(w, r, sess)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// redirect persists the session then sends a 303 to target.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, sess *session.Session, target string) {
	s.saveSession(w, r, sess)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.sessions.Save(w, r, sess); err != nil {
		util.LoggerFromContext(r.Context()).Error("save session failed", "err", err)
	}
}

type errorPage struct {
	Status  int
	Heading string
	Message string
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, sess *session.Session, user *domain.User, status int, heading, message string) {
	s.render(w, r, sess, user, status, "error", heading, errorPage{Status: status, Heading: heading, Message: message})
}

// fail logs an unexpected error and flashes the generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, sess *session.Session, back, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "err", err)
	sess.AddFlash(session.FlashError, genericError)
	s.redirect(w, r, sess, back)
}

// serverError logs err and renders the generic error page. Landing pages use
// it because redirecting them to / would bounce signed-in users straight back.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, sess *session.Session, user *domain.User, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "err", err)
	s.renderError(w, r, sess, user, http.StatusInternalServerError, "Error interno", genericError)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	tmpl, ok := s.pages.pages["error"]
	if !ok {
		return
	}
	_ = tmpl.Execute(w, pageData{
		Title: "Error interno",
		Data:  errorPage{Status: http.StatusInternalServerError, Heading: "Error interno", Message: genericError},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	user, ok := s.currentUser(r, sess)
	var u *domain.User
	if ok {
		u = &user
	}
	s.renderError(w, r, sess, u, http.StatusNotFound, "Página no encontrada", "La página solicitada no existe.")
}
