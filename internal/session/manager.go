package session

import (
	"context"
	"net/http"
	"time"

	"applyportal/internal/util"
)

const CookieName = "portal_session"

// Store persists session payloads.
type Store interface {
	Load(ctx context.Context, sid string) (Data, bool, error)
	Save(ctx context.Context, sid string, data Data) error
	Delete(ctx context.Context, sid string) error
}

// Manager ties the signed cookie to the server-side payload.
type Manager struct {
	store  Store
	signer *cookieSigner
	ttl    time.Duration
}

// NewManager builds a session manager. secret signs the cookie.
func NewManager(store Store, secret string, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signer, err := newCookieSigner(secret, ttl)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, signer: signer, ttl: ttl}, nil
}

// Load returns the request's session. Missing, invalid or expired cookies
// yield a fresh anonymous session.
func (m *Manager) Load(r *http.Request) *Session {
	logger := util.LoggerFromContext(r.Context())
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return m.fresh()
	}
	sid, err := m.signer.parse(cookie.Value)
	if err != nil {
		logger.Debug("session cookie rejected", "err", err)
		return m.fresh()
	}
	data, ok, err := m.store.Load(r.Context(), sid)
	if err != nil {
		logger.Warn("session load failed", "err", err)
		return m.fresh()
	}
	if !ok {
		return m.fresh()
	}
	return &Session{id: sid, data: data}
}

// Save persists a modified session and refreshes the cookie. Untouched
// sessions are left alone; emptied fresh sessions never reach Redis.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s == nil || !s.dirty {
		return nil
	}
	if s.fresh && s.empty() {
		return nil
	}
	if err := m.store.Save(r.Context(), s.id, s.data); err != nil {
		return err
	}
	token, err := m.signer.sign(s.id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   util.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	s.dirty = false
	s.fresh = false
	return nil
}

// Regenerate moves the session payload to a new id, defeating fixation on
// login. The old payload is deleted.
func (m *Manager) Regenerate(r *http.Request, s *Session) {
	if !s.fresh {
		if err := m.store.Delete(r.Context(), s.id); err != nil {
			util.LoggerFromContext(r.Context()).Warn("session delete failed", "err", err)
		}
	}
	s.id = util.NewID()
	s.fresh = true
	s.dirty = true
}

func (m *Manager) fresh() *Session {
	return &Session{id: util.NewID(), fresh: true}
}
