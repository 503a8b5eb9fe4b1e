package session

import "strings"

// Flash categories understood by the page templates.
const (
	FlashSuccess = "success"
	FlashError   = "danger"
	FlashInfo    = "info"
	FlashWarning = "warning"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Data is the server-side session payload stored in Redis.
type Data struct {
	UserID       string  `json:"user_id,omitempty"`
	PendingEmail string  `json:"pending_email,omitempty"`
	CodeHash     string  `json:"code_hash,omitempty"`
	Flashes      []Flash `json:"flashes,omitempty"`
}

// Session is a loaded session. Mutations mark it dirty so the manager knows
// to persist it.
type Session struct {
	id    string
	data  Data
	dirty bool
	fresh bool
}

func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user id, empty when anonymous.
func (s *Session) UserID() string { return s.data.UserID }

// SetUserID logs the session in. An empty id logs it out.
func (s *Session) SetUserID(id string) {
	s.data.UserID = strings.TrimSpace(id)
	s.dirty = true
}

// SetChallenge records a pending verification for email with the hashed code.
func (s *Session) SetChallenge(email, codeHash string) {
	s.data.PendingEmail = email
	s.data.CodeHash = codeHash
	s.dirty = true
}

// Challenge returns the pending verification, if any.
func (s *Session) Challenge() (email, codeHash string, ok bool) {
	if s.data.PendingEmail == "" || s.data.CodeHash == "" {
		return "", "", false
	}
	return s.data.PendingEmail, s.data.CodeHash, true
}

// ClearChallenge drops the pending verification.
func (s *Session) ClearChallenge() {
	if s.data.PendingEmail == "" && s.data.CodeHash == "" {
		return
	}
	s.data.PendingEmail = ""
	s.data.CodeHash = ""
	s.dirty = true
}

// AddFlash queues a message for the next page.
func (s *Session) AddFlash(category, message string) {
	s.data.Flashes = append(s.data.Flashes, Flash{Category: category, Message: message})
	s.dirty = true
}

// PopFlashes returns and clears queued messages.
func (s *Session) PopFlashes() []Flash {
	if len(s.data.Flashes) == 0 {
		return nil
	}
	out := s.data.Flashes
	s.data.Flashes = nil
	s.dirty = true
	return out
}

// Clear empties the session, keeping queued flashes.
func (s *Session) Clear() {
	flashes := s.data.Flashes
	s.data = Data{Flashes: flashes}
	s.dirty = true
}

func (s *Session) empty() bool {
	return s.data.UserID == "" && s.data.PendingEmail == "" && s.data.CodeHash == "" && len(s.data.Flashes) == 0
}
