package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"

	"applyportal/pkg/domain"
	"applyportal/pkg/events"
	"applyportal/pkg/mail"
	"applyportal/pkg/storage"
	"applyportal/pkg/store"
	"applyportal/services/portal/internal/verification"
)

type memHolder struct {
	email, hash string
}

func (h *memHolder) SetChallenge(email, hash string) { h.email, h.hash = email, hash }
func (h *memHolder) Challenge() (string, string, bool) {
	return h.email, h.hash, h.email != "" && h.hash != ""
}
func (h *memHolder) ClearChallenge() { h.email, h.hash = "", "" }

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no mail sent")
	}
	text, err := mail.PlainText(m.sent[len(m.sent)-1].HTML)
	if err != nil {
		t.Fatalf("plain text: %v", err)
	}
	for _, word := range strings.Fields(text) {
		if len(word) == 6 && strings.Trim(word, "0123456789") == "" {
			return word
		}
	}
	t.Fatalf("no code in mail: %q", text)
	return ""
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	app       *App
	store     *store.GormStore
	mailer    *captureMailer
	publisher *capturePublisher
	uploadDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewGormStoreWithDialector(sqlite.Open(filepath.Join(dir, "portal.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	uploads := filepath.Join(dir, "uploads")
	files, err := storage.New(storage.Config{LocalDir: uploads})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	mailer := &captureMailer{}
	pub := &capturePublisher{}
	a, err := New(Config{Store: s, Storage: files, Mailer: mailer, Events: pub})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: s, mailer: mailer, publisher: pub, uploadDir: uploads}
}

func validForm() RegistrationForm {
	return RegistrationForm{
		FirstNames:      "Ana María",
		LastNames:       "Quispe Huamán",
		BirthDate:       "1999-04-12",
		Email:           "Ana@Example.com",
		DNI:             "12345678",
		Password:        "secreto1",
		ConfirmPassword: "secreto1",
	}
}

func textUpload(name, body string) *storage.Upload {
	return &storage.Upload{Filename: name, Size: int64(len(body)), Body: bytes.NewReader([]byte(body))}
}

func validationMessage(t *testing.T, err error) string {
	t.Helper()
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return v.Message
}

func TestRegisterCreatesUnverifiedApplicantAndMailsCode(t *testing.T) {
	env := newTestEnv(t)
	h := &memHolder{}
	res, err := env.app.Register(context.Background(), h, validForm(), textUpload("cv.txt", "hola"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.MailErr != nil {
		t.Fatalf("unexpected mail error: %v", res.MailErr)
	}
	if res.User.Email != "ana@example.com" || res.User.Verified || res.User.Role != domain.RoleApplicant {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if res.Applicant.State != domain.StatePending {
		t.Fatalf("new applicant must be pending, got %s", res.Applicant.State)
	}
	if res.File == nil || res.File.Extension != "txt" {
		t.Fatalf("expected stored attachment, got %+v", res.File)
	}
	if _, err := os.Stat(res.File.Location); err != nil {
		t.Fatalf("attachment bytes missing: %v", err)
	}
	if email, ok := env.app.PendingVerification(h); !ok || email != "ana@example.com" {
		t.Fatalf("expected pending verification, got %q %v", email, ok)
	}
	if got := env.publisher.types(); len(got) != 1 || got[0] != events.TypeApplicantRegistered {
		t.Fatalf("unexpected events: %v", got)
	}

	if _, err := env.app.Login("ana@example.com", "secreto1"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("login before verification should report not verified, got %v", err)
	}
	if _, err := env.app.Verify(context.Background(), h, "000000x"); !errors.Is(err, verification.ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := env.app.Verify(context.Background(), h, env.mailer.lastCode(t)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	user, err := env.app.Login("ANA@example.com", "secreto1")
	if err != nil || !user.Verified {
		t.Fatalf("login after verification: user=%+v err=%v", user, err)
	}
}

func TestRegisterFirstFailingRuleWins(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		mutate func(*RegistrationForm)
		want   string
	}{
		{"missing names and bad email", func(f *RegistrationForm) { f.FirstNames = " "; f.Email = "nope" }, tagMessages["required"]},
		{"bad email and short password", func(f *RegistrationForm) { f.Email = "nope"; f.Password = "123"; f.ConfirmPassword = "123" }, tagMessages["email"]},
		{"bad date", func(f *RegistrationForm) { f.BirthDate = "12/04/1999" }, tagMessages["birthdate"]},
		{"future date", func(f *RegistrationForm) { f.BirthDate = "2999-01-01" }, tagMessages["birthdate"]},
		{"short password and mismatch", func(f *RegistrationForm) { f.Password = "12345"; f.ConfirmPassword = "54321" }, tagMessages["min"]},
		{"mismatch and bad dni", func(f *RegistrationForm) { f.ConfirmPassword = "otra123"; f.DNI = "123" }, tagMessages["eqfield"]},
		{"seven digit dni", func(f *RegistrationForm) { f.DNI = "1234567" }, tagMessages["dni"]},
		{"dni with letter", func(f *RegistrationForm) { f.DNI = "1234567a" }, tagMessages["dni"]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			tc.mutate(&form)
			_, err := env.app.Register(context.Background(), &memHolder{}, form, nil)
			if got := validationMessage(t, err); got != tc.want {
				t.Fatalf("message = %q, want %q", got, tc.want)
			}
		})
	}
	if n, _ := env.store.UserCount(""); n != 0 {
		t.Fatalf("rejected forms must not create users, got %d", n)
	}
}

func TestRegisterAcceptsEmptyDNIAndExactLimitFile(t *testing.T) {
	env := newTestEnv(t)
	form := validForm()
	form.DNI = ""
	body := bytes.Repeat([]byte("a"), int(storage.MaxFileSize))
	up := &storage.Upload{Filename: "limit.TXT", Size: storage.MaxFileSize, Body: bytes.NewReader(body)}
	res, err := env.app.Register(context.Background(), &memHolder{}, form, up)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Applicant.DNI != "" || res.File.SizeBytes != storage.MaxFileSize {
		t.Fatalf("unexpected result: %+v %+v", res.Applicant, res.File)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.app.Register(context.Background(), &memHolder{}, validForm(), nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	form := validForm()
	form.Email = "  ANA@example.com "
	_, err := env.app.Register(context.Background(), &memHolder{}, form, nil)
	if !errors.Is(err, store.ErrDuplicateEmail) || validationMessage(t, err) != "el correo ya está registrado" {
		t.Fatalf("expected duplicate email validation, got %v", err)
	}
	if n, _ := env.store.UserCount(""); n != 1 {
		t.Fatalf("expected one user, got %d", n)
	}
}

func TestRegisterRejectsBadFileWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		up   *storage.Upload
		want error
	}{
		{textUpload("malware.exe", "x"), storage.ErrUnsupportedType},
		{textUpload("sinextension", "x"), storage.ErrMissingExtension},
		{&storage.Upload{Filename: "big.pdf", Size: storage.MaxFileSize + 1, Body: bytes.NewReader(nil)}, storage.ErrFileTooLarge},
	}
	for _, tc := range cases {
		_, err := env.app.Register(context.Background(), &memHolder{}, validForm(), tc.up)
		if !errors.Is(err, tc.want) || !IsValidation(err) {
			t.Fatalf("%s: expected %v, got %v", tc.up.Filename, tc.want, err)
		}
	}
	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads must not leave files, got %d", len(entries))
	}
	if n, _ := env.store.UserCount(""); n != 0 {
		t.Fatalf("no user expected, got %d", n)
	}
}

func TestRegisterSucceedsWhenMailFails(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")
	h := &memHolder{}
	res, err := env.app.Register(context.Background(), h, validForm(), nil)
	if err != nil {
		t.Fatalf("register must succeed without mail: %v", err)
	}
	if !errors.Is(res.MailErr, verification.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure to be reported, got %v", res.MailErr)
	}
	env.mailer.err = nil
	if _, err := env.app.ResendCode(context.Background(), h); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, err := env.app.Verify(context.Background(), h, env.mailer.lastCode(t)); err != nil {
		t.Fatalf("verify after resend: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.app.Register(context.Background(), &memHolder{}, validForm(), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.app.Login("ana@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := env.app.Login("nobody@example.com", "secreto1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestUpdateProfileRevalidatesDNI(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.app.Register(context.Background(), &memHolder{}, validForm(), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bad := ProfileForm{FirstNames: "Ana", LastNames: "Q", BirthDate: "1999-04-12", DNI: "1234"}
	if _, err := env.app.UpdateProfile(res.User, bad); validationMessage(t, err) != tagMessages["dni"] {
		t.Fatalf("expected dni rejection, got %v", err)
	}
	good := ProfileForm{FirstNames: " Ana ", LastNames: "Quispe", BirthDate: "1998-01-02", DNI: "87654321"}
	updated, err := env.app.UpdateProfile(res.User, good)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	stored, err := env.app.Profile(res.User)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if stored.FirstNames != "Ana" || stored.DNI != "87654321" || stored.BirthDate.Year() != 1998 || updated.ID != stored.ID {
		t.Fatalf("unexpected stored profile: %+v", stored)
	}
}

func TestFileOwnershipAndDeletion(t *testing.T) {
	env := newTestEnv(t)
	owner, err := env.app.Register(context.Background(), &memHolder{}, validForm(), nil)
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	otherForm := validForm()
	otherForm.Email = "otro@example.com"
	other, err := env.app.Register(context.Background(), &memHolder{}, otherForm, nil)
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	admin, err := env.app.CreateAdmin(AdminForm{Email: "admin@example.com", Password: "admin123", ConfirmPassword: "admin123"})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	file, err := env.app.UploadFile(context.Background(), owner.User, *textUpload("notas.txt", "contenido"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, _, err := env.app.DownloadFile(context.Background(), other.User, file.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner download should be forbidden, got %v", err)
	}
	if _, dl, err := env.app.DownloadFile(context.Background(), admin, file.ID); err != nil || dl.Path != file.Location {
		t.Fatalf("admin download: dl=%+v err=%v", dl, err)
	}
	if _, err := env.app.DeleteFile(context.Background(), other.User, file.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner delete should be forbidden, got %v", err)
	}
	if _, err := env.app.DeleteFile(context.Background(), owner.User, file.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := os.Stat(file.Location); !os.IsNotExist(err) {
		t.Fatalf("stored bytes should be removed, stat err=%v", err)
	}
	if _, err := env.app.DeleteFile(context.Background(), owner.User, file.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestUploadFileRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.app.Register(context.Background(), &memHolder{}, validForm(), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.app.UploadFile(context.Background(), res.User, *textUpload("script.sh", "x")); !errors.Is(err, storage.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if _, err := env.app.UploadFile(context.Background(), res.User, storage.Upload{}); !errors.Is(err, ErrNoFile) {
		t.Fatalf("expected no file error, got %v", err)
	}
}
