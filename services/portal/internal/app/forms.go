package app

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"applyportal/pkg/auth"
	"applyportal/pkg/domain"
)

const dateLayout = "2006-01-02"

// RegistrationForm mirrors the public registration page.
type RegistrationForm struct {
	FirstNames      string `form:"nombres" validate:"required"`
	LastNames       string `form:"apellidos" validate:"required"`
	BirthDate       string `form:"fecha_nacimiento" validate:"required,birthdate"`
	Email           string `form:"correo" validate:"required,email"`
	DNI             string `form:"dni" validate:"omitempty,dni"`
	Password        string `form:"password" validate:"required,min=6"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
}

// ProfileForm holds the owner-editable applicant fields.
type ProfileForm struct {
	FirstNames string `form:"nombres" validate:"required"`
	LastNames  string `form:"apellidos" validate:"required"`
	BirthDate  string `form:"fecha_nacimiento" validate:"required,birthdate"`
	DNI        string `form:"dni" validate:"omitempty,dni"`
}

// AdminForm is the input of the admin bootstrap command.
type AdminForm struct {
	Email           string `form:"correo" validate:"required,email"`
	Password        string `form:"password" validate:"required,min=6"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
}

// Lower rank wins when a form breaks several rules at once.
var tagRank = map[string]int{
	"required":  0,
	"email":     1,
	"birthdate": 2,
	"min":       3,
	"eqfield":   4,
	"dni":       5,
}

var tagMessages = map[string]string{
	"required":  "todos los campos obligatorios deben completarse",
	"email":     "el correo electrónico no es válido",
	"birthdate": "la fecha de nacimiento no es válida",
	"min":       auth.ErrPasswordTooShort.Error(),
	"eqfield":   "las contraseñas no coinciden",
	"dni":       "el DNI debe tener exactamente 8 dígitos",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("dni", func(fl validator.FieldLevel) bool {
		return domain.ValidDNI(fl.Field().String())
	})
	_ = v.RegisterValidation("birthdate", func(fl validator.FieldLevel) bool {
		_, err := parseBirthDate(fl.Field().String())
		return err == nil
	})
	return v
}

// validateForm runs the struct rules and returns the single highest-priority
// violation.
func (a *App) validateForm(form any) error {
	err := a.validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	sort.SliceStable(fieldErrs, func(i, j int) bool {
		return rank(fieldErrs[i].Tag()) < rank(fieldErrs[j].Tag())
	})
	first := fieldErrs[0]
	msg, ok := tagMessages[first.Tag()]
	if !ok {
		msg = "el campo " + first.Field() + " no es válido"
	}
	return &ValidationError{Field: first.Field(), Message: msg, Err: first}
}

func rank(tag string) int {
	if r, ok := tagRank[tag]; ok {
		return r
	}
	return len(tagRank)
}

func parseBirthDate(value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	if t.After(time.Now().UTC()) {
		return time.Time{}, errors.New("birth date in the future")
	}
	return t, nil
}

func (f *RegistrationForm) normalize() {
	f.FirstNames = strings.TrimSpace(f.FirstNames)
	f.LastNames = strings.TrimSpace(f.LastNames)
	f.BirthDate = strings.TrimSpace(f.BirthDate)
	f.Email = domain.NormalizeEmail(f.Email)
	f.DNI = strings.TrimSpace(f.DNI)
}

func (f *ProfileForm) normalize() {
	f.FirstNames = strings.TrimSpace(f.FirstNames)
	f.LastNames = strings.TrimSpace(f.LastNames)
	f.BirthDate = strings.TrimSpace(f.BirthDate)
	f.DNI = strings.TrimSpace(f.DNI)
}
