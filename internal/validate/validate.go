// Package validate holds the checks that stop a request before it is sent.
package validate

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode"

	"taskmate/internal/domain"
)

// FieldErrors maps a field name to its problems.
type FieldErrors map[string][]string

func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

func (f FieldErrors) Error() string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, k := range fields {
		parts = append(parts, k+": "+strings.Join(f[k], "; "))
	}
	return strings.Join(parts, ", ")
}

// Err returns f as an error, or nil when it holds nothing.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

const (
	PasswordMin = 8
	PasswordMax = 100
	UsernameMin = 3
	UsernameMax = 100
	PhoneDigits = 10
)

// Password lists the rules pw breaks.
func Password(pw string) []string {
	if strings.TrimSpace(pw) == "" {
		return []string{"password is required"}
	}
	var problems []string
	n := len([]rune(pw))
	if n < PasswordMin {
		problems = append(problems, fmt.Sprintf("must have at least %d characters", PasswordMin))
	}
	if n > PasswordMax {
		problems = append(problems, fmt.Sprintf("must have at most %d characters", PasswordMax))
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "must contain an upper-case letter")
	}
	if !lower {
		problems = append(problems, "must contain a lower-case letter")
	}
	if !digit {
		problems = append(problems, "must contain a digit")
	}
	if !special {
		problems = append(problems, "must contain a special character")
	}
	return problems
}

// Email reports whether s is a bare address.
func Email(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// Phone reports whether s carries enough digits to be a phone number.
func Phone(s string) bool {
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= PhoneDigits
}

// Registration checks a sign-up request plus its confirmation fields.
func Registration(req domain.RegisterRequest, confirmPassword string) error {
	errs := FieldErrors{}
	name := strings.TrimSpace(req.Username)
	if n := len([]rune(name)); n < UsernameMin || n > UsernameMax {
		errs.Add("nmUsuario", fmt.Sprintf("must have between %d and %d characters", UsernameMin, UsernameMax))
	}
	if !Email(strings.TrimSpace(req.Email)) {
		errs.Add("nmEmail", "invalid email")
	}
	if !Phone(req.Phone) {
		errs.Add("cdTelefone", "invalid phone")
	}
	for _, p := range Password(req.Password) {
		errs.Add("nmSenha", p)
	}
	if req.Password != confirmPassword {
		errs.Add("confirmacao", "passwords do not match")
	}
	if req.TypeID != domain.UserTypeCommon && req.TypeID != domain.UserTypeAgent {
		errs.Add("cdTipoUsuario", "invalid user type")
	}
	return errs.Err()
}

// Login checks credentials before they are sent.
func Login(req domain.LoginRequest) error {
	errs := FieldErrors{}
	if !Email(strings.TrimSpace(req.Email)) {
		errs.Add("email", "invalid email")
	}
	if req.Password == "" {
		errs.Add("senha", "password is required")
	}
	return errs.Err()
}

var dueLayouts = []string{"02/01/2006 15:04", "02/01/2006", "2006-01-02"}

// ParseDue reads a due date typed by a user. Local layouts are read in loc;
// RFC 3339 values keep their own offset. Blank input means no due date.
func ParseDue(s string, loc *time.Location) (*domain.Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return domain.NewTimestamp(t), nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return domain.NewTimestamp(t), nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (use dd/mm/yyyy, dd/mm/yyyy HH:MM or RFC 3339)", s)
}

// Task checks the fields of a task form and returns the parsed due date.
func Task(name, due string, priorityID int, loc *time.Location) (*domain.Timestamp, error) {
	errs := FieldErrors{}
	if strings.TrimSpace(name) == "" {
		errs.Add("nome", "name is required")
	}
	parsed, err := ParseDue(due, loc)
	if err != nil {
		errs.Add("dataPrazo", err.Error())
	}
	if priorityID != 0 && (priorityID < domain.PriorityLow || priorityID > domain.PriorityHigh) {
		errs.Add("cdPrioridade", "priority must be 1 (low), 2 (medium) or 3 (high)")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return parsed, nil
}
