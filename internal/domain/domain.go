package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role classifies a user. The zero value means the role is not known yet.
type Role string

const (
	RoleUnknown Role = ""
	RoleAgent   Role = "agente"
	RoleCommon  Role = "comum"
)

// User type ids used by the backend (tipo.cd / cdTipoUsuario).
const (
	UserTypeCommon = 1
	UserTypeAgent  = 2
)

// RoleFromType maps a backend user type id to a Role.
func RoleFromType(typeID int) Role {
	switch typeID {
	case UserTypeAgent:
		return RoleAgent
	case UserTypeCommon:
		return RoleCommon
	default:
		return RoleUnknown
	}
}

// Priority ids known to the backend.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
)

// Envelope is the uniform response wrapper of every REST endpoint.
type Envelope[T any] struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    T        `json:"data"`
	Errors  []string `json:"errors,omitempty"`
}

// Timestamp decodes backend dates. Values without a zone designator are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NewTimestamp returns a pointer to a UTC Timestamp for t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Time.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + ts.Time.UTC().Format(time.RFC3339Nano) + `"`), nil
}

type Priority struct {
	ID   int    `json:"cd"`
	Name string `json:"nome"`
}

type UserRef struct {
	ID   int64  `json:"cd"`
	Name string `json:"nome"`
}

type Tag struct {
	ID   int64  `json:"cd"`
	Name string `json:"nome"`
}

type Task struct {
	ID               int64      `json:"cd"`
	Name             string     `json:"nome"`
	Description      string     `json:"descricao"`
	Due              *Timestamp `json:"dataPrazo"`
	CompletedAt      *Timestamp `json:"dataConclusao"`
	CreatedAt        Timestamp  `json:"dataCriacao"`
	Priority         *Priority  `json:"prioridade"`
	Owner            UserRef    `json:"usuario"`
	ProprietaryOwner *UserRef   `json:"usuarioProprietario,omitempty"`
	Tags             []Tag      `json:"tags"`
}

// Completed reports whether the task carries a completion timestamp.
func (t Task) Completed() bool { return t.CompletedAt != nil && !t.CompletedAt.IsZero() }

// TagNames returns the names of the task tags in order.
func (t Task) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// Categories partitions a task list. Every task of All is in exactly one of
// Delayed, Pending or Completed.
type Categories struct {
	All       []Task `json:"all"`
	Delayed   []Task `json:"delayed"`
	Pending   []Task `json:"pending"`
	Completed []Task `json:"completed"`
}

type TaskQuery struct {
	UserID           int64
	IncludeConnected *bool
	PriorityID       int
	Completed        *bool
	Page             int
	PageSize         int
	OrderBy          string
	Direction        string // ASC or DESC
}

type CreateTaskRequest struct {
	Name        string     `json:"nome"`
	UserID      int64      `json:"cdUsuario"`
	Description string     `json:"descricao"`
	PriorityID  int        `json:"cdPrioridade"`
	Due         *Timestamp `json:"dataPrazo"`
	TagNames    []string   `json:"tagNomes"`
}

type UpdateTaskRequest struct {
	Name        string     `json:"nome"`
	Description string     `json:"descricao"`
	PriorityID  int        `json:"cdPrioridade"`
	Due         *Timestamp `json:"dataPrazo"`
	TagNames    []string   `json:"tagNomes"`
}

type UserType struct {
	ID   int    `json:"cd"`
	Name string `json:"nome"`
}

type UserProfile struct {
	ID       int64     `json:"cd"`
	Username string    `json:"nmUsuario"`
	Name     string    `json:"nome,omitempty"`
	Email    string    `json:"email"`
	Phone    string    `json:"telefone,omitempty"`
	Type     *UserType `json:"tipo,omitempty"`
}

// Role returns the role carried by the profile type, if any.
func (p UserProfile) Role() Role {
	if p.Type == nil {
		return RoleUnknown
	}
	return RoleFromType(p.Type.ID)
}

type UpdateProfileRequest struct {
	Name        string `json:"nome,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"telefone,omitempty"`
	NewPassword string `json:"novaSenha,omitempty"`
}

type ConnectedUser struct {
	ID       int64  `json:"cd"`
	Username string `json:"nmUsuario"`
	Email    string `json:"email"`
}

type GeneratedCode struct {
	Code      string    `json:"codigo"`
	ExpiresAt Timestamp `json:"expiraEm"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type LoginResult struct {
	Token    string `json:"token"`
	UserID   int64  `json:"cdUsuario"`
	Username string `json:"nmUsuario"`
	Email    string `json:"email"`
}

type RegisterRequest struct {
	Username string `json:"nmUsuario"`
	Email    string `json:"nmEmail"`
	Password string `json:"nmSenha"`
	Phone    string `json:"cdTelefone"`
	TypeID   int    `json:"cdTipoUsuario"`
}

type RegisterResult struct {
	UserID   int64  `json:"cdUsuario"`
	Username string `json:"nmUsuario"`
	Email    string `json:"email"`
}
