package devserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmate/internal/domain"
)

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("forbidden")
)

var priorities = map[int]domain.Priority{
	domain.PriorityLow:    {ID: domain.PriorityLow, Name: "Baixa"},
	domain.PriorityMedium: {ID: domain.PriorityMedium, Name: "Média"},
	domain.PriorityHigh:   {ID: domain.PriorityHigh, Name: "Alta"},
}

var userTypes = map[int]domain.UserType{
	domain.UserTypeCommon: {ID: domain.UserTypeCommon, Name: "Comum"},
	domain.UserTypeAgent:  {ID: domain.UserTypeAgent, Name: "Agente"},
}

type account struct {
	profile domain.UserProfile
	salt    string
	hash    string
}

type connectionCode struct {
	userID    int64
	expiresAt time.Time
}

// memStore keeps every backend record in memory. All methods are safe for
// concurrent use.
type memStore struct {
	mu sync.Mutex

	nextUser, nextTask, nextTag int64

	accounts map[int64]*account
	byEmail  map[string]int64
	byPhone  map[string]int64
	tasks    map[int64]domain.Task
	tags     map[string]domain.Tag
	// links holds agent -> set of overseen users.
	links map[int64]map[int64]bool
	codes map[string]connectionCode
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[int64]*account{},
		byEmail:  map[string]int64{},
		byPhone:  map[string]int64{},
		tasks:    map[int64]domain.Task{},
		tags:     map[string]domain.Tag{},
		links:    map[int64]map[int64]bool{},
		codes:    map[string]connectionCode{},
	}
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func phoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	errEmailInUse = errors.New("Email já está em uso")
	errPhoneInUse = errors.New("Telefone já está em uso")
)

func (s *memStore) createUser(req domain.RegisterRequest) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(req.Email)
	if _, ok := s.byEmail[email]; ok {
		return domain.UserProfile{}, errEmailInUse
	}
	phone := phoneDigits(req.Phone)
	if _, ok := s.byPhone[phone]; ok && phone != "" {
		return domain.UserProfile{}, errPhoneInUse
	}
	s.nextUser++
	typ := userTypes[req.TypeID]
	acc := &account{
		profile: domain.UserProfile{
			ID:       s.nextUser,
			Username: strings.TrimSpace(req.Username),
			Name:     strings.TrimSpace(req.Username),
			Email:    email,
			Phone:    req.Phone,
			Type:     &typ,
		},
		salt: uuid.NewString(),
	}
	acc.hash = hashPassword(acc.salt, req.Password)
	s.accounts[acc.profile.ID] = acc
	s.byEmail[email] = acc.profile.ID
	if phone != "" {
		s.byPhone[phone] = acc.profile.ID
	}
	return acc.profile, nil
}

func (s *memStore) authenticate(email, password string) (domain.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.UserProfile{}, false
	}
	acc := s.accounts[id]
	if hashPassword(acc.salt, password) != acc.hash {
		return domain.UserProfile{}, false
	}
	return acc.profile, true
}

func (s *memStore) user(id int64) (domain.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return domain.UserProfile{}, false
	}
	return acc.profile, true
}

func (s *memStore) updateUser(id int64, req domain.UpdateProfileRequest) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return domain.UserProfile{}, errNotFound
	}
	if req.Email != "" {
		email := normalizeEmail(req.Email)
		if other, ok := s.byEmail[email]; ok && other != id {
			return domain.UserProfile{}, errEmailInUse
		}
		delete(s.byEmail, acc.profile.Email)
		s.byEmail[email] = id
		acc.profile.Email = email
	}
	if req.Phone != "" {
		phone := phoneDigits(req.Phone)
		if other, ok := s.byPhone[phone]; ok && other != id {
			return domain.UserProfile{}, errPhoneInUse
		}
		delete(s.byPhone, phoneDigits(acc.profile.Phone))
		s.byPhone[phone] = id
		acc.profile.Phone = req.Phone
	}
	if req.Name != "" {
		acc.profile.Name = strings.TrimSpace(req.Name)
	}
	if req.NewPassword != "" {
		acc.hash = hashPassword(acc.salt, req.NewPassword)
	}
	return acc.profile, nil
}

func connected(p domain.UserProfile) domain.ConnectedUser {
	return domain.ConnectedUser{ID: p.ID, Username: p.Username, Email: p.Email}
}

// canView reports whether viewer may read the data of target: itself, an
// agent overseeing target, or a user overseen by the agent target.
func (s *memStore) canViewLocked(viewer, target int64) bool {
	return viewer == target || s.links[viewer][target] || s.links[target][viewer]
}

func (s *memStore) canView(viewer, target int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canViewLocked(viewer, target)
}

// canManage reports whether actor may change the tasks of owner.
func (s *memStore) canManageLocked(actor, owner int64) bool {
	return actor == owner || s.links[actor][owner]
}

func (s *memStore) managedUsers(agent int64) []domain.ConnectedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.ConnectedUser{}
	for id := range s.links[agent] {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, connected(acc.profile))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) agentsOf(user int64) []domain.ConnectedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.ConnectedUser{}
	for agent, users := range s.links {
		if users[user] {
			if acc, ok := s.accounts[agent]; ok {
				out = append(out, connected(acc.profile))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// issueCode returns a fresh six character code for user.
func (s *memStore) issueCode(user int64, expiresAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		if _, taken := s.codes[code]; taken {
			continue
		}
		s.codes[code] = connectionCode{userID: user, expiresAt: expiresAt}
		return code
	}
}

var errCodeInvalid = errors.New("Código inválido ou expirado")

// redeemCode links agent to the owner of code. Codes are single use.
func (s *memStore) redeemCode(agent int64, code string, now time.Time) (domain.ConnectedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	c, ok := s.codes[code]
	if !ok || !now.Before(c.expiresAt) {
		delete(s.codes, code)
		return domain.ConnectedUser{}, errCodeInvalid
	}
	delete(s.codes, code)
	acc, ok := s.accounts[c.userID]
	if !ok {
		return domain.ConnectedUser{}, errCodeInvalid
	}
	if s.links[agent] == nil {
		s.links[agent] = map[int64]bool{}
	}
	s.links[agent][c.userID] = true
	return connected(acc.profile), nil
}

func (s *memStore) disconnect(agent, user int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.links[agent][user] {
		return false
	}
	delete(s.links[agent], user)
	return true
}

func (s *memStore) listTags() []domain.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) resolveTagsLocked(names []string) []domain.Tag {
	out := []domain.Tag{}
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		tag, ok := s.tags[key]
		if !ok {
			s.nextTag++
			tag = domain.Tag{ID: s.nextTag, Name: name}
			s.tags[key] = tag
		}
		out = append(out, tag)
	}
	return out
}

func refOf(p domain.UserProfile) domain.UserRef {
	name := p.Name
	if name == "" {
		name = p.Username
	}
	return domain.UserRef{ID: p.ID, Name: name}
}

type taskFields struct {
	Name        string
	Description string
	PriorityID  int
	Due         *domain.Timestamp
	TagNames    []string
}

func (s *memStore) createTask(actor, owner int64, f taskFields, now time.Time) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ownerAcc, ok := s.accounts[owner]
	if !ok {
		return domain.Task{}, errNotFound
	}
	if !s.canManageLocked(actor, owner) {
		return domain.Task{}, errForbidden
	}
	s.nextTask++
	t := domain.Task{
		ID:        s.nextTask,
		CreatedAt: domain.Timestamp{Time: now.UTC()},
		Owner:     refOf(ownerAcc.profile),
	}
	if actor != owner {
		if actorAcc, ok := s.accounts[actor]; ok {
			ref := refOf(actorAcc.profile)
			t.ProprietaryOwner = &ref
		}
	}
	s.applyLocked(&t, f)
	s.tasks[t.ID] = t
	return t, nil
}

func (s *memStore) applyLocked(t *domain.Task, f taskFields) {
	t.Name = strings.TrimSpace(f.Name)
	t.Description = f.Description
	t.Due = f.Due
	t.Priority = nil
	if p, ok := priorities[f.PriorityID]; ok {
		t.Priority = &p
	}
	t.Tags = s.resolveTagsLocked(f.TagNames)
}

// taskFor loads a task that actor may manage and that belongs to owner.
func (s *memStore) taskForLocked(actor, owner, id int64) (domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok || t.Owner.ID != owner {
		return domain.Task{}, errNotFound
	}
	if !s.canManageLocked(actor, owner) {
		return domain.Task{}, errForbidden
	}
	return t, nil
}

func (s *memStore) updateTask(actor, owner, id int64, f taskFields) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taskForLocked(actor, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	s.applyLocked(&t, f)
	s.tasks[id] = t
	return t, nil
}

func (s *memStore) setCompleted(actor, owner, id int64, at *domain.Timestamp) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taskForLocked(actor, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.CompletedAt = at
	s.tasks[id] = t
	return t, nil
}

func (s *memStore) deleteTask(actor, owner, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.taskForLocked(actor, owner, id); err != nil {
		return err
	}
	delete(s.tasks, id)
	return nil
}

type taskFilter struct {
	Owners     map[int64]bool
	PriorityID int
	Completed  *bool
	OrderBy    string
	Desc       bool
	Page       int
	PageSize   int
}

func (s *memStore) listTasks(f taskFilter) []domain.Task {
	s.mu.Lock()
	out := []domain.Task{}
	for _, t := range s.tasks {
		if !f.Owners[t.Owner.ID] {
			continue
		}
		if f.PriorityID != 0 && (t.Priority == nil || t.Priority.ID != f.PriorityID) {
			continue
		}
		if f.Completed != nil && t.Completed() != *f.Completed {
			continue
		}
		out = append(out, t)
	}
	s.mu.Unlock()

	less := taskOrder(f.OrderBy)
	sort.SliceStable(out, func(i, j int) bool {
		if f.Desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	start := (f.Page - 1) * f.PageSize
	if start >= len(out) {
		return []domain.Task{}
	}
	end := start + f.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end]
}

func taskOrder(field string) func(a, b domain.Task) bool {
	switch strings.ToLower(field) {
	case "nome":
		return func(a, b domain.Task) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "dataprazo":
		// Tasks without a due date sort last.
		return func(a, b domain.Task) bool {
			switch {
			case a.Due == nil:
				return false
			case b.Due == nil:
				return true
			default:
				return a.Due.Before(b.Due.Time)
			}
		}
	case "cdprioridade", "prioridade":
		return func(a, b domain.Task) bool { return priorityID(a) < priorityID(b) }
	case "datacriacao":
		return func(a, b domain.Task) bool { return a.CreatedAt.Before(b.CreatedAt.Time) }
	default:
		return func(a, b domain.Task) bool { return a.ID < b.ID }
	}
}

func priorityID(t domain.Task) int {
	if t.Priority == nil {
		return 0
	}
	return t.Priority.ID
}
