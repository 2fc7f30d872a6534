// Package devserver is an in-memory stand-in for the task backend. It speaks
// the same {success, message, data} envelope protocol and JWT bearer auth as
// production, which makes it suitable for local runs and end-to-end tests.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskmate/internal/domain"
	"taskmate/internal/validate"
)

const (
	DefaultBasePath = "/api"
	DefaultTokenTTL = 24 * time.Hour
	DefaultCodeTTL  = 10 * time.Minute
)

// Config for the development backend.
type Config struct {
	BasePath  string
	JWTSecret string
	TokenTTL  time.Duration
	CodeTTL   time.Duration
	// Seed creates a demo common user and a demo agent.
	Seed   bool
	Now    func() time.Time
	Logger *slog.Logger
}

// Demo accounts created when Config.Seed is set.
const (
	SeedCommonEmail = "ana@taskmate.local"
	SeedAgentEmail  = "bruno@taskmate.local"
	SeedPassword    = "Taskmate@2025"
)

// envelopeError is the error response body: the envelope with success=false.
type envelopeError struct {
	status  int
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (e *envelopeError) GetStatus() int { return e.status }
func (e *envelopeError) Error() string  { return e.Message }

func newError(status int, message string, errs ...string) *envelopeError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &envelopeError{status: status, Message: message, Errors: errs}
}

type server struct {
	cfg   Config
	store *memStore
	log   *slog.Logger
}

// New returns an HTTP handler serving the backend under cfg.BasePath.
func New(cfg Config) (http.Handler, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("devserver: jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{cfg: cfg, store: newMemStore(), log: cfg.Logger}
	if cfg.Seed {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return validationError(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return validationError(status, msg, errs)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)
	router.Use(newAuthMiddleware(cfg.BasePath, cfg.JWTSecret, cfg.Now, s.store))
	hcfg := huma.DefaultConfig("Taskmate development backend", "1.0.0")
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, cfg.BasePath)

	s.registerAuth(group)
	s.registerUsers(group)
	s.registerConnections(group)
	s.registerTags(group)
	s.registerTasks(group)
	return router, nil
}

// validationError maps huma's request validation failures to the envelope.
// Schema violations are reported as 400, as the production backend does.
func validationError(status int, msg string, errs []error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	return newError(status, msg, details...)
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.cfg.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("devserver request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", s.cfg.Now().Sub(start))
	})
}

func (s *server) seed() error {
	ana, err := s.store.createUser(domain.RegisterRequest{
		Username: "Ana", Email: SeedCommonEmail, Password: SeedPassword,
		Phone: "11987654321", TypeID: domain.UserTypeCommon,
	})
	if err != nil {
		return err
	}
	bruno, err := s.store.createUser(domain.RegisterRequest{
		Username: "Bruno", Email: SeedAgentEmail, Password: SeedPassword,
		Phone: "11912345678", TypeID: domain.UserTypeAgent,
	})
	if err != nil {
		return err
	}
	s.store.links[bruno.ID] = map[int64]bool{ana.ID: true}
	now := s.cfg.Now()
	yesterday := domain.NewTimestamp(now.Add(-24 * time.Hour))
	nextWeek := domain.NewTimestamp(now.Add(7 * 24 * time.Hour))
	for _, f := range []taskFields{
		{Name: "Pagar conta de luz", PriorityID: domain.PriorityHigh, Due: yesterday, TagNames: []string{"casa"}},
		{Name: "Consulta médica", Description: "Levar exames", PriorityID: domain.PriorityMedium, Due: nextWeek, TagNames: []string{"saúde"}},
		{Name: "Ligar para a farmácia", PriorityID: domain.PriorityLow},
	} {
		if _, err := s.store.createTask(ana.ID, ana.ID, f, now); err != nil {
			return err
		}
	}
	return nil
}

// caller returns the authenticated principal; the auth middleware guarantees
// one on every protected route.
func caller(ctx context.Context) (Principal, *envelopeError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return Principal{}, newError(http.StatusUnauthorized, "Não autenticado")
	}
	return p, nil
}

func storeError(err error) *envelopeError {
	switch {
	case errors.Is(err, errNotFound):
		return newError(http.StatusNotFound, "Registro não encontrado")
	case errors.Is(err, errForbidden):
		return newError(http.StatusForbidden, "Acesso negado")
	case errors.Is(err, errEmailInUse), errors.Is(err, errPhoneInUse):
		return newError(http.StatusConflict, err.Error())
	case errors.Is(err, errCodeInvalid):
		return newError(http.StatusBadRequest, err.Error())
	default:
		return newError(http.StatusInternalServerError, "Erro interno", err.Error())
	}
}

func (s *server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/Auth/login",
		Summary:     "Authenticate and mint a JWT",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginBody `json:"body"`
	}) (*envelopeOutput[domain.LoginResult], error) {
		profile, found := s.store.authenticate(input.Body.Email, input.Body.Senha)
		if !found {
			return nil, newError(http.StatusUnauthorized, "Email ou senha inválidos")
		}
		token, err := signToken(s.cfg.JWTSecret, profile, s.cfg.Now(), s.cfg.TokenTTL)
		if err != nil {
			return nil, newError(http.StatusInternalServerError, "Erro interno", err.Error())
		}
		return ok("Login realizado com sucesso", domain.LoginResult{
			Token:    token,
			UserID:   profile.ID,
			Username: profile.Username,
			Email:    profile.Email,
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/Auth/cadastrar",
		Summary:       "Create an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterBody `json:"body"`
	}) (*envelopeOutput[domain.RegisterResult], error) {
		req := input.Body.request()
		if problems := validate.Password(req.Password); len(problems) > 0 {
			return nil, newError(http.StatusBadRequest, "Senha não atende aos requisitos", problems...)
		}
		if err := validate.Registration(req, req.Password); err != nil {
			return nil, newError(http.StatusBadRequest, "Dados inválidos", err.Error())
		}
		profile, err := s.store.createUser(req)
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Usuário cadastrado com sucesso", domain.RegisterResult{
			UserID:   profile.ID,
			Username: profile.Username,
			Email:    profile.Email,
		}), nil
	})
}

type userPath struct {
	ID int64 `path:"cd"`
}

func (s *server) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/Usuario/eu",
		Summary:     "Profile of the authenticated user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput[domain.UserProfile], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile, found := s.store.user(p.UserID)
		if !found {
			return nil, storeError(errNotFound)
		}
		return ok("", profile), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-by-id",
		Method:      http.MethodGet,
		Path:        "/Usuario/{cd}",
		Summary:     "A user visible to the caller",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *userPath) (*envelopeOutput[domain.ConnectedUser], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile, found := s.store.user(input.ID)
		if !found {
			return nil, storeError(errNotFound)
		}
		if !s.store.canView(p.UserID, input.ID) {
			return nil, storeError(errForbidden)
		}
		return ok("", connected(profile)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPut,
		Path:        "/Usuario/{cd}",
		Summary:     "Update the caller's profile",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"cd"`
		Body UpdateProfileBody `json:"body"`
	}) (*envelopeOutput[domain.UserProfile], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.UserID != input.ID {
			return nil, storeError(errForbidden)
		}
		if input.Body.NovaSenha != "" {
			if problems := validate.Password(input.Body.NovaSenha); len(problems) > 0 {
				return nil, newError(http.StatusBadRequest, "Senha não atende aos requisitos", problems...)
			}
		}
		profile, err := s.store.updateUser(p.UserID, domain.UpdateProfileRequest{
			Name:        input.Body.Nome,
			Email:       input.Body.Email,
			Phone:       input.Body.Telefone,
			NewPassword: input.Body.NovaSenha,
		})
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Perfil atualizado", profile), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "managed-users",
		Method:      http.MethodGet,
		Path:        "/Usuario/meus-usuarios",
		Summary:     "Users overseen by the calling agent",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput[[]domain.ConnectedUser], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return ok("", s.store.managedUsers(p.UserID)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-agents",
		Method:      http.MethodGet,
		Path:        "/Usuario/meus-agentes",
		Summary:     "Agents connected to the calling user",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput[[]domain.ConnectedUser], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return ok("", s.store.agentsOf(p.UserID)), nil
	})
}

func (s *server) registerConnections(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-code",
		Method:      http.MethodPost,
		Path:        "/Usuario/gerar-codigo",
		Summary:     "Generate a connection code for an agent to redeem",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput[domain.GeneratedCode], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.isAgent() {
			return nil, newError(http.StatusForbidden, "Apenas usuários comuns podem gerar códigos")
		}
		expires := s.cfg.Now().Add(s.cfg.CodeTTL).UTC()
		code := s.store.issueCode(p.UserID, expires)
		return ok("Código gerado", domain.GeneratedCode{Code: code, ExpiresAt: domain.Timestamp{Time: expires}}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "connect",
		Method:      http.MethodPost,
		Path:        "/Usuario/conectar/{codigo}",
		Summary:     "Redeem a connection code",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Code string `path:"codigo"`
	}) (*envelopeOutput[domain.ConnectedUser], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.isAgent() {
			return nil, newError(http.StatusForbidden, "Apenas agentes podem se conectar")
		}
		u, err := s.store.redeemCode(p.UserID, input.Code, s.cfg.Now())
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Conectado com sucesso", u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disconnect",
		Method:      http.MethodDelete,
		Path:        "/Usuario/desconectar",
		Summary:     "Remove an agent/user connection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID int64 `query:"cdAgente" required:"true"`
		UserID  int64 `query:"cdUsuario" required:"true"`
	}) (*envelopeOutput[any], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.UserID != input.AgentID && p.UserID != input.UserID {
			return nil, storeError(errForbidden)
		}
		if !s.store.disconnect(input.AgentID, input.UserID) {
			return nil, storeError(errNotFound)
		}
		return ok[any]("Desconectado", nil), nil
	})
}

func (s *server) registerTags(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/Tag",
		Summary:     "List tags",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput[[]domain.Tag], error) {
		return ok("", s.store.listTags()), nil
	})
}

type taskPath struct {
	ID     int64 `path:"cd"`
	UserID int64 `query:"cdUsuario"`
}

// owner resolves the user whose task is addressed; 0 means the caller.
func owner(p Principal, userID int64) int64 {
	if userID == 0 {
		return p.UserID
	}
	return userID
}

func (s *server) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/Tarefa",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID           int64  `query:"cdUsuario"`
		IncludeConnected bool   `query:"incluirConectados"`
		PriorityID       int    `query:"cdPrioridade"`
		Completed        string `query:"concluidas"`
		Page             int    `query:"pagina"`
		PageSize         int    `query:"paginaTamanho"`
		OrderBy          string `query:"ordenacao"`
		Direction        string `query:"direcao"`
	}) (*envelopeOutput[[]domain.Task], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := owner(p, input.UserID)
		if !s.store.canView(p.UserID, target) {
			return nil, storeError(errForbidden)
		}
		f := taskFilter{
			Owners:     map[int64]bool{target: true},
			PriorityID: input.PriorityID,
			OrderBy:    input.OrderBy,
			Desc:       strings.EqualFold(input.Direction, "DESC"),
			Page:       input.Page,
			PageSize:   input.PageSize,
		}
		if input.IncludeConnected && p.isAgent() && target == p.UserID {
			for _, u := range s.store.managedUsers(p.UserID) {
				f.Owners[u.ID] = true
			}
		}
		if input.Completed != "" {
			done, err := strconv.ParseBool(input.Completed)
			if err != nil {
				return nil, newError(http.StatusBadRequest, "concluidas deve ser true ou false")
			}
			f.Completed = &done
		}
		if f.Page <= 0 {
			f.Page = 1
		}
		if f.PageSize <= 0 {
			f.PageSize = 100
		}
		return ok("", s.store.listTasks(f)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/Tarefa",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body TaskBody `json:"body"`
	}) (*envelopeOutput[domain.Task], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, badReq := s.taskFields(input.Body)
		if badReq != nil {
			return nil, badReq
		}
		t, err := s.store.createTask(p.UserID, owner(p, input.Body.CdUsuario), f, s.cfg.Now())
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Tarefa criada", t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/Tarefa/{cd}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64    `path:"cd"`
		UserID int64    `query:"cdUsuario"`
		Body   TaskBody `json:"body"`
	}) (*envelopeOutput[domain.Task], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, badReq := s.taskFields(input.Body)
		if badReq != nil {
			return nil, badReq
		}
		t, err := s.store.updateTask(p.UserID, owner(p, input.UserID), input.ID, f)
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Tarefa atualizada", t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPatch,
		Path:        "/Tarefa/{cd}/concluir",
		Summary:     "Mark a task completed",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*envelopeOutput[domain.Task], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := s.store.setCompleted(p.UserID, owner(p, input.UserID), input.ID, domain.NewTimestamp(s.cfg.Now()))
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Tarefa concluída", t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-task",
		Method:      http.MethodPatch,
		Path:        "/Tarefa/{cd}/reabrir",
		Summary:     "Reopen a completed task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*envelopeOutput[domain.Task], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := s.store.setCompleted(p.UserID, owner(p, input.UserID), input.ID, nil)
		if err != nil {
			return nil, storeError(err)
		}
		return ok("Tarefa reaberta", t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/Tarefa/{cd}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*envelopeOutput[any], error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.store.deleteTask(p.UserID, owner(p, input.UserID), input.ID); err != nil {
			return nil, storeError(err)
		}
		return ok[any]("Tarefa excluída", nil), nil
	})
}

func (s *server) taskFields(body TaskBody) (taskFields, *envelopeError) {
	if strings.TrimSpace(body.Nome) == "" {
		return taskFields{}, newError(http.StatusBadRequest, "Nome é obrigatório")
	}
	if body.CdPrioridade != 0 {
		if _, known := priorities[body.CdPrioridade]; !known {
			return taskFields{}, newError(http.StatusBadRequest, "Prioridade inválida")
		}
	}
	f, err := body.fields()
	if err != nil {
		return taskFields{}, newError(http.StatusBadRequest, "Data de prazo inválida", err.Error())
	}
	return f, nil
}
