package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskmate/internal/domain"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:5000/api"

// Client is the HTTP client for the task backend. Every response is decoded
// from the {success, message, data} envelope.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request, response body included. Zero means no
	// limit beyond the caller's context.
	Timeout time.Duration
	// Token returns the bearer token to attach; "" sends the request
	// unauthenticated.
	Token  func() string
	Logger *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL string, token func() string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Timeout:    10 * time.Second,
		Token:      token,
	}
}

// APIError wraps non-2xx responses and envelopes with success=false.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }

// IsConflict reports whether err is a 409 from the backend.
func IsConflict(err error) bool { return statusOf(err) == http.StatusConflict }

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

// Login authenticates and returns the session data. The token may arrive
// either inside data or at the top level of the response.
func (c *Client) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResult, error) {
	var resp struct {
		domain.Envelope[*domain.LoginResult]
		Token string `json:"token"`
	}
	if _, err := c.doRaw(ctx, http.MethodPost, "Auth/login", req, &resp); err != nil {
		return domain.LoginResult{}, err
	}
	var out domain.LoginResult
	if resp.Data != nil {
		out = *resp.Data
	}
	if out.Token == "" {
		out.Token = resp.Token
	}
	if out.Token == "" {
		return out, &APIError{StatusCode: http.StatusUnauthorized, Message: firstNonEmpty(resp.Message, "token missing from login response")}
	}
	return out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResult, error) {
	var out domain.RegisterResult
	err := c.do(ctx, http.MethodPost, "Auth/cadastrar", req, &out)
	return out, err
}

// Me returns the profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := c.do(ctx, http.MethodGet, "Usuario/eu", nil, &out)
	return out, err
}

// UpdateProfile updates the profile of userID.
func (c *Client) UpdateProfile(ctx context.Context, userID int64, req domain.UpdateProfileRequest) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := c.do(ctx, http.MethodPut, "Usuario/"+strconv.FormatInt(userID, 10), req, &out)
	return out, err
}

// UserByID fetches a user visible to the caller.
func (c *Client) UserByID(ctx context.Context, userID int64) (domain.ConnectedUser, error) {
	var out domain.ConnectedUser
	err := c.do(ctx, http.MethodGet, "Usuario/"+strconv.FormatInt(userID, 10), nil, &out)
	return out, err
}

// ManagedUsers lists the users overseen by the calling agent.
func (c *Client) ManagedUsers(ctx context.Context) ([]domain.ConnectedUser, error) {
	var out []domain.ConnectedUser
	err := c.do(ctx, http.MethodGet, "Usuario/meus-usuarios", nil, &out)
	return out, err
}

// Agents lists the agents responsible for the calling user.
func (c *Client) Agents(ctx context.Context) ([]domain.ConnectedUser, error) {
	var out []domain.ConnectedUser
	err := c.do(ctx, http.MethodGet, "Usuario/meus-agentes", nil, &out)
	return out, err
}

// GenerateCode asks the backend for a short-lived connection code.
func (c *Client) GenerateCode(ctx context.Context) (domain.GeneratedCode, error) {
	var out domain.GeneratedCode
	err := c.do(ctx, http.MethodPost, "Usuario/gerar-codigo", nil, &out)
	return out, err
}

// Connect redeems a connection code generated by a common user.
func (c *Client) Connect(ctx context.Context, code string) (domain.ConnectedUser, error) {
	var out domain.ConnectedUser
	err := c.do(ctx, http.MethodPost, "Usuario/conectar/"+url.PathEscape(strings.TrimSpace(code)), nil, &out)
	return out, err
}

// Disconnect removes the connection between an agent and a user.
func (c *Client) Disconnect(ctx context.Context, agentID, userID int64) error {
	q := url.Values{}
	q.Set("cdAgente", strconv.FormatInt(agentID, 10))
	q.Set("cdUsuario", strconv.FormatInt(userID, 10))
	return c.do(ctx, http.MethodDelete, "Usuario/desconectar?"+q.Encode(), nil, nil)
}

// Tags lists the available tags.
func (c *Client) Tags(ctx context.Context) ([]domain.Tag, error) {
	var out []domain.Tag
	err := c.do(ctx, http.MethodGet, "Tag", nil, &out)
	return out, err
}

// ListTasks fetches tasks matching q.
func (c *Client) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	var out []domain.Task
	endpoint := "Tarefa"
	if params := taskQueryValues(q); len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

// CreateTask creates a task. The returned task is nil when the backend
// omits it.
func (c *Client) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	var out *domain.Task
	err := c.do(ctx, http.MethodPost, "Tarefa", req, &out)
	return out, err
}

// UpdateTask replaces the editable fields of a task.
func (c *Client) UpdateTask(ctx context.Context, taskID, userID int64, req domain.UpdateTaskRequest) (*domain.Task, error) {
	var out *domain.Task
	err := c.do(ctx, http.MethodPut, taskPath(taskID, "", userID), req, &out)
	return out, err
}

// CompleteTask marks a task as completed.
func (c *Client) CompleteTask(ctx context.Context, taskID, userID int64) (*domain.Task, error) {
	var out *domain.Task
	err := c.do(ctx, http.MethodPatch, taskPath(taskID, "concluir", userID), struct{}{}, &out)
	return out, err
}

// ReopenTask clears the completion of a task.
func (c *Client) ReopenTask(ctx context.Context, taskID, userID int64) (*domain.Task, error) {
	var out *domain.Task
	err := c.do(ctx, http.MethodPatch, taskPath(taskID, "reabrir", userID), struct{}{}, &out)
	return out, err
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID, userID int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(taskID, "", userID), nil, nil)
}

func taskPath(taskID int64, action string, userID int64) string {
	p := "Tarefa/" + strconv.FormatInt(taskID, 10)
	if action != "" {
		p += "/" + action
	}
	return p + "?cdUsuario=" + strconv.FormatInt(userID, 10)
}

func taskQueryValues(q domain.TaskQuery) url.Values {
	v := url.Values{}
	if q.UserID != 0 {
		v.Set("cdUsuario", strconv.FormatInt(q.UserID, 10))
	}
	if q.IncludeConnected != nil {
		v.Set("incluirConectados", strconv.FormatBool(*q.IncludeConnected))
	}
	if q.PriorityID != 0 {
		v.Set("cdPrioridade", strconv.Itoa(q.PriorityID))
	}
	if q.Completed != nil {
		v.Set("concluidas", strconv.FormatBool(*q.Completed))
	}
	if q.Page > 0 {
		v.Set("pagina", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("paginaTamanho", strconv.Itoa(q.PageSize))
	}
	if q.OrderBy != "" {
		v.Set("ordenacao", q.OrderBy)
	}
	if q.Direction != "" {
		v.Set("direcao", q.Direction)
	}
	return v
}

// do decodes an envelope and stores its data in out.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var env domain.Envelope[json.RawMessage]
	status, err := c.doRaw(ctx, method, endpoint, body, &env)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		return nil
	}
	if !env.Success {
		return &APIError{StatusCode: http.StatusOK, Message: env.Message, Errors: env.Errors}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body any, out any) (int, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != nil {
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	c.logger().Debug("api request", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env domain.Envelope[json.RawMessage]
		if json.Unmarshal(b, &env) == nil {
			apiErr.Message = env.Message
			apiErr.Errors = env.Errors
		}
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
