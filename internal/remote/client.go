// Package remote is a typed client for the orchestrator backend's
// project-scoped HTTP surface: projects, missions, agents, memory and
// contracts. The live event stream is handled by the session package.
package remote

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
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flitsinc/agentlab/internal/tracing"
)

const (
	// ContractTTL bounds how long fetched contract bodies are reused.
	ContractTTL             = 10 * time.Minute
	contractCleanupInterval = 30 * time.Minute
)

type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	RepoURL    string    `json:"repo_url,omitempty"`
	LocalPath  string    `json:"local_path"`
	CLIAdapter string    `json:"cli_adapter"`
	CreatedAt  time.Time `json:"created_at"`
	Status     string    `json:"status"`
}

// CreateProject sources.
const (
	SourceClone = "clone"
	SourceLocal = "local"
	SourceInit  = "init"
)

type CreateProjectRequest struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	RepoURL    string `json:"repo_url,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	CLIAdapter string `json:"cli_adapter,omitempty"`
}

type Agent struct {
	ID              string     `json:"id"`
	Domain          string     `json:"domain"`
	Label           string     `json:"label"`
	Status          string     `json:"status"`
	WorktreePath    string     `json:"worktree_path"`
	Branch          string     `json:"branch"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	ValidationLevel int        `json:"validation_level"`
	OutputLineCount int        `json:"output_line_count"`
	Error           *string    `json:"error"`
}

type Contract struct {
	File     string  `json:"file"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
	// Tracer defaults to the global provider.
	Tracer trace.Tracer

	contracts *gocache.Cache
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		contracts: gocache.New(ContractTTL, contractCleanupInterval),
	}
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("github.com/flitsinc/agentlab/internal/remote")
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.doJSON(ctx, "list projects", http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Project{}
	}
	return out, nil
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Project{}, fmt.Errorf("create project: name is required")
	}
	switch req.Source {
	case SourceClone:
		if req.RepoURL == "" {
			return Project{}, fmt.Errorf("create project: repo url is required for %s", SourceClone)
		}
	case SourceLocal:
		if req.LocalPath == "" {
			return Project{}, fmt.Errorf("create project: local path is required for %s", SourceLocal)
		}
	case SourceInit:
	default:
		return Project{}, fmt.Errorf("create project: unknown source %q", req.Source)
	}
	var out Project
	if err := c.doJSON(ctx, "create project", http.MethodPost, "/api/projects", req, &out); err != nil {
		return Project{}, err
	}
	return out, nil
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	if err := c.doJSON(ctx, "delete project", http.MethodDelete, projectPath(projectID, ""), nil, nil); err != nil {
		return err
	}
	c.forgetContracts(projectID)
	return nil
}

// SendMission hands a natural-language mission to the project's coordinator.
func (c *Client) SendMission(ctx context.Context, projectID, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("send mission: message is required")
	}
	body := map[string]string{"message": message}
	return c.doJSON(ctx, "send mission", http.MethodPost, projectPath(projectID, "/mission"), body, nil)
}

// GlobalMemory returns the shared memory document, or "" when the backend
// has none.
func (c *Client) GlobalMemory(ctx context.Context, projectID string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	ok, err := c.getOptional(ctx, "global memory", projectPath(projectID, "/memory/global"), &out)
	if err != nil || !ok {
		return "", err
	}
	return out.Content, nil
}

func (c *Client) WriteGlobalMemory(ctx context.Context, projectID, content string) error {
	body := map[string]string{"content": content}
	return c.doJSON(ctx, "write global memory", http.MethodPut, projectPath(projectID, "/memory/global"), body, nil)
}

// AgentMemories lists the per-agent memory files of a project.
func (c *Client) AgentMemories(ctx context.Context, projectID string) ([]string, error) {
	var out []string
	if _, err := c.getOptional(ctx, "agent memories", projectPath(projectID, "/memory/agents"), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (c *Client) Contracts(ctx context.Context, projectID string) ([]Contract, error) {
	var out []Contract
	if _, err := c.getOptional(ctx, "contracts", projectPath(projectID, "/contracts"), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Contract{}
	}
	return out, nil
}

// ContractContent returns a contract body. Bodies are cached per project and
// file for ContractTTL; a missing contract yields "" and is not cached.
func (c *Client) ContractContent(ctx context.Context, projectID, file string) (string, error) {
	key := contractKey(projectID, file)
	if c.contracts != nil {
		if v, found := c.contracts.Get(key); found {
			if content, ok := v.(string); ok {
				c.logger().Debug("contract cache hit", "project_id", projectID, "file", file)
				return content, nil
			}
		}
	}
	var out struct {
		Content string `json:"content"`
	}
	ok, err := c.getOptional(ctx, "contract content", projectPath(projectID, "/contracts/"+url.PathEscape(file)), &out)
	if err != nil || !ok {
		return "", err
	}
	if c.contracts != nil {
		c.contracts.SetDefault(key, out.Content)
	}
	return out.Content, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if _, err := c.getOptional(ctx, "list agents", "/api/agents", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Agent{}
	}
	return out, nil
}

func (c *Client) Agent(ctx context.Context, agentID string) (Agent, error) {
	var out Agent
	if err := c.doJSON(ctx, "get agent", http.MethodGet, "/api/agents/"+url.PathEscape(agentID), nil, &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

func (c *Client) KillAgent(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, "kill agent", http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/kill", nil, nil)
}

func projectPath(projectID, suffix string) string {
	return "/api/projects/" + url.PathEscape(projectID) + suffix
}

func contractKey(projectID, file string) string {
	return projectID + "/" + file
}

func (c *Client) forgetContracts(projectID string) {
	if c.contracts == nil {
		return
	}
	prefix := projectID + "/"
	for key := range c.contracts.Items() {
		if strings.HasPrefix(key, prefix) {
			c.contracts.Delete(key)
		}
	}
}

// getOptional reads a resource that the dashboard treats as absent on any
// non-2xx answer. Transport and decode failures are still errors.
func (c *Client) getOptional(ctx context.Context, op, path string, dest any) (bool, error) {
	err := c.doJSON(ctx, op, http.MethodGet, path, nil, dest)
	var se *StatusError
	if errors.As(err, &se) {
		c.logger().Debug("remote resource unavailable", "op", op, "status", se.Code)
		return false, nil
	}
	return err == nil, err
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, dest any) (err error) {
	ctx, span := c.tracer().Start(ctx, tracing.SpanRemote, trace.WithAttributes(
		attribute.String("remote.op", op),
		attribute.String("http.request.method", method),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op)
		}
		span.End()
	}()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Code: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorDetail pulls the backend's {"detail": ...} message, falling back to
// the raw body.
func errorDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(data))
}
