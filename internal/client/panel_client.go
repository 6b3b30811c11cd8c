package client

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

	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// ErrDuplicateIdentity matches an APIError whose rule is "unique".
var ErrDuplicateIdentity = errors.New("panel identity already exists")

// APIError is a non-success answer from the panel application API.
// Structured is set when the body carried the panel's errors envelope.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
	Rule       string
	Structured bool
}

// Rejected reports whether the panel definitively refused the request, so
// nothing was created remotely. Gateway and server errors (5xx without an
// errors envelope) leave the remote state unknown.
func (e *APIError) Rejected() bool {
	return e.Structured || (e.StatusCode >= 400 && e.StatusCode < 500)
}

func (e *APIError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("panel returned status %d: %s (%s, rule=%s)", e.StatusCode, e.Detail, e.Code, e.Rule)
	}
	return fmt.Sprintf("panel returned status %d: %s (%s)", e.StatusCode, e.Detail, e.Code)
}

func (e *APIError) Is(target error) bool {
	return target == ErrDuplicateIdentity && e.Rule == "unique"
}

// PanelClient calls the panel application API to manage users and servers
type PanelClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPanelClient creates a new panel client. A nil httpClient gets a 30s timeout.
func NewPanelClient(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *PanelClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PanelClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With("component", "panel_client"),
	}
}

// CreateUserRequest is the request to create a panel user
type CreateUserRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Language  string `json:"language"`
	Password  string `json:"password"`
}

// PanelUser is the subset of user attributes we read
type PanelUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreateServerRequest is the request to create a panel server
type CreateServerRequest struct {
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	User          int64                 `json:"user"`
	Egg           int                   `json:"egg"`
	DockerImage   string                `json:"docker_image"`
	Startup       string                `json:"startup"`
	ExternalID    string                `json:"external_id,omitempty"` // provision attempt id, used by the orphan sweeper
	Environment   map[string]string     `json:"environment"`
	Limits        models.ResourceLimits `json:"limits"`
	FeatureLimits models.FeatureLimits  `json:"feature_limits"`
	Deploy        DeployRequest         `json:"deploy"`
}

type DeployRequest struct {
	Locations   []int    `json:"locations"`
	DedicatedIP bool     `json:"dedicated_ip"`
	PortRange   []string `json:"port_range"`
}

// PanelServer is the subset of server attributes we read
type PanelServer struct {
	ID         int64                 `json:"id"`
	Identifier string                `json:"identifier"`
	Name       string                `json:"name"`
	ExternalID string                `json:"external_id"`
	User       int64                 `json:"user"`
	Limits     models.ResourceLimits `json:"limits"`
}

type userEnvelope struct {
	Attributes PanelUser `json:"attributes"`
}

type serverEnvelope struct {
	Attributes PanelServer `json:"attributes"`
}

type userListEnvelope struct {
	Data []userEnvelope `json:"data"`
}

type errorEnvelope struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
		Meta   struct {
			Rule        string `json:"rule"`
			SourceField string `json:"source_field"`
		} `json:"meta"`
	} `json:"errors"`
}

// CreateUser creates a panel user. A taken username or e-mail yields an
// error matching ErrDuplicateIdentity.
func (c *PanelClient) CreateUser(ctx context.Context, req *CreateUserRequest) (*PanelUser, error) {
	c.logger.InfoContext(ctx, "creating panel user", "username", req.Username)

	respBody, err := c.do(ctx, http.MethodPost, "/api/application/users", req, "create_user")
	if err != nil {
		return nil, err
	}

	var result userEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	if result.Attributes.ID == 0 {
		return nil, fmt.Errorf("panel user response carries no id (body: %s)", string(respBody))
	}

	c.logger.InfoContext(ctx, "panel user created", "user_id", result.Attributes.ID, "username", result.Attributes.Username)
	return &result.Attributes, nil
}

// CreateServer creates a server owned by req.User
func (c *PanelClient) CreateServer(ctx context.Context, req *CreateServerRequest) (*PanelServer, error) {
	c.logger.InfoContext(ctx, "creating panel server", "name", req.Name, "user_id", req.User, "external_id", req.ExternalID)

	respBody, err := c.do(ctx, http.MethodPost, "/api/application/servers", req, "create_server")
	if err != nil {
		return nil, err
	}

	var result serverEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	if result.Attributes.ID == 0 {
		return nil, fmt.Errorf("panel server response carries no id (body: %s)", string(respBody))
	}

	c.logger.InfoContext(ctx, "panel server created", "server_id", result.Attributes.ID)
	return &result.Attributes, nil
}

// FindUserByUsername returns nil, nil when no user has exactly that username.
func (c *PanelClient) FindUserByUsername(ctx context.Context, username string) (*PanelUser, error) {
	path := "/api/application/users?filter%5Busername%5D=" + url.QueryEscape(username)
	respBody, err := c.do(ctx, http.MethodGet, path, nil, "find_user")
	if err != nil {
		return nil, err
	}

	var result userListEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	for _, u := range result.Data {
		if u.Attributes.Username == username {
			user := u.Attributes
			return &user, nil
		}
	}
	return nil, nil
}

// GetServerByExternalID returns nil, nil when the panel has no such server.
func (c *PanelClient) GetServerByExternalID(ctx context.Context, externalID string) (*PanelServer, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/api/application/servers/external/"+url.PathEscape(externalID), nil, "get_server")
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result serverEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	return &result.Attributes, nil
}

// DeleteServer force-deletes a server. A missing server is not an error.
func (c *PanelClient) DeleteServer(ctx context.Context, serverID int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/application/servers/"+strconv.FormatInt(serverID, 10)+"/force", nil, "delete_server")
	if isNotFound(err) {
		return nil
	}
	return err
}

// DeleteUser deletes a user. A missing user is not an error.
func (c *PanelClient) DeleteUser(ctx context.Context, userID int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/application/users/"+strconv.FormatInt(userID, 10), nil, "delete_user")
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *PanelClient) do(ctx context.Context, method, path string, body any, op string) (respBody []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues("panel", op, metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// 面板在 200 响应中也可能带 errors 字段
	var envelope errorEnvelope
	_ = json.Unmarshal(respBody, &envelope)
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       first.Code,
			Detail:     first.Detail,
			Rule:       first.Meta.Rule,
			Structured: true,
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: truncate(respBody)}
	}

	return respBody, nil
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
