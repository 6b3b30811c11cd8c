package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
)

// Deposit is what a provider hands back for a newly created deposit.
// Instructions is the provider's payload, kept verbatim for display.
type Deposit struct {
	ID           string
	Instructions json.RawMessage
}

// Provider is one payment backend. Status returns the provider's raw status
// body; reading it is the job of Normalize.
type Provider interface {
	Name() string
	CreateDeposit(ctx context.Context, amount int64) (*Deposit, error)
	DepositStatus(ctx context.Context, depositID string) ([]byte, error)
}

// depositAPI is the create/status HTTP plumbing both providers share.
type depositAPI struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func newDepositAPI(name, baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) depositAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return depositAPI{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With("provider", name),
	}
}

type createDepositResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *depositAPI) create(ctx context.Context, body any) (*Deposit, error) {
	respBody, status, err := a.do(ctx, http.MethodPost, "/deposit/create", body, "create")
	if err != nil {
		return nil, err
	}

	var result createDepositResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, truncate(respBody))
	}
	if status < 200 || status >= 300 || !result.Success {
		return nil, fmt.Errorf("%s returned status %d: %s", a.name, status, result.Message)
	}

	var data struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, fmt.Errorf("decode deposit data: %w", err)
	}
	id := rawID(data.ID)
	if id == "" {
		return nil, fmt.Errorf("%s response carries no deposit id", a.name)
	}

	a.logger.InfoContext(ctx, "deposit created", "deposit_id", id)
	return &Deposit{ID: id, Instructions: result.Data}, nil
}

func (a *depositAPI) status(ctx context.Context, depositID string) ([]byte, error) {
	path := "/deposit/status?id=" + url.QueryEscape(depositID)
	respBody, status, err := a.do(ctx, http.MethodGet, path, nil, "status")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%s returned status %d (body: %s)", a.name, status, truncate(respBody))
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("%s returned a non-JSON status body: %s", a.name, truncate(respBody))
	}
	return respBody, nil
}

func (a *depositAPI) do(ctx context.Context, method, path string, body any, op string) (respBody []byte, status int, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(a.name, op, metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// rawID accepts both "abc" and 123 as an id.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
