package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/platform/cache"
	"github.com/phrazzld/rhqueue/internal/redact"
	"github.com/phrazzld/rhqueue/internal/resilience"
)

// Endpoint paths relative to the base URL.
const (
	pathSubmit  = "/task/openapi/ai-app/run"
	pathOutputs = "/task/openapi/outputs"
	pathCancel  = "/task/openapi/cancel"
	pathAccount = "/uc/openapi/accountStatus"
)

const accountCacheTTL = 30 * time.Second

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// ClientConfig holds the dependencies of a Client.
type ClientConfig struct {
	BaseURL string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// APIKey is consulted on every request so key changes apply immediately.
	APIKey func() string
	// Breaker is optional; when nil every call goes through.
	Breaker *resilience.Breaker
	// Cache is optional; when nil account lookups always hit the network.
	Cache *cache.Cache
}

// Client talks to the RunningHub workflow API. It holds no scheduling state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     func() string
	breaker    *resilience.Breaker
	cache      *cache.Cache
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("runninghub base url is required")
	}
	if cfg.APIKey == nil {
		return nil, errors.New("runninghub api key source is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		apiKey:     cfg.APIKey,
		breaker:    cfg.Breaker,
		cache:      cfg.Cache,
		logger:     logger.With("component", "runninghub_client"),
	}, nil
}

// Submit starts a run of the app with the given node assignments and returns
// the remote job ID. Every failure is a *SubmissionError.
func (c *Client) Submit(ctx context.Context, appID string, params []domain.NodeInfo) (string, error) {
	key := c.apiKey()
	if key == "" {
		return "", &SubmissionError{AppID: appID, Err: ErrMissingAPIKey}
	}

	nodes := make([]wireNode, len(params))
	for i, p := range params {
		nodes[i] = wireNode{NodeID: p.NodeID, FieldName: p.FieldName, FieldValue: p.FieldValue}
	}

	env, err := c.call(ctx, pathSubmit, submitRequest{APIKey: key, WebappID: appID, NodeInfoList: nodes})
	if err != nil {
		return "", &SubmissionError{AppID: appID, Err: err}
	}
	if env.Code != CodeSuccess {
		return "", &SubmissionError{AppID: appID, Err: &APIError{Code: env.Code, Message: env.Msg}}
	}

	var data submitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", &SubmissionError{AppID: appID, Err: fmt.Errorf("failed to decode submission data: %w", err)}
	}
	if data.TaskID == "" {
		return "", &SubmissionError{AppID: appID, Err: ErrMissingJobID}
	}

	c.logger.Debug("remote job submitted", "app_id", appID, "remote_job_id", string(data.TaskID))
	return string(data.TaskID), nil
}

// Poll fetches the current state of a remote job. A returned error is
// transient; any well-formed response, whatever its code, is a PollResult.
func (c *Client) Poll(ctx context.Context, remoteJobID string) (*PollResult, error) {
	key := c.apiKey()
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	env, err := c.call(ctx, pathOutputs, jobRequest{APIKey: key, TaskID: remoteJobID})
	if err != nil {
		return nil, err
	}

	result := &PollResult{
		Status:  StatusFromCode(env.Code),
		Code:    env.Code,
		Message: env.Msg,
		Data:    env.Data,
	}

	if result.Status == StatusFailed && len(env.Data) > 0 {
		var fd failedData
		if err := json.Unmarshal(env.Data, &fd); err != nil {
			c.logger.Debug("failure detail not decodable",
				"remote_job_id", remoteJobID,
				"error", err)
		} else {
			result.Failure = fd.FailedReason
		}
	}

	return result, nil
}

// Cancel asks the remote service to stop a job. Callers treat failures as
// best-effort.
func (c *Client) Cancel(ctx context.Context, remoteJobID string) error {
	key := c.apiKey()
	if key == "" {
		return ErrMissingAPIKey
	}

	env, err := c.call(ctx, pathCancel, jobRequest{APIKey: key, TaskID: remoteJobID})
	if err != nil {
		return err
	}
	if env.Code != CodeSuccess {
		return &APIError{Code: env.Code, Message: env.Msg}
	}
	return nil
}

// AccountStatus returns the balance of the configured key. Results are
// cached briefly per key.
func (c *Client) AccountStatus(ctx context.Context) (*AccountStatus, error) {
	key := c.apiKey()
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	cacheKey := "account_status:" + key
	if c.cache != nil {
		var cached AccountStatus
		if c.cache.GetJSON(cacheKey, &cached) {
			return &cached, nil
		}
	}

	env, err := c.call(ctx, pathAccount, accountRequest{APIKey: key})
	if err != nil {
		return nil, err
	}
	if env.Code != CodeSuccess {
		return nil, &APIError{Code: env.Code, Message: env.Msg}
	}

	var data accountData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode account status: %w", err)
	}

	status := &AccountStatus{
		RemainCoins:       string(data.RemainCoins),
		CurrentTaskCounts: string(data.CurrentTaskCounts),
		RemainMoney:       string(data.RemainMoney),
		Currency:          data.Currency,
		APIType:           data.APIType,
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(cacheKey, status, accountCacheTTL); err != nil {
			c.logger.Warn("failed to cache account status", "error", err)
		}
	}
	return status, nil
}

// transportError marks failures that say something about the health of the
// remote service, as opposed to well-formed rejections.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsTransportFailure reports whether err should count against the breaker.
func IsTransportFailure(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// call POSTs body as JSON and decodes the response envelope.
func (c *Client) call(ctx context.Context, path string, body any) (*envelope, error) {
	var env *envelope
	do := func(ctx context.Context) error {
		var err error
		env, err = c.do(ctx, path, body)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, do)
	} else {
		err = do(ctx)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("runninghub request failed", "path", path, "error", redact.Error(err))
		return nil, &transportError{err: fmt.Errorf("request to %s failed: %w", path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response from %s: %w", path, err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &transportError{err: fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return &env, nil
}
