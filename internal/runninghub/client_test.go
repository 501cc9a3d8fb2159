package runninghub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/platform/cache"
	"github.com/phrazzld/rhqueue/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := ClientConfig{
		BaseURL: srv.URL,
		APIKey:  func() string { return "test-key" },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	return c
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, msg string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data}))
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	var got submitRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSubmit, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(t, w, 0, "success", map[string]any{"taskId": "1887", "taskStatus": "QUEUED"})
	}, nil)

	id, err := c.Submit(context.Background(), "app-9", []domain.NodeInfo{
		{NodeID: "3", NodeName: "Prompt", FieldName: "text", FieldValue: "hello", FieldType: domain.FieldTypeString},
	})

	require.NoError(t, err)
	assert.Equal(t, "1887", id)
	assert.Equal(t, "test-key", got.APIKey)
	assert.Equal(t, "app-9", got.WebappID)
	assert.Equal(t, []wireNode{{NodeID: "3", FieldName: "text", FieldValue: "hello"}}, got.NodeInfoList)
}

func TestSubmitNumericTaskID(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"taskId":1905023456789}}`))
	}, nil)

	id, err := c.Submit(context.Background(), "app", nil)
	require.NoError(t, err)
	assert.Equal(t, "1905023456789", id)
}

func TestSubmitFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		key     string
		check   func(t *testing.T, err error)
	}{
		{
			name: "remote rejects",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 421, "TASK_QUEUE_MAXED", nil)
			},
			key: "k",
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, 421, apiErr.Code)
			},
		},
		{
			name: "missing task id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 0, "success", map[string]any{})
			},
			key: "k",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingJobID)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			key: "k",
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransportFailure(err))
			},
		},
		{
			name: "no api key",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("request must not be sent without a key")
			},
			key: "",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingAPIKey)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := tc.key
			c := newTestClient(t, tc.handler, func(cfg *ClientConfig) {
				cfg.APIKey = func() string { return key }
			})

			_, err := c.Submit(context.Background(), "app-1", nil)

			require.Error(t, err)
			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, "app-1", subErr.AppID)
			tc.check(t, err)
		})
	}
}

func TestPoll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus Status
		check      func(t *testing.T, r *PollResult)
	}{
		{
			name:       "success carries raw outputs",
			body:       `{"code":0,"msg":"success","data":[{"fileUrl":"https://cdn/x.png","consumeCoins":"3"}]}`,
			wantStatus: StatusSuccess,
			check: func(t *testing.T, r *PollResult) {
				out, err := NormalizeOutputs(r.Data)
				require.NoError(t, err)
				assert.Len(t, out.Files, 1)
			},
		},
		{
			name:       "running",
			body:       `{"code":804,"msg":"APIKEY_TASK_IS_RUNNING","data":null}`,
			wantStatus: StatusRunning,
		},
		{
			name:       "remote queue",
			body:       `{"code":813,"msg":"APIKEY_TASK_IS_QUEUED","data":null}`,
			wantStatus: StatusQueued,
		},
		{
			name:       "saturated",
			body:       `{"code":806,"msg":"APIKEY_TASK_QUEUE_MAXED","data":null}`,
			wantStatus: StatusQueueSaturated,
		},
		{
			name: "failed with reason",
			body: `{"code":805,"msg":"APIKEY_TASK_STATUS_FAIL","data":{"failedReason":{
				"node_name":"KSampler","exception_message":"CUDA out of memory","exception_type":"RuntimeError",
				"traceback":["line 1","line 2"]}}}`,
			wantStatus: StatusFailed,
			check: func(t *testing.T, r *PollResult) {
				require.NotNil(t, r.Failure)
				assert.Equal(t, "[KSampler] CUDA out of memory", r.FailureMessage())
			},
		},
		{
			name:       "failed with undecodable reason",
			body:       `{"code":805,"msg":"APIKEY_TASK_STATUS_FAIL","data":"oops"}`,
			wantStatus: StatusFailed,
			check: func(t *testing.T, r *PollResult) {
				assert.Nil(t, r.Failure)
				assert.Equal(t, "APIKEY_TASK_STATUS_FAIL", r.FailureMessage())
			},
		},
		{
			name:       "unknown code",
			body:       `{"code":1234,"msg":"?","data":null}`,
			wantStatus: StatusUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got jobRequest
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, pathOutputs, r.URL.Path)
				_ = json.NewDecoder(r.Body).Decode(&got)
				_, _ = w.Write([]byte(tc.body))
			}, nil)

			res, err := c.Poll(context.Background(), "job-1")

			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, "job-1", got.TaskID)
			if tc.check != nil {
				tc.check(t, res)
			}
		})
	}
}

func TestPollTransportErrorIsReturned(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, nil)

	_, err := c.Poll(context.Background(), "job-1")
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, pathCancel, r.URL.Path)
		writeEnvelope(t, w, 0, "success", nil)
	}, nil)

	require.NoError(t, c.Cancel(context.Background(), "job-1"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAccountStatusIsCached(t *testing.T) {
	t.Parallel()

	c2, err := cache.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(c2.Close)

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, pathAccount, r.URL.Path)
		writeEnvelope(t, w, 0, "success", map[string]any{
			"remainCoins": "1520", "currentTaskCounts": 1, "remainMoney": "12.50", "currency": "CNY", "apiType": "NORMAL",
		})
	}, func(cfg *ClientConfig) { cfg.Cache = c2 })

	first, err := c.AccountStatus(context.Background())
	require.NoError(t, err)
	second, err := c.AccountStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, "1520", first.RemainCoins)
	assert.Equal(t, "1", first.CurrentTaskCounts)
	assert.Equal(t, "CNY", first.Currency)
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *ClientConfig) {
		cfg.Breaker = resilience.NewBreaker(2, time.Minute,
			resilience.WithFailureFilter(IsTransportFailure))
	})

	for i := 0; i < 2; i++ {
		_, err := c.Poll(context.Background(), "job")
		require.Error(t, err)
	}

	_, err := c.Poll(context.Background(), "job")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientConfig{APIKey: func() string { return "" }}, testLogger())
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{BaseURL: "http://x"}, testLogger())
	assert.Error(t, err)
}
