package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/runninghub"
)

// MockRemoteClient implements RemoteClient for tests. By default every
// submission succeeds with a sequential job ID and every poll reports the
// job as still running.
type MockRemoteClient struct {
	SubmitFn func(ctx context.Context, appID string, params []domain.NodeInfo) (string, error)
	PollFn   func(ctx context.Context, remoteJobID string) (*runninghub.PollResult, error)
	CancelFn func(ctx context.Context, remoteJobID string) error

	submits atomic.Int64
	polls   atomic.Int64

	mu        sync.Mutex
	cancelled []string
}

// NewMockRemoteClient creates a MockRemoteClient with default behavior.
func NewMockRemoteClient() *MockRemoteClient {
	m := &MockRemoteClient{}
	var jobs atomic.Int64
	m.SubmitFn = func(ctx context.Context, appID string, params []domain.NodeInfo) (string, error) {
		return fmt.Sprintf("job-%d", jobs.Add(1)), nil
	}
	m.PollFn = func(ctx context.Context, remoteJobID string) (*runninghub.PollResult, error) {
		return &runninghub.PollResult{Status: runninghub.StatusRunning, Code: runninghub.CodeRunning}, nil
	}
	m.CancelFn = func(ctx context.Context, remoteJobID string) error {
		return nil
	}
	return m
}

// Submit implements RemoteClient.
func (m *MockRemoteClient) Submit(ctx context.Context, appID string, params []domain.NodeInfo) (string, error) {
	m.submits.Add(1)
	return m.SubmitFn(ctx, appID, params)
}

// Poll implements RemoteClient.
func (m *MockRemoteClient) Poll(ctx context.Context, remoteJobID string) (*runninghub.PollResult, error) {
	m.polls.Add(1)
	return m.PollFn(ctx, remoteJobID)
}

// Cancel implements RemoteClient.
func (m *MockRemoteClient) Cancel(ctx context.Context, remoteJobID string) error {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, remoteJobID)
	m.mu.Unlock()
	return m.CancelFn(ctx, remoteJobID)
}

// Submits returns how many submissions were attempted.
func (m *MockRemoteClient) Submits() int {
	return int(m.submits.Load())
}

// Polls returns how many polls were made.
func (m *MockRemoteClient) Polls() int {
	return int(m.polls.Load())
}

// Cancelled returns the remote job IDs passed to Cancel, in call order.
func (m *MockRemoteClient) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

var _ RemoteClient = (*MockRemoteClient)(nil)
