package runninghub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Response codes returned by the outputs endpoint.
const (
	CodeSuccess        = 0
	CodeRunning        = 804
	CodeFailed         = 805
	CodeQueueSaturated = 806
	CodeQueued         = 813
)

// Status is the scheduler-facing interpretation of a poll response code.
type Status int

// Poll statuses
const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusRunning
	StatusQueued
	StatusFailed
	StatusQueueSaturated
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRunning:
		return "running"
	case StatusQueued:
		return "queued"
	case StatusFailed:
		return "failed"
	case StatusQueueSaturated:
		return "queue_saturated"
	default:
		return "unknown"
	}
}

// StatusFromCode maps a remote response code to a Status.
func StatusFromCode(code int) Status {
	switch code {
	case CodeSuccess:
		return StatusSuccess
	case CodeRunning:
		return StatusRunning
	case CodeQueued:
		return StatusQueued
	case CodeFailed:
		return StatusFailed
	case CodeQueueSaturated:
		return StatusQueueSaturated
	default:
		return StatusUnknown
	}
}

// Client errors
var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("runninghub api key is not configured")

	// ErrMissingJobID is returned when a submission response carries no task ID.
	ErrMissingJobID = errors.New("submission response has no task id")
)

// APIError is a well-formed response with a non-success code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runninghub returned code %d: %s", e.Code, e.Message)
}

// SubmissionError reports that the remote service did not accept a job.
// The scheduler fails the task with this error and never retries it.
type SubmissionError struct {
	AppID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of app %s failed: %v", e.AppID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// FailureDetail is the remote's explanation of a failed job.
type FailureDetail struct {
	NodeName         string          `json:"node_name"`
	ExceptionMessage string          `json:"exception_message"`
	ExceptionType    string          `json:"exception_type"`
	Traceback        json.RawMessage `json:"traceback,omitempty"`
}

// PollResult is one observation of a remote job.
type PollResult struct {
	Status  Status
	Code    int
	Message string
	// Data is the raw payload; for StatusSuccess it holds the outputs.
	Data    json.RawMessage
	Failure *FailureDetail
}

// FailureMessage picks the most specific description of a failed job:
// the exception message, else the exception type, else the response
// message, prefixed with the failing node's name when known.
func (r *PollResult) FailureMessage() string {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "remote task failed"
	}
	if r.Failure == nil {
		return msg
	}
	if r.Failure.ExceptionMessage != "" {
		msg = r.Failure.ExceptionMessage
	} else if r.Failure.ExceptionType != "" {
		msg = r.Failure.ExceptionType
	}
	if r.Failure.NodeName != "" {
		msg = fmt.Sprintf("[%s] %s", r.Failure.NodeName, msg)
	}
	return msg
}

// AccountStatus describes the remaining balance of the configured key.
type AccountStatus struct {
	RemainCoins       string `json:"remain_coins"`
	CurrentTaskCounts string `json:"current_task_counts"`
	RemainMoney       string `json:"remain_money,omitempty"`
	Currency          string `json:"currency,omitempty"`
	APIType           string `json:"api_type,omitempty"`
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type wireNode struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

type submitRequest struct {
	APIKey       string     `json:"apiKey"`
	WebappID     string     `json:"webappId"`
	NodeInfoList []wireNode `json:"nodeInfoList"`
}

type submitData struct {
	TaskID flexString `json:"taskId"`
}

type jobRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type accountRequest struct {
	APIKey string `json:"apikey"`
}

type accountData struct {
	RemainCoins       flexString `json:"remainCoins"`
	CurrentTaskCounts flexString `json:"currentTaskCounts"`
	RemainMoney       flexString `json:"remainMoney"`
	Currency          string     `json:"currency"`
	APIType           string     `json:"apiType"`
}

type failedData struct {
	FailedReason *FailureDetail `json:"failedReason"`
}
