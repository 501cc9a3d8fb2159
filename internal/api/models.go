package api

import (
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/settings"
)

// NodeInfoRequest assigns a value to one field of one workflow node.
type NodeInfoRequest struct {
	NodeID      string `json:"node_id"     validate:"required,max=64"`
	NodeName    string `json:"node_name"   validate:"max=256"`
	FieldName   string `json:"field_name"  validate:"required,max=128"`
	FieldValue  string `json:"field_value"`
	FieldType   string `json:"field_type"  validate:"omitempty,oneof=IMAGE AUDIO VIDEO STRING INT FLOAT LIST SWITCH"`
	Description string `json:"description" validate:"max=1024"`
	FieldData   string `json:"field_data"`
}

// CreateTaskRequest defines the payload for adding a single task. An empty
// params list is accepted; such a task fails immediately.
type CreateTaskRequest struct {
	AppID   string            `json:"app_id"   validate:"required,max=128"`
	AppName string            `json:"app_name" validate:"max=256"`
	Params  []NodeInfoRequest `json:"params"   validate:"dive"`
}

// CreateBatchRequest defines the payload for adding one task per parameter set.
type CreateBatchRequest struct {
	AppID      string              `json:"app_id"      validate:"required,max=128"`
	AppName    string              `json:"app_name"    validate:"max=256"`
	ParamsList [][]NodeInfoRequest `json:"params_list" validate:"required,min=1,max=100,dive,dive"`
}

// BatchResponse lists the tasks accepted by a batch request. They are added
// to the scheduler in the background, so they appear as pending.
type BatchResponse struct {
	Tasks      []*domain.Task `json:"tasks"`
	BatchTotal int            `json:"batch_total"`
}

// ClearHistoryResponse reports how many terminal tasks were removed.
type ClearHistoryResponse struct {
	Removed int `json:"removed"`
}

// SettingsResponse shows the runtime settings. The API key itself is never
// returned.
type SettingsResponse struct {
	MaxConcurrent int    `json:"max_concurrent"`
	AutoSave      bool   `json:"auto_save"`
	OutputDir     string `json:"output_dir"`
	APIKeySet     bool   `json:"api_key_set"`
	APIKeyHint    string `json:"api_key_hint,omitempty"`
}

// UpdateSettingsRequest carries a partial settings change.
type UpdateSettingsRequest struct {
	MaxConcurrent *int    `json:"max_concurrent" validate:"omitempty,gte=1,lte=10"`
	AutoSave      *bool   `json:"auto_save"`
	OutputDir     *string `json:"output_dir"     validate:"omitempty,min=1,max=4096"`
	APIKey        *string `json:"api_key"        validate:"omitempty,max=256"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	RunningCount int    `json:"running_count"`
	Tasks        int    `json:"tasks"`
}

func toNodeInfos(reqs []NodeInfoRequest) []domain.NodeInfo {
	params := make([]domain.NodeInfo, len(reqs))
	for i, r := range reqs {
		params[i] = domain.NodeInfo{
			NodeID:      r.NodeID,
			NodeName:    r.NodeName,
			FieldName:   r.FieldName,
			FieldValue:  r.FieldValue,
			FieldType:   domain.FieldType(r.FieldType),
			Description: r.Description,
			FieldData:   r.FieldData,
		}
	}
	return params
}

func toSettingsResponse(s settings.Settings) SettingsResponse {
	resp := SettingsResponse{
		MaxConcurrent: s.MaxConcurrent,
		AutoSave:      s.AutoSave,
		OutputDir:     s.OutputDir,
		APIKeySet:     s.APIKey != "",
	}
	if len(s.APIKey) > 8 {
		resp.APIKeyHint = "…" + s.APIKey[len(s.APIKey)-4:]
	}
	return resp
}

func (r UpdateSettingsRequest) toUpdate() settings.Update {
	return settings.Update{
		MaxConcurrent: r.MaxConcurrent,
		AutoSave:      r.AutoSave,
		OutputDir:     r.OutputDir,
		APIKey:        r.APIKey,
	}
}
