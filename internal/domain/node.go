package domain

import (
	"errors"
	"fmt"
)

// FieldType identifies how a workflow node field value is interpreted by
// the remote service.
type FieldType string

// Supported field types
const (
	FieldTypeImage  FieldType = "IMAGE"
	FieldTypeAudio  FieldType = "AUDIO"
	FieldTypeVideo  FieldType = "VIDEO"
	FieldTypeString FieldType = "STRING"
	FieldTypeInt    FieldType = "INT"
	FieldTypeFloat  FieldType = "FLOAT"
	FieldTypeList   FieldType = "LIST"
	FieldTypeSwitch FieldType = "SWITCH"
)

// Validation errors for NodeInfo
var (
	ErrEmptyNodeID    = errors.New("node ID cannot be empty")
	ErrEmptyFieldName = errors.New("field name cannot be empty")
	ErrInvalidField   = errors.New("invalid field type")
)

// NodeInfo assigns a value to one field of one node in a remote workflow.
type NodeInfo struct {
	NodeID      string    `json:"node_id"`
	NodeName    string    `json:"node_name,omitempty"`
	FieldName   string    `json:"field_name"`
	FieldValue  string    `json:"field_value"`
	FieldType   FieldType `json:"field_type,omitempty"`
	Description string    `json:"description,omitempty"`
	FieldData   string    `json:"field_data,omitempty"`
}

// Validate checks that the assignment addresses a node field.
// An empty FieldType is accepted and left for the remote service to infer.
func (n NodeInfo) Validate() error {
	if n.NodeID == "" {
		return ErrEmptyNodeID
	}
	if n.FieldName == "" {
		return ErrEmptyFieldName
	}
	if n.FieldType != "" && !isValidFieldType(n.FieldType) {
		return fmt.Errorf("%w: %s", ErrInvalidField, n.FieldType)
	}
	return nil
}

func isValidFieldType(ft FieldType) bool {
	switch ft {
	case FieldTypeImage, FieldTypeAudio, FieldTypeVideo, FieldTypeString,
		FieldTypeInt, FieldTypeFloat, FieldTypeList, FieldTypeSwitch:
		return true
	default:
		return false
	}
}
