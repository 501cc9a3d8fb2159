package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/rhqueue/internal/api"
)

var errParamSyntax = errors.New("parameter must look like NODE_ID:FIELD[@TYPE]=VALUE")

// parseParam reads one node assignment written as NODE_ID:FIELD[@TYPE]=VALUE,
// e.g. "3:text=a red fox" or "10:image@IMAGE=api/42.png". Everything after
// the first '=' is the value.
func parseParam(s string) (api.NodeInfoRequest, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return api.NodeInfoRequest{}, fmt.Errorf("%w: %q", errParamSyntax, s)
	}
	nodeID, field, ok := strings.Cut(target, ":")
	if !ok || nodeID == "" || field == "" {
		return api.NodeInfoRequest{}, fmt.Errorf("%w: %q", errParamSyntax, s)
	}

	p := api.NodeInfoRequest{NodeID: nodeID, FieldName: field, FieldValue: value}
	if name, fieldType, ok := strings.Cut(field, "@"); ok {
		if name == "" || fieldType == "" {
			return api.NodeInfoRequest{}, fmt.Errorf("%w: %q", errParamSyntax, s)
		}
		p.FieldName = name
		p.FieldType = strings.ToUpper(fieldType)
	}
	return p, nil
}

func parseParams(list []string) ([]api.NodeInfoRequest, error) {
	params := make([]api.NodeInfoRequest, 0, len(list))
	for _, s := range list {
		p, err := parseParam(s)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// readParamsList loads a batch file holding a JSON array of parameter sets.
func readParamsList(path string) ([][]api.NodeInfoRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var list [][]api.NodeInfoRequest
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("batch file %s holds no parameter sets", path)
	}
	return list, nil
}
