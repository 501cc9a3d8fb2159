package runninghub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/phrazzld/rhqueue/internal/domain"
)

// ErrUnrecognizedOutputShape is returned when a success payload matches none
// of the known output layouts. Entries are never dropped silently.
var ErrUnrecognizedOutputShape = errors.New("unrecognized output shape")

// outputItem is one element of an output list. It accepts both the
// fileUrl/fileType and url/type spellings.
type outputItem struct {
	FileURL      *string         `json:"fileUrl"`
	URL          *string         `json:"url"`
	FileType     string          `json:"fileType"`
	Type         string          `json:"type"`
	ConsumeCoins json.RawMessage `json:"consumeCoins"`
}

type outputWrapper struct {
	Outputs json.RawMessage `json:"outputs"`
	FileURL *string         `json:"fileUrl"`
}

// Outputs is the normalized form of a success payload.
type Outputs struct {
	Files []domain.Output
	// Cost is the summed consumeCoins across items, nil when none reported.
	Cost *float64
}

// NormalizeOutputs converts the data field of a success response into an
// ordered list of outputs. Recognized layouts are a list of URL strings, a
// list of objects, an object wrapping such a list under "outputs", and a
// single object with a fileUrl. A null or absent payload yields no files.
func NormalizeOutputs(data json.RawMessage) (Outputs, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Outputs{}, nil
	}

	switch data[0] {
	case '[':
		return normalizeList(data)
	case '{':
		var w outputWrapper
		if err := json.Unmarshal(data, &w); err != nil {
			return Outputs{}, fmt.Errorf("%w: %v", ErrUnrecognizedOutputShape, err)
		}
		if len(w.Outputs) > 0 && w.Outputs[0] == '[' {
			return normalizeList(w.Outputs)
		}
		if w.FileURL != nil {
			return Outputs{Files: []domain.Output{{FileURL: *w.FileURL}}}, nil
		}
		return Outputs{}, fmt.Errorf("%w: object without outputs or fileUrl", ErrUnrecognizedOutputShape)
	default:
		return Outputs{}, fmt.Errorf("%w: payload is neither list nor object", ErrUnrecognizedOutputShape)
	}
}

func normalizeList(data json.RawMessage) (Outputs, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Outputs{}, fmt.Errorf("%w: %v", ErrUnrecognizedOutputShape, err)
	}

	out := Outputs{Files: make([]domain.Output, 0, len(raw))}
	var cost float64
	var costSeen bool

	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			return Outputs{}, fmt.Errorf("%w: empty item %d", ErrUnrecognizedOutputShape, i)
		}

		if item[0] == '"' {
			var url string
			if err := json.Unmarshal(item, &url); err != nil {
				return Outputs{}, fmt.Errorf("%w: item %d: %v", ErrUnrecognizedOutputShape, i, err)
			}
			out.Files = append(out.Files, domain.Output{FileURL: url})
			continue
		}

		if item[0] != '{' {
			return Outputs{}, fmt.Errorf("%w: item %d is neither string nor object", ErrUnrecognizedOutputShape, i)
		}

		var obj outputItem
		if err := json.Unmarshal(item, &obj); err != nil {
			return Outputs{}, fmt.Errorf("%w: item %d: %v", ErrUnrecognizedOutputShape, i, err)
		}

		var file domain.Output
		switch {
		case obj.FileURL != nil:
			file = domain.Output{FileURL: *obj.FileURL, FileType: obj.FileType}
		case obj.URL != nil:
			file = domain.Output{FileURL: *obj.URL, FileType: firstNonEmpty(obj.FileType, obj.Type)}
		default:
			return Outputs{}, fmt.Errorf("%w: item %d has no fileUrl or url", ErrUnrecognizedOutputShape, i)
		}
		out.Files = append(out.Files, file)

		if c, ok := parseCoins(obj.ConsumeCoins); ok {
			cost += c
			costSeen = true
		}
	}

	if costSeen && cost > 0 {
		out.Cost = &cost
	}
	return out, nil
}

// parseCoins reads consumeCoins, which the remote sends as either a number
// or a numeric string.
func parseCoins(raw json.RawMessage) (float64, bool) {
	var s flexString
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
