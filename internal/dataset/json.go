package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/akave-ai/anomalog/internal/model"
)

// jsonRequest accepts labels as strings, numbers or booleans.
type jsonRequest struct {
	model.RawRequest
	Label any `json:"label,omitempty"`
}

func (j jsonRequest) raw() model.RawRequest {
	req := j.RawRequest
	req.KnownLabel = nil
	var s string
	switch v := j.Label.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	}
	if l, err := model.ParseLabel(s); err == nil {
		req.KnownLabel = &l
	}
	return req
}

// DecodeJSON reads a single request object, an array of them, or
// newline-delimited objects. Invalid JSON fails the read; a well-formed
// element with mistyped fields is returned with DecodeError set.
func DecodeJSON(r io.Reader) ([]model.RawRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode request array: %w", err)
		}
		out := make([]model.RawRequest, len(list))
		for i, elem := range list {
			out[i] = decodeRequest(elem, i)
		}
		return out, nil
	}

	var out []model.RawRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var elem json.RawMessage
		err := dec.Decode(&elem)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode request %d: %w", len(out), err)
		}
		out = append(out, decodeRequest(elem, len(out)))
	}
}

func decodeRequest(elem json.RawMessage, i int) model.RawRequest {
	var j jsonRequest
	if err := json.Unmarshal(elem, &j); err != nil {
		var id struct {
			ID any `json:"id"`
		}
		_ = json.Unmarshal(elem, &id)
		return model.RawRequest{
			ID:          idString(id.ID),
			DecodeError: fmt.Sprintf("request %d: %v", i, err),
		}
	}
	return j.raw()
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
