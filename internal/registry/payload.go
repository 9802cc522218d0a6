package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CPUView summarizes per-core utilization. UsagePct is the sum over cores
// times 100, so a busy multi-core host legitimately reports more than 100.
type CPUView struct {
	Cores    int     `json:"cores"`
	UsagePct float64 `json:"usagePct"`
}

// MemView is a used/total pair in GB, passed through unchanged.
type MemView struct {
	UsedGB  float64 `json:"usedGB"`
	TotalGB float64 `json:"totalGB"`
}

// GPUView is one reported GPU. Each field is nil when its source was
// missing or malformed.
type GPUView struct {
	UsagePct   *float64 `json:"usagePct"`
	MemUsedGB  *float64 `json:"memUsedGB"`
	MemTotalGB *float64 `json:"memTotalGB"`
}

// DecodeObject parses an optional JSON object field of a request.
// Absent and falsy values (null, false, 0, "", [] and {}) decode to nil.
// Anything else that is not an object is a *ValidationError naming field.
func DecodeObject(field string, raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, mustBeObject(field)
	}
	if falsy(v) {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, mustBeObject(field)
	}
	return obj, nil
}

// DecodeToken parses the client_token field of a heartbeat. Absent and falsy
// values are a *ValidationError ("client_token is required"). A value that is
// present but not a string can never name a registration and wraps
// ErrUnknownToken. A string is returned unchecked; the caller looks it up.
func DecodeToken(raw json.RawMessage) (Token, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", required("client_token")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", required("client_token")
	}
	if falsy(v) {
		return "", required("client_token")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("client_token %s is not a string: %w", raw, ErrUnknownToken)
	}
	return Token(s), nil
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case float64:
		return x == 0
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// asFloats converts a list whose every element is numeric.
func asFloats(v any) ([]float64, bool) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []float64:
		return x, true
	default:
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// pair reads a [used, total] list. Any other shape is absent.
func pair(v any) (used, total float64, ok bool) {
	vals, ok := asFloats(v)
	if !ok || len(vals) != 2 {
		return 0, 0, false
	}
	return vals[0], vals[1], true
}

func cpuView(metrics map[string]any) *CPUView {
	cores, ok := asFloats(metrics["cpu"])
	if !ok || len(cores) == 0 {
		return nil
	}
	var sum float64
	for _, c := range cores {
		sum += c
	}
	return &CPUView{Cores: len(cores), UsagePct: sum * 100}
}

func memView(metrics map[string]any) *MemView {
	used, total, ok := pair(metrics["mem"])
	if !ok {
		return nil
	}
	return &MemView{UsedGB: used, TotalGB: total}
}

func gpuViews(metrics map[string]any) []GPUView {
	var entries []any
	switch x := metrics["gpu"].(type) {
	case []any:
		entries = x
	case []map[string]any:
		for _, m := range x {
			entries = append(entries, m)
		}
	}
	out := make([]GPUView, 0, len(entries))
	for _, e := range entries {
		var view GPUView
		if gpu, ok := e.(map[string]any); ok {
			if usage, ok := asFloat(gpu["usage"]); ok {
				pct := usage * 100
				view.UsagePct = &pct
			}
			if used, total, ok := pair(gpu["mem"]); ok {
				view.MemUsedGB, view.MemTotalGB = &used, &total
			}
		}
		out = append(out, view)
	}
	return out
}
