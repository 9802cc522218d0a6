package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response statuses used in every API reply.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// RegisterRequest is the body of POST /{key-path}/register-client.
type RegisterRequest struct {
	Config map[string]any `json:"client_config,omitempty"`
	Group  string         `json:"client_group"`
	Name   string         `json:"client_name"`
}

// HeartbeatRequest is the body of POST /{key-path}/heart-beat.
type HeartbeatRequest struct {
	Info  *Metrics `json:"client_info,omitempty"`
	Token string   `json:"client_token"`
}

// Metrics is what a reporter sends in a heartbeat.
// CPU holds per-core utilization fractions; Mem is [usedGB, totalGB].
type Metrics struct {
	CPU []float64 `json:"cpu,omitempty"`
	Mem []float64 `json:"mem,omitempty"`
	GPU []GPU     `json:"gpu,omitempty"`
}

// GPU is one accelerator in a heartbeat. Usage is a fraction; Mem is
// [usedGB, totalGB].
type GPU struct {
	Usage *float64  `json:"usage,omitempty"`
	Name  string    `json:"name,omitempty"`
	Mem   []float64 `json:"mem,omitempty"`
}

// Response is the reply to clear, register and heartbeat calls.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

// HTTPError is returned by PostJSON and GetJSON for non-2xx replies.
// Message carries the server's error message when the body had one.
type HTTPError struct {
	URL     string
	Message string
	Code    int
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		herr := &HTTPError{URL: req.URL.String(), Code: resp.StatusCode}
		var r Response
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &r) == nil {
			herr.Message = r.Message
		}
		return herr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
