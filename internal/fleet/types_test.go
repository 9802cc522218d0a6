package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestRegisterRequest checks the field names the server expects.
func TestRegisterRequest(t *testing.T) {
	req := RegisterRequest{
		Group:  "Group-1",
		Name:   "Client-1",
		Config: map[string]any{"heartbeat_period": 2},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal RegisterRequest: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if jsonMap["client_group"] != "Group-1" {
		t.Errorf("Expected client_group 'Group-1', got %v", jsonMap["client_group"])
	}
	if jsonMap["client_name"] != "Client-1" {
		t.Errorf("Expected client_name 'Client-1', got %v", jsonMap["client_name"])
	}
	cfg, ok := jsonMap["client_config"].(map[string]interface{})
	if !ok || cfg["heartbeat_period"] != 2.0 {
		t.Errorf("Expected client_config.heartbeat_period 2, got %v", jsonMap["client_config"])
	}

	// client_config is optional on the wire
	data, _ = json.Marshal(RegisterRequest{Group: "g", Name: "n"})
	jsonMap = nil
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if _, ok := jsonMap["client_config"]; ok {
		t.Error("client_config should be omitted when nil")
	}
}

// TestHeartbeatRequest checks the metrics layout inside client_info.
func TestHeartbeatRequest(t *testing.T) {
	usage := 0.5
	req := HeartbeatRequest{
		Token: "abc",
		Info: &Metrics{
			CPU: []float64{0.25, 0.75},
			Mem: []float64{4, 16},
			GPU: []GPU{{Name: "gpu0", Usage: &usage, Mem: []float64{2, 8}}},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal HeartbeatRequest: %v", err)
	}

	var decoded struct {
		Token string `json:"client_token"`
		Info  struct {
			CPU []float64 `json:"cpu"`
			Mem []float64 `json:"mem"`
			GPU []struct {
				Usage float64   `json:"usage"`
				Mem   []float64 `json:"mem"`
			} `json:"gpu"`
		} `json:"client_info"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if decoded.Token != "abc" {
		t.Errorf("Expected client_token 'abc', got %q", decoded.Token)
	}
	if len(decoded.Info.CPU) != 2 || decoded.Info.CPU[1] != 0.75 {
		t.Errorf("Unexpected cpu %v", decoded.Info.CPU)
	}
	if len(decoded.Info.Mem) != 2 || decoded.Info.Mem[1] != 16 {
		t.Errorf("Unexpected mem %v", decoded.Info.Mem)
	}
	if len(decoded.Info.GPU) != 1 || decoded.Info.GPU[0].Usage != 0.5 {
		t.Errorf("Unexpected gpu %v", decoded.Info.GPU)
	}
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   *Response
		expectError    bool
		wantMessage    string
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok","token":"t-1"}`,
			requestBody:    RegisterRequest{Group: "g", Name: "n"},
			responseBody:   &Response{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]string{"test": "data"},
		},
		{
			name:           "bad request carries server message",
			serverResponse: http.StatusBadRequest,
			serverBody:     `{"status":"error","message":"client_token is invalid"}`,
			requestBody:    HeartbeatRequest{Token: "gone"},
			expectError:    true,
			wantMessage:    "client_token is invalid",
		},
		{
			name:           "server error without json body",
			serverResponse: http.StatusInternalServerError,
			serverBody:     "boom",
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", ct)
				}
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			var out any
			if tt.responseBody != nil {
				out = tt.responseBody
			}
			err := PostJSON(ctx, server.URL, tt.requestBody, out)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if tt.expectError && tt.serverResponse >= 300 && !tt.contextTimeout {
				var herr *HTTPError
				if !errors.As(err, &herr) {
					t.Fatalf("Expected *HTTPError, got %T", err)
				}
				if herr.Code != tt.serverResponse {
					t.Errorf("Expected code %d, got %d", tt.serverResponse, herr.Code)
				}
				if herr.Message != tt.wantMessage {
					t.Errorf("Expected message %q, got %q", tt.wantMessage, herr.Message)
				}
			}

			if !tt.expectError && tt.responseBody != nil {
				if tt.responseBody.Status != StatusOK || tt.responseBody.Token != "t-1" {
					t.Errorf("Unexpected response %+v", *tt.responseBody)
				}
			}
		})
	}
}

// TestPostJSONInvalidURL tests PostJSON with invalid URL
func TestPostJSONInvalidURL(t *testing.T) {
	err := PostJSON(context.Background(), "://invalid-url", map[string]string{"test": "data"}, nil)
	if err == nil {
		t.Error("Expected error for invalid URL")
	}
}

// TestGetJSON tests the GetJSON function
func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/dashboard-data":
			w.Write([]byte(`{"siteName":"KT board","groups":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	var out struct {
		SiteName string            `json:"siteName"`
		Groups   []json.RawMessage `json:"groups"`
	}
	if err := GetJSON(context.Background(), server.URL+"/dashboard-data", &out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.SiteName != "KT board" {
		t.Errorf("Expected siteName 'KT board', got %q", out.SiteName)
	}

	err := GetJSON(context.Background(), server.URL+"/missing", &out)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 HTTPError, got %v", err)
	}
}

// TestHTTPErrorMessage checks error rendering with and without a server message.
func TestHTTPErrorMessage(t *testing.T) {
	withMsg := &HTTPError{URL: "http://x/heart-beat", Code: 400, Message: "client_token is invalid"}
	if got := withMsg.Error(); got != "http http://x/heart-beat: 400: client_token is invalid" {
		t.Errorf("Unexpected error text %q", got)
	}
	bare := &HTTPError{URL: "http://x", Code: 502}
	if got := bare.Error(); got != "http http://x: 502" {
		t.Errorf("Unexpected error text %q", got)
	}
}

// TestHTTPClient verifies the shared client has a timeout configured.
func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", httpClient.Timeout)
	}
}
