// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"errors"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(MethodOpenFile, OpenFileParams{Path: "/tmp/a.go"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.Type != MessageTypeRequest {
		t.Errorf("type = %q, want request", req.Type)
	}
	if req.CorrelationID == "" {
		t.Error("correlation ID not generated")
	}

	var params OpenFileParams
	if err := req.UnmarshalParams(&params); err != nil {
		t.Fatalf("UnmarshalParams failed: %v", err)
	}
	if params.Path != "/tmp/a.go" {
		t.Errorf("path = %q", params.Path)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name: "valid request",
			data: `{"type":"request","correlationId":"abc","method":"sidecar.status"}`,
		},
		{
			name:    "missing correlation ID",
			data:    `{"type":"request","method":"sidecar.status"}`,
			wantErr: ErrMissingCorrelationID,
		},
		{
			name:    "request without method",
			data:    `{"type":"request","correlationId":"abc"}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "unknown type",
			data:    `{"type":"bogus","correlationId":"abc"}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "not json",
			data:    `{{{`,
			wantErr: ErrInvalidMessage,
		},
		{
			name: "error response",
			data: `{"type":"error","correlationId":"abc","error":{"code":"internal","message":"boom"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse("abc", StatusResult{Status: "running", PID: 42, EngineReachable: true})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}

	var result StatusResult
	if err := resp.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult failed: %v", err)
	}
	if result.PID != 42 || !result.EngineReachable {
		t.Errorf("result = %+v", result)
	}
}

func TestEventValidation(t *testing.T) {
	ev, err := NewEvent("engine.sourceChanged", map[string]string{"path": "main.py"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("event should validate: %v", err)
	}

	ev.Method = ""
	if err := ev.Validate(); err == nil {
		t.Fatal("event without name should not validate")
	}
}
