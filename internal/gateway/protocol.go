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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidMessage is returned when a message cannot be parsed.
	ErrInvalidMessage = errors.New("gateway: invalid message format")

	// ErrMissingCorrelationID is returned when a message lacks a correlation ID.
	ErrMissingCorrelationID = errors.New("gateway: missing correlation ID")

	// ErrMethodNotFound is returned when the requested method doesn't exist.
	ErrMethodNotFound = errors.New("gateway: method not found")
)

// MessageType identifies the type of gateway message.
type MessageType string

const (
	// MessageTypeRequest is a request from the UI to the host.
	MessageTypeRequest MessageType = "request"

	// MessageTypeResponse is a response from the host to the UI.
	MessageTypeResponse MessageType = "response"

	// MessageTypeError is an error response.
	MessageTypeError MessageType = "error"

	// MessageTypeEvent is an unsolicited host-to-UI notification.
	MessageTypeEvent MessageType = "event"
)

// Method names exposed over the gateway.
const (
	MethodSidecarStatus  = "sidecar.status"
	MethodSidecarRestart = "sidecar.restart"
	MethodSelectFolder   = "dialog.selectFolder"
	MethodOpenFile       = "file.open"
	MethodOpenFileAtLine = "file.openAtLine"
	MethodQuit           = "shell.quit"
)

// Message is the base structure for all gateway messages.
type Message struct {
	Type MessageType `json:"type"`

	// CorrelationID links requests with responses.
	CorrelationID string `json:"correlationId"`

	// Method is the operation to invoke (request) or event name (event).
	Method string `json:"method,omitempty"`

	// Params contains method parameters (request only).
	Params json.RawMessage `json:"params,omitempty"`

	// Result contains the response or event payload.
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (error only).
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse contains structured error information.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRequest creates a request message with a generated correlation ID.
func NewRequest(method string, params interface{}) (*Message, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	return &Message{
		Type:          MessageTypeRequest,
		CorrelationID: uuid.New().String(),
		Method:        method,
		Params:        paramsJSON,
	}, nil
}

// NewResponse creates a response message for the given request.
func NewResponse(correlationID string, result interface{}) (*Message, error) {
	var resultJSON json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = data
	}

	return &Message{
		Type:          MessageTypeResponse,
		CorrelationID: correlationID,
		Result:        resultJSON,
	}, nil
}

// NewErrorResponse creates an error response message.
func NewErrorResponse(correlationID, code, message string) *Message {
	return &Message{
		Type:          MessageTypeError,
		CorrelationID: correlationID,
		Error: &ErrorResponse{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event message.
func NewEvent(name string, payload interface{}) (*Message, error) {
	var resultJSON json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		resultJSON = data
	}

	return &Message{
		Type:          MessageTypeEvent,
		CorrelationID: uuid.New().String(),
		Method:        name,
		Result:        resultJSON,
	}, nil
}

// Validate checks if the message is well-formed.
func (m *Message) Validate() error {
	if m.CorrelationID == "" {
		return ErrMissingCorrelationID
	}

	switch m.Type {
	case MessageTypeRequest, MessageTypeEvent:
		if m.Method == "" {
			return fmt.Errorf("%w: missing method", ErrInvalidMessage)
		}
	case MessageTypeResponse, MessageTypeError:
		// Valid as-is
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}

	return nil
}

// UnmarshalParams unmarshals the params field into the given value.
func (m *Message) UnmarshalParams(v interface{}) error {
	if m.Params == nil {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult unmarshals the result field into the given value.
func (m *Message) UnmarshalResult(v interface{}) error {
	if m.Result == nil {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// ParseMessage parses and validates a JSON message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}
