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
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ErrCallFailed is returned when the host answers a call with an error message.
var ErrCallFailed = errors.New("gateway: call failed")

// Client is a blocking request/response client used by the control CLI.
// It is not safe for concurrent use.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the gateway at addr (host:port).
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("X-Auth-Token", token)
	}

	url := fmt.Sprintf("ws://%s/ws", addr)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Call issues a request and decodes the matching response into result.
// Event frames arriving in between are skipped.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		c.conn.SetWriteDeadline(deadline)
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read %s response: %w", method, err)
		}

		if msg.Type == MessageTypeEvent || msg.CorrelationID != req.CorrelationID {
			continue
		}
		if msg.Type == MessageTypeError && msg.Error != nil {
			return fmt.Errorf("%w: %s (%s)", ErrCallFailed, msg.Error.Message, msg.Error.Code)
		}
		if result == nil {
			return nil
		}
		return msg.UnmarshalResult(result)
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
