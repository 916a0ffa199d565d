// Package client talks to a running daemon over its REST surface, relay
// and control socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bayup/wabridge/internal/api"
	"github.com/bayup/wabridge/internal/control"
	"github.com/bayup/wabridge/internal/status"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// QR is the pairing state served at /qr.json.
type QR struct {
	Status status.State `json:"status"`
	Code   string       `json:"code"`
	Image  string       `json:"image"`
}

// SendResult is the answer to a send.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Event is one relay frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    string          `json:"id"`
}

// Client wraps the daemon endpoints of one session.
type Client struct {
	base       string
	socketPath string
	http       *http.Client
}

// New returns a client for the daemon at baseURL (e.g.
// http://localhost:8001) with its control socket at socketPath.
func New(baseURL, socketPath string) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		socketPath: socketPath,
		http:       &http.Client{},
	}
}

// Health asks the control socket whether the session is serving.
func (c *Client) Health(ctx context.Context) (string, error) {
	st, err := control.Check(ctx, c.socketPath, control.SessionService)
	if err != nil {
		return "", err
	}
	return st.String(), nil
}

// Status returns the connection state.
func (c *Client) Status(ctx context.Context) (status.State, error) {
	var resp struct {
		Status status.State `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// QR returns the current pairing code, if any.
func (c *Client) QR(ctx context.Context) (*QR, error) {
	var qr QR
	if err := c.do(ctx, http.MethodGet, "/qr.json", nil, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

// Send sends body to a JID or phone number.
func (c *Client) Send(ctx context.Context, to, body string) (*SendResult, error) {
	req := map[string]string{"to": to, "body": body}
	var res SendResult
	if err := c.do(ctx, http.MethodPost, "/send", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Chats lists known chats, most recent first.
func (c *Client) Chats(ctx context.Context) ([]api.ChatSummary, error) {
	var chats []api.ChatSummary
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Messages lists up to limit messages of chat, newest first. limit <= 0
// uses the daemon default.
func (c *Client) Messages(ctx context.Context, chat string, limit int) ([]api.MessageRecord, error) {
	path := "/chats/" + url.PathEscape(chat) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []api.MessageRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Watch streams relay events to fn until ctx ends, the daemon closes the
// stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(Event) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.CloseNow()

	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read relay: %w", err)
		}
		if err := fn(evt); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
