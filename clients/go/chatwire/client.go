// Package chatwire is the Go client for the chatwire API: a thin HTTP
// wrapper plus the stateful pieces a frontend needs to stay consistent
// over an unreliable stream, the room reconciler and the inbox.
package chatwire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int // seconds, set on 429 responses
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsRateLimited reports whether the error is a 429 rejection.
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusTooManyRequests
}

// Client talks to a chatwire server. Visitor calls need WithVisitor;
// dashboard calls need WithAgentToken.
type Client struct {
	baseURL    string
	httpClient *http.Client
	visitorID  string
	agentToken string
}

// Option configures a Client.
type Option func(*Client)

// WithVisitor sets the visitor id sent on widget requests.
func WithVisitor(visitorID string) Option {
	return func(c *Client) { c.visitorID = visitorID }
}

// WithAgentToken sets the dashboard bearer token.
func WithAgentToken(token string) Option {
	return func(c *Client) { c.agentToken = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest issues one API call. GETs are retried once after a short
// pause on transport errors and 5xx responses; writes never are.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	err := c.attempt(ctx, method, path, body, out)
	if err == nil || method != http.MethodGet {
		return err
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.Status < 500 {
		return err
	}

	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.attempt(ctx, method, path, body, out)
}

func (c *Client) attempt(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.visitorID != "" {
		req.Header.Set("X-Chatwire-Visitor", c.visitorID)
	}
	if c.agentToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.agentToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error             string `json:"error"`
			RetryAfterSeconds int    `json:"retry_after_seconds"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Message = errBody.Error
			apiErr.RetryAfter = errBody.RetryAfterSeconds
		}
		if apiErr.RetryAfter == 0 {
			apiErr.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// OpenRoom returns the visitor's open room for a widget, creating one
// when none exists.
func (c *Client) OpenRoom(ctx context.Context, widgetID, visitorName, visitorEmail string) (*models.Room, error) {
	var room models.Room
	err := c.doRequest(ctx, http.MethodPost, "/widget/"+widgetID+"/room", map[string]string{
		"visitor_id":    c.visitorID,
		"visitor_name":  visitorName,
		"visitor_email": visitorEmail,
	}, &room)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoom fetches a room by id.
func (c *Client) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.doRequest(ctx, http.MethodGet, "/room/"+roomID.String(), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// MessagePage is one chronological page of a room's history.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// ListMessages fetches a page of history. An empty before cursor means
// the most recent page; otherwise the page preceding that message id.
func (c *Client) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, before string) (*MessagePage, error) {
	path := fmt.Sprintf("/room/%s/messages?limit=%d", roomID, limit)
	if before != "" {
		path += "&before=" + before
	}
	var page MessagePage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendParams are the body of a message send.
type SendParams struct {
	Content   string `json:"content"`
	ImageURL  string `json:"image_url,omitempty"`
	ImageName string `json:"image_name,omitempty"`
}

// SendVisitorMessage posts a message as the room's visitor.
func (c *Client) SendVisitorMessage(ctx context.Context, roomID uuid.UUID, p SendParams) (*models.Message, error) {
	var msg models.Message
	if err := c.doRequest(ctx, http.MethodPost, "/room/"+roomID.String()+"/messages", p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendAgentMessage posts a message as the authenticated agent.
func (c *Client) SendAgentMessage(ctx context.Context, roomID uuid.UUID, p SendParams) (*models.Message, error) {
	var msg models.Message
	if err := c.doRequest(ctx, http.MethodPost, "/dashboard/rooms/"+roomID.String()+"/messages", p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RoomPage is one page of a widget's rooms, most recently active first.
type RoomPage struct {
	Rooms   []models.Room `json:"rooms"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	HasMore bool          `json:"has_more"`
}

// ListRooms fetches one dashboard page of a widget's rooms.
func (c *Client) ListRooms(ctx context.Context, widgetID string, page int) (*RoomPage, error) {
	path := fmt.Sprintf("/dashboard/widgets/%s/rooms?page=%d", widgetID, page)
	var rp RoomPage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

// CloseRoom closes a room.
func (c *Client) CloseRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.doRequest(ctx, http.MethodPost, "/dashboard/rooms/"+roomID.String()+"/close", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ReopenRoom reopens a closed room.
func (c *Client) ReopenRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.doRequest(ctx, http.MethodPost, "/dashboard/rooms/"+roomID.String()+"/reopen", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// MarkRead marks the room's visitor messages read.
func (c *Client) MarkRead(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.doRequest(ctx, http.MethodPost, "/dashboard/rooms/"+roomID.String()+"/read", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Presence calls. Role follows the client's credentials: visitor
// clients hit the public endpoints, agent clients the dashboard ones.

func (c *Client) presencePath(roomID uuid.UUID, action string) string {
	if c.agentToken != "" {
		return "/dashboard/rooms/" + roomID.String() + "/presence/" + action
	}
	return "/room/" + roomID.String() + "/presence/" + action
}

// Join announces presence in a room and returns the aggregate.
func (c *Client) Join(ctx context.Context, roomID uuid.UUID) (*models.RoomPresence, error) {
	var agg models.RoomPresence
	if err := c.doRequest(ctx, http.MethodPost, c.presencePath(roomID, "join"), nil, &agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// Heartbeat refreshes presence in a room.
func (c *Client) Heartbeat(ctx context.Context, roomID uuid.UUID) error {
	return c.doRequest(ctx, http.MethodPost, c.presencePath(roomID, "heartbeat"), nil, nil)
}

// Leave withdraws presence from a room.
func (c *Client) Leave(ctx context.Context, roomID uuid.UUID) (*models.RoomPresence, error) {
	var agg models.RoomPresence
	if err := c.doRequest(ctx, http.MethodPost, c.presencePath(roomID, "leave"), nil, &agg); err != nil {
		return nil, err
	}
	return &agg, nil
}
