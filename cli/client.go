package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/hub"
)

// APIError is an error answer from the matchmaker.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the matchmaker HTTP API on behalf of one agent.
type Client struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
}

// NewClient creates a client for agentID against baseURL.
func NewClient(baseURL, agentID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentID:    agentID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register registers the agent with profile.
func (c *Client) Register(ctx context.Context, profile domain.Profile) (*domain.StatusResponse, error) {
	var resp domain.StatusResponse
	req := domain.RegisterRequest{AgentID: c.agentID, Profile: profile}
	if err := c.do(ctx, http.MethodPost, "/v1/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status polls the agent's status.
func (c *Client) Status(ctx context.Context) (*domain.StatusResponse, error) {
	var resp domain.StatusResponse
	path := "/v1/status?agent_id=" + url.QueryEscape(c.agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversation fetches the agent's view of a conversation.
func (c *Client) Conversation(ctx context.Context, convoID string) (*domain.ConversationView, error) {
	var resp domain.ConversationView
	path := "/v1/convos/" + url.PathEscape(convoID) + "?agent_id=" + url.QueryEscape(c.agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostMessage sends text on the agent's turn.
func (c *Client) PostMessage(ctx context.Context, convoID, text string) (*domain.PostMessageResponse, error) {
	var resp domain.PostMessageResponse
	req := domain.PostMessageRequest{AgentID: c.agentID, Text: text}
	if err := c.do(ctx, http.MethodPost, "/v1/convos/"+url.PathEscape(convoID)+"/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitVerdict submits MATCH or PASS.
func (c *Client) SubmitVerdict(ctx context.Context, convoID string, verdict domain.Verdict) (*domain.VerdictResponse, error) {
	var resp domain.VerdictResponse
	req := domain.VerdictRequest{AgentID: c.agentID, Verdict: verdict}
	if err := c.do(ctx, http.MethodPost, "/v1/convos/"+url.PathEscape(convoID)+"/verdict", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StreamURL turns the HTTP base address into the feed stream address.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/feed/stream"
	return u.String(), nil
}

// Watch prints completed conversations from the feed stream until ctx ends
// or the connection drops.
func Watch(ctx context.Context, baseURL string, print func(hub.FeedMessage)) error {
	addr, err := StreamURL(baseURL)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg hub.FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		print(msg)
	}
}
