// Package klok is the HTTP adapter for the Klok chat service API.
package klok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

const (
	sessionTokenHeader = "X-Session-Token"

	defaultTimeout = 10 * time.Second
	chatTimeout    = 30 * time.Second
)

type Options struct {
	BaseURL string
	Origin  string
	Referer string
	Timeout time.Duration
}

// Client talks to the chat service over resty, one cached HTTP client per
// outbound proxy so connection pools survive across requests.
type Client struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	clients map[string]*resty.Client
}

var _ ports.ChatAPI = (*Client)(nil)

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:    opts,
		log:     log,
		clients: make(map[string]*resty.Client),
	}
}

func (c *Client) httpClient(proxy string) *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[proxy]; ok {
		return client
	}
	client := resty.New().
		SetBaseURL(c.opts.BaseURL).
		SetTimeout(c.opts.Timeout).
		SetHeaders(map[string]string{
			"content-type": "application/json",
			"Origin":       c.opts.Origin,
			"Referer":      c.opts.Referer,
		})
	if proxy != "" {
		client.SetProxy(proxy)
	}
	c.clients[proxy] = client
	return client
}

type meResponse struct {
	UserID       string `json:"user_id"`
	AuthProvider string `json:"auth_provider"`
}

func (c *Client) FetchIdentity(ctx context.Context, token, proxy string) (domain.Identity, error) {
	var body meResponse
	resp, err := c.httpClient(proxy).R().
		SetContext(ctx).
		SetHeader(sessionTokenHeader, token).
		SetResult(&body).
		Get("/me")
	if err != nil {
		return domain.Identity{}, fmt.Errorf("fetch identity: %w", err)
	}
	if err := statusError(resp); err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: body.UserID, AuthProvider: body.AuthProvider}, nil
}

type pointsResponse struct {
	TotalPoints float64 `json:"total_points"`
	Points      struct {
		Inference float64 `json:"inference"`
		Referral  float64 `json:"referral"`
	} `json:"points"`
}

func (c *Client) FetchPoints(ctx context.Context, token, proxy string) (domain.Points, error) {
	var body pointsResponse
	resp, err := c.httpClient(proxy).R().
		SetContext(ctx).
		SetHeader(sessionTokenHeader, token).
		SetResult(&body).
		Get("/points")
	if err != nil {
		return domain.Points{}, fmt.Errorf("fetch points: %w", err)
	}
	if err := statusError(resp); err != nil {
		return domain.Points{}, err
	}
	return domain.Points{
		Total:     body.TotalPoints,
		Inference: body.Points.Inference,
		Referral:  body.Points.Referral,
	}, nil
}

type rateLimitResponse struct {
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
	ResetTime    int `json:"reset_time"`
	CurrentUsage int `json:"current_usage"`
}

func (c *Client) FetchRateLimit(ctx context.Context, token, proxy string) (domain.RateLimitSnapshot, error) {
	var body rateLimitResponse
	resp, err := c.httpClient(proxy).R().
		SetContext(ctx).
		SetHeader(sessionTokenHeader, token).
		SetResult(&body).
		Get("/rate-limit")
	if err != nil {
		return domain.RateLimitSnapshot{}, fmt.Errorf("fetch rate limit: %w", err)
	}
	if err := statusError(resp); err != nil {
		return domain.RateLimitSnapshot{}, err
	}
	return domain.RateLimitSnapshot{
		Limit:        body.Limit,
		Remaining:    body.Remaining,
		ResetSeconds: body.ResetTime,
		CurrentUsage: body.CurrentUsage,
	}, nil
}

type modelEntry struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Display string `json:"display"`
	IsPro   bool   `json:"is_pro"`
	Active  bool   `json:"active"`
}

func (c *Client) ListModels(ctx context.Context, token, proxy string) ([]domain.Model, error) {
	var body []modelEntry
	resp, err := c.httpClient(proxy).R().
		SetContext(ctx).
		SetHeader(sessionTokenHeader, token).
		SetResult(&body).
		Get("/models")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	models := make([]domain.Model, 0, len(body))
	for _, m := range body {
		models = append(models, domain.Model{
			ID:      m.ID,
			Name:    m.Name,
			Display: m.Display,
			IsPro:   m.IsPro,
			Active:  m.Active,
		})
	}
	return models, nil
}

type chatPayload struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Language  string        `json:"language"`
	Messages  []chatMessage `json:"messages"`
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Sources   []string      `json:"sources"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SubmitTurn posts the whole thread and reads the server-sent event stream
// back. The reply is the content of the first complete data event; a stream
// that cuts off midway maps to domain.ErrStreamAborted so the caller can
// fall back to point verification.
func (c *Client) SubmitTurn(ctx context.Context, token, proxy string, thread domain.Thread, model string) (string, error) {
	messages := make([]chatMessage, 0, len(thread.Turns))
	for _, turn := range thread.Turns {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	payload := chatPayload{
		ID:        thread.ID,
		Title:     thread.Title,
		Language:  "english",
		Messages:  messages,
		Model:     model,
		CreatedAt: thread.CreatedAt.UTC().Format(time.RFC3339),
		Sources:   []string{},
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := c.httpClient(proxy).R().
		SetContext(ctx).
		SetHeader(sessionTokenHeader, token).
		SetBody(payload).
		Post("/chat")
	if err != nil {
		if isStreamAbort(err) {
			return "", domain.ErrStreamAborted
		}
		return "", fmt.Errorf("submit chat turn: %w", err)
	}
	if err := statusError(resp); err != nil {
		return "", err
	}

	reply, ok := parseEventStream(resp.String())
	if !ok && len(resp.Body()) > 0 {
		c.log.Warn("chat response could not be parsed",
			zap.String("thread", thread.ID),
			zap.Int("bytes", len(resp.Body())))
		return "", nil
	}
	return reply, nil
}

// parseEventStream extracts the reply from "data: {...}" lines; the service
// sends the full content in the final complete event.
func parseEventStream(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event struct {
			Content string `json:"content"`
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Content != "" {
			return event.Content, true
		}
	}
	return "", false
}

func isStreamAbort(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "stream") && strings.Contains(msg, "abort")
}

func statusError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}
	body := resp.String()
	if len(body) > 200 {
		body = body[:200]
	}
	return &domain.StatusError{Code: resp.StatusCode(), Body: body}
}
