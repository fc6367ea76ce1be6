// Package remote is the HTTP client for the coach cloud API: exercise plan
// generation, post-session reports, and device registration.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://api.motioncare.app"

// Exercise is one generated exercise plan entry.
type Exercise struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DurationSec int    `json:"duration_sec"`
	Reps        int    `json:"reps,omitempty"`
	BodyArea    string `json:"body_area,omitempty"`
}

// APIError is a non-2xx response from the cloud API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("coach api error (status %d, request %s): %s: %s", e.StatusCode, e.RequestID, e.Code, e.Message)
	}
	return fmt.Sprintf("coach api error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
}

type Client struct {
	apiKey     string
	baseURL    string
	userID     string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, userID string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     strings.TrimSpace(userID),
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.apiKey) != ""
}

// GenerateExercises asks the API for a plan tailored to the user's current
// recovery stage.
func (c *Client) GenerateExercises(ctx context.Context) ([]Exercise, error) {
	var decoded struct {
		Exercises []Exercise `json:"exercises"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/exercises/generate", map[string]any{
		"user_id": c.userID,
	}, &decoded); err != nil {
		return nil, err
	}
	return decoded.Exercises, nil
}

// GenerateReport asks the API to summarize a finished conversation. The API
// produces the report asynchronously; a 2xx means the request was accepted.
func (c *Client) GenerateReport(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	return c.do(ctx, http.MethodPost, "/v1/reports/generate", map[string]any{
		"user_id":         c.userID,
		"conversation_id": conversationID,
	}, nil)
}

// RegisterPushToken registers this device for exercise reminders.
func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("push token is required")
	}
	return c.do(ctx, http.MethodPost, "/v1/devices/push-token", map[string]any{
		"user_id":  c.userID,
		"token":    token,
		"platform": platform,
	}, nil)
}

// UpdateTimezone keeps reminder scheduling aligned with the device clock.
func (c *Client) UpdateTimezone(ctx context.Context, tz string) error {
	if strings.TrimSpace(tz) == "" {
		return fmt.Errorf("timezone is required")
	}
	return c.do(ctx, http.MethodPut, "/v1/users/timezone", map[string]any{
		"user_id":  c.userID,
		"timezone": tz,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if !c.Configured() {
		return fmt.Errorf("coach api key is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		var decoded struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &decoded) == nil && decoded.Error.Message != "" {
			apiErr.Code = decoded.Error.Code
			apiErr.Message = decoded.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
