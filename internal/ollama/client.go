// Package ollama is a thin protocol client for a local Ollama instance.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/chatrelay/internal/chat"
	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/logger"
)

// ErrUnavailable reports that the backend could not be reached at all.
var ErrUnavailable = errors.New("ollama backend unavailable")

// BackendError reports an error payload returned by the backend during a
// request that did reach it.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "ollama backend error: " + e.Message
}

// Client issues chat-completion requests against the Ollama REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the given base URL. An empty URL falls
// back to the local default.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: normalizeBaseURL(baseURL),
		client: &http.Client{
			Timeout: consts.Timeout2Minutes,
		},
	}
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Stream opens a streaming chat completion and invokes onFragment for
// every content fragment in receipt order. It returns when the backend
// signals done, the stream closes, or onFragment returns an error.
// Malformed stream records are skipped, not fatal.
func (c *Client) Stream(ctx context.Context, model string, messages []chat.Message, onFragment func(fragment string) error) error {
	httpReq, err := c.newChatRequest(ctx, model, messages, true)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	buffer := make([]byte, 0, consts.BufferSize256KB)
	scanner.Buffer(buffer, consts.BufferSize1MB)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			logger.Warn("Skipping malformed stream record: %v", err)
			continue
		}

		if event.Error != "" {
			return &BackendError{Message: event.Error}
		}

		if event.Message != nil && event.Message.Content != "" {
			if err := onFragment(event.Message.Content); err != nil {
				return err
			}
		}

		if event.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama stream failed: %w", err)
	}

	return nil
}

// Complete issues a non-streaming chat completion and returns the full
// assistant reply.
func (c *Client) Complete(ctx context.Context, model string, messages []chat.Message) (string, error) {
	httpReq, err := c.newChatRequest(ctx, model, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readErrorResponse(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}

	if chatResp.Error != "" {
		return "", &BackendError{Message: chatResp.Error}
	}
	if chatResp.Message == nil {
		return "", &BackendError{Message: "response carried no message"}
	}

	return chatResp.Message.Content, nil
}

// ListModels returns the names of the installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(resp)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping probes backend reachability without side effects.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, consts.Timeout5Seconds)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *Client) newChatRequest(ctx context.Context, model string, messages []chat.Message, stream bool) (*http.Request, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("ollama request requires a model identifier")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("ollama request requires at least one message")
	}

	wire := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(&chatRequest{
		Model:    model,
		Messages: wire,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func readErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	return &BackendError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Error   string       `json:"error,omitempty"`
}

type chatStreamEvent struct {
	Model   string       `json:"model"`
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Error   string       `json:"error,omitempty"`
}

func normalizeBaseURL(baseURL string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		return "http://localhost:11434"
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	return strings.TrimRight(url, "/")
}
