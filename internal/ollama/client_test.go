package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/chatrelay/internal/chat"
)

func testMessages() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleSystem, Content: "be brief"},
		{Role: chat.RoleUser, Content: "hello"},
	}
}

func streamHandler(t *testing.T, lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.NotEmpty(t, req.Messages)

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}
}

func TestStreamFragmentOrder(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"message":{"role":"assistant","content":"Hi"}}`,
		`{"message":{"role":"assistant","content":" there"}}`,
		`{"done":true}`,
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	var got []string
	err := client.Stream(context.Background(), "llama3", testMessages(), func(fragment string) error {
		got = append(got, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, got)
}

func TestStreamSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"message":{"content":"one"}}`,
		`{not json at all`,
		`{"message":{"content":"two"}}`,
		`{"done":true}`,
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	var got []string
	err := client.Stream(context.Background(), "llama3", testMessages(), func(fragment string) error {
		got = append(got, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestStreamStopsAtDone(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"message":{"content":"kept"}}`,
		`{"done":true}`,
		`{"message":{"content":"after done"}}`,
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	var got []string
	err := client.Stream(context.Background(), "llama3", testMessages(), func(fragment string) error {
		got = append(got, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, got)
}

func TestStreamBackendErrorPayload(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"message":{"content":"partial"}}`,
		`{"error":"model exploded"}`,
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	err := client.Stream(context.Background(), "llama3", testMessages(), func(string) error {
		return nil
	})

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message, "model exploded")
}

func TestStreamCallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"message":{"content":"one"}}`,
		`{"message":{"content":"two"}}`,
		`{"done":true}`,
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	sentinel := errors.New("stop here")
	calls := 0
	err := client.Stream(context.Background(), "llama3", testMessages(), func(string) error {
		calls++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestStreamUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url)
	err := client.Stream(context.Background(), "llama3", testMessages(), func(string) error {
		return nil
	})

	require.ErrorIs(t, err, ErrUnavailable)
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: &chatMessage{Role: "assistant", Content: "full reply"},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	got, err := client.Complete(context.Background(), "llama3", testMessages())

	require.NoError(t, err)
	assert.Equal(t, "full reply", got)
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"no such model"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Complete(context.Background(), "nope", testMessages())

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message, "no such model")
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"},{"name":"phi3:mini"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	models, err := client.ListModels(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "phi3:mini"}, models)
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                        "http://localhost:11434",
		"localhost:11434":         "http://localhost:11434",
		"http://example.com/":     "http://example.com",
		"https://example.com:80/": "https://example.com:80",
	}
	for input, want := range cases {
		assert.Equal(t, want, normalizeBaseURL(input), "input %q", input)
	}
}

func TestRejectsEmptyRequest(t *testing.T) {
	client := NewClient("")

	err := client.Stream(context.Background(), "", testMessages(), func(string) error { return nil })
	require.Error(t, err)

	_, err = client.Complete(context.Background(), "llama3", nil)
	require.Error(t, err)
}
