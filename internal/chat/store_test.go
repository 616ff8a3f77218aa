package chat

import (
	"os"
	"path/filepath"
	"testing"
)

const testPrompt = "You are a test assistant."

func newTestStore(t *testing.T, dir string, maxMessages int) *Store {
	t.Helper()
	store, err := NewStore(dir, testPrompt, maxMessages)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestGetSeedsFreshConversation(t *testing.T) {
	store := newTestStore(t, t.TempDir(), 50)

	conv := store.Get("llama3:8b")
	if conv.Key != "Llama3" {
		t.Fatalf("expected normalized key Llama3, got %s", conv.Key)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 seeded message, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system seed, got role %s", conv.Messages[0].Role)
	}
	if conv.Messages[0].Content != testPrompt {
		t.Fatalf("unexpected system content: %s", conv.Messages[0].Content)
	}
}

func TestAppendAndClearScenario(t *testing.T) {
	store := newTestStore(t, t.TempDir(), 50)

	if err := store.Append("llama3:8b", RoleUser, "Hi"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := store.Append("llama3:8b", RoleAssistant, "Hello!"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	conv := store.Get("llama3")
	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Content != "Hi" || conv.Messages[2].Content != "Hello!" {
		t.Fatalf("unexpected messages: %+v", conv.Messages)
	}

	if err := store.Clear("LLAMA3:70b"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	conv = store.Get("llama3:8b")
	if len(conv.Messages) != 1 {
		t.Fatalf("expected singleton system message after clear, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system message after clear, got %s", conv.Messages[0].Role)
	}
}

func TestStorageTrimKeepsSystemMessage(t *testing.T) {
	const maxMessages = 5
	store := newTestStore(t, t.TempDir(), maxMessages)

	original := store.Get("phi3").Messages[0]

	for i := 0; i < maxMessages+2; i++ {
		if err := store.Append("phi3", RoleUser, "message"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	conv := store.Get("phi3")
	if len(conv.Messages) > maxMessages+1 {
		t.Fatalf("stored conversation exceeds cap: %d > %d", len(conv.Messages), maxMessages+1)
	}
	if conv.Messages[0] != original {
		t.Fatalf("system message changed by trimming: %+v", conv.Messages[0])
	}
}

func TestRoundTripThroughStorage(t *testing.T) {
	dir := t.TempDir()

	store := newTestStore(t, dir, 50)
	if err := store.Append("mistral", RoleUser, "question"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append("mistral", RoleAssistant, "answer"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A fresh store over the same directory must load identical state.
	reloaded := newTestStore(t, dir, 50)
	conv := reloaded.Get("mistral")

	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages after reload, got %d", len(conv.Messages))
	}
	want := []Message{
		{Role: RoleSystem, Content: testPrompt},
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer"},
	}
	for i, msg := range want {
		if conv.Messages[i] != msg {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, conv.Messages[i], msg)
		}
	}
}

func TestMalformedHistoryFallsBackToSeed(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "Gemma"+historyFileSuffix)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	store := newTestStore(t, dir, 50)
	conv := store.Get("gemma:2b")

	if len(conv.Messages) != 1 || conv.Messages[0].Role != RoleSystem {
		t.Fatalf("expected fresh seed over malformed history, got %+v", conv.Messages)
	}
}

func TestListKeysIndependentOfCache(t *testing.T) {
	dir := t.TempDir()

	store := newTestStore(t, dir, 50)
	store.Get("llama3")
	store.Get("phi3:mini")

	// A second store has nothing cached but sees the same persisted keys.
	fresh := newTestStore(t, dir, 50)
	keys, err := fresh.ListKeys()
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}

	found := map[string]bool{}
	for _, key := range keys {
		found[key] = true
	}
	if !found["Llama3"] || !found["Phi3"] {
		t.Fatalf("expected Llama3 and Phi3 in keys, got %v", keys)
	}
}

func TestNormalizeModelKey(t *testing.T) {
	cases := map[string]string{
		"llama3:8b":  "Llama3",
		"LLAMA3":     "Llama3",
		"  phi3 ":    "Phi3",
		"gemma:2b:x": "Gemma",
		"":           "",
	}

	for input, want := range cases {
		if got := NormalizeModelKey(input); got != want {
			t.Errorf("NormalizeModelKey(%q) = %q, want %q", input, got, want)
		}
	}
}
