package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/chatrelay/internal/logger"
)

const historyFileSuffix = "_history.json"

// storedConversation is the on-disk document for one conversation.
type storedConversation struct {
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// storage is a key -> JSON document store backed by one file per
// conversation key.
type storage struct {
	dir string
}

func newStorage(dir string) (*storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &storage{dir: dir}, nil
}

func (s *storage) path(key string) string {
	return filepath.Join(s.dir, key+historyFileSuffix)
}

// Load reads the document for key. A missing, unreadable, or malformed
// document is reported as absent rather than as an error; the caller
// falls back to a fresh seed.
func (s *storage) Load(key string) (*storedConversation, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read history for %s: %v", key, err)
		}
		return nil, false
	}

	var stored storedConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("Malformed history for %s, starting fresh: %v", key, err)
		return nil, false
	}

	return &stored, true
}

// Save durably writes the document for key via a temp file and atomic
// rename.
func (s *storage) Save(key string, messages []Message) error {
	stored := storedConversation{
		Model:     key,
		UpdatedAt: time.Now(),
		Messages:  messages,
	}

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", key, err)
	}

	finalPath := s.path(key)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history for %s: %w", key, err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename history for %s: %w", key, err)
	}

	return nil
}

// List enumerates every key with a persisted document, independent of any
// in-memory cache.
func (s *storage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, historyFileSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, historyFileSuffix))
	}
	return keys, nil
}
