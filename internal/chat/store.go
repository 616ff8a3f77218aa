package chat

import (
	"sync"

	"github.com/codefionn/chatrelay/internal/logger"
)

// Store owns every persisted conversation, keyed by normalized model name.
// Mutations on the same key are serialized; different keys never contend.
// Every mutation performs a durable write before returning. A failed write
// is reported to the caller but does not roll back the in-memory state:
// last-known-good stays authoritative for the rest of the process.
type Store struct {
	storage      *storage
	systemPrompt string
	trim         CountWindow

	mu    sync.Mutex
	convs map[string]*convEntry
}

type convEntry struct {
	mu       sync.Mutex
	loaded   bool
	messages []Message
}

// NewStore creates a store persisting to dir. maxMessages is the number of
// non-system messages the stored history retains.
func NewStore(dir, systemPrompt string, maxMessages int) (*Store, error) {
	st, err := newStorage(dir)
	if err != nil {
		return nil, err
	}

	return &Store{
		storage:      st,
		systemPrompt: systemPrompt,
		trim:         CountWindow{Max: maxMessages},
		convs:        make(map[string]*convEntry),
	}, nil
}

// Get returns a snapshot of the conversation for model, creating it from
// persisted state or a fresh system preamble on first reference.
func (s *Store) Get(model string) Conversation {
	key := NormalizeModelKey(model)
	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(key, e)

	return Conversation{Key: key, Messages: copyMessages(e.messages)}
}

// Append appends a message for model, trims the stored history, and
// persists. The returned error, if any, is a persistence failure; the
// message is retained in memory regardless.
func (s *Store) Append(model string, role Role, content string) error {
	key := NormalizeModelKey(model)
	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(key, e)

	e.messages = append(e.messages, Message{Role: role, Content: content})
	e.messages = s.trim.Apply(e.messages)

	if err := s.storage.Save(key, e.messages); err != nil {
		logger.Error("Failed to persist history for %s: %v", key, err)
		return err
	}

	logger.Debug("Appended %s message to %s (%d stored)", role, key, len(e.messages))
	return nil
}

// Clear resets the conversation for model to the singleton system
// preamble and persists.
func (s *Store) Clear(model string) error {
	key := NormalizeModelKey(model)
	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(key, e)

	e.messages = []Message{s.seedMessage()}

	if err := s.storage.Save(key, e.messages); err != nil {
		logger.Error("Failed to persist cleared history for %s: %v", key, err)
		return err
	}

	logger.Info("Cleared chat history for %s", key)
	return nil
}

// ListKeys enumerates every conversation with persisted state.
func (s *Store) ListKeys() ([]string, error) {
	return s.storage.List()
}

func (s *Store) entry(key string) *convEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.convs[key]
	if !ok {
		e = &convEntry{}
		s.convs[key] = e
	}
	return e
}

// ensureLoaded initializes an entry from persisted state, seeding and
// persisting the system preamble when nothing usable is on disk. Callers
// hold e.mu.
func (s *Store) ensureLoaded(key string, e *convEntry) {
	if e.loaded {
		return
	}
	e.loaded = true

	if stored, ok := s.storage.Load(key); ok && len(stored.Messages) > 0 {
		e.messages = stored.Messages
		logger.Info("Loaded %d messages from history for %s", len(e.messages), key)
		return
	}

	logger.Info("No history found for %s, starting fresh", key)
	e.messages = []Message{s.seedMessage()}
	if err := s.storage.Save(key, e.messages); err != nil {
		logger.Error("Failed to persist seeded history for %s: %v", key, err)
	}
}

func (s *Store) seedMessage() Message {
	return Message{Role: RoleSystem, Content: s.systemPrompt}
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
