package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/codefionn/chatrelay/internal/chat"
	"github.com/codefionn/chatrelay/internal/logger"
)

// State is the lifecycle position of a session.
type State int

const (
	// StateIdle accepts new turns.
	StateIdle State = iota
	// StateStreaming has exactly one generation in flight.
	StateStreaming
	// StateClosed is terminal.
	StateClosed
)

// Inference is the slice of the backend client a session drives.
type Inference interface {
	Stream(ctx context.Context, model string, messages []chat.Message, onFragment func(fragment string) error) error
}

var errConnClosed = errors.New("connection closed")

// Session is the state machine bound to one live connection. It owns a
// transient response buffer per in-flight generation; the Conversation it
// operates on outlives it.
type Session struct {
	ID    string
	model string
	key   string

	store   *chat.Store
	window  chat.Window
	backend Inference
	conn    *Conn
	events  chan InboundEvent

	// state and pendingClear are owned by the Run goroutine.
	state        State
	pendingClear bool
}

// NewSession binds a connection to the conversation for model. window may
// be nil when no outbound view policy applies.
func NewSession(model string, store *chat.Store, window chat.Window, backend Inference, conn *Conn) *Session {
	return &Session{
		model:   model,
		key:     chat.NormalizeModelKey(model),
		store:   store,
		window:  window,
		backend: backend,
		conn:    conn,
		events:  make(chan InboundEvent, 16),
	}
}

// Events is the inbound channel the connection's read pump feeds.
func (s *Session) Events() chan<- InboundEvent {
	return s.events
}

// Run greets the client, replays persisted history, and processes inbound
// events until disconnect. It returns once the session is closed; any
// in-flight generation is abandoned and its late result discarded, since
// there is no client left to deliver it to.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { s.state = StateClosed }()

	conv := s.store.Get(s.model)
	if !s.conn.Send(WelcomeEvent(s.model, s.key)) {
		return
	}
	if history := nonSystemMessages(conv.Messages); len(history) > 0 {
		s.conn.Send(HistoryLoadedEvent(history))
	}

	turnDone := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				logger.Info("Session %s disconnected (model %s)", s.ID, s.key)
				return
			}
			// A turn that finished while this event was in flight settles
			// first, so a message sent right after stream_end is never
			// rejected as busy.
			select {
			case <-turnDone:
				s.finishTurn()
			default:
			}
			switch ev := ev.(type) {
			case MessageEvent:
				s.handleMessage(ctx, ev, turnDone)
			case ClearHistoryEvent:
				s.handleClear()
			}

		case <-turnDone:
			s.finishTurn()

		case <-ctx.Done():
			return
		}
	}
}

// handleMessage starts a generation for a user turn. A second message
// while one generation is in flight is a protocol violation answered with
// an error event; the in-flight stream is not disturbed.
func (s *Session) handleMessage(ctx context.Context, ev MessageEvent, turnDone chan<- struct{}) {
	if s.state == StateStreaming {
		logger.Warn("Session %s rejected message while streaming", s.ID)
		s.conn.Send(ErrorEvent("a generation is already in progress"))
		return
	}

	logger.Info("Session %s user message (%d bytes)", s.ID, len(ev.Content))

	// The user turn is part of history even if this generation fails;
	// persistence failures leave in-memory state authoritative.
	if err := s.store.Append(s.model, chat.RoleUser, ev.Content); err != nil {
		logger.Warn("Session %s continuing with unpersisted user message: %v", s.ID, err)
	}

	s.state = StateStreaming
	s.conn.Send(StreamStartEvent())

	turnContext := s.buildContext()
	go s.runTurn(ctx, turnContext, turnDone)
}

// runTurn drives one generation. It is the only goroutine besides the
// read pump that touches the connection while streaming; fragment order
// on the wire is exactly backend receipt order.
func (s *Session) runTurn(ctx context.Context, turnContext []chat.Message, turnDone chan<- struct{}) {
	defer func() { turnDone <- struct{}{} }()

	var buffer strings.Builder
	err := s.backend.Stream(ctx, s.model, turnContext, func(fragment string) error {
		buffer.WriteString(fragment)
		if !s.conn.Send(StreamEvent(fragment)) {
			return errConnClosed
		}
		return nil
	})

	if ctx.Err() != nil || errors.Is(err, errConnClosed) {
		// Disconnected mid-generation: the result is unobservable and
		// deliberately not persisted.
		logger.Debug("Session %s abandoned in-flight generation", s.ID)
		return
	}

	if err != nil {
		// No partial assistant content is persisted for a failed turn,
		// and the client still gets its closing stream_end.
		logger.Error("Session %s generation failed: %v", s.ID, err)
		s.conn.Send(ErrorEvent("Error: " + err.Error()))
		s.conn.Send(StreamEndEvent())
		return
	}

	if err := s.store.Append(s.model, chat.RoleAssistant, buffer.String()); err != nil {
		logger.Warn("Session %s assistant reply not persisted: %v", s.ID, err)
	}
	s.conn.Send(StreamEndEvent())
}

// finishTurn returns the session to Idle and applies a clear that was
// deferred while the turn streamed.
func (s *Session) finishTurn() {
	s.state = StateIdle
	if s.pendingClear {
		s.pendingClear = false
		s.clearConversation()
	}
}

// handleClear resets the conversation. A clear that arrives during a
// generation does not abort it; it is deferred until the turn finishes,
// so the completed reply is appended first and then wiped with the rest
// of the history, and history_cleared follows stream_end on the wire.
func (s *Session) handleClear() {
	if s.state == StateStreaming {
		s.pendingClear = true
		return
	}
	s.clearConversation()
}

func (s *Session) clearConversation() {
	if err := s.store.Clear(s.model); err != nil {
		logger.Warn("Session %s clear not persisted: %v", s.ID, err)
	}
	s.conn.Send(HistoryClearedEvent())
}

// buildContext snapshots the conversation and applies the outbound view
// policy.
func (s *Session) buildContext() []chat.Message {
	messages := s.store.Get(s.model).Messages
	if s.window != nil {
		messages = s.window.Apply(messages)
	}
	return messages
}

func nonSystemMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != chat.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}
