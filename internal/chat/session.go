// Package chat manages the per-user conversations with the health assistant.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"medisense/internal/gradio"
)

// Greeting opens every conversation. It sits in the user slot of the first
// turn with an empty bot reply, which is how the remote chatbot expects it.
const Greeting = "Hello! I'm MediSense, your AI health assistant. How can I help you today?"

var (
	ErrEmptyMessage      = errors.New("empty message")
	ErrBusy              = errors.New("still waiting for the previous response")
	ErrCleared           = errors.New("chat was cleared before the response arrived")
	ErrRemoteClearFailed = errors.New("Could not clear server chat history. Local chat cleared.")
)

type State int

const (
	Idle State = iota
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// Gateway is the remote chatbot.
type Gateway interface {
	Chat(ctx context.Context, message string, history []gradio.Turn) (json.RawMessage, error)
	ClearChat(ctx context.Context) error
}

// Reply is the newest bot message of an exchange.
type Reply struct {
	Text string
}

func (r Reply) HTML() string     { return HTML(r.Text) }
func (r Reply) Telegram() string { return Telegram(r.Text) }

type Session struct {
	gw Gateway

	mu      sync.Mutex
	history []gradio.Turn
	state   State
	// epoch changes on every Clear so that late responses can be told apart.
	epoch uint64
}

func NewSession(gw Gateway) *Session {
	return &Session{gw: gw, history: initialHistory()}
}

func initialHistory() []gradio.Turn {
	return []gradio.Turn{{User: Greeting, Bot: ""}}
}

// Send forwards message with the prior history. On success the local
// history is replaced by the service's echo. A malformed echo leaves the
// local history as it was plus the unanswered user turn; when the echo still
// carries text it is returned alongside the error.
func (s *Session) Send(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state == AwaitingResponse {
		s.mu.Unlock()
		return Reply{}, ErrBusy
	}
	prior := append([]gradio.Turn(nil), s.history...)
	s.history = append(s.history, gradio.Turn{User: message})
	s.state = AwaitingResponse
	epoch := s.epoch
	s.mu.Unlock()

	data, err := s.gw.Chat(ctx, message, prior)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		log.Printf("🗑️ Dropping chat response received after clear")
		return Reply{}, ErrCleared
	}
	s.state = Idle
	if err != nil {
		return Reply{}, err
	}

	turns, err := gradio.DecodeHistory(data)
	if err != nil {
		var partial *gradio.PartialResponseError
		if errors.As(err, &partial) {
			log.Printf("⚠️ Chat echo is not a history, showing raw text: %s", partial.Reason)
			return Reply{Text: partial.Text}, err
		}
		log.Printf("❌ Invalid chat echo: %v", err)
		return Reply{}, err
	}
	s.history = turns
	if len(turns) == 0 {
		log.Printf("⚠️ Received history array from backend is empty")
		return Reply{}, nil
	}
	return Reply{Text: turns[len(turns)-1].Bot}, nil
}

// Clear resets the local history to the greeting and asks the service to
// forget its side. The remote result never blocks the local reset.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.history = initialHistory()
	s.state = Idle
	s.epoch++
	s.mu.Unlock()

	if err := s.gw.ClearChat(ctx); err != nil {
		log.Printf("⚠️ Failed to clear chat history on server: %v", err)
		return fmt.Errorf("%w: %v", ErrRemoteClearFailed, err)
	}
	return nil
}

func (s *Session) History() []gradio.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gradio.Turn(nil), s.history...)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Manager holds one session per user, created on first use.
type Manager struct {
	gw       Gateway
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewManager(gw Gateway) *Manager {
	return &Manager{gw: gw, sessions: make(map[int64]*Session)}
}

func (m *Manager) Session(userID int64) *Session {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[userID]; ok {
		return s
	}
	s = NewSession(m.gw)
	m.sessions[userID] = s
	return s
}

// Drop forgets the user's session without touching the remote service.
func (m *Manager) Drop(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
