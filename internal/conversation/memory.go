// Package conversation keeps the bounded, ordered dialogue log used to give
// the model context across turns.
package conversation

import (
	"sync"
	"time"
)

// DefaultCap is the number of messages kept when no cap is configured.
const DefaultCap = 50

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one immutable entry of the dialogue.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Turn is the model-facing projection of a message.
type Turn struct {
	Role    Role
	Content string
}

// Stats summarises the stored messages.
type Stats struct {
	Count      int
	UserCount  int
	ModelCount int
}

// Memory stores conversation messages in memory, oldest first. Once the cap
// is exceeded the oldest messages are dropped.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	cap      int
	now      func() time.Time
}

// NewMemory constructs an empty memory holding at most limit messages.
// A non-positive limit selects DefaultCap.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Memory{cap: limit, now: time.Now}
}

// SetClock overrides the timestamp source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// Cap reports the configured message limit.
func (m *Memory) Cap() int { return m.cap }

// AppendUser records a user message.
func (m *Memory) AppendUser(content string) { m.append(RoleUser, content) }

// AppendModel records a model message.
func (m *Memory) AppendModel(content string) { m.append(RoleModel, content) }

func (m *Memory) append(role Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Role: role, Content: content, Timestamp: m.now()})
	if over := len(m.messages) - m.cap; over > 0 {
		kept := make([]Message, m.cap)
		copy(kept, m.messages[over:])
		m.messages = kept
	}
}

// Recent returns up to n of the newest messages in append order.
func (m *Memory) Recent(n int) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return []Message{}
	}
	start := len(m.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(m.messages)-start)
	copy(out, m.messages[start:])
	return out
}

// All returns a snapshot of every stored message.
func (m *Memory) All() []Message {
	return m.Recent(m.Len())
}

// Formatted returns the stored dialogue as model turns.
func (m *Memory) Formatted() []Turn {
	return ToTurns(m.All())
}

// ToTurns projects messages into model turns.
func ToTurns(msgs []Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, Turn{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// Len reports the number of stored messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Clear drops every message.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Stats counts stored messages by role.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Count: len(m.messages)}
	for _, msg := range m.messages {
		switch msg.Role {
		case RoleUser:
			s.UserCount++
		case RoleModel:
			s.ModelCount++
		}
	}
	return s
}
