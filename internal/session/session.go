// Package session maintains the bounded conversation state for a single
// logical chat: an ordered message sequence with a capacity cap and an
// optional pinned system prompt.
package session

import (
	"sync"

	"github.com/quillengine/quill/pkg/models"
)

// DefaultMaxMessages is the default session capacity.
const DefaultMaxMessages = 100

// Session holds the ordered conversation. The pinned system message is kept
// outside the sequence: it is prepended on API egress and never dropped by
// trimming. When adding a message would exceed the capacity, the oldest
// messages are dropped in insertion order.
//
// Session is safe for concurrent use, though the executor is the only
// writer during a run.
type Session struct {
	mu            sync.RWMutex
	messages      []models.Message
	maxMessages   int
	systemMessage *models.Message
}

// New creates a session with the given capacity. A non-positive capacity
// falls back to DefaultMaxMessages.
func New(maxMessages int) *Session {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Session{maxMessages: maxMessages}
}

// SetSystemMessage pins the system prompt prepended to the conversation on
// API egress.
func (s *Session) SetSystemMessage(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.SystemMessage(content)
	s.systemMessage = &msg
}

// AddUser appends a user message.
func (s *Session) AddUser(content string) {
	s.Add(models.UserMessage(content))
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(content string) {
	s.Add(models.AssistantMessage(content))
}

// Add appends a message, trimming the oldest entries when the capacity is
// exceeded.
func (s *Session) Add(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.trimLocked()
}

// ReplaceWithSummary discards all messages and inserts a single system
// message carrying the conversation summary.
func (s *Session) ReplaceWithSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
	s.messages = append(s.messages, models.SystemMessage("Previous conversation summary: "+summary))
}

// Clear removes all messages; the pinned system message is untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
}

// MessageCount returns the number of stored messages, excluding the pinned
// system message.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CharCount returns the total character count of stored message content.
func (s *Session) CharCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, msg := range s.messages {
		total += len(msg.Content)
	}
	return total
}

// Messages returns a copy of the stored messages.
func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// GetForAPI returns the egress sequence: the pinned system message, if set,
// followed by the conversation.
func (s *Session) GetForAPI() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(s.messages)+1)
	if s.systemMessage != nil {
		out = append(out, *s.systemMessage)
	}
	out = append(out, s.messages...)
	return out
}

// Splice replaces the stored messages wholesale. Used by the history
// manager when folding a summary back into the session.
func (s *Session) Splice(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages[:0], messages...)
	s.trimLocked()
}

func (s *Session) trimLocked() {
	if excess := len(s.messages) - s.maxMessages; excess > 0 {
		s.messages = append(s.messages[:0], s.messages[excess:]...)
	}
}
