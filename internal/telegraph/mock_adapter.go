package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EditRecord is one recorded Edit call.
type EditRecord struct {
	Ref  MessageRef
	Text string
}

// MockAdapter implements Adapter and Typer for testing. It records every
// send, edit and delete, keeps the current text of each message, and can
// be told to fail any of them.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []OutboundMessage
	edits     []EditRecord
	deletes   []MessageRef
	typing    []string
	texts     map[string]string // message id -> current text
	nextID    int
	botUserID string

	sendErr   error
	editErr   error
	deleteErr error
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
		texts:   make(map[string]string),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and assigns it an id "m-N".
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock adapter: not connected")
	}
	if m.sendErr != nil {
		return MessageRef{}, m.sendErr
	}
	m.nextID++
	ref := MessageRef{ChannelID: msg.ChannelID, MessageID: fmt.Sprintf("m-%d", m.nextID)}
	m.sent = append(m.sent, msg)
	m.texts[ref.MessageID] = msg.Text
	return ref, nil
}

// Edit records the edit and updates the message text.
func (m *MockAdapter) Edit(ctx context.Context, ref MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.editErr != nil {
		return m.editErr
	}
	if _, ok := m.texts[ref.MessageID]; !ok {
		return fmt.Errorf("mock adapter: message %q not found", ref.MessageID)
	}
	m.edits = append(m.edits, EditRecord{Ref: ref, Text: text})
	m.texts[ref.MessageID] = text
	return nil
}

// Delete records the deletion and forgets the message.
func (m *MockAdapter) Delete(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.texts[ref.MessageID]; !ok {
		return fmt.Errorf("mock adapter: message %q not found", ref.MessageID)
	}
	m.deletes = append(m.deletes, ref)
	delete(m.texts, ref.MessageID)
	return nil
}

// Typing records a typing indicator (implements Typer).
func (m *MockAdapter) Typing(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetSendError makes subsequent Send calls fail with err (nil to clear).
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetEditError makes subsequent Edit calls fail with err (nil to clear).
func (m *MockAdapter) SetEditError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editErr = err
}

// SetDeleteError makes subsequent Delete calls fail with err (nil to clear).
func (m *MockAdapter) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// AllEdits returns a copy of all recorded edits.
func (m *MockAdapter) AllEdits() []EditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EditRecord, len(m.edits))
	copy(out, m.edits)
	return out
}

// AllDeletes returns a copy of all deleted message refs.
func (m *MockAdapter) AllDeletes() []MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageRef, len(m.deletes))
	copy(out, m.deletes)
	return out
}

// TypingCount returns the number of typing indicators shown.
func (m *MockAdapter) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.typing)
}

// Text returns the current text of a message and whether it still exists.
func (m *MockAdapter) Text(messageID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.texts[messageID]
	return t, ok
}
