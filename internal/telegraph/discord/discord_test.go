package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/llamagram/internal/telegraph"
)

// --- Mock Discord session ---

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

type editedMessage struct {
	channelID, messageID, content string
}

type mockSession struct {
	mu          sync.Mutex
	openErr     error
	closeCalled bool
	sent        []sentMessage
	sendErr     error
	edits       []editedMessage
	editErr     error
	deleted     []string
	typing      []string
	handlers    []interface{}
	removeCount int
	channels    map[string]*discordgo.Channel // for Channel() lookups
	nextID      int
}

func newMockSession() *mockSession {
	return &mockSession{channels: make(map[string]*discordgo.Channel)}
}

func (m *mockSession) Open() error { return m.openErr }

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID), ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, editedMessage{channelID, messageID, content})
	return &discordgo.Message{ID: messageID}, nil
}

func (m *mockSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *mockSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

// messageHandler returns the registered MessageCreate handler, if any.
func (m *mockSession) messageHandler() func(*discordgo.Session, *discordgo.MessageCreate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.MessageCreate)); ok {
			return fn
		}
	}
	return nil
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()
	a, err := New(AdapterOpts{Session: sess})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.SetBotUserID("BOT_USER_ID")
	return a, sess
}

func listen(t *testing.T, a *Adapter, sess *mockSession) (<-chan telegraph.InboundMessage, func(*discordgo.MessageCreate)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := a.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := sess.messageHandler()
	if h == nil {
		t.Fatal("no MessageCreate handler registered")
	}
	return ch, func(m *discordgo.MessageCreate) { h(nil, m) }
}

func userMessage(id, channelID, authorID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "alice"},
	}}
}

// --- Tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("invalid token")
	a, _ := New(AdapterOpts{Session: sess})
	if err := a.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("err = %v, want open gateway error", err)
	}
}

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_ReceivesMessage(t *testing.T) {
	a, sess := newTestAdapter(t)
	ch, deliver := listen(t, a, sess)

	go deliver(userMessage("1100000000000000000", "C1", "U1", "<@BOT_USER_ID> 2+2?"))

	select {
	case msg := <-ch:
		if msg.Platform != "discord" || msg.ChannelID != "C1" || msg.ThreadID != "" {
			t.Errorf("msg = %+v", msg)
		}
		if msg.Text != "2+2?" {
			t.Errorf("Text = %q, want mention stripped", msg.Text)
		}
		if msg.MessageID != "1100000000000000000" || msg.Timestamp.IsZero() {
			t.Errorf("id/timestamp = %q/%v", msg.MessageID, msg.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
}

func TestListen_ThreadMessage(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["T1"] = &discordgo.Channel{ID: "T1", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread}
	ch, deliver := listen(t, a, sess)

	go deliver(userMessage("1100000000000000001", "T1", "U1", "hello"))

	select {
	case msg := <-ch:
		if msg.ChannelID != "C1" || msg.ThreadID != "T1" {
			t.Errorf("channel/thread = %q/%q, want C1/T1", msg.ChannelID, msg.ThreadID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestListen_FiltersBotsAndSelf(t *testing.T) {
	a, sess := newTestAdapter(t)
	ch, deliver := listen(t, a, sess)

	deliver(userMessage("1", "C1", "BOT_USER_ID", "self"))
	other := userMessage("2", "C1", "U9", "bot")
	other.Author.Bot = true
	deliver(other)
	deliver(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "3", ChannelID: "C1"}})

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSend_ReplyReference(t *testing.T) {
	a, sess := newTestAdapter(t)
	ref, err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ReplyToID: "u-1", Text: "Queued"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.ChannelID != "C1" || ref.MessageID != "msg-1" {
		t.Errorf("ref = %+v", ref)
	}
	data := sess.sent[0].data
	if data.Reference == nil || data.Reference.MessageID != "u-1" {
		t.Errorf("reference = %+v", data.Reference)
	}
}

func TestSend_ThreadIsChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	ref, err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.sent[0].channelID != "T1" || ref.ChannelID != "T1" {
		t.Errorf("sent to %q, ref %+v; want thread T1", sess.sent[0].channelID, ref)
	}
	if sess.sent[0].data.Reference != nil {
		t.Error("no reference expected without ReplyToID")
	}
}

func TestSend_Errors(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Error("expected error without channel")
	}
	sess.sendErr = fmt.Errorf("missing access")
	if _, err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1"}); err == nil {
		t.Error("expected send error")
	}
}

func TestEditDeleteTyping(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx := context.Background()
	ref := telegraph.MessageRef{ChannelID: "C1", MessageID: "m-7"}

	if err := a.Edit(ctx, ref, "partial"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if len(sess.edits) != 1 || sess.edits[0] != (editedMessage{"C1", "m-7", "partial"}) {
		t.Errorf("edits = %+v", sess.edits)
	}
	if err := a.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := a.Typing(ctx, "C1"); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if len(sess.deleted) != 1 || len(sess.typing) != 1 {
		t.Errorf("deleted = %v, typing = %v", sess.deleted, sess.typing)
	}
}

func TestEdit_RateLimitedNotRetried(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.baseBackoff = time.Hour
	a.maxBackoff = time.Hour
	sess.editErr = &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}

	err := a.Edit(context.Background(), telegraph.MessageRef{ChannelID: "C1", MessageID: "m"}, "x")
	if !errors.Is(err, telegraph.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if err == nil || !strings.Contains(err.Error(), "edit message") {
		t.Errorf("err = %v, want edit message prefix", err)
	}
}

func TestClose_RemovesHandler(t *testing.T) {
	a, sess := newTestAdapter(t)
	listen(t, a, sess)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	if sess.removeCount != 1 || !sess.closeCalled {
		t.Errorf("removeCount = %d, closeCalled = %v", sess.removeCount, sess.closeCalled)
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<@B> hi", "hi"},
		{"<@!B>   /reset", "/reset"},
		{"hi <@B>", "hi <@B>"},
	}
	for _, tt := range tests {
		if got := stripMention(tt.in, "B"); got != tt.want {
			t.Errorf("stripMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := stripMention(" x ", ""); got != "x" {
		t.Errorf("stripMention without bot id = %q", got)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("some other error")
	})
	if err == nil || calls != 1 {
		t.Errorf("non rate-limit: err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.baseBackoff = time.Second
	err = a.retryOnRateLimit(ctx, func() error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

var _ telegraph.Adapter = (*Adapter)(nil)
var _ telegraph.Typer = (*Adapter)(nil)
var _ telegraph.BotUserIDer = (*Adapter)(nil)
