// Package telegram implements the telegraph Adapter for the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/llamagram/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// pollTimeout is the long-polling timeout in seconds.
	pollTimeout = 60
)

// botClient abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botClient interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	StopReceivingUpdates()
}

// Adapter implements telegraph.Adapter for Telegram.
type Adapter struct {
	client      botClient
	token       string
	botUserID   string
	botUserName string
	mu          sync.Mutex
	connected   bool
	closed      bool
	listening   bool
	inbound     chan telegraph.InboundMessage
	cancelFunc  context.CancelFunc
	baseBackoff time.Duration
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token string // bot token from @BotFather
	// For testing: inject a mock client instead of the real Bot API.
	Client botClient
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Adapter{
		client:      opts.Client,
		token:       opts.Token,
		inbound:     make(chan telegraph.InboundMessage, 100),
		baseBackoff: time.Second,
	}, nil
}

// Connect authenticates with the Bot API.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		bot, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		a.client = bot
	}

	me, err := a.client.GetMe()
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.botUserID = strconv.FormatInt(me.ID, 10)
	a.botUserName = me.UserName
	log.Printf("telegram: authorized as @%s", me.UserName)

	a.connected = true
	return nil
}

// Listen starts long polling and returns the inbound message channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		a.mu.Unlock()
		return a.inbound, nil
	}
	a.listening = true
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := a.client.GetUpdatesChan(u)

	go a.pumpUpdates(listenCtx, updates)
	return a.inbound, nil
}

// Send delivers a text message, as a reply when ReplyToID is set.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) (telegraph.MessageRef, error) {
	if err := a.checkConnected(); err != nil {
		return telegraph.MessageRef{}, err
	}
	chatID, err := parseChatID(msg.ChannelID)
	if err != nil {
		return telegraph.MessageRef{}, err
	}

	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.ReplyToID != "" {
		if id, err := strconv.Atoi(msg.ReplyToID); err == nil {
			cfg.ReplyToMessageID = id
			cfg.AllowSendingWithoutReply = true
		}
	}

	var sent tgbotapi.Message
	err = a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = a.client.Send(cfg)
		return sendErr
	})
	if err != nil {
		return telegraph.MessageRef{}, fmt.Errorf("telegram: send message: %w", err)
	}
	return telegraph.MessageRef{ChannelID: msg.ChannelID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit replaces a message's text. Telegram rejects edits that do not change
// the text; those count as success. A 429 is returned without retrying.
func (a *Adapter) Edit(ctx context.Context, ref telegraph.MessageRef, text string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}

	cfg := tgbotapi.NewEditMessageText(chatID, msgID, text)
	_, err = a.client.Request(cfg)
	switch {
	case err == nil, isNotModified(err):
		return nil
	case isRateLimited(err):
		return fmt.Errorf("telegram: edit message: %w: %w", telegraph.ErrRateLimited, err)
	default:
		return fmt.Errorf("telegram: edit message: %w", err)
	}
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, ref telegraph.MessageRef) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}

	cfg := tgbotapi.NewDeleteMessage(chatID, msgID)
	err = a.retryOnRateLimit(ctx, func() error {
		_, reqErr := a.client.Request(cfg)
		return reqErr
	})
	if err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}
	return nil
}

// Typing sends the "typing" chat action.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	if _, err := a.client.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram: chat action: %w", err)
	}
	return nil
}

// Close stops polling and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.listening {
		a.client.StopReceivingUpdates()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// pumpUpdates converts Bot API updates into InboundMessages.
func (a *Adapter) pumpUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			msg, ok := a.convert(upd)
			if !ok {
				continue
			}
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// convert turns a text message update into an InboundMessage. Non-text
// updates, edits and messages from bots are dropped.
func (a *Adapter) convert(upd tgbotapi.Update) (telegraph.InboundMessage, bool) {
	m := upd.Message
	if m == nil || m.Text == "" || m.Chat == nil {
		return telegraph.InboundMessage{}, false
	}
	var userID, userName string
	if m.From != nil {
		if m.From.IsBot {
			return telegraph.InboundMessage{}, false
		}
		userID = strconv.FormatInt(m.From.ID, 10)
		userName = m.From.UserName
		if userName == "" {
			userName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
	}

	a.mu.Lock()
	botName := a.botUserName
	a.mu.Unlock()

	return telegraph.InboundMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID: strconv.Itoa(m.MessageID),
		UserID:    userID,
		UserName:  userName,
		Text:      stripBotSuffix(m.Text, botName),
		Timestamp: m.Time(),
	}, true
}

// stripBotSuffix turns "/cmd@MyBot args" into "/cmd args" for this bot.
func stripBotSuffix(text, botName string) string {
	if botName == "" || !strings.HasPrefix(text, "/") {
		return text
	}
	word, rest, _ := strings.Cut(text, " ")
	suffix := "@" + botName
	if strings.EqualFold(word[max(0, len(word)-len(suffix)):], suffix) {
		word = word[:len(word)-len(suffix)]
		if rest == "" {
			return word
		}
		return word + " " + rest
	}
	return text
}

// retryOnRateLimit calls fn and retries on HTTP 429 responses, waiting the
// retry_after interval Telegram reports.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !isRateLimited(err) || !errors.As(err, &apiErr) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

func isRateLimited(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 429
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}

func parseRef(ref telegraph.MessageRef) (int64, int, error) {
	chatID, err := parseChatID(ref.ChannelID)
	if err != nil {
		return 0, 0, err
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid message id %q", ref.MessageID)
	}
	return chatID, msgID, nil
}
