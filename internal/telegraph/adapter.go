// Package telegraph connects llamagram to chat platforms (Telegram, Slack,
// Discord). It defines the adapter contract the bot and the output emitter
// talk to; platform implementations live in subpackages.
package telegraph

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrRateLimited is wrapped by Edit errors when the platform throttled the
// call. Edits are never retried.
var ErrRateLimited = errors.New("telegraph: rate limited")

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message
// send/edit/delete for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers a new message and returns a reference to it.
	Send(ctx context.Context, msg OutboundMessage) (MessageRef, error)

	// Edit replaces the text of a message previously sent by the bot.
	// A throttled edit fails at once with an error wrapping ErrRateLimited.
	Edit(ctx context.Context, ref MessageRef, text string) error

	// Delete removes a message previously sent by the bot.
	Delete(ctx context.Context, ref MessageRef) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "telegram", "slack", "discord"
	ChannelID string    // platform-specific channel or chat identifier
	ThreadID  string    // thread identifier (empty if top-level)
	MessageID string    // platform-specific id of this message
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// SessionID returns the conversation key for the message:
// platform:channel, plus :thread when the message is in a thread.
func (m InboundMessage) SessionID() string {
	parts := []string{m.Platform, m.ChannelID}
	if m.ThreadID != "" {
		parts = append(parts, m.ThreadID)
	}
	return strings.Join(parts, ":")
}

// ReplyTarget returns the target for answering m.
func (m InboundMessage) ReplyTarget() ReplyTarget {
	return ReplyTarget{
		ChannelID: m.ChannelID,
		ThreadID:  m.ThreadID,
		ReplyToID: m.MessageID,
	}
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string // target channel
	ThreadID  string // thread to reply in (empty for top-level)
	ReplyToID string // message to quote/reply to, if the platform supports it
	Text      string // message text, plain
}

// MessageRef identifies a message the bot has sent.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether the reference points nowhere.
func (r MessageRef) IsZero() bool { return r.MessageID == "" }

// ReplyTarget is where a job's output goes: the conversation, the message
// being answered and the placeholder that announced the job.
type ReplyTarget struct {
	ChannelID   string
	ThreadID    string
	ReplyToID   string
	Placeholder MessageRef
}

// Reply builds an outbound reply to the target with text.
func (t ReplyTarget) Reply(text string) OutboundMessage {
	return OutboundMessage{
		ChannelID: t.ChannelID,
		ThreadID:  t.ThreadID,
		ReplyToID: t.ReplyToID,
		Text:      text,
	}
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// Typer is an optional interface for adapters that can show a
// "typing…" indicator in a channel.
type Typer interface {
	Typing(ctx context.Context, channelID string) error
}
