package telegraph

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle wraps an Adapter with a token-bucket limit on outbound calls so
// streaming edits from the worker and replies from the router together
// stay under the platform's rate limit.
type Throttle struct {
	Adapter
	limiter *rate.Limiter
}

// NewThrottle limits a to perSecond calls with the given burst.
func NewThrottle(a Adapter, perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		Adapter: a,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token, then sends.
func (t *Throttle) Send(ctx context.Context, msg OutboundMessage) (MessageRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return MessageRef{}, fmt.Errorf("telegraph: throttle: %w", err)
	}
	return t.Adapter.Send(ctx, msg)
}

// Edit waits for a token, then edits.
func (t *Throttle) Edit(ctx context.Context, ref MessageRef, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegraph: throttle: %w", err)
	}
	return t.Adapter.Edit(ctx, ref, text)
}

// Delete waits for a token, then deletes.
func (t *Throttle) Delete(ctx context.Context, ref MessageRef) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegraph: throttle: %w", err)
	}
	return t.Adapter.Delete(ctx, ref)
}

// Typing forwards to the wrapped adapter if it supports typing indicators.
// Indicators are cosmetic and skip the limiter when no token is free.
func (t *Throttle) Typing(ctx context.Context, channelID string) error {
	typer, ok := t.Adapter.(Typer)
	if !ok || !t.limiter.Allow() {
		return nil
	}
	return typer.Typing(ctx, channelID)
}

// BotUserID forwards to the wrapped adapter if it exposes one.
func (t *Throttle) BotUserID() string {
	if b, ok := t.Adapter.(BotUserIDer); ok {
		return b.BotUserID()
	}
	return ""
}
