package emitter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/telegraph"
)

// State is the phase of a Stream.
type State int

const (
	// Accumulating means output is going into the first message.
	Accumulating State = iota
	// RolledOver means at least one message filled up and output is going
	// into a later one.
	RolledOver
	// Done means the terminal flush has happened.
	Done
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case RolledOver:
		return "rolled_over"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ErrStreamClosed is returned by Write after Close.
var ErrStreamClosed = errors.New("emitter: stream closed")

// Stats counts what a Stream did.
type Stats struct {
	Flushes   int // successful sends and edits
	Dropped   int // intermediate sends and edits that failed and were skipped
	Rollovers int
	Segments  int // messages that carry output
}

// StreamOpts holds parameters for creating a Stream.
type StreamOpts struct {
	Adapter telegraph.Adapter
	Target  telegraph.ReplyTarget // Target.Placeholder, if set, receives the first segment
	// RolloverThreshold is the most UTF-16 units (see Length) a single
	// message may hold.
	RolloverThreshold int
	// FlushInterval is the minimum time between flushes not forced by an
	// edge token.
	FlushInterval time.Duration
	// EmptyText replaces the placeholder when the stream produced nothing.
	EmptyText string
	Now       func() time.Time // defaults to time.Now
}

// Stream delivers incrementally generated text by editing a message in
// place. A Stream is used by one goroutine at a time.
type Stream struct {
	adapter   telegraph.Adapter
	target    telegraph.ReplyTarget
	threshold int
	interval  time.Duration
	emptyText string
	now       func() time.Time

	state       State
	active      telegraph.MessageRef // zero until the segment's message exists
	segment     strings.Builder      // text of the active segment
	segmentLen  int                  // UTF-16 units in segment
	lastFlushed string               // text the active message shows
	lastFlush   time.Time
	full        strings.Builder // everything written
	stats       Stats
}

// NewStream creates a Stream in the Accumulating state.
func NewStream(opts StreamOpts) *Stream {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	threshold := opts.RolloverThreshold
	if threshold <= 0 {
		threshold = 4000
	}
	s := &Stream{
		adapter:   opts.Adapter,
		target:    opts.Target,
		threshold: threshold,
		interval:  opts.FlushInterval,
		emptyText: opts.EmptyText,
		now:       now,
		state:     Accumulating,
		active:    opts.Target.Placeholder,
	}
	s.lastFlush = now()
	if !s.active.IsZero() {
		s.stats.Segments = 1
	}
	return s
}

// State returns the current state.
func (s *Stream) State() State { return s.state }

// Text returns everything written so far.
func (s *Stream) Text() string { return s.full.String() }

// Stats returns delivery counters.
func (s *Stream) Stats() Stats { return s.stats }

// Active returns the message currently receiving output.
func (s *Stream) Active() telegraph.MessageRef { return s.active }

// Write appends a generated fragment. The active message is updated when
// the flush interval has elapsed or the fragment is an edge token (empty,
// a single space or a newline). If the fragment would push the active
// message past the rollover threshold, the message is finalized first and
// output continues in a new one. Delivery failures here are counted and
// skipped; Write only fails after Close.
func (s *Stream) Write(ctx context.Context, token string) error {
	if s.state == Done {
		return ErrStreamClosed
	}
	s.full.WriteString(token)

	rest := token
	n := Length(rest)
	for s.segmentLen+n > s.threshold {
		if s.segmentLen == 0 {
			// The fragment alone overflows a message: fill one and move on.
			head, tail := splitAt(rest, s.threshold)
			hn := Length(head)
			s.append(head, hn)
			rest, n = tail, n-hn
		}
		s.rollover(ctx)
	}
	s.append(rest, n)

	if isEdgeToken(token) || s.now().Sub(s.lastFlush) >= s.interval {
		s.flush(ctx)
	}
	return nil
}

// Close performs the terminal flush so the last message shows everything
// written to it. A failure of that flush is returned as a Delivery fault
// for the caller to log; the stream is Done either way.
func (s *Stream) Close(ctx context.Context) error {
	if s.state == Done {
		return nil
	}
	s.state = Done

	// Whitespace never reaches a message, so whitespace-only output counts
	// as empty.
	if strings.TrimSpace(s.full.String()) == "" {
		return s.closeEmpty(ctx)
	}

	if err := s.deliver(ctx); err != nil {
		return fault.Wrap(fault.Delivery, "final flush", err)
	}
	return nil
}

// closeEmpty replaces the placeholder with the empty text, or sends it as a
// reply when there is no placeholder.
func (s *Stream) closeEmpty(ctx context.Context) error {
	if s.emptyText == "" {
		return nil
	}
	if ph := s.target.Placeholder; !ph.IsZero() {
		if err := s.adapter.Edit(ctx, ph, s.emptyText); err != nil {
			return fault.Wrap(fault.Delivery, "final edit", err)
		}
	} else if _, err := s.adapter.Send(ctx, s.target.Reply(s.emptyText)); err != nil {
		return fault.Wrap(fault.Delivery, "final send", err)
	}
	s.stats.Flushes++
	return nil
}

func (s *Stream) append(text string, units int) {
	s.segment.WriteString(text)
	s.segmentLen += units
}

// flush shows the pending segment text, swallowing failures.
func (s *Stream) flush(ctx context.Context) {
	if err := s.deliver(ctx); err != nil {
		s.stats.Dropped++
	}
	s.lastFlush = s.now()
}

// deliver brings the active message up to date with the segment, creating
// the message if the segment does not have one yet.
func (s *Stream) deliver(ctx context.Context) error {
	text := s.segment.String()
	if text == s.lastFlushed || strings.TrimSpace(text) == "" {
		return nil
	}
	if s.active.IsZero() {
		ref, err := s.adapter.Send(ctx, s.target.Reply(text))
		if err != nil {
			return err
		}
		s.active = ref
		s.stats.Segments++
	} else if err := s.adapter.Edit(ctx, s.active, text); err != nil {
		return err
	}
	s.lastFlushed = text
	s.stats.Flushes++
	return nil
}

// rollover finalizes the active message with its pending text and starts
// an empty segment. The finalized message is never touched again.
func (s *Stream) rollover(ctx context.Context) {
	s.flush(ctx)
	s.active = telegraph.MessageRef{}
	s.segment.Reset()
	s.segmentLen = 0
	s.lastFlushed = ""
	s.state = RolledOver
	s.stats.Rollovers++
}

func isEdgeToken(token string) bool {
	return token == "" || token == " " || token == "\n"
}
