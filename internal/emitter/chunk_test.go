package emitter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/telegraph"
)

func connectedMock(t *testing.T) *telegraph.MockAdapter {
	t.Helper()
	m := telegraph.NewMockAdapter()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return m
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		max   int
		count int
	}{
		{"empty", "", 10, 0},
		{"short", "abc", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"one over", strings.Repeat("a", 11), 10, 2},
		{"many", strings.Repeat("a", 9000), 4096, 3},
		{"runes", strings.Repeat("é", 7), 3, 3},
		{"emoji count double", strings.Repeat("😀", 5), 4, 3},
		{"emoji never split", "😀😀😀", 3, 3},
		{"mixed", "ab😀cd", 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(tt.text, tt.max)
			if len(chunks) != tt.count {
				t.Fatalf("len(chunks) = %d, want %d", len(chunks), tt.count)
			}
			for i, c := range chunks {
				if n := Length(c); n > tt.max {
					t.Errorf("chunk %d has %d units, max %d", i, n, tt.max)
				}
				if !utf8.ValidString(c) {
					t.Errorf("chunk %d is not valid UTF-8", i)
				}
			}
			if got := strings.Join(chunks, ""); got != tt.text {
				t.Error("chunks do not reassemble the input")
			}
		})
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"héllo", 5},
		{"😀", 2},
		{"a😀b", 4},
		{"日本語", 3},
		{"\xff", 1},
	}
	for _, tt := range tests {
		if got := Length(tt.in); got != tt.want {
			t.Errorf("Length(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestChunk_TelegramLimitWithEmoji(t *testing.T) {
	text := strings.Repeat("😀", 3000)
	chunks := Chunk(text, 4096)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if n := Length(chunks[0]); n != 4096 {
		t.Errorf("first chunk = %d units, want 4096", n)
	}
	if n := utf8.RuneCountInString(chunks[0]); n != 2048 {
		t.Errorf("first chunk = %d emoji, want 2048", n)
	}
}

func TestDeliverChunks_SendsRepliesInOrder(t *testing.T) {
	m := connectedMock(t)
	target := telegraph.ReplyTarget{ChannelID: "c1", ReplyToID: "u9"}
	text := strings.Repeat("x", 4096) + strings.Repeat("y", 4096) + "z"

	refs, err := DeliverChunks(context.Background(), m, target, text, 4096)
	if err != nil {
		t.Fatalf("DeliverChunks: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %d, want 3", len(refs))
	}
	sent := m.AllSent()
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
	if sent[0].Text[0] != 'x' || sent[1].Text[0] != 'y' || sent[2].Text != "z" {
		t.Error("chunks sent out of order")
	}
	for i, s := range sent {
		if s.ChannelID != "c1" || s.ReplyToID != "u9" {
			t.Errorf("sent[%d] = %+v, want reply in c1 to u9", i, s)
		}
	}
}

func TestDeliverChunks_FailureIsDelivery(t *testing.T) {
	m := connectedMock(t)
	m.SetSendError(errors.New("forbidden"))

	refs, err := DeliverChunks(context.Background(), m, telegraph.ReplyTarget{ChannelID: "c1"}, "hello", 4096)
	if err == nil {
		t.Fatal("expected error")
	}
	if !fault.Is(err, fault.Delivery) {
		t.Errorf("error kind = %v, want delivery", fault.KindOf(err))
	}
	if len(refs) != 0 {
		t.Errorf("refs = %d, want 0", len(refs))
	}
}
