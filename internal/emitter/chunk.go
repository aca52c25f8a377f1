// Package emitter turns generated text into chat messages: whole answers
// are split into platform-sized chunks, streamed answers are shown by
// editing a message in place and rolling over to a new one near the size
// limit.
package emitter

import (
	"context"
	"fmt"

	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/telegraph"
)

// Chunk splits text into pieces of at most max UTF-16 units (see Length),
// in order, never inside a character. Empty text yields no chunks.
func Chunk(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}
	chunks := make([]string, 0, (Length(text)+max-1)/max)
	for text != "" {
		var head string
		head, text = splitAt(text, max)
		chunks = append(chunks, head)
	}
	return chunks
}

// DeliverChunks sends text to target as consecutive replies of at most max
// units each. It stops at the first failed send and returns it as a
// Delivery fault along with the refs of the chunks already sent.
func DeliverChunks(ctx context.Context, a telegraph.Adapter, target telegraph.ReplyTarget, text string, max int) ([]telegraph.MessageRef, error) {
	chunks := Chunk(text, max)
	refs := make([]telegraph.MessageRef, 0, len(chunks))
	for i, c := range chunks {
		ref, err := a.Send(ctx, target.Reply(c))
		if err != nil {
			return refs, fault.Wrap(fault.Delivery, fmt.Sprintf("send chunk %d/%d", i+1, len(chunks)), err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
