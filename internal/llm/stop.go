package llm

import "strings"

// StopFilter cuts a fragment stream at the first stop sequence. Text that
// could be the start of a stop sequence is held back until the next
// fragment decides it.
type StopFilter struct {
	stops   []string
	pending string
	stopped bool
}

// NewStopFilter returns a filter for the given stop sequences. Empty
// sequences are ignored.
func NewStopFilter(stops []string) *StopFilter {
	f := &StopFilter{}
	for _, s := range stops {
		if s != "" {
			f.stops = append(f.stops, s)
		}
	}
	return f
}

// Push adds a fragment and returns the text that is now safe to emit.
// stopped is true once a stop sequence has been seen; later pushes return
// nothing.
func (f *StopFilter) Push(fragment string) (out string, stopped bool) {
	if f.stopped {
		return "", true
	}
	f.pending += fragment

	cut := -1
	for _, s := range f.stops {
		if i := strings.Index(f.pending, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		out = f.pending[:cut]
		f.pending = ""
		f.stopped = true
		return out, true
	}

	hold := 0
	for _, s := range f.stops {
		n := len(s) - 1
		if n > len(f.pending) {
			n = len(f.pending)
		}
		for ; n > hold; n-- {
			if strings.HasSuffix(f.pending, s[:n]) {
				hold = n
				break
			}
		}
	}
	out = f.pending[:len(f.pending)-hold]
	f.pending = f.pending[len(f.pending)-hold:]
	return out, false
}

// Flush returns any held-back text. Call it once the stream has ended
// without a stop.
func (f *StopFilter) Flush() string {
	out := f.pending
	f.pending = ""
	return out
}

// Stopped reports whether a stop sequence was seen.
func (f *StopFilter) Stopped() bool { return f.stopped }
