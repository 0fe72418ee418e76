package chat

// history is a fixed capacity ring of events. Appending past capacity
// overwrites the oldest entry.
type history struct {
	buf   []Event
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]Event, capacity)}
}

func (h *history) push(e Event) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = e
		h.n++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// last returns up to limit of the newest events, oldest first. A limit of
// zero or less returns everything.
func (h *history) last(limit int) []Event {
	if limit <= 0 || limit > h.n {
		limit = h.n
	}

	out := make([]Event, 0, limit)
	for i := h.n - limit; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}
