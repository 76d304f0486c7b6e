package session

import "strings"

// historyManager keeps the most recent transcripts of a session, oldest
// first, bounded to limit entries.
type historyManager struct {
	limit   int
	entries []string
}

func newHistoryManager(limit int) *historyManager {
	if limit <= 0 {
		limit = 10
	}
	return &historyManager{
		limit:   limit,
		entries: make([]string, 0, limit),
	}
}

func (h *historyManager) append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.limit-1]
	}
	h.entries = append(h.entries, text)
}

func (h *historyManager) snapshot() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *historyManager) len() int { return len(h.entries) }
