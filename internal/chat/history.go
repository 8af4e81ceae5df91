package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/omochice/room-chat/pkg/protocol"
)

// History is the room's ordered message log.
type History interface {
	// Append stores m. Sequence numbers are assigned by the hub and strictly increase.
	Append(ctx context.Context, m protocol.Message) error
	// Since returns stored messages with Seq > after in ascending order.
	// A limit <= 0 means no limit.
	Since(ctx context.Context, after uint64, limit int) ([]protocol.Message, error)
	// LastSeq returns the highest stored sequence number, or 0.
	LastSeq() uint64
}

// MemoryHistory keeps the most recent messages in memory.
type MemoryHistory struct {
	mu       sync.RWMutex
	messages []protocol.Message
	max      int // 0 = unlimited
}

// NewMemoryHistory creates a history that retains at most max messages.
func NewMemoryHistory(max int) *MemoryHistory {
	return &MemoryHistory{messages: make([]protocol.Message, 0, 64), max: max}
}

// Append implements History.
func (h *MemoryHistory) Append(_ context.Context, m protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	if h.max > 0 && len(h.messages) > h.max {
		copy(h.messages, h.messages[len(h.messages)-h.max:])
		h.messages = h.messages[:h.max]
	}
	return nil
}

// Since implements History.
func (h *MemoryHistory) Since(_ context.Context, after uint64, limit int) ([]protocol.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i := sort.Search(len(h.messages), func(i int) bool { return h.messages[i].Seq > after })
	out := h.messages[i:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]protocol.Message(nil), out...), nil
}

// LastSeq implements History.
func (h *MemoryHistory) LastSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return 0
	}
	return h.messages[len(h.messages)-1].Seq
}
