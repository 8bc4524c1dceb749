package ml

import "sync/atomic"

// GenerationHolder points at the generation currently serving inference.
// Readers take one snapshot per forecast pass; a publish never mutates a
// generation already handed out.
type GenerationHolder struct {
	current atomic.Pointer[Generation]
}

// NewGenerationHolder returns an empty holder
func NewGenerationHolder() *GenerationHolder {
	return &GenerationHolder{}
}

// Current returns the active generation, or nil before the first publish
func (h *GenerationHolder) Current() *Generation {
	return h.current.Load()
}

// Publish makes g the active generation
func (h *GenerationHolder) Publish(g *Generation) {
	h.current.Store(g)
}

// PublishIfNewer makes g the active generation unless the holder already
// serves the same or a later version. Reports whether g was published.
func (h *GenerationHolder) PublishIfNewer(g *Generation) bool {
	for {
		cur := h.current.Load()
		if cur != nil && cur.Version >= g.Version {
			return false
		}
		if h.current.CompareAndSwap(cur, g) {
			return true
		}
	}
}
