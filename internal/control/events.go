package control

// LifecycleEvent is one meeting-lifecycle occurrence, published for any
// observer outside the protocol itself (SPEC_FULL.md §D's operator event
// feed). It carries only what an operator needs to see, never message
// payloads.
type LifecycleEvent struct {
	Type          string // MEETING_CREATED, MEETING_CLOSED, MEMBER_JOINED, MEMBER_LEFT
	Code          string
	ParticipantID uint32
	Name          string
}

const eventSubscriberQueueDepth = 32

// Subscribe registers a new observer and returns its event channel plus an
// unsubscribe func. Events are dropped (never block the emitting path) if
// a slow subscriber's queue is full, the same backpressure contract as a
// connection's outbound queue.
func (h *Hub) Subscribe() (<-chan LifecycleEvent, func()) {
	ch := make(chan LifecycleEvent, eventSubscriberQueueDepth)

	h.evMu.Lock()
	h.subscribers[ch] = struct{}{}
	h.evMu.Unlock()

	unsubscribe := func() {
		h.evMu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.evMu.Unlock()
	}
	return ch, unsubscribe
}

func (h *Hub) emit(ev LifecycleEvent) {
	h.evMu.RLock()
	defer h.evMu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
