package broadcast

import "sync"

// sequencer hands out per-topic monotonic sequence numbers, shared by
// whichever Bus backend is active. It is process-local: a subscriber's gap
// detection is only meaningful against the single bus instance it is
// connected to, which is why the gateway always binds to topics on the
// same broadcast.Bus the engine publishes through.
type sequencer struct {
	mu      sync.Mutex
	byTopic map[string]uint64
}

func newSequencer() *sequencer {
	return &sequencer{byTopic: make(map[string]uint64)}
}

func (s *sequencer) next(topic string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTopic[topic]++
	return s.byTopic[topic]
}
