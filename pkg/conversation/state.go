package conversation

import "sync"

const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Turn is a single dialogue entry.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// State is the append-only turn log of one session.
// Entries are only ever added as a human/ai pair.
type State struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewState() *State {
	return &State{}
}

// AppendExchange records a completed round trip.
func (s *State) AppendExchange(human, ai string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns,
		Turn{Role: RoleHuman, Text: human},
		Turn{Role: RoleAI, Text: ai},
	)
}

// Turns returns a copy of the log in order.
func (s *State) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
