package agent

import (
	"math/rand"
)

// Transition is one (s, a, r, s', done) sample. States are pooled features
// stored as bytes to keep large buffers affordable.
type Transition struct {
	State     []uint8
	Action    int
	Reward    float64
	NextState []uint8
	Done      bool
}

// ReplayBuffer is a fixed-capacity ring of transitions with uniform sampling.
type ReplayBuffer struct {
	items []Transition
	next  int
	full  bool
	rng   *rand.Rand
}

// NewReplayBuffer returns an empty buffer holding up to capacity transitions.
func NewReplayBuffer(capacity int, seed int64) *ReplayBuffer {
	return &ReplayBuffer{
		items: make([]Transition, 0, capacity),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Add stores t, overwriting the oldest transition once full.
func (b *ReplayBuffer) Add(t Transition) {
	if !b.full && len(b.items) < cap(b.items) {
		b.items = append(b.items, t)
		if len(b.items) == cap(b.items) {
			b.full = true
		}
		return
	}
	b.full = true
	b.items[b.next] = t
	b.next = (b.next + 1) % len(b.items)
}

// Len is the number of stored transitions.
func (b *ReplayBuffer) Len() int { return len(b.items) }

// Sample draws n transitions uniformly with replacement. It returns nil
// when the buffer holds fewer than n.
func (b *ReplayBuffer) Sample(n int) []Transition {
	if len(b.items) < n || n <= 0 {
		return nil
	}
	out := make([]Transition, n)
	for i := range out {
		out[i] = b.items[b.rng.Intn(len(b.items))]
	}
	return out
}
