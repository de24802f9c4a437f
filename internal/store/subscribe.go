package store

import "sync"

// Subscription delivers change signals. Signals coalesce: several writes
// between two reads of C produce a single signal, so a subscriber re-queries
// the store after each receive rather than counting signals.
type Subscription struct {
	C <-chan struct{}

	ch    chan struct{}
	close func()
	once  sync.Once
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

type topic int

const (
	topicAll topic = iota
	topicPending
)

type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[topic]map[int]chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: map[topic]map[int]chan struct{}{
			topicAll:     {},
			topicPending: {},
		},
	}
}

func (b *broadcaster) subscribe(t topic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan struct{}, 1)
	b.subs[t][id] = ch

	// Deliver an initial signal so the first query happens without waiting for a write
	ch <- struct{}{}

	return &Subscription{
		C:  ch,
		ch: ch,
		close: func() {
			b.mu.Lock()
			delete(b.subs[t], id)
			b.mu.Unlock()
		},
	}
}

func (b *broadcaster) publish(topics ...topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range topics {
		for _, ch := range b.subs[t] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}
