package realtime

import "sync"

type changeKey struct {
	queueID string
	table   string
}

// mailbox buffers signals for one subscriber. While the subscriber is behind,
// repeated signals for the same queue and table collapse into one pending entry;
// signals for any other key are always kept.
type mailbox struct {
	mu      sync.Mutex
	pending map[changeKey]Change
	order   []changeKey
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	out     chan Change
}

func newMailbox(buffer int) *mailbox {
	m := &mailbox{
		pending: make(map[changeKey]Change),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan Change, bufferSize(buffer)),
	}
	go m.run()
	return m
}

// put queues change and reports false when it was merged into a pending signal.
func (m *mailbox) put(change Change) bool {
	key := changeKey{queueID: change.QueueID, table: change.Table}
	m.mu.Lock()
	_, merged := m.pending[key]
	m.pending[key] = change
	if !merged {
		m.order = append(m.order, key)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return !merged
}

func (m *mailbox) take() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := make([]Change, 0, len(m.order))
	for _, key := range m.order {
		changes = append(changes, m.pending[key])
	}
	m.pending = make(map[changeKey]Change)
	m.order = nil
	return changes
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for _, change := range m.take() {
			select {
			case m.out <- change:
			case <-m.done:
				return
			}
		}
	}
}

// close stops delivery. Signals already handed to out stay readable.
func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
