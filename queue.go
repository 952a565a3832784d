package msgnet

import "sync"

// Queue is an unbounded FIFO of received messages.
// The reader of a Transceiver appends to it; any goroutine may consume.
type Queue struct {
	mu    sync.Mutex
	items []Message
	taken uint64 // messages removed since creation
	ready chan struct{}
}

func newQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends m to the tail of the queue.
func (q *Queue) Push(m Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.taken++
	return m, true
}

// Drain removes and returns every queued message in arrival order.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.taken += uint64(len(items))
	return items
}

// Clear discards every queued message and returns how many were dropped.
func (q *Queue) Clear() int {
	return len(q.Drain())
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// removed returns how many messages consumers have taken from the queue.
func (q *Queue) removed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.taken
}

// Ready returns a channel that receives a value after messages are pushed.
// Several pushes may collapse into one notification, so consumers should
// drain the queue on every wakeup.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
