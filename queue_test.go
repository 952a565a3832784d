package msgnet

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue()
	for _, s := range []string{"a", "b", "c"} {
		q.Push(NewStringMessage(s))
	}

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	m, ok := q.Pop()
	if !ok || m.(*StringMessage).Text != "a" {
		t.Fatalf("Pop() = %v, %v", m, ok)
	}

	rest := q.Drain()
	if len(rest) != 2 || rest[0].(*StringMessage).Text != "b" || rest[1].(*StringMessage).Text != "c" {
		t.Errorf("Drain() = %v", rest)
	}
	if _, ok = q.Pop(); ok {
		t.Error("Pop() on empty queue returned a message")
	}
}

func TestQueue_Clear(t *testing.T) {
	q := newQueue()
	q.Push(NewStringMessage("x"))
	q.Push(NewStringMessage("y"))

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear", q.Len())
	}
}

func TestQueue_RemovedCountsPopsAndDrains(t *testing.T) {
	q := newQueue()
	for _, s := range []string{"a", "b", "c", "d"} {
		q.Push(NewStringMessage(s))
	}

	q.Pop()
	q.Drain()
	q.Push(NewStringMessage("e"))
	q.Clear()

	if n := q.removed(); n != 5 {
		t.Errorf("removed() = %d, want 5", n)
	}
}

func TestQueue_Ready(t *testing.T) {
	q := newQueue()

	select {
	case <-q.Ready():
		t.Fatal("Ready fired on empty queue")
	default:
	}

	q.Push(NewStringMessage("x"))
	q.Push(NewStringMessage("y"))

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready did not fire after Push")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_ConcurrentProducersAndConsumers(t *testing.T) {
	const producers, perProducer = 8, 500

	q := newQueue()
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Push(NewStringMessage("m"))
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		total += len(q.Drain())
		select {
		case <-done:
			total += len(q.Drain())
			if total != producers*perProducer {
				t.Errorf("drained %d, want %d", total, producers*perProducer)
			}
			return
		default:
		}
	}
}
