package transcript

import "sync"

type opKind int

const (
	opApply opKind = iota
	opReset
	opClearInterim
	opBarrier
)

type op struct {
	kind  opKind
	event Event
	done  chan struct{}
}

// Queue is a single-consumer event queue in front of a Reducer. Producers never
// block; one goroutine applies operations strictly in push order and reports
// every resulting transcript to onChange.
type Queue struct {
	onChange func(Transcript)

	mu      sync.Mutex
	pending []op
	closed  bool
	signal  chan struct{}
	done    chan struct{}

	stateMu sync.RWMutex
	reducer Reducer
}

func NewQueue(onChange func(Transcript)) *Queue {
	q := &Queue{
		onChange: onChange,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues ev and reports false once the queue is closed.
func (q *Queue) Push(ev Event) bool {
	return q.enqueue(op{kind: opApply, event: ev})
}

// Reset clears the transcript after every previously pushed event is applied.
func (q *Queue) Reset() bool {
	return q.enqueue(op{kind: opReset})
}

func (q *Queue) ClearInterim() bool {
	return q.enqueue(op{kind: opClearInterim})
}

// Sync blocks until everything pushed before the call has been applied.
func (q *Queue) Sync() {
	done := make(chan struct{})
	if !q.enqueue(op{kind: opBarrier, done: done}) {
		<-q.done
		return
	}
	select {
	case <-done:
	case <-q.done:
	}
}

func (q *Queue) Snapshot() Transcript {
	q.stateMu.RLock()
	defer q.stateMu.RUnlock()
	return q.reducer.Snapshot()
}

func (q *Queue) Segments() []string {
	q.stateMu.RLock()
	defer q.stateMu.RUnlock()
	return q.reducer.Segments()
}

// Close stops accepting operations, applies what is already queued and waits
// for the consumer to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.notify()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) enqueue(o op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, o)
	q.notify()
	return true
}

// notify must be called with mu held.
func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		<-q.signal
		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			closed := q.closed
			q.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, o := range batch {
				q.apply(o)
			}
		}
	}
}

func (q *Queue) apply(o op) {
	if o.kind == opBarrier {
		close(o.done)
		return
	}
	q.stateMu.Lock()
	var t Transcript
	switch o.kind {
	case opApply:
		t = q.reducer.Apply(o.event)
	case opReset:
		q.reducer.Reset()
		t = q.reducer.Snapshot()
	case opClearInterim:
		t = q.reducer.ClearInterim()
	}
	q.stateMu.Unlock()
	if q.onChange != nil {
		q.onChange(t)
	}
}
