package aggregator

import (
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
)

// FlushFunc receives each drained chunk. Calls are serialized and in push order.
type FlushFunc func(audio.Chunk)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(interval time.Duration) Ticker

type Option func(*Aggregator)

// WithTicker replaces the wall-clock ticker that drives periodic flushes.
func WithTicker(f TickerFactory) Option {
	return func(a *Aggregator) {
		a.newTicker = f
	}
}

// Aggregator buffers frames and hands them downstream as one chunk per interval.
type Aggregator struct {
	interval   time.Duration
	sampleRate int
	flush      FlushFunc
	newTicker  TickerFactory

	flushMu sync.Mutex

	mu      sync.Mutex
	frames  []audio.Frame
	started bool
	stopped bool
	ticker  Ticker
	done    chan struct{}
	wg      sync.WaitGroup
	chunks  int
}

func New(interval time.Duration, sampleRate int, flush FlushFunc, opts ...Option) *Aggregator {
	a := &Aggregator{
		interval:   interval,
		sampleRate: sampleRate,
		flush:      flush,
		newTicker:  newWallTicker,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the periodic flush loop. It is a no-op after the first call
// or once stopped.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true
	a.ticker = a.newTicker(a.interval)
	a.wg.Add(1)
	go a.loop(a.ticker)
}

func (a *Aggregator) loop(t Ticker) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case <-t.C():
			a.flushPending(false)
		}
	}
}

// Push appends a frame; it reports false once the aggregator is stopped.
func (a *Aggregator) Push(frame audio.Frame) bool {
	if len(frame) == 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.frames = append(a.frames, frame)
	return true
}

// Stop cancels the timer and flushes whatever is still buffered. Only the
// first call has any effect.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	t := a.ticker
	a.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	close(a.done)
	a.wg.Wait()
	a.flushPending(true)
}

// Chunks returns how many non-empty chunks have been flushed.
func (a *Aggregator) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunks
}

func (a *Aggregator) flushPending(final bool) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if a.stopped && !final {
		a.mu.Unlock()
		return
	}
	frames := a.frames
	a.frames = nil
	if len(frames) > 0 {
		a.chunks++
	}
	a.mu.Unlock()

	if len(frames) == 0 {
		return
	}
	a.flush(concat(frames, a.sampleRate))
}

func concat(frames []audio.Frame, sampleRate int) audio.Chunk {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	samples := make([]int16, 0, total)
	for _, f := range frames {
		samples = append(samples, f...)
	}
	return audio.Chunk{Samples: samples, SampleRate: sampleRate, Frames: len(frames)}
}

type wallTicker struct {
	t *time.Ticker
}

func newWallTicker(interval time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(interval)}
}

func (w *wallTicker) C() <-chan time.Time { return w.t.C }
func (w *wallTicker) Stop()               { w.t.Stop() }
