package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/aggregator"
	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/transcript"
)

const DefaultChunkInterval = 3 * time.Second

// ErrStopped is returned by Start when Stop arrives while the input is being
// acquired.
var ErrStopped = errors.New("recording stopped before it started")

type RecorderOptions struct {
	Language string
	// Interval is how often buffered frames are sent as one chunk.
	Interval time.Duration
	// Encoding is the chunk container: audio.EncodingWAV or audio.EncodingLinear16.
	Encoding string
	// AggregatorOptions are passed through to the frame aggregator.
	AggregatorOptions []aggregator.Option
}

// Recorder runs one recording at a time: capture, aggregation, transport and
// transcript state.
type Recorder struct {
	capturer audio.Capturer
	dial     Dialer
	events   *transcript.Queue
	opts     RecorderOptions
	onStatus StatusFunc

	mu        sync.Mutex
	recording bool
	// cancelAcquire is set while Start waits for the input.
	cancelAcquire context.CancelFunc
	startGen      uint64
	session       *Session
	source    audio.Source
	agg       *aggregator.Aggregator
	inputDone chan struct{}
}

func NewRecorder(capturer audio.Capturer, dial Dialer, events *transcript.Queue, opts RecorderOptions, onStatus StatusFunc) *Recorder {
	if opts.Interval <= 0 {
		opts.Interval = DefaultChunkInterval
	}
	if opts.Encoding == "" {
		opts.Encoding = audio.EncodingLinear16
	}
	if onStatus == nil {
		onStatus = func(State, string) {}
	}
	return &Recorder{
		capturer: capturer,
		dial:     dial,
		events:   events,
		opts:     opts,
		onStatus: onStatus,
	}
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start acquires the input and opens a fresh session. It is a no-op while a
// recording is running.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = true
	r.startGen++
	gen := r.startGen
	acquireCtx, cancel := context.WithCancel(ctx)
	r.cancelAcquire = cancel
	r.mu.Unlock()

	source, err := r.capturer.Acquire(acquireCtx)
	cancel()
	if err != nil {
		r.mu.Lock()
		stopped := !r.recording || r.startGen != gen
		if !stopped {
			r.recording = false
			r.cancelAcquire = nil
		}
		r.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		r.onStatus(StateFailed, err.Error())
		return fmt.Errorf("acquire audio input: %w", err)
	}

	var sess *Session
	sess = NewSession(r.dial, SessionOptions{
		Language:   r.opts.Language,
		Encoding:   r.opts.Encoding,
		SampleRate: source.SampleRate(),
	}, r.events, func(state State, status string) {
		r.onStatus(state, status)
		if state.Terminal() {
			go r.stopSession(sess)
		}
	})
	agg := aggregator.New(r.opts.Interval, source.SampleRate(), func(chunk audio.Chunk) {
		r.sendChunk(sess, chunk)
	}, r.opts.AggregatorOptions...)
	inputDone := make(chan struct{})

	r.mu.Lock()
	if !r.recording || r.startGen != gen {
		r.mu.Unlock()
		if err := source.Close(); err != nil {
			slog.Warn("failed to release audio input", "error", err)
		}
		return ErrStopped
	}
	r.cancelAcquire = nil
	r.session = sess
	r.source = source
	r.agg = agg
	r.inputDone = inputDone
	r.mu.Unlock()

	r.events.Reset()
	agg.Start()
	go r.pump(source, agg, inputDone)
	if err := sess.Start(ctx); err != nil {
		r.Stop()
		return err
	}
	return nil
}

// InputDone is closed when the current input stops producing frames.
func (r *Recorder) InputDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inputDone == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.inputDone
}

// Session returns the current session, nil when not recording.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Recorder) pump(source audio.Source, agg *aggregator.Aggregator, done chan struct{}) {
	defer close(done)
	for frame := range source.Frames() {
		agg.Push(frame)
	}
	if err := source.Err(); err != nil {
		slog.Error("audio input failed", "error", err)
		r.onStatus(StateFailed, err.Error())
		go r.Stop()
	}
}

func (r *Recorder) sendChunk(sess *Session, chunk audio.Chunk) {
	var payload []byte
	switch r.opts.Encoding {
	case audio.EncodingWAV:
		b, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
		if err != nil {
			slog.Error("failed to encode chunk", "error", err)
			return
		}
		payload = b
	default:
		payload = chunk.PCMBytes()
	}
	if err := sess.Send(payload); err != nil {
		slog.Warn("failed to send chunk", "frames", chunk.Frames, "duration", chunk.Duration(), "error", err)
	}
}

// Stop releases the input, flushes what is buffered and stops the session.
// It is idempotent.
func (r *Recorder) Stop() {
	r.teardown(context.Background(), nil, false)
}

// Finish is Stop, but waits until the server has delivered the results for
// the last chunk or ctx is done.
func (r *Recorder) Finish(ctx context.Context) {
	r.teardown(ctx, nil, true)
}

func (r *Recorder) stopSession(sess *Session) {
	r.teardown(context.Background(), sess, false)
}

// teardown ends the current recording; with only set, only if it belongs to
// that session.
func (r *Recorder) teardown(ctx context.Context, only *Session, graceful bool) {
	r.mu.Lock()
	if r.recording && r.session == nil && only == nil {
		// Start is still acquiring; it releases the input itself.
		r.recording = false
		cancel := r.cancelAcquire
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	if !r.recording || r.session == nil || (only != nil && r.session != only) {
		r.mu.Unlock()
		return
	}
	r.recording = false
	sess, source, agg, inputDone := r.session, r.source, r.agg, r.inputDone
	r.session, r.source, r.agg = nil, nil, nil
	r.mu.Unlock()

	if err := source.Close(); err != nil {
		slog.Warn("failed to release audio input", "error", err)
	}
	// Frames already captured still belong to this recording.
	<-inputDone
	agg.Stop()
	if graceful {
		sess.Finish(ctx)
	} else {
		sess.Stop()
	}
	r.events.ClearInterim()
}
