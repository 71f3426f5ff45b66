package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/transcript"
)

var (
	ErrConnection     = errors.New("connection error")
	ErrStream         = errors.New("stream error")
	ErrNotOpen        = errors.New("session is not open")
	ErrBackend        = errors.New("recognition backend error")
	ErrNoResponseBody = errors.New("no response body")
	ErrAlreadyStarted = errors.New("session already started")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Conn is a client connection on the real-time channel.
type Conn interface {
	Send(msg protocol.Message) error
	// Receive returns io.EOF when the server closes the connection cleanly.
	Receive() (protocol.Message, error)
	Close() error
}

type Dialer func(ctx context.Context) (Conn, error)

// StatusFunc observes state transitions with a human-readable status line.
// It is never called with session locks held.
type StatusFunc func(state State, status string)

type SessionOptions struct {
	Language   string
	Encoding   string
	SampleRate int
}

// Session is one recognition session on the real-time channel. It is not
// restartable: a new recording needs a new Session.
type Session struct {
	dial     Dialer
	opts     SessionOptions
	events   *transcript.Queue
	onStatus StatusFunc

	mu      sync.Mutex
	state   State
	conn    Conn
	err     error
	stopped bool
	endSent bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(dial Dialer, opts SessionOptions, events *transcript.Queue, onStatus StatusFunc) *Session {
	if onStatus == nil {
		onStatus = func(State, string) {}
	}
	return &Session{
		dial:     dial,
		opts:     opts,
		events:   events,
		onStatus: onStatus,
		done:     make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the connection has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start connects in the background. Failures are reported through the
// status callback and State, never returned here.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.onStatus(StateConnecting, "connecting")
	go s.run(ctx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	conn, err := s.dial(ctx)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrConnection, err))
		s.closeDone()
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close()
		s.closeDone()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	start := protocol.MustMessage(protocol.EventStartRecognition, protocol.StartRecognition{
		Language:   s.opts.Language,
		Encoding:   s.opts.Encoding,
		SampleRate: s.opts.SampleRate,
	})
	if err := conn.Send(start); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrConnection, err))
	} else {
		s.readLoop(conn)
	}
	s.closeConn()
	s.closeDone()
}

func (s *Session) readLoop(conn Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			s.disconnected(err)
			return
		}
		switch msg.Event {
		case protocol.EventRecognitionStarted:
			s.transition(StateConnecting, StateOpen, "recording")
		case protocol.EventRecognitionResult:
			result, err := protocol.DecodeResult(msg.Data)
			if err != nil {
				slog.Warn("dropping malformed recognition result", "error", err)
				continue
			}
			s.mu.Lock()
			if s.state == StateOpen && !s.stopped {
				s.events.Push(result.Event())
			}
			s.mu.Unlock()
		case protocol.EventRecognitionEnd:
			s.transition(StateOpen, StateClosed, "recognition ended")
			if s.State().Terminal() {
				return
			}
		case protocol.EventError:
			var payload protocol.ErrorPayload
			_ = msg.Decode(&payload)
			s.fail(fmt.Errorf("%w: %s", ErrBackend, payload.Message))
			return
		default:
			slog.Debug("ignoring unknown event", "event", msg.Event)
		}
	}
}

// Send transmits one encoded chunk. Chunks are only accepted while open;
// anything else is dropped and reported.
func (s *Session) Send(chunk []byte) error {
	s.mu.Lock()
	if s.state != StateOpen || s.stopped {
		state := s.state
		s.mu.Unlock()
		slog.Warn("dropping audio chunk", "state", state.String(), "bytes", len(chunk))
		return fmt.Errorf("%w: %s", ErrNotOpen, state)
	}
	conn := s.conn
	s.mu.Unlock()

	msg := protocol.MustMessage(protocol.EventAudioData, protocol.AudioData{Audio: chunk, Language: s.opts.Language})
	if err := conn.Send(msg); err != nil {
		err = fmt.Errorf("%w: %v", ErrStream, err)
		s.fail(err)
		return err
	}
	return nil
}

// Stop sends the end-of-stream signal if open and tears the connection down.
// Results arriving afterwards are ignored. Calling Stop again is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	prev := s.state
	conn := s.conn
	sendEnd := prev == StateOpen && !s.endSent
	s.endSent = s.endSent || sendEnd
	if !prev.Terminal() {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if sendEnd && conn != nil {
		_ = conn.Send(protocol.MustMessage(protocol.EventStopRecognition, nil))
	}
	s.closeConn()
	if !prev.Terminal() {
		s.onStatus(StateClosed, "stopped")
	}
}

// Finish asks the server to end recognition and keeps applying results until
// it confirms or ctx is done, then stops.
func (s *Session) Finish(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateOpen || s.stopped || s.endSent {
		s.mu.Unlock()
		s.Stop()
		return
	}
	s.endSent = true
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Send(protocol.MustMessage(protocol.EventStopRecognition, nil)); err == nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	s.Stop()
}

func (s *Session) transition(from, to State, status string) {
	s.mu.Lock()
	if s.state != from || s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.onStatus(to, status)
}

func (s *Session) disconnected(err error) {
	if s.State() == StateConnecting {
		s.fail(fmt.Errorf("%w: %v", ErrConnection, err))
		return
	}
	if errors.Is(err, io.EOF) {
		s.transition(StateOpen, StateClosed, "disconnected")
		return
	}
	s.fail(fmt.Errorf("%w: %v", ErrStream, err))
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() || s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	s.closeConn()
	slog.Warn("recognition session failed", "error", err)
	s.onStatus(StateFailed, err.Error())
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.closeOnce.Do(func() {
		_ = conn.Close()
	})
}

func (s *Session) closeDone() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
