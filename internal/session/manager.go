package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/foxseedlab/voicememo/internal/transcript"
	"github.com/foxseedlab/voicememo/internal/webhook"
	"github.com/google/uuid"
)

const (
	webhookTimeout = 30 * time.Second
	minSampleRate  = 8000
	maxSampleRate  = 48000
)

var (
	ErrNotReady     = errors.New("session manager not initialized")
	ErrShuttingDown = errors.New("session manager is shutting down")
)

// Inbound is one frame read from a client. A binary frame carries raw audio
// in Audio and leaves Message empty.
type Inbound struct {
	Message protocol.Message
	Audio   []byte
}

// Conn is one client connection on the real-time channel. Send must be safe
// for concurrent use; Receive is only called from Serve.
type Conn interface {
	ID() string
	Receive() (Inbound, error)
	Send(msg protocol.Message) error
	Close() error
}

// Manager owns every live client connection and the recognition running on it.
type Manager struct {
	cfg         *config.Config
	transcriber transcriber.Transcriber
	webhook     webhook.Sender
	newDecoder  audio.DecoderFactory
	metrics     *metrics.Metrics
	now         func() time.Time
	maxDuration time.Duration

	mu       sync.Mutex
	ready    bool
	closing  bool
	conns    map[string]*connection
	delivery sync.WaitGroup
}

type connection struct {
	conn Conn

	mu     sync.Mutex
	active *recognition
}

type recognition struct {
	id         string
	language   string
	encoding   string
	sampleRate int
	startedAt  time.Time
	writer     transcriber.StreamWriter
	decoder    audio.Decoder
	receiver   *resultReceiver
	timer      *time.Timer
}

func NewManager(cfg *config.Config, stt transcriber.Transcriber, wh webhook.Sender, newDecoder audio.DecoderFactory, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		transcriber: stt,
		webhook:     wh,
		newDecoder:  newDecoder,
		metrics:     m,
		now:         time.Now,
		maxDuration: time.Duration(cfg.MaxTranscribeDurationMin) * time.Minute,
		conns:       make(map[string]*connection),
	}
}

// Init marks the manager ready to accept connections.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	slog.Info("session manager initialized", "recognizer", m.cfg.Recognizer, "languages", m.cfg.SupportedLanguages)
}

// ActiveSessions returns the number of connections with a running recognition.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	n := 0
	for _, c := range conns {
		c.mu.Lock()
		if c.active != nil {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Serve runs one client connection until it disconnects or ctx is done.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	c := &connection{conn: conn}
	if err := m.register(c); err != nil {
		_ = conn.Send(protocol.MustMessage(protocol.EventError, protocol.ErrorPayload{Message: messageServerClosed}))
		_ = conn.Close()
		return err
	}
	defer m.unregister(c)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	slog.Info("client connected", "conn_id", conn.ID())
	for {
		in, err := conn.Receive()
		if err != nil {
			m.finishRecognition(c, c.current(), stopReasonDisconnected)
			slog.Info("client disconnected", "conn_id", conn.ID(), "reason", err.Error())
			return nil
		}
		if in.Audio != nil {
			m.handleAudio(c, in.Audio)
			continue
		}
		m.handleMessage(ctx, c, in.Message)
	}
}

func (m *Manager) register(c *connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrNotReady
	}
	if m.closing {
		return ErrShuttingDown
	}
	m.conns[c.conn.ID()] = c
	return nil
}

func (m *Manager) unregister(c *connection) {
	m.mu.Lock()
	delete(m.conns, c.conn.ID())
	m.mu.Unlock()
	_ = c.conn.Close()
}

func (m *Manager) handleMessage(ctx context.Context, c *connection, msg protocol.Message) {
	switch msg.Event {
	case protocol.EventStartRecognition:
		var req protocol.StartRecognition
		if err := msg.Decode(&req); err != nil {
			m.sendError(c, "malformed", messageMalformedEvent)
			return
		}
		m.startRecognition(ctx, c, req)
	case protocol.EventAudioData:
		var req protocol.AudioData
		if err := msg.Decode(&req); err != nil {
			slog.Warn("dropping malformed audio event", "conn_id", c.conn.ID(), "error", err)
			m.metrics.Errors.WithLabelValues("malformed").Inc()
			return
		}
		m.handleAudio(c, req.Audio)
	case protocol.EventStopRecognition:
		rec := c.current()
		if rec == nil {
			c.send(protocol.MustMessage(protocol.EventRecognitionEnd, nil))
			return
		}
		m.finishRecognition(c, rec, stopReasonClientStop)
	default:
		slog.Warn("unknown event from client", "conn_id", c.conn.ID(), "event", msg.Event)
		m.sendError(c, "unknown_event", messageUnknownEvent)
	}
}

func (m *Manager) startRecognition(ctx context.Context, c *connection, req protocol.StartRecognition) {
	if prev := c.current(); prev != nil {
		slog.Info("restarting recognition on connection", "conn_id", c.conn.ID(), "session_id", prev.id)
		m.finishRecognition(c, prev, stopReasonRestarted)
	}

	language, err := m.cfg.ResolveLanguage(req.Language)
	if err != nil {
		m.sendError(c, "language", err.Error())
		return
	}
	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = m.cfg.SampleRateHz
	}
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		m.sendError(c, "sample_rate", fmt.Sprintf("unsupported sample rate %d", sampleRate))
		return
	}
	encoding := req.Encoding
	if encoding == "" {
		encoding = audio.EncodingLinear16
	}

	rec := &recognition{
		id:         uuid.NewString(),
		language:   language,
		encoding:   encoding,
		sampleRate: sampleRate,
		startedAt:  m.now(),
	}
	switch encoding {
	case audio.EncodingLinear16, audio.EncodingWAV:
	case audio.EncodingOpus:
		dec, err := m.newDecoder(encoding, sampleRate)
		if err != nil {
			slog.Warn("cannot decode requested encoding", "conn_id", c.conn.ID(), "encoding", encoding, "error", err)
			m.sendError(c, "encoding", messageUnsupportedEncoding)
			return
		}
		rec.decoder = dec
	default:
		m.sendError(c, "encoding", messageUnsupportedEncoding)
		return
	}

	rec.receiver = &resultReceiver{manager: m, conn: c, rec: rec}
	// rec must be active before the backend can report on it.
	c.mu.Lock()
	c.active = rec
	c.mu.Unlock()
	m.metrics.SessionsStarted.Inc()
	m.metrics.SessionsActive.Inc()

	writer, err := m.transcriber.StartStreaming(context.WithoutCancel(ctx), transcriber.StreamOptions{
		SessionID:  rec.id,
		Language:   language,
		SampleRate: sampleRate,
	}, rec.receiver)
	if err != nil {
		slog.Error("failed to start transcriber streaming", "error", err, "session_id", rec.id)
		if c.detach(rec) {
			m.metrics.SessionsActive.Dec()
			if rec.decoder != nil {
				rec.decoder.Close()
			}
			m.sendError(c, "backend", messageStartFailed)
		}
		return
	}

	c.mu.Lock()
	live := c.active == rec
	if live {
		rec.writer = writer
		rec.timer = time.AfterFunc(m.maxDuration, func() {
			slog.Info("maximum recognition duration reached", "session_id", rec.id)
			m.finishRecognition(c, rec, stopReasonMaxDuration)
		})
	}
	c.mu.Unlock()
	if !live {
		slog.Info("recognition ended while starting", "conn_id", c.conn.ID(), "session_id", rec.id)
		_ = writer.Close()
		return
	}

	slog.Info("recognition started", "conn_id", c.conn.ID(), "session_id", rec.id, "language", language, "encoding", encoding, "sample_rate", sampleRate)
	c.send(protocol.MustMessage(protocol.EventRecognitionStarted, nil))
}

func (m *Manager) handleAudio(c *connection, data []byte) {
	rec := c.current()
	if rec == nil {
		m.sendError(c, "not_started", messageNotStarted)
		return
	}
	if len(data) == 0 {
		return
	}
	pcm, err := rec.pcm(data)
	if err != nil {
		slog.Warn("failed to decode audio", "session_id", rec.id, "error", err)
		m.sendError(c, "decode", messageAudioError)
		return
	}
	if len(pcm) == 0 {
		return
	}
	if err := rec.writer.Write(pcm); err != nil {
		slog.Error("failed to write pcm to transcriber stream", "error", err, "session_id", rec.id, "pcm_bytes", len(pcm))
		m.finishRecognition(c, rec, stopReasonWriteError)
		return
	}
	m.metrics.AudioBytesReceived.Add(float64(len(pcm)))
}

// finishRecognition tears rec down once; later calls for the same rec are no-ops.
func (m *Manager) finishRecognition(c *connection, rec *recognition, reason string) {
	if rec == nil || !c.detach(rec) {
		return
	}
	// writer and timer stay nil when rec ends before its backend is up.
	if rec.timer != nil {
		rec.timer.Stop()
	}
	if !stopReasonFlushes(reason) {
		rec.receiver.detach()
	}
	if rec.writer != nil {
		if err := rec.writer.Close(); err != nil {
			slog.Warn("failed to close transcriber stream", "error", err, "session_id", rec.id)
		}
	}
	rec.receiver.detach()
	if rec.decoder != nil {
		rec.decoder.Close()
	}

	endedAt := m.now()
	m.metrics.SessionsActive.Dec()
	m.metrics.SessionDuration.Observe(endedAt.Sub(rec.startedAt).Seconds())
	slog.Info("recognition stopped", "conn_id", c.conn.ID(), "session_id", rec.id, "reason", reason)

	if msg := stopReasonMessage(reason); msg != "" {
		m.sendError(c, reason, msg)
	}
	if reason == stopReasonClientStop || reason == stopReasonMaxDuration || reason == stopReasonServerClosed {
		c.send(protocol.MustMessage(protocol.EventRecognitionEnd, nil))
	}
	m.deliverTranscript(rec, reason, endedAt)
}

func (m *Manager) deliverTranscript(rec *recognition, reason string, endedAt time.Time) {
	segments, text := rec.receiver.transcript()
	if len(segments) == 0 {
		return
	}
	payload := buildTranscriptWebhookPayload(rec.id, rec.language, reason, rec.startedAt, endedAt, segments, text)
	m.delivery.Add(1)
	go func() {
		defer m.delivery.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := m.webhook.SendTranscript(ctx, payload); err != nil {
			m.metrics.Errors.WithLabelValues("webhook").Inc()
			slog.Error("failed to send webhook transcript", "error", err, "session_id", rec.id)
		}
	}()
}

func (m *Manager) sendError(c *connection, kind, message string) {
	m.metrics.Errors.WithLabelValues(kind).Inc()
	c.send(protocol.MustMessage(protocol.EventError, protocol.ErrorPayload{Message: message}))
}

// Shutdown ends every running recognition with reason server_closed, closes
// all connections and waits for pending webhook deliveries.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	slog.Info("stopping all sessions", "connections", len(conns))
	for _, c := range conns {
		m.finishRecognition(c, c.current(), stopReasonServerClosed)
		_ = c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		m.delivery.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for webhook deliveries: %w", ctx.Err())
	}
}

func (c *connection) current() *recognition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// detach clears rec as the active recognition and reports whether it was.
func (c *connection) detach(rec *recognition) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != rec {
		return false
	}
	c.active = nil
	return true
}

func (c *connection) send(msg protocol.Message) {
	if err := c.conn.Send(msg); err != nil {
		slog.Debug("failed to send event to client", "conn_id", c.conn.ID(), "event", msg.Event, "error", err)
	}
}

func (rec *recognition) pcm(data []byte) ([]byte, error) {
	if rec.decoder != nil {
		samples, err := rec.decoder.Decode(data)
		if err != nil {
			return nil, err
		}
		return audio.Int16ToBytes(samples), nil
	}
	if audio.IsWAV(data) {
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, err
		}
		if rate != rec.sampleRate {
			slog.Warn("wav chunk sample rate differs from session", "session_id", rec.id, "chunk_rate", rate, "session_rate", rec.sampleRate)
		}
		return audio.Int16ToBytes(samples), nil
	}
	return data[:len(data)&^1], nil
}

// resultReceiver forwards backend results to the client in delivery order and
// keeps the finals for the webhook.
type resultReceiver struct {
	manager *Manager
	conn    *connection
	rec     *recognition

	mu       sync.Mutex
	detached bool
	reducer  transcript.Reducer
	segments []spokenSegment
}

func (r *resultReceiver) OnResult(text string, isFinal bool, stability float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detached {
		return
	}
	ev := transcript.Event{Text: text, IsFinal: isFinal, Stability: stability}
	r.reducer.Apply(ev)
	if isFinal && strings.TrimSpace(text) != "" {
		r.segments = append(r.segments, spokenSegment{
			Index:    len(r.segments),
			SpokenAt: r.manager.now(),
			Content:  text,
		})
	}
	r.manager.metrics.TranscriptResults.WithLabelValues(metrics.ResultKind(isFinal)).Inc()
	r.conn.send(protocol.MustMessage(protocol.EventRecognitionResult, protocol.ResultFromEvent(ev)))
}

func (r *resultReceiver) OnError(err error) {
	r.mu.Lock()
	detached := r.detached
	r.mu.Unlock()
	if detached || errors.Is(err, context.Canceled) {
		slog.Info("transcriber stream canceled", "error", err, "session_id", r.rec.id)
		return
	}
	slog.Error("transcriber stream error", "error", err, "session_id", r.rec.id)
	// The backend may be calling from inside its own Close path.
	go r.manager.finishRecognition(r.conn, r.rec, stopReasonBackendError)
}

func (r *resultReceiver) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
}

func (r *resultReceiver) transcript() ([]spokenSegment, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spokenSegment(nil), r.segments...), r.reducer.Text()
}
