package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/client"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/foxseedlab/voicememo/internal/transcript"
	"github.com/foxseedlab/voicememo/internal/webhook"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// byteCounter reports every write as an interim and a final naming its size.
type byteCounter struct{}

func (byteCounter) StartStreaming(_ context.Context, _ transcriber.StreamOptions, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	return &byteCounterStream{receiver: receiver}, nil
}

type byteCounterStream struct {
	receiver transcriber.ResultReceiver
}

func (s *byteCounterStream) Write(pcm []byte) error {
	s.receiver.OnResult("counting", false, 0.5)
	s.receiver.OnResult(fmt.Sprintf("%d bytes", len(pcm)), true, 1)
	return nil
}

func (s *byteCounterStream) Close() error { return nil }

type nopSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
}

func (n *nopSender) SendTranscript(_ context.Context, payload webhook.TranscriptWebhookPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                       "development",
		DefaultTranscribeLanguage: "ko-KR",
		SupportedLanguages:        []string{"ko-KR", "en-US"},
		SampleRateHz:              16000,
		MaxTranscribeDurationMin:  120,
		Recognizer:                config.RecognizerDemo,
		AllowedOrigins:            []string{"https://memo.example"},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := testConfig()
	noDecoder := func(string, int) (audio.Decoder, error) { return nil, audio.ErrUnsupportedEncoding }
	manager := session.NewManager(cfg, byteCounter{}, &nopSender{}, noDecoder, metrics.New(prometheus.NewRegistry()))
	manager.Init()
	server := httptest.NewServer(NewHandler(cfg, manager))
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
		server.Close()
	})
	return server, manager
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestRealtime_ClientSessionRoundTrip(t *testing.T) {
	server, manager := newTestServer(t)
	events := transcript.NewQueue(nil)
	defer events.Close()

	sess := client.NewSession(NewDialer(wsURL(server), nil), client.SessionOptions{
		Language:   "en-US",
		Encoding:   audio.EncodingLinear16,
		SampleRate: 16000,
	}, events, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return sess.State() == client.StateOpen }, "session never opened")
	if manager.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", manager.ActiveSessions())
	}

	if err := sess.Send(make([]byte, 640)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := sess.Send(make([]byte, 320)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess.Finish(ctx)
	events.Sync()

	got := events.Snapshot()
	if got.Final != "640 bytes 320 bytes " || got.Interim != "" {
		t.Fatalf("transcript = %+v", got)
	}
	if sess.Err() != nil {
		t.Fatalf("Err() = %v, want nil", sess.Err())
	}
	waitUntil(t, 2*time.Second, func() bool { return manager.ActiveSessions() == 0 }, "connection not released")
}

func TestRealtime_BinaryFrameIsAudio(t *testing.T) {
	server, _ := newTestServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	start := protocol.MustMessage(protocol.EventStartRecognition, protocol.StartRecognition{Language: "ko-KR"})
	if err := ws.WriteJSON(start); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var msg protocol.Message
	if err := ws.ReadJSON(&msg); err != nil || msg.Event != protocol.EventRecognitionStarted {
		t.Fatalf("first event = %q (%v), want recognitionStarted", msg.Event, err)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 100)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var results []protocol.RecognitionResult
	for len(results) < 2 {
		var m protocol.Message
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if m.Event != protocol.EventRecognitionResult {
			t.Fatalf("event = %q, want recognitionResult", m.Event)
		}
		r, err := protocol.DecodeResult(m.Data)
		if err != nil {
			t.Fatalf("DecodeResult() error = %v", err)
		}
		results = append(results, r)
	}
	if results[0].IsFinal || !results[1].IsFinal || results[1].Transcript != "100 bytes" {
		t.Fatalf("results = %+v", results)
	}
}

func TestRealtime_MalformedTextFrameIsSkipped(t *testing.T) {
	server, _ := newTestServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	start := protocol.MustMessage(protocol.EventStartRecognition, protocol.StartRecognition{})
	if err := ws.WriteJSON(start); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var msg protocol.Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Event != protocol.EventRecognitionStarted {
		t.Fatalf("event = %q, want recognitionStarted", msg.Event)
	}
}

func TestRealtime_RejectsForeignOrigin(t *testing.T) {
	server, _ := newTestServer(t)

	header := http.Header{}
	header.Set("Origin", "https://elsewhere.example")
	_, err := NewDialer(wsURL(server), header)(context.Background())
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("dial error = %v, want status 403", err)
	}

	header.Set("Origin", "https://memo.example")
	conn, err := NewDialer(wsURL(server), header)(context.Background())
	if err != nil {
		t.Fatalf("dial from an allowed origin error = %v", err)
	}
	_ = conn.Close()
}

func TestRealtime_ShutdownEndsClientSession(t *testing.T) {
	server, manager := newTestServer(t)
	events := transcript.NewQueue(nil)
	defer events.Close()

	sess := client.NewSession(NewDialer(wsURL(server), nil), client.SessionOptions{Language: "ko-KR"}, events, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return sess.State() == client.StateOpen }, "session never opened")

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return sess.State().Terminal() }, "client session still open after shutdown")
}
