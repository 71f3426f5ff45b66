package transcriber

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/gorilla/websocket"
)

func TestDeepgramTranscriber_StreamsResults(t *testing.T) {
	var gotQuery, gotAuth string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello","confidence":0.62}]}}`))
			case websocket.TextMessage:
				if strings.Contains(string(msg), "CloseStream") {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.97}]}}`))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}))
	defer srv.Close()

	tr := NewDeepgramTranscriber(DeepgramConfig{
		APIKey:   "dg-key",
		Model:    "nova-2",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	receiver := &recordingReceiver{}
	w, err := tr.StartStreaming(t.Context(), transcriber.StreamOptions{SessionID: "s1", Language: "en-US", SampleRate: 16000}, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Write(make([]byte, 320)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	results, finals, errs := receiver.snapshot()
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(results) != 2 || results[0] != "hello" || finals[0] || results[1] != "hello world" || !finals[1] {
		t.Fatalf("unexpected results: %v %v", results, finals)
	}
	for i, st := range receiver.stabilitySnapshot() {
		if st != 0 {
			t.Fatalf("result %d stability = %v, want 0 (confidence is not stability)", i, st)
		}
	}
	if gotAuth != "Token dg-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "channels=1", "language=en-US", "interim_results=true", "model=nova-2"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDeepgramTranscriber_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewDeepgramTranscriber(DeepgramConfig{APIKey: "bad", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if _, err := tr.StartStreaming(t.Context(), transcriber.StreamOptions{Language: "en-US", SampleRate: 16000}, &recordingReceiver{}); err == nil {
		t.Fatal("expected dial error")
	}
}
