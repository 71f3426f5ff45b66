package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/client"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/foxseedlab/voicememo/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

type sizeTranscriber struct {
	startErr error
}

func (s *sizeTranscriber) StartStreaming(_ context.Context, _ transcriber.StreamOptions, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &sizeStream{receiver: receiver}, nil
}

type sizeStream struct {
	receiver transcriber.ResultReceiver
}

func (s *sizeStream) Write(pcm []byte) error {
	s.receiver.OnResult(fmt.Sprintf("%d bytes", len(pcm)), true, 1)
	return nil
}

func (s *sizeStream) Close() error { return nil }

type nopSender struct{}

func (nopSender) SendTranscript(context.Context, webhook.TranscriptWebhookPayload) error { return nil }

func newTestRouter(t *testing.T, stt transcriber.Transcriber) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		DefaultTranscribeLanguage: "ko-KR",
		SupportedLanguages:        []string{"ko-KR", "en-US"},
		SampleRateHz:              16000,
		MaxTranscribeDurationMin:  120,
		AllowedOrigins:            []string{"https://memo.example"},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	noDecoder := func(string, int) (audio.Decoder, error) { return nil, audio.ErrUnsupportedEncoding }
	manager := session.NewManager(cfg, stt, nopSender{}, noDecoder, m)
	manager.Init()
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	server := httptest.NewServer(NewRouter(cfg, manager, ws, reg, m))
	t.Cleanup(server.Close)
	return server
}

func speechURL(server *httptest.Server) string {
	return server.URL + "/api/speech-to-text"
}

func TestSpeechToText_StreamsResults(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})
	wav, err := audio.EncodeWAV(make([]int16, 24000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	var got []protocol.RecognitionResult
	err = client.Upload(context.Background(), server.Client(), speechURL(server), "en-US", "memo.wav", wav, func(r protocol.RecognitionResult) {
		got = append(got, r)
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(got) != 2 || got[0].Transcript != "32000 bytes" || got[1].Transcript != "16000 bytes" {
		t.Fatalf("results = %+v", got)
	}
	for _, r := range got {
		if !r.IsFinal {
			t.Fatalf("result %+v is not final", r)
		}
	}
}

func TestSpeechToText_ContentType(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})
	body, contentType := multipartBody(t, map[string]string{"language": "ko-KR"}, make([]byte, 100))

	resp, err := server.Client().Post(speechURL(server), contentType, body)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != protocol.NDJSONContentType {
		t.Fatalf("Content-Type = %q", got)
	}
	raw, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(raw)) != `{"transcript":"100 bytes","isFinal":true,"stability":1}` {
		t.Fatalf("body = %q", raw)
	}
}

func TestSpeechToText_MissingAudio(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})

	tests := []struct {
		name        string
		body        io.Reader
		contentType string
	}{
		{"no file part", nil, ""},
		{"not multipart", strings.NewReader("language=ko-KR"), "application/x-www-form-urlencoded"},
		{"empty file", nil, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := tt.body, tt.contentType
			if body == nil {
				var audioData []byte
				if i == 2 {
					audioData = []byte{}
				}
				body, contentType = multipartBody(t, map[string]string{"language": "ko-KR"}, audioData)
			}
			resp, err := server.Client().Post(speechURL(server), contentType, body)
			if err != nil {
				t.Fatalf("Post() error = %v", err)
			}
			defer resp.Body.Close()
			assertJSONError(t, resp, http.StatusBadRequest, "No audio data received")
		})
	}
}

func TestSpeechToText_InvalidLanguage(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})

	err := client.Upload(context.Background(), server.Client(), speechURL(server), "fr-FR", "memo.pcm", make([]byte, 10), func(protocol.RecognitionResult) {
		t.Error("unexpected result")
	})
	if !errors.Is(err, client.ErrBackend) || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("Upload() error = %v, want a 400 backend error", err)
	}
}

func TestSpeechToText_ZeroRateWAV(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})
	wav, err := audio.EncodeWAV(make([]int16, 100), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	binary.LittleEndian.PutUint32(wav[24:28], 0)
	body, contentType := multipartBody(t, nil, wav)

	resp, err := server.Client().Post(speechURL(server), contentType, body)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	assertJSONError(t, resp, http.StatusBadRequest, "Unsupported audio format")
}

func TestSpeechToText_BackendFailure(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{startErr: errors.New("quota exceeded")})
	body, contentType := multipartBody(t, nil, make([]byte, 10))

	resp, err := server.Client().Post(speechURL(server), contentType, body)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	assertJSONError(t, resp, http.StatusInternalServerError, "Recognition backend error")
}

func TestHealthz(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})

	resp, err := server.Client().Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || got.Status != "ok" || got.Sessions != 0 {
		t.Fatalf("healthz = %d %+v", resp.StatusCode, got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})
	body, contentType := multipartBody(t, nil, nil)
	resp, err := server.Client().Post(speechURL(server), contentType, body)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()

	resp, err = server.Client().Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `voicememo_fallback_requests_total{status="bad_request"} 1`) {
		t.Fatalf("metrics output missing fallback counter:\n%s", raw)
	}
}

func TestRealtimeRoutes(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})
	for _, path := range []string{"/ws", "/speech"} {
		resp, err := server.Client().Get(server.URL + path)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusTeapot {
			t.Fatalf("Get(%s) status = %d, want the real-time handler", path, resp.StatusCode)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestRouter(t, &sizeTranscriber{})

	tests := []struct {
		origin string
		want   string
	}{
		{"https://memo.example", "https://memo.example"},
		{"https://elsewhere.example", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, speechURL(server), nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := server.Client().Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Fatalf("Allow-Origin for %s = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

// multipartBody builds an upload form; a nil audio leaves the file part out.
func multipartBody(t *testing.T, fields map[string]string, audioData []byte) (io.Reader, string) {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if audioData != nil {
		part, err := form.CreateFormFile("audio", "memo.pcm")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(audioData); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := form.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return body, form.FormDataContentType()
}

func assertJSONError(t *testing.T, resp *http.Response, status int, message string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload.Error != message {
		t.Fatalf("error = %q, want %q", payload.Error, message)
	}
}
