package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	deepgramListenURL    = "wss://api.deepgram.com/v1/listen"
	deepgramDrainTimeout = 10 * time.Second
)

type DeepgramConfig struct {
	APIKey string
	Model  string
	// Endpoint overrides the listen URL; empty means the public API.
	Endpoint string
}

type DeepgramTranscriber struct {
	apiKey   string
	model    string
	endpoint string
	dialer   *websocket.Dialer
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = deepgramListenURL
	}
	return &DeepgramTranscriber{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
	}
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (t *DeepgramTranscriber) listenURL(opts transcriber.StreamOptions) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", "1")
	q.Set("language", opts.Language)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if t.model != "" {
		q.Set("model", t.model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, opts transcriber.StreamOptions, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	target, err := t.listenURL(opts)
	if err != nil {
		return nil, err
	}
	header := http.Header{"Authorization": {"Token " + t.apiKey}}
	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial deepgram: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	slog.Info("connected to deepgram", "session_id", opts.SessionID, "language", opts.Language, "model", t.model)

	s := &deepgramStream{
		conn:     conn,
		receiver: receiver,
		done:     make(chan struct{}),
	}
	go s.receive()
	return s, nil
}

type deepgramStream struct {
	mu       sync.Mutex
	closed   bool
	conn     *websocket.Conn
	receiver transcriber.ResultReceiver
	done     chan struct{}
}

func (s *deepgramStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Close asks the service to finalize and waits for it to hang up.
func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	sendErr := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(deepgramDrainTimeout):
		slog.Warn("deepgram did not close the stream in time")
	}
	closeErr := s.conn.Close()
	<-s.done
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	return errors.Join(sendErr, closeErr)
}

func (s *deepgramStream) receive() {
	defer close(s.done)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.receiver.OnError(err)
			return
		}
		var resp deepgramResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			slog.Warn("failed to parse deepgram message", "error", err)
			continue
		}
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}
		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		// Deepgram reports confidence, not interim stability.
		s.receiver.OnResult(alt.Transcript, resp.IsFinal, 0)
	}
}
