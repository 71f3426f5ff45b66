package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/voicememo/internal/webhook"
)

const (
	sendTimeout      = 30 * time.Second
	maxErrorBodySize = 1 << 10

	headerEvent     = "X-Voicememo-Event"
	headerSessionID = "X-Voicememo-Session-Id"
	eventTranscript = "transcript.completed"
)

// HTTPSender delivers finished memo transcripts as JSON. An empty URL turns
// delivery off.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string) webhook.Sender {
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
	}
}

func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode transcript payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "voicememo-webhook/"+payload.SchemaVersion)
	req.Header.Set(headerEvent, eventTranscript)
	req.Header.Set(headerSessionID, payload.SessionID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	slog.Debug("transcript webhook delivered", "session_id", payload.SessionID, "segments", payload.SegmentCount, "status", resp.StatusCode)
	return nil
}
