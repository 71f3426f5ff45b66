package webhook

import "context"

const TranscriptWebhookSchemaVersion = "1"

type TranscriptWebhookSegment struct {
	Index      int    `json:"index"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Transcript string `json:"transcript"`
}

type TranscriptWebhookPayload struct {
	SchemaVersion   string                     `json:"schema_version"`
	SessionID       string                     `json:"session_id"`
	Language        string                     `json:"language"`
	StartAt         string                     `json:"start_at"`
	EndAt           string                     `json:"end_at"`
	DurationSeconds int64                      `json:"duration_seconds"`
	StopReason      string                     `json:"stop_reason"`
	SegmentCount    int                        `json:"segment_count"`
	Segments        []TranscriptWebhookSegment `json:"segments"`
	Transcript      string                     `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
