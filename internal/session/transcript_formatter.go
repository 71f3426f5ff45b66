package session

import (
	"time"

	"github.com/foxseedlab/voicememo/internal/webhook"
)

type spokenSegment struct {
	Index    int
	SpokenAt time.Time
	Content  string
}

func buildTranscriptWebhookPayload(sessionID, language, stopReason string, startedAt, endedAt time.Time, segments []spokenSegment, text string) webhook.TranscriptWebhookPayload {
	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return webhook.TranscriptWebhookPayload{
		SchemaVersion:   webhook.TranscriptWebhookSchemaVersion,
		SessionID:       sessionID,
		Language:        language,
		StartAt:         startedAt.UTC().Format(time.RFC3339),
		EndAt:           endedAt.UTC().Format(time.RFC3339),
		DurationSeconds: durationSeconds,
		StopReason:      stopReason,
		SegmentCount:    len(segments),
		Segments:        buildTranscriptWebhookSegments(segments, endedAt),
		Transcript:      text,
	}
}

// A segment runs from its own final result to the next one, the last one to
// the end of the session.
func buildTranscriptWebhookSegments(segments []spokenSegment, sessionEndedAt time.Time) []webhook.TranscriptWebhookSegment {
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for i, seg := range segments {
		segmentEnd := sessionEndedAt
		if i+1 < len(segments) {
			segmentEnd = segments[i+1].SpokenAt
		}
		if segmentEnd.Before(seg.SpokenAt) {
			segmentEnd = seg.SpokenAt
		}
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:      seg.Index,
			StartAt:    seg.SpokenAt.UTC().Format(time.RFC3339),
			EndAt:      segmentEnd.UTC().Format(time.RFC3339),
			Transcript: seg.Content,
		})
	}
	return out
}
