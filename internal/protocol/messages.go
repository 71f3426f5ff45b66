package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxseedlab/voicememo/internal/transcript"
)

const (
	EventStartRecognition   = "startRecognition"
	EventRecognitionStarted = "recognitionStarted"
	EventAudioData          = "audioData"
	EventRecognitionResult  = "recognitionResult"
	EventStopRecognition    = "stopRecognition"
	EventRecognitionEnd     = "recognitionEnd"
	EventError              = "error"
)

var ErrMalformedEvent = errors.New("malformed event")

// Message is one real-time channel frame: {"event": name, "data": payload}.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type StartRecognition struct {
	Language   string `json:"language"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// AudioData carries one chunk; Audio is base64 in JSON.
type AudioData struct {
	Audio    []byte `json:"audio"`
	Language string `json:"language,omitempty"`
}

type RecognitionResult struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"isFinal"`
	Stability  float32 `json:"stability,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: b}, nil
}

// MustMessage is NewMessage for payload types that always marshal.
func MustMessage(event string, payload any) Message {
	m, err := NewMessage(event, payload)
	if err != nil {
		panic(err)
	}
	return m
}

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return m, nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, m.Event, err)
	}
	return nil
}

// DecodeResult parses a recognition result and requires a string transcript.
func DecodeResult(data []byte) (RecognitionResult, error) {
	var raw struct {
		Transcript *string  `json:"transcript"`
		IsFinal    bool     `json:"isFinal"`
		Stability  *float32 `json:"stability"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RecognitionResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Transcript == nil {
		return RecognitionResult{}, fmt.Errorf("%w: transcript is missing", ErrMalformedEvent)
	}
	r := RecognitionResult{Transcript: *raw.Transcript, IsFinal: raw.IsFinal}
	if raw.Stability != nil {
		r.Stability = *raw.Stability
	}
	return r, nil
}

func (r RecognitionResult) Event() transcript.Event {
	return transcript.Event{Text: r.Transcript, IsFinal: r.IsFinal, Stability: r.Stability}
}

func ResultFromEvent(ev transcript.Event) RecognitionResult {
	return RecognitionResult{Transcript: ev.Text, IsFinal: ev.IsFinal, Stability: ev.Stability}
}
