package transcriber

import "context"

// StreamWriter feeds little-endian 16-bit mono PCM to a recognition stream.
type StreamWriter interface {
	Write(pcm []byte) error
	// Close ends the audio stream and returns once every pending result has
	// been delivered to the receiver.
	Close() error
}

// ResultReceiver is called from the backend's goroutines, in result order.
type ResultReceiver interface {
	OnResult(text string, isFinal bool, stability float32)
	OnError(err error)
}

type StreamOptions struct {
	SessionID  string
	Language   string
	SampleRate int
}

type Transcriber interface {
	StartStreaming(ctx context.Context, opts StreamOptions, receiver ResultReceiver) (StreamWriter, error)
}
