package session

const (
	stopReasonClientStop   = "client_stop"
	stopReasonMaxDuration  = "max_duration"
	stopReasonServerClosed = "server_closed"
	stopReasonDisconnected = "disconnected"
	stopReasonRestarted    = "restarted"
	stopReasonBackendError = "backend_error"
	stopReasonWriteError   = "write_error"
)

const (
	messageNotStarted          = "recognition not started"
	messageStartFailed         = "Failed to start recognition"
	messageAudioError          = "Audio processing error"
	messageBackendError        = "Recognition backend error"
	messageMaxDuration         = "Maximum recognition duration reached"
	messageServerClosed        = "Server is shutting down"
	messageUnknownEvent        = "Unknown event"
	messageMalformedEvent      = "Malformed event"
	messageUnsupportedEncoding = "Unsupported audio encoding"
)

// stopReasonFlushes reports whether results still pending in the backend are
// delivered to the client when a recognition ends for reason.
func stopReasonFlushes(reason string) bool {
	switch reason {
	case stopReasonClientStop, stopReasonMaxDuration, stopReasonServerClosed:
		return true
	default:
		return false
	}
}

func stopReasonMessage(reason string) string {
	switch reason {
	case stopReasonMaxDuration:
		return messageMaxDuration
	case stopReasonServerClosed:
		return messageServerClosed
	case stopReasonWriteError:
		return messageAudioError
	case stopReasonBackendError:
		return messageBackendError
	default:
		return ""
	}
}
