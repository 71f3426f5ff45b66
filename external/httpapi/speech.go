package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/session"
)

const (
	maxUploadBytes   = 64 << 20
	maxMemoryBytes   = 8 << 20
	messageNoAudio   = "No audio data received"
	messageBadUpload = "Invalid upload"
	messageBadAudio  = "Unsupported audio format"
	messageBackend   = "Recognition backend error"

	fallbackOK         = "ok"
	fallbackBadRequest = "bad_request"
	fallbackFailed     = "error"
)

// speechHandler transcribes one uploaded recording and streams the results
// back as NDJSON. The status line is committed with the first result, so a
// backend that fails before producing anything still gets a JSON error.
type speechHandler struct {
	manager *session.Manager
	metrics *metrics.Metrics
}

func (h *speechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.reject(w, messageBadUpload, err)
		return
	}
	if r.MultipartForm != nil {
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()
	}

	data, err := readUpload(r)
	if err != nil {
		h.reject(w, messageNoAudio, err)
		return
	}

	var (
		out     *protocol.NDJSONWriter
		started bool
	)
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", protocol.NDJSONContentType)
		w.WriteHeader(http.StatusOK)
		out = protocol.NewNDJSONWriter(w)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	err = h.manager.Transcribe(r.Context(), r.FormValue("language"), data, func(res protocol.RecognitionResult) error {
		begin()
		return out.WriteResult(res)
	})
	switch {
	case err == nil:
		begin()
		h.metrics.FallbackRequests.WithLabelValues(fallbackOK).Inc()
	case errors.Is(err, session.ErrInvalidLanguage):
		h.reject(w, err.Error(), err)
	case errors.Is(err, session.ErrInvalidAudio):
		h.reject(w, messageBadAudio, err)
	case started:
		h.metrics.FallbackRequests.WithLabelValues(fallbackFailed).Inc()
		slog.Error("upload transcription failed mid-stream", "error", err)
	default:
		h.metrics.FallbackRequests.WithLabelValues(fallbackFailed).Inc()
		slog.Error("upload transcription failed", "error", err)
		writeError(w, http.StatusInternalServerError, messageBackend)
	}
}

func (h *speechHandler) reject(w http.ResponseWriter, message string, err error) {
	h.metrics.FallbackRequests.WithLabelValues(fallbackBadRequest).Inc()
	slog.Warn("rejected upload", "reason", message, "error", err)
	writeError(w, http.StatusBadRequest, message)
}

func readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("audio file is empty")
	}
	return data, nil
}
