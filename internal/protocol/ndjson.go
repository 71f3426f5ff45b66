package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

const (
	NDJSONContentType = "application/x-ndjson"
	maxNDJSONLine     = 1 << 20
)

// NDJSONWriter writes one recognition result per line and flushes after each.
type NDJSONWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	f, _ := w.(http.Flusher)
	return &NDJSONWriter{w: w, flusher: f}
}

func (n *NDJSONWriter) WriteResult(r RecognitionResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.w.Write(b); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// ReadNDJSON calls fn for every well-formed result line. Malformed lines are
// logged and skipped; only read failures end the stream with an error.
func ReadNDJSON(r io.Reader, fn func(RecognitionResult)) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxNDJSONLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		res, err := DecodeResult(line)
		if err != nil {
			skipped++
			slog.Warn("skipping malformed transcript line", "error", err, "line_bytes", len(line))
			continue
		}
		fn(res)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return skipped, err
	}
	return skipped, nil
}
