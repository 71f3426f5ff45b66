package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/foxseedlab/voicememo/internal/protocol"
)

const maxErrorBody = 64 << 10

// Upload posts a whole recording to the HTTP fallback endpoint and reports
// each streamed result to fn as it arrives. Malformed lines are skipped.
func Upload(ctx context.Context, httpClient *http.Client, endpoint, language, filename string, data []byte, fn func(protocol.RecognitionResult)) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if language != "" {
		if err := form.WriteField("language", language); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", protocol.NDJSONContentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrNoResponseBody
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, payload.Error)
	}

	if _, err := protocol.ReadNDJSON(resp.Body, fn); err != nil {
		return fmt.Errorf("%w: %v", ErrStream, err)
	}
	return nil
}
