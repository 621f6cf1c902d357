// Package transcribe converts and transcribes flushed utterances off the
// recording hot path, storing the structured transcript on the utterance
// record.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transcriber turns utterance audio into a structured transcript. The
// payload is opaque to the bot; it is stored verbatim on the record.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (json.RawMessage, error)
}

// Converter re-encodes utterance audio before transcription. Implementations
// wrap an external codec service; Identity passes PCM through untouched.
type Converter interface {
	Convert(ctx context.Context, audio []byte) (out []byte, format string, err error)
}

// Identity is the no-op Converter.
type Identity struct{}

func (Identity) Convert(_ context.Context, audio []byte) ([]byte, string, error) {
	return audio, "pcm", nil
}

// HTTPClient posts utterance audio to a transcription service and returns
// the JSON transcript body.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient builds a client for the given endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Transcribe(ctx context.Context, audio []byte, format string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Audio-Format", format)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("transcribe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe: service returned %d: %s", resp.StatusCode, body)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("transcribe: service returned invalid JSON")
	}
	return body, nil
}
