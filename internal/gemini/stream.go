package gemini

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

const maxSSELineBytes = 16 * 1024 * 1024

// Chunk is one decoded SSE event with its raw JSON.
type Chunk struct {
	Raw    json.RawMessage
	Parsed *genai.GenerateContentResponse
}

// StreamReader decodes `data:` events of a streamGenerateContent?alt=sse response.
type StreamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	usage   *genai.GenerateContentResponseUsageMetadata

	closeOnce sync.Once
	closeErr  error
}

func newStreamReader(body io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	return &StreamReader{body: body, scanner: scanner}
}

// Next returns the next chunk, io.EOF at a clean end of stream, or an error.
// An error object sent as an event is returned as *APIError.
func (s *StreamReader) Next() (*Chunk, error) {
	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}

		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			return nil, io.EOF
		}

		var env errorEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
			status := env.Error.Code
			if status == 0 {
				status = http.StatusBadGateway
			}
			return nil, parseAPIError(status, data)
		}

		raw := make(json.RawMessage, len(data))
		copy(raw, data)

		var parsed genai.GenerateContentResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("gemini: decode stream chunk: %w", err)
		}
		if parsed.UsageMetadata != nil {
			s.usage = parsed.UsageMetadata
		}
		return &Chunk{Raw: raw, Parsed: &parsed}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("gemini: read stream: %w", err)
	}
	return nil, io.EOF
}

// Usage returns the last usage metadata seen so far.
func (s *StreamReader) Usage() *genai.GenerateContentResponseUsageMetadata {
	return s.usage
}

// Close releases the upstream connection. Safe to call more than once.
func (s *StreamReader) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
