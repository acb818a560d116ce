package gemini

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrInvalidRequest marks a request body that is not a usable generateContent request.
var ErrInvalidRequest = errors.New("invalid generateContent request")

// GenerateContentRequest is the REST body of generateContent. Only the fields
// the proxy inspects are typed; the original bytes are forwarded unchanged.
type GenerateContentRequest struct {
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool    `json:"tools,omitempty"`
	GenerationConfig  json.RawMessage  `json:"generationConfig,omitempty"`
	SafetySettings    json.RawMessage  `json:"safetySettings,omitempty"`
	CachedContent     string           `json:"cachedContent,omitempty"`
}

// ValidateRequest checks that body decodes as a generateContent request with contents.
func ValidateRequest(body []byte) (*GenerateContentRequest, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}

	var req GenerateContentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Contents) == 0 && req.CachedContent == "" {
		return nil, fmt.Errorf("%w: contents is required", ErrInvalidRequest)
	}
	for i, c := range req.Contents {
		if c == nil || len(c.Parts) == 0 {
			return nil, fmt.Errorf("%w: contents[%d] has no parts", ErrInvalidRequest, i)
		}
	}
	return &req, nil
}
