// Package synth provides the speech synthesizers behind the render engine: a
// client for a standalone TTS HTTP service and a wrapper around a local
// synthesis binary.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/readaloud/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiVoices         = "/v1/voices"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	DefaultTemperature = 0.75
	DefaultLanguage    = "en"
)

const (
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty             = errors.New("text cannot be empty")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrServiceStatus         = errors.New("TTS service returned an error")
	ErrUnhealthy             = errors.New("health check failed")
)

// SpeechRequest is the JSON payload of a speech generation request.
type SpeechRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// ErrorResponse is the structured error body returned by the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPClient talks to a standalone TTS HTTP service.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	language    string
	temperature float64
}

var _ core.Synthesizer = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at baseURL, e.g.
// "http://localhost:8000". A zero temperature or empty language selects the
// defaults.
func NewHTTPClient(baseURL string, timeout time.Duration, language string, temperature float64) *HTTPClient {
	if language == "" {
		language = DefaultLanguage
	}

	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		language:    language,
		temperature: temperature,
	}
}

// Synthesize generates WAV audio for text spoken by voice. An empty voice lets
// the service pick its default speaker.
func (c *HTTPClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return c.GenerateSpeech(ctx, SpeechRequest{
		Text:        text,
		Voice:       voice,
		Language:    c.language,
		Temperature: c.temperature,
	})
}

// GenerateSpeech sends req and returns the raw WAV data.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}

	if req.Language == "" {
		req.Language = c.language
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// Voices lists the speakers the service offers.
func (c *HTTPClient) Voices(ctx context.Context) ([]core.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiVoices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var voices []core.Voice

	err = json.NewDecoder(resp.Body).Decode(&voices)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}

	return voices, nil
}

// HealthCheck reports an error unless the service answers its health endpoint
// with 200 OK.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w with status: %s", ErrUnhealthy, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error and falls back to the raw
// body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: "+errFmtServiceErrorWithCode,
			ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
}
