package synth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/synth"
)

const testWAV = "RIFF....WAVE"

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}

func TestHTTPClient_Synthesize(t *testing.T) {
	t.Parallel()

	var got synth.SpeechRequest

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testWAV))
	})

	client := synth.NewHTTPClient(server.URL, time.Second, "", 0)

	audio, err := client.Synthesize(context.Background(), "Hello, world!", "Samantha")
	require.NoError(t, err)

	assert.Equal(t, testWAV, string(audio))
	assert.Equal(t, synth.SpeechRequest{
		Text:        "Hello, world!",
		Voice:       "Samantha",
		Language:    synth.DefaultLanguage,
		Temperature: synth.DefaultTemperature,
	}, got)
}

func TestHTTPClient_GenerateSpeechErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		text    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty text",
			handler: func(http.ResponseWriter, *http.Request) {},
			wantErr: synth.ErrTextEmpty,
		},
		{
			name: "structured error",
			text: "Hello",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"detail":"Unknown voice","error_code":"INVALID_VOICE"}`))
			},
			wantErr: synth.ErrServiceStatus,
			wantMsg: "Unknown voice (code: INVALID_VOICE)",
		},
		{
			name: "plain error body",
			text: "Hello",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("model crashed"))
			},
			wantErr: synth.ErrServiceStatus,
			wantMsg: "body: model crashed",
		},
		{
			name: "wrong content type",
			text: "Hello",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte("not audio"))
			},
			wantErr: synth.ErrUnexpectedContentType,
		},
		{
			name: "empty audio",
			text: "Hello",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
			},
			wantErr: synth.ErrEmptyAudio,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := newServer(t, testCase.handler)
			client := synth.NewHTTPClient(server.URL, time.Second, "en", 0.8)

			_, err := client.Synthesize(context.Background(), testCase.text, "")
			require.ErrorIs(t, err, testCase.wantErr)

			if testCase.wantMsg != "" {
				assert.Contains(t, err.Error(), testCase.wantMsg)
			}
		})
	}
}

func TestHTTPClient_Voices(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Samantha","lang":"en-US","uri":"samantha"},{"name":"Daniel","lang":"en_GB"}]`))
	})

	voices, err := synth.NewHTTPClient(server.URL, time.Second, "", 0).Voices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []core.Voice{
		{Name: "Samantha", Lang: "en-US", URI: "samantha"},
		{Name: "Daniel", Lang: "en_GB"},
	}, voices)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, synth.NewHTTPClient(healthy.URL, time.Second, "", 0).HealthCheck(context.Background()))

	unhealthy := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := synth.NewHTTPClient(unhealthy.URL, time.Second, "", 0).HealthCheck(context.Background())
	require.ErrorIs(t, err, synth.ErrUnhealthy)
}

func TestHTTPClient_Timeout(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client := synth.NewHTTPClient(server.URL, 10*time.Millisecond, "", 0)

	_, err := client.Synthesize(context.Background(), "Hello", "")
	require.Error(t, err)
}
