// Package core defines the shared types and interfaces of the read-aloud service.
package core

import "context"

// ErrorInterrupted is the engine error reason reported for an utterance that was
// cancelled while queued or speaking. It is a control-flow signal, not a failure.
const ErrorInterrupted = "interrupted"

// PlaybackState is the state of the playback controller.
type PlaybackState string

// Playback states.
const (
	StateIdle    PlaybackState = "idle"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// ModuleState tracks the lazy activation of the read-aloud subsystem.
type ModuleState string

// Module states.
const (
	ModuleIdle    ModuleState = "idle"
	ModuleLoading ModuleState = "loading"
	ModuleReady   ModuleState = "ready"
	ModuleError   ModuleState = "error"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Voice is a voice reported by a speech engine. URI is the engine's own handle.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
	URI  string `json:"uri,omitempty"`
}

// Utterance is one request to an engine to speak a bounded unit of text.
// The engine invokes the callbacks as the utterance moves through its lifecycle;
// nil callbacks are skipped.
type Utterance struct {
	Text  string
	Rate  float64
	Voice *Voice

	// Index and Total locate the utterance within its chunk sequence.
	Index int
	Total int

	OnStart  func()
	OnEnd    func()
	OnPause  func()
	OnResume func()
	OnError  func(reason string)
}

// Engine is the process-wide speech engine shared by every page view.
// Implementations may invoke utterance callbacks synchronously from Speak,
// Pause, Resume and Cancel.
type Engine interface {
	Voices() []Voice
	OnVoicesChanged(fn func())
	Speak(u *Utterance)
	Pause()
	Resume()
	Cancel()
}

// Prewarmer is implemented by engines whose voice list loads asynchronously.
type Prewarmer interface {
	Prewarm(ctx context.Context)
}

// Synthesizer converts text into audio for a named voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
}

// ContentSource yields the readable text of the current page.
type ContentSource interface {
	ReadableText() string
}
