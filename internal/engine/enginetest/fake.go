// Package enginetest provides a synchronous in-memory speech engine for tests.
package enginetest

import (
	"sync"

	"github.com/book-expert/readaloud/internal/core"
)

// Engine records every call and fires utterance callbacks only when told to,
// on the calling goroutine. Pause, Resume and Cancel fire the matching callback
// of the current utterance immediately, as browser engines do.
type Engine struct {
	mu        sync.Mutex
	voices    []core.Voice
	listeners []func()
	spoken    []*core.Utterance
	current   *core.Utterance

	cancels int
	pauses  int
	resumes int
}

var _ core.Engine = (*Engine)(nil)

// New creates a fake engine reporting the given voices.
func New(voices ...core.Voice) *Engine {
	return &Engine{voices: voices}
}

// Voices returns the current voice list.
func (e *Engine) Voices() []core.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]core.Voice(nil), e.voices...)
}

// OnVoicesChanged registers a voice list listener.
func (e *Engine) OnVoicesChanged(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
}

// SetVoices replaces the voice list and notifies listeners.
func (e *Engine) SetVoices(voices ...core.Voice) {
	e.mu.Lock()
	e.voices = voices
	listeners := append([]func(){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Speak makes u the current utterance.
func (e *Engine) Speak(u *core.Utterance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.spoken = append(e.spoken, u)
	e.current = u
}

// Pause fires the current utterance's pause callback.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.pauses++
	u := e.current
	e.mu.Unlock()

	if u != nil && u.OnPause != nil {
		u.OnPause()
	}
}

// Resume fires the current utterance's resume callback.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.resumes++
	u := e.current
	e.mu.Unlock()

	if u != nil && u.OnResume != nil {
		u.OnResume()
	}
}

// Cancel drops the current utterance and reports it as interrupted.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancels++
	u := e.current
	e.current = nil
	e.mu.Unlock()

	if u != nil && u.OnError != nil {
		u.OnError(core.ErrorInterrupted)
	}
}

// FireStart reports that the current utterance started.
func (e *Engine) FireStart() {
	if u := e.Current(); u != nil && u.OnStart != nil {
		u.OnStart()
	}
}

// FireEnd completes the current utterance.
func (e *Engine) FireEnd() {
	e.mu.Lock()
	u := e.current
	e.current = nil
	e.mu.Unlock()

	if u != nil && u.OnEnd != nil {
		u.OnEnd()
	}
}

// FireError fails the current utterance with reason.
func (e *Engine) FireError(reason string) {
	e.mu.Lock()
	u := e.current
	e.current = nil
	e.mu.Unlock()

	if u != nil && u.OnError != nil {
		u.OnError(reason)
	}
}

// Current returns the utterance being spoken, if any.
func (e *Engine) Current() *core.Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.current
}

// Spoken returns every utterance passed to Speak, oldest first.
func (e *Engine) Spoken() []*core.Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*core.Utterance(nil), e.spoken...)
}

// Cancels returns how many times Cancel was called.
func (e *Engine) Cancels() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cancels
}

// Pauses returns how many times Pause was called.
func (e *Engine) Pauses() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pauses
}

// Resumes returns how many times Resume was called.
func (e *Engine) Resumes() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.resumes
}
