// Package engine provides the server-side speech engine. Utterances are queued
// and rendered one at a time: the text is normalized, synthesized, stored as a
// WAV object and announced to an audio handler before the utterance ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/tts/text"
)

// Error reasons reported through Utterance.OnError besides core.ErrorInterrupted.
const (
	ReasonSynthesisFailed = "synthesis-failed"
	ReasonAudioStore      = "audio-store-failed"
)

const audioKeyExt = ".wav"

// ErrNoSynthesizer is returned by New without a synthesizer.
var ErrNoSynthesizer = errors.New("engine requires a synthesizer")

// Audio describes one rendered utterance.
type Audio struct {
	Key   string
	Text  string
	Voice string
	Index int
	Total int
	Size  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithAudioHandler registers fn to receive every rendered utterance before its
// end callback fires.
func WithAudioHandler(fn func(Audio)) Option {
	return func(e *Engine) {
		e.onAudio = fn
	}
}

type job struct {
	utterance *core.Utterance
	ctx       context.Context
	cancel    context.CancelFunc
	done      bool
}

// Engine implements core.Engine and core.Prewarmer over a core.Synthesizer.
type Engine struct {
	synth        core.Synthesizer
	store        core.ObjectStore
	preprocessor *text.Preprocessor
	log          *logger.Logger
	onAudio      func(Audio)

	ctx     context.Context
	stop    context.CancelFunc
	wake    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	voices    []core.Voice
	listeners []func()
	queue     []*core.Utterance
	current   *job
	paused    bool
	resumed   chan struct{}
}

var (
	_ core.Engine    = (*Engine)(nil)
	_ core.Prewarmer = (*Engine)(nil)
)

// New starts an engine rendering through synth. Audio is uploaded to store
// when it is not nil.
func New(synth core.Synthesizer, store core.ObjectStore, log *logger.Logger, opts ...Option) (*Engine, error) {
	if synth == nil {
		return nil, ErrNoSynthesizer
	}

	ctx, stop := context.WithCancel(context.Background())

	e := &Engine{
		synth:        synth,
		store:        store,
		preprocessor: text.NewPreprocessor(),
		log:          log,
		ctx:          ctx,
		stop:         stop,
		wake:         make(chan struct{}, 1),
		stopped:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	go e.run()

	return e, nil
}

// Close cancels any in-flight utterance and stops the render loop.
func (e *Engine) Close() error {
	e.Cancel()
	e.stop()
	<-e.stopped

	return nil
}

// Prewarm loads the synthesizer's voice list and notifies listeners.
func (e *Engine) Prewarm(ctx context.Context) {
	voices, err := e.synth.Voices(ctx)
	if err != nil {
		e.log.Warn("Failed to load voices: %v", err)

		return
	}

	e.mu.Lock()
	e.voices = voices
	listeners := append([]func(){}, e.listeners...)
	e.mu.Unlock()

	e.log.Info("Loaded %d voices", len(voices))

	for _, fn := range listeners {
		fn()
	}
}

// Voices returns the voices loaded so far.
func (e *Engine) Voices() []core.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]core.Voice(nil), e.voices...)
}

// OnVoicesChanged registers fn to run whenever the voice list is reloaded.
func (e *Engine) OnVoicesChanged(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
}

// Speak queues u behind any pending utterances.
func (e *Engine) Speak(u *core.Utterance) {
	e.mu.Lock()
	e.queue = append(e.queue, u)
	e.mu.Unlock()

	e.signal()
}

// Pause holds the current utterance before its audio is released and stops
// the queue from advancing.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()

		return
	}

	e.paused = true
	e.resumed = make(chan struct{})

	var utterance *core.Utterance
	if e.current != nil {
		utterance = e.current.utterance
	}
	e.mu.Unlock()

	if utterance != nil {
		fire(utterance.OnPause)
	}
}

// Resume releases a paused engine. The resume callback runs before the held
// utterance can end.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()

		return
	}

	e.paused = false
	resumed := e.resumed

	var utterance *core.Utterance
	if e.current != nil {
		utterance = e.current.utterance
	}
	e.mu.Unlock()

	if utterance != nil {
		fire(utterance.OnResume)
	}

	close(resumed)
	e.signal()
}

// Cancel drops every queued utterance, aborts the current one with
// core.ErrorInterrupted and clears the paused flag.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.queue = nil
	current := e.current

	if e.paused {
		e.paused = false
		close(e.resumed)
	}
	e.mu.Unlock()

	if current == nil {
		return
	}

	current.cancel()

	if e.finish(current) && current.utterance.OnError != nil {
		current.utterance.OnError(core.ErrorInterrupted)
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.stopped)

	for {
		current := e.next()
		if current == nil {
			return
		}

		e.render(current)
		current.cancel()
	}
}

// next blocks until an utterance can start or the engine stops.
func (e *Engine) next() *job {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 && !e.paused {
			utterance := e.queue[0]
			e.queue = e.queue[1:]

			ctx, cancel := context.WithCancel(e.ctx)
			current := &job{utterance: utterance, ctx: ctx, cancel: cancel}
			e.current = current
			e.mu.Unlock()

			return current
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.ctx.Done():
			return nil
		}
	}
}

func (e *Engine) render(current *job) {
	utterance := current.utterance

	if current.ctx.Err() != nil {
		return
	}

	fire(utterance.OnStart)

	voice := voiceName(utterance.Voice)
	spoken := e.preprocessor.PreprocessText(utterance.Text)

	audio, err := e.synth.Synthesize(current.ctx, spoken, voice)
	if err != nil {
		e.fail(current, ReasonSynthesisFailed, err)

		return
	}

	key := ""

	if e.store != nil {
		key = uuid.NewString() + audioKeyExt

		err = e.store.Upload(current.ctx, key, audio)
		if err != nil {
			e.fail(current, ReasonAudioStore, fmt.Errorf("failed to store audio %s: %w", key, err))

			return
		}
	}

	err = e.waitWhilePaused(current.ctx)
	if err != nil {
		return
	}

	if e.onAudio != nil {
		e.onAudio(Audio{
			Key:   key,
			Text:  spoken,
			Voice: voice,
			Index: utterance.Index,
			Total: utterance.Total,
			Size:  len(audio),
		})
	}

	if e.finish(current) {
		fire(utterance.OnEnd)
	}
}

// fail reports err unless the utterance was cancelled, which already produced
// its interrupted callback.
func (e *Engine) fail(current *job, reason string, err error) {
	if current.ctx.Err() != nil {
		return
	}

	e.log.Error("Utterance %d/%d failed: %v", current.utterance.Index+1, current.utterance.Total, err)

	if e.finish(current) && current.utterance.OnError != nil {
		current.utterance.OnError(reason)
	}
}

// finish marks the job complete and reports whether this call did so. Each
// utterance gets exactly one terminal callback.
func (e *Engine) finish(current *job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if current.done {
		return false
	}

	current.done = true
	if e.current == current {
		e.current = nil
	}

	return true
}

func (e *Engine) waitWhilePaused(ctx context.Context) error {
	for {
		e.mu.Lock()
		if !e.paused {
			e.mu.Unlock()

			return nil
		}

		resumed := e.resumed
		e.mu.Unlock()

		select {
		case <-resumed:
		case <-ctx.Done():
			return fmt.Errorf("wait for resume: %w", ctx.Err())
		}
	}
}

func voiceName(voice *core.Voice) string {
	switch {
	case voice == nil:
		return ""
	case voice.URI != "":
		return voice.URI
	default:
		return voice.Name
	}
}

func fire(fn func()) {
	if fn != nil {
		fn()
	}
}
