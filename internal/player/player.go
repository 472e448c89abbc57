// Package player drives chunked page playback through a speech engine.
//
// The Controller owns at most one session. Every utterance it submits carries
// the id of the session that created it; callbacks from an older session are
// dropped, which is how cancellation reaches the asynchronous engine events.
// The controller never holds its lock while calling the engine or the view, so
// engines may fire callbacks synchronously.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/tts/text"
	"github.com/book-expert/readaloud/internal/voice"
)

const (
	// DefaultVoiceWait bounds how long Start waits for an empty voice list to load.
	DefaultVoiceWait = 2 * time.Second
	// NormalRate is the speaking rate of every utterance.
	NormalRate = 1.0
)

// User-facing messages.
const (
	MsgNotSupported = "Text-to-speech not supported in your browser."
	MsgNoContent    = "No content found to read aloud."
	MsgPlaying      = "Playing"
	MsgPaused       = "Paused"
	MsgFinished     = "Finished reading"
	msgErrorFormat  = "Error: %s"
)

var (
	// ErrNoSpeechCapability is returned by New when there is no engine.
	ErrNoSpeechCapability = errors.New("speech synthesis not supported")
	// ErrNoContent is returned by Start when the page has nothing readable.
	ErrNoContent = errors.New("no content found to read aloud")
)

// View reflects controller state into the page.
type View interface {
	Reflect(state core.PlaybackState)
	Announce(message string)
	Open()
	Close()
	Alert(message string)
}

// Observer receives playback events, e.g. for metrics.
type Observer interface {
	PlaybackStarted(chunks int)
	ChunkSpoken()
	PlaybackFinished()
	PlaybackFailed(reason string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxChunkLength sets the chunk length limit.
func WithMaxChunkLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxChunkLength = n
		}
	}
}

// WithVoiceWait sets the voice list timeout.
func WithVoiceWait(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.voiceWait = d
		}
	}
}

// WithObserver registers an observer. Every registered observer receives
// every event.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o == nil {
			return
		}

		switch existing := c.observer.(type) {
		case nopObserver:
			c.observer = o
		case fanout:
			c.observer = append(existing, o)
		default:
			c.observer = fanout{existing, o}
		}
	}
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State  core.PlaybackState
	Chunks int
	Cursor int
}

type session struct {
	id     string
	chunks []string
	cursor int
	done   chan struct{}
}

// Controller is the playback state machine.
type Controller struct {
	engine   core.Engine
	source   core.ContentSource
	view     View
	log      *logger.Logger
	observer Observer

	maxChunkLength int
	voiceWait      time.Duration

	voicesReady chan struct{}
	voicesOnce  sync.Once

	mu      sync.Mutex
	state   core.PlaybackState
	session *session
}

// New creates an idle controller. Whatever the engine was doing is cancelled
// first, since the engine outlives page views.
func New(
	engine core.Engine,
	source core.ContentSource,
	view View,
	log *logger.Logger,
	opts ...Option,
) (*Controller, error) {
	if engine == nil {
		view.Alert(MsgNotSupported)

		return nil, ErrNoSpeechCapability
	}

	engine.Cancel()

	c := &Controller{
		engine:         engine,
		source:         source,
		view:           view,
		log:            log,
		observer:       nopObserver{},
		maxChunkLength: text.DefaultMaxChunkLength,
		voiceWait:      DefaultVoiceWait,
		voicesReady:    make(chan struct{}),
		state:          core.StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	engine.OnVoicesChanged(c.markVoicesReady)

	if len(engine.Voices()) > 0 {
		c.markVoicesReady()
	}

	return c, nil
}

func (c *Controller) markVoicesReady() {
	c.voicesOnce.Do(func() { close(c.voicesReady) })
}

// Start begins reading the page. It is a no-op while playing and resumes when
// paused. ErrNoContent is returned, after alerting the user, when there is
// nothing to read.
func (c *Controller) Start(ctx context.Context) error {
	switch c.State() {
	case core.StatePlaying:
		return nil
	case core.StatePaused:
		c.Resume()

		return nil
	case core.StateIdle:
	}

	err := c.waitForVoices(ctx)
	if err != nil {
		return err
	}

	content := c.source.ReadableText()
	if strings.TrimSpace(content) == "" {
		c.view.Alert(MsgNoContent)

		return ErrNoContent
	}

	chunks := text.SplitIntoChunks(content, c.maxChunkLength)

	c.mu.Lock()
	if c.state != core.StateIdle {
		c.mu.Unlock()

		return nil
	}

	sess := &session{id: uuid.NewString(), chunks: chunks, done: make(chan struct{})}
	c.session = sess
	c.state = core.StatePlaying
	c.mu.Unlock()

	c.log.Info("Starting playback session %s with %d chunks", sess.id, len(chunks))
	c.observer.PlaybackStarted(len(chunks))
	c.view.Open()
	c.view.Reflect(core.StatePlaying)
	c.speak(sess)

	return nil
}

// waitForVoices returns once voices are known, the wait times out, or ctx ends.
// A timeout is not an error: the engine default voice applies.
func (c *Controller) waitForVoices(ctx context.Context) error {
	select {
	case <-c.voicesReady:
		return nil
	default:
	}

	timer := time.NewTimer(c.voiceWait)
	defer timer.Stop()

	select {
	case <-c.voicesReady:
	case <-timer.C:
		c.log.Warn("Voice list not loaded after %s, using engine default", c.voiceWait)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// speak submits the chunk at the session cursor.
func (c *Controller) speak(sess *session) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()

		return
	}

	index := sess.cursor
	utterance := &core.Utterance{
		Text:  sess.chunks[index],
		Rate:  NormalRate,
		Index: index,
		Total: len(sess.chunks),
	}
	c.mu.Unlock()

	if selected, ok := voice.Select(c.engine.Voices()); ok {
		utterance.Voice = &selected
	}

	utterance.OnStart = func() { c.handleStart(sess, index) }
	utterance.OnEnd = func() { c.handleEnd(sess, index) }
	utterance.OnPause = func() { c.handlePause(sess, index) }
	utterance.OnResume = func() { c.handleResume(sess, index) }
	utterance.OnError = func(reason string) { c.handleError(sess, index, reason) }

	c.engine.Speak(utterance)
}

// current reports whether a callback for chunk index of sess is still live.
// Callers hold c.mu.
func (c *Controller) current(sess *session, index int) bool {
	return c.session == sess && sess.cursor == index
}

func (c *Controller) handleStart(sess *session, index int) {
	c.mu.Lock()
	if !c.current(sess, index) || index != 0 {
		c.mu.Unlock()

		return
	}

	c.state = core.StatePlaying
	c.mu.Unlock()

	c.view.Reflect(core.StatePlaying)
	c.view.Announce(MsgPlaying)
}

func (c *Controller) handleEnd(sess *session, index int) {
	c.mu.Lock()
	if !c.current(sess, index) {
		c.mu.Unlock()

		return
	}

	sess.cursor++
	if sess.cursor < len(sess.chunks) {
		c.mu.Unlock()
		c.observer.ChunkSpoken()
		c.speak(sess)

		return
	}

	c.endSessionLocked()
	c.mu.Unlock()

	c.log.Info("Finished playback session %s", sess.id)
	c.observer.ChunkSpoken()
	c.observer.PlaybackFinished()
	c.view.Reflect(core.StateIdle)
	c.view.Announce(MsgFinished)
}

func (c *Controller) handlePause(sess *session, index int) {
	c.mu.Lock()
	if !c.current(sess, index) {
		c.mu.Unlock()

		return
	}

	c.state = core.StatePaused
	c.mu.Unlock()

	c.view.Reflect(core.StatePaused)
	c.view.Announce(MsgPaused)
}

func (c *Controller) handleResume(sess *session, index int) {
	c.mu.Lock()
	if !c.current(sess, index) {
		c.mu.Unlock()

		return
	}

	c.state = core.StatePlaying
	c.mu.Unlock()

	c.view.Reflect(core.StatePlaying)
	c.view.Announce(MsgPlaying)
}

func (c *Controller) handleError(sess *session, index int, reason string) {
	c.mu.Lock()
	if !c.current(sess, index) {
		c.mu.Unlock()

		return
	}

	c.endSessionLocked()
	c.mu.Unlock()

	if reason == core.ErrorInterrupted {
		c.view.Reflect(core.StateIdle)

		return
	}

	c.log.Error("Speech engine error in session %s at chunk %d: %s", sess.id, index, reason)
	c.observer.PlaybackFailed(reason)
	c.view.Announce(fmt.Sprintf(msgErrorFormat, reason))
	c.view.Reflect(core.StateIdle)
}

// endSessionLocked clears the session and returns to idle. Callers hold c.mu.
func (c *Controller) endSessionLocked() {
	if c.session != nil {
		close(c.session.done)
		c.session = nil
	}

	c.state = core.StateIdle
}

// Pause pauses playback. It does nothing unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != core.StatePlaying {
		c.mu.Unlock()

		return
	}

	c.state = core.StatePaused
	c.mu.Unlock()

	c.engine.Pause()
	c.view.Reflect(core.StatePaused)
}

// Resume continues paused playback. It does nothing unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != core.StatePaused {
		c.mu.Unlock()

		return
	}

	c.state = core.StatePlaying
	c.mu.Unlock()

	c.engine.Resume()
	c.view.Reflect(core.StatePlaying)
}

// Stop cancels playback from any state and discards the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.endSessionLocked()
	c.mu.Unlock()

	c.engine.Cancel()
	c.view.Reflect(core.StateIdle)
}

// Close stops playback and hides the player.
func (c *Controller) Close() {
	c.Stop()
	c.view.Close()
}

// Teardown is called when the page is about to be replaced.
func (c *Controller) Teardown() {
	c.Close()
}

// TogglePlayPause pauses, resumes or starts depending on the current state.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	switch c.State() {
	case core.StatePlaying:
		c.Pause()
	case core.StatePaused:
		c.Resume()
	case core.StateIdle:
		return c.Start(ctx)
	}

	return nil
}

// IsPlaying reports whether the controller is playing.
func (c *Controller) IsPlaying() bool {
	return c.State() == core.StatePlaying
}

// State returns the current state.
func (c *Controller) State() core.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Snapshot returns the state, chunk count and cursor.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{State: c.state}
	if c.session != nil {
		snap.Chunks = len(c.session.chunks)
		snap.Cursor = c.session.cursor
	}

	return snap
}

// Wait blocks until the current session ends or ctx is done. It returns
// immediately when there is no session.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopObserver struct{}

func (nopObserver) PlaybackStarted(int)   {}
func (nopObserver) ChunkSpoken()          {}
func (nopObserver) PlaybackFinished()     {}
func (nopObserver) PlaybackFailed(string) {}

type fanout []Observer

func (f fanout) PlaybackStarted(chunks int) {
	for _, o := range f {
		o.PlaybackStarted(chunks)
	}
}

func (f fanout) ChunkSpoken() {
	for _, o := range f {
		o.ChunkSpoken()
	}
}

func (f fanout) PlaybackFinished() {
	for _, o := range f {
		o.PlaybackFinished()
	}
}

func (f fanout) PlaybackFailed(reason string) {
	for _, o := range f {
		o.PlaybackFailed(reason)
	}
}
