// Package lifecycle boots the read-aloud subsystem lazily and keeps it
// consistent across client-side page transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/dom"
	"github.com/book-expert/readaloud/internal/player"
	"github.com/book-expert/readaloud/internal/ui"
)

// DefaultWarmup is the pause after building the controller that lets
// asynchronously loading voice lists settle.
const DefaultWarmup = 100 * time.Millisecond

// MsgLoadFailed is shown when the inline fallback load fails.
const MsgLoadFailed = "Failed to load text-to-speech. Please try again."

const loadKey = "readaloud"

// ErrLoadFailed wraps every failure to build the playback controller.
var ErrLoadFailed = errors.New("failed to load text-to-speech")

// Loader builds the playback controller.
type Loader func(ctx context.Context) (*player.Controller, error)

// EngineLoader returns a Loader that pre-warms engine when it supports it and
// then builds a controller over it.
func EngineLoader(
	engine core.Engine,
	source core.ContentSource,
	view player.View,
	log *logger.Logger,
	opts ...player.Option,
) Loader {
	return func(ctx context.Context) (*player.Controller, error) {
		if prewarmer, ok := engine.(core.Prewarmer); ok {
			prewarmer.Prewarm(ctx)
		}

		controller, err := player.New(engine, source, view, log, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create playback controller: %w", err)
		}

		return controller, nil
	}
}

// Manager owns the module state and the single controller instance, which
// survives page transitions once built.
type Manager struct {
	doc    *dom.Document
	binder *ui.Binder
	ruler  *ui.Ruler
	log    *logger.Logger
	loader Loader
	warmup time.Duration
	group  singleflight.Group

	mu          sync.Mutex
	state       core.ModuleState
	controller  *player.Controller
	panelOpened bool
}

// NewManager creates an idle manager. ruler may be nil.
func NewManager(
	doc *dom.Document,
	binder *ui.Binder,
	ruler *ui.Ruler,
	loader Loader,
	log *logger.Logger,
	warmup time.Duration,
) *Manager {
	return &Manager{
		doc:    doc,
		binder: binder,
		ruler:  ruler,
		log:    log,
		loader: loader,
		warmup: warmup,
		state:  core.ModuleIdle,
	}
}

// State returns the module state.
func (m *Manager) State() core.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Controller returns the playback controller, or nil before it is built.
func (m *Manager) Controller() *player.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.controller
}

func (m *Manager) setState(state core.ModuleState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.binder.ReflectModuleState(state)
}

// PanelOpened activates the subsystem the first time the accessibility panel
// opens: the player template is reset, toggle buttons are bound and loading
// starts in the background so it is done before the first play request.
func (m *Manager) PanelOpened(ctx context.Context) {
	m.mu.Lock()
	if m.panelOpened {
		m.mu.Unlock()

		return
	}

	m.panelOpened = true
	m.mu.Unlock()

	m.binder.ResetPlayer()
	m.binder.OnToggle(m.Toggle)

	go func() {
		err := m.Preload(ctx)
		if err != nil {
			m.log.Warn("Background preload failed: %v", err)
		}
	}()
}

// Preload builds the controller once. Concurrent callers share one load; a
// ready module returns at once.
func (m *Manager) Preload(ctx context.Context) error {
	if m.State() == core.ModuleReady {
		return nil
	}

	_, err, _ := m.group.Do(loadKey, func() (any, error) {
		if m.State() == core.ModuleReady {
			return nil, nil
		}

		return nil, m.load(ctx, m.warmup)
	})

	return err
}

func (m *Manager) load(ctx context.Context, warmup time.Duration) error {
	m.setState(core.ModuleLoading)

	// A controller built by an earlier load that failed during warmup is kept.
	if m.Controller() == nil {
		controller, err := m.loader(ctx)
		if err != nil {
			m.log.Error("Failed to load text-to-speech: %v", err)
			m.setState(core.ModuleError)

			return fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}

		m.binder.Attach(controller)

		m.mu.Lock()
		m.controller = controller
		m.mu.Unlock()
	}

	if warmup > 0 {
		timer := time.NewTimer(warmup)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			m.setState(core.ModuleError)

			return fmt.Errorf("%w: %w", ErrLoadFailed, ctx.Err())
		}
	}

	m.setState(core.ModuleReady)
	m.log.Info("Text-to-speech module ready")

	return nil
}

// Toggle handles a read-aloud button press. A ready module closes a visible
// player or starts playback; a loading module ignores the press; otherwise the
// module is loaded inline and playback starts, alerting the user on failure.
func (m *Manager) Toggle(ctx context.Context) error {
	m.mu.Lock()
	state, controller := m.state, m.controller
	m.mu.Unlock()

	if state == core.ModuleLoading {
		return nil
	}

	if controller != nil {
		return m.openOrClose(ctx, controller)
	}

	_, err, _ := m.group.Do(loadKey, func() (any, error) {
		return nil, m.load(ctx, 0)
	})
	if err != nil {
		m.binder.Alert(MsgLoadFailed)

		return err
	}

	controller = m.Controller()
	if controller == nil {
		return ErrLoadFailed
	}

	return controller.Start(ctx)
}

func (m *Manager) openOrClose(ctx context.Context, controller *player.Controller) error {
	if m.binder.PlayerVisible() {
		controller.Close()

		return nil
	}

	return controller.Start(ctx)
}

// BeforePreparation runs when a page transition begins: playback is paused so
// it does not narrate a page that is about to go away.
func (m *Manager) BeforePreparation() {
	controller := m.Controller()
	if controller != nil && controller.IsPlaying() {
		controller.Pause()
	}
}

// BeforeSwap runs right before the document is replaced.
func (m *Manager) BeforeSwap() {
	if m.ruler != nil {
		m.ruler.Teardown()
	}
}

// PageLoad runs after a new page is in place. The controller is kept but torn
// down; a module that never became ready goes back to idle.
func (m *Manager) PageLoad() {
	m.binder.ResetPlayer()

	if m.State() != core.ModuleReady {
		m.setState(core.ModuleIdle)
	}

	if controller := m.Controller(); controller != nil {
		controller.Teardown()
	}

	if m.ruler != nil {
		m.ruler.Restore()
	}
}

// Navigate performs a client-side transition to the page rooted at root.
func (m *Manager) Navigate(root *html.Node) {
	m.BeforePreparation()
	m.BeforeSwap()
	m.doc.Swap(root)
	m.PageLoad()
}
