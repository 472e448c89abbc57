// Package ui reflects playback and module state into the live page and routes
// page input back to the playback controls.
//
// Nothing here caches a node: every call resolves the elements it needs from
// the document's current root, because navigation swaps the whole tree.
package ui

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/net/html"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/dom"
)

// DefaultAnnounceClear is how long an announcement stays in the live region.
const DefaultAnnounceClear = time.Second

// Element selectors of the player template.
const (
	PlayerID        = "tts-player"
	StatusID        = "tts-status"
	TabStatusID     = "tts-tab-status"
	SelPlayPause    = ".tts-play-pause"
	SelStop         = ".tts-stop"
	SelClose        = ".tts-close"
	SelTab          = ".tts-tab"
	SelMinimize     = ".tts-minimize"
	SelControls     = ".tts-controls"
	SelLiveRegion   = `[role="status"]`
	SelToggle       = "[data-tts-toggle]"
	selScreenReader = ".sr-only"
	selSpinner      = ".tts-loading-spinner"
	selIcon         = ".tts-btn-icon"
)

// Attribute names and values.
const (
	attrHidden    = "aria-hidden"
	attrCollapsed = "data-collapsed"
	attrLabel     = "aria-label"
	attrPressed   = "aria-pressed"
	attrBusy      = "aria-busy"
	attrDisabled  = "disabled"
	valTrue       = "true"
	valFalse      = "false"
	displayShown  = "inline-block"
	displayHidden = "none"
)

// Status strings.
const (
	LabelPlay          = "Play"
	LabelPause         = "Pause"
	StatusListening    = "Listening to Page"
	StatusPaused       = "Paused"
	StatusStopped      = "Stopped"
	TabListening       = "Listening"
	LabelToggleIdle    = "Listen to this page"
	LabelToggleLoading = "Loading text-to-speech..."
	LabelToggleError   = "Text-to-speech failed to load. Click to retry."
	keyEscape          = "Escape"
)

// Controls is the subset of the playback controller driven by page input.
type Controls interface {
	TogglePlayPause(ctx context.Context) error
	Stop()
	Close()
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithAnnounceClear sets the live region clear delay.
func WithAnnounceClear(d time.Duration) BinderOption {
	return func(b *Binder) {
		b.announceClear = d
	}
}

// WithAlertSink routes blocking user messages to fn instead of the log.
func WithAlertSink(fn func(message string)) BinderOption {
	return func(b *Binder) {
		if fn != nil {
			b.alert = fn
		}
	}
}

// Binder binds the player template of a live document.
type Binder struct {
	doc           *dom.Document
	log           *logger.Logger
	announceClear time.Duration
	alert         func(message string)

	mu       sync.Mutex
	controls Controls
	toggle   func(ctx context.Context) error
}

// NewBinder creates a binder for doc.
func NewBinder(doc *dom.Document, log *logger.Logger, opts ...BinderOption) *Binder {
	b := &Binder{
		doc:           doc,
		log:           log,
		announceClear: DefaultAnnounceClear,
	}

	b.alert = func(message string) {
		b.log.Warn("Alert: %s", message)
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach sets the controls that player buttons drive.
func (b *Binder) Attach(controls Controls) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.controls = controls
}

// OnToggle sets the handler for [data-tts-toggle] buttons.
func (b *Binder) OnToggle(fn func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.toggle = fn
}

func (b *Binder) withPlayer(fn func(player *html.Node)) {
	b.doc.Update(func(root *html.Node) {
		if player := dom.ByID(root, PlayerID); player != nil {
			fn(player)
		}
	})
}

// Reflect updates the play/pause control and both status texts.
func (b *Binder) Reflect(state core.PlaybackState) {
	label, pressed := LabelPlay, valFalse
	status, tab := StatusStopped, StatusStopped

	switch state {
	case core.StatePlaying:
		label, pressed = LabelPause, valTrue
		status, tab = StatusListening, TabListening
	case core.StatePaused:
		status, tab = StatusPaused, StatusPaused
	case core.StateIdle:
	}

	b.withPlayer(func(player *html.Node) {
		if button := dom.Find(player, SelPlayPause); button != nil {
			dom.SetAttr(button, attrLabel, label)
			dom.SetAttr(button, attrPressed, pressed)

			if srText := dom.Find(button, selScreenReader); srText != nil {
				dom.SetTextContent(srText, label)
			}
		}

		if el := dom.ByID(player, StatusID); el != nil {
			dom.SetTextContent(el, status)
		}

		if el := dom.ByID(player, TabStatusID); el != nil {
			dom.SetTextContent(el, tab)
		}
	})
}

// Announce writes message into the live region and clears it after the
// configured delay, unless another message replaced it meanwhile.
func (b *Binder) Announce(message string) {
	found := false

	b.withPlayer(func(player *html.Node) {
		if region := dom.Find(player, SelLiveRegion); region != nil {
			dom.SetTextContent(region, message)

			found = true
		}
	})

	if !found {
		return
	}

	time.AfterFunc(b.announceClear, func() {
		b.withPlayer(func(player *html.Node) {
			region := dom.Find(player, SelLiveRegion)
			if region != nil && dom.TextContent(region) == message {
				dom.SetTextContent(region, "")
			}
		})
	})
}

// Open shows the player, collapsed to its tab.
func (b *Binder) Open() {
	b.withPlayer(func(player *html.Node) {
		dom.SetAttr(player, attrHidden, valFalse)
		dom.SetAttr(player, attrCollapsed, valTrue)
	})
}

// Close hides the player.
func (b *Binder) Close() {
	b.withPlayer(func(player *html.Node) {
		dom.SetAttr(player, attrHidden, valTrue)
	})
}

// Alert delivers a message the user must acknowledge.
func (b *Binder) Alert(message string) {
	b.alert(message)
}

// ResetPlayer returns the player template to its initial hidden state.
func (b *Binder) ResetPlayer() {
	b.withPlayer(func(player *html.Node) {
		dom.SetAttr(player, attrHidden, valTrue)
		dom.SetAttr(player, attrCollapsed, valFalse)

		if button := dom.Find(player, SelPlayPause); button != nil {
			dom.SetAttr(button, attrLabel, LabelPlay)
			dom.SetAttr(button, attrPressed, valFalse)
		}

		if el := dom.ByID(player, StatusID); el != nil {
			dom.SetTextContent(el, StatusListening)
		}
	})
}

// PlayerVisible reports whether the player is shown.
func (b *Binder) PlayerVisible() bool {
	visible := false

	b.withPlayer(func(player *html.Node) {
		hidden, _ := dom.Attr(player, attrHidden)
		visible = hidden == valFalse
	})

	return visible
}

// ReflectModuleState updates every read-aloud toggle button for the module state.
func (b *Binder) ReflectModuleState(state core.ModuleState) {
	label := LabelToggleIdle
	loading := state == core.ModuleLoading

	switch state {
	case core.ModuleLoading:
		label = LabelToggleLoading
	case core.ModuleError:
		label = LabelToggleError
	case core.ModuleIdle, core.ModuleReady:
	}

	b.doc.Update(func(root *html.Node) {
		for _, button := range dom.FindAll(root, SelToggle) {
			busy, spinner, icon := valFalse, displayHidden, displayShown
			if loading {
				busy, spinner, icon = valTrue, displayShown, displayHidden

				dom.SetAttr(button, attrDisabled, "")
			} else {
				dom.RemoveAttr(button, attrDisabled)
			}

			dom.SetAttr(button, attrBusy, busy)
			dom.SetAttr(button, attrLabel, label)

			if el := dom.Find(button, selSpinner); el != nil {
				dom.SetStyle(el, "display", spinner)
			}

			if el := dom.Find(button, selIcon); el != nil {
				dom.SetStyle(el, "display", icon)
			}
		}
	})
}

type action int

const (
	actionNone action = iota
	actionToggleModule
	actionPlayPause
	actionStop
	actionClose
	actionExpand
	actionCollapse
)

// Dispatch handles a click on the first element matching selector.
func (b *Binder) Dispatch(ctx context.Context, selector string) error {
	var act action

	b.doc.View(func(root *html.Node) {
		act = classify(dom.Find(root, selector))
	})

	return b.perform(ctx, act)
}

// HandleClick handles a click on target, which must belong to the current tree.
func (b *Binder) HandleClick(ctx context.Context, target *html.Node) error {
	var act action

	b.doc.View(func(*html.Node) {
		act = classify(target)
	})

	return b.perform(ctx, act)
}

// classify maps a click target to what it triggers. Clicks inside the control
// group never collapse or expand the player.
func classify(target *html.Node) action {
	switch {
	case target == nil:
		return actionNone
	case dom.Closest(target, SelToggle) != nil:
		return actionToggleModule
	case dom.Closest(target, SelPlayPause) != nil:
		return actionPlayPause
	case dom.Closest(target, SelStop) != nil:
		return actionStop
	case dom.Closest(target, SelClose) != nil:
		return actionClose
	case dom.Closest(target, SelControls) != nil:
		return actionNone
	case dom.Closest(target, SelTab) != nil:
		return actionExpand
	case dom.Closest(target, SelMinimize) != nil:
		return actionCollapse
	default:
		return actionNone
	}
}

func (b *Binder) perform(ctx context.Context, act action) error {
	b.mu.Lock()
	controls, toggle := b.controls, b.toggle
	b.mu.Unlock()

	switch act {
	case actionToggleModule:
		if toggle != nil {
			return toggle(ctx)
		}
	case actionPlayPause:
		if controls != nil {
			return controls.TogglePlayPause(ctx)
		}
	case actionStop:
		if controls != nil {
			controls.Stop()
		}
	case actionClose:
		if controls != nil {
			controls.Close()
		}
	case actionExpand:
		b.setCollapsed(valFalse)
	case actionCollapse:
		b.setCollapsed(valTrue)
	case actionNone:
	}

	return nil
}

func (b *Binder) setCollapsed(value string) {
	b.withPlayer(func(player *html.Node) {
		dom.SetAttr(player, attrCollapsed, value)
	})
}

// HandleKey handles a document-level key press. Escape closes a visible player.
func (b *Binder) HandleKey(key string) {
	if key != keyEscape || !b.PlayerVisible() {
		return
	}

	b.mu.Lock()
	controls := b.controls
	b.mu.Unlock()

	if controls != nil {
		controls.Close()
	}
}
