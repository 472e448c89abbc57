package ui

import (
	"math"
	"strconv"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/book-expert/readaloud/internal/dom"
)

const (
	rulerScale       = 1.2
	rulerKeyStep     = 10.0
	navPadding       = "40px"
	classRulerActive = "reading-ruler-active"

	// SelRuler is the ruler overlay container.
	SelRuler = ".reading-ruler-container"
	// SelRulerHandle is the draggable handle of the ruler.
	SelRulerHandle = ".reading-ruler-handle"

	selHeaderNav = "#header nav"

	styleRounding = 10000
)

var textSizeScales = map[string]float64{
	"xs":   0.875,
	"sm":   0.9375,
	"base": 1,
	"lg":   1.125,
	"xl":   1.25,
}

var lineHeightScales = map[string]float64{
	"compact": 1.2,
	"normal":  1.5,
	"relaxed": 2.0,
}

// Preferences are the accessibility settings the reading ruler depends on.
type Preferences struct {
	TextSize     string `toml:"text_size"`
	LineHeight   string `toml:"line_height"`
	ReadingRuler bool   `toml:"reading_ruler"`
}

// RulerHeightEm returns the ruler height in em. Unknown settings count as
// base text size and normal line height.
func RulerHeightEm(prefs Preferences) float64 {
	textScale, ok := textSizeScales[prefs.TextSize]
	if !ok {
		textScale = textSizeScales["base"]
	}

	lineScale, ok := lineHeightScales[prefs.LineHeight]
	if !ok {
		lineScale = lineHeightScales["normal"]
	}

	return textScale * lineScale * rulerScale
}

// Ruler is the reading ruler overlay. The overlay belongs to one page: it is
// removed before every page swap and restored on the next page load when the
// preference is on.
type Ruler struct {
	doc      *dom.Document
	viewport float64
	fontSize float64

	mu      sync.Mutex
	prefs   Preferences
	enabled bool
	top     float64
}

// NewRuler creates a ruler for a viewport of the given height in pixels and a
// root font size in pixels.
func NewRuler(doc *dom.Document, prefs Preferences, viewport, fontSize float64) *Ruler {
	return &Ruler{doc: doc, prefs: prefs, viewport: viewport, fontSize: fontSize}
}

// Apply turns the ruler on or off and records the preference.
func (r *Ruler) Apply(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prefs.ReadingRuler = enabled
	if enabled {
		r.enableLocked()
	} else {
		r.disableLocked()
	}
}

// Restore recreates the ruler on a freshly loaded page when the preference is on.
func (r *Ruler) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.prefs.ReadingRuler {
		r.enableLocked()
	}
}

// SetPreferences updates the sizing inputs and resizes a visible ruler.
func (r *Ruler) SetPreferences(prefs Preferences) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefs.ReadingRuler = r.prefs.ReadingRuler
	r.prefs = prefs

	if r.enabled {
		r.positionLocked(r.top)
	}
}

// Enabled reports whether the overlay is present.
func (r *Ruler) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.enabled
}

// Top returns the ruler offset from the top of the viewport in pixels.
func (r *Ruler) Top() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.top
}

// HeightPx returns the current ruler height in pixels.
func (r *Ruler) HeightPx() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.heightPxLocked()
}

func (r *Ruler) heightPxLocked() float64 {
	return RulerHeightEm(r.prefs) * r.fontSize
}

// MoveTo positions the ruler, clamped to the viewport.
func (r *Ruler) MoveTo(top float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		r.positionLocked(top)
	}
}

// HandleKey moves a focused ruler with the arrow keys. It reports whether the
// key was consumed.
func (r *Ruler) HandleKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return false
	}

	switch key {
	case "ArrowUp":
		r.positionLocked(r.top - rulerKeyStep)
	case "ArrowDown":
		r.positionLocked(r.top + rulerKeyStep)
	default:
		return false
	}

	return true
}

// Teardown removes the overlay before the page is swapped out. The preference
// is kept.
func (r *Ruler) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	r.doc.Update(func(root *html.Node) {
		dom.Remove(dom.Find(root, SelRuler))
	})

	r.enabled = false
	r.top = 0
}

func (r *Ruler) enableLocked() {
	if r.enabled {
		return
	}

	created := false

	r.doc.Update(func(root *html.Node) {
		body := dom.Find(root, "body")
		if body == nil {
			return
		}

		created = true

		container := dom.NewElement(atom.Div, "reading-ruler-container")
		container.AppendChild(dom.NewElement(atom.Div, "reading-ruler-handle",
			html.Attribute{Key: "aria-label", Val: "Drag to reposition reading ruler"},
			html.Attribute{Key: "role", Val: "slider"},
			html.Attribute{Key: "aria-orientation", Val: "vertical"},
			html.Attribute{Key: "tabindex", Val: "0"},
		))
		container.AppendChild(dom.NewElement(atom.Div, "reading-ruler-highlight"))
		body.AppendChild(container)

		dom.AddClass(body, classRulerActive)

		for _, nav := range dom.FindAll(root, selHeaderNav) {
			dom.SetStyle(nav, "padding-left", navPadding)
		}
	})

	if !created {
		return
	}

	r.enabled = true
	r.positionLocked((r.viewport - r.heightPxLocked()) / 2)
}

func (r *Ruler) disableLocked() {
	if !r.enabled {
		return
	}

	r.doc.Update(func(root *html.Node) {
		dom.Remove(dom.Find(root, SelRuler))

		if body := dom.Find(root, "body"); body != nil {
			dom.RemoveClass(body, classRulerActive)
		}

		for _, nav := range dom.FindAll(root, selHeaderNav) {
			dom.SetStyle(nav, "padding-left", "")
		}
	})

	r.enabled = false
	r.top = 0
}

// positionLocked clamps top to [0, viewport-height] and writes size and
// position to the overlay.
func (r *Ruler) positionLocked(top float64) {
	height := r.heightPxLocked()
	top = max(0, min(r.viewport-height, top))
	r.top = top

	r.doc.Update(func(root *html.Node) {
		container := dom.Find(root, SelRuler)
		if container == nil {
			return
		}

		dom.SetStyle(container, "height", formatFloat(RulerHeightEm(r.prefs))+"em")
		dom.SetStyle(container, "top", formatFloat(top)+"px")
	})
}

// formatFloat writes v for a style value, rounded to four decimals.
func formatFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*styleRounding)/styleRounding, 'f', -1, 64)
}
