// Package voice picks the single best speech voice from whatever an engine offers.
//
// Selection is two-tiered: voices listed in the curated priority table always
// win, and anything unlisted is ranked by a language/name heuristic so that
// unknown platforms still get a sensible choice.
package voice

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/book-expert/readaloud/internal/core"
)

// Language tag prefixes, compared case-insensitively.
const (
	langPrimary   = "en-gb"
	langSecondary = "en-us"
	langBase      = "en"
)

// Fallback scoring constants.
const (
	// FallbackOffset lifts every heuristic score above every table score.
	FallbackOffset = 10000

	tierPrimary   = 0
	tierSecondary = 1000
	tierBase      = 2000
	tierOther     = 5000

	genderMarker      = "female"
	genderBonus       = 500
	preferredBonus    = 100
	preferredBonusDec = 10
)

// preferredNames are historically well-regarded voices; earlier names weigh more.
var preferredNames = []string{"serena", "kate", "susan", "fiona", "stephanie", "sonia", "libby"}

//go:embed voices.yaml
var priorityYAML []byte

// PriorityEntry ranks one voice identity. AltNames are the labels the same
// underlying voice carries on other platforms.
type PriorityEntry struct {
	Name     string   `yaml:"name"`
	AltNames []string `yaml:"alt_names"`
	Score    int      `yaml:"score"`
}

// matches reports whether the engine-reported name belongs to this entry.
func (e PriorityEntry) matches(name string) bool {
	if e.Name == name {
		return true
	}

	for _, alt := range e.AltNames {
		if alt == name {
			return true
		}
	}

	return false
}

var defaultSelector = NewSelector(mustParseTable(priorityYAML))

// ParseTable decodes a YAML priority table.
func ParseTable(data []byte) ([]PriorityEntry, error) {
	var table []PriorityEntry

	err := yaml.Unmarshal(data, &table)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voice priority table: %w", err)
	}

	return table, nil
}

func mustParseTable(data []byte) []PriorityEntry {
	table, err := ParseTable(data)
	if err != nil {
		panic(err)
	}

	return table
}

// PriorityTable returns a copy of the embedded priority table.
func PriorityTable() []PriorityEntry {
	return defaultSelector.Table()
}

// Select picks the best voice using the embedded priority table.
func Select(available []core.Voice) (core.Voice, bool) {
	return defaultSelector.Select(available)
}

// Selector ranks voices against a fixed priority table.
type Selector struct {
	table []PriorityEntry
}

// NewSelector creates a Selector over the given table.
func NewSelector(table []PriorityEntry) *Selector {
	return &Selector{table: table}
}

// Table returns a copy of the selector's priority table.
func (s *Selector) Table() []PriorityEntry {
	table := make([]PriorityEntry, len(s.table))
	copy(table, s.table)

	return table
}

// Select returns the lowest-scoring candidate. It reports false when no English
// voice is available, in which case callers leave the engine default in place.
// For a given input order the result is always the same.
func (s *Selector) Select(available []core.Voice) (core.Voice, bool) {
	candidates := dedupeByName(filterLanguage(available))
	if len(candidates) == 0 {
		return core.Voice{}, false
	}

	best := candidates[0]
	bestScore := s.Score(best)

	for _, candidate := range candidates[1:] {
		score := s.Score(candidate)
		if score < bestScore {
			best, bestScore = candidate, score
		}
	}

	return best, true
}

// Score returns the table score for listed voices and FallbackOffset plus the
// heuristic score for everything else.
func (s *Selector) Score(v core.Voice) int {
	for _, entry := range s.table {
		if entry.matches(v.Name) {
			return entry.Score
		}
	}

	return FallbackOffset + FallbackScore(v)
}

// FallbackScore ranks a voice missing from the table by language tier, gender
// marker and well-known names.
func FallbackScore(v core.Voice) int {
	lang := strings.ToLower(v.Lang)
	name := strings.ToLower(v.Name)

	var score int

	switch {
	case strings.HasPrefix(lang, langPrimary):
		score = tierPrimary
	case strings.HasPrefix(lang, langSecondary):
		score = tierSecondary
	case strings.HasPrefix(lang, langBase):
		score = tierBase
	default:
		score = tierOther
	}

	if strings.Contains(name, genderMarker) {
		score -= genderBonus
	}

	for i, preferred := range preferredNames {
		if strings.Contains(name, preferred) {
			score -= preferredBonus - i*preferredBonusDec

			break
		}
	}

	return score
}

// filterLanguage keeps the two regional variants, or any English voice when
// neither is present.
func filterLanguage(available []core.Voice) []core.Voice {
	regional := make([]core.Voice, 0, len(available))

	for _, v := range available {
		lang := strings.ToLower(v.Lang)
		if strings.HasPrefix(lang, langPrimary) || strings.HasPrefix(lang, langSecondary) {
			regional = append(regional, v)
		}
	}

	if len(regional) > 0 {
		return regional
	}

	english := make([]core.Voice, 0, len(available))

	for _, v := range available {
		if strings.HasPrefix(strings.ToLower(v.Lang), langBase) {
			english = append(english, v)
		}
	}

	return english
}

// dedupeByName keeps one voice per name, replacing an earlier entry only with a
// primary-variant one. First-seen order is preserved.
func dedupeByName(voices []core.Voice) []core.Voice {
	position := make(map[string]int, len(voices))
	unique := make([]core.Voice, 0, len(voices))

	for _, v := range voices {
		idx, seen := position[v.Name]
		if !seen {
			position[v.Name] = len(unique)
			unique = append(unique, v)

			continue
		}

		existing := strings.ToLower(unique[idx].Lang)
		if strings.HasPrefix(strings.ToLower(v.Lang), langPrimary) && !strings.HasPrefix(existing, langPrimary) {
			unique[idx] = v
		}
	}

	return unique
}
