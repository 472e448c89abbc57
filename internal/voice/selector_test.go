package voice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/voice"
)

func TestPriorityTable_ScoresUniqueAndIncreasing(t *testing.T) {
	t.Parallel()

	table := voice.PriorityTable()
	require.NotEmpty(t, table)

	seen := make(map[int]string, len(table))

	for i, entry := range table {
		require.NotEmpty(t, entry.Name)

		other, dup := seen[entry.Score]
		require.False(t, dup, "score %d shared by %q and %q", entry.Score, other, entry.Name)
		seen[entry.Score] = entry.Name

		if i > 0 {
			assert.Greater(t, entry.Score, table[i-1].Score, "entry %q out of order", entry.Name)
		}
	}
}

func TestSelect_NoVoices(t *testing.T) {
	t.Parallel()

	_, ok := voice.Select(nil)
	assert.False(t, ok)

	_, ok = voice.Select([]core.Voice{{Name: "Thomas", Lang: "fr-FR"}})
	assert.False(t, ok, "non-English voices are never selected")
}

func TestSelect_Deterministic(t *testing.T) {
	t.Parallel()

	available := []core.Voice{
		{Name: "Unknown One", Lang: "en-US"},
		{Name: "Unknown Two", Lang: "en-US"},
		{Name: "Daniel", Lang: "en-GB"},
		{Name: "Samantha", Lang: "en-US"},
	}

	first, ok := voice.Select(available)
	require.True(t, ok)

	for range 10 {
		again, ok := voice.Select(available)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, "Daniel", first.Name)
}

func TestSelect_TableDominatesFallback(t *testing.T) {
	t.Parallel()

	listed := core.Voice{Name: "Gordon", Lang: "en-US"}
	unlisted := core.Voice{Name: "Best Female Serena Voice", Lang: "en-GB"}

	got, ok := voice.Select([]core.Voice{unlisted, listed})
	require.True(t, ok)
	assert.Equal(t, "Gordon", got.Name)

	got, ok = voice.Select([]core.Voice{listed, unlisted})
	require.True(t, ok)
	assert.Equal(t, "Gordon", got.Name)
}

func TestSelect_MatchesAlternateNames(t *testing.T) {
	t.Parallel()

	android := core.Voice{Name: "Android Speech Recognition and Synthesis from Google en-gb-x-gba-network", Lang: "en-GB"}
	other := core.Voice{Name: "Google UK English Male", Lang: "en-GB"}

	got, ok := voice.Select([]core.Voice{other, android})
	require.True(t, ok)
	assert.Equal(t, android.Name, got.Name)
	assert.Equal(t, 3, voice.NewSelector(voice.PriorityTable()).Score(android))
}

func TestSelect_DedupePrefersPrimaryVariant(t *testing.T) {
	t.Parallel()

	us := core.Voice{Name: "Shared Voice", Lang: "en-US", URI: "us"}
	gb := core.Voice{Name: "Shared Voice", Lang: "en-GB", URI: "gb"}

	got, ok := voice.Select([]core.Voice{us, gb})
	require.True(t, ok)
	assert.Equal(t, "gb", got.URI)

	got, ok = voice.Select([]core.Voice{gb, us})
	require.True(t, ok)
	assert.Equal(t, "gb", got.URI)
}

func TestSelect_FallsBackToAnyEnglish(t *testing.T) {
	t.Parallel()

	available := []core.Voice{
		{Name: "Amelie", Lang: "fr-CA"},
		{Name: "Generic Aussie", Lang: "en-AU"},
	}

	got, ok := voice.Select(available)
	require.True(t, ok)
	assert.Equal(t, "Generic Aussie", got.Name)
}

func TestSelect_RegionalVariantsShadowOtherEnglish(t *testing.T) {
	t.Parallel()

	available := []core.Voice{
		{Name: "Karen", Lang: "en-AU"},
		{Name: "Some US Voice", Lang: "en-US"},
	}

	got, ok := voice.Select(available)
	require.True(t, ok)
	assert.Equal(t, "Some US Voice", got.Name, "en-AU voices are filtered out when en-GB/en-US exist")
}

func TestFallbackScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		voice core.Voice
		want  int
	}{
		{name: "primary variant", voice: core.Voice{Name: "Plain", Lang: "en-GB"}, want: 0},
		{name: "secondary variant", voice: core.Voice{Name: "Plain", Lang: "en-US"}, want: 1000},
		{name: "other english", voice: core.Voice{Name: "Plain", Lang: "en-IE"}, want: 2000},
		{name: "other language", voice: core.Voice{Name: "Plain", Lang: "de-DE"}, want: 5000},
		{name: "gender marker", voice: core.Voice{Name: "UK Female", Lang: "en-GB"}, want: -500},
		{name: "first preferred name", voice: core.Voice{Name: "Serena Premium", Lang: "en-US"}, want: 900},
		{name: "last preferred name", voice: core.Voice{Name: "Libby Neural", Lang: "en-US"}, want: 960},
		{name: "both bonuses", voice: core.Voice{Name: "Kate Female", Lang: "en-GB"}, want: -590},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, voice.FallbackScore(testCase.voice))
		})
	}
}

func TestSelect_FirstEncounteredWinsTies(t *testing.T) {
	t.Parallel()

	available := []core.Voice{
		{Name: "Alpha", Lang: "en-US"},
		{Name: "Beta", Lang: "en-US"},
	}

	got, ok := voice.Select(available)
	require.True(t, ok)
	assert.Equal(t, "Alpha", got.Name)
}

func TestParseTable_Invalid(t *testing.T) {
	t.Parallel()

	_, err := voice.ParseTable([]byte("- name: [unclosed"))
	require.Error(t, err)
}
