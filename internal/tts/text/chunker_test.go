package text_test

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/readaloud/internal/tts/text"
)

var whitespace = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func sentence(length int) string {
	body := strings.Repeat("word ", length/5)

	return strings.TrimSpace(body[:length-1]) + "."
}

func requireChunkInvariants(t *testing.T, input string, chunks []string, maxLength int) {
	t.Helper()

	for i, chunk := range chunks {
		require.NotEmpty(t, chunk, "chunk %d is empty", i)
		assert.Equal(t, strings.TrimSpace(chunk), chunk, "chunk %d not trimmed", i)

		if utf8.RuneCountInString(chunk) > maxLength {
			assert.NotContains(t, chunk, " ", "oversized chunk %d must be a single word", i)
		}
	}

	assert.Equal(t, normalize(input), strings.Join(chunks, " "))
}

func TestSplitIntoChunks_ShortTextIsOneChunk(t *testing.T) {
	t.Parallel()

	chunks := text.SplitIntoChunks("  Hello. World.  ", text.DefaultMaxChunkLength)
	assert.Equal(t, []string{"Hello. World."}, chunks)
}

func TestSplitIntoChunks_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, text.SplitIntoChunks("", 10))
	assert.Empty(t, text.SplitIntoChunks(" \n ", 10))
}

func TestSplitIntoChunks_SentenceBoundaries(t *testing.T) {
	t.Parallel()

	input := sentence(400) + " " + sentence(400) + " " + sentence(400)
	require.Equal(t, 1202, utf8.RuneCountInString(input))

	chunks := text.SplitIntoChunks(input, text.DefaultMaxChunkLength)
	require.Len(t, chunks, 3)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), text.DefaultMaxChunkLength)
		assert.True(t, strings.HasSuffix(chunk, "."))
	}

	requireChunkInvariants(t, input, chunks, text.DefaultMaxChunkLength)
}

func TestSplitIntoChunks_GreedyAccumulation(t *testing.T) {
	t.Parallel()

	chunks := text.SplitIntoChunks("One. Two. Three. Four.", 10)
	assert.Equal(t, []string{"One. Two.", "Three.", "Four."}, chunks)
}

func TestSplitIntoChunks_ClauseFallback(t *testing.T) {
	t.Parallel()

	input := "alpha beta, gamma delta; epsilon zeta: eta theta."
	chunks := text.SplitIntoChunks(input, 25)

	assert.Equal(t, []string{"alpha beta, gamma delta;", "epsilon zeta: eta theta."}, chunks)
	requireChunkInvariants(t, input, chunks, 25)
}

func TestSplitIntoChunks_WordFallback(t *testing.T) {
	t.Parallel()

	input := "one two three four five six seven eight nine ten"
	chunks := text.SplitIntoChunks(input, 12)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 12)
	}

	requireChunkInvariants(t, input, chunks, 12)
}

func TestSplitIntoChunks_OversizedWordPassesWhole(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 30)
	input := "short " + long + " tail"
	chunks := text.SplitIntoChunks(input, 10)

	assert.Equal(t, []string{"short", long, "tail"}, chunks)
}

func TestSplitIntoChunks_CountsRunes(t *testing.T) {
	t.Parallel()

	input := "Ünïcödé wörds. Ünïcödé wörds."
	chunks := text.SplitIntoChunks(input, 15)

	assert.Equal(t, []string{"Ünïcödé wörds.", "Ünïcödé wörds."}, chunks)
}

func TestSplitIntoChunks_DefaultLength(t *testing.T) {
	t.Parallel()

	input := sentence(300) + " " + sentence(300)

	assert.Len(t, text.SplitIntoChunks(input, 0), 2)
}

func TestSplitIntoChunks_Properties(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"A first sentence! A second one? And a third, with clauses; several: of them.",
		strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40),
		strings.Repeat("nopunctuation ", 200),
		"Line one.\n\nLine   two.\tLine three",
	}

	for _, maxLength := range []int{15, 40, 120, text.DefaultMaxChunkLength} {
		for _, input := range inputs {
			chunks := text.SplitIntoChunks(input, maxLength)
			requireChunkInvariants(t, input, chunks, maxLength)
		}
	}
}
