package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkLength is the utterance length, in characters, above which some
// speech engines fail silently.
const DefaultMaxChunkLength = 500

// Split levels, coarsest first. Each delimiter stays attached to the piece before it.
var splitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[.!?]+\s+`),
	regexp.MustCompile(`[,;:]\s+`),
	regexp.MustCompile(`\s+`),
}

var whitespaceRun = regexp.MustCompile(whitespaceRegexPattern)

// SplitIntoChunks breaks text into chunks of at most maxLength characters,
// preferring sentence boundaries, then clause punctuation, then word breaks. A
// single word longer than maxLength becomes a chunk of its own. Joining the
// chunks with single spaces yields the input with whitespace runs collapsed.
// A non-positive maxLength selects DefaultMaxChunkLength.
func SplitIntoChunks(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxChunkLength
	}

	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if normalized == "" {
		return nil
	}

	acc := &accumulator{maxLength: maxLength}

	for _, piece := range splitKeep(normalized, splitPatterns[0]) {
		acc.add(piece, 1)
	}

	acc.flush()

	return acc.chunks
}

type accumulator struct {
	maxLength int
	chunks    []string
	current   strings.Builder
	length    int
}

// add appends piece to the current chunk, starting a new chunk when it does not
// fit and splitting it at the given level when it is too long on its own.
func (a *accumulator) add(piece string, level int) {
	size := utf8.RuneCountInString(piece)
	if a.length+size <= a.maxLength {
		a.append(piece, size)

		return
	}

	a.flush()

	if size > a.maxLength && level < len(splitPatterns) {
		for _, sub := range splitKeep(piece, splitPatterns[level]) {
			a.add(sub, level+1)
		}

		return
	}

	a.append(piece, size)
}

func (a *accumulator) append(piece string, size int) {
	a.current.WriteString(piece)
	a.length += size
}

func (a *accumulator) flush() {
	chunk := strings.TrimSpace(a.current.String())
	if chunk != "" {
		a.chunks = append(a.chunks, chunk)
	}

	a.current.Reset()
	a.length = 0
}

// splitKeep splits text after every match of pattern.
func splitKeep(text string, pattern *regexp.Regexp) []string {
	matches := pattern.FindAllStringIndex(text, -1)
	pieces := make([]string, 0, len(matches)+1)
	start := 0

	for _, match := range matches {
		pieces = append(pieces, text[start:match[1]])
		start = match[1]
	}

	if start < len(text) {
		pieces = append(pieces, text[start:])
	}

	return pieces
}
