// Package text prepares extracted page text for a speech backend: it normalizes
// what a synthesizer tends to mispronounce and splits long text into chunks that
// stay under an engine's utterance length limit.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000

	// MaxNumberForWords is the largest integer spelled out; larger ones are read digit-wise by the backend.
	MaxNumberForWords = 999999
)

const (
	numberRegexPattern     = `\d+`
	whitespaceRegexPattern = `\s+`
)

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	}
	teenWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
)

// Preprocessor normalizes one utterance of text before synthesis.
type Preprocessor struct {
	numberPattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp

	abbreviations *strings.Replacer
	typography    *strings.Replacer
}

// NewPreprocessor creates a Preprocessor with its patterns compiled.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Ltd.", "Limited",
			"Inc.", "Incorporated",
			"e.g.", "for example",
			"i.e.", "that is",
		),
		typography: strings.NewReplacer(
			"—", " - ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText returns text ready to hand to a synthesizer. Empty or blank
// input yields an empty string.
func (p *Preprocessor) PreprocessText(text string) string {
	text = p.abbreviations.Replace(text)
	text = p.typography.Replace(text)
	text = p.numberPattern.ReplaceAllStringFunc(text, spellNumber)
	text = strings.TrimSpace(p.whitespacePattern.ReplaceAllString(text, " "))
	text = collapsePunctuation(text)

	return ensureSentenceEnding(text)
}

func spellNumber(digits string) string {
	num, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return IntegerToWords(num)
}

// collapsePunctuation keeps the first mark of a run of identical punctuation,
// except for the ellipsis.
func collapsePunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == last && char != '.' && unicode.IsPunct(char) {
			continue
		}

		builder.WriteRune(char)
		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	switch last, _ := utf8.DecodeLastRuneInString(text); last {
	case '.', '!', '?':
		return text
	case ',', ';', ':':
		return text[:len(text)-1] + "."
	default:
		return text + "."
	}
}

// IntegerToWords spells out integers from 0 to MaxNumberForWords in English.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	parts := make([]string, 0, 2)

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if rest := number % numberBaseThousand; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}

func underThousand(num int) string {
	if num < numberBaseHundred {
		return underHundred(num)
	}

	words := onesWords[num/numberBaseHundred] + " hundred"
	if rest := num % numberBaseHundred; rest > 0 {
		words += " " + underHundred(rest)
	}

	return words
}

func underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return onesWords[num]
	case num < numberBaseTwenty:
		return teenWords[num-numberBaseTen]
	case num%numberBaseTen == 0:
		return tensWords[num/numberBaseTen]
	default:
		return tensWords[num/numberBaseTen] + " " + onesWords[num%numberBaseTen]
	}
}
