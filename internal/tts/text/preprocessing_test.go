package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/readaloud/internal/tts/text"
)

type preprocessorTestCase struct {
	name     string
	input    string
	expected string
}

func runPreprocessorTests(t *testing.T, tests []preprocessorTestCase) {
	t.Helper()

	preprocessor := text.NewPreprocessor()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, preprocessor.PreprocessText(testCase.input))
		})
	}
}

func TestPreprocessor_PreprocessText_Basics(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "empty", input: "", expected: ""},
		{name: "blank", input: " \n\t ", expected: ""},
		{name: "adds period", input: "Hello world", expected: "Hello world."},
		{name: "keeps question mark", input: "Ready?", expected: "Ready?"},
		{name: "clause mark becomes period", input: "Items: a, b,", expected: "Items: a, b."},
		{name: "collapses whitespace", input: "line\n\n  two", expected: "line two."},
	})
}

func TestPreprocessor_PreprocessText_Abbreviations(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Mr", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "Dr", input: "Dr. Johnson", expected: "Doctor Johnson."},
		{name: "multiple", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "Latin", input: "Fruit, e.g. apples", expected: "Fruit, for example apples."},
	})
}

func TestPreprocessor_PreprocessText_Numbers(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "single digit", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "teen", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "round tens", input: "Chapter 20.", expected: "Chapter twenty."},
		{name: "thousands", input: "Year 1234.", expected: "Year one thousand two hundred thirty four."},
	})
}

func TestPreprocessor_PreprocessText_Typography(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "repeated marks", input: "Wait!!! Really??", expected: "Wait! Really?"},
		{name: "ellipsis kept", input: "Loading...", expected: "Loading..."},
		{name: "ellipsis character", input: "Well…", expected: "Well..."},
		{name: "smart quotes", input: "It’s “quoted”", expected: `It's "quoted".`},
	})
}

func TestIntegerToWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    int
		expected string
	}{
		{input: 0, expected: "zero"},
		{input: 9, expected: "nine"},
		{input: 42, expected: "forty two"},
		{input: 100, expected: "one hundred"},
		{input: 305, expected: "three hundred five"},
		{input: 21000, expected: "twenty one thousand"},
		{input: text.MaxNumberForWords, expected: "nine hundred ninety nine thousand nine hundred ninety nine"},
		{input: text.MaxNumberForWords + 1, expected: "1000000"},
		{input: -1, expected: "-1"},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.expected, text.IntegerToWords(testCase.input), "input %d", testCase.input)
	}
}
