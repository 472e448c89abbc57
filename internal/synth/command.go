package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/readaloud/internal/core"
)

// Argument placeholders substituted in the command arguments.
const (
	PlaceholderText   = "{text}"
	PlaceholderVoice  = "{voice}"
	PlaceholderOutput = "{output}"
)

// ErrCommandEmpty is returned when no binary is configured.
var ErrCommandEmpty = errors.New("synthesis command cannot be empty")

// CommandSynthesizer runs a local synthesis binary such as piper once per
// text. Text is passed through the {text} placeholder or, when no argument
// uses it, on stdin. Audio is read from the {output} file or, without one,
// from stdout.
type CommandSynthesizer struct {
	command string
	args    []string
	voices  []core.Voice
	log     *logger.Logger
}

var _ core.Synthesizer = (*CommandSynthesizer)(nil)

// NewCommandSynthesizer creates a synthesizer for command. voices is the fixed
// list reported to the engine.
func NewCommandSynthesizer(
	command string,
	args []string,
	voices []core.Voice,
	log *logger.Logger,
) (*CommandSynthesizer, error) {
	if command == "" {
		return nil, ErrCommandEmpty
	}

	return &CommandSynthesizer{
		command: command,
		args:    append([]string(nil), args...),
		voices:  append([]core.Voice(nil), voices...),
		log:     log,
	}, nil
}

// Voices returns the configured voices.
func (s *CommandSynthesizer) Voices(context.Context) ([]core.Voice, error) {
	return append([]core.Voice(nil), s.voices...), nil
}

// Synthesize runs the binary for text and returns the audio it produced.
func (s *CommandSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	outputPath := ""

	if s.usesPlaceholder(PlaceholderOutput) {
		tempFile, err := os.CreateTemp("", "readaloud-*.wav")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file for synthesis output: %w", err)
		}

		outputPath = tempFile.Name()
		_ = tempFile.Close()

		defer func() {
			removeErr := os.Remove(outputPath)
			if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				s.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
			}
		}()
	}

	replacer := strings.NewReplacer(
		PlaceholderText, text,
		PlaceholderVoice, voice,
		PlaceholderOutput, outputPath,
	)

	args := make([]string, len(s.args))
	for i, arg := range s.args {
		args[i] = replacer.Replace(arg)
	}

	// #nosec G204 -- the binary and its arguments come from configuration
	cmd := exec.CommandContext(ctx, s.command, args...)

	if !s.usesPlaceholder(PlaceholderText) {
		cmd.Stdin = strings.NewReader(text)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%s execution failed: %w - output: %s", s.command, err, stderr.String())
	}

	audioData := stdout.Bytes()

	if outputPath != "" {
		audioData, err = os.ReadFile(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
		}
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func (s *CommandSynthesizer) usesPlaceholder(placeholder string) bool {
	for _, arg := range s.args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}

	return false
}
