package synth_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/synth"
)

func requireShell(t *testing.T) string {
	t.Helper()

	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	return path
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synth-test.log")
	require.NoError(t, err)

	return log
}

func TestNewCommandSynthesizer_EmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := synth.NewCommandSynthesizer("", nil, nil, newTestLogger(t))
	require.ErrorIs(t, err, synth.ErrCommandEmpty)
}

func TestCommandSynthesizer_OutputFile(t *testing.T) {
	t.Parallel()

	shell := requireShell(t)

	synthesizer, err := synth.NewCommandSynthesizer(shell, []string{
		"-c", `printf '%s|%s' "$1" "$2" > "$3"`, "sh", "{voice}", "{text}", "{output}",
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	audio, err := synthesizer.Synthesize(context.Background(), "Hello there.", "amy")
	require.NoError(t, err)
	assert.Equal(t, "amy|Hello there.", string(audio))
}

func TestCommandSynthesizer_StdinStdout(t *testing.T) {
	t.Parallel()

	shell := requireShell(t)

	synthesizer, err := synth.NewCommandSynthesizer(shell, []string{"-c", "cat"}, nil, newTestLogger(t))
	require.NoError(t, err)

	audio, err := synthesizer.Synthesize(context.Background(), "piped text", "")
	require.NoError(t, err)
	assert.Equal(t, "piped text", string(audio))
}

func TestCommandSynthesizer_Failures(t *testing.T) {
	t.Parallel()

	shell := requireShell(t)
	log := newTestLogger(t)

	failing, err := synth.NewCommandSynthesizer(shell, []string{"-c", "echo boom >&2; exit 3"}, nil, log)
	require.NoError(t, err)

	_, err = failing.Synthesize(context.Background(), "text", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	silent, err := synth.NewCommandSynthesizer(shell, []string{"-c", "true"}, nil, log)
	require.NoError(t, err)

	_, err = silent.Synthesize(context.Background(), "text", "")
	require.ErrorIs(t, err, synth.ErrEmptyAudio)

	_, err = silent.Synthesize(context.Background(), "", "")
	require.ErrorIs(t, err, synth.ErrTextEmpty)
}

func TestCommandSynthesizer_Voices(t *testing.T) {
	t.Parallel()

	voices := []core.Voice{{Name: "amy", Lang: "en-US"}}

	synthesizer, err := synth.NewCommandSynthesizer("piper", nil, voices, newTestLogger(t))
	require.NoError(t, err)

	got, err := synthesizer.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, voices, got)
}
