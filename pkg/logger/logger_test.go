package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundFileName(t *testing.T) {
	assert.Equal(t, "logs/acdmd.log", RoundFileName("logs/acdmd.log", 0))
	assert.Equal(t, filepath.Join("logs", "acdmd_round-3.log"), RoundFileName("logs/acdmd.log", 3))
	assert.Equal(t, "acdmd_round-12.log", RoundFileName("acdmd.log", 12))
}

func TestSetRoundSwitchesFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "acdmd.log")
	require.NoError(t, Init(Config{Level: "info", OutputFile: base, LogByRound: true, NoConsole: true}))
	t.Cleanup(func() {
		_ = Close()
		currentRound = 0
	})

	require.NoError(t, SetRound(2))
	assert.Equal(t, filepath.Join(dir, "acdmd_round-2.log"), GetCurrentLogFile())
	Infof("hello from round %d", 2)

	data, err := os.ReadFile(filepath.Join(dir, "acdmd_round-2.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from round 2"))

	require.NoError(t, SetRound(2))
	assert.Equal(t, filepath.Join(dir, "acdmd_round-2.log"), GetCurrentLogFile())
}
