package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	// Get Stats After
	require.Contains(t, buff.String(), "Test")
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	l.Logger.Info().Msg("quiet")
	require.Equal(t, 0, buff.Len())
	l.Logger.Warn().Msg("loud")
	require.Contains(t, buff.String(), "loud")

	_, err = logger.New().Level("chatty").Make()
	require.Error(t, err)
}

func TestConsoleIsIgnoredForNonTerminals(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Console(true).Make()
	require.NoError(t, err)

	l.Logger.Info().Msg("json")
	require.Contains(t, buff.String(), `"message":"json"`)
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mv.log")
	l, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)

	l.Logger.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}
