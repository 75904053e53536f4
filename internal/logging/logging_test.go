package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blackmichael/bsky-collect/internal/logging"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := logging.New(logging.Config{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Named("collector").Debug("page processed", zap.Int("page", 3))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, gojson.Unmarshal(raw, &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "collector", entry["logger"])
	assert.Equal(t, "page processed", entry["message"])
	assert.EqualValues(t, 3, entry["page"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := logging.New(logging.Config{Level: "warn", Encoding: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("hidden")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestNew_Invalid(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "loud"})
	assert.Error(t, err)

	_, err = logging.New(logging.Config{Level: "info", Encoding: "xml"})
	assert.Error(t, err)
}
