package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/logging"
)

// installSink points the CLI globals at a file-backed log sink and restores them afterwards
func installSink(t *testing.T) string {
	t.Helper()

	prevSlog := slog.Default()
	prevOut, prevFormatter, prevLevel := logrus.StandardLogger().Out, logrus.StandardLogger().Formatter, logrus.GetLevel()
	t.Cleanup(func() {
		slog.SetDefault(prevSlog)
		logrus.SetOutput(prevOut)
		logrus.SetFormatter(prevFormatter)
		logrus.SetLevel(prevLevel)
		logSink, logger, verbose = nil, nil, false
	})

	path := filepath.Join(t.TempDir(), "logs", "gmaint.log")
	sink, err := logging.NewLogger(logging.Config{Level: slog.LevelInfo, OutputFile: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)
	sink.Install()

	logSink = sink
	logger = logrus.StandardLogger()
	return path
}

func TestFinishClosesSinkOnFailure(t *testing.T) {
	path := installSink(t)

	var out bytes.Buffer
	code := finish(&out, errors.New("group load rejected"))

	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: group load rejected\n", out.String())
	assert.Nil(t, logSink, "sink must be closed when the command fails")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Command failed")
	assert.Contains(t, string(data), "group load rejected")
}

func TestFinishClosesSinkOnSuccess(t *testing.T) {
	installSink(t)

	var out bytes.Buffer
	assert.Equal(t, 0, finish(&out, nil))
	assert.Empty(t, out.String())
	assert.Nil(t, logSink)
}

func TestFinishVerboseDetails(t *testing.T) {
	installSink(t)
	verbose = true

	var out bytes.Buffer
	err := apperrors.StoreUnavailable(errors.New("connection refused"), "neo4j health check failed")
	assert.Equal(t, 1, finish(&out, err))
	assert.Contains(t, out.String(), "Error: neo4j health check failed: connection refused\n\n")
	assert.Contains(t, out.String(), "neo4j health check failed\n")
}

func TestFinishWithoutSink(t *testing.T) {
	t.Cleanup(func() { logSink, logger = nil, nil })
	logSink, logger = nil, nil

	var out bytes.Buffer
	assert.Equal(t, 1, finish(&out, errors.New("config file not found")))
	assert.Equal(t, "Error: config file not found\n", out.String())
}
