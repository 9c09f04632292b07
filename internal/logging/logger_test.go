package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fulcrumdata/invoice-pipeline/internal/logging"
)

func TestNew_BuildsLogger(t *testing.T) {
	log, err := logging.New("INFO")
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	log, err := logging.New("not-a-level")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	defer log.Sync()
}

func TestNew_DebugLevelEnablesDebugLogs(t *testing.T) {
	log, err := logging.New("debug")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	defer log.Sync()
}

func TestNew_ErrorLevelDisablesInfoLogs(t *testing.T) {
	log, err := logging.New("ERROR")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
	defer log.Sync()
}

func TestStageLogger_TagsStageField(t *testing.T) {
	base, err := logging.New("INFO")
	require.NoError(t, err)
	defer base.Sync()

	stageLog := logging.StageLogger(base, "stage3extract")
	require.NotNil(t, stageLog)

	core, logs := observer.New(zapcore.InfoLevel)
	logging.StageLogger(zap.New(core), "stage3extract").Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "stage3extract", logs.All()[0].ContextMap()["stage"])
}
