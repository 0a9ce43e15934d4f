package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// swapLogger replaces the global logger for the duration of a test.
func swapLogger(t *testing.T, l *zap.SugaredLogger) {
	t.Helper()
	prev, prevJSON := Logger, JSONOutput
	Logger = l
	t.Cleanup(func() {
		Logger, JSONOutput = prev, prevJSON
	})
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swapLogger(t, nil)

			require.NoError(t, Initialize(tt.jsonOutput))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestInitializeWithLevel(t *testing.T) {
	swapLogger(t, nil)

	require.NoError(t, InitializeWithLevel(false, zapcore.WarnLevel))
	assert.False(t, Logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.WarnLevel))
}

func TestNopLoggerBeforeInitialize(t *testing.T) {
	assert.NotPanics(t, func() {
		ComponentLogger("st").Infow("Before initialize")
		Cleanup()
	})
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.False(t, ShouldLogTrace(2))
	assert.True(t, ShouldLogTrace(3))

	assert.Equal(t, zapcore.ErrorLevel, EffectiveLevel(0, zapcore.ErrorLevel))
	assert.Equal(t, zapcore.InfoLevel, EffectiveLevel(1, zapcore.ErrorLevel))
}

func TestSetLevelAppliesToDerivedLoggers(t *testing.T) {
	swapLogger(t, nil)
	t.Cleanup(func() { SetLevel(zapcore.InfoLevel) })

	var buf bytes.Buffer
	require.NoError(t, InitializeWithWriter(&buf, true, zapcore.WarnLevel))
	log := ComponentLogger("sync")

	log.Infow("Hidden")
	assert.Empty(t, buf.String())

	SetLevel(zapcore.DebugLevel)
	assert.Equal(t, zapcore.DebugLevel, Level())
	log.Debugw("Shown", FieldPeer, "hub")
	assert.Contains(t, buf.String(), `"msg":"Shown"`)
	assert.Contains(t, buf.String(), `"peer":"hub"`)
}

func TestFieldsFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, FieldsFromContext(ctx))

	ctx = WithSession(ctx, "s-1")
	ctx = WithPeer(ctx, "10.0.0.1:9000")
	ctx = WithComponent(ctx, "sync")
	assert.Equal(t, []interface{}{
		FieldSession, "s-1",
		FieldPeer, "10.0.0.1:9000",
		FieldComponent, "sync",
	}, FieldsFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithRequestID(context.Background(), "r-9")
	FromContext(ctx, base).Infow("Handled")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r-9", entries[0].ContextMap()[FieldRequestID])

	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestComponentAndChildLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	swapLogger(t, zap.New(core).Sugar())

	ComponentLogger("st").Debugw("d", FieldCount, 1)
	ChildLogger(ComponentLogger("db"), FieldFile, "state.db").Infow("Opened")

	require.Equal(t, 2, logs.Len())
	last := logs.All()[1]
	assert.Equal(t, "db", last.LoggerName)
	assert.Equal(t, "state.db", last.ContextMap()[FieldFile])
}
