package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStringToLevel(t *testing.T) {
	t.Parallel()

	type testcase struct {
		value    string
		expected zapcore.Level
		valid    bool
	}

	testcases := []testcase{
		{"debug", zapcore.DebugLevel, true},
		{"INFO", zapcore.InfoLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{" trace ", TraceLevel, true},
		{"1", zapcore.DebugLevel, true},
		{"2", TraceLevel, true},
		{"4", zapcore.Level(-4), true},
		{"0", zapcore.WarnLevel, false},
		{"loud", zapcore.WarnLevel, false},
		{"1000", zapcore.WarnLevel, false},
	}

	for _, tc := range testcases {
		level, err := StringToLevel(tc.value, zapcore.WarnLevel)
		if tc.valid {
			require.NoError(t, err, tc.value)
		} else {
			require.Error(t, err, tc.value)
		}
		require.Equal(t, tc.expected, level, tc.value)
	}
}

func TestLevelFlagChangesLoggerLevel(t *testing.T) {
	t.Parallel()

	log := New("level-flag-test")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	log.AddLevelFlag(fs)

	require.NoError(t, fs.Parse([]string{"-v", "debug"}))
	require.Equal(t, zapcore.DebugLevel, log.atomicLevel.Level())
	require.True(t, log.V(1).Enabled())

	require.NoError(t, fs.Parse([]string{"--verbosity=trace"}))
	require.True(t, log.V(2).Enabled())
	require.Equal(t, "trace", fs.Lookup("verbosity").Value.String())

	require.Error(t, fs.Parse([]string{"--verbosity=nope"}))
}
