package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	defer SetLogLevels("info")

	require.NoError(t, ParseAndSetDebugLevels("debug"))
	for _, id := range SupportedSubsystems() {
		require.Equal(t, btclog.LevelDebug, subsystemLoggers[id].Level())
	}

	require.NoError(t, ParseAndSetDebugLevels("CSN=trace,RPCS=warn"))
	require.Equal(t, btclog.LevelTrace, csnLog.Level())
	require.Equal(t, btclog.LevelWarn, rpcsLog.Level())
	require.Equal(t, btclog.LevelDebug, chdbLog.Level())

	for _, bad := range []string{"loud", "CSN=loud", "NOPE=info", "CSN=info,x"} {
		require.Error(t, ParseAndSetDebugLevels(bad), bad)
	}
}

func TestSupportedSubsystems(t *testing.T) {
	require.Equal(t, []string{"BRDG", "CHDB", "CSN", "CSND", "RPCS"},
		SupportedSubsystems())
}

func TestInitLogRotator(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "csnd.log")
	require.NoError(t, InitLogRotator(logFile))
	t.Cleanup(func() {
		Close()
		logRotator = nil
	})
	_, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)
}
