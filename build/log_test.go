package build

import (
	"bytes"
	"context"
	"testing"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

// TestParseAndSetDebugLevels checks global and per-subsystem level parsing
// against a manager with two registered subsystems.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mgr := NewSubLoggerManager(btclog.NewDefaultHandler(&buf))

	lnwl := mgr.GenSubLogger("LNWL")
	cnct := mgr.GenSubLogger("CNCT")
	mgr.RegisterSubLogger("LNWL", lnwl)
	mgr.RegisterSubLogger("CNCT", cnct)

	require.Equal(t, []string{"CNCT", "LNWL"}, mgr.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("debug,CNCT=error", mgr))
	require.Equal(t, btclogv1.LevelDebug, lnwl.Level())
	require.Equal(t, btclogv1.LevelError, cnct.Level())

	// Writing through an enabled level lands in the shared buffer.
	lnwl.DebugS(context.Background(), "hello")
	require.Contains(t, buf.String(), "LNWL")
	require.Contains(t, buf.String(), "hello")

	testCases := []string{
		"loud",
		"debug,FOO=info",
		"debug,LNWL=loud",
		"debug,LNWL",
	}
	for _, level := range testCases {
		require.Error(t, ParseAndSetDebugLevels(level, mgr), level)
	}
}

// TestLogConfigValidate ensures unknown compressors are rejected.
func TestLogConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = Zstd
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = "lz4"
	require.Error(t, cfg.Validate())
}
