package lncfg_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/chancore/lncfg"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

// TestDefaultsValid checks the default options of every group pass
// validation.
func TestDefaultsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, lncfg.Validate(
		lncfg.DefaultDB(), lncfg.DefaultFee(), lncfg.DefaultChannel(),
		lncfg.DefaultClosing(), lncfg.DefaultMonitor(),
		&lncfg.Workers{Blocks: lncfg.DefaultBlockWorkers},
	))
}

// TestValidateGroups checks the options each group refuses.
func TestValidateGroups(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  lncfg.Validator
	}{
		{
			name: "db timeout",
			cfg:  &lncfg.DB{},
		},
		{
			name: "relay fee below floor",
			cfg: &lncfg.Fee{
				FeeRate:  chainfee.FeePerKwFloor,
				RelayFee: chainfee.FeePerKwFloor - 1,
			},
		},
		{
			name: "fee rate below relay fee",
			cfg: &lncfg.Fee{
				FeeRate:  chainfee.FeePerKwFloor,
				RelayFee: chainfee.FeePerKwFloor * 2,
			},
		},
		{
			name: "zero min expiry delta",
			cfg: &lncfg.Channel{
				TimeLockDelta:     40,
				MinFinalCltvDelta: 18,
			},
		},
		{
			name: "time lock delta below min expiry delta",
			cfg: &lncfg.Channel{
				MinExpiryDelta:    13,
				TimeLockDelta:     12,
				MinFinalCltvDelta: 18,
			},
		},
		{
			name: "zero min final cltv delta",
			cfg: &lncfg.Channel{
				MinExpiryDelta: 13,
				TimeLockDelta:  40,
			},
		},
		{
			name: "zero close rounds",
			cfg: &lncfg.Closing{
				ConfTarget:         6,
				NegotiationTimeout: time.Minute,
			},
		},
		{
			name: "zero close timeout",
			cfg: &lncfg.Closing{
				ConfTarget: 6,
				MaxRounds:  3,
			},
		},
		{
			name: "negative close fee",
			cfg: &lncfg.Closing{
				ConfTarget:         6,
				MaxRounds:          3,
				NegotiationTimeout: time.Minute,
				MaxFeeRate:         -1,
			},
		},
		{
			name: "justice slower than sweep",
			cfg: &lncfg.Monitor{
				JusticeConfTarget: 10,
				SweepConfTarget:   6,
			},
		},
		{
			name: "zero sweep target",
			cfg: &lncfg.Monitor{
				JusticeConfTarget: 1,
			},
		},
		{
			name: "zero incoming broadcast delta",
			cfg: &lncfg.Monitor{
				JusticeConfTarget: 2,
				SweepConfTarget:   6,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			require.Error(t, test.cfg.Validate())
			require.Error(t, lncfg.Validate(
				lncfg.DefaultDB(), test.cfg,
			))
		})
	}
}

// TestFeeEstimator checks the estimator uses the configured rates.
func TestFeeEstimator(t *testing.T) {
	t.Parallel()

	fee := &lncfg.Fee{
		FeeRate:  chainfee.FeePerKwFloor * 10,
		RelayFee: chainfee.FeePerKwFloor,
	}
	estimator := fee.Estimator()

	rate, err := estimator.EstimateFeePerKW(6)
	require.NoError(t, err)
	require.Equal(t, fee.FeeRate, rate)
	require.Equal(t, fee.RelayFee, estimator.RelayFeePerKW())
}

// TestDBOpen checks the database is created in the configured directory.
func TestDBOpen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "regtest")
	cfg := &lncfg.DB{Dir: dir, Timeout: time.Second}

	db, err := cfg.Open()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = os.Stat(dir)
	require.NoError(t, err)
}

// TestCleanAndExpandPath checks environment variables and the home
// directory are expanded.
func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("CHANCORE_TEST_DIR", "/tmp/chancore")

	require.Empty(t, lncfg.CleanAndExpandPath(""))
	require.Equal(
		t, "/tmp/chancore/data",
		lncfg.CleanAndExpandPath("$CHANCORE_TEST_DIR/./data/"),
	)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(
		t, filepath.Join(home, "x"), lncfg.CleanAndExpandPath("~/x"),
	)
}
