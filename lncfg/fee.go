package lncfg

import (
	"fmt"

	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

// Fee holds the configuration options for fee estimation. Without a chain
// backend the rates are static.
//
//nolint:lll
type Fee struct {
	FeeRate  chainfee.SatPerKWeight `long:"feerate" description:"The fee rate in sat/kw used for closes and on-chain claims."`
	RelayFee chainfee.SatPerKWeight `long:"relayfee" description:"The minimum relay fee rate in sat/kw."`
}

// DefaultFee returns the default fee options.
func DefaultFee() *Fee {
	return &Fee{
		FeeRate:  chainfee.FeePerKwFloor * 4,
		RelayFee: chainfee.FeePerKwFloor,
	}
}

// Validate checks the fee options.
//
// NOTE: Part of the Validator interface.
func (f *Fee) Validate() error {
	if f.RelayFee < chainfee.FeePerKwFloor {
		return fmt.Errorf("relayfee must be at least %v",
			chainfee.FeePerKwFloor)
	}

	if f.FeeRate < f.RelayFee {
		return fmt.Errorf("feerate %v below relayfee %v", f.FeeRate,
			f.RelayFee)
	}

	return nil
}

// Estimator returns the fee estimator of the options.
func (f *Fee) Estimator() chainfee.Estimator {
	return chainfee.NewStaticEstimator(f.FeeRate, f.RelayFee)
}

// Compile-time constraint to ensure Fee implements the Validator interface.
var _ Validator = (*Fee)(nil)
