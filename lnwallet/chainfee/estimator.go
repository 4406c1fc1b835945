package chainfee

import (
	"fmt"
	"sync"
)

// Estimator provides the ability to estimate on-chain transaction fees for
// various combinations of transaction sizes and desired confirmation time
// (measured by number of blocks).
type Estimator interface {
	// EstimateFeePerKW takes in a target for the number of blocks until
	// an initial confirmation and returns the estimated fee expressed in
	// sat/kw.
	EstimateFeePerKW(numBlocks uint32) (SatPerKWeight, error)

	// RelayFeePerKW returns the minimum fee rate required for transactions
	// to be relayed. This is also the basis for calculation of the dust
	// limit.
	RelayFeePerKW() SatPerKWeight
}

// StaticEstimator will return a static value for all fee calculation requests.
// It is designed to be replaced by a proper fee calculation implementation.
type StaticEstimator struct {
	// feePerKW is the static fee rate in satoshis-per-kw that will be
	// returned by this fee estimator.
	feePerKW SatPerKWeight

	// relayFee is the minimum fee rate required for transactions to be
	// relayed.
	relayFee SatPerKWeight
}

// NewStaticEstimator returns a new static fee estimator instance.
func NewStaticEstimator(feePerKW, relayFee SatPerKWeight) *StaticEstimator {
	return &StaticEstimator{
		feePerKW: feePerKW,
		relayFee: relayFee,
	}
}

// EstimateFeePerKW will return a static value for fee calculations.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) EstimateFeePerKW(numBlocks uint32) (SatPerKWeight,
	error) {

	return e.feePerKW, nil
}

// RelayFeePerKW returns the minimum fee rate required for transactions to be
// relayed.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) RelayFeePerKW() SatPerKWeight {
	return e.relayFee
}

// A compile-time assertion to ensure that StaticEstimator implements the
// Estimator interface.
var _ Estimator = (*StaticEstimator)(nil)

// MapEstimator serves a fee rate per confirmation target. Targets without an
// exact entry use the closest larger target, and then the default. Rates can
// be changed while in use.
type MapEstimator struct {
	mu         sync.Mutex
	rates      map[uint32]SatPerKWeight
	defaultFee SatPerKWeight
	relayFee   SatPerKWeight
}

// NewMapEstimator creates a MapEstimator returning defaultFee for unknown
// targets.
func NewMapEstimator(defaultFee, relayFee SatPerKWeight) *MapEstimator {
	return &MapEstimator{
		rates:      make(map[uint32]SatPerKWeight),
		defaultFee: defaultFee,
		relayFee:   relayFee,
	}
}

// SetRate sets the fee rate for a confirmation target.
func (m *MapEstimator) SetRate(numBlocks uint32, rate SatPerKWeight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rates[numBlocks] = rate
}

// EstimateFeePerKW returns the rate for the target, never below the relay
// fee.
//
// NOTE: This method is part of the Estimator interface.
func (m *MapEstimator) EstimateFeePerKW(numBlocks uint32) (SatPerKWeight,
	error) {

	if numBlocks == 0 {
		return 0, fmt.Errorf("conf target must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best   uint32
		rate   = m.defaultFee
		exists bool
	)
	for target, r := range m.rates {
		if target < numBlocks {
			continue
		}
		if !exists || target < best {
			best, rate, exists = target, r, true
		}
	}

	if rate < m.relayFee {
		rate = m.relayFee
	}

	return rate, nil
}

// RelayFeePerKW returns the minimum fee rate required for transactions to be
// relayed.
//
// NOTE: This method is part of the Estimator interface.
func (m *MapEstimator) RelayFeePerKW() SatPerKWeight {
	return m.relayFee
}

// A compile-time assertion to ensure that MapEstimator implements the
// Estimator interface.
var _ Estimator = (*MapEstimator)(nil)
