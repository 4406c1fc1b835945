package lnwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
)

const (
	// MaxHTLCNumber is the maximum number HTLCs which can be included in a
	// commitment transaction. This limit was chosen such that, in the case
	// of a contract breach, the punishment transaction is able to sweep
	// all the HTLC's yet still remain below the widely used standard
	// weight limits.
	MaxHTLCNumber = 966

	// MinCsvDelay is the smallest to_self_delay we accept for either side.
	MinCsvDelay = 6

	// MaxCsvDelay is the largest to_self_delay we accept for either side.
	MaxCsvDelay = 2016
)

// DustLimitForSize retrieves the dust limit for a given pkscript size. Given
// the size, it automatically determines whether the script is a witness script
// or not. It calls btcd's GetDustThreshold method under the hood. It must be
// called with a proper size parameter or else a panic occurs.
func DustLimitForSize(scriptSize int) btcutil.Amount {
	var pkscript []byte

	// With the size of the script, determine which type of pkscript to
	// create. This will be used in the call to GetDustThreshold. We pass
	// in an empty byte slice since the contents of the script itself don't
	// matter.
	switch scriptSize {
	case input.P2WPKHSize:
		pkscript, _ = input.WitnessPubKeyHash(make([]byte, 33))

	case input.P2WSHSize:
		pkscript, _ = input.WitnessScriptHash([]byte{})

	default:
		panic("invalid script size")
	}

	// Call GetDustThreshold with a TxOut containing the generated
	// pkscript.
	txout := &wire.TxOut{PkScript: pkscript}

	return btcutil.Amount(mempool.GetDustThreshold(txout))
}

// ValidateChannelConfig makes sure a channel config is usable for a
// commitment: its dust limit is relayable, its delays are sane and the HTLC
// slots fit in a commitment.
func ValidateChannelConfig(cfg *channeldb.ChannelConfig,
	capacity btcutil.Amount) error {

	minDust := DustLimitForSize(input.P2WSHSize)
	if cfg.DustLimit < minDust {
		return fmt.Errorf("dust limit %v below relay dust threshold %v",
			cfg.DustLimit, minDust)
	}

	if cfg.ChanReserve < cfg.DustLimit {
		return fmt.Errorf("channel reserve %v below dust limit %v",
			cfg.ChanReserve, cfg.DustLimit)
	}

	if cfg.ChanReserve >= capacity {
		return fmt.Errorf("channel reserve %v exceeds capacity %v",
			cfg.ChanReserve, capacity)
	}

	if cfg.CsvDelay < MinCsvDelay || cfg.CsvDelay > MaxCsvDelay {
		return fmt.Errorf("csv delay %v outside of [%v, %v]",
			cfg.CsvDelay, MinCsvDelay, MaxCsvDelay)
	}

	if cfg.MaxAcceptedHtlcs == 0 ||
		cfg.MaxAcceptedHtlcs > MaxHTLCNumber/2 {

		return fmt.Errorf("max accepted htlcs %v outside of [1, %v]",
			cfg.MaxAcceptedHtlcs, MaxHTLCNumber/2)
	}

	keys := []*struct {
		name string
		set  bool
	}{
		{"multisig", cfg.MultiSigKey.PubKey != nil},
		{"revocation", cfg.RevocationBasePoint.PubKey != nil},
		{"payment", cfg.PaymentBasePoint.PubKey != nil},
		{"delay", cfg.DelayBasePoint.PubKey != nil},
		{"htlc", cfg.HtlcBasePoint.PubKey != nil},
	}
	for _, key := range keys {
		if !key.set {
			return fmt.Errorf("%v base point missing", key.name)
		}
	}

	return nil
}
