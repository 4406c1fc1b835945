package contractcourt

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
)

// commitSweepResolver is a resolver that will attempt to sweep an output
// paying to us once its relative time lock expired: our to_local output, the
// output of our second level HTLC transactions, and the to_remote output of a
// commitment broadcast by the remote party, which has no delay.
type commitSweepResolver struct {
	// input is the output to sweep.
	input input.Input

	// confHeight is the height the output confirmed at.
	confHeight uint32

	// sweepTx is the fully signed sweep. It is built once the output is
	// mature and rebroadcast on every block until it confirms.
	sweepTx *wire.MsgTx

	// spendHeight is the height the output was spent at.
	spendHeight uint32

	// resolved reflects if the contract has been fully resolved or not.
	resolved bool

	// reported is set once the sweep was reported, it survives reorgs so
	// a sweep is never reported twice.
	reported bool

	contractResolverKit
}

// newCommitSweepResolver creates a resolver for an output confirmed at
// confHeight.
func newCommitSweepResolver(cfg *resolverConfig, inp input.Input,
	confHeight uint32) *commitSweepResolver {

	return &commitSweepResolver{
		input:               inp,
		confHeight:          confHeight,
		contractResolverKit: newContractResolverKit(cfg, "commitSweep"),
	}
}

// A compile time assertion to ensure commitSweepResolver meets the
// ContractResolver interface.
var _ ContractResolver = (*commitSweepResolver)(nil)

// WatchedOutPoints returns the output being swept.
//
// NOTE: Part of the ContractResolver interface.
func (c *commitSweepResolver) WatchedOutPoints() []wire.OutPoint {
	if c.resolved {
		return nil
	}

	return []wire.OutPoint{c.input.OutPoint()}
}

// isMature returns true if a tx spending the output can be included in the
// block after height.
func (c *commitSweepResolver) isMature(height uint32) bool {
	csv := c.input.BlocksToMaturity()
	return csv == 0 || height+1 >= c.confHeight+csv
}

// BlockConnected broadcasts the sweep once the output is mature.
//
// NOTE: Part of the ContractResolver interface.
func (c *commitSweepResolver) BlockConnected(height uint32) []Event {
	if c.resolved || !c.isMature(height) {
		return nil
	}

	if c.sweepTx == nil {
		sweepTx, fee, err := createSweepTx(
			[]input.Input{c.input}, c.sweepScript, 0,
			c.feeRate(c.sweepConfTarget), c.signer,
		)
		switch {
		// An output that can't pay for its own sweep is abandoned.
		case errors.Is(err, errSweepDust):
			c.log.Infof("Abandoning output %v: %v",
				c.input.OutPoint(), err)

			c.resolved = true
			return nil

		case err != nil:
			c.log.Errorf("Unable to create sweep of %v: %v",
				c.input.OutPoint(), err)
			return nil
		}

		c.log.Infof("Sweeping %v (%v) with fee %v in %v",
			c.input.OutPoint(), c.input.WitnessType(), fee,
			sweepTx.TxHash())

		c.sweepTx = sweepTx
	}

	c.publish(c.sweepTx, labels.LabelTypeSweepTransaction)

	return nil
}

// SpendDetected marks the output resolved.
//
// NOTE: Part of the ContractResolver interface.
func (c *commitSweepResolver) SpendDetected(tx *wire.MsgTx, _ int,
	height uint32) []Event {

	c.resolved = true
	c.spendHeight = height

	txid := tx.TxHash()
	if c.sweepTx == nil || txid != c.sweepTx.TxHash() {
		c.log.Warnf("Output %v spent by foreign tx %v",
			c.input.OutPoint(), txid)

		return nil
	}

	c.log.Infof("Sweep %v of %v confirmed at height %v", txid,
		c.input.OutPoint(), height)

	if c.reported {
		return nil
	}
	c.reported = true

	return []Event{c.sweptEvent(txid, tx)}
}

// sweptEvent returns the event reporting a confirmed sweep.
func (c *commitSweepResolver) sweptEvent(txid chainhash.Hash,
	tx *wire.MsgTx) Event {

	return &FundsSwept{
		ChanPoint: c.chanPoint,
		Txid:      txid,
		Amount:    sweptAmount(tx),
	}
}

// BlockDisconnected unresolves the output if the spend was disconnected.
//
// NOTE: Part of the ContractResolver interface.
func (c *commitSweepResolver) BlockDisconnected(height uint32) {
	if c.resolved && c.spendHeight >= height {
		c.resolved = false
		c.spendHeight = 0
	}
}

// IsResolved returns true if the stored state in the resolve is fully
// resolved. In this case the target output can be forgotten.
//
// NOTE: Part of the ContractResolver interface.
func (c *commitSweepResolver) IsResolved() bool {
	return c.resolved
}
