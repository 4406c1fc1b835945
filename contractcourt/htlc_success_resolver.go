package contractcourt

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// htlcSuccessResolver is a resolver that's capable of sweeping an incoming
// HTLC output on-chain. It only acts once the preimage is known. On our own
// commitment the HTLC is claimed with the pre-signed HTLC success transaction,
// whose CSV delayed output is swept next. On the commitment of the remote
// party the HTLC output is swept directly. If the remote party times the HTLC
// out first, there's nothing left to claim.
type htlcSuccessResolver struct {
	// commit is the commitment the HTLC lives on.
	commit *commitView

	// htlc is the HTLC to claim.
	htlc lnwallet.CommitHtlc

	// outpoint is the HTLC output on the commitment.
	outpoint wire.OutPoint

	// preimage is set once the preimage of the HTLC is known.
	preimage fn.Option[lntypes.Preimage]

	// successTx is our spend of the HTLC output, a second level success
	// transaction on our commitment or a direct sweep on theirs.
	successTx *wire.MsgTx

	// spendHeight is the height the HTLC output was spent at.
	spendHeight uint32

	// resolved reflects if the contract has been fully resolved or not.
	resolved bool

	// reported is set once our direct sweep was reported.
	reported bool

	// secondLevel sweeps the output of our confirmed success transaction.
	secondLevel *commitSweepResolver

	contractResolverKit
}

// newSuccessResolver creates a resolver for an incoming HTLC.
func newSuccessResolver(cfg *resolverConfig, commit *commitView,
	htlc lnwallet.CommitHtlc) *htlcSuccessResolver {

	return &htlcSuccessResolver{
		commit: commit,
		htlc:   htlc,
		outpoint: wire.OutPoint{
			Hash:  commit.Tx.TxHash(),
			Index: uint32(htlc.OutputIndex),
		},
		contractResolverKit: newContractResolverKit(cfg, "htlcSuccess"),
	}
}

// A compile time assertion to ensure htlcSuccessResolver meets the
// preimageResolver interface.
var _ preimageResolver = (*htlcSuccessResolver)(nil)

// SupplyPreimage hands the preimage to the resolver if it matches the HTLC.
func (h *htlcSuccessResolver) SupplyPreimage(preimage lntypes.Preimage) bool {
	if !preimage.Matches(h.htlc.RHash) {
		return false
	}

	if h.preimage.IsNone() {
		h.log.Infof("Learned preimage of HTLC %v", h.htlc.HtlcIndex)
	}
	h.preimage = fn.Some(preimage)

	return true
}

// WatchedOutPoints returns the HTLC output, or the second level output once
// our success transaction confirmed.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcSuccessResolver) WatchedOutPoints() []wire.OutPoint {
	if h.secondLevel != nil {
		return h.secondLevel.WatchedOutPoints()
	}

	if h.resolved {
		return nil
	}

	return []wire.OutPoint{h.outpoint}
}

// buildSuccessTx creates our signed spend of the HTLC output.
func (h *htlcSuccessResolver) buildSuccessTx(
	preimage lntypes.Preimage) (*wire.MsgTx, error) {

	signDesc := h.htlcSignDesc(h.commit, &h.htlc)

	if h.commit.WhoseCommit.IsRemote() {
		inp := input.MakeHtlcSucceedInput(
			&h.outpoint, signDesc, preimage, 0,
		)
		tx, _, err := createSweepTx(
			[]input.Input{&inp}, h.sweepScript, 0,
			h.feeRate(h.sweepConfTarget), h.signer,
		)

		return tx, err
	}

	remoteSig, err := h.commit.htlcSig(h.htlc.OutputIndex)
	if err != nil {
		return nil, err
	}

	successTx := h.htlc.SecondLevelTx.Copy()
	prevFetcher := txscript.NewCannedPrevOutputFetcher(
		signDesc.Output.PkScript, signDesc.Output.Value,
	)
	signDesc.PrevOutputFetcher = prevFetcher
	signDesc.SigHashes = txscript.NewTxSigHashes(successTx, prevFetcher)
	signDesc.InputIndex = 0

	witness, err := input.ReceiverHtlcSpendRedeem(
		remoteSig, txscript.SigHashAll, preimage[:], h.signer,
		signDesc, successTx,
	)
	if err != nil {
		return nil, err
	}
	successTx.TxIn[0].Witness = witness

	return successTx, nil
}

// BlockConnected broadcasts the claim once the preimage is known.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcSuccessResolver) BlockConnected(height uint32) []Event {
	if h.secondLevel != nil {
		return h.secondLevel.BlockConnected(height)
	}

	if h.resolved || h.preimage.IsNone() {
		return nil
	}

	if h.successTx == nil {
		successTx, err := h.buildSuccessTx(h.preimage.UnsafeFromSome())
		switch {
		case errors.Is(err, errSweepDust):
			h.log.Infof("Abandoning HTLC %v at %v: %v",
				h.htlc.HtlcIndex, h.outpoint, err)

			h.resolved = true
			return nil

		case err != nil:
			h.log.Errorf("Unable to create claim of HTLC %v: %v",
				h.htlc.HtlcIndex, err)
			return nil
		}

		h.log.Infof("Claiming HTLC %v (%v) with %v",
			h.htlc.HtlcIndex, h.htlc.RHash, successTx.TxHash())

		h.successTx = successTx
	}

	h.publish(h.successTx, labels.LabelTypeSweepTransaction)

	return nil
}

// SpendDetected handles a spend of the HTLC output.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcSuccessResolver) SpendDetected(tx *wire.MsgTx, inputIndex int,
	height uint32) []Event {

	if h.secondLevel != nil {
		return h.secondLevel.SpendDetected(tx, inputIndex, height)
	}

	h.spendHeight = height
	h.resolved = true

	txid := tx.TxHash()
	if h.successTx == nil || txid != h.successTx.TxHash() {
		h.log.Infof("HTLC %v timed out by remote party in %v",
			h.htlc.HtlcIndex, txid)

		return nil
	}

	if h.commit.WhoseCommit.IsRemote() {
		if h.reported {
			return nil
		}
		h.reported = true

		return []Event{&FundsSwept{
			ChanPoint: h.chanPoint,
			Txid:      txid,
			Amount:    sweptAmount(tx),
		}}
	}

	inp, err := h.secondLevelInput(
		h.commit, tx, input.HtlcAcceptedSuccessSecondLevel, height,
	)
	if err != nil {
		h.log.Errorf("Unable to create second level input: %v", err)
		return nil
	}
	h.secondLevel = newCommitSweepResolver(h.resolverConfig, inp, height)
	h.resolved = false

	h.log.Infof("Success tx %v of HTLC %v confirmed, sweeping in %v "+
		"blocks", txid, h.htlc.HtlcIndex, h.commit.CsvDelay)

	return nil
}

// BlockDisconnected reverts the spend of the HTLC output if needed.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcSuccessResolver) BlockDisconnected(height uint32) {
	if h.spendHeight < height || h.spendHeight == 0 {
		if h.secondLevel != nil {
			h.secondLevel.BlockDisconnected(height)
		}

		return
	}

	h.secondLevel = nil
	h.spendHeight = 0
	h.resolved = false
}

// IsResolved returns true if the stored state in the resolve is fully
// resolved. In this case the target output can be forgotten.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcSuccessResolver) IsResolved() bool {
	if h.secondLevel != nil {
		return h.secondLevel.IsResolved()
	}

	return h.resolved
}
