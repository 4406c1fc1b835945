package contractcourt

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lnwallet"
)

// htlcTimeoutResolver is a ContractResolver that's capable of resolving an
// outgoing HTLC. On our own commitment the HTLC is timed out with the pre-signed
// HTLC timeout transaction, whose CSV delayed output is then swept. On the
// commitment of the remote party the HTLC output is swept directly once it
// expired. If the remote party claims the HTLC with the preimage first, the
// monitor extracts the preimage from the spend and the resolver is done.
type htlcTimeoutResolver struct {
	// commit is the commitment the HTLC lives on.
	commit *commitView

	// htlc is the HTLC to time out.
	htlc lnwallet.CommitHtlc

	// outpoint is the HTLC output on the commitment.
	outpoint wire.OutPoint

	// timeoutTx is our spend of the HTLC output, a second level timeout
	// transaction on our commitment or a direct sweep on theirs.
	timeoutTx *wire.MsgTx

	// spendHeight is the height the HTLC output was spent at.
	spendHeight uint32

	// resolved reflects if the contract has been fully resolved or not.
	resolved bool

	// failReported is set once the HTLC was reported as failed on chain.
	failReported bool

	// secondLevel sweeps the output of our confirmed timeout transaction.
	secondLevel *commitSweepResolver

	contractResolverKit
}

// newTimeoutResolver creates a resolver for an outgoing HTLC.
func newTimeoutResolver(cfg *resolverConfig, commit *commitView,
	htlc lnwallet.CommitHtlc) *htlcTimeoutResolver {

	return &htlcTimeoutResolver{
		commit: commit,
		htlc:   htlc,
		outpoint: wire.OutPoint{
			Hash:  commit.Tx.TxHash(),
			Index: uint32(htlc.OutputIndex),
		},
		contractResolverKit: newContractResolverKit(cfg, "htlcTimeout"),
	}
}

// A compile time assertion to ensure htlcTimeoutResolver meets the
// ContractResolver interface.
var _ ContractResolver = (*htlcTimeoutResolver)(nil)

// WatchedOutPoints returns the HTLC output, or the second level output once
// our timeout transaction confirmed.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcTimeoutResolver) WatchedOutPoints() []wire.OutPoint {
	if h.secondLevel != nil {
		return h.secondLevel.WatchedOutPoints()
	}

	if h.resolved {
		return nil
	}

	return []wire.OutPoint{h.outpoint}
}

// buildTimeoutTx creates our signed spend of the HTLC output.
func (h *htlcTimeoutResolver) buildTimeoutTx() (*wire.MsgTx, error) {
	signDesc := h.htlcSignDesc(h.commit, &h.htlc)

	// On the commitment of the remote party the HTLC is swept directly
	// with a lock time of the HTLC expiry.
	if h.commit.WhoseCommit.IsRemote() {
		inp := input.NewBaseInput(
			&h.outpoint, input.HtlcOfferedRemoteTimeout, signDesc,
			h.htlc.Expiry,
		)
		tx, _, err := createSweepTx(
			[]input.Input{inp}, h.sweepScript, h.htlc.Expiry,
			h.feeRate(h.sweepConfTarget), h.signer,
		)

		return tx, err
	}

	// On our own commitment we complete the timeout transaction the
	// remote party signed.
	remoteSig, err := h.commit.htlcSig(h.htlc.OutputIndex)
	if err != nil {
		return nil, err
	}

	timeoutTx := h.htlc.SecondLevelTx.Copy()
	prevFetcher := txscript.NewCannedPrevOutputFetcher(
		signDesc.Output.PkScript, signDesc.Output.Value,
	)
	signDesc.PrevOutputFetcher = prevFetcher
	signDesc.SigHashes = txscript.NewTxSigHashes(timeoutTx, prevFetcher)
	signDesc.InputIndex = 0

	witness, err := input.SenderHtlcSpendTimeout(
		remoteSig, txscript.SigHashAll, h.signer, signDesc, timeoutTx,
	)
	if err != nil {
		return nil, err
	}
	timeoutTx.TxIn[0].Witness = witness

	return timeoutTx, nil
}

// BlockConnected broadcasts the timeout once the HTLC expired.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcTimeoutResolver) BlockConnected(height uint32) []Event {
	if h.secondLevel != nil {
		return h.secondLevel.BlockConnected(height)
	}

	// A tx with the HTLC expiry as lock time can be included in the
	// block following the expiry height.
	if h.resolved || height < h.htlc.Expiry {
		return nil
	}

	if h.timeoutTx == nil {
		timeoutTx, err := h.buildTimeoutTx()
		switch {
		case errors.Is(err, errSweepDust):
			h.log.Infof("Abandoning HTLC %v at %v: %v",
				h.htlc.HtlcIndex, h.outpoint, err)

			h.resolved = true
			return nil

		case err != nil:
			h.log.Errorf("Unable to create timeout of HTLC %v: %v",
				h.htlc.HtlcIndex, err)
			return nil
		}

		h.log.Infof("Timing out HTLC %v (%v) at height %v with %v",
			h.htlc.HtlcIndex, h.htlc.RHash, height,
			timeoutTx.TxHash())

		h.timeoutTx = timeoutTx
	}

	h.publish(h.timeoutTx, labels.LabelTypeSweepTransaction)

	return nil
}

// SpendDetected handles a spend of the HTLC output. If the spend is our
// timeout, the HTLC failed on chain.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcTimeoutResolver) SpendDetected(tx *wire.MsgTx, inputIndex int,
	height uint32) []Event {

	if h.secondLevel != nil {
		return h.secondLevel.SpendDetected(tx, inputIndex, height)
	}

	h.spendHeight = height
	h.resolved = true

	txid := tx.TxHash()
	if h.timeoutTx == nil || txid != h.timeoutTx.TxHash() {
		h.log.Infof("HTLC %v claimed by remote party in %v",
			h.htlc.HtlcIndex, txid)

		return nil
	}

	var events []Event
	if !h.failReported {
		h.failReported = true
		events = append(events, &HtlcFailedOnChain{
			ChanPoint: h.chanPoint,
			HtlcIndex: h.htlc.HtlcIndex,
			RHash:     h.htlc.RHash,
		})
	}

	// A direct sweep on the remote commitment is final.
	if h.commit.WhoseCommit.IsRemote() {
		return append(events, &FundsSwept{
			ChanPoint: h.chanPoint,
			Txid:      txid,
			Amount:    sweptAmount(tx),
		})
	}

	// Our timeout transaction pays to a CSV delayed output we sweep next.
	inp, err := h.secondLevelInput(
		h.commit, tx, input.HtlcOfferedTimeoutSecondLevel, height,
	)
	if err != nil {
		h.log.Errorf("Unable to create second level input: %v", err)
		return events
	}
	h.secondLevel = newCommitSweepResolver(h.resolverConfig, inp, height)
	h.resolved = false

	h.log.Infof("Timeout %v of HTLC %v confirmed, sweeping in %v blocks",
		txid, h.htlc.HtlcIndex, h.commit.CsvDelay)

	return events
}

// BlockDisconnected reverts the spend of the HTLC output if needed.
//
// NOTE: Part of the ContractResolver interface.
func (h *htlcTimeoutResolver) BlockDisconnected(height uint32) {
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
func (h *htlcTimeoutResolver) IsResolved() bool {
	if h.secondLevel != nil {
		return h.secondLevel.IsResolved()
	}

	return h.resolved
}
