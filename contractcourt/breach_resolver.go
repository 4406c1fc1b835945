package contractcourt

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

const (
	// justiceFeeBump is the factor the justice fee rate grows by on every
	// block the claim stays unconfirmed.
	justiceFeeBump = 1.25

	// maxFeeBumps bounds the number of fee bumps. The fee is capped at
	// half of the claimed value regardless.
	maxFeeBumps = 20
)

// breachResolver claims every output of a revoked commitment broadcast by the
// remote party. All outputs are swept together in a justice transaction that
// is rebuilt and rebroadcast with a higher fee on every block. HTLC outputs
// the remote party moves to the second level first are split off the claim,
// and their second level outputs are claimed through the revocation clause
// instead.
type breachResolver struct {
	// revoked is the breached commitment rebuilt with the revocation
	// secret.
	revoked *commitView

	// revocationKey tweaks our revocation base point into the revocation
	// key of the breached commitment.
	revocationKey *btcec.PrivateKey

	// secondLevelScript is the script of the HTLC success and timeout
	// outputs of the revoked commitment.
	secondLevelScript *lnwallet.ScriptInfo

	// pkg holds the outputs still to claim.
	pkg *justicePackage

	// firstBroadcast is the height of the first justice broadcast.
	firstBroadcast uint32

	// justiceTxs are all justice transactions we broadcast.
	justiceTxs map[chainhash.Hash]struct{}

	// reported holds the justice transactions that were reported, so a
	// claim is reported once even if it is reorged out and back in.
	reported map[chainhash.Hash]struct{}

	contractResolverKit
}

// newBreachResolver creates the justice claim of a revoked commitment. The
// commitment must have been rebuilt with the point of the revealed secret.
func newBreachResolver(cfg *resolverConfig, revoked *commitView,
	secret [32]byte, confHeight uint32) (*breachResolver, error) {

	revocationKey, _ := btcec.PrivKeyFromBytes(secret[:])

	secondLevelScript, err := lnwallet.SecondLevelHtlcScript(
		revoked.CsvDelay, revoked.KeyRing,
	)
	if err != nil {
		return nil, err
	}

	b := &breachResolver{
		revoked:           revoked,
		revocationKey:     revocationKey,
		secondLevelScript: secondLevelScript,
		justiceTxs:        make(map[chainhash.Hash]struct{}),
		reported:          make(map[chainhash.Hash]struct{}),
		contractResolverKit: newContractResolverKit(
			cfg, "breach",
		),
	}
	b.log = brarLog.WithPrefix(fmt.Sprintf("breach(%v):", cfg.chanPoint))

	b.pkg = newJusticePackage(b.justiceInputs(confHeight))

	return b, nil
}

// revokeSignDesc returns a descriptor signing with the revocation key of the
// breached commitment.
func (b *breachResolver) revokeSignDesc(witnessScript []byte,
	output *wire.TxOut) *input.SignDescriptor {

	return &input.SignDescriptor{
		KeyDesc:       b.localCfg.RevocationBasePoint,
		DoubleTweak:   b.revocationKey,
		WitnessScript: witnessScript,
		Output:        output,
		HashType:      txscript.SigHashAll,
	}
}

// justiceInputs returns an input for every output of the breached
// commitment.
func (b *breachResolver) justiceInputs(confHeight uint32) []*justiceInput {
	var (
		commit = b.revoked
		txid   = commit.Tx.TxHash()
		inputs []*justiceInput
	)

	if commit.ToLocalIndex >= 0 {
		op := wire.OutPoint{Hash: txid, Index: uint32(commit.ToLocalIndex)}
		signDesc := b.revokeSignDesc(
			commit.ToLocalScript.WitnessScript,
			commit.Tx.TxOut[op.Index],
		)
		inputs = append(inputs, &justiceInput{
			Input: input.NewBaseInput(
				&op, input.CommitmentRevoke, signDesc,
				confHeight,
			),
		})
	}

	// The to_remote output pays to our static payment base point.
	if commit.ToRemoteIndex >= 0 {
		op := wire.OutPoint{
			Hash:  txid,
			Index: uint32(commit.ToRemoteIndex),
		}
		output := commit.Tx.TxOut[op.Index]
		signDesc := &input.SignDescriptor{
			KeyDesc:       b.localCfg.PaymentBasePoint,
			WitnessScript: output.PkScript,
			Output:        output,
			HashType:      txscript.SigHashAll,
		}
		inputs = append(inputs, &justiceInput{
			Input: input.NewBaseInput(
				&op, input.CommitmentNoDelay, signDesc,
				confHeight,
			),
		})
	}

	for i := range commit.Htlcs {
		htlc := &commit.Htlcs[i]
		if htlc.IsDust() {
			continue
		}

		// An HTLC offered to us sits in the offered script of the
		// remote commitment, one we offered in its accepted script.
		witnessType := input.HtlcOfferedRevoke
		if htlc.Incoming {
			witnessType = input.HtlcAcceptedRevoke
		}

		op := wire.OutPoint{Hash: txid, Index: uint32(htlc.OutputIndex)}
		signDesc := b.revokeSignDesc(
			htlc.Script.WitnessScript, commit.Tx.TxOut[op.Index],
		)
		inputs = append(inputs, &justiceInput{
			Input: input.NewBaseInput(
				&op, witnessType, signDesc, confHeight,
			),
			htlc: htlc,
		})
	}

	return inputs
}

// A compile time assertion to ensure breachResolver meets the
// ContractResolver interface.
var _ ContractResolver = (*breachResolver)(nil)

// WatchedOutPoints returns all outputs still to claim.
//
// NOTE: Part of the ContractResolver interface.
func (b *breachResolver) WatchedOutPoints() []wire.OutPoint {
	return b.pkg.outpoints()
}

// justiceFeeRate returns the fee rate of the justice transaction at height.
func (b *breachResolver) justiceFeeRate(height uint32) chainfee.SatPerKWeight {
	feeRate := b.feeRate(b.justiceConfTarget)

	bumps := height - b.firstBroadcast
	if bumps > maxFeeBumps {
		bumps = maxFeeBumps
	}

	return chainfee.SatPerKWeight(
		float64(feeRate) * math.Pow(justiceFeeBump, float64(bumps)),
	)
}

// BlockConnected builds a justice transaction of all outputs still to claim
// and broadcasts it.
//
// NOTE: Part of the ContractResolver interface.
func (b *breachResolver) BlockConnected(height uint32) []Event {
	if b.pkg.isEmpty() {
		return nil
	}

	if b.firstBroadcast == 0 {
		b.firstBroadcast = height
	}

	feeRate := b.justiceFeeRate(height)
	justiceTx, fee, err := createSweepTx(
		b.pkg.sweepInputs(), b.sweepScript, 0, feeRate, b.signer,
	)
	switch {
	case errors.Is(err, errSweepDust):
		b.log.Warnf("Revoked outputs worth %v can't pay for their "+
			"claim: %v", b.pkg.value(), err)
		return nil

	case err != nil:
		b.log.Errorf("Unable to create justice tx: %v", err)
		return nil
	}

	txid := justiceTx.TxHash()
	if _, ok := b.justiceTxs[txid]; !ok {
		b.log.Infof("Claiming %v revoked outputs worth %v with justice "+
			"tx %v, fee=%v (%v)", len(justiceTx.TxIn),
			b.pkg.value(), txid, fee, feeRate)
	}
	b.justiceTxs[txid] = struct{}{}

	b.publish(justiceTx, labels.LabelTypeJusticeTransaction)

	return nil
}

// SpendDetected handles a spend of one of the revoked outputs. Our own justice
// transactions remove the output from the claim. An HTLC moved to the second
// level by the remote party is replaced by a claim of its second level
// output.
//
// NOTE: Part of the ContractResolver interface.
func (b *breachResolver) SpendDetected(tx *wire.MsgTx, inputIndex int,
	height uint32) []Event {

	op := tx.TxIn[inputIndex].PreviousOutPoint
	inp, ok := b.pkg.find(op)
	if !ok {
		return nil
	}
	b.pkg.remove(op, height)

	txid := tx.TxHash()
	if _, ok := b.justiceTxs[txid]; ok {
		if _, ok := b.reported[txid]; ok {
			return nil
		}
		b.reported[txid] = struct{}{}

		b.log.Infof("Justice tx %v confirmed at height %v", txid,
			height)

		return []Event{&FundsSwept{
			ChanPoint: b.chanPoint,
			Txid:      txid,
			Amount:    sweptAmount(tx),
			Justice:   true,
		}}
	}

	// A second level HTLC transaction has a single output at the index
	// of the input, paying to the revocable second level script.
	if inp.htlc != nil && inputIndex < len(tx.TxOut) {
		output := tx.TxOut[inputIndex]
		if bytes.Equal(output.PkScript, b.secondLevelScript.PkScript) {
			secondLevelOp := wire.OutPoint{
				Hash:  txid,
				Index: uint32(inputIndex),
			}
			signDesc := b.revokeSignDesc(
				b.secondLevelScript.WitnessScript, output,
			)
			b.pkg.add(&justiceInput{
				Input: input.NewBaseInput(
					&secondLevelOp,
					input.HtlcSecondLevelRevoke, signDesc,
					height,
				),
			}, height)

			b.log.Infof("HTLC %v moved to second level in %v, "+
				"claiming %v", inp.htlc.HtlcIndex, txid,
				secondLevelOp)

			return nil
		}
	}

	b.log.Warnf("Revoked output %v (%v) claimed by remote party in %v",
		op, inp.WitnessType(), txid)

	return nil
}

// BlockDisconnected reverts the claim to its state before height.
//
// NOTE: Part of the ContractResolver interface.
func (b *breachResolver) BlockDisconnected(height uint32) {
	b.pkg.undo(height)
}

// IsResolved returns true once every revoked output was claimed.
//
// NOTE: Part of the ContractResolver interface.
func (b *breachResolver) IsResolved() bool {
	return b.pkg.isEmpty()
}
