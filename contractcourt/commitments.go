package contractcourt

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

var (
	// ErrCommitMismatch is returned when a commitment carried by an update
	// doesn't match the transaction rebuilt from its state.
	ErrCommitMismatch = errors.New("commitment doesn't match its state")

	// errNoLocalCommit is returned when our commitment is needed before
	// the funding handshake update was applied.
	errNoLocalCommit = errors.New("no local commitment known")
)

// commitView is a commitment known to the monitor. The full transaction set
// is rebuilt from the compact form carried in monitor updates, so every
// script, output index and second level transaction is available.
type commitView struct {
	*lnwallet.Commitment

	// disk is the form the commitment was delivered in. For our own
	// commitments it carries the remote party's signatures.
	disk channeldb.ChannelCommitment
}

// htlcSig returns the remote party's signature of the second level
// transaction of the HTLC at the given output index.
func (c *commitView) htlcSig(outputIndex int32) (input.Signature, error) {
	for _, htlc := range c.disk.Htlcs {
		if htlc.OutputIndex != outputIndex {
			continue
		}

		if len(htlc.Signature) == 0 {
			break
		}

		return ecdsa.ParseDERSignature(htlc.Signature)
	}

	return nil, fmt.Errorf("no htlc signature for output %v of "+
		"commitment %v", outputIndex, c.Height)
}

// rebuildCommit rebuilds the commitment of whoseCommit from its delivered
// form and checks it matches the delivered transaction.
func rebuildCommit(builder *lnwallet.CommitmentBuilder,
	whoseCommit lntypes.ChannelParty,
	update *channeldb.CommitmentUpdate) (*commitView, error) {

	disk := update.Commitment

	htlcs := make([]lnwallet.HTLC, 0, len(disk.Htlcs))
	for _, htlc := range disk.Htlcs {
		htlcs = append(htlcs, lnwallet.HTLC{
			HtlcIndex: htlc.HtlcIndex,
			Incoming:  htlc.Incoming,
			Amount:    htlc.Amt,
			RHash:     lntypes.Hash(htlc.RHash),
			Expiry:    htlc.RefundTimeout,
		})
	}

	commit, err := builder.BuildCommitment(
		whoseCommit, disk.CommitHeight, update.CommitPoint,
		disk.LocalBalance, disk.RemoteBalance,
		chainfee.SatPerKWeight(disk.FeePerKw), htlcs,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to rebuild %v commitment %v: %w",
			whoseCommit, disk.CommitHeight, err)
	}

	if disk.CommitTx == nil || commit.Tx.TxHash() != disk.CommitTx.TxHash() {
		return nil, fmt.Errorf("%w: %v commitment %v", ErrCommitMismatch,
			whoseCommit, disk.CommitHeight)
	}

	return &commitView{
		Commitment: commit,
		disk:       disk,
	}, nil
}

// signedLocalCommit returns our latest commitment with a complete witness.
func (m *ChannelMonitor) signedLocalCommit() (*wire.MsgTx, error) {
	if m.localCommit == nil {
		return nil, errNoLocalCommit
	}

	commitTx := m.localCommit.Tx.Copy()

	ourSig, err := m.cfg.Signer.SignCommitment(
		commitTx, m.builder.FundingScript(), m.params.Capacity,
	)
	if err != nil {
		return nil, err
	}

	theirSig, err := ecdsa.ParseDERSignature(m.localCommit.disk.CommitSig)
	if err != nil {
		return nil, fmt.Errorf("invalid commit sig of local "+
			"commitment %v: %w", m.localCommit.Height, err)
	}

	ourKey := m.params.LocalChanCfg.MultiSigKey.PubKey
	theirKey := m.params.RemoteChanCfg.MultiSigKey.PubKey

	commitTx.TxIn[0].Witness = input.SpendMultiSig(
		m.builder.FundingScript(),
		ourKey.SerializeCompressed(),
		append(ourSig.Serialize(), byte(txscript.SigHashAll)),
		theirKey.SerializeCompressed(),
		append(theirSig.Serialize(), byte(txscript.SigHashAll)),
	)

	return commitTx, nil
}
