package channeldb

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/keychain"
	"github.com/lightningnetwork/chancore/lnwire"
)

// ChannelConfig is a struct that houses the various configuration opens for
// channels. Each side maintains an instance of this configuration file as it
// governs: how the funding and commitment transaction to be created, the
// nature of HTLC's allotted, the keys to be used for delivery, and relative
// time lock parameters.
//
// Every bound in the config constrains the owner of the config.
type ChannelConfig struct {
	// DustLimit is the threshold (in satoshis) below which any outputs
	// should be trimmed. When an output is trimmed, it isn't materialized
	// as an actual output, but is instead burned to miner's fees.
	DustLimit btcutil.Amount

	// ChanReserve is an absolute reservation on the channel for the owner
	// of this set of constraints. This means that the current settled
	// balance for this node CANNOT dip below the reservation amount.
	ChanReserve btcutil.Amount

	// MaxPendingAmount is the maximum pending HTLC value that the owner of
	// these constraints can offer the remote node at a particular time.
	MaxPendingAmount lnwire.MilliSatoshi

	// MinHTLC is the minimum HTLC value that the owner of these
	// constraints can offer the remote node. If any HTLCs below this
	// amount are offered, then the HTLC will be rejected.
	MinHTLC lnwire.MilliSatoshi

	// MaxAcceptedHtlcs is the maximum number of HTLCs that the owner of
	// this set of constraints can offer the remote node.
	MaxAcceptedHtlcs uint16

	// CsvDelay is the relative time lock delay expressed in blocks. Any
	// settled outputs that pay to the owner of this channel configuration
	// MUST ensure that the delay branch uses this value as the relative
	// time lock.
	CsvDelay uint16

	// MultiSigKey is the key to be used within the 2-of-2 output script
	// for the owner of this channel config.
	MultiSigKey keychain.KeyDescriptor

	// RevocationBasePoint is the base public key to be used when deriving
	// revocation keys for the remote node's commitment transaction.
	RevocationBasePoint keychain.KeyDescriptor

	// PaymentBasePoint is the base public key to be used when deriving
	// the key used within the non-delayed pay-to-self output on the
	// commitment transaction for a node. Commitments use the static
	// remote key format, so the key is never tweaked.
	PaymentBasePoint keychain.KeyDescriptor

	// DelayBasePoint is the base public key to be used when deriving the
	// key used within the delayed pay-to-self output on the commitment
	// transaction for a node.
	DelayBasePoint keychain.KeyDescriptor

	// HtlcBasePoint is the base public key to be used when deriving the
	// local HTLC key.
	HtlcBasePoint keychain.KeyDescriptor
}

// writeChanConfig serializes the passed config.
func writeChanConfig(b io.Writer, c *ChannelConfig) error {
	return WriteElements(b,
		c.DustLimit, c.ChanReserve, c.MaxPendingAmount, c.MinHTLC,
		c.MaxAcceptedHtlcs, c.CsvDelay, c.MultiSigKey,
		c.RevocationBasePoint, c.PaymentBasePoint, c.DelayBasePoint,
		c.HtlcBasePoint,
	)
}

// readChanConfig reads a config written by writeChanConfig.
func readChanConfig(b io.Reader, c *ChannelConfig) error {
	return ReadElements(b,
		&c.DustLimit, &c.ChanReserve, &c.MaxPendingAmount, &c.MinHTLC,
		&c.MaxAcceptedHtlcs, &c.CsvDelay, &c.MultiSigKey,
		&c.RevocationBasePoint, &c.PaymentBasePoint, &c.DelayBasePoint,
		&c.HtlcBasePoint,
	)
}

// ChannelParams holds the static parameters of a channel. They are fixed once
// the funding flow completes and are everything a watcher needs, next to the
// monitor updates, to enforce the channel on chain.
type ChannelParams struct {
	// ChanPoint is the outpoint of the funding output.
	ChanPoint wire.OutPoint

	// Capacity is the total capacity of this channel.
	Capacity btcutil.Amount

	// IsInitiator is true if we funded the channel. The initiator pays
	// the commitment fee.
	IsInitiator bool

	// NumConfsRequired is the number of confirmations the funding output
	// needs before the channel can be used.
	NumConfsRequired uint16

	// FundingBroadcastHeight is the height at which the funding
	// transaction was broadcast, used as a height hint for chain scans.
	FundingBroadcastHeight uint32

	// LocalChanCfg is the channel configuration for the local node.
	LocalChanCfg ChannelConfig

	// RemoteChanCfg is the channel configuration for the remote node.
	RemoteChanCfg ChannelConfig
}

// ChanID returns the channel id derived from the funding outpoint.
func (p *ChannelParams) ChanID() lnwire.ChannelID {
	return lnwire.NewChanIDFromOutPoint(p.ChanPoint)
}

// Encode serializes the channel parameters.
func (p *ChannelParams) Encode(w io.Writer) error {
	err := WriteElements(w,
		p.ChanPoint, p.Capacity, p.IsInitiator, p.NumConfsRequired,
		p.FundingBroadcastHeight,
	)
	if err != nil {
		return err
	}

	if err := writeChanConfig(w, &p.LocalChanCfg); err != nil {
		return err
	}

	return writeChanConfig(w, &p.RemoteChanCfg)
}

// Decode reads channel parameters written by Encode.
func (p *ChannelParams) Decode(r io.Reader) error {
	err := ReadElements(r,
		&p.ChanPoint, &p.Capacity, &p.IsInitiator, &p.NumConfsRequired,
		&p.FundingBroadcastHeight,
	)
	if err != nil {
		return err
	}

	if err := readChanConfig(r, &p.LocalChanCfg); err != nil {
		return err
	}

	return readChanConfig(r, &p.RemoteChanCfg)
}

// HTLC is the on-disk representation of a hash time-locked contract. HTLCs
// are contained within ChannelCommitments which encode the current state of
// the commitment between state updates.
type HTLC struct {
	// Signature is the signature for the second level covenant
	// transaction for this HTLC. The second level transaction is a
	// timeout tx in the case that this is an outgoing HTLC, and a success
	// tx in the case that this is an incoming HTLC. It is only populated
	// for HTLCs on our own commitment transaction.
	Signature []byte

	// RHash is the payment hash of the HTLC.
	RHash [32]byte

	// Amt is the amount of milli-satoshis this HTLC escrows.
	Amt lnwire.MilliSatoshi

	// RefundTimeout is the absolute timeout on the HTLC that the sender
	// must wait before reclaiming the funds in limbo.
	RefundTimeout uint32

	// OutputIndex is the output index for this particular HTLC output
	// within the commitment transaction. It is -1 for trimmed HTLCs.
	OutputIndex int32

	// Incoming denotes whether we're the receiver or the sender of this
	// HTLC.
	Incoming bool

	// HtlcIndex is the HTLC counter index of this active, outstanding
	// HTLC. This differs from the LogIndex, as the HtlcIndex is only
	// incremented for each offered HTLC, while they LogIndex is
	// incremented for each update (includes settle+fail).
	HtlcIndex uint64
}

// Copy returns a full copy of the target HTLC.
func (h *HTLC) Copy() HTLC {
	clone := *h
	if h.Signature != nil {
		clone.Signature = make([]byte, len(h.Signature))
		copy(clone.Signature, h.Signature)
	}

	return clone
}

// SerializeHtlcs writes out the passed set of HTLC's into the passed writer
// using the current default on-disk serialization format.
func SerializeHtlcs(b io.Writer, htlcs ...HTLC) error {
	numHtlcs := uint16(len(htlcs))
	if err := WriteElement(b, numHtlcs); err != nil {
		return err
	}

	for _, htlc := range htlcs {
		err := WriteElements(b,
			htlc.Signature, htlc.RHash, htlc.Amt,
			htlc.RefundTimeout, htlc.OutputIndex, htlc.Incoming,
			htlc.HtlcIndex,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// DeserializeHtlcs attempts to read out a slice of HTLC's from the passed
// io.Reader. The bytes within the passed reader MUST have been previously
// written to using the SerializeHtlcs function.
func DeserializeHtlcs(r io.Reader) ([]HTLC, error) {
	var numHtlcs uint16
	if err := ReadElement(r, &numHtlcs); err != nil {
		return nil, err
	}

	var htlcs []HTLC
	if numHtlcs == 0 {
		return htlcs, nil
	}

	htlcs = make([]HTLC, numHtlcs)
	for i := uint16(0); i < numHtlcs; i++ {
		err := ReadElements(r,
			&htlcs[i].Signature, &htlcs[i].RHash, &htlcs[i].Amt,
			&htlcs[i].RefundTimeout, &htlcs[i].OutputIndex,
			&htlcs[i].Incoming, &htlcs[i].HtlcIndex,
		)
		if err != nil {
			return htlcs, err
		}
	}

	return htlcs, nil
}

// ChannelCommitment is a snapshot of the commitment state at a particular
// point in the commitment chain. With each state transition, a snapshot of
// the current state along with all non-settled HTLCs are recorded.
type ChannelCommitment struct {
	// CommitHeight is the update number that this ChannelDelta represents
	// the total number of commitment updates to this point. This can be
	// viewed as sort of a "commitment height" as this number is
	// monotonically increasing.
	CommitHeight uint64

	// LocalBalance is the current available settled balance within the
	// channel directly spendable by us, before the commitment fee is
	// deducted.
	LocalBalance lnwire.MilliSatoshi

	// RemoteBalance is the current available settled balance within the
	// channel directly spendable by the remote node, before the commitment
	// fee is deducted.
	RemoteBalance lnwire.MilliSatoshi

	// CommitFee is the amount calculated to be paid in fees for the
	// current set of commitment transactions, including trimmed dust.
	CommitFee btcutil.Amount

	// FeePerKw is the min satoshis/kilo-weight that should be paid within
	// the commitment transaction for the entire duration of the channel's
	// lifetime.
	FeePerKw btcutil.Amount

	// CommitTx is the latest version of the commitment state, broadcast
	// able by us. For remote commitments it is left unsigned.
	CommitTx *wire.MsgTx

	// CommitSig is one half of the signature required to fully complete
	// the script for the commitment transaction above. This is the
	// signature signed by the remote party for our version of the
	// commitment transactions.
	CommitSig []byte

	// Htlcs is the set of HTLC's that are pending at this particular
	// commitment height.
	Htlcs []HTLC
}

// Copy returns a deep copy of the commitment.
func (c *ChannelCommitment) Copy() ChannelCommitment {
	clone := *c
	if c.CommitTx != nil {
		clone.CommitTx = c.CommitTx.Copy()
	}
	if c.CommitSig != nil {
		clone.CommitSig = append([]byte(nil), c.CommitSig...)
	}

	clone.Htlcs = make([]HTLC, len(c.Htlcs))
	for i := range c.Htlcs {
		clone.Htlcs[i] = c.Htlcs[i].Copy()
	}

	return clone
}

// serializeChanCommit writes the commitment to w.
func serializeChanCommit(w io.Writer, c *ChannelCommitment) error {
	txBytes, err := serializeTx(c.CommitTx)
	if err != nil {
		return err
	}

	err = WriteElements(w,
		c.CommitHeight, c.LocalBalance, c.RemoteBalance, c.CommitFee,
		c.FeePerKw, txBytes, c.CommitSig,
	)
	if err != nil {
		return err
	}

	return SerializeHtlcs(w, c.Htlcs...)
}

// deserializeChanCommit reads a commitment written by serializeChanCommit.
func deserializeChanCommit(r io.Reader) (ChannelCommitment, error) {
	var (
		c       ChannelCommitment
		txBytes []byte
	)

	err := ReadElements(r,
		&c.CommitHeight, &c.LocalBalance, &c.RemoteBalance,
		&c.CommitFee, &c.FeePerKw, &txBytes, &c.CommitSig,
	)
	if err != nil {
		return c, err
	}

	c.CommitTx, err = deserializeTx(txBytes)
	if err != nil {
		return c, fmt.Errorf("unable to decode commit tx: %w", err)
	}

	c.Htlcs, err = DeserializeHtlcs(r)
	if err != nil {
		return c, err
	}

	return c, nil
}
