package input

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessGenerator represents a function that is able to generate the final
// witness for a particular public key script. Additionally, if required, this
// function will also return the sigScript for spending nested P2SH witness
// outputs. This function acts as an abstraction layer, hiding the details of
// the underlying script.
type WitnessGenerator func(tx *wire.MsgTx, hc *txscript.TxSigHashes,
	inputIndex int) (*Script, error)

// WitnessType determines how an output's witness will be generated. Each
// type maps to exactly one spending path of one of the channel scripts.
type WitnessType uint16

const (
	// CommitmentTimeLock is a witness that allows us to spend our output
	// on our local commitment transaction after a relative lock-time
	// lockout.
	CommitmentTimeLock WitnessType = 0

	// CommitmentNoDelay is a witness that allows us to spend a settled
	// no-delay output immediately on a counterparty's commitment
	// transaction.
	CommitmentNoDelay WitnessType = 1

	// CommitmentRevoke is a witness that allows us to sweep the settled
	// output of a malicious counterparty's who broadcasts a revoked
	// commitment transaction.
	CommitmentRevoke WitnessType = 2

	// HtlcOfferedRevoke is a witness that allows us to sweep an HTLC which
	// we offered to the remote party in the case that they broadcast a
	// revoked commitment state.
	HtlcOfferedRevoke WitnessType = 3

	// HtlcAcceptedRevoke is a witness that allows us to sweep an HTLC
	// output sent to us in the case that the remote party broadcasts a
	// revoked commitment state.
	HtlcAcceptedRevoke WitnessType = 4

	// HtlcOfferedTimeoutSecondLevel is a witness that allows us to sweep
	// the output of a confirmed HTLC-timeout transaction after its CSV
	// delay.
	HtlcOfferedTimeoutSecondLevel WitnessType = 5

	// HtlcAcceptedSuccessSecondLevel is a witness that allows us to sweep
	// the output of a confirmed HTLC-success transaction after its CSV
	// delay.
	HtlcAcceptedSuccessSecondLevel WitnessType = 6

	// HtlcOfferedRemoteTimeout is a witness that allows us to sweep an
	// HTLC that we offered to the remote party which lies in the
	// commitment transaction of the remote party. We can spend this output
	// after the absolute CLTV timeout of the HTLC as passed.
	HtlcOfferedRemoteTimeout WitnessType = 7

	// HtlcAcceptedRemoteSuccess is a witness that allows us to sweep an
	// HTLC that was offered to us by the remote party. We use this witness
	// in the case that the remote party goes to chain, and we know the
	// pre-image to the HTLC. We can sweep this without any additional
	// timeout.
	HtlcAcceptedRemoteSuccess WitnessType = 8

	// HtlcSecondLevelRevoke is a witness that allows us to sweep an HTLC
	// from the remote party's commitment transaction in the case that the
	// broadcast a revoked commitment, but then also immediately attempt to
	// go to the second level to claim the HTLC.
	HtlcSecondLevelRevoke WitnessType = 9
)

// String returns a human readable version of the target WitnessType.
func (wt WitnessType) String() string {
	switch wt {
	case CommitmentTimeLock:
		return "CommitmentTimeLock"

	case CommitmentNoDelay:
		return "CommitmentNoDelay"

	case CommitmentRevoke:
		return "CommitmentRevoke"

	case HtlcOfferedRevoke:
		return "HtlcOfferedRevoke"

	case HtlcAcceptedRevoke:
		return "HtlcAcceptedRevoke"

	case HtlcOfferedTimeoutSecondLevel:
		return "HtlcOfferedTimeoutSecondLevel"

	case HtlcAcceptedSuccessSecondLevel:
		return "HtlcAcceptedSuccessSecondLevel"

	case HtlcOfferedRemoteTimeout:
		return "HtlcOfferedRemoteTimeout"

	case HtlcAcceptedRemoteSuccess:
		return "HtlcAcceptedRemoteSuccess"

	case HtlcSecondLevelRevoke:
		return "HtlcSecondLevelRevoke"

	default:
		return fmt.Sprintf("Unknown WitnessType: %v", uint32(wt))
	}
}

// IsRevoke returns true if the witness spends an output through its
// revocation clause.
func (wt WitnessType) IsRevoke() bool {
	switch wt {
	case CommitmentRevoke, HtlcOfferedRevoke, HtlcAcceptedRevoke,
		HtlcSecondLevelRevoke:

		return true
	}

	return false
}

// SizeUpperBound returns the maximum length of the witness of this witness
// type if it would be included in a tx.
func (wt WitnessType) SizeUpperBound() (int, error) {
	switch wt {
	// Outputs on a remote commitment transaction that pay directly to us.
	case CommitmentNoDelay:
		return P2WKHWitnessSize, nil

	// Outputs on a past commitment transaction that pay directly
	// to us.
	case CommitmentTimeLock:
		return ToLocalTimeoutWitnessSize, nil

	// Outgoing second layer HTLC's that have confirmed within the
	// chain, and the output they produced is now mature enough to
	// sweep.
	case HtlcOfferedTimeoutSecondLevel, HtlcAcceptedSuccessSecondLevel:
		return ToLocalTimeoutWitnessSize, nil

	// An HTLC on the commitment transaction of the remote party,
	// that has had its absolute timelock expire.
	case HtlcOfferedRemoteTimeout:
		return AcceptedHtlcTimeoutWitnessSize, nil

	// An HTLC on the commitment transaction of the remote party,
	// that can be swept with the preimage.
	case HtlcAcceptedRemoteSuccess:
		return OfferedHtlcSuccessWitnessSize, nil

	// The revocation output on a revoked commitment transaction.
	case CommitmentRevoke, HtlcSecondLevelRevoke:
		return ToLocalPenaltyWitnessSize, nil

	// The revocation output on a revoked HTLC that we offered to the
	// remote party. It sits in the accepted HTLC script of the remote
	// commitment.
	case HtlcOfferedRevoke:
		return AcceptedHtlcPenaltyWitnessSize, nil

	// The revocation output on a revoked HTLC that was sent to us. It
	// sits in the offered HTLC script of the remote commitment.
	case HtlcAcceptedRevoke:
		return OfferedHtlcPenaltyWitnessSize, nil
	}

	return 0, fmt.Errorf("unexpected witness type: %v", wt)
}

// WitnessGenerator will return a WitnessGenerator function that an output
// uses to generate the witness and optionally the sigScript for a sweep
// transaction. The sigHashes and SignDescriptor should be included in the
// generated witness. Preimage spends are built through HtlcSucceedInput, as
// the preimage is not part of the sign descriptor.
func (wt WitnessType) WitnessGenerator(signer Signer,
	descriptor *SignDescriptor) WitnessGenerator {

	return func(tx *wire.MsgTx, hc *txscript.TxSigHashes,
		inputIndex int) (*Script, error) {

		// Copy the descriptor so a generator can be reused across
		// several candidate sweep transactions.
		desc := *descriptor
		desc.SigHashes = hc
		desc.InputIndex = inputIndex

		var (
			witness wire.TxWitness
			err     error
		)
		switch wt {
		case CommitmentTimeLock, HtlcOfferedTimeoutSecondLevel,
			HtlcAcceptedSuccessSecondLevel:

			witness, err = CommitSpendTimeout(signer, &desc, tx)

		case CommitmentNoDelay:
			witness, err = CommitSpendNoDelay(signer, &desc, tx)

		case CommitmentRevoke, HtlcSecondLevelRevoke:
			witness, err = CommitSpendRevoke(signer, &desc, tx)

		case HtlcOfferedRevoke:
			witness, err = ReceiverHtlcSpendRevoke(signer, &desc, tx)

		case HtlcAcceptedRevoke:
			witness, err = SenderHtlcSpendRevoke(signer, &desc, tx)

		case HtlcOfferedRemoteTimeout:
			// The locktime of the sweep transaction was already
			// set by the caller.
			witness, err = ReceiverHtlcSpendTimeout(
				signer, &desc, tx, -1,
			)

		default:
			return nil, fmt.Errorf("unknown witness type: %v", wt)
		}
		if err != nil {
			return nil, err
		}

		return &Script{
			Witness: witness,
		}, nil
	}
}
