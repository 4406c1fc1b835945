package channeldb

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	updateIDType         tlv.Type = 0
	localCommitType      tlv.Type = 1
	remoteCommitType     tlv.Type = 2
	commitmentSecretType tlv.Type = 3
	preimagesType        tlv.Type = 4
	forceCloseType       tlv.Type = 5
)

// CommitmentUpdate carries a commitment together with the per-commitment
// point it was built with.
type CommitmentUpdate struct {
	// Commitment is the new commitment. For our own commitments the
	// remote party's signatures are included.
	Commitment ChannelCommitment

	// CommitPoint is the per-commitment point of the broadcaster that
	// the commitment keys were derived from.
	CommitPoint *btcec.PublicKey
}

// CommitmentSecret is a revocation secret handed to us by the remote party
// for one of its commitment heights.
type CommitmentSecret struct {
	// Height is the remote commitment height that was revoked.
	Height uint64

	// Secret is the per-commitment secret of that height.
	Secret [32]byte
}

// ForceClose instructs the watcher that the channel was force closed.
type ForceClose struct {
	// ShouldBroadcast is true if the watcher should broadcast the latest
	// local commitment.
	ShouldBroadcast bool
}

// ChannelMonitorUpdate is an incremental, ordered record of everything a
// channel watcher needs to enforce a channel. Updates are produced by the
// channel state machine and must be durably persisted before the protocol
// message that caused them leaves the node.
type ChannelMonitorUpdate struct {
	// UpdateID is a monotonically increasing number assigned by the
	// channel.
	UpdateID uint64

	// LocalCommitment is set when we received a new signed commitment.
	LocalCommitment fn.Option[CommitmentUpdate]

	// RemoteCommitment is set when we signed a new commitment for the
	// remote party.
	RemoteCommitment fn.Option[CommitmentUpdate]

	// CommitmentSecret is set when the remote party revoked a commitment.
	CommitmentSecret fn.Option[CommitmentSecret]

	// Preimages holds payment preimages learned off-chain.
	Preimages []lntypes.Preimage

	// ForceClose is set when the channel was force closed.
	ForceClose fn.Option[ForceClose]
}

// IsMetadataOnly returns true if the update carries no commitment data. Such
// updates are exempt from the commitment ordering rules of the watcher.
func (u *ChannelMonitorUpdate) IsMetadataOnly() bool {
	return u.LocalCommitment.IsNone() && u.RemoteCommitment.IsNone() &&
		u.CommitmentSecret.IsNone()
}

// String returns a short description of the update.
func (u *ChannelMonitorUpdate) String() string {
	var steps []string
	u.LocalCommitment.WhenSome(func(c CommitmentUpdate) {
		steps = append(steps, fmt.Sprintf("local_commit(%d)",
			c.Commitment.CommitHeight))
	})
	u.RemoteCommitment.WhenSome(func(c CommitmentUpdate) {
		steps = append(steps, fmt.Sprintf("remote_commit(%d)",
			c.Commitment.CommitHeight))
	})
	u.CommitmentSecret.WhenSome(func(s CommitmentSecret) {
		steps = append(steps, fmt.Sprintf("secret(%d)", s.Height))
	})
	if len(u.Preimages) > 0 {
		steps = append(steps, fmt.Sprintf("preimages(%d)",
			len(u.Preimages)))
	}
	u.ForceClose.WhenSome(func(f ForceClose) {
		steps = append(steps, fmt.Sprintf("force_close(broadcast=%v)",
			f.ShouldBroadcast))
	})

	return fmt.Sprintf("update(id=%d, %v)", u.UpdateID, steps)
}

// Digest returns the hash of the update's encoding. Two updates with the same
// id and digest are the same update.
func (u *ChannelMonitorUpdate) Digest() (chainhash.Hash, error) {
	var b bytes.Buffer
	if err := u.Encode(&b); err != nil {
		return chainhash.Hash{}, err
	}

	return sha256.Sum256(b.Bytes()), nil
}

// encodeCommitUpdate serializes a commitment update.
func encodeCommitUpdate(c *CommitmentUpdate) ([]byte, error) {
	var b bytes.Buffer
	if err := WriteElement(&b, c.CommitPoint); err != nil {
		return nil, err
	}
	if err := serializeChanCommit(&b, &c.Commitment); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeCommitUpdate parses a commitment update written by
// encodeCommitUpdate.
func decodeCommitUpdate(raw []byte) (CommitmentUpdate, error) {
	var (
		c CommitmentUpdate
		r = bytes.NewReader(raw)
	)

	if err := ReadElement(r, &c.CommitPoint); err != nil {
		return c, err
	}

	commit, err := deserializeChanCommit(r)
	if err != nil {
		return c, err
	}
	c.Commitment = commit

	return c, nil
}

// Encode writes the update to w as a TLV stream.
func (u *ChannelMonitorUpdate) Encode(w io.Writer) error {
	updateID := u.UpdateID
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(updateIDType, &updateID),
	}

	var (
		localBytes, remoteBytes, preimageBytes []byte
		secretBytes                            []byte
		forceClose                             uint8
		encodeErr                              error
	)

	u.LocalCommitment.WhenSome(func(c CommitmentUpdate) {
		localBytes, encodeErr = encodeCommitUpdate(&c)
	})
	if encodeErr != nil {
		return encodeErr
	}
	if u.LocalCommitment.IsSome() {
		records = append(records, tlv.MakePrimitiveRecord(
			localCommitType, &localBytes,
		))
	}

	u.RemoteCommitment.WhenSome(func(c CommitmentUpdate) {
		remoteBytes, encodeErr = encodeCommitUpdate(&c)
	})
	if encodeErr != nil {
		return encodeErr
	}
	if u.RemoteCommitment.IsSome() {
		records = append(records, tlv.MakePrimitiveRecord(
			remoteCommitType, &remoteBytes,
		))
	}

	u.CommitmentSecret.WhenSome(func(s CommitmentSecret) {
		var b bytes.Buffer
		encodeErr = WriteElements(&b, s.Height, s.Secret)
		secretBytes = b.Bytes()
	})
	if encodeErr != nil {
		return encodeErr
	}
	if u.CommitmentSecret.IsSome() {
		records = append(records, tlv.MakePrimitiveRecord(
			commitmentSecretType, &secretBytes,
		))
	}

	if len(u.Preimages) > 0 {
		for _, p := range u.Preimages {
			preimageBytes = append(preimageBytes, p[:]...)
		}
		records = append(records, tlv.MakePrimitiveRecord(
			preimagesType, &preimageBytes,
		))
	}

	u.ForceClose.WhenSome(func(f ForceClose) {
		forceClose = 1
		if f.ShouldBroadcast {
			forceClose = 2
		}
	})
	if u.ForceClose.IsSome() {
		records = append(records, tlv.MakePrimitiveRecord(
			forceCloseType, &forceClose,
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads an update written by Encode.
func (u *ChannelMonitorUpdate) Decode(r io.Reader) error {
	var (
		updateID                               uint64
		localBytes, remoteBytes, preimageBytes []byte
		secretBytes                            []byte
		forceClose                             uint8
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(updateIDType, &updateID),
		tlv.MakePrimitiveRecord(localCommitType, &localBytes),
		tlv.MakePrimitiveRecord(remoteCommitType, &remoteBytes),
		tlv.MakePrimitiveRecord(commitmentSecretType, &secretBytes),
		tlv.MakePrimitiveRecord(preimagesType, &preimageBytes),
		tlv.MakePrimitiveRecord(forceCloseType, &forceClose),
	)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	*u = ChannelMonitorUpdate{
		UpdateID: updateID,
	}

	if _, ok := parsed[localCommitType]; ok {
		c, err := decodeCommitUpdate(localBytes)
		if err != nil {
			return fmt.Errorf("local commitment: %w", err)
		}
		u.LocalCommitment = fn.Some(c)
	}

	if _, ok := parsed[remoteCommitType]; ok {
		c, err := decodeCommitUpdate(remoteBytes)
		if err != nil {
			return fmt.Errorf("remote commitment: %w", err)
		}
		u.RemoteCommitment = fn.Some(c)
	}

	if _, ok := parsed[commitmentSecretType]; ok {
		var s CommitmentSecret
		err := ReadElements(
			bytes.NewReader(secretBytes), &s.Height, &s.Secret,
		)
		if err != nil {
			return fmt.Errorf("commitment secret: %w", err)
		}
		u.CommitmentSecret = fn.Some(s)
	}

	if _, ok := parsed[preimagesType]; ok {
		if len(preimageBytes)%lntypes.PreimageSize != 0 {
			return fmt.Errorf("invalid preimage record length %d",
				len(preimageBytes))
		}

		for i := 0; i < len(preimageBytes); i += lntypes.PreimageSize {
			var p lntypes.Preimage
			copy(p[:], preimageBytes[i:i+lntypes.PreimageSize])
			u.Preimages = append(u.Preimages, p)
		}
	}

	if _, ok := parsed[forceCloseType]; ok {
		u.ForceClose = fn.Some(ForceClose{
			ShouldBroadcast: forceClose == 2,
		})
	}

	return nil
}
