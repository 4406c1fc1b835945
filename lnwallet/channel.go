package lnwallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnutils"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultMinExpiryDelta is the minimum number of blocks an offered HTLC must
// stay in flight before it expires.
const DefaultMinExpiryDelta = 13

// ChannelStatus is the lifecycle state of a channel.
type ChannelStatus uint8

const (
	// AwaitingFundingCreated is the state of a channel whose initial
	// commitments haven't been signed yet.
	AwaitingFundingCreated ChannelStatus = iota

	// AwaitingFundingLocked is the state of a channel with signed initial
	// commitments waiting for the channel_ready exchange.
	AwaitingFundingLocked

	// Normal is the state of an open channel.
	Normal

	// AwaitingShutdown is the state of a channel after a shutdown was
	// sent or received, while HTLCs are drained.
	AwaitingShutdown

	// AwaitingClosingSigned is the state of a channel negotiating the
	// closing fee.
	AwaitingClosingSigned

	// Closed is the state of a cooperatively closed channel.
	Closed

	// ForceClosed is the terminal state of a channel that was closed
	// unilaterally.
	ForceClosed
)

// String returns a human readable channel status.
func (s ChannelStatus) String() string {
	switch s {
	case AwaitingFundingCreated:
		return "AwaitingFundingCreated"
	case AwaitingFundingLocked:
		return "AwaitingFundingLocked"
	case Normal:
		return "Normal"
	case AwaitingShutdown:
		return "AwaitingShutdown"
	case AwaitingClosingSigned:
		return "AwaitingClosingSigned"
	case Closed:
		return "Closed"
	case ForceClosed:
		return "ForceClosed"
	default:
		return fmt.Sprintf("ChannelStatus(%d)", uint8(s))
	}
}

// ChannelState is the negotiated starting state of a channel.
type ChannelState struct {
	channeldb.ChannelParams

	// FeePerKw is the commitment fee rate.
	FeePerKw chainfee.SatPerKWeight

	// LocalBalance and RemoteBalance are the initial balances before the
	// commitment fee.
	LocalBalance  lnwire.MilliSatoshi
	RemoteBalance lnwire.MilliSatoshi

	// RemoteCommitPoint is the first per-commitment point of the remote
	// party.
	RemoteCommitPoint *btcec.PublicKey
}

// channelOpts holds the optional settings of a channel.
type channelOpts struct {
	minExpiryDelta uint32
	bestHeight     uint32
}

// ChannelOpt is a functional option of NewLightningChannel.
type ChannelOpt func(*channelOpts)

// WithMinExpiryDelta sets the minimum distance between the best height and
// the expiry of an HTLC we offer.
func WithMinExpiryDelta(delta uint32) ChannelOpt {
	return func(o *channelOpts) {
		o.minExpiryDelta = delta
	}
}

// WithBestHeight sets the initial best height of the chain.
func WithBestHeight(height uint32) ChannelOpt {
	return func(o *channelOpts) {
		o.bestHeight = height
	}
}

// htlcView represents the "active" HTLCs at a particular point within the
// history of the HTLC update log.
type htlcView struct {
	ourUpdates   []*PaymentDescriptor
	theirUpdates []*PaymentDescriptor
}

// LightningChannel implements the state machine of a single payment channel.
// Each state transition returns the protocol message to send and, where the
// watcher needs to learn about it, a ChannelMonitorUpdate that must be
// persisted before the message leaves the node.
//
// The channel never spawns goroutines. All methods are safe for concurrent
// use.
type LightningChannel struct {
	// Signer is the channel's signing capability.
	Signer ChannelSigner

	state *ChannelState

	builder *CommitmentBuilder

	status ChannelStatus

	// localCommitChain is our chain of commitments, extended by the
	// remote party's commit_sig.
	localCommitChain *commitmentChain

	// remoteCommitChain is the remote party's chain of commitments,
	// extended by our commit_sig.
	remoteCommitChain *commitmentChain

	// localUpdateLog holds the updates we proposed, remoteUpdateLog the
	// ones proposed by the remote party.
	localUpdateLog  *updateLog
	remoteUpdateLog *updateLog

	// remoteCurrentRevocation is the point of the remote tail commitment
	// and remoteNextRevocation the point for the next one.
	remoteCurrentRevocation *btcec.PublicKey
	remoteNextRevocation    *btcec.PublicKey

	// revocationStore holds the secrets revealed by the remote party.
	revocationStore *shachain.RevocationStore

	updateID uint64

	bestHeight     uint32
	minExpiryDelta uint32

	sentChannelReady bool
	recvChannelReady bool

	localShutdownScript  lnwire.DeliveryAddress
	remoteShutdownScript lnwire.DeliveryAddress

	log btclog.Logger

	sync.RWMutex
}

// NewLightningChannel creates a new channel from its negotiated state. The
// initial commitments of both parties are built right away, an unfundable
// state fails with ErrInsufficientFunds.
func NewLightningChannel(signer ChannelSigner, state *ChannelState,
	opts ...ChannelOpt) (*LightningChannel, error) {

	cfg := &channelOpts{
		minExpiryDelta: DefaultMinExpiryDelta,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	err := ValidateChannelConfig(&state.LocalChanCfg, state.Capacity)
	if err != nil {
		return nil, fmt.Errorf("invalid local config: %w", err)
	}
	err = ValidateChannelConfig(&state.RemoteChanCfg, state.Capacity)
	if err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}

	builder, err := NewCommitmentBuilder(&state.ChannelParams)
	if err != nil {
		return nil, err
	}

	localPoint, err := signer.PerCommitmentPoint(0)
	if err != nil {
		return nil, err
	}

	pair, err := builder.BuildCommitmentPair(
		0, localPoint, state.RemoteCommitPoint, state.LocalBalance,
		state.RemoteBalance, state.FeePerKw, nil,
	)
	if err != nil {
		return nil, err
	}

	logPrefix := fmt.Sprintf("ChannelPoint(%v):", state.ChanPoint)

	lc := &LightningChannel{
		Signer:                  signer,
		state:                   state,
		builder:                 builder,
		status:                  AwaitingFundingCreated,
		localCommitChain:        newCommitmentChain(),
		remoteCommitChain:       newCommitmentChain(),
		localUpdateLog:          newUpdateLog(0, 0),
		remoteUpdateLog:         newUpdateLog(0, 0),
		remoteCurrentRevocation: state.RemoteCommitPoint,
		revocationStore:         shachain.NewRevocationStore(),
		bestHeight:              cfg.bestHeight,
		minExpiryDelta:          cfg.minExpiryDelta,
		log:                     walletLog.WithPrefix(logPrefix),
	}
	lc.localCommitChain.addCommitment(&commitment{Commitment: pair.Local})
	lc.remoteCommitChain.addCommitment(&commitment{Commitment: pair.Remote})

	return lc, nil
}

// ChannelPoint returns the outpoint of the funding output.
func (lc *LightningChannel) ChannelPoint() wire.OutPoint {
	return lc.state.ChanPoint
}

// ChanID returns the channel id.
func (lc *LightningChannel) ChanID() lnwire.ChannelID {
	return lc.state.ChanID()
}

// IsInitiator returns true if we funded the channel.
func (lc *LightningChannel) IsInitiator() bool {
	return lc.state.IsInitiator
}

// Params returns the static channel parameters.
func (lc *LightningChannel) Params() *channeldb.ChannelParams {
	return &lc.state.ChannelParams
}

// Capacity returns the channel capacity.
func (lc *LightningChannel) Capacity() btcutil.Amount {
	return lc.state.Capacity
}

// Status returns the lifecycle state of the channel.
func (lc *LightningChannel) Status() ChannelStatus {
	lc.RLock()
	defer lc.RUnlock()

	return lc.status
}

// StateHintObfuscator returns the obfuscator of the commitment numbers.
func (lc *LightningChannel) StateHintObfuscator() [StateHintSize]byte {
	return lc.builder.StateHintObfuscator()
}

// FundingScript returns the witness script of the funding output.
func (lc *LightningChannel) FundingScript() []byte {
	return lc.builder.FundingScript()
}

// CommitBalances returns our and their settled balance before fees as of the
// latest local commitment.
func (lc *LightningChannel) CommitBalances() (lnwire.MilliSatoshi,
	lnwire.MilliSatoshi) {

	lc.RLock()
	defer lc.RUnlock()

	tip := lc.localCommitChain.tip()

	return tip.OurBalance, tip.TheirBalance
}

// ActiveHtlcs returns the HTLCs of the latest local commitment.
func (lc *LightningChannel) ActiveHtlcs() []HTLC {
	lc.RLock()
	defer lc.RUnlock()

	tip := lc.localCommitChain.tip()
	htlcs := make([]HTLC, 0, len(tip.Htlcs))
	for _, htlc := range tip.Htlcs {
		htlcs = append(htlcs, htlc.HTLC)
	}

	return htlcs
}

// CommitHeights returns the heights of the tails of the local and remote
// commitment chains.
func (lc *LightningChannel) CommitHeights() (uint64, uint64) {
	lc.RLock()
	defer lc.RUnlock()

	return lc.localCommitChain.tail().Height,
		lc.remoteCommitChain.tail().Height
}

// LocalCommitment returns the latest local commitment.
func (lc *LightningChannel) LocalCommitment() *Commitment {
	lc.RLock()
	defer lc.RUnlock()

	return lc.localCommitChain.tip().Commitment
}

// RemoteCommitment returns the latest remote commitment.
func (lc *LightningChannel) RemoteCommitment() *Commitment {
	lc.RLock()
	defer lc.RUnlock()

	return lc.remoteCommitChain.tip().Commitment
}

// NotifyBlockHeight updates the best known height of the chain.
func (lc *LightningChannel) NotifyBlockHeight(height uint32) {
	lc.Lock()
	defer lc.Unlock()

	lc.bestHeight = height
}

// newUpdate returns an empty monitor update with the next update id.
func (lc *LightningChannel) newUpdate() *channeldb.ChannelMonitorUpdate {
	lc.updateID++

	return &channeldb.ChannelMonitorUpdate{
		UpdateID: lc.updateID,
	}
}

// PreimageUpdate returns a metadata-only update handing preimages to the
// watcher. It can be produced in any state, including after the channel was
// closed.
func (lc *LightningChannel) PreimageUpdate(
	preimages ...lntypes.Preimage) *channeldb.ChannelMonitorUpdate {

	lc.Lock()
	defer lc.Unlock()

	update := lc.newUpdate()
	update.Preimages = preimages

	return update
}

// failChannel moves the channel to ForceClosed after a protocol violation
// and returns the violation, carrying the update that makes the watcher
// broadcast our latest commitment.
func (lc *LightningChannel) failChannel(err error) error {
	lc.log.Errorf("Protocol violation, force closing: %v", err)

	lc.status = ForceClosed

	update := lc.newUpdate()
	update.ForceClose = fn.Some(channeldb.ForceClose{
		ShouldBroadcast: true,
	})

	return &ProtocolViolation{
		Err:    err,
		Update: update,
	}
}

// ForceClose unilaterally closes the channel. The returned update instructs
// the watcher to broadcast our latest commitment.
func (lc *LightningChannel) ForceClose() (*channeldb.ChannelMonitorUpdate,
	error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.status == ForceClosed || lc.status == Closed {
		return nil, fmt.Errorf("%w: channel is %v", ErrInvalidState,
			lc.status)
	}

	lc.log.Infof("Force closing channel at local height %v",
		lc.localCommitChain.tail().Height)

	lc.status = ForceClosed

	update := lc.newUpdate()
	update.ForceClose = fn.Some(channeldb.ForceClose{
		ShouldBroadcast: true,
	})

	return update, nil
}

// MarkClosedOnChain records that a transaction spending the funding output
// confirmed. The channel can't carry updates anymore, the monitor resolves
// what is left on chain.
func (lc *LightningChannel) MarkClosedOnChain(cooperative bool) {
	lc.Lock()
	defer lc.Unlock()

	if lc.status == ForceClosed || lc.status == Closed {
		return
	}

	lc.log.Infof("Channel closed on chain in %v", lc.status)

	if cooperative {
		lc.status = Closed
		return
	}
	lc.status = ForceClosed
}

// signFundingSpend signs a transaction spending the funding output and
// returns the signature in wire form.
func (lc *LightningChannel) signFundingSpend(tx *wire.MsgTx) (lnwire.Sig,
	error) {

	sig, err := lc.Signer.SignCommitment(
		tx, lc.builder.FundingScript(), lc.state.Capacity,
	)
	if err != nil {
		return lnwire.Sig{}, err
	}

	return lnwire.NewSigFromDER(sig.Serialize())
}

// verifyCommitSig checks the remote party's signature of one of our
// commitments.
func (lc *LightningChannel) verifyCommitSig(commit *Commitment,
	sig lnwire.Sig) error {

	sigHash, err := lc.builder.CommitSigHash(commit.Tx)
	if err != nil {
		return err
	}

	remoteSig, err := sig.ToSignature()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommitSig, err)
	}

	remoteKey := lc.state.RemoteChanCfg.MultiSigKey.PubKey
	if !remoteSig.Verify(sigHash, remoteKey) {
		return fmt.Errorf("%w: height %v", ErrInvalidCommitSig,
			commit.Height)
	}

	return nil
}

// toDiskLocalCommit converts one of our commitments, including the remote
// party's signatures, into its monitor form.
func toDiskLocalCommit(c *commitment) (channeldb.ChannelCommitment, error) {
	disk := c.ToDiskCommit()

	commitSig, err := c.sig.ToSignature()
	if err != nil {
		return disk, err
	}
	disk.CommitSig = commitSig.Serialize()

	for i := range disk.Htlcs {
		htlc := &disk.Htlcs[i]
		sig, ok := c.htlcSigs[htlc.OutputIndex]
		if !ok {
			continue
		}

		htlcSig, err := sig.ToSignature()
		if err != nil {
			return disk, err
		}
		htlc.Signature = htlcSig.Serialize()
	}

	return disk, nil
}

// ProposeFunding signs the initial remote commitment. It is called by the
// initiator once the funding transaction is known.
func (lc *LightningChannel) ProposeFunding(
	pendingChanID [32]byte) (*lnwire.FundingCreated, error) {

	lc.Lock()
	defer lc.Unlock()

	if !lc.state.IsInitiator || lc.status != AwaitingFundingCreated {
		return nil, fmt.Errorf("%w: unable to propose funding as "+
			"initiator=%v in %v", ErrInvalidState,
			lc.state.IsInitiator, lc.status)
	}

	sig, err := lc.signFundingSpend(lc.remoteCommitChain.tip().Tx)
	if err != nil {
		return nil, err
	}

	return &lnwire.FundingCreated{
		PendingChannelID: pendingChanID,
		FundingPoint:     lc.state.ChanPoint,
		CommitSig:        sig,
	}, nil
}

// initialUpdate returns the update carrying both initial commitments.
func (lc *LightningChannel) initialUpdate() (*channeldb.ChannelMonitorUpdate,
	error) {

	local := lc.localCommitChain.tip()
	localDisk, err := toDiskLocalCommit(local)
	if err != nil {
		return nil, err
	}

	remote := lc.remoteCommitChain.tip()

	update := lc.newUpdate()
	update.LocalCommitment = fn.Some(channeldb.CommitmentUpdate{
		Commitment:  localDisk,
		CommitPoint: local.KeyRing.CommitPoint,
	})
	update.RemoteCommitment = fn.Some(channeldb.CommitmentUpdate{
		Commitment:  remote.ToDiskCommit(),
		CommitPoint: remote.KeyRing.CommitPoint,
	})

	return update, nil
}

// ReceiveFundingCreated processes the initiator's signature of our initial
// commitment and returns our signature of theirs.
func (lc *LightningChannel) ReceiveFundingCreated(
	msg *lnwire.FundingCreated) (*lnwire.FundingSigned,
	*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.state.IsInitiator || lc.status != AwaitingFundingCreated {
		return nil, nil, fmt.Errorf("%w: unexpected funding_created "+
			"in %v", ErrInvalidState, lc.status)
	}

	if msg.FundingPoint != lc.state.ChanPoint {
		return nil, nil, fmt.Errorf("funding point %v doesn't match "+
			"channel point %v", msg.FundingPoint, lc.state.ChanPoint)
	}

	local := lc.localCommitChain.tip()
	if err := lc.verifyCommitSig(local.Commitment, msg.CommitSig); err != nil {
		return nil, nil, err
	}
	local.sig = msg.CommitSig

	sig, err := lc.signFundingSpend(lc.remoteCommitChain.tip().Tx)
	if err != nil {
		return nil, nil, err
	}

	update, err := lc.initialUpdate()
	if err != nil {
		return nil, nil, err
	}

	lc.status = AwaitingFundingLocked

	return &lnwire.FundingSigned{
		ChanID:    lc.state.ChanID(),
		CommitSig: sig,
	}, update, nil
}

// ReceiveFundingSigned processes the responder's signature of our initial
// commitment.
func (lc *LightningChannel) ReceiveFundingSigned(
	msg *lnwire.FundingSigned) (*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if !lc.state.IsInitiator || lc.status != AwaitingFundingCreated {
		return nil, fmt.Errorf("%w: unexpected funding_signed in %v",
			ErrInvalidState, lc.status)
	}

	local := lc.localCommitChain.tip()
	if err := lc.verifyCommitSig(local.Commitment, msg.CommitSig); err != nil {
		return nil, err
	}
	local.sig = msg.CommitSig

	update, err := lc.initialUpdate()
	if err != nil {
		return nil, err
	}

	lc.status = AwaitingFundingLocked

	return update, nil
}

// maybeMarkOpen moves the channel to Normal once channel_ready was both sent
// and received.
func (lc *LightningChannel) maybeMarkOpen() {
	if lc.sentChannelReady && lc.recvChannelReady &&
		lc.status == AwaitingFundingLocked {

		lc.log.Infof("Channel is open")
		lc.status = Normal
	}
}

// ChannelReady returns our channel_ready message, carrying the commitment
// point of our next commitment. It is sent once the funding output is deep
// enough.
func (lc *LightningChannel) ChannelReady() (*lnwire.ChannelReady, error) {
	lc.Lock()
	defer lc.Unlock()

	if lc.status != AwaitingFundingLocked {
		return nil, fmt.Errorf("%w: unable to send channel_ready in %v",
			ErrInvalidState, lc.status)
	}

	nextPoint, err := lc.Signer.PerCommitmentPoint(1)
	if err != nil {
		return nil, err
	}

	lc.sentChannelReady = true
	lc.maybeMarkOpen()

	return &lnwire.ChannelReady{
		ChanID:                 lc.state.ChanID(),
		NextPerCommitmentPoint: nextPoint,
	}, nil
}

// ReceiveChannelReady processes the remote party's channel_ready.
func (lc *LightningChannel) ReceiveChannelReady(msg *lnwire.ChannelReady) error {
	lc.Lock()
	defer lc.Unlock()

	if lc.status != AwaitingFundingLocked {
		return fmt.Errorf("%w: unexpected channel_ready in %v",
			ErrInvalidState, lc.status)
	}

	if msg.NextPerCommitmentPoint == nil {
		return fmt.Errorf("%w: channel_ready without commitment point",
			ErrNoRevocationPoint)
	}

	lc.remoteNextRevocation = msg.NextPerCommitmentPoint
	lc.recvChannelReady = true
	lc.maybeMarkOpen()

	return nil
}

// fetchHTLCView returns all the candidate HTLC updates which should be
// considered for inclusion within a commitment based on the passed HTLC log
// indexes.
func (lc *LightningChannel) fetchHTLCView(theirLogIndex,
	ourLogIndex uint64) *htlcView {

	var ourHTLCs []*PaymentDescriptor
	lc.localUpdateLog.forEachUpdate(func(pd *PaymentDescriptor) {
		// This HTLC is active from this point-of-view iff the log
		// index of the state update is below the specified index in
		// our update log.
		if pd.LogIndex < ourLogIndex {
			ourHTLCs = append(ourHTLCs, pd)
		}
	})

	var theirHTLCs []*PaymentDescriptor
	lc.remoteUpdateLog.forEachUpdate(func(pd *PaymentDescriptor) {
		// If this is an incoming change, then it is only active from
		// this point-of-view if the index of the HTLC addition in
		// their log is below the specified view index.
		if pd.LogIndex < theirLogIndex {
			theirHTLCs = append(theirHTLCs, pd)
		}
	})

	return &htlcView{
		ourUpdates:   ourHTLCs,
		theirUpdates: theirHTLCs,
	}
}

// evaluateHTLCView processes all update entries in both HTLC update logs,
// producing a final view which is the result of properly applying all adds,
// settles and fails found in the passed view. The balances start from the
// tip of the chain of whoseCommit and are only modified by entries that
// aren't yet included in that chain. The logs themselves are never mutated.
func evaluateHTLCView(view *htlcView, ourBalance,
	theirBalance lnwire.MilliSatoshi,
	whoseCommit lntypes.ChannelParty) (int64, int64, *htlcView) {

	ourBal, theirBal := int64(ourBalance), int64(theirBalance)
	newView := &htlcView{}

	// We use two maps, one for the local log and one for the remote log
	// to keep track of which entries we need to skip when creating the
	// final htlc view. We skip an entry whenever we find a settle or a
	// fail entry that references an add entry.
	skipUs := make(map[uint64]struct{})
	skipThem := make(map[uint64]struct{})

	// First we run through non-add entries in both logs, populating the
	// skip sets and mutating the current chain state (crediting balances,
	// etc) to reflect the settle/fail entries.
	for _, entry := range view.ourUpdates {
		if entry.EntryType == Add {
			continue
		}

		// Our settles and fails remove HTLCs the remote party
		// offered.
		skipThem[entry.ParentIndex] = struct{}{}

		if entry.removeCommitHeights.GetForParty(whoseCommit) != 0 {
			continue
		}

		amt := int64(entry.Amount)
		if entry.EntryType == Settle {
			ourBal += amt
		} else {
			theirBal += amt
		}
	}
	for _, entry := range view.theirUpdates {
		if entry.EntryType == Add {
			continue
		}

		// Their settles and fails remove HTLCs we offered.
		skipUs[entry.ParentIndex] = struct{}{}

		if entry.removeCommitHeights.GetForParty(whoseCommit) != 0 {
			continue
		}

		amt := int64(entry.Amount)
		if entry.EntryType == Settle {
			theirBal += amt
		} else {
			ourBal += amt
		}
	}

	// Next we take a second pass through all the log entries, skipping
	// any settled HTLCs, and debiting the chain state balance due to any
	// newly added HTLCs.
	for _, entry := range view.ourUpdates {
		if entry.EntryType != Add {
			continue
		}
		if _, ok := skipUs[entry.HtlcIndex]; ok {
			continue
		}

		if entry.addCommitHeights.GetForParty(whoseCommit) == 0 {
			ourBal -= int64(entry.Amount)
		}
		newView.ourUpdates = append(newView.ourUpdates, entry)
	}
	for _, entry := range view.theirUpdates {
		if entry.EntryType != Add {
			continue
		}
		if _, ok := skipThem[entry.HtlcIndex]; ok {
			continue
		}

		if entry.addCommitHeights.GetForParty(whoseCommit) == 0 {
			theirBal -= int64(entry.Amount)
		}
		newView.theirUpdates = append(newView.theirUpdates, entry)
	}

	return ourBal, theirBal, newView
}

// markUpdatesIncluded records that every update of the view is part of the
// commitment of whoseCommit at the given height.
func markUpdatesIncluded(view *htlcView, whoseCommit lntypes.ChannelParty,
	height uint64) {

	mark := func(pd *PaymentDescriptor) {
		if pd.EntryType == Add {
			if pd.addCommitHeights.GetForParty(whoseCommit) == 0 {
				pd.addCommitHeights.SetForParty(
					whoseCommit, height,
				)
			}

			return
		}

		if pd.removeCommitHeights.GetForParty(whoseCommit) == 0 {
			pd.removeCommitHeights.SetForParty(whoseCommit, height)
		}
	}

	for _, pd := range view.ourUpdates {
		mark(pd)
	}
	for _, pd := range view.theirUpdates {
		mark(pd)
	}
}

// commitChain returns the commitment chain of a party.
func (lc *LightningChannel) commitChain(
	whoseCommit lntypes.ChannelParty) *commitmentChain {

	if whoseCommit.IsLocal() {
		return lc.localCommitChain
	}

	return lc.remoteCommitChain
}

// fetchCommitmentView builds the next commitment of whoseCommit including our
// updates up to ourLogIndex and theirs up to theirLogIndex. The returned view
// holds every update the commitment covers.
func (lc *LightningChannel) fetchCommitmentView(
	whoseCommit lntypes.ChannelParty, ourLogIndex, ourHtlcIndex,
	theirLogIndex, theirHtlcIndex uint64,
	commitPoint *btcec.PublicKey) (*commitment, *htlcView, error) {

	tip := lc.commitChain(whoseCommit).tip()
	nextHeight := tip.Height + 1

	view := lc.fetchHTLCView(theirLogIndex, ourLogIndex)
	ourBal, theirBal, filtered := evaluateHTLCView(
		view, tip.OurBalance, tip.TheirBalance, whoseCommit,
	)
	if ourBal < 0 || theirBal < 0 {
		return nil, nil, fmt.Errorf("%w: our balance %v, their "+
			"balance %v", ErrInsufficientFunds, ourBal, theirBal)
	}

	htlcs := make(
		[]HTLC, 0, len(filtered.ourUpdates)+len(filtered.theirUpdates),
	)
	for _, pd := range filtered.ourUpdates {
		htlcs = append(htlcs, pd.toHTLC(false))
	}
	for _, pd := range filtered.theirUpdates {
		htlcs = append(htlcs, pd.toHTLC(true))
	}

	built, err := lc.builder.BuildCommitment(
		whoseCommit, nextHeight, commitPoint,
		lnwire.MilliSatoshi(ourBal), lnwire.MilliSatoshi(theirBal),
		lc.state.FeePerKw, htlcs,
	)
	if err != nil {
		return nil, nil, err
	}

	lc.log.Tracef("Extending %v commitment chain to height %v, "+
		"our_log_index=%v, their_log_index=%v: %v", whoseCommit,
		nextHeight, ourLogIndex, theirLogIndex,
		lnutils.SpewLogClosure(built.Tx))

	return &commitment{
		Commitment:        built,
		ourMessageIndex:   ourLogIndex,
		theirMessageIndex: theirLogIndex,
		ourHtlcIndex:      ourHtlcIndex,
		theirHtlcIndex:    theirHtlcIndex,
	}, view, nil
}

// validateCommitmentSanity checks that adding the predicted HTLC keeps the
// commitment of whoseCommit within the limits the proposer agreed to. The
// logs are not modified.
func (lc *LightningChannel) validateCommitmentSanity(
	whoseCommit, proposer lntypes.ChannelParty,
	predictAdd *PaymentDescriptor) error {

	view := lc.fetchHTLCView(
		lc.remoteUpdateLog.logIndex, lc.localUpdateLog.logIndex,
	)
	if proposer.IsLocal() {
		view.ourUpdates = append(view.ourUpdates, predictAdd)
	} else {
		view.theirUpdates = append(view.theirUpdates, predictAdd)
	}

	tip := lc.commitChain(whoseCommit).tip()
	ourBal, theirBal, filtered := evaluateHTLCView(
		view, tip.OurBalance, tip.TheirBalance, whoseCommit,
	)

	dustLimit := lc.state.LocalChanCfg.DustLimit
	if whoseCommit.IsRemote() {
		dustLimit = lc.state.RemoteChanCfg.DustLimit
	}

	var numHTLCs int64
	countUntrimmed := func(updates []*PaymentDescriptor, incoming bool) {
		for _, pd := range updates {
			if !HtlcIsDust(incoming, whoseCommit, lc.state.FeePerKw,
				pd.Amount.ToSatoshis(), dustLimit) {

				numHTLCs++
			}
		}
	}
	countUntrimmed(filtered.ourUpdates, false)
	countUntrimmed(filtered.theirUpdates, true)

	fee := lc.state.FeePerKw.FeeForWeight(
		input.CommitWeight + input.HTLCWeight*numHTLCs,
	)
	feeMSat := int64(lnwire.NewMSatFromSatoshis(fee))

	if lc.state.IsInitiator {
		ourBal -= feeMSat
	} else {
		theirBal -= feeMSat
	}

	proposerCfg := &lc.state.LocalChanCfg
	proposerBal := ourBal
	proposerUpdates := filtered.ourUpdates
	if proposer.IsRemote() {
		proposerCfg = &lc.state.RemoteChanCfg
		proposerBal = theirBal
		proposerUpdates = filtered.theirUpdates
	}

	if ourBal < 0 || theirBal < 0 {
		return fmt.Errorf("%w: balances after fee %v are %v/%v",
			ErrExceedsCapacity, fee, ourBal, theirBal)
	}

	reserve := int64(lnwire.NewMSatFromSatoshis(proposerCfg.ChanReserve))
	if proposerBal < reserve {
		return fmt.Errorf("%w: balance %v would dip below reserve %v",
			ErrExceedsCapacity, lnwire.MilliSatoshi(proposerBal),
			proposerCfg.ChanReserve)
	}

	if len(proposerUpdates) > int(proposerCfg.MaxAcceptedHtlcs) {
		return fmt.Errorf("%w: %v htlcs in flight, max is %v",
			ErrExceedsCapacity, len(proposerUpdates),
			proposerCfg.MaxAcceptedHtlcs)
	}

	var inFlight lnwire.MilliSatoshi
	for _, pd := range proposerUpdates {
		inFlight += pd.Amount
	}
	if inFlight > proposerCfg.MaxPendingAmount {
		return fmt.Errorf("%w: %v in flight, max is %v",
			ErrExceedsCapacity, inFlight,
			proposerCfg.MaxPendingAmount)
	}

	return nil
}

// validateAddHtlc checks an HTLC proposed by the given party against the
// channel limits of that party, on both prospective commitments.
func (lc *LightningChannel) validateAddHtlc(pd *PaymentDescriptor,
	proposer lntypes.ChannelParty) error {

	if proposer.IsLocal() &&
		pd.Timeout < lc.bestHeight+lc.minExpiryDelta {

		return fmt.Errorf("%w: expiry %v, best height %v, min delta "+
			"%v", ErrExpiryTooSoon, pd.Timeout, lc.bestHeight,
			lc.minExpiryDelta)
	}

	cfg := &lc.state.LocalChanCfg
	if proposer.IsRemote() {
		cfg = &lc.state.RemoteChanCfg
	}
	if pd.Amount == 0 || pd.Amount < cfg.MinHTLC {
		return fmt.Errorf("%w: amount %v, min htlc %v",
			ErrBelowDustLimit, pd.Amount, cfg.MinHTLC)
	}

	for _, whoseCommit := range []lntypes.ChannelParty{
		lntypes.Remote, lntypes.Local,
	} {

		err := lc.validateCommitmentSanity(whoseCommit, proposer, pd)
		if err != nil {
			return err
		}
	}

	return nil
}

// canAddHtlcs returns an error if HTLCs can't be added in the current state.
func (lc *LightningChannel) canAddHtlcs() error {
	switch lc.status {
	case Normal:
		return nil

	case AwaitingShutdown, AwaitingClosingSigned:
		return ErrChanClosing

	default:
		return fmt.Errorf("%w: unable to add htlc in %v",
			ErrInvalidState, lc.status)
	}
}

// AddHTLC adds an HTLC to our update log. On success the ID and channel of
// the passed message are set and it can be sent to the remote party. A
// rejected HTLC leaves the channel untouched.
func (lc *LightningChannel) AddHTLC(htlc *lnwire.UpdateAddHTLC) (uint64,
	error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canAddHtlcs(); err != nil {
		return 0, err
	}

	pd := &PaymentDescriptor{
		ChanID:    lc.state.ChanID(),
		EntryType: Add,
		RHash:     htlc.PaymentHash,
		Timeout:   htlc.Expiry,
		Amount:    htlc.Amount,
		LogIndex:  lc.localUpdateLog.logIndex,
		HtlcIndex: lc.localUpdateLog.htlcCounter,
		OnionBlob: htlc.OnionBlob,
	}

	if err := lc.validateAddHtlc(pd, lntypes.Local); err != nil {
		return 0, err
	}

	lc.localUpdateLog.appendHtlc(pd)

	htlc.ID = pd.HtlcIndex
	htlc.ChanID = pd.ChanID

	lc.log.Debugf("Added htlc id=%v, amt=%v, hash=%v, expiry=%v",
		pd.HtlcIndex, pd.Amount, pd.RHash, pd.Timeout)

	return pd.HtlcIndex, nil
}

// ReceiveHTLC adds an HTLC offered by the remote party to their update log.
// An HTLC breaking the limits the remote party agreed to is a protocol
// violation.
func (lc *LightningChannel) ReceiveHTLC(htlc *lnwire.UpdateAddHTLC) (uint64,
	error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.status == ForceClosed || lc.status == Closed {
		return 0, fmt.Errorf("%w: channel is %v", ErrInvalidState,
			lc.status)
	}

	switch {
	case lc.status != Normal && lc.status != AwaitingShutdown:
		return 0, lc.failChannel(fmt.Errorf("%w: htlc received in %v",
			ErrInvalidHtlcAdd, lc.status))

	case lc.remoteShutdownScript != nil:
		return 0, lc.failChannel(fmt.Errorf("%w: htlc received "+
			"after shutdown", ErrInvalidHtlcAdd))
	}

	if htlc.ID != lc.remoteUpdateLog.htlcCounter {
		return 0, lc.failChannel(ErrHtlcIndexOutOfOrder(
			lc.remoteUpdateLog.htlcCounter, htlc.ID,
		))
	}

	pd := &PaymentDescriptor{
		ChanID:    lc.state.ChanID(),
		EntryType: Add,
		RHash:     htlc.PaymentHash,
		Timeout:   htlc.Expiry,
		Amount:    htlc.Amount,
		LogIndex:  lc.remoteUpdateLog.logIndex,
		HtlcIndex: lc.remoteUpdateLog.htlcCounter,
		OnionBlob: htlc.OnionBlob,
	}

	if err := lc.validateAddHtlc(pd, lntypes.Remote); err != nil {
		return 0, lc.failChannel(
			fmt.Errorf("%w: %w", ErrInvalidHtlcAdd, err),
		)
	}

	lc.remoteUpdateLog.appendHtlc(pd)

	lc.log.Debugf("Received htlc id=%v, amt=%v, hash=%v, expiry=%v",
		pd.HtlcIndex, pd.Amount, pd.RHash, pd.Timeout)

	return pd.HtlcIndex, nil
}

// isLockedIn returns true if the Add entry is committed on the tails of both
// commitment chains.
func (lc *LightningChannel) isLockedIn(pd *PaymentDescriptor) bool {
	local := pd.addCommitHeights.Local
	remote := pd.addCommitHeights.Remote

	return local != 0 && remote != 0 &&
		local <= lc.localCommitChain.tail().Height &&
		remote <= lc.remoteCommitChain.tail().Height
}

// isRemovalLockedIn returns true if the Settle or Fail entry is committed on
// the tails of both commitment chains.
func (lc *LightningChannel) isRemovalLockedIn(pd *PaymentDescriptor) bool {
	local := pd.removeCommitHeights.Local
	remote := pd.removeCommitHeights.Remote

	return local != 0 && remote != 0 &&
		local <= lc.localCommitChain.tail().Height &&
		remote <= lc.remoteCommitChain.tail().Height
}

// canResolveHtlcs returns an error if HTLCs can't be settled or failed in the
// current state.
func (lc *LightningChannel) canResolveHtlcs() error {
	switch lc.status {
	case Normal, AwaitingShutdown:
		return nil

	default:
		return fmt.Errorf("%w: unable to resolve htlc in %v",
			ErrInvalidState, lc.status)
	}
}

// lookupIncomingHtlc returns an HTLC offered by the remote party that we are
// allowed to settle or fail.
func (lc *LightningChannel) lookupIncomingHtlc(
	htlcIndex uint64) (*PaymentDescriptor, error) {

	htlc := lc.remoteUpdateLog.lookupHtlc(htlcIndex)
	switch {
	case htlc == nil:
		return nil, fmt.Errorf("%w: %v", ErrUnknownHtlcIndex, htlcIndex)

	case lc.remoteUpdateLog.htlcHasModification(htlcIndex):
		return nil, fmt.Errorf("%w: %v", ErrHtlcAlreadyResolved,
			htlcIndex)

	case !lc.isLockedIn(htlc):
		return nil, fmt.Errorf("%w: %v", ErrHtlcNotLockedIn, htlcIndex)
	}

	return htlc, nil
}

// SettleHTLC settles an HTLC offered by the remote party. The returned update
// carries the preimage to the watcher, so it can claim the HTLC on chain.
func (lc *LightningChannel) SettleHTLC(preimage lntypes.Preimage,
	htlcIndex uint64) (*lnwire.UpdateFulfillHTLC,
	*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canResolveHtlcs(); err != nil {
		return nil, nil, err
	}

	htlc, err := lc.lookupIncomingHtlc(htlcIndex)
	if err != nil {
		return nil, nil, err
	}

	if !preimage.Matches(htlc.RHash) {
		return nil, nil, fmt.Errorf("%w: htlc %v", ErrPreimageMismatch,
			htlcIndex)
	}

	pd := &PaymentDescriptor{
		ChanID:      lc.state.ChanID(),
		EntryType:   Settle,
		Amount:      htlc.Amount,
		RPreimage:   preimage,
		RHash:       htlc.RHash,
		LogIndex:    lc.localUpdateLog.logIndex,
		ParentIndex: htlcIndex,
	}

	lc.localUpdateLog.appendUpdate(pd)
	lc.remoteUpdateLog.markHtlcModified(htlcIndex)

	update := lc.newUpdate()
	update.Preimages = []lntypes.Preimage{preimage}

	lc.log.Debugf("Settled htlc id=%v, amt=%v", htlcIndex, htlc.Amount)

	return &lnwire.UpdateFulfillHTLC{
		ChanID:          pd.ChanID,
		ID:              htlcIndex,
		PaymentPreimage: preimage,
	}, update, nil
}

// FailHTLC fails an HTLC offered by the remote party. The reason is passed
// along unchanged.
func (lc *LightningChannel) FailHTLC(htlcIndex uint64,
	reason []byte) (*lnwire.UpdateFailHTLC, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canResolveHtlcs(); err != nil {
		return nil, err
	}

	htlc, err := lc.lookupIncomingHtlc(htlcIndex)
	if err != nil {
		return nil, err
	}

	pd := &PaymentDescriptor{
		ChanID:      lc.state.ChanID(),
		EntryType:   Fail,
		Amount:      htlc.Amount,
		RHash:       htlc.RHash,
		FailReason:  reason,
		LogIndex:    lc.localUpdateLog.logIndex,
		ParentIndex: htlcIndex,
	}

	lc.localUpdateLog.appendUpdate(pd)
	lc.remoteUpdateLog.markHtlcModified(htlcIndex)

	lc.log.Debugf("Failed htlc id=%v, amt=%v", htlcIndex, htlc.Amount)

	return &lnwire.UpdateFailHTLC{
		ChanID: pd.ChanID,
		ID:     htlcIndex,
		Reason: reason,
	}, nil
}

// lookupOutgoingHtlc returns an HTLC we offered that the remote party may
// settle or fail. Any problem is a protocol violation.
func (lc *LightningChannel) lookupOutgoingHtlc(
	htlcIndex uint64) (*PaymentDescriptor, error) {

	if err := lc.canResolveHtlcs(); err != nil {
		return nil, err
	}

	htlc := lc.localUpdateLog.lookupHtlc(htlcIndex)
	switch {
	case htlc == nil:
		return nil, lc.failChannel(fmt.Errorf("%w: %v",
			ErrUnknownHtlcIndex, htlcIndex))

	case lc.localUpdateLog.htlcHasModification(htlcIndex):
		return nil, lc.failChannel(fmt.Errorf("%w: %v",
			ErrHtlcAlreadyResolved, htlcIndex))

	case !lc.isLockedIn(htlc):
		return nil, lc.failChannel(fmt.Errorf("%w: %v",
			ErrHtlcNotLockedIn, htlcIndex))
	}

	return htlc, nil
}

// ReceiveHTLCSettle processes the remote party's settle of an HTLC we offered.
// The returned descriptor carries the preimage and is ready to be forwarded
// backwards.
func (lc *LightningChannel) ReceiveHTLCSettle(
	msg *lnwire.UpdateFulfillHTLC) (*PaymentDescriptor, error) {

	lc.Lock()
	defer lc.Unlock()

	htlc, err := lc.lookupOutgoingHtlc(msg.ID)
	if err != nil {
		return nil, err
	}

	preimage := lntypes.Preimage(msg.PaymentPreimage)
	if !preimage.Matches(htlc.RHash) {
		return nil, lc.failChannel(fmt.Errorf("%w: htlc %v",
			ErrPreimageMismatch, msg.ID))
	}

	pd := &PaymentDescriptor{
		ChanID:      lc.state.ChanID(),
		EntryType:   Settle,
		Amount:      htlc.Amount,
		RPreimage:   preimage,
		RHash:       htlc.RHash,
		LogIndex:    lc.remoteUpdateLog.logIndex,
		ParentIndex: msg.ID,
		isForwarded: true,
	}

	lc.remoteUpdateLog.appendUpdate(pd)
	lc.localUpdateLog.markHtlcModified(msg.ID)

	return pd, nil
}

// ReceiveHTLCFail processes the remote party's fail of an HTLC we offered.
// The fail is handed back by ReceiveRevocation once it is locked in.
func (lc *LightningChannel) ReceiveHTLCFail(msg *lnwire.UpdateFailHTLC) error {
	lc.Lock()
	defer lc.Unlock()

	htlc, err := lc.lookupOutgoingHtlc(msg.ID)
	if err != nil {
		return err
	}

	pd := &PaymentDescriptor{
		ChanID:      lc.state.ChanID(),
		EntryType:   Fail,
		Amount:      htlc.Amount,
		RHash:       htlc.RHash,
		FailReason:  msg.Reason,
		LogIndex:    lc.remoteUpdateLog.logIndex,
		ParentIndex: msg.ID,
	}

	lc.remoteUpdateLog.appendUpdate(pd)
	lc.localUpdateLog.markHtlcModified(msg.ID)

	return nil
}

// canUpdateCommitments returns an error if commitments can't be exchanged in
// the current state.
func (lc *LightningChannel) canUpdateCommitments() error {
	switch lc.status {
	case Normal, AwaitingShutdown:
		return nil

	default:
		return fmt.Errorf("%w: unable to update commitments in %v",
			ErrInvalidState, lc.status)
	}
}

// canReceiveCommitments is canUpdateCommitments for a commit_sig or
// revoke_and_ack of the remote party. Receiving one before the channel is
// open or while closing is a protocol violation.
func (lc *LightningChannel) canReceiveCommitments(msg string) error {
	err := lc.canUpdateCommitments()
	if err == nil || lc.status == ForceClosed || lc.status == Closed {
		return err
	}

	return lc.failChannel(fmt.Errorf("%w: %v received in %v",
		ErrInvalidState, msg, lc.status))
}

// NeedCommitment returns true if either party has updates that aren't
// covered by the latest remote commitment.
func (lc *LightningChannel) NeedCommitment() bool {
	lc.RLock()
	defer lc.RUnlock()

	tip := lc.remoteCommitChain.tip()
	remoteACKedIndex := lc.localCommitChain.tail().theirMessageIndex

	return tip.ourMessageIndex != lc.localUpdateLog.logIndex ||
		tip.theirMessageIndex != remoteACKedIndex
}

// SignNextCommitment signs a new commitment for the remote party covering all
// our updates and all of their updates we already acknowledged. The returned
// update must be persisted before the commit_sig is sent.
func (lc *LightningChannel) SignNextCommitment() (*lnwire.CommitSig,
	*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canUpdateCommitments(); err != nil {
		return nil, nil, err
	}

	// We can only sign a new commitment once the remote party revoked
	// the prior one.
	if lc.remoteCommitChain.hasUnackedCommitment() {
		return nil, nil, ErrNoWindow
	}
	if lc.remoteNextRevocation == nil {
		return nil, nil, ErrNoRevocationPoint
	}

	// Their updates are included up to the index we committed to on our
	// own tail, i.e. the ones we acknowledged by revoking.
	remoteACKedIndex := lc.localCommitChain.tail().theirMessageIndex
	remoteHtlcIndex := lc.localCommitChain.tail().theirHtlcIndex

	tip := lc.remoteCommitChain.tip()
	if tip.ourMessageIndex == lc.localUpdateLog.logIndex &&
		tip.theirMessageIndex == remoteACKedIndex {

		return nil, nil, ErrNoUpdates
	}

	newCommit, view, err := lc.fetchCommitmentView(
		lntypes.Remote, lc.localUpdateLog.logIndex,
		lc.localUpdateLog.htlcCounter, remoteACKedIndex,
		remoteHtlcIndex, lc.remoteNextRevocation,
	)
	if err != nil {
		return nil, nil, err
	}

	commitSig, err := lc.signFundingSpend(newCommit.Tx)
	if err != nil {
		return nil, nil, err
	}

	// With the commitment signed, we sign the second level transaction
	// of every HTLC in output order.
	sortedHtlcs := newCommit.SortedHtlcs()
	htlcSigs := make([]lnwire.Sig, 0, len(sortedHtlcs))
	for _, htlc := range sortedHtlcs {
		signDesc := &input.SignDescriptor{
			KeyDesc:       lc.state.LocalChanCfg.HtlcBasePoint,
			SingleTweak:   newCommit.KeyRing.LocalHtlcKeyTweak,
			WitnessScript: htlc.Script.WitnessScript,
			Output:        newCommit.Tx.TxOut[htlc.OutputIndex],
			HashType:      txscript.SigHashAll,
			InputIndex:    0,
		}

		sig, err := lc.Signer.SignOutputRaw(htlc.SecondLevelTx, signDesc)
		if err != nil {
			return nil, nil, err
		}

		wireSig, err := lnwire.NewSigFromDER(sig.Serialize())
		if err != nil {
			return nil, nil, err
		}
		htlcSigs = append(htlcSigs, wireSig)
	}

	markUpdatesIncluded(view, lntypes.Remote, newCommit.Height)
	lc.remoteCommitChain.addCommitment(newCommit)

	update := lc.newUpdate()
	update.RemoteCommitment = fn.Some(channeldb.CommitmentUpdate{
		Commitment:  newCommit.ToDiskCommit(),
		CommitPoint: lc.remoteNextRevocation,
	})

	lc.log.Debugf("Signed remote commitment height=%v, htlcs=%v",
		newCommit.Height, len(htlcSigs))

	return &lnwire.CommitSig{
		ChanID:    lc.state.ChanID(),
		CommitSig: commitSig,
		HtlcSigs:  htlcSigs,
	}, update, nil
}

// ReceiveNewCommitment processes a commit_sig of the remote party. The
// signatures must cover all of their updates and all of our updates they
// acknowledged, anything else is a protocol violation. The returned update
// carries our new commitment and must be persisted before we revoke.
func (lc *LightningChannel) ReceiveNewCommitment(
	msg *lnwire.CommitSig) (*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canReceiveCommitments("commit_sig"); err != nil {
		return nil, err
	}

	// A second commitment before we revoked the prior one breaks the
	// revocation window of one.
	if lc.localCommitChain.hasUnackedCommitment() {
		return nil, lc.failChannel(errors.New("commit_sig received " +
			"before prior commitment was revoked"))
	}

	localACKedIndex := lc.remoteCommitChain.tail().ourMessageIndex
	localHtlcIndex := lc.remoteCommitChain.tail().ourHtlcIndex

	nextHeight := lc.localCommitChain.tip().Height + 1
	commitPoint, err := lc.Signer.PerCommitmentPoint(nextHeight)
	if err != nil {
		return nil, err
	}

	newCommit, view, err := lc.fetchCommitmentView(
		lntypes.Local, localACKedIndex, localHtlcIndex,
		lc.remoteUpdateLog.logIndex, lc.remoteUpdateLog.htlcCounter,
		commitPoint,
	)
	if err != nil {
		return nil, lc.failChannel(err)
	}

	err = lc.verifyCommitSig(newCommit.Commitment, msg.CommitSig)
	if err != nil {
		return nil, lc.failChannel(err)
	}

	sortedHtlcs := newCommit.SortedHtlcs()
	if len(msg.HtlcSigs) != len(sortedHtlcs) {
		return nil, lc.failChannel(fmt.Errorf("%w: expected %v htlc "+
			"sigs, got %v", ErrInvalidHtlcSig, len(sortedHtlcs),
			len(msg.HtlcSigs)))
	}

	newCommit.htlcSigs = make(map[int32]lnwire.Sig, len(sortedHtlcs))
	for i, htlc := range sortedHtlcs {
		sigHash, err := newCommit.HtlcSigHash(htlc)
		if err != nil {
			return nil, lc.failChannel(err)
		}

		sig, err := msg.HtlcSigs[i].ToSignature()
		if err != nil {
			return nil, lc.failChannel(
				fmt.Errorf("%w: %w", ErrInvalidHtlcSig, err),
			)
		}

		if !sig.Verify(sigHash, newCommit.KeyRing.RemoteHtlcKey) {
			return nil, lc.failChannel(fmt.Errorf("%w: htlc "+
				"output %v", ErrInvalidHtlcSig,
				htlc.OutputIndex))
		}

		newCommit.htlcSigs[htlc.OutputIndex] = msg.HtlcSigs[i]
	}
	newCommit.sig = msg.CommitSig

	diskCommit, err := toDiskLocalCommit(newCommit)
	if err != nil {
		return nil, lc.failChannel(err)
	}

	markUpdatesIncluded(view, lntypes.Local, newCommit.Height)
	lc.localCommitChain.addCommitment(newCommit)

	update := lc.newUpdate()
	update.LocalCommitment = fn.Some(channeldb.CommitmentUpdate{
		Commitment:  diskCommit,
		CommitPoint: commitPoint,
	})

	lc.log.Debugf("Received local commitment height=%v, htlcs=%v",
		newCommit.Height, len(sortedHtlcs))

	return update, nil
}

// RevokeCurrentCommitment revokes our current commitment in favor of the one
// most recently received. It is refused unless such a received and verified
// commitment exists.
func (lc *LightningChannel) RevokeCurrentCommitment() (*lnwire.RevokeAndAck,
	*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canUpdateCommitments(); err != nil {
		return nil, nil, err
	}

	if !lc.localCommitChain.hasUnackedCommitment() {
		return nil, nil, ErrRevocationOrdering
	}

	revokedHeight := lc.localCommitChain.tail().Height
	secret, err := lc.Signer.ReleaseCommitmentSecret(revokedHeight)
	if err != nil {
		return nil, nil, err
	}

	nextPoint, err := lc.Signer.PerCommitmentPoint(
		lc.localCommitChain.tip().Height + 1,
	)
	if err != nil {
		return nil, nil, err
	}

	lc.localCommitChain.advanceTail()
	compactLogs(
		lc.localUpdateLog, lc.remoteUpdateLog,
		lc.localCommitChain.tail().Height,
		lc.remoteCommitChain.tail().Height,
	)

	lc.log.Debugf("Revoked local commitment height=%v", revokedHeight)

	return &lnwire.RevokeAndAck{
		ChanID:            lc.state.ChanID(),
		Revocation:        secret,
		NextRevocationKey: nextPoint,
	}, nil, nil
}

// ReceiveRevocation processes the remote party's revocation of its prior
// commitment. It returns the updates of the remote party that became locked
// in and are ready to be forwarded: Adds to be routed onwards and Fails to be
// propagated backwards. The update carries the revocation secret.
func (lc *LightningChannel) ReceiveRevocation(
	msg *lnwire.RevokeAndAck) ([]*PaymentDescriptor,
	*channeldb.ChannelMonitorUpdate, error) {

	lc.Lock()
	defer lc.Unlock()

	if err := lc.canReceiveCommitments("revoke_and_ack"); err != nil {
		return nil, nil, err
	}

	if !lc.remoteCommitChain.hasUnackedCommitment() {
		return nil, nil, lc.failChannel(ErrUnexpectedRevocation)
	}

	// The secret must derive the commitment point of the tail we are
	// about to drop.
	point := input.ComputeCommitmentPoint(msg.Revocation[:])
	if !point.IsEqual(lc.remoteCurrentRevocation) {
		return nil, nil, lc.failChannel(ErrInvalidRevocation)
	}

	secret := chainhash.Hash(msg.Revocation)
	if err := lc.revocationStore.AddNextEntry(&secret); err != nil {
		return nil, nil, lc.failChannel(
			fmt.Errorf("%w: %w", ErrInvalidRevocation, err),
		)
	}

	if msg.NextRevocationKey == nil {
		return nil, nil, lc.failChannel(ErrNoRevocationPoint)
	}

	revokedHeight := lc.remoteCommitChain.tail().Height

	lc.remoteCurrentRevocation = lc.remoteNextRevocation
	lc.remoteNextRevocation = msg.NextRevocationKey
	lc.remoteCommitChain.advanceTail()

	// Now that both tails moved, collect the remote updates that are
	// locked in. This must happen before the logs are compacted.
	var forwards []*PaymentDescriptor
	lc.remoteUpdateLog.forEachUpdate(func(pd *PaymentDescriptor) {
		if pd.isForwarded {
			return
		}

		switch {
		case pd.EntryType == Add && lc.isLockedIn(pd):
		case pd.EntryType == Fail && lc.isRemovalLockedIn(pd):
		default:
			return
		}

		pd.isForwarded = true
		forwards = append(forwards, pd)
	})

	compactLogs(
		lc.localUpdateLog, lc.remoteUpdateLog,
		lc.localCommitChain.tail().Height,
		lc.remoteCommitChain.tail().Height,
	)

	update := lc.newUpdate()
	update.CommitmentSecret = fn.Some(channeldb.CommitmentSecret{
		Height: revokedHeight,
		Secret: msg.Revocation,
	})

	lc.log.Debugf("Remote revoked height=%v, %v updates to forward",
		revokedHeight, len(forwards))

	return forwards, update, nil
}

// numActiveHtlcs returns the number of HTLCs still present in the logs.
func (lc *LightningChannel) numActiveHtlcs() int {
	var n int
	count := func(pd *PaymentDescriptor) {
		if pd.EntryType == Add {
			n++
		}
	}
	lc.localUpdateLog.forEachUpdate(count)
	lc.remoteUpdateLog.forEachUpdate(count)

	return n
}

// InitShutdown starts a cooperative close. No HTLCs can be added afterwards.
func (lc *LightningChannel) InitShutdown(
	deliveryScript lnwire.DeliveryAddress) (*lnwire.Shutdown, error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.status != Normal && lc.status != AwaitingShutdown {
		return nil, fmt.Errorf("%w: unable to shutdown in %v",
			ErrInvalidState, lc.status)
	}
	if lc.localShutdownScript != nil {
		return nil, fmt.Errorf("%w: shutdown already sent",
			ErrInvalidState)
	}

	lc.localShutdownScript = deliveryScript
	lc.status = AwaitingShutdown

	return &lnwire.Shutdown{
		ChannelID: lc.state.ChanID(),
		Address:   deliveryScript,
	}, nil
}

// ReceiveShutdown processes the remote party's shutdown.
func (lc *LightningChannel) ReceiveShutdown(msg *lnwire.Shutdown) error {
	lc.Lock()
	defer lc.Unlock()

	if lc.status != Normal && lc.status != AwaitingShutdown {
		return fmt.Errorf("%w: unexpected shutdown in %v",
			ErrInvalidState, lc.status)
	}
	if lc.remoteShutdownScript != nil {
		return lc.failChannel(errors.New("duplicate shutdown"))
	}
	if len(msg.Address) == 0 {
		return lc.failChannel(errors.New("empty delivery address"))
	}

	lc.remoteShutdownScript = msg.Address
	lc.status = AwaitingShutdown

	return nil
}

// ReadyToClose returns true once both shutdowns were exchanged and all HTLCs
// and commitments are settled.
func (lc *LightningChannel) ReadyToClose() bool {
	lc.RLock()
	defer lc.RUnlock()

	return lc.readyToClose() == nil
}

// readyToClose returns why the closing negotiation can't start yet.
func (lc *LightningChannel) readyToClose() error {
	switch {
	case lc.status != AwaitingShutdown:
		return fmt.Errorf("%w: channel is %v", ErrInvalidState,
			lc.status)

	case lc.localShutdownScript == nil || lc.remoteShutdownScript == nil:
		return fmt.Errorf("%w: shutdown not exchanged", ErrInvalidState)

	case lc.numActiveHtlcs() != 0,
		lc.localCommitChain.hasUnackedCommitment(),
		lc.remoteCommitChain.hasUnackedCommitment():

		return ErrPendingHtlcs
	}

	return nil
}

// BeginClosingNegotiation moves the channel to AwaitingClosingSigned.
func (lc *LightningChannel) BeginClosingNegotiation() error {
	lc.Lock()
	defer lc.Unlock()

	if err := lc.readyToClose(); err != nil {
		return err
	}

	lc.status = AwaitingClosingSigned

	return nil
}

// closeBalances returns our and their output value of the closing
// transaction paying the given fee.
func (lc *LightningChannel) closeBalances(
	fee btcutil.Amount) (btcutil.Amount, btcutil.Amount, error) {

	tip := lc.localCommitChain.tip()
	ourBalance := tip.OurBalance.ToSatoshis()
	theirBalance := tip.TheirBalance.ToSatoshis()

	if lc.state.IsInitiator {
		ourBalance -= fee
	} else {
		theirBalance -= fee
	}

	if ourBalance < 0 || theirBalance < 0 {
		return 0, 0, fmt.Errorf("%w: close fee %v", ErrInsufficientFunds,
			fee)
	}

	return ourBalance, theirBalance, nil
}

// createCooperativeCloseTx builds the closing transaction. Outputs below the
// owner's dust limit are dropped.
func (lc *LightningChannel) createCooperativeCloseTx(fee btcutil.Amount,
	localScript, remoteScript []byte) (*wire.MsgTx, btcutil.Amount,
	error) {

	ourBalance, theirBalance, err := lc.closeBalances(fee)
	if err != nil {
		return nil, 0, err
	}

	closeTx := wire.NewMsgTx(2)
	closeTx.AddTxIn(wire.NewTxIn(&lc.state.ChanPoint, nil, nil))

	if ourBalance >= lc.state.LocalChanCfg.DustLimit {
		closeTx.AddTxOut(wire.NewTxOut(int64(ourBalance), localScript))
	}
	if theirBalance >= lc.state.RemoteChanCfg.DustLimit {
		closeTx.AddTxOut(wire.NewTxOut(
			int64(theirBalance), remoteScript,
		))
	}

	txsort.InPlaceSort(closeTx)

	return closeTx, ourBalance, nil
}

// LocalBalanceDust returns true if our balance is below our dust limit.
func (lc *LightningChannel) LocalBalanceDust() bool {
	lc.RLock()
	defer lc.RUnlock()

	ourBalance := lc.localCommitChain.tip().OurBalance.ToSatoshis()

	return ourBalance < lc.state.LocalChanCfg.DustLimit
}

// RemoteBalanceDust returns true if the remote balance is below their dust
// limit.
func (lc *LightningChannel) RemoteBalanceDust() bool {
	lc.RLock()
	defer lc.RUnlock()

	theirBalance := lc.localCommitChain.tip().TheirBalance.ToSatoshis()

	return theirBalance < lc.state.RemoteChanCfg.DustLimit
}

// CreateCloseProposal signs a closing transaction paying the proposed fee. It
// returns our signature, the transaction and our balance in it.
func (lc *LightningChannel) CreateCloseProposal(proposedFee btcutil.Amount,
	localScript, remoteScript []byte) (input.Signature, *wire.MsgTx,
	btcutil.Amount, error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.status != AwaitingClosingSigned {
		return nil, nil, 0, fmt.Errorf("%w: unable to propose close "+
			"in %v", ErrInvalidState, lc.status)
	}

	closeTx, ourBalance, err := lc.createCooperativeCloseTx(
		proposedFee, localScript, remoteScript,
	)
	if err != nil {
		return nil, nil, 0, err
	}

	sig, err := lc.Signer.SignCommitment(
		closeTx, lc.builder.FundingScript(), lc.state.Capacity,
	)
	if err != nil {
		return nil, nil, 0, err
	}

	return sig, closeTx, ourBalance, nil
}

// CompleteCooperativeClose assembles the fully signed closing transaction and
// checks it spends the funding output.
func (lc *LightningChannel) CompleteCooperativeClose(localSig,
	remoteSig input.Signature, localScript, remoteScript []byte,
	proposedFee btcutil.Amount) (*wire.MsgTx, btcutil.Amount, error) {

	lc.Lock()
	defer lc.Unlock()

	if lc.status != AwaitingClosingSigned {
		return nil, 0, fmt.Errorf("%w: unable to complete close in %v",
			ErrInvalidState, lc.status)
	}

	closeTx, ourBalance, err := lc.createCooperativeCloseTx(
		proposedFee, localScript, remoteScript,
	)
	if err != nil {
		return nil, 0, err
	}

	ourKey := lc.state.LocalChanCfg.MultiSigKey.PubKey
	theirKey := lc.state.RemoteChanCfg.MultiSigKey.PubKey
	closeTx.TxIn[0].Witness = input.SpendMultiSig(
		lc.builder.FundingScript(),
		ourKey.SerializeCompressed(),
		append(localSig.Serialize(), byte(txscript.SigHashAll)),
		theirKey.SerializeCompressed(),
		append(remoteSig.Serialize(), byte(txscript.SigHashAll)),
	)

	// Finally, run the script engine to make sure both signatures are
	// valid for the funding output.
	fundingOutput := lc.builder.FundingOutput()
	fetcher := txscript.NewCannedPrevOutputFetcher(
		fundingOutput.PkScript, fundingOutput.Value,
	)
	vm, err := txscript.NewEngine(
		fundingOutput.PkScript, closeTx, 0,
		txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(closeTx, fetcher),
		fundingOutput.Value, fetcher,
	)
	if err != nil {
		return nil, 0, err
	}
	if err := vm.Execute(); err != nil {
		return nil, 0, fmt.Errorf("invalid closing signature: %w", err)
	}

	return closeTx, ourBalance, nil
}

// MarkCoopBroadcasted records that the closing transaction was broadcast.
func (lc *LightningChannel) MarkCoopBroadcasted(closeTx *wire.MsgTx) error {
	lc.Lock()
	defer lc.Unlock()

	if lc.status != AwaitingClosingSigned {
		return fmt.Errorf("%w: unable to close in %v", ErrInvalidState,
			lc.status)
	}

	lc.log.Infof("Cooperative close broadcast: %v", closeTx.TxHash())

	lc.status = Closed

	return nil
}
