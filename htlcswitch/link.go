package htlcswitch

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwallet/chancloser"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/monitoring"
)

// LinkConfig holds the channel specific parts of a link.
type LinkConfig struct {
	// Channel is the state machine of the channel.
	Channel *lnwallet.LightningChannel

	// Signer signs the on-chain claims of the channel monitor.
	Signer lnwallet.ChannelSigner

	// Peer delivers messages to the remote party.
	Peer Peer

	// ShortChanID is the short channel id of a confirmed channel. It's
	// derived from the funding block when left zero.
	ShortChanID lnwire.ShortChannelID
}

// channelLink ties a channel state machine to its monitor, its peer and the
// switch. Apart from the atomic fields and the read-only accessors, every
// method must be called with the channel lock of the switch held.
type channelLink struct {
	cfg   LinkConfig
	swCfg *Config

	channel *lnwallet.LightningChannel
	monitor *contractcourt.ChannelMonitor

	// closer negotiates the cooperative close, nil until a shutdown was
	// sent or received.
	closer      *chancloser.ChanCloser
	negotiating bool

	bestHeight func() uint32
	notify     func(Event)

	shortChanID   atomic.Uint64
	closedOnChain atomic.Bool
	resolved      atomic.Bool

	// failed is set together with failure, once the link can't carry
	// updates anymore.
	failed  atomic.Bool
	failure error

	log btclog.Logger
}

// A compile time check to ensure channelLink implements ChannelLink.
var _ ChannelLink = (*channelLink)(nil)

// newChannelLink creates a link around a channel and its monitor.
func newChannelLink(cfg LinkConfig, swCfg *Config,
	monitor *contractcourt.ChannelMonitor, bestHeight func() uint32,
	notify func(Event)) *channelLink {

	l := &channelLink{
		cfg:        cfg,
		swCfg:      swCfg,
		channel:    cfg.Channel,
		monitor:    monitor,
		bestHeight: bestHeight,
		notify:     notify,
		log: log.WithPrefix(fmt.Sprintf("ChannelLink(%v):",
			cfg.Channel.ChannelPoint())),
	}
	l.shortChanID.Store(cfg.ShortChanID.ToUint64())

	return l
}

// ChanID returns the channel id of the link.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) ChanID() lnwire.ChannelID {
	return l.channel.ChanID()
}

// ShortChanID returns the short channel id of the link.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) ShortChanID() lnwire.ShortChannelID {
	return lnwire.NewShortChanIDFromInt(l.shortChanID.Load())
}

// Status returns the status of the channel state machine.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) Status() lnwallet.ChannelStatus {
	return l.channel.Status()
}

// MonitorState returns the state of the channel monitor.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) MonitorState() contractcourt.MonitorState {
	return l.monitor.State()
}

// EligibleToForward returns true if the channel is open, confirmed and
// healthy.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) EligibleToForward() bool {
	return !l.failed.Load() && !l.closedOnChain.Load() &&
		l.shortChanID.Load() != 0 &&
		l.channel.Status() == lnwallet.Normal
}

// Bandwidth returns our balance above the reserve the remote party requires.
//
// NOTE: Part of the ChannelLink interface.
func (l *channelLink) Bandwidth() lnwire.MilliSatoshi {
	ours, _ := l.channel.CommitBalances()
	reserve := lnwire.NewMSatFromSatoshis(
		l.channel.Params().RemoteChanCfg.ChanReserve,
	)
	if ours <= reserve {
		return 0
	}

	return ours - reserve
}

// key returns the circuit key of an HTLC on this link.
func (l *channelLink) key(htlcID uint64) CircuitKey {
	return CircuitKey{ChanID: l.ShortChanID(), HtlcID: htlcID}
}

// sendMessage hands messages to the peer. A transport failure doesn't affect
// the channel, the peer retransmits on reconnection.
func (l *channelLink) sendMessage(msgs ...lnwire.Message) {
	if err := l.cfg.Peer.SendMessage(msgs...); err != nil {
		l.log.Errorf("Unable to send %v messages: %v", len(msgs), err)
	}
}

// applyUpdate persists and applies a monitor update. Once this fails the
// link is stalled: the message the update belongs to must never be sent.
func (l *channelLink) applyUpdate(
	update *channeldb.ChannelMonitorUpdate) error {

	if update == nil {
		return nil
	}

	if err := l.monitor.ApplyUpdate(update); err != nil {
		l.log.Criticalf("Unable to apply %v, stalling link: %v",
			update, err)

		l.fail(fmt.Errorf("%w: %w", ErrLinkStalled, err))
		monitoring.IncrementStalledLinkCount()

		return l.failure
	}

	return nil
}

// fail marks the link as unusable.
func (l *channelLink) fail(err error) {
	if l.failed.Load() {
		return
	}

	l.failure = err
	l.failed.Store(true)
}

// checkUsable returns the failure of a failed link, or ErrChannelClosed
// once the channel was closed on chain.
func (l *channelLink) checkUsable() error {
	if l.failed.Load() {
		return l.failure
	}
	if l.closedOnChain.Load() {
		return ErrChannelClosed
	}

	return nil
}

// handleChannelErr turns a protocol violation into a link failure. Other
// errors are returned unchanged.
func (l *channelLink) handleChannelErr(err error) error {
	if err == nil {
		return nil
	}

	var pv *lnwallet.ProtocolViolation
	if !errors.As(err, &pv) {
		return err
	}

	linkErr := newProtocolFailure(pv)
	l.log.Errorf("Failing link: %v", linkErr)

	// The force close must be persisted before the peer learns about the
	// failure.
	if err := l.applyUpdate(pv.Update); err != nil {
		return err
	}

	if wireErr, ok := linkErr.WireError(l.ChanID()); ok {
		l.sendMessage(wireErr)
	}

	l.fail(linkErr)
	monitoring.IncrementForceCloseCount()

	return linkErr
}

// forceClose unilaterally closes the channel and fails the link.
func (l *channelLink) forceClose(reason error) error {
	l.log.Warnf("Force closing channel: %v", reason)

	update, err := l.channel.ForceClose()
	if err != nil {
		return err
	}
	if err := l.applyUpdate(update); err != nil {
		return err
	}

	l.fail(&LinkFailureError{
		failure:    reason,
		ForceClose: true,
	})
	monitoring.IncrementForceCloseCount()

	return nil
}

// handleMessage processes a message of the remote party. It returns the
// packets the switch must route.
func (l *channelLink) handleMessage(msg lnwire.Message) ([]*htlcPacket,
	error) {

	if err := l.checkUsable(); err != nil {
		return nil, err
	}

	switch msg := msg.(type) {
	case *lnwire.UpdateAddHTLC:
		_, err := l.channel.ReceiveHTLC(msg)
		return nil, l.handleChannelErr(err)

	case *lnwire.UpdateFulfillHTLC:
		pd, err := l.channel.ReceiveHTLCSettle(msg)
		if err != nil {
			return nil, l.handleChannelErr(err)
		}

		// The preimage is final, it travels backwards right away.
		return []*htlcPacket{
			newSettlePacket(l.key(pd.ParentIndex), pd.RPreimage),
		}, nil

	case *lnwire.UpdateFailHTLC:
		// The fail is forwarded once it's locked in.
		err := l.channel.ReceiveHTLCFail(msg)
		return nil, l.handleChannelErr(err)

	case *lnwire.CommitSig:
		return nil, l.handleCommitSig(msg)

	case *lnwire.RevokeAndAck:
		return l.handleRevocation(msg)

	case *lnwire.Shutdown:
		return nil, l.handleShutdown(msg)

	case *lnwire.ClosingSigned:
		return nil, l.handleClosingSigned(msg)

	case *lnwire.FundingCreated:
		signed, update, err := l.channel.ReceiveFundingCreated(msg)
		if err != nil {
			return nil, err
		}
		if err := l.applyUpdate(update); err != nil {
			return nil, err
		}
		l.sendMessage(signed)

		return nil, nil

	case *lnwire.FundingSigned:
		update, err := l.channel.ReceiveFundingSigned(msg)
		if err != nil {
			return nil, err
		}

		return nil, l.applyUpdate(update)

	case *lnwire.ChannelReady:
		return nil, l.channel.ReceiveChannelReady(msg)

	case *lnwire.Error:
		return nil, l.forceClose(fmt.Errorf("remote error: %w", msg))

	default:
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
}

// handleCommitSig processes a new commitment of the remote party, revokes
// our prior one and signs the next remote commitment if needed.
func (l *channelLink) handleCommitSig(msg *lnwire.CommitSig) error {
	update, err := l.channel.ReceiveNewCommitment(msg)
	if err != nil {
		return l.handleChannelErr(err)
	}
	if err := l.applyUpdate(update); err != nil {
		return err
	}

	revocation, update, err := l.channel.RevokeCurrentCommitment()
	if err != nil {
		return l.handleChannelErr(err)
	}
	if err := l.applyUpdate(update); err != nil {
		return err
	}
	l.sendMessage(revocation)

	if l.channel.NeedCommitment() {
		if err := l.updateCommitTx(); err != nil {
			return err
		}
	}

	return l.maybeBeginNegotiation()
}

// handleRevocation processes the revocation of the remote party and acts on
// the updates it locked in.
func (l *channelLink) handleRevocation(msg *lnwire.RevokeAndAck) (
	[]*htlcPacket, error) {

	forwards, update, err := l.channel.ReceiveRevocation(msg)
	if err != nil {
		return nil, l.handleChannelErr(err)
	}
	if err := l.applyUpdate(update); err != nil {
		return nil, err
	}

	packets, err := l.processLockedInUpdates(forwards)
	if err != nil {
		return nil, err
	}

	if l.channel.NeedCommitment() {
		if err := l.updateCommitTx(); err != nil {
			return packets, err
		}
	}

	return packets, l.maybeBeginNegotiation()
}

// updateCommitTx signs a new commitment for the remote party. Having no
// updates to sign or waiting for a revocation isn't an error.
func (l *channelLink) updateCommitTx() error {
	if err := l.checkUsable(); err != nil {
		return err
	}

	commitSig, update, err := l.channel.SignNextCommitment()
	switch {
	case errors.Is(err, lnwallet.ErrNoWindow),
		errors.Is(err, lnwallet.ErrNoUpdates):

		l.log.Tracef("Not signing commitment: %v", err)
		return nil

	case err != nil:
		return err
	}

	if err := l.applyUpdate(update); err != nil {
		return err
	}
	l.sendMessage(commitSig)

	return nil
}

// processLockedInUpdates acts on the updates of the remote party that were
// locked in: adds are settled, failed or forwarded, fails are sent
// backwards.
func (l *channelLink) processLockedInUpdates(
	pds []*lnwallet.PaymentDescriptor) ([]*htlcPacket, error) {

	var packets []*htlcPacket
	for _, pd := range pds {
		switch pd.EntryType {
		case lnwallet.Add:
			pkt, err := l.processRemoteAdd(pd)
			if err != nil {
				return packets, err
			}
			if pkt != nil {
				packets = append(packets, pkt)
			}

		case lnwallet.Fail:
			packets = append(packets, newFailPacket(
				l.key(pd.ParentIndex), pd.RHash, pd.FailReason,
			))
		}
	}

	return packets, nil
}

// processRemoteAdd decodes the route of an incoming HTLC and either settles
// it, fails it, or returns the packet forwarding it.
func (l *channelLink) processRemoteAdd(
	pd *lnwallet.PaymentDescriptor) (*htlcPacket, error) {

	iterator, err := l.swCfg.HopDecoder.DecodeHopIterator(pd.OnionBlob)
	if err != nil {
		l.log.Debugf("Unable to decode route of htlc %v: %v",
			pd.HtlcIndex, err)

		return nil, l.failIncoming(pd, lnwire.CodeInvalidOnionPayload)
	}

	payload, err := iterator.HopPayload()
	if err != nil {
		l.log.Debugf("Invalid payload in htlc %v: %v", pd.HtlcIndex,
			err)

		return nil, l.failIncoming(pd, lnwire.CodeInvalidOnionPayload)
	}

	if iterator.IsFinalHop() {
		return nil, l.processExitHop(pd, payload)
	}

	fwdInfo := payload.ForwardingInfo()
	policy := l.swCfg.FwdPolicy

	// The incoming HTLC must pay our fee on top of the forwarded amount.
	expectedFee := policy.ExpectedFee(fwdInfo.AmountToForward)
	if pd.Amount < fwdInfo.AmountToForward+expectedFee {
		l.log.Debugf("Htlc %v pays insufficient fee: in=%v, out=%v, "+
			"expected fee=%v", pd.HtlcIndex, pd.Amount,
			fwdInfo.AmountToForward, expectedFee)

		return nil, l.failIncoming(pd, lnwire.CodeFeeInsufficient)
	}

	if pd.Timeout < fwdInfo.OutgoingCTLV+policy.TimeLockDelta {
		l.log.Debugf("Htlc %v has incorrect expiry: in=%v, out=%v, "+
			"delta=%v", pd.HtlcIndex, pd.Timeout,
			fwdInfo.OutgoingCTLV, policy.TimeLockDelta)

		return nil, l.failIncoming(pd, lnwire.CodeIncorrectCltvExpiry)
	}

	var nextBlob bytes.Buffer
	if err := iterator.EncodeNextHop(&nextBlob); err != nil {
		return nil, err
	}

	add := &lnwire.UpdateAddHTLC{
		PaymentHash: pd.RHash,
		Amount:      fwdInfo.AmountToForward,
		Expiry:      fwdInfo.OutgoingCTLV,
	}
	copy(add.OnionBlob[:], nextBlob.Bytes())

	return newAddPacket(
		l.key(pd.HtlcIndex), pd.Amount, fwdInfo.NextHop, add,
	), nil
}

// processExitHop settles an HTLC paying to one of our invoices, or fails it.
func (l *channelLink) processExitHop(pd *lnwallet.PaymentDescriptor,
	payload *hop.Payload) error {

	fwdInfo := payload.ForwardingInfo()

	if l.swCfg.Registry == nil {
		return l.failIncoming(
			pd, lnwire.CodeIncorrectOrUnknownPaymentDetails,
		)
	}

	invoice, err := l.swCfg.Registry.LookupInvoice(pd.RHash)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		l.log.Debugf("No invoice for htlc %v, hash=%v", pd.HtlcIndex,
			pd.RHash)

		return l.failIncoming(
			pd, lnwire.CodeIncorrectOrUnknownPaymentDetails,
		)

	case err != nil:
		return err
	}

	// The payload must match the HTLC, a mismatch means the previous hop
	// tampered with it.
	if pd.Amount < fwdInfo.AmountToForward {
		return l.failIncoming(pd, lnwire.CodeFinalIncorrectHtlcAmount)
	}
	if pd.Timeout < fwdInfo.OutgoingCTLV {
		return l.failIncoming(pd, lnwire.CodeFinalIncorrectCltvExpiry)
	}

	switch {
	case invoice.Amount != 0 && pd.Amount < invoice.Amount:
		l.log.Debugf("Htlc %v underpays invoice: %v < %v",
			pd.HtlcIndex, pd.Amount, invoice.Amount)

		return l.failIncoming(
			pd, lnwire.CodeIncorrectOrUnknownPaymentDetails,
		)

	case pd.Timeout < l.bestHeight()+l.swCfg.MinFinalCltvDelta:
		l.log.Debugf("Htlc %v expires too soon: %v", pd.HtlcIndex,
			pd.Timeout)

		return l.failIncoming(
			pd, lnwire.CodeIncorrectOrUnknownPaymentDetails,
		)
	}

	// Multi-part payments aren't collected, a single HTLC must pay the
	// full amount.
	if mpp := payload.MultiPath(); mpp != nil {
		if mpp.TotalMsat() > pd.Amount ||
			mpp.PaymentAddr() != invoice.PaymentAddr {

			return l.failIncoming(
				pd, lnwire.CodeIncorrectOrUnknownPaymentDetails,
			)
		}
	}

	fulfill, update, err := l.channel.SettleHTLC(
		invoice.Preimage, pd.HtlcIndex,
	)
	if err != nil {
		return err
	}
	if err := l.applyUpdate(update); err != nil {
		return err
	}
	l.sendMessage(fulfill)

	if err := l.swCfg.Registry.SettleInvoice(pd.RHash, pd.Amount); err != nil {
		l.log.Errorf("Unable to settle invoice %v: %v", pd.RHash, err)
	}

	l.log.Infof("Received payment hash=%v, amt=%v", pd.RHash, pd.Amount)
	monitoring.IncrementPaymentCount(monitoring.PaymentReceived)

	l.notify(&PaymentReceived{
		ChanID:      l.ChanID(),
		HtlcIndex:   pd.HtlcIndex,
		PaymentHash: pd.RHash,
		Amount:      pd.Amount,
	})

	return nil
}

// failIncoming fails an HTLC of the remote party with a failure created by
// this node.
func (l *channelLink) failIncoming(pd *lnwallet.PaymentDescriptor,
	code lnwire.FailCode) error {

	l.log.Debugf("Failing htlc %v with %v", pd.HtlcIndex, code)

	return l.failIncomingHTLC(pd.HtlcIndex, encodeFailure(code), false)
}

// failIncomingHTLC fails an HTLC of the remote party with the reason passed
// unchanged. If sign is set a new commitment is signed right away.
func (l *channelLink) failIncomingHTLC(htlcID uint64,
	reason lnwire.OpaqueReason, sign bool) error {

	if err := l.checkUsable(); err != nil {
		l.log.Warnf("Dropping fail of htlc %v, the remote party times "+
			"it out on chain: %v", htlcID, err)

		return nil
	}

	fail, err := l.channel.FailHTLC(htlcID, reason)
	if err != nil {
		return err
	}
	l.sendMessage(fail)

	if sign {
		return l.updateCommitTx()
	}

	return nil
}

// settleIncomingHTLC settles an HTLC of the remote party with a preimage
// learned downstream. If the channel can't carry the settle anymore, the
// preimage is handed to the monitor, which claims the HTLC on chain.
func (l *channelLink) settleIncomingHTLC(htlcID uint64,
	preimage lntypes.Preimage) error {

	status := l.channel.Status()
	if l.failed.Load() || l.closedOnChain.Load() ||
		status == lnwallet.ForceClosed || status == lnwallet.Closed {

		l.log.Infof("Handing preimage of htlc %v to the monitor",
			htlcID)

		update := l.channel.PreimageUpdate(preimage)
		if err := l.monitor.ApplyUpdate(update); err != nil {
			l.log.Criticalf("Unable to hand preimage to monitor: "+
				"%v", err)

			return err
		}

		return nil
	}

	fulfill, update, err := l.channel.SettleHTLC(preimage, htlcID)
	if err != nil {
		return err
	}
	if err := l.applyUpdate(update); err != nil {
		return err
	}
	l.sendMessage(fulfill)

	return l.updateCommitTx()
}

// addHTLC offers an HTLC to the remote party. On success the index of the
// HTLC is returned, the commitment is signed by the caller once the circuit
// is in place.
func (l *channelLink) addHTLC(htlc *lnwire.UpdateAddHTLC) (uint64, error) {
	if !l.EligibleToForward() {
		return 0, fmt.Errorf("%w: %v is %v", ErrUnknownNextPeer,
			l.ShortChanID(), l.channel.Status())
	}

	htlcID, err := l.channel.AddHTLC(htlc)
	if err != nil {
		return 0, err
	}
	l.sendMessage(htlc)

	return htlcID, nil
}

// proposeFunding sends our signature of the initial remote commitment.
func (l *channelLink) proposeFunding(pendingChanID [32]byte) error {
	created, err := l.channel.ProposeFunding(pendingChanID)
	if err != nil {
		return err
	}
	l.sendMessage(created)

	return nil
}

// newCloser creates the closer of the channel.
func (l *channelLink) newCloser(deliveryScript []byte,
	feeRate chainfee.SatPerKWeight) *chancloser.ChanCloser {

	return chancloser.NewChanCloser(chancloser.ChanCloseCfg{
		Channel:            l.channel,
		BroadcastTx:        l.swCfg.Broadcaster.PublishTransaction,
		MaxFee:             l.swCfg.MaxCloseFee,
		MaxRounds:          l.swCfg.MaxCloseRounds,
		NegotiationTimeout: l.swCfg.CloseNegotiationTimeout,
		Clock:              l.swCfg.Clock,
		ChainParams:        l.swCfg.ChainParams,
	}, deliveryScript, feeRate, l.bestHeight())
}

// defaultCloseParams returns the delivery script and fee rate used when the
// remote party starts the cooperative close.
func (l *channelLink) defaultCloseParams() ([]byte, chainfee.SatPerKWeight,
	error) {

	script, err := l.swCfg.GenSweepScript()
	if err != nil {
		return nil, 0, err
	}

	feeRate, err := l.swCfg.FeeEstimator.EstimateFeePerKW(
		l.swCfg.CloseConfTarget,
	)
	if err != nil {
		return nil, 0, err
	}

	return script, feeRate, nil
}

// initiateClose starts a cooperative close.
func (l *channelLink) initiateClose(deliveryScript []byte,
	feeRate chainfee.SatPerKWeight) error {

	if err := l.checkUsable(); err != nil {
		return err
	}
	if l.closer != nil {
		return chancloser.ErrChanAlreadyClosing
	}

	if deliveryScript == nil || feeRate == 0 {
		script, rate, err := l.defaultCloseParams()
		if err != nil {
			return err
		}
		if deliveryScript == nil {
			deliveryScript = script
		}
		if feeRate == 0 {
			feeRate = rate
		}
	}

	closer := l.newCloser(deliveryScript, feeRate)
	shutdown, err := closer.ShutdownChan()
	if err != nil {
		return err
	}
	l.closer = closer
	l.sendMessage(shutdown)

	return nil
}

// handleShutdown processes the shutdown of the remote party, answering with
// ours if we didn't send it yet.
func (l *channelLink) handleShutdown(msg *lnwire.Shutdown) error {
	if l.closer == nil {
		script, feeRate, err := l.defaultCloseParams()
		if err != nil {
			return err
		}
		l.closer = l.newCloser(script, feeRate)
	}

	shutdown, err := l.closer.ReceiveShutdown(*msg)
	if err != nil {
		if pvErr := l.handleChannelErr(err); pvErr != err {
			return pvErr
		}

		return l.forceClose(fmt.Errorf("invalid shutdown: %w", err))
	}

	shutdown.WhenSome(func(s lnwire.Shutdown) {
		l.sendMessage(&s)
	})

	return l.maybeBeginNegotiation()
}

// maybeBeginNegotiation starts the fee negotiation once both shutdowns were
// exchanged and the channel is clean.
func (l *channelLink) maybeBeginNegotiation() error {
	if l.closer == nil || l.negotiating || !l.channel.ReadyToClose() {
		return nil
	}

	closingSigned, err := l.closer.BeginNegotiation()
	if err != nil {
		return l.forceClose(fmt.Errorf("unable to begin close "+
			"negotiation: %w", err))
	}
	l.negotiating = true

	closingSigned.WhenSome(func(cs lnwire.ClosingSigned) {
		l.sendMessage(&cs)
	})

	return nil
}

// handleClosingSigned processes a fee offer of the remote party. Failing to
// agree force closes the channel.
func (l *channelLink) handleClosingSigned(msg *lnwire.ClosingSigned) error {
	if l.closer == nil {
		return l.forceClose(errors.New("closing_signed before " +
			"shutdown"))
	}

	closingSigned, err := l.closer.ReceiveClosingSigned(*msg)
	if err != nil {
		return l.forceClose(fmt.Errorf("close negotiation failed: %w",
			err))
	}

	closingSigned.WhenSome(func(cs lnwire.ClosingSigned) {
		l.sendMessage(&cs)
	})

	if closeTx, err := l.closer.ClosingTx(); err == nil {
		l.log.Infof("Cooperative close %v broadcast", closeTx.TxHash())
	}

	return nil
}

// checkCloseTimeout force closes a channel whose fee negotiation took too
// long.
func (l *channelLink) checkCloseTimeout() error {
	if l.closer == nil || l.failed.Load() {
		return nil
	}

	if err := l.closer.CheckTimeout(); err != nil {
		return l.forceClose(err)
	}

	return nil
}

// blockConnected hands a block to the monitor and updates the chain view of
// the channel. It returns the events of the monitor and whether the short
// channel id was derived from this block.
func (l *channelLink) blockConnected(block *wire.MsgBlock,
	height uint32) ([]contractcourt.Event, bool, error) {

	events, err := l.monitor.BlockConnected(block, height)
	l.channel.NotifyBlockHeight(height)

	var derived bool
	if l.shortChanID.Load() == 0 {
		chanPoint := l.channel.ChannelPoint()
		for i, tx := range block.Transactions {
			if tx.TxHash() != chanPoint.Hash {
				continue
			}

			scid := lnwire.ShortChannelID{
				BlockHeight: height,
				TxIndex:     uint32(i),
				TxPosition:  uint16(chanPoint.Index),
			}
			l.shortChanID.Store(scid.ToUint64())
			derived = true

			l.log.Infof("Funding confirmed, short channel id %v",
				scid)
		}
	}

	if timeoutErr := l.checkCloseTimeout(); timeoutErr != nil {
		l.log.Errorf("Unable to force close: %v", timeoutErr)
	}

	return events, derived, err
}

// handleMonitorEvents acts on the events of the monitor. It returns the
// packets resolving HTLCs on chain.
func (l *channelLink) handleMonitorEvents(
	events []contractcourt.Event) []*htlcPacket {

	var packets []*htlcPacket
	for _, event := range events {
		l.log.Debugf("Monitor event %T", event)

		switch e := event.(type) {
		case *contractcourt.FundingConfirmed:
			if l.channel.Status() != lnwallet.AwaitingFundingLocked {
				continue
			}

			ready, err := l.channel.ChannelReady()
			if err != nil {
				l.log.Errorf("Unable to create channel_ready: "+
					"%v", err)
				continue
			}
			l.sendMessage(ready)

		case *contractcourt.CloseDetected:
			if e.Height == 0 {
				l.log.Infof("Unconfirmed %v close seen", e.Type)
				continue
			}

			l.closedOnChain.Store(true)
			l.channel.MarkClosedOnChain(
				e.Type == contractcourt.CloseTypeCooperative,
			)
			l.notify(&ChannelClosed{
				ChanPoint: e.ChanPoint,
				Reason:    e.Type,
				CloseTx:   e.CloseTx,
				Height:    e.Height,
			})

		case *contractcourt.HtlcDeadline:
			status := l.channel.Status()
			if status == lnwallet.ForceClosed ||
				status == lnwallet.Closed {

				continue
			}

			err := l.forceClose(fmt.Errorf("htlc %v (incoming=%v) "+
				"expires at %v", e.HtlcIndex, e.Incoming,
				e.Expiry))
			if err != nil {
				l.log.Errorf("Unable to force close: %v", err)
			}

		case *contractcourt.PreimageExtracted:
			pkt := newSettlePacket(l.key(e.HtlcIndex), e.Preimage)
			pkt.onChain = true
			packets = append(packets, pkt)

		case *contractcourt.HtlcFailedOnChain:
			pkt := newFailPacket(
				l.key(e.HtlcIndex), e.RHash,
				encodeFailure(lnwire.CodePermanentChannelFailure),
			)
			pkt.onChain = true
			packets = append(packets, pkt)

		case *contractcourt.FundsSwept:
			l.notify(&FundsReceivedOnChain{
				ChanPoint: e.ChanPoint,
				Txid:      e.Txid,
				Amount:    e.Amount,
				Justice:   e.Justice,
			})

		case *contractcourt.ChannelResolved:
			l.log.Infof("Channel resolved after %v close",
				e.CloseType)
			l.resolved.Store(true)
		}
	}

	return packets
}
