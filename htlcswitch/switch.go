package htlcswitch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lnutils"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/monitoring"
	"github.com/lightningnetwork/chancore/multimutex"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMinFinalCltvDelta is the minimum number of blocks left
	// before an HTLC paying to us expires.
	DefaultMinFinalCltvDelta = 18

	// DefaultTimeLockDelta is the expiry difference we require between
	// incoming and outgoing HTLCs.
	DefaultTimeLockDelta = 80

	// DefaultBaseFee is the flat fee charged for forwarding.
	DefaultBaseFee = lnwire.MilliSatoshi(1000)

	// DefaultFeeRate is the proportional forwarding fee in millionths.
	DefaultFeeRate = lnwire.MilliSatoshi(1)

	// DefaultCloseConfTarget is the confirmation target of cooperative
	// close transactions.
	DefaultCloseConfTarget = 6
)

// Config holds everything the Switch needs.
type Config struct {
	// Store durably stores the channel monitors.
	Store MonitorStore

	// CircuitDB persists the open circuits, so HTLCs in flight during a
	// restart are still resolved backwards. Circuits are kept in memory
	// only if nil.
	CircuitDB kvdb.Backend

	// Broadcaster publishes close and claim transactions.
	Broadcaster contractcourt.Broadcaster

	// FeeEstimator prices closes and on-chain claims.
	FeeEstimator chainfee.Estimator

	// GenSweepScript returns the scripts funds are swept and cooperatively
	// closed to.
	GenSweepScript func() ([]byte, error)

	// Registry looks up the invoices of payments terminating here. A nil
	// registry rejects all of them.
	Registry InvoiceRegistry

	// Notifier receives the events of the switch, it may be nil.
	Notifier EventSink

	// HopDecoder decodes the route blob of incoming HTLCs.
	HopDecoder hop.Decoder

	// FwdPolicy is applied to every HTLC we forward.
	FwdPolicy ForwardingPolicy

	// MinFinalCltvDelta is the minimum number of blocks left before an
	// HTLC paying to us expires.
	MinFinalCltvDelta uint32

	// MinExpiryDelta is the minimum number of blocks an HTLC offered or
	// received over our channels must have left before it expires. Zero
	// selects the default.
	MinExpiryDelta uint32

	// JusticeConfTarget and SweepConfTarget are handed to the monitors.
	JusticeConfTarget uint32
	SweepConfTarget   uint32

	// IncomingBroadcastDelta and OutgoingBroadcastDelta tell the monitors
	// how close to its expiry an HTLC may come before they go to chain.
	IncomingBroadcastDelta uint32
	OutgoingBroadcastDelta uint32

	// CloseConfTarget is the confirmation target used to price
	// cooperative closes.
	CloseConfTarget uint32

	// MaxCloseRounds, CloseNegotiationTimeout and MaxCloseFee bound the
	// cooperative close fee negotiation. Zero selects the defaults.
	MaxCloseRounds          int
	CloseNegotiationTimeout time.Duration
	MaxCloseFee             chainfee.SatPerKWeight

	// Clock enforces the negotiation timeout.
	Clock clock.Clock

	// ChainParams are the parameters of the chain we operate on.
	ChainParams *chaincfg.Params

	// BlockWorkers bounds the number of monitors processing a block
	// concurrently. Zero leaves it unbounded.
	BlockWorkers int

	// BestHeight is the height of the chain tip at startup.
	BestHeight uint32
}

// Switch is the Channel Manager. It owns the links of all channels, routes
// HTLCs between them and feeds the chain to their monitors. The switch runs
// no goroutines of its own: it's driven by ProcessMessage, SendHTLC and the
// chain notifications of its caller, which may call it concurrently.
//
// Every link is guarded by its own lock. At most one link lock is held at
// any time, packets moving between links are routed after the lock of the
// producing link was released.
type Switch struct {
	cfg *Config

	bestHeight atomic.Uint32

	// links holds the links by channel id.
	links lnutils.SyncMap[lnwire.ChannelID, *channelLink]

	// forwardingIndex maps the short channel ids of confirmed channels to
	// their channel ids.
	forwardingIndex lnutils.SyncMap[lnwire.ShortChannelID, lnwire.ChannelID]

	chanLocks *multimutex.Mutex[lnwire.ChannelID]

	circuits *circuitMap
}

// New creates a Switch.
func New(cfg Config) (*Switch, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("monitor store required")

	case cfg.Broadcaster == nil:
		return nil, errors.New("broadcaster required")

	case cfg.GenSweepScript == nil:
		return nil, errors.New("sweep script generator required")
	}

	if cfg.FeeEstimator == nil {
		cfg.FeeEstimator = chainfee.NewStaticEstimator(
			chainfee.FeePerKwFloor, chainfee.FeePerKwFloor,
		)
	}
	if cfg.HopDecoder == nil {
		cfg.HopDecoder = hop.CleartextDecoder{}
	}
	if cfg.FwdPolicy == (ForwardingPolicy{}) {
		cfg.FwdPolicy = ForwardingPolicy{
			BaseFee:       DefaultBaseFee,
			FeeRate:       DefaultFeeRate,
			TimeLockDelta: DefaultTimeLockDelta,
		}
	}
	if cfg.MinFinalCltvDelta == 0 {
		cfg.MinFinalCltvDelta = DefaultMinFinalCltvDelta
	}
	if cfg.CloseConfTarget == 0 {
		cfg.CloseConfTarget = DefaultCloseConfTarget
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}

	circuits, err := newCircuitMap(cfg.CircuitDB)
	if err != nil {
		return nil, err
	}
	monitoring.SetOpenCircuits(circuits.numOpen())

	s := &Switch{
		cfg:       &cfg,
		chanLocks: multimutex.NewMutex[lnwire.ChannelID](),
		circuits:  circuits,
	}
	s.bestHeight.Store(cfg.BestHeight)

	return s, nil
}

// notify hands an event to the notifier.
func (s *Switch) notify(event Event) {
	log.Debugf("Event %v", event)

	if s.cfg.Notifier != nil {
		s.cfg.Notifier.NotifyEvent(event)
	}
}

// BestHeight returns the height of the last connected block.
func (s *Switch) BestHeight() uint32 {
	return s.bestHeight.Load()
}

// monitorConfig returns the monitor config of a channel.
func (s *Switch) monitorConfig(cfg LinkConfig) contractcourt.MonitorConfig {
	return contractcourt.MonitorConfig{
		ChanParams:        cfg.Channel.Params(),
		Signer:            cfg.Signer,
		Broadcaster:       s.cfg.Broadcaster,
		Persister:         s.cfg.Store,
		FeeEstimator:      s.cfg.FeeEstimator,
		GenSweepScript:    s.cfg.GenSweepScript,
		JusticeConfTarget: s.cfg.JusticeConfTarget,
		SweepConfTarget:   s.cfg.SweepConfTarget,
		BestHeight:        s.bestHeight.Load(),

		IncomingBroadcastDelta: s.cfg.IncomingBroadcastDelta,
		OutgoingBroadcastDelta: s.cfg.OutgoingBroadcastDelta,
	}
}

// ChannelOpts returns the options a channel handed to AddLink must be
// created with.
func (s *Switch) ChannelOpts() []lnwallet.ChannelOpt {
	minExpiryDelta := s.cfg.MinExpiryDelta
	if minExpiryDelta == 0 {
		minExpiryDelta = lnwallet.DefaultMinExpiryDelta
	}

	return []lnwallet.ChannelOpt{
		lnwallet.WithMinExpiryDelta(minExpiryDelta),
		lnwallet.WithBestHeight(s.BestHeight()),
	}
}

// AddLink registers a new channel. Its monitor is created and stored, then
// the updates the channel produced so far are applied to it.
func (s *Switch) AddLink(cfg LinkConfig,
	updates ...*channeldb.ChannelMonitorUpdate) error {

	chanID := cfg.Channel.ChanID()
	if _, ok := s.links.Load(chanID); ok {
		return fmt.Errorf("%w: %v", ErrLinkExists, chanID)
	}

	if err := s.cfg.Store.CreateMonitor(cfg.Channel.Params()); err != nil {
		return fmt.Errorf("unable to create monitor: %w", err)
	}

	monitor, err := contractcourt.NewChannelMonitor(s.monitorConfig(cfg))
	if err != nil {
		return err
	}

	for _, update := range updates {
		if err := monitor.ApplyUpdate(update); err != nil {
			return fmt.Errorf("unable to apply %v: %w", update, err)
		}
	}

	return s.addLink(cfg, monitor)
}

// RestoreLink registers a channel whose monitor was persisted before. The
// caller replays the blocks since the funding broadcast height afterwards.
func (s *Switch) RestoreLink(cfg LinkConfig,
	record *channeldb.MonitorRecord) error {

	chanID := cfg.Channel.ChanID()
	if _, ok := s.links.Load(chanID); ok {
		return fmt.Errorf("%w: %v", ErrLinkExists, chanID)
	}

	monitor, err := contractcourt.RestoreMonitor(
		s.monitorConfig(cfg), record,
	)
	if err != nil {
		return err
	}

	return s.addLink(cfg, monitor)
}

// addLink creates the link of a channel and indexes it.
func (s *Switch) addLink(cfg LinkConfig,
	monitor *contractcourt.ChannelMonitor) error {

	link := newChannelLink(cfg, s.cfg, monitor, s.BestHeight, s.notify)

	chanID := link.ChanID()
	if _, loaded := s.links.LoadOrStore(chanID, link); loaded {
		return fmt.Errorf("%w: %v", ErrLinkExists, chanID)
	}

	if scid := link.ShortChanID(); scid.ToUint64() != 0 {
		s.forwardingIndex.Store(scid, chanID)
	}

	params := cfg.Channel.Params()
	log.InfoS(context.TODO(), "Added link",
		lnutils.LogOutPoint("chan_point", params.ChanPoint),
		lnutils.LogPubKey(
			"remote_multisig_key", params.RemoteChanCfg.MultiSigKey.PubKey,
		),
		"chan_id", chanID, "scid", link.ShortChanID())
	log.Tracef("Active links: %v", lnutils.NewLogClosure(func() string {
		var ids []string
		s.links.Range(func(id lnwire.ChannelID, _ *channelLink) bool {
			ids = append(ids, id.String())
			return true
		})

		return fmt.Sprint(ids)
	}))
	monitoring.SetActiveLinks(s.links.Len())

	return nil
}

// RemoveLink forgets a channel. The monitor record stays in the store.
func (s *Switch) RemoveLink(chanID lnwire.ChannelID) error {
	s.chanLocks.Lock(chanID)
	defer s.chanLocks.Unlock(chanID)

	link, ok := s.links.Load(chanID)
	if !ok {
		return fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	s.removeLink(link)

	return nil
}

// removeLink drops a link from both indexes. The caller holds the lock of
// the link.
func (s *Switch) removeLink(link *channelLink) {
	s.links.Delete(link.ChanID())
	if scid := link.ShortChanID(); scid.ToUint64() != 0 {
		s.forwardingIndex.Delete(scid)
	}

	log.Infof("Removed link %v", link.ChanID())
	monitoring.SetActiveLinks(s.links.Len())
}

// GetLink returns the link of a channel.
func (s *Switch) GetLink(chanID lnwire.ChannelID) (ChannelLink, error) {
	link, ok := s.links.Load(chanID)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	return link, nil
}

// getLinkByShortID returns the link of a confirmed channel.
func (s *Switch) getLinkByShortID(
	scid lnwire.ShortChannelID) (*channelLink, error) {

	chanID, ok := s.forwardingIndex.Load(scid)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrLinkNotFound, scid)
	}

	link, ok := s.links.Load(chanID)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	return link, nil
}

// snapshotLinks returns all current links.
func (s *Switch) snapshotLinks() []*channelLink {
	var links []*channelLink
	s.links.Range(func(_ lnwire.ChannelID, link *channelLink) bool {
		links = append(links, link)
		return true
	})

	return links
}

// targetChanID returns the channel a message of the remote party is meant
// for.
func targetChanID(msg lnwire.Message) (lnwire.ChannelID, error) {
	switch m := msg.(type) {
	case *lnwire.FundingCreated:
		return lnwire.NewChanIDFromOutPoint(m.FundingPoint), nil

	case *lnwire.Error:
		return m.ChanID, nil

	case *lnwire.UpdateAddHTLC:
		return m.ChanID, nil

	case *lnwire.UpdateFulfillHTLC:
		return m.ChanID, nil

	case *lnwire.UpdateFailHTLC:
		return m.ChanID, nil

	case lnwire.LinkUpdater:
		return m.TargetChanID(), nil

	default:
		return lnwire.ChannelID{}, fmt.Errorf("message %v doesn't "+
			"target a channel", msg.MsgType())
	}
}

// ProcessMessage hands a message of the remote party to the link of its
// channel, and routes whatever HTLCs the message settled, failed or
// forwarded.
func (s *Switch) ProcessMessage(msg lnwire.Message) error {
	chanID, err := targetChanID(msg)
	if err != nil {
		return err
	}

	link, ok := s.links.Load(chanID)
	if !ok {
		return fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	s.chanLocks.Lock(chanID)
	packets, err := link.handleMessage(msg)
	s.chanLocks.Unlock(chanID)

	// Packets produced before an error still have to be routed, their
	// updates were applied already.
	s.routePackets(packets)

	if err != nil {
		return fmt.Errorf("unable to process %v for %v: %w",
			msg.MsgType(), chanID, err)
	}

	return nil
}

// SendHTLC offers an HTLC of a payment we originate to the first hop. The
// outcome is reported with a PaymentSent or PaymentFailed event carrying
// paymentID. An HTLC the first hop refuses is reported as a local capacity
// failure and its error returned.
func (s *Switch) SendHTLC(firstHop lnwire.ShortChannelID, paymentID uint64,
	htlc *lnwire.UpdateAddHTLC) error {

	pkt := &htlcPacket{
		incoming:       CircuitKey{ChanID: hop.Source},
		outgoing:       CircuitKey{ChanID: firstHop},
		paymentID:      paymentID,
		payHash:        htlc.PaymentHash,
		incomingAmount: htlc.Amount,
		htlc:           htlc,
	}

	if err := s.forwardAdd(pkt); err != nil {
		code := lnwire.CodeUnknownNextPeer
		if !errors.Is(err, ErrUnknownNextPeer) &&
			!errors.Is(err, ErrLinkNotFound) {

			code = addErrorCode(err)
		}

		log.Debugf("Payment %v refused by first hop %v: %v",
			paymentID, firstHop, err)
		monitoring.IncrementPaymentCount(monitoring.PaymentFailed)

		s.notify(&PaymentFailed{
			PaymentID:   paymentID,
			PaymentHash: htlc.PaymentHash,
			Reason:      FailureReasonLocalCapacity,
			Code:        code,
		})

		return err
	}

	return nil
}

// forwardAdd offers the HTLC of an add packet to its outgoing link and opens
// its circuit.
func (s *Switch) forwardAdd(pkt *htlcPacket) error {
	htlc := pkt.htlc.(*lnwire.UpdateAddHTLC)

	link, err := s.getLinkByShortID(pkt.outgoing.ChanID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownNextPeer, err)
	}

	chanID := link.ChanID()
	s.chanLocks.Lock(chanID)
	defer s.chanLocks.Unlock(chanID)

	htlcID, err := link.addHTLC(htlc)
	if err != nil {
		return err
	}

	circuit := &PaymentCircuit{
		Incoming: pkt.incoming,
		Outgoing: CircuitKey{
			ChanID: pkt.outgoing.ChanID,
			HtlcID: htlcID,
		},
		PaymentID:      pkt.paymentID,
		PaymentHash:    pkt.payHash,
		IncomingAmount: pkt.incomingAmount,
		OutgoingAmount: htlc.Amount,
	}
	if err := s.circuits.add(circuit); err != nil {
		return err
	}
	monitoring.SetOpenCircuits(s.circuits.numOpen())

	log.Debugf("Forwarded %v", circuit)

	return link.updateCommitTx()
}

// routePackets routes packets until none are left. Resolving a packet may
// produce new ones.
func (s *Switch) routePackets(packets []*htlcPacket) {
	for len(packets) > 0 {
		pkt := packets[0]
		packets = packets[1:]

		switch pkt.htlc.(type) {
		case *lnwire.UpdateAddHTLC:
			packets = append(packets, s.routeAdd(pkt)...)

		case *lnwire.UpdateFulfillHTLC, *lnwire.UpdateFailHTLC:
			s.resolve(pkt)
		}
	}
}

// routeAdd forwards an HTLC we received. If the outgoing link refuses it a
// fail packet for the incoming HTLC is returned.
func (s *Switch) routeAdd(pkt *htlcPacket) []*htlcPacket {
	if _, ok := s.circuits.lookupIncoming(pkt.incoming); ok {
		log.Warnf("Htlc %v already forwarded", pkt.incoming)
		return nil
	}

	err := s.forwardAdd(pkt)
	if err == nil {
		return nil
	}

	code := lnwire.CodeUnknownNextPeer
	if !errors.Is(err, ErrUnknownNextPeer) {
		code = addErrorCode(err)
	}

	log.Debugf("Unable to forward %v to %v, failing with %v: %v",
		pkt.incoming, pkt.outgoing.ChanID, code, err)

	fail := newFailPacket(pkt.outgoing, pkt.payHash, encodeFailure(code))
	fail.circuit = &PaymentCircuit{
		Incoming:       pkt.incoming,
		Outgoing:       pkt.outgoing,
		PaymentHash:    pkt.payHash,
		IncomingAmount: pkt.incomingAmount,
	}

	return []*htlcPacket{fail}
}

// resolve sends a settle or fail back along the circuit of the HTLC.
func (s *Switch) resolve(pkt *htlcPacket) {
	circuit := pkt.circuit
	if circuit == nil {
		var err error
		circuit, err = s.circuits.close(pkt.outgoing)
		if err != nil {
			// Settles learned on chain are reported again by
			// later blocks, and a fail may follow a settle.
			log.Debugf("Dropping resolution of %v: %v",
				pkt.outgoing, err)
			return
		}
		monitoring.SetOpenCircuits(s.circuits.numOpen())
	}

	if circuit.IsLocal() {
		s.resolveLocal(circuit, pkt)
		return
	}

	link, err := s.getLinkByShortID(circuit.Incoming.ChanID)
	if err != nil {
		log.Errorf("Unable to resolve %v, incoming link gone: %v",
			circuit, err)
		return
	}

	chanID := link.ChanID()
	s.chanLocks.Lock(chanID)
	defer s.chanLocks.Unlock(chanID)

	switch htlc := pkt.htlc.(type) {
	case *lnwire.UpdateFulfillHTLC:
		err = link.settleIncomingHTLC(
			circuit.Incoming.HtlcID, htlc.PaymentPreimage,
		)
		if err == nil {
			log.Infof("Settled forward %v, fee=%v", circuit,
				circuit.IncomingAmount-circuit.OutgoingAmount)
			monitoring.IncrementForwardCount()
		}

	case *lnwire.UpdateFailHTLC:
		err = link.failIncomingHTLC(
			circuit.Incoming.HtlcID, htlc.Reason, true,
		)
	}

	if err != nil {
		log.Errorf("Unable to resolve %v: %v", circuit, err)
	}
}

// resolveLocal reports the outcome of a payment we originated.
func (s *Switch) resolveLocal(circuit *PaymentCircuit, pkt *htlcPacket) {
	switch htlc := pkt.htlc.(type) {
	case *lnwire.UpdateFulfillHTLC:
		log.Infof("Payment %v settled, hash=%v", circuit.PaymentID,
			circuit.PaymentHash)
		monitoring.IncrementPaymentCount(monitoring.PaymentSent)

		s.notify(&PaymentSent{
			PaymentID:   circuit.PaymentID,
			PaymentHash: circuit.PaymentHash,
			Preimage:    htlc.PaymentPreimage,
			Amount:      circuit.OutgoingAmount,
		})

	case *lnwire.UpdateFailHTLC:
		reason, code := classifyFailure(htlc.Reason)
		if pkt.onChain {
			reason = FailureReasonRoute
		}

		log.Infof("Payment %v failed, hash=%v: %v (%v)",
			circuit.PaymentID, circuit.PaymentHash, reason, code)
		monitoring.IncrementPaymentCount(monitoring.PaymentFailed)

		s.notify(&PaymentFailed{
			PaymentID:    circuit.PaymentID,
			PaymentHash:  circuit.PaymentHash,
			Reason:       reason,
			Code:         code,
			OpaqueReason: htlc.Reason,
		})
	}
}

// linkResult is the outcome of a block for a single link.
type linkResult struct {
	link    *channelLink
	events  []contractcourt.Event
	derived bool
}

// BlockConnected feeds a block to every link. The monitors process the
// block concurrently, their events are handled once all of them are done.
// The first funding validation error is returned, the block is processed
// regardless.
func (s *Switch) BlockConnected(ctx context.Context, block *wire.MsgBlock,
	height uint32) error {

	s.bestHeight.Store(height)

	links := s.snapshotLinks()
	results := make([]linkResult, len(links))

	eg := &errgroup.Group{}
	if s.cfg.BlockWorkers > 0 {
		eg.SetLimit(s.cfg.BlockWorkers)
	}
	for i, link := range links {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			chanID := link.ChanID()
			s.chanLocks.Lock(chanID)
			defer s.chanLocks.Unlock(chanID)

			events, derived, err := link.blockConnected(
				block, height,
			)
			results[i] = linkResult{
				link:    link,
				events:  events,
				derived: derived,
			}

			return err
		})
	}
	blockErr := eg.Wait()

	var packets []*htlcPacket
	for _, res := range results {
		link := res.link
		if link == nil {
			continue
		}

		if res.derived {
			s.forwardingIndex.Store(link.ShortChanID(), link.ChanID())
		}

		chanID := link.ChanID()
		s.chanLocks.Lock(chanID)
		packets = append(packets, link.handleMonitorEvents(res.events)...)
		s.chanLocks.Unlock(chanID)
	}

	s.routePackets(packets)

	// Resolved links are dropped once their last events were routed.
	for _, res := range results {
		if res.link == nil || !res.link.resolved.Load() {
			continue
		}

		chanID := res.link.ChanID()
		s.chanLocks.Lock(chanID)
		s.removeLink(res.link)
		s.chanLocks.Unlock(chanID)
	}

	return blockErr
}

// TransactionSeen hands an unconfirmed transaction to every link.
func (s *Switch) TransactionSeen(tx *wire.MsgTx) {
	var packets []*htlcPacket
	for _, link := range s.snapshotLinks() {
		chanID := link.ChanID()

		s.chanLocks.Lock(chanID)
		events := link.monitor.TransactionSeen(tx)
		packets = append(packets, link.handleMonitorEvents(events)...)
		s.chanLocks.Unlock(chanID)
	}

	s.routePackets(packets)
}

// BlockDisconnected reverts the chain state of every link that depends on
// the block at height.
func (s *Switch) BlockDisconnected(height uint32) {
	if height > 0 {
		s.bestHeight.Store(height - 1)
	}

	for _, link := range s.snapshotLinks() {
		chanID := link.ChanID()

		s.chanLocks.Lock(chanID)
		link.monitor.BlockDisconnected(height)
		s.chanLocks.Unlock(chanID)
	}
}

// CloseLink closes a channel. A force close broadcasts our commitment, a
// cooperative close sends our shutdown to the remote party. A nil script or
// zero fee rate selects the defaults.
func (s *Switch) CloseLink(chanID lnwire.ChannelID, force bool,
	deliveryScript []byte, feeRate chainfee.SatPerKWeight) error {

	link, ok := s.links.Load(chanID)
	if !ok {
		return fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	s.chanLocks.Lock(chanID)
	defer s.chanLocks.Unlock(chanID)

	if force {
		return link.forceClose(errors.New("force close requested"))
	}

	return link.initiateClose(deliveryScript, feeRate)
}

// InitFunding sends the funding_created message of a channel we fund.
func (s *Switch) InitFunding(chanID lnwire.ChannelID,
	pendingChanID [32]byte) error {

	link, ok := s.links.Load(chanID)
	if !ok {
		return fmt.Errorf("%w: %v", ErrLinkNotFound, chanID)
	}

	s.chanLocks.Lock(chanID)
	defer s.chanLocks.Unlock(chanID)

	return link.proposeFunding(pendingChanID)
}

// NumOpenCircuits returns the number of HTLCs in flight through the switch.
func (s *Switch) NumOpenCircuits() int {
	return s.circuits.numOpen()
}
