package contractcourt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwallet/chanvalidate"
	"github.com/lightningnetwork/chancore/shachain"
)

var (
	// ErrStaleUpdate is returned when an update carries a commitment or a
	// revocation that isn't newer than what the monitor already holds, or
	// reuses the id of an applied update with different content.
	ErrStaleUpdate = errors.New("stale monitor update")

	// ErrInvalidUpdate is returned when an update is inconsistent with
	// the state of the monitor.
	ErrInvalidUpdate = errors.New("invalid monitor update")

	// ErrInvalidFunding is returned when the confirmed funding
	// transaction doesn't create the channel we know.
	ErrInvalidFunding = errors.New("invalid funding transaction")
)

// MonitorState is the on-chain state of a channel as seen by its monitor.
type MonitorState uint8

const (
	// StateArmed is the state of an open channel, its funding output is
	// unspent.
	StateArmed MonitorState = iota

	// StateClosing is entered once a close was requested or seen
	// unconfirmed.
	StateClosing

	// StateResolvingOutputs is entered once a spend of the funding output
	// confirmed. The outputs of the close are being claimed.
	StateResolvingOutputs

	// StateResolved is the terminal state, every output was resolved.
	StateResolved
)

// String returns a human readable monitor state.
func (s MonitorState) String() string {
	switch s {
	case StateArmed:
		return "Armed"

	case StateClosing:
		return "Closing"

	case StateResolvingOutputs:
		return "ResolvingOutputs"

	case StateResolved:
		return "Resolved"

	default:
		return fmt.Sprintf("MonitorState(%d)", uint8(s))
	}
}

// MonitorConfig holds everything a ChannelMonitor needs.
type MonitorConfig struct {
	// ChanParams are the static channel parameters.
	ChanParams *channeldb.ChannelParams

	// Signer signs our commitment and all claims.
	Signer lnwallet.ChannelSigner

	// Broadcaster publishes transactions.
	Broadcaster Broadcaster

	// Persister durably stores the applied updates.
	Persister Persister

	// FeeEstimator prices claims.
	FeeEstimator chainfee.Estimator

	// GenSweepScript returns the script claimed funds are sent to. It is
	// called once when the monitor is created.
	GenSweepScript func() ([]byte, error)

	// JusticeConfTarget is the confirmation target of justice
	// transactions. Zero selects the default.
	JusticeConfTarget uint32

	// SweepConfTarget is the confirmation target of all other claims.
	// Zero selects the default.
	SweepConfTarget uint32

	// IncomingBroadcastDelta is the number of blocks before the expiry of
	// an incoming HTLC we know the preimage of that we broadcast our
	// commitment to claim it. Zero selects the default.
	IncomingBroadcastDelta uint32

	// OutgoingBroadcastDelta is the number of blocks before the expiry of
	// an offered HTLC that we broadcast our commitment to time it out.
	// Zero broadcasts at the expiry height.
	OutgoingBroadcastDelta uint32

	// BestHeight is the height of the chain tip when the monitor is
	// created.
	BestHeight uint32
}

// preparedUpdate holds the validated content of an update before it's
// applied.
type preparedUpdate struct {
	local  *commitView
	remote *commitView

	// revocations is the secret store with the new secret added.
	revocations *shachain.RevocationStore
}

// ChannelMonitor is the on-chain enforcer of a single channel. It holds the
// append-only state delivered through monitor updates, and the minimal chain
// state needed to claim the outputs of any close. It owns no goroutines: the
// caller pushes updates, blocks and transactions.
type ChannelMonitor struct {
	mu sync.Mutex

	cfg    MonitorConfig
	params *channeldb.ChannelParams

	builder     *lnwallet.CommitmentBuilder
	resolverCfg *resolverConfig

	state MonitorState

	// applied maps the ids of applied updates to their digests.
	applied map[uint64]chainhash.Hash

	// localCommit is our latest commitment.
	localCommit *commitView

	// remoteCommits are the unrevoked commitments of the remote party,
	// the current one and possibly a pending one.
	remoteCommits map[uint64]*commitView
	remoteHeight  uint64
	hasRemote     bool

	// revokedCommits are the revoked commitments of the remote party by
	// height.
	revokedCommits map[uint64]channeldb.ChannelCommitment
	revocations    *shachain.RevocationStore

	preimages map[lntypes.Hash]lntypes.Preimage

	// forceClosed is set once the channel asked us to broadcast our
	// commitment.
	forceClosed bool

	bestHeight        uint32
	fundingConfHeight uint32
	fundingReported   bool

	// closeSeen is set when a spend of the funding output was seen
	// unconfirmed.
	closeSeen   bool
	closeTx     *wire.MsgTx

	// mempoolJustice holds the justice transactions published for a
	// revoked commitment seen unconfirmed.
	mempoolJustice map[chainhash.Hash]struct{}

	closeType   CloseType
	closeHeight uint32

	resolvers []ContractResolver
	watched   map[wire.OutPoint]ContractResolver

	htlcOutputs map[wire.OutPoint]htlcRef
	extracted   map[uint64]struct{}
	failed      map[uint64]struct{}

	log btclog.Logger
}

// NewChannelMonitor creates the monitor of a channel. The funding update of
// the channel must be applied before the monitor can enforce anything.
func NewChannelMonitor(cfg MonitorConfig) (*ChannelMonitor, error) {
	switch {
	case cfg.ChanParams == nil:
		return nil, errors.New("channel params required")

	case cfg.Signer == nil:
		return nil, errors.New("signer required")

	case cfg.Broadcaster == nil:
		return nil, errors.New("broadcaster required")

	case cfg.Persister == nil:
		return nil, errors.New("persister required")

	case cfg.FeeEstimator == nil:
		return nil, errors.New("fee estimator required")

	case cfg.GenSweepScript == nil:
		return nil, errors.New("sweep script generator required")
	}

	if cfg.JusticeConfTarget == 0 {
		cfg.JusticeConfTarget = justiceTxConfTarget
	}
	if cfg.SweepConfTarget == 0 {
		cfg.SweepConfTarget = sweepConfTarget
	}
	if cfg.IncomingBroadcastDelta == 0 {
		cfg.IncomingBroadcastDelta = DefaultIncomingBroadcastDelta
	}

	builder, err := lnwallet.NewCommitmentBuilder(cfg.ChanParams)
	if err != nil {
		return nil, err
	}

	sweepScript, err := cfg.GenSweepScript()
	if err != nil {
		return nil, fmt.Errorf("unable to generate sweep script: %w", err)
	}

	params := cfg.ChanParams
	m := &ChannelMonitor{
		cfg:     cfg,
		params:  params,
		builder: builder,
		resolverCfg: &resolverConfig{
			chanPoint:         params.ChanPoint,
			localCfg:          &params.LocalChanCfg,
			signer:            cfg.Signer,
			estimator:         cfg.FeeEstimator,
			broadcaster:       cfg.Broadcaster,
			sweepScript:       sweepScript,
			sweepConfTarget:   cfg.SweepConfTarget,
			justiceConfTarget: cfg.JusticeConfTarget,
		},
		state:          StateArmed,
		applied:        make(map[uint64]chainhash.Hash),
		remoteCommits:  make(map[uint64]*commitView),
		revokedCommits: make(map[uint64]channeldb.ChannelCommitment),
		revocations:    shachain.NewRevocationStore(),
		preimages:      make(map[lntypes.Hash]lntypes.Preimage),
		bestHeight:     cfg.BestHeight,
		watched:        make(map[wire.OutPoint]ContractResolver),
		htlcOutputs:    make(map[wire.OutPoint]htlcRef),
		extracted:      make(map[uint64]struct{}),
		failed:         make(map[uint64]struct{}),
		log: log.WithPrefix(
			fmt.Sprintf("ChannelMonitor(%v):", params.ChanPoint),
		),
	}

	return m, nil
}

// RestoreMonitor recreates a monitor from its persisted record. The updates
// are replayed without being persisted again and without broadcasting. The
// chain state is rebuilt by the caller replaying blocks from the funding
// broadcast height.
func RestoreMonitor(cfg MonitorConfig,
	record *channeldb.MonitorRecord) (*ChannelMonitor, error) {

	params := record.Params
	cfg.ChanParams = &params

	m, err := NewChannelMonitor(cfg)
	if err != nil {
		return nil, err
	}

	for _, update := range record.Updates {
		if err := m.applyUpdate(update, false); err != nil {
			return nil, fmt.Errorf("unable to replay %v: %w", update,
				err)
		}
	}

	if record.Resolved {
		m.state = StateResolved
	}

	m.log.Debugf("Restored with %v updates in state %v",
		len(record.Updates), m.state)

	return m, nil
}

// ChannelPoint returns the funding outpoint of the monitored channel.
func (m *ChannelMonitor) ChannelPoint() wire.OutPoint {
	return m.params.ChanPoint
}

// State returns the current state of the monitor.
func (m *ChannelMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// CloseType returns how the channel was closed. It's only meaningful once
// the monitor left StateClosing.
func (m *ChannelMonitor) CloseType() CloseType {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeType
}

// ApplyUpdate persists the update and merges it into the monitor. Applying an
// update twice is a no-op. If persisting fails, the error is returned and the
// update isn't applied.
func (m *ChannelMonitor) ApplyUpdate(
	update *channeldb.ChannelMonitorUpdate) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyUpdate(update, true)
}

// applyUpdate validates, optionally persists, and applies an update.
func (m *ChannelMonitor) applyUpdate(update *channeldb.ChannelMonitorUpdate,
	persist bool) error {

	digest, err := update.Digest()
	if err != nil {
		return err
	}

	if known, ok := m.applied[update.UpdateID]; ok {
		if known == digest {
			m.log.Tracef("Ignoring duplicate %v", update)
			return nil
		}

		return fmt.Errorf("%w: id %v reused with different content",
			ErrStaleUpdate, update.UpdateID)
	}

	prepared, err := m.validateUpdate(update)
	if err != nil {
		return err
	}

	if persist {
		err := m.cfg.Persister.PersistUpdate(m.params.ChanPoint, update)
		if err != nil {
			return fmt.Errorf("unable to persist %v: %w", update, err)
		}
	}

	m.apply(update, prepared, !persist)
	m.applied[update.UpdateID] = digest

	m.log.Debugf("Applied %v", update)

	return nil
}

// validateUpdate checks an update against the monitor state and prepares
// everything needed to apply it.
func (m *ChannelMonitor) validateUpdate(
	update *channeldb.ChannelMonitorUpdate) (*preparedUpdate, error) {

	var (
		prepared preparedUpdate
		err      error
	)

	update.LocalCommitment.WhenSome(func(c channeldb.CommitmentUpdate) {
		height := c.Commitment.CommitHeight
		if m.localCommit != nil && height <= m.localCommit.Height {
			err = fmt.Errorf("%w: local commitment %v, have %v",
				ErrStaleUpdate, height, m.localCommit.Height)
			return
		}

		if len(c.Commitment.CommitSig) == 0 {
			err = fmt.Errorf("%w: local commitment %v is unsigned",
				ErrInvalidUpdate, height)
			return
		}

		prepared.local, err = rebuildCommit(m.builder, lntypes.Local, &c)
	})
	if err != nil {
		return nil, err
	}

	update.RemoteCommitment.WhenSome(func(c channeldb.CommitmentUpdate) {
		height := c.Commitment.CommitHeight
		if m.hasRemote && height <= m.remoteHeight {
			err = fmt.Errorf("%w: remote commitment %v, have %v",
				ErrStaleUpdate, height, m.remoteHeight)
			return
		}

		prepared.remote, err = rebuildCommit(
			m.builder, lntypes.Remote, &c,
		)
	})
	if err != nil {
		return nil, err
	}

	update.CommitmentSecret.WhenSome(func(s channeldb.CommitmentSecret) {
		prepared.revocations, err = m.validateSecret(s)
	})
	if err != nil {
		return nil, err
	}

	return &prepared, nil
}

// validateSecret checks that a revocation secret is the next one and revokes
// a commitment we know. It returns a copy of the secret store with the secret
// added.
func (m *ChannelMonitor) validateSecret(
	s channeldb.CommitmentSecret) (*shachain.RevocationStore, error) {

	numSecrets := m.revocations.NumSecrets()
	switch {
	case s.Height < numSecrets:
		return nil, fmt.Errorf("%w: secret %v, have %v secrets",
			ErrStaleUpdate, s.Height, numSecrets)

	case s.Height > numSecrets:
		return nil, fmt.Errorf("%w: secret %v skips secret %v",
			ErrInvalidUpdate, s.Height, numSecrets)
	}

	remote, ok := m.remoteCommits[s.Height]
	if !ok {
		return nil, fmt.Errorf("%w: secret revokes unknown remote "+
			"commitment %v", ErrInvalidUpdate, s.Height)
	}

	point := input.ComputeCommitmentPoint(s.Secret[:])
	if !point.IsEqual(remote.KeyRing.CommitPoint) {
		return nil, fmt.Errorf("%w: secret %v doesn't match the "+
			"commitment point", ErrInvalidUpdate, s.Height)
	}

	// The store is copied so a rejected update leaves it untouched.
	var b bytes.Buffer
	if err := m.revocations.Encode(&b); err != nil {
		return nil, err
	}
	store, err := shachain.NewRevocationStoreFromBytes(&b)
	if err != nil {
		return nil, err
	}

	secret := chainhash.Hash(s.Secret)
	if err := store.AddNextEntry(&secret); err != nil {
		return nil, fmt.Errorf("%w: secret %v: %v", ErrInvalidUpdate,
			s.Height, err)
	}

	return store, nil
}

// apply merges a validated update into the monitor.
func (m *ChannelMonitor) apply(update *channeldb.ChannelMonitorUpdate,
	prepared *preparedUpdate, replay bool) {

	if prepared.local != nil {
		m.localCommit = prepared.local
	}

	if prepared.remote != nil {
		m.remoteCommits[prepared.remote.Height] = prepared.remote
		m.remoteHeight = prepared.remote.Height
		m.hasRemote = true
	}

	update.CommitmentSecret.WhenSome(func(s channeldb.CommitmentSecret) {
		m.revocations = prepared.revocations
		m.revokedCommits[s.Height] = m.remoteCommits[s.Height].disk
		delete(m.remoteCommits, s.Height)
	})

	if prepared.local != nil || prepared.remote != nil ||
		update.CommitmentSecret.IsSome() {

		m.indexHtlcOutputs()
	}

	for _, preimage := range update.Preimages {
		m.preimages[preimage.Hash()] = preimage
		m.supplyPreimage(preimage)
	}

	update.ForceClose.WhenSome(func(f channeldb.ForceClose) {
		if !f.ShouldBroadcast {
			return
		}

		// The monitor may have gone to chain on its own already.
		alreadyClosed := m.forceClosed

		m.forceClosed = true
		if m.state == StateArmed {
			m.state = StateClosing
		}

		if !replay && !alreadyClosed && m.state == StateClosing {
			m.broadcastCommitment()
		}
	})
}

// expiringHtlc returns an HTLC of our latest commitment that must be
// resolved on chain at height: an offered HTLC at its broadcast cutoff, or
// an incoming one we know the preimage of before the remote party can time
// it out. Trimmed HTLCs can't be claimed and are ignored.
func (m *ChannelMonitor) expiringHtlc(height uint32) *lnwallet.CommitHtlc {
	if m.localCommit == nil {
		return nil
	}

	for i := range m.localCommit.Htlcs {
		htlc := &m.localCommit.Htlcs[i]
		if htlc.IsDust() {
			continue
		}

		delta := m.cfg.OutgoingBroadcastDelta
		if htlc.Incoming {
			if _, ok := m.preimages[htlc.RHash]; !ok {
				continue
			}
			delta = m.cfg.IncomingBroadcastDelta
		}

		var cutoff uint32
		if htlc.Expiry > delta {
			cutoff = htlc.Expiry - delta
		}
		if height >= cutoff {
			return htlc
		}
	}

	return nil
}

// goToChain broadcasts our commitment if an HTLC reached its deadline.
func (m *ChannelMonitor) goToChain(height uint32) []Event {
	htlc := m.expiringHtlc(height)
	if htlc == nil {
		return nil
	}

	m.log.Infof("Going to chain for htlc %v (incoming=%v) expiring at "+
		"%v, height=%v", htlc.HtlcIndex, htlc.Incoming, htlc.Expiry,
		height)

	m.forceClosed = true
	m.state = StateClosing

	return []Event{&HtlcDeadline{
		ChanPoint: m.params.ChanPoint,
		HtlcIndex: htlc.HtlcIndex,
		Incoming:  htlc.Incoming,
		Expiry:    htlc.Expiry,
		Height:    height,
	}}
}

// broadcastCommitment publishes our latest commitment.
func (m *ChannelMonitor) broadcastCommitment() {
	commitTx, err := m.signedLocalCommit()
	if err != nil {
		m.log.Errorf("Unable to sign commitment: %v", err)
		return
	}

	m.log.Infof("Broadcasting local commitment %v (height %v)",
		commitTx.TxHash(), m.localCommit.Height)

	label := labels.MakeLabel(labels.LabelTypeForceClose, &m.params.ChanPoint)
	if err := m.cfg.Broadcaster.PublishTransaction(commitTx, label); err != nil {
		m.log.Warnf("Unable to broadcast commitment, retrying next "+
			"block: %v", err)
	}
}

// validateFunding checks the confirmed funding transaction creates the
// channel and can be spent by our commitment.
func (m *ChannelMonitor) validateFunding(fundingTx *wire.MsgTx) error {
	ctx := &chanvalidate.Context{
		Locator: &chanvalidate.OutPointChanLocator{
			ChanPoint: m.params.ChanPoint,
		},
		MultiSigPkScript: m.builder.FundingOutput().PkScript,
		FundingTx:        fundingTx,
	}

	if m.localCommit != nil {
		commitTx, err := m.signedLocalCommit()
		if err != nil {
			return err
		}

		ctx.CommitCtx = &chanvalidate.CommitmentContext{
			Value:               m.params.Capacity,
			FullySignedCommitTx: commitTx,
		}
	}

	_, err := chanvalidate.Validate(ctx)

	return err
}

// spendsFunding returns true if tx spends the funding output.
func (m *ChannelMonitor) spendsFunding(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if txIn.PreviousOutPoint == m.params.ChanPoint {
			return true
		}
	}

	return false
}

// BlockConnected processes a new block at height. It returns the events the
// block caused. An error is only returned for a funding transaction that
// doesn't create the channel, the block is processed regardless.
func (m *ChannelMonitor) BlockConnected(block *wire.MsgBlock,
	height uint32) ([]Event, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.bestHeight = height
	if m.state == StateResolved {
		return nil, nil
	}

	var (
		events     []Event
		fundingErr error
	)
	for _, tx := range block.Transactions {
		events = append(events, m.extractPreimages(tx)...)

		if tx.TxHash() == m.params.ChanPoint.Hash &&
			m.fundingConfHeight == 0 {

			if err := m.validateFunding(tx); err != nil {
				fundingErr = fmt.Errorf("%w: %v", ErrInvalidFunding,
					err)
				m.log.Errorf("Funding tx %v invalid: %v",
					tx.TxHash(), err)
			} else {
				m.fundingConfHeight = height
			}
		}

		for idx, txIn := range tx.TxIn {
			op := txIn.PreviousOutPoint
			if op == m.params.ChanPoint && m.closeHeight == 0 {
				events = append(events, m.handleClose(tx, height)...)
				continue
			}

			r, ok := m.watched[op]
			if !ok {
				continue
			}

			events = append(events, r.SpendDetected(tx, idx, height)...)
			m.refreshWatched()
		}
	}

	if m.fundingConfHeight != 0 && !m.fundingReported {
		minConfs := uint32(m.params.NumConfsRequired)
		if minConfs == 0 {
			minConfs = 1
		}

		if height-m.fundingConfHeight+1 >= minConfs {
			m.fundingReported = true
			events = append(events, &FundingConfirmed{
				ChanPoint: m.params.ChanPoint,
				Height:    m.fundingConfHeight,
			})
		}
	}

	if m.state == StateArmed {
		events = append(events, m.goToChain(height)...)
	}

	switch m.state {
	case StateClosing:
		if m.forceClosed {
			m.broadcastCommitment()
		}

	case StateResolvingOutputs:
		for _, r := range m.resolvers {
			events = append(events, r.BlockConnected(height)...)
		}
		m.refreshWatched()

		events = append(events, m.checkResolved()...)
	}

	return events, fundingErr
}

// checkResolved moves the monitor to its terminal state once every resolver
// is done.
func (m *ChannelMonitor) checkResolved() []Event {
	for _, r := range m.resolvers {
		if !r.IsResolved() {
			return nil
		}
	}

	err := m.cfg.Persister.MarkResolved(m.params.ChanPoint)
	if err != nil {
		m.log.Errorf("Unable to mark channel resolved, retrying next "+
			"block: %v", err)
		return nil
	}

	m.log.Infof("All outputs of %v close resolved", m.closeType)
	m.state = StateResolved

	return []Event{&ChannelResolved{
		ChanPoint: m.params.ChanPoint,
		CloseType: m.closeType,
	}}
}

// TransactionSeen processes an unconfirmed transaction. Preimages are
// extracted right away, a close is acted upon once it confirms.
func (m *ChannelMonitor) TransactionSeen(tx *wire.MsgTx) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateResolved {
		return nil
	}

	events := m.extractPreimages(tx)

	if m.closeHeight != 0 || !m.spendsFunding(tx) || m.closeSeen {
		return events
	}

	info, err := m.classifyClose(tx)
	if err != nil {
		m.log.Errorf("Unable to classify close %v: %v", tx.TxHash(), err)
		info = &closeInfo{closeType: CloseTypeUnknown}
	}

	m.log.Infof("Unconfirmed %v close %v seen", info.closeType,
		tx.TxHash())

	m.closeSeen = true
	if m.state == StateArmed {
		m.state = StateClosing
	}

	if info.closeType == CloseTypeBreach {
		m.publishJustice(info)
	}

	return append(events, &CloseDetected{
		ChanPoint: m.params.ChanPoint,
		Type:      info.closeType,
		CloseTx:   tx,
	})
}

// publishJustice punishes a revoked commitment that is still unconfirmed.
// The justice transaction spends its outputs as soon as it confirms, the
// claim is tracked once the commitment confirmed.
func (m *ChannelMonitor) publishJustice(info *closeInfo) {
	breach, err := newBreachResolver(
		m.resolverCfg, info.commit, info.secret, m.bestHeight,
	)
	if err != nil {
		m.log.Errorf("Unable to create justice claim: %v", err)
		return
	}

	breach.BlockConnected(m.bestHeight)
	m.mempoolJustice = breach.justiceTxs
}

// BlockDisconnected reverts all state that depends on the block at height.
// Applied updates are never touched.
func (m *ChannelMonitor) BlockDisconnected(height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateResolved {
		return
	}

	if height > 0 {
		m.bestHeight = height - 1
	}

	if m.fundingConfHeight != 0 && m.fundingConfHeight >= height {
		m.log.Infof("Funding confirmation at %v disconnected",
			m.fundingConfHeight)

		m.fundingConfHeight = 0
		m.fundingReported = false
	}

	if m.closeHeight == 0 {
		return
	}

	if m.closeHeight < height {
		for _, r := range m.resolvers {
			r.BlockDisconnected(height)
		}
		m.refreshWatched()

		return
	}

	m.log.Infof("Close %v at height %v disconnected", m.closeTx.TxHash(),
		m.closeHeight)

	m.resolvers = nil
	m.refreshWatched()
	m.closeTx = nil
	m.closeHeight = 0

	m.state = StateArmed
	if m.forceClosed || m.closeSeen {
		m.state = StateClosing
	}
}

// remoteHeights returns the heights of the unrevoked remote commitments in
// ascending order.
func (m *ChannelMonitor) remoteHeights() []uint64 {
	heights := make([]uint64, 0, len(m.remoteCommits))
	for height := range m.remoteCommits {
		heights = append(heights, height)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	return heights
}

// sortHtlcRefs orders HTLC references by index.
func sortHtlcRefs(refs []htlcRef) {
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].htlcIndex < refs[j].htlcIndex
	})
}
