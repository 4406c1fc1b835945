package contractcourt

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
)

// htlcRef identifies an HTLC we offered by its output on a commitment.
type htlcRef struct {
	htlcIndex uint64
	rHash     lntypes.Hash
}

// closeInfo is the classification of a spend of the funding output.
type closeInfo struct {
	closeType CloseType

	// commit is the confirmed commitment, nil for cooperative and unknown
	// closes.
	commit *commitView

	// secret is the revocation secret of a breached commitment.
	secret [32]byte
}

// classifyClose matches a spend of the funding output against every state
// we know of.
func (m *ChannelMonitor) classifyClose(tx *wire.MsgTx) (*closeInfo, error) {
	txid := tx.TxHash()

	if m.localCommit != nil && m.localCommit.Tx.TxHash() == txid {
		return &closeInfo{
			closeType: CloseTypeLocalForce,
			commit:    m.localCommit,
		}, nil
	}

	for _, remote := range m.remoteCommits {
		if remote.Tx.TxHash() == txid {
			return &closeInfo{
				closeType: CloseTypeRemoteForce,
				commit:    remote,
			}, nil
		}
	}

	// A revoked commitment is found through the state number hidden in
	// its lock time and sequence.
	stateNum := lnwallet.GetStateNumHint(tx, m.builder.StateHintObfuscator())
	if revoked, ok := m.revokedCommits[stateNum]; ok &&
		revoked.CommitTx.TxHash() == txid {

		return m.breachInfo(stateNum, revoked)
	}

	if len(tx.TxIn) > 0 && tx.TxIn[0].Sequence == wire.MaxTxInSequenceNum {
		return &closeInfo{closeType: CloseTypeCooperative}, nil
	}

	return &closeInfo{closeType: CloseTypeUnknown}, nil
}

// breachInfo rebuilds a revoked remote commitment with its revealed secret.
func (m *ChannelMonitor) breachInfo(height uint64,
	revoked channeldb.ChannelCommitment) (*closeInfo, error) {

	secretHash, err := m.revocations.LookUp(height)
	if err != nil {
		return nil, fmt.Errorf("no secret of revoked commitment %v: %w",
			height, err)
	}

	var secret [32]byte
	copy(secret[:], secretHash[:])

	commit, err := rebuildCommit(
		m.builder, lntypes.Remote, &channeldb.CommitmentUpdate{
			Commitment:  revoked,
			CommitPoint: input.ComputeCommitmentPoint(secret[:]),
		},
	)
	if err != nil {
		return nil, err
	}

	return &closeInfo{
		closeType: CloseTypeBreach,
		commit:    commit,
		secret:    secret,
	}, nil
}

// handleClose reacts to a confirmed spend of the funding output. It creates
// the resolvers of every output we can claim and fails the HTLCs that can no
// longer be claimed with a preimage.
func (m *ChannelMonitor) handleClose(tx *wire.MsgTx, height uint32) []Event {
	info, err := m.classifyClose(tx)
	if err != nil {
		m.log.Errorf("Unable to classify close %v: %v", tx.TxHash(), err)
		info = &closeInfo{closeType: CloseTypeUnknown}
	}

	m.log.Infof("Funding output spent by %v close %v at height %v",
		info.closeType, tx.TxHash(), height)

	m.closeTx = tx
	m.closeType = info.closeType
	m.closeHeight = height
	m.state = StateResolvingOutputs

	events := []Event{&CloseDetected{
		ChanPoint: m.params.ChanPoint,
		Type:      info.closeType,
		CloseTx:   tx,
		Height:    height,
	}}

	resolvers, err := m.newResolvers(info, tx, height)
	if err != nil {
		m.log.Errorf("Unable to create resolvers of close %v: %v",
			tx.TxHash(), err)
	}
	m.resolvers = resolvers

	for _, preimage := range m.preimages {
		m.supplyPreimage(preimage)
	}

	events = append(events, m.failDanglingHtlcs(info)...)

	m.refreshWatched()

	return events
}

// newResolvers creates the resolvers of all outputs of a confirmed close we
// can claim.
func (m *ChannelMonitor) newResolvers(info *closeInfo, tx *wire.MsgTx,
	height uint32) ([]ContractResolver, error) {

	var (
		cfg       = m.resolverCfg
		localCfg  = &m.params.LocalChanCfg
		resolvers []ContractResolver
	)

	switch info.closeType {
	case CloseTypeCooperative:
		return nil, nil

	case CloseTypeBreach:
		breach, err := newBreachResolver(
			cfg, info.commit, info.secret, height,
		)
		if err != nil {
			return nil, err
		}

		// A justice transaction published from the mempool may
		// confirm together with the commitment.
		for txid := range m.mempoolJustice {
			breach.justiceTxs[txid] = struct{}{}
		}

		return []ContractResolver{breach}, nil

	// An unknown commitment can still pay to our static payment key.
	case CloseTypeUnknown:
		pkScript, err := input.CommitScriptUnencumbered(
			localCfg.PaymentBasePoint.PubKey,
		)
		if err != nil {
			return nil, err
		}

		found, index := input.FindScriptOutputIndex(tx, pkScript)
		if !found {
			return nil, nil
		}

		op := wire.OutPoint{Hash: tx.TxHash(), Index: index}
		signDesc := &input.SignDescriptor{
			KeyDesc:       localCfg.PaymentBasePoint,
			WitnessScript: pkScript,
			Output:        tx.TxOut[index],
			HashType:      txscript.SigHashAll,
		}
		inp := input.NewBaseInput(
			&op, input.CommitmentNoDelay, signDesc, height,
		)

		return []ContractResolver{
			newCommitSweepResolver(cfg, inp, height),
		}, nil
	}

	commit := info.commit
	txid := commit.Tx.TxHash()

	switch {
	case commit.WhoseCommit.IsLocal() && commit.ToLocalIndex >= 0:
		op := wire.OutPoint{Hash: txid, Index: uint32(commit.ToLocalIndex)}
		signDesc := &input.SignDescriptor{
			KeyDesc:       localCfg.DelayBasePoint,
			SingleTweak:   commit.KeyRing.LocalCommitKeyTweak,
			WitnessScript: commit.ToLocalScript.WitnessScript,
			Output:        commit.Tx.TxOut[op.Index],
			HashType:      txscript.SigHashAll,
		}
		inp := input.NewCsvInput(
			&op, input.CommitmentTimeLock, signDesc, height,
			commit.CsvDelay,
		)
		resolvers = append(resolvers, newCommitSweepResolver(
			cfg, inp, height,
		))

	case commit.WhoseCommit.IsRemote() && commit.ToRemoteIndex >= 0:
		op := wire.OutPoint{Hash: txid, Index: uint32(commit.ToRemoteIndex)}
		output := commit.Tx.TxOut[op.Index]
		signDesc := &input.SignDescriptor{
			KeyDesc:       localCfg.PaymentBasePoint,
			WitnessScript: output.PkScript,
			Output:        output,
			HashType:      txscript.SigHashAll,
		}
		inp := input.NewBaseInput(
			&op, input.CommitmentNoDelay, signDesc, height,
		)
		resolvers = append(resolvers, newCommitSweepResolver(
			cfg, inp, height,
		))
	}

	for _, htlc := range commit.Htlcs {
		if htlc.IsDust() {
			continue
		}

		if htlc.Incoming {
			resolvers = append(resolvers, newSuccessResolver(
				cfg, commit, htlc,
			))
			continue
		}

		resolvers = append(resolvers, newTimeoutResolver(
			cfg, commit, htlc,
		))
	}

	return resolvers, nil
}

// failDanglingHtlcs reports every outgoing HTLC that has no output on the
// confirmed commitment. Those can never be claimed with a preimage.
func (m *ChannelMonitor) failDanglingHtlcs(info *closeInfo) []Event {
	onChain := make(map[uint64]struct{})
	if info.closeType == CloseTypeLocalForce ||
		info.closeType == CloseTypeRemoteForce {

		for _, htlc := range info.commit.Htlcs {
			if !htlc.Incoming && !htlc.IsDust() {
				onChain[htlc.HtlcIndex] = struct{}{}
			}
		}
	}

	var events []Event
	for _, ref := range m.liveOutgoingHtlcs() {
		if _, ok := onChain[ref.htlcIndex]; ok {
			continue
		}

		if _, ok := m.failed[ref.htlcIndex]; ok {
			continue
		}
		m.failed[ref.htlcIndex] = struct{}{}

		m.log.Infof("Failing HTLC %v (%v) missing from confirmed %v "+
			"close", ref.htlcIndex, ref.rHash, info.closeType)

		events = append(events, &HtlcFailedOnChain{
			ChanPoint: m.params.ChanPoint,
			HtlcIndex: ref.htlcIndex,
			RHash:     ref.rHash,
		})
	}

	return events
}

// liveOutgoingHtlcs returns the HTLCs we offered on our commitment or any
// unrevoked commitment of the remote party, ordered by index.
func (m *ChannelMonitor) liveOutgoingHtlcs() []htlcRef {
	var (
		seen = make(map[uint64]struct{})
		refs []htlcRef
	)

	collect := func(commit *commitView) {
		for _, htlc := range commit.Htlcs {
			if htlc.Incoming {
				continue
			}
			if _, ok := seen[htlc.HtlcIndex]; ok {
				continue
			}

			seen[htlc.HtlcIndex] = struct{}{}
			refs = append(refs, htlcRef{
				htlcIndex: htlc.HtlcIndex,
				rHash:     htlc.RHash,
			})
		}
	}

	if m.localCommit != nil {
		collect(m.localCommit)
	}
	for _, height := range m.remoteHeights() {
		collect(m.remoteCommits[height])
	}

	sortHtlcRefs(refs)

	return refs
}

// indexHtlcOutputs rebuilds the index of our offered HTLC outputs on all
// unrevoked commitments. A spend of one of those reveals the preimage.
func (m *ChannelMonitor) indexHtlcOutputs() {
	m.htlcOutputs = make(map[wire.OutPoint]htlcRef)

	index := func(commit *commitView) {
		txid := commit.Tx.TxHash()
		for _, htlc := range commit.Htlcs {
			if htlc.Incoming || htlc.IsDust() {
				continue
			}

			op := wire.OutPoint{
				Hash:  txid,
				Index: uint32(htlc.OutputIndex),
			}
			m.htlcOutputs[op] = htlcRef{
				htlcIndex: htlc.HtlcIndex,
				rHash:     htlc.RHash,
			}
		}
	}

	if m.localCommit != nil {
		index(m.localCommit)
	}
	for _, remote := range m.remoteCommits {
		index(remote)
	}
}

// extractPreimages scans the witnesses of tx for preimages of HTLCs we
// offered.
func (m *ChannelMonitor) extractPreimages(tx *wire.MsgTx) []Event {
	var events []Event
	for _, txIn := range tx.TxIn {
		ref, ok := m.htlcOutputs[txIn.PreviousOutPoint]
		if !ok {
			continue
		}

		for _, item := range txIn.Witness {
			preimage, err := lntypes.MakePreimage(item)
			if err != nil || !preimage.Matches(ref.rHash) {
				continue
			}

			m.preimages[ref.rHash] = preimage
			m.supplyPreimage(preimage)

			if _, ok := m.extracted[ref.htlcIndex]; ok {
				break
			}
			m.extracted[ref.htlcIndex] = struct{}{}

			m.log.Infof("Extracted preimage of HTLC %v (%v) from %v",
				ref.htlcIndex, ref.rHash, tx.TxHash())

			events = append(events, &PreimageExtracted{
				ChanPoint: m.params.ChanPoint,
				HtlcIndex: ref.htlcIndex,
				Preimage:  preimage,
			})

			break
		}
	}

	return events
}

// supplyPreimage hands a preimage to all resolvers that can use it.
func (m *ChannelMonitor) supplyPreimage(preimage lntypes.Preimage) {
	for _, r := range m.resolvers {
		if pr, ok := r.(preimageResolver); ok {
			pr.SupplyPreimage(preimage)
		}
	}
}

// refreshWatched rebuilds the map of outpoints watched by the resolvers.
func (m *ChannelMonitor) refreshWatched() {
	m.watched = make(map[wire.OutPoint]ContractResolver)
	for _, r := range m.resolvers {
		for _, op := range r.WatchedOutPoints() {
			m.watched[op] = r
		}
	}
}
