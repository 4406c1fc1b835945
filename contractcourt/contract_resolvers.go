package contractcourt

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

const (
	// sweepConfTarget is the default number of blocks that we'll use as a
	// confirmation target when sweeping.
	sweepConfTarget = 6

	// justiceTxConfTarget is the default confirmation target of justice
	// transactions. It is tight, a justice claim must win against the
	// delayed claim of the cheating party.
	justiceTxConfTarget = 2

	// DefaultIncomingBroadcastDelta is the default number of blocks before
	// the expiry of an incoming HTLC we know the preimage of at which we
	// go to chain to claim it.
	DefaultIncomingBroadcastDelta = 10
)

// ContractResolver packages a state machine which is able to carry out the
// steps required to fully resolve one output of a closed channel. Resolvers
// are driven by the monitor: they see confirmed spends of the outpoints they
// watch and every block, and never block or own goroutines.
type ContractResolver interface {
	// WatchedOutPoints returns the outpoints whose confirmed spends the
	// resolver must be told about.
	WatchedOutPoints() []wire.OutPoint

	// SpendDetected is called when the input at inputIndex of a tx
	// confirmed at height spends one of the watched outpoints.
	SpendDetected(tx *wire.MsgTx, inputIndex int, height uint32) []Event

	// BlockConnected is called for every new block after all spends of
	// the block were delivered. Claims are (re)broadcast from here.
	BlockConnected(height uint32) []Event

	// BlockDisconnected reverts all state that depends on blocks at or
	// above height.
	BlockDisconnected(height uint32)

	// IsResolved returns true if the output was fully resolved. In this
	// case the target output can be forgotten.
	IsResolved() bool
}

// preimageResolver is a resolver that can use a payment preimage.
type preimageResolver interface {
	ContractResolver

	// SupplyPreimage hands a preimage to the resolver. It returns true if
	// the preimage matched the HTLC of the resolver.
	SupplyPreimage(preimage lntypes.Preimage) bool
}

// resolverConfig contains the items shared by all resolvers of a channel.
type resolverConfig struct {
	chanPoint wire.OutPoint

	// localCfg is our channel config, it holds the base points every
	// claim is signed with.
	localCfg *channeldb.ChannelConfig

	signer      input.Signer
	estimator   chainfee.Estimator
	broadcaster Broadcaster

	// sweepScript is the script all claimed funds are sent to.
	sweepScript []byte

	sweepConfTarget   uint32
	justiceConfTarget uint32
}

// contractResolverKit is meant to be used as a mix-in struct to be embedded
// within a given ContractResolver implementation. It contains all the common
// items that a resolver requires to carry out its duties.
type contractResolverKit struct {
	*resolverConfig

	log btclog.Logger
}

// newContractResolverKit instantiates the mix-in struct.
func newContractResolverKit(cfg *resolverConfig,
	name string) contractResolverKit {

	return contractResolverKit{
		resolverConfig: cfg,
		log: log.WithPrefix(
			fmt.Sprintf("%v(%v):", name, cfg.chanPoint),
		),
	}
}

// feeRate returns the fee rate for the given confirmation target. Estimator
// failures fall back to the floor fee rate, a claim is always attempted.
func (r *contractResolverKit) feeRate(
	confTarget uint32) chainfee.SatPerKWeight {

	feeRate, err := r.estimator.EstimateFeePerKW(confTarget)
	if err != nil {
		r.log.Warnf("Unable to estimate fee for conf target %v: %v",
			confTarget, err)

		feeRate = chainfee.FeePerKwFloor
	}

	if feeRate < chainfee.FeePerKwFloor {
		feeRate = chainfee.FeePerKwFloor
	}

	return feeRate
}

// publish broadcasts tx. Failures are logged only, every claim is
// rebroadcast on the next block.
func (r *contractResolverKit) publish(tx *wire.MsgTx,
	labelType labels.LabelType) {

	label := labels.MakeLabel(labelType, &r.chanPoint)
	err := r.broadcaster.PublishTransaction(tx, label)
	if err != nil {
		r.log.Warnf("Unable to broadcast %v, retrying next block: %v",
			tx.TxHash(), err)

		return
	}

	r.log.Debugf("Broadcast %v", tx.TxHash())
}

// htlcSignDesc returns the descriptor signing for the HTLC output of commit
// with our HTLC key.
func (r *contractResolverKit) htlcSignDesc(commit *commitView,
	htlc *lnwallet.CommitHtlc) *input.SignDescriptor {

	return &input.SignDescriptor{
		KeyDesc:       r.localCfg.HtlcBasePoint,
		SingleTweak:   commit.KeyRing.LocalHtlcKeyTweak,
		WitnessScript: htlc.Script.WitnessScript,
		Output:        commit.Tx.TxOut[htlc.OutputIndex],
		HashType:      txscript.SigHashAll,
	}
}

// secondLevelInput returns the CSV input spending the output of our HTLC
// success or timeout transaction confirmed at height.
func (r *contractResolverKit) secondLevelInput(commit *commitView,
	tx *wire.MsgTx, witnessType input.WitnessType,
	height uint32) (input.Input, error) {

	script, err := lnwallet.SecondLevelHtlcScript(
		commit.CsvDelay, commit.KeyRing,
	)
	if err != nil {
		return nil, err
	}

	signDesc := &input.SignDescriptor{
		KeyDesc:       r.localCfg.DelayBasePoint,
		SingleTweak:   commit.KeyRing.LocalCommitKeyTweak,
		WitnessScript: script.WitnessScript,
		Output:        tx.TxOut[0],
		HashType:      txscript.SigHashAll,
	}

	op := wire.OutPoint{Hash: tx.TxHash(), Index: 0}

	return input.NewCsvInput(
		&op, witnessType, signDesc, height, commit.CsvDelay,
	), nil
}

// sweptAmount is the value a confirmed sweep paid to us.
func sweptAmount(tx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.TxOut {
		total += btcutil.Amount(out.Value)
	}

	return total
}

// sortOutPoints orders outpoints by txid and index.
func sortOutPoints(ops []wire.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		cmp := bytes.Compare(ops[i].Hash[:], ops[j].Hash[:])
		if cmp != 0 {
			return cmp < 0
		}

		return ops[i].Index < ops[j].Index
	})
}
