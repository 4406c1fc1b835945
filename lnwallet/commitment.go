package lnwallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
)

// CommitmentKeyRing holds all derived keys needed to construct commitment and
// HTLC transactions. The keys are derived differently depending whether the
// commitment transaction is ours or the remote peer's. Private keys associated
// with each key may belong to the commitment owner or the "other party" which
// is referred to in the field comments, regardless of which is local and which
// is remote.
type CommitmentKeyRing struct {
	// CommitPoint is the "per commitment point" used to derive the tweak
	// for each base point.
	CommitPoint *btcec.PublicKey

	// LocalCommitKeyTweak is the tweak used to derive the local public key
	// from the local payment base point or the local private key from the
	// base point secret. This may be included in a SignDescriptor to
	// generate signatures for the local payment key.
	//
	// NOTE: This will always refer to "our" local key, regardless of
	// whether this is our commit or not. It is nil for the remote
	// commitment, as our to_remote key there is never tweaked.
	LocalCommitKeyTweak []byte

	// LocalHtlcKeyTweak is the tweak used to derive the local HTLC key
	// from the local HTLC base point. This value is needed in order to
	// derive the final key used within the HTLC scripts in the commitment
	// transaction.
	//
	// NOTE: This will always refer to "our" local HTLC key, regardless of
	// whether this is our commit or not.
	LocalHtlcKeyTweak []byte

	// LocalHtlcKey is the key that will be used in any clause paying to
	// our node of any HTLC scripts within the commitment transaction for
	// this key ring set.
	//
	// NOTE: This will always refer to "our" local HTLC key, regardless of
	// whether this is our commit or not.
	LocalHtlcKey *btcec.PublicKey

	// RemoteHtlcKey is the key that will be used in clauses within the
	// HTLC script that send money to the remote party.
	//
	// NOTE: This will always refer to "their" remote HTLC key, regardless
	// of whether this is our commit or not.
	RemoteHtlcKey *btcec.PublicKey

	// ToLocalKey is the commitment transaction owner's key which is
	// included in HTLC success and timeout transaction scripts. This is
	// the public key used for the to_local output of the commitment
	// transaction.
	//
	// NOTE: Who's key this is depends on the current perspective. If this
	// is our commitment this will be our key.
	ToLocalKey *btcec.PublicKey

	// ToRemoteKey is the non-owner's payment key in the commitment tx.
	// This is the key used to generate the to_remote output within the
	// commitment transaction.
	//
	// NOTE: Who's key this is depends on the current perspective. If this
	// is our commitment this will be their key.
	ToRemoteKey *btcec.PublicKey

	// RevocationKey is the key that can be used by the other party to
	// redeem outputs from a revoked commitment transaction if it were to
	// be published.
	//
	// NOTE: Who can sign for this key depends on the current perspective.
	// If this is our commitment, it means the remote node can sign for
	// this key in case of a breach.
	RevocationKey *btcec.PublicKey
}

// DeriveCommitmentKeys generates a new commitment key set using the base
// points and commitment point. The keys are derived differently depending on
// the type of channel, and whether the commitment transaction is ours or the
// remote peer's. The to_remote key always is the untweaked payment base point
// of the non-broadcaster.
func DeriveCommitmentKeys(commitPoint *btcec.PublicKey,
	whoseCommit lntypes.ChannelParty,
	localChanCfg, remoteChanCfg *channeldb.ChannelConfig) *CommitmentKeyRing {

	// Depending on if this is our commit or not, we'll choose the correct
	// base point.
	localBasePoint := localChanCfg.PaymentBasePoint
	if whoseCommit.IsLocal() {
		localBasePoint = localChanCfg.DelayBasePoint
	}

	// First, we'll derive all the keys that don't depend on the context of
	// whose commitment transaction this is.
	keyRing := &CommitmentKeyRing{
		CommitPoint: commitPoint,

		LocalCommitKeyTweak: input.SingleTweakBytes(
			commitPoint, localBasePoint.PubKey,
		),
		LocalHtlcKeyTweak: input.SingleTweakBytes(
			commitPoint, localChanCfg.HtlcBasePoint.PubKey,
		),
		LocalHtlcKey: input.TweakPubKey(
			localChanCfg.HtlcBasePoint.PubKey, commitPoint,
		),
		RemoteHtlcKey: input.TweakPubKey(
			remoteChanCfg.HtlcBasePoint.PubKey, commitPoint,
		),
	}

	// We'll now compute the to_local, to_remote, and revocation key based
	// on the current commitment point. To create the revocation key, we
	// take the opposite party's revocation base point and combine that
	// with the current commitment point.
	var (
		toLocalBasePoint    *btcec.PublicKey
		toRemoteBasePoint   *btcec.PublicKey
		revocationBasePoint *btcec.PublicKey
	)
	if whoseCommit.IsLocal() {
		toLocalBasePoint = localChanCfg.DelayBasePoint.PubKey
		toRemoteBasePoint = remoteChanCfg.PaymentBasePoint.PubKey
		revocationBasePoint = remoteChanCfg.RevocationBasePoint.PubKey
	} else {
		toLocalBasePoint = remoteChanCfg.DelayBasePoint.PubKey
		toRemoteBasePoint = localChanCfg.PaymentBasePoint.PubKey
		revocationBasePoint = localChanCfg.RevocationBasePoint.PubKey
	}

	keyRing.ToLocalKey = input.TweakPubKey(toLocalBasePoint, commitPoint)
	keyRing.RevocationKey = input.DeriveRevocationPubkey(
		revocationBasePoint, commitPoint,
	)
	keyRing.ToRemoteKey = toRemoteBasePoint

	// If this is not our commitment, the above ToRemoteKey will be ours,
	// and we blank out the local commitment tweak to indicate that the key
	// should not be tweaked when signing.
	if whoseCommit.IsRemote() {
		keyRing.LocalCommitKeyTweak = nil
	}

	return keyRing
}

// ScriptInfo holds a redeem script and hash.
type ScriptInfo struct {
	// PkScript is the output's PkScript.
	PkScript []byte

	// WitnessScript is the full script required to properly redeem the
	// output. This field should be set to the full script if a p2wsh
	// output is being signed. For p2wkh it should be set equal to the
	// PkScript.
	WitnessScript []byte
}

// CommitScriptToSelf creates the script of the to_local output of the
// commitment broadcast by the owner of the key ring.
func CommitScriptToSelf(csvDelay uint32,
	keyRing *CommitmentKeyRing) (*ScriptInfo, error) {

	witnessScript, err := input.CommitScriptToSelf(
		csvDelay, keyRing.ToLocalKey, keyRing.RevocationKey,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	return &ScriptInfo{
		PkScript:      pkScript,
		WitnessScript: witnessScript,
	}, nil
}

// CommitScriptToRemote creates the script of the to_remote output, a plain
// p2wkh output of the non-broadcaster's payment base point.
func CommitScriptToRemote(keyRing *CommitmentKeyRing) (*ScriptInfo, error) {
	pkScript, err := input.CommitScriptUnencumbered(keyRing.ToRemoteKey)
	if err != nil {
		return nil, err
	}

	return &ScriptInfo{
		PkScript:      pkScript,
		WitnessScript: pkScript,
	}, nil
}

// SecondLevelHtlcScript creates the script of the output of the HTLC success
// and timeout transactions of the owner of the key ring.
func SecondLevelHtlcScript(csvDelay uint32,
	keyRing *CommitmentKeyRing) (*ScriptInfo, error) {

	witnessScript, err := input.SecondLevelHtlcScript(
		keyRing.RevocationKey, keyRing.ToLocalKey, csvDelay,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	return &ScriptInfo{
		PkScript:      pkScript,
		WitnessScript: witnessScript,
	}, nil
}

// GenHtlcScript generates the proper P2WSH public key scripts for the HTLC
// output modified by two-bits denoting if this is an incoming HTLC, and if the
// HTLC is being applied to their commitment transaction or ours.
func GenHtlcScript(incoming bool, whoseCommit lntypes.ChannelParty,
	timeout uint32, rHash lntypes.Hash,
	keyRing *CommitmentKeyRing) (*ScriptInfo, error) {

	var (
		witnessScript []byte
		err           error
	)

	// Generate the proper redeem scripts for the HTLC output modified by
	// two-bits denoting if this is an incoming HTLC, and if the HTLC is
	// being applied to their commitment transaction or ours.
	switch {
	// The HTLC is paying to us, and being applied to our commitment
	// transaction. So we need to use the receiver's version of the HTLC
	// script.
	case incoming && whoseCommit.IsLocal():
		witnessScript, err = input.ReceiverHTLCScript(
			timeout, keyRing.RemoteHtlcKey, keyRing.LocalHtlcKey,
			keyRing.RevocationKey, rHash[:],
		)

	// We're being paid via an HTLC by the remote party, and the HTLC is
	// being added to their commitment transaction, so we use the sender's
	// version of the HTLC script.
	case incoming && whoseCommit.IsRemote():
		witnessScript, err = input.SenderHTLCScript(
			keyRing.RemoteHtlcKey, keyRing.LocalHtlcKey,
			keyRing.RevocationKey, rHash[:],
		)

	// We're sending an HTLC which is being added to our commitment
	// transaction. Therefore, we need to use the sender's version of the
	// HTLC script.
	case !incoming && whoseCommit.IsLocal():
		witnessScript, err = input.SenderHTLCScript(
			keyRing.LocalHtlcKey, keyRing.RemoteHtlcKey,
			keyRing.RevocationKey, rHash[:],
		)

	// Finally, we're paying the remote party via an HTLC, which is being
	// added to their commitment transaction. Therefore, we use the
	// receiver's version of the HTLC script.
	default:
		witnessScript, err = input.ReceiverHTLCScript(
			timeout, keyRing.LocalHtlcKey, keyRing.RemoteHtlcKey,
			keyRing.RevocationKey, rHash[:],
		)
	}
	if err != nil {
		return nil, err
	}

	// Now that we have the redeem scripts, create the P2WSH public key
	// script for the output itself.
	htlcP2WSH, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	return &ScriptInfo{
		PkScript:      htlcP2WSH,
		WitnessScript: witnessScript,
	}, nil
}

// HtlcTimeoutFee returns the fee in satoshis required for an HTLC timeout
// transaction based on the current fee rate.
func HtlcTimeoutFee(feePerKw chainfee.SatPerKWeight) btcutil.Amount {
	return feePerKw.FeeForWeight(input.HtlcTimeoutWeight)
}

// HtlcSuccessFee returns the fee in satoshis required for an HTLC success
// transaction based on the current fee rate.
func HtlcSuccessFee(feePerKw chainfee.SatPerKWeight) btcutil.Amount {
	return feePerKw.FeeForWeight(input.HtlcSuccessWeight)
}

// broadcasterReceives returns true if the broadcaster of the commitment is
// the receiver of the HTLC. The receiver spends through the success
// transaction, the sender through the timeout transaction.
func broadcasterReceives(incoming bool,
	whoseCommit lntypes.ChannelParty) bool {

	return incoming == whoseCommit.IsLocal()
}

// HtlcIsDust determines if an HTLC output is dust or not depending on two
// bits: if the HTLC is incoming and if the HTLC will be placed on our
// commitment transaction, or theirs. These two pieces of information are
// required as we currently use second-level HTLC transactions as off-chain
// covenants. Depending on the two bits, we'll either be using a timeout or
// success transaction which have different weights.
func HtlcIsDust(incoming bool, whoseCommit lntypes.ChannelParty,
	feePerKw chainfee.SatPerKWeight, htlcAmt,
	dustLimit btcutil.Amount) bool {

	htlcFee := HtlcTimeoutFee(feePerKw)
	if broadcasterReceives(incoming, whoseCommit) {
		htlcFee = HtlcSuccessFee(feePerKw)
	}

	return (htlcAmt - htlcFee) < dustLimit
}

// HTLC is an active HTLC as handed to the commitment builder. Incoming is
// always from our point of view, regardless of whose commitment is built.
type HTLC struct {
	// HtlcIndex is the index of the HTLC in the log of the party that
	// offered it.
	HtlcIndex uint64

	// Incoming is true if the remote party offered the HTLC.
	Incoming bool

	// Amount is the value of the HTLC.
	Amount lnwire.MilliSatoshi

	// RHash is the payment hash.
	RHash lntypes.Hash

	// Expiry is the absolute CLTV expiry of the HTLC.
	Expiry uint32
}

// CommitHtlc is an HTLC placed on a particular commitment transaction.
type CommitHtlc struct {
	HTLC

	// OutputIndex is the index of the HTLC output in the commitment
	// transaction, or -1 if the HTLC was trimmed.
	OutputIndex int32

	// Script holds the HTLC output scripts. It is nil for trimmed HTLCs.
	Script *ScriptInfo

	// SecondLevelTx is the HTLC success or timeout transaction of the
	// broadcaster spending the HTLC output. It is nil for trimmed HTLCs.
	SecondLevelTx *wire.MsgTx
}

// IsDust returns true if the HTLC was trimmed from the commitment.
func (h *CommitHtlc) IsDust() bool {
	return h.OutputIndex < 0
}

// Commitment is a fully built commitment transaction for one party at one
// height, together with everything needed to sign it or to spend from it.
type Commitment struct {
	// WhoseCommit is the broadcaster of the commitment.
	WhoseCommit lntypes.ChannelParty

	// Height is the commitment number.
	Height uint64

	// KeyRing holds the keys the commitment was built with.
	KeyRing *CommitmentKeyRing

	// Tx is the unsigned commitment transaction.
	Tx *wire.MsgTx

	// OurBalance and TheirBalance are the settled balances before the
	// commitment fee is deducted.
	OurBalance   lnwire.MilliSatoshi
	TheirBalance lnwire.MilliSatoshi

	// Fee is the weight based commitment fee charged to the funder.
	// Trimmed outputs and msat rounding add to the effective fee of Tx.
	Fee btcutil.Amount

	// FeePerKw is the fee rate used to build the commitment.
	FeePerKw chainfee.SatPerKWeight

	// DustLimit is the dust limit of the broadcaster.
	DustLimit btcutil.Amount

	// CsvDelay is the to_self_delay of the broadcaster.
	CsvDelay uint32

	// ToLocalIndex and ToRemoteIndex are the output indexes of the
	// balance outputs, -1 if trimmed.
	ToLocalIndex  int32
	ToRemoteIndex int32

	// ToLocalScript is the script of the to_local output.
	ToLocalScript *ScriptInfo

	// Htlcs are all HTLCs of the commitment including trimmed ones, in
	// the order they were handed to the builder.
	Htlcs []CommitHtlc
}

// SortedHtlcs returns the untrimmed HTLCs ordered by their output index. This
// is the order of the HTLC signatures of a commit_sig.
func (c *Commitment) SortedHtlcs() []*CommitHtlc {
	htlcs := make([]*CommitHtlc, len(c.Tx.TxOut))
	for i := range c.Htlcs {
		htlc := &c.Htlcs[i]
		if htlc.IsDust() {
			continue
		}

		htlcs[htlc.OutputIndex] = htlc
	}

	sorted := make([]*CommitHtlc, 0, len(htlcs))
	for _, htlc := range htlcs {
		if htlc != nil {
			sorted = append(sorted, htlc)
		}
	}

	return sorted
}

// ToDiskCommit converts the commitment into the form carried by monitor
// updates. Signatures are filled in by the caller.
func (c *Commitment) ToDiskCommit() channeldb.ChannelCommitment {
	commit := channeldb.ChannelCommitment{
		CommitHeight:  c.Height,
		LocalBalance:  c.OurBalance,
		RemoteBalance: c.TheirBalance,
		CommitFee:     c.Fee,
		FeePerKw:      btcutil.Amount(c.FeePerKw),
		CommitTx:      c.Tx.Copy(),
		Htlcs:         make([]channeldb.HTLC, 0, len(c.Htlcs)),
	}

	for _, htlc := range c.Htlcs {
		commit.Htlcs = append(commit.Htlcs, channeldb.HTLC{
			RHash:         htlc.RHash,
			Amt:           htlc.Amount,
			RefundTimeout: htlc.Expiry,
			OutputIndex:   htlc.OutputIndex,
			Incoming:      htlc.Incoming,
			HtlcIndex:     htlc.HtlcIndex,
		})
	}

	return commit
}

// CommitmentPair holds the local and the remote commitment of one state.
type CommitmentPair struct {
	// Local is the commitment we can broadcast.
	Local *Commitment

	// Remote is the commitment the remote party can broadcast.
	Remote *Commitment
}

// CommitmentBuilder deterministically builds the commitment transactions of
// a channel. Both parties arrive at byte identical transactions given the same
// state.
type CommitmentBuilder struct {
	params *channeldb.ChannelParams

	fundingScript []byte
	fundingOutput *wire.TxOut

	obfuscator [StateHintSize]byte
}

// NewCommitmentBuilder creates a builder for the channel described by params.
func NewCommitmentBuilder(
	params *channeldb.ChannelParams) (*CommitmentBuilder, error) {

	fundingScript, fundingOutput, err := input.GenFundingPkScript(
		params.LocalChanCfg.MultiSigKey.PubKey.SerializeCompressed(),
		params.RemoteChanCfg.MultiSigKey.PubKey.SerializeCompressed(),
		int64(params.Capacity),
	)
	if err != nil {
		return nil, err
	}

	funder := params.LocalChanCfg.PaymentBasePoint.PubKey
	fundee := params.RemoteChanCfg.PaymentBasePoint.PubKey
	if !params.IsInitiator {
		funder, fundee = fundee, funder
	}

	return &CommitmentBuilder{
		params:        params,
		fundingScript: fundingScript,
		fundingOutput: fundingOutput,
		obfuscator:    DeriveStateHintObfuscator(funder, fundee),
	}, nil
}

// FundingScript returns the 2-of-2 witness script of the funding output.
func (b *CommitmentBuilder) FundingScript() []byte {
	return b.fundingScript
}

// FundingOutput returns the funding output.
func (b *CommitmentBuilder) FundingOutput() *wire.TxOut {
	return b.fundingOutput
}

// StateHintObfuscator returns the obfuscator of the commitment numbers.
func (b *CommitmentBuilder) StateHintObfuscator() [StateHintSize]byte {
	return b.obfuscator
}

// BuildCommitmentPair builds both commitments of a state. The local and the
// remote commitment use the commitment points of their respective
// broadcaster.
func (b *CommitmentBuilder) BuildCommitmentPair(height uint64,
	localPoint, remotePoint *btcec.PublicKey, ourBalance,
	theirBalance lnwire.MilliSatoshi, feePerKw chainfee.SatPerKWeight,
	htlcs []HTLC) (*CommitmentPair, error) {

	local, err := b.BuildCommitment(
		lntypes.Local, height, localPoint, ourBalance, theirBalance,
		feePerKw, htlcs,
	)
	if err != nil {
		return nil, err
	}

	remote, err := b.BuildCommitment(
		lntypes.Remote, height, remotePoint, ourBalance, theirBalance,
		feePerKw, htlcs,
	)
	if err != nil {
		return nil, err
	}

	return &CommitmentPair{
		Local:  local,
		Remote: remote,
	}, nil
}

// BuildCommitment builds the commitment of whoseCommit at the given height.
// The balances are the settled balances before fees, their sum together with
// the HTLC values must equal the capacity of the channel.
func (b *CommitmentBuilder) BuildCommitment(whoseCommit lntypes.ChannelParty,
	height uint64, commitPoint *btcec.PublicKey, ourBalance,
	theirBalance lnwire.MilliSatoshi, feePerKw chainfee.SatPerKWeight,
	htlcs []HTLC) (*Commitment, error) {

	if commitPoint == nil {
		return nil, fmt.Errorf("commitment point of %v commitment "+
			"unknown", whoseCommit)
	}

	total := ourBalance + theirBalance
	for _, htlc := range htlcs {
		total += htlc.Amount
	}
	if total != lnwire.NewMSatFromSatoshis(b.params.Capacity) {
		return nil, fmt.Errorf("balances and htlcs sum to %v, channel "+
			"capacity is %v", total, b.params.Capacity)
	}

	localCfg := &b.params.LocalChanCfg
	remoteCfg := &b.params.RemoteChanCfg
	broadcasterCfg := localCfg
	if whoseCommit.IsRemote() {
		broadcasterCfg = remoteCfg
	}
	dustLimit := broadcasterCfg.DustLimit
	csvDelay := uint32(broadcasterCfg.CsvDelay)

	keyRing := DeriveCommitmentKeys(
		commitPoint, whoseCommit, localCfg, remoteCfg,
	)

	commit := &Commitment{
		WhoseCommit:   whoseCommit,
		Height:        height,
		KeyRing:       keyRing,
		OurBalance:    ourBalance,
		TheirBalance:  theirBalance,
		FeePerKw:      feePerKw,
		DustLimit:     dustLimit,
		CsvDelay:      csvDelay,
		ToLocalIndex:  -1,
		ToRemoteIndex: -1,
		Htlcs:         make([]CommitHtlc, len(htlcs)),
	}

	var numHTLCs int64
	for i, htlc := range htlcs {
		commit.Htlcs[i] = CommitHtlc{
			HTLC:        htlc,
			OutputIndex: -1,
		}

		if HtlcIsDust(htlc.Incoming, whoseCommit, feePerKw,
			htlc.Amount.ToSatoshis(), dustLimit) {

			continue
		}

		numHTLCs++
	}

	// The fee is calculated on the weight of the commitment and the
	// untrimmed HTLCs and always paid by the initiator.
	totalCommitWeight := input.CommitWeight + input.HTLCWeight*numHTLCs
	commit.Fee = feePerKw.FeeForWeight(totalCommitWeight)
	feeMSat := lnwire.NewMSatFromSatoshis(commit.Fee)

	ourAfterFee, theirAfterFee := ourBalance, theirBalance
	switch {
	case b.params.IsInitiator && feeMSat > ourAfterFee:
		return nil, fmt.Errorf("%w: fee %v exceeds funder balance %v",
			ErrInsufficientFunds, commit.Fee, ourAfterFee)

	case b.params.IsInitiator:
		ourAfterFee -= feeMSat

	case feeMSat > theirAfterFee:
		return nil, fmt.Errorf("%w: fee %v exceeds funder balance %v",
			ErrInsufficientFunds, commit.Fee, theirAfterFee)

	default:
		theirAfterFee -= feeMSat
	}

	toLocalAmt := ourAfterFee.ToSatoshis()
	toRemoteAmt := theirAfterFee.ToSatoshis()
	if whoseCommit.IsRemote() {
		toLocalAmt, toRemoteAmt = toRemoteAmt, toLocalAmt
	}

	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(wire.NewTxIn(&b.params.ChanPoint, nil, nil))

	toLocal, err := CommitScriptToSelf(csvDelay, keyRing)
	if err != nil {
		return nil, err
	}
	commit.ToLocalScript = toLocal

	toRemote, err := CommitScriptToRemote(keyRing)
	if err != nil {
		return nil, err
	}

	// The balance outputs are added first with a zero CLTV so the sort
	// below can keep track of the HTLC expiries.
	if toLocalAmt >= dustLimit {
		commitTx.AddTxOut(wire.NewTxOut(
			int64(toLocalAmt), toLocal.PkScript,
		))
	}
	if toRemoteAmt >= dustLimit {
		commitTx.AddTxOut(wire.NewTxOut(
			int64(toRemoteAmt), toRemote.PkScript,
		))
	}

	cltvs := make([]uint32, len(commitTx.TxOut))
	for i := range commit.Htlcs {
		htlc := &commit.Htlcs[i]
		if HtlcIsDust(htlc.Incoming, whoseCommit, feePerKw,
			htlc.Amount.ToSatoshis(), dustLimit) {

			continue
		}

		script, err := GenHtlcScript(
			htlc.Incoming, whoseCommit, htlc.Expiry, htlc.RHash,
			keyRing,
		)
		if err != nil {
			return nil, err
		}
		htlc.Script = script

		commitTx.AddTxOut(wire.NewTxOut(
			int64(htlc.Amount.ToSatoshis()), script.PkScript,
		))
		cltvs = append(cltvs, htlc.Expiry)
	}

	// Set the state hint of the commitment transaction to facilitate
	// quickly recovering the necessary penalty state in the case of an
	// uncooperative broadcast.
	if err := SetStateNumHint(commitTx, height, b.obfuscator); err != nil {
		return nil, err
	}

	// Sort the transactions according to the agreed upon canonical
	// ordering. This lets us skip sending the entire transaction over,
	// instead we'll just send signatures.
	InPlaceCommitSort(commitTx, cltvs)

	// Next, we'll ensure that we don't accidentally create a commitment
	// transaction which would be invalid by consensus.
	uTx := btcutil.NewTx(commitTx)
	if err := blockchain.CheckTransactionSanity(uTx); err != nil {
		return nil, err
	}

	// Finally, we'll assert that were not attempting to draw more out of
	// the channel that was originally placed within it.
	var totalOut btcutil.Amount
	for _, txOut := range commitTx.TxOut {
		totalOut += btcutil.Amount(txOut.Value)
	}
	if totalOut > b.params.Capacity {
		return nil, fmt.Errorf("height=%v, for ChannelPoint(%v) "+
			"attempts to consume %v while channel capacity is %v",
			height, b.params.ChanPoint, totalOut,
			b.params.Capacity)
	}

	commit.Tx = commitTx

	if err := commit.locateOutputs(cltvs, toRemote); err != nil {
		return nil, err
	}

	if err := commit.buildSecondLevelTxs(); err != nil {
		return nil, err
	}

	return commit, nil
}

// locateOutputs records the output index of the balance outputs and of every
// untrimmed HTLC. The cltvs are the sorted expiries of the outputs, used to
// tell apart HTLCs that share amount and script.
func (c *Commitment) locateOutputs(cltvs []uint32,
	toRemote *ScriptInfo) error {

	used := make(map[int32]struct{})
	for i, txOut := range c.Tx.TxOut {
		switch {
		case bytes.Equal(txOut.PkScript, c.ToLocalScript.PkScript):
			c.ToLocalIndex = int32(i)
			used[int32(i)] = struct{}{}

		case bytes.Equal(txOut.PkScript, toRemote.PkScript):
			c.ToRemoteIndex = int32(i)
			used[int32(i)] = struct{}{}
		}
	}

	for i := range c.Htlcs {
		htlc := &c.Htlcs[i]
		if htlc.Script == nil {
			continue
		}

		idx := int32(-1)
		for j, txOut := range c.Tx.TxOut {
			if _, ok := used[int32(j)]; ok {
				continue
			}

			if txOut.Value != int64(htlc.Amount.ToSatoshis()) ||
				cltvs[j] != htlc.Expiry ||
				!bytes.Equal(txOut.PkScript, htlc.Script.PkScript) {

				continue
			}

			idx = int32(j)
			break
		}
		if idx < 0 {
			return fmt.Errorf("unable to find htlc: script=%x, "+
				"value=%v", htlc.Script.PkScript, htlc.Amount)
		}

		used[idx] = struct{}{}
		htlc.OutputIndex = idx
	}

	return nil
}

// buildSecondLevelTxs creates the HTLC success or timeout transaction for
// every untrimmed HTLC of the commitment.
func (c *Commitment) buildSecondLevelTxs() error {
	commitHash := c.Tx.TxHash()

	for i := range c.Htlcs {
		htlc := &c.Htlcs[i]
		if htlc.IsDust() {
			continue
		}

		op := wire.OutPoint{
			Hash:  commitHash,
			Index: uint32(htlc.OutputIndex),
		}
		amt := htlc.Amount.ToSatoshis()

		var (
			tx  *wire.MsgTx
			err error
		)
		if broadcasterReceives(htlc.Incoming, c.WhoseCommit) {
			tx, err = CreateHtlcSuccessTx(
				op, amt-HtlcSuccessFee(c.FeePerKw), c.CsvDelay,
				c.KeyRing.RevocationKey, c.KeyRing.ToLocalKey,
			)
		} else {
			tx, err = CreateHtlcTimeoutTx(
				op, amt-HtlcTimeoutFee(c.FeePerKw),
				htlc.Expiry, c.CsvDelay,
				c.KeyRing.RevocationKey, c.KeyRing.ToLocalKey,
			)
		}
		if err != nil {
			return err
		}

		htlc.SecondLevelTx = tx
	}

	return nil
}

// HtlcSigHash returns the digest signed by both parties to authorize the
// second level transaction of an HTLC.
func (c *Commitment) HtlcSigHash(htlc *CommitHtlc) ([]byte, error) {
	if htlc.IsDust() {
		return nil, fmt.Errorf("htlc %v is trimmed", htlc.HtlcIndex)
	}

	htlcOutput := c.Tx.TxOut[htlc.OutputIndex]
	fetcher := txscript.NewCannedPrevOutputFetcher(
		htlcOutput.PkScript, htlcOutput.Value,
	)
	sigHashes := txscript.NewTxSigHashes(htlc.SecondLevelTx, fetcher)

	return txscript.CalcWitnessSigHash(
		htlc.Script.WitnessScript, sigHashes, txscript.SigHashAll,
		htlc.SecondLevelTx, 0, htlcOutput.Value,
	)
}

// CommitSigHash returns the digest both parties sign for the commitment
// transaction spending the funding output.
func (b *CommitmentBuilder) CommitSigHash(tx *wire.MsgTx) ([]byte, error) {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		b.fundingOutput.PkScript, b.fundingOutput.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	return txscript.CalcWitnessSigHash(
		b.fundingScript, sigHashes, txscript.SigHashAll, tx, 0,
		b.fundingOutput.Value,
	)
}
