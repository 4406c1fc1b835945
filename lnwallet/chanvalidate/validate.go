package chanvalidate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInvalidOutPoint is returned when the ChanLocator is unable to
	// find the target outpoint.
	ErrInvalidOutPoint = errors.New("output meant to create channel " +
		"cannot be found")

	// ErrWrongPkScript is returned when the alleged funding transaction is
	// found to have an incorrect pkSript.
	ErrWrongPkScript = errors.New("wrong pk script")

	// ErrInvalidSize is returned when the alleged funding transaction
	// output has the wrong size (channel capacity).
	ErrInvalidSize = errors.New("channel has wrong size")
)

// ErrScriptValidateError is returned when Script VM validation fails for an
// alleged channel output.
type ErrScriptValidateError struct {
	err error
}

// Error returns a human readable string describing the error.
func (e *ErrScriptValidateError) Error() string {
	return fmt.Sprintf("script validation failed: %v", e.err)
}

// Unwrap returns the underlying wrapped VM execution failure error.
func (e *ErrScriptValidateError) Unwrap() error {
	return e.err
}

// ChanLocator abstracts away obtaining the output that created the channel
// from the funding transaction.
type ChanLocator interface {
	// Locate attempts to locate the funding output within the funding
	// transaction. It also returns the final out point of the channel. If
	// the target output cannot be found an error is returned.
	Locate(*wire.MsgTx) (*wire.TxOut, *wire.OutPoint, error)
}

// OutPointChanLocator is an implementation of the ChanLocator that can be used
// when one already knows the expected chan point.
type OutPointChanLocator struct {
	// ChanPoint is the expected chan point.
	ChanPoint wire.OutPoint
}

// Locate attempts to locate the funding output within the passed funding
// transaction.
//
// NOTE: Part of the ChanLocator interface.
func (o *OutPointChanLocator) Locate(fundingTx *wire.MsgTx) (
	*wire.TxOut, *wire.OutPoint, error) {

	if int(o.ChanPoint.Index) >= len(fundingTx.TxOut) {
		return nil, nil, ErrInvalidOutPoint
	}

	if fundingTx.TxHash() != o.ChanPoint.Hash {
		return nil, nil, ErrInvalidOutPoint
	}

	return fundingTx.TxOut[o.ChanPoint.Index], &o.ChanPoint, nil
}

// CommitmentContext is the optional part of a validation. It carries our
// fully signed local commitment, which must be able to spend the funding
// output found on chain.
type CommitmentContext struct {
	// Value is the known size of the channel.
	Value btcutil.Amount

	// FullySignedCommitTx is the fully signed commitment transaction. This
	// should include a valid witness.
	FullySignedCommitTx *wire.MsgTx
}

// Context is the main validation context. All fields but the optional
// CommitCtx must be populated from known-to-be-valid channel parameters.
type Context struct {
	// Locator finds the funding output.
	Locator ChanLocator

	// MultiSigPkScript is the p2wsh script of the 2-of-2 funding output.
	MultiSigPkScript []byte

	// FundingTx is the channel funding transaction as found confirmed in
	// the chain.
	FundingTx *wire.MsgTx

	// CommitCtx enables a full Script VM validation of our commitment
	// spending the funding output.
	CommitCtx *CommitmentContext
}

// Validate checks that the funding output described by ctx exists and is
// well formed, and, if the commitment context is present, that our commitment
// spends it. A returned error means the channel can't be relied on.
func Validate(ctx *Context) (*wire.OutPoint, error) {
	fundingOutput, chanPoint, err := ctx.Locator.Locate(ctx.FundingTx)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(ctx.MultiSigPkScript, fundingOutput.PkScript) {
		return nil, ErrWrongPkScript
	}

	if ctx.CommitCtx == nil {
		return chanPoint, nil
	}

	fundingValue := fundingOutput.Value
	if btcutil.Amount(fundingValue) != ctx.CommitCtx.Value {
		return nil, fmt.Errorf("%w: found %v, expected %v",
			ErrInvalidSize, btcutil.Amount(fundingValue),
			ctx.CommitCtx.Value)
	}

	prevFetcher := txscript.NewCannedPrevOutputFetcher(
		ctx.MultiSigPkScript, fundingValue,
	)
	commitTx := ctx.CommitCtx.FullySignedCommitTx
	hashCache := txscript.NewTxSigHashes(commitTx, prevFetcher)
	vm, err := txscript.NewEngine(
		ctx.MultiSigPkScript, commitTx, 0, txscript.StandardVerifyFlags,
		nil, hashCache, fundingValue, prevFetcher,
	)
	if err != nil {
		return nil, err
	}

	if err := vm.Execute(); err != nil {
		return nil, &ErrScriptValidateError{err: err}
	}

	return chanPoint, nil
}
