package contractcourt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

var (
	// errSweepDust is returned when the inputs of a sweep are worth less
	// than the fee needed to claim them.
	errSweepDust = errors.New("sweep output below dust limit")

	// errNoInputs is returned when a sweep without inputs is requested.
	errNoInputs = errors.New("no inputs to sweep")
)

// createSweepTx builds a signed tx spending all inputs to a single output
// paying to sweepScript. A non zero lockTime is set as the absolute lock time
// of the transaction. The fee never exceeds half of the swept value.
func createSweepTx(inputs []input.Input, sweepScript []byte, lockTime uint32,
	feeRate chainfee.SatPerKWeight,
	signer input.Signer) (*wire.MsgTx, btcutil.Amount, error) {

	if len(inputs) == 0 {
		return nil, 0, errNoInputs
	}

	if err := input.ValidateInputs(inputs); err != nil {
		return nil, 0, err
	}

	// We initialize a weight estimator so we can accurately asses the
	// amount of fees we need to pay for this sweep transaction.
	var (
		weightEstimate input.TxWeightEstimator
		totalInput     btcutil.Amount
	)
	for _, inp := range inputs {
		witnessSize, _ := inp.WitnessType().SizeUpperBound()
		weightEstimate.AddWitnessInput(witnessSize)

		totalInput += btcutil.Amount(inp.SignDesc().Output.Value)
	}

	sweepOutput := &wire.TxOut{PkScript: sweepScript}
	weightEstimate.AddTxOutput(sweepOutput)

	txFee := feeRate.FeeForWeight(weightEstimate.Weight())
	if txFee > totalInput/2 {
		log.Debugf("Capping sweep fee %v at half of swept value %v",
			txFee, totalInput)

		txFee = totalInput / 2
	}

	sweepAmt := totalInput - txFee
	dustLimit := btcutil.Amount(mempool.GetDustThreshold(sweepOutput))
	if sweepAmt < dustLimit {
		return nil, 0, fmt.Errorf("%w: sweeping %v with fee %v",
			errSweepDust, totalInput, txFee)
	}
	sweepOutput.Value = int64(sweepAmt)

	// Create the sweep transaction that we will be building. We use
	// version 2 as it is required for CSV.
	sweepTx := wire.NewMsgTx(2)
	sweepTx.LockTime = lockTime
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, inp := range inputs {
		sweepTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: inp.OutPoint(),
			Sequence:         inp.BlocksToMaturity(),
		})

		prevOutFetcher.AddPrevOut(inp.OutPoint(), inp.SignDesc().Output)
	}
	sweepTx.AddTxOut(sweepOutput)

	// Before signing the transaction, check to ensure that it meets some
	// basic validity requirements.
	btx := btcutil.NewTx(sweepTx)
	if err := blockchain.CheckTransactionSanity(btx); err != nil {
		return nil, 0, err
	}

	hashCache := txscript.NewTxSigHashes(sweepTx, prevOutFetcher)

	// With all the inputs in place, use each output's unique input script
	// function to generate the final witness required for spending.
	for idx, inp := range inputs {
		inputScript, err := inp.CraftInputScript(
			signer, sweepTx, hashCache, prevOutFetcher, idx,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("unable to sign input %v: %w",
				inp.OutPoint(), err)
		}

		sweepTx.TxIn[idx].Witness = inputScript.Witness
	}

	log.Debugf("Creating sweep transaction %v for %v inputs (%s) "+
		"using %v, tx_weight=%v, tx_vsize=%v, tx_fee=%v, lock_time=%v",
		sweepTx.TxHash(), len(inputs), inputTypeSummary(inputs),
		feeRate, weightEstimate.Weight(), weightEstimate.VSize(), txFee,
		lockTime)

	return sweepTx, txFee, nil
}

// inputTypeSummary returns a string containing a human readable summary about
// the witness types of a list of inputs.
func inputTypeSummary(inputs []input.Input) string {
	// Sort inputs by witness type.
	sortedInputs := make([]input.Input, len(inputs))
	copy(sortedInputs, inputs)
	sort.Slice(sortedInputs, func(i, j int) bool {
		return sortedInputs[i].WitnessType().String() <
			sortedInputs[j].WitnessType().String()
	})

	var parts []string
	for _, i := range sortedInputs {
		part := fmt.Sprintf("%v (%v)", i.OutPoint(), i.WitnessType())
		parts = append(parts, part)
	}

	return strings.Join(parts, ", ")
}
