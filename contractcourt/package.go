package contractcourt

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lnwallet"
)

// justiceInput is one revoked output we're entitled to.
type justiceInput struct {
	input.Input

	// htlc is the HTLC the output belongs to. It is nil for the balance
	// outputs and for second level outputs.
	htlc *lnwallet.CommitHtlc
}

// pkgChange records how a package changed at a height, so the change can be
// undone when the block is disconnected.
type pkgChange struct {
	height  uint32
	removed []*justiceInput
	added   []*justiceInput
}

// justicePackage is the malleable set of revoked outputs that are claimed
// together. Inputs the counterparty spends first are split off, and a claim of
// the second level output they created is added in their place.
type justicePackage struct {
	inputs  map[wire.OutPoint]*justiceInput
	journal []pkgChange
}

// newJusticePackage creates a package of the given inputs.
func newJusticePackage(inputs []*justiceInput) *justicePackage {
	pkg := &justicePackage{
		inputs: make(map[wire.OutPoint]*justiceInput, len(inputs)),
	}
	for _, inp := range inputs {
		pkg.inputs[inp.OutPoint()] = inp
	}

	return pkg
}

// find returns the input spending op, if it is part of the package.
func (p *justicePackage) find(op wire.OutPoint) (*justiceInput, bool) {
	inp, ok := p.inputs[op]
	return inp, ok
}

// remove splits the input of op off the package at the given height.
func (p *justicePackage) remove(op wire.OutPoint, height uint32) {
	inp, ok := p.inputs[op]
	if !ok {
		return
	}

	delete(p.inputs, op)
	p.record(height, func(c *pkgChange) {
		c.removed = append(c.removed, inp)
	})
}

// add adds a new input to the package at the given height.
func (p *justicePackage) add(inp *justiceInput, height uint32) {
	p.inputs[inp.OutPoint()] = inp
	p.record(height, func(c *pkgChange) {
		c.added = append(c.added, inp)
	})
}

// record appends a change to the journal entry of height.
func (p *justicePackage) record(height uint32, apply func(*pkgChange)) {
	if n := len(p.journal); n > 0 && p.journal[n-1].height == height {
		apply(&p.journal[n-1])
		return
	}

	change := pkgChange{height: height}
	apply(&change)
	p.journal = append(p.journal, change)
}

// undo reverts every change made at or above height.
func (p *justicePackage) undo(height uint32) {
	for len(p.journal) > 0 {
		n := len(p.journal) - 1
		change := p.journal[n]
		if change.height < height {
			return
		}

		// An input added and split off at the same height must end up
		// deleted.
		for _, inp := range change.removed {
			p.inputs[inp.OutPoint()] = inp
		}
		for _, inp := range change.added {
			delete(p.inputs, inp.OutPoint())
		}

		p.journal = p.journal[:n]
	}
}

// isEmpty returns true once every input was claimed.
func (p *justicePackage) isEmpty() bool {
	return len(p.inputs) == 0
}

// value is the total value of the package.
func (p *justicePackage) value() btcutil.Amount {
	var total btcutil.Amount
	for _, inp := range p.inputs {
		total += btcutil.Amount(inp.SignDesc().Output.Value)
	}

	return total
}

// outpoints returns the outpoints of the package.
func (p *justicePackage) outpoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(p.inputs))
	for op := range p.inputs {
		ops = append(ops, op)
	}

	return ops
}

// sweepInputs returns the inputs of the package in a stable order.
func (p *justicePackage) sweepInputs() []input.Input {
	ops := p.outpoints()
	sortOutPoints(ops)

	inputs := make([]input.Input, 0, len(ops))
	for _, op := range ops {
		inputs = append(inputs, p.inputs[op].Input)
	}

	return inputs
}
