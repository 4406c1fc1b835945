// Package labels contains labels used to label transactions broadcast by the
// channel core. These labels are used across packages, so they are declared
// in a separate package to avoid dependency issues.
package labels

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

// LabelType indicates the type of label we are creating. It is a string
// because we want to make use of the string with as little extra work as
// possible.
type LabelType string

const (
	// LabelTypeChannelClose is used to label cooperative close
	// transactions.
	LabelTypeChannelClose LabelType = "closechannel"

	// LabelTypeForceClose is used to label our own commitment when the
	// watcher broadcasts it.
	LabelTypeForceClose LabelType = "forceclose"

	// LabelTypeJusticeTransaction is used to label justice transactions
	// sweeping a revoked commitment.
	LabelTypeJusticeTransaction LabelType = "justicetx"

	// LabelTypeSweepTransaction is used to label sweeps of our own
	// outputs.
	LabelTypeSweepTransaction LabelType = "sweep"
)

// MakeLabel creates a label for a transaction of the given type. The channel
// point is included when known. Labels longer than the wallet limit are cut.
func MakeLabel(labelType LabelType, chanPoint *wire.OutPoint) string {
	label := fmt.Sprintf("%v", labelType)
	if chanPoint != nil {
		label = fmt.Sprintf("%v:%v", labelType, chanPoint)
	}

	if len(label) > wtxmgr.TxLabelLimit {
		label = label[:wtxmgr.TxLabelLimit]
	}

	return label
}
