package lncfg

import "fmt"

const (
	// DefaultBlockWorkers is the default maximum number of channel
	// monitors processing a block concurrently.
	DefaultBlockWorkers = 8
)

// Workers exposes CLI configuration for turning resources consumed by worker
// pools.
type Workers struct {
	// Blocks is the maximum number of monitors processing a block
	// concurrently.
	Blocks int `long:"blocks" description:"Maximum number of channel monitors processing a block concurrently."`
}

// Validate checks the Workers configuration to ensure that the input values
// are sane.
func (w *Workers) Validate() error {
	if w.Blocks <= 0 {
		return fmt.Errorf("number of block workers should be greater "+
			"than 0, got: %d", w.Blocks)
	}

	return nil
}

// Compile-time constraint to ensure Workers implements the Validator interface.
var _ Validator = (*Workers)(nil)
