package lncfg_test

import (
	"testing"

	"github.com/lightningnetwork/chancore/lncfg"
)

const (
	maxUint = ^uint(0)
	maxInt  = int(maxUint >> 1)
	minInt  = -maxInt - 1
)

// TestValidateWorkers asserts that validating the Workers config only succeeds
// if a positive number of block workers is specified.
func TestValidateWorkers(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *lncfg.Workers
		valid bool
	}{
		{
			name:  "min valid",
			cfg:   &lncfg.Workers{Blocks: 1},
			valid: true,
		},
		{
			name:  "max valid",
			cfg:   &lncfg.Workers{Blocks: maxInt},
			valid: true,
		},
		{
			name: "zero invalid",
			cfg:  &lncfg.Workers{Blocks: 0},
		},
		{
			name: "min invalid",
			cfg:  &lncfg.Workers{Blocks: minInt},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			switch {
			case test.valid && err != nil:
				t.Fatalf("valid config was invalid: %v", err)
			case !test.valid && err == nil:
				t.Fatalf("invalid config was valid")
			}
		})
	}
}
