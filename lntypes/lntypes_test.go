package lntypes

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMakePreimage checks only slices of the preimage size are accepted.
func TestMakePreimage(t *testing.T) {
	t.Parallel()

	b := bytes.Repeat([]byte{0x07}, PreimageSize)
	preimage, err := MakePreimage(b)
	require.NoError(t, err)
	require.Equal(t, b, preimage[:])
	require.True(t, preimage.Matches(preimage.Hash()))

	_, err = MakePreimage(b[:PreimageSize-1])
	require.Error(t, err)

	_, err = MakePreimage(append(b, 0x00))
	require.Error(t, err)
}
