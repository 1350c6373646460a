package object

import (
	"testing"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
)

func selectorHosts(keys ...byte) gateway.HostSet {
	hs := gateway.HostSet{}
	for _, b := range keys {
		pk := testKey(b)
		hs[pk] = gateway.HostDescriptor{PublicKey: pk}
	}
	return hs
}

func TestSelectorDeterministicOrder(t *testing.T) {
	sel := newHostSelector(selectorHosts(9, 3, 7, 1, 5))

	picked, err := sel.pick(5, nil)
	require.NoError(t, err)
	require.Equal(t, []encryption.PublicKey{
		testKey(1), testKey(3), testKey(5), testKey(7), testKey(9),
	}, picked)
}

func TestSelectorPrefersUnused(t *testing.T) {
	sel := newHostSelector(selectorHosts(1, 2, 3, 4))

	first, err := sel.pick(2, nil)
	require.NoError(t, err)
	require.Equal(t, []encryption.PublicKey{testKey(1), testKey(2)}, first)

	// the unused pair comes first on the next slab
	second, err := sel.pick(2, nil)
	require.NoError(t, err)
	require.Equal(t, []encryption.PublicKey{testKey(3), testKey(4)}, second)

	// everyone used once; order falls back to key order
	third, err := sel.pick(4, nil)
	require.NoError(t, err)
	require.Equal(t, []encryption.PublicKey{
		testKey(1), testKey(2), testKey(3), testKey(4),
	}, third)
}

func TestSelectorExcludesAndFails(t *testing.T) {
	sel := newHostSelector(selectorHosts(1, 2, 3))

	exclude := map[encryption.PublicKey]struct{}{testKey(1): {}}
	picked, err := sel.pick(2, exclude)
	require.NoError(t, err)
	require.Equal(t, []encryption.PublicKey{testKey(2), testKey(3)}, picked)

	sel.markFailed(testKey(2))
	require.Equal(t, 2, sel.healthy())

	_, err = sel.pick(3, nil)
	require.True(t, errors.Is(err, common.ErrInsufficientHosts))

	got, err := sel.replacement(exclude)
	require.NoError(t, err)
	require.Equal(t, testKey(3), got)
}
