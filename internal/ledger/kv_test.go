package ledger_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
)

func keys(r ledger.Reader, prefix string) []string {
	var out []string
	r.Iterate([]byte(prefix), func(k, _ []byte) bool {
		out = append(out, string(k))
		return true
	})
	return out
}

func TestOverlay(t *testing.T) {
	base := ledger.NewTree()
	base.Set([]byte("a:1"), []byte("x"))
	base.Set([]byte("a:3"), []byte("x"))
	base.Set([]byte("b:1"), []byte("x"))

	o := ledger.NewOverlay(base)
	o.Set([]byte("a:2"), []byte("y"))
	o.Set([]byte("a:3"), []byte("y"))

	v, ok := o.Get([]byte("a:3"))
	require.True(t, ok)
	assert.Equal(t, "y", string(v))
	assert.Equal(t, []string{"a:1", "a:2", "a:3"}, keys(o, "a:"))
	assert.Equal(t, []string{"a:1", "a:3"}, keys(base, "a:"))

	writes := o.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "a:2", string(writes[0].Key))

	o.Flush(base)
	assert.Equal(t, []string{"a:1", "a:2", "a:3", "b:1"}, keys(base, ""))
	v, _ = base.Get([]byte("a:3"))
	assert.Equal(t, "y", string(v))
}

func TestIteratePrefixEdge(t *testing.T) {
	tr := ledger.NewTree()
	tr.Set([]byte{0xff, 0x01}, []byte("1"))
	tr.Set([]byte{0xff, 0xff}, []byte("2"))
	tr.Set([]byte{0xfe}, []byte("3"))

	var n int
	tr.Iterate([]byte{0xff}, func(_, _ []byte) bool {
		n++
		return true
	})
	assert.Equal(t, 2, n)

	n = 0
	tr.Iterate(nil, func(_, _ []byte) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestTypedStorage(t *testing.T) {
	tr := ledger.NewTree()
	balances := ledger.NewMap[domain.Amount]("balance")
	owner := ledger.NewItem[common.Address]("owner")

	_, err := owner.Load(tr)
	require.ErrorIs(t, err, domain.ErrNotFound)

	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	require.NoError(t, owner.Save(tr, alice))
	require.NoError(t, balances.Save(tr, ledger.AddressKey(bob), domain.NewAmount(7)))
	require.NoError(t, balances.Save(tr, ledger.AddressKey(alice), domain.NewAmount(5)))

	got, err := owner.Load(tr)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
	assert.True(t, balances.Has(tr, ledger.AddressKey(bob)))

	var seen []common.Address
	require.NoError(t, balances.Range(tr, func(k []byte, _ domain.Amount) error {
		seen = append(seen, ledger.KeyAddress(k))
		return nil
	}))
	assert.Equal(t, []common.Address{alice, bob}, seen)

	_, err = balances.Load(tr, ledger.AddressKey(common.HexToAddress("0x03")))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContractAddressDeterministic(t *testing.T) {
	creator := common.HexToAddress("0xaa")
	a := ledger.ContractAddress(creator, "bond", "one")
	assert.Equal(t, a, ledger.ContractAddress(creator, "bond", "one"))
	assert.NotEqual(t, a, ledger.ContractAddress(creator, "bond", "two"))
	assert.NotEqual(t, a, ledger.ContractAddress(creator, "escrow", "one"))
	assert.NotEqual(t, a, ledger.ContractAddress(common.HexToAddress("0xbb"), "bond", "one"))
}
