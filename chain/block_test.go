package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

func ids(txs []*types.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestAssembleBlockRejectsOversizedInput(t *testing.T) {
	s := testSigner(t, 1)
	txs := []*types.Transaction{tradeTx(t, s, 1, 0), tradeTx(t, s, 2, 0), tradeTx(t, s, 3, 0)}

	_, err := AssembleBlock(1, hash.Zero, txs, s.Address(), 0, 2, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestAssembleBlockOrdering(t *testing.T) {
	a := testSigner(t, 1)
	b := testSigner(t, 2)

	a1 := tradeTx(t, a, 1, 1)
	a2 := tradeTx(t, a, 2, 10)
	b1 := tradeTx(t, b, 1, 5)
	b2 := tradeTx(t, b, 2, 5)

	// arrival order: a2 arrives before a1 but must still follow it
	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{a2, b1, a1, b2}, a.Address(), 0, 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, ids([]*types.Transaction{b1, b2, a1, a2}), blk.TransactionIDs())
}

func TestAssembleBlockFeeTieKeepsArrivalOrder(t *testing.T) {
	a := testSigner(t, 1)
	b := testSigner(t, 2)
	c := testSigner(t, 3)

	tb := tradeTx(t, b, 1, 7)
	ta := tradeTx(t, a, 1, 7)
	tc := tradeTx(t, c, 1, 9)

	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{tb, ta, tc}, a.Address(), 0, 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, ids([]*types.Transaction{tc, tb, ta}), blk.TransactionIDs())
}

func TestAssembleBlockDropsDuplicateNonce(t *testing.T) {
	s := testSigner(t, 1)
	first := tradeTx(t, s, 5, 1)
	second := tradeTx(t, s, 5, 100)

	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{first, second}, s.Address(), 0, 10, testNow)
	require.NoError(t, err)
	require.Len(t, blk.Transactions, 1)
	assert.Equal(t, first.ID, blk.Transactions[0].ID)
}

func TestAssembleBlockDropsDuplicateID(t *testing.T) {
	s := testSigner(t, 1)
	tx := tradeTx(t, s, 1, 1)

	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{tx, tx}, s.Address(), 0, 10, testNow)
	require.NoError(t, err)
	assert.Len(t, blk.Transactions, 1)
}

func TestBlockHashIsDeterministic(t *testing.T) {
	s := testSigner(t, 1)
	txs := []*types.Transaction{tradeTx(t, s, 1, 1), tradeTx(t, s, 2, 1)}

	b1, err := AssembleBlock(4, hash.NewHash([]byte("prev")), txs, s.Address(), 3, 10, testNow)
	require.NoError(t, err)
	b2, err := AssembleBlock(4, hash.NewHash([]byte("prev")), txs, s.Address(), 3, 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, b2.Hash)
	assert.NoError(t, VerifyBlockHash(b1))

	b3, err := AssembleBlock(4, hash.NewHash([]byte("prev")), txs, s.Address(), 3, 10, testNow.Add(time.Millisecond))
	require.NoError(t, err)
	assert.NotEqual(t, b1.Hash, b3.Hash)
}

func TestVerifyBlockHashDetectsTampering(t *testing.T) {
	s := testSigner(t, 1)
	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{tradeTx(t, s, 1, 1)}, s.Address(), 0, 10, testNow)
	require.NoError(t, err)

	blk.Transactions[0].Fee = 1000
	assert.Error(t, VerifyBlockHash(blk))
}

func TestSignBlock(t *testing.T) {
	producer := testSigner(t, 1)
	other := testSigner(t, 2)

	blk, err := AssembleBlock(1, hash.Zero, nil, producer.Address(), 0, 10, testNow)
	require.NoError(t, err)

	assert.Error(t, SignBlock(blk, other))
	require.NoError(t, SignBlock(blk, producer))
	assert.NoError(t, VerifyBlockSignature(blk, producer.PublicKey()))
	assert.Error(t, VerifyBlockSignature(blk, other.PublicKey()))
}

func TestGenesisBlock(t *testing.T) {
	g := testGenesis(t, testSigner(t, 1), testSigner(t, 2), testSigner(t, 3))

	assert.Equal(t, uint64(0), g.Header.Height)
	assert.True(t, g.Header.PrevHash.IsZero())
	assert.Len(t, g.Transactions, 4)
	assert.NoError(t, ValidateGenesisBlock(g))

	_, err := NewGenesisBlock([]*types.Transaction{tradeTx(t, testSigner(t, 1), 1, 0)}, testNow)
	assert.True(t, errors.Is(err, types.ErrValidation))

	signed := *g
	signed.Signature = []byte{1}
	assert.Error(t, ValidateGenesisBlock(&signed))
}

func TestEnergyStats(t *testing.T) {
	s := testSigner(t, 1)
	solar := tradeTx(t, s, 1, 0)

	coalTrade := testTrade(types.RegionNorthern)
	coalTrade.Source = types.SourceCoal
	coalTrade.Amount = decimal.NewFromInt(75)
	coalTrade.Price = decimal.NewFromInt(2)
	coal, err := NewTransaction(s, "", types.NewEnergyTradePayload(coalTrade), 0, 2, testNow)
	require.NoError(t, err)

	blk, err := AssembleBlock(1, hash.Zero, []*types.Transaction{solar, coal, mintTx(t, s, 3)}, s.Address(), 0, 10, testNow)
	require.NoError(t, err)

	stats := EnergyStats(blk)
	assert.Equal(t, 2, stats.Trades)
	assert.True(t, stats.TotalKWh.Equal(decimal.NewFromInt(100)))
	// (25*3.75 + 75*2) / 100
	assert.True(t, stats.AveragePrice.Equal(decimal.RequireFromString("2.4375")), stats.AveragePrice.String())
	assert.InDelta(t, 0.25, stats.RenewableShare, 1e-9)
	assert.True(t, stats.ByRegion[types.RegionNorthern].Equal(decimal.NewFromInt(75)))
}
