package chain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func testSigner(t *testing.T, n byte) crypto.Signer {
	t.Helper()
	var seed [crypto.SeedSize]byte
	seed[0] = n
	seed[1] = 0xC4
	s, err := crypto.NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)
	return s
}

func testTrade(region types.Region) types.EnergyTrade {
	return types.EnergyTrade{
		Amount:    decimal.NewFromInt(25),
		Price:     decimal.RequireFromString("3.75"),
		Source:    types.SourceSolar,
		Location:  types.GridLocation{Region: region, ProvinceCode: "10"},
		OrderType: types.OrderSell,
	}
}

func tradeTx(t *testing.T, s crypto.Signer, nonce uint64, fee amount.Amount) *types.Transaction {
	t.Helper()
	tx, err := NewTransaction(s, "", types.NewEnergyTradePayload(testTrade(types.RegionBangkok)), fee, nonce, testNow)
	require.NoError(t, err)
	return tx
}

func mintTx(t *testing.T, s crypto.Signer, nonce uint64) *types.Transaction {
	t.Helper()
	amt, err := amount.NewAmount(1_000_000)
	require.NoError(t, err)
	tx, err := NewTransaction(s, s.Address(), types.NewGenesisMintPayload(types.GenesisMint{Amount: amt, Memo: "initial supply"}), 0, nonce, testNow)
	require.NoError(t, err)
	return tx
}

func registrationTx(t *testing.T, s crypto.Signer, name string, nonce uint64) *types.Transaction {
	t.Helper()
	stake, err := amount.NewAmount(5_000)
	require.NoError(t, err)
	reg := types.AuthorityRegistration{Name: name, Category: types.CategoryGridOperator, Stake: stake}
	tx, err := NewTransaction(s, "", types.NewAuthorityRegistrationPayload(reg), 0, nonce, testNow)
	require.NoError(t, err)
	return tx
}

func testGenesis(t *testing.T, authorities ...crypto.Signer) *types.Block {
	t.Helper()
	txs := make([]*types.Transaction, 0, len(authorities)+1)
	for i, a := range authorities {
		txs = append(txs, registrationTx(t, a, "authority-"+string(rune('a'+i)), 1))
	}
	txs = append(txs, mintTx(t, testSigner(t, 200), 1))
	g, err := NewGenesisBlock(txs, testNow)
	require.NoError(t, err)
	return g
}

// nextBlock assembles and signs a block on top of prev.
func nextBlock(t *testing.T, prev *types.Block, producer crypto.Signer, txs ...*types.Transaction) *types.Block {
	t.Helper()
	b, err := AssembleBlock(prev.Header.Height+1, prev.Hash, txs, producer.Address(), 0, 100, testNow.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, SignBlock(b, producer))
	return b
}
