package consensus

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func testSigner(t *testing.T, n byte) crypto.Signer {
	t.Helper()
	var seed [crypto.SeedSize]byte
	seed[0] = n
	seed[1] = 0x9A
	s, err := crypto.NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)
	return s
}

func gtx(t *testing.T, v float64) amount.Amount {
	t.Helper()
	a, err := amount.NewAmount(v)
	require.NoError(t, err)
	return a
}

func registrationTx(t *testing.T, s crypto.Signer, name string, stake amount.Amount, nonce uint64) *types.Transaction {
	t.Helper()
	reg := types.AuthorityRegistration{Name: name, Category: types.CategoryRegionalDistributor, Stake: stake}
	tx, err := chain.NewTransaction(s, "", types.NewAuthorityRegistrationPayload(reg), 0, nonce, testNow)
	require.NoError(t, err)
	return tx
}

func stakeTx(t *testing.T, s crypto.Signer, stake amount.Amount, nonce uint64) *types.Transaction {
	t.Helper()
	tx, err := chain.NewTransaction(s, "", types.NewValidatorStakePayload(types.ValidatorStake{Amount: stake}), 0, nonce, testNow)
	require.NoError(t, err)
	return tx
}

func tradeTx(t *testing.T, s crypto.Signer, nonce uint64) *types.Transaction {
	t.Helper()
	trade := types.EnergyTrade{
		Amount:    decimal.NewFromInt(int64(nonce) + 1),
		Price:     decimal.RequireFromString("4.20"),
		Source:    types.SourceWind,
		Location:  types.GridLocation{Region: types.RegionBangkok, ProvinceCode: "10"},
		OrderType: types.OrderBuy,
	}
	tx, err := chain.NewTransaction(s, "", types.NewEnergyTradePayload(trade), 0, nonce, testNow)
	require.NoError(t, err)
	return tx
}

// harness is a ledger on an in-memory store driven by a proof-of-authority engine and a
// mock clock.
type harness struct {
	t       *testing.T
	clock   *clock.Mock
	db      *store.MemoryStore
	engine  Engine
	ledger  *chain.Blockchain
	signers map[string]crypto.Signer
}

// newHarness registers one authority per stake (in GTX) in the genesis block.
func newHarness(t *testing.T, stakes ...float64) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testNow)

	h := &harness{
		t:       t,
		clock:   clk,
		db:      store.NewMemoryStore(),
		signers: make(map[string]crypto.Signer),
	}
	h.engine = h.newEngine()
	ledger, err := chain.NewBlockchain(chain.Config{}, h.db, h.engine, nil, zaptest.NewLogger(t), clk)
	require.NoError(t, err)
	h.ledger = ledger

	var txs []*types.Transaction
	for i, stake := range stakes {
		s := testSigner(t, byte(i+1))
		h.signers[s.Address()] = s
		txs = append(txs, registrationTx(t, s, "authority", gtx(t, stake), 1))
	}
	genesis, err := chain.NewGenesisBlock(txs, testNow)
	require.NoError(t, err)
	require.NoError(t, ledger.AddGenesisBlock(genesis))
	return h
}

func (h *harness) newEngine() Engine {
	e, err := New(KindProofOfAuthority, DefaultConfig(), zaptest.NewLogger(h.t), h.clock)
	require.NoError(h.t, err)
	return e
}

func (h *harness) tip() *types.Block {
	b, err := h.ledger.GetLatestBlock()
	require.NoError(h.t, err)
	return b
}

func (h *harness) expected(height uint64) crypto.Signer {
	id, err := h.engine.ExpectedAuthority(height)
	require.NoError(h.t, err)
	s, ok := h.signers[id]
	require.True(h.t, ok, "expected authority %s has no signer", id)
	return s
}

// other returns a signer that is not id.
func (h *harness) other(id string) crypto.Signer {
	for addr, s := range h.signers {
		if addr != id {
			return s
		}
	}
	h.t.Fatal("no other authority")
	return nil
}

// forge builds and signs a block without asking the engine for the turn.
func (h *harness) forge(prev *types.Block, producer crypto.Signer, at time.Time, txs ...*types.Transaction) *types.Block {
	b, err := chain.AssembleBlock(prev.Header.Height+1, prev.Hash, txs, producer.Address(), 0, 100, at)
	require.NoError(h.t, err)
	require.NoError(h.t, chain.SignBlock(b, producer))
	return b
}

// handBuilt seals and signs a block holding txs exactly as given, skipping the
// deduplication done by block assembly.
func (h *harness) handBuilt(prev *types.Block, producer crypto.Signer, at time.Time, txs ...*types.Transaction) *types.Block {
	b := &types.Block{
		Header: types.BlockHeader{
			Height:    prev.Header.Height + 1,
			PrevHash:  prev.Hash,
			Timestamp: at.UnixMilli(),
			Producer:  producer.Address(),
		},
		Transactions: txs,
	}
	root, err := chain.ComputeTxRoot(txs)
	require.NoError(h.t, err)
	b.Header.TxRoot = root
	b.Hash, err = chain.ComputeBlockHash(b)
	require.NoError(h.t, err)
	require.NoError(h.t, chain.SignBlock(b, producer))
	return b
}

// commitNext produces and commits the next block with the expected authority.
func (h *harness) commitNext(txs ...*types.Transaction) *types.Block {
	h.clock.Add(100 * time.Millisecond)
	prev := h.tip()
	b, err := h.engine.ProduceBlock(h.expected(prev.Header.Height+1), prev, txs, 0)
	require.NoError(h.t, err)
	require.NoError(h.t, h.ledger.AddBlock(b))
	return b
}

func (h *harness) authority(id string) *types.Authority {
	a, ok := h.engine.Registry().Get(id)
	require.True(h.t, ok)
	return a
}
