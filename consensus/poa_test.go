package consensus

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

func TestNew(t *testing.T) {
	_, err := New(Kind(9), DefaultConfig(), nil, nil)
	assert.True(t, errors.Is(err, types.ErrConsensus))

	cfg := DefaultConfig()
	cfg.RoundTimeout = 0
	_, err = New(KindProofOfAuthority, cfg, nil, nil)
	assert.True(t, errors.Is(err, types.ErrConsensus))

	fromNode, err := ConfigFrom(config.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), fromNode)

	e, err := New(KindProofOfAuthority, DefaultConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, KindProofOfAuthority, e.Kind())
	assert.Equal(t, "proof-of-authority", e.Kind().String())
}

func TestGenesisRegistersAuthorities(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)

	active := h.engine.Registry().Active()
	require.Len(t, active, 3)
	for _, a := range active {
		assert.Contains(t, h.signers, a.ID)
		assert.InDelta(t, 1.0, a.Reputation, 1e-9)
		assert.Zero(t, a.RegisteredAt)
	}
	assert.Len(t, h.engine.Schedule(), 30)

	// a second genesis is refused by the ledger before the engine sees it
	err := h.engine.ValidateGenesis(h.tip())
	assert.True(t, errors.Is(err, types.ErrConsensus))
}

func TestGenesisWithoutAuthorities(t *testing.T) {
	e, err := New(KindProofOfAuthority, DefaultConfig(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	g, err := chain.NewGenesisBlock(nil, testNow)
	require.NoError(t, err)
	assert.True(t, errors.Is(e.ValidateGenesis(g), types.ErrConsensus))
}

func TestExpectedProducerAccepted(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)
	genesis := h.tip()
	expected := h.expected(1)
	intruder := h.other(expected.Address())

	_, err := h.engine.ProduceBlock(intruder, genesis, nil, 0)
	assert.True(t, errors.Is(err, types.ErrConsensus))

	h.clock.Add(time.Second)
	err = h.ledger.AddBlock(h.forge(genesis, intruder, h.clock.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConsensus))
	assert.False(t, errors.Is(err, types.ErrStaleBlock))

	penalised := h.authority(intruder.Address())
	assert.EqualValues(t, 1, penalised.ConsecutiveRejections)
	assert.InDelta(t, 0.9, penalised.Reputation, 1e-9)
	assert.True(t, penalised.Active)

	good, err := h.engine.ProduceBlock(expected, genesis, nil, 0)
	require.NoError(t, err)
	require.NoError(t, h.ledger.AddBlock(good))
	assert.EqualValues(t, 1, h.ledger.GetHeight())

	producer := h.authority(expected.Address())
	assert.EqualValues(t, 1, producer.BlocksProduced)
	assert.InDelta(t, 1.0, producer.Reputation, 1e-9)
}

func TestHundredTradesOnlyExpectedProducer(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)
	genesis := h.tip()

	trades := make([]*types.Transaction, 0, 100)
	for i := 0; i < 100; i++ {
		trades = append(trades, tradeTx(t, testSigner(t, byte(100+i)), 1))
	}

	expected := h.expected(1)
	h.clock.Add(time.Second)
	err := h.ledger.AddBlock(h.forge(genesis, h.other(expected.Address()), h.clock.Now(), trades...))
	assert.True(t, errors.Is(err, types.ErrConsensus))
	assert.EqualValues(t, 0, h.ledger.GetHeight())

	good, err := h.engine.ProduceBlock(expected, genesis, trades, 0)
	require.NoError(t, err)
	require.NoError(t, h.ledger.AddBlock(good))
	assert.EqualValues(t, 1, h.ledger.GetHeight())
	assert.EqualValues(t, 103, h.ledger.GetTotalTransactions())
}

func TestUnknownProducerNotPenalised(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	stranger := testSigner(t, 77)

	err := h.ledger.AddBlock(h.forge(h.tip(), stranger, testNow))
	assert.True(t, errors.Is(err, types.ErrConsensus))
	assert.Equal(t, 2, h.engine.Registry().Len())
	for _, a := range h.engine.Registry().All() {
		assert.Zero(t, a.ConsecutiveRejections)
	}
}

func TestRoundTimeoutSkipsAuthority(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)
	timeout := DefaultConfig().RoundTimeout
	first := h.expected(1)

	// time without pending work does not count towards the timeout
	h.clock.Add(3 * timeout)
	h.engine.Observe(1, false)
	assert.Equal(t, first.Address(), h.expected(1).Address())

	h.clock.Add(timeout)
	h.engine.Observe(1, true)
	second := h.expected(1)
	assert.NotEqual(t, first.Address(), second.Address())

	missed := h.authority(first.Address())
	assert.EqualValues(t, 1, missed.BlocksMissed)
	assert.InDelta(t, 0.95, missed.Reputation, 1e-9)

	// observing again without more time passing charges nothing new
	h.engine.Observe(1, true)
	assert.EqualValues(t, 1, h.authority(first.Address()).BlocksMissed)

	// the late authority keeps its right to produce alongside its successor
	assert.True(t, h.engine.IsAuthorized(first.Address(), 1))
	assert.True(t, h.engine.IsAuthorized(second.Address(), 1))

	b, err := h.engine.ProduceBlock(second, h.tip(), nil, 0)
	require.NoError(t, err)
	require.NoError(t, h.ledger.AddBlock(b))
	assert.EqualValues(t, 1, h.authority(second.Address()).BlocksProduced)
	assert.InDelta(t, 0.95, h.authority(first.Address()).Reputation, 1e-9)
}

func TestRoundTimeoutChargesEachCandidateOnce(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	h.clock.Add(10 * DefaultConfig().RoundTimeout)
	h.engine.Observe(1, true)

	for _, a := range h.engine.Registry().All() {
		assert.EqualValues(t, 1, a.BlocksMissed)
		assert.True(t, h.engine.IsAuthorized(a.ID, 1))
	}
}

func TestStaleBlockNotPenalised(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)
	genesis := h.tip()
	committed := h.commitNext()
	producer := h.signers[committed.Header.Producer]

	h.clock.Add(time.Second)
	err := h.ledger.AddBlock(h.forge(genesis, producer, h.clock.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStaleBlock))

	a := h.authority(producer.Address())
	assert.Zero(t, a.ConsecutiveRejections)
	assert.InDelta(t, 1.0, a.Reputation, 1e-9)
}

func TestContentRejectionPenalised(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	producer := h.expected(1)
	mint, err := chain.NewTransaction(producer, producer.Address(),
		types.NewGenesisMintPayload(types.GenesisMint{Amount: gtx(t, 10)}), 0, 2, testNow)
	require.NoError(t, err)

	err = h.ledger.AddBlock(h.forge(h.tip(), producer, testNow, mint))
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.EqualValues(t, 1, h.authority(producer.Address()).ConsecutiveRejections)
}

func TestDeactivationAfterRepeatedRejections(t *testing.T) {
	h := newHarness(t, 1000, 1000, 1000)
	target := h.expected(1)
	block := h.forge(h.tip(), target, testNow)

	h.engine.BlockRejected(block, errors.Wrap(types.ErrStaleBlock, "tip moved"))
	assert.Zero(t, h.authority(target.Address()).ConsecutiveRejections)

	for i := 0; i < DefaultConfig().RejectionThreshold; i++ {
		h.engine.BlockRejected(block, errors.Wrap(types.ErrValidation, "bad trade"))
	}

	a := h.authority(target.Address())
	assert.False(t, a.Active)
	assert.EqualValues(t, 3, a.ConsecutiveRejections)
	assert.InDelta(t, 0.4, a.Reputation, 1e-9)
	assert.Len(t, h.engine.Registry().Active(), 2)

	assert.False(t, h.engine.IsAuthorized(target.Address(), 1))
	next, err := h.engine.ExpectedAuthority(1)
	require.NoError(t, err)
	assert.NotEqual(t, target.Address(), next)

	h.commitNext()
	assert.Len(t, h.engine.Schedule(), 20)
	assert.NotContains(t, h.engine.Schedule(), target.Address())
}

func TestStakeAndRegistrationTransactions(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	var staker string
	for id := range h.signers {
		staker = id
		break
	}
	newcomer := testSigner(t, 50)

	h.commitNext(
		stakeTx(t, h.signers[staker], gtx(t, 9000), 2),
		registrationTx(t, newcomer, "newcomer", gtx(t, 2000), 1),
	)

	assert.Equal(t, gtx(t, 10_000), h.authority(staker).Stake)
	joined := h.authority(newcomer.Address())
	assert.True(t, joined.Active)
	assert.EqualValues(t, 1, joined.RegisteredAt)
	assert.Len(t, h.engine.Schedule(), 100+10+20)
}

func TestStakeFromNonAuthorityRejected(t *testing.T) {
	h := newHarness(t, 1000, 1000)
	producer := h.expected(1)
	outsider := testSigner(t, 60)

	err := h.ledger.AddBlock(h.forge(h.tip(), producer, testNow, stakeTx(t, outsider, gtx(t, 10), 1)))
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestTimestampBounds(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
	}{
		{"future", testNow.Add(time.Minute)},
		{"before previous", testNow.Add(-time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1000)
			producer := h.expected(1)

			err := h.ledger.AddBlock(h.forge(h.tip(), producer, tt.at))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConsensus))
			assert.False(t, errors.Is(err, types.ErrValidation))
			assert.False(t, errors.Is(err, types.ErrStaleBlock))
			assert.EqualValues(t, 0, h.ledger.GetHeight())
			assert.EqualValues(t, 1, h.authority(producer.Address()).ConsecutiveRejections)
		})
	}
}

func TestBlockRepeatsTransaction(t *testing.T) {
	h := newHarness(t, 1000)
	producer := h.expected(1)
	tx := tradeTx(t, testSigner(t, 60), 1)

	err := h.ledger.AddBlock(h.handBuilt(h.tip(), producer, testNow, tx, tx))
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.EqualValues(t, 0, h.ledger.GetHeight())
	assert.EqualValues(t, 1, h.authority(producer.Address()).ConsecutiveRejections)
}

func TestBlockNonceOrderWithinBlock(t *testing.T) {
	trader := testSigner(t, 61)
	tests := []struct {
		name string
		txs  func(t *testing.T) []*types.Transaction
	}{
		{"duplicate nonce", func(t *testing.T) []*types.Transaction {
			return []*types.Transaction{tradeTx(t, trader, 5), tradeTx(t, trader, 5)}
		}},
		{"lower nonce after higher", func(t *testing.T) []*types.Transaction {
			return []*types.Transaction{tradeTx(t, trader, 6), tradeTx(t, trader, 5)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1000)
			producer := h.expected(1)

			err := h.ledger.AddBlock(h.handBuilt(h.tip(), producer, testNow, tt.txs(t)...))
			assert.True(t, errors.Is(err, types.ErrValidation))
			assert.EqualValues(t, 0, h.ledger.GetHeight())
			assert.EqualValues(t, 1, h.ledger.GetTotalTransactions())
		})
	}
}

func TestRestoreRegistry(t *testing.T) {
	h := newHarness(t, 1000, 3000, 5000)
	h.commitNext()
	h.commitNext()

	empty := h.newEngine()
	ok, err := empty.Restore(store.NewMemoryStore())
	require.NoError(t, err)
	assert.False(t, ok)

	restored := h.newEngine()
	ok, err = restored.Restore(h.db)
	require.NoError(t, err)
	require.True(t, ok)

	ledger, err := chain.NewBlockchain(chain.Config{}, h.db, restored, nil, zaptest.NewLogger(t), h.clock)
	require.NoError(t, err)
	loaded, err := ledger.Load()
	require.NoError(t, err)
	require.True(t, loaded)
	tip, err := ledger.GetLatestBlock()
	require.NoError(t, err)
	restored.Resume(tip)

	assert.Equal(t, h.engine.Registry().All(), restored.Registry().All())
	assert.Equal(t, h.engine.Schedule(), restored.Schedule())

	want, err := h.engine.ExpectedAuthority(3)
	require.NoError(t, err)
	got, err := restored.ExpectedAuthority(3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
