package chain

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/hash"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

const latencyWindow = 256

// Config tunes the ledger.
type Config struct {
	BlockCacheSize     int
	ExpectedCommitted  uint
	BloomFalsePositive float64
}

// tipMeta is the record stored under store.TipKey.
type tipMeta struct {
	Height  uint64    `cbor:"1,keyasint"`
	Hash    hash.Hash `cbor:"2,keyasint"`
	TotalTx uint64    `cbor:"3,keyasint"`
}

// Blockchain is the canonical chain. Appends are serialized by mu; reads take the read
// lock and never observe a partially applied block.
type Blockchain struct {
	mu sync.RWMutex

	db     store.Store
	engine ConsensusEngine
	pools  PendingPools
	logger *zap.Logger
	clock  clock.Clock

	genesis *types.Block
	tip     *types.Block
	nonces  map[string]uint64
	totalTx uint64

	blocks    *store.LRUCache[*types.Block]
	committed *store.LRUCache[uint64]

	latMu     sync.Mutex
	latencies []float64
}

func NewBlockchain(cfg Config, db store.Store, engine ConsensusEngine, pools PendingPools, logger *zap.Logger, clk clock.Clock) (*Blockchain, error) {
	if cfg.BlockCacheSize <= 0 {
		cfg.BlockCacheSize = 1024
	}
	if cfg.ExpectedCommitted == 0 {
		cfg.ExpectedCommitted = 1_000_000
	}
	if cfg.BloomFalsePositive <= 0 {
		cfg.BloomFalsePositive = 0.001
	}
	blocks, err := store.NewLRUCache[*types.Block](cfg.BlockCacheSize, cfg.ExpectedCommitted/10+1, cfg.BloomFalsePositive)
	if err != nil {
		return nil, errors.Wrap(err, "create block cache")
	}
	committed, err := store.NewLRUCache[uint64](cfg.BlockCacheSize*16, cfg.ExpectedCommitted, cfg.BloomFalsePositive)
	if err != nil {
		return nil, errors.Wrap(err, "create transaction index cache")
	}
	if pools == nil {
		pools = NewSinglePool()
	}
	return &Blockchain{
		db:        db,
		engine:    engine,
		pools:     pools,
		logger:    logger,
		clock:     clk,
		nonces:    make(map[string]uint64),
		blocks:    blocks,
		committed: committed,
	}, nil
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// watermarkLocked must be called with mu held.
func (bc *Blockchain) watermarkLocked(sender string) (uint64, bool) {
	n, ok := bc.nonces[sender]
	return n, ok
}

// isCommittedLocked reports whether a transaction id is already on chain. The bloom
// filter answers most negatives without touching the store.
func (bc *Blockchain) isCommittedLocked(id string) (bool, error) {
	if !bc.committed.MayContain(id) {
		return false, nil
	}
	if _, ok := bc.committed.Get(id); ok {
		return true, nil
	}
	_, err := bc.db.Get(store.TransactionKey(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AddGenesisBlock installs the genesis block on an empty chain.
func (bc *Blockchain) AddGenesisBlock(b *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.tip != nil {
		return errors.Wrap(types.ErrValidation, "chain already has a genesis block")
	}
	if err := ValidateGenesisBlock(b); err != nil {
		return err
	}
	if err := bc.engine.ValidateGenesis(b); err != nil {
		return err
	}
	if err := bc.commitLocked(b); err != nil {
		return err
	}
	bc.genesis = b
	bc.logger.Info("genesis block committed",
		zap.String("hash", b.Hash.String()),
		zap.Int("transactions", len(b.Transactions)))
	return nil
}

// AddBlock validates b against the current tip and appends it. Validation, the store
// write, the in-memory swap and the pool prune happen under one write lock; if the
// store write fails nothing in memory changes.
func (bc *Blockchain) AddBlock(b *types.Block) error {
	start := bc.clock.Now()

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.tip == nil {
		return types.ErrChainEmpty
	}
	if b == nil {
		return errors.Wrap(types.ErrValidation, "nil block")
	}

	if err := bc.engine.ValidateBlock(b, bc.tip, bc.watermarkLocked); err != nil {
		bc.reject(b, err)
		return err
	}
	for _, tx := range b.Transactions {
		done, err := bc.isCommittedLocked(tx.ID)
		if err != nil {
			return err
		}
		if done {
			err := errors.Wrapf(types.ErrStaleBlock, "transaction %s already committed", tx.ID)
			bc.reject(b, err)
			return err
		}
	}

	if err := bc.commitLocked(b); err != nil {
		return err
	}
	bc.recordLatency(bc.clock.Since(start))
	return nil
}

func (bc *Blockchain) reject(b *types.Block, reason error) {
	bc.logger.Warn("block rejected",
		zap.Uint64("height", b.Header.Height),
		zap.String("producer", b.Header.Producer),
		zap.Uint32("shard", uint32(b.Header.ShardID)),
		zap.Error(reason))
	bc.engine.BlockRejected(b, reason)
}

// commitLocked persists b and swaps it in as the new tip. mu must be held for writing.
func (bc *Blockchain) commitLocked(b *types.Block) error {
	effect, err := bc.engine.PrepareCommit(b)
	if err != nil {
		return err
	}

	maxNonces := b.MaxNonces()
	newNonces := make(map[string]uint64, len(maxNonces))
	for sender, n := range maxNonces {
		if cur, ok := bc.nonces[sender]; !ok || n > cur {
			newNonces[sender] = n
		}
	}
	total := bc.totalTx + uint64(len(b.Transactions))

	batch := store.NewBatch()
	blockBytes, err := detEncMode.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "encode block")
	}
	height := encodeUint64(b.Header.Height)
	batch.Put(store.BlockHeightKey(b.Header.Height), blockBytes)
	batch.Put(store.BlockHashKey(b.Hash.Bytes()), height)
	for _, tx := range b.Transactions {
		batch.Put(store.TransactionKey(tx.ID), height)
	}
	for sender, n := range newNonces {
		batch.Put(store.NonceKey(sender), encodeUint64(n))
	}
	meta, err := cbor.Marshal(&tipMeta{Height: b.Header.Height, Hash: b.Hash, TotalTx: total})
	if err != nil {
		return errors.Wrap(err, "encode tip")
	}
	batch.Put([]byte(store.TipKey), meta)
	if err := effect.Persist(batch); err != nil {
		return err
	}

	if err := bc.db.Write(batch); err != nil {
		bc.logger.Error("failed to persist block", zap.Uint64("height", b.Header.Height), zap.Error(err))
		if !errors.Is(err, types.ErrStorage) {
			err = errors.Wrap(types.ErrStorage, err.Error())
		}
		return err
	}

	effect.Apply()
	bc.tip = b
	bc.totalTx = total
	for sender, n := range newNonces {
		bc.nonces[sender] = n
	}
	bc.blocks.Add(b.Hash.String(), b)
	for _, tx := range b.Transactions {
		bc.committed.Add(tx.ID, b.Header.Height)
	}

	ids := b.TransactionIDs()
	removed := bc.pools.RemoveTransactions(ids)
	pruned := bc.pools.PruneStale(maxNonces)

	bc.logger.Debug("block committed",
		zap.Uint64("height", b.Header.Height),
		zap.String("hash", b.Hash.String()),
		zap.String("producer", b.Header.Producer),
		zap.Int("transactions", len(ids)),
		zap.Int("removed", removed),
		zap.Int("pruned", pruned))
	return nil
}

func (bc *Blockchain) recordLatency(d time.Duration) {
	bc.latMu.Lock()
	defer bc.latMu.Unlock()
	bc.latencies = append(bc.latencies, float64(d)/float64(time.Millisecond))
	if len(bc.latencies) > latencyWindow {
		bc.latencies = bc.latencies[len(bc.latencies)-latencyWindow:]
	}
}

// DrainLatencies returns the append latencies (ms) recorded since the previous call.
func (bc *Blockchain) DrainLatencies() []float64 {
	bc.latMu.Lock()
	defer bc.latMu.Unlock()
	out := bc.latencies
	bc.latencies = nil
	return out
}

// GetHeight returns the tip height; 0 for a chain holding only its genesis block.
func (bc *Blockchain) GetHeight() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}

// HasGenesis reports whether the chain has been initialised.
func (bc *Blockchain) HasGenesis() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip != nil
}

func (bc *Blockchain) GetLatestBlock() (*types.Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return nil, types.ErrChainEmpty
	}
	return bc.tip, nil
}

func (bc *Blockchain) GetTotalTransactions() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.totalTx
}

// GetNonce returns the committed nonce watermark of sender.
func (bc *Blockchain) GetNonce(sender string) (uint64, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.watermarkLocked(sender)
}

func (bc *Blockchain) GetPendingTransactions(limit int) []*types.Transaction {
	return bc.pools.Pending(limit)
}

// RemovePendingTransactions drops ids from every pool. Repeating the call is harmless.
func (bc *Blockchain) RemovePendingTransactions(ids []string) int {
	return bc.pools.RemoveTransactions(ids)
}

// ReservePending claims up to limit pending transactions of shard for one block
// assembly, skipping those already made stale by committed nonces. The caller must
// ReleasePending when the assembly ends, whether or not the block was committed.
func (bc *Blockchain) ReservePending(shard types.ShardID, limit int) ([]*types.Transaction, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.pools.Reserve(shard, limit, bc.watermarkLocked)
}

func (bc *Blockchain) ReleasePending(shard types.ShardID) {
	bc.pools.Release(shard)
}

// SubmitTransaction validates tx against the committed state and queues it on its
// shard.
func (bc *Blockchain) SubmitTransaction(tx *types.Transaction) (types.ShardID, error) {
	if err := ValidateTransaction(tx); err != nil {
		return 0, err
	}

	bc.mu.RLock()
	if w, ok := bc.watermarkLocked(tx.Sender); ok && tx.Nonce <= w {
		bc.mu.RUnlock()
		return 0, errors.Wrapf(types.ErrValidation, "transaction %s: nonce %d not above committed %d", tx.ID, tx.Nonce, w)
	}
	done, err := bc.isCommittedLocked(tx.ID)
	bc.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if done {
		return 0, errors.Wrapf(types.ErrValidation, "transaction %s already committed", tx.ID)
	}

	return bc.pools.Submit(tx)
}

func (bc *Blockchain) readBlock(height uint64) (*types.Block, error) {
	data, err := bc.db.Get(store.BlockHeightKey(height))
	if err != nil {
		return nil, err
	}
	b := new(types.Block)
	if err := b.Unmarshal(data); err != nil {
		return nil, errors.Wrapf(types.ErrStorage, "decode block %d: %v", height, err)
	}
	return b, nil
}

func (bc *Blockchain) GetBlockByHeight(height uint64) (*types.Block, error) {
	b, err := bc.readBlock(height)
	if err != nil {
		return nil, err
	}
	if cached, ok := bc.blocks.Get(b.Hash.String()); ok {
		return cached, nil
	}
	bc.blocks.Add(b.Hash.String(), b)
	return b, nil
}

func (bc *Blockchain) GetBlockByHash(h hash.Hash) (*types.Block, error) {
	if b, ok := bc.blocks.Get(h.String()); ok {
		return b, nil
	}
	data, err := bc.db.Get(store.BlockHashKey(h.Bytes()))
	if err != nil {
		return nil, err
	}
	height, err := decodeUint64(data)
	if err != nil {
		return nil, errors.Wrapf(types.ErrStorage, "block index for %s: %v", h, err)
	}
	return bc.GetBlockByHeight(height)
}

// CheckChainIntegrity walks the persisted chain from genesis to the tip and verifies
// every hash and predecessor link.
func (bc *Blockchain) CheckChainIntegrity() error {
	bc.mu.RLock()
	tip := bc.tip
	bc.mu.RUnlock()
	if tip == nil {
		return types.ErrChainEmpty
	}

	var prev *types.Block
	for h := uint64(0); h <= tip.Header.Height; h++ {
		b, err := bc.readBlock(h)
		if err != nil {
			return errors.Wrapf(err, "block %d", h)
		}
		if b.Header.Height != h {
			return errors.Wrapf(types.ErrValidation, "block stored at %d claims height %d", h, b.Header.Height)
		}
		if err := VerifyBlockHash(b); err != nil {
			return err
		}
		if prev == nil {
			if !b.Header.PrevHash.IsZero() {
				return errors.Wrap(types.ErrValidation, "genesis block has a predecessor")
			}
		} else if b.Header.PrevHash != prev.Hash {
			return errors.Wrapf(types.ErrValidation, "block %d does not link to block %d", h, h-1)
		}
		prev = b
	}
	if prev.Hash != tip.Hash {
		return errors.Wrap(types.ErrValidation, "stored chain does not end at the in-memory tip")
	}
	return nil
}

// Load rebuilds the in-memory state from the store. It returns false when the store
// holds no chain. The engine must already have restored its own state.
func (bc *Blockchain) Load() (bool, error) {
	data, err := bc.db.Get([]byte(store.TipKey))
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var meta tipMeta
	if err := cbor.Unmarshal(data, &meta); err != nil {
		return false, errors.Wrapf(types.ErrStorage, "decode tip: %v", err)
	}

	genesis, err := bc.readBlock(0)
	if err != nil {
		return false, errors.Wrap(err, "load genesis")
	}
	tip, err := bc.readBlock(meta.Height)
	if err != nil {
		return false, errors.Wrap(err, "load tip")
	}
	if tip.Hash != meta.Hash {
		return false, errors.Wrapf(types.ErrStorage, "tip record %s does not match block %d", meta.Hash, meta.Height)
	}

	nonces := make(map[string]uint64)
	err = bc.db.Iterate([]byte(store.NoncePrefix), func(key, value []byte) error {
		n, err := decodeUint64(value)
		if err != nil {
			return errors.Wrapf(types.ErrStorage, "nonce %q: %v", key, err)
		}
		nonces[string(key[len(store.NoncePrefix):])] = n
		return nil
	})
	if err != nil {
		return false, err
	}
	err = bc.db.Iterate([]byte(store.TransactionPrefix), func(key, _ []byte) error {
		bc.committed.Remember(string(key[len(store.TransactionPrefix):]))
		return nil
	})
	if err != nil {
		return false, err
	}

	bc.mu.Lock()
	bc.genesis = genesis
	bc.tip = tip
	bc.nonces = nonces
	bc.totalTx = meta.TotalTx
	bc.mu.Unlock()
	bc.blocks.Add(tip.Hash.String(), tip)

	bc.logger.Info("chain loaded from store",
		zap.Uint64("height", tip.Header.Height),
		zap.Uint64("transactions", meta.TotalTx),
		zap.Int("senders", len(nonces)))
	return true, nil
}
