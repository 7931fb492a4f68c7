package consensus

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// round tracks the production turn for one height. waited only grows while work is
// pending; every RoundTimeout of it passes the turn to the next candidate.
type round struct {
	height     uint64
	candidates []string
	waited     time.Duration
	observed   time.Time
	charged    map[string]struct{}
}

type proofOfAuthority struct {
	cfg      Config
	logger   *zap.Logger
	clock    clock.Clock
	registry *Registry

	mu       sync.RWMutex
	schedule []string
	round    round
}

var _ Engine = (*proofOfAuthority)(nil)

func newProofOfAuthority(cfg Config, logger *zap.Logger, clk clock.Clock) *proofOfAuthority {
	return &proofOfAuthority{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		registry: NewRegistry(),
	}
}

func (e *proofOfAuthority) Kind() Kind { return KindProofOfAuthority }

func (e *proofOfAuthority) Registry() *Registry { return e.registry }

func (e *proofOfAuthority) Schedule() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.schedule...)
}

// rebuildLocked recomputes the schedule from the active authorities and restarts the
// round at height. e.mu must be held for writing.
func (e *proofOfAuthority) rebuildLocked(height uint64) {
	e.schedule = BuildSchedule(e.registry.Active(), e.cfg.StakeUnit, e.cfg.MaxStakeUnits)
	e.round = round{
		height:     height,
		candidates: candidates(e.schedule, height),
		observed:   e.clock.Now(),
		charged:    make(map[string]struct{}),
	}
}

func (e *proofOfAuthority) Resume(tip *types.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildLocked(tip.Header.Height + 1)
}

// activeCandidates drops candidates deactivated since the schedule was built.
func (e *proofOfAuthority) activeCandidates(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if a, ok := e.registry.Get(id); ok && a.Active {
			out = append(out, id)
		}
	}
	return out
}

// turnLocked returns the live candidate list for height and how many of them have been
// skipped. Heights other than the current round have no elapsed time.
func (e *proofOfAuthority) turnLocked(height uint64) ([]string, int) {
	if height == e.round.height && e.round.candidates != nil {
		skips := int(e.round.waited / e.cfg.RoundTimeout)
		return e.activeCandidates(e.round.candidates), skips
	}
	return e.activeCandidates(candidates(e.schedule, height)), 0
}

func (e *proofOfAuthority) ExpectedAuthority(height uint64) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cands, skips := e.turnLocked(height)
	if len(cands) == 0 {
		return "", errors.Wrapf(types.ErrConsensus, "no active authority for height %d", height)
	}
	if skips >= len(cands) {
		skips = len(cands) - 1
	}
	return cands[skips], nil
}

// IsAuthorized accepts the expected authority and every candidate whose turn has already
// passed to a later one.
func (e *proofOfAuthority) IsAuthorized(id string, height uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cands, skips := e.turnLocked(height)
	for i, c := range cands {
		if c == id {
			return i <= skips
		}
	}
	return false
}

// Observe charges a missed turn to every candidate whose slot expired. Each candidate is
// charged at most once per height.
func (e *proofOfAuthority) Observe(height uint64, hasWork bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if height != e.round.height || e.round.candidates == nil {
		return
	}
	if hasWork {
		e.round.waited += now.Sub(e.round.observed)
	}
	e.round.observed = now

	cands := e.activeCandidates(e.round.candidates)
	skips := int(e.round.waited / e.cfg.RoundTimeout)
	if skips > len(cands) {
		skips = len(cands)
	}
	for _, id := range cands[:skips] {
		if _, done := e.round.charged[id]; done {
			continue
		}
		e.round.charged[id] = struct{}{}
		var rep float64
		e.registry.update(id, func(a *types.Authority) {
			a.BlocksMissed++
			a.Reputation = clampReputation(a.Reputation - e.cfg.MissPenalty)
			rep = a.Reputation
		})
		e.logger.Warn("authority missed its turn",
			zap.String("authority", id),
			zap.Uint64("height", height),
			zap.Float64("reputation", rep))
	}
}

// ValidateGenesis requires at least one authority registration and an empty registry.
func (e *proofOfAuthority) ValidateGenesis(b *types.Block) error {
	if e.registry.Len() > 0 {
		return errors.Wrap(types.ErrConsensus, "authority registry already initialised")
	}
	seen := make(map[string]struct{})
	for _, tx := range b.Transactions {
		if tx.Payload.Kind != types.PayloadAuthorityRegistration {
			continue
		}
		if _, dup := seen[tx.Sender]; dup {
			return errors.Wrapf(types.ErrConsensus, "authority %s registered twice in genesis", tx.Sender)
		}
		seen[tx.Sender] = struct{}{}
	}
	if len(seen) == 0 {
		return errors.Wrap(types.ErrConsensus, "genesis block registers no authority")
	}
	return nil
}

// ValidateBlock checks b as the successor of prev. Losing a race against another commit
// is reported as types.ErrStaleBlock.
func (e *proofOfAuthority) ValidateBlock(b, prev *types.Block, watermark chain.WatermarkFunc) error {
	if b == nil || prev == nil {
		return errors.Wrap(types.ErrValidation, "nil block")
	}
	if err := chain.VerifyBlockHash(b); err != nil {
		return err
	}
	h := b.Header
	if h.Height != prev.Header.Height+1 || h.PrevHash != prev.Hash {
		return errors.Wrapf(types.ErrStaleBlock, "block %d does not extend tip %d (%s)", h.Height, prev.Header.Height, prev.Hash)
	}

	producer, ok := e.registry.Get(h.Producer)
	if !ok {
		return errors.Wrapf(types.ErrConsensus, "block %d: unknown producer %q", h.Height, h.Producer)
	}
	if err := chain.VerifyBlockSignature(b, producer.PublicKey); err != nil {
		return errors.Wrap(types.ErrConsensus, err.Error())
	}
	if !e.IsAuthorized(producer.ID, h.Height) {
		return errors.Wrapf(types.ErrConsensus, "block %d: %s is not authorized for this height", h.Height, producer.ID)
	}

	if h.Timestamp < prev.Header.Timestamp {
		return errors.Wrapf(types.ErrConsensus, "block %d: timestamp %d before previous block %d", h.Height, h.Timestamp, prev.Header.Timestamp)
	}
	if limit := e.clock.Now().Add(e.cfg.MaxClockSkew).UnixMilli(); h.Timestamp > limit {
		return errors.Wrapf(types.ErrConsensus, "block %d: timestamp %d is in the future", h.Height, h.Timestamp)
	}
	if len(b.Transactions) > e.cfg.MaxTxPerBlock {
		return errors.Wrapf(types.ErrValidation, "block %d: %d transactions exceed the limit of %d", h.Height, len(b.Transactions), e.cfg.MaxTxPerBlock)
	}
	return e.validateTransactions(b, watermark)
}

func (e *proofOfAuthority) validateTransactions(b *types.Block, watermark chain.WatermarkFunc) error {
	ids := make(map[string]struct{}, len(b.Transactions))
	last := make(map[string]uint64)
	registering := make(map[string]struct{})

	for _, tx := range b.Transactions {
		if err := chain.ValidateTransaction(tx); err != nil {
			return err
		}
		if _, dup := ids[tx.ID]; dup {
			return errors.Wrapf(types.ErrValidation, "block %d repeats transaction %s", b.Header.Height, tx.ID)
		}
		ids[tx.ID] = struct{}{}

		if w, ok := watermark(tx.Sender); ok && tx.Nonce <= w {
			return errors.Wrapf(types.ErrStaleBlock, "transaction %s: nonce %d already used by %s (committed %d)", tx.ID, tx.Nonce, tx.Sender, w)
		}
		if n, ok := last[tx.Sender]; ok && tx.Nonce <= n {
			return errors.Wrapf(types.ErrValidation, "transaction %s: nonce %d of %s not above %d in the same block", tx.ID, tx.Nonce, tx.Sender, n)
		}
		last[tx.Sender] = tx.Nonce

		switch tx.Payload.Kind {
		case types.PayloadGenesisMint:
			return errors.Wrapf(types.ErrValidation, "transaction %s: minting is only allowed in genesis", tx.ID)
		case types.PayloadAuthorityRegistration:
			_, known := e.registry.Get(tx.Sender)
			_, dup := registering[tx.Sender]
			if known || dup {
				return errors.Wrapf(types.ErrValidation, "transaction %s: authority %s already registered", tx.ID, tx.Sender)
			}
			registering[tx.Sender] = struct{}{}
		case types.PayloadValidatorStake:
			if _, known := e.registry.Get(tx.Sender); !known {
				return errors.Wrapf(types.ErrValidation, "transaction %s: %s is not an authority", tx.ID, tx.Sender)
			}
		}
	}
	return nil
}

// BlockRejected penalises the producer of a block rejected for its content. Stale
// blocks, unknown producers and blocks whose signature does not verify are only logged.
func (e *proofOfAuthority) BlockRejected(b *types.Block, reason error) {
	if b == nil || errors.Is(reason, types.ErrStaleBlock) {
		return
	}
	if !errors.Is(reason, types.ErrValidation) && !errors.Is(reason, types.ErrConsensus) {
		return
	}
	producer, ok := e.registry.Get(b.Header.Producer)
	if !ok || chain.VerifyBlockSignature(b, producer.PublicKey) != nil {
		return
	}

	var snapshot types.Authority
	deactivated := false
	e.registry.update(producer.ID, func(a *types.Authority) {
		a.ConsecutiveRejections++
		a.Reputation = clampReputation(a.Reputation - e.cfg.RejectPenalty*float64(a.ConsecutiveRejections))
		if a.Active && int(a.ConsecutiveRejections) >= e.cfg.RejectionThreshold {
			a.Active = false
			deactivated = true
		}
		snapshot = *a
	})

	e.logger.Warn("producer penalised for rejected block",
		zap.String("authority", producer.ID),
		zap.Uint64("height", b.Header.Height),
		zap.Uint32("consecutive", snapshot.ConsecutiveRejections),
		zap.Float64("reputation", snapshot.Reputation),
		zap.Error(reason))
	if deactivated {
		e.logger.Error("authority deactivated after repeated rejections",
			zap.String("authority", producer.ID),
			zap.Uint32("rejections", snapshot.ConsecutiveRejections))
	}
}

// registryOp is one change a committed block makes to the registry.
type registryOp func(r *Registry) error

func (e *proofOfAuthority) commitOps(b *types.Block) []registryOp {
	var ops []registryOp
	height := b.Header.Height

	if b.Header.Producer != "" {
		producer := b.Header.Producer
		ops = append(ops, func(r *Registry) error {
			r.update(producer, func(a *types.Authority) {
				a.BlocksProduced++
				a.ConsecutiveRejections = 0
				a.Reputation = clampReputation(a.Reputation + e.cfg.ReputationRecovery)
			})
			return nil
		})
	}

	for _, tx := range b.Transactions {
		tx := tx
		switch tx.Payload.Kind {
		case types.PayloadAuthorityRegistration:
			reg := tx.Payload.Registration
			ops = append(ops, func(r *Registry) error {
				return r.Register(&types.Authority{
					ID:           tx.Sender,
					Name:         reg.Name,
					Description:  reg.Description,
					Category:     reg.Category,
					PublicKey:    tx.SenderPublicKey,
					Stake:        reg.Stake,
					Reputation:   e.cfg.InitialReputation,
					Active:       true,
					RegisteredAt: height,
				})
			})
		case types.PayloadValidatorStake:
			stake := tx.Payload.Stake.Amount
			ops = append(ops, func(r *Registry) error {
				r.update(tx.Sender, func(a *types.Authority) { a.Stake += stake })
				return nil
			})
		}
	}
	return ops
}

// PrepareCommit applies b's registry changes to a copy of the registry so they can be
// persisted with the block before the live registry sees them.
func (e *proofOfAuthority) PrepareCommit(b *types.Block) (chain.CommitEffect, error) {
	ops := e.commitOps(b)
	next := e.registry.clone()
	for _, op := range ops {
		if err := op(next); err != nil {
			return nil, err
		}
	}
	data, err := next.Snapshot()
	if err != nil {
		return nil, err
	}
	return &commitEffect{engine: e, block: b, ops: ops, snapshot: data}, nil
}

type commitEffect struct {
	engine   *proofOfAuthority
	block    *types.Block
	ops      []registryOp
	snapshot []byte
}

func (c *commitEffect) Persist(batch *store.Batch) error {
	batch.Put([]byte(store.RegistryKey), c.snapshot)
	return nil
}

// Apply replays the ops on the live registry so penalties recorded since PrepareCommit
// are kept, then starts the next round.
func (c *commitEffect) Apply() {
	e := c.engine
	for _, op := range c.ops {
		if err := op(e.registry); err != nil {
			e.logger.Error("registry change failed after commit",
				zap.Uint64("height", c.block.Header.Height),
				zap.Error(err))
		}
	}
	e.mu.Lock()
	e.rebuildLocked(c.block.Header.Height + 1)
	cycle := len(e.schedule)
	e.mu.Unlock()

	e.logger.Debug("round advanced",
		zap.Uint64("height", c.block.Header.Height+1),
		zap.Int("cycle", cycle))
}

// ProduceBlock assembles and signs the successor of prev. The signer must hold the turn.
func (e *proofOfAuthority) ProduceBlock(signer crypto.Signer, prev *types.Block, txs []*types.Transaction, shard types.ShardID) (*types.Block, error) {
	height := prev.Header.Height + 1
	if !e.IsAuthorized(signer.Address(), height) {
		return nil, errors.Wrapf(types.ErrConsensus, "%s is not authorized for height %d", signer.Address(), height)
	}
	now := e.clock.Now()
	if now.UnixMilli() < prev.Header.Timestamp {
		now = time.UnixMilli(prev.Header.Timestamp)
	}
	b, err := chain.AssembleBlock(height, prev.Hash, txs, signer.Address(), shard, e.cfg.MaxTxPerBlock, now)
	if err != nil {
		return nil, err
	}
	if err := chain.SignBlock(b, signer); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *proofOfAuthority) Restore(db store.Store) (bool, error) {
	data, err := db.Get([]byte(store.RegistryKey))
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := e.registry.Restore(data); err != nil {
		return false, err
	}
	e.logger.Info("authority registry restored", zap.Int("authorities", e.registry.Len()))
	return true, nil
}
