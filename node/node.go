package node

import (
	"context"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/chain"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/consensus"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/state"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Node owns every component of a running ledger node. There is no package-level state;
// everything a task needs is reached through the Node.
type Node struct {
	cfg    *config.Config
	db     *store.CountingStore
	logger *zap.Logger
	clock  clock.Clock

	engine  consensus.Engine
	ledger  *chain.Blockchain
	router  *state.Router
	scaler  *state.Coordinator
	keys    *store.AuthorityKeyStore
	bus     EventBus.Bus
	limiter *rate.Limiter

	sup *supervisor
}

// New wires a node over db and restores whatever chain db already holds. logger and clk
// may be nil.
func New(cfg *config.Config, db store.Store, logger *zap.Logger, clk clock.Clock) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}

	n := &Node{
		cfg:     cfg,
		db:      store.NewCountingStore(db),
		logger:  logger,
		clock:   clk,
		bus:     EventBus.New(),
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
	}

	ccfg, err := consensus.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	if n.engine, err = consensus.New(consensus.KindProofOfAuthority, ccfg, logger, clk); err != nil {
		return nil, err
	}

	strategy, err := state.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if n.router, err = state.NewRouter(strategy, cfg.InitialShards, n.db, logger); err != nil {
		return nil, err
	}

	n.ledger, err = chain.NewBlockchain(chain.Config{BlockCacheSize: cfg.BlockCacheSize}, n.db, n.engine, n.router, logger.Named("ledger"), clk)
	if err != nil {
		return nil, err
	}

	sampler := state.NewRuntimeSampler(n.ledger, n.db, clk)
	if n.scaler, err = state.NewCoordinator(state.ScalingConfigFrom(cfg), sampler, n.router, n.db, logger, clk); err != nil {
		return nil, err
	}

	n.keys = store.NewAuthorityKeyStore(n.db, cfg.KeyPassphrase, logger.Named("keys"))
	n.sup = newSupervisor(n.runShard, logger.Named("supervisor"))
	n.router.OnChange(n.shardsChanged)

	if _, err := n.restore(); err != nil {
		return nil, err
	}
	return n, nil
}

// Run drives block production on every shard and the scaling loop until ctx is done.
// In-flight appends and rebalances complete before Run returns.
func (n *Node) Run(ctx context.Context) error {
	if !n.ledger.HasGenesis() {
		return types.ErrChainEmpty
	}

	g, gctx := errgroup.WithContext(ctx)
	n.sup.start(gctx, g)
	defer n.sup.stop()
	n.sup.sync(n.router.ShardIDs())

	g.Go(func() error {
		return n.scaler.Run(gctx)
	})
	g.Go(func() error {
		return n.observeLoop(gctx)
	})

	n.logger.Info("node running",
		zap.Uint64("height", n.ledger.GetHeight()),
		zap.Int("shards", n.router.ShardCount()),
		zap.Strings("local_authorities", n.LocalAuthorities()))
	return g.Wait()
}

func (n *Node) observeLoop(ctx context.Context) error {
	ticker := n.clock.Ticker(n.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state.ObservePending(n.router)
		}
	}
}

func (n *Node) shardsChanged(ids []types.ShardID) {
	n.sup.sync(ids)
	n.bus.Publish(TopicShardsRebalanced, ShardsRebalanced{Shards: ids})
}

// Subscribe attaches fn to a node topic. fn takes the event struct published on it.
func (n *Node) Subscribe(topic string, fn interface{}) error {
	return n.bus.Subscribe(topic, fn)
}

func (n *Node) Unsubscribe(topic string, fn interface{}) error {
	return n.bus.Unsubscribe(topic, fn)
}

// SubmitTransaction admits tx into its shard pool. Submissions beyond the configured
// rate fail with ErrRateLimited.
func (n *Node) SubmitTransaction(tx *types.Transaction) (types.ShardID, error) {
	if !n.limiter.AllowN(n.clock.Now(), 1) {
		return 0, errors.Wrap(types.ErrRateLimited, "transaction submission")
	}
	return n.ledger.SubmitTransaction(tx)
}

// AddBlock appends a block received from a peer or produced locally and publishes the
// outcome on the event bus.
func (n *Node) AddBlock(b *types.Block) error {
	err := n.ledger.AddBlock(b)
	if err == nil {
		n.bus.Publish(TopicBlockCommitted, BlockCommitted{Block: b})
		return nil
	}
	if b == nil {
		return err
	}

	n.bus.Publish(TopicBlockRejected, BlockRejected{Block: b, Reason: err})
	if errors.Is(err, types.ErrStaleBlock) || errors.Is(err, types.ErrChainEmpty) {
		height := n.ledger.GetHeight()
		if !n.ledger.HasGenesis() || b.Header.Height > height+1 {
			n.bus.Publish(TopicChainResync, ResyncNeeded{From: height + 1, To: b.Header.Height})
		}
	}
	return err
}

// Query surface.

func (n *Node) GetHeight() uint64 {
	return n.ledger.GetHeight()
}

func (n *Node) GetLatestBlock() (*types.Block, error) {
	return n.ledger.GetLatestBlock()
}

func (n *Node) GetBlockByHeight(height uint64) (*types.Block, error) {
	return n.ledger.GetBlockByHeight(height)
}

func (n *Node) GetTotalTransactions() uint64 {
	return n.ledger.GetTotalTransactions()
}

func (n *Node) GetPendingTransactions(limit int) []*types.Transaction {
	return n.ledger.GetPendingTransactions(limit)
}

func (n *Node) GetScalingMetrics() (types.ScalingMetrics, bool) {
	return n.scaler.GetScalingMetrics()
}

func (n *Node) ScalingActions() []state.Action {
	return n.scaler.Actions()
}

func (n *Node) Authorities() []*types.Authority {
	return n.engine.Registry().All()
}

func (n *Node) Schedule() []string {
	return n.engine.Schedule()
}

func (n *Node) Shards() []types.ShardID {
	return n.router.ShardIDs()
}

func (n *Node) CheckChainIntegrity() error {
	return n.ledger.CheckChainIntegrity()
}
