package node

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// supervisor keeps exactly one production loop per active shard. Loops are started and
// cancelled as the router's shard set changes.
type supervisor struct {
	run    func(ctx context.Context, shard types.ShardID) error
	logger *zap.Logger

	mu    sync.Mutex
	ctx   context.Context
	group *errgroup.Group
	loops map[types.ShardID]context.CancelFunc
}

func newSupervisor(run func(ctx context.Context, shard types.ShardID) error, logger *zap.Logger) *supervisor {
	return &supervisor{
		run:    run,
		logger: logger,
		loops:  make(map[types.ShardID]context.CancelFunc),
	}
}

func (s *supervisor) start(ctx context.Context, g *errgroup.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.group = g
}

// sync starts loops for new shards and cancels loops of retired ones. It is a no-op
// before start and after stop.
func (s *supervisor) sync(ids []types.ShardID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	active := make(map[types.ShardID]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
		if _, running := s.loops[id]; running {
			continue
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.loops[id] = cancel
		shard := id
		s.group.Go(func() error {
			return s.run(ctx, shard)
		})
		s.logger.Debug("shard loop started", zap.Stringer("shard", id))
	}
	for id, cancel := range s.loops {
		if _, ok := active[id]; !ok {
			cancel()
			delete(s.loops, id)
			s.logger.Debug("shard loop stopped", zap.Stringer("shard", id))
		}
	}
}

func (s *supervisor) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.loops {
		cancel()
		delete(s.loops, id)
	}
	s.ctx = nil
	s.group = nil
}

func (s *supervisor) running() []types.ShardID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ShardID, 0, len(s.loops))
	for id := range s.loops {
		out = append(out, id)
	}
	return out
}
