package types

import "github.com/pkg/errors"

// Error kinds. Callers wrap these with errors.Wrap and match with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrConsensus  = errors.New("consensus error")
	ErrStorage    = errors.New("storage error")
	ErrRouting    = errors.New("routing error")
	ErrScaling    = errors.New("scaling error")

	ErrNotFound         = errors.New("not found")
	ErrAssemblyInFlight = errors.New("block assembly already in flight")
	ErrRateLimited      = errors.New("submission rate limit exceeded")
	ErrChainEmpty       = errors.New("chain has no genesis block")

	// ErrStaleBlock marks a consensus rejection caused by losing a race against another
	// commit (tip moved, or the block repeats already-committed work). It matches
	// ErrConsensus as well.
	ErrStaleBlock = errors.WithMessage(ErrConsensus, "stale block")
)
