package engine

import (
	"errors"

	"factor-lab/internal/source"
)

// Engine errors.
var (
	// ErrSchema is returned when fetched data or evaluator output lacks a
	// required column. It is the same value as source.ErrSchema.
	ErrSchema = source.ErrSchema

	// ErrUnsafeChunking is returned by ComputeFullByDate when a block's window
	// cannot be bounded by the factor's lookback.
	ErrUnsafeChunking = errors.New("unsafe chunking: block window not bounded by lookback")

	// ErrUnsafeBatching is returned by ComputeFullByCode when a block, or a
	// block whose output it reads, mixes entities.
	ErrUnsafeBatching = errors.New("unsafe batching: block depends on other entities")

	// ErrUnsafeIncremental is returned by ComputeIncremental when a block is
	// known to need more history than the lookback provides, counting the
	// depth of the blocks it reads from. It extends the core error kinds
	// (schema, unsafe chunking, empty result) for incremental runs only.
	ErrUnsafeIncremental = errors.New("unsafe incremental: block window exceeds lookback")

	// ErrDuplicateKey is returned if a computation produced two rows for one
	// (date, symbol).
	ErrDuplicateKey = errors.New("duplicate (date, symbol) in computed table")

	// ErrInvalidRequest is returned for empty universes and inverted ranges.
	ErrInvalidRequest = errors.New("invalid compute request")
)
