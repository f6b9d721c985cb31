package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factor-lab/internal/domain"
)

// ErrInvalidPartition is returned for non-positive chunk or batch sizes.
var ErrInvalidPartition = errors.New("chunk and batch sizes must be positive")

// DateChunk is an inclusive date range.
type DateChunk struct {
	Start time.Time
	End   time.Time
}

// DateChunks splits [start, end] into consecutive chunks of chunkDays periods.
// The last chunk may be shorter.
func DateChunks(start, end time.Time, chunkDays int, freq domain.Frequency) ([]DateChunk, error) {
	if chunkDays <= 0 {
		return nil, fmt.Errorf("%w: chunk of %d periods", ErrInvalidPartition, chunkDays)
	}

	var chunks []DateChunk
	for cur := start; !cur.After(end); {
		last := freq.Shift(cur, chunkDays-1)
		if last.After(end) {
			last = end
		}
		chunks = append(chunks, DateChunk{Start: cur, End: last})
		cur = freq.Shift(last, 1)
	}
	return chunks, nil
}

// EntityBatches splits universe into consecutive groups of at most size.
func EntityBatches(universe []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch of %d entities", ErrInvalidPartition, size)
	}

	var batches [][]string
	for i := 0; i < len(universe); i += size {
		j := i + size
		if j > len(universe) {
			j = len(universe)
		}
		batch := make([]string, j-i)
		copy(batch, universe[i:j])
		batches = append(batches, batch)
	}
	return batches, nil
}

// IterByEntity fetches the full range once per entity batch and hands each
// panel to fn in batch order. Iteration stops at the first error.
func IterByEntity(ctx context.Context, src Source, req Request, batchSize int, fn func(batch []string, panel *domain.Panel) error) error {
	batches, err := EntityBatches(req.Universe, batchSize)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := req
		sub.Universe = batch
		panel, err := src.Fetch(ctx, sub)
		if err != nil {
			return fmt.Errorf("fetch batch %v: %w", batch, err)
		}
		if err := fn(batch, panel); err != nil {
			return err
		}
	}
	return nil
}

// IterByDate fetches each date chunk separately and hands each panel to fn in
// chronological order. Iteration stops at the first error.
func IterByDate(ctx context.Context, src Source, req Request, chunkDays int, fn func(chunk DateChunk, panel *domain.Panel) error) error {
	chunks, err := DateChunks(req.Start, req.End, chunkDays, req.Freq)
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := req
		sub.Start, sub.End = chunk.Start, chunk.End
		panel, err := src.Fetch(ctx, sub)
		if err != nil {
			return fmt.Errorf("fetch chunk %s..%s: %w",
				chunk.Start.Format(time.DateOnly), chunk.End.Format(time.DateOnly), err)
		}
		if err := fn(chunk, panel); err != nil {
			return err
		}
	}
	return nil
}
