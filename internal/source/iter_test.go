package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
)

func TestDateChunks(t *testing.T) {
	chunks, err := DateChunks(domain.Day(2024, 1, 1), domain.Day(2024, 1, 10), 4, domain.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.True(t, chunks[0].Start.Equal(domain.Day(2024, 1, 1)))
	assert.True(t, chunks[0].End.Equal(domain.Day(2024, 1, 4)))
	assert.True(t, chunks[1].Start.Equal(domain.Day(2024, 1, 5)))
	assert.True(t, chunks[2].Start.Equal(domain.Day(2024, 1, 9)))
	assert.True(t, chunks[2].End.Equal(domain.Day(2024, 1, 10)))

	single, err := DateChunks(domain.Day(2024, 1, 1), domain.Day(2024, 1, 1), 4, domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = DateChunks(domain.Day(2024, 1, 1), domain.Day(2024, 1, 2), 0, domain.FrequencyDaily)
	if !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("Expected ErrInvalidPartition, got %v", err)
	}
}

func TestEntityBatches(t *testing.T) {
	batches, err := EntityBatches([]string{"A", "B", "C", "D", "E"}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}, {"E"}}, batches)

	_, err = EntityBatches([]string{"A"}, -1)
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestIterByDate_CoversRangeInOrder(t *testing.T) {
	adapter := NewAdapter(Options{Loader: PanelLoader(fixture())})
	req := Request{
		Universe: []string{"AAA", "BBB", "CCC"},
		Start:    domain.Day(2024, 1, 1),
		End:      domain.Day(2024, 1, 10),
		Fields:   []string{"close"},
		Freq:     domain.FrequencyDaily,
	}

	var total int
	var last DateChunk
	err := IterByDate(context.Background(), adapter, req, 3, func(chunk DateChunk, panel *domain.Panel) error {
		if !last.End.IsZero() {
			assert.True(t, chunk.Start.After(last.End))
		}
		for _, r := range panel.Rows {
			assert.False(t, r.Date.Before(chunk.Start) || r.Date.After(chunk.End))
		}
		total += panel.Len()
		last = chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30, total)
}

func TestIterByEntity_StopsOnError(t *testing.T) {
	adapter := NewAdapter(Options{Loader: PanelLoader(fixture())})
	req := Request{
		Universe: []string{"AAA", "BBB", "CCC"},
		Start:    domain.Day(2024, 1, 1),
		End:      domain.Day(2024, 1, 10),
		Fields:   []string{"close"},
	}

	stop := errors.New("stop")
	var calls int
	err := IterByEntity(context.Background(), adapter, req, 2, func(batch []string, panel *domain.Panel) error {
		calls++
		assert.Equal(t, []string{"AAA", "BBB"}, batch)
		assert.Equal(t, 20, panel.Len())
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
