package pagination

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysetAfter(t *testing.T) {
	where, args := Keyset{}.After("effective_date", "id")
	assert.Equal(t, "1 = 1", where)
	assert.Empty(t, args)

	at := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	where, args = Keyset{At: at, ID: 7}.After("effective_date", "id")
	assert.Equal(t, "(effective_date > ? OR (effective_date = ? AND id > ?))", where)
	assert.Equal(t, []any{at, at, snowflake.ID(7)}, args)
}

func TestNext(t *testing.T) {
	key := func(id int) Keyset { return Keyset{ID: snowflake.ID(id)} }

	next, more := Next([]int{1, 2}, 2, key)
	assert.True(t, more)
	assert.Equal(t, snowflake.ID(2), next.ID)

	_, more = Next([]int{3}, 2, key)
	assert.False(t, more)

	_, more = Next([]int{}, 2, key)
	assert.False(t, more)
}

func TestWalkVisitsEveryPage(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	key := func(id int) Keyset { return Keyset{ID: snowflake.ID(id)} }
	fetches := 0
	fetch := func(_ context.Context, after Keyset, limit int) ([]int, error) {
		fetches++
		var page []int
		for _, row := range rows {
			if snowflake.ID(row) > after.ID && len(page) < limit {
				page = append(page, row)
			}
		}
		return page, nil
	}

	var seen []int
	err := Walk(context.Background(), 2, key, fetch, func(id int) { seen = append(seen, id) })
	require.NoError(t, err)
	assert.Equal(t, rows, seen)
	assert.Equal(t, 3, fetches)
}

func TestWalkStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	key := func(id int) Keyset { return Keyset{ID: snowflake.ID(id)} }
	fetch := func(_ context.Context, after Keyset, limit int) ([]int, error) {
		return []int{int(after.ID) + 1}, nil
	}

	var seen []int
	err := Walk(ctx, 1, key, fetch, func(id int) {
		seen = append(seen, id)
		if id == 3 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2, 3}, seen)
}
