package pagination

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Keyset marks the last row of a page ordered by (timestamp, id). The zero
// value starts from the first row.
type Keyset struct {
	At time.Time
	ID snowflake.ID
}

func (k Keyset) IsZero() bool {
	return k.ID == 0 && k.At.IsZero()
}

// After returns a predicate that keeps rows strictly after k, for queries
// ordered by column ASC, idColumn ASC.
func (k Keyset) After(column, idColumn string) (string, []any) {
	if k.IsZero() {
		return "1 = 1", nil
	}
	return "(" + column + " > ? OR (" + column + " = ? AND " + idColumn + " > ?))",
		[]any{k.At, k.At, k.ID}
}

// Next returns the keyset after the last item and whether another page may
// follow. A short page ends the walk.
func Next[T any](items []T, limit int, key func(T) Keyset) (Keyset, bool) {
	if len(items) == 0 {
		return Keyset{}, false
	}
	return key(items[len(items)-1]), limit > 0 && len(items) >= limit
}

// Walk fetches pages until one comes back short and hands every item to visit.
// It stops early when ctx is done.
func Walk[T any](ctx context.Context, limit int, key func(T) Keyset, fetch func(context.Context, Keyset, int) ([]T, error), visit func(T)) error {
	var after Keyset
	for {
		items, err := fetch(ctx, after, limit)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			visit(item)
		}
		next, more := Next(items, limit, key)
		if !more {
			return nil
		}
		after = next
	}
}
