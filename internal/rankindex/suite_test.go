package rankindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func allPages(t *testing.T, idx Index, view View, size int) []uint {
	t.Helper()
	ctx := context.Background()
	var out []uint
	cur := ""
	for i := 0; i < 1000; i++ {
		ids, next, err := idx.Page(ctx, view, cur, size)
		require.NoError(t, err)
		out = append(out, ids...)
		if next == "" {
			return out
		}
		cur = next
	}
	t.Fatal("pagination did not terminate")
	return nil
}

// runIndexSuite 两种实现共用的行为测试
func runIndexSuite(t *testing.T, newIndex func(t *testing.T) Index) {
	ctx := context.Background()

	t.Run("orders both views", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 1, Score: 0.5, CreatedAt: at(0)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 2, Score: 2.0, CreatedAt: at(1)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 3, Score: 0.5, CreatedAt: at(2)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 4, Score: -1, CreatedAt: at(3)}))

		top, next, err := idx.Page(ctx, ViewTop, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []uint{2, 3, 1, 4}, top)
		assert.Empty(t, next)

		latest, _, err := idx.Page(ctx, ViewLatest, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []uint{4, 3, 2, 1}, latest)

		n, err := idx.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("ties on score and time fall back to id", func(t *testing.T) {
		idx := newIndex(t)
		for id := uint(1); id <= 5; id++ {
			require.NoError(t, idx.Upsert(ctx, Entry{ID: id, Score: 0, CreatedAt: at(0)}))
		}
		assert.Equal(t, []uint{5, 4, 3, 2, 1}, allPages(t, idx, ViewTop, 2))
		assert.Equal(t, []uint{5, 4, 3, 2, 1}, allPages(t, idx, ViewLatest, 2))
	})

	t.Run("upsert moves an item in top only", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 1, Score: 1, CreatedAt: at(0)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 2, Score: 2, CreatedAt: at(1)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 1, Score: 3, CreatedAt: at(0)}))

		top, _, err := idx.Page(ctx, ViewTop, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []uint{1, 2}, top)
		latest, _, err := idx.Page(ctx, ViewLatest, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []uint{2, 1}, latest)
		n, err := idx.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("remove leaves both views", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 1, Score: 1, CreatedAt: at(0)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 2, Score: 2, CreatedAt: at(1)}))
		require.NoError(t, idx.Remove(ctx, 2))
		require.NoError(t, idx.Remove(ctx, 99))

		assert.Equal(t, []uint{1}, allPages(t, idx, ViewTop, 10))
		assert.Equal(t, []uint{1}, allPages(t, idx, ViewLatest, 10))
	})

	for _, view := range []View{ViewTop, ViewLatest} {
		t.Run("pages are disjoint under head inserts/"+string(view), func(t *testing.T) {
			idx := newIndex(t)
			for id := uint(1); id <= 10; id++ {
				require.NoError(t, idx.Upsert(ctx, Entry{ID: id, Score: float64(id), CreatedAt: at(int(id))}))
			}

			first, next, err := idx.Page(ctx, view, "", 4)
			require.NoError(t, err)
			require.NotEmpty(t, next)

			// new items arrive at the head of both views
			require.NoError(t, idx.Upsert(ctx, Entry{ID: 100, Score: 50, CreatedAt: at(60)}))
			require.NoError(t, idx.Upsert(ctx, Entry{ID: 101, Score: 60, CreatedAt: at(61)}))

			second, _, err := idx.Page(ctx, view, next, 4)
			require.NoError(t, err)
			assert.Equal(t, []uint{10, 9, 8, 7}, first)
			assert.Equal(t, []uint{6, 5, 4, 3}, second)
		})
	}

	t.Run("cursor after a removed item", func(t *testing.T) {
		idx := newIndex(t)
		for id := uint(1); id <= 6; id++ {
			require.NoError(t, idx.Upsert(ctx, Entry{ID: id, Score: float64(id), CreatedAt: at(int(id))}))
		}
		first, next, err := idx.Page(ctx, ViewTop, "", 3)
		require.NoError(t, err)
		assert.Equal(t, []uint{6, 5, 4}, first)
		require.NoError(t, idx.Remove(ctx, 4))

		second, next, err := idx.Page(ctx, ViewTop, next, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint{3, 2, 1}, second)
		assert.Empty(t, next)
	})

	t.Run("rejects foreign cursors", func(t *testing.T) {
		idx := newIndex(t)
		for id := uint(1); id <= 3; id++ {
			require.NoError(t, idx.Upsert(ctx, Entry{ID: id, Score: 1, CreatedAt: at(int(id))}))
		}
		_, next, err := idx.Page(ctx, ViewTop, "", 1)
		require.NoError(t, err)

		_, _, err = idx.Page(ctx, ViewLatest, next, 1)
		assert.ErrorIs(t, err, ErrInvalidCursor)
		_, _, err = idx.Page(ctx, ViewTop, "%%%", 1)
		assert.ErrorIs(t, err, ErrInvalidCursor)
		_, _, err = idx.Page(ctx, View("hot"), "", 1)
		assert.ErrorIs(t, err, ErrInvalidView)
	})

	t.Run("reset", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, Entry{ID: 1, Score: 1, CreatedAt: at(0)}))
		require.NoError(t, idx.Reset(ctx))
		n, err := idx.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		ids, next, err := idx.Page(ctx, ViewTop, "", 5)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Empty(t, next)
	})
}
