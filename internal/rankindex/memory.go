package rankindex

import (
	"context"
	"sync"

	"newsrank/internal/utils"

	"github.com/google/btree"
)

const btreeDegree = 32

func topLess(a, b Entry) bool {
	return utils.RankedBefore(a.Score, a.CreatedAt, a.ID, b.Score, b.CreatedAt, b.ID)
}

func latestLess(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// MemoryIndex keeps both views in B-trees guarded by one RWMutex.
type MemoryIndex struct {
	mu     sync.RWMutex
	top    *btree.BTreeG[Entry]
	latest *btree.BTreeG[Entry]
	byID   map[uint]Entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		top:    btree.NewG(btreeDegree, topLess),
		latest: btree.NewG(btreeDegree, latestLess),
		byID:   make(map[uint]Entry),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e = e.normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byID[e.ID]; ok {
		m.top.Delete(old)
		m.latest.Delete(old)
	}
	m.top.ReplaceOrInsert(e)
	m.latest.ReplaceOrInsert(e)
	m.byID[e.ID] = e
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byID[id]
	if !ok {
		return nil
	}
	m.top.Delete(old)
	m.latest.Delete(old)
	delete(m.byID, id)
	return nil
}

func (m *MemoryIndex) Page(ctx context.Context, view View, cur string, limit int) ([]uint, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	var (
		tree *btree.BTreeG[Entry]
		less func(a, b Entry) bool
	)
	switch view {
	case ViewTop:
		tree, less = m.top, topLess
	case ViewLatest:
		tree, less = m.latest, latestLess
	default:
		return nil, "", ErrInvalidView
	}
	if limit <= 0 {
		return []uint{}, "", nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	page := make([]Entry, 0, limit+1)
	collect := func(e Entry) bool {
		page = append(page, e)
		return len(page) <= limit
	}
	if cur == "" {
		tree.Ascend(collect)
	} else {
		c, err := decodeCursor(view, cur)
		if err != nil {
			return nil, "", err
		}
		pivot := c.entry()
		tree.AscendGreaterOrEqual(pivot, func(e Entry) bool {
			// 跳过游标本身
			if !less(pivot, e) {
				return true
			}
			return collect(e)
		})
	}

	return finishPage(view, page, limit)
}

// finishPage 多取的一条只用来判断是否还有下一页
func finishPage(view View, page []Entry, limit int) ([]uint, string, error) {
	next := ""
	if len(page) > limit {
		page = page[:limit]
		next = newCursor(view, page[len(page)-1]).encode()
	}
	ids := make([]uint, len(page))
	for i, e := range page {
		ids[i] = e.ID
	}
	return ids, next, nil
}

func (m *MemoryIndex) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.top.Clear(false)
	m.latest.Clear(false)
	m.byID = make(map[uint]Entry)
	return nil
}
