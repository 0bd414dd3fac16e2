// Package rankindex keeps the two ordered views ("top" by score, "latest"
// by creation time) over live items and serves keyset-paginated reads.
//
// An upsert or remove touches both views atomically from a reader's point
// of view. Pages are addressed by an opaque cursor holding the sort key of
// the last returned item, so items inserted at the head never push
// already-returned items into the next page. In the top view a score change
// between two reads can move an item across the cursor; such an item may be
// skipped or seen twice.
package rankindex

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type View string

const (
	ViewTop    View = "top"
	ViewLatest View = "latest"
)

var (
	ErrInvalidView   = errors.New("invalid view")
	ErrInvalidCursor = errors.New("invalid cursor")
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewTop, ViewLatest:
		return View(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
}

// Entry is one live item as seen by the index.
type Entry struct {
	ID        uint
	Score     float64
	CreatedAt time.Time
}

// normalize 创建时间只保留到微秒，和游标、数据库精度一致
func (e Entry) normalize() Entry {
	e.CreatedAt = time.UnixMicro(e.CreatedAt.UnixMicro()).UTC()
	return e
}

// Index is implemented by the memory and Redis backends.
type Index interface {
	Upsert(ctx context.Context, e Entry) error
	Remove(ctx context.Context, id uint) error
	// Page returns up to limit ids after cursor ("" = first page) and the
	// cursor of the next page ("" when there is none).
	Page(ctx context.Context, view View, cursor string, limit int) ([]uint, string, error)
	Len(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}
