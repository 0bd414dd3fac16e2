package rankindex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// cursor 记录上一页最后一条的排序键
type cursor struct {
	View    View    `json:"v"`
	Score   float64 `json:"s"`
	Created int64   `json:"c"` // unix micro
	ID      uint    `json:"i"`
}

func newCursor(view View, e Entry) cursor {
	return cursor{View: view, Score: e.Score, Created: e.CreatedAt.UnixMicro(), ID: e.ID}
}

func (c cursor) entry() Entry {
	return Entry{ID: c.ID, Score: c.Score, CreatedAt: time.UnixMicro(c.Created).UTC()}
}

func (c cursor) encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(view View, s string) (cursor, error) {
	var c cursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.View != view {
		return c, fmt.Errorf("%w: cursor belongs to view %q", ErrInvalidCursor, c.View)
	}
	if c.ID == 0 {
		return c, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	return c, nil
}
