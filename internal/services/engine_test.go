package services

import (
	"fmt"
	"testing"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/rankindex"
	"newsrank/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallPages(o *Options) {
	o.Limits = DefaultLimits
	o.Limits.TopPageSize = 2
	o.Limits.MaxPageSize = 3
}

func TestList_PageSize(t *testing.T) {
	f := newFixture(t, smallPages)
	alice := f.user("alice", 10)
	for i := range 5 {
		f.submit(alice, fmt.Sprintf("item%d", i))
		f.clock.Advance(time.Second)
	}

	page, err := f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest})
	require.NoError(t, err)
	assert.Len(t, page.IDs, 2)
	assert.NotEmpty(t, page.NextCursor)

	page, err = f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest, Size: 50})
	require.NoError(t, err)
	assert.Len(t, page.IDs, 3)

	_, err = f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest, Size: -1})
	require.ErrorIs(t, err, apperrors.Invalid(""))
}

func TestList_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.List(f.ctx, ListRequest{View: "best"})
	require.ErrorIs(t, err, apperrors.Invalid(""))

	_, err = f.engine.List(f.ctx, ListRequest{View: rankindex.ViewTop, Cursor: "not-a-cursor"})
	require.ErrorIs(t, err, apperrors.Invalid(""))
}

func TestList_EmptyIndex(t *testing.T) {
	f := newFixture(t)
	page, err := f.engine.List(f.ctx, ListRequest{View: rankindex.ViewTop})
	require.NoError(t, err)
	assert.Empty(t, page.IDs)
	assert.Empty(t, page.NextCursor)
}

func TestList_PagesStayDisjointUnderNewSubmissions(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice", 10)

	var want []uint
	for i := range 5 {
		item := f.submit(alice, fmt.Sprintf("item%d", i))
		want = append([]uint{item.ID}, want...)
		f.clock.Advance(time.Minute)
	}

	first, err := f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, want[:2], first.IDs)

	f.submit(alice, "breaking")

	var seen []uint
	seen = append(seen, first.IDs...)
	cursor := first.NextCursor
	for cursor != "" {
		page, err := f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest, Cursor: cursor, Size: 2})
		require.NoError(t, err)
		seen = append(seen, page.IDs...)
		cursor = page.NextCursor
	}
	assert.Equal(t, want, seen)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	policy := utils.DefaultKarmaPolicy
	policy.DownvoteMin = 0
	_, err := New(nil, Options{Karma: policy})
	require.Error(t, err)
}
