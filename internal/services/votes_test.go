package services

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/ratelimit"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVote_WeightedScore(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	alice := f.user("alice", 100)
	bob := f.user("bob", 30)

	item := f.submit(author, "hello")
	f.clock.Advance(time.Hour)

	out, err := f.vote(alice, TargetItem, item.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, VoteInserted, out.Result)
	assert.Equal(t, 2, out.Weight)
	assert.InDelta(t, 2/math.Pow(3, 1.8), out.Score, 1e-9)

	out, err = f.vote(bob, TargetItem, item.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Weight)
	assert.Equal(t, 1, out.UpVotes)
	assert.Equal(t, 1, out.DownVotes)
	assert.InDelta(t, 1/math.Pow(3, 1.8), out.Score, 1e-9)

	stored := f.item(item.ID)
	assert.Equal(t, 1, stored.VoteWeight)
	assert.InDelta(t, out.Score, stored.Score, 1e-9)

	tally, err := f.engine.Tally(f.ctx, TargetItem, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Tally{Up: 1, Down: 1, Weight: 1}, tally)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.VotesTotal.WithLabelValues("item", "inserted")))
}

func TestVote_SelfVoteRejected(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 5000)
	item := f.submit(author, "mine")

	for _, dir := range []int{1, -1} {
		_, err := f.vote(author, TargetItem, item.ID, dir)
		require.ErrorIs(t, err, apperrors.AlreadyAuthor())
	}
	stored := f.item(item.ID)
	assert.Zero(t, stored.UpVotes)
	assert.Zero(t, stored.DownVotes)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.VotesTotal.WithLabelValues("item", "already_author")))
}

func TestVote_ConvergesToLastDirection(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 50)
	item := f.submit(author, "flip")

	results := []VoteResult{}
	for _, dir := range []int{1, 1, -1, -1, 1} {
		out, err := f.vote(voter, TargetItem, item.ID, dir)
		require.NoError(t, err)
		results = append(results, out.Result)
	}
	assert.Equal(t, []VoteResult{VoteInserted, VoteUnchanged, VoteSwitched, VoteUnchanged, VoteSwitched}, results)

	var votes []models.Vote
	require.NoError(t, f.db.Where("item_id = ?", item.ID).Find(&votes).Error)
	require.Len(t, votes, 1)
	assert.Equal(t, 1, votes[0].Direction)

	stored := f.item(item.ID)
	assert.Equal(t, 1, stored.UpVotes)
	assert.Equal(t, 0, stored.DownVotes)
	assert.Equal(t, 1, stored.VoteWeight)
}

func TestVote_KarmaRequirements(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	item := f.submit(author, "karma")

	low := f.user("low", 5)
	_, err := f.vote(low, TargetItem, item.ID, -1)
	require.ErrorIs(t, err, apperrors.InsufficientKarma(""))

	out, err := f.vote(low, TargetItem, item.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Weight)

	broke := f.user("broke", 0)
	_, err = f.vote(broke, TargetItem, item.ID, 1)
	require.ErrorIs(t, err, apperrors.InsufficientKarma(""))
}

func TestVote_CheckOrder(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	item := f.submit(author, "order")
	author.Karma = 0

	// 作者检查先于积分检查
	_, err := f.vote(author, TargetItem, item.ID, -1)
	require.ErrorIs(t, err, apperrors.AlreadyAuthor())

	_, err = f.vote(author, TargetItem, 9999, 1)
	require.ErrorIs(t, err, apperrors.ItemNotFound())

	_, err = f.vote(author, TargetComment, 9999, 1)
	require.ErrorIs(t, err, apperrors.CommentNotFound())

	_, err = f.vote(author, TargetItem, item.ID, 0)
	require.ErrorIs(t, err, apperrors.Invalid(""))
}

func TestVote_DeletedItem(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 10)
	item := f.submit(author, "gone")

	_, err := f.vote(voter, TargetItem, item.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteItem(f.ctx, author, item.ID))

	_, err = f.vote(voter, TargetItem, item.ID, -1)
	require.ErrorIs(t, err, apperrors.ItemNotFound())

	var n int64
	require.NoError(t, f.db.Model(&models.Vote{}).Where("item_id = ?", item.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestVote_RateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.VoteLimiter = ratelimit.NewSlidingWindow(2, time.Minute, o.Clock)
	})
	author := f.user("author", 10)
	voter := f.user("voter", 10)

	var items []*models.Item
	for i := range 3 {
		items = append(items, f.submit(author, fmt.Sprintf("item%d", i)))
	}

	// 被拒绝的投票不占用额度
	_, err := f.vote(voter, TargetItem, 9999, 1)
	require.ErrorIs(t, err, apperrors.ItemNotFound())

	for _, item := range items[:2] {
		_, err := f.vote(voter, TargetItem, item.ID, 1)
		require.NoError(t, err)
	}
	_, err = f.vote(voter, TargetItem, items[2].ID, 1)
	require.ErrorIs(t, err, apperrors.RateLimited(""))
	assert.Zero(t, f.item(items[2].ID).UpVotes)

	f.clock.Advance(time.Minute + time.Second)
	_, err = f.vote(voter, TargetItem, items[2].ID, 1)
	require.NoError(t, err)
}

func TestVote_ConcurrentVotersCountOnce(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	item := f.submit(author, "popular")

	voters := make([]Actor, 20)
	for i := range voters {
		voters[i] = f.user(fmt.Sprintf("voter%d", i), 10)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(voters)*2)
	for _, v := range voters {
		wg.Add(2)
		for range 2 {
			go func() {
				defer wg.Done()
				_, err := f.vote(v, TargetItem, item.ID, 1)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored := f.item(item.ID)
	assert.Equal(t, 20, stored.UpVotes)
	assert.Equal(t, 20, stored.VoteWeight)

	tally, err := f.engine.Tally(f.ctx, TargetItem, item.ID)
	require.NoError(t, err)
	assert.Equal(t, Tally{Up: 20, Weight: 20}, tally)
}

func TestVote_Comment(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	commenter := f.user("commenter", 10)
	voter := f.user("voter", 40)
	item := f.submit(author, "thread")

	c, err := f.engine.Comment(f.ctx, CommentRequest{Actor: commenter, ItemID: item.ID, Text: "first"})
	require.NoError(t, err)

	out, err := f.vote(voter, TargetComment, c.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, out.Score)

	_, err = f.vote(commenter, TargetComment, c.ID, 1)
	require.ErrorIs(t, err, apperrors.AlreadyAuthor())

	var stored models.Comment
	require.NoError(t, f.db.First(&stored, c.ID).Error)
	assert.Equal(t, 1, stored.DownVotes)
	assert.Equal(t, -1.0, stored.Score)

	// 评论投票不影响新闻排行
	assert.Zero(t, f.item(item.ID).Score)
}

func TestVote_KarmaEffectsOnFirstVoteOnly(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 50)
	item := f.submit(author, "effects")

	for _, dir := range []int{1, -1, 1} {
		_, err := f.vote(voter, TargetItem, item.ID, dir)
		require.NoError(t, err)
	}
	f.engine.Close()

	assert.Equal(t, 11, f.karmaOf(author.ID))
	assert.Equal(t, 50, f.karmaOf(voter.ID))

	var logs []models.KarmaLog
	require.NoError(t, f.db.Where("user_id = ?", author.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, KarmaReasonUpvoteReceived, logs[0].Reason)
}

func TestVote_DownvoteCostsVoter(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 30)
	item := f.submit(author, "cost")

	_, err := f.vote(voter, TargetItem, item.ID, -1)
	require.NoError(t, err)
	f.engine.Close()

	assert.Equal(t, 29, f.karmaOf(voter.ID))
	assert.Equal(t, 10, f.karmaOf(author.ID))
}

func TestVote_UpdatesRankIndex(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 10)
	older := f.submit(author, "older")
	f.clock.Advance(time.Minute)
	newer := f.submit(author, "newer")

	page, err := f.engine.List(f.ctx, ListRequest{View: rankindex.ViewTop})
	require.NoError(t, err)
	assert.Equal(t, []uint{newer.ID, older.ID}, page.IDs)

	_, err = f.vote(voter, TargetItem, older.ID, 1)
	require.NoError(t, err)

	page, err = f.engine.List(f.ctx, ListRequest{View: rankindex.ViewTop})
	require.NoError(t, err)
	assert.Equal(t, []uint{older.ID, newer.ID}, page.IDs)

	// 最新视图不受投票影响
	page, err = f.engine.List(f.ctx, ListRequest{View: rankindex.ViewLatest})
	require.NoError(t, err)
	assert.Equal(t, []uint{newer.ID, older.ID}, page.IDs)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	author := f.user("author", 10)
	voter := f.user("voter", 10)
	item := f.submit(author, "drift")
	ok := f.submit(author, "fine")

	_, err := f.vote(voter, TargetItem, item.ID, 1)
	require.NoError(t, err)
	_, err = f.vote(voter, TargetItem, ok.ID, 1)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Item{}).Where("id = ?", item.ID).
		UpdateColumns(map[string]any{"up_votes": 7, "vote_weight": 7}).Error)

	report, err := f.engine.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Items)
	assert.Equal(t, []uint{item.ID}, report.Repaired)
	assert.Empty(t, report.Fixed)

	stored := f.item(item.ID)
	assert.Equal(t, 1, stored.UpVotes)
	assert.Equal(t, 1, stored.VoteWeight)

	report, err = f.engine.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
}
