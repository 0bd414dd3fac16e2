package services

import (
	"context"
	"testing"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/logging"
	"newsrank/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	f := newFixture(t)

	u, err := f.engine.CreateUser(f.ctx, "  alice ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 1, u.Karma)
	assert.NotEqual(t, "s3cret-pass", u.Password)
	assert.True(t, u.CreatedAt.Equal(epoch))

	_, err = f.engine.CreateUser(f.ctx, "alice", "another-pass")
	require.ErrorIs(t, err, apperrors.Invalid(""))

	_, err = f.engine.CreateUser(f.ctx, "", "s3cret-pass")
	require.ErrorIs(t, err, apperrors.Invalid(""))

	_, err = f.engine.CreateUser(f.ctx, "bob", "short")
	require.ErrorIs(t, err, apperrors.Invalid(""))

	got, err := f.engine.Authenticate(f.ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.engine.Authenticate(f.ctx, "alice", "wrong-pass")
	require.ErrorIs(t, err, apperrors.BadCredentials())
	_, err = f.engine.Authenticate(f.ctx, "nobody", "s3cret-pass")
	require.ErrorIs(t, err, apperrors.BadCredentials())

	actor, err := f.engine.Actor(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: u.ID, Karma: 1}, actor)

	_, err = f.engine.Actor(f.ctx, 9999)
	require.ErrorIs(t, err, apperrors.UserNotFound())
}

func TestAdjustKarma_ClampsAtFloor(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice", 5)

	balance, err := f.engine.AdjustKarma(f.ctx, alice.ID, -100, "")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	f.clock.Advance(3 * time.Hour)
	balance, err = f.engine.AdjustKarma(f.ctx, alice.ID, 20, "welcome bonus")
	require.NoError(t, err)
	assert.Equal(t, 21, balance)
	assert.Equal(t, 21, f.karmaOf(alice.ID))

	var logs []models.KarmaLog
	require.NoError(t, f.db.Where("user_id = ?", alice.ID).Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, -4, logs[0].Amount)
	assert.Equal(t, KarmaReasonModeration, logs[0].Reason)
	assert.Equal(t, 20, logs[1].Amount)
	// 明细时间来自注入的时钟
	assert.WithinDuration(t, epoch, logs[0].CreatedAt, time.Second)
	assert.WithinDuration(t, epoch.Add(3*time.Hour), logs[1].CreatedAt, time.Second)

	_, err = f.engine.AdjustKarma(f.ctx, 9999, 1, "")
	require.ErrorIs(t, err, apperrors.UserNotFound())
}

func TestKarmaQueue_WorkerFlushesOnTick(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice", 10)

	q := f.engine.karma
	q.Start()
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	require.True(t, q.Enqueue(KarmaAdjustment{UserID: alice.ID, Delta: 3, Reason: KarmaReasonUpvoteReceived}))
	assert.Eventually(t, func() bool {
		f.clock.Advance(500 * time.Millisecond)
		k, err := f.engine.Karma(f.ctx, alice.ID)
		return err == nil && k == 13
	}, 5*time.Second, 10*time.Millisecond)

	q.Stop()
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.KarmaAdjustmentsTotal.WithLabelValues("ok")))
}

func TestKarmaQueue_StopDrainsPending(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice", 10)

	q := f.engine.karma
	q.Start()
	for range 5 {
		q.Enqueue(KarmaAdjustment{UserID: alice.ID, Delta: 1, Reason: KarmaReasonCredibility})
	}
	q.Enqueue(KarmaAdjustment{UserID: 9999, Delta: 1, Reason: KarmaReasonCredibility})
	q.Stop()

	assert.Equal(t, 15, f.karmaOf(alice.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.KarmaAdjustmentsTotal.WithLabelValues("error")))

	// 停止后不再启动
	q.Start()
	q.Stop()
}

func TestKarmaQueue_DropsWhenFull(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice", 10)

	q := NewKarmaQueue(f.engine.ledger, f.clock, logging.Discard(), f.metrics)
	q.queue = make(chan KarmaAdjustment, 1)

	assert.True(t, q.Enqueue(KarmaAdjustment{UserID: alice.ID, Delta: 1}))
	assert.False(t, q.Enqueue(KarmaAdjustment{UserID: alice.ID, Delta: 1}))
	assert.True(t, q.Enqueue(KarmaAdjustment{UserID: alice.ID, Delta: 0}))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.KarmaQueueDropped))

	q.Stop()
	assert.Equal(t, 11, f.karmaOf(alice.ID))
}
