package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"newsrank/internal/apperrors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// RetryConfig bounds how often a conflicting transaction is retried.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	Delay:      10 * time.Millisecond,
	MaxDelay:   200 * time.Millisecond,
}

// isConflict 判断是否为可重试的并发冲突
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

type retrier struct {
	policy retrypolicy.RetryPolicy[any]
}

func newRetrier(cfg RetryConfig, logger *slog.Logger) *retrier {
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return isConflict(err) }).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.Delay, cfg.MaxDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			logger.Debug("Retrying conflicting transaction", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()
	return &retrier{policy: policy}
}

// run 执行 fn，冲突时按策略重试；重试耗尽后返回 transient 错误
func (r *retrier) run(ctx context.Context, fn func() error) error {
	err := failsafe.With(r.policy).WithContext(ctx).Run(fn)
	if isConflict(err) {
		return apperrors.Transient(err)
	}
	return err
}
