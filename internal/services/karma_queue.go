package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"newsrank/internal/metrics"

	"github.com/jonboulle/clockwork"
)

// KarmaAdjustment 一次待执行的积分变动
type KarmaAdjustment struct {
	UserID uint
	Delta  int
	Reason string
}

// KarmaQueue 异步执行积分变动，不阻塞投票主流程。
// 队列满时丢弃并计数；失败只记录日志。
type KarmaQueue struct {
	ledger    *KarmaLedger
	queue     chan KarmaAdjustment
	batchSize int
	interval  time.Duration
	clock     clockwork.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewKarmaQueue(ledger *KarmaLedger, clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *KarmaQueue {
	return &KarmaQueue{
		ledger:    ledger,
		queue:     make(chan KarmaAdjustment, 1000), // 缓冲队列，防止阻塞
		batchSize: 50,
		interval:  500 * time.Millisecond,
		clock:     clock,
		log:       logger,
		metrics:   m,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动后台 worker
func (q *KarmaQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	go q.worker()
}

// Enqueue 非阻塞入队，队列满返回 false
func (q *KarmaQueue) Enqueue(a KarmaAdjustment) bool {
	if a.Delta == 0 {
		return true
	}
	select {
	case q.queue <- a:
		return true
	default:
		q.metrics.KarmaQueueDropped.Inc()
		q.log.Warn("Karma queue is full, dropping adjustment", "user_id", a.UserID, "delta", a.Delta, "reason", a.Reason)
		return false
	}
}

// Stop 处理完队列中剩余的变动后返回；未启动时在当前 goroutine 里处理
func (q *KarmaQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	if started {
		close(q.stop)
		<-q.done
		return
	}
	q.drain(nil)
}

func (q *KarmaQueue) worker() {
	defer close(q.done)

	// 批量处理：收集一批请求后统一处理
	batch := make([]KarmaAdjustment, 0, q.batchSize)
	ticker := q.clock.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case a := <-q.queue:
			batch = append(batch, a)
			// 如果达到批量大小，立即处理
			if len(batch) >= q.batchSize {
				q.processBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.Chan():
			// 定时处理剩余的
			if len(batch) > 0 {
				q.processBatch(batch)
				batch = batch[:0]
			}
		case <-q.stop:
			q.drain(batch)
			return
		}
	}
}

// drain 把 batch 和队列里剩下的全部处理掉
func (q *KarmaQueue) drain(batch []KarmaAdjustment) {
	for {
		select {
		case a := <-q.queue:
			batch = append(batch, a)
		default:
			if len(batch) > 0 {
				q.processBatch(batch)
			}
			return
		}
	}
}

func (q *KarmaQueue) processBatch(batch []KarmaAdjustment) {
	ctx := context.Background()
	for _, a := range batch {
		if _, err := q.ledger.Adjust(ctx, a.UserID, a.Delta, a.Reason); err != nil {
			q.metrics.KarmaAdjustmentsTotal.WithLabelValues("error").Inc()
			q.log.Error("Failed to apply karma adjustment", "user_id", a.UserID, "delta", a.Delta, "reason", a.Reason, "error", err)
			continue
		}
		q.metrics.KarmaAdjustmentsTotal.WithLabelValues("ok").Inc()
	}
}
