// Package orderqueue executes orders one at a time in priority order.
// Serialization is deliberate: the contract capability signs with a single
// wallet, so concurrent submissions would collide on the nonce.
package orderqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// OrderPlacer submits and cancels venue orders. The engine adapts the
// order-book client onto this.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Config controls retry and bookkeeping behavior.
type Config struct {
	DefaultMaxRetries int
	TaskTimeout       time.Duration
	CompletedCapacity int
}

// Stats is a snapshot of the queue's accounting.
type Stats struct {
	Pending     int                `json:"pending"`
	Executing   int                `json:"executing"`
	Completed   int64              `json:"completed"`
	Failed      int64              `json:"failed"`
	Cancelled   int64              `json:"cancelled"`
	TotalVolume float64            `json:"total_volume"`
	TotalFees   float64            `json:"total_fees"`
	ByStrategy  map[string]float64 `json:"by_strategy"`
	ByType      map[string]float64 `json:"by_type"`
}

// Queue is the single-consumer serialized order executor.
type Queue struct {
	cfg      Config
	placer   OrderPlacer
	contract domain.ContractClient
	logger   *slog.Logger

	mu        sync.Mutex
	heap      orderHeap
	seq       int64
	executing bool
	stopped   bool
	wake      chan struct{}

	completed   []domain.Order
	nCompleted  int64
	nFailed     int64
	nCancelled  int64
	totalVolume float64
	totalFees   float64
	byStrategy  map[string]float64
	byType      map[string]float64

	idleCond *sync.Cond // signalled under mu when the queue drains
}

// New builds a Queue. Run must be started before submissions complete.
func New(cfg Config, placer OrderPlacer, contract domain.ContractClient, logger *slog.Logger) *Queue {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.CompletedCapacity <= 0 {
		cfg.CompletedCapacity = 1000
	}
	q := &Queue{
		cfg:        cfg,
		placer:     placer,
		contract:   contract,
		logger:     logger.With(slog.String("component", "order_queue")),
		wake:       make(chan struct{}, 1),
		byStrategy: make(map[string]float64),
		byType:     make(map[string]float64),
	}
	q.idleCond = sync.NewCond(&q.mu)
	return q
}

// SubmitOrder enqueues an order and returns a channel that receives the
// final result exactly once.
func (q *Queue) SubmitOrder(order domain.Order) <-chan domain.OrderResult {
	ch := make(chan domain.OrderResult, 1)

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.Status = domain.OrderStatusPending
	order.RetryCount = 0
	if order.MaxRetries <= 0 {
		order.MaxRetries = q.cfg.DefaultMaxRetries
	}
	order.CreatedAt = time.Now().UTC()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		ch <- domain.OrderResult{OrderID: order.ID, Status: domain.OrderStatusCancelled, Err: domain.ErrCancelled.Error()}
		return ch
	}
	q.seq++
	heap.Push(&q.heap, &queued{order: order, seq: q.seq, result: ch})
	q.mu.Unlock()

	q.signal()
	return ch
}

// SubmitBatch submits a group of orders under one batch id. Sequential
// batches run strictly in order, stopping at the first failure when the
// batch is atomic; parallel batches are all enqueued up front and awaited
// together.
func (q *Queue) SubmitBatch(ctx context.Context, batch domain.BatchOrder) []domain.OrderResult {
	results := make([]domain.OrderResult, 0, len(batch.Orders))

	if batch.Sequential {
		for _, order := range batch.Orders {
			order.Priority = batch.Priority
			res := q.await(ctx, q.SubmitOrder(order))
			results = append(results, res)
			if batch.Atomic && !res.Success {
				break
			}
		}
		return results
	}

	chans := make([]<-chan domain.OrderResult, 0, len(batch.Orders))
	for _, order := range batch.Orders {
		order.Priority = batch.Priority
		chans = append(chans, q.SubmitOrder(order))
	}
	for _, ch := range chans {
		results = append(results, q.await(ctx, ch))
	}
	return results
}

func (q *Queue) await(ctx context.Context, ch <-chan domain.OrderResult) domain.OrderResult {
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return domain.OrderResult{Status: domain.OrderStatusCancelled, Err: ctx.Err().Error()}
	}
}

// Cancel removes a pending order. Orders already executing cannot be
// cancelled.
func (q *Queue) Cancel(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.heap {
		if item.order.ID == orderID {
			heap.Remove(&q.heap, i)
			q.nCancelled++
			if q.heap.Len() == 0 && !q.executing {
				q.idleCond.Broadcast()
			}
			item.order.Status = domain.OrderStatusCancelled
			item.result <- domain.OrderResult{OrderID: orderID, Status: domain.OrderStatusCancelled}
			return true
		}
	}
	return false
}

// Run is the consumer loop. It executes one order at a time until ctx is
// cancelled, then drains pending orders as cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("order queue started")
	defer q.logger.Info("order queue stopped")

	for {
		select {
		case <-ctx.Done():
			q.drainCancelled()
			return ctx.Err()
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.heap.Len() == 0 {
				q.mu.Unlock()
				break
			}
			item := heap.Pop(&q.heap).(*queued)
			q.executing = true
			q.mu.Unlock()

			q.execute(ctx, item)

			q.mu.Lock()
			q.executing = false
			if q.heap.Len() == 0 {
				q.idleCond.Broadcast()
			}
			q.mu.Unlock()
			if ctx.Err() != nil {
				q.drainCancelled()
				return ctx.Err()
			}
		}
	}
}

// execute runs a single order to completion, retrying in place on failure
// up to the order's retry budget.
func (q *Queue) execute(ctx context.Context, item *queued) {
	order := item.order
	now := time.Now().UTC()
	order.Status = domain.OrderStatusExecuting
	order.StartedAt = &now

	var result domain.OrderResult
	for {
		execCtx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
		result = q.dispatch(execCtx, order)
		cancel()

		if result.Success || order.RetryCount >= order.MaxRetries || ctx.Err() != nil {
			break
		}
		order.RetryCount++
		q.logger.Warn("order retry",
			slog.String("order_id", order.ID),
			slog.String("type", string(order.Type)),
			slog.Int("attempt", order.RetryCount),
			slog.String("error", result.Err),
		)
	}

	done := time.Now().UTC()
	order.CompletedAt = &done
	order.TxHash = result.TxHash
	order.FilledSize = result.FilledSize
	order.FilledPrice = result.FilledPrice
	order.Err = result.Err
	if result.Success {
		order.Status = domain.OrderStatusSuccess
	} else {
		order.Status = domain.OrderStatusFailed
	}
	result.OrderID = order.ID
	result.Status = order.Status

	q.record(order, result)
	item.result <- result
}

// dispatch routes an order to the contract capability or the venue by
// type.
func (q *Queue) dispatch(ctx context.Context, order domain.Order) domain.OrderResult {
	switch order.Type {
	case domain.OrderTypeMint:
		return q.contractCall(ctx, order, q.contract.MintTokens)
	case domain.OrderTypeMerge:
		return q.contractCall(ctx, order, q.contract.MergeTokens)
	case domain.OrderTypeBuy, domain.OrderTypeSell:
		res, err := q.placer.PlaceOrder(ctx, order)
		if err != nil {
			return domain.OrderResult{Success: false, Err: err.Error()}
		}
		if res.FilledSize == 0 {
			res.FilledSize = order.Size
		}
		if res.FilledPrice == 0 {
			res.FilledPrice = order.Price
		}
		return res
	case domain.OrderTypeCancel:
		if err := q.placer.CancelOrder(ctx, order.TokenID); err != nil {
			return domain.OrderResult{Success: false, Err: err.Error()}
		}
		return domain.OrderResult{Success: true}
	default:
		return domain.OrderResult{Success: false, Err: fmt.Sprintf("unsupported order type %q", order.Type)}
	}
}

func (q *Queue) contractCall(
	ctx context.Context,
	order domain.Order,
	call func(context.Context, string, float64, int) (domain.ContractResult, error),
) domain.OrderResult {
	outcomeCount := 2
	if n, err := parseOutcomeCount(order.Metadata); err == nil {
		outcomeCount = n
	}
	res, err := call(ctx, order.ConditionID, order.Size, outcomeCount)
	if err != nil {
		return domain.OrderResult{Success: false, Err: err.Error()}
	}
	return domain.OrderResult{Success: res.Success, TxHash: res.TxHash, FilledSize: order.Size, Err: res.Err}
}

func parseOutcomeCount(metadata map[string]string) (int, error) {
	if metadata == nil {
		return 0, errors.New("no metadata")
	}
	var n int
	if _, err := fmt.Sscanf(metadata["outcome_count"], "%d", &n); err != nil || n < 2 {
		return 0, errors.New("no outcome count")
	}
	return n, nil
}

// record updates counters and the capped completed registry.
func (q *Queue) record(order domain.Order, result domain.OrderResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if result.Success {
		q.nCompleted++
		q.totalVolume += result.FilledSize
		q.totalFees += result.Fee
		q.byStrategy[order.Strategy] += result.FilledSize
		q.byType[string(order.Type)] += result.FilledSize
	} else {
		q.nFailed++
	}

	q.completed = append(q.completed, order)
	if overflow := len(q.completed) - q.cfg.CompletedCapacity; overflow > 0 {
		q.completed = append([]domain.Order(nil), q.completed[overflow:]...)
	}
}

// drainCancelled flushes every pending order with a cancelled result.
func (q *Queue) drainCancelled() {
	q.mu.Lock()
	q.stopped = true
	items := make([]*queued, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		items = append(items, heap.Pop(&q.heap).(*queued))
	}
	q.nCancelled += int64(len(items))
	q.idleCond.Broadcast()
	q.mu.Unlock()

	for _, item := range items {
		item.order.Status = domain.OrderStatusCancelled
		item.result <- domain.OrderResult{OrderID: item.order.ID, Status: domain.OrderStatusCancelled, Err: domain.ErrCancelled.Error()}
	}
}

// WaitUntilIdle blocks until no order is pending or executing.
func (q *Queue) WaitUntilIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 || q.executing {
		q.idleCond.Wait()
	}
}

// Idle reports whether the queue has no pending or executing orders.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len() == 0 && !q.executing
}

// Stats returns a snapshot of the queue's accounting.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byStrategy := make(map[string]float64, len(q.byStrategy))
	for k, v := range q.byStrategy {
		byStrategy[k] = v
	}
	byType := make(map[string]float64, len(q.byType))
	for k, v := range q.byType {
		byType[k] = v
	}

	executing := 0
	if q.executing {
		executing = 1
	}
	return Stats{
		Pending:     q.heap.Len(),
		Executing:   executing,
		Completed:   q.nCompleted,
		Failed:      q.nFailed,
		Cancelled:   q.nCancelled,
		TotalVolume: q.totalVolume,
		TotalFees:   q.totalFees,
		ByStrategy:  byStrategy,
		ByType:      byType,
	}
}

// CompletedOrders returns a copy of the most recent completed orders,
// newest last.
func (q *Queue) CompletedOrders() []domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Order(nil), q.completed...)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// queued pairs an order with its submission sequence and result channel.
type queued struct {
	order  domain.Order
	seq    int64
	result chan domain.OrderResult
}

// orderHeap orders by priority score descending, then submission order.
type orderHeap []*queued

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	si, sj := h[i].order.Priority.Score(), h[j].order.Priority.Score()
	if si != sj {
		return si > sj
	}
	return h[i].seq < h[j].seq
}

func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
