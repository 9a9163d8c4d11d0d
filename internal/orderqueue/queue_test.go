package orderqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// slowPlacer records placement order and can fail the first N attempts per
// token.
type slowPlacer struct {
	mu        sync.Mutex
	placed    []string
	cancelled []string
	failFirst map[string]int
	gate      chan struct{} // when set, placement blocks until the gate opens
}

func (p *slowPlacer) PlaceOrder(_ context.Context, order domain.Order) (domain.OrderResult, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, order.TokenID)
	if n := p.failFirst[order.TokenID]; n > 0 {
		p.failFirst[order.TokenID] = n - 1
		return domain.OrderResult{}, errors.New("venue busy")
	}
	return domain.OrderResult{Success: true, OrderID: "v-" + order.TokenID, FilledSize: order.Size, FilledPrice: order.Price}, nil
}

func (p *slowPlacer) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, orderID)
	return nil
}

func (p *slowPlacer) placements() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.placed...)
}

type nopContract struct{}

func (nopContract) MintTokens(context.Context, string, float64, int) (domain.ContractResult, error) {
	return domain.ContractResult{Success: true, TxHash: "0x1"}, nil
}

func (nopContract) MergeTokens(context.Context, string, float64, int) (domain.ContractResult, error) {
	return domain.ContractResult{Success: true, TxHash: "0x2"}, nil
}

func (nopContract) EnsureUsdcApproval(context.Context, float64) error       { return nil }
func (nopContract) GetUsdcBalance(context.Context) (float64, error)         { return 0, nil }
func (nopContract) GetTokenBalance(context.Context, string) (float64, error) { return 0, nil }
func (nopContract) CanSign() bool                                           { return true }

func buyOrder(token string, priority domain.Priority) domain.Order {
	return domain.Order{
		Type:     domain.OrderTypeBuy,
		Priority: priority,
		TokenID:  token,
		Side:     domain.OrderSideBuy,
		Price:    0.5,
		Size:     10,
	}
}

func startQueue(t *testing.T, placer OrderPlacer) (*Queue, context.CancelFunc) {
	t.Helper()
	q := New(Config{DefaultMaxRetries: 3, TaskTimeout: 5 * time.Second, CompletedCapacity: 10}, placer, nopContract{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	return q, cancel
}

func TestPriorityOrderAndFIFO(t *testing.T) {
	placer := &slowPlacer{gate: make(chan struct{})}
	q, cancel := startQueue(t, placer)
	defer cancel()

	// Hold the consumer on a first low-priority order while the rest
	// enqueue, so the heap decides the order of everything behind it.
	first := q.SubmitOrder(buyOrder("hold", domain.PriorityLow))

	time.Sleep(50 * time.Millisecond)
	chans := []<-chan domain.OrderResult{
		q.SubmitOrder(buyOrder("low", domain.PriorityLow)),
		q.SubmitOrder(buyOrder("normal", domain.PriorityNormal)),
		q.SubmitOrder(buyOrder("urgent-1", domain.PriorityUrgent)),
		q.SubmitOrder(buyOrder("high", domain.PriorityHigh)),
		q.SubmitOrder(buyOrder("urgent-2", domain.PriorityUrgent)),
	}
	close(placer.gate)

	<-first
	for _, ch := range chans {
		<-ch
	}

	require.Equal(t,
		[]string{"hold", "urgent-1", "urgent-2", "high", "normal", "low"},
		placer.placements(),
		"priority order with FIFO within equal priority",
	)
}

func TestRetryInPlace(t *testing.T) {
	placer := &slowPlacer{failFirst: map[string]int{"t1": 2}}
	q, cancel := startQueue(t, placer)
	defer cancel()

	res := <-q.SubmitOrder(buyOrder("t1", domain.PriorityNormal))
	require.True(t, res.Success, "succeeds on the third attempt")
	require.Len(t, placer.placements(), 3)
}

func TestRetryBudgetExhausted(t *testing.T) {
	placer := &slowPlacer{failFirst: map[string]int{"t1": 10}}
	q, cancel := startQueue(t, placer)
	defer cancel()

	res := <-q.SubmitOrder(buyOrder("t1", domain.PriorityNormal))
	require.False(t, res.Success)
	require.Equal(t, domain.OrderStatusFailed, res.Status)
	require.Len(t, placer.placements(), 4, "initial attempt plus three retries")

	stats := q.Stats()
	require.Equal(t, int64(1), stats.Failed)
	require.Zero(t, stats.Completed)
}

func TestBatchSequentialAtomicStopsOnFailure(t *testing.T) {
	placer := &slowPlacer{failFirst: map[string]int{"t2": 10}}
	q, cancel := startQueue(t, placer)
	defer cancel()

	results := q.SubmitBatch(context.Background(), domain.BatchOrder{
		BatchID:    "b1",
		Orders:     []domain.Order{buyOrder("t1", ""), buyOrder("t2", ""), buyOrder("t3", "")},
		Priority:   domain.PriorityNormal,
		Atomic:     true,
		Sequential: true,
	})

	require.Len(t, results, 2, "atomic batch stops at the first failure")
	require.True(t, results[0].Success)
	require.False(t, results[1].Success)
	require.NotContains(t, placer.placements(), "t3")
}

func TestVolumeAccounting(t *testing.T) {
	placer := &slowPlacer{}
	q, cancel := startQueue(t, placer)
	defer cancel()

	o := buyOrder("t1", domain.PriorityNormal)
	o.Strategy = domain.StrategyArbitrageLong
	<-q.SubmitOrder(o)

	stats := q.Stats()
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, 10.0, stats.TotalVolume)
	require.Equal(t, 10.0, stats.ByStrategy[domain.StrategyArbitrageLong])
	require.Equal(t, 10.0, stats.ByType[string(domain.OrderTypeBuy)])
}

func TestContractDispatch(t *testing.T) {
	placer := &slowPlacer{}
	q, cancel := startQueue(t, placer)
	defer cancel()

	res := <-q.SubmitOrder(domain.Order{
		Type:        domain.OrderTypeMint,
		Priority:    domain.PriorityUrgent,
		ConditionID: "c1",
		Size:        100,
		Metadata:    map[string]string{"outcome_count": "3"},
	})
	require.True(t, res.Success)
	require.Equal(t, "0x1", res.TxHash)
	require.Equal(t, 100.0, res.FilledSize)
	require.Empty(t, placer.placements(), "mint never touches the venue placer")
}

func TestCancelPendingOnly(t *testing.T) {
	placer := &slowPlacer{gate: make(chan struct{})}
	q, cancel := startQueue(t, placer)
	defer cancel()

	running := q.SubmitOrder(buyOrder("busy", domain.PriorityUrgent))
	time.Sleep(50 * time.Millisecond)

	pendingOrder := buyOrder("waiting", domain.PriorityLow)
	pendingOrder.ID = "cancel-me"
	pending := q.SubmitOrder(pendingOrder)

	require.True(t, q.Cancel("cancel-me"))
	res := <-pending
	require.Equal(t, domain.OrderStatusCancelled, res.Status)

	close(placer.gate)
	<-running
	require.False(t, q.Cancel("cancel-me"), "already resolved")
}

func TestWaitUntilIdle(t *testing.T) {
	placer := &slowPlacer{}
	q, cancel := startQueue(t, placer)
	defer cancel()

	for i := 0; i < 5; i++ {
		q.SubmitOrder(buyOrder("t", domain.PriorityNormal))
	}
	q.WaitUntilIdle()
	require.True(t, q.Idle())
	require.Len(t, placer.placements(), 5)
}

func TestCompletedRegistryCapped(t *testing.T) {
	placer := &slowPlacer{}
	q, cancel := startQueue(t, placer)
	defer cancel()

	for i := 0; i < 15; i++ {
		<-q.SubmitOrder(buyOrder("t", domain.PriorityNormal))
	}
	require.Len(t, q.CompletedOrders(), 10, "registry evicts oldest beyond capacity")
}
