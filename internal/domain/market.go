package domain

import (
	"math"
	"time"
)

// Market is the canonical, static record for a prediction market as
// returned by the market feed. Outcomes and ClobTokenIDs are ordered and
// index-aligned: Outcomes[i] trades under ClobTokenIDs[i].
type Market struct {
	ConditionID  string // primary key, opaque string
	Question     string
	Slug         string
	Category     string
	Outcomes     []string
	ClobTokenIDs []string
	EndDate      time.Time

	Active          bool
	Closed          bool
	Restricted      bool
	EnableOrderBook bool
	Approved        bool
	Ready           bool
	Funded          bool
	Featured        bool
	IsNew           bool
	NegRisk         bool

	OrderMinSize             float64
	OrderPriceMinTickSize    float64
	AcceptingOrders          bool
	AcceptingOrdersTimestamp time.Time

	UmaBond          float64
	UmaReward        float64
	ResolvedBy       string
	ResolutionSource string
	SubmittedBy      string

	GroupItemTitle     string
	GroupItemThreshold float64
	CustomLiveness     int64

	Image string
}

// HasOrderBook reports whether this market has a usable order book: the
// outcome/token arrays are aligned and non-empty, matching invariant I1.
func (m Market) HasOrderBook() bool {
	return m.EnableOrderBook && len(m.Outcomes) > 0 && len(m.Outcomes) == len(m.ClobTokenIDs)
}

// TradableNow reports whether the market should be considered by scanning
// strategies: active, not closed, and has a valid order book.
func (m Market) TradableNow() bool {
	return m.Active && !m.Closed && m.HasOrderBook()
}

// MarketData is the full converted record a scan cycle hands downstream:
// the static market plus the dynamic snapshot observed on the same page.
type MarketData struct {
	Market
	Snapshot PriceSnapshot
}

// PriceSnapshot is the dynamic, append-only record of a market's state at
// the moment a scan cycle observed it. A snapshot may only be persisted for
// a ConditionID that already exists in the Market store.
type PriceSnapshot struct {
	ConditionID   string
	OutcomePrices []float64 // aligned with Market.Outcomes

	BestBid        float64
	BestAsk        float64
	Spread         float64
	LastTradePrice float64

	PriceChange1h  float64
	PriceChange1d  float64
	PriceChange1wk float64
	PriceChange1mo float64
	PriceChange1y  float64

	Volume1h  float64
	Volume1d  float64
	Volume1wk float64
	Volume1mo float64
	Volume1y  float64

	VolumeAMM1d  float64
	VolumeCLOB1d float64

	LiquidityTotal float64
	LiquidityAMM   float64
	LiquidityCLOB  float64

	Competitive  float64
	CommentCount int64

	RecordedAt time.Time // server time at insert
}

// MarketPrice is an independent, precise per-token price record captured by
// the price stage directly from the order-book client. Uniqueness is on
// (ConditionID, TokenID, FetchedAt).
type MarketPrice struct {
	ConditionID  string
	TokenID      string
	Outcome      string
	OutcomeIndex int

	BuyPrice  *float64
	SellPrice *float64
	MidPrice  float64
	Spread    float64
	SpreadPct float64

	FetchedAt time.Time
}

// Normalize recomputes MidPrice/Spread/SpreadPct from BuyPrice/SellPrice and
// reports whether the record is persistable under invariant I2: not both
// sides null, and no numeric field NaN or infinite.
func (mp *MarketPrice) Normalize() bool {
	if mp.BuyPrice == nil && mp.SellPrice == nil {
		return false
	}
	if mp.BuyPrice != nil && !isFinitePrice(*mp.BuyPrice) {
		return false
	}
	if mp.SellPrice != nil && !isFinitePrice(*mp.SellPrice) {
		return false
	}
	if mp.BuyPrice != nil && mp.SellPrice != nil {
		mid := (*mp.BuyPrice + *mp.SellPrice) / 2
		spread := *mp.SellPrice - *mp.BuyPrice
		spreadPct := 0.0
		if mid != 0 {
			spreadPct = 100 * spread / mid
		}
		mp.MidPrice = mid
		mp.Spread = spread
		mp.SpreadPct = spreadPct
	}
	return true
}

func isFinitePrice(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
