package feedclient

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// flexNumber decodes a JSON field that may arrive as a string, a number, or
// null/NaN, coercing it to a float64 pointer that is nil when absent or
// non-finite.
type flexNumber struct {
	valid bool
	value float64
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" || s == "NaN" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.valid = true
	n.value = f
	return nil
}

func (n flexNumber) ptr() *float64 {
	if !n.valid {
		return nil
	}
	v := n.value
	return &v
}

func (n flexNumber) orZero() float64 {
	if !n.valid {
		return 0
	}
	return n.value
}

// flexStringSlice decodes a field that may arrive as a JSON array of
// strings or as a JSON-encoded string containing such an array (the feed
// serializes outcome/token lists both ways depending on endpoint).
type flexStringSlice []string

func (s *flexStringSlice) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil
	}
	if encoded == "" {
		return nil
	}
	var inner []string
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return nil
	}
	*s = inner
	return nil
}

// flexFloatSlice decodes a numeric list that may arrive as a JSON array of
// numbers, an array of numeric strings, or a JSON-encoded string of either.
type flexFloatSlice []float64

func (s *flexFloatSlice) UnmarshalJSON(data []byte) error {
	var raw flexStringSlice
	var nums []float64
	if err := json.Unmarshal(data, &nums); err == nil {
		*s = nums
		return nil
	}
	if err := raw.UnmarshalJSON(data); err != nil {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		out = append(out, f)
	}
	*s = out
	return nil
}

// apiMarket mirrors a single market record from the feed.
type apiMarket struct {
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	Slug         string          `json:"slug"`
	Category     string          `json:"category"`
	Outcomes     flexStringSlice `json:"outcomes"`
	ClobTokenIDs flexStringSlice `json:"clobTokenIds"`
	EndDateIso   string          `json:"endDate"`

	Active          bool `json:"active"`
	Closed          bool `json:"closed"`
	Restricted      bool `json:"restricted"`
	EnableOrderBook bool `json:"enableOrderBook"`
	Approved        bool `json:"approved"`
	Ready           bool `json:"ready"`
	Funded          bool `json:"funded"`
	Featured        bool `json:"featured"`
	New             bool `json:"new"`
	NegRisk         bool `json:"negRisk"`

	OrderMinSize             flexNumber `json:"orderMinSize"`
	OrderPriceMinTickSize    flexNumber `json:"orderPriceMinTickSize"`
	AcceptingOrders          bool       `json:"acceptingOrders"`
	AcceptingOrdersTimestamp string     `json:"acceptingOrdersTimestamp"`

	UmaBond          flexNumber `json:"umaBond"`
	UmaReward        flexNumber `json:"umaReward"`
	ResolvedBy       string     `json:"resolvedBy"`
	ResolutionSource string     `json:"resolutionSource"`
	SubmittedBy      string     `json:"submitted_by"`

	GroupItemTitle     string     `json:"groupItemTitle"`
	GroupItemThreshold flexNumber `json:"groupItemThreshold"`
	CustomLiveness     flexNumber `json:"customLiveness"`

	Image string `json:"image"`

	// Dynamic fields captured into the per-scan price snapshot.
	OutcomePrices  flexFloatSlice `json:"outcomePrices"`
	BestBid        flexNumber     `json:"bestBid"`
	BestAsk        flexNumber     `json:"bestAsk"`
	Spread         flexNumber     `json:"spread"`
	LastTradePrice flexNumber     `json:"lastTradePrice"`

	OneHourPriceChange  flexNumber `json:"oneHourPriceChange"`
	OneDayPriceChange   flexNumber `json:"oneDayPriceChange"`
	OneWeekPriceChange  flexNumber `json:"oneWeekPriceChange"`
	OneMonthPriceChange flexNumber `json:"oneMonthPriceChange"`
	OneYearPriceChange  flexNumber `json:"oneYearPriceChange"`

	Volume1hr  flexNumber `json:"volume1hr"`
	Volume24hr flexNumber `json:"volume24hr"`
	Volume1wk  flexNumber `json:"volume1wk"`
	Volume1mo  flexNumber `json:"volume1mo"`
	Volume1yr  flexNumber `json:"volume1yr"`

	Volume24hrAmm  flexNumber `json:"volume24hrAmm"`
	Volume24hrClob flexNumber `json:"volume24hrClob"`

	Liquidity     flexNumber `json:"liquidityNum"`
	LiquidityAmm  flexNumber `json:"liquidityAmm"`
	LiquidityClob flexNumber `json:"liquidityClob"`

	Competitive  flexNumber `json:"competitive"`
	CommentCount flexNumber `json:"commentCount"`
}

func parseFeedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func (a apiMarket) toDomain() domain.Market {
	return domain.Market{
		ConditionID:              a.ConditionID,
		Question:                 a.Question,
		Slug:                     a.Slug,
		Category:                 a.Category,
		Outcomes:                 []string(a.Outcomes),
		ClobTokenIDs:             []string(a.ClobTokenIDs),
		EndDate:                  parseFeedTime(a.EndDateIso),
		Active:                   a.Active,
		Closed:                   a.Closed,
		Restricted:               a.Restricted,
		EnableOrderBook:          a.EnableOrderBook,
		Approved:                 a.Approved,
		Ready:                    a.Ready,
		Funded:                   a.Funded,
		Featured:                 a.Featured,
		IsNew:                    a.New,
		NegRisk:                  a.NegRisk,
		OrderMinSize:             a.OrderMinSize.orZero(),
		OrderPriceMinTickSize:    a.OrderPriceMinTickSize.orZero(),
		AcceptingOrders:          a.AcceptingOrders,
		AcceptingOrdersTimestamp: parseFeedTime(a.AcceptingOrdersTimestamp),
		UmaBond:                  a.UmaBond.orZero(),
		UmaReward:                a.UmaReward.orZero(),
		ResolvedBy:               a.ResolvedBy,
		ResolutionSource:         a.ResolutionSource,
		SubmittedBy:              a.SubmittedBy,
		GroupItemTitle:           a.GroupItemTitle,
		GroupItemThreshold:       a.GroupItemThreshold.orZero(),
		CustomLiveness:           int64(a.CustomLiveness.orZero()),
		Image:                    a.Image,
	}
}

// toSnapshot captures the record's dynamic fields. RecordedAt is left zero;
// the store stamps server time at insert.
func (a apiMarket) toSnapshot() domain.PriceSnapshot {
	return domain.PriceSnapshot{
		ConditionID:    a.ConditionID,
		OutcomePrices:  []float64(a.OutcomePrices),
		BestBid:        a.BestBid.orZero(),
		BestAsk:        a.BestAsk.orZero(),
		Spread:         a.Spread.orZero(),
		LastTradePrice: a.LastTradePrice.orZero(),
		PriceChange1h:  a.OneHourPriceChange.orZero(),
		PriceChange1d:  a.OneDayPriceChange.orZero(),
		PriceChange1wk: a.OneWeekPriceChange.orZero(),
		PriceChange1mo: a.OneMonthPriceChange.orZero(),
		PriceChange1y:  a.OneYearPriceChange.orZero(),
		Volume1h:       a.Volume1hr.orZero(),
		Volume1d:       a.Volume24hr.orZero(),
		Volume1wk:      a.Volume1wk.orZero(),
		Volume1mo:      a.Volume1mo.orZero(),
		Volume1y:       a.Volume1yr.orZero(),
		VolumeAMM1d:    a.Volume24hrAmm.orZero(),
		VolumeCLOB1d:   a.Volume24hrClob.orZero(),
		LiquidityTotal: a.Liquidity.orZero(),
		LiquidityAMM:   a.LiquidityAmm.orZero(),
		LiquidityCLOB:  a.LiquidityClob.orZero(),
		Competitive:    a.Competitive.orZero(),
		CommentCount:   int64(a.CommentCount.orZero()),
	}
}

func toDomainMarkets(in []apiMarket) []domain.Market {
	out := make([]domain.Market, 0, len(in))
	for _, m := range in {
		out = append(out, m.toDomain())
	}
	return out
}

func lower(s string) string { return strings.ToLower(s) }

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(haystack, needle)
}
