package feedclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApiMarketToDomainCoercesStringNumbers(t *testing.T) {
	raw := `{
		"conditionId": "0xabc",
		"question": "Will it rain?",
		"slug": "will-it-rain",
		"outcomes": ["Yes", "No"],
		"clobTokenIds": ["111", "222"],
		"active": true,
		"enableOrderBook": true,
		"orderMinSize": "5",
		"orderPriceMinTickSize": "0.01",
		"umaBond": "NaN",
		"umaReward": null
	}`

	var m apiMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	d := m.toDomain()
	require.Equal(t, "0xabc", d.ConditionID)
	require.Equal(t, []string{"Yes", "No"}, d.Outcomes)
	require.Equal(t, []string{"111", "222"}, d.ClobTokenIDs)
	require.Equal(t, 5.0, d.OrderMinSize)
	require.Equal(t, 0.01, d.OrderPriceMinTickSize)
	require.Equal(t, 0.0, d.UmaBond, "NaN string must coerce to absent (zero)")
	require.Equal(t, 0.0, d.UmaReward)
	require.True(t, d.HasOrderBook())
}

func TestApiMarketTokenListAsEncodedString(t *testing.T) {
	raw := `{"conditionId":"0xdef","outcomes":"[\"Yes\",\"No\",\"Maybe\"]","clobTokenIds":"[\"1\",\"2\",\"3\"]"}`

	var m apiMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	d := m.toDomain()
	require.Equal(t, []string{"Yes", "No", "Maybe"}, d.Outcomes)
	require.Equal(t, []string{"1", "2", "3"}, d.ClobTokenIDs)
}

func TestApiMarketToSnapshotCapturesDynamicFields(t *testing.T) {
	raw := `{
		"conditionId": "0xabc",
		"outcomePrices": "[\"0.35\", \"0.38\", \"0.32\"]",
		"bestBid": "0.34",
		"bestAsk": "0.36",
		"spread": 0.02,
		"volume24hr": "1234.5",
		"liquidityNum": "1000",
		"oneDayPriceChange": "-0.05",
		"commentCount": 7
	}`

	var m apiMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	s := m.toSnapshot()
	require.Equal(t, "0xabc", s.ConditionID)
	require.Equal(t, []float64{0.35, 0.38, 0.32}, s.OutcomePrices)
	require.Equal(t, 0.34, s.BestBid)
	require.Equal(t, 0.36, s.BestAsk)
	require.Equal(t, 0.02, s.Spread)
	require.Equal(t, 1234.5, s.Volume1d)
	require.Equal(t, 1000.0, s.LiquidityTotal)
	require.Equal(t, -0.05, s.PriceChange1d)
	require.Equal(t, int64(7), s.CommentCount)
}

func TestSearchMarketsFilterIsCaseInsensitive(t *testing.T) {
	markets := toDomainMarkets([]apiMarket{
		{ConditionID: "1", Question: "Will the Fed Raise Rates?"},
		{ConditionID: "2", Question: "Will it snow in July?"},
	})

	out := caseInsensitiveFilter(markets, "fed")
	require.Len(t, out, 1)
	require.Equal(t, "1", out[0].ConditionID)
}
