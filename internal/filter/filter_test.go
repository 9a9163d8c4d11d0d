package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToFeedParamsStatusInversion(t *testing.T) {
	c := Config{Status: StatusActive, Limit: 50, Offset: 100}
	p := c.ToFeedParams()

	require.NotNil(t, p.Active)
	require.True(t, *p.Active)
	require.NotNil(t, p.Closed)
	require.False(t, *p.Closed, "active projects as closed=false on the feed surface")
	require.Equal(t, 50, p.Limit)
	require.Equal(t, 100, p.Offset)

	c.Status = StatusClosed
	p = c.ToFeedParams()
	require.Nil(t, p.Active)
	require.NotNil(t, p.Closed)
	require.True(t, *p.Closed)
}

func TestSortDefaults(t *testing.T) {
	// end_date defaults ascending, volume descending.
	c := Config{SortBy: "end_date"}
	require.True(t, c.ToFeedParams().Ascending)
	require.Equal(t, "asc", c.ToStoreFilter().OrderDir)

	c = Config{SortBy: "volume"}
	require.False(t, c.ToFeedParams().Ascending)
	require.Equal(t, "desc", c.ToStoreFilter().OrderDir)

	// Explicit direction overrides the default.
	c = Config{SortBy: "end_date", SortDir: "desc"}
	require.False(t, c.ToFeedParams().Ascending)
}

func TestSortFieldProjection(t *testing.T) {
	c := Config{SortBy: "one_day_price_change"}
	require.Equal(t, "oneDayPriceChange", c.ToFeedParams().Order)
	require.Equal(t, "one_day_price_change", c.ToStoreFilter().OrderBy)

	c = Config{SortBy: "nonsense"}
	require.Empty(t, c.ToFeedParams().Order, "unknown sort keys project to nothing")
	require.Empty(t, c.ToStoreFilter().OrderBy)
}

func TestQueryRoundTrip(t *testing.T) {
	liqMin := 100.0
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	c := Config{
		Search:       "election",
		Status:       StatusActive,
		Category:     "politics",
		SortBy:       "liquidity",
		SortDir:      "asc",
		LiquidityMin: &liqMin,
		EndDateMax:   &end,
		Limit:        25,
		Offset:       50,
	}

	parsed := FromQuery(c.ToQuery())
	require.Equal(t, c.Search, parsed.Search)
	require.Equal(t, c.Status, parsed.Status)
	require.Equal(t, c.Category, parsed.Category)
	require.Equal(t, c.SortBy, parsed.SortBy)
	require.Equal(t, c.SortDir, parsed.SortDir)
	require.Equal(t, liqMin, *parsed.LiquidityMin)
	require.True(t, end.Equal(*parsed.EndDateMax))
	require.Equal(t, 25, parsed.Limit)
	require.Equal(t, 50, parsed.Offset)
}

func TestFromQueryDropsMalformedValues(t *testing.T) {
	q := url.Values{}
	q.Set("status", "bogus")
	q.Set("sort_by", "not-a-field")
	q.Set("sort_dir", "sideways")
	q.Set("liquidity_min", "abc")
	q.Set("end_date_max", "not-a-date")
	q.Set("limit", "-5")

	c := FromQuery(q)
	require.Equal(t, StatusAll, c.Status)
	require.Empty(t, c.SortBy)
	require.Empty(t, c.SortDir)
	require.Nil(t, c.LiquidityMin)
	require.Nil(t, c.EndDateMax)
	require.Zero(t, c.Limit)
}

func TestToStoreFilterStatus(t *testing.T) {
	c := Config{Status: StatusActive}
	f := c.ToStoreFilter()
	require.NotNil(t, f.Active)
	require.True(t, *f.Active)

	c.Status = StatusClosed
	f = c.ToStoreFilter()
	require.NotNil(t, f.Active)
	require.False(t, *f.Active)

	c.Status = StatusAll
	require.Nil(t, c.ToStoreFilter().Active)
}
