// Package filter normalizes market-listing criteria between the three
// surfaces that express them: the dashboard's URL query parameters, the
// market feed client's listing parameters, and the store's query filter.
package filter

import (
	"net/url"
	"strconv"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/feedclient"
)

// Status restricts a listing to open or closed markets.
type Status string

const (
	StatusAll    Status = "all"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Config is the canonical filter criteria carried across surfaces.
type Config struct {
	Search   string
	Status   Status
	Category string

	SortBy  string
	SortDir string // "asc" or "desc"; empty selects the sort option's default

	LiquidityMin *float64
	LiquidityMax *float64
	VolumeMin    *float64
	VolumeMax    *float64

	StartDateMin *time.Time
	StartDateMax *time.Time
	EndDateMin   *time.Time
	EndDateMax   *time.Time

	Limit  int
	Offset int
}

// SortOption describes one recognized sort field and its projection into
// each surface.
type SortOption struct {
	// Key is the canonical sort field name used on the dashboard surface.
	Key string
	// FeedField is the feed API's order parameter value.
	FeedField string
	// StoreField is the store filter's orderBy value.
	StoreField string
	// DefaultAscending is the direction used when the caller does not
	// specify one.
	DefaultAscending bool
}

// SortOptions is the recognized sort table. end_date defaults ascending
// (soonest-expiring first); every volume/liquidity/recency sort defaults
// descending.
var SortOptions = []SortOption{
	{Key: "volume", FeedField: "volumeNum", StoreField: "volume", DefaultAscending: false},
	{Key: "volume_24hr", FeedField: "volume24hr", StoreField: "volume_24hr", DefaultAscending: false},
	{Key: "volume_1wk", FeedField: "volume1wk", StoreField: "volume_1wk", DefaultAscending: false},
	{Key: "liquidity", FeedField: "liquidityNum", StoreField: "liquidity", DefaultAscending: false},
	{Key: "end_date", FeedField: "endDate", StoreField: "end_date", DefaultAscending: true},
	{Key: "one_day_price_change", FeedField: "oneDayPriceChange", StoreField: "one_day_price_change", DefaultAscending: false},
	{Key: "updated_at", FeedField: "updatedAt", StoreField: "updated_at", DefaultAscending: false},
	{Key: "created_at", FeedField: "createdAt", StoreField: "created_at", DefaultAscending: false},
}

func sortOption(key string) (SortOption, bool) {
	for _, opt := range SortOptions {
		if opt.Key == key {
			return opt, true
		}
	}
	return SortOption{}, false
}

// ascending resolves the effective sort direction for the config.
func (c Config) ascending() bool {
	opt, ok := sortOption(c.SortBy)
	switch c.SortDir {
	case "asc":
		return true
	case "desc":
		return false
	default:
		return ok && opt.DefaultAscending
	}
}

// ToFeedParams projects the config onto the feed client's listing
// parameters. The feed surface expresses status as a closed flag, inverted
// from active.
func (c Config) ToFeedParams() feedclient.ListParams {
	p := feedclient.ListParams{
		Limit:        c.Limit,
		Offset:       c.Offset,
		LiquidityNumMin: c.LiquidityMin,
		LiquidityNumMax: c.LiquidityMax,
		VolumeNumMin: c.VolumeMin,
		VolumeNumMax: c.VolumeMax,
		StartDateMin: c.StartDateMin,
		StartDateMax: c.StartDateMax,
		EndDateMin:   c.EndDateMin,
		EndDateMax:   c.EndDateMax,
	}
	switch c.Status {
	case StatusActive:
		t, f := true, false
		p.Active, p.Closed = &t, &f
	case StatusClosed:
		t := true
		p.Closed = &t
	}
	if opt, ok := sortOption(c.SortBy); ok {
		p.Order = opt.FeedField
		p.Ascending = c.ascending()
	}
	return p
}

// ToStoreFilter projects the config onto the store's query filter.
func (c Config) ToStoreFilter() domain.MarketFilter {
	f := domain.MarketFilter{
		Limit:        c.Limit,
		Offset:       c.Offset,
		Category:     c.Category,
		Search:       c.Search,
		LiquidityMin: c.LiquidityMin,
		LiquidityMax: c.LiquidityMax,
		VolumeMin:    c.VolumeMin,
		VolumeMax:    c.VolumeMax,
		StartDateMin: c.StartDateMin,
		StartDateMax: c.StartDateMax,
		EndDateMin:   c.EndDateMin,
		EndDateMax:   c.EndDateMax,
	}
	switch c.Status {
	case StatusActive:
		t := true
		f.Active = &t
	case StatusClosed:
		fa := false
		f.Active = &fa
	}
	if opt, ok := sortOption(c.SortBy); ok {
		f.OrderBy = opt.StoreField
		if c.ascending() {
			f.OrderDir = "asc"
		} else {
			f.OrderDir = "desc"
		}
	}
	return f
}

// ToQuery projects the config onto dashboard URL query parameters.
func (c Config) ToQuery() url.Values {
	q := url.Values{}
	setStr := func(key, v string) {
		if v != "" {
			q.Set(key, v)
		}
	}
	setStr("search", c.Search)
	if c.Status != "" && c.Status != StatusAll {
		q.Set("status", string(c.Status))
	}
	setStr("category", c.Category)
	setStr("sort_by", c.SortBy)
	setStr("sort_dir", c.SortDir)
	setFloat(q, "liquidity_min", c.LiquidityMin)
	setFloat(q, "liquidity_max", c.LiquidityMax)
	setFloat(q, "volume_min", c.VolumeMin)
	setFloat(q, "volume_max", c.VolumeMax)
	setTime(q, "start_date_min", c.StartDateMin)
	setTime(q, "start_date_max", c.StartDateMax)
	setTime(q, "end_date_min", c.EndDateMin)
	setTime(q, "end_date_max", c.EndDateMax)
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}
	if c.Offset > 0 {
		q.Set("offset", strconv.Itoa(c.Offset))
	}
	return q
}

// FromQuery parses dashboard URL query parameters back into a Config.
// Unknown or malformed values are dropped rather than rejected so a stale
// dashboard link still produces a usable listing.
func FromQuery(q url.Values) Config {
	c := Config{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Status:   StatusAll,
		SortDir:  q.Get("sort_dir"),
	}
	switch Status(q.Get("status")) {
	case StatusActive:
		c.Status = StatusActive
	case StatusClosed:
		c.Status = StatusClosed
	}
	if _, ok := sortOption(q.Get("sort_by")); ok {
		c.SortBy = q.Get("sort_by")
	}
	if c.SortDir != "asc" && c.SortDir != "desc" {
		c.SortDir = ""
	}
	c.LiquidityMin = parseFloat(q.Get("liquidity_min"))
	c.LiquidityMax = parseFloat(q.Get("liquidity_max"))
	c.VolumeMin = parseFloat(q.Get("volume_min"))
	c.VolumeMax = parseFloat(q.Get("volume_max"))
	c.StartDateMin = parseTime(q.Get("start_date_min"))
	c.StartDateMax = parseTime(q.Get("start_date_max"))
	c.EndDateMin = parseTime(q.Get("end_date_min"))
	c.EndDateMax = parseTime(q.Get("end_date_max"))
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		c.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		c.Offset = n
	}
	return c
}

func setFloat(q url.Values, key string, v *float64) {
	if v != nil {
		q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

func setTime(q url.Values, key string, v *time.Time) {
	if v != nil {
		q.Set(key, v.UTC().Format(time.RFC3339))
	}
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
