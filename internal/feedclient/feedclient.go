// Package feedclient is a thin typed wrapper over the HTTP client core for
// the static market feed endpoint (§4.B).
package feedclient

import (
	"context"
	"fmt"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/transport"
)

// ListParams is the recognized listing parameter set.
type ListParams struct {
	Active          *bool
	Closed          *bool
	Limit           int
	Offset          int
	Order           string
	Ascending       bool
	TagID           string
	RelatedTags     bool
	LiquidityNumMin *float64
	LiquidityNumMax *float64
	VolumeNumMin    *float64
	VolumeNumMax    *float64
	EndDateMin      *time.Time
	EndDateMax      *time.Time
	StartDateMin    *time.Time
	StartDateMax    *time.Time
}

func (p ListParams) toQuery() map[string]string {
	q := map[string]string{}
	if p.Active != nil {
		q["active"] = boolStr(*p.Active)
	}
	if p.Closed != nil {
		q["closed"] = boolStr(*p.Closed)
	}
	if p.Limit > 0 {
		q["limit"] = intStr(p.Limit)
	}
	if p.Offset > 0 {
		q["offset"] = intStr(p.Offset)
	}
	if p.Order != "" {
		q["order"] = p.Order
		q["ascending"] = boolStr(p.Ascending)
	}
	if p.TagID != "" {
		q["tag_id"] = p.TagID
		q["related_tags"] = boolStr(p.RelatedTags)
	}
	setFloatParam(q, "liquidity_num_min", p.LiquidityNumMin)
	setFloatParam(q, "liquidity_num_max", p.LiquidityNumMax)
	setFloatParam(q, "volume_num_min", p.VolumeNumMin)
	setFloatParam(q, "volume_num_max", p.VolumeNumMax)
	setTimeParam(q, "end_date_min", p.EndDateMin)
	setTimeParam(q, "end_date_max", p.EndDateMax)
	setTimeParam(q, "start_date_min", p.StartDateMin)
	setTimeParam(q, "start_date_max", p.StartDateMax)
	return q
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intStr(n int) string { return fmt.Sprintf("%d", n) }

func setFloatParam(q map[string]string, key string, v *float64) {
	if v != nil {
		q[key] = fmt.Sprintf("%g", *v)
	}
}

func setTimeParam(q map[string]string, key string, v *time.Time) {
	if v != nil {
		q[key] = v.Format(time.RFC3339)
	}
}

// Client is the market feed client.
type Client struct {
	http *transport.Client
}

// New wraps an already-configured transport.Client.
func New(http *transport.Client) *Client {
	return &Client{http: http}
}

// GetMarkets returns a single page of markets.
func (c *Client) GetMarkets(ctx context.Context, params ListParams) ([]domain.Market, error) {
	resp := transport.Request[[]apiMarket](ctx, c.http, "/markets", transport.MethodGet, params.toQuery(), nil, nil, false)
	if !resp.Success {
		return nil, fmt.Errorf("feedclient: get markets: %w", resp.Err)
	}
	return toDomainMarkets(resp.Data), nil
}

// GetMarketData returns a single page of full market records (static plus
// dynamic snapshot). Records with no conditionId cannot be keyed and are
// skipped; the count of skipped records is returned alongside the page.
func (c *Client) GetMarketData(ctx context.Context, params ListParams) ([]domain.MarketData, int, error) {
	resp := transport.Request[[]apiMarket](ctx, c.http, "/markets", transport.MethodGet, params.toQuery(), nil, nil, false)
	if !resp.Success {
		return nil, 0, fmt.Errorf("feedclient: get market data: %w", resp.Err)
	}

	out := make([]domain.MarketData, 0, len(resp.Data))
	skipped := 0
	for _, raw := range resp.Data {
		if raw.ConditionID == "" {
			skipped++
			continue
		}
		out = append(out, domain.MarketData{Market: raw.toDomain(), Snapshot: raw.toSnapshot()})
	}
	return out, skipped, nil
}

// GetMarket returns a single market by conditionId.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	resp := transport.Request[apiMarket](ctx, c.http, "/markets/"+conditionID, transport.MethodGet, nil, nil, nil, false)
	if !resp.Success {
		return domain.Market{}, fmt.Errorf("feedclient: get market %s: %w", conditionID, resp.Err)
	}
	return resp.Data.toDomain(), nil
}

// GetMarketBySlug looks up a market by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	resp := transport.Request[[]apiMarket](ctx, c.http, "/markets", transport.MethodGet, map[string]string{"slug": slug}, nil, nil, false)
	if !resp.Success {
		return domain.Market{}, fmt.Errorf("feedclient: get market by slug %s: %w", slug, resp.Err)
	}
	if len(resp.Data) == 0 {
		return domain.Market{}, fmt.Errorf("feedclient: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return resp.Data[0].toDomain(), nil
}

// OnPage is invoked once per fetched page by GetAllMarkets.
type OnPage func(page []domain.Market) error

// GetAllMarkets paginates by adding limit/offset until a page returns
// fewer than limit items or maxPages is reached, sleeping a fixed small
// delay between pages, and invoking onPage synchronously for each page.
func (c *Client) GetAllMarkets(ctx context.Context, params ListParams, maxPages int, onPage OnPage) error {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	for page := 1; page <= maxPages; page++ {
		p := params
		p.Limit = limit
		p.Offset = (page - 1) * limit

		raw, err := c.GetMarkets(ctx, p)
		if err != nil {
			return err
		}
		if err := onPage(raw); err != nil {
			return err
		}
		if len(raw) < limit {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// APIEvent mirrors an event record from the feed.
type APIEvent struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Markets []apiMarket `json:"markets"`
}

// GetEvents returns a paginated list of events.
func (c *Client) GetEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	resp := transport.Request[[]APIEvent](ctx, c.http, "/events", transport.MethodGet, map[string]string{"limit": intStr(limit), "offset": intStr(offset)}, nil, nil, false)
	if !resp.Success {
		return nil, fmt.Errorf("feedclient: get events: %w", resp.Err)
	}
	return resp.Data, nil
}

// GetEvent returns a single event by id.
func (c *Client) GetEvent(ctx context.Context, id string) (APIEvent, error) {
	resp := transport.Request[APIEvent](ctx, c.http, "/events/"+id, transport.MethodGet, nil, nil, nil, false)
	if !resp.Success {
		return APIEvent{}, fmt.Errorf("feedclient: get event %s: %w", id, resp.Err)
	}
	return resp.Data, nil
}

// GetEventMarkets returns the markets attached to an event.
func (c *Client) GetEventMarkets(ctx context.Context, id string) ([]domain.Market, error) {
	ev, err := c.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return toDomainMarkets(ev.Markets), nil
}

// SearchMarkets filters a single fetched page case-insensitively, limited
// to active markets when requested.
func (c *Client) SearchMarkets(ctx context.Context, query string, limit int, activeOnly bool) ([]domain.Market, error) {
	params := ListParams{Limit: 200}
	if activeOnly {
		active := true
		params.Active = &active
	}
	page, err := c.GetMarkets(ctx, params)
	if err != nil {
		return nil, err
	}
	out := caseInsensitiveFilter(page, query)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func caseInsensitiveFilter(markets []domain.Market, query string) []domain.Market {
	q := lower(query)
	var out []domain.Market
	for _, m := range markets {
		if containsFold(lower(m.Question), q) || containsFold(lower(m.Slug), q) {
			out = append(out, m)
		}
	}
	return out
}
