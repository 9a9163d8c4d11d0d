// Package bookclient is a thin, authenticated wrapper over the order-book
// venue API: reading the book and best prices, and submitting, cancelling,
// and querying orders (§4.C).
package bookclient

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"time"

	"github.com/scanenginehq/scanengine/internal/crypto"
	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/transport"
)

// amountScale is the fixed-point scale (6 decimals) the venue expects for
// both price-denominated and token-denominated order amounts.
const amountScale = 1_000_000

// TimeInForce selects the order's lifetime. GTC, GTD, and FOK are native
// venue order types and pass straight through; FAK is rejected at the
// client boundary.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	GTD TimeInForce = "GTD"
	FOK TimeInForce = "FOK"
	FAK TimeInForce = "FAK"
)

// OrderBookLevel is a single price/size level.
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is the full two-sided book for a token.
type OrderBook struct {
	TokenID string
	Bids    []OrderBookLevel
	Asks    []OrderBookLevel
}

// BestPrices is the best bid/ask for a token.
type BestPrices struct {
	TokenID  string
	BestBid  float64
	BestAsk  float64
	Midpoint float64
}

// BalanceAllowance is the wallet's on-chain balance and the exchange
// contract's spending allowance for a given token.
type BalanceAllowance struct {
	TokenID   string
	Balance   float64
	Allowance float64
}

// Client is the authenticated order-book client. It wraps an
// internal/transport.Client for GET endpoints and signs write endpoints
// with the wallet's EIP-712 signature and HMAC L2 credentials.
type Client struct {
	http   *transport.Client
	signer *crypto.Signer
	auth   *crypto.HMACAuth
}

// New builds a Client. auth may be nil until DeriveAPIKey populates it;
// order-placement calls fail with ErrSigningUnavailable until then.
func New(http *transport.Client, signer *crypto.Signer, auth *crypto.HMACAuth) *Client {
	return &Client{http: http, signer: signer, auth: auth}
}

// SetAuth installs L2 credentials obtained from the auth flow.
func (c *Client) SetAuth(auth *crypto.HMACAuth) { c.auth = auth }

// DeriveAPIKey runs the CLOB's L1-signed auth flow to obtain L2 HMAC
// credentials and installs them on the client.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return domain.ErrSigningUnavailable
	}
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	sig, err := c.signer.SignAuthMessage(address, timestamp, 0)
	if err != nil {
		return fmt.Errorf("bookclient: sign auth message: %w", err)
	}

	headers := map[string]string{
		"POLY_ADDRESS":   address,
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": fmt.Sprintf("%d", timestamp),
		"POLY_NONCE":     "0",
	}
	resp := transport.Request[apiAuthResponse](ctx, c.http, "/auth/derive-api-key", transport.MethodGet, nil, headers, nil, false)
	if !resp.Success {
		return fmt.Errorf("bookclient: derive api key: %w", resp.Err)
	}

	c.auth = &crypto.HMACAuth{Key: resp.Data.APIKey, Secret: resp.Data.Secret, Passphrase: resp.Data.Passphrase}
	return nil
}

// GetOrderBook returns the full book for tokenID.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error) {
	resp := transport.Request[apiOrderBook](ctx, c.http, "/book", transport.MethodGet, map[string]string{"token_id": tokenID}, nil, nil, false)
	if !resp.Success {
		return OrderBook{}, fmt.Errorf("bookclient: get order book %s: %w", tokenID, resp.Err)
	}
	return resp.Data.toDomain(tokenID), nil
}

// GetBestPrices returns the best bid/ask for tokenID. An empty bid side
// yields 0 and an empty ask side yields 1: nobody sells below the 1.0
// resolution ceiling, so the synthetic ask is the worst price a buyer can
// pay.
func (c *Client) GetBestPrices(ctx context.Context, tokenID string) (BestPrices, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return BestPrices{}, err
	}
	return bestPricesFrom(book), nil
}

func bestPricesFrom(book OrderBook) BestPrices {
	bp := BestPrices{TokenID: book.TokenID, BestAsk: 1}
	if len(book.Bids) > 0 {
		bp.BestBid = book.Bids[0].Price
	}
	if len(book.Asks) > 0 {
		bp.BestAsk = book.Asks[0].Price
	}
	if bp.BestBid > 0 {
		bp.Midpoint = (bp.BestBid + bp.BestAsk) / 2
	}
	return bp
}

// GetPrice returns the best price on the given side of the book, in the
// venue's convention: BUY is the best standing bid, SELL the best standing
// ask. An empty bid side yields 0 (treat as unknown); an empty ask side
// yields the synthetic 1.0 ceiling, which is a real, tradable price.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error) {
	bp, err := c.GetBestPrices(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	if side == domain.OrderSideBuy {
		return bp.BestBid, nil
	}
	return bp.BestAsk, nil
}

// GetBalanceAllowance returns the maker wallet's balance and allowance for
// tokenID.
func (c *Client) GetBalanceAllowance(ctx context.Context, tokenID string) (BalanceAllowance, error) {
	body, err := c.doAuthenticatedGet(ctx, "/balance-allowance", map[string]string{"token_id": tokenID})
	if err != nil {
		return BalanceAllowance{}, err
	}
	return BalanceAllowance{
		TokenID:   tokenID,
		Balance:   float64(body.Balance) / amountScale,
		Allowance: float64(body.Allowance) / amountScale,
	}, nil
}

// OrderOptions carries the market-specific order parameters: the price
// tick the venue enforces and whether the market trades on the negative-
// risk exchange.
type OrderOptions struct {
	TickSize float64 // one of 0.1, 0.01, 0.001, 0.0001; 0 means no rounding
	NegRisk  bool
}

var validTickSizes = map[float64]bool{0.1: true, 0.01: true, 0.001: true, 0.0001: true}

// CreateOrder signs and submits order under tif. FAK is rejected.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order, tif TimeInForce, opts OrderOptions) (domain.OrderResult, error) {
	if tif == FAK {
		return domain.OrderResult{}, fmt.Errorf("bookclient: %w: time-in-force %s not supported", domain.ErrDomainReject, tif)
	}
	if opts.TickSize != 0 {
		if !validTickSizes[opts.TickSize] {
			return domain.OrderResult{}, fmt.Errorf("bookclient: %w: tick size %g", domain.ErrDomainReject, opts.TickSize)
		}
		order.Price = roundToTick(order.Price, opts.TickSize)
	}
	if c.signer == nil {
		return domain.OrderResult{}, domain.ErrSigningUnavailable
	}
	if c.auth == nil {
		return domain.OrderResult{}, fmt.Errorf("bookclient: %w: no api key derived", domain.ErrSigningUnavailable)
	}

	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return domain.OrderResult{}, err
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bookclient: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          payload.Side,
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.signer.Address().Hex(),
		"orderType": string(tif),
	}
	if opts.NegRisk {
		body["negRisk"] = true
	}

	resp := transport.Request[apiOrderResult](ctx, c.http, "/order", transport.MethodPost, nil, c.authHeaders(transport.MethodPost, "/order", body), body, false)
	if !resp.Success {
		return domain.OrderResult{}, fmt.Errorf("bookclient: create order: %w", resp.Err)
	}
	result := resp.Data.toDomain()
	if !result.Success {
		return result, fmt.Errorf("bookclient: %w: %s", domain.ErrConflict, result.Err)
	}
	return result, nil
}

// CancelOrder cancels a single order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}
	resp := transport.Request[apiCancelResult](ctx, c.http, "/order", transport.MethodDelete, nil, c.authHeaders(transport.MethodDelete, "/order", body), body, false)
	if !resp.Success {
		return fmt.Errorf("bookclient: cancel order %s: %w", orderID, resp.Err)
	}
	if !resp.Data.Success {
		return fmt.Errorf("bookclient: %w: %s", domain.ErrConflict, resp.Data.ErrorMsg)
	}
	return nil
}

// CancelAllOrders cancels every open order for the authenticated wallet.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	resp := transport.Request[apiCancelResult](ctx, c.http, "/cancel-all", transport.MethodDelete, nil, c.authHeaders(transport.MethodDelete, "/cancel-all", nil), nil, false)
	if !resp.Success {
		return fmt.Errorf("bookclient: cancel all: %w", resp.Err)
	}
	if !resp.Data.Success {
		return fmt.Errorf("bookclient: %w: %s", domain.ErrConflict, resp.Data.ErrorMsg)
	}
	return nil
}

// GetOpenOrders returns all open orders for the authenticated wallet.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.doAuthenticatedGetOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

func (c *Client) doAuthenticatedGetOrders(ctx context.Context) ([]apiOrder, error) {
	resp := transport.Request[[]apiOrder](ctx, c.http, "/orders", transport.MethodGet, nil, c.authHeaders(transport.MethodGet, "/orders", nil), nil, false)
	if !resp.Success {
		return nil, fmt.Errorf("get open orders: %w", resp.Err)
	}
	return resp.Data, nil
}

func (c *Client) doAuthenticatedGet(ctx context.Context, path string, query map[string]string) (apiBalanceAllowance, error) {
	headers := c.authHeaders(transport.MethodGet, path, nil)
	resp := transport.Request[apiBalanceAllowance](ctx, c.http, path, transport.MethodGet, query, headers, nil, false)
	if !resp.Success {
		return apiBalanceAllowance{}, fmt.Errorf("bookclient: %s: %w", path, resp.Err)
	}
	return resp.Data, nil
}

// authHeaders builds the HMAC L2 auth headers for one request.
func (c *Client) authHeaders(method transport.Method, path string, body any) map[string]string {
	if c.auth == nil {
		return map[string]string{}
	}
	address := c.signer.Address().Hex()
	bodyStr := ""
	if body != nil {
		bodyStr = fmt.Sprintf("%v", body)
	}
	return c.auth.L2Headers(address, string(method), path, bodyStr)
}

func (c *Client) buildOrderPayload(order domain.Order) (crypto.OrderPayload, error) {
	if order.Price <= 0 || order.Size <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("bookclient: %w: price and size must be positive", domain.ErrDomainReject)
	}

	makerAmount, takerAmount := amountsFor(order.Side, order.Price, order.Size)
	address := c.signer.Address().Hex()

	return crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", rand.Int63()),
		Maker:         address,
		Signer:        address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode(order.Side),
		SignatureType: 0,
	}, nil
}

func sideCode(side domain.OrderSide) int {
	if side == domain.OrderSideSell {
		return 1
	}
	return 0
}

// amountsFor converts a (price, size) pair into the fixed-point
// maker/taker amounts the exchange contract expects: a BUY locks up
// price*size of collateral to receive size shares; a SELL locks up size
// shares to receive price*size of collateral.
func amountsFor(side domain.OrderSide, price, size float64) (maker, taker *big.Int) {
	collateral := toFixedPoint(price * size)
	shares := toFixedPoint(size)
	if side == domain.OrderSideSell {
		return shares, collateral
	}
	return collateral, shares
}

// roundToTick snaps a price onto the venue's tick grid.
func roundToTick(price, tick float64) float64 {
	steps := math.Round(price / tick)
	return steps * tick
}

func toFixedPoint(f float64) *big.Int {
	scaled := int64(f*amountScale + 0.5)
	return big.NewInt(scaled)
}
