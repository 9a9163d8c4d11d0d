package bookclient

import (
	"strconv"

	"github.com/scanenginehq/scanengine/internal/domain"
)

type apiPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (l apiPriceLevel) toDomain() OrderBookLevel {
	price, _ := strconv.ParseFloat(l.Price, 64)
	size, _ := strconv.ParseFloat(l.Size, 64)
	return OrderBookLevel{Price: price, Size: size}
}

type apiOrderBook struct {
	Bids []apiPriceLevel `json:"bids"`
	Asks []apiPriceLevel `json:"asks"`
}

func (b apiOrderBook) toDomain(tokenID string) OrderBook {
	book := OrderBook{TokenID: tokenID}
	for _, lvl := range b.Bids {
		book.Bids = append(book.Bids, lvl.toDomain())
	}
	for _, lvl := range b.Asks {
		book.Asks = append(book.Asks, lvl.toDomain())
	}
	return book
}

type apiAuthResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type apiOrderResult struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"orderID"`
	Status      string `json:"status"`
	TxHash      string `json:"transactionHash"`
	FilledSize  string `json:"makingAmount"`
	FilledPrice string `json:"price"`
	ErrorMsg    string `json:"errorMsg"`
}

func (r apiOrderResult) toDomain() domain.OrderResult {
	filledSize, _ := strconv.ParseFloat(r.FilledSize, 64)
	filledPrice, _ := strconv.ParseFloat(r.FilledPrice, 64)
	status := domain.OrderStatusFailed
	if r.Success {
		status = domain.OrderStatusSuccess
	}
	return domain.OrderResult{
		OrderID:     r.OrderID,
		Status:      status,
		Success:     r.Success,
		TxHash:      r.TxHash,
		FilledSize:  filledSize,
		FilledPrice: filledPrice,
		Err:         r.ErrorMsg,
	}
}

type apiCancelResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
}

type apiBalanceAllowance struct {
	Balance   int64 `json:"balance,string"`
	Allowance int64 `json:"allowance,string"`
}

type apiOrder struct {
	ID          string `json:"id"`
	TokenID     string `json:"asset_id"`
	ConditionID string `json:"market"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"original_size"`
	FilledSize  string `json:"size_matched"`
	Status      string `json:"status"`
}

func (o apiOrder) toDomain() domain.Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	size, _ := strconv.ParseFloat(o.Size, 64)
	filled, _ := strconv.ParseFloat(o.FilledSize, 64)
	return domain.Order{
		ID:          o.ID,
		Type:        domain.OrderTypeBuy,
		TokenID:     o.TokenID,
		ConditionID: o.ConditionID,
		Side:        domain.OrderSide(o.Side),
		Price:       price,
		Size:        size,
		FilledSize:  filled,
		Status:      mapOrderStatus(o.Status),
	}
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "MATCHED", "FILLED":
		return domain.OrderStatusSuccess
	case "CANCELLED":
		return domain.OrderStatusCancelled
	case "LIVE", "OPEN":
		return domain.OrderStatusPending
	default:
		return domain.OrderStatusPending
	}
}
