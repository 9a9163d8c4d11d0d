package bookclient

import (
	"encoding/json"
	"testing"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestApiOrderBookToDomainParsesLevels(t *testing.T) {
	raw := `{"bids":[{"price":"0.45","size":"100"}],"asks":[{"price":"0.55","size":"50"}]}`
	var b apiOrderBook
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	book := b.toDomain("tok-1")
	require.Equal(t, "tok-1", book.TokenID)
	require.Len(t, book.Bids, 1)
	require.Equal(t, 0.45, book.Bids[0].Price)
	require.Equal(t, 100.0, book.Bids[0].Size)
	require.Equal(t, 0.55, book.Asks[0].Price)
}

func TestApiOrderResultToDomainMapsSuccess(t *testing.T) {
	r := apiOrderResult{Success: true, OrderID: "o1", TxHash: "0xhash", FilledSize: "10", FilledPrice: "0.5"}
	d := r.toDomain()
	require.True(t, d.Success)
	require.Equal(t, domain.OrderStatusSuccess, d.Status)
	require.Equal(t, 10.0, d.FilledSize)
}

func TestMapOrderStatus(t *testing.T) {
	require.Equal(t, domain.OrderStatusSuccess, mapOrderStatus("MATCHED"))
	require.Equal(t, domain.OrderStatusCancelled, mapOrderStatus("CANCELLED"))
	require.Equal(t, domain.OrderStatusPending, mapOrderStatus("LIVE"))
	require.Equal(t, domain.OrderStatusPending, mapOrderStatus("unknown"))
}

func TestAmountsForBuyAndSell(t *testing.T) {
	maker, taker := amountsFor(domain.OrderSideBuy, 0.5, 100)
	require.Equal(t, "50000000", maker.String())
	require.Equal(t, "100000000", taker.String())

	maker, taker = amountsFor(domain.OrderSideSell, 0.5, 100)
	require.Equal(t, "100000000", maker.String())
	require.Equal(t, "50000000", taker.String())
}
