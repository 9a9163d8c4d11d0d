package bookclient

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/crypto"
	"github.com/scanenginehq/scanengine/internal/domain"
)

// Well-known throwaway development key; never holds funds.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestBestPricesEmptySideDefaults(t *testing.T) {
	// Empty bid side yields 0, empty ask side yields the 1.0 ceiling.
	bp := bestPricesFrom(OrderBook{TokenID: "tok"})
	require.Equal(t, 0.0, bp.BestBid)
	require.Equal(t, 1.0, bp.BestAsk)
	require.Equal(t, 0.0, bp.Midpoint, "no midpoint without a bid")

	bp = bestPricesFrom(OrderBook{
		TokenID: "tok",
		Bids:    []OrderBookLevel{{Price: 0.45, Size: 100}},
	})
	require.Equal(t, 0.45, bp.BestBid)
	require.Equal(t, 1.0, bp.BestAsk, "absent asks price at the ceiling")
	require.InDelta(t, 0.725, bp.Midpoint, 1e-9)

	bp = bestPricesFrom(OrderBook{
		TokenID: "tok",
		Bids:    []OrderBookLevel{{Price: 0.45, Size: 100}},
		Asks:    []OrderBookLevel{{Price: 0.55, Size: 50}},
	})
	require.Equal(t, 0.45, bp.BestBid)
	require.Equal(t, 0.55, bp.BestAsk)
	require.InDelta(t, 0.5, bp.Midpoint, 1e-9)
}

func TestCreateOrderTimeInForceGate(t *testing.T) {
	c := New(nil, nil, nil)
	order := domain.Order{TokenID: "1", Side: domain.OrderSideBuy, Price: 0.5, Size: 10}

	// FAK is not a supported order type.
	_, err := c.CreateOrder(context.Background(), order, FAK, OrderOptions{})
	require.ErrorIs(t, err, domain.ErrDomainReject)

	// GTC, GTD, and FOK all pass the gate; with no signer configured they
	// stop at the signing check instead.
	for _, tif := range []TimeInForce{GTC, GTD, FOK} {
		_, err := c.CreateOrder(context.Background(), order, tif, OrderOptions{})
		require.ErrorIs(t, err, domain.ErrSigningUnavailable, "tif %s", tif)
	}
}

func TestCreateOrderTickSizeValidation(t *testing.T) {
	signer, err := crypto.NewSigner(testPrivateKey, 137)
	require.NoError(t, err)
	c := New(nil, signer, &crypto.HMACAuth{Key: "k", Secret: "s", Passphrase: "p"})

	order := domain.Order{TokenID: "1", Side: domain.OrderSideBuy, Price: 0.5, Size: 10}
	_, err = c.CreateOrder(context.Background(), order, GTC, OrderOptions{TickSize: 0.05})
	require.ErrorIs(t, err, domain.ErrDomainReject, "0.05 is not a valid tick")
}

func TestRoundToTick(t *testing.T) {
	require.InDelta(t, 0.46, roundToTick(0.456, 0.01), 1e-9)
	require.InDelta(t, 0.5, roundToTick(0.456, 0.1), 1e-9)
	require.InDelta(t, 0.456, roundToTick(0.456, 0.001), 1e-9)
}

func TestBuildOrderPayloadAndSign(t *testing.T) {
	signer, err := crypto.NewSigner(testPrivateKey, 137)
	require.NoError(t, err)
	require.Equal(t, testAddress, signer.Address().Hex())

	c := New(nil, signer, nil)
	payload, err := c.buildOrderPayload(domain.Order{
		TokenID: "123456",
		Side:    domain.OrderSideBuy,
		Price:   0.5,
		Size:    100,
	})
	require.NoError(t, err)
	require.Equal(t, testAddress, payload.Maker)
	require.Equal(t, testAddress, payload.Signer)
	require.Equal(t, "50000000", payload.MakerAmount)
	require.Equal(t, "100000000", payload.TakerAmount)
	require.Equal(t, 0, payload.Side)

	sig, err := signer.SignOrder(payload)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65, "r || s || v signature")
	require.Contains(t, []byte{27, 28}, raw[64], "recovery byte is normalized")

	// A different payload must produce a different signature.
	payload2 := payload
	payload2.TokenID = "654321"
	sig2, err := signer.SignOrder(payload2)
	require.NoError(t, err)
	require.NotEqual(t, sig, sig2)
}

func TestBuildOrderPayloadRejectsNonPositive(t *testing.T) {
	signer, err := crypto.NewSigner(testPrivateKey, 137)
	require.NoError(t, err)
	c := New(nil, signer, nil)

	_, err = c.buildOrderPayload(domain.Order{TokenID: "1", Price: 0, Size: 10})
	require.ErrorIs(t, err, domain.ErrDomainReject)
	_, err = c.buildOrderPayload(domain.Order{TokenID: "1", Price: 0.5, Size: 0})
	require.ErrorIs(t, err, domain.ErrDomainReject)
}
