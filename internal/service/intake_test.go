package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

func TestIntakeNormalize_JSON(t *testing.T) {
	in := NewIntake(newMemClaims())

	tests := []struct {
		name   string
		body   string
		action domain.Side
		symbol string
		price  float64
	}{
		{"plain fields", `{"action":"buy","symbol":"btcusd","price":100.5}`, domain.SideBuy, "BTCUSD", 100.5},
		{"side long", `{"side":"LONG","ticker":"ETHUSD","close":"3000"}`, domain.SideBuy, "ETHUSD", 3000},
		{"short via signal", `{"signal":"go short","pair":"BTC/USDT","entry_price":"45,000.25"}`, domain.SideSell, "BTCUSDT", 45000.25},
		{"first key that parses wins", `{"action":"hold","side":"sell","symbol":"X1","price":0,"close":12}`, domain.SideSell, "X1", 12},
		{"exchange prefix", `{"action":"sell","instrument":"BINANCE:SOLUSDT","signal_price":150}`, domain.SideSell, "SOLUSDT", 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := in.Normalize([]byte(tt.body), "application/json")
			assert.Equal(t, tt.action, sig.Action)
			assert.Equal(t, tt.symbol, sig.Symbol)
			assert.InDelta(t, tt.price, sig.Price, 1e-9)
			assert.True(t, sig.Actionable())
		})
	}
}

func TestIntakeNormalize_OptionalFields(t *testing.T) {
	in := NewIntake(newMemClaims())
	sig := in.Normalize([]byte(`{"action":"buy","symbol":"BTCUSD","price":100,"qty":"2","sl":95,"take_profit":"110"}`), "")

	require.NotNil(t, sig.Size)
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.Equal(t, 2.0, *sig.Size)
	assert.Equal(t, 95.0, *sig.StopLoss)
	assert.Equal(t, 110.0, *sig.TakeProfit)
}

func TestIntakeNormalize_MessageFallback(t *testing.T) {
	in := NewIntake(newMemClaims())
	sig := in.Normalize([]byte(`{"message":"SELL ETHUSD price: 2500.75 SL 2600"}`), "application/json")

	assert.Equal(t, domain.SideSell, sig.Action)
	assert.Equal(t, "ETHUSD", sig.Symbol)
	assert.Equal(t, 2500.75, sig.Price)
	assert.Equal(t, "SELL ETHUSD price: 2500.75 SL 2600", sig.RawText)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 2600.0, *sig.StopLoss)
}

func TestIntakeNormalize_RawBodyFallback(t *testing.T) {
	in := NewIntake(newMemClaims())

	tests := []struct {
		name   string
		body   string
		action domain.Side
		symbol string
		price  float64
	}{
		{"unknown action key", `{"alert":"buy","ticker":"BTCUSD","price":100}`, domain.SideBuy, "BTCUSD", 100},
		{"strategy name", `{"strategy":"ema cross long","symbol":"ETHUSD","price":"2500"}`, domain.SideBuy, "ETHUSD", 2500},
		{"sell in comment", `{"comment":"exit and SELL","pair":"SOLUSDT","close":150}`, domain.SideSell, "SOLUSDT", 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := in.Normalize([]byte(tt.body), "application/json")
			assert.Equal(t, tt.action, sig.Action)
			assert.Equal(t, tt.symbol, sig.Symbol)
			assert.Equal(t, tt.price, sig.Price)
			assert.True(t, sig.Actionable())
		})
	}
}

func TestIntakeNormalize_StructuredBeatsText(t *testing.T) {
	in := NewIntake(newMemClaims())
	sig := in.Normalize([]byte(`{"action":"buy","symbol":"BTCUSD","price":100,"text":"sell ETHUSD price 5"}`), "application/json")

	assert.Equal(t, domain.SideBuy, sig.Action)
	assert.Equal(t, "BTCUSD", sig.Symbol)
	assert.Equal(t, 100.0, sig.Price)
}

func TestIntakeNormalize_FreeText(t *testing.T) {
	in := NewIntake(newMemClaims())

	tests := []struct {
		name   string
		text   string
		action domain.Side
		symbol string
		price  float64
	}{
		{"ticker token", "Go long BTCUSD price=101.5", domain.SideBuy, "BTCUSD", 101.5},
		{"symbol label", "Alert: short now. Symbol: ethusdt Price 3000", domain.SideSell, "ETHUSDT", 3000},
		{"buy before sell", "BUY then sell later XRPUSD price 0.5", domain.SideBuy, "XRPUSD", 0.5},
		{"long beats earlier short", "Close short, go long BTCUSD price=100", domain.SideBuy, "BTCUSD", 100},
		{"buy beats earlier sell", "sell off over, buy ETHUSD price 2000", domain.SideBuy, "ETHUSD", 2000},
		{"inflected word", "Buying BTCUSD price=100", domain.SideBuy, "BTCUSD", 100},
		{"shorting", "Shorting SOLUSDT price 150", domain.SideSell, "SOLUSDT", 150},
		{"slash pair", "SELL BTC/USDT price: 42000", domain.SideSell, "BTCUSDT", 42000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := in.Normalize([]byte(tt.text), "text/plain")
			assert.Equal(t, tt.action, sig.Action)
			assert.Equal(t, tt.symbol, sig.Symbol)
			assert.Equal(t, tt.price, sig.Price)
			assert.Equal(t, tt.text, sig.RawText)
		})
	}
}

func TestIntakeNormalize_NotActionable(t *testing.T) {
	in := NewIntake(newMemClaims())

	tests := []struct {
		name    string
		body    string
		missing []string
	}{
		{"no action", `{"symbol":"BTCUSD","price":100}`, []string{"action"}},
		{"zero price", `{"action":"buy","symbol":"BTCUSD","price":0}`, []string{"price"}},
		{"negative price", `{"action":"buy","symbol":"BTCUSD","price":-4}`, []string{"price"}},
		{"nothing", `hello world`, []string{"action", "symbol", "price"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := in.Normalize([]byte(tt.body), "")
			assert.False(t, sig.Actionable())
			assert.Equal(t, tt.missing, sig.Missing())
		})
	}
}

func TestIntakeNormalize_BrokenJSONFallsBackToText(t *testing.T) {
	in := NewIntake(newMemClaims())
	sig := in.Normalize([]byte(`{"action": buy BTCUSD price 10`), "application/json")

	assert.Equal(t, domain.SideBuy, sig.Action)
	assert.Equal(t, "BTCUSD", sig.Symbol)
	assert.Equal(t, 10.0, sig.Price)
}

func TestIntakeEventKey(t *testing.T) {
	in := NewIntake(newMemClaims())

	assert.Equal(t, "evt-1", in.EventKey([]byte("x"), " evt-1 "))

	k1 := in.EventKey([]byte("BUY BTCUSD 100"), "")
	k2 := in.EventKey([]byte("BUY BTCUSD 100"), "")
	k3 := in.EventKey([]byte("BUY BTCUSD 101"), "")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, len("sha256:")+64)
	assert.Contains(t, k1, "sha256:")
}

func TestIntakeClaim(t *testing.T) {
	claims := newMemClaims()
	in := NewIntake(claims)
	ctx := context.Background()

	ok, err := in.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.Claim(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	claims.err = errors.New("db down")
	_, err = in.Claim(ctx, "other")
	assert.Error(t, err)
}
