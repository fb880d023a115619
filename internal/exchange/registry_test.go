package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuildAndRefresh(t *testing.T) {
	r, err := NewRegistry([]Spec{{Name: "binance"}, {Name: "okx"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "okx"}, r.Names())

	a, ok := r.Get("Binance")
	require.True(t, ok)
	assert.Equal(t, "binance", a.Name())

	// refresh 整体替换映射。
	require.NoError(t, r.Refresh([]Spec{{Name: "okx"}}))
	_, ok = r.Get("binance")
	assert.False(t, ok)
	assert.Equal(t, []string{"okx"}, r.Names())
}

func TestRegistryRejectsUnknownExchange(t *testing.T) {
	_, err := NewRegistry([]Spec{{Name: "kraken"}})
	require.Error(t, err)
}

func TestRegistryRejectsEmpty(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)
}

func TestOKXInstID(t *testing.T) {
	cases := []struct {
		symbol, marketType, want string
	}{
		{"BTCUSDT", "swap", "BTC-USDT-SWAP"},
		{"BTCUSDT", "spot", "BTC-USDT"},
		{"ethusdc", "spot", "ETH-USDC"},
		{"BTC-USDT", "swap", "BTC-USDT-SWAP"},
		{"BTC-USDT-SWAP", "swap", "BTC-USDT-SWAP"},
	}
	for _, c := range cases {
		got, err := okxInstID(c.symbol, c.marketType)
		require.NoError(t, err, c.symbol)
		assert.Equal(t, c.want, got, c.symbol)
	}

	_, err := okxInstID("BTC", "swap")
	assert.Error(t, err)
}

func TestOKXSymbolRoundTrip(t *testing.T) {
	assert.Equal(t, "BTCUSDT", okxSymbol("BTC-USDT-SWAP"))
	assert.Equal(t, "ETHUSDC", okxSymbol("ETH-USDC"))
}

func TestDecimalPlaces(t *testing.T) {
	assert.Equal(t, 2, decimalPlaces("0.01"))
	assert.Equal(t, 0, decimalPlaces("1"))
	assert.Equal(t, 1, decimalPlaces("0.100"))
}
