package exchange

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignKnownVector(t *testing.T) {
	// Пример из документации Binance
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", Sign(payload, secret))
}

func TestSignQueryDeterministic(t *testing.T) {
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")
	params.Set("quantity", "0.001")

	first := SignQuery(params, "secret")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, SignQuery(params, "secret"))
	}
	assert.NotContains(t, first, "timestamp", "метка времени не добавляется сама")
	assert.NotEqual(t, first, SignQuery(params, "other-secret"))
}

func TestSignQueryCanonicalOrder(t *testing.T) {
	params := url.Values{}
	params.Set("zeta", "1")
	params.Set("alpha", "a b&c")
	params.Set("mid", "2")

	signed := SignQuery(params, "secret")

	idx := strings.LastIndex(signed, "&signature=")
	assert.Greater(t, idx, 0, "signature последний параметр")
	canonical := signed[:idx]
	assert.Equal(t, "alpha=a+b%26c&mid=2&zeta=1", canonical)
	assert.Equal(t, Sign(canonical, "secret"), signed[idx+len("&signature="):])
}

func TestSignQueryEmptyParams(t *testing.T) {
	signed := SignQuery(url.Values{}, "secret")
	assert.Equal(t, "signature="+Sign("", "secret"), signed)
}
