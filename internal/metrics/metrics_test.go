package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()

	r.Tick(TickOK, 0.2)
	r.Tick(TickOK, 0.1)
	r.Tick(TickSkippedBusy, 0)
	r.Decision(models.Decision{Decision: models.Long, Score: 25})
	r.Decision(models.Decision{Decision: models.Hold, Score: -3})
	r.Order(true)
	r.Order(false)
	r.Order(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Ticks.WithLabelValues(TickOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Ticks.WithLabelValues(TickSkippedBusy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Decisions.WithLabelValues("LONG")))
	assert.Equal(t, -3.0, testutil.ToFloat64(r.LastScore))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Orders.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.TickDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.Tick(TickMarketError, 0)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quantbot_ticks_total{result="market_error"} 1`)
	assert.Contains(t, string(body), "quantbot_last_score")
}
