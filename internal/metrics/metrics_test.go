package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFeed(t *testing.T) {
	c := NewCollector("test")
	c.RecordFeed("boiler", true)
	c.RecordFeed("boiler", true)
	c.RecordFeed("boiler", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FeedsTotal.WithLabelValues("boiler", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FeedsTotal.WithLabelValues("boiler", "rejected")))
}

func TestRecordUploadAndStateChange(t *testing.T) {
	c := NewCollector("test")
	c.RecordUpload("analog", ResultOK)
	c.RecordUpload("analog", ResultError)
	c.RecordStateChange("burner", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.UploadsTotal.WithLabelValues("analog", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.UploadsTotal.WithLabelValues("analog", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StateChangesTotal.WithLabelValues("burner", "on")))
}

func TestSetMQTTConnected(t *testing.T) {
	c := NewCollector("test")
	c.SetMQTTConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MQTTConnected))
	c.SetMQTTConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.MQTTConnected))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")
	a.CounterWrapsTotal.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CounterWrapsTotal))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("boiler")
	c.CounterRegressionsTotal.Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boiler_counter_regressions_total 1")
}
