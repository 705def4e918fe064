package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordLeaseCreated("random")
	m.RecordLeaseCreated("random")
	m.RecordLeaseCreated("custom")
	m.RecordLeasesExpired(3)
	m.RecordLeasesExpired(0)
	m.RecordQuotaRejection("create")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LeasesCreated.WithLabelValues("random")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeasesCreated.WithLabelValues("custom")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LeasesExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejections.WithLabelValues("create")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLeaseCreated("random")
		m.RecordNotificationDropped()
		m.RecordSweep(0)
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	// 两个实例各自使用独立 Registry，不会重复注册
	_ = NewMetrics()
	m := NewMetrics()
	m.RecordAddressCollision()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tempmail_address_collisions_total 1"))
}
