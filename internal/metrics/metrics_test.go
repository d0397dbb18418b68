package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLocationUpdate()
	c.RecordLocationUpdate()
	c.RecordInvitationCreated()
	c.RecordInvitationRedeemed()
	c.RecordPushDelivery("expo", true)
	c.RecordPushDelivery("expo", false)
	c.RecordPushDelivery("expo", true)
	c.SetOnlineConnections(4)

	require.Equal(t, 2.0, testutil.ToFloat64(c.locationUpdates))
	require.Equal(t, 1.0, testutil.ToFloat64(c.invitationsMinted))
	require.Equal(t, 1.0, testutil.ToFloat64(c.invitationsUsed))
	require.Equal(t, 2.0, testutil.ToFloat64(c.pushDeliveries.WithLabelValues("expo", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pushDeliveries.WithLabelValues("expo", "error")))
	require.Equal(t, 4.0, testutil.ToFloat64(c.onlineConnections))
}

func TestCollector_HTTPRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("/api/v1/circles", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	c.RecordHTTPRequest("/api/v1/circles", http.MethodGet, http.StatusOK, 30*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/v1/circles", "GET", "200")))
	require.Equal(t, 1, testutil.CollectAndCount(c.httpDuration))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordInvitationCreated()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "circles_invitations_created_total 1")
}
