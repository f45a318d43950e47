package core

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsRecorderCounts(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	ctx := context.Background()

	rec.Observe(ctx, OpCreateSession, true, 12*time.Millisecond)
	rec.Observe(ctx, OpCreateSession, true, 8*time.Millisecond)
	rec.Observe(ctx, OpCreateSession, false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues(string(OpCreateSession), "success")); got != 2 {
		t.Fatalf("success counter %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues(string(OpCreateSession), "error")); got != 1 {
		t.Fatalf("error counter %v", got)
	}
	if got := testutil.CollectAndCount(rec.durations, "sessioncore_operation_duration_seconds"); got != 1 {
		t.Fatalf("expected 1 duration series, got %d", got)
	}
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	rec.Observe(context.Background(), OpPurgeExpired, true, 3*time.Millisecond)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `sessioncore_operations_total{operation="purge_expired",status="success"} 1`) {
		t.Fatalf("counter missing from exposition:\n%s", text)
	}
	if !strings.Contains(text, "sessioncore_operation_duration_seconds_count") {
		t.Fatalf("histogram missing from exposition:\n%s", text)
	}
}

func TestPrometheusRecorderIsServiceMetricsRecorder(t *testing.T) {
	var _ MetricsRecorder = NewPrometheusMetricsRecorder()
}
