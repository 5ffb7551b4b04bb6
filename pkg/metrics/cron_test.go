package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsSplitsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("guest-cart-sweep", 250*time.Millisecond, nil)
	m.ObserveRun("guest-cart-sweep", time.Second, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, nil)
	m.AddProcessed("guest-cart-sweep", "abandoned", 3)
	m.AddProcessed("guest-cart-sweep", "skipped", 0)

	expected := `
# HELP cartreserve_cron_job_runs_total Cron job runs by result.
# TYPE cartreserve_cron_job_runs_total counter
cartreserve_cron_job_runs_total{job="guest-cart-sweep",result="failure"} 1
cartreserve_cron_job_runs_total{job="guest-cart-sweep",result="success"} 1
cartreserve_cron_job_runs_total{job="unknown",result="success"} 1
# HELP cartreserve_cron_items_processed_total Items handled by cron jobs, partitioned by outcome.
# TYPE cartreserve_cron_items_processed_total counter
cartreserve_cron_items_processed_total{job="guest-cart-sweep",outcome="abandoned"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cartreserve_cron_job_runs_total", "cartreserve_cron_items_processed_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}

	sweep := histogram(t, reg, "cartreserve_cron_job_duration_seconds", "guest-cart-sweep")
	if sweep.GetSampleCount() != 2 || sweep.GetSampleSum() != 1.25 {
		t.Fatalf("duration histogram count=%d sum=%f", sweep.GetSampleCount(), sweep.GetSampleSum())
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("guest-cart-sweep")); got <= 0 {
		t.Fatalf("last success timestamp not set: %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	cron.ObserveRun("x", time.Second, nil)
	cron.AddProcessed("x", "y", 1)
	var res *ReservationMetrics
	res.ObserveAdjust("cart-add", "ok", time.Millisecond)
	res.IncLowStock()
	var h *HTTPMetrics
	h.Observe("GET", "/x", 200, time.Millisecond)
	var o *OutboxMetrics
	o.Observe("cart_merged", "published")

	unregistered := NewCronJobMetrics(nil)
	unregistered.ObserveRun("x", time.Second, errors.New("boom"))
}

func histogram(t *testing.T, reg *prometheus.Registry, name, job string) *dto.Histogram {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetHistogram()
				}
			}
		}
	}
	t.Fatalf("histogram %s{job=%q} not found", name, job)
	return nil
}
