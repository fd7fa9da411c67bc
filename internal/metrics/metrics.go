// Package metrics exposes run progress as Prometheus collectors fed by
// dispatcher events.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/logging"
)

const namespace = "stepflow"

// Collector owns its registry so that several runs in one process do not
// share counters.
type Collector struct {
	reg *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	tests        *prometheus.CounterVec
	testDuration prometheus.Histogram
	hooksFailed  prometheus.Counter
	running      prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Finished steps by status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Finished tests by state.",
		}, []string{"state"}),
		testDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Test execution time including hooks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		hooksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hooks_failed_total",
			Help:      "Failed hooks.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tests_running",
			Help:      "Tests currently executing.",
		}),
	}
	c.reg.MustRegister(c.steps, c.stepDuration, c.tests, c.testDuration, c.hooksFailed, c.running)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Attach subscribes the collector to d and returns a func that detaches it.
func (c *Collector) Attach(d *events.Dispatcher) func() {
	offs := []func(){
		d.On(events.StepPassed, c.onStep),
		d.On(events.StepFailed, c.onStep),
		d.On(events.TestStarted, func(events.Event) { c.running.Inc() }),
		d.On(events.TestFinished, func(e events.Event) {
			c.running.Dec()
			if e.Test == nil {
				return
			}
			state := "passed"
			if e.Err != nil {
				state = "failed"
			}
			c.tests.WithLabelValues(state).Inc()
			if !e.Test.StartedAt.IsZero() {
				c.testDuration.Observe(time.Since(e.Test.StartedAt).Seconds())
			}
		}),
		d.On(events.TestSkipped, func(events.Event) { c.tests.WithLabelValues("skipped").Inc() }),
		d.On(events.HookFailed, func(events.Event) { c.hooksFailed.Inc() }),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (c *Collector) onStep(e events.Event) {
	if e.Step == nil {
		return
	}
	status := "passed"
	if e.Type == events.StepFailed {
		status = "failed"
	}
	c.steps.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(e.Step.Kind.String()).Observe(e.Step.Duration().Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
