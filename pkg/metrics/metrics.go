// Package metrics exports engine activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/akhildatla/engine25519/pkg/vm"
)

const namespace = "engine25519"

// CycleBuckets covers single-instruction runs up to long ladder loops.
var CycleBuckets = prometheus.ExponentialBuckets(8, 4, 10)

// Collector implements vm.RunObserver.
type Collector struct {
	runs         *prometheus.CounterVec
	instructions *prometheus.CounterVec
	cycles       prometheus.Histogram
}

var _ vm.RunObserver = (*Collector)(nil)

// NewCollector creates the engine metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Microcode runs by outcome.",
		}, []string{"outcome"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_total",
			Help:      "Retired instructions by opcode.",
		}, []string{"opcode"}),
		cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_cycles",
			Help:      "Clock cycles per run.",
			Buckets:   CycleBuckets,
		}),
	}

	for _, col := range []prometheus.Collector{c.runs, c.instructions, c.cycles} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// InstructionRetired counts one instruction.
func (c *Collector) InstructionRetired(op vm.Opcode) {
	c.instructions.WithLabelValues(op.String()).Inc()
}

// RunEnded records the run outcome and length.
func (c *Collector) RunEnded(r vm.RunReport) {
	c.runs.WithLabelValues(r.Outcome.String()).Inc()
	c.cycles.Observe(float64(r.Cycles))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
