// Package metrics exposes the live benchmark state in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
	"github.com/ciricc/go-stream-bench/internal/monitor"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

const MetricPrefix = "streambench_"

var (
	trialStreamsDesc = prometheus.NewDesc(
		MetricPrefix+"trial_streams",
		"Stream count of the running trial",
		nil,
		nil,
	)
	streamsDesc = prometheus.NewDesc(
		MetricPrefix+"streams",
		"Streams of the running trial by state",
		[]string{"state"},
		nil,
	)
)

// Collector reads trial state on scrape and records samples and trial results
// as they are produced.
type Collector struct {
	status monitor.StatusReader

	readIOPS      prometheus.Gauge
	writeIOPS     prometheus.Gauge
	cpuPercent    prometheus.Gauge
	samplesTotal  prometheus.Counter
	trialsTotal   *prometheus.CounterVec
	maxSuccessful prometheus.Gauge

	registry *prometheus.Registry
}

func NewCollector(status monitor.StatusReader, labels prometheus.Labels) *Collector {
	c := &Collector{
		status: status,
		readIOPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        MetricPrefix + "disk_read_iops",
			Help:        "Disk read operations per second at the last sample",
			ConstLabels: labels,
		}),
		writeIOPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        MetricPrefix + "disk_write_iops",
			Help:        "Disk write operations per second at the last sample",
			ConstLabels: labels,
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        MetricPrefix + "cpu_percent",
			Help:        "Host CPU utilization at the last sample",
			ConstLabels: labels,
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        MetricPrefix + "samples_total",
			Help:        "Number of host metric samples taken",
			ConstLabels: labels,
		}),
		trialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        MetricPrefix + "trials_total",
			Help:        "Number of finished trials by verdict",
			ConstLabels: labels,
		}, []string{"verdict"}),
		maxSuccessful: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        MetricPrefix + "max_successful_streams",
			Help:        "Highest stream count that passed so far",
			ConstLabels: labels,
		}),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(c, c.readIOPS, c.writeIOPS, c.cpuPercent, c.samplesTotal, c.trialsTotal, c.maxSuccessful)
	return c
}

func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- trialStreamsDesc
	desc <- streamsDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	counts := c.status.Counts()
	metrics <- prometheus.MustNewConstMetric(trialStreamsDesc, prometheus.GaugeValue, float64(c.status.Trial()))
	metrics <- prometheus.MustNewConstMetric(streamsDesc, prometheus.GaugeValue, float64(counts.Active), "active")
	metrics <- prometheus.MustNewConstMetric(streamsDesc, prometheus.GaugeValue, float64(counts.Failed), "failed")
}

func (c *Collector) ObserveSample(s sample.Sample) {
	c.readIOPS.Set(float64(s.ReadIOPS))
	c.writeIOPS.Set(float64(s.WriteIOPS))
	c.cpuPercent.Set(s.CPUPercent)
	c.samplesTotal.Inc()
}

func (c *Collector) ObserveTrial(r benchreport.TrialResult) {
	if r.Passed() {
		c.trialsTotal.WithLabelValues("passed").Inc()
		c.maxSuccessful.Set(float64(r.RequestedStreams))
		return
	}
	c.trialsTotal.WithLabelValues("failed").Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics until Stop.
type Server struct {
	http *http.Server
	lis  net.Listener
	log  *slog.Logger
}

func Listen(addr string, c *Collector, log *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		http: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis:  lis,
		log:  log,
	}, nil
}

func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

func (s *Server) Serve() {
	s.log.Info("Metrics endpoint listening", "addr", s.Addr())
	if err := s.http.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("Metrics endpoint stopped", "error", err)
	}
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn("Metrics endpoint shutdown", "error", err)
	}
}

var (
	_ prometheus.Collector   = (*Collector)(nil)
	_ monitor.SampleObserver = (*Collector)(nil)
)
