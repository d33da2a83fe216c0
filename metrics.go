package frontdoor

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/metric"
	"github.com/One-com/gone/metric/sink/statsd"

	"github.com/One-com/frontdoor/config"
)

// Lifecycle metrics. They accumulate regardless of whether a sink is configured.
var (
	starts       = metric.RegisterCounter("frontdoor.lifecycle.start")
	startFails   = metric.RegisterCounter("frontdoor.lifecycle.start-fail")
	stops        = metric.RegisterCounter("frontdoor.lifecycle.stop")
	binds        = metric.RegisterCounter("frontdoor.listener.bind")
	bindFailures = metric.RegisterCounter("frontdoor.listener.bind-fail")
	closes       = metric.RegisterCounter("frontdoor.listener.close")
	bindTime     = metric.RegisterHistogram("frontdoor.listener.bind-ms")
)

// MetricsService pushes all registered metrics to a statsd server until
// its context is cancelled.
type MetricsService struct {
	Addr     string // statsd server to target. "!" writes to stdout.
	Prefix   string
	Interval time.Duration // how often to push data to statsd
}

// NewMetricsService creates a MetricsService from config.
// It returns nil if no statsd address is configured.
func NewMetricsService(cfg *config.MetricsConfig) *MetricsService {

	if cfg == nil || cfg.Address == "" {
		return nil
	}

	app := cfg.Application
	if app == "" {
		app = "frontdoor"
	}

	ident := cfg.Ident
	// guess my name if not set.
	if ident == "" {
		host, err := os.Hostname()
		if err != nil {
			ident = "unknown"
		} else {
			ident = strings.Split(host, ".")[0]
		}
	}
	prefix := app + "." + ident
	if cfg.Prefix != "" {
		prefix = cfg.Prefix
	}

	return &MetricsService{
		Addr:     cfg.Address,
		Prefix:   prefix,
		Interval: cfg.Interval.Duration,
	}
}

// Serve flushes metrics to statsd until ctx is done.
func (ms *MetricsService) Serve(ctx context.Context) (err error) {

	interval := ms.Interval
	if interval <= time.Second {
		interval = time.Second
	}

	var output statsd.Option
	if ms.Addr == "!" {
		output = statsd.Output(os.Stdout)
	} else {
		output = statsd.Peer(ms.Addr)
	}

	sink, err := statsd.New(
		output,
		statsd.Prefix(ms.Prefix),
		statsd.Buffer(1432))
	if err != nil {
		log.ERROR("Error initializing statsd sink", "err", err)
		return
	}

	log.INFO("Sending metrics", "interval", interval, "prefix", ms.Prefix, "addr", ms.Addr)

	metric.SetDefaultOptions(metric.FlushInterval(interval))
	metric.SetDefaultSink(sink)
	metric.Start()

	<-ctx.Done()

	metric.Stop() // block until all have flushed
	return
}
