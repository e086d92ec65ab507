package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms a Store exposes. Each
// long-lived component gets its own registered collector set rather than
// reaching for the global registry from inside business logic.
type Metrics struct {
	writes     *prometheus.CounterVec
	reads      *prometheus.CounterVec
	removes    *prometheus.CounterVec
	checks     *prometheus.CounterVec
	crawlValid prometheus.Counter
	crawlBroke prometheus.Counter
	writeBytes prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics set against reg. Passing
// a fresh prometheus.NewRegistry() per Store keeps parallel tests from
// colliding on collector names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Store write operations by outcome.",
		}, []string{"outcome"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "reads_total",
			Help:      "Store read operations by outcome.",
		}, []string{"outcome"}),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "removes_total",
			Help:      "Store remove operations by outcome.",
		}, []string{"outcome"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "checks_total",
			Help:      "Store check operations by outcome.",
		}, []string{"outcome"}),
		crawlValid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "crawl_valid_entries_total",
			Help:      "Entries found valid across all crawls.",
		}),
		crawlBroke: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "crawl_broken_entries_total",
			Help:      "Entries found broken across all crawls.",
		}),
		writeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hbackup",
			Subsystem: "store",
			Name:      "write_bytes",
			Help:      "Uncompressed size of written content.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
	reg.MustRegister(m.writes, m.reads, m.removes, m.checks, m.crawlValid, m.crawlBroke, m.writeBytes)
	return m
}

func (m *Metrics) observeWrite(outcome string, size int64) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
	m.writeBytes.Observe(float64(size))
}

func (m *Metrics) observeRead(outcome string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRemove(outcome string) {
	if m == nil {
		return
	}
	m.removes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCheck(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCrawl(valid, broken int) {
	if m == nil {
		return
	}
	m.crawlValid.Add(float64(valid))
	m.crawlBroke.Add(float64(broken))
}
