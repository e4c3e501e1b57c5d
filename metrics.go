package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// crawlMetrics counts pipeline outcomes. A nil Registerer keeps the
// collectors unregistered.
type crawlMetrics struct {
	listings  *prometheus.CounterVec // market, result
	documents *prometheus.CounterVec // market, result
	downloads *prometheus.CounterVec // result
	fileBytes prometheus.Histogram
	waits     prometheus.Histogram
}

func newCrawlMetrics(reg prometheus.Registerer) *crawlMetrics {
	f := promauto.With(reg)
	return &crawlMetrics{
		listings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_crawler_listings_total",
			Help: "Identifier lookups by market and result (found, missing, invalid).",
		}, []string{"market", "result"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_crawler_documents_total",
			Help: "Detail pages resolved to a document link, by market and result.",
		}, []string{"market", "result"}),
		downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_crawler_downloads_total",
			Help: "Download tasks by result (downloaded, skipped, failed).",
		}, []string{"result"}),
		fileBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_crawler_file_size_bytes",
			Help:    "Size of archived documents.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		waits: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_crawler_wait_seconds",
			Help:    "Random pauses between downloads.",
			Buckets: prometheus.LinearBuckets(0, 5, 13),
		}),
	}
}

func (m *crawlMetrics) listing(market Market, result string) {
	if m != nil {
		m.listings.WithLabelValues(string(market), result).Inc()
	}
}

func (m *crawlMetrics) document(market Market, result string) {
	if m != nil {
		m.documents.WithLabelValues(string(market), result).Inc()
	}
}

func (m *crawlMetrics) download(result string, size int64) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Inc()
	if size > 0 {
		m.fileBytes.Observe(float64(size))
	}
}

func (m *crawlMetrics) wait(seconds float64) {
	if m != nil {
		m.waits.Observe(seconds)
	}
}
