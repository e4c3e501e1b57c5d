package main

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testConfig is DefaultConfig with short timeouts, no retries and no pauses.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5
	cfg.RequestRetries = 0
	cfg.Delay = DelayConfig{}
	return cfg
}

func testFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	return NewFetcher(cfg, zaptest.NewLogger(t))
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// fakePDF is a payload that passes the size check; it is not a real PDF.
func fakePDF(size int) []byte {
	b := []byte(strings.Repeat("x", size))
	copy(b, "%PDF-1.4\n")
	return b
}
