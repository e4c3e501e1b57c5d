package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	entries map[string][]ReportEntry
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) FetchCatalog(_ context.Context, code string, _ Query) ([]ReportEntry, error) {
	f.calls = append(f.calls, code)
	return f.entries[code], f.errs[code]
}

func TestFilterByYear(t *testing.T) {
	var entries []ReportEntry
	for _, y := range []int{2021, 2022, 2023, 2024, 0} {
		entries = append(entries, ReportEntry{Title: fmt.Sprint(y), Year: y})
	}
	years := func(es []ReportEntry) []int {
		var out []int
		for _, e := range es {
			out = append(out, e.Year)
		}
		return out
	}

	assert.Equal(t, []int{2022, 2023}, years(FilterByYear(entries, YearRange{Start: 2022, End: 2023})))
	assert.Equal(t, []int{2021, 2022, 2023, 2024, 0}, years(FilterByYear(entries, YearRange{})))
	assert.Equal(t, []int{2024}, years(FilterByYear(entries, YearRange{Start: 2024})))
	assert.Equal(t, []int{2021}, years(FilterByYear(entries, YearRange{End: 2021})))
	assert.Empty(t, FilterByYear(nil, YearRange{Start: 2020}))
}

func TestCatalogBuilder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detail/1":
			fmt.Fprint(w, `<a href="/pdf/1.pdf">下载</a>`)
		case "/detail/2":
			fmt.Fprint(w, `<a href="/pdf/1.pdf">同一文件</a>`)
		case "/detail/nolink":
			fmt.Fprint(w, `<p>公告正文</p>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	f := testFetcher(t, cfg)

	src := &fakeSource{
		entries: map[string][]ReportEntry{
			"002202": {
				{Market: MarketCN, StockCode: "002202", Title: "2023年年度报告", Year: 2023, DetailURL: srv.URL + "/detail/1"},
				{Market: MarketCN, StockCode: "002202", Title: "2023年年度报告（更正）", Year: 2023, DetailURL: srv.URL + "/detail/2"},
				{Market: MarketCN, StockCode: "002202", Title: "2022年年度报告", Year: 2022, DetailURL: srv.URL + "/detail/nolink"},
				{Market: MarketCN, StockCode: "002202", Title: "2015年年度报告", Year: 2015, DetailURL: srv.URL + "/detail/old"},
				{Market: MarketCN, StockCode: "002202", Title: "已解析", Year: 2023, DocumentURL: srv.URL + "/pdf/direct.pdf"},
			},
			"000001": {
				{Market: MarketCN, StockCode: "000001", Title: "2010年年度报告", Year: 2010, DetailURL: srv.URL + "/detail/1"},
			},
		},
		errs: map[string]error{"600000": ErrNoListing},
	}

	m := newCrawlMetrics(prometheus.NewRegistry())
	b := &CatalogBuilder{
		sources: map[Market]ReportSource{MarketCN: src},
		links:   NewLinkResolver(f, "pdf", logger),
		logger:  logger,
		metrics: m,
	}

	var messages []string
	progress := func(_, total int, msg string) {
		assert.Equal(t, 5, total)
		messages = append(messages, msg)
	}

	codes := []string{"002202", "bad", "600000", "000001", "12345"}
	cat, err := b.Build(context.Background(), MarketCN, codes, Query{Years: YearRange{Start: 2020, End: 2023}}, progress)
	require.NoError(t, err)

	assert.Equal(t, []string{"002202", "600000", "000001"}, src.calls, "invalid codes are never looked up")
	assert.Equal(t, []string{"bad", "12345"}, cat.Invalid)
	assert.Equal(t, []string{"600000", "000001"}, cat.Missing)
	assert.ErrorIs(t, cat.Errors["600000"], ErrNoListing)
	assert.Equal(t, 1, cat.Unresolved)

	require.Len(t, cat.Entries, 2)
	assert.Equal(t, srv.URL+"/pdf/1.pdf", cat.Entries[0].DocumentURL)
	assert.Equal(t, "2023年年度报告", cat.Entries[0].Title)
	assert.Equal(t, srv.URL+"/pdf/direct.pdf", cat.Entries[1].DocumentURL)
	for _, e := range cat.Entries {
		assert.NotEmpty(t, e.DocumentURL)
	}

	assert.NotEmpty(t, messages)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.listings.WithLabelValues("cn", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.listings.WithLabelValues("cn", "missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listings.WithLabelValues("cn", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("cn", "missing")))
}

func TestCatalogBuilderUnsupportedMarket(t *testing.T) {
	cfg := testConfig()
	b := NewCatalogBuilder(cfg, testFetcher(t, cfg), zaptest.NewLogger(t), nil)

	cat, err := b.Build(context.Background(), MarketUS, []string{"AAPL", "msft"}, Query{}, nil)
	require.NoError(t, err)
	assert.Empty(t, cat.Entries)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cat.Missing)
	assert.True(t, errors.Is(cat.Errors["AAPL"], ErrMarketNotImplemented))
}

func TestCatalogBuilderCancelled(t *testing.T) {
	src := &fakeSource{}
	b := &CatalogBuilder{
		sources: map[Market]ReportSource{MarketCN: src},
		logger:  zaptest.NewLogger(t),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, MarketCN, []string{"002202"}, Query{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}
