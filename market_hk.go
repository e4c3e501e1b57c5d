package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// HKEX title search: headline category "Financial Statements/ESG
// Information" (40000), sub-category "Annual Report" (40100).
var hkexSearchDefaults = url.Values{
	"lang":         {"ZH"},
	"category":     {"0"},
	"market":       {"SEHK"},
	"searchType":   {"1"},
	"documentType": {"-1"},
	"t1code":       {"40000"},
	"t2Gcode":      {"-2"},
	"t2code":       {"40100"},
	"MB-Daterange": {"0"},
	"title":        {""},
}

var reReleaseDate = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)

// hkexSource finds Hong Kong annual reports with the HKEX news title search.
type hkexSource struct {
	fetcher *Fetcher
	cfg     MarketConfig
	logger  *zap.Logger
	now     func() time.Time
}

func newHKEXSource(mc MarketConfig, f *Fetcher, logger *zap.Logger) *hkexSource {
	return &hkexSource{fetcher: f, cfg: mc, logger: logger, now: time.Now}
}

func (s *hkexSource) FetchCatalog(ctx context.Context, code string, q Query) ([]ReportEntry, error) {
	stockID, err := s.lookupStockID(ctx, code)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var all []ReportEntry
	for _, w := range s.windows(q) {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		entries, err := s.search(ctx, stockID, code, w)
		if err != nil {
			s.logger.Warn("hkex search failed",
				zap.String("code", code),
				zap.String("from", w.From),
				zap.String("to", w.To),
				zap.Error(err))
			continue
		}
		for _, e := range entries {
			if _, dup := seen[e.DocumentURL]; dup {
				continue
			}
			seen[e.DocumentURL] = struct{}{}
			all = append(all, e)
		}
	}
	return all, nil
}

// windows is one search per calendar year, each reaching to the end of the
// following year when reports are published. An explicit window is searched
// as is.
func (s *hkexSource) windows(q Query) []DateWindow {
	if q.Window != nil {
		return []DateWindow{*q.Window}
	}
	var out []DateWindow
	for _, y := range q.Years.Span(s.now(), s.cfg.DefaultYearsBack) {
		out = append(out, DateWindow{
			From: fmt.Sprintf("%d0101", y),
			To:   fmt.Sprintf("%d1231", y+1),
		})
	}
	return out
}

type hkexPrefixResponse struct {
	StockInfo []struct {
		StockID int    `json:"stockId"`
		Code    string `json:"code"`
		Name    string `json:"name"`
	} `json:"stockInfo"`
}

// lookupStockID maps a five-digit code to the internal HKEX stock id via the
// JSONP prefix endpoint.
func (s *hkexSource) lookupStockID(ctx context.Context, code string) (int, error) {
	params := url.Values{
		"callback": {"callback"},
		"lang":     {"ZH"},
		"type":     {"A"},
		"name":     {code},
		"market":   {"SEHK"},
	}
	page, err := s.fetcher.Get(ctx, s.cfg.PrefixURL+"?"+params.Encode(), s.headers())
	if err != nil {
		return 0, fmt.Errorf("stock id %s: %w", code, err)
	}
	if page.Status != http.StatusOK {
		return 0, fmt.Errorf("stock id %s: %w", code, errUnexpectedStatus(page.Status))
	}

	var resp hkexPrefixResponse
	if err := json.Unmarshal(unwrapJSONP(page.Body), &resp); err != nil {
		return 0, fmt.Errorf("stock id %s: malformed JSONP: %w", code, err)
	}
	for _, info := range resp.StockInfo {
		if info.Code == code {
			return info.StockID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrStockNotFound, code)
}

// unwrapJSONP returns the payload between the outer parentheses of
// `callback({...});`.
func unwrapJSONP(b []byte) []byte {
	text := strings.TrimSpace(string(b))
	start := strings.Index(text, "(")
	end := strings.LastIndex(text, ")")
	if start < 0 || end <= start {
		return []byte(text)
	}
	return []byte(text[start+1 : end])
}

func (s *hkexSource) search(ctx context.Context, stockID int, code string, w DateWindow) ([]ReportEntry, error) {
	form := url.Values{}
	for k, v := range hkexSearchDefaults {
		form[k] = v
	}
	form.Set("stockId", strconv.Itoa(stockID))
	form.Set("from", w.From)
	form.Set("to", w.To)

	page, err := s.fetcher.PostForm(ctx, s.cfg.SearchURL, form, s.headers())
	if err != nil {
		return nil, err
	}
	if page.Status != http.StatusOK {
		return nil, errUnexpectedStatus(page.Status)
	}
	doc, _, err := page.Document()
	if err != nil {
		return nil, err
	}
	return s.parseResults(doc, code), nil
}

// parseResults reads the PDF links of a search result page.
func (s *hkexSource) parseResults(doc *goquery.Document, code string) []ReportEntry {
	base := s.cfg.BaseURL
	if base == "" {
		base = siteRoot(s.cfg.SearchURL)
	}
	var entries []ReportEntry
	doc.Find(`a[href*="/listedco/listconews/"]`).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return
		}
		title := strings.TrimSpace(a.Text())
		date := releaseDate(a.Closest("tr").Text())
		y, _ := ExtractYear(title)
		link := absoluteURL(base, href)
		entries = append(entries, ReportEntry{
			Market:      MarketHK,
			StockCode:   code,
			Title:       title,
			Date:        date,
			Year:        y,
			DetailURL:   link,
			DocumentURL: link,
		})
	})
	return entries
}

// releaseDate converts the first DD/MM/YYYY of a result row to YYYY-MM-DD.
func releaseDate(row string) string {
	m := reReleaseDate.FindStringSubmatch(row)
	if m == nil {
		return ""
	}
	return m[3] + "-" + m[2] + "-" + m[1]
}

func (s *hkexSource) headers() http.Header {
	return http.Header{"Referer": {s.cfg.SearchURL}}
}
