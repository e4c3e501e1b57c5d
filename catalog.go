package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReportSource lists the annual reports of one identifier on one market.
type ReportSource interface {
	FetchCatalog(ctx context.Context, code string, q Query) ([]ReportEntry, error)
}

type unsupportedSource struct{ market Market }

func (s unsupportedSource) FetchCatalog(context.Context, string, Query) ([]ReportEntry, error) {
	return nil, fmt.Errorf("%w: %s", ErrMarketNotImplemented, s.market)
}

// Catalog is the outcome of one Build: downloadable entries plus the
// identifiers that produced nothing.
type Catalog struct {
	Entries    []ReportEntry
	Invalid    []string         // rejected by the code format check
	Missing    []string         // lookup failed or returned nothing
	Errors     map[string]error // code -> lookup error
	Unresolved int              // entries dropped for lack of a document link
}

// CatalogBuilder turns identifiers into entries ready for the downloader.
type CatalogBuilder struct {
	sources map[Market]ReportSource
	links   *LinkResolver
	logger  *zap.Logger
	metrics *crawlMetrics
}

func NewCatalogBuilder(cfg Config, f *Fetcher, logger *zap.Logger, m *crawlMetrics) *CatalogBuilder {
	cn := cfg.Market(MarketCN)
	return &CatalogBuilder{
		sources: map[Market]ReportSource{
			MarketCN: newSinaSource(cn, NewTemplateResolver(f, cn.PlaceholderMarkers, logger)),
			MarketHK: newHKEXSource(cfg.Market(MarketHK), f, logger),
			MarketUS: unsupportedSource{market: MarketUS},
		},
		links:   NewLinkResolver(f, cfg.DocumentExt, logger),
		logger:  logger,
		metrics: m,
	}
}

func (b *CatalogBuilder) source(m Market) ReportSource {
	if s, ok := b.sources[m]; ok {
		return s
	}
	return unsupportedSource{market: m}
}

// Build looks up every identifier in turn. A failing identifier is recorded
// and skipped; only a cancelled context stops the loop early.
func (b *CatalogBuilder) Build(ctx context.Context, market Market, codes []string, q Query, progress ProgressFunc) (Catalog, error) {
	cat := Catalog{Errors: map[string]error{}}
	src := b.source(market)
	seen := make(map[string]struct{})
	total := len(codes)

	for i, raw := range codes {
		if err := ctx.Err(); err != nil {
			return cat, err
		}
		log := b.logger.With(zap.String("market", string(market)), zap.String("code", raw))

		code, err := NormalizeCode(market, raw)
		if err != nil {
			log.Warn("skip identifier", zap.Error(err))
			cat.Invalid = append(cat.Invalid, raw)
			b.metrics.listing(market, "invalid")
			progress.report(i+1, total, "%s: invalid identifier", raw)
			continue
		}

		progress.report(i, total, "%s: fetching report list", code)
		entries, err := src.FetchCatalog(ctx, code, q)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cat, ctxErr
		}
		if err != nil {
			log.Warn("report list unavailable", zap.Error(err))
			cat.Errors[code] = err
		}
		entries = FilterByYear(entries, q.Years)
		if len(entries) == 0 {
			cat.Missing = append(cat.Missing, code)
			b.metrics.listing(market, "missing")
			progress.report(i+1, total, "%s: no reports in %s", code, q.Years)
			continue
		}
		b.metrics.listing(market, "found")

		kept := 0
		for _, e := range entries {
			if e.DocumentURL == "" {
				link, err := b.links.Resolve(ctx, e.DetailURL)
				if err != nil {
					log.Warn("no document for entry", zap.String("title", e.Title), zap.String("url", e.DetailURL), zap.Error(err))
					cat.Unresolved++
					b.metrics.document(market, "missing")
					if ctx.Err() != nil {
						return cat, ctx.Err()
					}
					continue
				}
				e.DocumentURL = link
			}
			b.metrics.document(market, "found")
			if _, dup := seen[e.DocumentURL]; dup {
				continue
			}
			seen[e.DocumentURL] = struct{}{}
			cat.Entries = append(cat.Entries, e)
			kept++
		}
		log.Info("reports listed", zap.Int("listed", len(entries)), zap.Int("kept", kept))
		progress.report(i+1, total, "%s: %d reports", code, kept)
	}
	return cat, nil
}

// FilterByYear keeps entries inside r. Undated entries only pass an open
// range.
func FilterByYear(entries []ReportEntry, r YearRange) []ReportEntry {
	var out []ReportEntry
	for _, e := range entries {
		if r.Contains(e.Year) {
			out = append(out, e)
		}
	}
	return out
}
