package main

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// sinaSource lists A-share annual reports from the Sina Finance bulletin
// pages. Year filtering is left to the catalog builder.
type sinaSource struct {
	resolver  *TemplateResolver
	templates []string
	baseURL   string
}

func newSinaSource(mc MarketConfig, r *TemplateResolver) *sinaSource {
	return &sinaSource{resolver: r, templates: mc.URLTemplates, baseURL: mc.BaseURL}
}

func (s *sinaSource) FetchCatalog(ctx context.Context, code string, _ Query) ([]ReportEntry, error) {
	entries, _, err := s.resolver.Resolve(ctx, s.templates, code, func(doc *goquery.Document, pageURL string) []ReportEntry {
		base := s.baseURL
		if base == "" {
			base = siteRoot(pageURL)
		}
		return ParseListing(doc, MarketCN, code, base)
	})
	return entries, err
}
