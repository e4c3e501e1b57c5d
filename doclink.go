package main

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// FindDocumentLink returns the first link whose path ends in ".<ext>",
// resolved against the page it was found on.
func FindDocumentLink(doc *goquery.Document, pageURL, ext string) (string, bool) {
	suffix := "." + strings.ToLower(strings.TrimPrefix(ext, "."))
	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(html.UnescapeString(a.AttrOr("href", "")))
		if href == "" || !strings.HasSuffix(strings.ToLower(linkPath(href)), suffix) {
			return true
		}
		link = resolveRef(pageURL, href)
		return false
	})
	return link, link != ""
}

// linkPath drops the query and fragment of href.
func linkPath(href string) string {
	if u, err := url.Parse(href); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}

func resolveRef(base, href string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(hu).String()
}

// LinkResolver follows a detail page to its document.
type LinkResolver struct {
	fetcher *Fetcher
	ext     string
	logger  *zap.Logger
}

func NewLinkResolver(f *Fetcher, ext string, logger *zap.Logger) *LinkResolver {
	return &LinkResolver{fetcher: f, ext: ext, logger: logger}
}

func (r *LinkResolver) Resolve(ctx context.Context, detailURL string) (string, error) {
	page, err := r.fetcher.Get(ctx, detailURL, nil)
	if err != nil {
		return "", fmt.Errorf("detail %s: %w", detailURL, err)
	}
	if page.Status != http.StatusOK {
		return "", fmt.Errorf("detail %s: %w", detailURL, errUnexpectedStatus(page.Status))
	}
	doc, dec, err := page.Document()
	if err != nil {
		return "", err
	}
	if !dec.Valid {
		r.logger.Debug("detail page decoded lossy", zap.String("url", detailURL), zap.String("encoding", dec.Encoding))
	}
	link, ok := FindDocumentLink(doc, detailURL, r.ext)
	if !ok {
		return "", fmt.Errorf("%w on %s", ErrNoDocumentLink, detailURL)
	}
	return link, nil
}
