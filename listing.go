package main

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	reListingDate   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	reBulletinHref  = regexp.MustCompile(`vCB_AllBulletinDetail|ndbg`)
	listingKeywords = []string{"日期列表", "年度报告"}
)

const (
	maxAncestorClimb = 3
	minRegionAnchors = 3
)

// regionLocator returns the part of a listing page holding report links, or
// nil when its heuristic does not apply.
type regionLocator struct {
	name   string
	locate func(doc *goquery.Document) *goquery.Selection
}

// Tried in order; the first non-nil region wins.
var regionLocators = []regionLocator{
	{"datelist", locateDateList},
	{"keyword", locateByKeyword},
	{"link-density", locateByLinkDensity},
}

func locateDateList(doc *goquery.Document) *goquery.Selection {
	if s := doc.Find("div.datelist ul").First(); s.Length() > 0 {
		return s
	}
	return nil
}

func locateByKeyword(doc *goquery.Document) *goquery.Selection {
	var region *goquery.Selection
	doc.Find("td, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		for _, kw := range listingKeywords {
			if strings.Contains(text, kw) {
				region = s
				return false
			}
		}
		return true
	})
	return region
}

func locateByLinkDensity(doc *goquery.Document) *goquery.Selection {
	first := doc.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return reBulletinHref.MatchString(a.AttrOr("href", ""))
	}).First()
	if first.Length() == 0 {
		return nil
	}
	node := first.Parent()
	for i := 0; i < maxAncestorClimb && node.Length() > 0; i++ {
		if countBulletinAnchors(node) >= minRegionAnchors {
			return node
		}
		node = node.Parent()
	}
	return nil
}

func countBulletinAnchors(s *goquery.Selection) int {
	return s.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return reBulletinHref.MatchString(a.AttrOr("href", ""))
	}).Length()
}

// locateRegion runs the locators in order and names the one that matched.
func locateRegion(doc *goquery.Document) (*goquery.Selection, string) {
	for _, l := range regionLocators {
		if s := l.locate(doc); s != nil && s.Length() > 0 {
			return s, l.name
		}
	}
	return nil, ""
}

// ParseListing turns every titled link of the listing region into an entry.
// Relative links are made absolute against baseURL.
func ParseListing(doc *goquery.Document, market Market, code, baseURL string) []ReportEntry {
	region, _ := locateRegion(doc)
	if region == nil {
		return nil
	}

	var entries []ReportEntry
	region.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		title := strings.TrimSpace(a.Text())
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if title == "" || href == "" {
			return
		}
		date := anchorDate(a)
		e := ReportEntry{
			Market:    market,
			StockCode: code,
			Title:     title,
			Date:      date,
			DetailURL: absoluteURL(baseURL, href),
		}
		e.Year = entryYear(title, date)
		entries = append(entries, e)
	})
	return entries
}

// entryYear prefers the year in the title over the publication date.
func entryYear(title, date string) int {
	if y, ok := ExtractYear(title); ok {
		return y
	}
	if y, ok := ExtractYearFromDate(date); ok {
		return y
	}
	return 0
}

// anchorDate reads the date printed right before a link ("2024-03-28&nbsp;<a>"),
// falling back to the first date in the parent's text.
func anchorDate(a *goquery.Selection) string {
	if n := a.Get(0); n != nil {
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == nethtml.ElementNode && prev.DataAtom == atom.Br {
				break
			}
			if prev.Type == nethtml.TextNode {
				if d := reListingDate.FindString(prev.Data); d != "" {
					return d
				}
				if strings.TrimSpace(prev.Data) != "" {
					break
				}
			}
		}
	}
	return reListingDate.FindString(a.Parent().Text())
}

// isPlaceholderPage reports whether a table cell's own text carries one of
// the "no data" markers the site renders for unknown codes. Text of nested
// elements does not count, and a page with a date list is never a
// placeholder.
func isPlaceholderPage(doc *goquery.Document, markers []string) bool {
	if region := locateDateList(doc); region != nil && region.Find("a[href]").Length() > 0 {
		return false
	}
	found := false
	doc.Find("td").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := ownText(s.Get(0))
		for _, m := range markers {
			if m != "" && strings.Contains(text, m) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// ownText joins the direct text children of n, trimmed.
func ownText(n *nethtml.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == nethtml.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

// absoluteURL joins href onto base without the dot-segment rules of
// url.ResolveReference: listing pages link relative to the site root.
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(html.UnescapeString(href))
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		scheme := "https"
		if u, err := url.Parse(base); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + ":" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	}
	return strings.TrimRight(base, "/") + "/" + href
}

// siteRoot is scheme://host of u, used when no base URL is configured.
func siteRoot(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return ""
	}
	return p.Scheme + "://" + p.Host
}
