package source

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// extractListings pulls one RawListing per item selector match. Links and
// image URLs are resolved against base so relative hrefs survive.
func extractListings(doc *goquery.Document, base *url.URL, sel config.SelectorConfig) []ticket.RawListing {
	var listings []ticket.RawListing
	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		listings = append(listings, listingFromSelection(item, base, sel))
	})
	return listings
}

func listingFromSelection(item *goquery.Selection, base *url.URL, sel config.SelectorConfig) ticket.RawListing {
	return ticket.RawListing{
		Title:              textOf(item, sel.Title),
		Genre:              textOf(item, sel.Genre),
		Place:              textOf(item, sel.Place),
		OpenDateRaw:        textOf(item, sel.OpenDate),
		PerformanceDateRaw: textOf(item, sel.PerformanceDate),
		URL:                resolveAttr(item, base, sel.Link, linkAttr(sel)),
		ImageURL:           resolveAttr(item, base, sel.Image, "src"),
	}
}

func textOf(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(item.Find(selector).First().Text())
}

// resolveAttr reads attr from the first selector match, or from the item
// itself when selector is empty, and resolves it against base.
func resolveAttr(item *goquery.Selection, base *url.URL, selector, attr string) string {
	target := item
	if selector != "" {
		target = item.Find(selector).First()
	}
	raw, ok := target.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func linkAttr(sel config.SelectorConfig) string {
	if sel.LinkAttr != "" {
		return sel.LinkAttr
	}
	return "href"
}
