package scraper

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"coinafrique-scraper/internal/normalize"
)

type Scraper struct {
	selectors *Selectors
	rules     []fieldRule
	text      normalize.TextOptions
}

func NewScraper(selectors *Selectors, text normalize.TextOptions) *Scraper {
	if selectors == nil {
		selectors = DefaultSelectors()
	}
	return &Scraper{
		selectors: selectors,
		rules:     selectors.rules(),
		text:      text,
	}
}

// Extract returns one Item per ad card on the page. A page without cards
// yields an empty slice; fields missing from a card are left nil.
func (s *Scraper) Extract(html []byte) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	cards := doc.Find(s.selectors.CardSelector)
	items := make([]Item, 0, cards.Length())

	cards.Each(func(_ int, card *goquery.Selection) {
		var item Item
		for _, rule := range s.rules {
			rule.set(&item, s.extractField(card, rule))
		}
		items = append(items, item)
	})

	return items, nil
}

func (s *Scraper) extractField(card *goquery.Selection, rule fieldRule) *string {
	el := firstMatch(card, rule.selectors)
	if el == nil {
		return nil
	}

	switch rule.kind {
	case fieldAttr:
		for _, attr := range rule.attrs {
			if v, ok := el.Attr(attr); ok && v != "" {
				v = normalize.URL(v)
				return &v
			}
		}
		return nil
	default:
		text := normalize.Text(el.Text(), s.text)
		return &text
	}
}

// firstMatch tries selectors in order and returns the first element found.
func firstMatch(card *goquery.Selection, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if sel := card.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}
