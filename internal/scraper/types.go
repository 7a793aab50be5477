package scraper

// Item is one ad card as found on a listing page. A nil field means the
// card had no element matching that field's selectors.
type Item struct {
	Name      *string
	PriceRaw  *string
	Address   *string
	ImageLink *string
}

// Selectors is the extraction table for one site layout. Each field lists
// selectors relative to the card, tried in order; the first match wins.
type Selectors struct {
	CardSelector     string   `yaml:"card_selector"`
	NameSelectors    []string `yaml:"name_selectors"`
	PriceSelectors   []string `yaml:"price_selectors"`
	AddressSelectors []string `yaml:"address_selectors"`
	ImageSelectors   []string `yaml:"image_selectors"`
	// ImageAttrs is the attribute fallback order for the image element.
	ImageAttrs []string `yaml:"image_attrs"`
}

// DefaultSelectors matches the coinafrique category page markup.
func DefaultSelectors() *Selectors {
	return &Selectors{
		CardSelector:     "div.col.s6.m4.l3",
		NameSelectors:    []string{"p.ad__card-description"},
		PriceSelectors:   []string{"p.ad__card-price"},
		AddressSelectors: []string{"p.ad__card-location"},
		ImageSelectors:   []string{"img.ad__card-img"},
		ImageAttrs:       []string{"src", "data-src"},
	}
}

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldAttr
)

type fieldRule struct {
	name      string
	selectors []string
	kind      fieldKind
	attrs     []string
	set       func(*Item, *string)
}

func (s *Selectors) rules() []fieldRule {
	return []fieldRule{
		{name: "name", selectors: s.NameSelectors, kind: fieldText, set: func(it *Item, v *string) { it.Name = v }},
		{name: "price", selectors: s.PriceSelectors, kind: fieldText, set: func(it *Item, v *string) { it.PriceRaw = v }},
		{name: "address", selectors: s.AddressSelectors, kind: fieldText, set: func(it *Item, v *string) { it.Address = v }},
		{name: "image", selectors: s.ImageSelectors, kind: fieldAttr, attrs: s.ImageAttrs, set: func(it *Item, v *string) { it.ImageLink = v }},
	}
}
