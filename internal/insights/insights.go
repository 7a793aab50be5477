// Package insights computes the dashboard figures over cleaned ads.
package insights

import (
	"sort"

	"coinafrique-scraper/internal/model"
)

const topAddresses = 10

type AddressCount struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

type Summary struct {
	Count        int            `json:"count"`
	AveragePrice int64          `json:"average_price"`
	MinPrice     int64          `json:"min_price"`
	MaxPrice     int64          `json:"max_price"`
	Categories   int            `json:"categories"`
	TopAddresses []AddressCount `json:"top_addresses"`
}

// Summarize keeps ads with 0 < price <= maxPrice and aggregates them.
// The average is truncated to an integer. Ads without an address count
// towards every figure except TopAddresses.
func Summarize(ads []model.CleanedAd, maxPrice int64) Summary {
	s := Summary{TopAddresses: []AddressCount{}}
	categories := make(map[string]struct{})
	addresses := make(map[string]int)

	var total int64
	for _, ad := range ads {
		if ad.Price == nil || *ad.Price <= 0 || *ad.Price > maxPrice {
			continue
		}
		p := *ad.Price

		if s.Count == 0 || p < s.MinPrice {
			s.MinPrice = p
		}
		if p > s.MaxPrice {
			s.MaxPrice = p
		}
		s.Count++
		total += p
		categories[ad.Category] = struct{}{}
		if ad.Address != nil && *ad.Address != "" {
			addresses[*ad.Address]++
		}
	}

	if s.Count == 0 {
		return s
	}
	s.AveragePrice = total / int64(s.Count)
	s.Categories = len(categories)

	for addr, n := range addresses {
		s.TopAddresses = append(s.TopAddresses, AddressCount{Address: addr, Count: n})
	}
	sort.Slice(s.TopAddresses, func(i, j int) bool {
		a, b := s.TopAddresses[i], s.TopAddresses[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Address < b.Address
	})
	if len(s.TopAddresses) > topAddresses {
		s.TopAddresses = s.TopAddresses[:topAddresses]
	}
	return s
}
