// Package tarbit discovers triangle arbitrage sets on an exchange and
// estimates their profit from current books.
package tarbit

import (
	"sort"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// DefaultMinStableVolume is the 24h stable volume a product needs to be
// considered for triangles.
const DefaultMinStableVolume = 10000

// FilterProducts keeps online products whose 24h stable volume exceeds
// minVolume. A volume of -1 means no conversion was available and passes.
// A minVolume of 0 disables the volume check.
func FilterProducts(products []domain.Product, minVolume float64) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Status != domain.ProductOnline {
			continue
		}
		if minVolume > 0 && p.Volume24hStable != -1 && p.Volume24hStable <= minVolume {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FindSets returns every triangle that can be formed from products: buy the
// first leg's base with its quote, buy the second leg's base with that, then
// sell it back into the first leg's quote through the third leg.
func FindSets(exchangeID domain.ExchangeID, products []domain.Product) []domain.TriangleSet {
	byPair := make(map[string]domain.Product, len(products))
	byQuote := make(map[string][]domain.Product)
	for _, p := range products {
		byPair[p.Pair()] = p
		byQuote[p.QuoteCurrency] = append(byQuote[p.QuoteCurrency], p)
	}

	var sets []domain.TriangleSet
	for _, first := range products {
		for _, second := range byQuote[first.BaseCurrency] {
			third, ok := byPair[domain.MakePair(second.BaseCurrency, first.QuoteCurrency)]
			if !ok {
				continue
			}
			sets = append(sets, domain.TriangleSet{
				ExchangeID: exchangeID,
				First:      first,
				Second:     second,
				Third:      third,
			})
		}
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].Key() < sets[j].Key() })
	return sets
}
