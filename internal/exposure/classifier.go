package exposure

import (
	"strings"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// categoryKeywords maps each category to the substrings that select it.
// Matching runs in the fixed priority order of domain.Categories, so an
// instrument matching both "aave" and "steth" classifies as lending.
var categoryKeywords = map[domain.Category][]string{
	domain.CategoryLending: {"aave", "compound", "spark", "morpho", "atoken", "adebt", "supply", "borrow"},
	domain.CategoryStaking: {"steth", "wsteth", "reth", "cbeth", "lido", "stake", "lst"},
	domain.CategoryBasis:   {"perp", "futures", "basis"},
	domain.CategoryFunding: {"funding"},
	domain.CategoryDelta:   {"spot", "eth", "btc", "sol"},
}

// Classify buckets an instrument key into an exposure category by keyword.
// Unmatched keys fall through to CategoryOther.
func Classify(instrumentKey string) domain.Category {
	key := strings.ToLower(instrumentKey)
	for _, cat := range domain.Categories {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(key, kw) {
				return cat
			}
		}
	}
	return domain.CategoryOther
}
