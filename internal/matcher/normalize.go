package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"panierfacile-pricing/pkg/models"
)

var (
	// quantityPattern matches leading amounts such as "500g", "2 unités"
	// or "1,5 kg"
	quantityPattern = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(?:kg|g|ml|cl|l|unités?|pièces?)(?:\s|$)`)
	multiSpace      = regexp.MustCompile(`\s+`)
)

// functionWords are dropped from search keywords
var functionWords = map[string]bool{
	"de":  true,
	"du":  true,
	"des": true,
	"le":  true,
	"la":  true,
	"les": true,
	"un":  true,
	"une": true,
}

// NormalizeKeyword turns a free-text ingredient into a search keyword:
// quantities and French function words are removed, case is kept.
// "500g de tomates cerises" becomes "tomates cerises".
func NormalizeKeyword(name string) string {
	text := quantityPattern.ReplaceAllString(name, " ")

	var kept []string
	for _, word := range strings.Fields(text) {
		lower := strings.ToLower(word)
		if functionWords[lower] {
			continue
		}
		for _, elided := range []string{"d'", "d’", "l'", "l’"} {
			if strings.HasPrefix(lower, elided) && len(lower) > len(elided) {
				word = word[len(elided):]
				break
			}
		}
		kept = append(kept, word)
	}

	return strings.TrimSpace(multiSpace.ReplaceAllString(strings.Join(kept, " "), " "))
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and strips diacritics so "Crème" and "creme" compare equal
func fold(s string) string {
	out, _, err := transform.String(accentFolder, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// Score rates how well productName matches ingredient, in [0, 1]: the
// share of ingredient words found in the product name, plus 0.2 when
// the whole ingredient appears verbatim, times 0.8 when the product
// name has more than three times as many words.
func Score(ingredient, productName string) float64 {
	keyword := NormalizeKeyword(ingredient)
	if keyword == "" {
		keyword = ingredient
	}
	ing := fold(keyword)
	prod := fold(productName)

	ingWords := wordSet(ing)
	if len(ingWords) == 0 {
		return 0
	}
	prodWords := wordSet(prod)

	common := 0
	for w := range ingWords {
		if prodWords[w] {
			common++
		}
	}
	score := float64(common) / float64(len(ingWords))

	if strings.Contains(prod, ing) {
		score += 0.2
	}
	if len(prodWords) > 3*len(ingWords) {
		score *= 0.8
	}

	switch {
	case score > 1:
		return 1
	case score < 0:
		return 0
	}
	return score
}

// Candidate is a scored search result
type Candidate struct {
	Product models.ProductRecord `json:"product"`
	Score   float64              `json:"score"`
}

// RankCandidates scores products against ingredient, best first. Equal
// scores keep the retailer's order.
func RankCandidates(ingredient string, products []models.ProductRecord) []Candidate {
	out := make([]Candidate, len(products))
	for i, p := range products {
		out[i] = Candidate{Product: p, Score: Score(ingredient, p.ProductName)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
