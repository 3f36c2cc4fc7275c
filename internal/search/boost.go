package search

import (
	"regexp"
	"strings"
)

// stopwords are dropped from queries before lexical matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "by": true, "for": true, "with": true,
	"about": true, "as": true, "into": true, "through": true, "from": true,
	"what": true, "when": true, "where": true, "who": true, "which": true,
	"how": true, "why": true, "get": true, "set": true, "put": true,
}

var nonWord = regexp.MustCompile(`\W+`)

// Tokenize lowercases the query, splits on non-word characters, and drops
// stopwords and tokens of length two or less.
func Tokenize(query string) []string {
	parts := nonWord.Split(strings.ToLower(query), -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) <= 2 || stopwords[p] {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// Boost caps and weights for lexical scoring.
const (
	boostCap      = 2.0
	nameBoost     = 0.5
	itemBoost     = 0.3
	itemBoostCap  = 0.6
	tagBoost      = 0.2
	tagBoostCap   = 0.4
	descBoostCoef = 0.2
)

// Boost computes the multiplicative lexical adjustment for an entity:
// base 1.0 plus additive contributions for name, tool/skill name, tag, and
// description matches, capped at 2.0. An empty token list yields 1.0.
func Boost(tokens []string, name string, itemNames, tags []string, description string) float64 {
	if len(tokens) == 0 {
		return 1.0
	}

	boost := 1.0

	nameLower := strings.ToLower(name)
	for _, tok := range tokens {
		if strings.Contains(nameLower, tok) {
			boost += nameBoost
			break
		}
	}

	itemContribution := 0.0
	for _, item := range itemNames {
		itemLower := strings.ToLower(item)
		for _, tok := range tokens {
			if strings.Contains(itemLower, tok) {
				itemContribution += itemBoost
				break
			}
		}
		if itemContribution >= itemBoostCap {
			itemContribution = itemBoostCap
			break
		}
	}
	boost += itemContribution

	tagContribution := 0.0
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		for _, tok := range tokens {
			if strings.Contains(tagLower, tok) {
				tagContribution += tagBoost
				break
			}
		}
		if tagContribution >= tagBoostCap {
			tagContribution = tagBoostCap
			break
		}
	}
	boost += tagContribution

	descLower := strings.ToLower(description)
	descMatches := 0
	for _, tok := range tokens {
		if strings.Contains(descLower, tok) {
			descMatches++
		}
	}
	boost += float64(descMatches) / float64(len(tokens)) * descBoostCoef

	if boost > boostCap {
		boost = boostCap
	}
	return boost
}
