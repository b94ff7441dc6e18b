package browser

import (
	"regexp"
	"strings"
)

// blockIndicators are lowercase fragments that anti-bot interstitials
// show instead of results
var blockIndicators = []string{
	"datadome",
	"captcha",
	"accès refusé",
	"access denied",
	"please verify",
	"vérification",
	"checking your browser",
	"just a moment",
}

// robotWord only matches "robot" as a whole word, so the robots meta tag
// of an ordinary page does not count
var robotWord = regexp.MustCompile(`\brobot\b`)

// IsBlocked reports whether page content looks like a bot challenge
func IsBlocked(content string) bool {
	return BlockIndicator(content) != ""
}

// BlockIndicator returns the first indicator found in content, or ""
func BlockIndicator(content string) string {
	lower := strings.ToLower(content)
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return indicator
		}
	}
	if robotWord.MatchString(lower) {
		return "robot"
	}
	return ""
}
