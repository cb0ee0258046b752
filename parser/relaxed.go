package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"clubotel-scraper/models"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Elements that plausibly wrap a single offer
var offerContainers = xpath.MustCompile("//div | //li | //td | //tr | //section | //article")

// Currency amounts: "₪ 1,234", "1,234 ₪", "ILS 950", "950 ש"ח"
var currencyRegex = regexp.MustCompile(
	`(?i)(?:₪|\bILS|\bNIS)\s*(\d{1,3}(?:,\d{3})+|\d+)` +
		`|(\d{1,3}(?:,\d{3})+|\d+)\s*(?:₪|ILS\b|NIS\b|ש"ח|ש״ח)`)

func (e *Extractor) extractRelaxed(root *html.Node) []models.PriceObservation {
	var observations []models.PriceObservation
	for _, n := range htmlquery.QuerySelectorAll(root, offerContainers) {
		text := strings.TrimSpace(htmlquery.InnerText(n))
		if text == "" || utf8.RuneCountInString(text) > e.MaxOfferRunes {
			continue
		}

		prices := currencyAmounts(text)
		if len(prices) == 0 {
			continue
		}
		plan := classifyText(text)
		for _, p := range prices {
			if models.SanePrice(p) {
				observations = append(observations, models.PriceObservation{Price: p, MealPlan: plan})
			}
		}
	}
	return observations
}

// currencyAmounts returns every currency-marked amount in text
func currencyAmounts(text string) []int {
	var amounts []int
	for _, m := range currencyRegex.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if p, err := parsePriceDigits(raw); err == nil {
			amounts = append(amounts, p)
		}
	}
	return amounts
}
