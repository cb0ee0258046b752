package parser

import (
	"fmt"
	"strconv"
	"strings"

	"clubotel-scraper/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Pass names the extraction strategy that produced a page's observations
type Pass string

const (
	PassStrict  Pass = "strict"
	PassRelaxed Pass = "relaxed"
	PassNone    Pass = "none"
)

// Default walk budgets for locating the meal-plan label of a price block
const (
	DefaultForwardBudget  = 400
	DefaultBackwardBudget = 60
	DefaultMaxOfferRunes  = 300
)

var (
	priceBlockSelector = cascadia.MustCompile("div.planprice")
	priceSelector      = cascadia.MustCompile("span.PriceD[price]")
)

// Extractor pulls price observations out of a booking-engine results page
type Extractor struct {
	ForwardBudget  int // max nodes visited walking forward from a price block
	BackwardBudget int // max hops walking backward from a price block
	MaxOfferRunes  int // longest container text the relaxed pass treats as one offer
}

// NewExtractor creates an Extractor with the default budgets
func NewExtractor() *Extractor {
	return &Extractor{
		ForwardBudget:  DefaultForwardBudget,
		BackwardBudget: DefaultBackwardBudget,
		MaxOfferRunes:  DefaultMaxOfferRunes,
	}
}

// ParseHTML parses raw HTML into a node tree
func ParseHTML(htmlContent string) (*html.Node, error) {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return root, nil
}

// ExtractHTML parses htmlContent and runs Extract on it
func (e *Extractor) ExtractHTML(htmlContent string) ([]models.PriceObservation, Pass, error) {
	root, err := ParseHTML(htmlContent)
	if err != nil {
		return nil, PassNone, err
	}
	obs, pass := e.Extract(root)
	return obs, pass, nil
}

// Extract runs the strict structural pass and falls back to the relaxed text
// pass only when the strict pass finds nothing.
func (e *Extractor) Extract(root *html.Node) ([]models.PriceObservation, Pass) {
	if root == nil {
		return nil, PassNone
	}
	if obs := e.extractStrict(root); len(obs) > 0 {
		return obs, PassStrict
	}
	if obs := e.extractRelaxed(root); len(obs) > 0 {
		return obs, PassRelaxed
	}
	return nil, PassNone
}

func (e *Extractor) extractStrict(root *html.Node) []models.PriceObservation {
	doc := goquery.NewDocumentFromNode(root)

	var observations []models.PriceObservation
	doc.FindMatcher(priceBlockSelector).Each(func(i int, block *goquery.Selection) {
		raw, ok := block.FindMatcher(priceSelector).First().Attr("price")
		if !ok {
			return
		}
		price, err := parsePriceDigits(raw)
		if err != nil || !models.SanePrice(price) {
			return
		}

		plan, found := e.findMealPlan(block.Get(0))
		if !found {
			return
		}
		observations = append(observations, models.PriceObservation{Price: price, MealPlan: plan})
	})
	return observations
}

// parsePriceDigits keeps only the ASCII digits of s, so "1,234" and "₪1234" both give 1234
func parsePriceDigits(s string) (int, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("no digits in price %q", s)
	}
	price, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return price, nil
}
