package parser

import (
	"strings"

	"clubotel-scraper/models"

	"golang.org/x/net/html"
)

// Attributes the booking engine uses to describe a rate button
var descriptiveAttrs = []string{"roomdata", "data-roomdata", "title", "aria-label"}

// Room-only phrases are checked first so negations like "ללא ארוחת בוקר"
// never read as breakfast.
var roomOnlyPhrases = []string{
	"לינה בלבד",
	"ללא ארוחות",
	"ללא ארוחת בוקר",
	"room only",
	"without breakfast",
}

var breakfastPhrases = []string{
	"כולל ארוחת בוקר",
	"ארוחת בוקר",
	"breakfast included",
	"bed and breakfast",
}

// Looser keywords for free text in the relaxed pass
var breakfastKeywords = append([]string{"breakfast", "b&b", "bb"}, breakfastPhrases...)

// classifyLabel matches s against the label phrases
func classifyLabel(s string) (models.MealPlan, bool) {
	s = strings.ToLower(s)
	for _, p := range roomOnlyPhrases {
		if strings.Contains(s, p) {
			return models.RoomOnly, true
		}
	}
	for _, p := range breakfastPhrases {
		if strings.Contains(s, p) {
			return models.Breakfast, true
		}
	}
	return "", false
}

// classifyText is the relaxed-pass classifier; unlabelled text defaults to room only
func classifyText(s string) models.MealPlan {
	s = strings.ToLower(s)
	for _, p := range roomOnlyPhrases {
		if strings.Contains(s, p) {
			return models.RoomOnly
		}
	}
	for _, k := range breakfastKeywords {
		if containsWord(s, k) {
			return models.Breakfast
		}
	}
	return models.RoomOnly
}

// containsWord reports whether k appears in s with no ASCII letter on either side
func containsWord(s, k string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], k)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(k)
		if (start == 0 || !isASCIILetter(s[start-1])) && (end == len(s) || !isASCIILetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// labelOf returns the meal plan named by n's descriptive attributes, if any
func labelOf(n *html.Node) (models.MealPlan, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		for _, name := range descriptiveAttrs {
			if strings.EqualFold(a.Key, name) {
				if plan, ok := classifyLabel(a.Val); ok {
					return plan, true
				}
			}
		}
	}
	return "", false
}

// findMealPlan locates the label nearest to a price block: first walking forward in
// document order, then backward through preceding siblings and their ancestors.
func (e *Extractor) findMealPlan(block *html.Node) (models.MealPlan, bool) {
	visits := 0
	for n := nextInDocument(block); n != nil && visits < e.ForwardBudget; n = nextInDocument(n) {
		visits++
		if plan, ok := labelOf(n); ok {
			return plan, true
		}
	}

	hops := 0
	for n := prevHop(block); n != nil && hops < e.BackwardBudget; n = prevHop(n) {
		hops++
		if plan, ok := labelOf(n); ok {
			return plan, true
		}
	}
	return "", false
}

// nextInDocument returns the node after n in document order, descending first
func nextInDocument(n *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}

// prevHop moves to the previous sibling, or to the parent when there is none
func prevHop(n *html.Node) *html.Node {
	if n.PrevSibling != nil {
		return n.PrevSibling
	}
	return n.Parent
}
