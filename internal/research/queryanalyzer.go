// Package research holds the reasoning stages of the pipeline: query
// understanding, planning, data analysis and response synthesis. Each stage
// is a pure transformation over the run state, so stages are unit-testable
// without any network.
package research

import (
	"strings"
	"unicode"

	"github.com/finquiry/finquiry/pkg/types"
)

// financialKeywords flag queries that need financial data sources.
var financialKeywords = []string{
	"bank", "stock", "share", "equity", "bond", "investment",
	"portfolio", "market", "trading", "analysis", "valuation",
	"earnings", "revenue", "profit", "loss", "dividend",
}

// QueryAnalyzer classifies the user's query before any retrieval happens.
type QueryAnalyzer struct{}

// NewQueryAnalyzer creates a query analyzer.
func NewQueryAnalyzer() *QueryAnalyzer {
	return &QueryAnalyzer{}
}

// Analyze detects the query's intent, extracts candidate company entities
// and estimates its complexity.
func (a *QueryAnalyzer) Analyze(query string, history []types.Exchange) types.QueryAnalysis {
	queryLower := strings.ToLower(query)

	var entities []types.Entity
	words := strings.Fields(query)
	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			continue
		}
		if isAllUpper(trimmed) || (isTitleCase(trimmed) && len(trimmed) > 2) {
			entities = append(entities, types.Entity{Type: "company", Value: trimmed})
		}
	}

	intent := "general_inquiry"
	switch {
	case containsAny(queryLower, "compare", "vs", "versus"):
		intent = "comparison"
	case containsAny(queryLower, "analyze", "analysis"):
		intent = "analysis"
	case containsAny(queryLower, "price", "valuation", "worth"):
		intent = "valuation"
	case containsAny(queryLower, "forecast", "predict", "future"):
		intent = "prediction"
	}

	complexity := "medium"
	if len(words) > 15 || strings.Contains(queryLower, "and") {
		complexity = "high"
	} else if len(words) < 8 {
		complexity = "low"
	}

	return types.QueryAnalysis{
		Intent:           intent,
		Entities:         entities,
		Complexity:       complexity,
		FinancialContext: containsAny(queryLower, financialKeywords...),
		QueryType:        "financial_research",
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isTitleCase(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if unicode.IsLetter(r) && !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
