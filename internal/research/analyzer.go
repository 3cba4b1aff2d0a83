package research

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finquiry/finquiry/pkg/types"
)

// Per-run caps on extracted material.
const (
	maxKeyInsights = 10
	maxDataPoints  = 20
	maxTrends      = 5
	maxRisks       = 5
)

// metricPatterns extract named financial ratios from scraped text. Matching
// runs on lowercased content.
var metricPatterns = map[string]*regexp.Regexp{
	"pe_ratio":       regexp.MustCompile(`p/e\s*ratio?\s*(?:of\s*)?(\d+\.?\d*)`),
	"price_to_book":  regexp.MustCompile(`p/b\s*ratio?\s*(?:of\s*)?(\d+\.?\d*)`),
	"debt_to_equity": regexp.MustCompile(`debt.to.equity\s*ratio?\s*(?:of\s*)?(\d+\.?\d*)`),
	"roe":            regexp.MustCompile(`(?:return\s*on\s*equity|roe)\s*(?:of\s*)?(\d+\.?\d*)%?`),
	"revenue_growth": regexp.MustCompile(`revenue\s*growth\s*(?:of\s*)?(\d+\.?\d*)%`),
	"profit_margin":  regexp.MustCompile(`profit\s*margin\s*(?:of\s*)?(\d+\.?\d*)%`),
}

var (
	percentagePattern = regexp.MustCompile(`(\d+\.?\d*)%`)
	currencyPattern   = regexp.MustCompile(`\$(\d+(?:,\d{3})*(?:\.\d{2})?)\s*(?:billion|million|thousand)?`)
	dataPointPattern  = regexp.MustCompile(`(\w+(?:\s+\w+){0,3})\s+(?:is|was|of|at)\s+(\d+(?:,\d{3})*(?:\.\d+)?)\s*(\w+)?`)
)

var insightKeywords = []string{
	"significant", "important", "notable", "remarkable", "strong",
	"weak", "improved", "declined", "increased", "decreased",
	"outperformed", "underperformed", "growth", "decline",
	"profit", "loss", "revenue", "earnings", "forecast",
}

var (
	positiveTrendWords = []string{"increased", "grew", "rose", "improved", "gained", "up"}
	negativeTrendWords = []string{"decreased", "fell", "declined", "dropped", "lost", "down"}
)

var riskKeywords = []string{
	"risk", "concern", "challenge", "threat", "uncertainty",
	"volatility", "decline", "loss", "debt", "liability",
}

// Analyzer extracts financial signals from scraped sources.
type Analyzer struct{}

// NewAnalyzer creates a data analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze walks every source's content extracting metrics, insights, data
// points, trends and risks, then derives a summary, a banded confidence
// score and recommendations.
func (a *Analyzer) Analyze(analysis types.QueryAnalysis, sources []types.ScrapedPage) types.AnalysisResults {
	results := types.AnalysisResults{
		FinancialMetrics: map[string]float64{},
		SourcesAnalyzed:  len(sources),
	}

	var (
		insights   []string
		dataPoints []types.DataPoint
		trends     []types.Trend
		risks      []string
	)

	for _, source := range sources {
		if source.Content == "" {
			continue
		}
		extractMetrics(source.Content, &results)
		insights = append(insights, extractInsights(source.Content)...)
		dataPoints = append(dataPoints, extractDataPoints(source.Content)...)
		trends = append(trends, identifyTrends(source.Content)...)
		risks = append(risks, identifyRisks(source.Content)...)
	}

	results.KeyInsights = capStrings(insights, maxKeyInsights)
	if len(dataPoints) > maxDataPoints {
		dataPoints = dataPoints[:maxDataPoints]
	}
	results.DataPoints = dataPoints
	if len(trends) > maxTrends {
		trends = trends[:maxTrends]
	}
	results.Trends = trends
	results.RiskFactors = capStrings(risks, maxRisks)

	results.Summary = buildSummary(analysis, results)
	results.ConfidenceScore = confidenceScore(len(sources), len(results.KeyInsights), len(results.DataPoints))
	results.Recommendations = recommendations(analysis.Intent, results)
	return results
}

func extractMetrics(content string, results *types.AnalysisResults) {
	contentLower := strings.ToLower(content)

	for name, pattern := range metricPatterns {
		if _, exists := results.FinancialMetrics[name]; exists {
			continue
		}
		if m := pattern.FindStringSubmatch(contentLower); m != nil {
			if value, err := strconv.ParseFloat(m[1], 64); err == nil {
				results.FinancialMetrics[name] = value
			}
		}
	}

	if len(results.PercentageValues) < 5 {
		for _, m := range percentagePattern.FindAllStringSubmatch(content, 5-len(results.PercentageValues)) {
			if value, err := strconv.ParseFloat(m[1], 64); err == nil {
				results.PercentageValues = append(results.PercentageValues, value)
			}
		}
	}

	if len(results.CurrencyAmounts) < 5 {
		for _, m := range currencyPattern.FindAllStringSubmatch(content, 5-len(results.CurrencyAmounts)) {
			results.CurrencyAmounts = append(results.CurrencyAmounts, m[1])
		}
	}
}

func extractInsights(content string) []string {
	var insights []string
	for _, sentence := range strings.Split(content, ". ") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 20 || len(sentence) > 200 {
			continue
		}
		if containsAny(strings.ToLower(sentence), insightKeywords...) {
			insights = append(insights, sentence)
			if len(insights) >= 15 {
				break
			}
		}
	}
	return insights
}

func extractDataPoints(content string) []types.DataPoint {
	var points []types.DataPoint
	for _, m := range dataPointPattern.FindAllStringSubmatch(content, maxDataPoints) {
		context, raw, unit := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		points = append(points, types.DataPoint{
			Context: context,
			Value:   value,
			Unit:    unit,
			RawText: strings.TrimSpace(fmt.Sprintf("%s %s %s", context, raw, unit)),
		})
	}
	return points
}

func identifyTrends(content string) []types.Trend {
	var trends []types.Trend
	for _, sentence := range strings.Split(content, ". ") {
		sentenceLower := strings.ToLower(sentence)

		trendType := ""
		if containsAny(sentenceLower, positiveTrendWords...) {
			trendType = "positive"
		} else if containsAny(sentenceLower, negativeTrendWords...) {
			trendType = "negative"
		}
		if trendType == "" || len(sentence) <= 30 {
			continue
		}
		trends = append(trends, types.Trend{
			Type:        trendType,
			Description: strings.TrimSpace(sentence),
			Strength:    "moderate",
		})
		if len(trends) >= 10 {
			break
		}
	}
	return trends
}

func identifyRisks(content string) []string {
	var risks []string
	for _, sentence := range strings.Split(content, ". ") {
		if !containsAny(strings.ToLower(sentence), riskKeywords...) {
			continue
		}
		if len(sentence) > 20 && len(sentence) < 200 {
			risks = append(risks, strings.TrimSpace(sentence))
			if len(risks) >= 10 {
				break
			}
		}
	}
	return risks
}

func buildSummary(analysis types.QueryAnalysis, results types.AnalysisResults) string {
	var parts []string

	var companies []string
	for _, e := range analysis.Entities {
		if e.Type == "company" {
			companies = append(companies, e.Value)
		}
	}
	if len(companies) > 3 {
		companies = companies[:3]
	}
	if len(companies) > 0 {
		parts = append(parts, "Analysis of "+strings.Join(companies, ", "))
	}

	if n := len(results.KeyInsights); n > 0 {
		parts = append(parts, fmt.Sprintf("Key findings from %d insights analyzed", n))
	}
	if n := len(results.FinancialMetrics); n > 0 {
		parts = append(parts, fmt.Sprintf("Financial metrics evaluated: %d indicators", n))
	}

	positive, negative := splitTrends(results.Trends)
	if len(positive) > 0 {
		parts = append(parts, fmt.Sprintf("%d positive trends identified", len(positive)))
	}
	if len(negative) > 0 {
		parts = append(parts, fmt.Sprintf("%d negative trends identified", len(negative)))
	}
	if n := len(results.RiskFactors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d risk factors noted", n))
	}

	if len(parts) == 0 {
		return "No significant findings."
	}
	return strings.Join(parts, ". ") + "."
}

// confidenceScore bands sources, insights and data points into a 0..1 score.
func confidenceScore(sources, insights, dataPoints int) float64 {
	score := 0.0

	switch {
	case sources >= 5:
		score += 0.4
	case sources >= 3:
		score += 0.3
	case sources >= 1:
		score += 0.2
	}

	switch {
	case insights >= 10:
		score += 0.3
	case insights >= 5:
		score += 0.2
	case insights >= 1:
		score += 0.1
	}

	switch {
	case dataPoints >= 15:
		score += 0.3
	case dataPoints >= 5:
		score += 0.2
	case dataPoints >= 1:
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func recommendations(intent string, results types.AnalysisResults) []string {
	var recs []string

	switch intent {
	case "investment":
		recs = append(recs,
			"Consider diversification to reduce risk exposure",
			"Monitor key financial ratios for valuation insights")
	case "analysis":
		recs = append(recs,
			"Focus on trend analysis for future projections",
			"Compare metrics with industry benchmarks")
	}

	positive, negative := splitTrends(results.Trends)
	if len(positive) > len(negative) {
		recs = append(recs, "Positive momentum detected - consider maintaining current strategy")
	} else if len(negative) > len(positive) {
		recs = append(recs, "Negative trends identified - review risk management approach")
	}

	if len(results.RiskFactors) > 3 {
		recs = append(recs, "Multiple risk factors present - conduct detailed risk assessment")
	}
	if dte, ok := results.FinancialMetrics["debt_to_equity"]; ok && dte > 1.0 {
		recs = append(recs, "High leverage detected - monitor debt management closely")
	}

	if len(recs) == 0 {
		recs = append(recs, "Continue monitoring financial performance and market conditions")
	}
	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

func splitTrends(trends []types.Trend) (positive, negative []types.Trend) {
	for _, t := range trends {
		switch t.Type {
		case "positive":
			positive = append(positive, t)
		case "negative":
			negative = append(negative, t)
		}
	}
	return positive, negative
}

func capStrings(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
