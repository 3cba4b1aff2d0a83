package research

import (
	"fmt"
	"strings"

	"github.com/finquiry/finquiry/pkg/types"
)

// introTemplates open the response according to the detected intent.
var introTemplates = map[string]string{
	"analysis":        "Based on my analysis of %d sources, here are the key findings:",
	"comparison":      "Comparing the available data, I found the following insights:",
	"valuation":       "Based on the valuation metrics and market data:",
	"prediction":      "Based on current trends and historical data:",
	"general_inquiry": "Here's what I found regarding your question:",
}

// Synthesizer assembles the final markdown response from analysis results.
type Synthesizer struct{}

// NewSynthesizer creates a response synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize builds the sectioned response. When the analysis carries an
// error it produces the apology response instead, still citing whatever
// sources were gathered.
func (s *Synthesizer) Synthesize(query string, analysis types.QueryAnalysis, results types.AnalysisResults, sources []types.ScrapedPage) types.SynthesisResult {
	if results.Err != "" {
		return s.analysisErrorResponse(query, results.Err, sources)
	}

	var sections []string

	if intro := buildIntroduction(analysis, len(sources)); intro != "" {
		sections = append(sections, intro)
	}
	if sec := buildInsightsSection(results); sec != "" {
		sections = append(sections, sec)
	}
	if sec := buildMetricsSection(results); sec != "" {
		sections = append(sections, sec)
	}
	if sec := buildTrendsSection(results); sec != "" {
		sections = append(sections, sec)
	}
	if sec := buildRisksSection(results); sec != "" {
		sections = append(sections, sec)
	}
	if sec := buildRecommendationsSection(results); sec != "" {
		sections = append(sections, sec)
	}
	sections = append(sections, buildDisclaimer(results.ConfidenceScore))

	response := strings.Join(sections, "\n\n")
	citations := prepareCitations(sources)

	return types.SynthesisResult{
		Response:         response,
		Sources:          citations,
		QualityScore:     responseQuality(response, results, len(sources)),
		WordCount:        len(strings.Fields(response)),
		SectionsIncluded: len(sections),
	}
}

func buildIntroduction(analysis types.QueryAnalysis, sourcesCount int) string {
	template, ok := introTemplates[analysis.Intent]
	if !ok {
		template = introTemplates["general_inquiry"]
	}
	intro := template
	if strings.Contains(template, "%d") {
		intro = fmt.Sprintf(template, sourcesCount)
	}

	var companies []string
	for _, e := range analysis.Entities {
		if e.Type == "company" {
			companies = append(companies, e.Value)
		}
	}
	if len(companies) > 0 {
		shown := companies
		if len(shown) > 3 {
			shown = shown[:3]
		}
		companiesText := strings.Join(shown, ", ")
		if len(companies) > 3 {
			companiesText += fmt.Sprintf(" and %d others", len(companies)-3)
		}
		intro += fmt.Sprintf(" I've analyzed information about %s.", companiesText)
	}
	return intro
}

func buildInsightsSection(results types.AnalysisResults) string {
	if len(results.KeyInsights) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Key Insights\n")
	top := results.KeyInsights
	if len(top) > 5 {
		top = top[:5]
	}
	for i, insight := range top {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, withPeriod(insight)))
	}
	return sb.String()
}

// ratioLabels order and label the plain-ratio metrics.
var ratioLabels = []struct {
	key   string
	label string
}{
	{"pe_ratio", "P/E Ratio"},
	{"price_to_book", "Price-to-Book Ratio"},
	{"debt_to_equity", "Debt-to-Equity Ratio"},
	{"roe", "Return on Equity"},
}

func buildMetricsSection(results types.AnalysisResults) string {
	if len(results.FinancialMetrics) == 0 && len(results.CurrencyAmounts) == 0 {
		return ""
	}

	var lines []string
	for _, rl := range ratioLabels {
		value, ok := results.FinancialMetrics[rl.key]
		if !ok {
			continue
		}
		if rl.key == "roe" {
			lines = append(lines, fmt.Sprintf("- **%s**: %s%%", rl.label, formatMetric(value)))
		} else {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", rl.label, formatMetric(value)))
		}
	}
	if value, ok := results.FinancialMetrics["revenue_growth"]; ok {
		lines = append(lines, fmt.Sprintf("- **Revenue Growth**: %s%%", formatMetric(value)))
	}
	if value, ok := results.FinancialMetrics["profit_margin"]; ok {
		lines = append(lines, fmt.Sprintf("- **Profit Margin**: %s%%", formatMetric(value)))
	}
	amounts := results.CurrencyAmounts
	if len(amounts) > 3 {
		amounts = amounts[:3]
	}
	for _, amount := range amounts {
		lines = append(lines, fmt.Sprintf("- **Key Financial Figure**: $%s", amount))
	}

	if len(lines) == 0 {
		return ""
	}
	return "## Financial Metrics\n" + strings.Join(lines, "\n")
}

func buildTrendsSection(results types.AnalysisResults) string {
	positive, negative := splitTrends(results.Trends)
	if len(positive) == 0 && len(negative) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Market Trends\n")
	if len(positive) > 0 {
		sb.WriteString("**Positive Trends:**\n")
		for i, t := range positive {
			if i == 3 {
				break
			}
			sb.WriteString("- " + t.Description + "\n")
		}
	}
	if len(negative) > 0 {
		if len(positive) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("**Areas of Concern:**\n")
		for i, t := range negative {
			if i == 3 {
				break
			}
			sb.WriteString("- " + t.Description + "\n")
		}
	}
	return sb.String()
}

func buildRisksSection(results types.AnalysisResults) string {
	if len(results.RiskFactors) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Risk Assessment\n")
	top := results.RiskFactors
	if len(top) > 4 {
		top = top[:4]
	}
	for i, risk := range top {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, withPeriod(risk)))
	}
	return sb.String()
}

func buildRecommendationsSection(results types.AnalysisResults) string {
	if len(results.Recommendations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Recommendations\n")
	for i, rec := range results.Recommendations {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, withPeriod(rec)))
	}
	return sb.String()
}

func buildDisclaimer(confidence float64) string {
	base := "**Important Note**: This analysis is based on publicly available information and should not be considered as financial advice. "
	switch {
	case confidence >= 0.8:
		return base + "The analysis has high confidence based on multiple reliable sources."
	case confidence >= 0.6:
		return base + "The analysis has moderate confidence based on available sources."
	case confidence >= 0.4:
		return base + "The analysis has limited confidence due to fewer available sources."
	default:
		return base + "The analysis has low confidence due to limited data availability. Please verify findings independently."
	}
}

// prepareCitations cites the top 10 sources with truncated snippets.
func prepareCitations(sources []types.ScrapedPage) []types.Citation {
	citations := make([]types.Citation, 0, len(sources))
	for i, source := range sources {
		if i == 10 {
			break
		}
		title := source.Title
		if title == "" {
			title = "Unknown Title"
		}
		snippet := source.Snippet
		if len(snippet) > 150 {
			snippet = snippet[:150] + "..."
		}
		citations = append(citations, types.Citation{
			ID:      i + 1,
			Title:   title,
			URL:     source.URL,
			Domain:  source.Domain,
			Snippet: snippet,
		})
	}
	return citations
}

func (s *Synthesizer) analysisErrorResponse(query, errMessage string, sources []types.ScrapedPage) types.SynthesisResult {
	response := fmt.Sprintf(`I apologize, but I encountered some technical difficulties while analyzing the data for your query: %q

Despite this issue, I was able to gather information from %d sources. However, I cannot provide a detailed analysis at this time due to the following error: %s

Please try rephrasing your question or try again later. If the problem persists, you may want to contact support.`, query, len(sources), errMessage)

	return types.SynthesisResult{
		Response:         response,
		Sources:          prepareCitations(sources),
		QualityScore:     0.3,
		WordCount:        len(strings.Fields(response)),
		SectionsIncluded: 1,
	}
}

func responseQuality(response string, results types.AnalysisResults, sourcesCount int) float64 {
	quality := 0.0

	wordCount := len(strings.Fields(response))
	switch {
	case wordCount >= 200 && wordCount <= 800:
		quality += 0.3
	case (wordCount >= 100 && wordCount < 200) || (wordCount > 800 && wordCount <= 1200):
		quality += 0.2
	case wordCount >= 50:
		quality += 0.1
	}

	quality += results.ConfidenceScore * 0.4

	switch {
	case sourcesCount >= 5:
		quality += 0.2
	case sourcesCount >= 3:
		quality += 0.15
	case sourcesCount >= 1:
		quality += 0.1
	}

	insights, metrics := len(results.KeyInsights), len(results.FinancialMetrics)
	if insights >= 5 && metrics >= 3 {
		quality += 0.1
	} else if insights >= 3 || metrics >= 2 {
		quality += 0.05
	}

	if quality > 1.0 {
		quality = 1.0
	}
	return quality
}

// withPeriod ensures a sentence ends with a period.
func withPeriod(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

// formatMetric renders a metric value the way it was written in the source,
// without a trailing ".0" for whole numbers.
func formatMetric(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
