package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finquiry/finquiry/pkg/types"
)

func TestAnalyzeExtractsFinancialMetrics(t *testing.T) {
	analyzer := NewAnalyzer()
	sources := []types.ScrapedPage{{
		URL:    "https://reuters.com/a",
		Domain: "reuters.com",
		Content: "The company reported revenue growth of 15% for the year. " +
			"Analysts noted a P/E ratio of 28 relative to peers.",
	}}

	results := analyzer.Analyze(types.QueryAnalysis{Intent: "analysis"}, sources)

	require.Contains(t, results.FinancialMetrics, "revenue_growth")
	require.Contains(t, results.FinancialMetrics, "pe_ratio")
	assert.Equal(t, 15.0, results.FinancialMetrics["revenue_growth"])
	assert.Equal(t, 28.0, results.FinancialMetrics["pe_ratio"])
	assert.Equal(t, 1, results.SourcesAnalyzed)
	assert.Contains(t, results.PercentageValues, 15.0)
}

func TestAnalyzeFirstMetricMatchWins(t *testing.T) {
	analyzer := NewAnalyzer()
	sources := []types.ScrapedPage{
		{Content: "Reported a P/E ratio of 28 this quarter."},
		{Content: "An older filing showed a P/E ratio of 40."},
	}

	results := analyzer.Analyze(types.QueryAnalysis{}, sources)
	assert.Equal(t, 28.0, results.FinancialMetrics["pe_ratio"])
}

func TestAnalyzeExtractsInsightsTrendsAndRisks(t *testing.T) {
	analyzer := NewAnalyzer()
	sources := []types.ScrapedPage{{
		Content: "Quarterly earnings showed strong momentum across all business segments this year. " +
			"Revenue increased substantially compared to the prior fiscal year results. " +
			"Rising interest rate uncertainty remains a concern for the sector outlook.",
	}}

	results := analyzer.Analyze(types.QueryAnalysis{}, sources)

	assert.NotEmpty(t, results.KeyInsights)
	require.NotEmpty(t, results.Trends)
	assert.Equal(t, "positive", results.Trends[0].Type)
	assert.NotEmpty(t, results.RiskFactors)
	assert.NotEqual(t, "No significant findings.", results.Summary)
}

func TestAnalyzeEmptySources(t *testing.T) {
	analyzer := NewAnalyzer()

	results := analyzer.Analyze(types.QueryAnalysis{}, nil)

	assert.Zero(t, results.SourcesAnalyzed)
	assert.Empty(t, results.FinancialMetrics)
	assert.Equal(t, "No significant findings.", results.Summary)
	assert.Zero(t, results.ConfidenceScore)
	// the fallback recommendation is always present
	assert.NotEmpty(t, results.Recommendations)
}

func TestConfidenceScoreBands(t *testing.T) {
	assert.InDelta(t, 0.2, confidenceScore(1, 0, 0), 1e-9)
	assert.InDelta(t, 0.3, confidenceScore(3, 0, 0), 1e-9)
	assert.InDelta(t, 0.4, confidenceScore(5, 0, 0), 1e-9)
	assert.InDelta(t, 0.7, confidenceScore(5, 10, 0), 1e-9)
	assert.InDelta(t, 1.0, confidenceScore(5, 10, 15), 1e-9)
	assert.InDelta(t, 0.4, confidenceScore(1, 1, 1), 1e-9)
}

func TestRecommendationsFlagHighLeverage(t *testing.T) {
	analyzer := NewAnalyzer()
	sources := []types.ScrapedPage{{
		Content: "The balance sheet carries a debt-to-equity ratio of 1.8 after the buyback.",
	}}

	results := analyzer.Analyze(types.QueryAnalysis{Intent: "analysis"}, sources)

	require.Contains(t, results.FinancialMetrics, "debt_to_equity")
	assert.Equal(t, 1.8, results.FinancialMetrics["debt_to_equity"])
	assert.Contains(t, results.Recommendations,
		"High leverage detected - monitor debt management closely")
}

func TestRecommendationsTrackTrendBalance(t *testing.T) {
	analyzer := NewAnalyzer()
	sources := []types.ScrapedPage{{
		Content: "Margins declined sharply across every segment during the downturn period. " +
			"Guidance also dropped below the consensus range for the coming year.",
	}}

	results := analyzer.Analyze(types.QueryAnalysis{}, sources)

	assert.Contains(t, results.Recommendations,
		"Negative trends identified - review risk management approach")
}

func TestAnalyzeCapsExtractedMaterial(t *testing.T) {
	analyzer := NewAnalyzer()

	sentence := "Revenue increased significantly compared with the strong prior year results. "
	content := ""
	for i := 0; i < 30; i++ {
		content += sentence
	}
	sources := []types.ScrapedPage{{Content: content}, {Content: content}}

	results := analyzer.Analyze(types.QueryAnalysis{}, sources)

	assert.LessOrEqual(t, len(results.KeyInsights), maxKeyInsights)
	assert.LessOrEqual(t, len(results.Trends), maxTrends)
	assert.LessOrEqual(t, len(results.RiskFactors), maxRisks)
	assert.LessOrEqual(t, len(results.DataPoints), maxDataPoints)
}
