package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeDetectsIntent(t *testing.T) {
	analyzer := NewQueryAnalyzer()

	cases := []struct {
		query  string
		intent string
	}{
		{"compare AAPL vs MSFT stock performance", "comparison"},
		{"analyze Tesla earnings this quarter", "analysis"},
		{"what is the fair valuation of Apple", "valuation"},
		{"forecast for semiconductor stocks", "prediction"},
		{"tell me about municipal bonds", "general_inquiry"},
	}
	for _, tc := range cases {
		got := analyzer.Analyze(tc.query, nil)
		assert.Equal(t, tc.intent, got.Intent, "query: %s", tc.query)
		assert.Equal(t, "financial_research", got.QueryType)
	}
}

func TestAnalyzeExtractsCompanyEntities(t *testing.T) {
	analyzer := NewQueryAnalyzer()

	got := analyzer.Analyze("compare AAPL vs Microsoft this quarter", nil)

	var values []string
	for _, e := range got.Entities {
		assert.Equal(t, "company", e.Type)
		values = append(values, e.Value)
	}
	assert.Contains(t, values, "AAPL")
	assert.Contains(t, values, "Microsoft")
	// lowercase and short words are not entities
	assert.NotContains(t, values, "compare")
	assert.NotContains(t, values, "vs")
}

func TestAnalyzeEntityPunctuationTrimmed(t *testing.T) {
	analyzer := NewQueryAnalyzer()

	got := analyzer.Analyze("how did (TSLA) perform?", nil)

	var values []string
	for _, e := range got.Entities {
		values = append(values, e.Value)
	}
	assert.Contains(t, values, "TSLA")
}

func TestAnalyzeComplexity(t *testing.T) {
	analyzer := NewQueryAnalyzer()

	assert.Equal(t, "low", analyzer.Analyze("tesla stock price", nil).Complexity)
	assert.Equal(t, "high", analyzer.Analyze("apple and microsoft margins", nil).Complexity)
	assert.Equal(t, "medium",
		analyzer.Analyze("how did the tech sector perform over this last quarter", nil).Complexity)
}

func TestAnalyzeFinancialContext(t *testing.T) {
	analyzer := NewQueryAnalyzer()

	assert.True(t, analyzer.Analyze("best dividend stocks", nil).FinancialContext)
	assert.False(t, analyzer.Analyze("weather in berlin tomorrow", nil).FinancialContext)
}
