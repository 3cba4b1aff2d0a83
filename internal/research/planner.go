package research

import (
	"fmt"

	"github.com/finquiry/finquiry/pkg/types"
)

// Query budgets per research depth.
const (
	shallowQueryLimit = 3
	mediumQueryLimit  = 5
	deepQueryLimit    = 8
)

// Planner turns a query analysis into a concrete research plan.
type Planner struct{}

// NewPlanner creates a research planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan builds the search queries and data sources for a run. The original
// query always comes first; company entities expand into standard financial
// angles and intents add their own follow-up.
func (p *Planner) Plan(query string, analysis types.QueryAnalysis, depth string) types.ResearchPlan {
	queries := []string{query}

	for _, entity := range analysis.Entities {
		if entity.Type != "company" {
			continue
		}
		company := entity.Value
		queries = append(queries,
			fmt.Sprintf("%s financial analysis", company),
			fmt.Sprintf("%s stock performance", company),
			fmt.Sprintf("%s quarterly results", company),
		)
	}

	switch analysis.Intent {
	case "comparison":
		queries = append(queries, query+" peer comparison")
	case "valuation":
		queries = append(queries, query+" valuation metrics")
	}

	dataSources := []string{"web_search"}
	for _, entity := range analysis.Entities {
		if entity.Type == "company" {
			dataSources = append(dataSources, "financial_data", "stock_data")
			break
		}
	}

	limit := mediumQueryLimit
	switch depth {
	case "shallow":
		limit = shallowQueryLimit
	case "deep":
		limit = deepQueryLimit
	}
	if len(queries) > limit {
		queries = queries[:limit]
	}

	priority := analysis.Entities
	if len(priority) > 3 {
		priority = priority[:3]
	}

	return types.ResearchPlan{
		Strategy:         depth + "_research",
		SearchQueries:    queries,
		DataSources:      dataSources,
		PriorityEntities: priority,
		EstimatedSeconds: estimateSeconds(len(queries)),
	}
}

// estimateSeconds budgets setup, per-query search time and scraping time.
func estimateSeconds(queryCount int) int {
	return 30 + queryCount*15 + queryCount*5
}
