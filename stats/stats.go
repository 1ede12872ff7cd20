package stats

import (
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/db"
	"github.com/vulndb/nvd-cve-db/nvd"
)

// Store is the read side of db.Store the engine aggregates over.
type Store interface {
	YearCounts() ([]db.YearCount, error)
	QuerySeverityCounts(model nvd.Model, year int) (map[nvd.Severity]int, error)
}

// YearStat is one year of aggregated counts. Valid excludes rejected,
// disputed and reserved entries; YoYGrowth is the year-over-year growth
// of Valid in percent.
type YearStat struct {
	Year      int
	Total     int
	Valid     int
	Rejected  int
	Disputed  int
	Reserved  int
	YoYGrowth float64
}

// Engine derives statistics from the store on demand. It owns no state
// and recomputes on every call.
type Engine struct {
	store Store
}

func NewEngine(store Store) Engine {
	return Engine{store: store}
}

// YearStats returns per-year aggregates sorted ascending by year.
func (e Engine) YearStats() ([]YearStat, error) {
	counts, err := e.store.YearCounts()
	if err != nil {
		return nil, xerrors.Errorf("failed to aggregate years: %w", err)
	}

	stats := make([]YearStat, 0, len(counts))
	for _, c := range counts {
		stats = append(stats, YearStat{
			Year:     c.Year,
			Total:    c.Total,
			Valid:    c.Total - c.Rejected - c.Disputed - c.Reserved,
			Rejected: c.Rejected,
			Disputed: c.Disputed,
			Reserved: c.Reserved,
		})
	}
	slices.SortFunc(stats, func(a, b YearStat) int {
		return a.Year - b.Year
	})

	lastValid := 0
	for i := range stats {
		if lastValid > 0 {
			stats[i].YoYGrowth = float64(stats[i].Valid-lastValid) / float64(lastValid) * 100
		}
		lastValid = stats[i].Valid
	}
	return stats, nil
}

// SeverityStats returns severity bucket counts for one model,
// optionally restricted to a single year (0 means all years).
func (e Engine) SeverityStats(model nvd.Model, year int) (map[nvd.Severity]int, error) {
	counts, err := e.store.QuerySeverityCounts(model, year)
	if err != nil {
		return nil, xerrors.Errorf("failed to aggregate severities: %w", err)
	}
	return counts, nil
}
