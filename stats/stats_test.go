package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/db"
	"github.com/vulndb/nvd-cve-db/nvd"
	"github.com/vulndb/nvd-cve-db/stats"
)

type fakeStore struct {
	yearCounts     []db.YearCount
	severityCounts map[nvd.Severity]int
	err            error

	gotModel nvd.Model
	gotYear  int
}

func (s *fakeStore) YearCounts() ([]db.YearCount, error) {
	return s.yearCounts, s.err
}

func (s *fakeStore) QuerySeverityCounts(model nvd.Model, year int) (map[nvd.Severity]int, error) {
	s.gotModel = model
	s.gotYear = year
	return s.severityCounts, s.err
}

func TestEngine_YearStats(t *testing.T) {
	tests := []struct {
		name       string
		yearCounts []db.YearCount
		want       []stats.YearStat
	}{
		{
			name: "counts and growth",
			yearCounts: []db.YearCount{
				{Year: 2002, Total: 100},
				{Year: 2003, Total: 160, Rejected: 8, Disputed: 1, Reserved: 1},
				{Year: 2004, Total: 75},
			},
			want: []stats.YearStat{
				{Year: 2002, Total: 100, Valid: 100},
				{Year: 2003, Total: 160, Valid: 150, Rejected: 8, Disputed: 1, Reserved: 1, YoYGrowth: 50},
				{Year: 2004, Total: 75, Valid: 75, YoYGrowth: -50},
			},
		},
		{
			name: "years are sorted ascending",
			yearCounts: []db.YearCount{
				{Year: 2010, Total: 20},
				{Year: 2008, Total: 10},
			},
			want: []stats.YearStat{
				{Year: 2008, Total: 10, Valid: 10},
				{Year: 2010, Total: 20, Valid: 20, YoYGrowth: 100},
			},
		},
		{
			name: "empty store",
			want: []stats.YearStat{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := stats.NewEngine(&fakeStore{yearCounts: tt.yearCounts})
			got, err := engine.YearStats()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_YearStats_StoreError(t *testing.T) {
	engine := stats.NewEngine(&fakeStore{err: xerrors.New("disk I/O error")})
	_, err := engine.YearStats()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to aggregate years")
}

func TestEngine_SeverityStats(t *testing.T) {
	store := &fakeStore{
		severityCounts: map[nvd.Severity]int{
			nvd.SeverityHigh:     3,
			nvd.SeverityCritical: 1,
		},
	}
	engine := stats.NewEngine(store)

	got, err := engine.SeverityStats(nvd.ModelAll, 2021)
	require.NoError(t, err)

	assert.Equal(t, store.severityCounts, got)
	assert.Equal(t, nvd.ModelAll, store.gotModel)
	assert.Equal(t, 2021, store.gotYear)
}
