package optimizer

import (
	"sort"
	"time"

	"qcat-backtest/internal/strategy/backtest"
)

// Entry is one ranked combination
type Entry struct {
	Rank        int              `json:"rank"`
	Combination int              `json:"combination"`
	Result      *backtest.Result `json:"result"`
}

// Report is the outcome of one optimization
type Report struct {
	ID                string               `json:"id"`
	Strategy          string               `json:"strategy"`
	Symbol            string               `json:"symbol"`
	ScoreMetric       backtest.ScoreMetric `json:"score_metric"`
	Results           []Entry              `json:"results"`
	TotalCombinations int                  `json:"total_combinations"`
	Evaluated         int                  `json:"evaluated"`
	Failed            int                  `json:"failed"`
	Abandoned         int                  `json:"abandoned"`
	Sampled           bool                 `json:"sampled"`
	Truncated         bool                 `json:"truncated"`
	Workers           int                  `json:"workers"`
	BatchSize         int                  `json:"batch_size"`
	StartedAt         time.Time            `json:"started_at"`
	WallClock         time.Duration        `json:"wall_clock"`
	Throughput        float64              `json:"throughput"` // 每秒组合数
	PeakMemoryBytes   uint64               `json:"peak_memory_bytes"`
	MemoryAlerts      int                  `json:"memory_alerts"`
}

// Best returns the top-ranked successful entry, nil when every combination failed
func (r *Report) Best() *Entry {
	if len(r.Results) == 0 || r.Results[0].Result.Failed {
		return nil
	}
	return &r.Results[0]
}

// Top returns up to n leading entries
func (r *Report) Top(n int) []Entry {
	if n <= 0 || n > len(r.Results) {
		n = len(r.Results)
	}
	return r.Results[:n]
}

// rank orders entries: failures last, then score descending, fewer trades,
// lower combination index
func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Result, entries[j].Result
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if !a.Failed && a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metrics.TradeCount != b.Metrics.TradeCount {
			return a.Metrics.TradeCount < b.Metrics.TradeCount
		}
		return entries[i].Combination < entries[j].Combination
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
