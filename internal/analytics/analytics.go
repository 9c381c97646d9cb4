// Package analytics aggregates the prediction logs into usage statistics.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"medisense/internal/history"
)

// DailyStats summarises one UTC day of predictions.
type DailyStats struct {
	Date             string         `json:"date"`
	TotalPredictions int            `json:"total_predictions"`
	UniqueUsers      int            `json:"unique_users"`
	ByCondition      map[string]int `json:"by_condition"`
	UserStats        map[string]int `json:"user_stats"`
	Skipped          int            `json:"skipped_records"`
}

type ConditionCount struct {
	Condition string
	Count     int
}

// AnalyzeDailyLogs counts the records whose timestamp falls on targetDate.
// Records with unparsable timestamps are counted as skipped.
func AnalyzeDailyLogs(logs []history.Log, targetDate time.Time) *DailyStats {
	targetDate = targetDate.UTC()
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:        startOfDay.Format("2006-01-02"),
		ByCondition: make(map[string]int),
		UserStats:   make(map[string]int),
	}

	for _, l := range logs {
		for _, rec := range l.Predictions {
			ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
			if err != nil {
				stats.Skipped++
				continue
			}
			if ts.Before(startOfDay) || !ts.Before(endOfDay) {
				continue
			}
			stats.TotalPredictions++
			stats.UserStats[l.Email]++
			condition := rec.Condition
			if condition == "" {
				condition = "(none)"
			}
			stats.ByCondition[condition]++
		}
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// TopConditions returns up to n conditions, most frequent first, ties by name.
func (ds *DailyStats) TopConditions(n int) []ConditionCount {
	out := make([]ConditionCount, 0, len(ds.ByCondition))
	for c, k := range ds.ByCondition {
		out = append(out, ConditionCount{Condition: c, Count: k})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Condition < out[j].Condition
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// GenerateReportSummary renders the stats as a plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "MediSense usage for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Predictions: %d\n", ds.TotalPredictions)
	fmt.Fprintf(&b, "- Unique users: %d\n", ds.UniqueUsers)
	if ds.Skipped > 0 {
		fmt.Fprintf(&b, "- Records with unreadable timestamps: %d\n", ds.Skipped)
	}

	top := ds.TopConditions(5)
	if len(top) > 0 {
		b.WriteString("\nTop conditions:\n")
		for i, c := range top {
			fmt.Fprintf(&b, "%d. %s: %d\n", i+1, c.Condition, c.Count)
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
