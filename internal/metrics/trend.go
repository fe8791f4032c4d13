package metrics

import (
	"slices"
	"time"

	"github.com/joescharf/tamv/internal/models"
)

// TrendPoint is one day of the historical progress chart.
type TrendPoint struct {
	Date   string               `json:"date"` // YYYY-MM-DD, UTC
	Layers map[models.Layer]int `json:"layers"`
}

// ProgressTrend groups snapshots by UTC calendar day. Within a day the
// latest sample for a layer wins. Days are returned in ascending order.
func ProgressTrend(snapshots []*models.ProgressSnapshot) []TrendPoint {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b *models.ProgressSnapshot) int {
		return a.RecordedAt.Compare(b.RecordedAt)
	})

	out := []TrendPoint{}
	index := make(map[string]int)
	for _, s := range sorted {
		day := s.RecordedAt.UTC().Format(time.DateOnly)
		i, ok := index[day]
		if !ok {
			i = len(out)
			index[day] = i
			out = append(out, TrendPoint{Date: day, Layers: make(map[models.Layer]int)})
		}
		out[i].Layers[s.Layer] = s.Progress
	}
	return out
}
