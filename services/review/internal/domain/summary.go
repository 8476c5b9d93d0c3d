package domain

import (
	"math"
	"strconv"
)

// MinRating and MaxRating bound every stored rating.
const (
	MinRating = 1
	MaxRating = 5
)

// Distribution counts approved reviews per star value. It encodes as a JSON
// object keyed "1" through "5".
type Distribution map[int]int

// Summary aggregates the approved reviews of one scope.
// Average is nil when Count is zero; callers must treat that as "no data".
type Summary struct {
	Count        int          `json:"count"`
	Average      *float64     `json:"average"`
	Distribution Distribution `json:"distribution"`
}

// Summarize computes count, average and distribution over reviews. The caller
// is responsible for passing only approved reviews. Out-of-range ratings are
// ignored so the distribution always sums to Count.
func Summarize(reviews []Review) Summary {
	s := Summary{Distribution: make(Distribution, MaxRating)}
	for k := MinRating; k <= MaxRating; k++ {
		s.Distribution[k] = 0
	}

	total := 0
	for i := range reviews {
		r := reviews[i].Rating
		if r < MinRating || r > MaxRating {
			continue
		}
		s.Distribution[r]++
		s.Count++
		total += r
	}

	if s.Count > 0 {
		avg := math.Round(float64(total)/float64(s.Count)*10) / 10
		s.Average = &avg
	}
	return s
}

// FormatAverage renders an average for display; "no data" stands in for nil.
func FormatAverage(avg *float64) string {
	if avg == nil {
		return "no data"
	}
	return strconv.FormatFloat(*avg, 'f', 1, 64)
}
