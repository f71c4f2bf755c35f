package evaluation

import (
	"fmt"
	"math"
)

// Grade is the letter/GPA mapping for a percentage, with the source score
// formatted to two decimals. Out-of-range input yields Valid=false rather
// than an error.
type Grade struct {
	Letter string  `json:"grade"`
	GPA    float64 `json:"gpa"`
	Score  string  `json:"score"`
	Valid  bool    `json:"valid"`
}

// gradeBands is the fixed conversion table, ordered high to low. Each entry
// covers [Min, previous band's Min) except the top band, which includes 100.
var gradeBands = []struct {
	Min    float64
	Letter string
	GPA    float64
}{
	{80, "A+", 4.00},
	{75, "A", 3.75},
	{70, "A-", 3.50},
	{65, "B+", 3.25},
	{60, "B", 3.00},
	{55, "B-", 2.75},
	{50, "C+", 2.50},
	{45, "C", 2.25},
	{40, "D", 2.00},
	{0, "F", 0.00},
}

// ConvertToGrade maps a percentage in [0,100] to its band. Anything outside
// the range (including NaN) returns the explicit invalid marker.
func ConvertToGrade(p float64) Grade {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return Grade{Letter: "Invalid", GPA: 0, Score: fmt.Sprintf("%.2f", p)}
	}
	for _, b := range gradeBands {
		if p >= b.Min {
			return Grade{Letter: b.Letter, GPA: b.GPA, Score: fmt.Sprintf("%.2f", p), Valid: true}
		}
	}
	// p in [0,40) always hits the last band; kept for completeness.
	return Grade{Letter: "F", GPA: 0, Score: fmt.Sprintf("%.2f", p), Valid: true}
}
