package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToGrade(t *testing.T) {
	cases := []struct {
		in     float64
		letter string
		gpa    float64
		valid  bool
	}{
		{100, "A+", 4.00, true},
		{80, "A+", 4.00, true},
		{79.99, "A", 3.75, true},
		{75, "A", 3.75, true},
		{74.99, "A-", 3.50, true},
		{70, "A-", 3.50, true},
		{65, "B+", 3.25, true},
		{60, "B", 3.00, true},
		{55, "B-", 2.75, true},
		{50, "C+", 2.50, true},
		{45, "C", 2.25, true},
		{40, "D", 2.00, true},
		{39.99, "F", 0.00, true},
		{0, "F", 0.00, true},
		{-1, "Invalid", 0.00, false},
		{101, "Invalid", 0.00, false},
	}
	for _, c := range cases {
		g := ConvertToGrade(c.in)
		assert.Equal(t, c.letter, g.Letter, "letter for %v", c.in)
		assert.Equal(t, c.gpa, g.GPA, "gpa for %v", c.in)
		assert.Equal(t, c.valid, g.Valid, "valid for %v", c.in)
	}
}

func TestConvertToGradeFormatsScore(t *testing.T) {
	assert.Equal(t, "82.50", ConvertToGrade(82.5).Score)
	assert.Equal(t, "100.00", ConvertToGrade(100).Score)
}
