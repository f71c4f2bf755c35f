package evaluation

import (
	"fmt"
	"sort"
)

// Aggregate computes the raw result snapshot from the submitted evaluation
// set and the team roster. Raters are walked in sorted id order so the
// output depends only on the set, not on map iteration or submission order.
func Aggregate(evals map[string]Evaluation, roster []Student) *ResultSet {
	raterIDs := make([]string, 0, len(evals))
	for id := range evals {
		raterIDs = append(raterIDs, id)
	}
	sort.Strings(raterIDs)

	out := &ResultSet{Individual: make([]StudentResult, 0, len(roster))}
	for _, st := range roster {
		out.Individual = append(out.Individual, aggregateStudent(st, raterIDs, evals))
	}

	sum := 0.0
	for _, r := range out.Individual {
		sum += r.FinalMark
	}
	if n := len(out.Individual); n > 0 {
		out.TeamAverage = sum / float64(n)
	}
	tg := ConvertToGrade(out.TeamAverage)
	out.TeamGrade = tg.Letter
	out.TeamGPA = tg.GPA
	return out
}

func aggregateStudent(st Student, raterIDs []string, evals map[string]Evaluation) StudentResult {
	var (
		supervisorMark float64
		hasSupervisor  bool
		panel          []float64
	)
	for _, id := range raterIDs {
		ev := evals[id]
		mark, ok := ev.markFor(st.ID)
		if !ok {
			continue
		}
		// At most one supervisor slot; an unexpected second supervisor
		// snapshot counts as a panel mark.
		if ev.IsSupervisor && !hasSupervisor {
			supervisorMark = mark
			hasSupervisor = true
		} else {
			panel = append(panel, mark)
		}
	}

	boardAverage := 0.0
	if len(panel) > 0 {
		sum := 0.0
		for _, m := range panel {
			sum += m
		}
		boardAverage = sum / float64(len(panel))
	}

	res := StudentResult{
		StudentID:   st.ID,
		StudentName: st.Name,
		Breakdown: Breakdown{
			BoardAverage:   boardAverage,
			SupervisorMark: supervisorMark,
		},
	}

	switch {
	case hasSupervisor && len(panel) > 0:
		res.FinalMark = (boardAverage + supervisorMark) / 2
		res.Breakdown.FinalCalculation = fmt.Sprintf(
			"(board average %.2f + supervisor %.2f) / 2 = %.2f",
			boardAverage, supervisorMark, res.FinalMark)
	case hasSupervisor || len(panel) > 0:
		sum := supervisorMark
		n := len(panel)
		if hasSupervisor {
			n++
		}
		for _, m := range panel {
			sum += m
		}
		res.FinalMark = sum / float64(n)
		res.Breakdown.FinalCalculation = fmt.Sprintf(
			"mean of %d contributing mark(s) = %.2f", n, res.FinalMark)
	default:
		res.FinalMark = 0
		res.Breakdown.NoMarks = true
		res.Breakdown.FinalCalculation = "no contributing marks"
	}

	g := ConvertToGrade(res.FinalMark)
	res.Grade = g.Letter
	res.GPA = g.GPA
	return res
}

// ApplyReview produces the final snapshot from the raw faculty snapshot and
// the admin override list. It is a pure function: identical inputs yield
// identical output, and the faculty snapshot is never mutated.
func ApplyReview(faculty *ResultSet, overrides []GradeModification) *ResultSet {
	byStudent := make(map[string]GradeModification, len(overrides))
	for _, m := range overrides {
		byStudent[m.StudentID] = m
	}

	out := &ResultSet{Individual: make([]StudentResult, 0, len(faculty.Individual))}
	for _, r := range faculty.Individual {
		mod, ok := byStudent[r.StudentID]
		if ok {
			r.FinalMark = mod.ModifiedMark
			g := ConvertToGrade(mod.ModifiedMark)
			r.Grade = g.Letter
			r.GPA = g.GPA
			r.IsModified = true
			r.ModificationReason = mod.ModificationReason
			r.Breakdown.AdminAdjustment = mod.ModifiedMark - mod.OriginalMark
			r.Breakdown.FinalCalculation = fmt.Sprintf(
				"%s; admin override %.2f -> %.2f",
				r.Breakdown.FinalCalculation, mod.OriginalMark, mod.ModifiedMark)
		}
		out.Individual = append(out.Individual, r)
	}

	sum := 0.0
	for _, r := range out.Individual {
		sum += r.FinalMark
	}
	if n := len(out.Individual); n > 0 {
		out.TeamAverage = sum / float64(n)
	}
	tg := ConvertToGrade(out.TeamAverage)
	out.TeamGrade = tg.Letter
	out.TeamGPA = tg.GPA
	return out
}
