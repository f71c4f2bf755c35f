package evaluation

import "time"

type Phase string

const (
	PhaseA Phase = "A"
	PhaseB Phase = "B"
	PhaseC Phase = "C"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseA, PhaseB, PhaseC:
		return true
	}
	return false
}

type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusPendingAdminReview Status = "pending_admin_review"
	StatusAdminReviewed      Status = "admin_reviewed"
	StatusFinalized          Status = "finalized"
)

type EvaluationType string

const (
	TypeTeam       EvaluationType = "team"
	TypeIndividual EvaluationType = "individual"
)

// TeamMark is the team-wide variant of a scorecard: one mark applied to
// every member of the team.
type TeamMark struct {
	Mark     float64 `json:"mark"`
	Feedback string  `json:"feedback,omitempty"`
}

// StudentMark is one entry of the per-student variant. Students the rater
// did not score are simply absent from the list.
type StudentMark struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	Mark        float64 `json:"mark"`
	Feedback    string  `json:"feedback,omitempty"`
}

// Evaluation is one rater's scorecard. Exactly one of Team / Individual is
// set, matching Type. IsSupervisor is snapshotted at submission time and
// never re-derived.
type Evaluation struct {
	RaterID      string         `json:"rater_id"`
	RaterName    string         `json:"rater_name"`
	IsSupervisor bool           `json:"is_supervisor"`
	Type         EvaluationType `json:"evaluation_type"`
	Team         *TeamMark      `json:"team,omitempty"`
	Individual   []StudentMark  `json:"individual_marks,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	LastModified time.Time      `json:"last_modified"`
}

// markFor reports the mark this evaluation contributes to a given student,
// if any. Team-type entries contribute to every member equally.
func (e Evaluation) markFor(studentID string) (float64, bool) {
	switch e.Type {
	case TypeTeam:
		if e.Team != nil {
			return e.Team.Mark, true
		}
	case TypeIndividual:
		for _, m := range e.Individual {
			if m.StudentID == studentID {
				return m.Mark, true
			}
		}
	}
	return 0, false
}

// Breakdown records how a student's final mark was computed, reproducibly.
type Breakdown struct {
	BoardAverage     float64 `json:"board_average"`
	SupervisorMark   float64 `json:"supervisor_mark"`
	AdminAdjustment  float64 `json:"admin_adjustment"`
	FinalCalculation string  `json:"final_calculation"`
	NoMarks          bool    `json:"no_marks,omitempty"`
}

type StudentResult struct {
	StudentID          string    `json:"student_id"`
	StudentName        string    `json:"student_name"`
	FinalMark          float64   `json:"final_mark"`
	Grade              string    `json:"grade"`
	GPA                float64   `json:"gpa"`
	IsModified         bool      `json:"is_modified"`
	ModificationReason string    `json:"modification_reason,omitempty"`
	Breakdown          Breakdown `json:"breakdown"`
}

// ResultSet is one aggregation snapshot. A session holds two: the raw
// faculty snapshot (pre-review) and the final snapshot (post-review). They
// share a shape but are intentionally distinct records in the audit trail.
type ResultSet struct {
	TeamAverage float64         `json:"team_average"`
	TeamGrade   string          `json:"team_grade"`
	TeamGPA     float64         `json:"team_gpa"`
	Individual  []StudentResult `json:"individual_results"`
}

type GradeModification struct {
	StudentID          string    `json:"student_id"`
	OriginalMark       float64   `json:"original_mark"`
	ModifiedMark       float64   `json:"modified_mark"`
	ModificationReason string    `json:"modification_reason"`
	ModifiedAt         time.Time `json:"modified_at"`
}

type AdminReview struct {
	IsReviewed     bool                `json:"is_reviewed"`
	ReviewedBy     string              `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time          `json:"reviewed_at,omitempty"`
	AdminComments  string              `json:"admin_comments,omitempty"`
	ModifiedGrades []GradeModification `json:"modified_grades,omitempty"`
	IsFinalized    bool                `json:"is_finalized"`
	FinalizedAt    *time.Time          `json:"finalized_at,omitempty"`
}

// Session is the aggregate for one (board, team, phase). Evaluations are
// keyed by rater id, so a rater structurally has at most one active entry
// and resubmission is an upsert. Version backs the store's compare-and-swap.
type Session struct {
	ID              string                `json:"id"`
	BoardID         string                `json:"board_id"`
	TeamID          string                `json:"team_id"`
	Phase           Phase                 `json:"phase"`
	Evaluations     map[string]Evaluation `json:"evaluations"`
	TotalEvaluators int                   `json:"total_evaluators"`
	FacultyResults  *ResultSet            `json:"faculty_results,omitempty"`
	AdminReview     AdminReview           `json:"admin_review"`
	FinalResults    *ResultSet            `json:"final_results,omitempty"`
	IsCompleted     bool                  `json:"is_completed"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Status          Status                `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Version         int64                 `json:"-"`
}

// SubmittedEvaluations is derived, never stored separately: it is the entry
// count by construction.
func (s *Session) SubmittedEvaluations() int { return len(s.Evaluations) }

// Clone deep-copies the session so store snapshots cannot be mutated through
// shared slices or maps.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Evaluations = make(map[string]Evaluation, len(s.Evaluations))
	for k, v := range s.Evaluations {
		out.Evaluations[k] = v.clone()
	}
	out.FacultyResults = s.FacultyResults.clone()
	out.FinalResults = s.FinalResults.clone()
	out.AdminReview = s.AdminReview.clone()
	out.CompletedAt = cloneTime(s.CompletedAt)
	return &out
}

func (e Evaluation) clone() Evaluation {
	out := e
	if e.Team != nil {
		t := *e.Team
		out.Team = &t
	}
	if e.Individual != nil {
		out.Individual = append([]StudentMark(nil), e.Individual...)
	}
	return out
}

func (r *ResultSet) clone() *ResultSet {
	if r == nil {
		return nil
	}
	out := *r
	out.Individual = append([]StudentResult(nil), r.Individual...)
	return &out
}

func (a AdminReview) clone() AdminReview {
	out := a
	if a.ModifiedGrades != nil {
		out.ModifiedGrades = append([]GradeModification(nil), a.ModifiedGrades...)
	}
	out.ReviewedAt = cloneTime(a.ReviewedAt)
	out.FinalizedAt = cloneTime(a.FinalizedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Rater and Student are snapshots of external records (board panel and team
// roster), read through Directory at submission time.
type Rater struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
