package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	auth "github.com/evalboard/evalboard-server/internal/auth/middleware"
	"github.com/evalboard/evalboard-server/internal/evaluation"
	"github.com/evalboard/evalboard-server/internal/rbac"
	"github.com/evalboard/evalboard-server/internal/roster"
)

type teamMarkReq struct {
	Mark     float64 `json:"mark" validate:"min=0,max=100"`
	Feedback string  `json:"feedback,omitempty"`
}

type individualMarkReq struct {
	StudentID string  `json:"student_id" validate:"required"`
	Mark      float64 `json:"mark" validate:"min=0,max=100"`
	Feedback  string  `json:"feedback,omitempty"`
}

type submitEvaluationReq struct {
	EvaluationType  string              `json:"evaluation_type" validate:"required,oneof=team individual"`
	TeamMark        *teamMarkReq        `json:"team_mark,omitempty"`
	IndividualMarks []individualMarkReq `json:"individual_marks,omitempty" validate:"dive"`
}

// sessionView adds the derived submission count to the wire shape.
type sessionView struct {
	*evaluation.Session
	SubmittedEvaluations int `json:"submitted_evaluations"`
}

func viewOf(s *evaluation.Session) sessionView {
	return sessionView{Session: s, SubmittedEvaluations: s.SubmittedEvaluations()}
}

// studentSessionView is the restricted shape served to the student role:
// progress and released results only. Per-rater scorecards, the pre-review
// faculty snapshot and the admin review never cross this boundary.
type studentSessionView struct {
	ID                   string                `json:"id"`
	BoardID              string                `json:"board_id"`
	TeamID               string                `json:"team_id"`
	Phase                evaluation.Phase      `json:"phase"`
	Status               evaluation.Status     `json:"status"`
	TotalEvaluators      int                   `json:"total_evaluators"`
	SubmittedEvaluations int                   `json:"submitted_evaluations"`
	FinalResults         *evaluation.ResultSet `json:"final_results,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

func studentViewOf(s *evaluation.Session) studentSessionView {
	v := studentSessionView{
		ID:                   s.ID,
		BoardID:              s.BoardID,
		TeamID:               s.TeamID,
		Phase:                s.Phase,
		Status:               s.Status,
		TotalEvaluators:      s.TotalEvaluators,
		SubmittedEvaluations: s.SubmittedEvaluations(),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.Status == evaluation.StatusFinalized {
		v.FinalResults = s.FinalResults
	}
	return v
}

// POST /boards/{boardID}/teams/{teamID}/phases/{phase}/evaluations
// The rater is the authenticated subject.
func SubmitEvaluationHandler(svc *evaluation.Service, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitEvaluationReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidatorErr(w, err)
			return
		}
		sub := auth.SubjectFromContext(r.Context())
		if sub == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		domainReq := evaluation.SubmitRequest{
			BoardID: chi.URLParam(r, "boardID"),
			TeamID:  chi.URLParam(r, "teamID"),
			Phase:   evaluation.Phase(strings.ToUpper(chi.URLParam(r, "phase"))),
			RaterID: sub,
			Type:    evaluation.EvaluationType(req.EvaluationType),
		}
		if req.TeamMark != nil {
			domainReq.TeamMark = &evaluation.TeamMark{Mark: req.TeamMark.Mark, Feedback: req.TeamMark.Feedback}
		}
		for _, m := range req.IndividualMarks {
			domainReq.IndividualMarks = append(domainReq.IndividualMarks, evaluation.StudentMark{
				StudentID: m.StudentID, Mark: m.Mark, Feedback: m.Feedback,
			})
		}

		sess, err := svc.SubmitEvaluation(r.Context(), domainReq)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(viewOf(sess))
	}
}

// GET /boards/{boardID}/teams/{teamID}/phases/{phase}/evaluations
func GetSessionHandler(svc *evaluation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.GetSession(r.Context(),
			chi.URLParam(r, "boardID"),
			chi.URLParam(r, "teamID"),
			evaluation.Phase(strings.ToUpper(chi.URLParam(r, "phase"))))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if rbac.RoleFromContext(r.Context()) == "student" {
			_ = json.NewEncoder(w).Encode(studentViewOf(sess))
			return
		}
		_ = json.NewEncoder(w).Encode(viewOf(sess))
	}
}

// GET /evaluations/pending
func ListPendingHandler(svc *evaluation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := svc.ListPendingReview(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, viewOf(s))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

// GET /evaluations/status-counts
func StatusCountsHandler(svc *evaluation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.StatusCounts(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counts)
	}
}

func writeDomainErr(w http.ResponseWriter, err error) {
	var ve *evaluation.ValidationError
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "validation", "field": ve.Field, "reason": ve.Reason,
		})
	case errors.Is(err, evaluation.ErrSessionNotFound),
		errors.Is(err, roster.ErrBoardNotFound),
		errors.Is(err, roster.ErrTeamNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, evaluation.ErrNotPanelMember):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, evaluation.ErrSessionFinalized):
		// Terminal-state violation, distinct from generic validation.
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, evaluation.ErrSubmissionClosed),
		errors.Is(err, evaluation.ErrReviewNotOpen),
		errors.Is(err, evaluation.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeValidatorErr(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "validation", "field": fe.Namespace(), "reason": "failed " + fe.Tag(),
		})
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
