package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	auth "github.com/evalboard/evalboard-server/internal/auth/middleware"
	"github.com/evalboard/evalboard-server/internal/evaluation"
)

type modifiedGradeReq struct {
	StudentID          string  `json:"student_id" validate:"required"`
	OriginalMark       float64 `json:"original_mark" validate:"min=0,max=100"`
	ModifiedMark       float64 `json:"modified_mark" validate:"min=0,max=100"`
	ModificationReason string  `json:"modification_reason" validate:"required"`
}

type reviewReq struct {
	Action         string             `json:"action" validate:"required,oneof=save_draft finalize"`
	AdminComments  string             `json:"admin_comments,omitempty"`
	ModifiedGrades []modifiedGradeReq `json:"modified_grades,omitempty" validate:"dive"`
}

// POST /evaluations/{sessionID}/review
// The reviewer is the authenticated subject.
func ReviewSessionHandler(svc *evaluation.Service, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if sessionID == "" {
			http.Error(w, "sessionID required", http.StatusBadRequest)
			return
		}
		var req reviewReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidatorErr(w, err)
			return
		}

		domainReq := evaluation.ReviewRequest{
			SessionID:     sessionID,
			ReviewedBy:    auth.SubjectFromContext(r.Context()),
			AdminComments: req.AdminComments,
			Action:        evaluation.ReviewAction(req.Action),
		}
		for _, g := range req.ModifiedGrades {
			domainReq.ModifiedGrades = append(domainReq.ModifiedGrades, evaluation.GradeOverride{
				StudentID:          g.StudentID,
				OriginalMark:       g.OriginalMark,
				ModifiedMark:       g.ModifiedMark,
				ModificationReason: g.ModificationReason,
			})
		}

		sess, err := svc.ReviewEvaluation(r.Context(), domainReq)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(viewOf(sess))
	}
}
