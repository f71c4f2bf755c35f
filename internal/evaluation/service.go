package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Directory reads the external records the engine depends on: board panel
// membership, team roster and the team's current supervisor. Values are
// snapshotted at submission time, never live-tracked.
type Directory interface {
	PanelRaters(ctx context.Context, boardID string) ([]Rater, error)
	TeamStudents(ctx context.Context, teamID string) ([]Student, error)
	TeamSupervisor(ctx context.Context, teamID string) (string, error)
}

// Notifier is the outward notification sink. Delivery is fire-and-forget:
// failures are logged by the caller, never surfaced.
type Notifier interface {
	Notify(ctx context.Context, recipientID, kind, title, message string, data map[string]interface{}) error
}

// EventSink receives audit events for session state changes. Best-effort.
type EventSink interface {
	Append(ctx context.Context, typ, key string, data map[string]interface{}) error
}

type Clock func() time.Time

const (
	KindReadyForReview = "evaluation_ready_for_review"
	KindGradeReleased  = "grade_released"
)

// casRetries bounds the optimistic-concurrency retry loop for concurrent
// submissions on the same session.
const casRetries = 5

type Service struct {
	store    Store
	dir      Directory
	notifier Notifier
	events   EventSink
	now      Clock
	log      *zap.Logger

	// reviewRecipients receive the quorum "ready for review" signal.
	reviewRecipients []string
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithEventSink(e EventSink) Option { return func(s *Service) { s.events = e } }

func WithClock(c Clock) Option { return func(s *Service) { s.now = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithReviewRecipients(ids []string) Option {
	return func(s *Service) { s.reviewRecipients = ids }
}

func NewService(store Store, dir Directory, opts ...Option) *Service {
	s := &Service{
		store: store,
		dir:   dir,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitRequest is one rater's scorecard for a (board, team, phase).
// Exactly one of TeamMark / IndividualMarks must be set, matching Type.
type SubmitRequest struct {
	BoardID         string
	TeamID          string
	Phase           Phase
	RaterID         string
	Type            EvaluationType
	TeamMark        *TeamMark
	IndividualMarks []StudentMark
}

// SubmitEvaluation validates and upserts a rater's scorecard. The session is
// created lazily on first submission; totalEvaluators is fixed from the
// board's panel size at that moment. When the last assigned rater submits,
// the raw results are aggregated, the session moves to pending_admin_review
// and the review signal is emitted.
func (s *Service) SubmitEvaluation(ctx context.Context, req SubmitRequest) (*Session, error) {
	if !req.Phase.Valid() {
		return nil, fieldErr("phase", "must be one of A, B, C")
	}

	panel, err := s.dir.PanelRaters(ctx, req.BoardID)
	if err != nil {
		return nil, fmt.Errorf("panel lookup: %w", err)
	}
	var rater *Rater
	for i := range panel {
		if panel[i].ID == req.RaterID {
			rater = &panel[i]
			break
		}
	}
	if rater == nil {
		return nil, ErrNotPanelMember
	}

	roster, err := s.dir.TeamStudents(ctx, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("roster lookup: %w", err)
	}
	supervisorID, err := s.dir.TeamSupervisor(ctx, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("supervisor lookup: %w", err)
	}

	ev, err := buildEvaluation(req, *rater, supervisorID, roster)
	if err != nil {
		return nil, err
	}

	var (
		sess          *Session
		quorumReached bool
		created       bool
	)
	for attempt := 0; ; attempt++ {
		if attempt >= casRetries {
			return nil, ErrVersionConflict
		}
		quorumReached = false
		created = false
		now := s.now().UTC()

		sess, err = s.store.Get(ctx, req.BoardID, req.TeamID, req.Phase)
		if errors.Is(err, ErrSessionNotFound) {
			sess = &Session{
				ID:              uuid.NewString(),
				BoardID:         req.BoardID,
				TeamID:          req.TeamID,
				Phase:           req.Phase,
				Evaluations:     map[string]Evaluation{},
				TotalEvaluators: len(panel),
				Status:          StatusInProgress,
				CreatedAt:       now,
			}
			created = true
		} else if err != nil {
			return nil, err
		}

		switch sess.Status {
		case StatusFinalized:
			return nil, ErrSessionFinalized
		case StatusPendingAdminReview, StatusAdminReviewed:
			// Late submissions are rejected, not silently merged.
			return nil, ErrSubmissionClosed
		}

		entry := ev
		entry.SubmittedAt = now
		entry.LastModified = now
		if prior, ok := sess.Evaluations[req.RaterID]; ok {
			entry.SubmittedAt = prior.SubmittedAt
		}
		sess.Evaluations[req.RaterID] = entry
		sess.UpdatedAt = now

		if sess.SubmittedEvaluations() == sess.TotalEvaluators && sess.Status == StatusInProgress {
			sess.FacultyResults = Aggregate(sess.Evaluations, roster)
			sess.Status = StatusPendingAdminReview
			sess.IsCompleted = true
			completed := now
			sess.CompletedAt = &completed
			quorumReached = true
		}

		if created {
			err = s.store.Create(ctx, sess)
			if errors.Is(err, ErrSessionExists) {
				continue // another rater created it first
			}
		} else {
			err = s.store.Update(ctx, sess)
			if errors.Is(err, ErrVersionConflict) {
				s.log.Debug("submit retry after version conflict",
					zap.String("session_id", sess.ID), zap.String("rater_id", req.RaterID))
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if created {
		s.appendEvent(ctx, "SessionCreated", sess.ID, map[string]interface{}{
			"board_id": sess.BoardID, "team_id": sess.TeamID,
			"phase": string(sess.Phase), "total_evaluators": sess.TotalEvaluators,
		})
	}
	s.appendEvent(ctx, "EvaluationSubmitted", sess.ID, map[string]interface{}{
		"rater_id": req.RaterID, "evaluation_type": string(req.Type),
	})
	if quorumReached {
		s.appendEvent(ctx, "QuorumReached", sess.ID, map[string]interface{}{
			"submitted": sess.SubmittedEvaluations(), "total": sess.TotalEvaluators,
		})
		s.notifyReadyForReview(ctx, sess)
	}
	return sess, nil
}

func buildEvaluation(req SubmitRequest, rater Rater, supervisorID string, roster []Student) (Evaluation, error) {
	ev := Evaluation{
		RaterID:      rater.ID,
		RaterName:    rater.Name,
		IsSupervisor: rater.ID == supervisorID,
		Type:         req.Type,
	}
	switch req.Type {
	case TypeTeam:
		if req.TeamMark == nil {
			return ev, fieldErr("team_mark", "required for team evaluations")
		}
		if len(req.IndividualMarks) > 0 {
			return ev, fieldErr("individual_marks", "not allowed for team evaluations")
		}
		if !markInRange(req.TeamMark.Mark) {
			return ev, fieldErr("team_mark.mark", "must be in [0,100], got %v", req.TeamMark.Mark)
		}
		tm := *req.TeamMark
		ev.Team = &tm
	case TypeIndividual:
		if req.TeamMark != nil {
			return ev, fieldErr("team_mark", "not allowed for individual evaluations")
		}
		if len(req.IndividualMarks) == 0 {
			return ev, fieldErr("individual_marks", "at least one mark is required")
		}
		names := make(map[string]string, len(roster))
		for _, st := range roster {
			names[st.ID] = st.Name
		}
		seen := make(map[string]bool, len(req.IndividualMarks))
		marks := make([]StudentMark, 0, len(req.IndividualMarks))
		for i, m := range req.IndividualMarks {
			name, ok := names[m.StudentID]
			if !ok {
				return ev, fieldErr(fmt.Sprintf("individual_marks[%d].student_id", i),
					"student %q is not on the team roster", m.StudentID)
			}
			if seen[m.StudentID] {
				return ev, fieldErr(fmt.Sprintf("individual_marks[%d].student_id", i),
					"duplicate entry for student %q", m.StudentID)
			}
			if !markInRange(m.Mark) {
				return ev, fieldErr(fmt.Sprintf("individual_marks[%d].mark", i),
					"must be in [0,100], got %v", m.Mark)
			}
			seen[m.StudentID] = true
			m.StudentName = name
			marks = append(marks, m)
		}
		ev.Individual = marks
	default:
		return ev, fieldErr("evaluation_type", "must be %q or %q", TypeTeam, TypeIndividual)
	}
	return ev, nil
}

func markInRange(m float64) bool { return !math.IsNaN(m) && m >= 0 && m <= 100 }

type ReviewAction string

const (
	ActionSaveDraft ReviewAction = "save_draft"
	ActionFinalize  ReviewAction = "finalize"
)

type GradeOverride struct {
	StudentID          string
	OriginalMark       float64
	ModifiedMark       float64
	ModificationReason string
}

type ReviewRequest struct {
	SessionID      string
	ReviewedBy     string
	AdminComments  string
	ModifiedGrades []GradeOverride
	Action         ReviewAction
}

// ReviewEvaluation applies admin overrides on top of the raw faculty
// results. save_draft keeps the session mutable for further review;
// finalize freezes it and releases grades to the affected students.
// Recomputation is pure: identical requests before finalize produce
// identical finalResults.
func (s *Service) ReviewEvaluation(ctx context.Context, req ReviewRequest) (*Session, error) {
	if req.Action != ActionSaveDraft && req.Action != ActionFinalize {
		return nil, fieldErr("action", "must be %q or %q", ActionSaveDraft, ActionFinalize)
	}

	var sess *Session
	for attempt := 0; ; attempt++ {
		if attempt >= casRetries {
			return nil, ErrVersionConflict
		}
		var err error
		sess, err = s.store.GetByID(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		switch sess.Status {
		case StatusFinalized:
			return nil, ErrSessionFinalized
		case StatusPendingAdminReview, StatusAdminReviewed:
		default:
			return nil, ErrReviewNotOpen
		}

		now := s.now().UTC()
		mods, err := buildModifications(sess.FacultyResults, req.ModifiedGrades, now)
		if err != nil {
			return nil, err
		}

		sess.FinalResults = ApplyReview(sess.FacultyResults, mods)
		review := AdminReview{
			IsReviewed:     true,
			ReviewedBy:     req.ReviewedBy,
			ReviewedAt:     &now,
			AdminComments:  req.AdminComments,
			ModifiedGrades: mods,
		}
		if req.Action == ActionFinalize {
			review.IsFinalized = true
			review.FinalizedAt = &now
			sess.Status = StatusFinalized
		} else {
			sess.Status = StatusAdminReviewed
		}
		sess.AdminReview = review
		sess.UpdatedAt = now

		err = s.store.Update(ctx, sess)
		if errors.Is(err, ErrVersionConflict) {
			// Review is single-writer by assumption, but a racing
			// submission or finalize can still bump the version.
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if req.Action == ActionFinalize {
		s.appendEvent(ctx, "SessionFinalized", sess.ID, map[string]interface{}{
			"reviewed_by": req.ReviewedBy, "overrides": len(req.ModifiedGrades),
		})
		// Dispatch happens only here, inside the operation that flipped
		// isFinalized; a retried finalize is rejected above and never
		// re-dispatches. Delivery failures do not roll back the state.
		s.notifyGradesReleased(ctx, sess)
	} else {
		s.appendEvent(ctx, "SessionReviewed", sess.ID, map[string]interface{}{
			"reviewed_by": req.ReviewedBy, "overrides": len(req.ModifiedGrades),
		})
	}
	return sess, nil
}

func buildModifications(faculty *ResultSet, overrides []GradeOverride, now time.Time) ([]GradeModification, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	stored := make(map[string]float64, len(faculty.Individual))
	for _, r := range faculty.Individual {
		stored[r.StudentID] = r.FinalMark
	}
	mods := make([]GradeModification, 0, len(overrides))
	seen := make(map[string]bool, len(overrides))
	for i, o := range overrides {
		raw, ok := stored[o.StudentID]
		if !ok {
			return nil, fieldErr(fmt.Sprintf("modified_grades[%d].student_id", i),
				"student %q has no faculty result", o.StudentID)
		}
		if seen[o.StudentID] {
			return nil, fieldErr(fmt.Sprintf("modified_grades[%d].student_id", i),
				"duplicate override for student %q", o.StudentID)
		}
		seen[o.StudentID] = true
		if !markInRange(o.ModifiedMark) {
			return nil, fieldErr(fmt.Sprintf("modified_grades[%d].modified_mark", i),
				"must be in [0,100], got %v", o.ModifiedMark)
		}
		// Reject stale clients: the asserted original must match the stored
		// raw mark to two decimals.
		if math.Abs(raw-o.OriginalMark) >= 0.005 {
			return nil, fieldErr(fmt.Sprintf("modified_grades[%d].original_mark", i),
				"does not match stored mark %.2f (stale client?)", raw)
		}
		if o.ModificationReason == "" {
			return nil, fieldErr(fmt.Sprintf("modified_grades[%d].modification_reason", i),
				"a reason is required")
		}
		mods = append(mods, GradeModification{
			StudentID:          o.StudentID,
			OriginalMark:       o.OriginalMark,
			ModifiedMark:       o.ModifiedMark,
			ModificationReason: o.ModificationReason,
			ModifiedAt:         now,
		})
	}
	return mods, nil
}

func (s *Service) GetSession(ctx context.Context, boardID, teamID string, phase Phase) (*Session, error) {
	if !phase.Valid() {
		return nil, fieldErr("phase", "must be one of A, B, C")
	}
	return s.store.Get(ctx, boardID, teamID, phase)
}

func (s *Service) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	return s.store.GetByID(ctx, id)
}

// ListPendingReview returns sessions awaiting admin action: quorum reached
// but not yet finalized.
func (s *Service) ListPendingReview(ctx context.Context) ([]*Session, error) {
	return s.store.ListByStatus(ctx, StatusPendingAdminReview, StatusAdminReviewed)
}

func (s *Service) StatusCounts(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}

func (s *Service) notifyReadyForReview(ctx context.Context, sess *Session) {
	if s.notifier == nil {
		return
	}
	data := map[string]interface{}{
		"session_id": sess.ID,
		"board_id":   sess.BoardID,
		"team_id":    sess.TeamID,
		"phase":      string(sess.Phase),
		"submitted":  sess.SubmittedEvaluations(),
	}
	title := "Evaluation ready for review"
	msg := fmt.Sprintf("All %d evaluations for team %s (phase %s) are in.",
		sess.TotalEvaluators, sess.TeamID, sess.Phase)
	for _, rcpt := range s.reviewRecipients {
		if err := s.notifier.Notify(ctx, rcpt, KindReadyForReview, title, msg, data); err != nil {
			s.log.Warn("review notification failed",
				zap.String("session_id", sess.ID), zap.String("recipient", rcpt), zap.Error(err))
		}
	}
}

func (s *Service) notifyGradesReleased(ctx context.Context, sess *Session) {
	if s.notifier == nil || sess.FinalResults == nil {
		return
	}
	for _, r := range sess.FinalResults.Individual {
		data := map[string]interface{}{
			"phase":               string(sess.Phase),
			"team_id":             sess.TeamID,
			"final_mark":          r.FinalMark,
			"grade":               r.Grade,
			"gpa":                 r.GPA,
			"is_modified":         r.IsModified,
			"modification_reason": r.ModificationReason,
		}
		msg := fmt.Sprintf("Your phase %s grade is %s (%.2f).", sess.Phase, r.Grade, r.FinalMark)
		if err := s.notifier.Notify(ctx, r.StudentID, KindGradeReleased,
			"Grade released", msg, data); err != nil {
			s.log.Warn("grade notification failed",
				zap.String("session_id", sess.ID), zap.String("student_id", r.StudentID), zap.Error(err))
		}
	}
}

func (s *Service) appendEvent(ctx context.Context, typ, key string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, typ, key, data); err != nil {
		s.log.Warn("audit append failed", zap.String("type", typ), zap.String("key", key), zap.Error(err))
	}
}
