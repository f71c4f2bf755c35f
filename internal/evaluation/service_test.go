package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* ---------------- In-memory fakes that satisfy Directory, Notifier and EventSink ---------------- */

type fakeDirectory struct {
	panels      map[string][]Rater
	rosters     map[string][]Student
	supervisors map[string]string
}

func (d *fakeDirectory) PanelRaters(_ context.Context, boardID string) ([]Rater, error) {
	return d.panels[boardID], nil
}

func (d *fakeDirectory) TeamStudents(_ context.Context, teamID string) ([]Student, error) {
	return d.rosters[teamID], nil
}

func (d *fakeDirectory) TeamSupervisor(_ context.Context, teamID string) (string, error) {
	return d.supervisors[teamID], nil
}

type sentNotification struct {
	RecipientID string
	Kind        string
	Data        map[string]interface{}
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentNotification
	failWith error
}

func (n *recordingNotifier) Notify(_ context.Context, recipientID, kind, _, _ string, data map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{RecipientID: recipientID, Kind: kind, Data: data})
	return n.failWith
}

func (n *recordingNotifier) ofKind(kind string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type recordingEvents struct {
	mu       sync.Mutex
	types    []string
	failWith error
}

func (e *recordingEvents) Append(_ context.Context, typ, _ string, _ map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, typ)
	return e.failWith
}

func (e *recordingEvents) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

/* ---------------- fixtures ---------------- */

type fixture struct {
	svc      *Service
	store    Store
	dir      *fakeDirectory
	notifier *recordingNotifier
	events   *recordingEvents
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture() *fixture {
	dir := &fakeDirectory{
		panels: map[string][]Rater{
			"B1": {{ID: "F1", Name: "Prof. One"}, {ID: "F2", Name: "Prof. Two"}, {ID: "F3", Name: "Prof. Three"}},
		},
		rosters: map[string][]Student{
			"T1": {{ID: "S1", Name: "Alice"}, {ID: "S2", Name: "Bob"}},
		},
		supervisors: map[string]string{"T1": "F1"},
	}
	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	clock := &fakeClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	store := NewInMemoryStore()
	svc := NewService(store, dir,
		WithNotifier(notifier),
		WithEventSink(events),
		WithClock(clock.Now),
		WithReviewRecipients([]string{"admin"}),
	)
	return &fixture{svc: svc, store: store, dir: dir, notifier: notifier, events: events, clock: clock}
}

func submitTeam(t *testing.T, f *fixture, raterID string, mark float64) *Session {
	t.Helper()
	sess, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: raterID,
		Type: TypeTeam, TeamMark: &TeamMark{Mark: mark},
	})
	require.NoError(t, err)
	return sess
}

func reachQuorum(t *testing.T, f *fixture) *Session {
	t.Helper()
	_, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: "F1",
		Type: TypeIndividual,
		IndividualMarks: []StudentMark{
			{StudentID: "S1", Mark: 85},
			{StudentID: "S2", Mark: 75},
		},
	})
	require.NoError(t, err)
	submitTeam(t, f, "F2", 70)
	return submitTeam(t, f, "F3", 80)
}

/* ---------------- submission ---------------- */

func TestSubmitCreatesSessionLazily(t *testing.T) {
	f := newFixture()
	sess := submitTeam(t, f, "F2", 70)

	assert.Equal(t, StatusInProgress, sess.Status)
	assert.Equal(t, 3, sess.TotalEvaluators)
	assert.Equal(t, 1, sess.SubmittedEvaluations())
	assert.False(t, sess.IsCompleted)
	assert.Nil(t, sess.FacultyResults)

	ev := sess.Evaluations["F2"]
	assert.Equal(t, "Prof. Two", ev.RaterName)
	assert.False(t, ev.IsSupervisor)

	assert.Equal(t, []string{"SessionCreated", "EvaluationSubmitted"}, f.events.all())
}

func TestSubmitRejectsNonPanelMember(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: "intruder",
		Type: TypeTeam, TeamMark: &TeamMark{Mark: 50},
	})
	assert.ErrorIs(t, err, ErrNotPanelMember)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()
	base := SubmitRequest{BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: "F2"}

	cases := []struct {
		name  string
		req   func(SubmitRequest) SubmitRequest
		field string
	}{
		{"bad phase", func(r SubmitRequest) SubmitRequest {
			r.Phase = "D"
			r.Type = TypeTeam
			r.TeamMark = &TeamMark{Mark: 50}
			return r
		}, "phase"},
		{"team without mark", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeTeam
			return r
		}, "team_mark"},
		{"team mark out of range", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeTeam
			r.TeamMark = &TeamMark{Mark: 101}
			return r
		}, "team_mark.mark"},
		{"team with individual marks", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeTeam
			r.TeamMark = &TeamMark{Mark: 50}
			r.IndividualMarks = []StudentMark{{StudentID: "S1", Mark: 50}}
			return r
		}, "individual_marks"},
		{"individual empty", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeIndividual
			return r
		}, "individual_marks"},
		{"individual unknown student", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeIndividual
			r.IndividualMarks = []StudentMark{{StudentID: "SX", Mark: 50}}
			return r
		}, "individual_marks[0].student_id"},
		{"individual mark out of range", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeIndividual
			r.IndividualMarks = []StudentMark{{StudentID: "S1", Mark: -3}}
			return r
		}, "individual_marks[0].mark"},
		{"individual duplicate student", func(r SubmitRequest) SubmitRequest {
			r.Type = TypeIndividual
			r.IndividualMarks = []StudentMark{
				{StudentID: "S1", Mark: 50}, {StudentID: "S1", Mark: 60},
			}
			return r
		}, "individual_marks[1].student_id"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.svc.SubmitEvaluation(context.Background(), c.req(base))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, c.field, ve.Field)
		})
	}

	// Nothing was applied.
	_, err := f.svc.GetSession(context.Background(), "B1", "T1", PhaseA)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResubmissionReplaces(t *testing.T) {
	f := newFixture()
	first := submitTeam(t, f, "F2", 70)
	firstAt := first.Evaluations["F2"].SubmittedAt

	f.clock.Advance(time.Hour)
	second := submitTeam(t, f, "F2", 90)

	assert.Equal(t, 1, second.SubmittedEvaluations())
	ev := second.Evaluations["F2"]
	assert.Equal(t, 90.0, ev.Team.Mark)
	assert.Equal(t, firstAt, ev.SubmittedAt, "original submission time is kept")
	assert.Equal(t, firstAt.Add(time.Hour), ev.LastModified)
}

func TestTotalEvaluatorsFrozenAtCreation(t *testing.T) {
	f := newFixture()
	submitTeam(t, f, "F2", 70)

	// Panel grows after the session exists; quorum stays at 3.
	f.dir.panels["B1"] = append(f.dir.panels["B1"], Rater{ID: "F4", Name: "Prof. Four"})

	submitTeam(t, f, "F1", 90)
	sess := submitTeam(t, f, "F3", 80)
	assert.Equal(t, 3, sess.TotalEvaluators)
	assert.Equal(t, StatusPendingAdminReview, sess.Status)
}

/* ---------------- quorum & aggregation ---------------- */

func TestQuorumAggregatesAndSignals(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)

	assert.Equal(t, StatusPendingAdminReview, sess.Status)
	assert.True(t, sess.IsCompleted)
	require.NotNil(t, sess.CompletedAt)
	require.NotNil(t, sess.FacultyResults)
	assert.Equal(t, sess.TotalEvaluators, sess.SubmittedEvaluations())

	rs := sess.FacultyResults
	require.Len(t, rs.Individual, 2)
	s1, s2 := rs.Individual[0], rs.Individual[1]
	assert.Equal(t, 80.0, s1.FinalMark)
	assert.Equal(t, "A+", s1.Grade)
	assert.Equal(t, 75.0, s2.FinalMark)
	assert.Equal(t, "A", s2.Grade)
	assert.Equal(t, 77.5, rs.TeamAverage)
	assert.Equal(t, "A", rs.TeamGrade)

	ready := f.notifier.ofKind(KindReadyForReview)
	require.Len(t, ready, 1)
	assert.Equal(t, "admin", ready[0].RecipientID)
}

func TestLateSubmissionRejected(t *testing.T) {
	f := newFixture()
	reachQuorum(t, f)

	_, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: "F2",
		Type: TypeTeam, TeamMark: &TeamMark{Mark: 99},
	})
	assert.ErrorIs(t, err, ErrSubmissionClosed)
}

func TestConcurrentSubmissionsAllLand(t *testing.T) {
	f := newFixture()
	var wg sync.WaitGroup
	for _, raterID := range []string{"F1", "F2", "F3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
				BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: id,
				Type: TypeTeam, TeamMark: &TeamMark{Mark: 70},
			})
			assert.NoError(t, err)
		}(raterID)
	}
	wg.Wait()

	sess, err := f.svc.GetSession(context.Background(), "B1", "T1", PhaseA)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.SubmittedEvaluations())
	assert.Equal(t, StatusPendingAdminReview, sess.Status)
	assert.Len(t, f.notifier.ofKind(KindReadyForReview), 1)
}

/* ---------------- review & finalize ---------------- */

func TestReviewSaveDraftStaysMutable(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)

	reviewed, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID:  sess.ID,
		ReviewedBy: "admin",
		Action:     ActionSaveDraft,
		ModifiedGrades: []GradeOverride{{
			StudentID: "S2", OriginalMark: 75, ModifiedMark: 78,
			ModificationReason: "participation bonus",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAdminReviewed, reviewed.Status)
	assert.True(t, reviewed.AdminReview.IsReviewed)
	assert.False(t, reviewed.AdminReview.IsFinalized)
	require.NotNil(t, reviewed.FinalResults)

	// A second review is still allowed.
	again, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID: sess.ID, ReviewedBy: "admin", Action: ActionSaveDraft,
	})
	require.NoError(t, err)
	assert.False(t, again.FinalResults.Individual[1].IsModified)
}

func TestReviewIdempotentBeforeFinalize(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)
	req := ReviewRequest{
		SessionID:  sess.ID,
		ReviewedBy: "admin",
		Action:     ActionSaveDraft,
		ModifiedGrades: []GradeOverride{{
			StudentID: "S2", OriginalMark: 75, ModifiedMark: 78,
			ModificationReason: "participation bonus",
		}},
	}
	first, err := f.svc.ReviewEvaluation(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.ReviewEvaluation(context.Background(), req)
	require.NoError(t, err)

	fb, err := json.Marshal(first.FinalResults)
	require.NoError(t, err)
	sb, err := json.Marshal(second.FinalResults)
	require.NoError(t, err)
	assert.Equal(t, fb, sb, "identical review input yields byte-identical finalResults")
}

func TestReviewRejectsStaleOriginalMark(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)

	_, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID:  sess.ID,
		ReviewedBy: "admin",
		Action:     ActionSaveDraft,
		ModifiedGrades: []GradeOverride{{
			StudentID: "S2", OriginalMark: 70, ModifiedMark: 78,
			ModificationReason: "bonus",
		}},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "modified_grades[0].original_mark", ve.Field)
}

func TestReviewRejectsDuplicateOverrides(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)

	_, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID:  sess.ID,
		ReviewedBy: "admin",
		Action:     ActionSaveDraft,
		ModifiedGrades: []GradeOverride{
			{StudentID: "S2", OriginalMark: 75, ModifiedMark: 78, ModificationReason: "bonus"},
			{StudentID: "S2", OriginalMark: 75, ModifiedMark: 60, ModificationReason: "penalty"},
		},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "modified_grades[1].student_id", ve.Field)
}

func TestReviewBeforeQuorumRejected(t *testing.T) {
	f := newFixture()
	sess := submitTeam(t, f, "F2", 70)
	_, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID: sess.ID, ReviewedBy: "admin", Action: ActionSaveDraft,
	})
	assert.ErrorIs(t, err, ErrReviewNotOpen)
}

func TestFinalizeEndToEnd(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)

	final, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID:  sess.ID,
		ReviewedBy: "admin",
		Action:     ActionFinalize,
		ModifiedGrades: []GradeOverride{{
			StudentID: "S2", OriginalMark: 75, ModifiedMark: 78,
			ModificationReason: "participation bonus",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, final.Status)
	assert.True(t, final.AdminReview.IsFinalized)
	require.NotNil(t, final.AdminReview.FinalizedAt)

	rs := final.FinalResults
	require.NotNil(t, rs)
	s1, s2 := rs.Individual[0], rs.Individual[1]
	assert.Equal(t, 80.0, s1.FinalMark)
	assert.False(t, s1.IsModified)
	assert.Equal(t, 78.0, s2.FinalMark)
	assert.True(t, s2.IsModified)
	assert.Equal(t, "A", s2.Grade)
	assert.Equal(t, 79.0, rs.TeamAverage)
	assert.Equal(t, "A", rs.TeamGrade)

	// Raw faculty snapshot is preserved alongside.
	assert.Equal(t, 75.0, final.FacultyResults.Individual[1].FinalMark)

	released := f.notifier.ofKind(KindGradeReleased)
	require.Len(t, released, 2, "exactly one notification per student")
	assert.Equal(t, "S1", released[0].RecipientID)
	assert.Equal(t, "S2", released[1].RecipientID)
	assert.Equal(t, true, released[1].Data["is_modified"])
	assert.Equal(t, "participation bonus", released[1].Data["modification_reason"])
}

func TestFinalizedSessionIsImmutable(t *testing.T) {
	f := newFixture()
	sess := reachQuorum(t, f)
	final, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID: sess.ID, ReviewedBy: "admin", Action: ActionFinalize,
	})
	require.NoError(t, err)
	before, err := json.Marshal(final.FinalResults)
	require.NoError(t, err)
	sentBefore := len(f.notifier.ofKind(KindGradeReleased))

	// Retried finalize is rejected, not re-dispatched.
	_, err = f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID: sess.ID, ReviewedBy: "admin", Action: ActionFinalize,
	})
	assert.ErrorIs(t, err, ErrSessionFinalized)

	// Late submission is rejected with the terminal-state error.
	_, err = f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T1", Phase: PhaseA, RaterID: "F2",
		Type: TypeTeam, TeamMark: &TeamMark{Mark: 1},
	})
	assert.ErrorIs(t, err, ErrSessionFinalized)

	got, err := f.svc.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	after, err := json.Marshal(got.FinalResults)
	require.NoError(t, err)
	assert.Equal(t, before, after, "finalResults unchanged")
	assert.Len(t, f.notifier.ofKind(KindGradeReleased), sentBefore, "no re-dispatch")
}

func TestFinalizeSurvivesSinkFailures(t *testing.T) {
	f := newFixture()
	f.notifier.failWith = errors.New("sink down")
	f.events.failWith = errors.New("event log down")

	sess := reachQuorum(t, f)
	require.Equal(t, StatusPendingAdminReview, sess.Status)

	final, err := f.svc.ReviewEvaluation(context.Background(), ReviewRequest{
		SessionID: sess.ID, ReviewedBy: "admin", Action: ActionFinalize,
	})
	require.NoError(t, err, "sink failures never roll back the transition")
	assert.Equal(t, StatusFinalized, final.Status)

	stored, err := f.svc.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, stored.Status)

	// Every delivery was still attempted: one review signal at quorum, one
	// release per student at finalize.
	assert.Len(t, f.notifier.ofKind(KindReadyForReview), 1)
	assert.Len(t, f.notifier.ofKind(KindGradeReleased), 2)
}

/* ---------------- listings ---------------- */

func TestListPendingAndStatusCounts(t *testing.T) {
	f := newFixture()
	f.dir.rosters["T2"] = []Student{{ID: "S9", Name: "Zed"}}
	f.dir.supervisors["T2"] = "F1"

	reachQuorum(t, f)
	_, err := f.svc.SubmitEvaluation(context.Background(), SubmitRequest{
		BoardID: "B1", TeamID: "T2", Phase: PhaseA, RaterID: "F2",
		Type: TypeTeam, TeamMark: &TeamMark{Mark: 55},
	})
	require.NoError(t, err)

	pending, err := f.svc.ListPendingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "T1", pending[0].TeamID)

	counts, err := f.svc.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusInProgress])
	assert.Equal(t, 1, counts[StatusPendingAdminReview])
}
