package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SQLStore persists sessions as single rows with JSON-blob columns, over
// either the sqlite or postgres driver. The version column implements the
// compare-and-swap contract.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

type sessionBlobs struct {
	evaluations string
	faculty     sql.NullString
	review      string
	final       sql.NullString
}

func marshalBlobs(s *Session) (sessionBlobs, error) {
	var b sessionBlobs
	ev, err := json.Marshal(s.Evaluations)
	if err != nil {
		return b, err
	}
	b.evaluations = string(ev)
	rv, err := json.Marshal(s.AdminReview)
	if err != nil {
		return b, err
	}
	b.review = string(rv)
	if s.FacultyResults != nil {
		fr, err := json.Marshal(s.FacultyResults)
		if err != nil {
			return b, err
		}
		b.faculty = sql.NullString{String: string(fr), Valid: true}
	}
	if s.FinalResults != nil {
		fr, err := json.Marshal(s.FinalResults)
		if err != nil {
			return b, err
		}
		b.final = sql.NullString{String: string(fr), Valid: true}
	}
	return b, nil
}

func (st *SQLStore) Create(ctx context.Context, s *Session) error {
	b, err := marshalBlobs(s)
	if err != nil {
		return err
	}
	s.Version = 1
	var completedAt sql.NullInt64
	if s.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: s.CompletedAt.Unix(), Valid: true}
	}
	_, err = st.db.ExecContext(ctx, `INSERT INTO evaluation_sessions
		(id,board_id,team_id,phase,status,total_evaluators,evaluations_json,
		 faculty_results_json,admin_review_json,final_results_json,
		 is_completed,completed_at,created_at,updated_at,version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.ID, s.BoardID, s.TeamID, string(s.Phase), string(s.Status), s.TotalEvaluators,
		b.evaluations, b.faculty, b.review, b.final,
		s.IsCompleted, completedAt, s.CreatedAt.Unix(), s.UpdatedAt.Unix(), s.Version)
	if err != nil && isUniqueViolation(err) {
		return ErrSessionExists
	}
	return err
}

func (st *SQLStore) Update(ctx context.Context, s *Session) error {
	b, err := marshalBlobs(s)
	if err != nil {
		return err
	}
	var completedAt sql.NullInt64
	if s.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: s.CompletedAt.Unix(), Valid: true}
	}
	res, err := st.db.ExecContext(ctx, `UPDATE evaluation_sessions SET
		status=$1, evaluations_json=$2, faculty_results_json=$3,
		admin_review_json=$4, final_results_json=$5, is_completed=$6,
		completed_at=$7, updated_at=$8, version=version+1
		WHERE id=$9 AND version=$10`,
		string(s.Status), b.evaluations, b.faculty, b.review, b.final,
		s.IsCompleted, completedAt, s.UpdatedAt.Unix(), s.ID, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var one int
		if scanErr := st.db.QueryRowContext(ctx,
			`SELECT 1 FROM evaluation_sessions WHERE id=$1`, s.ID).Scan(&one); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrSessionNotFound
			}
			return scanErr
		}
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

const sessionColumns = `id,board_id,team_id,phase,status,total_evaluators,
	evaluations_json,faculty_results_json,admin_review_json,final_results_json,
	is_completed,completed_at,created_at,updated_at,version`

func (st *SQLStore) Get(ctx context.Context, boardID, teamID string, phase Phase) (*Session, error) {
	row := st.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM evaluation_sessions WHERE board_id=$1 AND team_id=$2 AND phase=$3`,
		boardID, teamID, string(phase))
	return scanSession(row)
}

func (st *SQLStore) GetByID(ctx context.Context, id string) (*Session, error) {
	row := st.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM evaluation_sessions WHERE id=$1`, id)
	return scanSession(row)
}

func (st *SQLStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(statuses))
	holders := make([]string, 0, len(statuses))
	for i, s := range statuses {
		args = append(args, string(s))
		holders = append(holders, placeholder(i+1))
	}
	rows, err := st.db.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM evaluation_sessions WHERE status IN (`+strings.Join(holders, ",")+`)
		ORDER BY updated_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *SQLStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM evaluation_sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s           Session
		phase       string
		status      string
		b           sessionBlobs
		completedAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&s.ID, &s.BoardID, &s.TeamID, &phase, &status, &s.TotalEvaluators,
		&b.evaluations, &b.faculty, &b.review, &b.final,
		&s.IsCompleted, &completedAt, &createdAt, &updatedAt, &s.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.Phase = Phase(phase)
	s.Status = Status(status)
	if err := json.Unmarshal([]byte(b.evaluations), &s.Evaluations); err != nil {
		return nil, err
	}
	if s.Evaluations == nil {
		s.Evaluations = map[string]Evaluation{}
	}
	if err := json.Unmarshal([]byte(b.review), &s.AdminReview); err != nil {
		return nil, err
	}
	if b.faculty.Valid {
		s.FacultyResults = &ResultSet{}
		if err := json.Unmarshal([]byte(b.faculty.String), s.FacultyResults); err != nil {
			return nil, err
		}
	}
	if b.final.Valid {
		s.FinalResults = &ResultSet{}
		if err := json.Unmarshal([]byte(b.final.String), s.FinalResults); err != nil {
			return nil, err
		}
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		s.CompletedAt = &t
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &s, nil
}

// placeholder returns $N, which both the pgx stdlib driver and modernc
// sqlite accept.
func placeholder(n int) string { return "$" + strconv.Itoa(n) }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
