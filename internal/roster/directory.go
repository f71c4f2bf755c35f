// Package roster reads board panel membership, team rosters and supervisor
// assignments. These records are owned elsewhere; the evaluation engine only
// snapshots them at submission time.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evalboard/evalboard-server/internal/evaluation"
)

var (
	ErrBoardNotFound = errors.New("board not found")
	ErrTeamNotFound  = errors.New("team not found")
)

// SQLDirectory implements evaluation.Directory over the shared database.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory { return &SQLDirectory{db: db} }

func (d *SQLDirectory) PanelRaters(ctx context.Context, boardID string) ([]evaluation.Rater, error) {
	var one int
	if err := d.db.QueryRowContext(ctx, `SELECT 1 FROM boards WHERE id=$1`, boardID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBoardNotFound
		}
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT rater_id, rater_name FROM board_panel WHERE board_id=$1 ORDER BY rater_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("board panel: %w", err)
	}
	defer rows.Close()
	var out []evaluation.Rater
	for rows.Next() {
		var r evaluation.Rater
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *SQLDirectory) TeamStudents(ctx context.Context, teamID string) ([]evaluation.Student, error) {
	var one int
	if err := d.db.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id=$1`, teamID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT student_id, student_name FROM team_members WHERE team_id=$1 ORDER BY student_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("team members: %w", err)
	}
	defer rows.Close()
	var out []evaluation.Student
	for rows.Next() {
		var s evaluation.Student
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *SQLDirectory) TeamSupervisor(ctx context.Context, teamID string) (string, error) {
	var supervisorID string
	err := d.db.QueryRowContext(ctx,
		`SELECT supervisor_id FROM teams WHERE id=$1`, teamID).Scan(&supervisorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTeamNotFound
	}
	if err != nil {
		return "", err
	}
	return supervisorID, nil
}
