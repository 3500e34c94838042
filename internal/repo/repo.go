package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"goose/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
	ErrCycle    = domain.ErrCycle
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

// InsertCompany stores c and makes ownerID its company owner.
func (r Repo) InsertCompany(ctx context.Context, c domain.Company, ownerID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name,created_at) VALUES (?,?,?)`,
		c.ID, c.Name, formatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	if err := r.assignCompanyRole(ctx, tx, c.ID, ownerID, "company_owner"); err != nil {
		return fmt.Errorf("assign owner: %w", err)
	}
	return tx.Commit()
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM companies WHERE id=?`, id).Scan(&c.ID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CreatedAt, err = parseTime(created)
	return c, err
}

// InsertProject stores p together with its ordered states.
func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,company_id,name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.CompanyID, p.Name, formatTime(p.CreatedAt)); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for i, s := range p.States {
		if err := insertState(ctx, tx, p.ID, i, s); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,name,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.CompanyID, &p.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	if p.States, err = r.listStates(ctx, id); err != nil {
		return p, err
	}
	if p.Users, err = r.ProjectUsers(ctx, id); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context, companyID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_id,name,created_at FROM projects WHERE company_id=? ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var created string
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) RenameProject(ctx context.Context, id, name string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendState adds s after the project's existing states.
func (r Repo) AppendState(ctx context.Context, projectID string, s domain.State) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM states WHERE project_id=?`, projectID).Scan(&next); err != nil {
		return err
	}
	if err := insertState(ctx, tx, projectID, next, s); err != nil {
		return err
	}
	return tx.Commit()
}

func insertState(ctx context.Context, tx *sql.Tx, projectID string, pos int, s domain.State) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO states(id,project_id,position,name,phase,user_generated) VALUES (?,?,?,?,?,?)`,
		s.ID, projectID, pos, s.Name, string(s.Phase), s.UserGenerated); err != nil {
		return fmt.Errorf("insert state %s: %w", s.Name, err)
	}
	return nil
}

func (r Repo) GetState(ctx context.Context, projectID, stateID string) (domain.State, error) {
	var s domain.State
	var phase string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,phase,user_generated FROM states WHERE project_id=? AND id=?`, projectID, stateID).
		Scan(&s.ID, &s.Name, &phase, &s.UserGenerated)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	s.Phase = domain.Phase(phase)
	return s, err
}

// GetStates returns the project's states in catalog order. A missing project
// is reported as ErrNotFound.
func (r Repo) GetStates(ctx context.Context, projectID string) ([]domain.State, error) {
	var exists int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id=?`, projectID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	return r.listStates(ctx, projectID)
}

func (r Repo) listStates(ctx context.Context, projectID string) ([]domain.State, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,phase,user_generated FROM states WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		var s domain.State
		var phase string
		if err := rows.Scan(&s.ID, &s.Name, &phase, &s.UserGenerated); err != nil {
			return nil, err
		}
		s.Phase = domain.Phase(phase)
		res = append(res, s)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
