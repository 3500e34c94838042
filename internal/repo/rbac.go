package repo

import (
	"context"
	"database/sql"

	"goose/internal/domain"
)

func (r Repo) assignCompanyRole(ctx context.Context, tx *sql.Tx, companyID, userID, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO company_users(company_id, user_id, role) VALUES (?,?,?)`, companyID, userID, role)
	return err
}

func (r Repo) AssignCompanyRole(ctx context.Context, companyID, userID, role string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO company_users(company_id, user_id, role) VALUES (?,?,?)`, companyID, userID, role)
	return err
}

func (r Repo) AssignProjectRole(ctx context.Context, projectID, userID, role string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO project_users(project_id, user_id, role) VALUES (?,?,?)`, projectID, userID, role)
	return err
}

func (r Repo) RevokeProjectRole(ctx context.Context, projectID, userID, role string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_users WHERE project_id=? AND user_id=? AND role=?`, projectID, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasCompanyRole(ctx context.Context, companyID, userID, role string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM company_users WHERE company_id=? AND user_id=? AND role=?`, companyID, userID, role).Scan(&n)
	return n > 0, err
}

func (r Repo) HasProjectRole(ctx context.Context, projectID, userID, role string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_users WHERE project_id=? AND user_id=? AND role=?`, projectID, userID, role).Scan(&n)
	return n > 0, err
}

// ProjectUsers groups the project's role assignments by user.
func (r Repo) ProjectUsers(ctx context.Context, projectID string) ([]domain.ProjectUser, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id, role FROM project_users WHERE project_id=? ORDER BY user_id, role`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.ProjectUser
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, err
		}
		if n := len(users); n > 0 && users[n-1].UserID == userID {
			users[n-1].Roles = append(users[n-1].Roles, role)
			continue
		}
		users = append(users, domain.ProjectUser{UserID: userID, Roles: []string{role}})
	}
	return users, rows.Err()
}
