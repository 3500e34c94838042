package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"goose/internal/conversation"
	"goose/internal/domain"
)

const issueColumns = `id,project_id,state_id,parent_id,author_id,client_id,name,type,description,priority,visibility,
requirements_needed,requirements_json,expected_time,summary_created,summary_accepted,revision,created_at,updated_at`

// InsertIssue stores a new issue at revision 1 together with any entries
// already in its conversation.
func (r Repo) InsertIssue(ctx context.Context, is domain.Issue) (domain.Issue, error) {
	reqJSON, err := marshalRequirements(is.Detail.Requirements)
	if err != nil {
		return domain.Issue{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	is.Revision = 1
	d := is.Detail
	if _, err := tx.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		is.ID, is.ProjectID, is.StateID, nullableStringPtr(is.ParentID), is.AuthorID, is.ClientID,
		d.Name, d.Type, nullable(d.Description), d.Priority, d.Visibility, d.RequirementsNeeded, reqJSON,
		d.ExpectedTime, d.RequirementsSummaryCreated, d.RequirementsAccepted, is.Revision,
		formatTime(is.CreatedAt), formatTime(is.UpdatedAt)); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := insertPendingEntries(ctx, tx, is.ID, is.Conversation); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	is.Conversation.MarkStored()
	return is, nil
}

// UpdateIssue writes is if the stored revision still equals is.Revision and
// appends the conversation entries recorded since the issue was loaded.
// Linked issues, such as a parent gaining a child entry, are written the same
// way. Everything lands in one transaction. A stale revision on any of them
// fails with ErrConflict and a parent chain that loops back fails with
// ErrCycle.
func (r Repo) UpdateIssue(ctx context.Context, is domain.Issue, linked ...domain.Issue) (domain.Issue, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	all := append([]domain.Issue{is}, linked...)
	for _, it := range all {
		if err := updateIssue(ctx, tx, it); err != nil {
			return domain.Issue{}, err
		}
	}
	for _, it := range all {
		if it.ParentID == nil {
			continue
		}
		if err := checkAncestry(ctx, tx, it.ID); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	is.Revision++
	is.Conversation = is.Conversation.Clone()
	is.Conversation.MarkStored()
	return is, nil
}

func updateIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	reqJSON, err := marshalRequirements(is.Detail.Requirements)
	if err != nil {
		return err
	}
	d := is.Detail
	res, err := tx.ExecContext(ctx, `UPDATE issues SET state_id=?, parent_id=?, client_id=?, name=?, type=?, description=?,
priority=?, visibility=?, requirements_needed=?, requirements_json=?, expected_time=?, summary_created=?, summary_accepted=?,
revision=revision+1, updated_at=? WHERE id=? AND revision=?`,
		is.StateID, nullableStringPtr(is.ParentID), is.ClientID, d.Name, d.Type, nullable(d.Description),
		d.Priority, d.Visibility, d.RequirementsNeeded, reqJSON, d.ExpectedTime, d.RequirementsSummaryCreated, d.RequirementsAccepted,
		formatTime(is.UpdatedAt), is.ID, is.Revision)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id=?`, is.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return fmt.Errorf("issue %s at revision %d: %w", is.ID, is.Revision, ErrConflict)
	}
	return insertPendingEntries(ctx, tx, is.ID, is.Conversation)
}

// checkAncestry walks the stored parent chain of id and fails with ErrCycle
// when it leads back to id.
func checkAncestry(ctx context.Context, tx *sql.Tx, id string) error {
	seen := map[string]bool{}
	cur := id
	for {
		var parent sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM issues WHERE id=?`, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !parent.Valid) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parent of %s: %w", cur, err)
		}
		if parent.String == id {
			return fmt.Errorf("issue %s: %w", id, ErrCycle)
		}
		if seen[parent.String] {
			return nil
		}
		seen[parent.String] = true
		cur = parent.String
	}
}

func insertPendingEntries(ctx context.Context, tx *sql.Tx, issueID string, log conversation.Log) error {
	pos, pending := log.Pending()
	for i, e := range pending {
		var reqJSON any
		if e.Requirements != nil {
			b, err := json.Marshal(e.Requirements)
			if err != nil {
				return err
			}
			reqJSON = string(b)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO issue_conversations(id,issue_id,position,creator_id,type,data,other_issue_id,requirements_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
			e.ID, issueID, pos+i, e.CreatorID, string(e.Type), e.Data, nullableStringPtr(e.OtherIssueID), reqJSON, formatTime(e.CreatedAt)); err != nil {
			return fmt.Errorf("insert conversation entry: %w", err)
		}
	}
	return nil
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	is, err := scanIssue(r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
	if err != nil {
		return domain.Issue{}, err
	}
	entries, err := r.ListEntries(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	is.Conversation = conversation.Restore(entries)
	return is, nil
}

// ListIssues returns the issues of a project without their conversations.
func (r Repo) ListIssues(ctx context.Context, projectID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	return res, rows.Err()
}

// ListChildren returns the ids of issues whose parent is parentID.
func (r Repo) ListChildren(ctx context.Context, parentID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM issues WHERE parent_id=? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListEntries returns the stored conversation of an issue in append order.
func (r Repo) ListEntries(ctx context.Context, issueID string) ([]conversation.Entry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,creator_id,type,data,other_issue_id,requirements_json,created_at
FROM issue_conversations WHERE issue_id=? ORDER BY position`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []conversation.Entry
	for rows.Next() {
		var (
			e       conversation.Entry
			typ     string
			other   sql.NullString
			reqJSON sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.CreatorID, &typ, &e.Data, &other, &reqJSON, &created); err != nil {
			return nil, err
		}
		e.Type = conversation.Type(typ)
		if other.Valid {
			v := other.String
			e.OtherIssueID = &v
		}
		if reqJSON.Valid {
			if err := json.Unmarshal([]byte(reqJSON.String), &e.Requirements); err != nil {
				return nil, fmt.Errorf("decode entry requirements: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (domain.Issue, error) {
	var (
		is               domain.Issue
		parent, desc     sql.NullString
		reqJSON          sql.NullString
		created, updated string
	)
	d := &is.Detail
	err := row.Scan(&is.ID, &is.ProjectID, &is.StateID, &parent, &is.AuthorID, &is.ClientID,
		&d.Name, &d.Type, &desc, &d.Priority, &d.Visibility, &d.RequirementsNeeded, &reqJSON,
		&d.ExpectedTime, &d.RequirementsSummaryCreated, &d.RequirementsAccepted, &is.Revision, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Issue{}, ErrNotFound
	}
	if err != nil {
		return domain.Issue{}, err
	}
	if parent.Valid {
		v := parent.String
		is.ParentID = &v
	}
	d.Description = desc.String
	if reqJSON.Valid {
		d.Requirements = []domain.Requirement{}
		if err := json.Unmarshal([]byte(reqJSON.String), &d.Requirements); err != nil {
			return domain.Issue{}, fmt.Errorf("decode requirements: %w", err)
		}
	}
	if is.CreatedAt, err = parseTime(created); err != nil {
		return domain.Issue{}, err
	}
	if is.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Issue{}, err
	}
	return is, nil
}

func marshalRequirements(reqs []domain.Requirement) (any, error) {
	if reqs == nil {
		return nil, nil
	}
	b, err := json.Marshal(reqs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
