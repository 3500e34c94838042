package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/conversation"
	"goose/internal/db"
	"goose/internal/domain"
	"goose/internal/migrate"
	"goose/internal/repo"
	"goose/internal/states"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, domain.Project) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	v, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	require.Equal(t, latest, v)

	r := repo.Repo{DB: conn}
	require.NoError(t, r.InsertCompany(ctx, domain.Company{ID: "c1", Name: "Acme", CreatedAt: t0}, "owner"))
	p := domain.Project{
		ID:        "p1",
		CompanyID: "c1",
		Name:      "Portal",
		States:    states.DefaultStates(conversation.NewID),
		CreatedAt: t0,
	}
	require.NoError(t, r.InsertProject(ctx, p))
	return r, p
}

func newIssue(p domain.Project, id string) domain.Issue {
	return domain.Issue{
		ID:        id,
		ProjectID: p.ID,
		StateID:   p.States[1].ID,
		AuthorID:  "lead",
		ClientID:  "cust",
		Detail:    domain.IssueDetail{Name: "Login", Type: "feature"},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	before, err := migrate.Version(ctx, r.DB)
	require.NoError(t, err)
	after, err := migrate.Migrate(ctx, r.DB)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProjectRoundTrip(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()

	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.States, got.States)
	assert.Equal(t, t0, got.CreatedAt)

	qa := domain.State{ID: "qa", Name: "QA", Phase: domain.PhaseProcessing, UserGenerated: true}
	require.NoError(t, r.AppendState(ctx, p.ID, qa))
	all, err := r.GetStates(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, qa, all[9])

	_, err = r.GetStates(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.GetState(ctx, p.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.RenameProject(ctx, "missing", "x"), domain.ErrNotFound)
}

func TestMembership(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()

	ok, err := r.HasCompanyRole(ctx, "c1", "owner", "company_owner")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.AssignProjectRole(ctx, p.ID, "cust", "customer"))
	require.NoError(t, r.AssignProjectRole(ctx, p.ID, "cust", "customer"))
	require.NoError(t, r.AssignProjectRole(ctx, p.ID, "lead", "leader"))
	ok, err = r.HasProjectRole(ctx, p.ID, "cust", "customer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.HasProjectRole(ctx, p.ID, "cust", "leader")
	require.NoError(t, err)
	assert.False(t, ok)

	users, err := r.ProjectUsers(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProjectUser{
		{UserID: "cust", Roles: []string{"customer"}},
		{UserID: "lead", Roles: []string{"leader"}},
	}, users)

	require.NoError(t, r.RevokeProjectRole(ctx, p.ID, "cust", "customer"))
	assert.ErrorIs(t, r.RevokeProjectRole(ctx, p.ID, "cust", "customer"), domain.ErrNotFound)
}

func TestRequirementsNilAndEmptyAreDistinct(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()

	_, err := r.InsertIssue(ctx, newIssue(p, "nil"))
	require.NoError(t, err)
	empty := newIssue(p, "empty")
	empty.Detail.Requirements = []domain.Requirement{}
	_, err = r.InsertIssue(ctx, empty)
	require.NoError(t, err)

	got, err := r.GetIssue(ctx, "nil")
	require.NoError(t, err)
	assert.Nil(t, got.Detail.Requirements)
	got, err = r.GetIssue(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, got.Detail.Requirements)
	assert.Empty(t, got.Detail.Requirements)
}

func TestUpdateIssueCompareAndSwap(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()
	rec := conversation.Recorder{Now: func() time.Time { return t0 }}

	is, err := r.InsertIssue(ctx, newIssue(p, "i1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), is.Revision)

	first, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)
	second, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)

	first.Detail.ExpectedTime = 4
	rec.Record(&first.Conversation, conversation.Entry{CreatorID: "lead", Type: conversation.TypeMessage, Data: "one"})
	saved, err := r.UpdateIssue(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Revision)

	second.Detail.ExpectedTime = 9
	rec.Record(&second.Conversation, conversation.Entry{CreatorID: "cust", Type: conversation.TypeMessage, Data: "lost"})
	_, err = r.UpdateIssue(ctx, second)
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), got.Detail.ExpectedTime)
	require.Equal(t, 1, got.Conversation.Len())
	assert.Equal(t, "one", got.Conversation.Entries()[0].Data)

	// The returned issue can be updated again without re-reading.
	rec.Record(&saved.Conversation, conversation.Entry{CreatorID: "lead", Type: conversation.TypeSummaryCreated, Requirements: []string{"a", "b"}})
	saved, err = r.UpdateIssue(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Revision)

	entries, err := r.ListEntries(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.TypeMessage, entries[0].Type)
	assert.Equal(t, conversation.TypeSummaryCreated, entries[1].Type)
	assert.Equal(t, []string{"a", "b"}, entries[1].Requirements)
	assert.Nil(t, entries[0].Requirements)
	assert.Equal(t, t0, entries[1].CreatedAt)

	_, err = r.UpdateIssue(ctx, newIssue(p, "ghost"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChildrenIndex(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()
	_, err := r.InsertIssue(ctx, newIssue(p, "parent"))
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		child := newIssue(p, id)
		parent := "parent"
		child.ParentID = &parent
		_, err := r.InsertIssue(ctx, child)
		require.NoError(t, err)
	}
	ids, err := r.ListChildren(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	got, err := r.GetIssue(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "parent", *got.ParentID)

	issues, err := r.ListIssues(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, issues, 3)
}

func TestUpdateIssueRejectsCycle(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()
	_, err := r.InsertIssue(ctx, newIssue(p, "a"))
	require.NoError(t, err)
	b := newIssue(p, "b")
	parent := "a"
	b.ParentID = &parent
	_, err = r.InsertIssue(ctx, b)
	require.NoError(t, err)

	a, err := r.GetIssue(ctx, "a")
	require.NoError(t, err)
	loop := "b"
	a.ParentID = &loop
	_, err = r.UpdateIssue(ctx, a)
	require.ErrorIs(t, err, domain.ErrCycle)

	got, err := r.GetIssue(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, int64(1), got.Revision)
}

func TestUpdateIssueWritesLinkedIssues(t *testing.T) {
	r, p := newRepo(t)
	ctx := context.Background()
	rec := conversation.Recorder{Now: func() time.Time { return t0 }}
	for _, id := range []string{"child", "parent"} {
		_, err := r.InsertIssue(ctx, newIssue(p, id))
		require.NoError(t, err)
	}

	child, err := r.GetIssue(ctx, "child")
	require.NoError(t, err)
	parent, err := r.GetIssue(ctx, "parent")
	require.NoError(t, err)
	stale := parent

	parentID := "parent"
	child.ParentID = &parentID
	childID := "child"
	rec.Record(&parent.Conversation, conversation.Entry{CreatorID: "lead", Type: conversation.TypeChildIssueAdded, OtherIssueID: &childID})
	_, err = r.UpdateIssue(ctx, child, parent)
	require.NoError(t, err)

	got, err := r.GetIssue(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	require.Equal(t, 1, got.Conversation.Len())
	entry := got.Conversation.Entries()[0]
	assert.Equal(t, conversation.TypeChildIssueAdded, entry.Type)
	require.NotNil(t, entry.OtherIssueID)
	assert.Equal(t, "child", *entry.OtherIssueID)

	// A stale linked issue rolls back the whole write.
	child, err = r.GetIssue(ctx, "child")
	require.NoError(t, err)
	child.ParentID = nil
	_, err = r.UpdateIssue(ctx, child, stale)
	require.ErrorIs(t, err, domain.ErrConflict)
	got, err = r.GetIssue(ctx, "child")
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "parent", *got.ParentID)
}

func TestAPIKeys(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	now := t0
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", ActorID: "bot", Name: "ci", KeyHash: repo.HashAPIKey("secret-1"), CreatedAt: now}))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", ActorID: "bot", KeyHash: repo.HashAPIKey("secret-2"), CreatedAt: now.Add(time.Minute)}))

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret-1 "))
	require.NoError(t, err)
	assert.Equal(t, "bot", got.ActorID)
	assert.Equal(t, "ci", got.Name)
	assert.True(t, now.Equal(got.CreatedAt))

	keys, err := r.ListAPIKeys(ctx, "bot")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k2", keys[0].ID)

	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "someone-else", "k1"), repo.ErrNotFound)
	require.NoError(t, r.DeleteAPIKey(ctx, "bot", "k1"))
	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret-1"))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
