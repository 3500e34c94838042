package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"goose/internal/config"
	"goose/internal/conversation"
	"goose/internal/domain"
	"goose/internal/engine/auth"
	"goose/internal/repo"
	"goose/internal/states"
	"goose/internal/telemetry"
)

// IssueStore persists issues. UpdateIssue must reject a stale Revision of
// any issue it is given with domain.ErrConflict, reject a parent chain that
// loops with domain.ErrCycle, and store the issues and their new
// conversation entries atomically.
type IssueStore interface {
	GetIssue(ctx context.Context, id string) (domain.Issue, error)
	InsertIssue(ctx context.Context, is domain.Issue) (domain.Issue, error)
	UpdateIssue(ctx context.Context, is domain.Issue, linked ...domain.Issue) (domain.Issue, error)
	ListChildren(ctx context.Context, parentID string) ([]string, error)
	ListIssues(ctx context.Context, projectID string) ([]domain.Issue, error)
}

type ProjectStore interface {
	GetCompany(ctx context.Context, id string) (domain.Company, error)
	InsertCompany(ctx context.Context, c domain.Company, ownerID string) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context, companyID string) ([]domain.Project, error)
	InsertProject(ctx context.Context, p domain.Project) error
	RenameProject(ctx context.Context, id, name string) error
	AppendState(ctx context.Context, projectID string, s domain.State) error
}

type RoleAdmin interface {
	AssignCompanyRole(ctx context.Context, companyID, userID, role string) error
	AssignProjectRole(ctx context.Context, projectID, userID, role string) error
	RevokeProjectRole(ctx context.Context, projectID, userID, role string) error
}

type Engine struct {
	Issues   IssueStore
	Projects ProjectStore
	Roles    RoleAdmin
	Keys     KeyStore
	States   states.Catalog
	Auth     auth.Evaluator
	Workflow config.Workflow
	Log      zerolog.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
	NewID    func() string
}

// New wires an engine over the SQLite repo.
func New(r repo.Repo, wf config.Workflow, log zerolog.Logger) Engine {
	return Engine{
		Issues:   r,
		Projects: r,
		Roles:    r,
		Keys:     r,
		States:   states.Catalog{Lookup: r},
		Auth:     auth.Evaluator{Membership: r},
		Workflow: wf,
		Log:      log,
		Tracer:   telemetry.Tracer("goose/internal/engine"),
		Now:      time.Now,
		NewID:    conversation.NewID,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return conversation.NewID()
}

func (e Engine) recorder() conversation.Recorder {
	return conversation.Recorder{Now: e.now, NewID: e.newID}
}

func (e Engine) waitingState() string {
	if e.Workflow.WaitingState != "" {
		return e.Workflow.WaitingState
	}
	return domain.StateWaiting
}

func (e Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.Tracer == nil {
		return ctx, tracenoop.Span{}
	}
	return e.Tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// issueScope is what an issue mutation sees: a private copy of the issue,
// its project and its current state.
type issueScope struct {
	Issue   *domain.Issue
	Project domain.Project
	State   domain.State
	linked  *[]domain.Issue
}

// link adds another modified issue to the write of this mutation.
func (s issueScope) link(is domain.Issue) {
	*s.linked = append(*s.linked, is)
}

func (s issueScope) resource() auth.Resource {
	return auth.ProjectResource(s.Project.CompanyID, s.Project.ID)
}

// loadScope resolves an issue, its project and its current state.
func (e Engine) loadScope(ctx context.Context, issueID string) (domain.Issue, issueScope, error) {
	is, err := e.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, issueScope{}, fmt.Errorf("issue %s: %w", issueID, err)
	}
	p, err := e.Projects.GetProject(ctx, is.ProjectID)
	if err != nil {
		return domain.Issue{}, issueScope{}, fmt.Errorf("project %s: %w", is.ProjectID, err)
	}
	st, err := e.States.Get(ctx, is.ProjectID, is.StateID)
	if err != nil {
		return domain.Issue{}, issueScope{}, err
	}
	next := is.Clone()
	return is, issueScope{Issue: &next, Project: p, State: st, linked: new([]domain.Issue)}, nil
}

// mutateIssue runs read, validate, mutate and persist for one issue. fn
// checks preconditions and changes the private copy in scope; it must not
// have side effects outside it. When another writer wins the revision check
// the whole cycle is repeated with a constant backoff. Once fn has passed,
// persisting ignores cancellation of ctx.
func (e Engine) mutateIssue(ctx context.Context, op, issueID string, fn func(ctx context.Context, s issueScope) error) (domain.Issue, error) {
	var out domain.Issue
	attempt := 0
	run := func() error {
		attempt++
		_, scope, err := e.loadScope(ctx, issueID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := fn(ctx, scope); err != nil {
			return backoff.Permanent(err)
		}
		scope.Issue.UpdatedAt = e.now()
		saved, err := e.Issues.UpdateIssue(context.WithoutCancel(ctx), *scope.Issue, *scope.linked...)
		if errors.Is(err, domain.ErrConflict) {
			e.Log.Debug().Str("op", op).Str("issue_id", issueID).Int("attempt", attempt).Msg("revision conflict, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("persist issue %s: %w", issueID, err))
		}
		out = saved
		return nil
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(e.Workflow.RetryInterval)
	b = backoff.WithMaxRetries(b, uint64(max(e.Workflow.MaxRetries, 0)))
	if err := backoff.Retry(run, backoff.WithContext(b, ctx)); err != nil {
		return domain.Issue{}, err
	}
	return out, nil
}

func requirePhase(s issueScope, want domain.Phase, action string) error {
	if got := states.PhaseOf(s.State); got != want {
		return fmt.Errorf("%w: cannot %s outside of the %s phase (issue is in %s)", ErrInvalidPhase, action, want, got)
	}
	return nil
}
