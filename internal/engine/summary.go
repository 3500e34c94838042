package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"goose/internal/conversation"
	"goose/internal/domain"
	"goose/internal/engine/auth"
)

var (
	summaryAuthors = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
		{Requirement: auth.Employee, Reason: "is not an employee of this project"},
		{Requirement: auth.Leader, Reason: "is not a leader of this project"},
	}
	issueReaders = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
		{Requirement: auth.Customer, Reason: "is not a customer of this project"},
		{Requirement: auth.Employee, Reason: "is not an employee of this project"},
		{Requirement: auth.ReadonlyEmployee, Reason: "is not a readonly employee of this project"},
		{Requirement: auth.Leader, Reason: "is not a leader of this project"},
	}
	summaryCustomers = auth.Policy{
		{Requirement: auth.Customer, Reason: "is not a customer of this project"},
	}
)

// CreateSummary freezes the current requirements as a proposal for the
// customer and returns them.
func (e Engine) CreateSummary(ctx context.Context, issueID, actorID string) (reqs []domain.Requirement, err error) {
	ctx, span := e.startSpan(ctx, "CreateSummary", attribute.String("issue_id", issueID))
	defer func() { endSpan(span, err) }()

	is, err := e.mutateIssue(ctx, "create_summary", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirePhase(s, domain.PhaseNegotiation, "create a summary"); err != nil {
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryAuthors); err != nil {
			return err
		}
		d := &s.Issue.Detail
		if d.Requirements == nil {
			return fmt.Errorf("%w: requirements are not initialised", ErrValidation)
		}
		if len(d.Requirements) == 0 && d.ExpectedTime <= 0 {
			return fmt.Errorf("%w: at least one requirement or an estimate is required", ErrValidation)
		}
		d.RequirementsSummaryCreated = true
		e.recorder().Record(&s.Issue.Conversation, conversation.Entry{
			CreatorID:    actorID,
			Type:         conversation.TypeSummaryCreated,
			Requirements: d.RequirementTexts(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Log.Info().Str("op", "create_summary").Str("issue_id", issueID).Str("actor_id", actorID).
		Int("requirements", len(is.Detail.Requirements)).Msg("summary created")
	return is.Detail.Requirements, nil
}

// GetSummary returns the requirements of a created summary.
func (e Engine) GetSummary(ctx context.Context, issueID, actorID string) (reqs []domain.Requirement, err error) {
	ctx, span := e.startSpan(ctx, "GetSummary", attribute.String("issue_id", issueID))
	defer func() { endSpan(span, err) }()

	is, p, err := e.readIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueReaders); err != nil {
		return nil, err
	}
	if !is.Detail.RequirementsSummaryCreated {
		return nil, fmt.Errorf("%w: summary not yet created", ErrInvalidState)
	}
	return is.Detail.Requirements, nil
}

// AcceptSummary records the customer's agreement and moves the issue to the
// waiting state.
func (e Engine) AcceptSummary(ctx context.Context, issueID, actorID string) (is domain.Issue, err error) {
	ctx, span := e.startSpan(ctx, "AcceptSummary", attribute.String("issue_id", issueID))
	defer func() { endSpan(span, err) }()

	var from, to string
	is, err = e.mutateIssue(ctx, "accept_summary", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirePhase(s, domain.PhaseNegotiation, "accept a summary"); err != nil {
			if s.Issue.Detail.RequirementsAccepted {
				return fmt.Errorf("%w: summary already accepted: %w", ErrInvalidState, err)
			}
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryCustomers); err != nil {
			return err
		}
		d := &s.Issue.Detail
		if !d.RequirementsSummaryCreated {
			return fmt.Errorf("%w: summary not yet created", ErrInvalidState)
		}
		if d.RequirementsAccepted {
			return fmt.Errorf("%w: summary already accepted", ErrInvalidState)
		}
		waiting, ok, err := e.States.FindByName(ctx, s.Project.ID, e.waitingState())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: project %s has no %s state", ErrInvalidState, s.Project.ID, e.waitingState())
		}
		d.RequirementsAccepted = true
		s.Issue.StateID = waiting.ID
		from, to = s.State.Name, waiting.Name
		rec := e.recorder()
		rec.Record(&s.Issue.Conversation, conversation.Entry{
			CreatorID:    actorID,
			Type:         conversation.TypeSummaryAccepted,
			Requirements: d.RequirementTexts(),
		})
		rec.Record(&s.Issue.Conversation, conversation.Entry{
			CreatorID: actorID,
			Type:      conversation.TypeStateChange,
			Data:      fmt.Sprintf("status changed from %s to %s", from, to),
		})
		return nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	e.Log.Info().Str("op", "accept_summary").Str("issue_id", issueID).Str("actor_id", actorID).
		Str("from_state", from).Str("to_state", to).Msg("summary accepted")
	return is, nil
}

// DeclineSummary rejects a pending summary so the requirements can be
// renegotiated.
func (e Engine) DeclineSummary(ctx context.Context, issueID, actorID string) (is domain.Issue, err error) {
	ctx, span := e.startSpan(ctx, "DeclineSummary", attribute.String("issue_id", issueID))
	defer func() { endSpan(span, err) }()

	is, err = e.mutateIssue(ctx, "decline_summary", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirePhase(s, domain.PhaseNegotiation, "decline a summary"); err != nil {
			if s.Issue.Detail.RequirementsAccepted {
				return fmt.Errorf("%w: already accepted, cannot decline: %w", ErrInvalidState, err)
			}
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryCustomers); err != nil {
			return err
		}
		d := &s.Issue.Detail
		if !d.RequirementsSummaryCreated {
			return fmt.Errorf("%w: no summary to decline", ErrInvalidState)
		}
		if d.RequirementsAccepted {
			return fmt.Errorf("%w: already accepted, cannot decline", ErrInvalidState)
		}
		d.RequirementsSummaryCreated = false
		e.recorder().Record(&s.Issue.Conversation, conversation.Entry{
			CreatorID:    actorID,
			Type:         conversation.TypeSummaryDeclined,
			Requirements: d.RequirementTexts(),
		})
		return nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	e.Log.Info().Str("op", "decline_summary").Str("issue_id", issueID).Str("actor_id", actorID).Msg("summary declined")
	return is, nil
}

func (e Engine) authorize(ctx context.Context, actorID string, res auth.Resource, policy auth.Policy) error {
	out, err := e.Auth.Evaluate(ctx, actorID, res, policy)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return out.Err(actorID)
}

// readIssue loads an issue and its project without mutating anything.
func (e Engine) readIssue(ctx context.Context, issueID string) (domain.Issue, domain.Project, error) {
	is, err := e.Issues.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, domain.Project{}, fmt.Errorf("issue %s: %w", issueID, err)
	}
	p, err := e.Projects.GetProject(ctx, is.ProjectID)
	if err != nil {
		return domain.Issue{}, domain.Project{}, fmt.Errorf("project %s: %w", is.ProjectID, err)
	}
	return is, p, nil
}
