package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"goose/internal/conversation"
	"goose/internal/domain"
	"goose/internal/engine/auth"
)

var (
	issueParticipants = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
		{Requirement: auth.Customer, Reason: "is not a customer of this project"},
		{Requirement: auth.Employee, Reason: "is not an employee of this project"},
		{Requirement: auth.Leader, Reason: "is not a leader of this project"},
	}
)

const defaultIssueType = "feature"

// IssueCreateOptions are parameters for creating an issue. A nil
// Requirements leaves the requirement list uninitialised.
type IssueCreateOptions struct {
	ProjectID          string
	Name               string
	Type               string
	Description        string
	Priority           int
	Visibility         bool
	RequirementsNeeded bool
	Requirements       []string
	ExpectedTime       float64
	ClientID           string
	StateName          string
	ParentID           string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions, actorID string) (is domain.Issue, err error) {
	ctx, span := e.startSpan(ctx, "CreateIssue", attribute.String("project_id", opts.ProjectID))
	defer func() { endSpan(span, err) }()

	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Issue{}, fmt.Errorf("%w: issue name is required", ErrValidation)
	}
	if err := checkHours(opts.ExpectedTime); err != nil {
		return domain.Issue{}, err
	}
	if opts.Type == "" {
		opts.Type = defaultIssueType
	}
	p, err := e.Projects.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueParticipants); err != nil {
		return domain.Issue{}, err
	}
	stateName := opts.StateName
	if stateName == "" {
		stateName = domain.StateChecking
	}
	st, ok, err := e.States.FindByName(ctx, p.ID, stateName)
	if err != nil {
		return domain.Issue{}, err
	}
	if !ok {
		return domain.Issue{}, fmt.Errorf("state %q of project %s: %w", stateName, p.ID, domain.ErrNotFound)
	}
	now := e.now()
	is = domain.Issue{
		ID:        e.newID(),
		ProjectID: p.ID,
		StateID:   st.ID,
		AuthorID:  actorID,
		ClientID:  opts.ClientID,
		Detail: domain.IssueDetail{
			Name:               opts.Name,
			Type:               opts.Type,
			Description:        opts.Description,
			Priority:           opts.Priority,
			Visibility:         opts.Visibility,
			RequirementsNeeded: opts.RequirementsNeeded,
			ExpectedTime:       opts.ExpectedTime,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if is.ClientID == "" {
		is.ClientID = actorID
	}
	if opts.Requirements != nil {
		is.Detail.Requirements = make([]domain.Requirement, 0, len(opts.Requirements))
		for _, text := range opts.Requirements {
			text = strings.TrimSpace(text)
			if text == "" {
				return domain.Issue{}, fmt.Errorf("%w: requirement text is required", ErrValidation)
			}
			is.Detail.Requirements = append(is.Detail.Requirements, domain.Requirement{ID: e.newID(), Text: text, CreatedAt: now})
		}
	}
	if opts.ParentID != "" {
		parent, err := e.Issues.GetIssue(ctx, opts.ParentID)
		if err != nil {
			return domain.Issue{}, fmt.Errorf("parent issue %s: %w", opts.ParentID, err)
		}
		if parent.ProjectID != p.ID {
			return domain.Issue{}, fmt.Errorf("%w: parent issue %s belongs to another project", ErrValidation, opts.ParentID)
		}
		pid := opts.ParentID
		is.ParentID = &pid
	}
	is, err = e.Issues.InsertIssue(ctx, is)
	if err != nil {
		return domain.Issue{}, err
	}
	e.Log.Info().Str("op", "create_issue").Str("issue_id", is.ID).Str("project_id", p.ID).Str("actor_id", actorID).
		Str("state", st.Name).Msg("issue created")
	return is, nil
}

// GetIssue returns an issue with its conversation.
func (e Engine) GetIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	is, p, err := e.readIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueReaders); err != nil {
		return domain.Issue{}, err
	}
	return is, nil
}

// ListIssues returns the project's issues in creation order. Conversations
// are not loaded.
func (e Engine) ListIssues(ctx context.Context, projectID, actorID string) ([]domain.Issue, error) {
	if _, err := e.GetProject(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Issues.ListIssues(ctx, projectID)
}

// requirementsEditable rejects changes to the requirement set once it has
// been summarised or the issue left the negotiation phase.
func requirementsEditable(s issueScope, action string) error {
	if err := requirePhase(s, domain.PhaseNegotiation, action); err != nil {
		return err
	}
	if s.Issue.Detail.RequirementsSummaryCreated {
		return fmt.Errorf("%w: requirements are frozen by the summary", ErrInvalidState)
	}
	return nil
}

// AddRequirement appends a requirement to the issue and returns it.
func (e Engine) AddRequirement(ctx context.Context, issueID, text, actorID string) (domain.Requirement, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Requirement{}, fmt.Errorf("%w: requirement text is required", ErrValidation)
	}
	var added domain.Requirement
	_, err := e.mutateIssue(ctx, "add_requirement", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirementsEditable(s, "add a requirement"); err != nil {
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryAuthors); err != nil {
			return err
		}
		added = domain.Requirement{ID: e.newID(), Text: text, CreatedAt: e.now()}
		if s.Issue.Detail.Requirements == nil {
			s.Issue.Detail.Requirements = []domain.Requirement{}
		}
		s.Issue.Detail.Requirements = append(s.Issue.Detail.Requirements, added)
		return nil
	})
	if err != nil {
		return domain.Requirement{}, err
	}
	return added, nil
}

// RemoveRequirement deletes one requirement from the issue.
func (e Engine) RemoveRequirement(ctx context.Context, issueID, requirementID, actorID string) error {
	_, err := e.mutateIssue(ctx, "remove_requirement", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirementsEditable(s, "remove a requirement"); err != nil {
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryAuthors); err != nil {
			return err
		}
		reqs := s.Issue.Detail.Requirements
		for i, r := range reqs {
			if r.ID == requirementID {
				s.Issue.Detail.Requirements = append(reqs[:i:i], reqs[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("requirement %s: %w", requirementID, domain.ErrNotFound)
	})
	return err
}

// SetExpectedTime records the estimate for the issue in hours.
func (e Engine) SetExpectedTime(ctx context.Context, issueID string, hours float64, actorID string) (domain.Issue, error) {
	if err := checkHours(hours); err != nil {
		return domain.Issue{}, err
	}
	return e.mutateIssue(ctx, "set_expected_time", issueID, func(ctx context.Context, s issueScope) error {
		if err := requirementsEditable(s, "change the estimate"); err != nil {
			return err
		}
		if err := e.authorize(ctx, actorID, s.resource(), summaryAuthors); err != nil {
			return err
		}
		s.Issue.Detail.ExpectedTime = hours
		return nil
	})
}

func checkHours(hours float64) error {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return fmt.Errorf("%w: expected time must be a finite number", ErrValidation)
	}
	if hours < 0 {
		return fmt.Errorf("%w: expected time must not be negative", ErrValidation)
	}
	return nil
}

// PostMessage appends a chat message to the issue's conversation.
func (e Engine) PostMessage(ctx context.Context, issueID, text, actorID string) (conversation.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Entry{}, fmt.Errorf("%w: message text is required", ErrValidation)
	}
	var entry conversation.Entry
	_, err := e.mutateIssue(ctx, "post_message", issueID, func(ctx context.Context, s issueScope) error {
		if err := e.authorize(ctx, actorID, s.resource(), issueParticipants); err != nil {
			return err
		}
		entry = e.recorder().Record(&s.Issue.Conversation, conversation.Entry{
			CreatorID: actorID,
			Type:      conversation.TypeMessage,
			Data:      text,
		})
		return nil
	})
	if err != nil {
		return conversation.Entry{}, err
	}
	return entry, nil
}

// Conversation returns the issue's conversation in append order.
func (e Engine) Conversation(ctx context.Context, issueID, actorID string) ([]conversation.Entry, error) {
	is, err := e.GetIssue(ctx, issueID, actorID)
	if err != nil {
		return nil, err
	}
	return is.Conversation.Entries(), nil
}
