package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"goose/internal/conversation"
	"goose/internal/domain"
	"goose/internal/engine/auth"
)

var issueEditors = auth.Policy{
	{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
	{Requirement: auth.Employee, Reason: "is not an employee of this project"},
	{Requirement: auth.Leader, Reason: "is not a leader of this project"},
}

// SetParent makes parentID the parent of issueID. Both issues must belong to
// the same project and the link must not close a cycle. The new parent, and
// the old one if any, get a child entry in their conversation.
func (e Engine) SetParent(ctx context.Context, issueID, parentID, actorID string) (is domain.Issue, err error) {
	ctx, span := e.startSpan(ctx, "SetParent", attribute.String("issue_id", issueID), attribute.String("parent_id", parentID))
	defer func() { endSpan(span, err) }()

	if parentID == "" {
		return domain.Issue{}, fmt.Errorf("%w: parent id is required", ErrValidation)
	}
	if parentID == issueID {
		return domain.Issue{}, fmt.Errorf("%w: an issue cannot be its own parent", ErrValidation)
	}
	is, err = e.mutateIssue(ctx, "set_parent", issueID, func(ctx context.Context, s issueScope) error {
		if err := e.authorize(ctx, actorID, s.resource(), issueEditors); err != nil {
			return err
		}
		parent, err := e.Issues.GetIssue(ctx, parentID)
		if err != nil {
			return fmt.Errorf("parent issue %s: %w", parentID, err)
		}
		if parent.ProjectID != s.Issue.ProjectID {
			return fmt.Errorf("%w: parent issue %s belongs to another project", ErrValidation, parentID)
		}
		if err := e.ensureNoCycle(ctx, parentID, issueID); err != nil {
			return err
		}
		if s.Issue.ParentID != nil && *s.Issue.ParentID == parentID {
			return nil
		}
		if err := e.detachFromParent(ctx, s, actorID); err != nil {
			return err
		}
		e.recordChildEvent(&parent, conversation.TypeChildIssueAdded, *s.Issue, actorID)
		s.link(parent)
		p := parentID
		s.Issue.ParentID = &p
		return nil
	})
	if errors.Is(err, domain.ErrCycle) {
		return domain.Issue{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return domain.Issue{}, err
	}
	e.Log.Info().Str("op", "set_parent").Str("issue_id", issueID).Str("parent_id", parentID).Str("actor_id", actorID).Msg("parent set")
	return is, nil
}

// RemoveParent clears the parent link of issueID.
func (e Engine) RemoveParent(ctx context.Context, issueID, actorID string) (is domain.Issue, err error) {
	ctx, span := e.startSpan(ctx, "RemoveParent", attribute.String("issue_id", issueID))
	defer func() { endSpan(span, err) }()

	is, err = e.mutateIssue(ctx, "remove_parent", issueID, func(ctx context.Context, s issueScope) error {
		if err := e.authorize(ctx, actorID, s.resource(), issueEditors); err != nil {
			return err
		}
		if err := e.detachFromParent(ctx, s, actorID); err != nil {
			return err
		}
		s.Issue.ParentID = nil
		return nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	e.Log.Info().Str("op", "remove_parent").Str("issue_id", issueID).Str("actor_id", actorID).Msg("parent removed")
	return is, nil
}

// detachFromParent records the removal on the current parent of the issue in
// scope. A parent that no longer exists is skipped.
func (e Engine) detachFromParent(ctx context.Context, s issueScope, actorID string) error {
	if s.Issue.ParentID == nil {
		return nil
	}
	old, err := e.Issues.GetIssue(ctx, *s.Issue.ParentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parent issue %s: %w", *s.Issue.ParentID, err)
	}
	e.recordChildEvent(&old, conversation.TypeChildIssueRemoved, *s.Issue, actorID)
	s.link(old)
	return nil
}

func (e Engine) recordChildEvent(parent *domain.Issue, typ conversation.Type, child domain.Issue, actorID string) {
	childID := child.ID
	e.recorder().Record(&parent.Conversation, conversation.Entry{
		CreatorID:    actorID,
		Type:         typ,
		Data:         child.Detail.Name,
		OtherIssueID: &childID,
	})
	parent.UpdatedAt = e.now()
}

// GetParent returns the parent of issueID, or nil when it has none.
func (e Engine) GetParent(ctx context.Context, issueID, actorID string) (*domain.Issue, error) {
	is, p, err := e.readIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueReaders); err != nil {
		return nil, err
	}
	if is.ParentID == nil {
		return nil, nil
	}
	parent, err := e.Issues.GetIssue(ctx, *is.ParentID)
	if err != nil {
		return nil, fmt.Errorf("parent issue %s: %w", *is.ParentID, err)
	}
	return &parent, nil
}

// Children lists the ids of the issues whose parent is issueID.
func (e Engine) Children(ctx context.Context, issueID, actorID string) ([]string, error) {
	_, p, err := e.readIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueReaders); err != nil {
		return nil, err
	}
	return e.Issues.ListChildren(ctx, issueID)
}

func (e Engine) ensureNoCycle(ctx context.Context, parentID, childID string) error {
	seen := map[string]bool{}
	cur := parentID
	for cur != "" {
		if cur == childID {
			return fmt.Errorf("parent %s: %w", parentID, domain.ErrCycle)
		}
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		is, err := e.Issues.GetIssue(ctx, cur)
		if err != nil {
			return err
		}
		if is.ParentID == nil {
			return nil
		}
		cur = *is.ParentID
	}
	return nil
}
