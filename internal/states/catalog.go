// Package states defines the fixed phase taxonomy and the default state set
// every project starts with.
package states

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goose/internal/domain"
)

var ErrInvalidState = errors.New("invalid state definition")

// Lookup resolves states stored for a project.
type Lookup interface {
	GetState(ctx context.Context, projectID, stateID string) (domain.State, error)
	GetStates(ctx context.Context, projectID string) ([]domain.State, error)
}

var defaults = []struct {
	name  string
	phase domain.Phase
}{
	{domain.StateChecking, domain.PhaseNegotiation},
	{domain.StateNegotiation, domain.PhaseNegotiation},
	{domain.StateBlocked, domain.PhaseProcessing},
	{domain.StateWaiting, domain.PhaseProcessing},
	{domain.StateProcessing, domain.PhaseProcessing},
	{domain.StateReview, domain.PhaseProcessing},
	{domain.StateCompleted, domain.PhaseConclusion},
	{domain.StateCancelled, domain.PhaseConclusion},
	{domain.StateArchived, domain.PhaseConclusion},
}

// DefaultStates returns the nine bootstrap states in phase order, each with
// a fresh id from newID.
func DefaultStates(newID func() string) []domain.State {
	out := make([]domain.State, 0, len(defaults))
	for _, d := range defaults {
		out = append(out, domain.State{
			ID:    newID(),
			Name:  d.name,
			Phase: d.phase,
		})
	}
	return out
}

func PhaseOf(s domain.State) domain.Phase { return s.Phase }

// NewUserState validates a user-defined state against the existing set and
// returns it with UserGenerated set.
func NewUserState(existing []domain.State, id, name string, phase domain.Phase) (domain.State, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.State{}, fmt.Errorf("%w: name is required", ErrInvalidState)
	}
	if !phase.Valid() {
		return domain.State{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidState, phase)
	}
	for _, s := range existing {
		if strings.EqualFold(s.Name, name) {
			return domain.State{}, fmt.Errorf("%w: state %q already exists", ErrInvalidState, name)
		}
	}
	return domain.State{ID: id, Name: name, Phase: phase, UserGenerated: true}, nil
}

// Catalog answers state questions for a project.
type Catalog struct {
	Lookup Lookup
}

// Get returns the state with stateID in the project. It fails with
// domain.ErrNotFound when either is absent.
func (c Catalog) Get(ctx context.Context, projectID, stateID string) (domain.State, error) {
	s, err := c.Lookup.GetState(ctx, projectID, stateID)
	if err != nil {
		return domain.State{}, fmt.Errorf("state %s of project %s: %w", stateID, projectID, err)
	}
	return s, nil
}

// FindByName returns the state called name, or false when the project has
// no such state.
func (c Catalog) FindByName(ctx context.Context, projectID, name string) (domain.State, bool, error) {
	all, err := c.Lookup.GetStates(ctx, projectID)
	if err != nil {
		return domain.State{}, false, err
	}
	for _, s := range all {
		if s.Name == name {
			return s, true, nil
		}
	}
	return domain.State{}, false, nil
}

func (c Catalog) States(ctx context.Context, projectID string) ([]domain.State, error) {
	return c.Lookup.GetStates(ctx, projectID)
}

// Phase resolves the phase of the given state.
func (c Catalog) Phase(ctx context.Context, projectID, stateID string) (domain.Phase, error) {
	s, err := c.Get(ctx, projectID, stateID)
	if err != nil {
		return "", err
	}
	return PhaseOf(s), nil
}
