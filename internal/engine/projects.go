package engine

import (
	"context"
	"fmt"
	"strings"

	"goose/internal/domain"
	"goose/internal/engine/auth"
	"goose/internal/states"
)

var (
	companyOwners = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
	}
	companyMembers = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
		{Requirement: auth.CompanyCustomer, Reason: "is not a customer of the company"},
	}
	projectAdmins = auth.Policy{
		{Requirement: auth.CompanyOwner, Reason: "is not the owner of the company"},
		{Requirement: auth.Leader, Reason: "is not a leader of this project"},
	}
)

// CreateCompany creates a company owned by the actor.
func (e Engine) CreateCompany(ctx context.Context, name, actorID string) (domain.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Company{}, fmt.Errorf("%w: company name is required", ErrValidation)
	}
	if actorID == "" {
		return domain.Company{}, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	c := domain.Company{ID: e.newID(), Name: name, CreatedAt: e.now()}
	if err := e.Projects.InsertCompany(ctx, c, actorID); err != nil {
		return domain.Company{}, err
	}
	e.Log.Info().Str("op", "create_company").Str("company_id", c.ID).Str("actor_id", actorID).Msg("company created")
	return c, nil
}

// GrantCompanyRole gives userID a company-level role.
func (e Engine) GrantCompanyRole(ctx context.Context, companyID, userID, role, actorID string) error {
	if role != auth.RoleCompanyOwner && role != auth.RoleCompanyCustomer {
		return fmt.Errorf("%w: unknown company role %q", ErrValidation, role)
	}
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if _, err := e.Projects.GetCompany(ctx, companyID); err != nil {
		return fmt.Errorf("company %s: %w", companyID, err)
	}
	if err := e.authorize(ctx, actorID, auth.CompanyResource(companyID), companyOwners); err != nil {
		return err
	}
	return e.Roles.AssignCompanyRole(ctx, companyID, userID, role)
}

// CreateProject creates a project in a company, seeded with the default
// states.
func (e Engine) CreateProject(ctx context.Context, companyID, name, actorID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: project name is required", ErrValidation)
	}
	if _, err := e.Projects.GetCompany(ctx, companyID); err != nil {
		return domain.Project{}, fmt.Errorf("company %s: %w", companyID, err)
	}
	if err := e.authorize(ctx, actorID, auth.CompanyResource(companyID), companyOwners); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:        e.newID(),
		CompanyID: companyID,
		Name:      name,
		States:    states.DefaultStates(e.newID),
		CreatedAt: e.now(),
	}
	if err := e.Projects.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.Log.Info().Str("op", "create_project").Str("project_id", p.ID).Str("company_id", companyID).Str("actor_id", actorID).Msg("project created")
	return p, nil
}

// GetProject returns a project with its states and members.
func (e Engine) GetProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	p, err := e.Projects.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), issueReaders); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns the company's projects without states or members.
func (e Engine) ListProjects(ctx context.Context, companyID, actorID string) ([]domain.Project, error) {
	if _, err := e.Projects.GetCompany(ctx, companyID); err != nil {
		return nil, fmt.Errorf("company %s: %w", companyID, err)
	}
	if err := e.authorize(ctx, actorID, auth.CompanyResource(companyID), companyMembers); err != nil {
		return nil, err
	}
	return e.Projects.ListProjects(ctx, companyID)
}

func (e Engine) RenameProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: project name is required", ErrValidation)
	}
	p, err := e.adminProject(ctx, projectID, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Projects.RenameProject(ctx, projectID, name); err != nil {
		return domain.Project{}, err
	}
	p.Name = name
	return p, nil
}

// AddState appends a user-defined state to the project's catalog.
func (e Engine) AddState(ctx context.Context, projectID, name string, phase domain.Phase, actorID string) (domain.State, error) {
	p, err := e.adminProject(ctx, projectID, actorID)
	if err != nil {
		return domain.State{}, err
	}
	s, err := states.NewUserState(p.States, e.newID(), name, phase)
	if err != nil {
		return domain.State{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := e.Projects.AppendState(ctx, projectID, s); err != nil {
		return domain.State{}, err
	}
	e.Log.Info().Str("op", "add_state").Str("project_id", projectID).Str("state", s.Name).Str("phase", string(s.Phase)).Msg("state added")
	return s, nil
}

// ListStates returns the project's states in catalog order.
func (e Engine) ListStates(ctx context.Context, projectID, actorID string) ([]domain.State, error) {
	p, err := e.GetProject(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	return e.States.States(ctx, p.ID)
}

func (e Engine) GrantProjectRole(ctx context.Context, projectID, userID, role, actorID string) error {
	if err := validateProjectRole(userID, role); err != nil {
		return err
	}
	if _, err := e.adminProject(ctx, projectID, actorID); err != nil {
		return err
	}
	return e.Roles.AssignProjectRole(ctx, projectID, userID, role)
}

func (e Engine) RevokeProjectRole(ctx context.Context, projectID, userID, role, actorID string) error {
	if err := validateProjectRole(userID, role); err != nil {
		return err
	}
	if _, err := e.adminProject(ctx, projectID, actorID); err != nil {
		return err
	}
	if err := e.Roles.RevokeProjectRole(ctx, projectID, userID, role); err != nil {
		return fmt.Errorf("role %s of user %s: %w", role, userID, err)
	}
	return nil
}

func validateProjectRole(userID, role string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if !auth.IsProjectRole(role) {
		return fmt.Errorf("%w: unknown project role %q", ErrValidation, role)
	}
	return nil
}

func (e Engine) adminProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	p, err := e.Projects.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	if err := e.authorize(ctx, actorID, auth.ProjectResource(p.CompanyID, p.ID), projectAdmins); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}
