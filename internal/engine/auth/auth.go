package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Scope says where a role is looked up.
type Scope int

const (
	ScopeCompany Scope = iota + 1
	ScopeProject
)

func (s Scope) String() string {
	switch s {
	case ScopeCompany:
		return "company"
	case ScopeProject:
		return "project"
	default:
		return "unknown"
	}
}

// RoleRequirement names a role the actor must hold in a scope.
type RoleRequirement struct {
	Role  string
	Scope Scope
}

func (r RoleRequirement) String() string {
	return r.Scope.String() + ":" + r.Role
}

// Role names as stored by the membership backend.
const (
	RoleCompanyOwner     = "company_owner"
	RoleCompanyCustomer  = "company_customer"
	RoleCustomer         = "customer"
	RoleEmployee         = "employee"
	RoleLeader           = "leader"
	RoleReadonlyEmployee = "readonly_employee"
)

var (
	CompanyOwner     = RoleRequirement{Role: RoleCompanyOwner, Scope: ScopeCompany}
	CompanyCustomer  = RoleRequirement{Role: RoleCompanyCustomer, Scope: ScopeCompany}
	Customer         = RoleRequirement{Role: RoleCustomer, Scope: ScopeProject}
	Employee         = RoleRequirement{Role: RoleEmployee, Scope: ScopeProject}
	Leader           = RoleRequirement{Role: RoleLeader, Scope: ScopeProject}
	ReadonlyEmployee = RoleRequirement{Role: RoleReadonlyEmployee, Scope: ScopeProject}
)

// ProjectRoles lists the roles that can be granted on a project.
var ProjectRoles = []string{RoleCustomer, RoleEmployee, RoleLeader, RoleReadonlyEmployee}

// IsProjectRole reports whether role can be granted on a project.
func IsProjectRole(role string) bool {
	for _, r := range ProjectRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Check pairs a requirement with the reason reported when it is not met.
type Check struct {
	Requirement RoleRequirement
	Reason      string
}

// Policy is an ordered set of alternative checks. It passes when any check
// passes.
type Policy []Check

// Resource is what the actor acts on. Project resources carry the owning
// company so company-scoped requirements can be evaluated against them.
type Resource struct {
	CompanyID string
	ProjectID string
}

func CompanyResource(companyID string) Resource {
	return Resource{CompanyID: companyID}
}

func ProjectResource(companyID, projectID string) Resource {
	return Resource{CompanyID: companyID, ProjectID: projectID}
}

// Membership answers role questions. Implementations must be free of side
// effects.
type Membership interface {
	HasCompanyRole(ctx context.Context, companyID, actorID, role string) (bool, error)
	HasProjectRole(ctx context.Context, projectID, actorID, role string) (bool, error)
}

var ErrEmptyPolicy = errors.New("authorization policy has no requirements")

// ForbiddenError indicates that no requirement of a policy was met.
type ForbiddenError struct {
	ActorID      string
	Requirements []string
	Reasons      []string
}

func (e *ForbiddenError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("user %s is not allowed to perform this action", e.ActorID)
	}
	return fmt.Sprintf("user %s %s", e.ActorID, strings.Join(e.Reasons, "; "))
}

// Failure is one unmet check.
type Failure struct {
	Requirement RoleRequirement
	Reason      string
}

// Outcome is the result of evaluating a policy.
type Outcome struct {
	Allowed   bool
	Satisfied []RoleRequirement
	Failures  []Failure
}

// Err returns nil when the outcome is allowed and a *ForbiddenError carrying
// every failure reason otherwise.
func (o Outcome) Err(actorID string) error {
	if o.Allowed {
		return nil
	}
	fe := &ForbiddenError{ActorID: actorID}
	for _, f := range o.Failures {
		fe.Requirements = append(fe.Requirements, f.Requirement.String())
		fe.Reasons = append(fe.Reasons, f.Reason)
	}
	return fe
}

// Evaluator checks policies against a membership backend.
type Evaluator struct {
	Membership Membership
}

// Evaluate runs every check of policy concurrently and combines them with OR.
// Lookup failures are returned as errors, not as denials.
func (ev Evaluator) Evaluate(ctx context.Context, actorID string, res Resource, policy Policy) (Outcome, error) {
	if len(policy) == 0 {
		return Outcome{}, ErrEmptyPolicy
	}
	passed := make([]bool, len(policy))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range policy {
		g.Go(func() error {
			ok, err := ev.holds(gctx, actorID, res, c.Requirement)
			if err != nil {
				return fmt.Errorf("check %s: %w", c.Requirement, err)
			}
			passed[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}
	var out Outcome
	for i, c := range policy {
		if passed[i] {
			out.Allowed = true
			out.Satisfied = append(out.Satisfied, c.Requirement)
			continue
		}
		out.Failures = append(out.Failures, Failure{Requirement: c.Requirement, Reason: c.Reason})
	}
	return out, nil
}

// Require evaluates the checks as one policy and returns a *ForbiddenError
// when none is met. A single check is the one-element case.
func (ev Evaluator) Require(ctx context.Context, actorID string, res Resource, checks ...Check) error {
	out, err := ev.Evaluate(ctx, actorID, res, Policy(checks))
	if err != nil {
		return err
	}
	return out.Err(actorID)
}

func (ev Evaluator) holds(ctx context.Context, actorID string, res Resource, req RoleRequirement) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	switch req.Scope {
	case ScopeCompany:
		if res.CompanyID == "" {
			return false, nil
		}
		return ev.Membership.HasCompanyRole(ctx, res.CompanyID, actorID, req.Role)
	case ScopeProject:
		if res.ProjectID == "" {
			return false, nil
		}
		return ev.Membership.HasProjectRole(ctx, res.ProjectID, actorID, req.Role)
	default:
		return false, fmt.Errorf("unknown scope %d", req.Scope)
	}
}
