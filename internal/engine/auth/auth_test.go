package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/engine/auth"
)

type fakeMembership struct {
	company map[string][]string
	project map[string][]string
	err     error
}

func (f fakeMembership) HasCompanyRole(_ context.Context, companyID, actorID, role string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return contains(f.company[companyID+"/"+actorID], role), nil
}

func (f fakeMembership) HasProjectRole(_ context.Context, projectID, actorID, role string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return contains(f.project[projectID+"/"+actorID], role), nil
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

var authors = auth.Policy{
	{Requirement: auth.CompanyOwner, Reason: "is not the company owner"},
	{Requirement: auth.Employee, Reason: "is not an employee of this project"},
	{Requirement: auth.Leader, Reason: "is not a leader of this project"},
}

func TestEvaluateAnyRequirementAllows(t *testing.T) {
	ev := auth.Evaluator{Membership: fakeMembership{
		company: map[string][]string{"c1/owner": {auth.RoleCompanyOwner}},
		project: map[string][]string{"p1/lead": {auth.RoleLeader}, "p1/emp": {auth.RoleEmployee}},
	}}
	res := auth.ProjectResource("c1", "p1")
	for _, actor := range []string{"owner", "lead", "emp"} {
		t.Run(actor, func(t *testing.T) {
			out, err := ev.Evaluate(context.Background(), actor, res, authors)
			require.NoError(t, err)
			assert.True(t, out.Allowed)
			assert.Len(t, out.Satisfied, 1)
			assert.Len(t, out.Failures, 2)
			assert.NoError(t, out.Err(actor))
		})
	}
}

func TestEvaluateCollectsReasonsInPolicyOrder(t *testing.T) {
	ev := auth.Evaluator{Membership: fakeMembership{
		project: map[string][]string{"p1/cust": {auth.RoleCustomer}},
	}}
	out, err := ev.Evaluate(context.Background(), "cust", auth.ProjectResource("c1", "p1"), authors)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	require.Len(t, out.Failures, 3)

	var fe *auth.ForbiddenError
	require.ErrorAs(t, out.Err("cust"), &fe)
	assert.Equal(t, "cust", fe.ActorID)
	assert.Equal(t, []string{
		"is not the company owner",
		"is not an employee of this project",
		"is not a leader of this project",
	}, fe.Reasons)
	assert.Equal(t, []string{"company:company_owner", "project:employee", "project:leader"}, fe.Requirements)
	assert.Contains(t, fe.Error(), "user cust is not the company owner")
}

func TestEvaluateEmptyPolicy(t *testing.T) {
	ev := auth.Evaluator{Membership: fakeMembership{}}
	_, err := ev.Evaluate(context.Background(), "a", auth.CompanyResource("c1"), nil)
	assert.ErrorIs(t, err, auth.ErrEmptyPolicy)
	assert.ErrorIs(t, ev.Require(context.Background(), "a", auth.CompanyResource("c1")), auth.ErrEmptyPolicy)
}

func TestEvaluateLookupErrorIsNotForbidden(t *testing.T) {
	boom := errors.New("db down")
	ev := auth.Evaluator{Membership: fakeMembership{err: boom}}
	err := ev.Require(context.Background(), "a", auth.ProjectResource("c1", "p1"),
		auth.Check{Requirement: auth.Customer, Reason: "is not a customer of this project"})
	require.ErrorIs(t, err, boom)
	var fe *auth.ForbiddenError
	assert.False(t, errors.As(err, &fe))
}

func TestProjectRequirementNeedsProjectResource(t *testing.T) {
	ev := auth.Evaluator{Membership: fakeMembership{
		project: map[string][]string{"/cust": {auth.RoleCustomer}},
	}}
	err := ev.Require(context.Background(), "cust", auth.CompanyResource("c1"),
		auth.Check{Requirement: auth.Customer, Reason: "is not a customer of this project"})
	var fe *auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"is not a customer of this project"}, fe.Reasons)
}

func TestAnonymousActorIsDenied(t *testing.T) {
	ev := auth.Evaluator{Membership: fakeMembership{
		company: map[string][]string{"c1/": {auth.RoleCompanyOwner}},
	}}
	err := ev.Require(context.Background(), "", auth.CompanyResource("c1"),
		auth.Check{Requirement: auth.CompanyOwner, Reason: "is not the company owner"})
	var fe *auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)
}
