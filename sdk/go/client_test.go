package goosesdk_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/config"
	"goose/internal/db"
	"goose/internal/engine"
	"goose/internal/engine/auth"
	"goose/internal/migrate"
	"goose/internal/repo"
	"goose/internal/server"
	goosesdk "goose/sdk/go"
)

func TestClientSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	wf := config.Default().Workflow
	wf.RetryInterval = time.Millisecond
	eng := engine.New(repo.Repo{DB: conn}, wf, zerolog.Nop())
	c, err := eng.CreateCompany(ctx, "Acme", "owner")
	require.NoError(t, err)
	p, err := eng.CreateProject(ctx, c.ID, "Portal", "owner")
	require.NoError(t, err)
	require.NoError(t, eng.GrantProjectRole(ctx, p.ID, "cust", auth.RoleCustomer, "owner"))

	handler, err := server.New(server.Config{
		Engine: eng,
		Auth:   server.AuthConfig{JWTSecret: "s", Logger: zerolog.Nop()},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	token, err := server.SignToken("s", "owner", time.Hour, time.Now())
	require.NoError(t, err)
	ownerClient := goosesdk.New(ts.URL)
	ownerClient.BearerToken = token
	custToken, err := server.SignToken("s", "cust", time.Hour, time.Now())
	require.NoError(t, err)
	custClient := goosesdk.New(ts.URL)
	custClient.BearerToken = custToken

	is, err := ownerClient.CreateIssue(ctx, p.ID, goosesdk.CreateIssueInput{
		Name:         "Checkout",
		State:        "Negotiation",
		Requirements: []string{"pay by card"},
		ClientID:     "cust",
	})
	require.NoError(t, err)
	require.Len(t, is.Detail.Requirements, 1)

	reqs, err := ownerClient.CreateSummary(ctx, is.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay by card", reqs[0].Text)

	_, err = ownerClient.AcceptSummary(ctx, is.ID)
	var apiErr *goosesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)

	accepted, err := custClient.AcceptSummary(ctx, is.ID)
	require.NoError(t, err)
	assert.True(t, accepted.Detail.RequirementsAccepted)

	entries, err := custClient.Conversation(ctx, is.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "state_change", entries[2].Type)

	parent, err := ownerClient.Parent(ctx, is.ID)
	require.NoError(t, err)
	assert.Nil(t, parent)
}
