package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/config"
	"goose/internal/conversation"
	"goose/internal/db"
	"goose/internal/engine"
	"goose/internal/migrate"
	"goose/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	wf := config.Default().Workflow
	wf.RetryInterval = time.Millisecond
	r := repo.Repo{DB: conn}
	eng := engine.New(r, wf, zerolog.Nop())
	handler, err := New(Config{
		Engine:   eng,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			DevLogin:               true,
			TokenTTL:               time.Hour,
			Keys:                   r,
			Logger:                 zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), Engine: eng, client: &http.Client{}}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

// call issues the request and decodes the body into out when it is non-nil.
func (s *testServer) call(t *testing.T, actor, method, path string, body any, wantStatus int, out any) []byte {
	t.Helper()
	res, data := doJSON(t, s.client, method, s.URL+path, body, as(actor))
	require.Equal(t, wantStatus, res.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
	return data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type fixture struct {
	CompanyID string
	ProjectID string
	IssueID   string
}

// setup creates a company, a project with a leader and a customer, and an
// issue in the Negotiation state.
func (s *testServer) setup(t *testing.T) fixture {
	t.Helper()
	var company struct {
		ID string `json:"id"`
	}
	s.call(t, "owner", http.MethodPost, "/v0/companies", CreateCompanyRequest{Name: "Acme"}, http.StatusCreated, &company)
	var project ProjectResponse
	s.call(t, "owner", http.MethodPost, "/v0/companies/"+company.ID+"/projects", CreateProjectRequest{Name: "Portal"}, http.StatusCreated, &project)
	require.Len(t, project.States, 9)
	for user, role := range map[string]string{"lead": "leader", "cust": "customer"} {
		s.call(t, "owner", http.MethodPost, "/v0/projects/"+project.ID+"/members", GrantRoleRequest{UserID: user, Role: role}, http.StatusNoContent, nil)
	}
	var issue IssueResponse
	s.call(t, "lead", http.MethodPost, "/v0/projects/"+project.ID+"/issues", map[string]any{
		"name":                "Login page",
		"state":               "Negotiation",
		"requirements_needed": true,
		"requirements":        []string{},
		"client_id":           "cust",
	}, http.StatusCreated, &issue)
	return fixture{CompanyID: company.ID, ProjectID: project.ID, IssueID: issue.ID}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestMissingCredentials(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v0/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "unauthorized", env.Error.Code)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLoginToken(t *testing.T) {
	s := newTestServer(t)
	var login DevLoginResponse
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v0/auth/dev/login", DevLoginRequest{ActorID: "lead"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "lead", me.ActorID)
	assert.Equal(t, "jwt", me.Source)
}

func TestAPIKeyAuthentication(t *testing.T) {
	s := newTestServer(t)
	key, secret, err := s.Engine.IssueAPIKey(context.Background(), "ci", "bot")
	require.NoError(t, err)

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "bot", Source: "api_key"}, me)

	require.NoError(t, s.Engine.RevokeAPIKey(context.Background(), key.ID, "bot"))
	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"X-Api-Key": secret})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSummaryFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	f := s.setup(t)
	base := "/v0/issues/" + f.IssueID

	var req struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	s.call(t, "lead", http.MethodPost, base+"/requirements", AddRequirementRequest{Text: "SSO support"}, http.StatusCreated, &req)
	assert.Equal(t, "SSO support", req.Text)
	s.call(t, "lead", http.MethodPut, base+"/expected-time", ExpectedTimeRequest{Hours: 8}, http.StatusOK, nil)

	var summary RequirementListResponse
	s.call(t, "lead", http.MethodPost, base+"/summary", nil, http.StatusCreated, &summary)
	require.Len(t, summary.Items, 1)
	s.call(t, "cust", http.MethodGet, base+"/summary", nil, http.StatusOK, &summary)
	require.Len(t, summary.Items, 1)

	var declined IssueResponse
	s.call(t, "cust", http.MethodPost, base+"/summary/decline", nil, http.StatusOK, &declined)
	assert.False(t, declined.Detail.RequirementsSummaryCreated)

	s.call(t, "lead", http.MethodPost, base+"/summary", nil, http.StatusCreated, nil)
	var accepted IssueResponse
	s.call(t, "cust", http.MethodPost, base+"/summary/accept", nil, http.StatusOK, &accepted)
	assert.True(t, accepted.Detail.RequirementsAccepted)

	var states StateListResponse
	s.call(t, "lead", http.MethodGet, "/v0/projects/"+f.ProjectID+"/states", nil, http.StatusOK, &states)
	var waitingID string
	for _, st := range states.Items {
		if st.Name == "Waiting" {
			waitingID = st.ID
		}
	}
	assert.Equal(t, waitingID, accepted.StateID)

	var conv ConversationResponse
	s.call(t, "cust", http.MethodGet, base+"/conversation", nil, http.StatusOK, &conv)
	var types []string
	for _, e := range conv.Items {
		types = append(types, string(e.Type))
	}
	assert.Equal(t, []string{
		"summary_created", "summary_declined", "summary_created", "summary_accepted", "state_change",
	}, types)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	f := s.setup(t)
	base := "/v0/issues/" + f.IssueID

	var env errorEnvelope
	s.call(t, "lead", http.MethodPost, base+"/summary/accept", nil, http.StatusForbidden, &env)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "user lead is not a customer of this project", env.Error.Message)
	assert.Contains(t, env.Error.Details, "reasons")

	env = errorEnvelope{}
	s.call(t, "cust", http.MethodPost, base+"/summary/accept", nil, http.StatusBadRequest, &env)
	assert.Equal(t, "invalid_state", env.Error.Code)

	env = errorEnvelope{}
	s.call(t, "lead", http.MethodGet, "/v0/issues/missing", nil, http.StatusNotFound, &env)
	assert.Equal(t, "not_found", env.Error.Code)

	env = errorEnvelope{}
	s.call(t, "lead", http.MethodPost, "/v0/projects/"+f.ProjectID+"/states", AddStateRequest{Name: "waiting", Phase: "Processing"}, http.StatusBadRequest, &env)
	assert.Equal(t, "validation_failed", env.Error.Code)

	env = errorEnvelope{}
	s.call(t, "lead", http.MethodPost, base+"/summary", nil, http.StatusBadRequest, &env)
	assert.Equal(t, "validation_failed", env.Error.Code)

	// Accepting moves the issue into Waiting, outside the Negotiation phase.
	s.call(t, "lead", http.MethodPost, base+"/requirements", AddRequirementRequest{Text: "audit log"}, http.StatusCreated, nil)
	s.call(t, "lead", http.MethodPost, base+"/summary", nil, http.StatusCreated, nil)
	s.call(t, "cust", http.MethodPost, base+"/summary/accept", nil, http.StatusOK, nil)
	env = errorEnvelope{}
	s.call(t, "lead", http.MethodPost, base+"/summary", nil, http.StatusBadRequest, &env)
	assert.Equal(t, "invalid_phase", env.Error.Code)
}

func TestParentRoutes(t *testing.T) {
	s := newTestServer(t)
	f := s.setup(t)

	var child IssueResponse
	s.call(t, "lead", http.MethodPost, "/v0/projects/"+f.ProjectID+"/issues", CreateIssueRequest{Name: "Subtask"}, http.StatusCreated, &child)

	var parent ParentResponse
	s.call(t, "lead", http.MethodGet, "/v0/issues/"+child.ID+"/parent", nil, http.StatusOK, &parent)
	assert.Nil(t, parent.Parent)

	s.call(t, "lead", http.MethodPut, "/v0/issues/"+child.ID+"/parent", SetParentRequest{ParentID: f.IssueID}, http.StatusOK, nil)
	s.call(t, "cust", http.MethodGet, "/v0/issues/"+child.ID+"/parent", nil, http.StatusOK, &parent)
	require.NotNil(t, parent.Parent)
	assert.Equal(t, f.IssueID, parent.Parent.ID)

	var children ChildrenResponse
	s.call(t, "lead", http.MethodGet, "/v0/issues/"+f.IssueID+"/children", nil, http.StatusOK, &children)
	assert.Equal(t, []string{child.ID}, children.Items)

	var env errorEnvelope
	s.call(t, "lead", http.MethodPut, "/v0/issues/"+f.IssueID+"/parent", SetParentRequest{ParentID: child.ID}, http.StatusBadRequest, &env)
	assert.Equal(t, "validation_failed", env.Error.Code)

	var conv ConversationResponse
	s.call(t, "lead", http.MethodGet, "/v0/issues/"+f.IssueID+"/conversation", nil, http.StatusOK, &conv)
	require.Len(t, conv.Items, 1)
	assert.Equal(t, conversation.TypeChildIssueAdded, conv.Items[0].Type)
	require.NotNil(t, conv.Items[0].OtherIssueID)
	assert.Equal(t, child.ID, *conv.Items[0].OtherIssueID)

	s.call(t, "lead", http.MethodDelete, "/v0/issues/"+child.ID+"/parent", nil, http.StatusOK, nil)
	s.call(t, "lead", http.MethodGet, "/v0/issues/"+f.IssueID+"/children", nil, http.StatusOK, &children)
	assert.Empty(t, children.Items)
}

func TestListings(t *testing.T) {
	s := newTestServer(t)
	f := s.setup(t)

	var projects ProjectListResponse
	s.call(t, "owner", http.MethodGet, "/v0/companies/"+f.CompanyID+"/projects", nil, http.StatusOK, &projects)
	require.Len(t, projects.Items, 1)
	assert.Equal(t, f.ProjectID, projects.Items[0].ID)
	s.call(t, "lead", http.MethodGet, "/v0/companies/"+f.CompanyID+"/projects", nil, http.StatusForbidden, nil)

	var issues IssueListResponse
	s.call(t, "cust", http.MethodGet, "/v0/projects/"+f.ProjectID+"/issues", nil, http.StatusOK, &issues)
	require.Len(t, issues.Items, 1)
	assert.Equal(t, f.IssueID, issues.Items[0].ID)
	s.call(t, "nobody", http.MethodGet, "/v0/projects/"+f.ProjectID+"/issues", nil, http.StatusForbidden, nil)
}

func TestPostMessage(t *testing.T) {
	s := newTestServer(t)
	f := s.setup(t)
	var entry struct {
		Type      string `json:"type"`
		Data      string `json:"data"`
		CreatorID string `json:"creator_id"`
	}
	s.call(t, "cust", http.MethodPost, "/v0/issues/"+f.IssueID+"/conversation", PostMessageRequest{Text: "hello"}, http.StatusCreated, &entry)
	assert.Equal(t, "message", entry.Type)
	assert.Equal(t, "hello", entry.Data)
	assert.Equal(t, "cust", entry.CreatorID)

	s.call(t, "nobody", http.MethodPost, "/v0/issues/"+f.IssueID+"/conversation", PostMessageRequest{Text: "hi"}, http.StatusForbidden, nil)
}

func TestOpenAPIDeclaresBearerAuth(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Paths, "/v0/issues/{issue_id}/summary/accept")
}
