package goosesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Goose HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	APIKey      string
	// ActorID is sent as X-Actor-Id when no other credential is set. The server
	// only honours it when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Requirement struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type State struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	UserGenerated bool   `json:"user_generated"`
}

type Project struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	Name      string  `json:"name"`
	States    []State `json:"states"`
}

type IssueDetail struct {
	Name                       string        `json:"name"`
	Type                       string        `json:"type"`
	Description                string        `json:"description,omitempty"`
	Priority                   int           `json:"priority"`
	Visibility                 bool          `json:"visibility"`
	RequirementsNeeded         bool          `json:"requirements_needed"`
	Requirements               []Requirement `json:"requirements"`
	ExpectedTime               float64       `json:"expected_time"`
	RequirementsSummaryCreated bool          `json:"requirements_summary_created"`
	RequirementsAccepted       bool          `json:"requirements_accepted"`
}

// Issue represents the API issue model.
type Issue struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	StateID   string      `json:"state_id"`
	ParentID  *string     `json:"parent_id,omitempty"`
	AuthorID  string      `json:"author_id"`
	ClientID  string      `json:"client_id"`
	Detail    IssueDetail `json:"detail"`
	Revision  int64       `json:"revision"`
}

// Entry is one conversation record.
type Entry struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creator_id"`
	Type         string    `json:"type"`
	Data         string    `json:"data"`
	OtherIssueID *string   `json:"other_issue_id,omitempty"`
	Requirements []string  `json:"requirements,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateIssueInput mirrors the create-issue request body.
type CreateIssueInput struct {
	Name               string   `json:"name"`
	Type               string   `json:"type,omitempty"`
	Description        string   `json:"description,omitempty"`
	Priority           int      `json:"priority,omitempty"`
	RequirementsNeeded bool     `json:"requirements_needed,omitempty"`
	Requirements       []string `json:"requirements,omitempty"`
	ExpectedTime       float64  `json:"expected_time,omitempty"`
	ClientID           string   `json:"client_id,omitempty"`
	State              string   `json:"state,omitempty"`
	ParentID           string   `json:"parent_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue in a project.
func (c *Client) CreateIssue(ctx context.Context, projectID string, in CreateIssueInput) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%s/issues", url.PathEscape(projectID)), in, &resp)
	return resp, err
}

// GetIssue fetches an issue by id.
func (c *Client) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, ""), nil, &resp)
	return resp, err
}

// AddRequirement appends a requirement to an issue.
func (c *Client) AddRequirement(ctx context.Context, issueID, text string) (Requirement, error) {
	var resp Requirement
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "requirements"), map[string]any{"text": text}, &resp)
	return resp, err
}

// SetExpectedTime sets the estimate in hours.
func (c *Client) SetExpectedTime(ctx context.Context, issueID string, hours float64) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPut, c.issuePath(issueID, "expected-time"), map[string]any{"hours": hours}, &resp)
	return resp, err
}

// CreateSummary freezes the requirements of an issue.
func (c *Client) CreateSummary(ctx context.Context, issueID string) ([]Requirement, error) {
	var resp struct {
		Items []Requirement `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "summary"), nil, &resp)
	return resp.Items, err
}

// GetSummary returns the summarised requirements.
func (c *Client) GetSummary(ctx context.Context, issueID string) ([]Requirement, error) {
	var resp struct {
		Items []Requirement `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "summary"), nil, &resp)
	return resp.Items, err
}

func (c *Client) AcceptSummary(ctx context.Context, issueID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "summary/accept"), nil, &resp)
	return resp, err
}

func (c *Client) DeclineSummary(ctx context.Context, issueID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "summary/decline"), nil, &resp)
	return resp, err
}

// Conversation lists an issue's conversation in order.
func (c *Client) Conversation(ctx context.Context, issueID string) ([]Entry, error) {
	var resp struct {
		Items []Entry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "conversation"), nil, &resp)
	return resp.Items, err
}

func (c *Client) PostMessage(ctx context.Context, issueID, text string) (Entry, error) {
	var resp Entry
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "conversation"), map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) SetParent(ctx context.Context, issueID, parentID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPut, c.issuePath(issueID, "parent"), map[string]any{"parent_id": parentID}, &resp)
	return resp, err
}

func (c *Client) RemoveParent(ctx context.Context, issueID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodDelete, c.issuePath(issueID, "parent"), nil, &resp)
	return resp, err
}

// Parent returns the parent issue, or nil when the issue has none.
func (c *Client) Parent(ctx context.Context, issueID string) (*Issue, error) {
	var resp struct {
		Parent *Issue `json:"parent"`
	}
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "parent"), nil, &resp)
	return resp.Parent, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) issuePath(issueID, sub string) string {
	p := "v0/issues/" + url.PathEscape(issueID)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
