package server

import (
	"time"

	"goose/internal/conversation"
	"goose/internal/domain"
)

// Request payloads

type CreateCompanyRequest struct {
	Name string `json:"name" minLength:"1"`
}

type CreateProjectRequest struct {
	Name string `json:"name" minLength:"1"`
}

type RenameProjectRequest struct {
	Name string `json:"name" minLength:"1"`
}

type AddStateRequest struct {
	Name  string `json:"name" minLength:"1"`
	Phase string `json:"phase" enum:"Negotiation,Processing,Conclusion"`
}

type GrantRoleRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Role   string `json:"role"`
}

type CreateIssueRequest struct {
	Name               string   `json:"name" minLength:"1"`
	Type               string   `json:"type,omitempty"`
	Description        string   `json:"description,omitempty"`
	Priority           int      `json:"priority,omitempty"`
	Visibility         bool     `json:"visibility,omitempty"`
	RequirementsNeeded bool     `json:"requirements_needed,omitempty"`
	Requirements       []string `json:"requirements,omitempty"`
	ExpectedTime       float64  `json:"expected_time,omitempty" minimum:"0"`
	ClientID           string   `json:"client_id,omitempty"`
	State              string   `json:"state,omitempty"`
	ParentID           string   `json:"parent_id,omitempty"`
}

type AddRequirementRequest struct {
	Text string `json:"text" minLength:"1"`
}

type ExpectedTimeRequest struct {
	Hours float64 `json:"hours" minimum:"0"`
}

type PostMessageRequest struct {
	Text string `json:"text" minLength:"1"`
}

type SetParentRequest struct {
	ParentID string `json:"parent_id" minLength:"1"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type ProjectResponse struct {
	ID        string               `json:"id"`
	CompanyID string               `json:"company_id"`
	Name      string               `json:"name"`
	States    []domain.State       `json:"states"`
	Users     []domain.ProjectUser `json:"users"`
	CreatedAt time.Time            `json:"created_at"`
}

type ProjectListResponse struct {
	Items []ProjectResponse `json:"items"`
}

type IssueListResponse struct {
	Items []IssueResponse `json:"items"`
}

type StateListResponse struct {
	Items []domain.State `json:"items"`
}

type IssueResponse struct {
	ID        string             `json:"id"`
	ProjectID string             `json:"project_id"`
	StateID   string             `json:"state_id"`
	ParentID  *string            `json:"parent_id,omitempty"`
	AuthorID  string             `json:"author_id"`
	ClientID  string             `json:"client_id"`
	Detail    domain.IssueDetail `json:"detail"`
	Revision  int64              `json:"revision"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type RequirementListResponse struct {
	Items []domain.Requirement `json:"items"`
}

type ConversationResponse struct {
	Items []conversation.Entry `json:"items"`
}

type ParentResponse struct {
	Parent *IssueResponse `json:"parent"`
}

type ChildrenResponse struct {
	Items []string `json:"items"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		CompanyID: p.CompanyID,
		Name:      p.Name,
		States:    nonNilSlice(p.States),
		Users:     nonNilSlice(p.Users),
		CreatedAt: p.CreatedAt,
	}
}

func issueResponse(is domain.Issue) IssueResponse {
	return IssueResponse{
		ID:        is.ID,
		ProjectID: is.ProjectID,
		StateID:   is.StateID,
		ParentID:  is.ParentID,
		AuthorID:  is.AuthorID,
		ClientID:  is.ClientID,
		Detail:    is.Detail,
		Revision:  is.Revision,
		CreatedAt: is.CreatedAt,
		UpdatedAt: is.UpdatedAt,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
