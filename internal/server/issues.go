package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"goose/internal/conversation"
	"goose/internal/domain"
	"goose/internal/engine"
)

type issuePath struct {
	IssueID string `path:"issue_id"`
}

type issueBody struct {
	Body IssueResponse `json:"body"`
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.GetIssue(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-requirement",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/requirements",
		Summary:       "Add a requirement",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    AddRequirementRequest `json:"body"`
	}) (*struct {
		Body domain.Requirement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.AddRequirement(ctx, input.IssueID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Requirement `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-requirement",
		Method:        http.MethodDelete,
		Path:          "/issues/{issue_id}/requirements/{requirement_id}",
		Summary:       "Remove a requirement",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		IssueID       string `path:"issue_id"`
		RequirementID string `path:"requirement_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveRequirement(ctx, input.IssueID, input.RequirementID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-expected-time",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/expected-time",
		Summary:     "Set the estimate in hours",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string              `path:"issue_id"`
		Body    ExpectedTimeRequest `json:"body"`
	}) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.SetExpectedTime(ctx, input.IssueID, input.Body.Hours, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})
}

func registerSummary(api huma.API, e engine.Engine) {
	type requirementsBody struct {
		Body RequirementListResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-summary",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/summary",
		Summary:       "Freeze the requirements into a summary",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *issuePath) (*requirementsBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reqs, err := e.CreateSummary(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &requirementsBody{Body: RequirementListResponse{Items: nonNilSlice(reqs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-summary",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/summary",
		Summary:     "Read the requirement summary",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*requirementsBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reqs, err := e.GetSummary(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &requirementsBody{Body: RequirementListResponse{Items: nonNilSlice(reqs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-summary",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/summary/accept",
		Summary:     "Accept the summary and move the issue to the waiting state",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.AcceptSummary(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-summary",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/summary/decline",
		Summary:     "Decline the summary and reopen the requirements",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.DeclineSummary(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})
}

func registerConversation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conversation",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/conversation",
		Summary:     "List conversation entries in order",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Conversation(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: ConversationResponse{Items: nonNilSlice(entries)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/conversation",
		Summary:       "Post a message",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    PostMessageRequest `json:"body"`
	}) (*struct {
		Body conversation.Entry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.PostMessage(ctx, input.IssueID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body conversation.Entry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerParent(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-parent",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/parent",
		Summary:     "Get the parent issue",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body ParentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		parent, err := e.GetParent(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		var resp ParentResponse
		if parent != nil {
			pr := issueResponse(*parent)
			resp.Parent = &pr
		}
		return &struct {
			Body ParentResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-parent",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/parent",
		Summary:     "Set the parent issue",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string           `path:"issue_id"`
		Body    SetParentRequest `json:"body"`
	}) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.SetParent(ctx, input.IssueID, input.Body.ParentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-parent",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}/parent",
		Summary:     "Detach the issue from its parent",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.RemoveParent(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-children",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/children",
		Summary:     "List child issue ids",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body ChildrenResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := e.Children(ctx, input.IssueID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChildrenResponse `json:"body"`
		}{Body: ChildrenResponse{Items: nonNilSlice(ids)}}, nil
	})
}
