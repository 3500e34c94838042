package domain

import (
	"errors"
	"time"

	"goose/internal/conversation"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("concurrent modification")
	ErrCycle    = errors.New("issue hierarchy cycle")
)

// Phase groups states into the coarse stages of an issue's life.
type Phase string

const (
	PhaseNegotiation Phase = "Negotiation"
	PhaseProcessing  Phase = "Processing"
	PhaseConclusion  Phase = "Conclusion"
)

// Rank orders phases by workflow progression. Unknown phases rank -1.
func (p Phase) Rank() int {
	switch p {
	case PhaseNegotiation:
		return 0
	case PhaseProcessing:
		return 1
	case PhaseConclusion:
		return 2
	default:
		return -1
	}
}

func (p Phase) Valid() bool { return p.Rank() >= 0 }

// Default state names.
const (
	StateChecking    = "Checking"
	StateNegotiation = "Negotiation"
	StateBlocked     = "Blocked"
	StateWaiting     = "Waiting"
	StateProcessing  = "Processing"
	StateReview      = "Review"
	StateCompleted   = "Completed"
	StateCancelled   = "Cancelled"
	StateArchived    = "Archived"
)

type State struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phase         Phase  `json:"phase" enum:"Negotiation,Processing,Conclusion"`
	UserGenerated bool   `json:"user_generated"`
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type ProjectUser struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

type Project struct {
	ID        string        `json:"id"`
	CompanyID string        `json:"company_id"`
	Name      string        `json:"name"`
	States    []State       `json:"states"`
	Users     []ProjectUser `json:"users,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// State returns the project's state with the given id.
func (p Project) State(id string) (State, bool) {
	for _, s := range p.States {
		if s.ID == id {
			return s, true
		}
	}
	return State{}, false
}

// APIKey lets a non-interactive client act as ActorID. Only the hash of the
// key is stored.
type APIKey struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Requirement struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueDetail is the descriptive part of an issue. A nil Requirements slice
// means the requirement list was never initialised.
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

// RequirementTexts snapshots the requirement texts in order.
func (d IssueDetail) RequirementTexts() []string {
	out := make([]string, 0, len(d.Requirements))
	for _, r := range d.Requirements {
		out = append(out, r.Text)
	}
	return out
}

type Issue struct {
	ID           string
	ProjectID    string
	StateID      string
	ParentID     *string
	AuthorID     string
	ClientID     string
	Detail       IssueDetail
	Conversation conversation.Log
	Revision     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy safe to mutate without touching i.
func (i Issue) Clone() Issue {
	out := i
	if i.ParentID != nil {
		p := *i.ParentID
		out.ParentID = &p
	}
	if i.Detail.Requirements != nil {
		out.Detail.Requirements = make([]Requirement, len(i.Detail.Requirements))
		copy(out.Detail.Requirements, i.Detail.Requirements)
	}
	out.Conversation = i.Conversation.Clone()
	return out
}
