package icerlinesdk

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

// Client is a minimal Icerline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Collaborator represents a new hire being evaluated.
type Collaborator struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Project          string  `json:"project,omitempty"`
	TeamLeaderUserID *string `json:"team_leader_user_id,omitempty"`
	HireDate         string  `json:"hire_date,omitempty"`
}

// Assignment represents one rater's questionnaire instance.
type Assignment struct {
	ID              string   `json:"id"`
	CollaboratorID  string   `json:"collaborator_id"`
	TemplateID      string   `json:"template_id"`
	Milestone       string   `json:"milestone"`
	TargetRole      string   `json:"target_role"`
	EvaluatorUserID *string  `json:"evaluator_user_id,omitempty"`
	Status          string   `json:"status"`
	Score           *float64 `json:"score,omitempty"`
	DueDate         string   `json:"due_date,omitempty"`
	CompletedAt     *string  `json:"completed_at,omitempty"`
	Answers         []Answer `json:"answers,omitempty"`
}

// Answer is one question's response, a 1-4 scale value or free text.
type Answer struct {
	QuestionID string  `json:"question_id"`
	Value      *int    `json:"value,omitempty"`
	Text       *string `json:"text,omitempty"`
}

// MilestoneResult is the consolidated score and risk level for a milestone.
type MilestoneResult struct {
	ID                 string   `json:"id"`
	CollaboratorID     string   `json:"collaborator_id"`
	Milestone          string   `json:"milestone"`
	FinalScore         *float64 `json:"final_score,omitempty"`
	RiskLevel          string   `json:"risk_level"`
	CalculationFormula string   `json:"calculation_formula"`
	CalculatedAt       string   `json:"calculated_at"`
}

// Recommendation is a proposed follow-up plan; assignment stays manual.
type Recommendation struct {
	ResultID         string  `json:"result_id"`
	CollaboratorID   string  `json:"collaborator_id"`
	CollaboratorName string  `json:"collaborator_name,omitempty"`
	Milestone        string  `json:"milestone"`
	RiskLevel        string  `json:"risk_level"`
	PlanID           *string `json:"plan_id,omitempty"`
	PlanCode         *string `json:"plan_code,omitempty"`
	WeakestDimension *string `json:"weakest_dimension,omitempty"`
	ManualAssignment bool    `json:"manual_assignment"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateCollaborator registers a new hire.
func (c *Client) CreateCollaborator(ctx context.Context, name, project string, teamLeaderUserID *string, hireDate string) (Collaborator, error) {
	body := map[string]any{
		"name": name,
	}
	if project != "" {
		body["project"] = project
	}
	if teamLeaderUserID != nil {
		body["team_leader_user_id"] = *teamLeaderUserID
	}
	if hireDate != "" {
		body["hire_date"] = hireDate
	}
	var resp Collaborator
	err := c.do(ctx, http.MethodPost, "collaborators", body, &resp)
	return resp, err
}

// Assign creates the milestone assignments for a collaborator, one per rater role.
func (c *Client) Assign(ctx context.Context, collaboratorID, milestone string) ([]Assignment, error) {
	body := map[string]any{"milestone": milestone}
	var resp []Assignment
	endpoint := fmt.Sprintf("collaborators/%s/assignments", url.PathEscape(collaboratorID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SaveAnswers stores draft answers without completing the assignment.
func (c *Client) SaveAnswers(ctx context.Context, assignmentID string, answers []Answer) (Assignment, error) {
	body := map[string]any{"answers": answers}
	var resp Assignment
	endpoint := fmt.Sprintf("assignments/%s/answers", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Submit completes an assignment with final answers.
func (c *Client) Submit(ctx context.Context, assignmentID string, answers []Answer) (Assignment, error) {
	body := map[string]any{"answers": answers}
	var resp Assignment
	endpoint := fmt.Sprintf("assignments/%s/submit", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Results returns consolidated milestone results for a collaborator.
func (c *Client) Results(ctx context.Context, collaboratorID string) ([]MilestoneResult, error) {
	var resp []MilestoneResult
	endpoint := fmt.Sprintf("collaborators/%s/results", url.PathEscape(collaboratorID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Recalculate recomputes one milestone result.
func (c *Client) Recalculate(ctx context.Context, collaboratorID, milestone string) (MilestoneResult, error) {
	var resp MilestoneResult
	endpoint := fmt.Sprintf("collaborators/%s/results/%s/recalculate", url.PathEscape(collaboratorID), url.PathEscape(milestone))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Recommendation fetches the proposed follow-up plan for a result.
func (c *Client) Recommendation(ctx context.Context, resultID string) (Recommendation, error) {
	var resp Recommendation
	endpoint := fmt.Sprintf("results/%s/recommendation", url.PathEscape(resultID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// base trims the trailing slash; BaseURL should include the API base path,
// e.g. http://127.0.0.1:8080/v1.
func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
