package server

import (
	"encoding/json"

	"icerline/internal/domain"
)

// Request payloads

type CreateDimensionRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Order int    `json:"order,omitempty"`
}

type ToggleDimensionRequest struct {
	IsActive bool `json:"is_active"`
}

type QuestionRequest struct {
	DimensionCode string `json:"dimension_code"`
	Text          string `json:"text"`
	Type          string `json:"type" enum:"SCALE_1_4,OPEN_TEXT"`
	Required      bool   `json:"required"`
}

type CreateTemplateRequest struct {
	Milestone   string            `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
	TargetRole  string            `json:"target_role" enum:"COLLABORATOR,TEAM_LEADER"`
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	Questions   []QuestionRequest `json:"questions,omitempty"`
}

type UpdateTemplateRequest struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Questions   []QuestionRequest `json:"questions"`
}

type CreateCollaboratorRequest struct {
	ID               *string `json:"id,omitempty"`
	Name             string  `json:"name"`
	Project          *string `json:"project,omitempty"`
	TeamLeaderUserID *string `json:"team_leader_user_id,omitempty"`
	HireDate         *string `json:"hire_date,omitempty" format:"date-time"`
}

type AssignRequest struct {
	Milestone string `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
}

type AnswerRequest struct {
	QuestionID string  `json:"question_id"`
	Value      *int    `json:"value,omitempty" minimum:"1" maximum:"4"`
	Text       *string `json:"text,omitempty"`
}

type AnswersRequest struct {
	Answers []AnswerRequest `json:"answers"`
}

type CreatePlanRequest struct {
	Code            string  `json:"code"`
	Title           string  `json:"title"`
	Description     *string `json:"description,omitempty"`
	TargetRiskLevel string  `json:"target_risk_level" enum:"HIGH,MEDIUM"`
	DimensionCode   *string `json:"dimension_code,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// Response payloads. Domain structs carry their own JSON tags and are served
// directly; only events need remapping so consumers get decoded payloads.

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func answersFromRequest(in []AnswerRequest) []domain.Answer {
	res := make([]domain.Answer, 0, len(in))
	for _, a := range in {
		res = append(res, domain.Answer{QuestionID: a.QuestionID, Value: a.Value, Text: a.Text})
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
