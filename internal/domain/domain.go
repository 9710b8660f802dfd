package domain

// Milestones are the onboarding checkpoints at which evaluations are due.
const (
	MilestoneDay1   = "DAY_1"
	MilestoneWeek1  = "WEEK_1"
	MilestoneMonth1 = "MONTH_1"
)

// Target roles identify which party fills out a template.
const (
	RoleCollaborator = "COLLABORATOR"
	RoleTeamLeader   = "TEAM_LEADER"
)

// Question types.
const (
	QuestionScale1To4 = "SCALE_1_4"
	QuestionOpenText  = "OPEN_TEXT"
)

// Assignment statuses.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// Risk levels.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
	RiskNone   = "NONE"
)

type Dimension struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Question struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	DimensionID string `json:"dimension_id"`
	Text        string `json:"text"`
	Type        string `json:"type" enum:"SCALE_1_4,OPEN_TEXT"`
	Order       int    `json:"order"`
	Required    bool   `json:"required"`
}

type Template struct {
	ID          string     `json:"id"`
	Milestone   string     `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
	TargetRole  string     `json:"target_role" enum:"COLLABORATOR,TEAM_LEADER"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	Version     int        `json:"version"`
	Questions   []Question `json:"questions,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// Answer holds one rater's response to one question. Scale answers carry
// Value, open-text answers carry Text.
type Answer struct {
	QuestionID string  `json:"question_id"`
	Value      *int    `json:"value,omitempty"`
	Text       *string `json:"text,omitempty"`
}

// Assignment is one rater's instance of a template for one collaborator and
// milestone. EvaluatorUserID is nil for self-evaluations.
type Assignment struct {
	ID              string   `json:"id"`
	CollaboratorID  string   `json:"collaborator_id"`
	EvaluatorUserID *string  `json:"evaluator_user_id,omitempty"`
	TemplateID      string   `json:"template_id"`
	TemplateVersion int      `json:"template_version"`
	Milestone       string   `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
	TargetRole      string   `json:"target_role" enum:"COLLABORATOR,TEAM_LEADER"`
	Status          string   `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED"`
	DueDate         string   `json:"due_date" format:"date-time"`
	CompletedAt     *string  `json:"completed_at,omitempty" format:"date-time"`
	Score           *float64 `json:"score,omitempty"`
	Answers         []Answer `json:"answers,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// MilestoneResult is the consolidated, risk-classified outcome for one
// collaborator at one milestone. At most one row per (collaborator, milestone).
type MilestoneResult struct {
	ID                       string   `json:"id"`
	CollaboratorID           string   `json:"collaborator_id"`
	Milestone                string   `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
	CollaboratorAssignmentID *string  `json:"collaborator_assignment_id,omitempty"`
	TeamLeaderAssignmentID   *string  `json:"team_leader_assignment_id,omitempty"`
	FinalScore               *float64 `json:"final_score,omitempty"`
	RiskLevel                string   `json:"risk_level" enum:"HIGH,MEDIUM,LOW,NONE"`
	CalculatedAt             string   `json:"calculated_at" format:"date-time"`
	CalculationFormula       string   `json:"calculation_formula"`
}

type Collaborator struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Project          string  `json:"project,omitempty"`
	TeamLeaderUserID *string `json:"team_leader_user_id,omitempty"`
	HireDate         string  `json:"hire_date,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// FollowUpPlan is a catalog entry the Follow-up Trigger proposes from. Plans
// with a DimensionCode are preferred for HIGH risk when the weakest dimension
// matches.
type FollowUpPlan struct {
	ID              string  `json:"id"`
	Code            string  `json:"code"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	TargetRiskLevel string  `json:"target_risk_level" enum:"HIGH,MEDIUM"`
	DimensionCode   *string `json:"dimension_code,omitempty"`
	IsActive        bool    `json:"is_active"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// Recommendation is the advisory output of the Follow-up Trigger. It is never
// persisted as an action plan; a human confirms type, description and due date
// in the external action-plan module.
type Recommendation struct {
	ResultID         string  `json:"result_id"`
	CollaboratorID   string  `json:"collaborator_id"`
	CollaboratorName string  `json:"collaborator_name,omitempty"`
	Milestone        string  `json:"milestone" enum:"DAY_1,WEEK_1,MONTH_1"`
	RiskLevel        string  `json:"risk_level" enum:"HIGH,MEDIUM,LOW,NONE"`
	PlanID           *string `json:"plan_id,omitempty"`
	PlanCode         *string `json:"plan_code,omitempty"`
	WeakestDimension *string `json:"weakest_dimension,omitempty"`
	ManualAssignment bool    `json:"manual_assignment"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RequiredRoles returns the rater roles a milestone needs before its result
// can be consolidated.
func RequiredRoles(milestone string) []string {
	switch milestone {
	case MilestoneDay1:
		return []string{RoleCollaborator}
	case MilestoneWeek1, MilestoneMonth1:
		return []string{RoleCollaborator, RoleTeamLeader}
	default:
		return nil
	}
}

// ValidMilestone reports whether m names a known milestone.
func ValidMilestone(m string) bool {
	return m == MilestoneDay1 || m == MilestoneWeek1 || m == MilestoneMonth1
}

// ValidTargetRole reports whether r names a known target role.
func ValidTargetRole(r string) bool {
	return r == RoleCollaborator || r == RoleTeamLeader
}
