package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"icerline/internal/config"
	"icerline/internal/db"
	"icerline/internal/domain"
	"icerline/internal/engine"
	"icerline/internal/migrate"
	"icerline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedCatalog(ctx, "tester"); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) activeTemplate(t *testing.T, milestone, role string, questions []engine.QuestionInput) domain.Template {
	t.Helper()
	tmpl, err := env.Engine.CreateTemplate(env.Ctx, milestone, role, milestone+" "+role, "", questions, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := env.Engine.ActivateTemplate(env.Ctx, tmpl.ID, "tester"); err != nil {
		t.Fatalf("activate template: %v", err)
	}
	return tmpl
}

func (env testEnv) collaborator(t *testing.T) domain.Collaborator {
	t.Helper()
	leader := "tl-1"
	c, err := env.Engine.CreateCollaborator(env.Ctx, domain.Collaborator{
		Name:             "Ana",
		Project:          "atlas",
		TeamLeaderUserID: &leader,
	}, "tester")
	if err != nil {
		t.Fatalf("create collaborator: %v", err)
	}
	return c
}

func scaleQ(dim, text string) engine.QuestionInput {
	return engine.QuestionInput{DimensionCode: dim, Text: text, Type: domain.QuestionScale1To4, Required: true}
}

func textQ(dim, text string) engine.QuestionInput {
	return engine.QuestionInput{DimensionCode: dim, Text: text, Type: domain.QuestionOpenText, Required: true}
}

// answerValues answers a template's questions in order; scale questions take
// the next value, open-text questions get a fixed comment.
func answerValues(tmpl domain.Template, values ...int) []domain.Answer {
	comment := "ok"
	var res []domain.Answer
	i := 0
	for _, q := range tmpl.Questions {
		if q.Type == domain.QuestionOpenText {
			res = append(res, domain.Answer{QuestionID: q.ID, Text: &comment})
			continue
		}
		v := values[i]
		i++
		res = append(res, domain.Answer{QuestionID: q.ID, Value: &v})
	}
	return res
}

func byRole(items []domain.Assignment, role string) domain.Assignment {
	for _, a := range items {
		if a.TargetRole == role {
			return a
		}
	}
	return domain.Assignment{}
}

func TestDay1RiskBoundaries(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "How integrated do you feel?"),
		scaleQ("COM", "How clear is communication?"),
	})

	cases := []struct {
		values []int
		score  float64
		risk   string
	}{
		{[]int{1, 1}, 1.0, domain.RiskHigh},
		{[]int{2, 2}, 2.0, domain.RiskMedium},
		{[]int{3, 3}, 3.0, domain.RiskLow},
		{[]int{4, 4}, 4.0, domain.RiskLow},
	}
	for _, tc := range cases {
		collab := env.collaborator(t)
		items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		a := byRole(items, domain.RoleCollaborator)
		if _, err := env.Engine.Submit(env.Ctx, a.ID, answerValues(tmpl, tc.values...), collab.ID); err != nil {
			t.Fatalf("submit: %v", err)
		}
		res, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneDay1)
		if err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.FinalScore == nil || *res.FinalScore != tc.score {
			t.Fatalf("values %v: expected score %.1f, got %v", tc.values, tc.score, res.FinalScore)
		}
		if res.RiskLevel != tc.risk {
			t.Fatalf("score %.1f: expected risk %s, got %s", tc.score, tc.risk, res.RiskLevel)
		}
		if res.CalculationFormula != "ICER Colaborador" {
			t.Fatalf("unexpected formula %q", res.CalculationFormula)
		}
	}
}

func TestWeek1WeightedConsolidation(t *testing.T) {
	env := newTestEnv(t)
	colTmpl := env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "Self: integration"),
	})
	tlTmpl := env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleTeamLeader, []engine.QuestionInput{
		scaleQ("REN", "Leader: performance"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneWeek1, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(items))
	}

	colAssign := byRole(items, domain.RoleCollaborator)
	tlAssign := byRole(items, domain.RoleTeamLeader)
	if tlAssign.EvaluatorUserID == nil || *tlAssign.EvaluatorUserID != "tl-1" {
		t.Fatalf("expected team leader evaluator, got %v", tlAssign.EvaluatorUserID)
	}

	if _, err := env.Engine.Submit(env.Ctx, colAssign.ID, answerValues(colTmpl, 4), collab.ID); err != nil {
		t.Fatalf("submit collaborator: %v", err)
	}
	// half done: no result yet
	if _, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneWeek1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no result before both roles complete, got %v", err)
	}
	if _, err := env.Engine.Consolidate(env.Ctx, collab.ID, domain.MilestoneWeek1, "tester"); !errors.Is(err, engine.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	if _, err := env.Engine.Submit(env.Ctx, tlAssign.ID, answerValues(tlTmpl, 1), "tl-1"); err != nil {
		t.Fatalf("submit team leader: %v", err)
	}
	res, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneWeek1)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	// 4*0.6 + 1*0.4
	if res.FinalScore == nil || *res.FinalScore != 2.8 {
		t.Fatalf("expected 2.8, got %v", res.FinalScore)
	}
	if res.RiskLevel != domain.RiskMedium {
		t.Fatalf("expected MEDIUM, got %s", res.RiskLevel)
	}
	if res.CalculationFormula != "ICER-C Semana 1 = (ICER Col × 0.6) + (ICER TL × 0.4)" {
		t.Fatalf("unexpected formula %q", res.CalculationFormula)
	}
}

func TestMonth1WeightsFavorTeamLeader(t *testing.T) {
	env := newTestEnv(t)
	colTmpl := env.activeTemplate(t, domain.MilestoneMonth1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "Self: integration"),
	})
	tlTmpl := env.activeTemplate(t, domain.MilestoneMonth1, domain.RoleTeamLeader, []engine.QuestionInput{
		scaleQ("REN", "Leader: performance"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneMonth1, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	// team leader first, collaborator second: completion order must not matter
	if _, err := env.Engine.Submit(env.Ctx, byRole(items, domain.RoleTeamLeader).ID, answerValues(tlTmpl, 4), "tl-1"); err != nil {
		t.Fatalf("submit team leader: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, byRole(items, domain.RoleCollaborator).ID, answerValues(colTmpl, 1), collab.ID); err != nil {
		t.Fatalf("submit collaborator: %v", err)
	}
	res, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneMonth1)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	// 1*0.4 + 4*0.6
	if res.FinalScore == nil || *res.FinalScore != 2.8 {
		t.Fatalf("expected 2.8, got %v", res.FinalScore)
	}
	if res.CalculationFormula != "ICER-C Mes 1 = (ICER Col × 0.4) + (ICER TL × 0.6)" {
		t.Fatalf("unexpected formula %q", res.CalculationFormula)
	}
}

func TestScorelessRaterRenormalization(t *testing.T) {
	env := newTestEnv(t)
	colTmpl := env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "Self: integration"),
	})
	tlTmpl := env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleTeamLeader, []engine.QuestionInput{
		textQ("REN", "Leader: free-form feedback"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneWeek1, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, byRole(items, domain.RoleCollaborator).ID, answerValues(colTmpl, 3), collab.ID); err != nil {
		t.Fatalf("submit collaborator: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, byRole(items, domain.RoleTeamLeader).ID, answerValues(tlTmpl), "tl-1"); err != nil {
		t.Fatalf("submit team leader: %v", err)
	}
	res, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneWeek1)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	// only the collaborator carries a score; its weight renormalizes to 1
	if res.FinalScore == nil || *res.FinalScore != 3.0 {
		t.Fatalf("expected 3.0, got %v", res.FinalScore)
	}
	if res.RiskLevel != domain.RiskLow {
		t.Fatalf("expected LOW, got %s", res.RiskLevel)
	}
}

func TestRecalculateKeepsResultID(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(tmpl, 2), collab.ID); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Repo.GetResultForPair(env.Ctx, collab.ID, domain.MilestoneDay1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Recalculate(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("result id changed on recalculation: %s -> %s", first.ID, second.ID)
	}
	if *second.FinalScore != *first.FinalScore || second.RiskLevel != first.RiskLevel {
		t.Fatalf("recalculation changed outcome: %v/%s vs %v/%s", first.FinalScore, first.RiskLevel, second.FinalScore, second.RiskLevel)
	}
}

func TestDuplicateAssignmentRejected(t *testing.T) {
	env := newTestEnv(t)
	env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q"),
	})
	collab := env.collaborator(t)
	if _, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	var dup engine.DuplicateAssignmentError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAssignmentError, got %v", err)
	}
}

func TestAssignRequiresActiveTemplate(t *testing.T) {
	env := newTestEnv(t)
	collab := env.collaborator(t)
	_, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneWeek1, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found without active templates, got %v", err)
	}
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SeedCatalog(env.Ctx, "tester"); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	dims, err := env.Engine.Repo.ListDimensions(env.Ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(dims) != len(env.Engine.Config.Dimensions) {
		t.Fatalf("expected %d dimensions, got %d", len(env.Engine.Config.Dimensions), len(dims))
	}
	plans, err := env.Engine.Repo.ListFollowUpPlans(env.Ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != len(env.Engine.Config.FollowUp.Plans) {
		t.Fatalf("expected %d plans, got %d", len(env.Engine.Config.FollowUp.Plans), len(plans))
	}
}

func TestIncompleteSubmitLeavesAssignmentOpen(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q1"),
		scaleQ("COM", "q2"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	v := 3
	partial := []domain.Answer{{QuestionID: tmpl.Questions[0].ID, Value: &v}}
	_, err = env.Engine.Submit(env.Ctx, items[0].ID, partial, collab.ID)
	var incomplete engine.IncompleteAnswersError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteAnswersError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != tmpl.Questions[1].ID {
		t.Fatalf("expected missing %s, got %v", tmpl.Questions[1].ID, incomplete.Missing)
	}
	a, err := env.Engine.Repo.GetAssignment(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status == domain.StatusCompleted || a.Score != nil {
		t.Fatalf("failed submit must not complete the assignment: %s %v", a.Status, a.Score)
	}
}

func TestBlankRequiredTextRejected(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q1"),
		textQ("COM", "q2"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	v := 3
	blank := ""
	answers := []domain.Answer{
		{QuestionID: tmpl.Questions[0].ID, Value: &v},
		{QuestionID: tmpl.Questions[1].ID, Text: &blank},
	}
	_, err = env.Engine.Submit(env.Ctx, items[0].ID, answers, collab.ID)
	var incomplete engine.IncompleteAnswersError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteAnswersError for blank text, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != tmpl.Questions[1].ID {
		t.Fatalf("expected missing %s, got %v", tmpl.Questions[1].ID, incomplete.Missing)
	}
	a, err := env.Engine.Repo.GetAssignment(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.StatusPending {
		t.Fatalf("blank-text submit must leave the assignment pending, got %s", a.Status)
	}
}

func TestDraftAnswersCountOnSubmit(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q1"),
		scaleQ("COM", "q2"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	v := 4
	draft := []domain.Answer{{QuestionID: tmpl.Questions[0].ID, Value: &v}}
	a, err := env.Engine.SaveDraft(env.Ctx, items[0].ID, draft, collab.ID)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if a.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after draft, got %s", a.Status)
	}
	// submit only the second answer; the drafted first one still counts
	w := 2
	a, err = env.Engine.Submit(env.Ctx, items[0].ID, []domain.Answer{{QuestionID: tmpl.Questions[1].ID, Value: &w}}, collab.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.Score == nil || *a.Score != 3.0 {
		t.Fatalf("expected score 3.0 from draft+submit, got %v", a.Score)
	}

	_, err = env.Engine.Submit(env.Ctx, items[0].ID, nil, collab.ID)
	var done engine.AlreadyCompletedError
	if !errors.As(err, &done) {
		t.Fatalf("expected AlreadyCompletedError on resubmit, got %v", err)
	}
}

func TestActivationIsExclusivePerPair(t *testing.T) {
	env := newTestEnv(t)
	qs := []engine.QuestionInput{scaleQ("INT", "q")}
	first := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, qs)
	second := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, qs)

	active, err := env.Engine.ActiveTemplate(env.Ctx, domain.MilestoneDay1, domain.RoleCollaborator)
	if err != nil {
		t.Fatalf("active template: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected %s active, got %s", second.ID, active.ID)
	}
	prev, err := env.Engine.Repo.GetTemplate(env.Ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prev.IsActive {
		t.Fatalf("previous template must be deactivated")
	}
}

func TestActivateTemplateWithoutQuestions(t *testing.T) {
	env := newTestEnv(t)
	tmpl, err := env.Engine.CreateTemplate(env.Ctx, domain.MilestoneDay1, domain.RoleCollaborator, "empty", "", nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ActivateTemplate(env.Ctx, tmpl.ID, "tester")
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for empty template, got %v", err)
	}
}

func TestVersionBumpsOnceAnswered(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q"),
	})
	// editing before anyone answered keeps version 1
	edited, err := env.Engine.UpdateTemplate(env.Ctx, tmpl.ID, "renamed", "", []engine.QuestionInput{scaleQ("INT", "q v1")}, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if edited.Version != 1 {
		t.Fatalf("expected version 1 before submissions, got %d", edited.Version)
	}

	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(edited, 3), collab.ID); err != nil {
		t.Fatal(err)
	}

	edited, err = env.Engine.UpdateTemplate(env.Ctx, tmpl.ID, "", "", []engine.QuestionInput{scaleQ("INT", "q v2")}, "tester")
	if err != nil {
		t.Fatalf("update after submissions: %v", err)
	}
	if edited.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", edited.Version)
	}
	// the completed assignment keeps the version it answered
	a, err := env.Engine.Repo.GetAssignment(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.TemplateVersion != 1 {
		t.Fatalf("expected assignment pinned to version 1, got %d", a.TemplateVersion)
	}
}

func TestRecommendationTiers(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "integration"),
		scaleQ("COM", "communication"),
	})

	// HIGH risk with COM as the weakest dimension prefers the COM-specific plan
	high := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, high.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(tmpl, 2, 1), high.ID); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Recommend(env.Ctx, high.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatalf("recommend high: %v", err)
	}
	if rec.RiskLevel != domain.RiskHigh {
		t.Fatalf("expected HIGH, got %s", rec.RiskLevel)
	}
	if rec.WeakestDimension == nil || *rec.WeakestDimension != "COM" {
		t.Fatalf("expected weakest dimension COM, got %v", rec.WeakestDimension)
	}
	if rec.PlanCode == nil || *rec.PlanCode != "SE-60-COM" {
		t.Fatalf("expected SE-60-COM, got %v", rec.PlanCode)
	}
	if !rec.ManualAssignment {
		t.Fatalf("recommendations are always advisory")
	}

	// MEDIUM risk takes the general MEDIUM plan
	medium := env.collaborator(t)
	items, err = env.Engine.Assign(env.Ctx, medium.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(tmpl, 2, 3), medium.ID); err != nil {
		t.Fatal(err)
	}
	rec, err = env.Engine.Recommend(env.Ctx, medium.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatalf("recommend medium: %v", err)
	}
	if rec.RiskLevel != domain.RiskMedium {
		t.Fatalf("expected MEDIUM, got %s", rec.RiskLevel)
	}
	if rec.PlanCode == nil || *rec.PlanCode != "PD-30" {
		t.Fatalf("expected PD-30, got %v", rec.PlanCode)
	}

	// LOW risk proposes nothing
	low := env.collaborator(t)
	items, err = env.Engine.Assign(env.Ctx, low.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(tmpl, 4, 4), low.ID); err != nil {
		t.Fatal(err)
	}
	rec, err = env.Engine.Recommend(env.Ctx, low.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatalf("recommend low: %v", err)
	}
	if rec.PlanCode != nil {
		t.Fatalf("LOW risk must not carry a plan, got %v", rec.PlanCode)
	}
}

func TestPendingForEvaluator(t *testing.T) {
	env := newTestEnv(t)
	colTmpl := env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q"),
	})
	env.activeTemplate(t, domain.MilestoneWeek1, domain.RoleTeamLeader, []engine.QuestionInput{
		scaleQ("REN", "q"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneWeek1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	pending, err := env.Engine.PendingForEvaluator(env.Ctx, "tl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].TargetRole != domain.RoleTeamLeader {
		t.Fatalf("expected one pending team-leader assignment, got %v", pending)
	}
	if _, err := env.Engine.Submit(env.Ctx, byRole(items, domain.RoleCollaborator).ID, answerValues(colTmpl, 3), collab.ID); err != nil {
		t.Fatal(err)
	}
	// collaborator's own submission does not drain the leader's queue
	pending, err = env.Engine.PendingForEvaluator(env.Ctx, "tl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected leader still pending, got %d", len(pending))
	}
}

func TestSubmitEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	tmpl := env.activeTemplate(t, domain.MilestoneDay1, domain.RoleCollaborator, []engine.QuestionInput{
		scaleQ("INT", "q"),
	})
	collab := env.collaborator(t)
	items, err := env.Engine.Assign(env.Ctx, collab.ID, domain.MilestoneDay1, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, items[0].ID, answerValues(tmpl, 2), collab.ID); err != nil {
		t.Fatal(err)
	}
	for _, evtType := range []string{"assignment.created", "assignment.completed", "result.consolidated"} {
		events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, evtType, "", "")
		if err != nil {
			t.Fatalf("query events: %v", err)
		}
		if len(events) == 0 {
			t.Fatalf("expected %s event", evtType)
		}
	}
}
