package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"icerline/internal/app"
	"icerline/internal/config"
	"icerline/internal/db"
	"icerline/internal/domain"
	"icerline/internal/engine"
	"icerline/internal/migrate"
	"icerline/internal/repo"
	"icerline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "icer",
	Short: "Icerline CLI",
	Long: `Icerline consolidates new-hire onboarding evaluations and classifies
adaptation risk.
- Workspace: your .icerline directory with only the database; org config is
  stored in the DB and imported explicitly.
- Dimensions: the evaluated axes (integration, communication, role
  understanding, performance).
- Templates: versioned questionnaires per milestone (DAY_1, WEEK_1, MONTH_1)
  and rater role (COLLABORATOR, TEAM_LEADER).
- Assignments: one rater's instance of a template; answers are 1-4 scales or
  open text.
- Results: weighted consolidation per milestone with a risk level
  (HIGH/MEDIUM/LOW); follow-up plans are proposed, never auto-assigned.
- Event log: diary of changes, view with 'icer log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ICERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(dimensionCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(collaboratorCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(answersCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- dimensions ---

func dimensionCmd() *cobra.Command {
	dim := &cobra.Command{Use: "dimension", Short: "Manage evaluation dimensions"}
	dim.AddCommand(dimensionCreateCmd())
	dim.AddCommand(dimensionListCmd())
	dim.AddCommand(dimensionToggleCmd("enable", true))
	dim.AddCommand(dimensionToggleCmd("disable", false))
	return dim
}

func dimensionCreateCmd() *cobra.Command {
	var code, name string
	var order int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create dimension",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDimension(ctx, code, name, order, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "dimension code")
	cmd.Flags().StringVar(&name, "name", "", "dimension name")
	cmd.Flags().IntVar(&order, "order", 0, "display order")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func dimensionListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dimensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDimensions(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Order", "Active"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Code, d.Name, d.Order, d.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active dimensions")
	return cmd
}

func dimensionToggleCmd(use string, active bool) *cobra.Command {
	short := "Enable a dimension"
	if !active {
		short = "Disable a dimension"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SetDimensionActive(ctx, args[0], active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

// --- templates ---

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Manage evaluation templates"}
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateEditCmd())
	tpl.AddCommand(templateActivateCmd())
	tpl.AddCommand(templateDeactivateCmd())
	tpl.AddCommand(templateActiveCmd())
	return tpl
}

type questionFile struct {
	Dimension string `yaml:"dimension"`
	Text      string `yaml:"text"`
	Type      string `yaml:"type"`
	Required  *bool  `yaml:"required"`
}

// parseQuestionFlag parses "CODE|TYPE|required|text" into a QuestionInput.
func parseQuestionFlag(raw string) (engine.QuestionInput, error) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return engine.QuestionInput{}, fmt.Errorf("question %q must be CODE|TYPE|required|text", raw)
	}
	required, err := strconv.ParseBool(strings.TrimSpace(parts[2]))
	if err != nil {
		return engine.QuestionInput{}, fmt.Errorf("question %q: required must be true or false", raw)
	}
	return engine.QuestionInput{
		DimensionCode: strings.TrimSpace(parts[0]),
		Type:          strings.TrimSpace(parts[1]),
		Required:      required,
		Text:          strings.TrimSpace(parts[3]),
	}, nil
}

func loadQuestions(questionFlags []string, filePath string) ([]engine.QuestionInput, error) {
	var res []engine.QuestionInput
	for _, raw := range questionFlags {
		q, err := parseQuestionFlag(raw)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		var items []questionFile
		if err := yaml.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("invalid questions yaml: %w", err)
		}
		for _, it := range items {
			required := true
			if it.Required != nil {
				required = *it.Required
			}
			res = append(res, engine.QuestionInput{
				DimensionCode: it.Dimension,
				Text:          it.Text,
				Type:          it.Type,
				Required:      required,
			})
		}
	}
	return res, nil
}

func templateCreateCmd() *cobra.Command {
	var milestone, role, title, desc, file string
	var questions []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create template",
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, err := loadQuestions(questions, file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, milestone, role, title, desc, qs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "DAY_1, WEEK_1 or MONTH_1")
	cmd.Flags().StringVar(&role, "role", "", "COLLABORATOR or TEAM_LEADER")
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringArrayVar(&questions, "question", []string{}, "question as CODE|TYPE|required|text (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with questions")
	_ = cmd.MarkFlagRequired("milestone")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func templateListCmd() *cobra.Command {
	var f repo.TemplateFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTemplates(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Milestone", "Role", "Title", "Version", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Milestone, t.TargetRole, t.Title, t.Version, t.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Milestone, "milestone", "", "milestone filter")
	cmd.Flags().StringVar(&f.TargetRole, "role", "", "target role filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show template with questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateEditCmd() *cobra.Command {
	var title, desc, file string
	var questions []string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit template (version bumps once published)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, err := loadQuestions(questions, file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTemplate(ctx, args[0], title, desc, qs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringArrayVar(&questions, "question", []string{}, "question as CODE|TYPE|required|text (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with questions")
	return cmd
}

func templateActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate template for its milestone and role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ActivateTemplate(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DeactivateTemplate(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateActiveCmd() *cobra.Command {
	var milestone, role string
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active template for a milestone and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ActiveTemplate(ctx, milestone, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "DAY_1, WEEK_1 or MONTH_1")
	cmd.Flags().StringVar(&role, "role", "", "COLLABORATOR or TEAM_LEADER")
	_ = cmd.MarkFlagRequired("milestone")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// --- collaborators ---

func collaboratorCmd() *cobra.Command {
	col := &cobra.Command{Use: "collaborator", Short: "Manage collaborators"}
	col.AddCommand(collaboratorAddCmd())
	col.AddCommand(collaboratorListCmd())
	col.AddCommand(collaboratorShowCmd())
	return col
}

func collaboratorAddCmd() *cobra.Command {
	var id, name, project, teamLeader, hireDate string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register collaborator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := domain.Collaborator{
					ID:               id,
					Name:             name,
					Project:          project,
					TeamLeaderUserID: optionalString(teamLeader),
					HireDate:         hireDate,
				}
				created, err := e.CreateCollaborator(ctx, c, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "collaborator id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "collaborator name")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&teamLeader, "team-leader", "", "team leader user id")
	cmd.Flags().StringVar(&hireDate, "hire-date", "", "hire date (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func collaboratorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collaborators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCollaborators(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Project", "Team Leader", "Hire Date"})
				for _, c := range items {
					leader := ""
					if c.TeamLeaderUserID != nil {
						leader = *c.TeamLeaderUserID
					}
					tw.AppendRow(table.Row{c.ID, c.Name, c.Project, leader, c.HireDate})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func collaboratorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetCollaborator(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

// --- assignments ---

func assignCmd() *cobra.Command {
	var milestone string
	cmd := &cobra.Command{
		Use:   "assign <collaborator-id>",
		Short: "Create milestone assignments for a collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Assign(ctx, args[0], milestone, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Status", "Due"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.TargetRole, a.Status, a.DueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "DAY_1, WEEK_1 or MONTH_1")
	_ = cmd.MarkFlagRequired("milestone")
	return cmd
}

// parseAnswerFlags turns --scale q1=3 and --text q2="..." flags into answers.
func parseAnswerFlags(scales, texts []string) ([]domain.Answer, error) {
	var res []domain.Answer
	for _, raw := range scales {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("scale answer %q must be question-id=value", raw)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("scale answer %q: value must be an integer", raw)
		}
		res = append(res, domain.Answer{QuestionID: strings.TrimSpace(key), Value: &n})
	}
	for _, raw := range texts {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("text answer %q must be question-id=text", raw)
		}
		text := strings.TrimSpace(value)
		res = append(res, domain.Answer{QuestionID: strings.TrimSpace(key), Text: &text})
	}
	return res, nil
}

func answersCmd() *cobra.Command {
	var scales, texts []string
	cmd := &cobra.Command{
		Use:   "answers <assignment-id>",
		Short: "Save draft answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswerFlags(scales, texts)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SaveDraft(ctx, args[0], answers, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringArrayVar(&scales, "scale", []string{}, "scale answer as question-id=1..4 (repeatable)")
	cmd.Flags().StringArrayVar(&texts, "text", []string{}, "text answer as question-id=text (repeatable)")
	return cmd
}

func submitCmd() *cobra.Command {
	var scales, texts []string
	cmd := &cobra.Command{
		Use:   "submit <assignment-id>",
		Short: "Submit an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswerFlags(scales, texts)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Submit(ctx, args[0], answers, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringArrayVar(&scales, "scale", []string{}, "scale answer as question-id=1..4 (repeatable)")
	cmd.Flags().StringArrayVar(&texts, "text", []string{}, "text answer as question-id=text (repeatable)")
	return cmd
}

func pendingCmd() *cobra.Command {
	var evaluator, milestone string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Open assignments and unconsolidated milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if evaluator != "" {
					items, err := e.PendingForEvaluator(ctx, evaluator)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Collaborator", "Milestone", "Role", "Status", "Due"})
					for _, a := range items {
						tw.AppendRow(table.Row{a.ID, a.CollaboratorID, a.Milestone, a.TargetRole, a.Status, a.DueDate})
					}
					tw.Render()
					return nil
				}
				if milestone != "" {
					ids, err := e.PendingConsolidations(ctx, milestone)
					if err != nil {
						return err
					}
					return printJSONOrTable(ids)
				}
				return fmt.Errorf("--evaluator or --milestone required")
			})
		},
	}
	cmd.Flags().StringVar(&evaluator, "evaluator", "", "evaluator user id")
	cmd.Flags().StringVar(&milestone, "milestone", "", "milestone with completed but unconsolidated assignments")
	return cmd
}

// --- results ---

func resultsCmd() *cobra.Command {
	res := &cobra.Command{Use: "results", Short: "Consolidated milestone results"}
	res.AddCommand(resultsShowCmd())
	res.AddCommand(resultsRecalcCmd())
	return res
}

func resultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <collaborator-id>",
		Short: "Show results for a collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMilestoneResults(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Milestone", "Score", "Risk", "Calculated", "Formula"})
				for _, res := range items {
					score := ""
					if res.FinalScore != nil {
						score = fmt.Sprintf("%.2f", *res.FinalScore)
					}
					tw.AppendRow(table.Row{res.Milestone, score, res.RiskLevel, res.CalculatedAt, res.CalculationFormula})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func resultsRecalcCmd() *cobra.Command {
	var milestone string
	cmd := &cobra.Command{
		Use:   "recalc <collaborator-id>",
		Short: "Recompute a milestone result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Recalculate(ctx, args[0], milestone, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "DAY_1, WEEK_1 or MONTH_1")
	_ = cmd.MarkFlagRequired("milestone")
	return cmd
}

func recommendCmd() *cobra.Command {
	var milestone string
	cmd := &cobra.Command{
		Use:   "recommend <collaborator-id>",
		Short: "Propose a follow-up plan for a milestone result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Recommend(ctx, args[0], milestone, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "DAY_1, WEEK_1 or MONTH_1")
	_ = cmd.MarkFlagRequired("milestone")
	return cmd
}

// --- follow-up plan catalog ---

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Manage follow-up plan catalog"}
	plan.AddCommand(planAddCmd())
	plan.AddCommand(planListCmd())
	return plan
}

func planAddCmd() *cobra.Command {
	var code, title, desc, risk, dimension string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add follow-up plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := domain.FollowUpPlan{
					Code:            code,
					Title:           title,
					Description:     desc,
					TargetRiskLevel: risk,
					DimensionCode:   optionalString(dimension),
				}
				created, err := e.CreateFollowUpPlan(ctx, p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "plan code")
	cmd.Flags().StringVar(&title, "title", "", "plan title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&risk, "risk", "", "target risk level (HIGH or MEDIUM)")
	cmd.Flags().StringVar(&dimension, "dimension", "", "dimension code the plan targets")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("risk")
	return cmd
}

func planListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List follow-up plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFollowUpPlans(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Risk", "Dimension", "Active"})
				for _, p := range items {
					dim := ""
					if p.DimensionCode != nil {
						dim = *p.DimensionCode
					}
					tw.AppendRow(table.Row{p.Code, p.Title, p.TargetRiskLevel, dim, p.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active plans")
	return cmd
}

// --- event log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: catalog changes, assignments, submissions, consolidations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage org config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show org config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import org config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgID := cfg.Org.ID
				if orgID == "" {
					orgID = e.Config.Org.ID
				}
				if err := e.Repo.UpsertOrgConfig(ctx, orgID, cfg); err != nil {
					return err
				}
				seeded := engine.New(e.DB, cfg)
				if err := seeded.SeedCatalog(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print the default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(orgID))
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", config.DefaultOrgID, "org id")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key for %s (store it now, it is not recoverable):\n%s\n", actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOrgAndConfig(cmd.Context(), viper.GetString("org"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := e.SeedCatalog(cmd.Context(), viper.GetString("actor-id")); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ICERLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ICERLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Icerline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, viper.GetString("org"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if err := e.SeedCatalog(ctx, viper.GetString("actor-id")); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
