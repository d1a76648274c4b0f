package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportline/internal/app"
	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/lifecycle"
	"reportline/internal/migrate"
	"reportline/internal/repo"
	"reportline/internal/schedule"
	"reportline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Reportline CLI",
	Long: `Reportline is the control plane for report governance and scheduling.
Core concepts:
- Workspace: your .reportline directory holding the database; config lives in the DB and can be imported from reportline.yml.
- Report: a governed artifact moving draft -> review -> approved -> published -> deprecated -> archived -> retired.
- Approval workflow: ordered sign-off steps; one rejection pins the workflow rejected.
- Version ledger: append-only semver history with exactly one current entry.
- Change freeze: a global window that blocks every mutation until it expires or is lifted.
- Quality checks: advisory gate signals; they inform the release decision but never block a transition.
- Schedules: recurring due-today evaluation for report generation jobs.
- Event log: diary of changes, view with 'rl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("REPORTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("workspace-id", "", "workspace id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("workspace-id", rootCmd.PersistentFlags().Lookup("workspace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(qualityCmd())
	rootCmd.AddCommand(freezeCmd())
	rootCmd.AddCommand(changeCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default reportline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID := viper.GetString("workspace-id")
			if workspaceID == "" {
				workspaceID = app.DefaultWorkspaceID
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspaceID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	})
	return cfg
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Workspace overview",
		Long:  "The scoreboard: report counts per stage, the freeze window, and the event log head.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountReportsByStage(ctx)
				if err != nil {
					return err
				}
				frozen, fw, err := e.Frozen(ctx)
				if err != nil {
					return err
				}
				lastID, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"workspace_id":  e.Config.Workspace.ID,
						"stage_counts":  counts,
						"frozen":        frozen,
						"freeze_window": fw,
						"last_event_id": lastID,
					})
				}
				fmt.Printf("Workspace: %s\n", e.Config.Workspace.ID)
				if frozen {
					fmt.Printf("Change freeze: ACTIVE until %s\n", fw.Until)
				} else {
					fmt.Println("Change freeze: off")
				}
				fmt.Println("Reports:")
				for stage, c := range counts {
					fmt.Printf("  %s: %d\n", stage, c)
				}
				fmt.Printf("Last event id: %d\n", lastID)
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Manage reports",
		Long:  "Reports are the governed artifacts. They are registered pre-draft, walk the lifecycle stage machine, and carry an approval workflow, a version ledger and quality checks.",
	}
	rep.AddCommand(reportRegisterCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportTransitionCmd())
	rep.AddCommand(reportHistoryCmd())
	rep.AddCommand(reportReadinessCmd())
	return rep
}

func reportRegisterCmd() *cobra.Command {
	var opts engine.RegisterReportOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RegisterReport(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "report id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Type, "type", "operational", "report type")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.ApprovalTemplate, "template", "", "approval template (defaults by type)")
	return cmd
}

func reportListCmd() *cobra.Command {
	var stage, reportType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReports(ctx, stage, reportType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Stage", "Approval", "Version"})
				for _, r := range items {
					stage := r.Stage
					if stage == "" {
						stage = "registered"
					}
					version := ""
					if r.CurrentVersion != nil {
						version = *r.CurrentVersion
					}
					tw.AppendRow(table.Row{r.ID, r.Title, r.Type, stage, r.ApprovalStatus, version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	cmd.Flags().StringVar(&reportType, "type", "", "filter by type")
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	return cmd
}

func reportTransitionCmd() *cobra.Command {
	var to, reason, depReason, depReplacement, depRetirement string
	cmd := &cobra.Command{
		Use:   "transition <report-id>",
		Short: "Move a report to another stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			opts := engine.TransitionOptions{
				ReportID: args[0],
				To:       lifecycle.Stage(to),
				ActorID:  viper.GetString("actor-id"),
				Reason:   reason,
			}
			if depReason != "" || depReplacement != "" || depRetirement != "" {
				opts.Deprecation = &engine.DeprecationDetails{
					Reason:         depReason,
					ReplacementID:  depReplacement,
					RetirementDate: depRetirement,
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Transition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage")
	cmd.Flags().StringVar(&reason, "reason", "", "transition reason")
	cmd.Flags().StringVar(&depReason, "deprecation-reason", "", "why the report is deprecated")
	cmd.Flags().StringVar(&depReplacement, "replacement", "", "replacement report id")
	cmd.Flags().StringVar(&depRetirement, "retirement-date", "", "planned retirement date (YYYY-MM-DD)")
	return cmd
}

func reportHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <report-id>",
		Short: "Stage transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStageTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Reason"})
				for _, t := range items {
					from := "(none)"
					if t.FromStage != nil {
						from = *t.FromStage
					}
					tw.AppendRow(table.Row{t.TS, from, t.ToStage, t.ActorID, t.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportReadinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness <report-id>",
		Short: "Advisory release readiness (approval, freeze, quality)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rr, err := e.ReleaseReadiness(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rr)
			})
		},
	}
	return cmd
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{
		Use:   "approval",
		Short: "Approval workflow",
		Long:  "Ordered sign-off steps per report. The aggregate is approved only when every required step is approved; a single rejection pins it rejected.",
	}
	ap.AddCommand(approvalShowCmd())
	ap.AddCommand(approvalAddStepCmd())
	ap.AddCommand(approvalDecideCmd("approve", "Approve a step", true))
	ap.AddCommand(approvalDecideCmd("reject", "Reject a step", false))
	return ap
}

func approvalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show workflow status and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, steps, err := e.WorkflowStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"status": status, "steps": steps})
				}
				fmt.Printf("Workflow: %s\n", status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "Step ID", "Approver", "Required", "Status", "Comment"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Position, s.ID, s.ApproverID, s.Required, s.Status, s.Comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func approvalAddStepCmd() *cobra.Command {
	var position int
	var approver string
	var required bool
	cmd := &cobra.Command{
		Use:   "add-step <report-id>",
		Short: "Add an approval step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				step, err := e.AddApprovalStep(ctx, engine.AddApprovalStepOptions{
					ReportID:   args[0],
					Position:   position,
					ApproverID: approver,
					Required:   required,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(step)
			})
		},
	}
	cmd.Flags().IntVar(&position, "position", 1, "step position")
	cmd.Flags().StringVar(&approver, "approver", "", "approver id")
	cmd.Flags().BoolVar(&required, "required", true, "step is required for approval")
	return cmd
}

func approvalDecideCmd(use, short string, approve bool) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   use + " <step-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				var step domain.ApprovalStep
				var err error
				if approve {
					step, err = e.ApproveStep(ctx, args[0], actorID, comment)
				} else {
					step, err = e.RejectStep(ctx, args[0], actorID, comment)
				}
				if err != nil {
					return err
				}
				return printJSON(step)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	return cmd
}

func versionCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "version",
		Short: "Version ledger",
		Long:  "Append-only semver ledger per report; appending an entry atomically demotes the previous current one.",
	}
	v.AddCommand(versionAddCmd())
	v.AddCommand(versionListCmd())
	v.AddCommand(versionCurrentCmd())
	return v
}

func versionAddCmd() *cobra.Command {
	var semverStr, changeType, notes string
	cmd := &cobra.Command{
		Use:   "add <report-id>",
		Short: "Append a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ver, err := e.AddVersion(ctx, engine.AddVersionOptions{
					ReportID:   args[0],
					Semver:     semverStr,
					ChangeType: changeType,
					Notes:      notes,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(ver)
			})
		},
	}
	cmd.Flags().StringVar(&semverStr, "semver", "", "semantic version, e.g. 1.2.0")
	cmd.Flags().StringVar(&changeType, "change-type", "minor", "change type")
	cmd.Flags().StringVar(&notes, "notes", "", "release notes")
	return cmd
}

func versionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <report-id>",
		Short: "List ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Semver", "Type", "Current", "By", "At"})
				for _, ver := range items {
					tw.AppendRow(table.Row{ver.Semver, ver.ChangeType, ver.Current, ver.CreatedBy, ver.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func versionCurrentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current <report-id>",
		Short: "Show the current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ver, err := e.Repo.CurrentVersion(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(ver)
			})
		},
	}
	return cmd
}

func qualityCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "quality",
		Short: "Quality checks",
		Long:  "Advisory gate signals. A failing check never blocks a transition; it shows up in the quality summary and release readiness.",
	}
	q.AddCommand(qualityRecordCmd())
	q.AddCommand(qualitySummaryCmd())
	return q
}

func qualityRecordCmd() *cobra.Command {
	var name, severity, detail string
	var passed bool
	var score float64
	cmd := &cobra.Command{
		Use:   "record <report-id>",
		Short: "Record a quality check result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RecordQualityCheck(ctx, engine.RecordQualityCheckOptions{
					ReportID: args[0],
					Name:     name,
					Passed:   passed,
					Severity: severity,
					Score:    score,
					Detail:   detail,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "check name")
	cmd.Flags().BoolVar(&passed, "passed", false, "check passed")
	cmd.Flags().StringVar(&severity, "severity", "info", "severity (info|warning|critical)")
	cmd.Flags().Float64Var(&score, "score", 0, "score in [0,1]")
	cmd.Flags().StringVar(&detail, "detail", "", "detail")
	return cmd
}

func qualitySummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <report-id>",
		Short: "Aggregate quality gate summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.QualitySummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	return cmd
}

func freezeCmd() *cobra.Command {
	fz := &cobra.Command{
		Use:   "freeze",
		Short: "Change freeze window",
		Long:  "A global gate: while active and before its end time, every governance mutation is refused.",
	}
	fz.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the freeze window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				frozen, fw, err := e.Frozen(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"frozen": frozen, "window": fw})
			})
		},
	})
	fz.AddCommand(freezeSetCmd())
	fz.AddCommand(&cobra.Command{
		Use:   "lift",
		Short: "Deactivate the freeze",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fw, err := e.SetFreeze(ctx, false, time.Time{}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(fw)
			})
		},
	})
	return fz
}

func freezeSetCmd() *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Activate a freeze until a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if until == "" {
				return fmt.Errorf("--until required")
			}
			t, err := time.Parse(time.RFC3339, until)
			if err != nil {
				return fmt.Errorf("--until must be RFC3339: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fw, err := e.SetFreeze(ctx, true, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(fw)
			})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "freeze end (RFC3339)")
	return cmd
}

func changeCmd() *cobra.Command {
	ch := &cobra.Command{
		Use:   "change",
		Short: "Change requests",
	}
	ch.AddCommand(changeCreateCmd())
	ch.AddCommand(changeListCmd())
	ch.AddCommand(changeDecideCmd())
	ch.AddCommand(&cobra.Command{
		Use:   "implement <change-id>",
		Short: "Mark an approved change request implemented",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cr, err := e.MarkChangeImplemented(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(cr)
			})
		},
	})
	return ch
}

func changeCreateCmd() *cobra.Command {
	var changeType, description, scheduledFor string
	cmd := &cobra.Command{
		Use:   "create <report-id>",
		Short: "Create a change request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cr, err := e.CreateChangeRequest(ctx, engine.CreateChangeRequestOptions{
					ReportID:     args[0],
					ChangeType:   changeType,
					Description:  description,
					ScheduledFor: scheduledFor,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(cr)
			})
		},
	}
	cmd.Flags().StringVar(&changeType, "change-type", "minor", "change type")
	cmd.Flags().StringVar(&description, "description", "", "what the change is")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "planned implementation time (RFC3339)")
	return cmd
}

func changeListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <report-id>",
		Short: "List change requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListChangeRequests(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func changeDecideCmd() *cobra.Command {
	var approve bool
	cmd := &cobra.Command{
		Use:   "decide <change-id>",
		Short: "Approve or reject a change request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cr, err := e.DecideChangeRequest(ctx, args[0], approve, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(cr)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve instead of reject")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:   "schedule",
		Short: "Recurring schedules",
		Long:  "Schedules decide which report jobs are due on a calendar date. Specs are validated at creation and replaced wholesale on edit.",
	}
	sc.AddCommand(scheduleCreateCmd())
	sc.AddCommand(scheduleReplaceCmd())
	sc.AddCommand(scheduleListCmd())
	sc.AddCommand(scheduleDueCmd())
	sc.AddCommand(scheduleStatusCmd("pause", schedule.StatusPaused))
	sc.AddCommand(scheduleStatusCmd("resume", schedule.StatusActive))
	sc.AddCommand(scheduleStatusCmd("disable", schedule.StatusDisabled))
	sc.AddCommand(scheduleStatusCmd("complete", schedule.StatusCompleted))
	return sc
}

func scheduleCreateCmd() *cobra.Command {
	var opts engine.CreateScheduleOptions
	var interval, dayOfMonth int
	var days []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.DaysOfWeek = days
			if cmd.Flags().Changed("interval-days") {
				opts.IntervalDays = &interval
			}
			if cmd.Flags().Changed("day-of-month") {
				opts.DayOfMonth = &dayOfMonth
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSchedule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "schedule id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "schedule name")
	cmd.Flags().StringVar(&opts.ReportID, "report", "", "report id (optional)")
	cmd.Flags().StringVar(&opts.Frequency, "frequency", "daily", "daily|weekly|monthly|custom_cron")
	cmd.Flags().IntVar(&interval, "interval-days", 1, "every N days (daily)")
	cmd.Flags().StringArrayVar(&days, "day", []string{}, "weekday (weekly, repeatable)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 1, "day of month, -1 for last day (monthly)")
	cmd.Flags().StringVar(&opts.CronExpr, "cron", "", "cron expression (custom_cron)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func scheduleReplaceCmd() *cobra.Command {
	var opts engine.CreateScheduleOptions
	var interval, dayOfMonth int
	var days []string
	cmd := &cobra.Command{
		Use:   "replace <schedule-id>",
		Short: "Replace a schedule's spec wholesale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.DaysOfWeek = days
			if cmd.Flags().Changed("interval-days") {
				opts.IntervalDays = &interval
			}
			if cmd.Flags().Changed("day-of-month") {
				opts.DayOfMonth = &dayOfMonth
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ReplaceSchedule(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "schedule name")
	cmd.Flags().StringVar(&opts.ReportID, "report", "", "report id (optional)")
	cmd.Flags().StringVar(&opts.Frequency, "frequency", "daily", "daily|weekly|monthly|custom_cron")
	cmd.Flags().IntVar(&interval, "interval-days", 1, "every N days (daily)")
	cmd.Flags().StringArrayVar(&days, "day", []string{}, "weekday (weekly, repeatable)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 1, "day of month, -1 for last day (monthly)")
	cmd.Flags().StringVar(&opts.CronExpr, "cron", "", "cron expression (custom_cron)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSchedules(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Frequency", "Status", "Report"})
				for _, s := range items {
					report := ""
					if s.ReportID != nil {
						report = *s.ReportID
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.Frequency, s.Status, report})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func scheduleDueCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "Schedules due on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC()
			if date != "" {
				t, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				day = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				due, err := e.DueToday(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(due)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluation date, defaults to today (UTC)")
	return cmd
}

func scheduleStatusCmd(use string, status schedule.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: use + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetScheduleStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func authCmd() *cobra.Command {
	au := &cobra.Command{Use: "auth", Short: "API credentials"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := "rlk_" + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSON(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      rawKey,
				})
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key name")
	au.AddCommand(create)
	return au
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: transitions, approvals, versions, freezes.",
	}
	var n int
	var evtType, reportID, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, reportID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&reportID, "report", "", "report id filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
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
			_, cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("workspace-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("REPORTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REPORTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Reportline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
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
	_, cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("workspace-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
