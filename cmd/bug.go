package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

var (
	bugTitle    string
	bugDesc     string
	bugPriority string
	bugSeverity string
	bugType     string
	bugStatus   string
	bugQA       string
	bugBlocked  bool
	bugAuto     bool
	bugNotes    string
	bugReason   string
)

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Report bugs and move them through the workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Report a new bug",
	Long: `Report a new bug as the acting user. The bug starts in status open.
With --auto, type, priority and severity are suggested from the title and
description; explicit flags still win.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugAddRun()
	},
}

var bugListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bugs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugShowCmd = &cobra.Command{
	Use:   "show <bug-id>",
	Short: "Show bug details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(args[0])
	},
}

var bugTransitionCmd = &cobra.Command{
	Use:     "transition <bug-id> <status>",
	Aliases: []string{"mv"},
	Short:   "Move a bug to a new status",
	Long: `Move a bug to a new status. The acting user's role decides which
targets are allowed; run 'bugflow bug show <bug-id>' to list them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugTransitionRun(args[0], args[1])
	},
}

var bugAssignQACmd = &cobra.Command{
	Use:   "assign-qa <bug-id> <user-id>",
	Short: "Set the bug's QA assignee",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugAssignQARun(args[0], args[1])
	},
}

var bugBlockCmd = &cobra.Command{
	Use:   "block <bug-id> <blocking-bug-id>",
	Short: "Mark a bug as blocked by another bug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugBlockRun(args[0], args[1])
	},
}

var bugUnblockCmd = &cobra.Command{
	Use:   "unblock <bug-id>",
	Short: "Clear a bug's blocked state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugUnblockRun(args[0])
	},
}

var bugHistoryCmd = &cobra.Command{
	Use:     "history <bug-id>",
	Aliases: []string{"log"},
	Short:   "Show a bug's audit trail, newest first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugHistoryRun(args[0])
	},
}

var bugTriageCmd = &cobra.Command{
	Use:   "triage <bug-id>",
	Short: "Suggest type, priority and severity for a bug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugTriageRun(args[0])
	},
}

func init() {
	bugAddCmd.Flags().StringVar(&bugTitle, "title", "", "Bug title (required)")
	bugAddCmd.Flags().StringVarP(&bugDesc, "desc", "d", "", "Bug description")
	bugAddCmd.Flags().StringVar(&bugPriority, "priority", "", "Priority: low, medium, high, critical (default medium)")
	bugAddCmd.Flags().StringVar(&bugSeverity, "severity", "", "Severity: minor, major, critical, blocker (default major)")
	bugAddCmd.Flags().StringVar(&bugType, "type", "", "Type: bug, feature, improvement, task (default bug)")
	bugAddCmd.Flags().BoolVar(&bugAuto, "auto", false, "Suggest type, priority and severity")
	_ = bugAddCmd.MarkFlagRequired("title")

	bugListCmd.Flags().StringVar(&bugStatus, "status", "", "Filter by status")
	bugListCmd.Flags().StringVar(&bugPriority, "priority", "", "Filter by priority")
	bugListCmd.Flags().StringVar(&bugSeverity, "severity", "", "Filter by severity")
	bugListCmd.Flags().StringVar(&bugQA, "qa", "", "Filter by QA assignee ID")
	bugListCmd.Flags().BoolVar(&bugBlocked, "blocked", false, "Only blocked bugs")

	bugTransitionCmd.Flags().StringVar(&bugNotes, "notes", "", "Notes recorded with the change")
	bugBlockCmd.Flags().StringVar(&bugReason, "reason", "", "Reason recorded with the block")
	bugUnblockCmd.Flags().StringVar(&bugReason, "reason", "", "Reason recorded with the unblock")

	bugCmd.AddCommand(bugAddCmd)
	bugCmd.AddCommand(bugListCmd)
	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugTransitionCmd)
	bugCmd.AddCommand(bugAssignQACmd)
	bugCmd.AddCommand(bugBlockCmd)
	bugCmd.AddCommand(bugUnblockCmd)
	bugCmd.AddCommand(bugHistoryCmd)
	bugCmd.AddCommand(bugTriageCmd)
	rootCmd.AddCommand(bugCmd)
}

// bugAttributes parses the optional priority, severity and type flags into bug.
func bugAttributes(bug *models.Bug) error {
	var err error
	if bugPriority != "" {
		if bug.Priority, err = models.ParseBugPriority(bugPriority); err != nil {
			return err
		}
	}
	if bugSeverity != "" {
		if bug.Severity, err = models.ParseBugSeverity(bugSeverity); err != nil {
			return err
		}
	}
	if bugType != "" {
		if bug.Type, err = models.ParseBugType(bugType); err != nil {
			return err
		}
	}
	return nil
}

func bugAddRun() error {
	title := strings.TrimSpace(bugTitle)
	if title == "" {
		return fmt.Errorf("--title is required")
	}
	ctx := context.Background()

	bug := &models.Bug{Title: title, Description: bugDesc}
	if bugAuto {
		res := suggestTriage(ctx, title, bugDesc)
		bug.Type, bug.Priority, bug.Severity = res.Type, res.Priority, res.Severity
		ui.VerboseLog("Suggested %s / %s / %s", res.Type, res.Priority, res.Severity)
	}
	if err := bugAttributes(bug); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would report bug: %s", title)
		return nil
	}

	engine, s, err := getEngine()
	if err != nil {
		return err
	}
	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	created, err := engine.CreateBug(ctx, bug, actor)
	if err != nil {
		return err
	}
	ui.Success("Reported bug %s: %s (%s, %s)", output.Cyan(created.ID), created.Title, created.Priority, created.Severity)
	return nil
}

func bugListRun() error {
	filter := store.BugListFilter{QAAssigneeID: bugQA, BlockedOnly: bugBlocked}
	var err error
	if bugStatus != "" {
		if filter.Status, err = models.ParseBugStatus(bugStatus); err != nil {
			return err
		}
	}
	if bugPriority != "" {
		if filter.Priority, err = models.ParseBugPriority(bugPriority); err != nil {
			return err
		}
	}
	if bugSeverity != "" {
		if filter.Severity, err = models.ParseBugSeverity(bugSeverity); err != nil {
			return err
		}
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	bugs, err := s.ListBugs(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(bugs) == 0 {
		ui.Info("No bugs found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Severity", "Blocked", "Updated"})
	for _, b := range bugs {
		_ = table.Append([]string{
			b.ID,
			b.Title,
			output.StatusColor(string(b.Status)),
			output.PriorityColor(string(b.Priority)),
			string(b.Severity),
			output.Blocked(b.BlockedByBugID),
			b.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

// displayUser renders a user reference for display.
func displayUser(ctx context.Context, s store.Store, id *string) string {
	if id == nil || *id == "" {
		return "-"
	}
	u, err := s.GetUser(ctx, *id)
	if err != nil {
		return *id
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.ID)
}

func bugShowRun(ref string) error {
	engine, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := store.FindBug(ctx, s, ref)
	if err != nil {
		return err
	}

	reporter := bug.ReporterID
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(bug.ID), bug.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(bug.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(bug.Priority)))
	fmt.Fprintf(ui.Out, "  Severity:   %s\n", bug.Severity)
	fmt.Fprintf(ui.Out, "  Type:       %s\n", bug.Type)
	if bug.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", bug.Description)
	}
	fmt.Fprintf(ui.Out, "  Reporter:   %s\n", displayUser(ctx, s, &reporter))
	fmt.Fprintf(ui.Out, "  QA:         %s\n", displayUser(ctx, s, bug.QAAssigneeID))
	if bug.IsBlocking && bug.BlockedByBugID != nil {
		fmt.Fprintf(ui.Out, "  Blocked by: %s\n", output.Red(*bug.BlockedByBugID))
	}
	fmt.Fprintf(ui.Out, "  Version:    %d\n", bug.Version)
	fmt.Fprintf(ui.Out, "  Created:    %s\n", bug.CreatedAt.Format(time.RFC3339))
	if bug.ResolvedAt != nil {
		fmt.Fprintf(ui.Out, "  Resolved:   %s\n", bug.ResolvedAt.Format(time.RFC3339))
	}
	if bug.ClosedAt != nil {
		fmt.Fprintf(ui.Out, "  Closed:     %s\n", bug.ClosedAt.Format(time.RFC3339))
	}

	// Next moves only make sense when someone is acting.
	actor, err := currentActor(ctx, s)
	if err != nil {
		ui.VerboseLog("Skipping next moves: %v", err)
		return nil
	}
	targets, err := engine.AvailableTransitions(ctx, bug.ID, actor)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		if t != bug.Status {
			names = append(names, string(t))
		}
	}
	next := "none"
	if len(names) > 0 {
		next = strings.Join(names, ", ")
	}
	fmt.Fprintf(ui.Out, "  Next (%s): %s\n", actor.Role, next)
	return nil
}

// resolveBug loads the engine, the acting user and the bug ref in one go.
func resolveBug(ctx context.Context, ref string) (*workflow.Engine, workflow.Actor, *models.Bug, error) {
	engine, s, err := getEngine()
	if err != nil {
		return nil, workflow.Actor{}, nil, err
	}
	actor, err := currentActor(ctx, s)
	if err != nil {
		return nil, workflow.Actor{}, nil, err
	}
	bug, err := store.FindBug(ctx, s, ref)
	if err != nil {
		return nil, workflow.Actor{}, nil, err
	}
	return engine, actor, bug, nil
}

func bugTransitionRun(ref, status string) error {
	target, err := models.ParseBugStatus(status)
	if err != nil {
		return err
	}
	ctx := context.Background()

	engine, actor, bug, err := resolveBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		if !policy.CanTransition(actor.Role, bug.Status, target) {
			ui.DryRunMsg("Would be forbidden: role %s cannot move %s from %s to %s", actor.Role, bug.ID, bug.Status, target)
			return nil
		}
		ui.DryRunMsg("Would move %s from %s to %s", bug.ID, bug.Status, target)
		return nil
	}

	from := bug.Status
	updated, err := engine.TransitionStatus(ctx, bug.ID, target, actor, bugNotes)
	if err != nil {
		return err
	}
	ui.Success("Moved %s from %s to %s", output.Cyan(updated.ID), from, output.StatusColor(string(updated.Status)))
	return nil
}

func bugAssignQARun(ref, qaUserID string) error {
	ctx := context.Background()
	engine, actor, bug, err := resolveBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would assign QA %s to %s", qaUserID, bug.ID)
		return nil
	}

	updated, err := engine.AssignQA(ctx, bug.ID, qaUserID, actor)
	if err != nil {
		return err
	}
	ui.Success("Assigned QA %s to %s", qaUserID, output.Cyan(updated.ID))
	return nil
}

func bugBlockRun(ref, blockerRef string) error {
	ctx := context.Background()
	engine, actor, bug, err := resolveBug(ctx, ref)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	blocker, err := store.FindBug(ctx, s, blockerRef)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would mark %s as blocked by %s", bug.ID, blocker.ID)
		return nil
	}

	updated, err := engine.BlockBug(ctx, bug.ID, blocker.ID, actor, bugReason)
	if err != nil {
		return err
	}
	ui.Success("%s is blocked by %s", output.Cyan(updated.ID), blocker.ID)
	return nil
}

func bugUnblockRun(ref string) error {
	ctx := context.Background()
	engine, actor, bug, err := resolveBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would unblock %s", bug.ID)
		return nil
	}

	updated, err := engine.UnblockBug(ctx, bug.ID, actor, bugReason)
	if err != nil {
		return err
	}
	ui.Success("Unblocked %s", output.Cyan(updated.ID))
	return nil
}

func bugHistoryRun(ref string) error {
	engine, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := store.FindBug(ctx, s, ref)
	if err != nil {
		return err
	}
	entries, err := engine.GetHistory(ctx, bug.ID)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"When", "User", "Action", "Old", "New", "Description"})
	for _, e := range entries {
		_ = table.Append([]string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.UserID,
			string(e.Action),
			deref(e.OldValue),
			deref(e.NewValue),
			deref(e.Description),
		})
	}
	_ = table.Render()
	return nil
}

func bugTriageRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, err := store.FindBug(ctx, s, ref)
	if err != nil {
		return err
	}

	res := suggestTriage(ctx, bug.Title, bug.Description)
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(bug.ID), bug.Title)
	fmt.Fprintf(ui.Out, "  Type:       %s (now %s)\n", res.Type, bug.Type)
	fmt.Fprintf(ui.Out, "  Priority:   %s (now %s)\n", output.PriorityColor(string(res.Priority)), bug.Priority)
	fmt.Fprintf(ui.Out, "  Severity:   %s (now %s)\n", res.Severity, bug.Severity)
	if res.Summary != "" {
		fmt.Fprintf(ui.Out, "  Summary:    %s\n", res.Summary)
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}
