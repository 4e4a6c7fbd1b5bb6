package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy [role]",
	Short: "Show which status changes each role may make",
	Long: `Show the role transition table. Without a role, every role is shown.
Admins and project managers may move a bug between any two statuses.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var role string
		if len(args) > 0 {
			role = args[0]
		}
		return policyShowRun(role)
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
}

func policyShowRun(roleArg string) error {
	roles := models.Roles()
	if roleArg != "" {
		role, err := models.ParseRole(roleArg)
		if err != nil {
			return err
		}
		roles = []models.Role{role}
	}

	table := ui.Table([]string{"Role", "From", "To"})
	for _, role := range roles {
		if policy.Bypasses(role) {
			_ = table.Append([]string{string(role), "any", "any"})
			continue
		}
		rows := 0
		for _, from := range models.BugStatuses() {
			targets := policy.AllowedTargets(role, from)
			if len(targets) == 0 {
				continue
			}
			names := make([]string, len(targets))
			for i, t := range targets {
				names[i] = string(t)
			}
			_ = table.Append([]string{string(role), output.StatusColor(string(from)), strings.Join(names, ", ")})
			rows++
		}
		if rows == 0 {
			_ = table.Append([]string{string(role), "-", fmt.Sprintf("%s (read-only)", output.Red("none"))})
		}
	}
	_ = table.Render()
	return nil
}
