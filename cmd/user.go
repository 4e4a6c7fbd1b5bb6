package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
)

var (
	userID    string
	userName  string
	userEmail string
	userRole  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and their roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user",
	Long: `Add a user with a role. Roles: admin, project_manager, developer,
qa, tester, client, viewer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun()
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userID, "id", "", "User ID (default: generated)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userAddCmd.Flags().StringVar(&userRole, "role", "developer", "Role")
	_ = userAddCmd.MarkFlagRequired("name")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun() error {
	role, err := models.ParseRole(userRole)
	if err != nil {
		return err
	}
	if userName == "" {
		return fmt.Errorf("--name is required")
	}

	if dryRun {
		ui.DryRunMsg("Would add user %s (%s)", userName, role)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	u := &models.User{ID: userID, Name: userName, Email: userEmail, Role: role}
	if err := s.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Added user %s: %s (%s)", output.Cyan(u.ID), u.Name, u.Role)
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users found. Add one with 'bugflow user add --name <name> --role <role>'.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Role", "Email"})
	for _, u := range users {
		_ = table.Append([]string{u.ID, u.Name, string(u.Role), u.Email})
	}
	_ = table.Render()
	return nil
}
