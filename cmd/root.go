package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/logging"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "bugflow",
	Short: "Bug tracker with a role-gated status workflow",
	Long: `bugflow tracks bugs through open, in-progress, review, QA and
resolution. Every status change, QA assignment and block is checked against
the acting user's role and recorded in the bug's history.

Set the acting user with --as <user-id> or the "actor" config key.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bugflow/config.yaml)")
	rootCmd.PersistentFlags().String("as", "", "ID of the acting user (default: actor config key)")
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("as"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "bugflow")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BUGFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default value.
func setDefaults() {
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "bugflow")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "bugflow.db"))
	viper.SetDefault("actor", "")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	logging.Setup(os.Stderr, level, viper.GetString("log.format"))

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getEngine returns a workflow engine over the shared store.
func getEngine() (*workflow.Engine, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	return workflow.NewEngine(workflow.NewStoreRunner(s), clock.Real()), s, nil
}

// currentActor resolves the acting user from --as or the actor config key.
func currentActor(ctx context.Context, s store.Store) (workflow.Actor, error) {
	id := viper.GetString("actor")
	if id == "" {
		return workflow.Actor{}, fmt.Errorf("no acting user: pass --as <user-id> or set 'actor' in config")
	}
	u, err := s.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return workflow.Actor{}, fmt.Errorf("unknown user %s (see 'bugflow user list')", id)
	}
	if err != nil {
		return workflow.Actor{}, err
	}
	ui.VerboseLog("Acting as %s (%s)", u.Name, u.Role)
	return workflow.ActorFrom(u), nil
}
