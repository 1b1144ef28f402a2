package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/everstacklabs/bridge/internal/breaking"
	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
	"github.com/everstacklabs/bridge/internal/drift"
	"github.com/everstacklabs/bridge/internal/expectation"
	"github.com/everstacklabs/bridge/internal/syncer"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Contract synchronization and drift detection",
		Long:  "Syncs API contracts from dependency repositories and checks local API calls against them.",
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .bridge/config.yaml)")

	rootCmd.AddCommand(
		initCmd(),
		addDependencyCmd(),
		removeDependencyCmd(),
		syncCmd(),
		checkCmd(),
		statusCmd(),
		validateCmd(),
		breakingCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a bridge configuration for this repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			repoID, _ := cmd.Flags().GetString("repo-id")

			path := cfgFile
			if path == "" {
				path = config.DefaultConfigPath
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("configuration already exists at %s", path)
			}

			cfg := config.Default(role, repoID)
			cfg.SetPath(path)
			if err := cfg.Check(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.ContractsDir, 0o755); err != nil {
				return fmt.Errorf("creating contracts dir: %w", err)
			}

			fmt.Printf("Initialized bridge configuration at %s (role: %s)\n", path, role)
			return nil
		},
	}

	cmd.Flags().String("role", "consumer", "Repository role: consumer, provider, or both")
	cmd.Flags().String("repo-id", "", "Identifier for this repository")
	_ = cmd.MarkFlagRequired("repo-id")

	return cmd
}

func addDependencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-dependency <name>",
		Short: "Register a dependency whose contract should be synced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			name := args[0]
			dep := config.Dependency{Name: name}
			dep.Type, _ = cmd.Flags().GetString("type")
			dep.SyncMethod, _ = cmd.Flags().GetString("sync-method")
			dep.GitURL, _ = cmd.Flags().GetString("git-url")
			dep.ContractPath, _ = cmd.Flags().GetString("contract-path")
			dep.SyncOnCommit, _ = cmd.Flags().GetBool("sync-on-commit")
			dep.LocalCache = cfg.CacheFileFor(name)

			if err := cfg.AddDependency(dep); err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}

			fmt.Printf("Added dependency %s (%s via %s)\n", name, dep.Type, dep.SyncMethod)
			fmt.Printf("Run 'bridge sync %s' to fetch its contract.\n", name)
			return nil
		},
	}

	cmd.Flags().String("type", "http-api", "Dependency type: http-api, graphql, grpc")
	cmd.Flags().String("sync-method", "git", "How to fetch the contract: git, http, s3")
	cmd.Flags().String("git-url", "", "Source URL (git remote, http URL, or s3://bucket/key)")
	cmd.Flags().String("contract-path", ".bridge/contracts/provided-api.yaml", "Contract path inside the source")
	cmd.Flags().Bool("sync-on-commit", false, "Sync this dependency from the pre-commit hook")

	return cmd
}

func removeDependencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-dependency <name>",
		Short: "Remove a dependency and its cached contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RemoveDependency(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed dependency %s\n", args[0])
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [name]",
		Short: "Fetch dependency contracts and update the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			engine := syncer.New(cfg, syncer.WithProgress(func(name, status string) {
				slog.Debug("sync progress", "dependency", name, "status", status)
			}))

			var results []syncer.Result
			if len(args) == 1 {
				results = []syncer.Result{engine.SyncOne(ctx, args[0])}
			} else {
				results = engine.SyncAll(ctx)
			}

			failed := false
			for _, r := range results {
				printResult(r)
				if !r.Success {
					failed = true
				}
			}
			if failed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 5*time.Minute, "Overall sync timeout")

	return cmd
}

func printResult(r syncer.Result) {
	if r.Success {
		fmt.Printf("✓ %s: %d endpoints cached at %s\n", r.DependencyName, r.EndpointCount, r.CachedFile)
		for _, change := range r.Changes {
			fmt.Printf("  %s\n", change)
		}
		for _, warn := range r.Errors {
			fmt.Printf("  warning: %s\n", warn)
		}
	} else {
		fmt.Printf("✗ %s: sync failed\n", r.DependencyName)
		for _, e := range r.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}
	if r.Hint != "" {
		fmt.Printf("  hint: %s\n", r.Hint)
	}
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [name]",
		Short: "Check local API calls against cached contracts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}

			detector := drift.New(cfg, ".")

			var reports []drift.Report
			if len(args) == 1 {
				reports = []drift.Report{detector.Detect(args[0])}
			} else {
				reports = detector.DetectAll()
			}

			hasErrors := false
			for _, report := range reports {
				printReport(report)
				if report.Errors > 0 {
					hasErrors = true
				}
			}
			if hasErrors {
				os.Exit(1)
			}
			return nil
		},
	}

	return cmd
}

func printReport(r drift.Report) {
	if r.OK {
		fmt.Printf("✓ %s: no drift detected\n", r.Dependency)
		return
	}
	fmt.Printf("✗ %s: %d error(s), %d warning(s)\n", r.Dependency, r.Errors, r.Warnings)
	for _, issue := range r.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Message)
		if issue.Location != "" {
			fmt.Printf("    at %s\n", issue.Location)
		}
		if issue.Suggestion != "" {
			fmt.Printf("    %s\n", issue.Suggestion)
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and sync state for each dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Repository: %s (role: %s, enabled: %v)\n", cfg.RepoID, cfg.Role, cfg.Enabled)
			fmt.Printf("Contracts:  %s\n", cfg.ContractsDir)

			names := cfg.DependencyNames()
			if len(names) == 0 {
				fmt.Println("No dependencies configured.")
				return nil
			}

			for _, name := range names {
				dep, _ := cfg.Dependency(name)
				c, err := contract.Load(dep.LocalCache)
				if err != nil {
					fmt.Printf("  %-20s not synced (%s via %s)\n", name, dep.Type, dep.SyncMethod)
					continue
				}
				fmt.Printf("  %-20s %d endpoints, last updated %s\n", name, len(c.Endpoints), c.LastUpdated)
			}
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and cached contracts (CI check)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			problems := cfg.Validate()
			for _, name := range cfg.DependencyNames() {
				dep, _ := cfg.Dependency(name)
				if _, err := os.Stat(dep.LocalCache); err != nil {
					continue // not synced yet is not a validation failure
				}
				if _, err := contract.Load(dep.LocalCache); err != nil {
					problems = append(problems, fmt.Sprintf("dependency %s: invalid cached contract: %v", name, err))
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Printf("✗ %s\n", p)
				}
				os.Exit(1)
			}
			fmt.Println("✓ configuration and cached contracts are valid")
			return nil
		},
	}
}

func breakingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaking",
		Short: "Compare two contract versions against recorded consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPath, _ := cmd.Flags().GetString("old")
			newPath, _ := cmd.Flags().GetString("new")
			expectationsDir, _ := cmd.Flags().GetString("expectations")

			oldContract, err := contract.Load(oldPath)
			if err != nil {
				return fmt.Errorf("loading old contract: %w", err)
			}
			newContract, err := contract.Load(newPath)
			if err != nil {
				return fmt.Errorf("loading new contract: %w", err)
			}

			consumers, err := loadExpectations(expectationsDir)
			if err != nil {
				return err
			}

			changes := breaking.Detect(oldContract, newContract, consumers)
			if len(changes) == 0 {
				fmt.Println("✓ no breaking changes detected")
				return nil
			}

			hasErrors := false
			for _, change := range changes {
				fmt.Printf("[%s] %s: %s\n", change.Severity, change.Type, change.Message)
				if len(change.AffectedConsumers) > 0 {
					fmt.Printf("  consumers: %s\n", strings.Join(change.AffectedConsumers, ", "))
				}
				if change.Suggestion != "" {
					fmt.Printf("  %s\n", change.Suggestion)
				}
				if change.Severity == breaking.SeverityError {
					hasErrors = true
				}
			}
			if hasErrors {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().String("old", "", "Previous contract version")
	cmd.Flags().String("new", "", "New contract version")
	cmd.Flags().String("expectations", config.DefaultContractsDir, "Directory of consumer expectation records")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")

	return cmd
}

// loadExpectations reads every consumer expectation record in dir. The file
// name prefix identifies the consumer: admin-panel-expectations.yaml was
// submitted by admin-panel.
func loadExpectations(dir string) (expectation.ByConsumer, error) {
	consumers := make(expectation.ByConsumer)

	matches, err := filepath.Glob(filepath.Join(dir, "*-expectations.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scanning expectations dir: %w", err)
	}
	for _, path := range matches {
		record, err := expectation.Load(path)
		if err != nil {
			slog.Warn("skipping unreadable expectation record", "path", path, "error", err)
			continue
		}
		consumer := strings.TrimSuffix(filepath.Base(path), "-expectations.yaml")
		consumers.Accumulate(consumer, record)
	}
	return consumers, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg.LogLevel)
	return cfg, nil
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
