package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/shell/deploy"
	"github.com/artpar/shipmate/internal/shell/executor"
	"github.com/artpar/shipmate/internal/shell/store"
)

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string { return e.message }

func asExitError(err error, target **exitError) bool {
	return errors.As(err, target)
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	StateDir   string
	LogLevel   string
}

// app wires configuration, logging and the stores for one command run.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	state     *store.StateStore
	history   *store.HistoryLog
	baselines *store.BaselineStore
}

// newApp loads configuration and constructs the shared components.
func newApp(global *GlobalFlags) (*app, error) {
	cfg, err := LoadConfig(global.ConfigPath)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, message: err.Error()}
	}
	if global.StateDir != "" {
		cfg.StateDir = global.StateDir
	}
	if global.LogLevel != "" {
		cfg.Log.Level = global.LogLevel
	}

	logger := SetupLogger(cfg)
	a := &app{
		cfg:       cfg,
		logger:    logger,
		state:     store.NewStateStore(cfg.StateDir, logger),
		history:   store.NewHistoryLog(cfg.StateDir, logger),
		baselines: store.NewBaselineStore(cfg.StateDir, logger),
	}
	a.state.RedeployAfterFailure = cfg.Deploy.RedeployAfterFailure
	return a, nil
}

// orchestrator builds the deployment pipeline over the app's stores.
func (a *app) orchestrator() *deploy.Orchestrator {
	runner := executor.NewPlaybookRunner(executor.PlaybookRunnerConfig{
		Binary:  a.cfg.Executor.Binary,
		Timeout: a.cfg.Executor.Timeout,
	}, a.logger)
	return deploy.New(deploy.Config{Playbook: a.cfg.Playbook}, a.state, a.history, runner, a.logger)
}

// resolveTarget combines a named profile with explicit flag overrides.
// Flags win over the profile; the profile wins over nothing.
func (a *app) resolveTarget(profileName string, override domain.Target) (domain.Target, *Profile, error) {
	var target domain.Target
	var profile *Profile
	if profileName != "" {
		p, ok := a.cfg.Profiles[profileName]
		if !ok {
			return domain.Target{}, nil, fmt.Errorf("profile %q not found in config", profileName)
		}
		profile = &p
		target = p.Target()
	}

	if override.Host != "" {
		target.Host = override.Host
	}
	if override.Port != 0 {
		target.Port = override.Port
	}
	if override.User != "" {
		target.User = override.User
	}
	if override.PrivateKeyPath != "" {
		target.PrivateKeyPath = override.PrivateKeyPath
	}
	if override.Password != "" {
		target.Password = override.Password
	}
	if override.WorkDir != "" {
		target.WorkDir = override.WorkDir
	}
	if override.EnvFile != "" {
		target.EnvFile = override.EnvFile
	}
	if override.DeployCommand != "" {
		target.DeployCommand = override.DeployCommand
	}

	if target.Host == "" {
		return domain.Target{}, nil, domain.ErrHostRequired
	}
	return target, profile, nil
}

// confirmProduction asks the operator before touching a production profile.
func confirmProduction(host string, assumeYes bool) error {
	if assumeYes {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Target %s is marked as production. Continue? [y/N]: ", host)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return &exitError{code: ExitError, message: "aborted: could not read confirmation"}
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "y" && answer != "yes" {
		return &exitError{code: ExitError, message: "aborted by operator"}
	}
	return nil
}

// buildRoot assembles the command tree.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "shipmate",
		Short:         "Deploy docker-compose applications to remote hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "Path to config file (default ~/.shipmate/config.yaml)")
	root.PersistentFlags().StringVar(&global.StateDir, "state-dir", "", "State directory (default ~/.shipmate)")
	root.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		newDeployCmd(global),
		newRollbackCmd(global),
		newHistoryCmd(global),
		newStateCmd(global),
		newDriftCmd(global),
		newReleaseCmd(global),
		newBenchCmd(global),
		newProfileCmd(global),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shipmate %s (built %s)\n", Version, BuildTime)
		},
	}
}
