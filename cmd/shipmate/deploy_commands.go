package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/shipmate/internal/core/compose"
	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/shell/deploy"
	"github.com/artpar/shipmate/internal/shell/health"
	"github.com/artpar/shipmate/internal/shell/sshexec"
)

// targetFlags holds the per-target connection flags shared by deploy and
// rollback.
type targetFlags struct {
	Profile       string
	Host          string
	Port          int
	User          string
	Key           string
	Password      string
	WorkDir       string
	EnvFile       string
	DeployCommand string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Profile, "profile", "", "Named target profile from the config file")
	cmd.Flags().StringVar(&f.Host, "host", "", "Target host address")
	cmd.Flags().IntVar(&f.Port, "port", 0, "SSH port (default 22)")
	cmd.Flags().StringVar(&f.User, "user", "", "SSH user")
	cmd.Flags().StringVar(&f.Key, "key", "", "Path to SSH private key")
	cmd.Flags().StringVar(&f.Password, "password", "", "SSH password (key auth is preferred)")
	cmd.Flags().StringVar(&f.WorkDir, "workdir", "", "Remote application directory (default ~/app)")
	cmd.Flags().StringVar(&f.EnvFile, "env-file", "", "Env file pushed alongside the descriptor")
	cmd.Flags().StringVar(&f.DeployCommand, "deploy-command", "", "Override remote deploy command")
}

func (f *targetFlags) override() domain.Target {
	return domain.Target{
		Host:           f.Host,
		Port:           f.Port,
		User:           f.User,
		PrivateKeyPath: f.Key,
		Password:       f.Password,
		WorkDir:        f.WorkDir,
		EnvFile:        f.EnvFile,
		DeployCommand:  f.DeployCommand,
	}
}

// healthFlags configures the post-deploy smoke test suite.
type healthFlags struct {
	Ports   []int
	URLs    []string
	Customs []string
}

func (f *healthFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&f.Ports, "health-port", nil, "TCP port that must accept connections after deploy (repeatable)")
	cmd.Flags().StringSliceVar(&f.URLs, "health-url", nil, "URL that must return 200 after deploy (repeatable)")
	cmd.Flags().StringSliceVar(&f.Customs, "health-check", nil, "Remote command that must exit 0 after deploy (repeatable)")
}

func (f *healthFlags) empty() bool {
	return len(f.Ports) == 0 && len(f.URLs) == 0 && len(f.Customs) == 0
}

// buildGate assembles the smoke test suite for the target. Custom checks need
// an SSH transport; port and HTTP probes run from the operator machine.
func (a *app) buildGate(target domain.Target, f *healthFlags) (deploy.HealthGate, error) {
	if f.empty() {
		return nil, nil
	}

	checker := health.NewChecker(target.Host, health.CheckerConfig{
		Attempts:   a.cfg.Health.Attempts,
		Interval:   a.cfg.Health.Interval,
		ProbeLimit: a.cfg.Health.ProbeLimit,
	}, a.logger)

	var remote health.RemoteRunner
	if len(f.Customs) > 0 {
		client, err := sshexec.NewClient(target, sshexec.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("custom health checks need SSH access: %w", err)
		}
		remote = client
	}

	suite := health.NewSuite(checker, remote, a.logger)
	for _, port := range f.Ports {
		suite.AddPortCheck(port)
	}
	for _, url := range f.URLs {
		suite.AddHTTPCheck(url, 0)
	}
	for _, cmd := range f.Customs {
		suite.AddCustomCheck(cmd, cmd)
	}
	return suite, nil
}

func newDeployCmd(global *GlobalFlags) *cobra.Command {
	var (
		target     targetFlags
		gate       healthFlags
		descriptor string
		service    string
		force      bool
		yes        bool
		noValidate bool
		extraVars  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a compose descriptor to a remote host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}

			if a.cfg.Playbook == "" {
				return &exitError{code: ExitConfigError, message: "no playbook configured: set playbook in the config file or SHIPMATE_PLAYBOOK"}
			}

			t, profile, err := a.resolveTarget(target.Profile, target.override())
			if err != nil {
				return err
			}
			if descriptor == "" {
				return domain.ErrDescriptorMissing
			}

			if !noValidate {
				content, err := os.ReadFile(descriptor)
				if err != nil {
					return fmt.Errorf("read descriptor: %w", err)
				}
				if _, err := compose.Parse(string(content)); err != nil {
					return fmt.Errorf("descriptor validation failed: %w", err)
				}
			}

			if profile != nil && profile.Production {
				if err := confirmProduction(t.Host, yes); err != nil {
					return err
				}
			}

			healthGate, err := a.buildGate(t, &gate)
			if err != nil {
				return err
			}

			res, err := a.orchestrator().Deploy(cmd.Context(), deploy.Request{
				Target:         t,
				DescriptorPath: descriptor,
				ServiceName:    service,
				Force:          force,
				ExtraVars:      extraVars,
				Gate:           healthGate,
			})
			if err != nil {
				return err
			}
			return reportResult(cmd, res)
		},
	}

	target.register(cmd)
	gate.register(cmd)
	cmd.Flags().StringVarP(&descriptor, "compose-file", "f", "", "Path to the compose descriptor")
	cmd.Flags().StringVar(&service, "service", "", "Service name for state tracking (default: default)")
	cmd.Flags().BoolVar(&force, "force", false, "Deploy even when no change is detected")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip production confirmation")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip descriptor validation before deploy")
	cmd.Flags().StringToStringVar(&extraVars, "var", nil, "Extra variable passed to the executor (key=value, repeatable)")
	return cmd
}

func newRollbackCmd(global *GlobalFlags) *cobra.Command {
	var (
		target targetFlags
		gate   healthFlags
		id     string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Redeploy a previous successful deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if a.cfg.Playbook == "" {
				return &exitError{code: ExitConfigError, message: "no playbook configured: set playbook in the config file or SHIPMATE_PLAYBOOK"}
			}

			t, profile, err := a.resolveTarget(target.Profile, target.override())
			if err != nil {
				return err
			}
			if profile != nil && profile.Production {
				if err := confirmProduction(t.Host, yes); err != nil {
					return err
				}
			}

			healthGate, err := a.buildGate(t, &gate)
			if err != nil {
				return err
			}

			res, err := a.orchestrator().Rollback(cmd.Context(), t, id, healthGate)
			if err != nil {
				return err
			}
			return reportResult(cmd, res)
		},
	}

	target.register(cmd)
	gate.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "History record ID to roll back to (default: previous successful)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip production confirmation")
	return cmd
}

// reportResult prints the run outcome and maps failures to the exit code.
func reportResult(cmd *cobra.Command, res deploy.Result) error {
	out := cmd.OutOrStdout()
	switch res.Outcome {
	case deploy.OutcomeSkipped:
		fmt.Fprintln(out, "No changes detected, deployment skipped.")
	case deploy.OutcomeDeployed:
		fmt.Fprintf(out, "Deployment succeeded (record %s).\n", res.RecordID)
	case deploy.OutcomeDeployFailed:
		return &exitError{code: ExitError, message: fmt.Sprintf("deployment failed (record %s): %s", res.RecordID, res.Detail)}
	case deploy.OutcomeHealthCheckFailed:
		return &exitError{code: ExitError, message: fmt.Sprintf("deployment succeeded but smoke tests failed (record %s)", res.RecordID)}
	}
	return nil
}
